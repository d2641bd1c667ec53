// Package llmprovider implements wfexternal.AgentFactory: it resolves an
// AgentSpec to a concrete, HTTP-backed LLM client and runs the
// single-turn request/response cycle the Runner's Chat/StructuredChat
// nodes drive. Grounded on internal/service/llm/{antropic,openai,gemini,
// vertex,ollama} in the teacher, generalized from that package's
// service.LLMProvider/service.Message shapes to wfvalue.ChatMessage and
// the spec's Agent/AgentFactory contract.
package llmprovider

import (
	"context"
	"fmt"
	"strings"

	"github.com/rakunlabs/loom/internal/wfexternal"
	"github.com/rakunlabs/loom/internal/wfvalue"
)

// toolChoice mirrors the two modes the spec's nodes need: Chat lets the
// model decide whether to call a tool, StructuredChat forces one.
type toolChoice int

const (
	toolChoiceAuto toolChoice = iota
	toolChoiceRequired
)

// Provider is the narrow, single-turn chat contract each concrete
// backend implements. It intentionally drops streaming: the engine's
// Agent interface (spec §6) only needs a completed turn per Runner
// step, matching "the canonical output is the completed message"
// (spec.md §9 Streaming).
type Provider interface {
	Chat(ctx context.Context, model string, messages []wfvalue.ChatMessage, tools []wfexternal.ToolDef, choice toolChoice, temperature *float64) (reply wfvalue.ChatMessage, calls []wfvalue.ToolCall, finished bool, err error)
}

// Factory builds Agents by resolving an AgentSpec.Model of the form
// "provider/model" (or a bare model name against the default provider)
// to a registered Provider, and resolving AgentSpec.Tools against a
// Toolbox to obtain the tool definitions the provider's API needs.
type Factory struct {
	providers       map[string]Provider
	defaultProvider string
	toolbox         wfexternal.Toolbox
}

// NewFactory builds a Factory. defaultProvider is used when an
// AgentSpec's Model has no "provider/" prefix.
func NewFactory(providers map[string]Provider, defaultProvider string, toolbox wfexternal.Toolbox) *Factory {
	return &Factory{providers: providers, defaultProvider: defaultProvider, toolbox: toolbox}
}

var _ wfexternal.AgentFactory = (*Factory)(nil)

func (f *Factory) BuildAgent(ctx context.Context, spec wfvalue.AgentSpec) (wfexternal.Agent, error) {
	providerName, model := splitModel(spec.Model)
	if providerName == "" {
		providerName = f.defaultProvider
	}
	p, ok := f.providers[providerName]
	if !ok {
		return nil, fmt.Errorf("llmprovider: unknown provider %q (model %q)", providerName, spec.Model)
	}

	var tools []wfexternal.ToolDef
	if f.toolbox != nil && (spec.Tools.All || len(spec.Tools.Names) > 0) {
		handle, err := f.toolbox.GetTools(ctx, spec.Tools)
		if err != nil {
			return nil, fmt.Errorf("llmprovider: resolve tools: %w", err)
		}
		tools = handle.GetToolDefinitions()
	}

	return &agent{provider: p, model: model, spec: spec, tools: tools}, nil
}

// splitModel separates a "provider/model" string into its two halves; a
// model with no slash returns an empty provider name.
func splitModel(m string) (provider, model string) {
	if i := strings.IndexByte(m, '/'); i >= 0 {
		return m[:i], m[i+1:]
	}
	return "", m
}

// agent is a Provider bound to one resolved model/spec, implementing
// wfexternal.Agent.
type agent struct {
	provider Provider
	model    string
	spec     wfvalue.AgentSpec
	tools    []wfexternal.ToolDef
}

var _ wfexternal.Agent = (*agent)(nil)

func (a *agent) systemMessages() []wfvalue.ChatMessage {
	var out []wfvalue.ChatMessage
	if a.spec.Preamble != "" {
		out = append(out, wfvalue.ChatMessage{Role: "system", Content: a.spec.Preamble})
	}
	for _, doc := range a.spec.ContextDocs {
		out = append(out, wfvalue.ChatMessage{Role: "system", Content: doc})
	}
	return out
}

func (a *agent) Prompt(ctx context.Context, text string, history []wfvalue.ChatMessage) (wfvalue.ChatMessage, []wfvalue.ToolCall, bool, error) {
	messages := append(append([]wfvalue.ChatMessage{}, a.systemMessages()...), history...)
	if text != "" {
		messages = append(messages, wfvalue.ChatMessage{Role: "user", Content: text})
	}
	reply, calls, finished, err := a.provider.Chat(ctx, a.model, messages, a.tools, toolChoiceAuto, a.spec.Temperature)
	if err != nil {
		return wfvalue.ChatMessage{}, nil, false, err
	}
	return reply, calls, finished, nil
}

func (a *agent) Completion(ctx context.Context, history []wfvalue.ChatMessage) (wfvalue.ChatMessage, []wfvalue.ToolCall, error) {
	messages := append(append([]wfvalue.ChatMessage{}, a.systemMessages()...), history...)
	reply, calls, _, err := a.provider.Chat(ctx, a.model, messages, a.tools, toolChoiceRequired, a.spec.Temperature)
	if err != nil {
		return wfvalue.ChatMessage{}, nil, err
	}
	return reply, calls, nil
}
