package wfnode

import (
	"context"
	"fmt"

	"github.com/rakunlabs/loom/internal/chathistory"
	"github.com/rakunlabs/loom/internal/wfexternal"
	"github.com/rakunlabs/loom/internal/wfgraph"
	"github.com/rakunlabs/loom/internal/wfvalue"
)

const maxChatToolTurns = 5

func init() {
	RegisterNodeType("agent_node", newAgentNode)
	RegisterNodeType("chat_context", newChatContextNode)
	RegisterNodeType("chat", newChatNode)
	RegisterNodeType("structured_chat", newStructuredChatNode)
}

// ─── AgentNode ───

// agentNode assembles an AgentSpec from an optional baseline agent plus
// model/temperature/toolset/preamble overrides.
type agentNode struct{}

func newAgentNode(wfgraph.NodeInfo) (Noder, error) { return &agentNode{}, nil }

func (n *agentNode) Kind() string             { return "agent_node" }
func (n *agentNode) Inputs() int              { return 5 }
func (n *agentNode) Outputs() int             { return 1 }
func (n *agentNode) Priority() int64          { return 0 }
func (n *agentNode) IsProtected() bool        { return false }
func (n *agentNode) FailurePin() (int, bool)  { return 0, false }

func (n *agentNode) InKinds(pin int) []wfvalue.Kind {
	switch pin {
	case 0:
		return []wfvalue.Kind{wfvalue.KindAgent}
	case 1:
		return []wfvalue.Kind{wfvalue.KindModel}
	case 2:
		return []wfvalue.Kind{wfvalue.KindNumber}
	case 3:
		return []wfvalue.Kind{wfvalue.KindTools}
	default:
		return []wfvalue.Kind{wfvalue.KindText}
	}
}

func (n *agentNode) OutKind(int) wfvalue.Kind { return wfvalue.KindAgent }

func (n *agentNode) Validate(context.Context, *wfexternal.RunContext, []wfvalue.Value) error {
	return nil
}

func (n *agentNode) Execute(_ context.Context, _ *wfexternal.RunContext, inputs []wfvalue.Value) ([]wfvalue.Value, error) {
	var spec wfvalue.AgentSpec
	if len(inputs) > 0 {
		if base, ok := inputs[0].AsAgent(); ok {
			spec = base
		}
	}
	if len(inputs) > 1 {
		if model, ok := inputs[1].AsModel(); ok {
			spec.Model = model
		}
	}
	if len(inputs) > 2 {
		if temp, ok := inputs[2].AsNumber(); ok {
			spec.Temperature = &temp
		}
	}
	if len(inputs) > 3 {
		if tools, ok := inputs[3].AsTools(); ok {
			spec.Tools = spec.Tools.Union(tools)
		}
	}
	if len(inputs) > 4 {
		if preamble, ok := inputs[4].AsText(); ok && preamble != "" {
			spec.Preamble = preamble
		}
	}
	return []wfvalue.Value{wfvalue.Agent(spec)}, nil
}

// ─── ChatContext ───

// chatContextNode appends a context document to an agent spec.
type chatContextNode struct{}

func newChatContextNode(wfgraph.NodeInfo) (Noder, error) { return &chatContextNode{}, nil }

func (n *chatContextNode) Kind() string            { return "chat_context" }
func (n *chatContextNode) Inputs() int              { return 2 }
func (n *chatContextNode) Outputs() int             { return 1 }
func (n *chatContextNode) Priority() int64          { return 0 }
func (n *chatContextNode) IsProtected() bool        { return false }
func (n *chatContextNode) FailurePin() (int, bool)  { return 0, false }

func (n *chatContextNode) InKinds(pin int) []wfvalue.Kind {
	if pin == 0 {
		return []wfvalue.Kind{wfvalue.KindAgent}
	}
	return []wfvalue.Kind{wfvalue.KindText}
}

func (n *chatContextNode) OutKind(int) wfvalue.Kind { return wfvalue.KindAgent }

func (n *chatContextNode) Validate(_ context.Context, _ *wfexternal.RunContext, inputs []wfvalue.Value) error {
	return RequireInput("chat_context", inputs, 0, wfvalue.KindAgent)
}

func (n *chatContextNode) Execute(_ context.Context, _ *wfexternal.RunContext, inputs []wfvalue.Value) ([]wfvalue.Value, error) {
	spec, _ := inputs[0].AsAgent()
	if len(inputs) > 1 {
		if doc, ok := inputs[1].AsText(); ok && doc != "" {
			spec.ContextDocs = append(append([]string{}, spec.ContextDocs...), doc)
		}
	}
	return []wfvalue.Value{wfvalue.Agent(spec)}, nil
}

// ─── Chat ───

// chatNode runs a multi-turn prompt against the bound agent spec,
// automatically invoking any tools the model requests up to
// maxChatToolTurns rounds, and returns the updated chat plus the last
// response message.
type chatNode struct{}

func newChatNode(wfgraph.NodeInfo) (Noder, error) { return &chatNode{}, nil }

func (n *chatNode) Kind() string            { return "chat" }
func (n *chatNode) Inputs() int              { return 3 }
func (n *chatNode) Outputs() int             { return 3 }
func (n *chatNode) Priority() int64          { return 0 }
func (n *chatNode) IsProtected() bool        { return false }
func (n *chatNode) FailurePin() (int, bool)  { return 2, true }

func (n *chatNode) InKinds(pin int) []wfvalue.Kind {
	switch pin {
	case 0:
		return []wfvalue.Kind{wfvalue.KindAgent}
	case 1:
		return []wfvalue.Kind{wfvalue.KindChat}
	default:
		return []wfvalue.Kind{wfvalue.KindText}
	}
}

func (n *chatNode) OutKind(pin int) wfvalue.Kind {
	switch pin {
	case 0:
		return wfvalue.KindChat
	case 1:
		return wfvalue.KindMessage
	default:
		return wfvalue.KindFailure
	}
}

func (n *chatNode) Validate(_ context.Context, _ *wfexternal.RunContext, inputs []wfvalue.Value) error {
	if err := RequireInput("chat", inputs, 0, wfvalue.KindAgent); err != nil {
		return err
	}
	return RequireInput("chat", inputs, 1, wfvalue.KindChat)
}

func (n *chatNode) Execute(ctx context.Context, rc *wfexternal.RunContext, inputs []wfvalue.Value) ([]wfvalue.Value, error) {
	spec, _ := inputs[0].AsAgent()
	chatVal, _ := inputs[1].AsChat()
	history, ok := chatVal.(chathistory.History)
	if !ok {
		return nil, NewError(ErrInput, "chat", errUnexpectedChatPayload)
	}
	prompt := ""
	if len(inputs) > 2 {
		prompt, _ = inputs[2].AsText()
	}

	if rc.AgentFactory == nil {
		return nil, NewError(ErrProvider, "chat", fmt.Errorf("no agent factory configured"))
	}
	agent, err := rc.AgentFactory.BuildAgent(ctx, spec)
	if err != nil {
		return nil, NewError(ErrProvider, "chat", err)
	}

	transcript, err := historyMessages(history)
	if err != nil {
		return nil, NewError(ErrConversion, "chat", err)
	}

	var last wfvalue.ChatMessage
	history, _ = history.Push(chathistory.Content{
		Kind:    chathistory.ContentMessage,
		Message: chathistory.Message{Role: "user", Payload: prompt},
	}, "")

	for turn := 0; turn < maxChatToolTurns; turn++ {
		reply, calls, done, err := agent.Prompt(ctx, prompt, transcript)
		if err != nil {
			return nil, NewError(ErrProvider, "chat", err)
		}
		last = reply
		history, _ = history.Push(chathistory.Content{
			Kind:    chathistory.ContentMessage,
			Message: chathistory.Message{Role: reply.Role, Payload: reply},
		}, "")
		transcript = append(transcript, reply)
		if done || len(calls) == 0 {
			break
		}
		if rc.Toolbox == nil {
			return nil, NewError(ErrProvider, "chat", fmt.Errorf("tool call requested but no toolbox configured"))
		}
		handle, err := rc.Toolbox.GetTools(ctx, spec.Tools)
		if err != nil {
			return nil, NewError(ErrProvider, "chat", err)
		}
		for _, call := range calls {
			result, err := handle.Call(ctx, call.Name, call.Arguments)
			if err != nil {
				return nil, NewError(ErrProvider, "chat", err)
			}
			toolMsg := wfvalue.ChatMessage{
				Role: "tool",
				Content: []wfvalue.ContentBlock{{
					Type:      "tool_result",
					ToolUseID: call.ID,
					Content:   result,
				}},
			}
			history, _ = history.Push(chathistory.Content{
				Kind:    chathistory.ContentMessage,
				Message: chathistory.Message{Role: "tool", Payload: toolMsg},
			}, "")
			transcript = append(transcript, toolMsg)
		}
		prompt = ""
	}

	return []wfvalue.Value{
		wfvalue.Chat(history),
		wfvalue.Message(last),
		wfvalue.Placeholder(wfvalue.KindFailure),
	}, nil
}

// historyMessages replays a history's active branch into the flat
// []ChatMessage form provider adapters expect.
func historyMessages(h chathistory.History) ([]wfvalue.ChatMessage, error) {
	entries, err := h.Iter()
	if err != nil {
		return nil, err
	}
	out := make([]wfvalue.ChatMessage, 0, len(entries))
	for _, e := range entries {
		if e.Content.Kind != chathistory.ContentMessage {
			continue
		}
		if msg, ok := e.Content.Message.Payload.(wfvalue.ChatMessage); ok {
			out = append(out, msg)
			continue
		}
		if text, ok := e.Content.Message.Payload.(string); ok {
			out = append(out, wfvalue.ChatMessage{Role: e.Content.Message.Role, Content: text})
		}
	}
	return out, nil
}

// ─── StructuredChat ───

// structuredChatNode forces tool-choice to required, optionally
// validates the call's arguments against a bound JSON schema, and
// retries on a missing tool call or schema violation.
type structuredChatNode struct {
	retries int
}

func newStructuredChatNode(info wfgraph.NodeInfo) (Noder, error) {
	retries := 0
	switch v := info.Data["retries"].(type) {
	case int:
		retries = v
	case int64:
		retries = int(v)
	case float64:
		retries = int(v)
	}
	return &structuredChatNode{retries: retries}, nil
}

func (n *structuredChatNode) Kind() string           { return "structured_chat" }
func (n *structuredChatNode) Inputs() int             { return 3 }
func (n *structuredChatNode) Outputs() int            { return 4 }
func (n *structuredChatNode) Priority() int64         { return 0 }
func (n *structuredChatNode) IsProtected() bool       { return false }
func (n *structuredChatNode) FailurePin() (int, bool) { return 3, true }

func (n *structuredChatNode) InKinds(pin int) []wfvalue.Kind {
	switch pin {
	case 0:
		return []wfvalue.Kind{wfvalue.KindAgent}
	case 1:
		return []wfvalue.Kind{wfvalue.KindChat}
	default:
		return []wfvalue.Kind{wfvalue.KindJSON}
	}
}

func (n *structuredChatNode) OutKind(pin int) wfvalue.Kind {
	switch pin {
	case 0:
		return wfvalue.KindChat
	case 1:
		return wfvalue.KindText
	case 2:
		return wfvalue.KindJSON
	default:
		return wfvalue.KindFailure
	}
}

func (n *structuredChatNode) Validate(_ context.Context, _ *wfexternal.RunContext, inputs []wfvalue.Value) error {
	if err := RequireInput("structured_chat", inputs, 0, wfvalue.KindAgent); err != nil {
		return err
	}
	return RequireInput("structured_chat", inputs, 1, wfvalue.KindChat)
}

func (n *structuredChatNode) Execute(ctx context.Context, rc *wfexternal.RunContext, inputs []wfvalue.Value) ([]wfvalue.Value, error) {
	spec, _ := inputs[0].AsAgent()
	chatVal, _ := inputs[1].AsChat()
	history, ok := chatVal.(chathistory.History)
	if !ok {
		return nil, NewError(ErrInput, "structured_chat", errUnexpectedChatPayload)
	}
	var schema map[string]any
	if len(inputs) > 2 {
		if raw, ok := inputs[2].AsJSON(); ok {
			if m, ok := raw.(map[string]any); ok {
				schema = m
			}
		}
	}
	spec.Schema = schema

	if rc.AgentFactory == nil {
		return nil, NewError(ErrProvider, "structured_chat", fmt.Errorf("no agent factory configured"))
	}
	agent, err := rc.AgentFactory.BuildAgent(ctx, spec)
	if err != nil {
		return nil, NewError(ErrProvider, "structured_chat", err)
	}
	transcript, err := historyMessages(history)
	if err != nil {
		return nil, NewError(ErrConversion, "structured_chat", err)
	}

	attempts := n.retries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		reply, calls, err := agent.Completion(ctx, transcript)
		if err != nil {
			return nil, NewError(ErrProvider, "structured_chat", err)
		}
		transcript = append(transcript, reply)
		history, _ = history.Push(chathistory.Content{
			Kind:    chathistory.ContentMessage,
			Message: chathistory.Message{Role: reply.Role, Payload: reply},
		}, "")

		if len(calls) == 0 {
			if attempt == attempts-1 {
				return nil, NewError(ErrMissingToolCall, "structured_chat", fmt.Errorf("exhausted %d attempts without a tool call", attempts))
			}
			history, _ = history.Push(chathistory.Content{
				Kind:  chathistory.ContentError,
				Error: "missing tool call",
			}, "")
			continue
		}

		call := calls[0]
		if schema != nil {
			if verr := validateAgainstSchema(call.Arguments, schema); verr != nil {
				if attempt == attempts-1 {
					return nil, NewError(ErrValidation, "structured_chat", verr)
				}
				history, _ = history.Push(chathistory.Content{
					Kind:  chathistory.ContentError,
					Error: verr.Error(),
				}, "")
				continue
			}
		}

		return []wfvalue.Value{
			wfvalue.Chat(history),
			wfvalue.Text(call.Name),
			wfvalue.JSON(map[string]any(call.Arguments)),
			wfvalue.Placeholder(wfvalue.KindFailure),
		}, nil
	}
	return nil, NewError(ErrMissingToolCall, "structured_chat", fmt.Errorf("exhausted %d attempts", attempts))
}
