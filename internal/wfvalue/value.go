// Package wfvalue defines the tagged union of runtime values carried on
// workflow wires and the static Kind discriminator used for pin
// compatibility checks at wire time.
package wfvalue

import "fmt"

// Kind is the static type of a pin or value. Compatibility between a
// producing pin and a consuming pin is checked against Kind, never
// against the dynamic payload.
type Kind int

const (
	KindPlaceholder Kind = iota
	KindText
	KindInteger
	KindNumber
	KindJSON
	KindMessage
	KindChat
	KindAgent
	KindModel
	KindTools
	KindFailure
	KindTextList
	KindIntList
	KindFloatList
)

func (k Kind) String() string {
	switch k {
	case KindPlaceholder:
		return "placeholder"
	case KindText:
		return "text"
	case KindInteger:
		return "integer"
	case KindNumber:
		return "number"
	case KindJSON:
		return "json"
	case KindMessage:
		return "message"
	case KindChat:
		return "chat"
	case KindAgent:
		return "agent"
	case KindModel:
		return "model"
	case KindTools:
		return "tools"
	case KindFailure:
		return "failure"
	case KindTextList:
		return "text_list"
	case KindIntList:
		return "int_list"
	case KindFloatList:
		return "float_list"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ChatMessage is a single turn in a conversation, matching the wire shape
// used by the LLM provider adapters (Anthropic/OpenAI-style content-block
// messages).
type ChatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

// ContentBlock is one block of a ChatMessage's Content when the message
// carries structured (non-plain-string) content: tool calls, tool
// results, or media.
type ContentBlock struct {
	Type             string         `json:"type"`
	Text             string         `json:"text,omitempty"`
	ID               string         `json:"id,omitempty"`
	Name             string         `json:"name,omitempty"`
	Input            map[string]any `json:"input,omitempty"`
	ToolUseID        string         `json:"tool_use_id,omitempty"`
	Content          string         `json:"content,omitempty"`
	Source           *MediaSource   `json:"source,omitempty"`
	ThoughtSignature string         `json:"thought_signature,omitempty"`
}

// MediaSource is an inline or referenced media payload attached to a
// ContentBlock (image, document, audio).
type MediaSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

// Usage carries token accounting from a provider response.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// ToolCall is a single tool invocation requested by a model turn.
type ToolCall struct {
	ID               string
	Name             string
	Arguments        map[string]any
	ThoughtSignature string
}

// AgentSpec configures an LLM call assembled by AgentNode/ChatContext:
// a model, optional preamble, sampling parameters, bound tool selector,
// output schema, and any context documents appended so far.
type AgentSpec struct {
	Model       string
	Preamble    string
	Temperature *float64
	Tools       ToolSelector
	Schema      map[string]any
	ContextDocs []string
}

// ToolSelector is an opaque description of which tools a Toolbox should
// resolve. The engine only composes selectors (union) and asks a Toolbox
// to apply one; it never inspects them.
type ToolSelector struct {
	Names []string
	All   bool
}

// Union returns a selector matching either selector's tools.
func (s ToolSelector) Union(other ToolSelector) ToolSelector {
	if s.All || other.All {
		return ToolSelector{All: true}
	}
	seen := make(map[string]struct{}, len(s.Names)+len(other.Names))
	out := make([]string, 0, len(s.Names)+len(other.Names))
	for _, n := range append(append([]string{}, s.Names...), other.Names...) {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return ToolSelector{Names: out}
}

// Value is a tagged union of everything that can flow across a wire.
// Exactly one payload field is meaningful for a given Kind; a zero Value
// with Kind set and nothing else is Placeholder(k).
type Value struct {
	kind Kind

	text      string
	integer   int64
	number    float64
	json      any
	message   ChatMessage
	chat      ChatHistoryValue
	agent     AgentSpec
	model     string
	tools     ToolSelector
	failure   error
	textList  []string
	intList   []int64
	floatList []float64
}

// ChatHistoryValue is the wire-carried handle to a branchable message
// history. It is implemented by internal/chathistory.History; the
// interface lives here to avoid an import cycle between wfvalue and
// chathistory.
type ChatHistoryValue interface {
	IsChatHistory()
}

func (v Value) Kind() Kind { return v.kind }

// Placeholder returns the zero-payload value standing in for "upstream
// has not produced a value yet" for the given kind.
func Placeholder(k Kind) Value { return Value{kind: KindPlaceholder, model: k.String()} }

// IsPlaceholder reports whether v stands in for a not-yet-produced value.
func (v Value) IsPlaceholder() bool { return v.kind == KindPlaceholder }

// PlaceholderKind returns the kind a placeholder stands in for.
func (v Value) PlaceholderKind() Kind {
	for k := KindPlaceholder; k <= KindFloatList; k++ {
		if k.String() == v.model {
			return k
		}
	}
	return KindPlaceholder
}

func Text(s string) Value                  { return Value{kind: KindText, text: s} }
func Integer(i int64) Value                 { return Value{kind: KindInteger, integer: i} }
func Number(f float64) Value                { return Value{kind: KindNumber, number: f} }
func JSON(v any) Value                      { return Value{kind: KindJSON, json: v} }
func Message(m ChatMessage) Value           { return Value{kind: KindMessage, message: m} }
func Chat(h ChatHistoryValue) Value         { return Value{kind: KindChat, chat: h} }
func Agent(a AgentSpec) Value               { return Value{kind: KindAgent, agent: a} }
func Model(name string) Value               { return Value{kind: KindModel, model: name} }
func Tools(s ToolSelector) Value             { return Value{kind: KindTools, tools: s} }
func Failure(err error) Value               { return Value{kind: KindFailure, failure: err} }
func TextList(v []string) Value             { return Value{kind: KindTextList, textList: v} }
func IntList(v []int64) Value               { return Value{kind: KindIntList, intList: v} }
func FloatList(v []float64) Value           { return Value{kind: KindFloatList, floatList: v} }

// AsText, AsInteger, etc. return the payload and whether v actually
// carries that kind — callers (node Validate/execute) use these instead
// of a blind type assertion so kind mismatches surface as Input errors
// rather than panics.
func (v Value) AsText() (string, bool)    { return v.text, v.kind == KindText }
func (v Value) AsInteger() (int64, bool)  { return v.integer, v.kind == KindInteger }
func (v Value) AsNumber() (float64, bool) { return v.number, v.kind == KindNumber }
func (v Value) AsJSON() (any, bool)       { return v.json, v.kind == KindJSON }
func (v Value) AsMessage() (ChatMessage, bool) {
	return v.message, v.kind == KindMessage
}
func (v Value) AsChat() (ChatHistoryValue, bool) { return v.chat, v.kind == KindChat }
func (v Value) AsAgent() (AgentSpec, bool)       { return v.agent, v.kind == KindAgent }
func (v Value) AsModel() (string, bool)          { return v.model, v.kind == KindModel }
func (v Value) AsTools() (ToolSelector, bool)    { return v.tools, v.kind == KindTools }
func (v Value) AsFailure() (error, bool)         { return v.failure, v.kind == KindFailure }
func (v Value) AsTextList() ([]string, bool)     { return v.textList, v.kind == KindTextList }
func (v Value) AsIntList() ([]int64, bool)       { return v.intList, v.kind == KindIntList }
func (v Value) AsFloatList() ([]float64, bool)   { return v.floatList, v.kind == KindFloatList }

// KindCompatible reports whether a producer of kind `producer` may be
// wired into a consumer accepting any of `accepted`. A placeholder slot
// is compatible with its own declared kind only (Start's not-yet-run
// outputs still type-check against the pin's declared kind).
func KindCompatible(producer Kind, accepted []Kind) bool {
	for _, k := range accepted {
		if k == producer {
			return true
		}
	}
	return false
}
