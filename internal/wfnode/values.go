package wfnode

import (
	"context"
	"fmt"

	"github.com/rakunlabs/loom/internal/wfexternal"
	"github.com/rakunlabs/loom/internal/wfgraph"
	"github.com/rakunlabs/loom/internal/wfvalue"
)

func init() {
	RegisterNodeType("text", newTextNode)
	RegisterNodeType("number", newNumberNode)
	RegisterNodeType("template_node", newTemplateNode)
	RegisterNodeType("create_message", newCreateMessageNode)
}

// ─── Text ───

// textNode emits a constant configured string.
type textNode struct{ value string }

func newTextNode(info wfgraph.NodeInfo) (Noder, error) {
	s, _ := info.Data["text"].(string)
	return &textNode{value: s}, nil
}

func (n *textNode) Kind() string               { return "text" }
func (n *textNode) Inputs() int                { return 0 }
func (n *textNode) Outputs() int                { return 1 }
func (n *textNode) Priority() int64             { return 0 }
func (n *textNode) IsProtected() bool           { return false }
func (n *textNode) FailurePin() (int, bool)     { return 0, false }
func (n *textNode) InKinds(int) []wfvalue.Kind  { return nil }
func (n *textNode) OutKind(int) wfvalue.Kind    { return wfvalue.KindText }

func (n *textNode) Validate(context.Context, *wfexternal.RunContext, []wfvalue.Value) error {
	return nil
}

func (n *textNode) Execute(context.Context, *wfexternal.RunContext, []wfvalue.Value) ([]wfvalue.Value, error) {
	return []wfvalue.Value{wfvalue.Text(n.value)}, nil
}

// ─── Number ───

// numberNode emits a constant configured float.
type numberNode struct{ value float64 }

func newNumberNode(info wfgraph.NodeInfo) (Noder, error) {
	switch v := info.Data["number"].(type) {
	case float64:
		return &numberNode{value: v}, nil
	case int:
		return &numberNode{value: float64(v)}, nil
	case int64:
		return &numberNode{value: float64(v)}, nil
	}
	return &numberNode{}, nil
}

func (n *numberNode) Kind() string              { return "number" }
func (n *numberNode) Inputs() int                { return 0 }
func (n *numberNode) Outputs() int               { return 1 }
func (n *numberNode) Priority() int64            { return 0 }
func (n *numberNode) IsProtected() bool          { return false }
func (n *numberNode) FailurePin() (int, bool)    { return 0, false }
func (n *numberNode) InKinds(int) []wfvalue.Kind { return nil }
func (n *numberNode) OutKind(int) wfvalue.Kind   { return wfvalue.KindNumber }

func (n *numberNode) Validate(context.Context, *wfexternal.RunContext, []wfvalue.Value) error {
	return nil
}

func (n *numberNode) Execute(context.Context, *wfexternal.RunContext, []wfvalue.Value) ([]wfvalue.Value, error) {
	return []wfvalue.Value{wfvalue.Number(n.value)}, nil
}

// ─── TemplateNode ───

// templateNode renders a Minijinja-style template with a JSON variable
// blob, via the run's Transmuter (grounded on rytsh/mugo's templatex
// engine, see internal/transmuter).
type templateNode struct{}

func newTemplateNode(wfgraph.NodeInfo) (Noder, error) { return &templateNode{}, nil }

func (n *templateNode) Kind() string   { return "template_node" }
func (n *templateNode) Inputs() int    { return 2 }
func (n *templateNode) Outputs() int   { return 2 }
func (n *templateNode) Priority() int64 { return 0 }
func (n *templateNode) IsProtected() bool { return false }
func (n *templateNode) FailurePin() (int, bool) { return 1, true }

func (n *templateNode) InKinds(pin int) []wfvalue.Kind {
	if pin == 0 {
		return []wfvalue.Kind{wfvalue.KindText}
	}
	return []wfvalue.Kind{wfvalue.KindJSON}
}

func (n *templateNode) OutKind(pin int) wfvalue.Kind {
	if pin == 1 {
		return wfvalue.KindFailure
	}
	return wfvalue.KindText
}

func (n *templateNode) Validate(_ context.Context, _ *wfexternal.RunContext, inputs []wfvalue.Value) error {
	return RequireInput("template_node", inputs, 0, wfvalue.KindText)
}

func (n *templateNode) Execute(ctx context.Context, rc *wfexternal.RunContext, inputs []wfvalue.Value) ([]wfvalue.Value, error) {
	text, _ := inputs[0].AsText()
	vars := map[string]any{}
	if len(inputs) > 1 {
		if raw, ok := inputs[1].AsJSON(); ok {
			if m, ok := raw.(map[string]any); ok {
				vars = m
			}
		}
	}
	if rc.Transmuter == nil {
		return nil, NewError(ErrProvider, "template_node", fmt.Errorf("no transmuter configured"))
	}
	out, err := rc.Transmuter.RenderTemplate(ctx, text, vars)
	if err != nil {
		return nil, NewError(ErrProvider, "template_node", err)
	}
	return []wfvalue.Value{wfvalue.Text(out), wfvalue.Placeholder(wfvalue.KindFailure)}, nil
}

// ─── CreateMessage ───

// createMessageNode builds a typed chat message from a role and either
// plain text or a structured JSON content payload.
type createMessageNode struct{}

func newCreateMessageNode(wfgraph.NodeInfo) (Noder, error) { return &createMessageNode{}, nil }

func (n *createMessageNode) Kind() string      { return "create_message" }
func (n *createMessageNode) Inputs() int        { return 2 }
func (n *createMessageNode) Outputs() int       { return 1 }
func (n *createMessageNode) Priority() int64    { return 0 }
func (n *createMessageNode) IsProtected() bool  { return false }
func (n *createMessageNode) FailurePin() (int, bool) { return 0, false }

func (n *createMessageNode) InKinds(pin int) []wfvalue.Kind {
	if pin == 0 {
		return []wfvalue.Kind{wfvalue.KindText}
	}
	return []wfvalue.Kind{wfvalue.KindText, wfvalue.KindJSON}
}

func (n *createMessageNode) OutKind(int) wfvalue.Kind { return wfvalue.KindMessage }

func (n *createMessageNode) Validate(_ context.Context, _ *wfexternal.RunContext, inputs []wfvalue.Value) error {
	return RequireInput("create_message", inputs, 0, wfvalue.KindText)
}

func (n *createMessageNode) Execute(_ context.Context, _ *wfexternal.RunContext, inputs []wfvalue.Value) ([]wfvalue.Value, error) {
	role, _ := inputs[0].AsText()
	var content any
	if len(inputs) > 1 && !inputs[1].IsPlaceholder() {
		if txt, ok := inputs[1].AsText(); ok {
			content = txt
		} else if j, ok := inputs[1].AsJSON(); ok {
			content = j
		}
	}
	msg := wfvalue.ChatMessage{Role: role, Content: content}
	return []wfvalue.Value{wfvalue.Message(msg)}, nil
}
