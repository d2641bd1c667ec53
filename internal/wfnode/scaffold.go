package wfnode

import (
	"context"
	"errors"

	"github.com/rakunlabs/loom/internal/chathistory"
	"github.com/rakunlabs/loom/internal/wfexternal"
	"github.com/rakunlabs/loom/internal/wfgraph"
	"github.com/rakunlabs/loom/internal/wfvalue"
)

var (
	errUnexpectedChatPayload = errors.New("chat value does not carry a history")
	errSessionNotSubset      = errors.New("session history is not a subset of the finishing chat")
	errPanicTriggered        = errors.New("panic node received a live input")
)

func init() {
	RegisterNodeType("start", newStartNode)
	RegisterNodeType("finish", newFinishNode)
	RegisterNodeType("fallback", newFallbackNode)
	RegisterNodeType("select", newSelectNode)
	RegisterNodeType("demote", newDemoteNode)
	RegisterNodeType("panic", newPanicNode)
}

// ─── Start ───

// startNode is the sole source node; its outputs are populated from the
// RunContext's RootContext on its one execution per run.
type startNode struct{}

func newStartNode(wfgraph.NodeInfo) (Noder, error) { return &startNode{}, nil }

func (n *startNode) Kind() string             { return "start" }
func (n *startNode) Inputs() int               { return 0 }
func (n *startNode) Outputs() int              { return 4 }
func (n *startNode) Priority() int64           { return 0 }
func (n *startNode) IsProtected() bool         { return true }
func (n *startNode) FailurePin() (int, bool)   { return 0, false }
func (n *startNode) InKinds(int) []wfvalue.Kind { return nil }

func (n *startNode) OutKind(pin int) wfvalue.Kind {
	switch pin {
	case 0:
		return wfvalue.KindChat
	case 1:
		return wfvalue.KindText
	case 2:
		return wfvalue.KindModel
	case 3:
		return wfvalue.KindNumber
	default:
		return wfvalue.KindPlaceholder
	}
}

func (n *startNode) Validate(context.Context, *wfexternal.RunContext, []wfvalue.Value) error {
	return nil
}

func (n *startNode) Execute(_ context.Context, rc *wfexternal.RunContext, _ []wfvalue.Value) ([]wfvalue.Value, error) {
	root := rc.Root
	out := []wfvalue.Value{
		wfvalue.Chat(root.History),
		wfvalue.Text(root.UserPrompt),
		wfvalue.Model(root.Model),
	}
	if root.Temperature != nil {
		out = append(out, wfvalue.Number(*root.Temperature))
	} else {
		out = append(out, wfvalue.Placeholder(wfvalue.KindNumber))
	}
	return out, nil
}

// ─── Finish ───

// finishNode is the sink; if wired, on success it writes its input chat
// back to the run's shared session history after verifying the current
// session is a subset of the final chat (chathistory.History.IsSubsetOf).
type finishNode struct{}

func newFinishNode(wfgraph.NodeInfo) (Noder, error) { return &finishNode{}, nil }

func (n *finishNode) Kind() string                 { return "finish" }
func (n *finishNode) Inputs() int                  { return 1 }
func (n *finishNode) Outputs() int                 { return 0 }
func (n *finishNode) Priority() int64              { return 2000 }
func (n *finishNode) IsProtected() bool            { return true }
func (n *finishNode) FailurePin() (int, bool)      { return 0, false }
func (n *finishNode) InKinds(int) []wfvalue.Kind   { return []wfvalue.Kind{wfvalue.KindChat} }
func (n *finishNode) OutKind(int) wfvalue.Kind     { return wfvalue.KindPlaceholder }

func (n *finishNode) Validate(context.Context, *wfexternal.RunContext, []wfvalue.Value) error {
	return nil
}

func (n *finishNode) Execute(_ context.Context, rc *wfexternal.RunContext, inputs []wfvalue.Value) ([]wfvalue.Value, error) {
	if len(inputs) == 0 || inputs[0].IsPlaceholder() {
		return nil, nil
	}
	raw, ok := inputs[0].AsChat()
	if !ok {
		return nil, NewError(ErrInput, "finish", errUnexpectedChatPayload)
	}
	finalHistory, ok := raw.(chathistory.History)
	if !ok {
		return nil, NewError(ErrUnknown, "finish", errUnexpectedChatPayload)
	}
	if rc.History != nil {
		if !rc.History.IsSubsetOf(finalHistory) {
			return nil, NewError(ErrConversion, "finish", errSessionNotSubset)
		}
		*rc.History = finalHistory
	}
	return nil, nil
}

// ─── Fallback ───

// fallbackNode converts a failure into a normal value path: input 0 is
// the Failure wire; inputs 1..N are kind-locked data substitutes whose
// arity is read from the node's current data_arity config.
type fallbackNode struct {
	dataKinds []wfvalue.Kind
}

func newFallbackNode(info wfgraph.NodeInfo) (Noder, error) {
	n := dataArity(info, 1)
	kinds := make([]wfvalue.Kind, n)
	for i := range kinds {
		kinds[i] = wfvalue.KindJSON
	}
	return &fallbackNode{dataKinds: kinds}, nil
}

func (n *fallbackNode) Kind() string           { return "fallback" }
func (n *fallbackNode) Inputs() int             { return 1 + len(n.dataKinds) }
func (n *fallbackNode) Outputs() int            { return len(n.dataKinds) }
func (n *fallbackNode) Priority() int64         { return 0 }
func (n *fallbackNode) IsProtected() bool       { return false }
func (n *fallbackNode) FailurePin() (int, bool) { return 0, false }

func (n *fallbackNode) InKinds(pin int) []wfvalue.Kind {
	if pin == 0 {
		return []wfvalue.Kind{wfvalue.KindFailure}
	}
	return []wfvalue.Kind{n.dataKinds[pin-1]}
}

func (n *fallbackNode) OutKind(pin int) wfvalue.Kind { return n.dataKinds[pin] }

func (n *fallbackNode) Validate(context.Context, *wfexternal.RunContext, []wfvalue.Value) error {
	return nil
}

// Execute passes the data inputs through untouched only when the failure
// pin carries a Failure; otherwise every output is a Placeholder, so a
// Fallback whose failure input never receives a Failure never fires.
func (n *fallbackNode) Execute(_ context.Context, _ *wfexternal.RunContext, inputs []wfvalue.Value) ([]wfvalue.Value, error) {
	if len(inputs) == 0 || inputs[0].Kind() != wfvalue.KindFailure {
		return Placeholders(n), nil
	}
	out := make([]wfvalue.Value, len(n.dataKinds))
	for i := range out {
		if i+1 < len(inputs) {
			out[i] = inputs[i+1]
		} else {
			out[i] = wfvalue.Placeholder(n.dataKinds[i])
		}
	}
	return out, nil
}

// ─── Select ───

// selectNode emits the first non-Placeholder input, letting a fallback
// path merge back into the main line.
type selectNode struct {
	kind wfvalue.Kind
}

func newSelectNode(wfgraph.NodeInfo) (Noder, error) {
	return &selectNode{kind: wfvalue.KindJSON}, nil
}

func (n *selectNode) Kind() string             { return "select" }
func (n *selectNode) Inputs() int               { return 2 }
func (n *selectNode) Outputs() int              { return 1 }
func (n *selectNode) Priority() int64           { return 8000 }
func (n *selectNode) IsProtected() bool         { return false }
func (n *selectNode) FailurePin() (int, bool)   { return 0, false }
func (n *selectNode) InKinds(int) []wfvalue.Kind { return []wfvalue.Kind{n.kind} }
func (n *selectNode) OutKind(int) wfvalue.Kind   { return n.kind }

func (n *selectNode) Validate(context.Context, *wfexternal.RunContext, []wfvalue.Value) error {
	return nil
}

func (n *selectNode) Execute(_ context.Context, _ *wfexternal.RunContext, inputs []wfvalue.Value) ([]wfvalue.Value, error) {
	for _, v := range inputs {
		if !v.IsPlaceholder() {
			return []wfvalue.Value{v}, nil
		}
	}
	return []wfvalue.Value{wfvalue.Placeholder(n.kind)}, nil
}

// ─── Demote ───

// demoteNode is an identity with adjustable priority, used to hold a
// branch back until higher-priority paths idle.
type demoteNode struct {
	priority int64
	kind     wfvalue.Kind
}

func newDemoteNode(info wfgraph.NodeInfo) (Noder, error) {
	priority := int64(-1)
	switch p := info.Data["priority"].(type) {
	case int64:
		priority = p
	case int:
		priority = int64(p)
	case float64:
		priority = int64(p)
	}
	return &demoteNode{priority: priority, kind: wfvalue.KindJSON}, nil
}

func (n *demoteNode) Kind() string             { return "demote" }
func (n *demoteNode) Inputs() int               { return 1 }
func (n *demoteNode) Outputs() int              { return 1 }
func (n *demoteNode) Priority() int64           { return n.priority }
func (n *demoteNode) IsProtected() bool         { return false }
func (n *demoteNode) FailurePin() (int, bool)   { return 0, false }
func (n *demoteNode) InKinds(int) []wfvalue.Kind { return []wfvalue.Kind{n.kind} }
func (n *demoteNode) OutKind(int) wfvalue.Kind   { return n.kind }

func (n *demoteNode) Validate(context.Context, *wfexternal.RunContext, []wfvalue.Value) error {
	return nil
}

func (n *demoteNode) Execute(_ context.Context, _ *wfexternal.RunContext, inputs []wfvalue.Value) ([]wfvalue.Value, error) {
	if len(inputs) == 0 {
		return []wfvalue.Value{wfvalue.Placeholder(n.kind)}, nil
	}
	return []wfvalue.Value{inputs[0]}, nil
}

// ─── Panic ───

// panicNode aborts the run iff its input is non-empty (i.e. not a
// Placeholder).
type panicNode struct{}

func newPanicNode(wfgraph.NodeInfo) (Noder, error) { return &panicNode{}, nil }

func (n *panicNode) Kind() string           { return "panic" }
func (n *panicNode) Inputs() int             { return 1 }
func (n *panicNode) Outputs() int            { return 0 }
func (n *panicNode) Priority() int64         { return 0 }
func (n *panicNode) IsProtected() bool       { return false }
func (n *panicNode) FailurePin() (int, bool) { return 0, false }
func (n *panicNode) InKinds(int) []wfvalue.Kind {
	return []wfvalue.Kind{wfvalue.KindJSON, wfvalue.KindText}
}
func (n *panicNode) OutKind(int) wfvalue.Kind { return wfvalue.KindPlaceholder }

func (n *panicNode) Validate(context.Context, *wfexternal.RunContext, []wfvalue.Value) error {
	return nil
}

func (n *panicNode) Execute(_ context.Context, _ *wfexternal.RunContext, inputs []wfvalue.Value) ([]wfvalue.Value, error) {
	if len(inputs) > 0 && !inputs[0].IsPlaceholder() {
		return nil, NewError(ErrUnknown, "panic", errPanicTriggered)
	}
	return nil, nil
}

// dataArity reads a node's current "data_arity" config (driven by editor
// pin-visibility hooks) with a floor of min.
func dataArity(info wfgraph.NodeInfo, min int) int {
	switch v := info.Data["data_arity"].(type) {
	case int:
		if v > min {
			return v
		}
	case int64:
		if int(v) > min {
			return int(v)
		}
	case float64:
		if int(v) > min {
			return int(v)
		}
	}
	return min
}
