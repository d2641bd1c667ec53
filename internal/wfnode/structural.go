package wfnode

import (
	"context"
	"fmt"

	"github.com/rakunlabs/loom/internal/wfexternal"
	"github.com/rakunlabs/loom/internal/wfgraph"
	"github.com/rakunlabs/loom/internal/wfvalue"
)

// RunSubgraph executes a nested graph to completion and maps its
// Finish input onto the Subgraph node's outputs. It is nil until
// internal/wfrunner's init() installs the real nested-Runner
// implementation; wfnode cannot import wfrunner directly (wfrunner
// imports wfnode to build node instances), so the dependency runs
// through this package-level hook instead.
var RunSubgraph func(ctx context.Context, rc *wfexternal.RunContext, inner wfgraph.ShadowGraph, inputs []wfvalue.Value) ([]wfvalue.Value, error)

func init() {
	RegisterNodeType("subgraph", newSubgraphNode)
	RegisterNodeType("preview", newPreviewNode)
	RegisterNodeType("output_node", newOutputNode)
	RegisterNodeType("comment", newCommentNode)
}

// ─── Subgraph ───

// subgraphNode delegates to an inner ShadowGraph carried as its
// payload, matching Start's 4 outputs / Finish's 1 input signature.
type subgraphNode struct {
	inner wfgraph.ShadowGraph
}

func newSubgraphNode(info wfgraph.NodeInfo) (Noder, error) {
	inner, _ := info.Data["subgraph"].(wfgraph.ShadowGraph)
	return &subgraphNode{inner: inner}, nil
}

func (n *subgraphNode) Kind() string           { return "subgraph" }
func (n *subgraphNode) Inputs() int             { return 4 }
func (n *subgraphNode) Outputs() int            { return 1 }
func (n *subgraphNode) Priority() int64         { return 0 }
func (n *subgraphNode) IsProtected() bool       { return false }
func (n *subgraphNode) FailurePin() (int, bool) { return 0, false }

func (n *subgraphNode) InKinds(pin int) []wfvalue.Kind {
	switch pin {
	case 0:
		return []wfvalue.Kind{wfvalue.KindChat}
	case 1:
		return []wfvalue.Kind{wfvalue.KindText}
	case 2:
		return []wfvalue.Kind{wfvalue.KindModel}
	default:
		return []wfvalue.Kind{wfvalue.KindNumber}
	}
}

func (n *subgraphNode) OutKind(int) wfvalue.Kind { return wfvalue.KindChat }

func (n *subgraphNode) Validate(context.Context, *wfexternal.RunContext, []wfvalue.Value) error {
	return nil
}

// Execute synchronously runs a nested Runner over the inner graph to
// completion, sharing the parent's interrupt flag, and maps Finish's
// received value onto this node's single output (spec §6 "Subgraph
// execution").
func (n *subgraphNode) Execute(ctx context.Context, rc *wfexternal.RunContext, inputs []wfvalue.Value) ([]wfvalue.Value, error) {
	if RunSubgraph == nil {
		return nil, NewError(ErrUnknown, "subgraph", fmt.Errorf("no subgraph runner installed"))
	}
	return RunSubgraph(ctx, rc, n.inner, inputs)
}

// ─── Preview ───

// previewNode is a UI sink; priority 9999 so it always runs after its
// peers once its input is ready.
type previewNode struct{}

func newPreviewNode(wfgraph.NodeInfo) (Noder, error) { return &previewNode{}, nil }

func (n *previewNode) Kind() string              { return "preview" }
func (n *previewNode) Inputs() int                { return 1 }
func (n *previewNode) Outputs() int               { return 0 }
func (n *previewNode) Priority() int64            { return 9999 }
func (n *previewNode) IsProtected() bool          { return false }
func (n *previewNode) FailurePin() (int, bool)    { return 0, false }
func (n *previewNode) InKinds(int) []wfvalue.Kind { return []wfvalue.Kind{wfvalue.KindJSON} }
func (n *previewNode) OutKind(int) wfvalue.Kind   { return wfvalue.KindPlaceholder }

func (n *previewNode) Validate(context.Context, *wfexternal.RunContext, []wfvalue.Value) error {
	return nil
}

func (n *previewNode) Execute(_ context.Context, rc *wfexternal.RunContext, inputs []wfvalue.Value) ([]wfvalue.Value, error) {
	if len(inputs) > 0 && !inputs[0].IsPlaceholder() {
		rc.Emit("preview", inputs[0])
	}
	return nil, nil
}

// ─── OutputNode ───

// outputNode sends a (label, value) pair to the run's outputs channel.
type outputNode struct{}

func newOutputNode(wfgraph.NodeInfo) (Noder, error) { return &outputNode{}, nil }

func (n *outputNode) Kind() string           { return "output_node" }
func (n *outputNode) Inputs() int             { return 2 }
func (n *outputNode) Outputs() int            { return 0 }
func (n *outputNode) Priority() int64         { return 9999 }
func (n *outputNode) IsProtected() bool       { return false }
func (n *outputNode) FailurePin() (int, bool) { return 0, false }

func (n *outputNode) InKinds(pin int) []wfvalue.Kind {
	if pin == 0 {
		return []wfvalue.Kind{wfvalue.KindText}
	}
	return []wfvalue.Kind{wfvalue.KindJSON}
}

func (n *outputNode) OutKind(int) wfvalue.Kind { return wfvalue.KindPlaceholder }

func (n *outputNode) Validate(_ context.Context, _ *wfexternal.RunContext, inputs []wfvalue.Value) error {
	return RequireInput("output_node", inputs, 0, wfvalue.KindText)
}

func (n *outputNode) Execute(_ context.Context, rc *wfexternal.RunContext, inputs []wfvalue.Value) ([]wfvalue.Value, error) {
	label, _ := inputs[0].AsText()
	var value wfvalue.Value
	if len(inputs) > 1 {
		value = inputs[1]
	}
	rc.Emit(label, value)
	return nil, nil
}

// ─── Comment ───

// commentNode is inert: no pins, never scheduled to do anything.
type commentNode struct{}

func newCommentNode(wfgraph.NodeInfo) (Noder, error) { return &commentNode{}, nil }

func (n *commentNode) Kind() string                  { return "comment" }
func (n *commentNode) Inputs() int                    { return 0 }
func (n *commentNode) Outputs() int                   { return 0 }
func (n *commentNode) Priority() int64                { return 0 }
func (n *commentNode) IsProtected() bool              { return false }
func (n *commentNode) FailurePin() (int, bool)        { return 0, false }
func (n *commentNode) InKinds(int) []wfvalue.Kind     { return nil }
func (n *commentNode) OutKind(int) wfvalue.Kind       { return wfvalue.KindPlaceholder }
func (n *commentNode) Validate(context.Context, *wfexternal.RunContext, []wfvalue.Value) error {
	return nil
}
func (n *commentNode) Execute(context.Context, *wfexternal.RunContext, []wfvalue.Value) ([]wfvalue.Value, error) {
	return nil, nil
}
