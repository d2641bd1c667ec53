package wfview

import (
	"errors"
	"testing"

	"github.com/rakunlabs/loom/internal/wfgraph"
)

func TestEnterFailsOnNonSubgraphNode(t *testing.T) {
	g := wfgraph.New("g1")
	g, _ = g.WithNode("a", wfgraph.NodeInfo{Kind: "text"})
	v := NewViewStack(g)

	if err := v.Enter("a"); !errors.Is(err, ErrNotSubgraph) {
		t.Fatalf("expected ErrNotSubgraph, got %v", err)
	}
}

func TestEnterExitRoundTrips(t *testing.T) {
	inner := wfgraph.New("inner")
	root := wfgraph.New("root")
	root, _ = root.WithNode("sub", wfgraph.NodeInfo{Kind: "subgraph", Data: map[string]any{"subgraph": inner}})

	v := NewViewStack(root)
	if err := v.Enter("sub"); err != nil {
		t.Fatalf("enter: %v", err)
	}
	if v.Depth() != 1 {
		t.Fatalf("expected depth 1, got %d", v.Depth())
	}
	if err := v.Exit(1); err != nil {
		t.Fatalf("exit: %v", err)
	}
	if v.Depth() != 0 {
		t.Fatalf("expected depth 0 after exit, got %d", v.Depth())
	}
	if !v.Current().FastEq(root) {
		t.Fatalf("expected current to be root after exit")
	}
}

func TestPropagateWritesBackIntoParentSubgraph(t *testing.T) {
	inner := wfgraph.New("inner")
	root := wfgraph.New("root")
	root, _ = root.WithNode("sub", wfgraph.NodeInfo{Kind: "subgraph", Data: map[string]any{"subgraph": inner}})

	v := NewViewStack(root)
	if err := v.Enter("sub"); err != nil {
		t.Fatalf("enter: %v", err)
	}

	edited, _ := inner.WithNode("extra", wfgraph.NodeInfo{Kind: "text"})
	v.Propagate(edited, nil)

	info, ok := v.Root().Node("sub")
	if !ok {
		t.Fatalf("expected sub node to still exist in root")
	}
	updatedInner, _ := info.Data["subgraph"].(wfgraph.ShadowGraph)
	if _, ok := updatedInner.Node("extra"); !ok {
		t.Fatalf("expected propagated inner graph to carry the new node")
	}
}

func TestPropagateSkipsWriteWhenUnchanged(t *testing.T) {
	inner := wfgraph.New("inner")
	root := wfgraph.New("root")
	root, _ = root.WithNode("sub", wfgraph.NodeInfo{Kind: "subgraph", Data: map[string]any{"subgraph": inner}})

	v := NewViewStack(root)
	_ = v.Enter("sub")

	before := v.Root()
	v.Propagate(inner, nil)
	if !v.Root().FastEq(before) {
		t.Fatalf("expected no-op propagate to leave root unchanged")
	}
}

func TestUndoRedo(t *testing.T) {
	g := wfgraph.New("g1")
	u := NewUndoStack(g)

	g2, _ := g.WithNode("a", wfgraph.NodeInfo{Kind: "text"})
	u.Record(g2)

	if !u.Current().FastEq(g2) {
		t.Fatalf("expected current to be g2 after record")
	}
	back, err := u.Undo()
	if err != nil {
		t.Fatalf("undo: %v", err)
	}
	if !back.FastEq(g) {
		t.Fatalf("expected undo to return original graph")
	}
	fwd, err := u.Redo()
	if err != nil {
		t.Fatalf("redo: %v", err)
	}
	if !fwd.FastEq(g2) {
		t.Fatalf("expected redo to return g2")
	}
}

func TestUndoStackDeduplicatesByFastEq(t *testing.T) {
	g := wfgraph.New("g1")
	u := NewUndoStack(g)
	u.Record(g) // identical graph, should be a no-op

	if _, err := u.Undo(); !errors.Is(err, ErrNothingToUndo) {
		t.Fatalf("expected ErrNothingToUndo, got %v", err)
	}
}
