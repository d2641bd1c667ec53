// Package wfview implements the editor's View Stack and undo/redo edit
// log (C6): a root ShadowGraph plus a path of (node_id, inner_graph)
// pairs descending into Subgraph nodes, and a deduplicated snapshot
// stack for undo/redo. Grounded on the teacher's workflow editor state
// handling in internal/service/workflow (the node/graph mutation RPCs),
// generalized to the nested-subgraph view the original flat graph
// editor never needed.
package wfview

import (
	"errors"
	"fmt"

	"github.com/rakunlabs/loom/internal/wfgraph"
)

var (
	ErrNotSubgraph  = errors.New("wfview: node is not a subgraph")
	ErrStackEmpty   = errors.New("wfview: view stack has no inner levels to exit")
	ErrNothingToUndo = errors.New("wfview: nothing to undo")
	ErrNothingToRedo = errors.New("wfview: nothing to redo")
)

// Transform rewrites an inner graph before it is wrapped back into its
// enclosing Subgraph node, e.g. to re-run validation or normalize ids.
type Transform func(wfgraph.ShadowGraph) wfgraph.ShadowGraph

// level is one entry in the descent path: the Subgraph node id in the
// parent graph, and the inner graph currently being edited at that
// depth.
type level struct {
	nodeID string
	inner  wfgraph.ShadowGraph
}

// ViewStack tracks the editor's current position within a possibly
// nested Subgraph hierarchy.
type ViewStack struct {
	root  wfgraph.ShadowGraph
	path  []level
}

// NewViewStack starts a view rooted at root with no descent.
func NewViewStack(root wfgraph.ShadowGraph) *ViewStack {
	return &ViewStack{root: root}
}

// Root returns the top-level graph, independent of current depth.
func (v *ViewStack) Root() wfgraph.ShadowGraph { return v.root }

// Depth reports how many levels deep the stack currently is.
func (v *ViewStack) Depth() int { return len(v.path) }

// Current returns the graph currently being edited: the innermost
// level's inner graph, or the root if at depth 0.
func (v *ViewStack) Current() wfgraph.ShadowGraph {
	if len(v.path) == 0 {
		return v.root
	}
	return v.path[len(v.path)-1].inner
}

// subgraphPayload extracts the inner ShadowGraph a node carries, if any.
func subgraphPayload(g wfgraph.ShadowGraph, nodeID string) (wfgraph.ShadowGraph, error) {
	info, ok := g.Node(nodeID)
	if !ok {
		return wfgraph.ShadowGraph{}, fmt.Errorf("wfview: unknown node %s", nodeID)
	}
	if info.Kind != "subgraph" {
		return wfgraph.ShadowGraph{}, ErrNotSubgraph
	}
	inner, _ := info.Data["subgraph"].(wfgraph.ShadowGraph)
	return inner, nil
}

// Enter descends into node's inner graph. Fails if node is not a
// Subgraph kind.
func (v *ViewStack) Enter(nodeID string) error {
	inner, err := subgraphPayload(v.Current(), nodeID)
	if err != nil {
		return err
	}
	v.path = append(v.path, level{nodeID: nodeID, inner: inner})
	return nil
}

// Exit pops n levels off the descent path.
func (v *ViewStack) Exit(n int) error {
	if n > len(v.path) {
		return ErrStackEmpty
	}
	v.path = v.path[:len(v.path)-n]
	return nil
}

// Propagate rewrites the stack bottom-up starting from newLeaf (the
// freshly edited graph at the current depth): each level wraps its
// inner graph back into its enclosing parent's Subgraph node payload,
// applying transform at each step if provided, and skipping the write
// when nothing actually changed (structural fast_eq).
func (v *ViewStack) Propagate(newLeaf wfgraph.ShadowGraph, transform Transform) {
	if transform != nil {
		newLeaf = transform(newLeaf)
	}
	if len(v.path) == 0 {
		if !v.root.FastEq(newLeaf) {
			v.root = newLeaf
		}
		return
	}

	v.path[len(v.path)-1].inner = newLeaf
	cur := newLeaf
	for i := len(v.path) - 1; i >= 0; i-- {
		lvl := v.path[i]
		parent := v.root
		if i > 0 {
			parent = v.path[i-1].inner
		}
		info, ok := parent.Node(lvl.nodeID)
		if !ok {
			return
		}
		if existing, _ := info.Data["subgraph"].(wfgraph.ShadowGraph); existing.FastEq(cur) {
			// nothing changed at this level; stop propagating upward
			return
		}
		data := map[string]any{}
		for k, val := range info.Data {
			data[k] = val
		}
		data["subgraph"] = cur
		info.Data = data
		updated, err := parent.WithNode(lvl.nodeID, info)
		if err != nil {
			return
		}
		if transform != nil && i > 0 {
			updated = transform(updated)
		}
		if i == 0 {
			v.root = updated
		} else {
			v.path[i-1].inner = updated
		}
		cur = updated
	}
}

// UndoStack is an append-only, fast_eq-deduplicated stack of
// ShadowGraph snapshots with a cursor, supporting undo/redo over a
// single graph's editing history.
type UndoStack struct {
	snapshots []wfgraph.ShadowGraph
	cursor    int
}

// NewUndoStack starts a stack with one snapshot: the initial graph.
func NewUndoStack(initial wfgraph.ShadowGraph) *UndoStack {
	return &UndoStack{snapshots: []wfgraph.ShadowGraph{initial}, cursor: 0}
}

// Record appends a new snapshot if it differs (fast_eq) from the tip,
// discarding any redo history beyond the cursor.
func (u *UndoStack) Record(g wfgraph.ShadowGraph) {
	if u.snapshots[u.cursor].FastEq(g) {
		return
	}
	u.snapshots = append(u.snapshots[:u.cursor+1], g)
	u.cursor++
}

// Current returns the snapshot at the cursor.
func (u *UndoStack) Current() wfgraph.ShadowGraph { return u.snapshots[u.cursor] }

// Undo moves the cursor back one snapshot.
func (u *UndoStack) Undo() (wfgraph.ShadowGraph, error) {
	if u.cursor == 0 {
		return wfgraph.ShadowGraph{}, ErrNothingToUndo
	}
	u.cursor--
	return u.Current(), nil
}

// Redo moves the cursor forward one snapshot.
func (u *UndoStack) Redo() (wfgraph.ShadowGraph, error) {
	if u.cursor >= len(u.snapshots)-1 {
		return wfgraph.ShadowGraph{}, ErrNothingToRedo
	}
	u.cursor++
	return u.Current(), nil
}
