// Package wfgraph implements the persistent, copy-on-write node/wire
// graph that an editor mutates and the Runner executes: ShadowGraph.
// Structural shape (node/edge/position fields) is grounded on the
// teacher's service.WorkflowGraph/WorkflowNode/WorkflowEdge; cycle
// rejection follows internal/service/workflow/engine.go's BFS-style
// reachability checks.
package wfgraph

import (
	"errors"
	"fmt"

	"github.com/rakunlabs/loom/internal/wfvalue"
)

var (
	ErrUnknownNode     = errors.New("wfgraph: unknown node")
	ErrProtectedNode   = errors.New("wfgraph: node is protected")
	ErrCycle           = errors.New("wfgraph: wire would create a cycle")
	ErrWireKind        = errors.New("wfgraph: incompatible wire kinds")
	ErrDuplicateSingle = errors.New("wfgraph: protected node kind already present")
)

// Pos is the x/y editor position of a node. Purely cosmetic; carried so
// round-tripping a persisted workflow file reproduces layout exactly.
type Pos struct {
	X float64
	Y float64
}

// NodeInfo is a node's payload: its kind string (resolved through the
// wfnode catalog), editor position, open/collapsed flag, and
// kind-specific configuration data.
type NodeInfo struct {
	Kind     string
	Pos      Pos
	Open     bool
	Data     map[string]any
	ParentID string // optional editor grouping, cosmetic only
}

// Wire is a directed edge between two pins, addressed as
// (node id, pin index).
type Wire struct {
	FromNode string
	FromPin  int
	ToNode   string
	ToPin    int
}

// Metadata holds ShadowGraph-level, non-structural attributes.
type Metadata struct {
	Description string
	Schema      map[string]any
	Chain       []string // chain-of-workflow names, for Subgraph-by-reference bookkeeping
}

// ShadowGraph is a persistent node/wire/disabled-set view of a workflow.
// All structural mutators return a new ShadowGraph that shares unchanged
// substructure with the receiver (shallow-copy-on-write over Go maps;
// see DESIGN.md for why this stands in for a HAMT/immutable B-tree).
type ShadowGraph struct {
	UUID     string
	nodes    map[string]NodeInfo
	wires    []Wire
	disabled map[string]struct{}
	meta     Metadata
}

// ProtectedKind reports whether a node kind is a protected singleton
// (Start, Finish) that may not be removed or disabled (I3).
func ProtectedKind(kind string) bool {
	return kind == "start" || kind == "finish"
}

// New returns an empty graph with freshly minted Start and Finish nodes,
// matching the editor's auto-created scaffold.
func New(uuid string) ShadowGraph {
	g := ShadowGraph{
		UUID:     uuid,
		nodes:    map[string]NodeInfo{},
		disabled: map[string]struct{}{},
	}
	g.nodes["start"] = NodeInfo{Kind: "start", Data: map[string]any{}}
	g.nodes["finish"] = NodeInfo{Kind: "finish", Data: map[string]any{}}
	return g
}

func (g ShadowGraph) clone() ShadowGraph {
	nodes := make(map[string]NodeInfo, len(g.nodes))
	for k, v := range g.nodes {
		nodes[k] = v
	}
	disabled := make(map[string]struct{}, len(g.disabled))
	for k := range g.disabled {
		disabled[k] = struct{}{}
	}
	wires := make([]Wire, len(g.wires))
	copy(wires, g.wires)
	g.nodes, g.disabled, g.wires = nodes, disabled, wires
	return g
}

func (g ShadowGraph) Node(id string) (NodeInfo, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

func (g ShadowGraph) Nodes() map[string]NodeInfo {
	out := make(map[string]NodeInfo, len(g.nodes))
	for k, v := range g.nodes {
		out[k] = v
	}
	return out
}

func (g ShadowGraph) Wires() []Wire { return append([]Wire(nil), g.wires...) }

func (g ShadowGraph) IsDisabled(id string) bool {
	_, ok := g.disabled[id]
	return ok
}

func (g ShadowGraph) Disabled() map[string]struct{} {
	out := make(map[string]struct{}, len(g.disabled))
	for k := range g.disabled {
		out[k] = struct{}{}
	}
	return out
}

func (g ShadowGraph) Metadata() Metadata { return g.meta }

// WithNode inserts or replaces a node's info.
func (g ShadowGraph) WithNode(id string, info NodeInfo) (ShadowGraph, error) {
	if ProtectedKind(info.Kind) {
		for existingID, existing := range g.nodes {
			if existing.Kind == info.Kind && existingID != id {
				return g, fmt.Errorf("%w: %s", ErrDuplicateSingle, info.Kind)
			}
		}
	}
	n := g.clone()
	n.nodes[id] = info
	return n, nil
}

// WithoutNode removes a node along with its incident wires and any
// disabled-set entry (I1, I2 maintained by construction).
func (g ShadowGraph) WithoutNode(id string) (ShadowGraph, error) {
	info, ok := g.nodes[id]
	if !ok {
		return g, fmt.Errorf("%w: %s", ErrUnknownNode, id)
	}
	if ProtectedKind(info.Kind) {
		return g, fmt.Errorf("%w: %s", ErrProtectedNode, id)
	}
	n := g.clone()
	delete(n.nodes, id)
	delete(n.disabled, id)
	filtered := n.wires[:0]
	for _, w := range n.wires {
		if w.FromNode == id || w.ToNode == id {
			continue
		}
		filtered = append(filtered, w)
	}
	n.wires = filtered
	return n, nil
}

// PinKindLookup resolves a node's declared output-kind function and
// accepted-input-kinds function from its NodeInfo. Set by the wfnode
// catalog's init() (wfnode already imports wfgraph for NodeInfo/Wire, so
// the reverse import would cycle; see wfnode.RunSubgraph in
// internal/wfnode, set by internal/wfrunner's init(), for the same
// injection pattern used the other way around). nil only if a caller builds a ShadowGraph without ever
// linking wfnode in, which no production binary does.
var PinKindLookup func(info NodeInfo) (outKind func(pin int) wfvalue.Kind, inKinds func(pin int) []wfvalue.Kind, err error)

// WithWire adds a wire after checking both endpoints exist (I1), that the
// source's out-kind is accepted by the target's in-kind set (ii, §4.1),
// and that the insertion would not create a cycle (I4).
func (g ShadowGraph) WithWire(w Wire) (ShadowGraph, error) {
	fromInfo, ok := g.nodes[w.FromNode]
	if !ok {
		return g, fmt.Errorf("%w: %s", ErrUnknownNode, w.FromNode)
	}
	toInfo, ok := g.nodes[w.ToNode]
	if !ok {
		return g, fmt.Errorf("%w: %s", ErrUnknownNode, w.ToNode)
	}
	if err := checkWireKind(fromInfo, w.FromPin, toInfo, w.ToPin); err != nil {
		return g, err
	}
	if g.wouldCycle(w) {
		return g, ErrCycle
	}
	n := g.clone()
	n.wires = append(n.wires, w)
	return n, nil
}

// checkWireKind enforces spec.md §3 invariant (ii) and §4.1's "kind_compatible
// ... underlies every connect attempt; incompatibility fails with WireKind".
// A nil PinKindLookup (wfnode not linked in) skips the check rather than
// panicking.
func checkWireKind(from NodeInfo, fromPin int, to NodeInfo, toPin int) error {
	if PinKindLookup == nil {
		return nil
	}
	outKind, _, err := PinKindLookup(from)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWireKind, err)
	}
	_, inKinds, err := PinKindLookup(to)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWireKind, err)
	}
	if !KindCompatible(outKind(fromPin), inKinds(toPin)) {
		return ErrWireKind
	}
	return nil
}

// wouldCycle runs a forward BFS from the candidate wire's target looking
// for a path back to its source (spec §9: "a single forward BFS ...
// suffices").
func (g ShadowGraph) wouldCycle(w Wire) bool {
	if w.FromNode == w.ToNode {
		return true
	}
	visited := map[string]struct{}{w.ToNode: {}}
	queue := []string{w.ToNode}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur == w.FromNode {
			return true
		}
		for _, wire := range g.wires {
			if wire.FromNode != cur {
				continue
			}
			if _, ok := visited[wire.ToNode]; ok {
				continue
			}
			visited[wire.ToNode] = struct{}{}
			queue = append(queue, wire.ToNode)
		}
	}
	return false
}

// WithoutWire removes the first wire matching exactly.
func (g ShadowGraph) WithoutWire(w Wire) ShadowGraph {
	n := g.clone()
	out := n.wires[:0]
	removed := false
	for _, existing := range n.wires {
		if !removed && existing == w {
			removed = true
			continue
		}
		out = append(out, existing)
	}
	n.wires = out
	return n
}

// DropInputs removes every wire feeding the given input pin.
func (g ShadowGraph) DropInputs(nodeID string, pin int) ShadowGraph {
	n := g.clone()
	out := n.wires[:0]
	for _, w := range n.wires {
		if w.ToNode == nodeID && w.ToPin == pin {
			continue
		}
		out = append(out, w)
	}
	n.wires = out
	return n
}

// DropOutputs removes every wire originating at the given output pin.
func (g ShadowGraph) DropOutputs(nodeID string, pin int) ShadowGraph {
	n := g.clone()
	out := n.wires[:0]
	for _, w := range n.wires {
		if w.FromNode == nodeID && w.FromPin == pin {
			continue
		}
		out = append(out, w)
	}
	n.wires = out
	return n
}

func (g ShadowGraph) EnableNode(id string) (ShadowGraph, error) {
	if info, ok := g.nodes[id]; ok && ProtectedKind(info.Kind) {
		return g, fmt.Errorf("%w: %s", ErrProtectedNode, id)
	}
	n := g.clone()
	delete(n.disabled, id)
	return n, nil
}

func (g ShadowGraph) DisableNode(id string) (ShadowGraph, error) {
	info, ok := g.nodes[id]
	if !ok {
		return g, fmt.Errorf("%w: %s", ErrUnknownNode, id)
	}
	if ProtectedKind(info.Kind) {
		return g, fmt.Errorf("%w: %s", ErrProtectedNode, id)
	}
	n := g.clone()
	n.disabled[id] = struct{}{}
	return n, nil
}

func (g ShadowGraph) WithDescription(desc string) ShadowGraph {
	g.meta.Description = desc
	return g
}

func (g ShadowGraph) WithSchema(schema map[string]any) ShadowGraph {
	g.meta.Schema = schema
	return g
}

func (g ShadowGraph) WithChain(name string) ShadowGraph {
	g.meta.Chain = append(append([]string{}, g.meta.Chain...), name)
	return g
}

func (g ShadowGraph) WithoutChain(name string) ShadowGraph {
	out := make([]string, 0, len(g.meta.Chain))
	for _, n := range g.meta.Chain {
		if n != name {
			out = append(out, n)
		}
	}
	g.meta.Chain = out
	return g
}

// StartNode locates the singleton Start node.
func (g ShadowGraph) StartNode() (string, bool) { return g.findSingleton("start") }

// FinishNode locates the singleton Finish node.
func (g ShadowGraph) FinishNode() (string, bool) { return g.findSingleton("finish") }

func (g ShadowGraph) findSingleton(kind string) (string, bool) {
	for id, info := range g.nodes {
		if info.Kind == kind {
			return id, true
		}
	}
	return "", false
}

// FastEq is a cheap structural-identity check: it compares UUID, node
// count, wire count, and disabled-set size first, so unrelated graphs
// short-circuit quickly, then each node's id and Kind, the disabled set,
// and the wire multiset. A node's Data, Pos, Open and ParentID and the
// graph's Metadata are not compared: graphs that differ only there are
// reported equal.
func (g ShadowGraph) FastEq(other ShadowGraph) bool {
	if g.UUID != other.UUID {
		return false
	}
	if len(g.nodes) != len(other.nodes) || len(g.wires) != len(other.wires) || len(g.disabled) != len(other.disabled) {
		return false
	}
	for id, info := range g.nodes {
		oinfo, ok := other.nodes[id]
		if !ok || oinfo.Kind != info.Kind {
			return false
		}
	}
	for id := range g.disabled {
		if _, ok := other.disabled[id]; !ok {
			return false
		}
	}
	wireSet := make(map[Wire]int, len(g.wires))
	for _, w := range g.wires {
		wireSet[w]++
	}
	for _, w := range other.wires {
		wireSet[w]--
	}
	for _, count := range wireSet {
		if count != 0 {
			return false
		}
	}
	return true
}

// ValidateInvariants checks I1-I4 against the current wire set, useful
// for tests and for re-validating after a batch of mutations.
func (g ShadowGraph) ValidateInvariants() error {
	for _, w := range g.wires {
		if _, ok := g.nodes[w.FromNode]; !ok {
			return fmt.Errorf("%w: wire source %s", ErrUnknownNode, w.FromNode)
		}
		if _, ok := g.nodes[w.ToNode]; !ok {
			return fmt.Errorf("%w: wire target %s", ErrUnknownNode, w.ToNode)
		}
	}
	for id := range g.disabled {
		if _, ok := g.nodes[id]; !ok {
			return fmt.Errorf("%w: disabled entry %s", ErrUnknownNode, id)
		}
	}
	seenStart, seenFinish := 0, 0
	for _, info := range g.nodes {
		if info.Kind == "start" {
			seenStart++
		}
		if info.Kind == "finish" {
			seenFinish++
		}
	}
	if seenStart > 1 || seenFinish > 1 {
		return ErrDuplicateSingle
	}
	return g.checkAcyclic()
}

func (g ShadowGraph) checkAcyclic() error {
	indegree := map[string]int{}
	adj := map[string][]string{}
	for id := range g.nodes {
		indegree[id] = 0
	}
	for _, w := range g.wires {
		adj[w.FromNode] = append(adj[w.FromNode], w.ToNode)
		indegree[w.ToNode]++
	}
	var queue []string
	for id, d := range indegree {
		if d == 0 {
			queue = append(queue, id)
		}
	}
	visited := 0
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		visited++
		for _, next := range adj[cur] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	if visited != len(g.nodes) {
		return ErrCycle
	}
	return nil
}

// KindCompatible re-exports wfvalue.KindCompatible so callers that only
// import wfgraph for wire validation don't need a second import.
func KindCompatible(producer wfvalue.Kind, accepted []wfvalue.Kind) bool {
	return wfvalue.KindCompatible(producer, accepted)
}
