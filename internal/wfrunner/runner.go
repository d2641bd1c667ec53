// Package wfrunner implements the priority-ordered, single-threaded
// cooperative scheduler (the Runner) that drives a ShadowGraph to
// completion: dependency tracking, a readiness queue, disable
// propagation, failure/Fallback routing, and cancellation. Grounded on
// the teacher's internal/service/workflow/engine.go topological
// executor, generalized from its dynamic named-port model to this
// engine's fixed-arity kind-typed pins.
package wfrunner

import (
	"container/heap"
	"context"
	"errors"
	"fmt"

	"github.com/rakunlabs/loom/internal/wfexternal"
	"github.com/rakunlabs/loom/internal/wfgraph"
	"github.com/rakunlabs/loom/internal/wfnode"
	"github.com/rakunlabs/loom/internal/wfvalue"
)

func init() {
	wfnode.RunSubgraph = runSubgraph
}

// ExecState is a node's lifecycle stage within one run.
type ExecState int

const (
	StateWaiting ExecState = iota
	StateReady
	StateRunning
	StateDone
	StateDisabled
	StateFailed
)

// ErrInterrupted is returned by Run when the run was cancelled via
// RunContext.Interrupt before reaching completion.
var ErrInterrupted = errors.New("wfrunner: run interrupted")

type depSource struct {
	node string
	pin  int
}

// Runner drives one ShadowGraph to completion. Not safe for concurrent
// use from multiple goroutines; the graph it owns executes one node at
// a time (spec §5 "single-threaded cooperative").
type Runner struct {
	graph wfgraph.ShadowGraph
	nodes map[string]wfnode.Noder

	successors   map[string][]string
	dependencies map[string][]depSource // indexed by input pin
	waiting      map[string]map[string]struct{}
	state        map[string]ExecState
	outputs      map[string][]wfvalue.Value
	failures     map[string]error
	connectedOut map[string]map[int]struct{} // node -> set of output pins with at least one wire

	ready   *readyQueue
	counter int
}

// New builds a Runner over g, constructing every node via the catalog
// and computing initial ExecState per node per spec §4.5
// "Initialisation".
func New(g wfgraph.ShadowGraph) (*Runner, error) {
	r := &Runner{
		graph:        g,
		nodes:        map[string]wfnode.Noder{},
		successors:   map[string][]string{},
		dependencies: map[string][]depSource{},
		waiting:      map[string]map[string]struct{}{},
		state:        map[string]ExecState{},
		outputs:      map[string][]wfvalue.Value{},
		failures:     map[string]error{},
		connectedOut: map[string]map[int]struct{}{},
		ready:        newReadyQueue(),
	}

	for id, info := range g.Nodes() {
		n, err := wfnode.Build(info)
		if err != nil {
			return nil, fmt.Errorf("build node %s: %w", id, err)
		}
		r.nodes[id] = n
		r.dependencies[id] = make([]depSource, n.Inputs())
	}

	for _, w := range g.Wires() {
		r.successors[w.FromNode] = append(r.successors[w.FromNode], w.ToNode)
		if deps, ok := r.dependencies[w.ToNode]; ok && w.ToPin < len(deps) {
			deps[w.ToPin] = depSource{node: w.FromNode, pin: w.FromPin}
		}
		if r.connectedOut[w.FromNode] == nil {
			r.connectedOut[w.FromNode] = map[int]struct{}{}
		}
		r.connectedOut[w.FromNode][w.FromPin] = struct{}{}
	}

	for id := range r.nodes {
		preds := map[string]struct{}{}
		for _, src := range r.dependencies[id] {
			if src.node != "" {
				preds[src.node] = struct{}{}
			}
		}
		r.waiting[id] = preds
		switch {
		case g.IsDisabled(id):
			r.state[id] = StateDisabled
		case len(preds) == 0:
			r.state[id] = StateReady
			r.enqueue(id)
		default:
			r.state[id] = StateWaiting
		}
	}

	// A directly-disabled node never executes, so it never reaches
	// advance() through the normal step() path; propagate its disabled
	// status forward now so waiting successors with no other live
	// predecessor are themselves marked Disabled up front.
	for id, state := range r.state {
		if state == StateDisabled {
			r.advance(id)
		}
	}

	return r, nil
}

func (r *Runner) enqueue(id string) {
	r.counter++
	heap.Push(r.ready, &readyItem{id: id, priority: r.nodes[id].Priority(), seq: r.counter})
}

// State reports a node's current ExecState, for inspection/testing.
func (r *Runner) State(id string) ExecState { return r.state[id] }

// Outputs returns a completed node's output values.
func (r *Runner) Outputs(id string) []wfvalue.Value { return r.outputs[id] }

// Run steps the scheduler to completion (or interruption/fatal error).
func (r *Runner) Run(ctx context.Context, rc *wfexternal.RunContext) error {
	for {
		progressed, err := r.step(ctx, rc)
		if err != nil {
			return err
		}
		if !progressed {
			return nil
		}
		if rc.Interrupted() {
			return ErrInterrupted
		}
	}
}

// step pops the highest-priority Ready node, executes it, and advances
// dependents, per spec §4.5 "Step semantics" points 1-5. Returns
// progressed=false when the ready queue is empty (Done, no progress).
func (r *Runner) step(ctx context.Context, rc *wfexternal.RunContext) (bool, error) {
	if r.ready.Len() == 0 {
		return false, nil
	}
	item := heap.Pop(r.ready).(*readyItem)
	id := item.id
	n := r.nodes[id]

	inputs := make([]wfvalue.Value, n.Inputs())
	for pin, src := range r.dependencies[id] {
		if src.node == "" {
			inputs[pin] = wfvalue.Placeholder(firstKind(n.InKinds(pin)))
			continue
		}
		if r.state[src.node] != StateDone {
			return false, fmt.Errorf("wfrunner: scheduler invariant violated: %s not done feeding %s", src.node, id)
		}
		vals := r.outputs[src.node]
		if src.pin < len(vals) {
			inputs[pin] = vals[src.pin]
		}
	}

	r.state[id] = StateRunning
	if err := n.Validate(ctx, rc, inputs); err != nil {
		return r.fail(id, n, err)
	}
	rc.Graph = r.graph
	out, err := n.Execute(ctx, rc, inputs)
	if err != nil {
		return r.fail(id, n, err)
	}

	r.state[id] = StateDone
	r.outputs[id] = out
	r.advance(id)
	return true, nil
}

// fail handles an Execute/Validate error per spec §4.5 point 5: a
// recoverable error on a node whose failure pin is wired becomes a
// Failure value on that pin; otherwise the node is marked Failed and the
// run aborts, after cascading Failed to its successors when the error is
// recoverable.
func (r *Runner) fail(id string, n wfnode.Noder, err error) (bool, error) {
	var werr *wfnode.WorkflowError
	if !errors.As(err, &werr) {
		werr = wfnode.NewError(wfnode.ErrUnknown, id, err)
	}

	// Only treat the failure as a caught value if the node's failure pin
	// is actually wired to something; an unwired failure pin must still
	// propagate per spec §4.5 point 5 ("If the node has a Failure output
	// and that output is connected...").
	if pin, ok := n.FailurePin(); ok && werr.Recoverable() && r.pinConnected(id, pin) {
		out := wfnode.Placeholders(n)
		out[pin] = wfvalue.Failure(werr)
		r.state[id] = StateDone
		r.outputs[id] = out
		r.advance(id)
		return true, nil
	}

	r.state[id] = StateFailed
	r.failures[id] = werr
	if !werr.Recoverable() {
		return false, werr
	}
	return false, r.cascade(id, werr)
}

// cascade marks every transitive successor of a failed node Failed too
// (CascadedFrom), skipping Fallback nodes and not walking past them, and
// returns an error that aborts the run. A Fallback downstream does not
// recover the failure: the run stops whether or not one is present.
func (r *Runner) cascade(id string, cause *wfnode.WorkflowError) error {
	seen := map[string]struct{}{id: {}}
	queue := append([]string{}, r.successors[id]...)
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if _, ok := seen[cur]; ok {
			continue
		}
		seen[cur] = struct{}{}
		if _, ok := r.nodes[cur]; !ok {
			continue
		}
		if r.nodes[cur].Kind() == "fallback" {
			continue
		}
		r.state[cur] = StateFailed
		r.failures[cur] = wfnode.NewError(wfnode.ErrCascadedFrom, cur, fmt.Errorf("upstream %s failed: %w", id, cause))
		queue = append(queue, r.successors[cur]...)
	}
	return fmt.Errorf("wfrunner: run aborted, node %s: %w", id, cause)
}

// advance removes the just-finished node from each successor's waiting
// set, enqueuing successors whose waiting set has emptied, and applies
// disable propagation: a waiting node whose remaining predecessors are
// all Disabled transitions to Disabled itself rather than Ready (spec
// §4.5 "Disabled propagation").
func (r *Runner) advance(id string) {
	for _, s := range r.successors[id] {
		preds, ok := r.waiting[s]
		if !ok {
			continue
		}
		delete(preds, id)
		if len(preds) > 0 {
			continue
		}
		if r.state[s] != StateWaiting {
			continue
		}
		if r.allPredecessorsDisabled(s) {
			r.state[s] = StateDisabled
			r.advance(s)
			continue
		}
		r.state[s] = StateReady
		r.enqueue(s)
	}
}

// pinConnected reports whether node's output pin has at least one
// outgoing wire, per spec §4.5's "output is connected" condition on the
// Fallback-catch path.
func (r *Runner) pinConnected(node string, pin int) bool {
	pins, ok := r.connectedOut[node]
	if !ok {
		return false
	}
	_, ok = pins[pin]
	return ok
}

func firstKind(kinds []wfvalue.Kind) wfvalue.Kind {
	if len(kinds) == 0 {
		return wfvalue.KindPlaceholder
	}
	return kinds[0]
}

func (r *Runner) allPredecessorsDisabled(id string) bool {
	any := false
	for _, src := range r.dependencies[id] {
		if src.node == "" {
			continue
		}
		any = true
		if r.state[src.node] != StateDisabled {
			return false
		}
	}
	return any
}

// runSubgraph constructs a nested Runner over inner, seeds a RootContext
// from the caller's Subgraph inputs, runs it to completion sharing the
// parent's interrupt flag, and maps Finish's received chat onto the
// Subgraph node's single output (spec §4.5 "Subgraph execution").
func runSubgraph(ctx context.Context, parent *wfexternal.RunContext, inner wfgraph.ShadowGraph, inputs []wfvalue.Value) ([]wfvalue.Value, error) {
	nested, err := New(inner)
	if err != nil {
		return nil, wfnode.NewError(wfnode.ErrUnknown, "subgraph", err)
	}

	root := parent.Root
	if len(inputs) > 1 {
		if text, ok := inputs[1].AsText(); ok {
			root.UserPrompt = text
		}
	}
	if len(inputs) > 2 {
		if model, ok := inputs[2].AsModel(); ok {
			root.Model = model
		}
	}
	if len(inputs) > 3 {
		if temp, ok := inputs[3].AsNumber(); ok {
			root.Temperature = &temp
		}
	}

	nestedHistory := *parent.History
	childRC := &wfexternal.RunContext{
		AgentFactory: parent.AgentFactory,
		Toolbox:      parent.Toolbox,
		Transmuter:   parent.Transmuter,
		History:      &nestedHistory,
		Root:         root,
		Outputs:      parent.Outputs,
		Interrupt:    parent.Interrupt,
		Errors:       parent.Errors,
		Scratch:      parent.Scratch,
		Streaming:    parent.Streaming,
		Graph:        inner,
	}

	if err := nested.Run(ctx, childRC); err != nil {
		return nil, err
	}

	finishID, ok := inner.FinishNode()
	if !ok {
		return []wfvalue.Value{wfvalue.Placeholder(wfvalue.KindChat)}, nil
	}
	// Finish itself has no outputs; the subgraph's result is the chat
	// value it received on its single input pin.
	if deps := nested.dependencies[finishID]; len(deps) > 0 && deps[0].node != "" {
		vals := nested.outputs[deps[0].node]
		if deps[0].pin < len(vals) {
			return []wfvalue.Value{vals[deps[0].pin]}, nil
		}
	}
	return []wfvalue.Value{wfvalue.Placeholder(wfvalue.KindChat)}, nil
}
