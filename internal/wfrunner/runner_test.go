package wfrunner

import (
	"context"
	"testing"
	"sync/atomic"

	"github.com/rakunlabs/loom/internal/chathistory"
	"github.com/rakunlabs/loom/internal/wfexternal"
	"github.com/rakunlabs/loom/internal/wfgraph"
)

func newTestRunContext() *wfexternal.RunContext {
	h := chathistory.New()
	return &wfexternal.RunContext{
		History:   &h,
		Root:      wfexternal.RootContext{History: chathistory.New(), Model: "m"},
		Interrupt: &atomic.Bool{},
	}
}

func TestEmptyGraphRunsToCompletionInTwoSteps(t *testing.T) {
	g := wfgraph.New("g1")
	r, err := New(g)
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	rc := newTestRunContext()

	steps := 0
	for {
		progressed, err := r.step(context.Background(), rc)
		if err != nil {
			t.Fatalf("step: %v", err)
		}
		if !progressed {
			break
		}
		steps++
	}
	if steps != 2 {
		t.Fatalf("expected 2 steps (start, finish), got %d", steps)
	}
	startID, _ := g.StartNode()
	finishID, _ := g.FinishNode()
	if r.State(startID) != StateDone || r.State(finishID) != StateDone {
		t.Fatalf("expected start and finish both Done, got %v %v", r.State(startID), r.State(finishID))
	}
}

func TestDisablePropagation(t *testing.T) {
	g := wfgraph.New("g1")

	// demote is identity-on-JSON in both directions, so chaining it three
	// deep keeps every wire pin-kind compatible while still exercising
	// disable propagation end to end.
	g, err := g.WithNode("a", wfgraph.NodeInfo{Kind: "demote", Data: map[string]any{}})
	if err != nil {
		t.Fatalf("with_node a: %v", err)
	}
	g, err = g.WithNode("b", wfgraph.NodeInfo{Kind: "demote", Data: map[string]any{}})
	if err != nil {
		t.Fatalf("with_node b: %v", err)
	}
	g, err = g.WithWire(wfgraph.Wire{FromNode: "a", FromPin: 0, ToNode: "b", ToPin: 0})
	if err != nil {
		t.Fatalf("wire a->b: %v", err)
	}
	g, err = g.WithNode("c", wfgraph.NodeInfo{Kind: "demote", Data: map[string]any{}})
	if err != nil {
		t.Fatalf("with_node c: %v", err)
	}
	g, err = g.WithWire(wfgraph.Wire{FromNode: "b", FromPin: 0, ToNode: "c", ToPin: 0})
	if err != nil {
		t.Fatalf("wire b->c: %v", err)
	}
	g, err = g.DisableNode("b")
	if err != nil {
		t.Fatalf("disable b: %v", err)
	}

	r, err := New(g)
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	rc := newTestRunContext()
	if err := r.Run(context.Background(), rc); err != nil {
		t.Fatalf("run: %v", err)
	}
	if r.State("a") != StateDone {
		t.Fatalf("expected a Done, got %v", r.State("a"))
	}
	if r.State("b") != StateDisabled {
		t.Fatalf("expected b Disabled, got %v", r.State("b"))
	}
	if r.State("c") != StateDisabled {
		t.Fatalf("expected c Disabled by propagation, got %v", r.State("c"))
	}
}

func TestFinishWritesHistoryWhenSubset(t *testing.T) {
	g := wfgraph.New("g1")
	startID, _ := g.StartNode()
	finishID, _ := g.FinishNode()
	g, err := g.WithWire(wfgraph.Wire{FromNode: startID, FromPin: 0, ToNode: finishID, ToPin: 0})
	if err != nil {
		t.Fatalf("wire start->finish: %v", err)
	}

	r, err := New(g)
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	rc := newTestRunContext()
	history, _ := rc.Root.History.Push(chathistory.Content{Kind: chathistory.ContentMessage, Message: chathistory.Message{Role: "user", Payload: "hi"}}, "")
	rc.Root.History = history

	if err := r.Run(context.Background(), rc); err != nil {
		t.Fatalf("run: %v", err)
	}
	if rc.History.Head() == "" {
		t.Fatalf("expected finish to have written session history")
	}
}
