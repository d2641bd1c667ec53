package wfgraph_test

// External test package (not wfgraph) so it can import wfnode to exercise
// WithWire's connect-time kind check without an import cycle: wfnode
// already imports wfgraph, and wfgraph's own package (and its internal
// tests) never import wfnode back.

import (
	"errors"
	"testing"

	"github.com/rakunlabs/loom/internal/wfgraph"
	_ "github.com/rakunlabs/loom/internal/wfnode"
)

func TestWithWireRejectsIncompatibleKinds(t *testing.T) {
	g := wfgraph.New("g1")
	g, err := g.WithNode("txt", wfgraph.NodeInfo{Kind: "text"})
	if err != nil {
		t.Fatalf("with_node txt: %v", err)
	}
	finishID, ok := g.FinishNode()
	if !ok {
		t.Fatalf("expected an auto-created finish node")
	}

	_, err = g.WithWire(wfgraph.Wire{FromNode: "txt", FromPin: 0, ToNode: finishID, ToPin: 0})
	if !errors.Is(err, wfgraph.ErrWireKind) {
		t.Fatalf("expected ErrWireKind wiring Text into Finish's Chat input, got %v", err)
	}
}

func TestWithWireAcceptsCompatibleKinds(t *testing.T) {
	g := wfgraph.New("g1")
	startID, ok := g.StartNode()
	if !ok {
		t.Fatalf("expected an auto-created start node")
	}
	g, err := g.WithNode("cm", wfgraph.NodeInfo{Kind: "create_message"})
	if err != nil {
		t.Fatalf("with_node cm: %v", err)
	}

	// Start's pin 1 is Text; create_message's pin 0 requires Text.
	g2, err := g.WithWire(wfgraph.Wire{FromNode: startID, FromPin: 1, ToNode: "cm", ToPin: 0})
	if err != nil {
		t.Fatalf("unexpected error wiring Start.Text into CreateMessage.role: %v", err)
	}
	if len(g2.Wires()) != 1 {
		t.Fatalf("expected the compatible wire to be recorded, got %+v", g2.Wires())
	}
}
