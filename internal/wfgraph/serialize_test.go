package wfgraph

import (
	"encoding/json"
	"testing"
)

func TestShadowGraphJSONRoundTrip(t *testing.T) {
	g := New("wf-1").WithDescription("a test graph")
	g, err := g.WithNode("n1", NodeInfo{Kind: "text", Data: map[string]any{"value": "hi"}})
	if err != nil {
		t.Fatalf("WithNode: %v", err)
	}
	g, err = g.WithWire(Wire{FromNode: "start", FromPin: 0, ToNode: "n1", ToPin: 0})
	if err != nil {
		t.Fatalf("WithWire: %v", err)
	}
	g, err = g.DisableNode("n1")
	if err != nil {
		t.Fatalf("DisableNode: %v", err)
	}

	data, err := json.Marshal(g)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var round ShadowGraph
	if err := json.Unmarshal(data, &round); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if !g.FastEq(round) {
		t.Fatal("expected round-tripped graph to be FastEq to the original")
	}
	if round.Metadata().Description != "a test graph" {
		t.Fatalf("expected description preserved, got %q", round.Metadata().Description)
	}
	if !round.IsDisabled("n1") {
		t.Fatal("expected n1 to still be disabled after round trip")
	}
}
