package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/rakunlabs/loom/internal/store"
	"github.com/rakunlabs/loom/internal/wfgraph"
)

func TestPutLoadRoundTrip(t *testing.T) {
	m := New()
	ctx := context.Background()

	g := wfgraph.New("wf-1").WithDescription("hello world")
	if err := m.Put(ctx, "greet", g); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := m.Load(ctx, "greet")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !got.FastEq(g) {
		t.Fatal("expected loaded graph to match stored graph")
	}

	desc, err := m.Description(ctx, "greet")
	if err != nil {
		t.Fatalf("description: %v", err)
	}
	if desc != "hello world" {
		t.Fatalf("expected description %q, got %q", "hello world", desc)
	}
}

func TestLoadUnknownReturnsNotFound(t *testing.T) {
	m := New()
	_, err := m.Load(context.Background(), "missing")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPutCreatesVersionOnlyOnChange(t *testing.T) {
	m := New()
	ctx := context.Background()

	g := wfgraph.New("wf-1")
	if err := m.Put(ctx, "wf", g); err != nil {
		t.Fatalf("put 1: %v", err)
	}
	if err := m.Put(ctx, "wf", g); err != nil {
		t.Fatalf("put 2 (no-op): %v", err)
	}

	versions, err := m.ListVersions(ctx, "wf")
	if err != nil {
		t.Fatalf("list versions: %v", err)
	}
	if len(versions) != 1 {
		t.Fatalf("expected 1 version after an identical Put, got %d", len(versions))
	}

	g2, err := g.WithNode("n1", wfgraph.NodeInfo{Kind: "text"})
	if err != nil {
		t.Fatalf("with node: %v", err)
	}
	if err := m.Put(ctx, "wf", g2); err != nil {
		t.Fatalf("put 3 (structural change): %v", err)
	}

	versions, err = m.ListVersions(ctx, "wf")
	if err != nil {
		t.Fatalf("list versions 2: %v", err)
	}
	if len(versions) != 2 {
		t.Fatalf("expected 2 versions after a structural change, got %d", len(versions))
	}
	if versions[0].Version != 2 {
		t.Fatalf("expected latest version first, got %d", versions[0].Version)
	}
}

func TestSetActiveVersion(t *testing.T) {
	m := New()
	ctx := context.Background()

	g1 := wfgraph.New("wf-1")
	if err := m.Put(ctx, "wf", g1); err != nil {
		t.Fatalf("put 1: %v", err)
	}
	g2, _ := g1.WithNode("n1", wfgraph.NodeInfo{Kind: "text"})
	if err := m.Put(ctx, "wf", g2); err != nil {
		t.Fatalf("put 2: %v", err)
	}

	if err := m.SetActiveVersion(ctx, "wf", 1); err != nil {
		t.Fatalf("set active: %v", err)
	}
	active, err := m.ActiveVersion(ctx, "wf")
	if err != nil {
		t.Fatalf("active version: %v", err)
	}
	if active != 1 {
		t.Fatalf("expected active version 1, got %d", active)
	}

	loaded, err := m.Load(ctx, "wf")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !loaded.FastEq(g1) {
		t.Fatal("expected Load to reflect the newly activated version's graph")
	}
}

func TestNames(t *testing.T) {
	m := New()
	ctx := context.Background()
	_ = m.Put(ctx, "b", wfgraph.New("b"))
	_ = m.Put(ctx, "a", wfgraph.New("a"))

	names, err := m.Names(ctx)
	if err != nil {
		t.Fatalf("names: %v", err)
	}
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Fatalf("expected sorted [a b], got %v", names)
	}
}

func TestRemove(t *testing.T) {
	m := New()
	ctx := context.Background()
	_ = m.Put(ctx, "wf", wfgraph.New("wf"))
	if err := m.Remove(ctx, "wf"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := m.Load(ctx, "wf"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after remove, got %v", err)
	}
}
