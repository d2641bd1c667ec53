package gitstore

import (
	"context"
	"errors"
	"testing"

	"github.com/rakunlabs/loom/internal/config"
	"github.com/rakunlabs/loom/internal/store"
	"github.com/rakunlabs/loom/internal/wfgraph"
)

func newTestStore(t *testing.T) *Git {
	t.Helper()
	g, err := New(&config.StoreGit{Path: t.TempDir(), AuthorName: "test", AuthorMail: "test@localhost"})
	if err != nil {
		t.Fatalf("new git store: %v", err)
	}
	return g
}

func TestGitPutLoadRoundTrip(t *testing.T) {
	g := newTestStore(t)
	ctx := context.Background()

	graph := wfgraph.New("wf-1").WithDescription("hello")
	if err := g.Put(ctx, "greet", graph); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := g.Load(ctx, "greet")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !got.FastEq(graph) {
		t.Fatal("expected loaded graph to match stored graph")
	}
}

func TestGitLoadUnknown(t *testing.T) {
	g := newTestStore(t)
	_, err := g.Load(context.Background(), "missing")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGitVersionsAccumulateOnChange(t *testing.T) {
	g := newTestStore(t)
	ctx := context.Background()

	graph := wfgraph.New("wf-1")
	if err := g.Put(ctx, "wf", graph); err != nil {
		t.Fatalf("put 1: %v", err)
	}
	if err := g.Put(ctx, "wf", graph); err != nil {
		t.Fatalf("put 2 (no-op): %v", err)
	}

	versions, err := g.ListVersions(ctx, "wf")
	if err != nil {
		t.Fatalf("list versions: %v", err)
	}
	if len(versions) != 1 {
		t.Fatalf("expected 1 version, got %d", len(versions))
	}

	graph2, err := graph.WithNode("n1", wfgraph.NodeInfo{Kind: "text"})
	if err != nil {
		t.Fatalf("with node: %v", err)
	}
	if err := g.Put(ctx, "wf", graph2); err != nil {
		t.Fatalf("put 3: %v", err)
	}

	versions, err = g.ListVersions(ctx, "wf")
	if err != nil {
		t.Fatalf("list versions 2: %v", err)
	}
	if len(versions) != 2 {
		t.Fatalf("expected 2 versions, got %d", len(versions))
	}
	if versions[0].Version != 2 {
		t.Fatalf("expected newest version first, got %d", versions[0].Version)
	}
}

func TestGitSetActiveVersionRollsBack(t *testing.T) {
	g := newTestStore(t)
	ctx := context.Background()

	v1 := wfgraph.New("wf-1").WithDescription("first")
	if err := g.Put(ctx, "wf", v1); err != nil {
		t.Fatalf("put v1: %v", err)
	}
	v2 := v1.WithDescription("second")
	if err := g.Put(ctx, "wf", v2); err != nil {
		t.Fatalf("put v2: %v", err)
	}

	if err := g.SetActiveVersion(ctx, "wf", 1); err != nil {
		t.Fatalf("set active version: %v", err)
	}

	got, err := g.Load(ctx, "wf")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Metadata().Description != "first" {
		t.Fatalf("expected rollback to restore description %q, got %q", "first", got.Metadata().Description)
	}
}

func TestGitNames(t *testing.T) {
	g := newTestStore(t)
	ctx := context.Background()
	_ = g.Put(ctx, "b", wfgraph.New("b"))
	_ = g.Put(ctx, "a", wfgraph.New("a"))

	names, err := g.Names(ctx)
	if err != nil {
		t.Fatalf("names: %v", err)
	}
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Fatalf("expected sorted [a b], got %v", names)
	}
}
