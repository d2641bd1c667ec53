package sqlite3

import (
	"context"
	"errors"
	"testing"

	"github.com/rakunlabs/loom/internal/config"
	"github.com/rakunlabs/loom/internal/store"
	"github.com/rakunlabs/loom/internal/wfgraph"
)

func newTestStore(t *testing.T) *SQLite {
	t.Helper()
	s, err := New(context.Background(), &config.StoreSQLite{Datasource: ":memory:"})
	if err != nil {
		t.Fatalf("new sqlite store: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func TestSQLitePutLoadRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	g := wfgraph.New("wf-1").WithDescription("hello")
	if err := s.Put(ctx, "greet", g); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := s.Load(ctx, "greet")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !got.FastEq(g) {
		t.Fatal("expected loaded graph to match stored graph")
	}
}

func TestSQLiteLoadUnknown(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Load(context.Background(), "missing")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLiteVersionsOnChange(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	g := wfgraph.New("wf-1")
	if err := s.Put(ctx, "wf", g); err != nil {
		t.Fatalf("put 1: %v", err)
	}
	if err := s.Put(ctx, "wf", g); err != nil {
		t.Fatalf("put 2 (no-op): %v", err)
	}

	versions, err := s.ListVersions(ctx, "wf")
	if err != nil {
		t.Fatalf("list versions: %v", err)
	}
	if len(versions) != 1 {
		t.Fatalf("expected 1 version, got %d", len(versions))
	}

	g2, err := g.WithNode("n1", wfgraph.NodeInfo{Kind: "text"})
	if err != nil {
		t.Fatalf("with node: %v", err)
	}
	if err := s.Put(ctx, "wf", g2); err != nil {
		t.Fatalf("put 3: %v", err)
	}

	versions, err = s.ListVersions(ctx, "wf")
	if err != nil {
		t.Fatalf("list versions 2: %v", err)
	}
	if len(versions) != 2 {
		t.Fatalf("expected 2 versions, got %d", len(versions))
	}
}

func TestSQLiteNames(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_ = s.Put(ctx, "b", wfgraph.New("b"))
	_ = s.Put(ctx, "a", wfgraph.New("a"))

	names, err := s.Names(ctx)
	if err != nil {
		t.Fatalf("names: %v", err)
	}
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Fatalf("expected sorted [a b], got %v", names)
	}
}
