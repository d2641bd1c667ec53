// Package memory is an in-memory WorkflowStore. Data does not survive
// process restarts; grounded on the teacher's internal/store/memory,
// keyed by workflow name (per wfexternal.WorkflowStore) rather than by
// a separately minted id, and carrying version history the same way
// the teacher's workflowVersions map does (append-to-front, desc order).
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/rakunlabs/loom/internal/store"
	"github.com/rakunlabs/loom/internal/wfexternal"
	"github.com/rakunlabs/loom/internal/wfgraph"
)

type record struct {
	graph         wfgraph.ShadowGraph
	description   string
	versions      []store.WorkflowVersion // desc order, index 0 = latest
	activeVersion int
}

// Memory is an in-memory implementation of wfexternal.WorkflowStore and
// store.WorkflowVersionStore.
type Memory struct {
	mu        sync.RWMutex
	workflows map[string]*record
}

func New() *Memory {
	slog.Info("using in-memory workflow store (data will not persist across restarts)")
	return &Memory{workflows: make(map[string]*record)}
}

var (
	_ wfexternal.WorkflowStore   = (*Memory)(nil)
	_ store.WorkflowVersionStore = (*Memory)(nil)
)

func (m *Memory) Load(_ context.Context, name string) (wfgraph.ShadowGraph, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.workflows[name]
	if !ok {
		return wfgraph.ShadowGraph{}, fmt.Errorf("%w: workflow %q", store.ErrNotFound, name)
	}
	return rec.graph, nil
}

// Put stores name's graph, creating a new immutable version whenever the
// graph's structural identity (FastEq) actually changed.
func (m *Memory) Put(_ context.Context, name string, graph wfgraph.ShadowGraph) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.workflows[name]
	if !ok {
		rec = &record{}
		m.workflows[name] = rec
	}

	changed := !ok || !rec.graph.FastEq(graph)
	rec.graph = graph
	rec.description = graph.Metadata().Description

	if changed {
		nextVersion := 1
		if len(rec.versions) > 0 {
			nextVersion = rec.versions[0].Version + 1
		}
		v := store.WorkflowVersion{
			Workflow:  name,
			Version:   nextVersion,
			Graph:     graph,
			CreatedAt: time.Now().UTC().Format(time.RFC3339),
		}
		rec.versions = append([]store.WorkflowVersion{v}, rec.versions...)
		rec.activeVersion = nextVersion
	}

	return nil
}

func (m *Memory) Remove(_ context.Context, name string) error {
	m.mu.Lock()
	delete(m.workflows, name)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Description(_ context.Context, name string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.workflows[name]
	if !ok {
		return "", fmt.Errorf("%w: workflow %q", store.ErrNotFound, name)
	}
	return rec.description, nil
}

func (m *Memory) Names(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.workflows))
	for name := range m.workflows {
		names = append(names, name)
	}
	slices.Sort(names)
	return names, nil
}

func (m *Memory) ListVersions(_ context.Context, workflow string) ([]store.WorkflowVersion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.workflows[workflow]
	if !ok {
		return nil, fmt.Errorf("%w: workflow %q", store.ErrNotFound, workflow)
	}
	out := make([]store.WorkflowVersion, len(rec.versions))
	copy(out, rec.versions)
	return out, nil
}

func (m *Memory) GetVersion(_ context.Context, workflow string, version int) (*store.WorkflowVersion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.workflows[workflow]
	if !ok {
		return nil, fmt.Errorf("%w: workflow %q", store.ErrNotFound, workflow)
	}
	for _, v := range rec.versions {
		if v.Version == version {
			cp := v
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%w: workflow %q version %d", store.ErrNotFound, workflow, version)
}

func (m *Memory) SetActiveVersion(_ context.Context, workflow string, version int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.workflows[workflow]
	if !ok {
		return fmt.Errorf("%w: workflow %q", store.ErrNotFound, workflow)
	}
	for _, v := range rec.versions {
		if v.Version == version {
			rec.activeVersion = version
			rec.graph = v.Graph
			return nil
		}
	}
	return fmt.Errorf("%w: workflow %q version %d", store.ErrNotFound, workflow, version)
}

func (m *Memory) ActiveVersion(_ context.Context, workflow string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.workflows[workflow]
	if !ok {
		return 0, fmt.Errorf("%w: workflow %q", store.ErrNotFound, workflow)
	}
	return rec.activeVersion, nil
}
