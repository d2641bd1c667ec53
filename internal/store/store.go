// Package store collects the types shared by every WorkflowStore backend
// (internal/store/memory, internal/store/sqlite3, internal/store/postgres,
// internal/store/gitstore): the WorkflowVersionStore supplement named by
// SPEC_FULL.md §4 ("Persisted workflow versioning"), grounded on the
// teacher's service.WorkflowVersionStorer.
package store

import (
	"context"
	"errors"

	"github.com/rakunlabs/loom/internal/wfgraph"
)

// ErrNotFound is returned by a backend when a named workflow or a
// specific version of one does not exist.
var ErrNotFound = errors.New("store: not found")

// WorkflowVersion is one immutable snapshot of a named workflow's graph,
// recorded whenever a Put changes FastEq identity.
type WorkflowVersion struct {
	Workflow  string
	Version   int
	Graph     wfgraph.ShadowGraph
	CreatedAt string // RFC3339
	CreatedBy string
}

// WorkflowVersionStore supplements wfexternal.WorkflowStore with
// version history and an active-version pointer, mirroring the
// teacher's parallel workflow/workflow_version tables.
type WorkflowVersionStore interface {
	ListVersions(ctx context.Context, workflow string) ([]WorkflowVersion, error)
	GetVersion(ctx context.Context, workflow string, version int) (*WorkflowVersion, error)
	SetActiveVersion(ctx context.Context, workflow string, version int) error
	ActiveVersion(ctx context.Context, workflow string) (int, error)
}
