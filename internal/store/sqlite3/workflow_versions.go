package sqlite3

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/doug-martin/goqu/v9"

	"github.com/rakunlabs/loom/internal/store"
	"github.com/rakunlabs/loom/internal/wfgraph"
)

type workflowVersionRow struct {
	WorkflowName string `db:"workflow_name"`
	Version      int    `db:"version"`
	Graph        string `db:"graph"`
	CreatedAt    string `db:"created_at"`
	CreatedBy    string `db:"created_by"`
}

func (s *SQLite) ListVersions(ctx context.Context, workflow string) ([]store.WorkflowVersion, error) {
	query, _, err := s.goqu.From(s.tableWorkflowVersions).
		Select("workflow_name", "version", "graph", "created_at", "created_by").
		Where(goqu.I("workflow_name").Eq(workflow)).
		Order(goqu.I("version").Desc()).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build list versions query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list workflow versions: %w", err)
	}
	defer rows.Close()

	var result []store.WorkflowVersion
	for rows.Next() {
		var row workflowVersionRow
		if err := rows.Scan(&row.WorkflowName, &row.Version, &row.Graph, &row.CreatedAt, &row.CreatedBy); err != nil {
			return nil, fmt.Errorf("scan workflow version row: %w", err)
		}
		v, err := versionRowToRecord(row)
		if err != nil {
			return nil, err
		}
		result = append(result, *v)
	}
	return result, rows.Err()
}

func (s *SQLite) GetVersion(ctx context.Context, workflow string, version int) (*store.WorkflowVersion, error) {
	query, _, err := s.goqu.From(s.tableWorkflowVersions).
		Select("workflow_name", "version", "graph", "created_at", "created_by").
		Where(goqu.I("workflow_name").Eq(workflow), goqu.I("version").Eq(version)).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build get version query: %w", err)
	}

	var row workflowVersionRow
	err = s.db.QueryRowContext(ctx, query).Scan(&row.WorkflowName, &row.Version, &row.Graph, &row.CreatedAt, &row.CreatedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: workflow %q version %d", store.ErrNotFound, workflow, version)
	}
	if err != nil {
		return nil, fmt.Errorf("get workflow version %d for %q: %w", version, workflow, err)
	}
	return versionRowToRecord(row)
}

// createVersion computes the next version number for workflow and
// inserts an immutable snapshot. Called from Put whenever the graph's
// structural identity changed.
func (s *SQLite) createVersion(ctx context.Context, workflow string, graph wfgraph.ShadowGraph, now, createdBy string) (int, error) {
	maxQuery, _, err := s.goqu.From(s.tableWorkflowVersions).
		Select(goqu.COALESCE(goqu.MAX("version"), 0)).
		Where(goqu.I("workflow_name").Eq(workflow)).
		ToSQL()
	if err != nil {
		return 0, fmt.Errorf("build max version query: %w", err)
	}

	var maxVersion int
	if err := s.db.QueryRowContext(ctx, maxQuery).Scan(&maxVersion); err != nil {
		return 0, fmt.Errorf("get max version for workflow %q: %w", workflow, err)
	}
	nextVersion := maxVersion + 1

	graphJSON, err := graph.MarshalJSON()
	if err != nil {
		return 0, fmt.Errorf("marshal version graph: %w", err)
	}

	insert, _, err := s.goqu.Insert(s.tableWorkflowVersions).Rows(
		goqu.Record{
			"workflow_name": workflow,
			"version":       nextVersion,
			"graph":         string(graphJSON),
			"created_at":    now,
			"created_by":    createdBy,
		},
	).ToSQL()
	if err != nil {
		return 0, fmt.Errorf("build insert version query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, insert); err != nil {
		return 0, fmt.Errorf("create workflow version for %q: %w", workflow, err)
	}

	updateActive, _, err := s.goqu.Update(s.tableWorkflows).Set(
		goqu.Record{"active_version": nextVersion},
	).Where(goqu.I("name").Eq(workflow)).ToSQL()
	if err != nil {
		return 0, fmt.Errorf("build active version update: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, updateActive); err != nil {
		return 0, fmt.Errorf("set active version for %q: %w", workflow, err)
	}

	return nextVersion, nil
}

func (s *SQLite) SetActiveVersion(ctx context.Context, workflow string, version int) error {
	v, err := s.GetVersion(ctx, workflow, version)
	if err != nil {
		return err
	}

	graphJSON, err := v.Graph.MarshalJSON()
	if err != nil {
		return fmt.Errorf("marshal graph: %w", err)
	}

	query, _, err := s.goqu.Update(s.tableWorkflows).Set(
		goqu.Record{"active_version": version, "graph": string(graphJSON)},
	).Where(goqu.I("name").Eq(workflow)).ToSQL()
	if err != nil {
		return fmt.Errorf("build set active version query: %w", err)
	}

	res, err := s.db.ExecContext(ctx, query)
	if err != nil {
		return fmt.Errorf("set active version for workflow %q: %w", workflow, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: workflow %q", store.ErrNotFound, workflow)
	}
	return nil
}

func (s *SQLite) ActiveVersion(ctx context.Context, workflow string) (int, error) {
	query, _, err := s.goqu.From(s.tableWorkflows).
		Select("active_version").
		Where(goqu.I("name").Eq(workflow)).
		ToSQL()
	if err != nil {
		return 0, fmt.Errorf("build active version query: %w", err)
	}
	var active int
	err = s.db.QueryRowContext(ctx, query).Scan(&active)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: workflow %q", store.ErrNotFound, workflow)
	}
	if err != nil {
		return 0, fmt.Errorf("get active version for %q: %w", workflow, err)
	}
	return active, nil
}

func versionRowToRecord(row workflowVersionRow) (*store.WorkflowVersion, error) {
	var g wfgraph.ShadowGraph
	if err := g.UnmarshalJSON([]byte(row.Graph)); err != nil {
		return nil, fmt.Errorf("unmarshal workflow version graph for %q v%d: %w", row.WorkflowName, row.Version, err)
	}
	return &store.WorkflowVersion{
		Workflow:  row.WorkflowName,
		Version:   row.Version,
		Graph:     g,
		CreatedAt: row.CreatedAt,
		CreatedBy: row.CreatedBy,
	}, nil
}
