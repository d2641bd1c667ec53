package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"

	"github.com/rakunlabs/loom/internal/store"
	"github.com/rakunlabs/loom/internal/wfgraph"
)

type workflowVersionRow struct {
	WorkflowName string    `db:"workflow_name"`
	Version      int       `db:"version"`
	Graph        []byte    `db:"graph"`
	CreatedAt    time.Time `db:"created_at"`
	CreatedBy    string    `db:"created_by"`
}

func (p *Postgres) ListVersions(ctx context.Context, workflow string) ([]store.WorkflowVersion, error) {
	query, _, err := p.goqu.From(p.tableWorkflowVersions).
		Select("workflow_name", "version", "graph", "created_at", "created_by").
		Where(goqu.I("workflow_name").Eq(workflow)).
		Order(goqu.I("version").Desc()).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build list versions query: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, query)
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

func (p *Postgres) GetVersion(ctx context.Context, workflow string, version int) (*store.WorkflowVersion, error) {
	query, _, err := p.goqu.From(p.tableWorkflowVersions).
		Select("workflow_name", "version", "graph", "created_at", "created_by").
		Where(goqu.I("workflow_name").Eq(workflow), goqu.I("version").Eq(version)).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build get version query: %w", err)
	}

	var row workflowVersionRow
	err = p.db.QueryRowContext(ctx, query).Scan(&row.WorkflowName, &row.Version, &row.Graph, &row.CreatedAt, &row.CreatedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: workflow %q version %d", store.ErrNotFound, workflow, version)
	}
	if err != nil {
		return nil, fmt.Errorf("get workflow version %d for %q: %w", version, workflow, err)
	}
	return versionRowToRecord(row)
}

func (p *Postgres) createVersion(ctx context.Context, workflow string, graph wfgraph.ShadowGraph, now time.Time, createdBy string) (int, error) {
	maxQuery, _, err := p.goqu.From(p.tableWorkflowVersions).
		Select(goqu.COALESCE(goqu.MAX("version"), 0)).
		Where(goqu.I("workflow_name").Eq(workflow)).
		ToSQL()
	if err != nil {
		return 0, fmt.Errorf("build max version query: %w", err)
	}

	var maxVersion int
	if err := p.db.QueryRowContext(ctx, maxQuery).Scan(&maxVersion); err != nil {
		return 0, fmt.Errorf("get max version for workflow %q: %w", workflow, err)
	}
	nextVersion := maxVersion + 1

	graphJSON, err := graph.MarshalJSON()
	if err != nil {
		return 0, fmt.Errorf("marshal version graph: %w", err)
	}

	insert, _, err := p.goqu.Insert(p.tableWorkflowVersions).Rows(
		goqu.Record{
			"workflow_name": workflow,
			"version":       nextVersion,
			"graph":         graphJSON,
			"created_at":    now,
			"created_by":    createdBy,
		},
	).ToSQL()
	if err != nil {
		return 0, fmt.Errorf("build insert version query: %w", err)
	}
	if _, err := p.db.ExecContext(ctx, insert); err != nil {
		return 0, fmt.Errorf("create workflow version for %q: %w", workflow, err)
	}

	updateActive, _, err := p.goqu.Update(p.tableWorkflows).Set(
		goqu.Record{"active_version": nextVersion},
	).Where(goqu.I("name").Eq(workflow)).ToSQL()
	if err != nil {
		return 0, fmt.Errorf("build active version update: %w", err)
	}
	if _, err := p.db.ExecContext(ctx, updateActive); err != nil {
		return 0, fmt.Errorf("set active version for %q: %w", workflow, err)
	}

	return nextVersion, nil
}

func (p *Postgres) SetActiveVersion(ctx context.Context, workflow string, version int) error {
	v, err := p.GetVersion(ctx, workflow, version)
	if err != nil {
		return err
	}

	graphJSON, err := v.Graph.MarshalJSON()
	if err != nil {
		return fmt.Errorf("marshal graph: %w", err)
	}

	query, _, err := p.goqu.Update(p.tableWorkflows).Set(
		goqu.Record{"active_version": version, "graph": graphJSON},
	).Where(goqu.I("name").Eq(workflow)).ToSQL()
	if err != nil {
		return fmt.Errorf("build set active version query: %w", err)
	}

	res, err := p.db.ExecContext(ctx, query)
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

func (p *Postgres) ActiveVersion(ctx context.Context, workflow string) (int, error) {
	query, _, err := p.goqu.From(p.tableWorkflows).
		Select("active_version").
		Where(goqu.I("name").Eq(workflow)).
		ToSQL()
	if err != nil {
		return 0, fmt.Errorf("build active version query: %w", err)
	}
	var active int
	err = p.db.QueryRowContext(ctx, query).Scan(&active)
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
	if err := g.UnmarshalJSON(row.Graph); err != nil {
		return nil, fmt.Errorf("unmarshal workflow version graph for %q v%d: %w", row.WorkflowName, row.Version, err)
	}
	return &store.WorkflowVersion{
		Workflow:  row.WorkflowName,
		Version:   row.Version,
		Graph:     g,
		CreatedAt: row.CreatedAt.Format(time.RFC3339),
		CreatedBy: row.CreatedBy,
	}, nil
}
