package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"

	"github.com/rakunlabs/loom/internal/store"
	"github.com/rakunlabs/loom/internal/wfexternal"
	"github.com/rakunlabs/loom/internal/wfgraph"
)

var (
	_ wfexternal.WorkflowStore   = (*Postgres)(nil)
	_ store.WorkflowVersionStore = (*Postgres)(nil)
)

type workflowRow struct {
	Name          string    `db:"name"`
	Description   string    `db:"description"`
	Graph         []byte    `db:"graph"`
	ActiveVersion int       `db:"active_version"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}

func (p *Postgres) Load(ctx context.Context, name string) (wfgraph.ShadowGraph, error) {
	query, _, err := p.goqu.From(p.tableWorkflows).
		Select("name", "description", "graph", "active_version", "created_at", "updated_at").
		Where(goqu.I("name").Eq(name)).
		ToSQL()
	if err != nil {
		return wfgraph.ShadowGraph{}, fmt.Errorf("build load query: %w", err)
	}

	var row workflowRow
	err = p.db.QueryRowContext(ctx, query).
		Scan(&row.Name, &row.Description, &row.Graph, &row.ActiveVersion, &row.CreatedAt, &row.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return wfgraph.ShadowGraph{}, fmt.Errorf("%w: workflow %q", store.ErrNotFound, name)
	}
	if err != nil {
		return wfgraph.ShadowGraph{}, fmt.Errorf("load workflow %q: %w", name, err)
	}

	var g wfgraph.ShadowGraph
	if err := g.UnmarshalJSON(row.Graph); err != nil {
		return wfgraph.ShadowGraph{}, fmt.Errorf("unmarshal graph for %q: %w", name, err)
	}
	return g, nil
}

func (p *Postgres) Put(ctx context.Context, name string, graph wfgraph.ShadowGraph) error {
	graphJSON, err := graph.MarshalJSON()
	if err != nil {
		return fmt.Errorf("marshal graph: %w", err)
	}

	now := time.Now().UTC()
	description := graph.Metadata().Description

	existing, err := p.Load(ctx, name)
	notFound := errors.Is(err, store.ErrNotFound)
	if err != nil && !notFound {
		return err
	}

	changed := notFound || !existing.FastEq(graph)

	if notFound {
		insert, _, err := p.goqu.Insert(p.tableWorkflows).Rows(
			goqu.Record{
				"name":           name,
				"description":    description,
				"graph":          graphJSON,
				"active_version": 0,
				"created_at":     now,
				"updated_at":     now,
			},
		).ToSQL()
		if err != nil {
			return fmt.Errorf("build insert workflow query: %w", err)
		}
		if _, err := p.db.ExecContext(ctx, insert); err != nil {
			return fmt.Errorf("create workflow %q: %w", name, err)
		}
	} else {
		update, _, err := p.goqu.Update(p.tableWorkflows).Set(
			goqu.Record{
				"description": description,
				"graph":       graphJSON,
				"updated_at":  now,
			},
		).Where(goqu.I("name").Eq(name)).ToSQL()
		if err != nil {
			return fmt.Errorf("build update workflow query: %w", err)
		}
		if _, err := p.db.ExecContext(ctx, update); err != nil {
			return fmt.Errorf("update workflow %q: %w", name, err)
		}
	}

	if changed {
		if _, err := p.createVersion(ctx, name, graph, now, ""); err != nil {
			return err
		}
	}

	return nil
}

func (p *Postgres) Remove(ctx context.Context, name string) error {
	query, _, err := p.goqu.Delete(p.tableWorkflows).
		Where(goqu.I("name").Eq(name)).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build delete workflow query: %w", err)
	}
	_, err = p.db.ExecContext(ctx, query)
	if err != nil {
		return fmt.Errorf("delete workflow %q: %w", name, err)
	}
	return nil
}

func (p *Postgres) Description(ctx context.Context, name string) (string, error) {
	query, _, err := p.goqu.From(p.tableWorkflows).
		Select("description").
		Where(goqu.I("name").Eq(name)).
		ToSQL()
	if err != nil {
		return "", fmt.Errorf("build description query: %w", err)
	}
	var desc string
	err = p.db.QueryRowContext(ctx, query).Scan(&desc)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: workflow %q", store.ErrNotFound, name)
	}
	if err != nil {
		return "", fmt.Errorf("get description for %q: %w", name, err)
	}
	return desc, nil
}

func (p *Postgres) Names(ctx context.Context) ([]string, error) {
	query, _, err := p.goqu.From(p.tableWorkflows).
		Select("name").
		Order(goqu.I("name").Asc()).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build names query: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list workflow names: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan workflow name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
