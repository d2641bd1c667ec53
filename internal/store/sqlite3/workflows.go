package sqlite3

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
	_ wfexternal.WorkflowStore   = (*SQLite)(nil)
	_ store.WorkflowVersionStore = (*SQLite)(nil)
)

type workflowRow struct {
	Name          string `db:"name"`
	Description   string `db:"description"`
	Graph         string `db:"graph"`
	ActiveVersion int    `db:"active_version"`
	CreatedAt     string `db:"created_at"`
	UpdatedAt     string `db:"updated_at"`
}

func (s *SQLite) Load(ctx context.Context, name string) (wfgraph.ShadowGraph, error) {
	query, _, err := s.goqu.From(s.tableWorkflows).
		Select("name", "description", "graph", "active_version", "created_at", "updated_at").
		Where(goqu.I("name").Eq(name)).
		ToSQL()
	if err != nil {
		return wfgraph.ShadowGraph{}, fmt.Errorf("build load query: %w", err)
	}

	var row workflowRow
	err = s.db.QueryRowContext(ctx, query).
		Scan(&row.Name, &row.Description, &row.Graph, &row.ActiveVersion, &row.CreatedAt, &row.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return wfgraph.ShadowGraph{}, fmt.Errorf("%w: workflow %q", store.ErrNotFound, name)
	}
	if err != nil {
		return wfgraph.ShadowGraph{}, fmt.Errorf("load workflow %q: %w", name, err)
	}

	var g wfgraph.ShadowGraph
	if err := g.UnmarshalJSON([]byte(row.Graph)); err != nil {
		return wfgraph.ShadowGraph{}, fmt.Errorf("unmarshal graph for %q: %w", name, err)
	}
	return g, nil
}

func (s *SQLite) Put(ctx context.Context, name string, graph wfgraph.ShadowGraph) error {
	graphJSON, err := graph.MarshalJSON()
	if err != nil {
		return fmt.Errorf("marshal graph: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	description := graph.Metadata().Description

	existing, err := s.Load(ctx, name)
	notFound := errors.Is(err, store.ErrNotFound)
	if err != nil && !notFound {
		return err
	}

	changed := notFound || !existing.FastEq(graph)

	if notFound {
		insert, _, err := s.goqu.Insert(s.tableWorkflows).Rows(
			goqu.Record{
				"name":           name,
				"description":    description,
				"graph":          string(graphJSON),
				"active_version": 0,
				"created_at":     now,
				"updated_at":     now,
			},
		).ToSQL()
		if err != nil {
			return fmt.Errorf("build insert workflow query: %w", err)
		}
		if _, err := s.db.ExecContext(ctx, insert); err != nil {
			return fmt.Errorf("create workflow %q: %w", name, err)
		}
	} else {
		update, _, err := s.goqu.Update(s.tableWorkflows).Set(
			goqu.Record{
				"description": description,
				"graph":       string(graphJSON),
				"updated_at":  now,
			},
		).Where(goqu.I("name").Eq(name)).ToSQL()
		if err != nil {
			return fmt.Errorf("build update workflow query: %w", err)
		}
		if _, err := s.db.ExecContext(ctx, update); err != nil {
			return fmt.Errorf("update workflow %q: %w", name, err)
		}
	}

	if changed {
		if _, err := s.createVersion(ctx, name, graph, now, ""); err != nil {
			return err
		}
	}

	return nil
}

func (s *SQLite) Remove(ctx context.Context, name string) error {
	query, _, err := s.goqu.Delete(s.tableWorkflows).
		Where(goqu.I("name").Eq(name)).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build delete workflow query: %w", err)
	}
	_, err = s.db.ExecContext(ctx, query)
	if err != nil {
		return fmt.Errorf("delete workflow %q: %w", name, err)
	}
	return nil
}

func (s *SQLite) Description(ctx context.Context, name string) (string, error) {
	query, _, err := s.goqu.From(s.tableWorkflows).
		Select("description").
		Where(goqu.I("name").Eq(name)).
		ToSQL()
	if err != nil {
		return "", fmt.Errorf("build description query: %w", err)
	}
	var desc string
	err = s.db.QueryRowContext(ctx, query).Scan(&desc)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: workflow %q", store.ErrNotFound, name)
	}
	if err != nil {
		return "", fmt.Errorf("get description for %q: %w", name, err)
	}
	return desc, nil
}

func (s *SQLite) Names(ctx context.Context) ([]string, error) {
	query, _, err := s.goqu.From(s.tableWorkflows).
		Select("name").
		Order(goqu.I("name").Asc()).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build names query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query)
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
