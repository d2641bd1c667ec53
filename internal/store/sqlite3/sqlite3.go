// Package sqlite3 is an embedded, single-binary-friendly WorkflowStore
// backend. Adapted from the teacher's internal/store/sqlite3: keeps the
// goqu-over-modernc.org/sqlite connection setup (WAL mode, foreign
// keys, single-writer connection limit) and the migrate-then-connect
// boot sequence, dropped the provider/token/encryption-at-rest CRUD
// (provider configuration is now static, from config.Config.Providers,
// not a DB-editable resource) and replaced it with workflow/
// workflow_version CRUD keyed by name per wfexternal.WorkflowStore.
package sqlite3

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"github.com/doug-martin/goqu/v9/exp"
	_ "modernc.org/sqlite"

	"github.com/rakunlabs/loom/internal/config"
)

var DefaultTablePrefix = "loom_"

type SQLite struct {
	db   *sql.DB
	goqu *goqu.Database

	tableWorkflows        exp.IdentifierExpression
	tableWorkflowVersions exp.IdentifierExpression
}

func New(ctx context.Context, cfg *config.StoreSQLite) (*SQLite, error) {
	if cfg == nil {
		return nil, errors.New("sqlite configuration is nil")
	}
	if cfg.Datasource == "" {
		return nil, errors.New("sqlite datasource is required")
	}

	tablePrefix := DefaultTablePrefix
	if cfg.TablePrefix != nil {
		tablePrefix = *cfg.TablePrefix
	}

	migrate := cfg.Migrate
	if migrate.Table == "" {
		migrate.Table = "migrations"
	}
	if migrate.Datasource == "" {
		migrate.Datasource = cfg.Datasource
	}
	migrate.Table = tablePrefix + migrate.Table
	if migrate.Values == nil {
		migrate.Values = make(map[string]string)
	}
	migrate.Values["TABLE_PREFIX"] = tablePrefix

	if err := MigrateDB(ctx, &migrate); err != nil {
		return nil, fmt.Errorf("migrate store sqlite: %w", err)
	}

	db, err := sql.Open("sqlite", cfg.Datasource)
	if err != nil {
		return nil, fmt.Errorf("open sqlite connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	// SQLite is single-writer; limit connections accordingly.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	slog.Info("connected to store sqlite")

	dbGoqu := goqu.New("sqlite3", db)

	return &SQLite{
		db:                    db,
		goqu:                  dbGoqu,
		tableWorkflows:        goqu.T(tablePrefix + "workflows"),
		tableWorkflowVersions: goqu.T(tablePrefix + "workflow_versions"),
	}, nil
}

func (s *SQLite) Close() {
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			slog.Error("close store sqlite connection", "error", err)
		}
	}
}
