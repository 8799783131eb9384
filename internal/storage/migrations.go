// Package storage provides persistence for the agent forum.
package storage

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"path"

	"github.com/agentforum/agentforum/internal/core"
	"github.com/agentforum/agentforum/internal/logging"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const schemaTable = `
	CREATE TABLE IF NOT EXISTS _migrations (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)
`

// Migrate applies pending schema files with a background context
func (db *DB) Migrate() error {
	_, err := db.MigrateContext(context.Background())
	return err
}

// MigrateContext applies every embedded migrations/*.sql file that is not
// yet recorded in _migrations, in file name order, one transaction per
// file. It returns the names it applied. Cancelling ctx stops before the
// next file.
func (db *DB) MigrateContext(ctx context.Context) ([]string, error) {
	if _, err := db.conn.ExecContext(ctx, schemaTable); err != nil {
		return nil, fmt.Errorf("create migrations table: %w", err)
	}

	pending, err := db.PendingMigrations(ctx)
	if err != nil {
		return nil, err
	}

	var applied []string
	for _, name := range pending {
		if err := ctx.Err(); err != nil {
			return applied, err
		}
		if err := db.applySchemaFile(ctx, name); err != nil {
			return applied, fmt.Errorf("%w: %s: %v", core.ErrMigrationFailed, name, err)
		}
		logging.WithField("migration", name).Debug("applied migration")
		applied = append(applied, name)
	}
	return applied, nil
}

// PendingMigrations lists the embedded schema files not applied yet. The
// _migrations table must exist.
func (db *DB) PendingMigrations(ctx context.Context) ([]string, error) {
	// fs.Glob returns names in lexical order, which is the numbering order
	files, err := fs.Glob(migrationsFS, "migrations/*.sql")
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}

	rows, err := db.conn.QueryContext(ctx, `SELECT name FROM _migrations`)
	if err != nil {
		return nil, fmt.Errorf("read applied migrations: %w", err)
	}
	defer rows.Close()

	done := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		done[name] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var pending []string
	for _, f := range files {
		if name := path.Base(f); !done[name] {
			pending = append(pending, name)
		}
	}
	return pending, nil
}

func (db *DB) applySchemaFile(ctx context.Context, name string) error {
	script, err := fs.ReadFile(migrationsFS, "migrations/"+name)
	if err != nil {
		return err
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, string(script)); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO _migrations (name) VALUES (?)`, name); err != nil {
		return err
	}
	return tx.Commit()
}
