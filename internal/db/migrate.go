package db

import (
	"context"
	"fmt"
	"io/fs"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Migrations describes a set of embedded .sql files applied to one schema.
type Migrations struct {
	Schema string // schema holding the tables and the schema_migrations table
	LockID int64  // pg_advisory_lock key, unique per schema
	FS     fs.FS  // must contain a "migrations" directory
}

// Migrate runs all pending SQL migrations in lexicographic order. It creates
// the schema and its schema_migrations tracking table if needed, then applies
// any .sql files not yet recorded. An advisory lock serializes concurrent runs.
func Migrate(ctx context.Context, pool Pool, m Migrations) error {
	log := zap.L().With(zap.String("component", m.Schema+".migrate"))

	if _, err := pool.Exec(ctx, fmt.Sprintf("SELECT pg_advisory_lock(%d)", m.LockID)); err != nil {
		return eris.Wrapf(err, "%s: acquire migration advisory lock", m.Schema)
	}
	defer func() {
		if _, err := pool.Exec(ctx, fmt.Sprintf("SELECT pg_advisory_unlock(%d)", m.LockID)); err != nil {
			log.Warn("failed to release migration advisory lock", zap.Error(err))
		}
	}()

	if err := ensureMigrationTable(ctx, pool, m.Schema); err != nil {
		return err
	}

	names, err := MigrationNames(m.FS)
	if err != nil {
		return eris.Wrapf(err, "%s: read migration dir", m.Schema)
	}

	applied, err := appliedMigrations(ctx, pool, m.Schema)
	if err != nil {
		return err
	}

	for _, name := range names {
		if applied[name] {
			continue
		}

		data, err := fs.ReadFile(m.FS, "migrations/"+name)
		if err != nil {
			return eris.Wrapf(err, "%s: read migration %s", m.Schema, name)
		}

		log.Info("applying migration", zap.String("file", name))

		if _, err := pool.Exec(ctx, string(data)); err != nil {
			return eris.Wrapf(err, "%s: apply migration %s", m.Schema, name)
		}

		if _, err := pool.Exec(ctx,
			fmt.Sprintf("INSERT INTO %s.schema_migrations (filename, applied_at) VALUES ($1, now())", sanitizeTable(m.Schema)),
			name,
		); err != nil {
			return eris.Wrapf(err, "%s: record migration %s", m.Schema, name)
		}
	}

	return nil
}

// MigrationNames returns the sorted .sql filenames under migrations/.
func MigrationNames(fsys fs.FS) ([]string, error) {
	entries, err := fs.ReadDir(fsys, "migrations")
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// ensureMigrationTable creates the schema and migration tracking table if they don't exist.
func ensureMigrationTable(ctx context.Context, pool Pool, schema string) error {
	s := sanitizeTable(schema)
	sql := fmt.Sprintf(`
		CREATE SCHEMA IF NOT EXISTS %s;
		CREATE TABLE IF NOT EXISTS %s.schema_migrations (
			id         SERIAL PRIMARY KEY,
			filename   TEXT NOT NULL UNIQUE,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
	`, s, s)
	if _, err := pool.Exec(ctx, sql); err != nil {
		return eris.Wrapf(err, "%s: ensure migration table", schema)
	}
	return nil
}

func appliedMigrations(ctx context.Context, pool Pool, schema string) (map[string]bool, error) {
	rows, err := pool.Query(ctx, fmt.Sprintf("SELECT filename FROM %s.schema_migrations", sanitizeTable(schema)))
	if err != nil {
		return nil, eris.Wrapf(err, "%s: query applied migrations", schema)
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, eris.Wrapf(err, "%s: scan migration row", schema)
		}
		applied[name] = true
	}
	return applied, eris.Wrap(rows.Err(), "iterate applied migrations")
}
