// Package migrations applies the embedded SQL schema in version order
package migrations

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"
)

//go:embed sql/*.sql
var files embed.FS

// Migration is one embedded SQL file. Version is the file name without extension.
type Migration struct {
	Version string
	SQL     string
}

// Status is a migration and whether it has been applied
type Status struct {
	Version string
	Applied bool
}

// Migrator applies migrations to a database
type Migrator struct {
	db         *sqlx.DB
	migrations []Migration
	logger     *slog.Logger
}

// New creates a Migrator for the embedded migrations
func New(db *sqlx.DB, logger *slog.Logger) (*Migrator, error) {
	migrations, err := Load(files)
	if err != nil {
		return nil, err
	}
	return &Migrator{db: db, migrations: migrations, logger: logger}, nil
}

// Load reads *.sql files under sql/ of fsys, sorted by version
func Load(fsys fs.FS) ([]Migration, error) {
	names, err := fs.Glob(fsys, "sql/*.sql")
	if err != nil {
		return nil, fmt.Errorf("failed to list migrations: %w", err)
	}
	sort.Strings(names)

	migrations := make([]Migration, 0, len(names))
	for _, name := range names {
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("failed to read migration %s: %w", name, err)
		}
		if strings.TrimSpace(string(data)) == "" {
			return nil, fmt.Errorf("migration %s is empty", name)
		}
		migrations = append(migrations, Migration{
			Version: strings.TrimSuffix(strings.TrimPrefix(name, "sql/"), ".sql"),
			SQL:     string(data),
		})
	}
	return migrations, nil
}

// Up applies every pending migration, each in its own transaction, and returns the applied versions
func (m *Migrator) Up(ctx context.Context) ([]string, error) {
	applied, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}

	var done []string
	for _, mig := range m.migrations {
		if applied[mig.Version] {
			continue
		}

		if err := m.apply(ctx, mig); err != nil {
			return done, err
		}

		m.logger.Info("Migration applied", slog.String("version", mig.Version))
		done = append(done, mig.Version)
	}

	return done, nil
}

// Status lists every migration with its applied state
func (m *Migrator) Status(ctx context.Context) ([]Status, error) {
	applied, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]Status, len(m.migrations))
	for i, mig := range m.migrations {
		out[i] = Status{Version: mig.Version, Applied: applied[mig.Version]}
	}
	return out, nil
}

func (m *Migrator) applied(ctx context.Context) (map[string]bool, error) {
	if _, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`); err != nil {
		return nil, fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	var versions []string
	if err := m.db.SelectContext(ctx, &versions, `SELECT version FROM schema_migrations`); err != nil {
		return nil, fmt.Errorf("failed to read schema_migrations: %w", err)
	}

	applied := make(map[string]bool, len(versions))
	for _, v := range versions {
		applied[v] = true
	}
	return applied, nil
}

func (m *Migrator) apply(ctx context.Context, mig Migration) (err error) {
	tx, err := m.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin migration %s: %w", mig.Version, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, mig.SQL); err != nil {
		return fmt.Errorf("failed to apply migration %s: %w", mig.Version, err)
	}

	if _, err = tx.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, mig.Version); err != nil {
		return fmt.Errorf("failed to record migration %s: %w", mig.Version, err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration %s: %w", mig.Version, err)
	}
	return nil
}
