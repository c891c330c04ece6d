// Package migrations embeds the SQL schema and applies it in version order.
package migrations

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed *.sql
var files embed.FS

const (
	DirectionUp   = "up"
	DirectionDown = "down"
)

// Migration is a single versioned SQL script
type Migration struct {
	Version string
	SQL     string
}

// Load returns the migrations for direction, in the order they must run
func Load(direction string) ([]Migration, error) {
	suffix, err := suffixFor(direction)
	if err != nil {
		return nil, err
	}

	names, err := fs.Glob(files, "*"+suffix)
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	if direction == DirectionDown {
		for i, j := 0, len(names)-1; i < j; i, j = i+1, j-1 {
			names[i], names[j] = names[j], names[i]
		}
	}

	out := make([]Migration, 0, len(names))
	for _, name := range names {
		content, err := fs.ReadFile(files, name)
		if err != nil {
			return nil, fmt.Errorf("failed to read migration %s: %w", name, err)
		}
		out = append(out, Migration{
			Version: strings.TrimSuffix(name, suffix),
			SQL:     string(content),
		})
	}
	return out, nil
}

// Run applies pending migrations (or reverts applied ones for "down"),
// each in its own transaction. steps <= 0 means all. It returns the
// versions that were run.
func Run(ctx context.Context, pool *pgxpool.Pool, direction string, steps int) ([]string, error) {
	migrations, err := Load(direction)
	if err != nil {
		return nil, err
	}

	if _, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`); err != nil {
		return nil, fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied, err := appliedVersions(ctx, pool)
	if err != nil {
		return nil, err
	}

	var ran []string
	for _, m := range migrations {
		if (direction == DirectionUp) == applied[m.Version] {
			continue
		}
		if steps > 0 && len(ran) >= steps {
			break
		}
		if err := apply(ctx, pool, direction, m); err != nil {
			return ran, err
		}
		ran = append(ran, m.Version)
	}
	return ran, nil
}

func apply(ctx context.Context, pool *pgxpool.Pool, direction string, m Migration) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, m.SQL); err != nil {
		return fmt.Errorf("failed to execute migration %s: %w", m.Version, err)
	}

	if direction == DirectionUp {
		_, err = tx.Exec(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", m.Version)
	} else {
		_, err = tx.Exec(ctx, "DELETE FROM schema_migrations WHERE version = $1", m.Version)
	}
	if err != nil {
		return fmt.Errorf("failed to update migrations table: %w", err)
	}

	return tx.Commit(ctx)
}

func appliedVersions(ctx context.Context, pool *pgxpool.Pool) (map[string]bool, error) {
	rows, err := pool.Query(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("failed to get applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

func suffixFor(direction string) (string, error) {
	switch direction {
	case DirectionUp:
		return ".up.sql", nil
	case DirectionDown:
		return ".down.sql", nil
	}
	return "", fmt.Errorf("unknown migration direction %q", direction)
}
