package migrations

import (
	"context"
	"embed"
	"fmt"
	"sort"
	"strings"

	"github.com/Alexander-D-Karpov/huddle/internal/infra/db"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed *.sql
var migrations embed.FS

type Migration struct {
	Version int
	Name    string
	SQL     string
}

// Run applies every embedded migration that is not yet recorded and returns
// the versions it applied.
func Run(ctx context.Context, pool *pgxpool.Pool) ([]int, error) {
	if err := createMigrationsTable(ctx, pool); err != nil {
		return nil, fmt.Errorf("create migrations table: %w", err)
	}

	pending, err := Pending(ctx, pool)
	if err != nil {
		return nil, err
	}

	applied := make([]int, 0, len(pending))
	for _, migration := range pending {
		if err := applyMigration(ctx, pool, migration); err != nil {
			return applied, fmt.Errorf("apply migration %d: %w", migration.Version, err)
		}
		applied = append(applied, migration.Version)
	}

	return applied, nil
}

func Pending(ctx context.Context, pool *pgxpool.Pool) ([]Migration, error) {
	appliedVersions, err := getAppliedVersions(ctx, pool)
	if err != nil {
		return nil, fmt.Errorf("get applied versions: %w", err)
	}

	all, err := Load()
	if err != nil {
		return nil, fmt.Errorf("load migrations: %w", err)
	}

	var toApply []Migration
	for _, m := range all {
		if !appliedVersions[m.Version] {
			toApply = append(toApply, m)
		}
	}
	return toApply, nil
}

// Load parses the embedded migration files ordered by version.
func Load() ([]Migration, error) {
	entries, err := migrations.ReadDir(".")
	if err != nil {
		return nil, err
	}

	var out []Migration
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, name, ok := parseName(entry.Name())
		if !ok {
			continue
		}

		content, err := migrations.ReadFile(entry.Name())
		if err != nil {
			return nil, err
		}

		out = append(out, Migration{Version: version, Name: name, SQL: string(content)})
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Version < out[j].Version
	})

	return out, nil
}

func parseName(file string) (int, string, bool) {
	base := strings.TrimSuffix(file, ".sql")
	prefix, name, found := strings.Cut(base, "_")
	if !found {
		return 0, "", false
	}
	var version int
	if _, err := fmt.Sscanf(prefix, "%d", &version); err != nil {
		return 0, "", false
	}
	return version, name, true
}

func createMigrationsTable(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)
	`)
	return err
}

func getAppliedVersions(ctx context.Context, pool *pgxpool.Pool) (map[int]bool, error) {
	rows, err := pool.Query(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	versions := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		versions[version] = true
	}

	return versions, rows.Err()
}

func applyMigration(ctx context.Context, pool *pgxpool.Pool, migration Migration) error {
	return db.InTx(ctx, pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, migration.SQL); err != nil {
			return err
		}
		_, err := tx.Exec(ctx,
			"INSERT INTO schema_migrations (version, name) VALUES ($1, $2)",
			migration.Version, migration.Name,
		)
		return err
	})
}
