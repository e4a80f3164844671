package migrations

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
)

//go:embed sql/*.sql
var embedded embed.FS

// Migration is one schema version with its forward and reverse SQL.
type Migration struct {
	Version int
	Name    string
	Up      string
	Down    string
}

// Embedded returns the migrations compiled into the binary.
func Embedded() ([]Migration, error) {
	sub, err := fs.Sub(embedded, "sql")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	return Load(sub)
}

// Load reads NNNN_name.up.sql / NNNN_name.down.sql pairs from the root of
// fsys, ordered by version. Every version needs an up file.
func Load(fsys fs.FS) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	byVersion := make(map[int]*Migration)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, name, up, err := parseFileName(entry.Name())
		if err != nil {
			return nil, err
		}

		content, err := fs.ReadFile(fsys, entry.Name())
		if err != nil {
			return nil, fmt.Errorf("failed to read migration file %s: %w", entry.Name(), err)
		}

		m, ok := byVersion[version]
		if !ok {
			m = &Migration{Version: version, Name: name}
			byVersion[version] = m
		} else if m.Name != name {
			return nil, fmt.Errorf("migration %d has conflicting names %q and %q", version, m.Name, name)
		}
		if up {
			m.Up = string(content)
		} else {
			m.Down = string(content)
		}
	}

	migrations := make([]Migration, 0, len(byVersion))
	for _, m := range byVersion {
		if strings.TrimSpace(m.Up) == "" {
			return nil, fmt.Errorf("migration %d_%s has no up file", m.Version, m.Name)
		}
		migrations = append(migrations, *m)
	}
	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})

	log.Debug().Int("count", len(migrations)).Msg("Loaded migrations")
	return migrations, nil
}

func parseFileName(file string) (version int, name string, up bool, err error) {
	base, ok := strings.CutSuffix(file, ".up.sql")
	if ok {
		up = true
	} else if base, ok = strings.CutSuffix(file, ".down.sql"); !ok {
		return 0, "", false, fmt.Errorf("migration file %s must end in .up.sql or .down.sql", file)
	}

	num, name, ok := strings.Cut(base, "_")
	if !ok || name == "" {
		return 0, "", false, fmt.Errorf("migration file %s must be named NNNN_name", file)
	}
	version, err = strconv.Atoi(num)
	if err != nil || version <= 0 {
		return 0, "", false, fmt.Errorf("migration file %s has an invalid version", file)
	}
	return version, name, up, nil
}

func ensureTable(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`)
	if err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}
	return nil
}

// Applied returns the applied versions, oldest first.
func Applied(ctx context.Context, db *sqlx.DB) ([]int, error) {
	if err := ensureTable(ctx, db); err != nil {
		return nil, err
	}
	var versions []int
	if err := db.SelectContext(ctx, &versions, `SELECT version FROM schema_migrations ORDER BY version`); err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	return versions, nil
}

// Up applies every migration not yet recorded and reports how many ran.
func Up(ctx context.Context, db *sqlx.DB, migrations []Migration) (int, error) {
	versions, err := Applied(ctx, db)
	if err != nil {
		return 0, err
	}
	done := make(map[int]bool, len(versions))
	for _, v := range versions {
		done[v] = true
	}

	ran := 0
	for _, m := range migrations {
		if done[m.Version] {
			continue
		}
		log.Info().Int("version", m.Version).Str("name", m.Name).Msg("Running migration")
		err := step(ctx, db, m.Up, `INSERT INTO schema_migrations (version, name) VALUES (?, ?)`, m.Version, m.Name)
		if err != nil {
			return ran, fmt.Errorf("migration %d_%s: %w", m.Version, m.Name, err)
		}
		ran++
	}
	return ran, nil
}

// Down reverts the n most recent applied migrations. Versions without a
// down file stop the rollback.
func Down(ctx context.Context, db *sqlx.DB, migrations []Migration, n int) (int, error) {
	versions, err := Applied(ctx, db)
	if err != nil {
		return 0, err
	}
	known := make(map[int]Migration, len(migrations))
	for _, m := range migrations {
		known[m.Version] = m
	}

	reverted := 0
	for i := len(versions) - 1; i >= 0 && reverted < n; i-- {
		m, ok := known[versions[i]]
		if !ok || strings.TrimSpace(m.Down) == "" {
			return reverted, fmt.Errorf("migration %d cannot be rolled back", versions[i])
		}
		log.Info().Int("version", m.Version).Str("name", m.Name).Msg("Rolling back migration")
		if err := step(ctx, db, m.Down, `DELETE FROM schema_migrations WHERE version = ?`, m.Version); err != nil {
			return reverted, fmt.Errorf("rollback %d_%s: %w", m.Version, m.Name, err)
		}
		reverted++
	}
	return reverted, nil
}

// step runs a schema change and its bookkeeping statement in one transaction.
func step(ctx context.Context, db *sqlx.DB, schema, record string, args ...any) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if _, err := tx.ExecContext(ctx, schema); err != nil {
		tx.Rollback()
		return err
	}
	if _, err := tx.ExecContext(ctx, record, args...); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
