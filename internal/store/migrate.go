// ABOUTME: Schema migration engine applying embedded SQL scripts in ascending id order
// ABOUTME: All pending migrations run in one transaction; a failure records none of them

package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// migrationsTable is the bookkeeping table recording applied migrations
const migrationsTable = "schema_migrations"

// Migration is one schema upgrade script
type Migration struct {
	ID   int
	Name string
	SQL  string
}

var migrationFileRe = regexp.MustCompile(`^(\d+)_([a-z0-9_]+)\.sql$`)

// Migrations returns the schema migrations shipped with the binary.
func Migrations() ([]Migration, error) {
	sub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("opening embedded migrations: %w", err)
	}
	return LoadMigrations(sub)
}

// LoadMigrations reads NNN_name.sql files from the root of fsys and returns
// them sorted by id. Duplicate ids and unrecognized file names are rejected.
func LoadMigrations(fsys fs.FS) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("reading migrations: %w", err)
	}

	seen := make(map[int]string)
	var migrations []Migration
	for _, entry := range entries {
		if entry.IsDir() || path.Ext(entry.Name()) != ".sql" {
			continue
		}
		m := migrationFileRe.FindStringSubmatch(entry.Name())
		if m == nil {
			return nil, fmt.Errorf("invalid migration file name %q", entry.Name())
		}
		id, err := strconv.Atoi(m[1])
		if err != nil {
			return nil, fmt.Errorf("parsing migration id %q: %w", m[1], err)
		}
		if prev, dup := seen[id]; dup {
			return nil, fmt.Errorf("duplicate migration id %d (%s, %s)", id, prev, entry.Name())
		}
		seen[id] = entry.Name()

		script, err := fs.ReadFile(fsys, entry.Name())
		if err != nil {
			return nil, fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}
		migrations = append(migrations, Migration{
			ID:   id,
			Name: strings.TrimSuffix(entry.Name(), ".sql"),
			SQL:  string(script),
		})
	}

	sort.Slice(migrations, func(i, j int) bool { return migrations[i].ID < migrations[j].ID })
	return migrations, nil
}

// Migrate ensures the bookkeeping table exists and applies every migration whose
// id has not been recorded yet. The pending batch runs in a single transaction.
// It returns the migrations applied by this call (empty when already current).
func Migrate(ctx context.Context, db *sql.DB, migrations []Migration) ([]Migration, error) {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS `+migrationsTable+` (
			id         INTEGER PRIMARY KEY,
			name       TEXT NOT NULL UNIQUE,
			applied_at TEXT NOT NULL
		)
	`); err != nil {
		return nil, fmt.Errorf("creating %s table: %w", migrationsTable, err)
	}

	applied, err := appliedMigrationIDs(ctx, db)
	if err != nil {
		return nil, err
	}

	ordered := make([]Migration, len(migrations))
	copy(ordered, migrations)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })

	var pending []Migration
	for i, m := range ordered {
		if i > 0 && ordered[i-1].ID == m.ID {
			return nil, fmt.Errorf("duplicate migration id %d", m.ID)
		}
		if _, ok := applied[m.ID]; !ok {
			pending = append(pending, m)
		}
	}
	if len(pending) == 0 {
		return nil, nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning migration transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	now := formatTime(time.Now())
	for _, m := range pending {
		if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
			return nil, fmt.Errorf("applying migration %d (%s): %w", m.ID, m.Name, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO `+migrationsTable+` (id, name, applied_at) VALUES (?, ?, ?)`,
			m.ID, m.Name, now,
		); err != nil {
			return nil, fmt.Errorf("recording migration %d (%s): %w", m.ID, m.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing migrations: %w", err)
	}
	return pending, nil
}

func appliedMigrationIDs(ctx context.Context, db *sql.DB) (map[int]struct{}, error) {
	rows, err := db.QueryContext(ctx, `SELECT id FROM `+migrationsTable+` ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("querying applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]struct{})
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning applied migration: %w", err)
		}
		applied[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating applied migrations: %w", err)
	}
	return applied, nil
}

// SchemaVersion returns the highest applied migration id, 0 for a fresh database.
func (s *SQLiteStore) SchemaVersion(ctx context.Context) (int, error) {
	var version sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT MAX(id) FROM `+migrationsTable).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	return int(version.Int64), nil
}
