// Package migrations applies the delivery engine's embedded schema files.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

//go:embed sql/*.sql
var schemaFS embed.FS

const versionTable = "_hookmill_schema_versions"

// AppliedMigration is one row of the schema version table.
type AppliedMigration struct {
	ID        string
	AppliedAt time.Time
}

// Run applies every schema file that has not been recorded in the version
// table yet, in filename order, each inside its own transaction.
func Run(ctx context.Context, db *sql.DB) error {
	if err := createVersionTable(ctx, db); err != nil {
		return fmt.Errorf("creating version table: %w", err)
	}

	pending, err := pendingVersions(ctx, db)
	if err != nil {
		return err
	}

	for _, id := range pending {
		if err := apply(ctx, db, id); err != nil {
			return fmt.Errorf("migration %s: %w", id, err)
		}
		log.Info().Str("migration", id).Msg("Applied migration")
	}

	return nil
}

// GetApplied returns the recorded migrations in application order.
func GetApplied(ctx context.Context, db *sql.DB) ([]AppliedMigration, error) {
	if err := createVersionTable(ctx, db); err != nil {
		return nil, fmt.Errorf("creating version table: %w", err)
	}

	rows, err := db.QueryContext(ctx,
		`SELECT id, applied_at FROM `+versionTable+` ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying applied migrations: %w", err)
	}
	defer rows.Close()

	var applied []AppliedMigration
	for rows.Next() {
		var (
			m  AppliedMigration
			at string
		)
		if err := rows.Scan(&m.ID, &at); err != nil {
			return nil, fmt.Errorf("scanning applied migration: %w", err)
		}
		m.AppliedAt, _ = time.Parse(time.RFC3339, at)
		applied = append(applied, m)
	}

	return applied, rows.Err()
}

func createVersionTable(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS `+versionTable+` (
			id TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL
		)
	`)
	return err
}

// pendingVersions diffs the embedded schema files against the version table
// and returns the ids still to apply, sorted.
func pendingVersions(ctx context.Context, db *sql.DB) ([]string, error) {
	files, err := fs.Glob(schemaFS, "sql/*.sql")
	if err != nil {
		return nil, fmt.Errorf("listing schema files: %w", err)
	}

	done := make(map[string]bool)
	rows, err := db.QueryContext(ctx, `SELECT id FROM `+versionTable)
	if err != nil {
		return nil, fmt.Errorf("querying applied migrations: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning applied migration: %w", err)
		}
		done[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var pending []string
	for _, f := range files {
		id := strings.TrimSuffix(strings.TrimPrefix(f, "sql/"), ".sql")
		if !done[id] {
			pending = append(pending, id)
		}
	}
	sort.Strings(pending)

	return pending, nil
}

func apply(ctx context.Context, db *sql.DB, id string) error {
	script, err := schemaFS.ReadFile("sql/" + id + ".sql")
	if err != nil {
		return fmt.Errorf("reading schema file: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range statements(string(script)) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("executing %q: %w", firstLine(stmt), err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO `+versionTable+` (id, applied_at) VALUES (?, ?)`,
		id, time.Now().UTC().Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("recording migration: %w", err)
	}

	return tx.Commit()
}

// statements splits a schema script on semicolons. Full-line comments are
// dropped first so a commented header never swallows the statement that
// follows it, and quoted literals may contain semicolons.
func statements(script string) []string {
	var clean strings.Builder
	for _, line := range strings.Split(script, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		clean.WriteString(line)
		clean.WriteByte('\n')
	}
	script = clean.String()

	var (
		out   []string
		quote byte
		start int
	)
	for i := 0; i < len(script); i++ {
		c := script[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == ';':
			if stmt := strings.TrimSpace(script[start:i]); stmt != "" {
				out = append(out, stmt)
			}
			start = i + 1
		}
	}
	if stmt := strings.TrimSpace(script[start:]); stmt != "" {
		out = append(out, stmt)
	}

	return out
}

func firstLine(stmt string) string {
	if i := strings.IndexByte(stmt, '\n'); i >= 0 {
		return stmt[:i]
	}
	return stmt
}
