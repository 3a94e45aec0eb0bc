package sqlitedb

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/pmendyk-crypto/vetting-app/internal/platform/db"
)

//go:embed schema/*.sql
var schemaFS embed.FS

// Migrate applies any embedded schema migrations that have not yet run and
// returns how many were applied.
func Migrate(ctx context.Context, conn *sql.DB) (int, error) {
	if err := ensureMigrationsTable(ctx, conn); err != nil {
		return 0, err
	}
	migrations, err := db.LoadMigrations(schemaFS, "schema")
	if err != nil {
		return 0, err
	}
	applied, err := appliedVersions(ctx, conn)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, mig := range migrations {
		if _, ok := applied[mig.Version]; ok {
			continue
		}
		if err := applyMigration(ctx, conn, mig); err != nil {
			return count, fmt.Errorf("apply migration %d (%s): %w", mig.Version, mig.Name, err)
		}
		count++
	}
	return count, nil
}

// Status reports applied and pending embedded migrations.
func Status(ctx context.Context, conn *sql.DB) ([]db.MigrationStatus, error) {
	if err := ensureMigrationsTable(ctx, conn); err != nil {
		return nil, err
	}
	migrations, err := db.LoadMigrations(schemaFS, "schema")
	if err != nil {
		return nil, err
	}
	applied, err := appliedVersions(ctx, conn)
	if err != nil {
		return nil, err
	}
	return db.Statuses(migrations, applied), nil
}

func ensureMigrationsTable(ctx context.Context, conn *sql.DB) error {
	_, err := conn.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS _migrations (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TEXT NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("create _migrations table: %w", err)
	}
	return nil
}

func appliedVersions(ctx context.Context, conn *sql.DB) (map[int]time.Time, error) {
	rows, err := conn.QueryContext(ctx, `SELECT version, applied_at FROM _migrations`)
	if err != nil {
		return nil, fmt.Errorf("query applied versions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	applied := make(map[int]time.Time)
	for rows.Next() {
		var v int
		var at string
		if err := rows.Scan(&v, &at); err != nil {
			return nil, fmt.Errorf("scan migration version: %w", err)
		}
		t, err := ParseTime(at)
		if err != nil {
			return nil, err
		}
		applied[v] = t
	}
	return applied, rows.Err()
}

func applyMigration(ctx context.Context, conn *sql.DB, mig db.Migration) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, mig.SQL); err != nil {
		return fmt.Errorf("execute SQL: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO _migrations (version, name, applied_at) VALUES (?, ?, ?)`,
		mig.Version, mig.Name, FormatTime(time.Now()),
	); err != nil {
		return fmt.Errorf("record migration: %w", err)
	}
	return tx.Commit()
}
