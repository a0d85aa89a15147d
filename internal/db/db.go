// internal/db/db.go
package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

//go:embed migrations/schema.sql
var migrationsFS embed.FS

// Open connects to postgres or sqlite and checks the connection.
func Open(ctx context.Context, driver, dsn string) (*sql.DB, Dialect, error) {
	d, err := DialectFor(driver)
	if err != nil {
		return nil, d, err
	}
	if d == SQLite && !strings.HasPrefix(dsn, "file:") && dsn != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, d, err
		}
	}

	conn, err := sql.Open(d.DriverName(), dsn)
	if err != nil {
		return nil, d, fmt.Errorf("open %s: %w", driver, err)
	}
	if d == SQLite {
		// One connection makes every transaction exclusive.
		conn.SetMaxOpenConns(1)
		conn.SetMaxIdleConns(1)
		_, _ = conn.ExecContext(ctx, "PRAGMA busy_timeout = 5000")
		_, _ = conn.ExecContext(ctx, "PRAGMA journal_mode = WAL")
		_, _ = conn.ExecContext(ctx, "PRAGMA foreign_keys = ON")
	}
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, d, fmt.Errorf("ping %s: %w", driver, err)
	}
	return conn, d, nil
}

// Migrate applies the embedded schema. Every statement is idempotent.
func Migrate(ctx context.Context, conn *sql.DB) error {
	b, err := migrationsFS.ReadFile("migrations/schema.sql")
	if err != nil {
		return err
	}
	_, err = conn.ExecContext(ctx, string(b))
	return err
}
