package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

type Dialect int

const (
	Postgres Dialect = iota
	SQLite
)

func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case "postgres", "postgresql":
		return Postgres, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	}
	return Postgres, fmt.Errorf("unsupported driver %q", driver)
}

func (d Dialect) DriverName() string {
	if d == SQLite {
		return "sqlite"
	}
	return "postgres"
}

func (d Dialect) String() string { return d.DriverName() }

// Rebind rewrites ? placeholders into $n for postgres. Queries must not
// contain literal question marks.
func (d Dialect) Rebind(q string) string {
	if d != Postgres {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for i := 0; i < len(q); i++ {
		if q[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(q[i])
	}
	return b.String()
}

// In builds a membership predicate for column. Postgres binds a single text
// array; sqlite expands one placeholder per value.
func (d Dialect) In(column string, values []string) (string, []any) {
	if len(values) == 0 {
		return "1=0", nil
	}
	if d == Postgres {
		return column + " = ANY(?)", []any{pq.Array(values)}
	}
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return column + " IN (" + strings.TrimSuffix(strings.Repeat("?,", len(values)), ",") + ")", args
}

// LockResource serializes scheduling transactions for one sending resource.
// sqlite runs on a single connection, so its transactions are already
// exclusive.
func (d Dialect) LockResource(ctx context.Context, tx *sql.Tx, resourceID string) error {
	if d != Postgres {
		return nil
	}
	_, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "quota:"+resourceID)
	return err
}

// IsUniqueViolation reports whether err is a primary key or unique
// constraint failure from either driver.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
			return true
		case sqlite3.SQLITE_CONSTRAINT:
			return strings.Contains(liteErr.Error(), "UNIQUE constraint failed")
		}
	}
	return false
}
