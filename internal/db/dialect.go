package db

import (
	"errors"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Dialect identifies the SQL flavour of a Connection
type Dialect int

const (
	// DialectSQLite uses "?" placeholders
	DialectSQLite Dialect = iota
	// DialectPostgres uses "$n" placeholders
	DialectPostgres
)

// String returns the driver name used by migrations and logs
func (d Dialect) String() string {
	if d == DialectPostgres {
		return "postgres"
	}
	return "sqlite"
}

// Rebind rewrites "?" placeholders to the dialect's native form.
// Queries in this module never contain literal question marks.
func (d Dialect) Rebind(query string) string {
	if d != DialectPostgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// UniqueViolation reports whether err is a unique or primary key violation.
// The returned detail names the violated constraint or column so callers can
// tell which key collided.
func UniqueViolation(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == pgUniqueViolation {
			return pgErr.ConstraintName + " " + pgErr.Detail, true
		}
		return "", false
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return liteErr.Error(), true
		case sqlite3.SQLITE_CONSTRAINT:
			msg := liteErr.Error()
			return msg, strings.Contains(msg, "UNIQUE") || strings.Contains(msg, "PRIMARY KEY")
		}
	}
	return "", false
}

// ForeignKeyViolation reports whether err is a foreign key violation
func ForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgForeignKeyViolation
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code() == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY
	}
	return false
}
