package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDialect_Rebind(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		dialect Dialect
		query   string
		want    string
	}{
		{
			name:    "sqlite keeps placeholders",
			dialect: DialectSQLite,
			query:   "DELETE FROM instances WHERE name = ? AND container_id = ?",
			want:    "DELETE FROM instances WHERE name = ? AND container_id = ?",
		},
		{
			name:    "postgres numbers placeholders",
			dialect: DialectPostgres,
			query:   "DELETE FROM instances WHERE name = ? AND container_id = ?",
			want:    "DELETE FROM instances WHERE name = $1 AND container_id = $2",
		},
		{
			name:    "no placeholders",
			dialect: DialectPostgres,
			query:   "SELECT proxied_port FROM instances",
			want:    "SELECT proxied_port FROM instances",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.dialect.Rebind(tt.query))
		})
	}

	assert.Equal(t, "sqlite", DialectSQLite.String())
	assert.Equal(t, "postgres", DialectPostgres.String())
}

func TestConstraintViolations_SQLite(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	conn, err := NewConnection(ctx, sqliteConfig(t))
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	_, err = conn.DB.ExecContext(ctx, `
CREATE TABLE parents (id TEXT PRIMARY KEY);
CREATE TABLE children (
    id        TEXT PRIMARY KEY,
    parent_id TEXT NOT NULL REFERENCES parents (id),
    port      INTEGER NOT NULL,
    CONSTRAINT children_port_key UNIQUE (port)
);
INSERT INTO parents (id) VALUES ('p');
INSERT INTO children (id, parent_id, port) VALUES ('a', 'p', 1);`)
	require.NoError(t, err)

	_, err = conn.DB.ExecContext(ctx, `INSERT INTO children (id, parent_id, port) VALUES ('a', 'p', 2)`)
	detail, ok := UniqueViolation(err)
	require.True(t, ok)
	assert.Contains(t, detail, "children.id")

	_, err = conn.DB.ExecContext(ctx, `INSERT INTO children (id, parent_id, port) VALUES ('b', 'p', 1)`)
	detail, ok = UniqueViolation(err)
	require.True(t, ok)
	assert.Contains(t, detail, "children.port")

	_, err = conn.DB.ExecContext(ctx, `INSERT INTO children (id, parent_id, port) VALUES ('c', 'missing', 3)`)
	require.Error(t, err)
	assert.True(t, ForeignKeyViolation(err))
	_, ok = UniqueViolation(err)
	assert.False(t, ok)
}

func TestConstraintViolations_Postgres(t *testing.T) {
	t.Parallel()

	err := &pgconn.PgError{Code: "23505", ConstraintName: "instances_proxied_port_key"}
	detail, ok := UniqueViolation(err)
	require.True(t, ok)
	assert.Contains(t, detail, "proxied_port")

	assert.True(t, ForeignKeyViolation(&pgconn.PgError{Code: "23503"}))
	assert.False(t, ForeignKeyViolation(err))

	_, ok = UniqueViolation(errors.New("plain"))
	assert.False(t, ok)
	_, ok = UniqueViolation(nil)
	assert.False(t, ok)
}
