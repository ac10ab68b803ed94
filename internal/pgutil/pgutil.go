package pgutil

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/sirupsen/logrus"
)

const pingTimeout = 5 * time.Second

// Conn is the tool's handle to the database. One live connection pool per
// process; every statement acquires and releases its own connection scope.
type Conn struct {
	DB  *sql.DB
	DSN string
}

// Connect opens a handle and issues a liveness probe before returning it.
func Connect(ctx context.Context, dsn string) (*Conn, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database url is required")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Conn{DB: db, DSN: dsn}, nil
}

func (c *Conn) Close() error { return c.DB.Close() }

// TableRef is an optional schema plus a table name, split from a
// user-supplied identifier on the first dot.
type TableRef struct {
	Schema string
	Table  string
}

func ParseTableRef(identifier string) TableRef {
	if schema, table, ok := strings.Cut(identifier, "."); ok {
		return TableRef{Schema: schema, Table: table}
	}
	return TableRef{Table: identifier}
}

func (r TableRef) String() string {
	if r.Schema != "" {
		return r.Schema + "." + r.Table
	}
	return r.Table
}

// ResolveSchema splits the identifier and, when a schema is present, sets
// the session search path to "{schema}, public". Failure to set the path is
// a warning only; the caller proceeds with the parsed reference either way.
// The identifier is interpolated as typed, matching the rest of the tool.
func (c *Conn) ResolveSchema(ctx context.Context, identifier string) TableRef {
	ref := ParseTableRef(identifier)
	if ref.Schema == "" {
		return ref
	}

	stmt := fmt.Sprintf("SET search_path TO %s, public", ref.Schema)
	if _, err := c.DB.ExecContext(ctx, stmt); err != nil {
		logrus.Warnf("could not set search path for schema %s: %v", ref.Schema, err)
		return ref
	}

	logrus.Infof("search path set to include schema %s", ref.Schema)
	return ref
}

// TableExists reports whether the identifier is queryable. Any error from
// the probe, whatever its cause, means false.
func (c *Conn) TableExists(ctx context.Context, identifier string) bool {
	c.ResolveSchema(ctx, identifier)

	probe := fmt.Sprintf("SELECT 1 FROM %s LIMIT 1", identifier)
	rows, err := c.DB.QueryContext(ctx, probe)
	if err != nil {
		return false
	}
	_ = rows.Close()

	return true
}

// ListTables returns the table names in the public schema.
func (c *Conn) ListTables(ctx context.Context) ([]string, error) {
	rows, err := c.DB.QueryContext(ctx,
		"SELECT table_name FROM information_schema.tables WHERE table_schema = 'public'")
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}

	return tables, nil
}
