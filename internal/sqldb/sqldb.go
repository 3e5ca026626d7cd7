// Package sqldb holds the database/sql plumbing shared by the metadata index
// and the legacy node store: driver registration, placeholder rebinding and
// schema bootstrap.
package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

// Supported driver names, as registered with database/sql.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// DB wraps a *sql.DB with the dialect it speaks.
type DB struct {
	*sql.DB
	Driver string
}

// Open opens and pings a database using one of the supported drivers.
func Open(ctx context.Context, driver string, dsn string) (*DB, error) {
	switch driver {
	case DriverSQLite, DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported sql driver %q", driver)
	}

	if dsn == "" {
		return nil, fmt.Errorf("%s: dsn must not be empty", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s db: %w", driver, err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s db: %w", driver, err)
	}

	if driver == DriverSQLite {
		// A single writer avoids SQLITE_BUSY under concurrent deletes.
		db.SetMaxOpenConns(1)
	}

	return &DB{DB: db, Driver: driver}, nil
}

// PostgresDSN builds a pgx connection string from discrete parameters.
func PostgresDSN(host string, port int, name, user, password string) string {
	parts := []string{
		"host=" + quote(host),
		"port=" + strconv.Itoa(port),
		"dbname=" + quote(name),
		"user=" + quote(user),
	}
	if password != "" {
		parts = append(parts, "password="+quote(password))
	}
	return strings.Join(parts, " ")
}

func quote(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

// ValidateTableName rejects names that cannot be safely spliced into SQL.
func ValidateTableName(name string) error {
	if !tableNamePattern.MatchString(name) {
		return fmt.Errorf("invalid table name %q", name)
	}
	return nil
}

// Rebind rewrites "?" placeholders into the dialect's positional form.
func (db *DB) Rebind(query string) string {
	if db.Driver != DriverPostgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$")
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Placeholders returns n comma separated "?" markers for an IN clause.
func Placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// TimestampType is the column type used for instants.
func (db *DB) TimestampType() string {
	if db.Driver == DriverPostgres {
		return "TIMESTAMPTZ"
	}
	return "TIMESTAMP"
}

// BlobType is the column type used for raw payloads.
func (db *DB) BlobType() string {
	if db.Driver == DriverPostgres {
		return "BYTEA"
	}
	return "BLOB"
}

// InitSchema executes the given DDL statements in order.
func (db *DB) InitSchema(ctx context.Context, stmts []string) error {
	for _, stmt := range stmts {
		slog.Debug("Applying schema statement", "driver", db.Driver, "stmt", strings.Join(strings.Fields(stmt), " "))
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}
