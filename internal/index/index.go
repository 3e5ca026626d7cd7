package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"nodestore/internal/sqldb"
)

// DefaultTable is the table used when none is configured.
const DefaultTable = "nodestore_index"

// ErrNotFound is returned by Lookup when no entry exists for an id.
var ErrNotFound = errors.New("index entry not found")

// Index records, for every stored node, the instant its payload was written.
// That instant is the only input besides the id needed to locate the blob.
type Index interface {
	// Upsert records t for id unless id is already present. Existing entries
	// are never overwritten. inserted reports whether a row was created.
	Upsert(ctx context.Context, id string, t time.Time) (inserted bool, err error)

	// Delete removes the entry for id. Deleting an absent id is not an error.
	Delete(ctx context.Context, id string) error

	// Lookup returns the recorded instant for id, or ErrNotFound.
	Lookup(ctx context.Context, id string) (time.Time, error)

	// DeleteBefore removes every entry recorded strictly before cutoff and
	// returns how many were removed.
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Close releases the underlying connection pool.
	Close() error
}

// SQLIndex is an Index stored in a single relational table.
type SQLIndex struct {
	db    *sqldb.DB
	table string

	upsertQuery string
	deleteQuery string
	lookupQuery string
	cutoffQuery string
}

// NewSQLIndex creates the index table if needed and prepares the queries used
// against it. The returned index owns db and closes it on Close.
func NewSQLIndex(ctx context.Context, db *sqldb.DB, table string) (*SQLIndex, error) {
	if table == "" {
		table = DefaultTable
	}
	if err := sqldb.ValidateTableName(table); err != nil {
		return nil, err
	}

	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			timestamp %s NOT NULL
		)`, table, db.TimestampType()),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_timestamp_idx ON %s(timestamp)`, table, table),
	}
	if err := db.InitSchema(ctx, stmts); err != nil {
		return nil, err
	}

	return &SQLIndex{
		db:          db,
		table:       table,
		upsertQuery: db.Rebind(fmt.Sprintf(`INSERT INTO %s(id, timestamp) VALUES(?, ?) ON CONFLICT(id) DO NOTHING`, table)),
		deleteQuery: db.Rebind(fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, table)),
		lookupQuery: db.Rebind(fmt.Sprintf(`SELECT timestamp FROM %s WHERE id = ?`, table)),
		cutoffQuery: db.Rebind(fmt.Sprintf(`DELETE FROM %s WHERE timestamp < ?`, table)),
	}, nil
}

// Open is a convenience that opens the database and builds the index on it.
func Open(ctx context.Context, driver, dsn, table string) (*SQLIndex, error) {
	db, err := sqldb.Open(ctx, driver, dsn)
	if err != nil {
		return nil, err
	}

	idx, err := NewSQLIndex(ctx, db, table)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return idx, nil
}

func (s *SQLIndex) Upsert(ctx context.Context, id string, t time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.upsertQuery, id, t.UTC())
	if err != nil {
		return false, fmt.Errorf("insert index entry %q: %w", id, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert index entry %q: %w", id, err)
	}
	return rows > 0, nil
}

func (s *SQLIndex) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, s.deleteQuery, id); err != nil {
		return fmt.Errorf("delete index entry %q: %w", id, err)
	}
	return nil
}

func (s *SQLIndex) Lookup(ctx context.Context, id string) (time.Time, error) {
	var ts time.Time
	err := s.db.QueryRowContext(ctx, s.lookupQuery, id).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, ErrNotFound
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("lookup index entry %q: %w", id, err)
	}
	return ts.UTC(), nil
}

func (s *SQLIndex) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.cutoffQuery, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete index entries before %s: %w", cutoff.UTC().Format(time.RFC3339), err)
	}
	return res.RowsAffected()
}

func (s *SQLIndex) Close() error {
	return s.db.Close()
}
