// Package legacy implements the SQL node store that predates the object
// store backend. Rows hold the payload itself, so it serves as the secondary
// store for read, write and delete passthrough during a migration.
package legacy

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"nodestore/internal/nodestore"
	"nodestore/internal/sqldb"
)

// DefaultTable is the table used when none is configured.
const DefaultTable = "nodestore_node"

var _ nodestore.Secondary = (*Store)(nil)

// Store keeps node payloads in a single relational table.
type Store struct {
	db    *sqldb.DB
	table string
	now   func() time.Time
}

// NewStore creates the table if needed. The store owns db and closes it on
// Close.
func NewStore(ctx context.Context, db *sqldb.DB, table string) (*Store, error) {
	if table == "" {
		table = DefaultTable
	}
	if err := sqldb.ValidateTableName(table); err != nil {
		return nil, err
	}

	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			data %s NOT NULL,
			timestamp %s NOT NULL
		)`, table, db.BlobType(), db.TimestampType()),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_timestamp_idx ON %s(timestamp)`, table, table),
	}
	if err := db.InitSchema(ctx, stmts); err != nil {
		return nil, err
	}

	return &Store{db: db, table: table, now: time.Now}, nil
}

// Open opens the database and builds a Store on it.
func Open(ctx context.Context, driver, dsn, table string) (*Store, error) {
	db, err := sqldb.Open(ctx, driver, dsn)
	if err != nil {
		return nil, err
	}

	s, err := NewStore(ctx, db, table)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) GetBytes(ctx context.Context, id string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		s.db.Rebind(fmt.Sprintf(`SELECT data FROM %s WHERE id = ?`, s.table)),
		id,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nodestore.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("legacy: get %q: %w", id, err)
	}
	return data, nil
}

// SetBytes inserts or replaces the payload for id. The ttl is accepted for
// interface compatibility and not enforced; rows expire through Cleanup.
func (s *Store) SetBytes(ctx context.Context, id string, data []byte, ttl time.Duration) error {
	if data == nil {
		data = []byte{}
	}

	_, err := s.db.ExecContext(ctx,
		s.db.Rebind(fmt.Sprintf(
			`INSERT INTO %s(id, data, timestamp) VALUES(?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET
			 	data=excluded.data,
			 	timestamp=excluded.timestamp`, s.table)),
		id, data, s.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("legacy: set %q: %w", id, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		s.db.Rebind(fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, s.table)),
		id,
	)
	if err != nil {
		return fmt.Errorf("legacy: delete %q: %w", id, err)
	}
	return nil
}

func (s *Store) DeleteMulti(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	query := fmt.Sprintf(`DELETE FROM %s WHERE id IN (%s)`, s.table, sqldb.Placeholders(len(ids)))
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...); err != nil {
		return fmt.Errorf("legacy: delete %d ids: %w", len(ids), err)
	}
	return nil
}

func (s *Store) Cleanup(ctx context.Context, cutoff time.Time) error {
	res, err := s.db.ExecContext(ctx,
		s.db.Rebind(fmt.Sprintf(`DELETE FROM %s WHERE timestamp < ?`, s.table)),
		cutoff.UTC(),
	)
	if err != nil {
		return fmt.Errorf("legacy: cleanup: %w", err)
	}

	if n, err := res.RowsAffected(); err == nil {
		slog.Info("Legacy cleanup", "table", s.table, "cutoff", cutoff.UTC().Format(time.RFC3339), "removed", n)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
