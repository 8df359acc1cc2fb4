package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/ruteri/ledger-factory-backend/interfaces"
)

// PostgresSlotStore keeps slots as rows of a single key/value table.
type PostgresSlotStore struct {
	db    *sql.DB
	table string
}

// NewPostgresSlotStore connects to dsn and creates the slot table if needed.
func NewPostgresSlotStore(ctx context.Context, dsn, table string) (*PostgresSlotStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	s := &PostgresSlotStore{db: db, table: pq.QuoteIdentifier(table)}

	_, err = db.ExecContext(ctx, fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s (key TEXT PRIMARY KEY, value BYTEA NOT NULL, updated_at TIMESTAMPTZ NOT NULL DEFAULT now())`,
		s.table))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create slot table: %w", err)
	}

	return s, nil
}

func (s *PostgresSlotStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT value FROM %s WHERE key = $1`, s.table), key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrSlotEmpty
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (s *PostgresSlotStore) Put(ctx context.Context, key string, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(
		`INSERT INTO %s (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`, s.table),
		key, value)
	return err
}

func (s *PostgresSlotStore) Close() error {
	return s.db.Close()
}
