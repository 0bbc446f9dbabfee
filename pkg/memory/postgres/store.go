// Package postgres provides a PostgreSQL-backed transcript [memory.Store]
// using a call_transcripts table.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/voxline/voxgate/pkg/memory"
)

// schema creates the call_transcripts table. Applied by [New] so a fresh
// database works without a migration step.
const schema = `
CREATE TABLE IF NOT EXISTS call_transcripts (
    id         BIGSERIAL PRIMARY KEY,
    call_id    TEXT        NOT NULL,
    session_id TEXT        NOT NULL,
    speaker    TEXT        NOT NULL,
    text       TEXT        NOT NULL,
    language   TEXT        NOT NULL DEFAULT '',
    timestamp  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS call_transcripts_call_ts_idx
    ON call_transcripts (call_id, timestamp);`

// Compile-time assertion that Store satisfies memory.Store.
var _ memory.Store = (*Store)(nil)

// Store is a transcript store backed by a pgx connection pool.
// All methods are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to the database at dsn, ensures the schema exists, and
// returns the store. The caller must call Close when done.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("transcript store: connect: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("transcript store: ensure schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Append implements [memory.Store].
func (s *Store) Append(ctx context.Context, entry memory.Entry) error {
	const q = `
		INSERT INTO call_transcripts (call_id, session_id, speaker, text, language, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.pool.Exec(ctx, q,
		entry.CallID,
		entry.SessionID,
		string(entry.Speaker),
		entry.Text,
		entry.Language,
		entry.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("transcript store: append: %w", err)
	}
	return nil
}

// Recent implements [memory.Store].
func (s *Store) Recent(ctx context.Context, callID string, window time.Duration) ([]memory.Entry, error) {
	const q = `
		SELECT call_id, session_id, speaker, text, language, timestamp
		FROM   call_transcripts
		WHERE  call_id   = $1
		  AND  timestamp >= now() - ($2::bigint * interval '1 microsecond')
		ORDER  BY timestamp`

	rows, err := s.pool.Query(ctx, q, callID, window.Microseconds())
	if err != nil {
		return nil, fmt.Errorf("transcript store: recent: %w", err)
	}

	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.Entry, error) {
		var (
			e       memory.Entry
			speaker string
		)
		if err := row.Scan(&e.CallID, &e.SessionID, &speaker, &e.Text, &e.Language, &e.Timestamp); err != nil {
			return memory.Entry{}, err
		}
		e.Speaker = memory.Speaker(speaker)
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("transcript store: scan rows: %w", err)
	}
	if entries == nil {
		entries = []memory.Entry{}
	}
	return entries, nil
}
