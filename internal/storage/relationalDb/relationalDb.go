// Package relationalDb keeps the queryable transfer history in sqlite.
// The key-value store remains the source of truth; this is a derived
// index serving the transactions query, so writes here are allowed to
// fail without blocking settlement.
package relationalDb

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"cosmossdk.io/math"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/meridianswap/swapd/internal/core/settle"
)

const schema = `
CREATE TABLE IF NOT EXISTS transfers (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	request_id   INTEGER NOT NULL,
	kind         TEXT    NOT NULL,
	token_id     INTEGER NOT NULL,
	amount       TEXT    NOT NULL,
	principal    TEXT    NOT NULL,
	tx_reference TEXT    NOT NULL DEFAULT '',
	created_at   TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transfers_principal ON transfers(principal);
CREATE INDEX IF NOT EXISTS idx_transfers_token     ON transfers(token_id);
CREATE INDEX IF NOT EXISTS idx_transfers_request   ON transfers(request_id);
`

// Store wraps the sqlite handle. Implements settle.TxRecorder.
type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

// Open opens (or creates) the history database at path and applies the
// schema. Use ":memory:" for an ephemeral store.
func Open(path string, log zerolog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history db %s: %w", path, err)
	}
	// sqlite serializes writers; a single connection avoids SQLITE_BUSY
	// under concurrent settlement legs.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply history schema: %w", err)
	}
	return &Store{
		db:  db,
		log: log.With().Str("component", "history_db").Logger(),
	}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// RecordTransfer appends one completed fund movement.
func (s *Store) RecordTransfer(rec *settle.TxRecord) (uint64, error) {
	created := rec.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	res, err := s.db.Exec(
		`INSERT INTO transfers (request_id, kind, token_id, amount, principal, tx_reference, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.RequestID, rec.Kind, rec.TokenID, rec.Amount.String(), rec.Principal, rec.TxReference,
		created.Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("insert transfer: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	rec.ID = uint64(id)
	return rec.ID, nil
}

// Filter narrows a transactions query. Zero values mean no constraint.
type Filter struct {
	Principal string
	TokenID   uint64
	RequestID uint64

	// BeforeID pages backwards: only rows with id < BeforeID are
	// returned. Zero starts from the newest row.
	BeforeID uint64
	Limit    int
}

// Query returns transfer history rows newest first.
func (s *Store) Query(ctx context.Context, f Filter) ([]*settle.TxRecord, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, request_id, kind, token_id, amount, principal, tx_reference, created_at
	          FROM transfers WHERE 1=1`
	var args []any
	if f.Principal != "" {
		query += " AND principal = ?"
		args = append(args, f.Principal)
	}
	if f.TokenID != 0 {
		query += " AND token_id = ?"
		args = append(args, f.TokenID)
	}
	if f.RequestID != 0 {
		query += " AND request_id = ?"
		args = append(args, f.RequestID)
	}
	if f.BeforeID != 0 {
		query += " AND id < ?"
		args = append(args, f.BeforeID)
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query transfers: %w", err)
	}
	defer rows.Close()

	var out []*settle.TxRecord
	for rows.Next() {
		var (
			rec       settle.TxRecord
			amount    string
			createdAt string
		)
		if err := rows.Scan(&rec.ID, &rec.RequestID, &rec.Kind, &rec.TokenID, &amount, &rec.Principal, &rec.TxReference, &createdAt); err != nil {
			return nil, err
		}
		val, ok := math.NewIntFromString(amount)
		if !ok {
			return nil, fmt.Errorf("corrupt amount %q in transfer row %d", amount, rec.ID)
		}
		rec.Amount = val
		ts, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("corrupt timestamp in transfer row %d: %w", rec.ID, err)
		}
		rec.CreatedAt = ts
		out = append(out, &rec)
	}
	return out, rows.Err()
}
