package request

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/meridianswap/swapd/internal/storage/keyValueDb"
)

// Ledger assigns monotonic request ids and owns every mutation of Request
// records. Per-resource serialization across operations is enforced with
// persisted lock records: other calls may run between any two store
// operations, so only durable state can arbitrate. The in-memory mutex
// covers just the two read-then-write hot spots the lock records cannot,
// id assignment and lock acquisition, which would otherwise race between
// concurrently served connections.
type Ledger struct {
	db  keyValueDb.DB
	log zerolog.Logger

	mu sync.Mutex
}

func NewLedger(db keyValueDb.DB, log zerolog.Logger) *Ledger {
	return &Ledger{
		db:  db,
		log: log.With().Str("component", "request_ledger").Logger(),
	}
}

// Create opens a new request in Pending status and assigns the next id.
// Ids are never reused; the counter only moves forward.
func (l *Ledger) Create(ctx context.Context, caller string, payload Payload) (*Request, error) {
	if err := payload.Validate(); err != nil {
		return nil, err
	}

	id, err := l.nextID(ctx)
	if err != nil {
		return nil, err
	}

	req := &Request{
		ID:      id,
		Caller:  caller,
		Payload: payload,
		StatusHistory: []StatusEntry{
			{Status: StatusPending, At: time.Now().UTC()},
		},
		CreatedAt: time.Now().UTC(),
	}
	if err := l.put(ctx, req); err != nil {
		return nil, err
	}

	l.log.Info().Uint64("request_id", id).Str("kind", string(payload.Kind)).Str("caller", caller).Msg("request created")
	return req, nil
}

// AppendStatus advances a request's status. Terminal requests reject any
// further mutation and statuses never move backwards.
func (l *Ledger) AppendStatus(ctx context.Context, id uint64, status Status, reason string) (*Request, error) {
	req, err := l.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Terminal() {
		return nil, ErrTerminal.Wrapf("request %d is %s", id, req.Status())
	}
	if rank[status] < rank[req.Status()] {
		return nil, ErrStatusRegress.Wrapf("request %d: %s -> %s", id, req.Status(), status)
	}

	req.StatusHistory = append(req.StatusHistory, StatusEntry{
		Status: status,
		Reason: reason,
		At:     time.Now().UTC(),
	})
	if status.Terminal() {
		now := time.Now().UTC()
		req.CompletedAt = &now
	}
	if err := l.put(ctx, req); err != nil {
		return nil, err
	}
	return req, nil
}

// Finalize writes the reply and the terminal status in one mutation.
func (l *Ledger) Finalize(ctx context.Context, id uint64, status Status, reason string, reply *Reply) (*Request, error) {
	if !status.Terminal() {
		return nil, fmt.Errorf("finalize with non-terminal status %s", status)
	}

	req, err := l.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Terminal() {
		return nil, ErrTerminal.Wrapf("request %d is %s", id, req.Status())
	}

	now := time.Now().UTC()
	req.Reply = reply
	req.StatusHistory = append(req.StatusHistory, StatusEntry{Status: status, Reason: reason, At: now})
	req.CompletedAt = &now
	if err := l.put(ctx, req); err != nil {
		return nil, err
	}

	l.log.Info().Uint64("request_id", id).Str("status", string(status)).Msg("request finalized")
	return req, nil
}

// Get returns one request by id.
func (l *Ledger) Get(ctx context.Context, id uint64) (*Request, error) {
	raw, err := l.db.Read(ctx, keyValueDb.U64Key(keyValueDb.PrefixRequest, id))
	if err != nil {
		if errors.Is(err, keyValueDb.ErrKeyNotFound) {
			return nil, ErrNotFound.Wrapf("id %d", id)
		}
		return nil, err
	}
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, fmt.Errorf("corrupt request record %d: %w", id, err)
	}
	return &req, nil
}

// List returns up to limit requests with id <= beforeID (0 means newest),
// newest first. Pagination continues by passing the last returned id - 1.
func (l *Ledger) List(ctx context.Context, beforeID uint64, limit int) ([]*Request, error) {
	if limit <= 0 {
		limit = 20
	}

	start, end := keyValueDb.PrefixRange(keyValueDb.PrefixRequest)
	it, err := l.db.Iterator(ctx, start, end)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	// Requests are stored in ascending id order; collect then reverse the
	// tail window. Request volume per scan is bounded by the id window.
	var all []*Request
	for it.Next() {
		id, ok := keyValueDb.ParseU64Key(keyValueDb.PrefixRequest, it.Key())
		if !ok {
			continue
		}
		if beforeID != 0 && id > beforeID {
			continue
		}
		var req Request
		if err := json.Unmarshal(it.Value(), &req); err != nil {
			return nil, fmt.Errorf("corrupt request record: %w", err)
		}
		all = append(all, &req)
	}
	if err := it.Error(); err != nil {
		return nil, err
	}

	out := make([]*Request, 0, limit)
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

func (l *Ledger) nextID(ctx context.Context) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ctrKey := keyValueDb.StringKey(keyValueDb.PrefixCounter, keyValueDb.CounterRequest)
	var next uint64 = 1
	raw, err := l.db.Read(ctx, ctrKey)
	if err == nil {
		next = binary.BigEndian.Uint64(raw) + 1
	} else if !errors.Is(err, keyValueDb.ErrKeyNotFound) {
		return 0, err
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, next)
	if err := l.db.Write(ctx, ctrKey, buf); err != nil {
		return 0, err
	}
	return next, nil
}

func (l *Ledger) put(ctx context.Context, req *Request) error {
	raw, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return l.db.Write(ctx, keyValueDb.U64Key(keyValueDb.PrefixRequest, req.ID), raw)
}
