package request

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/meridianswap/swapd/internal/storage/keyValueDb"
)

// Resource names for the persisted lock table.
func PoolResource(id uint64) string  { return fmt.Sprintf("pool/%d", id) }
func PairResource(t0, t1 uint64) string {
	if t0 > t1 {
		t0, t1 = t1, t0
	}
	return fmt.Sprintf("pair/%d:%d", t0, t1)
}
func JobResource(id uint64) string   { return fmt.Sprintf("job/%d", id) }
func NoteResource(id uint64) string  { return fmt.Sprintf("note/%d", id) }
func ClaimResource(id uint64) string { return fmt.Sprintf("claim/%d", id) }

type lockRecord struct {
	RequestID  uint64    `json:"request_id"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// Acquire takes persisted ownership of every named resource for one
// request, before its first suspension point. If any resource is already
// held the whole acquisition fails with ErrBusy and nothing is written:
// callers fail fast rather than block, since no true blocking exists in
// this execution model. The check and the write happen under the ledger
// mutex so two requests racing for the same resource cannot both win.
func (l *Ledger) Acquire(ctx context.Context, requestID uint64, resources ...string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, res := range resources {
		raw, err := l.db.Read(ctx, keyValueDb.StringKey(keyValueDb.PrefixLock, res))
		if err == nil {
			var rec lockRecord
			if jsonErr := json.Unmarshal(raw, &rec); jsonErr == nil && rec.RequestID != requestID {
				return ErrBusy.Wrapf("resource %s held by request %d", res, rec.RequestID)
			}
			continue
		}
		if !errors.Is(err, keyValueDb.ErrKeyNotFound) {
			return err
		}
	}

	raw, err := json.Marshal(lockRecord{RequestID: requestID, AcquiredAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	ops := make([]keyValueDb.BatchOperation, 0, len(resources))
	for _, res := range resources {
		ops = append(ops, keyValueDb.BatchOperation{
			Type: keyValueDb.BatchPut, Key: keyValueDb.StringKey(keyValueDb.PrefixLock, res), Value: raw,
		})
	}
	return l.db.Batch(ctx, ops)
}

// Held reports whether requestID currently owns the resource. Multi-step
// operations call this when resuming after a suspension point.
func (l *Ledger) Held(ctx context.Context, requestID uint64, resource string) (bool, error) {
	raw, err := l.db.Read(ctx, keyValueDb.StringKey(keyValueDb.PrefixLock, resource))
	if err != nil {
		if errors.Is(err, keyValueDb.ErrKeyNotFound) {
			return false, nil
		}
		return false, err
	}
	var rec lockRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return false, err
	}
	return rec.RequestID == requestID, nil
}

// ReleaseAll drops every lock owned by requestID. Used when a request
// completes asynchronously and the original call frame that acquired the
// locks is long gone.
func (l *Ledger) ReleaseAll(ctx context.Context, requestID uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	start, end := keyValueDb.PrefixRange(keyValueDb.PrefixLock)
	it, err := l.db.Iterator(ctx, start, end)
	if err != nil {
		return err
	}
	defer it.Close()

	var ops []keyValueDb.BatchOperation
	for it.Next() {
		var rec lockRecord
		if err := json.Unmarshal(it.Value(), &rec); err != nil {
			continue
		}
		if rec.RequestID != requestID {
			continue
		}
		key := make([]byte, len(it.Key()))
		copy(key, it.Key())
		ops = append(ops, keyValueDb.BatchOperation{Type: keyValueDb.BatchDelete, Key: key})
	}
	if err := it.Error(); err != nil {
		return err
	}
	if len(ops) == 0 {
		return nil
	}
	return l.db.Batch(ctx, ops)
}

// Release drops the named locks. Only the owning request may release;
// releasing a lock someone else holds is refused.
func (l *Ledger) Release(ctx context.Context, requestID uint64, resources ...string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	ops := make([]keyValueDb.BatchOperation, 0, len(resources))
	for _, res := range resources {
		held, err := l.Held(ctx, requestID, res)
		if err != nil {
			return err
		}
		if !held {
			return ErrLockNotHeld.Wrapf("request %d does not hold %s", requestID, res)
		}
		ops = append(ops, keyValueDb.BatchOperation{
			Type: keyValueDb.BatchDelete, Key: keyValueDb.StringKey(keyValueDb.PrefixLock, res),
		})
	}
	return l.db.Batch(ctx, ops)
}
