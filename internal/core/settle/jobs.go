package settle

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

// JobStore is the durable queue of outbound remote instructions. Status
// transitions go through a single mutex so the processed flag flips
// exactly once even when two relay workers race on the same job id.
type JobStore struct {
	db  keyValueDb.DB
	log zerolog.Logger

	mu sync.Mutex
}

func NewJobStore(db keyValueDb.DB, log zerolog.Logger) *JobStore {
	return &JobStore{
		db:  db,
		log: log.With().Str("component", "job_store").Logger(),
	}
}

// Enqueue assigns the next job id and persists the job as Pending.
func (s *JobStore) Enqueue(ctx context.Context, job *SwapJob) (*SwapJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := nextCounter(ctx, s.db, keyValueDb.CounterJob)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	job.ID = id
	job.Status = JobPending
	job.Processed = false
	job.CreatedAt = now
	job.UpdatedAt = now
	if err := s.put(ctx, job); err != nil {
		return nil, err
	}

	s.log.Info().
		Uint64("job_id", id).
		Uint64("request_id", job.RequestID).
		Str("to", job.Payload.To).
		Str("amount", job.Payload.Amount.String()).
		Msg("swap job enqueued")
	return job, nil
}

// Get returns one job by id.
func (s *JobStore) Get(ctx context.Context, id uint64) (*SwapJob, error) {
	raw, err := s.db.Read(ctx, keyValueDb.U64Key(keyValueDb.PrefixJob, id))
	if err != nil {
		if errors.Is(err, keyValueDb.ErrKeyNotFound) {
			return nil, ErrJobNotFound.Wrapf("id %d", id)
		}
		return nil, err
	}
	var job SwapJob
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, fmt.Errorf("corrupt job record %d: %w", id, err)
	}
	return &job, nil
}

// ListPending returns up to limit jobs still waiting for the relay,
// oldest first. Polling does not change job state; only an explicit
// status update does.
func (s *JobStore) ListPending(ctx context.Context, limit int) ([]*SwapJob, error) {
	if limit <= 0 {
		limit = 10
	}

	start, end := keyValueDb.PrefixRange(keyValueDb.PrefixJob)
	it, err := s.db.Iterator(ctx, start, end)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var out []*SwapJob
	for it.Next() && len(out) < limit {
		var job SwapJob
		if err := json.Unmarshal(it.Value(), &job); err != nil {
			return nil, fmt.Errorf("corrupt job record: %w", err)
		}
		if job.Status != JobPending {
			continue
		}
		out = append(out, &job)
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	return out, nil
}

// ListByRequest returns every job belonging to one request, in id order.
// A request has one job per remote payout leg; completion decisions look
// at all of them.
func (s *JobStore) ListByRequest(ctx context.Context, requestID uint64) ([]*SwapJob, error) {
	start, end := keyValueDb.PrefixRange(keyValueDb.PrefixJob)
	it, err := s.db.Iterator(ctx, start, end)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var out []*SwapJob
	for it.Next() {
		var job SwapJob
		if err := json.Unmarshal(it.Value(), &job); err != nil {
			return nil, fmt.Errorf("corrupt job record: %w", err)
		}
		if job.RequestID != requestID {
			continue
		}
		out = append(out, &job)
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateStatus advances a job through its lifecycle. A terminal
// transition also sets the processed flag; a second terminal attempt on
// the same job is rejected with ErrJobProcessed, which is what makes
// relay retries idempotent.
func (s *JobStore) UpdateStatus(ctx context.Context, id uint64, next JobStatus, txReference, failReason string) (*SwapJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Processed {
		return nil, ErrJobProcessed.Wrapf("id %d", id)
	}
	if !job.Status.canMoveTo(next) {
		return nil, ErrBadJobTransition.Wrapf("job %d: %s -> %s", id, job.Status, next)
	}

	now := time.Now().UTC()
	job.Status = next
	job.UpdatedAt = now
	if txReference != "" {
		job.TxReference = txReference
	}
	if next.Terminal() {
		job.Processed = true
		job.DoneAt = &now
		job.FailReason = failReason
	}
	if err := s.put(ctx, job); err != nil {
		return nil, err
	}

	s.log.Info().Uint64("job_id", id).Str("status", string(next)).Msg("swap job updated")
	return job, nil
}

func (s *JobStore) put(ctx context.Context, job *SwapJob) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return s.db.Write(ctx, keyValueDb.U64Key(keyValueDb.PrefixJob, job.ID), raw)
}

func nextCounter(ctx context.Context, db keyValueDb.DB, name string) (uint64, error) {
	key := keyValueDb.StringKey(keyValueDb.PrefixCounter, name)
	var next uint64 = 1
	raw, err := db.Read(ctx, key)
	if err == nil {
		next = binary.BigEndian.Uint64(raw) + 1
	} else if !errors.Is(err, keyValueDb.ErrKeyNotFound) {
		return 0, err
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, next)
	if err := db.Write(ctx, key, buf); err != nil {
		return 0, err
	}
	return next, nil
}
