package settle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"cosmossdk.io/math"
	"github.com/rs/zerolog"

	"github.com/meridianswap/swapd/internal/storage/keyValueDb"
)

// NoteStore holds relay-reported deposit notifications. A notification
// is spendable evidence of remote funds, so it is consumed at most once;
// unmatched notifications stay queued until a request claims them or an
// operator reconciles them.
type NoteStore struct {
	db  keyValueDb.DB
	log zerolog.Logger

	mu sync.Mutex
}

func NewNoteStore(db keyValueDb.DB, log zerolog.Logger) *NoteStore {
	return &NoteStore{
		db:  db,
		log: log.With().Str("component", "note_store").Logger(),
	}
}

// Record stores a new notification. Re-reporting the same remote
// transaction reference is a no-op returning the existing record, so the
// relay can push the same deposit twice without creating double credit.
func (s *NoteStore) Record(ctx context.Context, tokenID uint64, amount math.Int, sender, txReference string) (*IncomingNotification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, err := s.findByTxReference(ctx, txReference); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	id, err := nextCounter(ctx, s.db, keyValueDb.CounterNote)
	if err != nil {
		return nil, err
	}
	note := &IncomingNotification{
		ID:          id,
		TokenID:     tokenID,
		Amount:      amount,
		Sender:      sender,
		TxReference: txReference,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.put(ctx, note); err != nil {
		return nil, err
	}

	s.log.Info().
		Uint64("note_id", id).
		Uint64("token_id", tokenID).
		Str("sender", sender).
		Str("amount", amount.String()).
		Msg("deposit notification recorded")
	return note, nil
}

// Consume finds an unconsumed notification matching token, sender and
// exact amount and marks it used by requestID. The match and the flag
// flip happen under one lock, so two requests can never spend the same
// deposit.
func (s *NoteStore) Consume(ctx context.Context, requestID, tokenID uint64, sender string, amount math.Int) (*IncomingNotification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	note, err := s.findMatch(ctx, tokenID, sender, amount)
	if err != nil {
		return nil, err
	}
	if note == nil {
		return nil, ErrNoDeposit.Wrapf("token %d, sender %s, amount %s", tokenID, sender, amount)
	}

	now := time.Now().UTC()
	note.Consumed = true
	note.RequestID = requestID
	note.UsedAt = &now
	if err := s.put(ctx, note); err != nil {
		return nil, err
	}

	s.log.Info().Uint64("note_id", note.ID).Uint64("request_id", requestID).Msg("deposit notification consumed")
	return note, nil
}

// Get returns one notification by id.
func (s *NoteStore) Get(ctx context.Context, id uint64) (*IncomingNotification, error) {
	raw, err := s.db.Read(ctx, keyValueDb.U64Key(keyValueDb.PrefixNotification, id))
	if err != nil {
		if errors.Is(err, keyValueDb.ErrKeyNotFound) {
			return nil, ErrNoteNotFound.Wrapf("id %d", id)
		}
		return nil, err
	}
	var note IncomingNotification
	if err := json.Unmarshal(raw, &note); err != nil {
		return nil, fmt.Errorf("corrupt notification record %d: %w", id, err)
	}
	return &note, nil
}

// ListUnconsumed returns every notification still waiting to be matched,
// oldest first. Reconciliation tooling reads this.
func (s *NoteStore) ListUnconsumed(ctx context.Context) ([]*IncomingNotification, error) {
	var out []*IncomingNotification
	err := s.scan(ctx, func(note *IncomingNotification) bool {
		if !note.Consumed {
			out = append(out, note)
		}
		return true
	})
	return out, err
}

func (s *NoteStore) findByTxReference(ctx context.Context, txReference string) (*IncomingNotification, error) {
	var found *IncomingNotification
	err := s.scan(ctx, func(note *IncomingNotification) bool {
		if note.TxReference == txReference {
			found = note
			return false
		}
		return true
	})
	return found, err
}

func (s *NoteStore) findMatch(ctx context.Context, tokenID uint64, sender string, amount math.Int) (*IncomingNotification, error) {
	var found *IncomingNotification
	err := s.scan(ctx, func(note *IncomingNotification) bool {
		if note.Consumed || note.TokenID != tokenID || note.Sender != sender || !note.Amount.Equal(amount) {
			return true
		}
		found = note
		return false
	})
	return found, err
}

func (s *NoteStore) scan(ctx context.Context, fn func(*IncomingNotification) bool) error {
	start, end := keyValueDb.PrefixRange(keyValueDb.PrefixNotification)
	it, err := s.db.Iterator(ctx, start, end)
	if err != nil {
		return err
	}
	defer it.Close()

	for it.Next() {
		var note IncomingNotification
		if err := json.Unmarshal(it.Value(), &note); err != nil {
			return fmt.Errorf("corrupt notification record: %w", err)
		}
		if !fn(&note) {
			break
		}
	}
	return it.Error()
}

func (s *NoteStore) put(ctx context.Context, note *IncomingNotification) error {
	raw, err := json.Marshal(note)
	if err != nil {
		return err
	}
	return s.db.Write(ctx, keyValueDb.U64Key(keyValueDb.PrefixNotification, note.ID), raw)
}
