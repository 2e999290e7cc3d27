package settle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cosmossdk.io/math"
	"github.com/rs/zerolog"

	"github.com/meridianswap/swapd/internal/storage/keyValueDb"
)

// ClaimStore persists stranded fund legs. Funds already moved in one
// domain are never reversed automatically when the counterpart leg
// fails; they become claims that an operator resolves by hand.
type ClaimStore struct {
	db  keyValueDb.DB
	log zerolog.Logger
}

func NewClaimStore(db keyValueDb.DB, log zerolog.Logger) *ClaimStore {
	return &ClaimStore{
		db:  db,
		log: log.With().Str("component", "claim_store").Logger(),
	}
}

// Create opens a claim for beneficiary over amount of tokenID.
func (s *ClaimStore) Create(ctx context.Context, requestID, tokenID uint64, amount math.Int, beneficiary, reason string) (*ClaimRecord, error) {
	id, err := nextCounter(ctx, s.db, keyValueDb.CounterClaim)
	if err != nil {
		return nil, err
	}
	claim := &ClaimRecord{
		ID:          id,
		RequestID:   requestID,
		TokenID:     tokenID,
		Amount:      amount,
		Beneficiary: beneficiary,
		Reason:      reason,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.put(ctx, claim); err != nil {
		return nil, err
	}

	s.log.Warn().
		Uint64("claim_id", id).
		Uint64("request_id", requestID).
		Str("beneficiary", beneficiary).
		Str("amount", amount.String()).
		Str("reason", reason).
		Msg("claim opened")
	return claim, nil
}

// Get returns one claim by id.
func (s *ClaimStore) Get(ctx context.Context, id uint64) (*ClaimRecord, error) {
	raw, err := s.db.Read(ctx, keyValueDb.U64Key(keyValueDb.PrefixClaim, id))
	if err != nil {
		if errors.Is(err, keyValueDb.ErrKeyNotFound) {
			return nil, ErrClaimNotFound.Wrapf("id %d", id)
		}
		return nil, err
	}
	var claim ClaimRecord
	if err := json.Unmarshal(raw, &claim); err != nil {
		return nil, fmt.Errorf("corrupt claim record %d: %w", id, err)
	}
	return &claim, nil
}

// List returns claims oldest first, optionally including resolved ones.
func (s *ClaimStore) List(ctx context.Context, includeResolved bool) ([]*ClaimRecord, error) {
	start, end := keyValueDb.PrefixRange(keyValueDb.PrefixClaim)
	it, err := s.db.Iterator(ctx, start, end)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var out []*ClaimRecord
	for it.Next() {
		var claim ClaimRecord
		if err := json.Unmarshal(it.Value(), &claim); err != nil {
			return nil, fmt.Errorf("corrupt claim record: %w", err)
		}
		if claim.Resolved && !includeResolved {
			continue
		}
		out = append(out, &claim)
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	return out, nil
}

// Resolve marks a claim settled out of band. Resolving twice is refused.
func (s *ClaimStore) Resolve(ctx context.Context, id uint64) (*ClaimRecord, error) {
	claim, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if claim.Resolved {
		return nil, ErrClaimResolved.Wrapf("id %d", id)
	}

	now := time.Now().UTC()
	claim.Resolved = true
	claim.ResolvedAt = &now
	if err := s.put(ctx, claim); err != nil {
		return nil, err
	}

	s.log.Info().Uint64("claim_id", id).Msg("claim resolved")
	return claim, nil
}

func (s *ClaimStore) put(ctx context.Context, claim *ClaimRecord) error {
	raw, err := json.Marshal(claim)
	if err != nil {
		return err
	}
	return s.db.Write(ctx, keyValueDb.U64Key(keyValueDb.PrefixClaim, claim.ID), raw)
}
