package amm

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"cosmossdk.io/math"

	"github.com/meridianswap/swapd/internal/storage/keyValueDb"
)

// Pool is one constant-product liquidity pool. Token0/Token1 are an
// ordered pair (lower token id first); a pool is unique per ordered pair.
type Pool struct {
	ID     uint64 `json:"id"`
	Token0 uint64 `json:"token_0"`
	Token1 uint64 `json:"token_1"`

	Balance0 math.Int `json:"balance_0"`
	Balance1 math.Int `json:"balance_1"`

	// FeeBps is the trading fee in basis points, retained in the pool
	// balances on every swap.
	FeeBps uint32 `json:"fee_bps"`

	// AccruedFee0/1 track the cumulative fee portion retained per side,
	// for reporting; the value itself already sits in Balance0/1.
	AccruedFee0 math.Int `json:"accrued_fee_0"`
	AccruedFee1 math.Int `json:"accrued_fee_1"`

	// LPTokenID is the pool-share token registered for this pool.
	LPTokenID uint64 `json:"lp_token_id"`

	// LPSupply is the outstanding pool-share supply.
	LPSupply math.Int `json:"lp_supply"`

	// Version increments on every committed mutation. Operations quote
	// against a version and refuse to commit against any other: a version
	// moving underneath a held lock means the lock was bypassed.
	Version uint64 `json:"version"`

	Removed bool `json:"removed"`

	// Frozen is set when an invariant violation is detected on this pool;
	// a frozen pool rejects all further operations until operator review.
	Frozen bool `json:"frozen"`

	CreatedAt time.Time `json:"created_at"`
}

// OrderPair returns the canonical ordering of a token pair and whether the
// inputs were swapped.
func OrderPair(tokenA, tokenB uint64) (t0, t1 uint64, swapped bool) {
	if tokenA > tokenB {
		return tokenB, tokenA, true
	}
	return tokenA, tokenB, false
}

func pairKey(token0, token1 uint64) []byte {
	return keyValueDb.StringKey(keyValueDb.PrefixPoolPair, fmt.Sprintf("%020d/%020d", token0, token1))
}

// Mid price invariant data: product of balances, used for the
// non-decreasing constant-product check.
func (p *Pool) Product() math.Int {
	return p.Balance0.Mul(p.Balance1)
}

// Validate runs the pool's own invariants.
func (p *Pool) Validate() error {
	if p.Balance0.IsNil() || p.Balance1.IsNil() || p.LPSupply.IsNil() {
		return ErrInvariantViolated.Wrap("nil balance")
	}
	if p.Balance0.IsNegative() || p.Balance1.IsNegative() {
		return ErrInvariantViolated.Wrapf("negative balance: %s / %s", p.Balance0, p.Balance1)
	}
	if p.LPSupply.IsNegative() {
		return ErrInvariantViolated.Wrapf("negative LP supply: %s", p.LPSupply)
	}
	if p.Token0 >= p.Token1 {
		return ErrInvariantViolated.Wrapf("unordered pair %d/%d", p.Token0, p.Token1)
	}
	return nil
}

// PoolStore persists pools and the pair index.
type PoolStore struct {
	db keyValueDb.DB

	// mu serializes id assignment; pool records themselves are guarded by
	// the request layer's resource locks.
	mu sync.Mutex
}

func NewPoolStore(db keyValueDb.DB) *PoolStore {
	return &PoolStore{db: db}
}

func (s *PoolStore) NextID(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctrKey := keyValueDb.StringKey(keyValueDb.PrefixCounter, keyValueDb.CounterPool)
	var next uint64 = 1
	raw, err := s.db.Read(ctx, ctrKey)
	if err == nil {
		next = binary.BigEndian.Uint64(raw) + 1
	} else if !errors.Is(err, keyValueDb.ErrKeyNotFound) {
		return 0, err
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, next)
	if err := s.db.Write(ctx, ctrKey, buf); err != nil {
		return 0, err
	}
	return next, nil
}

func (s *PoolStore) Put(ctx context.Context, pool *Pool) error {
	raw, err := json.Marshal(pool)
	if err != nil {
		return err
	}
	idBuf := make([]byte, 8)
	binary.BigEndian.PutUint64(idBuf, pool.ID)

	return s.db.Batch(ctx, []keyValueDb.BatchOperation{
		{Type: keyValueDb.BatchPut, Key: keyValueDb.U64Key(keyValueDb.PrefixPool, pool.ID), Value: raw},
		{Type: keyValueDb.BatchPut, Key: pairKey(pool.Token0, pool.Token1), Value: idBuf},
	})
}

func (s *PoolStore) Get(ctx context.Context, id uint64) (*Pool, error) {
	raw, err := s.db.Read(ctx, keyValueDb.U64Key(keyValueDb.PrefixPool, id))
	if err != nil {
		if errors.Is(err, keyValueDb.ErrKeyNotFound) {
			return nil, ErrPoolNotFound.Wrapf("id %d", id)
		}
		return nil, err
	}
	var pool Pool
	if err := json.Unmarshal(raw, &pool); err != nil {
		return nil, fmt.Errorf("corrupt pool record %d: %w", id, err)
	}
	return &pool, nil
}

// PutAll writes several pools in one atomic batch. Used by multi-hop
// commits so a half-applied route can never hit the store.
func (s *PoolStore) PutAll(ctx context.Context, pools ...*Pool) error {
	ops := make([]keyValueDb.BatchOperation, 0, len(pools))
	for _, pool := range pools {
		raw, err := json.Marshal(pool)
		if err != nil {
			return err
		}
		ops = append(ops, keyValueDb.BatchOperation{
			Type: keyValueDb.BatchPut, Key: keyValueDb.U64Key(keyValueDb.PrefixPool, pool.ID), Value: raw,
		})
	}
	return s.db.Batch(ctx, ops)
}

// GetByPair resolves a pool from an unordered token pair.
func (s *PoolStore) GetByPair(ctx context.Context, tokenA, tokenB uint64) (*Pool, error) {
	t0, t1, _ := OrderPair(tokenA, tokenB)
	raw, err := s.db.Read(ctx, pairKey(t0, t1))
	if err != nil {
		if errors.Is(err, keyValueDb.ErrKeyNotFound) {
			return nil, ErrPoolNotFound.Wrapf("pair %d/%d", t0, t1)
		}
		return nil, err
	}
	return s.Get(ctx, binary.BigEndian.Uint64(raw))
}

// List returns all pools in id order, including removed and frozen ones.
func (s *PoolStore) List(ctx context.Context) ([]*Pool, error) {
	start, end := keyValueDb.PrefixRange(keyValueDb.PrefixPool)
	it, err := s.db.Iterator(ctx, start, end)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var out []*Pool
	for it.Next() {
		var pool Pool
		if err := json.Unmarshal(it.Value(), &pool); err != nil {
			return nil, fmt.Errorf("corrupt pool record: %w", err)
		}
		out = append(out, &pool)
	}
	return out, it.Error()
}
