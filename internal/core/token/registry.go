package token

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"cosmossdk.io/math"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/meridianswap/swapd/internal/storage/keyValueDb"
)

const cacheSize = 512

// Registry persists registered tokens. Reads go through an LRU cache;
// writes go straight to the store and invalidate the cache entry.
type Registry struct {
	db    keyValueDb.DB
	cache *lru.Cache[uint64, Token]
	log   zerolog.Logger
}

func NewRegistry(db keyValueDb.DB, log zerolog.Logger) (*Registry, error) {
	cache, err := lru.New[uint64, Token](cacheSize)
	if err != nil {
		return nil, err
	}
	return &Registry{
		db:    db,
		cache: cache,
		log:   log.With().Str("component", "token_registry").Logger(),
	}, nil
}

// Add registers a new token from a descriptor and returns it with its
// assigned id. Symbols are unique among non-removed tokens.
func (r *Registry) Add(ctx context.Context, desc Descriptor) (Token, error) {
	if err := desc.Validate(); err != nil {
		return Token{}, err
	}

	symKey := keyValueDb.StringKey(keyValueDb.PrefixTokenSymbol, desc.Symbol)
	taken, err := r.db.Has(ctx, symKey)
	if err != nil {
		return Token{}, err
	}
	if taken {
		return Token{}, ErrSymbolTaken.Wrap(desc.Symbol)
	}

	id, err := r.nextID(ctx)
	if err != nil {
		return Token{}, err
	}

	tok := Token{
		ID:                id,
		Kind:              desc.Kind,
		Symbol:            desc.Symbol,
		Name:              desc.Name,
		Decimals:          desc.Decimals,
		Fee:               desc.Fee,
		PrimaryLedger:     desc.PrimaryLedger,
		RemoteMint:        desc.RemoteMint,
		SupportsAllowance: desc.SupportsAllowance,
	}
	if err := r.put(ctx, tok); err != nil {
		return Token{}, err
	}

	r.log.Info().Uint64("token_id", id).Str("symbol", tok.Symbol).Str("kind", tok.Kind.String()).Msg("token registered")
	return tok, nil
}

// AddPoolShare registers the receipt token for a new pool. Called by the
// AMM engine only.
func (r *Registry) AddPoolShare(ctx context.Context, symbol string, decimals uint8, poolID uint64) (Token, error) {
	symKey := keyValueDb.StringKey(keyValueDb.PrefixTokenSymbol, symbol)
	taken, err := r.db.Has(ctx, symKey)
	if err != nil {
		return Token{}, err
	}
	if taken {
		return Token{}, ErrSymbolTaken.Wrap(symbol)
	}

	id, err := r.nextID(ctx)
	if err != nil {
		return Token{}, err
	}

	tok := Token{
		ID:       id,
		Kind:     KindPoolShare,
		Symbol:   symbol,
		Name:     symbol,
		Decimals: decimals,
		Fee:      math.ZeroInt(),
		PoolID:   poolID,
	}
	if err := r.put(ctx, tok); err != nil {
		return Token{}, err
	}
	return tok, nil
}

// Get returns a token by id, removed or not. Callers that must not touch
// removed tokens use GetActive.
func (r *Registry) Get(ctx context.Context, id uint64) (Token, error) {
	if tok, ok := r.cache.Get(id); ok {
		return tok, nil
	}

	raw, err := r.db.Read(ctx, keyValueDb.U64Key(keyValueDb.PrefixToken, id))
	if err != nil {
		if errors.Is(err, keyValueDb.ErrKeyNotFound) {
			return Token{}, ErrNotFound.Wrapf("id %d", id)
		}
		return Token{}, err
	}

	var tok Token
	if err := json.Unmarshal(raw, &tok); err != nil {
		return Token{}, fmt.Errorf("corrupt token record %d: %w", id, err)
	}
	r.cache.Add(id, tok)
	return tok, nil
}

// GetActive returns a token by id, rejecting removed tokens.
func (r *Registry) GetActive(ctx context.Context, id uint64) (Token, error) {
	tok, err := r.Get(ctx, id)
	if err != nil {
		return Token{}, err
	}
	if tok.Removed {
		return Token{}, ErrRemoved.Wrap(tok.Symbol)
	}
	return tok, nil
}

// GetBySymbol resolves a symbol through the secondary index.
func (r *Registry) GetBySymbol(ctx context.Context, symbol string) (Token, error) {
	raw, err := r.db.Read(ctx, keyValueDb.StringKey(keyValueDb.PrefixTokenSymbol, symbol))
	if err != nil {
		if errors.Is(err, keyValueDb.ErrKeyNotFound) {
			return Token{}, ErrNotFound.Wrap(symbol)
		}
		return Token{}, err
	}
	return r.Get(ctx, binary.BigEndian.Uint64(raw))
}

// UpdateMetadata corrects display metadata. Economic fields (kind, fee,
// ledger references) are immutable.
func (r *Registry) UpdateMetadata(ctx context.Context, id uint64, name string, decimals uint8) (Token, error) {
	tok, err := r.Get(ctx, id)
	if err != nil {
		return Token{}, err
	}
	tok.Name = name
	tok.Decimals = decimals
	if err := r.putRecordOnly(ctx, tok); err != nil {
		return Token{}, err
	}
	return tok, nil
}

// Remove flags a token as removed. Records are never deleted.
func (r *Registry) Remove(ctx context.Context, id uint64) error {
	tok, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	tok.Removed = true
	return r.putRecordOnly(ctx, tok)
}

// List returns all tokens in id order.
func (r *Registry) List(ctx context.Context) ([]Token, error) {
	start, end := keyValueDb.PrefixRange(keyValueDb.PrefixToken)
	it, err := r.db.Iterator(ctx, start, end)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var out []Token
	for it.Next() {
		var tok Token
		if err := json.Unmarshal(it.Value(), &tok); err != nil {
			return nil, fmt.Errorf("corrupt token record: %w", err)
		}
		out = append(out, tok)
	}
	return out, it.Error()
}

func (r *Registry) nextID(ctx context.Context) (uint64, error) {
	ctrKey := keyValueDb.StringKey(keyValueDb.PrefixCounter, keyValueDb.CounterToken)
	var next uint64 = 1
	raw, err := r.db.Read(ctx, ctrKey)
	if err == nil {
		next = binary.BigEndian.Uint64(raw) + 1
	} else if !errors.Is(err, keyValueDb.ErrKeyNotFound) {
		return 0, err
	}

	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, next)
	if err := r.db.Write(ctx, ctrKey, buf); err != nil {
		return 0, err
	}
	return next, nil
}

func (r *Registry) put(ctx context.Context, tok Token) error {
	raw, err := json.Marshal(tok)
	if err != nil {
		return err
	}
	idBuf := make([]byte, 8)
	binary.BigEndian.PutUint64(idBuf, tok.ID)

	err = r.db.Batch(ctx, []keyValueDb.BatchOperation{
		{Type: keyValueDb.BatchPut, Key: keyValueDb.U64Key(keyValueDb.PrefixToken, tok.ID), Value: raw},
		{Type: keyValueDb.BatchPut, Key: keyValueDb.StringKey(keyValueDb.PrefixTokenSymbol, tok.Symbol), Value: idBuf},
	})
	if err != nil {
		return err
	}
	r.cache.Remove(tok.ID)
	return nil
}

// putRecordOnly rewrites the token record without touching the symbol index.
func (r *Registry) putRecordOnly(ctx context.Context, tok Token) error {
	raw, err := json.Marshal(tok)
	if err != nil {
		return err
	}
	if err := r.db.Write(ctx, keyValueDb.U64Key(keyValueDb.PrefixToken, tok.ID), raw); err != nil {
		return err
	}
	r.cache.Remove(tok.ID)
	return nil
}
