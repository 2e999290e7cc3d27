package token

import (
	"context"
	"testing"

	"cosmossdk.io/math"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/meridianswap/swapd/internal/storage/keyValueDb/memdb"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	reg, err := NewRegistry(memdb.New(), zerolog.Nop())
	require.NoError(t, err)
	return reg
}

func primaryDescriptor(symbol string) Descriptor {
	return Descriptor{
		Kind:              KindPrimaryFungible,
		Symbol:            symbol,
		Name:              symbol + " test token",
		Decimals:          8,
		Fee:               math.NewInt(10),
		PrimaryLedger:     "ledger-" + symbol,
		SupportsAllowance: true,
	}
}

func TestAddAndGet(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)

	tok, err := reg.Add(ctx, primaryDescriptor("ALPHA"))
	require.NoError(t, err)
	require.Equal(t, uint64(1), tok.ID)

	got, err := reg.Get(ctx, tok.ID)
	require.NoError(t, err)
	require.Equal(t, tok, got)

	bySym, err := reg.GetBySymbol(ctx, "ALPHA")
	require.NoError(t, err)
	require.Equal(t, tok.ID, bySym.ID)

	_, err = reg.Get(ctx, 99)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMonotonicIDs(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)

	a, err := reg.Add(ctx, primaryDescriptor("AAA"))
	require.NoError(t, err)
	b, err := reg.Add(ctx, primaryDescriptor("BBB"))
	require.NoError(t, err)
	require.Equal(t, a.ID+1, b.ID)
}

func TestDuplicateSymbolRejected(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)

	_, err := reg.Add(ctx, primaryDescriptor("DUP"))
	require.NoError(t, err)
	_, err = reg.Add(ctx, primaryDescriptor("DUP"))
	require.ErrorIs(t, err, ErrSymbolTaken)
}

func TestDescriptorValidation(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)

	cases := []struct {
		name string
		desc Descriptor
	}{
		{"missing symbol", Descriptor{Kind: KindRemoteNative, Fee: math.ZeroInt()}},
		{"pool share via add_token", Descriptor{Kind: KindPoolShare, Symbol: "LP", Fee: math.ZeroInt()}},
		{"remote fungible without mint", Descriptor{Kind: KindRemoteFungible, Symbol: "RF", Fee: math.ZeroInt()}},
		{"primary without ledger", Descriptor{Kind: KindPrimaryFungible, Symbol: "PF", Fee: math.ZeroInt()}},
		{"negative fee", Descriptor{Kind: KindRemoteNative, Symbol: "NEG", Fee: math.NewInt(-1)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := reg.Add(ctx, tc.desc)
			require.ErrorIs(t, err, ErrInvalidDescriptor)
		})
	}
}

func TestRemoveIsLogical(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)

	tok, err := reg.Add(ctx, primaryDescriptor("GONE"))
	require.NoError(t, err)
	require.NoError(t, reg.Remove(ctx, tok.ID))

	// Record survives removal.
	got, err := reg.Get(ctx, tok.ID)
	require.NoError(t, err)
	require.True(t, got.Removed)

	_, err = reg.GetActive(ctx, tok.ID)
	require.ErrorIs(t, err, ErrRemoved)
}

func TestPoolShareRegistration(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)

	lp, err := reg.AddPoolShare(ctx, "ALPHA/BETA LP", 8, 7)
	require.NoError(t, err)
	require.Equal(t, KindPoolShare, lp.Kind)
	require.Equal(t, uint64(7), lp.PoolID)
	require.True(t, lp.Fee.IsZero())
}

func TestKindJSONRoundTrip(t *testing.T) {
	for kind := range kindNames {
		data, err := kind.MarshalJSON()
		require.NoError(t, err)
		var back Kind
		require.NoError(t, back.UnmarshalJSON(data))
		require.Equal(t, kind, back)
	}
}
