package request

import (
	"context"
	"errors"
	"sync"
	"testing"

	"cosmossdk.io/math"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/meridianswap/swapd/internal/storage/keyValueDb/memdb"
)

func newTestLedger() *Ledger {
	return NewLedger(memdb.New(), zerolog.Nop())
}

func swapPayload() Payload {
	return Payload{
		Kind: KindSwap,
		Swap: &SwapArgs{
			PayToken:       1,
			PayAmount:      math.NewInt(100),
			ReceiveToken:   2,
			MaxSlippageBps: 100,
		},
	}
}

func TestCreateAssignsMonotonicIDs(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger()

	a, err := l.Create(ctx, "alice", swapPayload())
	require.NoError(t, err)
	b, err := l.Create(ctx, "bob", swapPayload())
	require.NoError(t, err)

	require.Equal(t, uint64(1), a.ID)
	require.Equal(t, uint64(2), b.ID)
	require.Equal(t, StatusPending, a.Status())
}

func TestPayloadValidation(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger()

	_, err := l.Create(ctx, "alice", Payload{Kind: KindSwap})
	require.ErrorIs(t, err, ErrInvalidPayload)

	_, err = l.Create(ctx, "alice", Payload{Kind: Kind("rebalance")})
	require.ErrorIs(t, err, ErrUnknownOperation)
}

func TestStatusProgressionAndFinalize(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger()

	req, err := l.Create(ctx, "alice", swapPayload())
	require.NoError(t, err)

	for _, status := range []Status{StatusVerifying, StatusTransferringLegA, StatusTransferringLegB} {
		req, err = l.AppendStatus(ctx, req.ID, status, "")
		require.NoError(t, err)
		require.Equal(t, status, req.Status())
	}

	reply := &Reply{Kind: KindSwap, Swap: &SwapReply{
		PayToken: 1, PayAmount: math.NewInt(100), ReceiveToken: 2, ReceiveAmount: math.NewInt(97),
	}}
	req, err = l.Finalize(ctx, req.ID, StatusSuccess, "", reply)
	require.NoError(t, err)
	require.True(t, req.Terminal())
	require.NotNil(t, req.CompletedAt)
	require.Len(t, req.StatusHistory, 5)

	// Terminal requests are immutable.
	_, err = l.AppendStatus(ctx, req.ID, StatusPending, "")
	require.ErrorIs(t, err, ErrTerminal)
	_, err = l.Finalize(ctx, req.ID, StatusFailed, "late", nil)
	require.ErrorIs(t, err, ErrTerminal)
}

func TestStatusNeverRegresses(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger()

	req, err := l.Create(ctx, "alice", swapPayload())
	require.NoError(t, err)

	_, err = l.AppendStatus(ctx, req.ID, StatusTransferringLegA, "")
	require.NoError(t, err)

	_, err = l.AppendStatus(ctx, req.ID, StatusVerifying, "")
	require.ErrorIs(t, err, ErrStatusRegress)
}

func TestFailedIsTerminalAtAnyStep(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger()

	req, err := l.Create(ctx, "alice", swapPayload())
	require.NoError(t, err)

	req, err = l.Finalize(ctx, req.ID, StatusFailed, "slippage exceeded", nil)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, req.Status())
	require.Equal(t, "slippage exceeded", req.StatusHistory[len(req.StatusHistory)-1].Reason)
}

func TestGetAndList(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger()

	for i := 0; i < 5; i++ {
		_, err := l.Create(ctx, "alice", swapPayload())
		require.NoError(t, err)
	}

	_, err := l.Get(ctx, 42)
	require.ErrorIs(t, err, ErrNotFound)

	// Newest first, limited.
	reqs, err := l.List(ctx, 0, 3)
	require.NoError(t, err)
	require.Len(t, reqs, 3)
	require.Equal(t, uint64(5), reqs[0].ID)
	require.Equal(t, uint64(3), reqs[2].ID)

	// Page two.
	reqs, err = l.List(ctx, 2, 3)
	require.NoError(t, err)
	require.Len(t, reqs, 2)
	require.Equal(t, uint64(2), reqs[0].ID)
	require.Equal(t, uint64(1), reqs[1].ID)
}

func TestConcurrentCreatesAssignUniqueIDs(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger()

	// Connections are served concurrently, so id assignment must hold up
	// without any outer serialization.
	const n = 32
	ids := make(chan uint64, n)
	errs := make(chan error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req, err := l.Create(ctx, "alice", swapPayload())
			if err != nil {
				errs <- err
				return
			}
			ids <- req.ID
		}()
	}
	wg.Wait()
	close(ids)
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	seen := make(map[uint64]bool, n)
	for id := range ids {
		require.False(t, seen[id], "id %d assigned twice", id)
		seen[id] = true
	}
	require.Len(t, seen, n)
}

func TestConcurrentAcquireSingleOwner(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger()

	const n = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	granted, busy := 0, 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(requestID uint64) {
			defer wg.Done()
			err := l.Acquire(ctx, requestID, PoolResource(7))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				granted++
			case errors.Is(err, ErrBusy):
				busy++
			}
		}(uint64(i + 1))
	}
	wg.Wait()

	require.Equal(t, 1, granted)
	require.Equal(t, n-1, busy)
}

func TestLocksSerializePerResource(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger()

	require.NoError(t, l.Acquire(ctx, 1, PoolResource(7), PairResource(2, 1)))

	// A second request must observe the lock and fail fast.
	err := l.Acquire(ctx, 2, PoolResource(7))
	require.ErrorIs(t, err, ErrBusy)

	// Unrelated resources stay available.
	require.NoError(t, l.Acquire(ctx, 2, PoolResource(8)))

	held, err := l.Held(ctx, 1, PoolResource(7))
	require.NoError(t, err)
	require.True(t, held)

	// Only the owner may release.
	err = l.Release(ctx, 2, PoolResource(7))
	require.ErrorIs(t, err, ErrLockNotHeld)

	require.NoError(t, l.Release(ctx, 1, PoolResource(7), PairResource(1, 2)))

	require.NoError(t, l.Acquire(ctx, 2, PoolResource(7)))
}

func TestAcquireIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger()

	require.NoError(t, l.Acquire(ctx, 1, PoolResource(1)))

	// Request 2 wants pools 1 and 2; pool 1 is held, so neither is taken.
	err := l.Acquire(ctx, 2, PoolResource(2), PoolResource(1))
	require.ErrorIs(t, err, ErrBusy)

	held, err := l.Held(ctx, 2, PoolResource(2))
	require.NoError(t, err)
	require.False(t, held)
}

func TestPairResourceIsOrderInsensitive(t *testing.T) {
	require.Equal(t, PairResource(1, 2), PairResource(2, 1))
}
