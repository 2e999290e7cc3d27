package settle

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"cosmossdk.io/math"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/meridianswap/swapd/internal/core/ledgers"
	"github.com/meridianswap/swapd/internal/core/request"
	"github.com/meridianswap/swapd/internal/core/token"
	"github.com/meridianswap/swapd/internal/crypto/signer"
	"github.com/meridianswap/swapd/internal/storage/keyValueDb/memdb"
)

const engineAccount = "engine-principal"

type recorderStub struct {
	mu   sync.Mutex
	recs []*TxRecord
}

func (r *recorderStub) RecordTransfer(rec *TxRecord) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recs = append(r.recs, rec)
	return uint64(len(r.recs)), nil
}

type fixture struct {
	coord    *Coordinator
	tokens   *token.Registry
	ledger   *ledgers.Ledger
	requests *request.Ledger
	signer   *signer.Local
	recorder *recorderStub
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := memdb.New()
	log := zerolog.Nop()

	seed := make([]byte, ed25519.SeedSize)
	for i := range seed {
		seed[i] = byte(i + 1)
	}
	sgn, err := signer.NewLocal(ed25519.NewKeyFromSeed(seed))
	require.NoError(t, err)

	tokens, err := token.NewRegistry(db, log)
	require.NoError(t, err)
	ledger := ledgers.New(db, log)
	requests := request.NewLedger(db, log)
	rec := &recorderStub{}

	coord := NewCoordinator(db, tokens, ledger, requests, sgn, rec, Config{EngineAccount: engineAccount}, log)
	return &fixture{coord: coord, tokens: tokens, ledger: ledger, requests: requests, signer: sgn, recorder: rec}
}

func (f *fixture) addPrimaryToken(t *testing.T, symbol string, allowance bool, fee int64) token.Token {
	t.Helper()
	tok, err := f.tokens.Add(context.Background(), token.Descriptor{
		Kind:              token.KindPrimaryFungible,
		Symbol:            symbol,
		Name:              symbol,
		Decimals:          8,
		Fee:               math.NewInt(fee),
		PrimaryLedger:     "ledger-" + symbol,
		SupportsAllowance: allowance,
	})
	require.NoError(t, err)
	return tok
}

func (f *fixture) addRemoteToken(t *testing.T, symbol string) token.Token {
	t.Helper()
	tok, err := f.tokens.Add(context.Background(), token.Descriptor{
		Kind:       token.KindRemoteFungible,
		Symbol:     symbol,
		Name:       symbol,
		Decimals:   6,
		Fee:        math.ZeroInt(),
		RemoteMint: "Mint11111111111111111111111111111111111111",
	})
	require.NoError(t, err)
	return tok
}

func (f *fixture) newSwapRequest(t *testing.T) *request.Request {
	t.Helper()
	req, err := f.requests.Create(context.Background(), "alice", request.Payload{
		Kind: request.KindSwap,
		Swap: &request.SwapArgs{
			PayToken:       1,
			PayAmount:      math.NewInt(100),
			ReceiveToken:   2,
			MaxSlippageBps: 100,
		},
	})
	require.NoError(t, err)
	return req
}

func TestPullInPrimaryWithAllowance(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tok := f.addPrimaryToken(t, "GLD", true, 10)

	require.NoError(t, f.ledger.Mint(ctx, tok.ID, "alice", math.NewInt(1_000)))
	require.NoError(t, f.ledger.Approve(ctx, tok.ID, "alice", engineAccount, math.NewInt(600)))

	require.NoError(t, f.coord.PullIn(ctx, 1, tok, "alice", "", math.NewInt(500)))

	bal, err := f.ledger.BalanceOf(ctx, tok.ID, engineAccount)
	require.NoError(t, err)
	require.Equal(t, math.NewInt(500), bal)

	// Allowance shrank by amount plus the flat ledger fee.
	allowed, err := f.ledger.Allowance(ctx, tok.ID, "alice", engineAccount)
	require.NoError(t, err)
	require.Equal(t, math.NewInt(90), allowed)

	require.Len(t, f.recorder.recs, 1)
	require.Equal(t, "transfer_in", f.recorder.recs[0].Kind)
}

func TestPullInPrimaryDirectDebit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tok := f.addPrimaryToken(t, "SLV", false, 0)

	require.NoError(t, f.ledger.Mint(ctx, tok.ID, "bob", math.NewInt(200)))
	require.NoError(t, f.coord.PullIn(ctx, 1, tok, "bob", "", math.NewInt(150)))

	bal, err := f.ledger.BalanceOf(ctx, tok.ID, "bob")
	require.NoError(t, err)
	require.Equal(t, math.NewInt(50), bal)
}

func TestPullInRemoteConsumesDeposit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tok := f.addRemoteToken(t, "RSOL")
	sender := "SenderAddr1111111111111111111111111111111111"

	note, err := f.coord.RecordDeposit(ctx, tok.ID, math.NewInt(1_000), sender, "sig-abc")
	require.NoError(t, err)

	// The relay re-reporting the same remote transaction does not create
	// a second spendable notification.
	dup, err := f.coord.RecordDeposit(ctx, tok.ID, math.NewInt(1_000), sender, "sig-abc")
	require.NoError(t, err)
	require.Equal(t, note.ID, dup.ID)

	require.NoError(t, f.coord.PullIn(ctx, 7, tok, "alice", sender, math.NewInt(1_000)))

	bal, err := f.ledger.BalanceOf(ctx, tok.ID, engineAccount)
	require.NoError(t, err)
	require.Equal(t, math.NewInt(1_000), bal)

	// The notification is spent; the same deposit cannot back a second
	// request.
	err = f.coord.PullIn(ctx, 8, tok, "alice", sender, math.NewInt(1_000))
	require.ErrorIs(t, err, ErrNoDeposit)
}

func TestPullInRemoteWithoutDepositFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tok := f.addRemoteToken(t, "RUSD")

	err := f.coord.PullIn(ctx, 1, tok, "alice", "nobody", math.NewInt(5))
	require.ErrorIs(t, err, ErrNoDeposit)

	bal, err := f.ledger.BalanceOf(ctx, tok.ID, engineAccount)
	require.NoError(t, err)
	require.True(t, bal.IsZero())
}

func TestPayOutPrimaryIsSynchronous(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tok := f.addPrimaryToken(t, "GLD", true, 0)

	require.NoError(t, f.ledger.Mint(ctx, tok.ID, engineAccount, math.NewInt(400)))

	jobID, err := f.coord.PayOut(ctx, 1, tok, "carol", math.NewInt(300), nil)
	require.NoError(t, err)
	require.Zero(t, jobID)

	bal, err := f.ledger.BalanceOf(ctx, tok.ID, "carol")
	require.NoError(t, err)
	require.Equal(t, math.NewInt(300), bal)
}

func TestPayOutRemoteEnqueuesSignedJob(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tok := f.addRemoteToken(t, "RSOL")

	require.NoError(t, f.coord.UpdateAnchor(ctx, "anchor-1", 42))
	require.NoError(t, f.ledger.Mint(ctx, tok.ID, engineAccount, math.NewInt(900)))

	reply := &request.Reply{Kind: request.KindSwap, Swap: &request.SwapReply{
		PayToken: 1, PayAmount: math.NewInt(100), ReceiveToken: tok.ID, ReceiveAmount: math.NewInt(900),
	}}
	jobID, err := f.coord.PayOut(ctx, 3, tok, "DestAddr", math.NewInt(900), reply)
	require.NoError(t, err)
	require.NotZero(t, jobID)

	job, err := f.coord.Jobs.Get(ctx, jobID)
	require.NoError(t, err)
	require.Equal(t, JobPending, job.Status)
	require.False(t, job.Processed)
	require.Equal(t, "anchor-1", job.Payload.RecentAnchor)
	require.Equal(t, "DestAddr", job.Payload.To)
	require.Equal(t, f.signer.Address(), job.Payload.From)

	// The signature covers the serialized instruction.
	raw, err := json.Marshal(job.Payload)
	require.NoError(t, err)
	require.True(t, ed25519.Verify(f.signer.PublicKey(), raw, job.Signature))

	// The internal representation left the books on enqueue.
	bal, err := f.ledger.BalanceOf(ctx, tok.ID, engineAccount)
	require.NoError(t, err)
	require.True(t, bal.IsZero())

	pending, err := f.coord.Jobs.ListPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
}

func TestPayOutRemoteRequiresFreshAnchor(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tok := f.addRemoteToken(t, "RSOL")
	require.NoError(t, f.ledger.Mint(ctx, tok.ID, engineAccount, math.NewInt(10)))

	_, err := f.coord.PayOut(ctx, 1, tok, "DestAddr", math.NewInt(10), nil)
	require.ErrorIs(t, err, ErrNoAnchor)

	require.NoError(t, f.coord.UpdateAnchor(ctx, "anchor-old", 1))
	f.coord.WithClock(func() time.Time { return time.Now().UTC().Add(5 * time.Minute) })

	_, err = f.coord.PayOut(ctx, 1, tok, "DestAddr", math.NewInt(10), nil)
	require.ErrorIs(t, err, ErrStaleAnchor)
}

func TestJobConfirmationFinalizesRequest(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tok := f.addRemoteToken(t, "RSOL")
	req := f.newSwapRequest(t)

	require.NoError(t, f.requests.Acquire(ctx, req.ID, request.PoolResource(1)))
	_, err := f.requests.AppendStatus(ctx, req.ID, request.StatusAwaitingRemote, "")
	require.NoError(t, err)

	require.NoError(t, f.coord.UpdateAnchor(ctx, "anchor-1", 42))
	require.NoError(t, f.ledger.Mint(ctx, tok.ID, engineAccount, math.NewInt(55)))

	reply := &request.Reply{Kind: request.KindSwap, Swap: &request.SwapReply{
		PayToken: 1, PayAmount: math.NewInt(100), ReceiveToken: tok.ID, ReceiveAmount: math.NewInt(55),
	}}
	jobID, err := f.coord.PayOut(ctx, req.ID, tok, "DestAddr", math.NewInt(55), reply)
	require.NoError(t, err)

	_, err = f.coord.UpdateJob(ctx, jobID, JobSubmitted, "remote-sig-1", "")
	require.NoError(t, err)

	job, err := f.coord.UpdateJob(ctx, jobID, JobConfirmed, "", "")
	require.NoError(t, err)
	require.True(t, job.Processed)

	got, err := f.requests.Get(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, request.StatusSuccess, got.Status())
	require.NotNil(t, got.Reply)
	require.Equal(t, math.NewInt(55), got.Reply.Swap.ReceiveAmount)

	// Locks owned by the request are gone.
	held, err := f.requests.Held(ctx, req.ID, request.PoolResource(1))
	require.NoError(t, err)
	require.False(t, held)
}

func TestJobFailureOpensClaim(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tok := f.addRemoteToken(t, "RSOL")
	req := f.newSwapRequest(t)

	require.NoError(t, f.coord.UpdateAnchor(ctx, "anchor-1", 42))
	require.NoError(t, f.ledger.Mint(ctx, tok.ID, engineAccount, math.NewInt(70)))

	jobID, err := f.coord.PayOut(ctx, req.ID, tok, "DestAddr", math.NewInt(70), nil)
	require.NoError(t, err)

	_, err = f.coord.UpdateJob(ctx, jobID, JobFailed, "", "anchor expired on chain")
	require.NoError(t, err)

	got, err := f.requests.Get(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, request.StatusFailed, got.Status())

	claims, err := f.coord.Claims.List(ctx, false)
	require.NoError(t, err)
	require.Len(t, claims, 1)
	require.Equal(t, "DestAddr", claims[0].Beneficiary)
	require.Equal(t, math.NewInt(70), claims[0].Amount)
	require.Equal(t, req.ID, claims[0].RequestID)

	// The debited internal balance is not silently re-credited.
	bal, err := f.ledger.BalanceOf(ctx, tok.ID, engineAccount)
	require.NoError(t, err)
	require.True(t, bal.IsZero())
}

func TestJobProcessedExactlyOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tok := f.addRemoteToken(t, "RSOL")
	req := f.newSwapRequest(t)

	require.NoError(t, f.coord.UpdateAnchor(ctx, "anchor-1", 42))
	require.NoError(t, f.ledger.Mint(ctx, tok.ID, engineAccount, math.NewInt(10)))

	jobID, err := f.coord.PayOut(ctx, req.ID, tok, "DestAddr", math.NewInt(10), &request.Reply{Kind: request.KindSwap, Swap: &request.SwapReply{PayAmount: math.NewInt(1), ReceiveAmount: math.NewInt(10)}})
	require.NoError(t, err)

	// Racing relay workers reporting the same confirmation: exactly one
	// wins, the rest observe the processed flag.
	var wg sync.WaitGroup
	var mu sync.Mutex
	var confirmed, rejected int
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.coord.UpdateJob(ctx, jobID, JobConfirmed, "", "")
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				confirmed++
			} else {
				rejected++
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, confirmed)
	require.Equal(t, 7, rejected)

	got, err := f.requests.Get(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, request.StatusSuccess, got.Status())
}

func TestJobTransitionRules(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	job, err := f.coord.Jobs.Enqueue(ctx, &SwapJob{RequestID: 1, TokenID: 2, Payload: Instruction{To: "x", Amount: math.NewInt(1)}})
	require.NoError(t, err)

	_, err = f.coord.Jobs.UpdateStatus(ctx, job.ID, JobPending, "", "")
	require.ErrorIs(t, err, ErrBadJobTransition)

	_, err = f.coord.Jobs.UpdateStatus(ctx, job.ID, JobSubmitted, "sig", "")
	require.NoError(t, err)

	_, err = f.coord.Jobs.UpdateStatus(ctx, job.ID, JobSubmitted, "sig", "")
	require.ErrorIs(t, err, ErrBadJobTransition)

	_, err = f.coord.Jobs.UpdateStatus(ctx, 999, JobConfirmed, "", "")
	require.ErrorIs(t, err, ErrJobNotFound)
}

func TestClaimResolveIsIdempotentCheck(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	claim, err := f.coord.Claims.Create(ctx, 1, 2, math.NewInt(33), "alice", "leg failed")
	require.NoError(t, err)

	resolved, err := f.coord.Claims.Resolve(ctx, claim.ID)
	require.NoError(t, err)
	require.True(t, resolved.Resolved)

	_, err = f.coord.Claims.Resolve(ctx, claim.ID)
	require.ErrorIs(t, err, ErrClaimResolved)

	open, err := f.coord.Claims.List(ctx, false)
	require.NoError(t, err)
	require.Empty(t, open)

	all, err := f.coord.Claims.List(ctx, true)
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestRemoteAddressDerivedAndCached(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	addr, err := f.coord.RemoteAddress(ctx)
	require.NoError(t, err)
	require.Equal(t, f.signer.Address(), addr)

	rec, err := f.coord.CacheRemoteAddress(ctx)
	require.NoError(t, err)
	require.Equal(t, addr, rec.Address)
}

func TestRecordDepositRejectsPrimaryToken(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tok := f.addPrimaryToken(t, "GLD", true, 0)

	_, err := f.coord.RecordDeposit(ctx, tok.ID, math.NewInt(10), "sender", "sig")
	require.ErrorIs(t, err, ErrUnsupportedToken)
}
