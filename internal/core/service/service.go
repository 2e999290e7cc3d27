// Package service orchestrates the four state-changing operations. Each
// operation runs the same shape: open a request, take resource locks,
// verify authorization, settle the inbound legs, apply the AMM quote,
// settle the outbound legs, finalize. Every step moves the request's
// status history so callers can watch progress, and every failure path
// either leaves state untouched or leaves a claim record behind.
package service

import (
	"context"

	"cosmossdk.io/math"
	"github.com/rs/zerolog"

	"github.com/meridianswap/swapd/internal/core/amm"
	"github.com/meridianswap/swapd/internal/core/ledgers"
	"github.com/meridianswap/swapd/internal/core/request"
	"github.com/meridianswap/swapd/internal/core/settle"
	"github.com/meridianswap/swapd/internal/core/token"
	"github.com/meridianswap/swapd/internal/crypto/verifier"
)

// Publisher receives request status transitions for fan-out to
// subscribers. A nil publisher disables events.
type Publisher interface {
	PublishRequest(req *request.Request)
}

// Service wires the verifier, AMM engine, settlement coordinator and
// request ledger into the public operations.
type Service struct {
	engine   *amm.Engine
	coord    *settle.Coordinator
	requests *request.Ledger
	tokens   *token.Registry
	ledger   *ledgers.Ledger
	verifier *verifier.Verifier
	events   Publisher
	log      zerolog.Logger
}

func New(
	engine *amm.Engine,
	coord *settle.Coordinator,
	requests *request.Ledger,
	tokens *token.Registry,
	ledger *ledgers.Ledger,
	vrf *verifier.Verifier,
	events Publisher,
	log zerolog.Logger,
) *Service {
	return &Service{
		engine:   engine,
		coord:    coord,
		requests: requests,
		tokens:   tokens,
		ledger:   ledger,
		verifier: vrf,
		events:   events,
		log:      log.With().Str("component", "service").Logger(),
	}
}

func (s *Service) Requests() *request.Ledger       { return s.requests }
func (s *Service) Coordinator() *settle.Coordinator { return s.coord }
func (s *Service) Engine() *amm.Engine             { return s.engine }
func (s *Service) Tokens() *token.Registry         { return s.tokens }

// AddPool creates a pool funded by both initial balances. Both legs are
// pulled into engine custody before the pool exists; if the second leg
// fails the first becomes a claim, never a silent loss.
func (s *Service) AddPool(ctx context.Context, caller string, args request.AddPoolArgs) (*request.Request, error) {
	req, err := s.requests.Create(ctx, caller, request.Payload{Kind: request.KindAddPool, AddPool: &args})
	if err != nil {
		return nil, err
	}
	s.publish(req)

	tok0, err := s.tokens.GetActive(ctx, args.Token0)
	if err != nil {
		return s.fail(ctx, req.ID, err, nil)
	}
	tok1, err := s.tokens.GetActive(ctx, args.Token1)
	if err != nil {
		return s.fail(ctx, req.ID, err, nil)
	}

	if err := s.requests.Acquire(ctx, req.ID, request.PairResource(args.Token0, args.Token1)); err != nil {
		return s.fail(ctx, req.ID, err, nil)
	}

	if err := s.setStatus(ctx, req.ID, request.StatusVerifying); err != nil {
		return s.fail(ctx, req.ID, err, nil)
	}
	message := verifier.CanonicalAddPool(tok0.Symbol, args.Amount0, tok1.Symbol, args.Amount1, proofTimestamp(args.Proof0, args.Proof1))
	if err := s.verifyLeg(tok0, args.Proof0, message); err != nil {
		return s.fail(ctx, req.ID, err, nil)
	}
	if err := s.verifyLeg(tok1, args.Proof1, message); err != nil {
		return s.fail(ctx, req.ID, err, nil)
	}

	if err := s.setStatus(ctx, req.ID, request.StatusTransferringLegA); err != nil {
		return s.fail(ctx, req.ID, err, nil)
	}
	if err := s.coord.PullIn(ctx, req.ID, tok0, caller, proofAddress(args.Proof0), args.Amount0); err != nil {
		return s.fail(ctx, req.ID, err, nil)
	}

	if err := s.setStatus(ctx, req.ID, request.StatusTransferringLegB); err != nil {
		return s.fail(ctx, req.ID, err, nil)
	}
	if err := s.coord.PullIn(ctx, req.ID, tok1, caller, proofAddress(args.Proof1), args.Amount1); err != nil {
		// Leg A already landed in engine custody; it is owed back.
		claimID := s.openClaim(ctx, req.ID, tok0, args.Amount0, refundTarget(caller, args.Proof0), "counterpart funding leg failed")
		return s.fail(ctx, req.ID, err, &request.Reply{
			Kind:    request.KindAddPool,
			AddPool: &request.AddPoolReply{ClaimIDs: claimIDs(claimID)},
		})
	}

	pool, shares, err := s.engine.CreatePool(ctx, caller, args.Token0, args.Token1, args.Amount0, args.Amount1, args.FeeBps)
	if err != nil {
		claim0 := s.openClaim(ctx, req.ID, tok0, args.Amount0, refundTarget(caller, args.Proof0), "pool creation failed after funding")
		claim1 := s.openClaim(ctx, req.ID, tok1, args.Amount1, refundTarget(caller, args.Proof1), "pool creation failed after funding")
		return s.fail(ctx, req.ID, err, &request.Reply{
			Kind:    request.KindAddPool,
			AddPool: &request.AddPoolReply{ClaimIDs: claimIDs(claim0, claim1)},
		})
	}

	return s.succeed(ctx, req.ID, &request.Reply{
		Kind: request.KindAddPool,
		AddPool: &request.AddPoolReply{
			PoolID:    pool.ID,
			LPTokenID: pool.LPTokenID,
			Shares:    shares,
		},
	})
}

// AddLiquidity deposits into an existing pool at the current ratio. A
// nil counterpart amount is completed from the pool ratio before any
// funds move.
func (s *Service) AddLiquidity(ctx context.Context, caller string, args request.AddLiquidityArgs) (*request.Request, error) {
	req, err := s.requests.Create(ctx, caller, request.Payload{Kind: request.KindAddLiquidity, AddLiquidity: &args})
	if err != nil {
		return nil, err
	}
	s.publish(req)

	tok0, err := s.tokens.GetActive(ctx, args.Token0)
	if err != nil {
		return s.fail(ctx, req.ID, err, nil)
	}
	tok1, err := s.tokens.GetActive(ctx, args.Token1)
	if err != nil {
		return s.fail(ctx, req.ID, err, nil)
	}

	pool, err := s.engine.Pools().GetByPair(ctx, args.Token0, args.Token1)
	if err != nil {
		return s.fail(ctx, req.ID, err, nil)
	}
	if err := s.requests.Acquire(ctx, req.ID, request.PoolResource(pool.ID)); err != nil {
		return s.fail(ctx, req.ID, err, nil)
	}

	// Quoted under the held lock, so the quoted pool version cannot move
	// before commit.
	quote, err := s.engine.QuoteAddLiquidity(ctx, args.Token0, args.Token1, args.Amount0, args.Amount1)
	if err != nil {
		return s.fail(ctx, req.ID, err, nil)
	}
	if quote.PoolID != pool.ID {
		return s.fail(ctx, req.ID, request.ErrBusy.Wrapf("pool for pair %d/%d was replaced, retry", args.Token0, args.Token1), nil)
	}

	// Deposit amounts in the caller's token order, quoted amounts in
	// canonical pair order.
	amount0, amount1 := quote.Amount0, quote.Amount1
	if _, _, swapped := amm.OrderPair(args.Token0, args.Token1); swapped {
		amount0, amount1 = quote.Amount1, quote.Amount0
	}

	if err := s.setStatus(ctx, req.ID, request.StatusVerifying); err != nil {
		return s.fail(ctx, req.ID, err, nil)
	}
	message := verifier.CanonicalAddLiquidity(tok0.Symbol, amount0, tok1.Symbol, amount1, proofTimestamp(args.Proof0, args.Proof1))
	if err := s.verifyLeg(tok0, args.Proof0, message); err != nil {
		return s.fail(ctx, req.ID, err, nil)
	}
	if err := s.verifyLeg(tok1, args.Proof1, message); err != nil {
		return s.fail(ctx, req.ID, err, nil)
	}

	if err := s.setStatus(ctx, req.ID, request.StatusTransferringLegA); err != nil {
		return s.fail(ctx, req.ID, err, nil)
	}
	if err := s.coord.PullIn(ctx, req.ID, tok0, caller, proofAddress(args.Proof0), amount0); err != nil {
		return s.fail(ctx, req.ID, err, nil)
	}

	if err := s.setStatus(ctx, req.ID, request.StatusTransferringLegB); err != nil {
		return s.fail(ctx, req.ID, err, nil)
	}
	if err := s.coord.PullIn(ctx, req.ID, tok1, caller, proofAddress(args.Proof1), amount1); err != nil {
		claimID := s.openClaim(ctx, req.ID, tok0, amount0, refundTarget(caller, args.Proof0), "counterpart funding leg failed")
		return s.fail(ctx, req.ID, err, &request.Reply{
			Kind:         request.KindAddLiquidity,
			AddLiquidity: &request.AddLiquidityReply{ClaimIDs: claimIDs(claimID)},
		})
	}

	pool, err = s.engine.CommitAddLiquidity(ctx, caller, quote)
	if err != nil {
		claim0 := s.openClaim(ctx, req.ID, tok0, amount0, refundTarget(caller, args.Proof0), "deposit commit failed after funding")
		claim1 := s.openClaim(ctx, req.ID, tok1, amount1, refundTarget(caller, args.Proof1), "deposit commit failed after funding")
		return s.fail(ctx, req.ID, err, &request.Reply{
			Kind:         request.KindAddLiquidity,
			AddLiquidity: &request.AddLiquidityReply{ClaimIDs: claimIDs(claim0, claim1)},
		})
	}

	return s.succeed(ctx, req.ID, &request.Reply{
		Kind: request.KindAddLiquidity,
		AddLiquidity: &request.AddLiquidityReply{
			PoolID:  pool.ID,
			Amount0: quote.Amount0,
			Amount1: quote.Amount1,
			Shares:  quote.Shares,
		},
	})
}

// RemoveLiquidity burns the caller's shares and pays out both sides.
// Remote-domain payouts go to the payout address named in the request;
// the last remote leg parks the request on the relay round trip.
func (s *Service) RemoveLiquidity(ctx context.Context, caller string, args request.RemoveLiquidityArgs) (*request.Request, error) {
	req, err := s.requests.Create(ctx, caller, request.Payload{Kind: request.KindRemoveLiquidity, RemoveLiquidity: &args})
	if err != nil {
		return nil, err
	}
	s.publish(req)

	tok0, err := s.tokens.GetActive(ctx, args.Token0)
	if err != nil {
		return s.fail(ctx, req.ID, err, nil)
	}
	tok1, err := s.tokens.GetActive(ctx, args.Token1)
	if err != nil {
		return s.fail(ctx, req.ID, err, nil)
	}
	if tok0.Kind.IsRemote() && args.PayoutAddress0 == "" {
		return s.fail(ctx, req.ID, settle.ErrUnsupportedToken.Wrap("remote payout requires payout_address_0"), nil)
	}
	if tok1.Kind.IsRemote() && args.PayoutAddress1 == "" {
		return s.fail(ctx, req.ID, settle.ErrUnsupportedToken.Wrap("remote payout requires payout_address_1"), nil)
	}

	pool, err := s.engine.Pools().GetByPair(ctx, args.Token0, args.Token1)
	if err != nil {
		return s.fail(ctx, req.ID, err, nil)
	}
	if err := s.requests.Acquire(ctx, req.ID, request.PoolResource(pool.ID)); err != nil {
		return s.fail(ctx, req.ID, err, nil)
	}

	// Quoted under the held lock; see AddLiquidity.
	quote, err := s.engine.QuoteRemoveLiquidity(ctx, args.Token0, args.Token1, args.ShareAmount)
	if err != nil {
		return s.fail(ctx, req.ID, err, nil)
	}
	if quote.PoolID != pool.ID {
		return s.fail(ctx, req.ID, request.ErrBusy.Wrapf("pool for pair %d/%d was replaced, retry", args.Token0, args.Token1), nil)
	}

	if err := s.setStatus(ctx, req.ID, request.StatusVerifying); err != nil {
		return s.fail(ctx, req.ID, err, nil)
	}
	if args.Proof != nil {
		message := verifier.CanonicalRemoveLiquidity(tok0.Symbol, tok1.Symbol, args.ShareAmount, args.PayoutAddress0, args.PayoutAddress1, args.Proof.TimestampMillis)
		if err := s.verifyProof(args.Proof, message); err != nil {
			return s.fail(ctx, req.ID, err, nil)
		}
	}

	// Share burn and pool update happen before any payout; a payout
	// failure then becomes a claim over already-released balances.
	if _, err := s.engine.CommitRemoveLiquidity(ctx, caller, quote); err != nil {
		return s.fail(ctx, req.ID, err, nil)
	}

	amountFor0, amountFor1 := quote.Amount0, quote.Amount1
	if _, _, swapped := amm.OrderPair(args.Token0, args.Token1); swapped {
		amountFor0, amountFor1 = quote.Amount1, quote.Amount0
	}

	reply := &request.Reply{
		Kind: request.KindRemoveLiquidity,
		RemoveLiquidity: &request.RemoveLiquidityReply{
			PoolID:  quote.PoolID,
			Amount0: quote.Amount0,
			Amount1: quote.Amount1,
			Shares:  quote.Shares,
		},
	}

	if err := s.setStatus(ctx, req.ID, request.StatusTransferringLegA); err != nil {
		return s.fail(ctx, req.ID, err, reply)
	}
	job0, err := s.payOutLeg(ctx, req.ID, tok0, caller, args.PayoutAddress0, amountFor0, reply)
	if err != nil {
		claimID := s.openClaim(ctx, req.ID, tok0, amountFor0, payoutTarget(caller, args.PayoutAddress0), "withdrawal payout failed")
		reply.RemoveLiquidity.ClaimIDs = claimIDs(claimID)
		return s.fail(ctx, req.ID, err, reply)
	}

	if err := s.setStatus(ctx, req.ID, request.StatusTransferringLegB); err != nil {
		return s.fail(ctx, req.ID, err, reply)
	}
	job1, err := s.payOutLeg(ctx, req.ID, tok1, caller, args.PayoutAddress1, amountFor1, reply)
	if err != nil {
		claimID := s.openClaim(ctx, req.ID, tok1, amountFor1, payoutTarget(caller, args.PayoutAddress1), "withdrawal payout failed")
		reply.RemoveLiquidity.ClaimIDs = claimIDs(claimID)
		return s.fail(ctx, req.ID, err, reply)
	}

	if job0 != 0 || job1 != 0 {
		return s.park(ctx, req.ID)
	}
	return s.succeed(ctx, req.ID, reply)
}

// Swap trades payAmount of the pay token for the receive token across
// the best available route. A remote receive token turns the payout into
// a relay job and parks the request until confirmation.
func (s *Service) Swap(ctx context.Context, caller string, args request.SwapArgs) (*request.Request, error) {
	req, err := s.requests.Create(ctx, caller, request.Payload{Kind: request.KindSwap, Swap: &args})
	if err != nil {
		return nil, err
	}
	s.publish(req)

	payTok, err := s.tokens.GetActive(ctx, args.PayToken)
	if err != nil {
		return s.fail(ctx, req.ID, err, nil)
	}
	recvTok, err := s.tokens.GetActive(ctx, args.ReceiveToken)
	if err != nil {
		return s.fail(ctx, req.ID, err, nil)
	}
	if recvTok.Kind.IsRemote() && args.ReceiveAddress == "" {
		return s.fail(ctx, req.ID, settle.ErrUnsupportedToken.Wrap("remote receive token requires receive_address"), nil)
	}

	// The first quote only discovers the route; the locks cover its
	// pools, then the operation re-quotes under them so the committed
	// versions cannot move.
	route, err := s.engine.QuoteSwap(ctx, args.PayToken, args.ReceiveToken, args.PayAmount, args.MaxSlippageBps)
	if err != nil {
		return s.fail(ctx, req.ID, err, nil)
	}
	resources := make([]string, 0, len(route.Hops))
	for _, hop := range route.Hops {
		resources = append(resources, request.PoolResource(hop.PoolID))
	}
	if err := s.requests.Acquire(ctx, req.ID, resources...); err != nil {
		return s.fail(ctx, req.ID, err, nil)
	}

	quote, err := s.engine.QuoteSwap(ctx, args.PayToken, args.ReceiveToken, args.PayAmount, args.MaxSlippageBps)
	if err != nil {
		return s.fail(ctx, req.ID, err, nil)
	}
	if !sameRoute(quote, route) {
		return s.fail(ctx, req.ID, request.ErrBusy.Wrap("swap route changed during lock acquisition, retry"), nil)
	}
	if !args.ReceiveAmount.IsNil() && args.ReceiveAmount.IsPositive() && quote.ReceiveAmount.LT(args.ReceiveAmount) {
		return s.fail(ctx, req.ID, amm.ErrSlippageExceeded.Wrapf(
			"quoted %s below requested minimum %s", quote.ReceiveAmount, args.ReceiveAmount), nil)
	}

	if err := s.setStatus(ctx, req.ID, request.StatusVerifying); err != nil {
		return s.fail(ctx, req.ID, err, nil)
	}
	if payTok.Kind.IsRemote() || args.Proof != nil {
		message := verifier.CanonicalSwap(payTok.Symbol, args.PayAmount, recvTok.Symbol, args.ReceiveAmount, args.ReceiveAddress, proofTimestamp(args.Proof))
		if err := s.verifyLeg(payTok, args.Proof, message); err != nil {
			return s.fail(ctx, req.ID, err, nil)
		}
	}

	if err := s.setStatus(ctx, req.ID, request.StatusTransferringLegA); err != nil {
		return s.fail(ctx, req.ID, err, nil)
	}
	if err := s.coord.PullIn(ctx, req.ID, payTok, caller, proofAddress(args.Proof), args.PayAmount); err != nil {
		return s.fail(ctx, req.ID, err, nil)
	}

	if err := s.engine.CommitSwap(ctx, quote); err != nil {
		claimID := s.openClaim(ctx, req.ID, payTok, args.PayAmount, refundTarget(caller, args.Proof), "swap commit failed after funding")
		return s.fail(ctx, req.ID, err, &request.Reply{
			Kind: request.KindSwap,
			Swap: &request.SwapReply{ClaimIDs: claimIDs(claimID)},
		})
	}

	reply := &request.Reply{
		Kind: request.KindSwap,
		Swap: &request.SwapReply{
			PayToken:      args.PayToken,
			PayAmount:     args.PayAmount,
			ReceiveToken:  args.ReceiveToken,
			ReceiveAmount: quote.ReceiveAmount,
			Price:         quote.ExecutionPrice,
		},
	}

	if err := s.setStatus(ctx, req.ID, request.StatusTransferringLegB); err != nil {
		return s.fail(ctx, req.ID, err, reply)
	}
	jobID, err := s.payOutLeg(ctx, req.ID, recvTok, caller, args.ReceiveAddress, quote.ReceiveAmount, reply)
	if err != nil {
		claimID := s.openClaim(ctx, req.ID, recvTok, quote.ReceiveAmount, payoutTarget(caller, args.ReceiveAddress), "swap payout failed")
		reply.Swap.ClaimIDs = claimIDs(claimID)
		return s.fail(ctx, req.ID, err, reply)
	}

	if jobID != 0 {
		reply.Swap.JobID = jobID
		return s.park(ctx, req.ID)
	}
	return s.succeed(ctx, req.ID, reply)
}

// sameRoute reports whether two quotes traverse the same pools in the
// same order.
func sameRoute(a, b *amm.SwapQuote) bool {
	if len(a.Hops) != len(b.Hops) {
		return false
	}
	for i := range a.Hops {
		if a.Hops[i].PoolID != b.Hops[i].PoolID {
			return false
		}
	}
	return true
}

// payOutLeg routes one outbound leg. Remote legs carry the reply into
// the job so the request can be finalized on confirmation; the returned
// job id is zero for synchronous legs.
func (s *Service) payOutLeg(ctx context.Context, requestID uint64, tok token.Token, caller, remoteAddress string, amount math.Int, reply *request.Reply) (uint64, error) {
	if tok.Kind.IsRemote() {
		return s.coord.PayOut(ctx, requestID, tok, remoteAddress, amount, reply)
	}
	return s.coord.PayOut(ctx, requestID, tok, caller, amount, nil)
}

// verifyLeg enforces the authorization rule for one funding leg:
// remote-domain funds always need a valid proof, primary-domain funds
// get one checked only if supplied.
func (s *Service) verifyLeg(tok token.Token, proof *request.Proof, message string) error {
	if proof == nil {
		if tok.Kind.IsRemote() {
			return settle.ErrProofRequired.Wrapf("token %s", tok.Symbol)
		}
		return nil
	}
	return s.verifyProof(proof, message)
}

func (s *Service) verifyProof(proof *request.Proof, message string) error {
	enc := verifier.EncodingDirect
	if proof.Encoding == "framed" {
		enc = verifier.EncodingFramed
	}
	return s.verifier.Verify(verifier.Claim{
		Message:         message,
		Signature:       proof.Signature,
		PublicKey:       proof.PublicKey,
		ClaimedSource:   proof.Address,
		Encoding:        enc,
		TimestampMillis: proof.TimestampMillis,
	})
}

func (s *Service) setStatus(ctx context.Context, id uint64, status request.Status) error {
	req, err := s.requests.AppendStatus(ctx, id, status, "")
	if err != nil {
		return err
	}
	s.publish(req)
	return nil
}

// park leaves the request in AwaitingRemote with its locks held; the
// settlement coordinator finalizes it when the relay reports back.
func (s *Service) park(ctx context.Context, id uint64) (*request.Request, error) {
	req, err := s.requests.AppendStatus(ctx, id, request.StatusAwaitingRemote, "")
	if err != nil {
		return nil, err
	}
	s.publish(req)
	return req, nil
}

func (s *Service) succeed(ctx context.Context, id uint64, reply *request.Reply) (*request.Request, error) {
	req, err := s.requests.Finalize(ctx, id, request.StatusSuccess, "", reply)
	if err != nil {
		return nil, err
	}
	if err := s.requests.ReleaseAll(ctx, id); err != nil {
		s.log.Error().Err(err).Uint64("request_id", id).Msg("lock release failed")
	}
	s.publish(req)
	return req, nil
}

// fail finalizes the request with the cause and releases its locks. The
// request record is returned alongside the original error so callers see
// both the rejection and the trace that recorded it.
func (s *Service) fail(ctx context.Context, id uint64, cause error, reply *request.Reply) (*request.Request, error) {
	req, err := s.requests.Finalize(ctx, id, request.StatusFailed, cause.Error(), reply)
	if err != nil {
		s.log.Error().Err(err).Uint64("request_id", id).Msg("failure finalize failed")
		return nil, cause
	}
	if err := s.requests.ReleaseAll(ctx, id); err != nil {
		s.log.Error().Err(err).Uint64("request_id", id).Msg("lock release failed")
	}
	s.publish(req)
	return req, cause
}

func (s *Service) openClaim(ctx context.Context, requestID uint64, tok token.Token, amount math.Int, beneficiary, reason string) uint64 {
	claim, err := s.coord.Claims.Create(ctx, requestID, tok.ID, amount, beneficiary, reason)
	if err != nil {
		s.log.Error().Err(err).Uint64("request_id", requestID).Msg("claim creation failed")
		return 0
	}
	return claim.ID
}

func (s *Service) publish(req *request.Request) {
	if s.events == nil || req == nil {
		return
	}
	s.events.PublishRequest(req)
}

func proofAddress(proof *request.Proof) string {
	if proof == nil {
		return ""
	}
	return proof.Address
}

// proofTimestamp returns the first available proof timestamp; canonical
// messages embed it so verification recomputes identical bytes.
func proofTimestamp(proofs ...*request.Proof) int64 {
	for _, p := range proofs {
		if p != nil {
			return p.TimestampMillis
		}
	}
	return 0
}

// refundTarget picks who a stranded inbound leg is owed to: the remote
// signer for remote funds, the caller otherwise.
func refundTarget(caller string, proof *request.Proof) string {
	if proof != nil && proof.Address != "" {
		return proof.Address
	}
	return caller
}

func claimIDs(ids ...uint64) []uint64 {
	out := make([]uint64, 0, len(ids))
	for _, id := range ids {
		if id != 0 {
			out = append(out, id)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func payoutTarget(caller, remoteAddress string) string {
	if remoteAddress != "" {
		return remoteAddress
	}
	return caller
}
