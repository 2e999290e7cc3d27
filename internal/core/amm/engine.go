package amm

import (
	"context"
	"fmt"
	"time"

	"cosmossdk.io/math"
	"github.com/rs/zerolog"

	"github.com/meridianswap/swapd/internal/core/ledgers"
	"github.com/meridianswap/swapd/internal/core/token"
)

// MaxHops bounds multi-hop swap routes.
const MaxHops = 3

// Engine owns pool bookkeeping and the constant-product economics. It
// never moves user funds between accounts; the settlement coordinator
// does that, then the request ledger commits the engine's quote. Pool
// share tokens are the one exception: the engine mints and burns them on
// the primary ledger directly, since they exist only inside the core.
type Engine struct {
	pools  *PoolStore
	tokens *token.Registry
	ledger *ledgers.Ledger
	log    zerolog.Logger
}

func NewEngine(pools *PoolStore, tokens *token.Registry, ledger *ledgers.Ledger, log zerolog.Logger) *Engine {
	return &Engine{
		pools:  pools,
		tokens: tokens,
		ledger: ledger,
		log:    log.With().Str("component", "amm").Logger(),
	}
}

func (e *Engine) Pools() *PoolStore { return e.pools }

// CreatePool registers a new pool for an unordered token pair, mints the
// initial LP supply floor(sqrt(amount0*amount1)) to provider, and returns
// the pool. Both initial balances must be positive and the pair must not
// already have a pool.
func (e *Engine) CreatePool(ctx context.Context, provider string, tokenA, tokenB uint64, amountA, amountB math.Int, feeBps uint32) (*Pool, math.Int, error) {
	if tokenA == tokenB {
		return nil, math.Int{}, ErrInvalidTokenPair.Wrap("identical tokens")
	}
	if err := requirePositive(amountA); err != nil {
		return nil, math.Int{}, err
	}
	if err := requirePositive(amountB); err != nil {
		return nil, math.Int{}, err
	}
	if feeBps > MaxFeeBps {
		return nil, math.Int{}, ErrInvalidFee.Wrapf("%d bps exceeds maximum %d", feeBps, MaxFeeBps)
	}

	tokA, err := e.tokens.GetActive(ctx, tokenA)
	if err != nil {
		return nil, math.Int{}, err
	}
	tokB, err := e.tokens.GetActive(ctx, tokenB)
	if err != nil {
		return nil, math.Int{}, err
	}
	if tokA.Kind == token.KindPoolShare || tokB.Kind == token.KindPoolShare {
		return nil, math.Int{}, ErrInvalidTokenPair.Wrap("pool share tokens cannot back a pool")
	}

	// A retired pool (full withdrawal) does not block re-creating the
	// pair; a frozen one does, until operator review.
	if existing, err := e.pools.GetByPair(ctx, tokenA, tokenB); err == nil && !existing.Removed {
		return nil, math.Int{}, ErrPoolExists.Wrapf("%s/%s", tokA.Symbol, tokB.Symbol)
	}

	t0, t1, swapped := OrderPair(tokenA, tokenB)
	amount0, amount1 := amountA, amountB
	sym0, sym1 := tokA.Symbol, tokB.Symbol
	dec0, dec1 := tokA.Decimals, tokB.Decimals
	if swapped {
		amount0, amount1 = amountB, amountA
		sym0, sym1 = sym1, sym0
		dec0, dec1 = dec1, dec0
	}

	shares := InitialShares(amount0, amount1)
	if !shares.IsPositive() {
		return nil, math.Int{}, ErrInsufficientLiquidity.Wrap("initial deposit too small to mint shares")
	}

	id, err := e.pools.NextID(ctx)
	if err != nil {
		return nil, math.Int{}, err
	}

	lpDecimals := dec0
	if dec1 > lpDecimals {
		lpDecimals = dec1
	}
	// The pool id in the symbol keeps LP tokens distinct when a retired
	// pair is re-created.
	lpToken, err := e.tokens.AddPoolShare(ctx, fmt.Sprintf("%s/%s LP-%d", sym0, sym1, id), lpDecimals, id)
	if err != nil {
		return nil, math.Int{}, err
	}

	pool := &Pool{
		ID:          id,
		Token0:      t0,
		Token1:      t1,
		Balance0:    amount0,
		Balance1:    amount1,
		FeeBps:      feeBps,
		AccruedFee0: math.ZeroInt(),
		AccruedFee1: math.ZeroInt(),
		LPTokenID:   lpToken.ID,
		LPSupply:    shares,
		Version:     1,
		CreatedAt:   time.Now().UTC(),
	}
	if err := pool.Validate(); err != nil {
		return nil, math.Int{}, err
	}
	if err := e.pools.Put(ctx, pool); err != nil {
		return nil, math.Int{}, err
	}
	if err := e.ledger.Mint(ctx, pool.LPTokenID, provider, shares); err != nil {
		return nil, math.Int{}, err
	}

	e.log.Info().
		Uint64("pool_id", id).
		Str("pair", sym0+"/"+sym1).
		Str("shares", shares.String()).
		Uint32("fee_bps", feeBps).
		Msg("pool created")
	return pool, shares, nil
}

// LiquidityQuote is a priced add-liquidity operation, valid against one
// pool version.
type LiquidityQuote struct {
	PoolID  uint64
	Version uint64

	// Amount0/Amount1 are in canonical pair order.
	Amount0 math.Int
	Amount1 math.Int
	Shares  math.Int
}

// QuoteAddLiquidity prices a deposit. Either amount may be nil, in which
// case the ratio-preserving counterpart is computed from the other side;
// when both amounts are given they must sit within integer-rounding
// tolerance of the pool ratio.
func (e *Engine) QuoteAddLiquidity(ctx context.Context, tokenA, tokenB uint64, amountA, amountB math.Int) (*LiquidityQuote, error) {
	if amountA.IsNil() && amountB.IsNil() {
		return nil, ErrZeroAmount.Wrap("at least one deposit amount required")
	}
	if !amountA.IsNil() {
		if err := requirePositive(amountA); err != nil {
			return nil, err
		}
	}
	if !amountB.IsNil() {
		if err := requirePositive(amountB); err != nil {
			return nil, err
		}
	}

	pool, err := e.activePool(ctx, tokenA, tokenB)
	if err != nil {
		return nil, err
	}
	if !pool.Balance0.IsPositive() || !pool.Balance1.IsPositive() {
		return nil, ErrInsufficientLiquidity.Wrapf("pool %d has an empty side", pool.ID)
	}

	_, _, swapped := OrderPair(tokenA, tokenB)
	amount0, amount1 := amountA, amountB
	if swapped {
		amount0, amount1 = amountB, amountA
	}

	if amount0.IsNil() {
		amount0 = CounterpartAmount(amount1, pool.Balance1, pool.Balance0)
	} else if amount1.IsNil() {
		amount1 = CounterpartAmount(amount0, pool.Balance0, pool.Balance1)
	}
	if err := requirePositive(amount0); err != nil {
		return nil, err
	}
	if err := requirePositive(amount1); err != nil {
		return nil, err
	}

	if !WithinRatioTolerance(amount0, amount1, pool.Balance0, pool.Balance1) {
		return nil, ErrRatioDeviation.Wrapf(
			"deposit %s/%s against balances %s/%s", amount0, amount1, pool.Balance0, pool.Balance1)
	}

	shares := SharesForDeposit(amount0, amount1, pool.Balance0, pool.Balance1, pool.LPSupply)
	if !shares.IsPositive() {
		return nil, ErrInsufficientLiquidity.Wrap("deposit too small to mint shares")
	}

	return &LiquidityQuote{
		PoolID:  pool.ID,
		Version: pool.Version,
		Amount0: amount0,
		Amount1: amount1,
		Shares:  shares,
	}, nil
}

// CommitAddLiquidity applies a quote after the funding legs settled. The
// pool is re-read and re-validated: a version mismatch means shared state
// moved underneath the caller's lock, which is a fatal consistency
// failure, not a retry.
func (e *Engine) CommitAddLiquidity(ctx context.Context, provider string, quote *LiquidityQuote) (*Pool, error) {
	pool, err := e.pools.Get(ctx, quote.PoolID)
	if err != nil {
		return nil, err
	}
	if err := e.checkVersion(ctx, pool, quote.Version); err != nil {
		return nil, err
	}

	pool.Balance0 = pool.Balance0.Add(quote.Amount0)
	pool.Balance1 = pool.Balance1.Add(quote.Amount1)
	pool.LPSupply = pool.LPSupply.Add(quote.Shares)
	pool.Version++

	if err := pool.Validate(); err != nil {
		return nil, e.freeze(ctx, pool, err)
	}
	if err := e.pools.Put(ctx, pool); err != nil {
		return nil, err
	}
	if err := e.ledger.Mint(ctx, pool.LPTokenID, provider, quote.Shares); err != nil {
		return nil, err
	}
	return pool, nil
}

// RemoveQuote prices a remove-liquidity operation.
type RemoveQuote struct {
	PoolID  uint64
	Version uint64

	Shares  math.Int
	Amount0 math.Int
	Amount1 math.Int
}

// QuoteRemoveLiquidity prices a proportional withdrawal of shares.
// Accrued fees already sit in the balances, so the proportional amounts
// include the caller's share of them.
func (e *Engine) QuoteRemoveLiquidity(ctx context.Context, tokenA, tokenB uint64, shares math.Int) (*RemoveQuote, error) {
	if err := requirePositive(shares); err != nil {
		return nil, err
	}

	pool, err := e.activePool(ctx, tokenA, tokenB)
	if err != nil {
		return nil, err
	}
	if shares.GT(pool.LPSupply) {
		return nil, ErrInsufficientLiquidity.Wrapf("shares %s exceed supply %s", shares, pool.LPSupply)
	}

	amount0 := AmountForShares(shares, pool.LPSupply, pool.Balance0)
	amount1 := AmountForShares(shares, pool.LPSupply, pool.Balance1)
	if !amount0.IsPositive() && !amount1.IsPositive() {
		return nil, ErrInsufficientLiquidity.Wrap("share amount too small to withdraw anything")
	}

	return &RemoveQuote{
		PoolID:  pool.ID,
		Version: pool.Version,
		Shares:  shares,
		Amount0: amount0,
		Amount1: amount1,
	}, nil
}

// CommitRemoveLiquidity burns the shares and releases the balances. The
// provider's share balance is burned here; paying the withdrawn amounts
// out is the settlement coordinator's job.
func (e *Engine) CommitRemoveLiquidity(ctx context.Context, provider string, quote *RemoveQuote) (*Pool, error) {
	pool, err := e.pools.Get(ctx, quote.PoolID)
	if err != nil {
		return nil, err
	}
	if err := e.checkVersion(ctx, pool, quote.Version); err != nil {
		return nil, err
	}

	// Burn first: an underfunded provider aborts before pool state moves.
	if err := e.ledger.Burn(ctx, pool.LPTokenID, provider, quote.Shares); err != nil {
		return nil, err
	}

	// Reduce accrued-fee accounting proportionally with the balances.
	pool.AccruedFee0 = pool.AccruedFee0.Sub(AmountForShares(quote.Shares, pool.LPSupply, pool.AccruedFee0))
	pool.AccruedFee1 = pool.AccruedFee1.Sub(AmountForShares(quote.Shares, pool.LPSupply, pool.AccruedFee1))

	pool.Balance0 = pool.Balance0.Sub(quote.Amount0)
	pool.Balance1 = pool.Balance1.Sub(quote.Amount1)
	pool.LPSupply = pool.LPSupply.Sub(quote.Shares)
	pool.Version++

	// The last share burned retires the pool: an empty pool has no ratio
	// to quote against, and the pair becomes free for a fresh CreatePool.
	if pool.LPSupply.IsZero() {
		pool.Removed = true
	}

	if err := pool.Validate(); err != nil {
		return nil, e.freeze(ctx, pool, err)
	}
	if err := e.pools.Put(ctx, pool); err != nil {
		return nil, err
	}
	if pool.Removed {
		e.log.Info().Uint64("pool_id", pool.ID).Msg("pool retired on full withdrawal")
	}
	return pool, nil
}

// SwapHop is one pool traversal inside a swap route.
type SwapHop struct {
	PoolID  uint64
	Version uint64

	TokenIn  uint64
	TokenOut uint64

	AmountIn    math.Int
	EffectiveIn math.Int
	FeePortion  math.Int
	AmountOut   math.Int
}

// SwapQuote is a fully priced swap across one or more pools.
type SwapQuote struct {
	PayToken      uint64
	ReceiveToken  uint64
	PayAmount     math.Int
	ReceiveAmount math.Int
	Hops          []SwapHop

	// MidPrice/ExecutionPrice are display figures only; the integer
	// slippage gate already ran per hop inside QuoteSwap.
	MidPrice       float64
	ExecutionPrice float64
}

// QuoteSwap prices a swap from payToken to receiveToken, routing through
// up to MaxHops pools. Each hop is fee'd and slippage-checked
// independently against the caller's maximum; a zero maximum means the
// caller set no cap and only the explicit minimum-receive gate applies.
func (e *Engine) QuoteSwap(ctx context.Context, payToken, receiveToken uint64, payAmount math.Int, maxSlippageBps uint32) (*SwapQuote, error) {
	if payToken == receiveToken {
		return nil, ErrInvalidTokenPair.Wrap("pay and receive tokens are identical")
	}
	if err := requirePositive(payAmount); err != nil {
		return nil, err
	}

	route, err := e.findRoute(ctx, payToken, receiveToken)
	if err != nil {
		return nil, err
	}

	quote := &SwapQuote{
		PayToken:     payToken,
		ReceiveToken: receiveToken,
		PayAmount:    payAmount,
		Hops:         make([]SwapHop, 0, len(route)),
	}

	amountIn := payAmount
	tokenIn := payToken
	midNum, midDen := math.OneInt(), math.OneInt()

	for _, pool := range route {
		balIn, balOut := pool.Balance0, pool.Balance1
		tokenOut := pool.Token1
		if tokenIn == pool.Token1 {
			balIn, balOut = pool.Balance1, pool.Balance0
			tokenOut = pool.Token0
		}

		if !balIn.IsPositive() || !balOut.IsPositive() {
			return nil, ErrInsufficientLiquidity.Wrapf("pool %d has an empty side", pool.ID)
		}

		effIn := EffectiveInput(amountIn, pool.FeeBps)
		if !effIn.IsPositive() {
			return nil, ErrZeroAmount.Wrap("effective input after fee is zero")
		}
		out := SwapOutput(balIn, balOut, effIn)
		if !out.IsPositive() {
			return nil, ErrInsufficientLiquidity.Wrapf("pool %d cannot fill %s", pool.ID, amountIn)
		}
		if out.GTE(balOut) {
			return nil, ErrInsufficientLiquidity.Wrapf("pool %d output %s would drain reserve %s", pool.ID, out, balOut)
		}
		if maxSlippageBps > 0 && !WithinSlippage(balIn, balOut, effIn, out, maxSlippageBps) {
			return nil, ErrSlippageExceeded.Wrapf("hop via pool %d", pool.ID)
		}

		quote.Hops = append(quote.Hops, SwapHop{
			PoolID:      pool.ID,
			Version:     pool.Version,
			TokenIn:     tokenIn,
			TokenOut:    tokenOut,
			AmountIn:    amountIn,
			EffectiveIn: effIn,
			FeePortion:  amountIn.Sub(effIn),
			AmountOut:   out,
		})

		midNum = midNum.Mul(balOut)
		midDen = midDen.Mul(balIn)
		amountIn = out
		tokenIn = tokenOut
	}

	quote.ReceiveAmount = amountIn
	quote.MidPrice = bigRatFloat(midNum, midDen)
	quote.ExecutionPrice = bigRatFloat(quote.ReceiveAmount, payAmount)
	return quote, nil
}

// CommitSwap applies a quote to every pool on the route in one atomic
// batch. The full pay amount enters the pool and the fee portion stays in
// it, so the constant product can only grow.
func (e *Engine) CommitSwap(ctx context.Context, quote *SwapQuote) error {
	updated := make([]*Pool, 0, len(quote.Hops))

	for _, hop := range quote.Hops {
		pool, err := e.pools.Get(ctx, hop.PoolID)
		if err != nil {
			return err
		}
		if err := e.checkVersion(ctx, pool, hop.Version); err != nil {
			return err
		}

		productBefore := pool.Product()

		if hop.TokenIn == pool.Token0 {
			pool.Balance0 = pool.Balance0.Add(hop.AmountIn)
			pool.Balance1 = pool.Balance1.Sub(hop.AmountOut)
			pool.AccruedFee0 = pool.AccruedFee0.Add(hop.FeePortion)
		} else {
			pool.Balance1 = pool.Balance1.Add(hop.AmountIn)
			pool.Balance0 = pool.Balance0.Sub(hop.AmountOut)
			pool.AccruedFee1 = pool.AccruedFee1.Add(hop.FeePortion)
		}
		pool.Version++

		if err := pool.Validate(); err != nil {
			return e.freeze(ctx, pool, err)
		}
		if pool.Product().LT(productBefore) {
			return e.freeze(ctx, pool, ErrInvariantViolated.Wrapf(
				"constant product decreased on pool %d: %s -> %s", pool.ID, productBefore, pool.Product()))
		}
		updated = append(updated, pool)
	}

	return e.pools.PutAll(ctx, updated...)
}

// findRoute runs a breadth-first search over active pools, shortest route
// first, capped at MaxHops.
func (e *Engine) findRoute(ctx context.Context, payToken, receiveToken uint64) ([]*Pool, error) {
	pools, err := e.pools.List(ctx)
	if err != nil {
		return nil, err
	}

	adjacent := make(map[uint64][]*Pool)
	for _, pool := range pools {
		if pool.Removed || pool.Frozen {
			continue
		}
		adjacent[pool.Token0] = append(adjacent[pool.Token0], pool)
		adjacent[pool.Token1] = append(adjacent[pool.Token1], pool)
	}

	type node struct {
		tok  uint64
		path []*Pool
	}
	visited := map[uint64]bool{payToken: true}
	queue := []node{{tok: payToken}}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if len(cur.path) >= MaxHops {
			continue
		}
		for _, pool := range adjacent[cur.tok] {
			next := pool.Token0 + pool.Token1 - cur.tok
			if visited[next] {
				continue
			}
			path := append(append([]*Pool{}, cur.path...), pool)
			if next == receiveToken {
				return path, nil
			}
			visited[next] = true
			queue = append(queue, node{tok: next, path: path})
		}
	}
	return nil, ErrNoRoute.Wrapf("tokens %d -> %d", payToken, receiveToken)
}

func (e *Engine) activePool(ctx context.Context, tokenA, tokenB uint64) (*Pool, error) {
	pool, err := e.pools.GetByPair(ctx, tokenA, tokenB)
	if err != nil {
		return nil, err
	}
	if pool.Frozen {
		return nil, ErrPoolFrozen.Wrapf("pool %d", pool.ID)
	}
	if pool.Removed {
		return nil, ErrPoolNotFound.Wrapf("pool %d removed", pool.ID)
	}
	return pool, nil
}

// checkVersion enforces the quoted-version rule on commit.
func (e *Engine) checkVersion(ctx context.Context, pool *Pool, quoted uint64) error {
	if pool.Frozen {
		return ErrPoolFrozen.Wrapf("pool %d", pool.ID)
	}
	if pool.Version != quoted {
		return e.freeze(ctx, pool, ErrInvariantViolated.Wrapf(
			"pool %d version moved %d -> %d under a held lock", pool.ID, quoted, pool.Version))
	}
	return nil
}

// freeze marks the pool frozen and returns the triggering error. A frozen
// pool stops all further processing until operator review; the state is
// never silently corrected.
func (e *Engine) freeze(ctx context.Context, pool *Pool, cause error) error {
	pool.Frozen = true
	if err := e.pools.Put(ctx, pool); err != nil {
		e.log.Error().Err(err).Uint64("pool_id", pool.ID).Msg("failed to persist pool freeze")
	}
	e.log.Error().Err(cause).Uint64("pool_id", pool.ID).Msg("pool frozen on invariant violation")
	return cause
}

func requirePositive(amount math.Int) error {
	if amount.IsNil() || !amount.IsPositive() {
		return ErrZeroAmount
	}
	return nil
}

func bigRatFloat(num, den math.Int) float64 {
	if den.IsZero() {
		return 0
	}
	return math.LegacyNewDecFromInt(num).Quo(math.LegacyNewDecFromInt(den)).MustFloat64()
}
