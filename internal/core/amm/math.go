package amm

import (
	"math/big"

	"cosmossdk.io/math"
)

// All fund-affecting arithmetic in this file is integer-only. Floating
// point appears nowhere in the quote or commit paths; display figures are
// derived by callers from the integer results.

const BpsDenominator = 10000

// MaxFeeBps caps pool trading fees at 10%.
const MaxFeeBps = 1000

// InitialShares returns floor(sqrt(amount0 * amount1)), the LP supply
// minted when a pool is created.
func InitialShares(amount0, amount1 math.Int) math.Int {
	product := new(big.Int).Mul(amount0.BigInt(), amount1.BigInt())
	return math.NewIntFromBigInt(new(big.Int).Sqrt(product))
}

// EffectiveInput applies the pool fee in basis points to a pay amount.
func EffectiveInput(amountIn math.Int, feeBps uint32) math.Int {
	keep := math.NewInt(int64(BpsDenominator - feeBps))
	return amountIn.Mul(keep).Quo(math.NewInt(BpsDenominator))
}

// SwapOutput computes the constant-product output for an effective input:
// out = balanceOut - (balanceIn * balanceOut) / (balanceIn + effectiveIn).
// The quotient rounds up, which rounds the output down (in the pool's
// favor) and guarantees the product invariant never decreases under
// integer arithmetic.
func SwapOutput(balanceIn, balanceOut, effectiveIn math.Int) math.Int {
	newIn := balanceIn.Add(effectiveIn)
	kept := ceilDiv(balanceIn.Mul(balanceOut), newIn)
	return balanceOut.Sub(kept)
}

func ceilDiv(num, den math.Int) math.Int {
	return num.Add(den).Sub(math.OneInt()).Quo(den)
}

// WithinSlippage gates a swap on execution price without floats. The
// execution price out/effIn must not sit more than maxSlippageBps below
// the pre-trade mid price balanceOut/balanceIn:
//
//	out/effIn >= (balanceOut/balanceIn) * (1 - maxSlippageBps/10000)
//
// cross-multiplied to avoid division:
//
//	out * balanceIn * 10000 >= effIn * balanceOut * (10000 - maxSlippageBps)
func WithinSlippage(balanceIn, balanceOut, effectiveIn, out math.Int, maxSlippageBps uint32) bool {
	lhs := out.Mul(balanceIn).Mul(math.NewInt(BpsDenominator))
	rhs := effectiveIn.Mul(balanceOut).Mul(math.NewInt(int64(BpsDenominator - maxSlippageBps)))
	return lhs.GTE(rhs)
}

// CounterpartAmount returns the amount of the other token required to
// keep the pool ratio when depositing amount against balance:
// counterpart = amount * balanceOther / balance.
func CounterpartAmount(amount, balance, balanceOther math.Int) math.Int {
	return amount.Mul(balanceOther).Quo(balance)
}

// WithinRatioTolerance reports whether a provided deposit pair sits within
// one unit of integer rounding of the pool ratio. Cross products must
// differ by less than one balance unit on either side:
//
//	|amount0*balance1 - amount1*balance0| < max(balance0, balance1)
func WithinRatioTolerance(amount0, amount1, balance0, balance1 math.Int) bool {
	lhs := amount0.Mul(balance1)
	rhs := amount1.Mul(balance0)
	diff := lhs.Sub(rhs).Abs()
	limit := math.MaxInt(balance0, balance1)
	return diff.LT(limit)
}

// SharesForDeposit returns the LP tokens minted for a ratio-preserving
// deposit: min(amount0/balance0, amount1/balance1) * supply, computed as
// integer cross products.
func SharesForDeposit(amount0, amount1, balance0, balance1, supply math.Int) math.Int {
	byToken0 := amount0.Mul(supply).Quo(balance0)
	byToken1 := amount1.Mul(supply).Quo(balance1)
	return math.MinInt(byToken0, byToken1)
}

// AmountForShares returns share/supply of a balance, rounded down.
func AmountForShares(share, supply, balance math.Int) math.Int {
	return share.Mul(balance).Quo(supply)
}
