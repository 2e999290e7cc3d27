package verifier

import (
	"encoding/json"

	"cosmossdk.io/math"
)

// Canonical signed messages. Field order is fixed by struct declaration
// order and encoding/json preserves it, so the serialized bytes are
// deterministic for a given payload. Amounts serialize as decimal strings
// to avoid any numeric-precision ambiguity between signer and verifier.

// AddPoolMessage covers one funding leg of add_pool.
type AddPoolMessage struct {
	Token0    string `json:"token_0"`
	Amount0   string `json:"amount_0"`
	Token1    string `json:"token_1"`
	Amount1   string `json:"amount_1"`
	Timestamp int64  `json:"timestamp"`
}

// AddLiquidityMessage covers remote-funded add_liquidity.
type AddLiquidityMessage struct {
	Token0    string `json:"token_0"`
	Amount0   string `json:"amount_0"`
	Token1    string `json:"token_1"`
	Amount1   string `json:"amount_1"`
	Timestamp int64  `json:"timestamp"`
}

// RemoveLiquidityMessage covers remote-paid remove_liquidity.
type RemoveLiquidityMessage struct {
	Token0        string `json:"token_0"`
	Token1        string `json:"token_1"`
	RemoveLPToken string `json:"remove_lp_token_amount"`
	PayoutAddr0   string `json:"payout_address_0,omitempty"`
	PayoutAddr1   string `json:"payout_address_1,omitempty"`
	Timestamp     int64  `json:"timestamp"`
}

// SwapMessage covers remote-funded swap.
type SwapMessage struct {
	PayToken       string `json:"pay_token"`
	PayAmount      string `json:"pay_amount"`
	ReceiveToken   string `json:"receive_token"`
	ReceiveAmount  string `json:"receive_amount,omitempty"`
	ReceiveAddress string `json:"receive_address,omitempty"`
	Timestamp      int64  `json:"timestamp"`
}

func canonical(v any) string {
	// Marshal of these fixed structs cannot fail.
	raw, _ := json.Marshal(v)
	return string(raw)
}

func CanonicalAddPool(token0 string, amount0 math.Int, token1 string, amount1 math.Int, tsMillis int64) string {
	return canonical(AddPoolMessage{
		Token0:    token0,
		Amount0:   amount0.String(),
		Token1:    token1,
		Amount1:   amount1.String(),
		Timestamp: tsMillis,
	})
}

func CanonicalAddLiquidity(token0 string, amount0 math.Int, token1 string, amount1 math.Int, tsMillis int64) string {
	return canonical(AddLiquidityMessage{
		Token0:    token0,
		Amount0:   amount0.String(),
		Token1:    token1,
		Amount1:   amount1.String(),
		Timestamp: tsMillis,
	})
}

func CanonicalRemoveLiquidity(token0, token1 string, lpAmount math.Int, payout0, payout1 string, tsMillis int64) string {
	return canonical(RemoveLiquidityMessage{
		Token0:        token0,
		Token1:        token1,
		RemoveLPToken: lpAmount.String(),
		PayoutAddr0:   payout0,
		PayoutAddr1:   payout1,
		Timestamp:     tsMillis,
	})
}

func CanonicalSwap(payToken string, payAmount math.Int, receiveToken string, receiveAmount math.Int, receiveAddress string, tsMillis int64) string {
	msg := SwapMessage{
		PayToken:       payToken,
		PayAmount:      payAmount.String(),
		ReceiveToken:   receiveToken,
		ReceiveAddress: receiveAddress,
		Timestamp:      tsMillis,
	}
	if !receiveAmount.IsNil() && !receiveAmount.IsZero() {
		msg.ReceiveAmount = receiveAmount.String()
	}
	return canonical(msg)
}
