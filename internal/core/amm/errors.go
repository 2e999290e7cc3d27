package amm

import (
	"cosmossdk.io/errors"
)

const codespace = "amm"

var (
	ErrPoolNotFound          = errors.Register(codespace, 1, "pool not found")
	ErrPoolExists            = errors.Register(codespace, 2, "pool already exists for token pair")
	ErrInvalidTokenPair      = errors.Register(codespace, 3, "invalid token pair")
	ErrZeroAmount            = errors.Register(codespace, 4, "amount must be positive")
	ErrInsufficientLiquidity = errors.Register(codespace, 5, "insufficient liquidity")
	ErrSlippageExceeded      = errors.Register(codespace, 6, "slippage exceeds caller maximum")
	ErrRatioDeviation        = errors.Register(codespace, 7, "deposit deviates from pool ratio beyond rounding tolerance")
	ErrInvariantViolated     = errors.Register(codespace, 8, "pool invariant violated")
	ErrPoolFrozen            = errors.Register(codespace, 9, "pool frozen after invariant violation")
	ErrNoRoute               = errors.Register(codespace, 10, "no swap route between tokens")
	ErrInvalidFee            = errors.Register(codespace, 11, "invalid fee")
)
