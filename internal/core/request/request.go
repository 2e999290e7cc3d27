package request

import (
	"time"

	"cosmossdk.io/errors"
	"cosmossdk.io/math"
)

const codespace = "request"

var (
	ErrNotFound        = errors.Register(codespace, 1, "request not found")
	ErrTerminal        = errors.Register(codespace, 2, "request already reached a terminal status")
	ErrBusy            = errors.Register(codespace, 3, "resource busy, retry later")
	ErrStatusRegress   = errors.Register(codespace, 4, "request status cannot move backwards")
	ErrInvalidPayload  = errors.Register(codespace, 5, "invalid request payload")
	ErrLockNotHeld     = errors.Register(codespace, 6, "lock not held by this request")
	ErrUnknownOperation = errors.Register(codespace, 7, "unknown operation kind")
)

// Kind tags the operation a request carries.
type Kind string

const (
	KindAddPool         Kind = "add_pool"
	KindAddLiquidity    Kind = "add_liquidity"
	KindRemoveLiquidity Kind = "remove_liquidity"
	KindSwap            Kind = "swap"
)

// Status is one step of the per-request state machine:
// Pending -> Verifying -> TransferringLegA -> TransferringLegB -> Success,
// or Failed at any step. AwaitingRemote covers requests parked on a relay
// round trip.
type Status string

const (
	StatusPending          Status = "pending"
	StatusVerifying        Status = "verifying"
	StatusTransferringLegA Status = "transferring_leg_a"
	StatusTransferringLegB Status = "transferring_leg_b"
	StatusAwaitingRemote   Status = "awaiting_remote"
	StatusSuccess          Status = "success"
	StatusFailed           Status = "failed"
)

// rank orders statuses for the no-regression check. AwaitingRemote and
// TransferringLegB share a rank with each other's neighbors because a
// request may park before or between transfer legs.
var rank = map[Status]int{
	StatusPending:          0,
	StatusVerifying:        1,
	StatusTransferringLegA: 2,
	StatusTransferringLegB: 3,
	StatusAwaitingRemote:   3,
	StatusSuccess:          4,
	StatusFailed:           4,
}

func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// StatusEntry is one line of a request's append-only status history.
type StatusEntry struct {
	Status Status    `json:"status"`
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at"`
}

// Proof is a caller-supplied authorization claim for remote-domain funds:
// the signature over the operation's canonical message.
type Proof struct {
	PublicKey []byte `json:"public_key"`
	Signature []byte `json:"signature"`
	Address   string `json:"address"`
	// Encoding is "direct" or "framed" (see the verifier package).
	Encoding        string `json:"encoding"`
	TimestampMillis int64  `json:"timestamp_millis"`
}

// AddPoolArgs creates a pool funded with both initial balances.
type AddPoolArgs struct {
	Token0  uint64   `json:"token_0"`
	Amount0 math.Int `json:"amount_0"`
	Proof0  *Proof   `json:"proof_0,omitempty"`
	Token1  uint64   `json:"token_1"`
	Amount1 math.Int `json:"amount_1"`
	Proof1  *Proof   `json:"proof_1,omitempty"`
	FeeBps  uint32   `json:"fee_bps"`
}

type AddLiquidityArgs struct {
	Token0  uint64   `json:"token_0"`
	Amount0 math.Int `json:"amount_0"`
	Proof0  *Proof   `json:"proof_0,omitempty"`
	Token1  uint64   `json:"token_1"`
	Amount1 math.Int `json:"amount_1"`
	Proof1  *Proof   `json:"proof_1,omitempty"`
}

type RemoveLiquidityArgs struct {
	Token0      uint64   `json:"token_0"`
	Token1      uint64   `json:"token_1"`
	ShareAmount math.Int `json:"share_amount"`
	// PayoutAddress0/1 direct remote-domain legs to an external address.
	PayoutAddress0 string `json:"payout_address_0,omitempty"`
	PayoutAddress1 string `json:"payout_address_1,omitempty"`
	Proof          *Proof `json:"proof,omitempty"`
}

type SwapArgs struct {
	PayToken       uint64   `json:"pay_token"`
	PayAmount      math.Int `json:"pay_amount"`
	ReceiveToken   uint64   `json:"receive_token"`
	ReceiveAmount  math.Int `json:"receive_amount,omitempty"`
	ReceiveAddress string   `json:"receive_address,omitempty"`
	// MaxSlippageBps caps per-hop price movement; zero (or the field
	// omitted) means no cap beyond ReceiveAmount.
	MaxSlippageBps uint32   `json:"max_slippage_bps,omitempty"`
	Proof          *Proof   `json:"proof,omitempty"`
}

// Payload is the tagged request variant. Exactly one member matching Kind
// is set.
type Payload struct {
	Kind            Kind                 `json:"kind"`
	AddPool         *AddPoolArgs         `json:"add_pool,omitempty"`
	AddLiquidity    *AddLiquidityArgs    `json:"add_liquidity,omitempty"`
	RemoveLiquidity *RemoveLiquidityArgs `json:"remove_liquidity,omitempty"`
	Swap            *SwapArgs            `json:"swap,omitempty"`
}

func (p Payload) Validate() error {
	switch p.Kind {
	case KindAddPool:
		if p.AddPool == nil {
			return ErrInvalidPayload.Wrap("missing add_pool body")
		}
	case KindAddLiquidity:
		if p.AddLiquidity == nil {
			return ErrInvalidPayload.Wrap("missing add_liquidity body")
		}
	case KindRemoveLiquidity:
		if p.RemoveLiquidity == nil {
			return ErrInvalidPayload.Wrap("missing remove_liquidity body")
		}
	case KindSwap:
		if p.Swap == nil {
			return ErrInvalidPayload.Wrap("missing swap body")
		}
	default:
		return ErrUnknownOperation.Wrapf("%q", p.Kind)
	}
	return nil
}

// AddPoolReply and friends carry execution results. TransferIDs reference
// TxRecords; ClaimIDs reference stranded legs surfaced for manual
// resolution.
type AddPoolReply struct {
	PoolID      uint64   `json:"pool_id"`
	LPTokenID   uint64   `json:"lp_token_id"`
	Shares      math.Int `json:"shares"`
	TransferIDs []uint64 `json:"transfer_ids"`
	ClaimIDs    []uint64 `json:"claim_ids,omitempty"`
}

type AddLiquidityReply struct {
	PoolID      uint64   `json:"pool_id"`
	Amount0     math.Int `json:"amount_0"`
	Amount1     math.Int `json:"amount_1"`
	Shares      math.Int `json:"shares"`
	TransferIDs []uint64 `json:"transfer_ids"`
	ClaimIDs    []uint64 `json:"claim_ids,omitempty"`
}

type RemoveLiquidityReply struct {
	PoolID      uint64   `json:"pool_id"`
	Amount0     math.Int `json:"amount_0"`
	Amount1     math.Int `json:"amount_1"`
	Shares      math.Int `json:"shares_burned"`
	TransferIDs []uint64 `json:"transfer_ids"`
	ClaimIDs    []uint64 `json:"claim_ids,omitempty"`
}

type SwapReply struct {
	PayToken      uint64   `json:"pay_token"`
	PayAmount     math.Int `json:"pay_amount"`
	ReceiveToken  uint64   `json:"receive_token"`
	ReceiveAmount math.Int `json:"receive_amount"`
	Price         float64  `json:"price"`
	JobID         uint64   `json:"job_id,omitempty"`
	TransferIDs   []uint64 `json:"transfer_ids"`
	ClaimIDs      []uint64 `json:"claim_ids,omitempty"`
}

// Reply is the tagged reply variant, mirroring Payload.
type Reply struct {
	Kind            Kind                  `json:"kind"`
	AddPool         *AddPoolReply         `json:"add_pool,omitempty"`
	AddLiquidity    *AddLiquidityReply    `json:"add_liquidity,omitempty"`
	RemoveLiquidity *RemoveLiquidityReply `json:"remove_liquidity,omitempty"`
	Swap            *SwapReply            `json:"swap,omitempty"`
}

// Request is one state-changing call. Terminal requests are immutable.
type Request struct {
	ID      uint64  `json:"id"`
	Caller  string  `json:"caller"`
	Payload Payload `json:"payload"`
	Reply   *Reply  `json:"reply,omitempty"`

	StatusHistory []StatusEntry `json:"status_history"`

	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Status returns the latest status.
func (r *Request) Status() Status {
	if len(r.StatusHistory) == 0 {
		return StatusPending
	}
	return r.StatusHistory[len(r.StatusHistory)-1].Status
}

func (r *Request) Terminal() bool {
	return r.Status().Terminal()
}
