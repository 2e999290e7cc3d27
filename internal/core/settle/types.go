package settle

import (
	"time"

	"cosmossdk.io/math"

	"github.com/meridianswap/swapd/internal/core/request"
)

// JobStatus is the lifecycle of an outbound remote-domain instruction.
// Pending -> Submitted -> Confirmed | Failed. The relay drives the
// transitions; the core never retries on its own.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobSubmitted JobStatus = "submitted"
	JobConfirmed JobStatus = "confirmed"
	JobFailed    JobStatus = "failed"
)

var jobTransitions = map[JobStatus][]JobStatus{
	JobPending:   {JobSubmitted, JobConfirmed, JobFailed},
	JobSubmitted: {JobConfirmed, JobFailed},
}

func (s JobStatus) Terminal() bool {
	return s == JobConfirmed || s == JobFailed
}

func (s JobStatus) canMoveTo(next JobStatus) bool {
	for _, allowed := range jobTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Instruction is the unsigned remote transfer the relay submits. From is
// always the single engine-controlled remote address.
type Instruction struct {
	From         string   `json:"from"`
	To           string   `json:"to"`
	Mint         string   `json:"mint,omitempty"`
	Amount       math.Int `json:"amount"`
	RecentAnchor string   `json:"recent_anchor"`
}

// SwapJob is a queued, exactly-once-processed outbound instruction.
type SwapJob struct {
	ID        uint64      `json:"id"`
	RequestID uint64      `json:"request_id"`
	TokenID   uint64      `json:"token_id"`
	Payload   Instruction `json:"payload"`
	Signature []byte      `json:"signature"`

	Status JobStatus `json:"status"`

	// Processed is set exactly once, atomically with the move to a
	// terminal status.
	Processed bool `json:"processed"`

	// PendingReply is the parent request's reply, finalized only when the
	// relay confirms this job.
	PendingReply *request.Reply `json:"pending_reply,omitempty"`

	// TxReference is the remote transaction reference reported by the
	// relay on submission.
	TxReference string `json:"tx_reference,omitempty"`
	FailReason  string `json:"fail_reason,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DoneAt    *time.Time `json:"done_at,omitempty"`
}

// IncomingNotification is relay-reported deposit evidence, consumed
// exactly once.
type IncomingNotification struct {
	ID          uint64   `json:"id"`
	TokenID     uint64   `json:"token_id"`
	Amount      math.Int `json:"amount"`
	Sender      string   `json:"sender"`
	TxReference string   `json:"tx_reference"`

	Consumed  bool       `json:"consumed"`
	RequestID uint64     `json:"request_id,omitempty"` // request that consumed it
	CreatedAt time.Time  `json:"created_at"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
}

// ClaimRecord is a stranded fund leg surfaced for manual resolution.
// Cross-domain transfers cannot be rolled back atomically, so a failed
// counterpart leg becomes a claim instead of an automatic reverse
// transfer. Claims are never silently discarded.
type ClaimRecord struct {
	ID        uint64   `json:"id"`
	RequestID uint64   `json:"request_id"`
	TokenID   uint64   `json:"token_id"`
	Amount    math.Int `json:"amount"`

	// Beneficiary is the principal or remote address owed the funds.
	Beneficiary string `json:"beneficiary"`
	Reason      string `json:"reason"`

	Resolved   bool       `json:"resolved"`
	CreatedAt  time.Time  `json:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// RemoteAnchor is the single-slot recent chain-tip reference the relay
// refreshes; outbound instructions embed it and reject on staleness.
type RemoteAnchor struct {
	Value     string    `json:"value"`
	Slot      uint64    `json:"slot"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CachedRemoteAddress is the single-slot cached engine address on the
// remote domain.
type CachedRemoteAddress struct {
	Address   string    `json:"address"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TxRecord is one completed fund movement, indexed for the transactions
// query.
type TxRecord struct {
	ID          uint64    `json:"id"`
	RequestID   uint64    `json:"request_id"`
	Kind        string    `json:"kind"` // transfer_in, transfer_out, mint, burn, remote_out, remote_in
	TokenID     uint64    `json:"token_id"`
	Amount      math.Int  `json:"amount"`
	Principal   string    `json:"principal"`
	TxReference string    `json:"tx_reference,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// TxRecorder persists TxRecords; implemented by the relational history
// index.
type TxRecorder interface {
	RecordTransfer(rec *TxRecord) (uint64, error)
}
