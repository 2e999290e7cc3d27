package settle

import (
	"cosmossdk.io/errors"
)

const codespace = "settle"

var (
	ErrJobNotFound      = errors.Register(codespace, 1, "swap job not found")
	ErrJobProcessed     = errors.Register(codespace, 2, "swap job already processed")
	ErrBadJobTransition = errors.Register(codespace, 3, "invalid swap job status transition")
	ErrNoteNotFound     = errors.Register(codespace, 4, "incoming notification not found")
	ErrNoteConsumed     = errors.Register(codespace, 5, "incoming notification already consumed")
	ErrNoDeposit        = errors.Register(codespace, 6, "no matching deposit notification for claim")
	ErrStaleAnchor      = errors.Register(codespace, 7, "remote anchor is stale")
	ErrNoAnchor         = errors.Register(codespace, 8, "no remote anchor cached")
	ErrProofRequired    = errors.Register(codespace, 9, "authorization proof required for remote-domain funds")
	ErrClaimNotFound    = errors.Register(codespace, 10, "claim record not found")
	ErrClaimResolved    = errors.Register(codespace, 11, "claim record already resolved")
	ErrUnsupportedToken = errors.Register(codespace, 12, "token kind not settleable")
)
