// Package settle executes the fund legs of approved requests across the
// two settlement domains. Primary-domain legs complete synchronously
// against the internal ledger; remote-domain legs become signed
// instructions handed to an external relay, with deposit notifications,
// exactly-once job processing and claim records covering the gap where
// cross-domain atomicity does not exist.
package settle

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"cosmossdk.io/math"
	"github.com/rs/zerolog"

	"github.com/meridianswap/swapd/internal/core/ledgers"
	"github.com/meridianswap/swapd/internal/core/request"
	"github.com/meridianswap/swapd/internal/core/token"
	"github.com/meridianswap/swapd/internal/crypto/signer"
	"github.com/meridianswap/swapd/internal/storage/keyValueDb"
)

// DefaultAnchorMaxAge bounds how old a cached remote anchor may be
// before outbound instructions are refused. The remote chain rejects
// transactions referencing an expired anchor anyway; refusing early
// keeps the failure on our side of the fence.
const DefaultAnchorMaxAge = 60 * time.Second

// Config carries the deployment-specific settlement parameters.
type Config struct {
	// EngineAccount is the principal holding pooled funds on the primary
	// ledger.
	EngineAccount string

	// AnchorMaxAge is the staleness bound for the cached remote anchor.
	AnchorMaxAge time.Duration
}

// Coordinator owns the movement of funds. It never decides amounts;
// those come from the AMM engine. It only moves what it is told, in the
// right domain, exactly once.
type Coordinator struct {
	db       keyValueDb.DB
	Jobs     *JobStore
	Notes    *NoteStore
	Claims   *ClaimStore
	tokens   *token.Registry
	ledger   *ledgers.Ledger
	requests *request.Ledger
	signer   signer.Signer
	recorder TxRecorder

	engineAccount string
	anchorMaxAge  time.Duration
	log           zerolog.Logger
	now           func() time.Time
}

func NewCoordinator(
	db keyValueDb.DB,
	tokens *token.Registry,
	ledger *ledgers.Ledger,
	requests *request.Ledger,
	sign signer.Signer,
	recorder TxRecorder,
	cfg Config,
	log zerolog.Logger,
) *Coordinator {
	if cfg.AnchorMaxAge <= 0 {
		cfg.AnchorMaxAge = DefaultAnchorMaxAge
	}
	return &Coordinator{
		db:            db,
		Jobs:          NewJobStore(db, log),
		Notes:         NewNoteStore(db, log),
		Claims:        NewClaimStore(db, log),
		tokens:        tokens,
		ledger:        ledger,
		requests:      requests,
		signer:        sign,
		recorder:      recorder,
		engineAccount: cfg.EngineAccount,
		anchorMaxAge:  cfg.AnchorMaxAge,
		log:           log.With().Str("component", "settle").Logger(),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the time source for tests.
func (c *Coordinator) WithClock(now func() time.Time) *Coordinator {
	c.now = now
	return c
}

// EngineAccount returns the principal that custodies pooled funds.
func (c *Coordinator) EngineAccount() string { return c.engineAccount }

// PullIn moves amount of tok from the caller into engine custody.
//
// Primary-domain tokens settle synchronously: approve-then-transfer when
// the token ledger supports allowances, a direct debit otherwise.
// Remote-domain tokens cannot be pulled; instead a previously reported
// deposit notification from remoteSender is consumed and the equivalent
// internal balance is credited. No matching deposit means the request
// fails before any state has moved.
func (c *Coordinator) PullIn(ctx context.Context, requestID uint64, tok token.Token, payer, remoteSender string, amount math.Int) error {
	switch {
	case tok.Kind.IsRemote():
		note, err := c.Notes.Consume(ctx, requestID, tok.ID, remoteSender, amount)
		if err != nil {
			return err
		}
		if err := c.ledger.Mint(ctx, tok.ID, c.engineAccount, amount); err != nil {
			return err
		}
		c.recordTx(&TxRecord{
			RequestID:   requestID,
			Kind:        "remote_in",
			TokenID:     tok.ID,
			Amount:      amount,
			Principal:   remoteSender,
			TxReference: note.TxReference,
		})
		return nil

	case tok.Kind == token.KindPrimaryFungible && tok.SupportsAllowance:
		err := c.ledger.TransferFrom(ctx, tok.ID, payer, c.engineAccount, c.engineAccount, amount, tok.Fee)
		if err != nil {
			return err
		}
		c.recordTx(&TxRecord{RequestID: requestID, Kind: "transfer_in", TokenID: tok.ID, Amount: amount, Principal: payer})
		return nil

	case tok.Kind == token.KindPrimaryFungible || tok.Kind == token.KindPoolShare:
		if err := c.ledger.Transfer(ctx, tok.ID, payer, c.engineAccount, amount, tok.Fee); err != nil {
			return err
		}
		c.recordTx(&TxRecord{RequestID: requestID, Kind: "transfer_in", TokenID: tok.ID, Amount: amount, Principal: payer})
		return nil

	default:
		return ErrUnsupportedToken.Wrapf("kind %s", tok.Kind)
	}
}

// PayOut moves amount of tok from engine custody to the recipient.
//
// Primary-domain payouts complete before PayOut returns. Remote-domain
// payouts debit the internal balance, build and sign an instruction
// against a fresh anchor and enqueue a job; the parent request stays
// open until the relay confirms, carrying pendingReply so the reply can
// be finalized later. The returned job id is zero for synchronous legs.
func (c *Coordinator) PayOut(ctx context.Context, requestID uint64, tok token.Token, to string, amount math.Int, pendingReply *request.Reply) (uint64, error) {
	if !tok.Kind.IsRemote() {
		if err := c.ledger.Transfer(ctx, tok.ID, c.engineAccount, to, amount, tok.Fee); err != nil {
			return 0, err
		}
		c.recordTx(&TxRecord{RequestID: requestID, Kind: "transfer_out", TokenID: tok.ID, Amount: amount, Principal: to})
		return 0, nil
	}

	anchor, err := c.FreshAnchor(ctx)
	if err != nil {
		return 0, err
	}
	from, err := c.RemoteAddress(ctx)
	if err != nil {
		return 0, err
	}

	// The internal representation leaves our books when the instruction
	// is enqueued. A relay failure later becomes a claim, never a
	// silent re-credit.
	if err := c.ledger.Burn(ctx, tok.ID, c.engineAccount, amount); err != nil {
		return 0, err
	}

	payload := Instruction{
		From:         from,
		To:           to,
		Mint:         tok.RemoteMint,
		Amount:       amount,
		RecentAnchor: anchor.Value,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return 0, err
	}
	sig, err := c.signer.Sign(ctx, raw)
	if err != nil {
		return 0, err
	}

	job, err := c.Jobs.Enqueue(ctx, &SwapJob{
		RequestID:    requestID,
		TokenID:      tok.ID,
		Payload:      payload,
		Signature:    sig,
		PendingReply: pendingReply,
	})
	if err != nil {
		return 0, err
	}
	return job.ID, nil
}

// UpdateJob applies a relay-reported job transition and completes the
// parent request once every one of its jobs is terminal: all confirmed
// finalizes the stored reply as Success; a failed leg opens a claim for
// its recipient right away and fails the request when the remaining legs
// settle. Resource locks are released only with the final leg, so the
// pools stay serialized until the whole request is done.
func (c *Coordinator) UpdateJob(ctx context.Context, jobID uint64, next JobStatus, txReference, failReason string) (*SwapJob, error) {
	job, err := c.Jobs.UpdateStatus(ctx, jobID, next, txReference, failReason)
	if err != nil {
		return nil, err
	}
	if !next.Terminal() {
		return job, nil
	}

	switch next {
	case JobConfirmed:
		c.recordTx(&TxRecord{
			RequestID:   job.RequestID,
			Kind:        "remote_out",
			TokenID:     job.TokenID,
			Amount:      job.Payload.Amount,
			Principal:   job.Payload.To,
			TxReference: job.TxReference,
		})

	case JobFailed:
		if _, err := c.Claims.Create(ctx, job.RequestID, job.TokenID, job.Payload.Amount, job.Payload.To, "remote transfer failed: "+failReason); err != nil {
			return nil, err
		}
	}

	siblings, err := c.Jobs.ListByRequest(ctx, job.RequestID)
	if err != nil {
		return nil, err
	}
	var reply *request.Reply
	var failures []string
	for _, sib := range siblings {
		if !sib.Status.Terminal() {
			c.log.Info().
				Uint64("job_id", job.ID).
				Uint64("request_id", job.RequestID).
				Msg("job settled, request has legs outstanding")
			return job, nil
		}
		if sib.PendingReply != nil {
			reply = sib.PendingReply
		}
		if sib.Status == JobFailed {
			failures = append(failures, sib.FailReason)
		}
	}

	if len(failures) == 0 {
		_, err = c.requests.Finalize(ctx, job.RequestID, request.StatusSuccess, "", reply)
	} else {
		_, err = c.requests.Finalize(ctx, job.RequestID, request.StatusFailed, strings.Join(failures, "; "), nil)
	}
	if err != nil {
		// A concurrent update of a sibling leg got here first; its
		// finalize and lock release stand.
		if errors.Is(err, request.ErrTerminal) {
			return job, nil
		}
		return nil, err
	}

	if err := c.requests.ReleaseAll(ctx, job.RequestID); err != nil {
		return nil, err
	}
	return job, nil
}

// RecordDeposit validates and stores a relay-reported inbound deposit.
func (c *Coordinator) RecordDeposit(ctx context.Context, tokenID uint64, amount math.Int, sender, txReference string) (*IncomingNotification, error) {
	tok, err := c.tokens.GetActive(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	if !tok.Kind.IsRemote() {
		return nil, ErrUnsupportedToken.Wrapf("deposit notifications only apply to remote tokens, got %s", tok.Kind)
	}
	if amount.IsNil() || !amount.IsPositive() {
		return nil, ledgers.ErrInvalidAmount.Wrap("deposit amount must be positive")
	}
	return c.Notes.Record(ctx, tokenID, amount, sender, txReference)
}

// UpdateAnchor stores the relay-refreshed remote chain anchor.
func (c *Coordinator) UpdateAnchor(ctx context.Context, value string, slot uint64) error {
	raw, err := json.Marshal(RemoteAnchor{Value: value, Slot: slot, UpdatedAt: c.now()})
	if err != nil {
		return err
	}
	return c.db.Write(ctx, keyValueDb.StringKey(keyValueDb.PrefixSlot, keyValueDb.SlotRemoteAnchor), raw)
}

// FreshAnchor returns the cached anchor, rejecting a missing or stale one.
func (c *Coordinator) FreshAnchor(ctx context.Context) (*RemoteAnchor, error) {
	raw, err := c.db.Read(ctx, keyValueDb.StringKey(keyValueDb.PrefixSlot, keyValueDb.SlotRemoteAnchor))
	if err != nil {
		if errors.Is(err, keyValueDb.ErrKeyNotFound) {
			return nil, ErrNoAnchor
		}
		return nil, err
	}
	var anchor RemoteAnchor
	if err := json.Unmarshal(raw, &anchor); err != nil {
		return nil, err
	}
	if age := c.now().Sub(anchor.UpdatedAt); age > c.anchorMaxAge {
		return nil, ErrStaleAnchor.Wrapf("anchor is %s old, max %s", age, c.anchorMaxAge)
	}
	return &anchor, nil
}

// CacheRemoteAddress derives and stores the engine's remote address from
// the signing key.
func (c *Coordinator) CacheRemoteAddress(ctx context.Context) (*CachedRemoteAddress, error) {
	rec := &CachedRemoteAddress{Address: c.signer.Address(), UpdatedAt: c.now()}
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	key := keyValueDb.StringKey(keyValueDb.PrefixSlot, keyValueDb.SlotRemoteAddress)
	if err := c.db.Write(ctx, key, raw); err != nil {
		return nil, err
	}
	c.log.Info().Str("address", rec.Address).Msg("remote address cached")
	return rec, nil
}

// RemoteAddress returns the cached engine remote address, deriving and
// caching it on first use.
func (c *Coordinator) RemoteAddress(ctx context.Context) (string, error) {
	raw, err := c.db.Read(ctx, keyValueDb.StringKey(keyValueDb.PrefixSlot, keyValueDb.SlotRemoteAddress))
	if err != nil {
		if errors.Is(err, keyValueDb.ErrKeyNotFound) {
			rec, cacheErr := c.CacheRemoteAddress(ctx)
			if cacheErr != nil {
				return "", cacheErr
			}
			return rec.Address, nil
		}
		return "", err
	}
	var rec CachedRemoteAddress
	if err := json.Unmarshal(raw, &rec); err != nil {
		return "", err
	}
	return rec.Address, nil
}

// recordTx writes a history row. History is an index, not the source of
// truth, so a failed write is logged and settlement proceeds.
func (c *Coordinator) recordTx(rec *TxRecord) {
	if c.recorder == nil {
		return
	}
	rec.CreatedAt = c.now()
	if _, err := c.recorder.RecordTransfer(rec); err != nil {
		c.log.Error().Err(err).Uint64("request_id", rec.RequestID).Str("kind", rec.Kind).Msg("history record write failed")
	}
}
