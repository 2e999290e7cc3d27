// Package ledgers implements the primary-domain token ledger: the one
// settlement domain where the core can debit and credit accounts directly
// and atomically. Remote-domain value never passes through here; it is
// represented by internal balances credited from verified deposit
// notifications.
package ledgers

import (
	"context"
	"errors"
	"fmt"

	sdkerrors "cosmossdk.io/errors"
	"cosmossdk.io/math"
	"github.com/rs/zerolog"

	"github.com/meridianswap/swapd/internal/storage/keyValueDb"
)

const codespace = "ledgers"

var (
	ErrInsufficientBalance   = sdkerrors.Register(codespace, 1, "insufficient balance")
	ErrInsufficientAllowance = sdkerrors.Register(codespace, 2, "insufficient allowance")
	ErrInvalidAmount         = sdkerrors.Register(codespace, 3, "invalid amount")
	ErrNegativeBalance       = sdkerrors.Register(codespace, 4, "negative balance detected")
)

// Ledger keeps per-(token, principal) balances and allowances in the
// persistent store. Every mutation is a single atomic batch.
type Ledger struct {
	db  keyValueDb.DB
	log zerolog.Logger
}

func New(db keyValueDb.DB, log zerolog.Logger) *Ledger {
	return &Ledger{
		db:  db,
		log: log.With().Str("component", "ledgers").Logger(),
	}
}

func balanceKey(tokenID uint64, principal string) []byte {
	return keyValueDb.StringKey(keyValueDb.PrefixBalance, fmt.Sprintf("%020d/%s", tokenID, principal))
}

func allowanceKey(tokenID uint64, owner, spender string) []byte {
	return keyValueDb.StringKey(keyValueDb.PrefixAllowance, fmt.Sprintf("%020d/%s|%s", tokenID, owner, spender))
}

// BalanceOf returns the current balance, zero if no record exists.
func (l *Ledger) BalanceOf(ctx context.Context, tokenID uint64, principal string) (math.Int, error) {
	return l.readInt(ctx, balanceKey(tokenID, principal))
}

// Allowance returns the amount spender may move on behalf of owner.
func (l *Ledger) Allowance(ctx context.Context, tokenID uint64, owner, spender string) (math.Int, error) {
	return l.readInt(ctx, allowanceKey(tokenID, owner, spender))
}

// Mint credits newly created units to principal.
func (l *Ledger) Mint(ctx context.Context, tokenID uint64, principal string, amount math.Int) error {
	if err := checkPositive(amount); err != nil {
		return err
	}
	bal, err := l.BalanceOf(ctx, tokenID, principal)
	if err != nil {
		return err
	}
	return l.writeInt(ctx, balanceKey(tokenID, principal), bal.Add(amount))
}

// Burn destroys units held by principal.
func (l *Ledger) Burn(ctx context.Context, tokenID uint64, principal string, amount math.Int) error {
	if err := checkPositive(amount); err != nil {
		return err
	}
	bal, err := l.BalanceOf(ctx, tokenID, principal)
	if err != nil {
		return err
	}
	next := bal.Sub(amount)
	if next.IsNegative() {
		return ErrInsufficientBalance.Wrapf("burn %s exceeds balance %s", amount, bal)
	}
	return l.writeInt(ctx, balanceKey(tokenID, principal), next)
}

// Transfer moves amount from one principal to another, charging the
// token's flat transfer fee to the sender. The debit, credit and fee are
// committed in one batch.
func (l *Ledger) Transfer(ctx context.Context, tokenID uint64, from, to string, amount, fee math.Int) error {
	if err := checkPositive(amount); err != nil {
		return err
	}
	if fee.IsNil() {
		fee = math.ZeroInt()
	}

	fromBal, err := l.BalanceOf(ctx, tokenID, from)
	if err != nil {
		return err
	}
	total := amount.Add(fee)
	nextFrom := fromBal.Sub(total)
	if nextFrom.IsNegative() {
		return ErrInsufficientBalance.Wrapf("need %s, have %s", total, fromBal)
	}

	toBal, err := l.BalanceOf(ctx, tokenID, to)
	if err != nil {
		return err
	}

	err = l.db.Batch(ctx, []keyValueDb.BatchOperation{
		{Type: keyValueDb.BatchPut, Key: balanceKey(tokenID, from), Value: intBytes(nextFrom)},
		{Type: keyValueDb.BatchPut, Key: balanceKey(tokenID, to), Value: intBytes(toBal.Add(amount))},
	})
	if err != nil {
		return err
	}

	l.log.Debug().
		Uint64("token_id", tokenID).
		Str("from", from).
		Str("to", to).
		Str("amount", amount.String()).
		Msg("transfer executed")
	return nil
}

// Approve sets spender's allowance over owner's funds.
func (l *Ledger) Approve(ctx context.Context, tokenID uint64, owner, spender string, amount math.Int) error {
	if amount.IsNil() || amount.IsNegative() {
		return ErrInvalidAmount.Wrap("allowance must be zero or positive")
	}
	return l.writeInt(ctx, allowanceKey(tokenID, owner, spender), amount)
}

// TransferFrom moves funds under an allowance. Allowance and balances are
// updated in the same batch.
func (l *Ledger) TransferFrom(ctx context.Context, tokenID uint64, owner, spender, to string, amount, fee math.Int) error {
	if err := checkPositive(amount); err != nil {
		return err
	}
	if fee.IsNil() {
		fee = math.ZeroInt()
	}

	allowed, err := l.Allowance(ctx, tokenID, owner, spender)
	if err != nil {
		return err
	}
	total := amount.Add(fee)
	nextAllowed := allowed.Sub(total)
	if nextAllowed.IsNegative() {
		return ErrInsufficientAllowance.Wrapf("need %s, allowed %s", total, allowed)
	}

	ownerBal, err := l.BalanceOf(ctx, tokenID, owner)
	if err != nil {
		return err
	}
	nextOwner := ownerBal.Sub(total)
	if nextOwner.IsNegative() {
		return ErrInsufficientBalance.Wrapf("need %s, have %s", total, ownerBal)
	}

	toBal, err := l.BalanceOf(ctx, tokenID, to)
	if err != nil {
		return err
	}

	return l.db.Batch(ctx, []keyValueDb.BatchOperation{
		{Type: keyValueDb.BatchPut, Key: allowanceKey(tokenID, owner, spender), Value: intBytes(nextAllowed)},
		{Type: keyValueDb.BatchPut, Key: balanceKey(tokenID, owner), Value: intBytes(nextOwner)},
		{Type: keyValueDb.BatchPut, Key: balanceKey(tokenID, to), Value: intBytes(toBal.Add(amount))},
	})
}

func (l *Ledger) readInt(ctx context.Context, key []byte) (math.Int, error) {
	raw, err := l.db.Read(ctx, key)
	if err != nil {
		if errors.Is(err, keyValueDb.ErrKeyNotFound) {
			return math.ZeroInt(), nil
		}
		return math.Int{}, err
	}
	val, ok := math.NewIntFromString(string(raw))
	if !ok {
		return math.Int{}, fmt.Errorf("corrupt balance record %q", raw)
	}
	// A negative stored balance means an earlier invariant was broken;
	// refuse to keep processing this account.
	if val.IsNegative() {
		return math.Int{}, ErrNegativeBalance.Wrapf("key %q holds %s", key, val)
	}
	return val, nil
}

func (l *Ledger) writeInt(ctx context.Context, key []byte, val math.Int) error {
	return l.db.Write(ctx, key, intBytes(val))
}

func intBytes(val math.Int) []byte {
	return []byte(val.String())
}

func checkPositive(amount math.Int) error {
	if amount.IsNil() || !amount.IsPositive() {
		return ErrInvalidAmount.Wrap("amount must be positive")
	}
	return nil
}
