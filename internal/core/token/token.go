package token

import (
	"encoding/json"
	"fmt"

	"cosmossdk.io/math"
)

// Kind is the closed set of token variants the core can settle. Every site
// that needs domain-specific behavior (transfer path, address derivation)
// switches exhaustively over this type.
type Kind uint8

const (
	// KindPrimaryFungible is a fungible token on the primary ledger domain,
	// transferable synchronously by the core.
	KindPrimaryFungible Kind = iota

	// KindRemoteNative is the remote chain's native asset. Settled through
	// relay jobs and deposit notifications only.
	KindRemoteNative

	// KindRemoteFungible is a fungible token (mint) on the remote chain.
	KindRemoteFungible

	// KindPoolShare is a liquidity-pool receipt token minted and burned by
	// the AMM engine itself.
	KindPoolShare
)

var kindNames = map[Kind]string{
	KindPrimaryFungible: "primary_fungible",
	KindRemoteNative:    "remote_native",
	KindRemoteFungible:  "remote_fungible",
	KindPoolShare:       "pool_share",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", uint8(k))
}

func (k Kind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

// IsRemote reports whether settling this kind requires the relay.
func (k Kind) IsRemote() bool {
	return k == KindRemoteNative || k == KindRemoteFungible
}

func (k Kind) MarshalJSON() ([]byte, error) {
	name, ok := kindNames[k]
	if !ok {
		return nil, fmt.Errorf("cannot marshal unknown token kind %d", uint8(k))
	}
	return json.Marshal(name)
}

func (k *Kind) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for kind, n := range kindNames {
		if n == name {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown token kind %q", name)
}

// Token is a registered asset. Immutable once registered except for
// metadata corrections and the removed flag.
type Token struct {
	ID       uint64 `json:"id"`
	Kind     Kind   `json:"kind"`
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Decimals uint8  `json:"decimals"`

	// Fee is the flat transfer fee in base units charged by the token's
	// own ledger, not the pool trading fee.
	Fee math.Int `json:"fee"`

	// PrimaryLedger is the ledger address/canister reference for
	// primary-domain tokens.
	PrimaryLedger string `json:"primary_ledger,omitempty"`

	// RemoteMint is the base58 mint address for remote-domain tokens
	// (empty for the remote native asset).
	RemoteMint string `json:"remote_mint,omitempty"`

	// PoolID links a pool-share token back to its pool.
	PoolID uint64 `json:"pool_id,omitempty"`

	// SupportsAllowance marks tokens whose ledger implements
	// approve-then-transfer; the settlement coordinator prefers that path.
	SupportsAllowance bool `json:"supports_allowance"`

	Removed bool `json:"removed"`
}

// Descriptor is the payload of the privileged add_token call.
type Descriptor struct {
	Kind              Kind     `json:"kind"`
	Symbol            string   `json:"symbol"`
	Name              string   `json:"name"`
	Decimals          uint8    `json:"decimals"`
	Fee               math.Int `json:"fee"`
	PrimaryLedger     string   `json:"primary_ledger,omitempty"`
	RemoteMint        string   `json:"remote_mint,omitempty"`
	SupportsAllowance bool     `json:"supports_allowance"`
}

// Validate checks a descriptor before registration.
func (d Descriptor) Validate() error {
	if !d.Kind.Valid() {
		return ErrInvalidDescriptor.Wrapf("unknown kind %d", uint8(d.Kind))
	}
	if d.Symbol == "" {
		return ErrInvalidDescriptor.Wrap("symbol is required")
	}
	if d.Kind == KindPoolShare {
		return ErrInvalidDescriptor.Wrap("pool share tokens are created by the AMM engine, not add_token")
	}
	if d.Kind == KindPrimaryFungible && d.PrimaryLedger == "" {
		return ErrInvalidDescriptor.Wrap("primary_ledger is required for primary fungible tokens")
	}
	if d.Kind == KindRemoteFungible && d.RemoteMint == "" {
		return ErrInvalidDescriptor.Wrap("remote_mint is required for remote fungible tokens")
	}
	if d.Fee.IsNil() || d.Fee.IsNegative() {
		return ErrInvalidDescriptor.Wrap("fee must be zero or positive")
	}
	return nil
}
