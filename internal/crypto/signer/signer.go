// Package signer models the remote signing capability. The remote-domain
// private key lives behind this interface; the core only ever asks for a
// signature over bytes and never sees key material in plaintext.
package signer

import (
	"context"
	"crypto/ed25519"
	"errors"

	"github.com/mr-tron/base58"
)

var ErrSigningUnavailable = errors.New("remote signing capability unavailable")

// Signer signs outbound remote-domain instructions.
type Signer interface {
	// Sign returns an ed25519 signature over msg.
	Sign(ctx context.Context, msg []byte) ([]byte, error)

	// PublicKey returns the signing public key.
	PublicKey() ed25519.PublicKey

	// Address returns the remote-domain address of the signing key
	// (base58 of the public key).
	Address() string
}

// Local is an in-process Signer used for development and tests. A
// production deployment replaces it with a client for the dedicated
// signing service.
type Local struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
	addr string
}

func NewLocal(priv ed25519.PrivateKey) (*Local, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, errors.New("signer: bad ed25519 private key length")
	}
	pub := priv.Public().(ed25519.PublicKey)
	return &Local{
		priv: priv,
		pub:  pub,
		addr: base58.Encode(pub),
	}, nil
}

func (l *Local) Sign(ctx context.Context, msg []byte) ([]byte, error) {
	if l.priv == nil {
		return nil, ErrSigningUnavailable
	}
	return ed25519.Sign(l.priv, msg), nil
}

func (l *Local) PublicKey() ed25519.PublicKey { return l.pub }

func (l *Local) Address() string { return l.addr }
