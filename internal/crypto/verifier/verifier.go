// Package verifier proves that the caller of a remote-domain-funded
// operation controls the private key of the claimed remote address. Every
// debit of remote-domain funds passes through here; there is no trusted
// bypass.
package verifier

import (
	"crypto/ed25519"
	"time"

	sdkerrors "cosmossdk.io/errors"
	"github.com/mr-tron/base58"
)

const codespace = "verifier"

var (
	ErrInvalidSignature    = sdkerrors.Register(codespace, 1, "invalid signature")
	ErrAddressMismatch     = sdkerrors.Register(codespace, 2, "claimed address does not match public key")
	ErrUnsupportedEncoding = sdkerrors.Register(codespace, 3, "unsupported signature encoding")
	ErrStaleTimestamp      = sdkerrors.Register(codespace, 4, "message timestamp outside allowed window")
	ErrMalformedKey        = sdkerrors.Register(codespace, 5, "malformed public key")
)

// Encoding selects the byte sequence the signature was computed over.
type Encoding uint8

const (
	// EncodingDirect signs the raw UTF-8 bytes of the canonical message.
	EncodingDirect Encoding = iota

	// EncodingFramed signs the off-chain message frame:
	// 0xFF || "solana offchain" || version || format || len(u16 LE) || message.
	EncodingFramed
)

// Off-chain frame message formats.
const (
	FormatRestrictedASCII byte = 0
	FormatLimitedUTF8     byte = 1
	FormatExtendedUTF8    byte = 2
)

const (
	frameVersion    byte = 0
	maxFrameMessage      = 65535
)

var framePreamble = append([]byte{0xff}, []byte("solana offchain")...)

// DefaultFreshnessWindow bounds how far a signed timestamp may sit from
// the verifier's clock, in either direction.
const DefaultFreshnessWindow = 5 * time.Minute

// Verifier checks remote-domain authorization claims.
type Verifier struct {
	window time.Duration
	now    func() time.Time
}

func New(window time.Duration) *Verifier {
	if window <= 0 {
		window = DefaultFreshnessWindow
	}
	return &Verifier{window: window, now: time.Now}
}

// WithClock overrides the clock, for tests.
func (v *Verifier) WithClock(now func() time.Time) *Verifier {
	v.now = now
	return v
}

// DeriveAddress returns the remote-domain address encoding of an ed25519
// public key (base58 of the raw 32 bytes).
func DeriveAddress(pubKey ed25519.PublicKey) (string, error) {
	if len(pubKey) != ed25519.PublicKeySize {
		return "", ErrMalformedKey.Wrapf("got %d bytes, want %d", len(pubKey), ed25519.PublicKeySize)
	}
	return base58.Encode(pubKey), nil
}

// Claim is one authorization claim to verify: the canonical message the
// user signed, the signature, the public key, and the remote address the
// operation says the funds come from.
type Claim struct {
	Message       string
	Signature     []byte
	PublicKey     []byte
	ClaimedSource string
	Encoding      Encoding

	// Timestamp is the millisecond timestamp embedded in the canonical
	// message; it must already match the message body (the message builder
	// guarantees this for messages the core constructs).
	TimestampMillis int64
}

// Verify runs the full check: address derivation, freshness, signature.
// Any failure returns a typed rejection and no partial trust.
func (v *Verifier) Verify(claim Claim) error {
	if len(claim.PublicKey) != ed25519.PublicKeySize {
		return ErrMalformedKey.Wrapf("got %d bytes, want %d", len(claim.PublicKey), ed25519.PublicKeySize)
	}

	derived, err := DeriveAddress(claim.PublicKey)
	if err != nil {
		return err
	}
	if derived != claim.ClaimedSource {
		return ErrAddressMismatch.Wrapf("derived %s, claimed %s", derived, claim.ClaimedSource)
	}

	ts := time.UnixMilli(claim.TimestampMillis)
	if drift := v.now().Sub(ts); drift > v.window || drift < -v.window {
		return ErrStaleTimestamp.Wrapf("signed at %s, drift %s exceeds %s", ts.UTC(), drift, v.window)
	}

	signed, err := signedBytes(claim.Encoding, []byte(claim.Message))
	if err != nil {
		return err
	}

	if !ed25519.Verify(ed25519.PublicKey(claim.PublicKey), signed, claim.Signature) {
		return ErrInvalidSignature.Wrap("ed25519 verification failed")
	}
	return nil
}

func signedBytes(enc Encoding, message []byte) ([]byte, error) {
	switch enc {
	case EncodingDirect:
		return message, nil
	case EncodingFramed:
		return BuildOffchainFrame(FormatLimitedUTF8, message)
	default:
		return nil, ErrUnsupportedEncoding.Wrapf("encoding %d", uint8(enc))
	}
}

// BuildOffchainFrame reconstructs the exact off-chain signing frame. The
// verifier must feed this, not the raw message, to ed25519 for framed
// signatures.
func BuildOffchainFrame(format byte, message []byte) ([]byte, error) {
	if format > FormatExtendedUTF8 {
		return nil, ErrUnsupportedEncoding.Wrapf("message format %d", format)
	}
	if len(message) > maxFrameMessage {
		return nil, ErrUnsupportedEncoding.Wrapf("message length %d exceeds %d", len(message), maxFrameMessage)
	}

	frame := make([]byte, 0, len(framePreamble)+4+len(message))
	frame = append(frame, framePreamble...)
	frame = append(frame, frameVersion, format)
	frame = append(frame, byte(len(message)), byte(len(message)>>8)) // u16 little-endian
	frame = append(frame, message...)
	return frame, nil
}
