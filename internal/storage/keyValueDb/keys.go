package keyValueDb

import (
	"encoding/binary"
)

// Key prefixes. Every record type gets its own prefix so that range scans
// over one record type never leak into another. Numeric ids are encoded
// big-endian so lexicographic key order matches numeric order.
const (
	PrefixToken        = "tok/"
	PrefixTokenSymbol  = "toksym/" // symbol -> token id secondary index
	PrefixPool         = "pool/"
	PrefixPoolPair     = "poolpair/" // ordered pair -> pool id secondary index
	PrefixRequest      = "req/"
	PrefixJob          = "job/"
	PrefixNotification = "note/"
	PrefixClaim        = "claim/"
	PrefixBalance      = "bal/"
	PrefixAllowance    = "allow/"
	PrefixLock         = "lock/"
	PrefixCounter      = "ctr/"
	PrefixSlot         = "slot/" // single-slot cached records (anchor, remote address)
)

// Counter names used with PrefixCounter.
const (
	CounterToken   = "token"
	CounterPool    = "pool"
	CounterRequest = "request"
	CounterJob     = "job"
	CounterClaim   = "claim"
	CounterNote    = "note"
)

// Slot names used with PrefixSlot.
const (
	SlotRemoteAddress = "remote_address"
	SlotRemoteAnchor  = "remote_anchor"
)

// U64Key builds prefix + big-endian encoded id.
func U64Key(prefix string, id uint64) []byte {
	key := make([]byte, len(prefix)+8)
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], id)
	return key
}

// StringKey builds prefix + raw string suffix.
func StringKey(prefix, suffix string) []byte {
	return append([]byte(prefix), suffix...)
}

// PrefixRange returns the [start, end) bounds covering every key under prefix.
func PrefixRange(prefix string) (start, end []byte) {
	start = []byte(prefix)
	end = make([]byte, len(start))
	copy(end, start)
	// Prefixes end in '/' so this never overflows.
	end[len(end)-1]++
	return start, end
}

// ParseU64Key extracts the big-endian id from a key produced by U64Key.
func ParseU64Key(prefix string, key []byte) (uint64, bool) {
	if len(key) != len(prefix)+8 {
		return 0, false
	}
	return binary.BigEndian.Uint64(key[len(prefix):]), true
}
