package model

import (
	"encoding/hex"
	"strconv"
	"time"

	"github.com/zeebo/blake3"
)

// eventKeyDomain is the BLAKE3 key for event identities. Changing it
// changes every derived key and breaks deduplication against stored rows.
var eventKeyDomain = [32]byte{
	'f', 'l', 'e', 'e', 't', 'r', 'i', 's', 'k', '.', 'e', 'v', 'e', 'n', 't', '.',
	'k', 'e', 'y', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// DeriveKey returns the idempotency key of an event. The timestamp must be
// the one carried by the message (zero when absent), not a server-assigned
// one, so that a redelivered message maps to the same key.
func DeriveKey(vehicleID string, ts time.Time, ordinal string) string {
	h, err := blake3.NewKeyed(eventKeyDomain[:])
	if err != nil {
		// only fails on a key of the wrong length
		panic(err)
	}
	writeField(h, vehicleID)
	if ts.IsZero() {
		writeField(h, "-")
	} else {
		// seconds and nanoseconds apart; UnixNano overflows past 2262
		writeField(h, strconv.FormatInt(ts.Unix(), 10)+"."+strconv.Itoa(ts.Nanosecond()))
	}
	writeField(h, ordinal)
	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:16])
}

// PayloadDigest is the ordinal used when the sender supplies no sequence
// number.
func PayloadDigest(payload []byte) string {
	sum := blake3.Sum256(payload)
	return hex.EncodeToString(sum[:16])
}

// writeField length-prefixes s so that field boundaries are unambiguous.
func writeField(h *blake3.Hasher, s string) {
	_, _ = h.Write([]byte(strconv.Itoa(len(s)) + ":" + s))
}
