// Package signature verifies HMAC-signed, timestamped requests from the
// Gmail add-on, which calls the subscription-status endpoint cross-origin
// without session cookies.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

// MaxAge is how long a signed timestamp stays valid.
const MaxAge = 300 * time.Second

// Sign returns hex(HMAC-SHA256(secret, email|ts)). The trusted caller
// computes the same value with the pre-shared secret.
func Sign(email, ts, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(email + "|" + ts))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether sig is a valid signature for (email, ts) at time
// now. It rejects on a missing secret, an unparseable or future timestamp,
// a timestamp older than MaxAge, malformed hex, or a mismatch. Comparison
// is constant-time; no failure mode panics.
func Verify(email, ts, sig, secret string, now time.Time) bool {
	if secret == "" {
		return false
	}

	tsSec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return false
	}
	age := now.Unix() - tsSec
	if age < 0 || age > int64(MaxAge.Seconds()) {
		return false
	}

	provided, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(email + "|" + ts))
	expected := mac.Sum(nil)

	if len(provided) != len(expected) {
		return false
	}
	return hmac.Equal(provided, expected)
}
