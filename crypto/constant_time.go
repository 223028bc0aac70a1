package crypto

import (
	"crypto/subtle"
	"errors"
)

// ErrIntegrityCheckFailed is returned by Cipher.Open on any MAC or AEAD tag
// mismatch. This is a silent-discard condition at the session
// layer; callers must never turn it into a distinguishable wire error, or
// a peer gains a decryption oracle.
var ErrIntegrityCheckFailed = errors.New("crypto: integrity check failed")

// ConstantTimeCompare reports whether a and b are equal using a comparison
// whose running time does not depend on where they first differ (never
// "Constant time" testable property).
func ConstantTimeCompare(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}
