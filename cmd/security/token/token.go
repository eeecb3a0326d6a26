package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"strings"
)

const (
	// HMACEnvKey is the env var name for the fingerprint HMAC secret.
	// #nosec G101 -- not a credential; it's an environment variable name.
	HMACEnvKey = "DOCRELAY_TOKEN_HMAC_KEY"
)

// Fingerprinter hashes credentials with an optional HMAC key.
type Fingerprinter struct {
	key []byte
}

// NewFingerprinter returns a Fingerprinter; an empty key selects plain SHA-256.
func NewFingerprinter(key []byte) Fingerprinter {
	return Fingerprinter{key: append([]byte(nil), key...)}
}

// FromEnv builds a Fingerprinter from DOCRELAY_TOKEN_HMAC_KEY (SHA-256 when unset).
func FromEnv() Fingerprinter {
	return NewFingerprinter([]byte(strings.TrimSpace(os.Getenv(HMACEnvKey))))
}

// HMAC reports whether the fingerprinter is keyed.
func (f Fingerprinter) HMAC() bool { return len(f.key) > 0 }

// Fingerprint returns the hex digest of a credential. Empty input yields "".
func (f Fingerprinter) Fingerprint(credential string) string {
	if credential == "" {
		return ""
	}
	if len(f.key) == 0 {
		return HashSHA256Hex(credential)
	}
	return HashHMACSHA256Hex(credential, f.key)
}

// HashSHA256Hex returns a SHA-256 hex digest of s.
func HashSHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// HashHMACSHA256Hex returns an HMAC-SHA256 hex digest of s using key.
func HashHMACSHA256Hex(s string, key []byte) string {
	m := hmac.New(sha256.New, key)
	_, _ = m.Write([]byte(s))
	return hex.EncodeToString(m.Sum(nil))
}

// HMACKeyFromEnv returns the configured HMAC key bytes (trimmed), enforcing a minimum byte length.
func HMACKeyFromEnv(minBytes int) ([]byte, error) {
	raw := strings.TrimSpace(os.Getenv(HMACEnvKey))
	if raw == "" {
		return nil, ErrFingerprintKeyMissing
	}
	b := []byte(raw)
	if minBytes > 0 && len(b) < minBytes {
		return nil, &KeyLengthError{Have: len(b), Min: minBytes}
	}
	return b, nil
}
