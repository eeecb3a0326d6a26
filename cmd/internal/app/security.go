package app

import (
	"errors"
	"fmt"

	"docrelay/cmd/security/token"
)

// minHMACKeyBytes is the minimum secret length for HMAC-SHA256.
const minHMACKeyBytes = 32

// SecurityFingerprinter enforces the fingerprint policy at startup and
// returns the Fingerprinter snapshots are written with.
//
// With DOCRELAY_REQUIRE_TOKEN_HMAC=true a missing or short key fails startup
// instead of falling back to plain SHA-256.
func SecurityFingerprinter(cfg Config) (token.Fingerprinter, error) {
	if !cfg.RequireTokenHMAC {
		return token.FromEnv(), nil
	}

	key, err := token.HMACKeyFromEnv(minHMACKeyBytes)
	if err != nil {
		switch {
		case errors.Is(err, token.ErrFingerprintKeyMissing):
			return token.Fingerprinter{}, errors.New("security policy: DOCRELAY_REQUIRE_TOKEN_HMAC=true but DOCRELAY_TOKEN_HMAC_KEY is missing")
		case errors.Is(err, token.ErrFingerprintKeyShort):
			return token.Fingerprinter{}, fmt.Errorf("security policy: DOCRELAY_REQUIRE_TOKEN_HMAC=true but DOCRELAY_TOKEN_HMAC_KEY is too short: %w", err)
		default:
			return token.Fingerprinter{}, err
		}
	}

	fp := token.NewFingerprinter(key)
	if !fp.HMAC() {
		return token.Fingerprinter{}, errors.New("security policy: DOCRELAY_REQUIRE_TOKEN_HMAC=true but fingerprinter is not in HMAC mode")
	}
	return fp, nil
}
