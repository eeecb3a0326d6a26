package token

import (
	"errors"
	"fmt"
)

var (
	// ErrFingerprintKeyMissing means DOCRELAY_TOKEN_HMAC_KEY is unset or blank.
	ErrFingerprintKeyMissing = errors.New("fingerprint key missing")
	// ErrFingerprintKeyShort means the configured key is below the required length.
	ErrFingerprintKeyShort = errors.New("fingerprint key too short")
)

// KeyLengthError reports a fingerprint key below the required length.
// It matches ErrFingerprintKeyShort with errors.Is.
type KeyLengthError struct {
	Have, Min int
}

func (e *KeyLengthError) Error() string {
	return fmt.Sprintf("%s: %d bytes, need %d", ErrFingerprintKeyShort, e.Have, e.Min)
}

func (e *KeyLengthError) Unwrap() error { return ErrFingerprintKeyShort }
