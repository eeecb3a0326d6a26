package identity

import "errors"

var (
	// ErrNoCachedCredential is returned by a silent acquisition that found nothing usable.
	ErrNoCachedCredential = errors.New("no cached credential")

	// ErrPromptDeclined is returned when the user denied the interactive step or let it expire.
	ErrPromptDeclined = errors.New("sign-in prompt declined")

	// ErrProvider wraps unexpected provider failures (transport, malformed responses).
	ErrProvider = errors.New("identity provider error")
)
