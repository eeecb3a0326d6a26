package identity

import (
	"context"
	"log/slog"
	"time"
)

// User is the identity a credential belongs to.
type User struct {
	Email string
	Name  string
}

// TokenSource acquires access credentials.
//
// Token with interactive=false must never prompt; it fails with
// ErrNoCachedCredential when nothing is cached. Invalidate drops token from the
// cache (a refresh credential may survive it). Forget drops everything.
type TokenSource interface {
	Token(ctx context.Context, interactive bool) (string, error)
	Invalidate(ctx context.Context, token string)
	Forget(ctx context.Context)
}

// Validator performs remote introspection of an access credential.
//
// Introspect reports (false, nil) for a credential the provider rejects and a
// non-nil error only when the provider could not be asked.
type Validator interface {
	Introspect(ctx context.Context, token string) (bool, error)
	UserInfo(ctx context.Context, token string) (User, error)
}

// Revoker revokes a credential with the provider.
type Revoker interface {
	Revoke(ctx context.Context, token string) error
}

// DeviceCode is the verification step a user completes on another surface.
type DeviceCode struct {
	VerificationURL string
	UserCode        string
	ExpiresAt       time.Time
}

// Prompter delivers an interactive verification step to the user.
type Prompter interface {
	Prompt(ctx context.Context, code DeviceCode) error
}

// PrompterFunc adapts a function to Prompter.
type PrompterFunc func(ctx context.Context, code DeviceCode) error

func (f PrompterFunc) Prompt(ctx context.Context, code DeviceCode) error { return f(ctx, code) }

// LogPrompter writes the verification step to the log.
type LogPrompter struct {
	Log *slog.Logger
}

func (p LogPrompter) Prompt(_ context.Context, code DeviceCode) error {
	log := p.Log
	if log == nil {
		log = slog.Default()
	}
	log.Info("identity.prompt",
		"verification_url", code.VerificationURL,
		"user_code", code.UserCode,
		"expires_at", code.ExpiresAt,
	)
	return nil
}

// MultiPrompter fans one verification step out to several prompters.
// It fails only when every prompter fails.
type MultiPrompter []Prompter

func (m MultiPrompter) Prompt(ctx context.Context, code DeviceCode) error {
	var firstErr error
	delivered := false
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Prompt(ctx, code); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		delivered = true
	}
	if delivered {
		return nil
	}
	return firstErr
}
