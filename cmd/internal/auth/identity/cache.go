package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// OAuth error codes the cache reacts to (RFC 6749 / RFC 8628).
const (
	errCodeInvalidGrant = "invalid_grant"
	errCodeAccessDenied = "access_denied"
	errCodeExpiredToken = "expired_token"
)

// CachedSource is a TokenSource over an OAuth client.
//
// Silent acquisition returns the cached access token while it is valid and
// otherwise exchanges the cached refresh token. Interactive acquisition falls
// back to the device authorization flow, delivering the verification step
// through a Prompter. No lock is held across provider calls; a Forget that
// lands while a call is in flight discards that call's result.
type CachedSource struct {
	cfg      *oauth2.Config
	prompter Prompter
	log      *slog.Logger

	mu  sync.Mutex
	tok *oauth2.Token
	gen uint64
}

// GoogleOAuthConfig builds an OAuth client config against Google's endpoints.
func GoogleOAuthConfig(clientID, clientSecret string, scopes ...string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       scopes,
	}
}

// NewCachedSource constructs a CachedSource. refreshToken seeds the cache
// with a previously granted credential and may be empty.
func NewCachedSource(cfg *oauth2.Config, refreshToken string, prompter Prompter, log *slog.Logger) *CachedSource {
	if log == nil {
		log = slog.Default()
	}
	if prompter == nil {
		prompter = LogPrompter{Log: log}
	}
	s := &CachedSource{cfg: cfg, prompter: prompter, log: log}
	if rt := strings.TrimSpace(refreshToken); rt != "" {
		s.tok = &oauth2.Token{RefreshToken: rt}
	}
	return s
}

// Token returns an access token, prompting only when interactive is true.
func (s *CachedSource) Token(ctx context.Context, interactive bool) (string, error) {
	tok, err := s.silent(ctx)
	if err == nil {
		return tok, nil
	}
	if !interactive || !errors.Is(err, ErrNoCachedCredential) {
		return "", err
	}
	return s.device(ctx)
}

// Invalidate drops token if it is the cached access token. The refresh
// credential is kept so the next silent call can mint a fresh access token.
func (s *CachedSource) Invalidate(_ context.Context, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tok == nil || s.tok.AccessToken != token {
		return
	}
	s.tok = &oauth2.Token{RefreshToken: s.tok.RefreshToken}
	if s.tok.RefreshToken == "" {
		s.tok = nil
	}
}

// Forget drops every cached credential.
func (s *CachedSource) Forget(_ context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tok = nil
	s.gen++
}

func (s *CachedSource) silent(ctx context.Context) (string, error) {
	s.mu.Lock()
	cur, gen := s.tok, s.gen
	s.mu.Unlock()

	if cur == nil {
		return "", ErrNoCachedCredential
	}
	if cur.AccessToken != "" && cur.Valid() {
		return cur.AccessToken, nil
	}
	if cur.RefreshToken == "" {
		return "", ErrNoCachedCredential
	}

	next, err := s.cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: cur.RefreshToken}).Token()
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.ErrorCode == errCodeInvalidGrant {
			s.log.Info("identity.refresh.revoked")
			s.clearIf(gen)
			return "", ErrNoCachedCredential
		}
		return "", fmt.Errorf("%w: refresh: %v", ErrProvider, err)
	}
	if next.RefreshToken == "" {
		next.RefreshToken = cur.RefreshToken
	}

	if !s.storeIf(gen, next) {
		return "", ErrNoCachedCredential
	}
	return next.AccessToken, nil
}

func (s *CachedSource) device(ctx context.Context) (string, error) {
	s.mu.Lock()
	gen := s.gen
	s.mu.Unlock()

	da, err := s.cfg.DeviceAuth(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: device authorization: %v", ErrProvider, err)
	}

	verifyURL := da.VerificationURIComplete
	if verifyURL == "" {
		verifyURL = da.VerificationURI
	}
	if err := s.prompter.Prompt(ctx, DeviceCode{
		VerificationURL: verifyURL,
		UserCode:        da.UserCode,
		ExpiresAt:       da.Expiry,
	}); err != nil {
		return "", fmt.Errorf("%w: %v", ErrPromptDeclined, err)
	}

	tok, err := s.cfg.DeviceAccessToken(ctx, da)
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && (re.ErrorCode == errCodeAccessDenied || re.ErrorCode == errCodeExpiredToken) {
			return "", fmt.Errorf("%w: %s", ErrPromptDeclined, re.ErrorCode)
		}
		if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: verification step not completed: %v", ErrPromptDeclined, err)
		}
		return "", fmt.Errorf("%w: device token: %v", ErrProvider, err)
	}

	if !s.storeIf(gen, tok) {
		return "", ErrPromptDeclined
	}
	s.log.Info("identity.device.granted")
	return tok.AccessToken, nil
}

func (s *CachedSource) storeIf(gen uint64, tok *oauth2.Token) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return false
	}
	s.tok = tok
	return true
}

func (s *CachedSource) clearIf(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen == gen {
		s.tok = nil
		s.gen++
	}
}
