package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"docrelay/cmd/internal/auth/identity"
	"docrelay/cmd/internal/metrics"
	"docrelay/cmd/security/token"
)

// Service is the session authority: the only writer of the session record.
type Service struct {
	cfg       Config
	tokens    identity.TokenSource
	validator identity.Validator
	revoker   identity.Revoker
	store     Store
	fp        token.Fingerprinter
	log       *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time

	// flight coalesces concurrent acquisitions under acquireKey.
	flight singleflight.Group

	mu       sync.Mutex
	cur      Session
	gen      uint64 // bumped by SignOut; attempts from an older generation are discarded
	version  int64
	inflight bool
	waiters  int

	// saveMu orders snapshot writes; saved is the newest version written.
	saveMu sync.Mutex
	saved  int64
}

const acquireKey = "acquire"

// attempt is one credential acquisition shared by every caller that joins it.
type attempt struct {
	gen         uint64
	interactive bool
	revalidate  bool
	prior       Session
}

// Option customizes a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithFingerprinter sets how credentials are fingerprinted in snapshots.
func WithFingerprinter(fp token.Fingerprinter) Option {
	return func(s *Service) { s.fp = fp }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService constructs a signed-out Service.
func NewService(cfg Config, tokens identity.TokenSource, validator identity.Validator, revoker identity.Revoker, store Store, opts ...Option) *Service {
	def := DefaultConfig()
	if cfg.Key == "" {
		cfg.Key = def.Key
	}
	if cfg.InteractiveRetryTimeout <= 0 {
		cfg.InteractiveRetryTimeout = def.InteractiveRetryTimeout
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = def.StoreTimeout
	}
	if cfg.SignOutTimeout <= 0 {
		cfg.SignOutTimeout = def.SignOutTimeout
	}

	s := &Service{
		cfg:       cfg,
		tokens:    tokens,
		validator: validator,
		revoker:   revoker,
		store:     store,
		log:       slog.Default(),
		now:       func() time.Time { return time.Now().UTC() },
		cur:       Session{Status: StatusSignedOut},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Restore loads the persisted snapshot.
//
// A persisted SignedIn is taken over without a credential; the next
// Revalidate re-acquires one silently or signs the session out. Any other
// persisted status (including an interrupted Authenticating) restores as
// SignedOut.
func (s *Service) Restore(ctx context.Context) error {
	snap, err := s.store.Load(ctx, s.cfg.Key)
	if errors.Is(err, ErrSnapshotNotFound) {
		return nil
	}
	if err != nil {
		s.metrics.StoreError("load")
		return fmt.Errorf("session restore: %w", err)
	}

	s.mu.Lock()
	if snap.Version > s.version {
		s.version = snap.Version
	}
	var pending *Snapshot
	if snap.Status == StatusSignedIn && snap.User != nil {
		u := *snap.User
		s.cur = Session{Status: StatusSignedIn, User: &u, LastValidatedAt: snap.LastValidatedAt}
	} else if snap.Status != StatusSignedOut {
		s.cur = Session{Status: StatusSignedOut}
		next := s.snapshotLocked()
		pending = &next
	}
	status, version := s.cur.Status, s.version
	s.mu.Unlock()

	if pending != nil {
		s.persist(*pending)
	}
	s.log.Info("session.restore", "status", string(status), "version", version)
	return nil
}

// Current returns a copy of the session.
func (s *Service) Current() Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copySession(s.cur)
}

// Status returns the current status.
func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur.Status
}

// AccessToken returns the held credential when signed in.
func (s *Service) AccessToken() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur.Status != StatusSignedIn || s.cur.Token == "" {
		return "", false
	}
	return s.cur.Token, true
}

// SignIn acquires, validates and commits a credential.
//
// A call made while another acquisition is in flight joins it and returns
// its result. The acquisition itself is not cancelled by ctx; a caller whose
// ctx ends gets ctx.Err() while the attempt still commits.
func (s *Service) SignIn(ctx context.Context, interactive bool) (Session, error) {
	return s.join(ctx, interactive, false)
}

// Revalidate silently re-acquires and re-validates the credential of a
// signed-in session. Any failure signs the session out. It does nothing
// unless the session is signed in.
func (s *Service) Revalidate(ctx context.Context) {
	if st := s.Status(); st != StatusSignedIn {
		s.log.Debug("session.revalidate.skip", "status", string(st))
		return
	}

	_, err := s.join(ctx, false, true)
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		s.log.Debug("session.revalidate.abandoned", "err", err)
	default:
		s.log.Info("session.revalidate.signed_out", "err", err)
	}
}

// SignOut resets the session locally, then revokes the credential and drops
// it from the cache. A session without a held credential (restored, or still
// authenticating) revokes whatever the cache returns silently. Revocation
// failures are logged only. It is a no-op when already signed out with
// nothing in flight.
func (s *Service) SignOut(ctx context.Context) {
	s.mu.Lock()
	if s.cur.Status == StatusSignedOut && !s.inflight {
		s.mu.Unlock()
		return
	}
	tok := s.cur.Token
	s.gen++
	snap := s.transitionLocked(Session{Status: StatusSignedOut})
	s.mu.Unlock()

	s.persist(snap)
	s.log.Info("session.signout")

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.SignOutTimeout)
	defer cancel()

	if tok == "" {
		cached, err := s.tokens.Token(ctx, false)
		if err != nil {
			s.log.Debug("session.signout.no_cached_credential", "err", err)
		}
		tok = cached
	}
	if tok != "" && s.revoker != nil {
		if err := s.revoker.Revoke(ctx, tok); err != nil {
			s.log.Warn("session.signout.revoke_failed", "err", err)
		}
	}
	s.tokens.Forget(ctx)
}

// join runs an acquisition or joins the one in flight.
func (s *Service) join(ctx context.Context, interactive, revalidate bool) (Session, error) {
	actx := context.WithoutCancel(ctx)

	s.mu.Lock()
	ch := s.flight.DoChan(acquireKey, func() (any, error) {
		sess, err := s.run(actx, interactive, revalidate)
		return sess, err
	})
	s.waiters++
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.waiters--
		s.mu.Unlock()
	}()

	select {
	case r := <-ch:
		sess, _ := r.Val.(Session)
		return copySession(sess), r.Err
	case <-ctx.Done():
		return Session{}, ctx.Err()
	}
}

func (s *Service) run(ctx context.Context, interactive, revalidate bool) (Session, error) {
	s.mu.Lock()
	a := attempt{
		gen:         s.gen,
		interactive: interactive,
		revalidate:  revalidate,
		prior:       copySession(s.cur),
	}
	if revalidate && s.cur.Status != StatusSignedIn {
		s.mu.Unlock()
		return a.prior, nil
	}
	s.inflight = true
	var pending *Snapshot
	if s.cur.Status == StatusSignedOut {
		next := s.transitionLocked(Session{Status: StatusAuthenticating})
		pending = &next
	}
	s.mu.Unlock()

	if pending != nil {
		s.persist(*pending)
	}

	sess, err := s.acquireSafe(ctx, interactive)

	s.mu.Lock()
	s.inflight = false

	kind := attemptKind(a)
	if a.gen != s.gen {
		cur := copySession(s.cur)
		s.mu.Unlock()
		s.log.Info("session.attempt.superseded", "kind", kind)
		s.metrics.SignInAttempt(kind, "superseded")
		return cur, fail(ErrAlreadyInProgress, nil, false)
	}

	var snap Snapshot
	switch {
	case err == nil:
		snap = s.transitionLocked(sess)
		s.log.Info("session.signin.ok", "kind", kind, "email", sess.User.Email)
		s.metrics.SignInAttempt(kind, "ok")
	case errors.Is(err, ErrValidationFailed) && !a.revalidate:
		snap = s.transitionLocked(a.prior)
		s.log.Warn("session.signin.failed", "kind", kind, "err", err)
		s.metrics.SignInAttempt(kind, reasonLabel(err))
	default:
		snap = s.transitionLocked(Session{Status: StatusSignedOut})
		s.log.Info("session.signin.failed", "kind", kind, "err", err)
		s.metrics.SignInAttempt(kind, reasonLabel(err))
	}
	cur := copySession(s.cur)
	s.mu.Unlock()

	s.persist(snap)
	return cur, err
}

// acquireSafe turns a panicking provider into a validation failure.
func (s *Service) acquireSafe(ctx context.Context, interactive bool) (sess Session, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("session.attempt.panic", "panic", r)
			sess, err = Session{}, fail(ErrValidationFailed, fmt.Errorf("panic: %v", r), false)
		}
	}()
	return s.acquire(ctx, interactive)
}

func (s *Service) acquire(ctx context.Context, interactive bool) (Session, error) {
	tok, err := s.tokens.Token(ctx, interactive)
	if err != nil {
		return Session{}, classifyAcquire(err, false)
	}

	ok, err := s.validator.Introspect(ctx, tok)
	if err != nil {
		return Session{}, fail(ErrValidationFailed, err, false)
	}

	if !ok {
		s.tokens.Invalidate(ctx, tok)
		if !interactive {
			return Session{}, fail(ErrInvalidCredential, nil, false)
		}

		rctx, cancel := context.WithTimeout(ctx, s.cfg.InteractiveRetryTimeout)
		defer cancel()

		s.log.Info("session.signin.retry")
		tok, err = s.tokens.Token(rctx, true)
		if err != nil {
			return Session{}, classifyAcquire(err, true)
		}
		ok, err = s.validator.Introspect(rctx, tok)
		if err != nil {
			return Session{}, fail(ErrValidationFailed, err, true)
		}
		if !ok {
			s.tokens.Invalidate(ctx, tok)
			return Session{}, fail(ErrInvalidCredential, nil, true)
		}
	}

	u, err := s.validator.UserInfo(ctx, tok)
	if err != nil {
		return Session{}, fail(ErrValidationFailed, err, false)
	}

	return Session{
		Status:          StatusSignedIn,
		Token:           tok,
		User:            &u,
		LastValidatedAt: s.now(),
	}, nil
}

// classifyAcquire maps an acquisition failure. A silent first attempt that
// found nothing is ErrNoCachedCredential. A declined prompt, or an empty
// cache after a rejected credential, is ErrInvalidCredential.
func classifyAcquire(err error, retried bool) error {
	switch {
	case errors.Is(err, identity.ErrPromptDeclined),
		retried && errors.Is(err, identity.ErrNoCachedCredential),
		retried && errors.Is(err, context.DeadlineExceeded):
		return fail(ErrInvalidCredential, err, retried)
	case errors.Is(err, identity.ErrNoCachedCredential):
		return fail(ErrNoCachedCredential, err, false)
	default:
		return fail(ErrValidationFailed, err, retried)
	}
}

// transitionLocked replaces the session and returns the snapshot to persist
// once s.mu is released.
func (s *Service) transitionLocked(next Session) Snapshot {
	if next.Status != StatusSignedIn {
		next = Session{Status: next.Status}
	}
	prev := s.cur.Status
	s.cur = next
	s.metrics.SessionTransition(string(prev), string(next.Status))
	return s.snapshotLocked()
}

func (s *Service) snapshotLocked() Snapshot {
	s.version++
	snap := Snapshot{
		Key:              s.cfg.Key,
		Status:           s.cur.Status,
		TokenFingerprint: s.fp.Fingerprint(s.cur.Token),
		LastValidatedAt:  s.cur.LastValidatedAt,
		Version:          s.version,
		UpdatedAt:        s.now(),
	}
	if s.cur.User != nil {
		u := *s.cur.User
		snap.User = &u
	}
	return snap
}

// persist writes snap unless a newer version has already been written.
// Writes run outside s.mu so a slow store never blocks Status.
func (s *Service) persist(snap Snapshot) {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	if snap.Version <= s.saved {
		s.log.Debug("session.persist.skip_stale", "version", snap.Version, "saved", s.saved)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.StoreTimeout)
	defer cancel()
	if err := s.store.Save(ctx, snap); err != nil {
		s.metrics.StoreError("save")
		s.log.Error("session.persist_failed", "version", snap.Version, "err", err)
		return
	}
	s.saved = snap.Version
}

func attemptKind(a attempt) string {
	switch {
	case a.revalidate:
		return "revalidate"
	case a.interactive:
		return "interactive"
	default:
		return "silent"
	}
}

func reasonLabel(err error) string {
	for _, r := range []error{ErrNoCachedCredential, ErrInvalidCredential, ErrValidationFailed, ErrAlreadyInProgress} {
		if errors.Is(err, r) {
			return r.Error()
		}
	}
	return "error"
}

func copySession(s Session) Session {
	if s.User != nil {
		u := *s.User
		s.User = &u
	}
	return s
}
