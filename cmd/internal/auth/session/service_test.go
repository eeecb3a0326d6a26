package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"docrelay/cmd/internal/auth/identity"
	"docrelay/cmd/security/token"
)

// fakeProvider implements identity.TokenSource, identity.Validator and identity.Revoker.
type fakeProvider struct {
	mu sync.Mutex

	// tokens is consumed one per Token call; the last entry repeats.
	tokens   []string
	tokenErr error
	gate     chan struct{}
	panicky  bool

	valid         map[string]bool
	introspectErr error
	user          identity.User
	userErr       error
	revokeErr     error

	tokenCalls  int
	interactive []bool
	invalidated []string
	forgotten   int
	revoked     []string
}

func newFakeProvider(tokens ...string) *fakeProvider {
	return &fakeProvider{
		tokens: tokens,
		valid:  map[string]bool{"good": true, "good-2": true},
		user:   identity.User{Email: "ada@example.com", Name: "Ada"},
	}
}

func (f *fakeProvider) Token(ctx context.Context, interactive bool) (string, error) {
	f.mu.Lock()
	f.tokenCalls++
	f.interactive = append(f.interactive, interactive)
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panicky {
		panic("provider exploded")
	}
	if f.tokenErr != nil {
		return "", f.tokenErr
	}
	if len(f.tokens) == 0 {
		return "", identity.ErrNoCachedCredential
	}
	tok := f.tokens[0]
	if len(f.tokens) > 1 {
		f.tokens = f.tokens[1:]
	}
	return tok, nil
}

func (f *fakeProvider) Invalidate(_ context.Context, tok string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated = append(f.invalidated, tok)
}

func (f *fakeProvider) Forget(context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forgotten++
}

func (f *fakeProvider) Introspect(_ context.Context, tok string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.introspectErr != nil {
		return false, f.introspectErr
	}
	return f.valid[tok], nil
}

func (f *fakeProvider) UserInfo(context.Context, string) (identity.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.userErr != nil {
		return identity.User{}, f.userErr
	}
	return f.user, nil
}

func (f *fakeProvider) Revoke(_ context.Context, tok string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked = append(f.revoked, tok)
	return f.revokeErr
}

func (f *fakeProvider) set(fn func(f *fakeProvider)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeProvider) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tokenCalls
}

var testKey = []byte("0123456789abcdef0123456789abcdef")

func newTestService(t *testing.T, p *fakeProvider, store Store) *Service {
	t.Helper()
	if store == nil {
		store = NewInMemoryStore()
	}
	cfg := DefaultConfig()
	cfg.InteractiveRetryTimeout = 2 * time.Second
	return NewService(cfg, p, p, p, store,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithFingerprinter(token.NewFingerprinter(testKey)),
	)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func mustSignIn(t *testing.T, s *Service) Session {
	t.Helper()
	sess, err := s.SignIn(context.Background(), true)
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	return sess
}

func TestSignIn_InteractiveSuccessPersistsSnapshot(t *testing.T) {
	t.Parallel()

	store := NewInMemoryStore()
	s := newTestService(t, newFakeProvider("good"), store)

	sess := mustSignIn(t, s)
	if sess.Status != StatusSignedIn || sess.User == nil || sess.User.Email != "ada@example.com" {
		t.Fatalf("unexpected session: %+v", sess)
	}
	if tok, ok := s.AccessToken(); !ok || tok != "good" {
		t.Fatalf("AccessToken=%q,%v", tok, ok)
	}

	snap, err := store.Load(context.Background(), DefaultConfig().Key)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if snap.Status != StatusSignedIn || snap.User == nil || *snap.User != *sess.User {
		t.Fatalf("snapshot does not match session: %+v", snap)
	}
	if !snap.LastValidatedAt.Equal(sess.LastValidatedAt) {
		t.Fatalf("LastValidatedAt mismatch: %v vs %v", snap.LastValidatedAt, sess.LastValidatedAt)
	}
	if want := token.NewFingerprinter(testKey).Fingerprint("good"); snap.TokenFingerprint != want {
		t.Fatalf("fingerprint=%q want %q", snap.TokenFingerprint, want)
	}
	if snap.TokenFingerprint == "good" {
		t.Fatalf("raw credential persisted")
	}
	// Authenticating then SignedIn.
	if snap.Version != 2 {
		t.Fatalf("version=%d want 2", snap.Version)
	}
}

func TestSignIn_SilentWithoutCacheFailsFast(t *testing.T) {
	t.Parallel()

	p := newFakeProvider()
	s := newTestService(t, p, nil)

	_, err := s.SignIn(context.Background(), false)
	if !errors.Is(err, ErrNoCachedCredential) {
		t.Fatalf("expected ErrNoCachedCredential, got %v", err)
	}
	var ae *AttemptError
	if !errors.As(err, &ae) || !errors.Is(ae.Cause, identity.ErrNoCachedCredential) {
		t.Fatalf("expected AttemptError wrapping the provider cause, got %#v", err)
	}
	if s.Status() != StatusSignedOut {
		t.Fatalf("status=%s", s.Status())
	}
	if len(p.interactive) != 1 || p.interactive[0] {
		t.Fatalf("silent sign-in must never prompt: %v", p.interactive)
	}
}

func TestSignIn_PromptDeclinedIsInvalidCredential(t *testing.T) {
	t.Parallel()

	p := newFakeProvider()
	p.tokenErr = identity.ErrPromptDeclined
	s := newTestService(t, p, nil)

	_, err := s.SignIn(context.Background(), true)
	if !errors.Is(err, ErrInvalidCredential) {
		t.Fatalf("expected ErrInvalidCredential, got %v", err)
	}
	if errors.Is(err, ErrNoCachedCredential) {
		t.Fatalf("interactive sign-in must not report NoCachedCredential: %v", err)
	}
	if s.Status() != StatusSignedOut {
		t.Fatalf("status=%s", s.Status())
	}
}

func TestSignIn_InteractiveRetriesOnceAfterInvalidToken(t *testing.T) {
	t.Parallel()

	p := newFakeProvider("stale", "good")
	s := newTestService(t, p, nil)

	sess := mustSignIn(t, s)
	if sess.Status != StatusSignedIn {
		t.Fatalf("status=%s", sess.Status)
	}
	if p.calls() != 2 {
		t.Fatalf("token calls=%d want 2", p.calls())
	}
	if len(p.invalidated) != 1 || p.invalidated[0] != "stale" {
		t.Fatalf("invalidated=%v want [stale]", p.invalidated)
	}
	if !p.interactive[1] {
		t.Fatalf("retry must be interactive")
	}
}

func TestSignIn_InteractiveRetryIsBounded(t *testing.T) {
	t.Parallel()

	p := newFakeProvider("stale", "also-stale", "good")
	s := newTestService(t, p, nil)

	_, err := s.SignIn(context.Background(), true)
	if !errors.Is(err, ErrInvalidCredential) {
		t.Fatalf("expected ErrInvalidCredential, got %v", err)
	}
	var ae *AttemptError
	if !errors.As(err, &ae) || !ae.Retried {
		t.Fatalf("expected a retried AttemptError, got %#v", err)
	}
	if p.calls() != 2 {
		t.Fatalf("token calls=%d want exactly 2", p.calls())
	}
	if s.Status() != StatusSignedOut {
		t.Fatalf("status=%s", s.Status())
	}
}

func TestSignIn_SilentInvalidDoesNotRetry(t *testing.T) {
	t.Parallel()

	p := newFakeProvider("stale", "good")
	s := newTestService(t, p, nil)

	if _, err := s.SignIn(context.Background(), false); !errors.Is(err, ErrInvalidCredential) {
		t.Fatalf("expected ErrInvalidCredential, got %v", err)
	}
	if p.calls() != 1 {
		t.Fatalf("token calls=%d want 1", p.calls())
	}
}

func TestSignIn_ValidationFailureLeavesStateUnchanged(t *testing.T) {
	t.Parallel()

	p := newFakeProvider("good")
	store := NewInMemoryStore()
	s := newTestService(t, p, store)
	before := mustSignIn(t, s)

	p.set(func(f *fakeProvider) { f.introspectErr = errors.New("dial tcp: timeout") })
	if _, err := s.SignIn(context.Background(), true); !errors.Is(err, ErrValidationFailed) {
		t.Fatalf("expected ErrValidationFailed, got %v", err)
	}

	after := s.Current()
	if after.Status != StatusSignedIn || after.Token != before.Token || *after.User != *before.User {
		t.Fatalf("state changed: before=%+v after=%+v", before, after)
	}

	p.set(func(f *fakeProvider) {
		f.introspectErr = nil
		f.userErr = errors.New("userinfo: 503")
	})
	if _, err := s.SignIn(context.Background(), true); !errors.Is(err, ErrValidationFailed) {
		t.Fatalf("expected ErrValidationFailed on identity fetch, got %v", err)
	}
	if s.Status() != StatusSignedIn {
		t.Fatalf("status=%s want SignedIn", s.Status())
	}
}

func TestSignIn_ValidationFailureFromSignedOutReturnsToSignedOut(t *testing.T) {
	t.Parallel()

	p := newFakeProvider("good")
	p.introspectErr = errors.New("network down")
	s := newTestService(t, p, nil)

	if _, err := s.SignIn(context.Background(), true); !errors.Is(err, ErrValidationFailed) {
		t.Fatalf("expected ErrValidationFailed, got %v", err)
	}
	if s.Status() != StatusSignedOut {
		t.Fatalf("status=%s", s.Status())
	}
}

func TestSignIn_ProviderPanicIsContained(t *testing.T) {
	t.Parallel()

	p := newFakeProvider("good")
	p.panicky = true
	s := newTestService(t, p, nil)

	if _, err := s.SignIn(context.Background(), true); !errors.Is(err, ErrValidationFailed) {
		t.Fatalf("expected ErrValidationFailed, got %v", err)
	}
	if s.Status() != StatusSignedOut {
		t.Fatalf("status=%s", s.Status())
	}
}

func TestSignIn_ConcurrentCallsCoalesce(t *testing.T) {
	t.Parallel()

	p := newFakeProvider("good")
	p.gate = make(chan struct{})
	s := newTestService(t, p, nil)

	type result struct {
		sess Session
		err  error
	}
	results := make(chan result, 2)
	call := func() {
		sess, err := s.SignIn(context.Background(), true)
		results <- result{sess, err}
	}

	go call()
	waitFor(t, "first acquisition", func() bool { return p.calls() == 1 })
	if s.Status() != StatusAuthenticating {
		t.Fatalf("status=%s want Authenticating", s.Status())
	}

	go call()
	waitFor(t, "second caller to join", func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.waiters == 2
	})

	close(p.gate)

	var got []result
	for i := 0; i < 2; i++ {
		select {
		case r := <-results:
			got = append(got, r)
		case <-time.After(3 * time.Second):
			t.Fatalf("caller %d never completed", i)
		}
	}
	for _, r := range got {
		if r.err != nil {
			t.Fatalf("SignIn: %v", r.err)
		}
		if r.sess.User == nil || r.sess.User.Email != "ada@example.com" {
			t.Fatalf("unexpected session: %+v", r.sess)
		}
	}
	if p.calls() != 1 {
		t.Fatalf("token calls=%d want exactly 1", p.calls())
	}
}

func TestSignIn_CallerCancellationDoesNotAbortAttempt(t *testing.T) {
	t.Parallel()

	p := newFakeProvider("good")
	p.gate = make(chan struct{})
	s := newTestService(t, p, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := s.SignIn(ctx, true)
		errc <- err
	}()

	waitFor(t, "acquisition", func() bool { return p.calls() == 1 })
	cancel()
	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	close(p.gate)
	waitFor(t, "commit", func() bool { return s.Status() == StatusSignedIn })
}

func TestSignOut_ResetsRevokesAndForgets(t *testing.T) {
	t.Parallel()

	p := newFakeProvider("good")
	p.revokeErr = errors.New("revoke endpoint down")
	store := NewInMemoryStore()
	s := newTestService(t, p, store)
	mustSignIn(t, s)

	s.SignOut(context.Background())

	cur := s.Current()
	if cur.Status != StatusSignedOut || cur.User != nil || cur.Token != "" {
		t.Fatalf("session not cleared: %+v", cur)
	}
	if len(p.revoked) != 1 || p.revoked[0] != "good" {
		t.Fatalf("revoked=%v", p.revoked)
	}
	if p.forgotten != 1 {
		t.Fatalf("forgotten=%d", p.forgotten)
	}

	snap, err := store.Load(context.Background(), DefaultConfig().Key)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if snap.Status != StatusSignedOut || snap.User != nil || snap.TokenFingerprint != "" {
		t.Fatalf("snapshot not cleared: %+v", snap)
	}

	// Idempotent.
	version := snap.Version
	s.SignOut(context.Background())
	if len(p.revoked) != 1 || p.forgotten != 1 {
		t.Fatalf("second SignOut should be a no-op: revoked=%v forgotten=%d", p.revoked, p.forgotten)
	}
	if again, _ := store.Load(context.Background(), DefaultConfig().Key); again.Version != version {
		t.Fatalf("second SignOut persisted: %d -> %d", version, again.Version)
	}
}

func TestSignOut_SupersedesInFlightAttempt(t *testing.T) {
	t.Parallel()

	p := newFakeProvider("good")
	p.gate = make(chan struct{})
	s := newTestService(t, p, nil)

	errc := make(chan error, 1)
	go func() {
		_, err := s.SignIn(context.Background(), true)
		errc <- err
	}()
	waitFor(t, "acquisition", func() bool { return p.calls() == 1 })

	signedOut := make(chan struct{})
	go func() {
		s.SignOut(context.Background())
		close(signedOut)
	}()
	waitFor(t, "sign-out", func() bool { return s.Status() == StatusSignedOut })
	close(p.gate)
	<-signedOut

	if err := <-errc; !errors.Is(err, ErrAlreadyInProgress) {
		t.Fatalf("expected ErrAlreadyInProgress, got %v", err)
	}
	if s.Status() != StatusSignedOut {
		t.Fatalf("superseded attempt resurrected the session: %s", s.Status())
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.revoked) != 1 || p.revoked[0] != "good" || p.forgotten != 1 {
		t.Fatalf("authenticating sign-out must revoke the cached credential: revoked=%v forgotten=%d", p.revoked, p.forgotten)
	}
}

func TestSignOut_RestoredSessionRevokesCachedCredential(t *testing.T) {
	t.Parallel()

	store := NewInMemoryStore()
	ctx := context.Background()
	if err := store.Save(ctx, Snapshot{
		Key:     DefaultConfig().Key,
		Status:  StatusSignedIn,
		User:    &identity.User{Email: "ada@example.com", Name: "Ada"},
		Version: 4,
	}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	p := newFakeProvider("cached")
	s := newTestService(t, p, store)
	if err := s.Restore(ctx); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	s.SignOut(ctx)

	if s.Status() != StatusSignedOut {
		t.Fatalf("status=%s", s.Status())
	}
	if len(p.interactive) != 1 || p.interactive[0] {
		t.Fatalf("credential lookup must be silent: %v", p.interactive)
	}
	if len(p.revoked) != 1 || p.revoked[0] != "cached" {
		t.Fatalf("revoked=%v want [cached]", p.revoked)
	}
	if p.forgotten != 1 {
		t.Fatalf("forgotten=%d", p.forgotten)
	}
}

func TestSignOut_NothingCachedStillForgets(t *testing.T) {
	t.Parallel()

	store := NewInMemoryStore()
	ctx := context.Background()
	_ = store.Save(ctx, Snapshot{
		Key:     DefaultConfig().Key,
		Status:  StatusSignedIn,
		User:    &identity.User{Email: "ada@example.com"},
		Version: 1,
	})

	p := newFakeProvider()
	s := newTestService(t, p, store)
	if err := s.Restore(ctx); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	s.SignOut(ctx)
	if len(p.revoked) != 0 {
		t.Fatalf("revoked=%v want none", p.revoked)
	}
	if p.forgotten != 1 || s.Status() != StatusSignedOut {
		t.Fatalf("forgotten=%d status=%s", p.forgotten, s.Status())
	}
}

func TestRevalidate_InvalidTokenSignsOut(t *testing.T) {
	t.Parallel()

	p := newFakeProvider("good")
	store := NewInMemoryStore()
	s := newTestService(t, p, store)
	mustSignIn(t, s)

	p.set(func(f *fakeProvider) { f.valid["good"] = false })
	s.Revalidate(context.Background())

	cur := s.Current()
	if cur.Status != StatusSignedOut || cur.User != nil || cur.Token != "" {
		t.Fatalf("expected cleared SignedOut session, got %+v", cur)
	}
	if p.interactive[len(p.interactive)-1] {
		t.Fatalf("revalidation must be silent")
	}
	snap, _ := store.Load(context.Background(), DefaultConfig().Key)
	if snap.Status != StatusSignedOut || snap.User != nil {
		t.Fatalf("snapshot=%+v", snap)
	}
}

func TestRevalidate_AnyFailureSignsOut(t *testing.T) {
	t.Parallel()

	p := newFakeProvider("good")
	s := newTestService(t, p, nil)
	mustSignIn(t, s)

	p.set(func(f *fakeProvider) { f.introspectErr = errors.New("network down") })
	s.Revalidate(context.Background())

	if s.Status() != StatusSignedOut {
		t.Fatalf("status=%s want SignedOut", s.Status())
	}
}

func TestRevalidate_SkipsUnlessSignedIn(t *testing.T) {
	t.Parallel()

	p := newFakeProvider("good")
	s := newTestService(t, p, nil)

	s.Revalidate(context.Background())
	if p.calls() != 0 {
		t.Fatalf("revalidate from SignedOut must not acquire, calls=%d", p.calls())
	}
}

func TestRevalidate_StaysSignedInWhileInFlight(t *testing.T) {
	t.Parallel()

	p := newFakeProvider("good", "good-2")
	s := newTestService(t, p, nil)
	mustSignIn(t, s)

	gate := make(chan struct{})
	p.set(func(f *fakeProvider) { f.gate = gate })

	done := make(chan struct{})
	go func() {
		s.Revalidate(context.Background())
		close(done)
	}()
	waitFor(t, "revalidation", func() bool { return p.calls() == 2 })
	if s.Status() != StatusSignedIn {
		t.Fatalf("status=%s want SignedIn during revalidation", s.Status())
	}
	close(gate)
	<-done

	if tok, _ := s.AccessToken(); tok != "good-2" {
		t.Fatalf("token=%q want refreshed credential", tok)
	}
}

func TestRestore_SignedInNeedsRevalidation(t *testing.T) {
	t.Parallel()

	store := NewInMemoryStore()
	ctx := context.Background()
	if err := store.Save(ctx, Snapshot{
		Key:     DefaultConfig().Key,
		Status:  StatusSignedIn,
		User:    &identity.User{Email: "ada@example.com", Name: "Ada"},
		Version: 7,
	}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	p := newFakeProvider("good")
	s := newTestService(t, p, store)
	if err := s.Restore(ctx); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if s.Status() != StatusSignedIn {
		t.Fatalf("status=%s", s.Status())
	}
	if _, ok := s.AccessToken(); ok {
		t.Fatalf("restored session must not carry a credential")
	}

	s.Revalidate(ctx)
	if tok, ok := s.AccessToken(); !ok || tok != "good" {
		t.Fatalf("AccessToken=%q,%v after revalidation", tok, ok)
	}
	snap, _ := store.Load(ctx, DefaultConfig().Key)
	if snap.Version != 8 {
		t.Fatalf("version=%d want 8", snap.Version)
	}
}

func TestRestore_InterruptedAttemptRestoresSignedOut(t *testing.T) {
	t.Parallel()

	store := NewInMemoryStore()
	ctx := context.Background()
	_ = store.Save(ctx, Snapshot{Key: DefaultConfig().Key, Status: StatusAuthenticating, Version: 3})

	s := newTestService(t, newFakeProvider(), store)
	if err := s.Restore(ctx); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if s.Status() != StatusSignedOut {
		t.Fatalf("status=%s", s.Status())
	}
	snap, _ := store.Load(ctx, DefaultConfig().Key)
	if snap.Status != StatusSignedOut || snap.Version != 4 {
		t.Fatalf("snapshot=%+v", snap)
	}
}

func TestRestore_MissingSnapshot(t *testing.T) {
	t.Parallel()

	s := newTestService(t, newFakeProvider(), nil)
	if err := s.Restore(context.Background()); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if s.Status() != StatusSignedOut {
		t.Fatalf("status=%s", s.Status())
	}
}

// recordingHandler keeps the messages of every record it handles.
type recordingHandler struct {
	mu   sync.Mutex
	msgs []string
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *recordingHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.msgs = append(h.msgs, r.Message)
	return nil
}

func (h *recordingHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *recordingHandler) WithGroup(string) slog.Handler      { return h }

func (h *recordingHandler) has(msg string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, m := range h.msgs {
		if m == msg {
			return true
		}
	}
	return false
}

func TestRevalidate_CancelledCallerDoesNotReportSignOut(t *testing.T) {
	t.Parallel()

	p := newFakeProvider("good", "good-2")
	rec := &recordingHandler{}
	cfg := DefaultConfig()
	s := NewService(cfg, p, p, p, NewInMemoryStore(),
		WithLogger(slog.New(rec)),
		WithFingerprinter(token.NewFingerprinter(testKey)),
	)
	mustSignIn(t, s)

	gate := make(chan struct{})
	p.set(func(f *fakeProvider) { f.gate = gate })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Revalidate(ctx)
		close(done)
	}()
	waitFor(t, "revalidation", func() bool { return p.calls() == 2 })
	cancel()
	<-done

	if rec.has("session.revalidate.signed_out") {
		t.Fatalf("cancelled revalidation logged a sign-out")
	}
	if !rec.has("session.revalidate.abandoned") {
		t.Fatalf("expected session.revalidate.abandoned, got %v", rec.msgs)
	}
	if s.Status() != StatusSignedIn {
		t.Fatalf("status=%s want SignedIn", s.Status())
	}

	close(gate)
	waitFor(t, "commit", func() bool {
		tok, _ := s.AccessToken()
		return tok == "good-2"
	})
}

// slowStore blocks every Save until release is closed.
type slowStore struct {
	*InMemoryStore
	release chan struct{}
	saving  chan struct{}
	once    sync.Once
}

func (s *slowStore) Save(ctx context.Context, snap Snapshot) error {
	s.once.Do(func() { close(s.saving) })
	select {
	case <-s.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	return s.InMemoryStore.Save(ctx, snap)
}

func TestPersist_SlowStoreDoesNotBlockStatus(t *testing.T) {
	t.Parallel()

	store := &slowStore{
		InMemoryStore: NewInMemoryStore(),
		release:       make(chan struct{}),
		saving:        make(chan struct{}),
	}
	p := newFakeProvider("good")
	s := newTestService(t, p, store)

	errc := make(chan error, 1)
	go func() {
		_, err := s.SignIn(context.Background(), true)
		errc <- err
	}()
	<-store.saving

	statusc := make(chan Status, 1)
	go func() { statusc <- s.Status() }()
	select {
	case st := <-statusc:
		if st != StatusAuthenticating {
			t.Fatalf("status=%s want Authenticating", st)
		}
	case <-time.After(time.Second):
		t.Fatalf("Status blocked behind a snapshot write")
	}

	close(store.release)
	if err := <-errc; err != nil {
		t.Fatalf("SignIn: %v", err)
	}

	snap, err := store.Load(context.Background(), DefaultConfig().Key)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if snap.Status != StatusSignedIn || snap.Version != 2 {
		t.Fatalf("snapshot=%+v", snap)
	}
}
