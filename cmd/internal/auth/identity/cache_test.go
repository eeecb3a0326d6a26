package identity

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"golang.org/x/oauth2"
)

type fakeOAuth struct {
	refreshHits atomic.Int32
	deviceHits  atomic.Int32

	refreshStatus int
	refreshBody   string
	deviceResult  string // "grant" or an OAuth error code
}

func (f *fakeOAuth) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		w.Header().Set("Content-Type", "application/json")
		switch r.PostForm.Get("grant_type") {
		case "refresh_token":
			n := f.refreshHits.Add(1)
			if f.refreshStatus != 0 && f.refreshStatus != http.StatusOK {
				w.WriteHeader(f.refreshStatus)
				_, _ = io.WriteString(w, f.refreshBody)
				return
			}
			_, _ = io.WriteString(w, `{"access_token":"refreshed-`+string(rune('0'+n))+`","token_type":"Bearer","expires_in":3600}`)
		case "urn:ietf:params:oauth:grant-type:device_code":
			if f.deviceResult != "grant" {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = io.WriteString(w, `{"error":"`+f.deviceResult+`"}`)
				return
			}
			_, _ = io.WriteString(w, `{"access_token":"device-tok","refresh_token":"device-rt","token_type":"Bearer","expires_in":3600}`)
		default:
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"error":"unsupported_grant_type"}`)
		}
	})
	mux.HandleFunc("/device", func(w http.ResponseWriter, r *http.Request) {
		f.deviceHits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"device_code":"dc-1","user_code":"ABCD-EFGH","verification_uri":"https://example.test/device","expires_in":600,"interval":1}`)
	})
	return mux
}

func newTestSource(t *testing.T, f *fakeOAuth, refreshToken string, p Prompter) *CachedSource {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)

	cfg := &oauth2.Config{
		ClientID:     "client",
		ClientSecret: "secret",
		Endpoint: oauth2.Endpoint{
			TokenURL:      srv.URL + "/token",
			DeviceAuthURL: srv.URL + "/device",
			AuthStyle:     oauth2.AuthStyleInParams,
		},
		Scopes: []string{"scope-a"},
	}
	return NewCachedSource(cfg, refreshToken, p, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

type recordingPrompter struct {
	mu    sync.Mutex
	codes []DeviceCode
	err   error
}

func (p *recordingPrompter) Prompt(_ context.Context, c DeviceCode) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.codes = append(p.codes, c)
	return p.err
}

func TestCachedSource_SilentWithoutCacheFailsFast(t *testing.T) {
	t.Parallel()

	f := &fakeOAuth{}
	p := &recordingPrompter{}
	s := newTestSource(t, f, "", p)

	if _, err := s.Token(context.Background(), false); !errors.Is(err, ErrNoCachedCredential) {
		t.Fatalf("expected ErrNoCachedCredential, got %v", err)
	}
	if f.deviceHits.Load() != 0 || len(p.codes) != 0 {
		t.Fatalf("silent acquisition must not prompt")
	}
}

func TestCachedSource_RefreshThenCache(t *testing.T) {
	t.Parallel()

	f := &fakeOAuth{}
	s := newTestSource(t, f, "seed-rt", nil)
	ctx := context.Background()

	tok, err := s.Token(ctx, false)
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if tok != "refreshed-1" {
		t.Fatalf("token=%q", tok)
	}

	again, err := s.Token(ctx, false)
	if err != nil || again != tok {
		t.Fatalf("second Token=%q,%v want cached %q", again, err, tok)
	}
	if got := f.refreshHits.Load(); got != 1 {
		t.Fatalf("refresh hits=%d want 1", got)
	}

	s.Invalidate(ctx, tok)
	next, err := s.Token(ctx, false)
	if err != nil {
		t.Fatalf("Token after invalidate: %v", err)
	}
	if next != "refreshed-2" {
		t.Fatalf("token after invalidate=%q", next)
	}

	s.Forget(ctx)
	if _, err := s.Token(ctx, false); !errors.Is(err, ErrNoCachedCredential) {
		t.Fatalf("expected ErrNoCachedCredential after Forget, got %v", err)
	}
}

func TestCachedSource_RevokedRefreshTokenIsDropped(t *testing.T) {
	t.Parallel()

	f := &fakeOAuth{refreshStatus: http.StatusBadRequest, refreshBody: `{"error":"invalid_grant"}`}
	s := newTestSource(t, f, "dead-rt", nil)
	ctx := context.Background()

	if _, err := s.Token(ctx, false); !errors.Is(err, ErrNoCachedCredential) {
		t.Fatalf("expected ErrNoCachedCredential, got %v", err)
	}
	if _, err := s.Token(ctx, false); !errors.Is(err, ErrNoCachedCredential) {
		t.Fatalf("expected ErrNoCachedCredential, got %v", err)
	}
	if got := f.refreshHits.Load(); got != 1 {
		t.Fatalf("refresh hits=%d want 1 (dropped after invalid_grant)", got)
	}
}

func TestCachedSource_RefreshTransportErrorIsProviderError(t *testing.T) {
	t.Parallel()

	f := &fakeOAuth{refreshStatus: http.StatusInternalServerError, refreshBody: `{"error":"backend"}`}
	s := newTestSource(t, f, "rt", nil)

	_, err := s.Token(context.Background(), true)
	if !errors.Is(err, ErrProvider) {
		t.Fatalf("expected ErrProvider, got %v", err)
	}
	if f.deviceHits.Load() != 0 {
		t.Fatalf("provider failure must not fall through to a prompt")
	}
}

func TestCachedSource_InteractiveDeviceFlow(t *testing.T) {
	t.Parallel()

	f := &fakeOAuth{deviceResult: "grant"}
	p := &recordingPrompter{}
	s := newTestSource(t, f, "", p)
	ctx := context.Background()

	tok, err := s.Token(ctx, true)
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if tok != "device-tok" {
		t.Fatalf("token=%q", tok)
	}
	if len(p.codes) != 1 {
		t.Fatalf("prompts=%d want 1", len(p.codes))
	}
	if p.codes[0].UserCode != "ABCD-EFGH" || p.codes[0].VerificationURL != "https://example.test/device" {
		t.Fatalf("unexpected prompt: %+v", p.codes[0])
	}
	if p.codes[0].ExpiresAt.IsZero() {
		t.Fatalf("expected expiry on prompt")
	}

	// Granted credential is now cached for silent use.
	if again, err := s.Token(ctx, false); err != nil || again != "device-tok" {
		t.Fatalf("silent after grant=%q,%v", again, err)
	}
}

func TestCachedSource_DeviceFlowDenied(t *testing.T) {
	t.Parallel()

	f := &fakeOAuth{deviceResult: "access_denied"}
	s := newTestSource(t, f, "", &recordingPrompter{})

	if _, err := s.Token(context.Background(), true); !errors.Is(err, ErrPromptDeclined) {
		t.Fatalf("expected ErrPromptDeclined, got %v", err)
	}
}

func TestCachedSource_PromptDeliveryFailure(t *testing.T) {
	t.Parallel()

	f := &fakeOAuth{deviceResult: "grant"}
	s := newTestSource(t, f, "", &recordingPrompter{err: errors.New("no surface")})

	if _, err := s.Token(context.Background(), true); !errors.Is(err, ErrPromptDeclined) {
		t.Fatalf("expected ErrPromptDeclined, got %v", err)
	}
}

func TestMultiPrompter(t *testing.T) {
	t.Parallel()

	ok := &recordingPrompter{}
	bad := &recordingPrompter{err: errors.New("down")}
	code := DeviceCode{UserCode: "X"}

	if err := (MultiPrompter{bad, nil, ok}).Prompt(context.Background(), code); err != nil {
		t.Fatalf("expected delivery through one prompter, got %v", err)
	}
	if len(ok.codes) != 1 || len(bad.codes) != 1 {
		t.Fatalf("every prompter should be tried")
	}
	if err := (MultiPrompter{bad}).Prompt(context.Background(), code); err == nil {
		t.Fatalf("expected error when no prompter delivers")
	}
}
