package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"docrelay/cmd/internal/auth/identity"
	"docrelay/cmd/internal/auth/session"
	"docrelay/cmd/internal/ids"
	"docrelay/cmd/internal/metrics"
	v1 "docrelay/shared/contracts/relay/v1"
)

// ErrNoContexts is returned by Prompt when no context is connected.
var ErrNoContexts = errors.New("no connected context")

// Fanout is the membership and broadcast primitive for connected contexts.
//
// Concurrency guarantees:
// - Join/Leave are safe under concurrent Broadcast.
// - Broadcast never blocks (drops under backpressure).
// - Broadcast is panic-safe because Client.Send is never closed by the server.
type Fanout struct {
	log     *slog.Logger
	metrics *metrics.Metrics

	mu      sync.RWMutex
	members map[string]*Client

	retryDelay time.Duration
}

// NewFanout constructs an empty Fanout.
func NewFanout(log *slog.Logger, m *metrics.Metrics) *Fanout {
	if log == nil {
		log = slog.Default()
	}
	return &Fanout{
		log:        log,
		metrics:    m,
		members:    make(map[string]*Client),
		retryDelay: time.Second,
	}
}

// Join adds a client to membership.
func (f *Fanout) Join(client *Client) {
	if f == nil || client == nil || client.ContextID == "" {
		return
	}

	f.mu.Lock()
	f.members[client.ContextID] = client
	f.mu.Unlock()

	f.metrics.ContextConnected()
	f.log.Info("relay.context.join", "context_id", client.ContextID)
}

// Leave removes a client from membership and signals shutdown for that client.
func (f *Fanout) Leave(contextID string) {
	if f == nil || contextID == "" {
		return
	}

	f.mu.Lock()
	cl := f.members[contextID]
	delete(f.members, contextID)
	f.mu.Unlock()

	// Removed from membership first so no broadcaster still targets it.
	if cl != nil {
		cl.Close()
		f.metrics.ContextDisconnected()
		f.log.Info("relay.context.leave", "context_id", contextID)
	}
}

// Len returns the number of connected contexts.
func (f *Fanout) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.members)
}

// Broadcast offers env to every member without blocking.
func (f *Fanout) Broadcast(env v1.Envelope) (delivered, dropped int) {
	if f == nil {
		return 0, 0
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	for _, m := range f.members {
		if m == nil {
			continue
		}

		select {
		case <-m.Done():
			continue
		default:
		}

		select {
		case m.Send <- env:
			delivered++
		default:
			dropped++
		}
	}

	f.metrics.Broadcast(env.Type, delivered, dropped)
	return delivered, dropped
}

// Prompt delivers an interactive verification step to every connected context.
func (f *Fanout) Prompt(_ context.Context, code identity.DeviceCode) error {
	env := newEnvelope(v1.TypeSignInPrompt, toJSON(v1.SignInPromptPayload{
		VerificationURL: code.VerificationURL,
		UserCode:        code.UserCode,
		ExpiresAt:       code.ExpiresAt,
	}))
	if delivered, _ := f.Broadcast(env); delivered == 0 {
		return ErrNoContexts
	}
	return nil
}

// Run turns stored session changes into session_changed notifications until
// ctx ends. A watch that ends early is re-established.
func (f *Fanout) Run(ctx context.Context, store session.Store, key string) error {
	for {
		ch, err := store.Watch(ctx, key)
		if err != nil {
			f.log.Warn("relay.fanout.watch_failed", "err", err)
		} else {
			for snap := range ch {
				f.Broadcast(SessionChanged(snap))
			}
		}

		if ctx.Err() != nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(f.retryDelay):
		}
	}
}

// SessionChanged builds the notification for a stored snapshot.
func SessionChanged(snap session.Snapshot) v1.Envelope {
	p := v1.SessionChangedPayload{
		Status:          string(snap.Status),
		LastValidatedAt: snap.LastValidatedAt,
		Version:         snap.Version,
	}
	if snap.User != nil {
		p.User = &v1.User{Email: snap.User.Email, Name: snap.User.Name}
	}
	return newEnvelope(v1.TypeSessionChanged, toJSON(p))
}

func newEnvelope(typ string, payload json.RawMessage) v1.Envelope {
	return v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      ids.MustNew(),
		TS:      time.Now().UTC(),
		Payload: payload,
	}
}

// toJSON marshals wire payloads, which are plain structs and cannot fail.
func toJSON(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}
