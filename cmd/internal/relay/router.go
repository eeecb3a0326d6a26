package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"docrelay/cmd/internal/auth/session"
	"docrelay/cmd/internal/document"
	"docrelay/cmd/internal/metrics"
	v1 "docrelay/shared/contracts/relay/v1"
)

// Authority is the session owner the router acts on.
type Authority interface {
	SignIn(ctx context.Context, interactive bool) (session.Session, error)
	SignOut(ctx context.Context)
	Current() session.Session
	AccessToken() (string, bool)
}

// Request is one action request from an execution context.
type Request struct {
	ID        string
	ContextID string
	Action    string
	Data      json.RawMessage
}

// Reply is the single-completion result of a dispatched request.
type Reply struct {
	done   chan struct{}
	once   sync.Once
	result v1.ResponsePayload
}

func newReply() *Reply { return &Reply{done: make(chan struct{})} }

// Done is closed once the reply is complete.
func (r *Reply) Done() <-chan struct{} { return r.done }

// Result returns the response. It is only meaningful after Done is closed.
func (r *Reply) Result() v1.ResponsePayload {
	<-r.done
	return r.result
}

// Wait blocks until the reply completes or ctx ends.
func (r *Reply) Wait(ctx context.Context) (v1.ResponsePayload, error) {
	select {
	case <-r.done:
		return r.result, nil
	case <-ctx.Done():
		return v1.ResponsePayload{}, ctx.Err()
	}
}

// complete sets the result; only the first call has any effect.
func (r *Reply) complete(p v1.ResponsePayload) bool {
	first := false
	r.once.Do(func() {
		r.result = p
		close(r.done)
		first = true
	})
	return first
}

// handler answers one action. check runs synchronously inside Dispatch and
// rejects malformed input before any work is scheduled; run does the work.
type handler struct {
	check func(data json.RawMessage) (any, string)
	run   func(ctx context.Context, in any) v1.ResponsePayload
}

// Router dispatches action requests to handlers.
type Router struct {
	log       *slog.Logger
	metrics   *metrics.Metrics
	authority Authority
	source    document.Source
	handlers  map[string]handler
	now       func() time.Time
}

// NewRouter wires the dispatch table.
func NewRouter(log *slog.Logger, authority Authority, source document.Source, m *metrics.Metrics) *Router {
	if log == nil {
		log = slog.Default()
	}
	rt := &Router{
		log:       log,
		metrics:   m,
		authority: authority,
		source:    source,
		now:       time.Now,
	}
	rt.handlers = map[string]handler{
		v1.ActionSignIn:             {run: rt.signIn},
		v1.ActionSignOut:            {run: rt.signOut},
		v1.ActionGetDocumentContent: {check: checkDocumentRequest, run: rt.getDocumentContent},
		v1.ActionSessionState:       {run: rt.sessionState},
	}
	return rt
}

// Dispatch schedules req and returns immediately. The returned Reply always
// completes exactly once, including when a handler panics. Unknown actions
// and malformed input are answered before Dispatch returns.
func (rt *Router) Dispatch(ctx context.Context, req Request) *Reply {
	start := rt.now()
	reply := newReply()
	finish := func(p v1.ResponsePayload) {
		if reply.complete(p) {
			rt.metrics.RelayRequest(metricAction(req.Action), resultLabel(p), rt.now().Sub(start))
		}
	}

	h, ok := rt.handlers[req.Action]
	if !ok {
		rt.log.Info("relay.dispatch.unknown_action", "action", req.Action, "request_id", req.ID)
		finish(failure(v1.ReasonUnknownAction))
		return reply
	}

	var in any
	if h.check != nil {
		var reason string
		if p, caught := rt.guard(req, func() v1.ResponsePayload {
			in, reason = h.check(req.Data)
			return v1.ResponsePayload{}
		}); caught {
			finish(p)
			return reply
		}
		if reason != "" {
			finish(failure(reason))
			return reply
		}
	}

	// Work is not cancelled by the requester going away.
	ctx = context.WithoutCancel(ctx)
	go func() {
		p, _ := rt.guard(req, func() v1.ResponsePayload { return h.run(ctx, in) })
		finish(p)
	}()
	return reply
}

// guard runs fn and converts a panic into an InternalError response.
func (rt *Router) guard(req Request, fn func() v1.ResponsePayload) (p v1.ResponsePayload, caught bool) {
	defer func() {
		if r := recover(); r != nil {
			rt.log.Error("relay.dispatch.panic", "action", req.Action, "request_id", req.ID, "panic", fmt.Sprint(r))
			p, caught = failure(v1.ReasonInternalError), true
		}
	}()
	return fn(), false
}

// ---- handlers ----

func (rt *Router) signIn(ctx context.Context, _ any) v1.ResponsePayload {
	sess, err := rt.authority.SignIn(ctx, true)
	if err != nil {
		return failure(reasonFor(err))
	}
	return v1.ResponsePayload{Success: true, User: wireUser(sess), Status: string(sess.Status)}
}

func (rt *Router) signOut(ctx context.Context, _ any) v1.ResponsePayload {
	rt.authority.SignOut(ctx)
	return v1.ResponsePayload{Success: true}
}

func (rt *Router) sessionState(_ context.Context, _ any) v1.ResponsePayload {
	sess := rt.authority.Current()
	return v1.ResponsePayload{Success: true, Status: string(sess.Status), User: wireUser(sess)}
}

func (rt *Router) getDocumentContent(ctx context.Context, in any) v1.ResponsePayload {
	docID, _ := in.(string)

	tok, ok := rt.authority.AccessToken()
	if !ok {
		return failure(v1.ReasonNotAuthenticated)
	}

	doc, err := rt.source.Fetch(ctx, tok, docID)
	if err != nil {
		rt.log.Info("relay.document.fetch_failed", "document_id", docID, "err", err)
		return failure(reasonFor(err))
	}
	return v1.ResponsePayload{Success: true, Content: document.Extract(doc)}
}

// checkDocumentRequest resolves the requested document id from either an
// explicit id or the page URL the requester is showing.
func checkDocumentRequest(data json.RawMessage) (any, string) {
	var in v1.GetDocumentContentData
	if len(data) > 0 && string(data) != "null" {
		if err := json.Unmarshal(data, &in); err != nil {
			return nil, v1.ReasonInvalidPayload
		}
	}

	if strings.TrimSpace(in.DocumentID) != "" {
		id, err := document.NormalizeID(in.DocumentID)
		if err != nil {
			return nil, v1.ReasonDocumentIDNotResolvable
		}
		return id, ""
	}
	id, err := document.ResolveID(in.URL)
	if err != nil {
		return nil, v1.ReasonDocumentIDNotResolvable
	}
	return id, ""
}

// ---- mapping ----

var reasons = []struct {
	err    error
	reason string
}{
	{session.ErrNoCachedCredential, v1.ReasonNoCachedCredential},
	{session.ErrInvalidCredential, v1.ReasonInvalidCredential},
	{session.ErrValidationFailed, v1.ReasonValidationFailed},
	{session.ErrAlreadyInProgress, v1.ReasonAlreadyInProgress},
	{document.ErrIDNotResolvable, v1.ReasonDocumentIDNotResolvable},
	{document.ErrFetchFailed, v1.ReasonDocumentFetchFailed},
}

func reasonFor(err error) string {
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.reason
		}
	}
	return v1.ReasonInternalError
}

func failure(reason string) v1.ResponsePayload {
	return v1.ResponsePayload{Success: false, Error: reason}
}

func wireUser(sess session.Session) *v1.User {
	if sess.User == nil {
		return nil
	}
	return &v1.User{Email: sess.User.Email, Name: sess.User.Name}
}

func resultLabel(p v1.ResponsePayload) string {
	if p.Success {
		return "ok"
	}
	return p.Error
}

// metricAction bounds label cardinality for unknown actions.
func metricAction(action string) string {
	switch action {
	case v1.ActionSignIn, v1.ActionSignOut, v1.ActionGetDocumentContent, v1.ActionSessionState:
		return action
	default:
		return "unknown"
	}
}
