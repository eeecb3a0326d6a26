// Package main provides a CI-friendly WebSocket smoke test for the docrelay gateway.
//
// It validates:
//   - handshake + subprotocol selection
//   - hello/ack context registration
//   - request -> response correlation by reply_to
//   - synchronous rejection of unknown actions and unresolvable documents
//   - signOut fan-out as session_changed to another context (-signout)
//   - document extraction for a live session (-doc)
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	v1 "docrelay/shared/contracts/relay/v1"

	"github.com/coder/websocket"
)

const maxReadBytes = 1 << 20 // 1MiB

type smokeClient struct {
	name      string
	conn      *websocket.Conn
	contextID string
	seq       int

	inbox chan v1.Envelope
	errCh chan error
}

func main() {
	var (
		wsURL   = flag.String("url", "ws://127.0.0.1:8080/ws", "WebSocket URL")
		origin  = flag.String("origin", "http://localhost", "Origin header to send (extension or localhost origin)")
		docID   = flag.String("doc", "", "Document id to extract (requires a signed-in session)")
		signOut = flag.Bool("signout", false, "Send signOut and expect session_changed on the second context")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}

	root := context.Background()

	a := mustConnect(root, "A", "control", *wsURL, *origin, *timeout)
	defer closeWS(a.conn)

	b := mustConnect(root, "B", "display", *wsURL, *origin, *timeout)
	defer closeWS(b.conn)

	if *verbose {
		fmt.Printf("connected: A=%s B=%s origin=%q\n", a.contextID, b.contextID, *origin)
	}

	state := a.mustRequest(root, v1.ActionSessionState, nil, *timeout)
	if !state.Success || state.Status == "" {
		fatalf("sessionState: %+v", state)
	}
	if *verbose {
		fmt.Printf("session: status=%s\n", state.Status)
	}

	if r := a.mustRequest(root, "noSuchAction", nil, *timeout); r.Success || r.Error != v1.ReasonUnknownAction {
		fatalf("unknown action: got %+v want %s", r, v1.ReasonUnknownAction)
	}

	bad := mustJSON(v1.GetDocumentContentData{URL: "https://example.com/not-a-doc"})
	if r := a.mustRequest(root, v1.ActionGetDocumentContent, bad, *timeout); r.Success || r.Error != v1.ReasonDocumentIDNotResolvable {
		fatalf("unresolvable document: got %+v want %s", r, v1.ReasonDocumentIDNotResolvable)
	}

	if strings.TrimSpace(*docID) != "" {
		r := a.mustRequest(root, v1.ActionGetDocumentContent, mustJSON(v1.GetDocumentContentData{DocumentID: *docID}), *timeout)
		switch {
		case r.Success:
			fmt.Printf("document %s: %d bytes extracted\n", *docID, len(r.Content))
		case state.Status != "SignedIn" && r.Error == v1.ReasonNotAuthenticated:
			fmt.Printf("document %s: not authenticated (expected, session %s)\n", *docID, state.Status)
		default:
			fatalf("getDocumentContent %s: %+v", *docID, r)
		}
	}

	if *signOut {
		if r := a.mustRequest(root, v1.ActionSignOut, nil, *timeout); !r.Success {
			fatalf("signOut: %+v", r)
		}
		env := b.mustReadUntilType(root, v1.TypeSessionChanged, *timeout, nil)
		var p v1.SessionChangedPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			fatalf("unmarshal session_changed payload (%s): %v", b.name, err)
		}
		if p.Status != "SignedOut" || p.User != nil {
			fatalf("session_changed after signOut: %+v", p)
		}
	}

	fmt.Printf("OK: A=%s B=%s status=%s\n", a.contextID, b.contextID, state.Status)
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	if strings.TrimSpace(u.Path) == "" {
		return errors.New("missing path")
	}
	return nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme == "" {
		return errors.New("origin missing scheme")
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func mustConnect(parent context.Context, name, kind, wsURL, origin string, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	if err != nil {
		fatalf("connect %s: %v", name, err)
	}

	if got := conn.Subprotocol(); got != v1.Subprotocol {
		fatalf("subprotocol mismatch (%s): got=%q want=%q", name, got, v1.Subprotocol)
	}

	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		name:  name,
		conn:  conn,
		inbox: make(chan v1.Envelope, 512),
		errCh: make(chan error, 1),
	}
	c.startReadLoop()

	hello := v1.Envelope{
		V:       v1.Version,
		Type:    v1.TypeHello,
		ID:      fmt.Sprintf("%s-hello", name),
		TS:      time.Now().UTC(),
		Payload: mustJSON(v1.HelloPayload{Kind: kind}),
	}
	mustWriteWithTimeout(parent, conn, hello, stepTimeout)

	ack := c.mustReadUntilType(parent, v1.TypeHelloAck, stepTimeout, nil)

	var p v1.HelloAckPayload
	if err := json.Unmarshal(ack.Payload, &p); err != nil {
		fatalf("unmarshal hello_ack payload (%s): %v", name, err)
	}
	if strings.TrimSpace(p.ContextID) == "" {
		fatalf("hello_ack missing context_id (%s)", name)
	}
	c.contextID = p.ContextID

	return c
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			mt, data, err := c.conn.Read(context.Background())
			if err != nil {
				c.fail(err)
				return
			}

			if mt != websocket.MessageText && mt != websocket.MessageBinary {
				c.fail(fmt.Errorf("unsupported message type: %v", mt))
				return
			}

			var env v1.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				c.fail(fmt.Errorf("bad json: %w", err))
				return
			}
			if err := env.Validate(); err != nil {
				c.fail(fmt.Errorf("bad envelope: %w", err))
				return
			}

			select {
			case c.inbox <- env:
			default:
				c.fail(errors.New("inbox overflow: consumer too slow"))
				return
			}
		}
	}()
}

func (c *smokeClient) fail(err error) {
	select {
	case c.errCh <- err:
	default:
	}
}

// mustRequest sends one request and waits for the response that replies to it.
func (c *smokeClient) mustRequest(parent context.Context, action string, data json.RawMessage, stepTimeout time.Duration) v1.ResponsePayload {
	c.seq++
	id := fmt.Sprintf("%s-req-%d", c.name, c.seq)

	mustWriteWithTimeout(parent, c.conn, v1.Envelope{
		V:       v1.Version,
		Type:    v1.TypeRequest,
		ID:      id,
		TS:      time.Now().UTC(),
		Payload: mustJSON(v1.RequestPayload{Action: action, Data: data}),
	}, stepTimeout)

	skip := map[string]struct{}{
		v1.TypeSessionChanged: {},
		v1.TypeSignInPrompt:   {},
	}
	for {
		env := c.mustReadUntilType(parent, v1.TypeResponse, stepTimeout, skip)
		if env.ReplyTo != id {
			continue
		}
		var p v1.ResponsePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			fatalf("unmarshal response payload (%s): %v", c.name, err)
		}
		return p
	}
}

func (c *smokeClient) mustReadUntilType(parent context.Context, wantType string, stepTimeout time.Duration, skipTypes map[string]struct{}) v1.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %q (%s): %v", wantType, c.name, ctx.Err())
		case err := <-c.errCh:
			if err == nil {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			fatalf("connection error while waiting for %q (%s): %v", wantType, c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			if env.Type == wantType {
				return env
			}
			if env.Type == v1.TypeError {
				var ep v1.ErrorPayload
				_ = json.Unmarshal(env.Payload, &ep)
				fatalf("server error (%s): code=%q msg=%q", c.name, ep.Code, ep.Message)
			}
			if skipTypes != nil {
				if _, ok := skipTypes[env.Type]; ok {
					continue
				}
			}
			fatalf("unexpected envelope type (%s): got=%q want=%q", c.name, env.Type, wantType)
		}
	}
}

func mustWriteWithTimeout(parent context.Context, conn *websocket.Conn, env v1.Envelope, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		fatalf("marshal envelope: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write failed: %v", err)
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		fatalf("marshal: %v", err)
	}
	return b
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
