package relay

import (
	"sync"
	"sync/atomic"

	v1 "docrelay/shared/contracts/relay/v1"
)

// Client represents one connected execution context.
//
// Design notes:
// - Send is never closed by the server so concurrent broadcasters cannot panic.
// - done is used to signal goroutines to stop.
// - Close is idempotent.
type Client struct {
	ContextID string
	Send      chan v1.Envelope

	kind atomic.Value // string, set by hello

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient constructs a Client with a bounded send queue.
func NewClient(contextID string, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = 64
	}
	c := &Client{
		ContextID: contextID,
		Send:      make(chan v1.Envelope, sendQueueSize),
		done:      make(chan struct{}),
	}
	c.kind.Store("")
	return c
}

// Kind is the context kind announced in hello ("control", "display"), if any.
func (c *Client) Kind() string { return c.kind.Load().(string) }

func (c *Client) setKind(k string) { c.kind.Store(k) }

// Done returns a channel that is closed when the client is shutting down.
func (c *Client) Done() <-chan struct{} {
	if c == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.done
}

// Close signals the client goroutines to stop (idempotent).
// It does NOT close Send to keep broadcast safe under concurrency.
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		close(c.done)
	})
}
