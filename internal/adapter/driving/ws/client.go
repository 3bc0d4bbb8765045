package ws

import (
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/ericfisherdev/mailcode/internal/contract"
)

const defaultSendQueueSize = 64

// Client is one connected subscriber context.
//
// Send is never closed by the server so concurrent broadcasters cannot panic;
// done signals shutdown instead. Close is idempotent.
type Client struct {
	ID   string
	Send chan contract.Outbound

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient creates a Client with a bounded send queue.
func NewClient(sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = defaultSendQueueSize
	}
	return &Client{
		ID:   ulid.Make().String(),
		Send: make(chan contract.Outbound, sendQueueSize),
		done: make(chan struct{}),
	}
}

// Done is closed when the client is shutting down.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close signals the client goroutines to stop.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// Enqueue queues out without blocking. It returns false when the client is
// closed or its queue is full.
func (c *Client) Enqueue(out contract.Outbound) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.Send <- out:
		return true
	default:
		return false
	}
}
