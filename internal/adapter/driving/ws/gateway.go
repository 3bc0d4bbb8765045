// Package ws is the WebSocket transport of the coordinator's message channel.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/ericfisherdev/mailcode/internal/contract"
	"github.com/ericfisherdev/mailcode/internal/domain/model"
)

const (
	defaultWriteTimeout      = 5 * time.Second
	defaultHeartbeatInterval = 30 * time.Second
	heartbeatTimeout         = 10 * time.Second
	maxPingFailures          = 3
	maxFrameBytes            = 64 << 10
	closeGrace               = time.Second
)

// MessageHandler handles one inbound message. ok is false when no reply must
// be sent. *application.MessageRouter satisfies it.
type MessageHandler interface {
	Handle(ctx context.Context, msg model.InboundMessage) (reply any, ok bool)
}

// Options configures a Gateway. Zero values select defaults.
type Options struct {
	// OriginPatterns are host patterns authorized for cross-origin upgrades,
	// e.g. the extension id of a chrome-extension:// origin.
	OriginPatterns    []string
	SendQueueSize     int
	WriteTimeout      time.Duration
	HeartbeatInterval time.Duration
}

// Gateway upgrades HTTP requests to subscriber sessions. Each inbound message
// is handled on its own goroutine and its reply is queued when the handler
// returns, so a slow acquire-credential does not hold up fetch-now.
type Gateway struct {
	log     *slog.Logger
	hub     *Hub
	handler MessageHandler
	opts    Options
}

// NewGateway creates a Gateway.
func NewGateway(log *slog.Logger, hub *Hub, handler MessageHandler, opts Options) *Gateway {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = defaultHeartbeatInterval
	}
	if opts.SendQueueSize <= 0 {
		opts.SendQueueSize = defaultSendQueueSize
	}
	return &Gateway{log: log, hub: hub, handler: handler, opts: opts}
}

// ServeHTTP implements http.Handler.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Server read and write timeouts would otherwise carry over to the
	// hijacked connection.
	rc := http.NewResponseController(w)
	_ = rc.SetReadDeadline(time.Time{})
	_ = rc.SetWriteDeadline(time.Time{})

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: g.opts.OriginPatterns,
	})
	if err != nil {
		g.log.Warn("websocket accept failed", "error", err, "origin", r.Header.Get("Origin"))
		return
	}
	conn.SetReadLimit(maxFrameBytes)

	client := NewClient(g.opts.SendQueueSize)
	g.hub.Join(client)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var closeOnce sync.Once
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			g.hub.Leave(client.ID)
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		g.writeLoop(ctx, conn, client, shutdown)
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		g.heartbeat(ctx, conn, client, shutdown)
	}()

	g.log.Info("subscriber connected", "client", client.ID)
	g.readLoop(ctx, conn, client, shutdown)

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone
	select {
	case <-heartbeatDone:
	case <-time.After(closeGrace):
	}
	g.log.Info("subscriber disconnected", "client", client.ID)
}

func (g *Gateway) readLoop(ctx context.Context, conn *websocket.Conn, client *Client, shutdown func(websocket.StatusCode, string)) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if !isClosed(err) {
				g.log.Info("websocket read failed", "client", client.ID, "error", err)
			}
			shutdown(websocket.StatusNormalClosure, "read ended")
			return
		}

		var req contract.Request
		if err := json.Unmarshal(data, &req); err != nil {
			client.Enqueue(contract.NewError("", errors.New("invalid JSON")))
			continue
		}
		msg, err := req.Inbound()
		if err != nil {
			client.Enqueue(contract.NewError(req.ID, err))
			continue
		}

		// Handling outlives the connection: the popup closes while the
		// consent page is open, and acquisition must still complete.
		go g.handle(context.WithoutCancel(ctx), client, req.ID, msg)
	}
}

func (g *Gateway) handle(ctx context.Context, client *Client, id string, msg model.InboundMessage) {
	reply, ok := g.handler.Handle(ctx, msg)
	if !ok {
		return
	}
	if !client.Enqueue(contract.NewReply(id, msg.Action, reply)) {
		g.log.Debug("reply dropped", "client", client.ID, "action", string(msg.Action))
	}
}

func (g *Gateway) writeLoop(ctx context.Context, conn *websocket.Conn, client *Client, shutdown func(websocket.StatusCode, string)) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-client.Done():
			return
		case out := <-client.Send:
			if err := g.write(ctx, conn, out); err != nil {
				g.log.Info("websocket write failed", "client", client.ID, "error", err)
				shutdown(websocket.StatusAbnormalClosure, "write failed")
				return
			}
		}
	}
}

func (g *Gateway) write(parent context.Context, conn *websocket.Conn, out contract.Outbound) error {
	b, err := json.Marshal(out)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(parent, g.opts.WriteTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, b)
}

func (g *Gateway) heartbeat(ctx context.Context, conn *websocket.Conn, client *Client, shutdown func(websocket.StatusCode, string)) {
	t := time.NewTicker(g.opts.HeartbeatInterval)
	defer t.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-client.Done():
			return
		case <-t.C:
			pingCtx, cancel := context.WithTimeout(ctx, heartbeatTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err == nil {
				failures = 0
				continue
			}
			failures++
			if failures >= maxPingFailures {
				shutdown(websocket.StatusGoingAway, "heartbeat failed")
				return
			}
		}
	}
}

func isClosed(err error) bool {
	return websocket.CloseStatus(err) != -1 ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.EOF)
}
