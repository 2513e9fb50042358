package infrastructure

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Shinox-lab/dashboard/internal/modules/relay/application/port"
	"github.com/Shinox-lab/dashboard/internal/modules/relay/domain"
)

const (
	pingInterval   = 30 * time.Second
	pongWait       = 60 * time.Second
	maxInboundSize = 1 << 16
)

// ClientOptions tunes the per-connection buffers and deadlines.
type ClientOptions struct {
	SendBuffer   int
	WriteTimeout time.Duration
}

// Client adapts a gorilla websocket to port.Conn. Writes are owned by WritePump;
// Send only enqueues into the bounded buffer, which keeps frames in FIFO order.
type Client struct {
	id           string
	conn         *websocket.Conn
	send         chan []byte
	done         chan struct{}
	closeOnce    sync.Once
	writeTimeout time.Duration

	// peerClosed is set once the peer's close frame was read; gorilla already
	// answered it, so Close must not send another.
	peerClosed atomic.Bool
}

var _ port.Conn = (*Client)(nil)

// NewClient wraps an upgraded websocket connection with a fresh identity.
func NewClient(conn *websocket.Conn, opts ClientOptions) *Client {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 16
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	conn.SetReadLimit(maxInboundSize)
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	return &Client{
		id:           uuid.NewString(),
		conn:         conn,
		send:         make(chan []byte, opts.SendBuffer),
		done:         make(chan struct{}),
		writeTimeout: opts.WriteTimeout,
	}
}

func (c *Client) ID() string { return c.id }

// Send queues data, failing with domain.ErrConnectionClosed after Close or with
// the context error when the buffer stays full past the caller's deadline.
func (c *Client) Send(ctx context.Context, data []byte) error {
	select {
	case <-c.done:
		return domain.ErrConnectionClosed
	default:
	}
	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return domain.ErrConnectionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive blocks on the socket; Close from another goroutine unblocks it.
func (c *Client) Receive(_ context.Context) ([]byte, error) {
	for {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				c.peerClosed.Store(true)
			}
			return nil, err
		}
		if kind == websocket.TextMessage || kind == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		if !c.peerClosed.Load() {
			deadline := time.Now().Add(time.Second)
			_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), deadline)
		}
		err = c.conn.Close()
	})
	return err
}

// WritePump drains the send buffer onto the socket and keeps the peer alive with
// pings. A write error closes the client so pending and future Sends fail fast.
func (c *Client) WritePump() {
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	defer c.Close()

	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				slog.Warn("websocket write error", slog.String("clientId", c.id), slog.Any("error", err))
				return
			}
		case <-ping.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				slog.Warn("websocket ping error", slog.String("clientId", c.id), slog.Any("error", err))
				return
			}
		}
	}
}
