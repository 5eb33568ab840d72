// Package feedclient subscribes to the plan feed with automatic reconnection
package feedclient

import (
	"context"
	"encoding/json"
	"exec_optimizer/internal/core"
	"exec_optimizer/pkg/liveserver"
	"exec_optimizer/pkg/telemetry"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Handler receives each decoded feed message
type Handler func(msg liveserver.Message)

// Client follows a plan feed. After a reconnect the server replays retained
// messages; sequence numbers let the handler spot gaps.
type Client struct {
	url           string
	origin        string
	handler       Handler
	reconnectWait time.Duration
	pingInterval  time.Duration
	pongWait      time.Duration

	mu      sync.Mutex
	lastSeq uint64
	gaps    int

	logger core.ILogger

	tracer      trace.Tracer
	msgCounter  metric.Int64Counter
	connCounter metric.Int64Counter
}

// NewClient creates a subscriber for the feed at url (ws://host/ws/plans).
// The feed rejects connections without an allowed Origin.
func NewClient(url, origin string, handler Handler, logger core.ILogger) *Client {
	meter := telemetry.GetMeter("feed-client")
	msgCounter, _ := meter.Int64Counter("feed_client_messages_total",
		metric.WithDescription("Feed messages received"))
	connCounter, _ := meter.Int64Counter("feed_client_connections_total",
		metric.WithDescription("Feed connection attempts"))

	return &Client{
		url:           url,
		origin:        origin,
		handler:       handler,
		reconnectWait: 5 * time.Second,
		pingInterval:  30 * time.Second,
		pongWait:      60 * time.Second,
		logger:        logger.WithField("component", "feed_client"),
		tracer:        telemetry.GetTracer("feed-client"),
		msgCounter:    msgCounter,
		connCounter:   connCounter,
	}
}

// SetReconnectWait changes the delay between connection attempts
func (c *Client) SetReconnectWait(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reconnectWait = d
}

// LastSeq returns the highest sequence number seen
func (c *Client) LastSeq() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeq
}

// Gaps counts jumps in the sequence, i.e. messages the server dropped for us
func (c *Client) Gaps() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gaps
}

// Run connects and reads until ctx is done, reconnecting on failure
func (c *Client) Run(ctx context.Context) error {
	for {
		conn, err := c.connect(ctx)
		if err != nil {
			c.logger.Warn("Feed connect failed", "url", c.url, "error", err)
		} else {
			c.logger.Info("Feed connected", "url", c.url)
			c.session(ctx, conn)
		}

		c.mu.Lock()
		wait := c.reconnectWait
		c.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

func (c *Client) connect(ctx context.Context) (*websocket.Conn, error) {
	ctx, span := c.tracer.Start(ctx, "Feed Connect",
		trace.WithAttributes(attribute.String("ws.url", c.url)),
	)
	defer span.End()

	c.connCounter.Add(ctx, 1)

	header := http.Header{}
	if c.origin != "" {
		header.Set("Origin", c.origin)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, header)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	_ = conn.SetReadDeadline(time.Now().Add(c.pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.pongWait))
	})

	return conn, nil
}

// session reads one connection until it fails or ctx is done
func (c *Client) session(ctx context.Context, conn *websocket.Conn) {
	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.heartbeat(sessionCtx, conn)
	}()

	// unblock ReadMessage on shutdown
	stop := context.AfterFunc(sessionCtx, func() { _ = conn.Close() })
	defer stop()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if sessionCtx.Err() == nil {
				c.logger.Warn("Feed connection lost", "error", err)
			}
			break
		}
		c.dispatch(sessionCtx, data)
	}

	cancel()
	wg.Wait()
	_ = conn.Close()
}

func (c *Client) dispatch(ctx context.Context, data []byte) {
	var msg liveserver.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		c.logger.Warn("Dropping undecodable feed message", "error", err)
		return
	}
	c.msgCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("type", msg.Type)))

	c.mu.Lock()
	if c.lastSeq > 0 && msg.Seq > c.lastSeq+1 {
		c.gaps++
		c.logger.Warn("Feed sequence gap", "last_seq", c.lastSeq, "seq", msg.Seq)
	}
	if msg.Seq > c.lastSeq {
		c.lastSeq = msg.Seq
	}
	c.mu.Unlock()

	if c.handler != nil {
		c.handler(msg)
	}
}

func (c *Client) heartbeat(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
				// closing forces the read loop to reconnect
				_ = conn.Close()
				return
			}
		}
	}
}
