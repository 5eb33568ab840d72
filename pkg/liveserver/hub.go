// Package liveserver broadcasts optimizer events to websocket subscribers
package liveserver

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

const clientBuffer = 256

// Client is one subscriber of the hub
type Client struct {
	id     string
	send   chan Message
	mu     sync.Mutex
	closed bool
}

// NewClient creates a new client
func NewClient(id string) *Client {
	return &Client{
		id:   id,
		send: make(chan Message, clientBuffer),
	}
}

// ID returns the client identifier
func (c *Client) ID() string {
	return c.id
}

// Send queues msg without blocking. It reports false when the client is
// closed or its buffer is full.
func (c *Client) Send(msg Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}

	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// GetSendChan returns the send channel for reading
func (c *Client) GetSendChan() <-chan Message {
	return c.send
}

// Close closes the client
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// Logger is the subset of core.ILogger the feed needs
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
}

// Hub fans messages out to registered clients. Slow clients are dropped.
// The latest message of each retained type is replayed to new clients.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan Message
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	stopOnce   sync.Once

	mu     sync.RWMutex
	retain map[string]bool
	latest map[string]Message
	seq    atomic.Uint64

	logger Logger
	now    func() time.Time
}

// NewHub creates a hub; retain lists message types replayed on connect
func NewHub(logger Logger, retain ...string) *Hub {
	h := &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan Message, clientBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		retain:     make(map[string]bool, len(retain)),
		latest:     make(map[string]Message),
		logger:     logger,
		now:        time.Now,
	}
	for _, t := range retain {
		h.retain[t] = true
	}
	return h
}

// Run serves the hub until ctx is done, then closes every client
func (h *Hub) Run(ctx context.Context) error {
	defer h.stopOnce.Do(func() { close(h.done) })

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				client.Close()
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return nil

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			replay := make([]Message, 0, len(h.latest))
			for _, msg := range h.latest {
				replay = append(replay, msg)
			}
			total := len(h.clients)
			h.mu.Unlock()

			for _, msg := range replay {
				client.Send(msg)
			}
			if h.logger != nil {
				h.logger.Info("Client registered", "client_id", client.id, "total_clients", total)
			}

		case client := <-h.unregister:
			h.drop(client)

		case msg := <-h.broadcast:
			h.mu.RLock()
			clients := make([]*Client, 0, len(h.clients))
			for client := range h.clients {
				clients = append(clients, client)
			}
			h.mu.RUnlock()

			for _, client := range clients {
				if !client.Send(msg) {
					if h.logger != nil {
						h.logger.Warn("Dropping slow client", "client_id", client.id)
					}
					h.drop(client)
				}
			}
		}
	}
}

func (h *Hub) drop(client *Client) {
	h.mu.Lock()
	_, ok := h.clients[client]
	if ok {
		delete(h.clients, client)
		client.Close()
	}
	total := len(h.clients)
	h.mu.Unlock()

	if ok && h.logger != nil {
		h.logger.Info("Client unregistered", "client_id", client.id, "total_clients", total)
	}
}

// Register adds a client. It returns false once the hub has stopped.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes a client; it is a no-op after the hub stopped
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Publish stamps data with a sequence number and broadcasts it
func (h *Hub) Publish(msgType string, data interface{}) {
	h.Broadcast(Message{
		Type: msgType,
		Seq:  h.seq.Add(1),
		Time: h.now().UnixMilli(),
		Data: data,
	})
}

// Broadcast queues msg for every client, dropping it when the queue is full
func (h *Hub) Broadcast(msg Message) {
	if h.retain[msg.Type] {
		h.mu.Lock()
		h.latest[msg.Type] = msg
		h.mu.Unlock()
	}

	select {
	case h.broadcast <- msg:
	default:
		if h.logger != nil {
			h.logger.Warn("Broadcast channel full, dropping message", "type", msg.Type, "seq", msg.Seq)
		}
	}
}

// ClientCount returns the current number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
