package liveserver

import (
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
)

var (
	feedActiveConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "plan_feed_active_connections",
		Help: "Current number of active plan feed websocket connections",
	})

	feedRejectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "plan_feed_rejected_total",
		Help: "Total number of rejected plan feed websocket connections",
	}, []string{"reason"})
)

func init() {
	prometheus.MustRegister(feedActiveConnections)
	prometheus.MustRegister(feedRejectedTotal)
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// FeedConfig limits who may subscribe and how often
type FeedConfig struct {
	AllowedOrigins []string
	MaxConnections int     // 0 selects 1000
	RateLimit      float64 // new connections per second per IP, 0 selects 10
	RateBurst      int     // 0 selects 20
	Production     bool    // rejects the "*" origin
}

// Feed upgrades HTTP requests to websocket subscriptions of a Hub
type Feed struct {
	hub      *Hub
	logger   Logger
	cfg      FeedConfig
	upgrader websocket.Upgrader

	connSemaphore chan struct{}
	ipLimiters    sync.Map // map[string]*rate.Limiter
}

// NewFeed creates a websocket handler bound to hub
func NewFeed(hub *Hub, logger Logger, cfg FeedConfig) *Feed {
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 1000
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 10
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 20
	}

	f := &Feed{
		hub:           hub,
		logger:        logger,
		cfg:           cfg,
		connSemaphore: make(chan struct{}, cfg.MaxConnections),
	}
	f.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     f.checkOrigin,
	}
	return f
}

// checkOrigin validates the Origin header against the whitelist
func (f *Feed) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		f.warn("Rejected websocket connection with missing Origin header", "remote_addr", r.RemoteAddr)
		feedRejectedTotal.WithLabelValues("invalid_origin").Inc()
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		f.warn("Rejected websocket connection with invalid Origin", "origin", origin, "error", err)
		feedRejectedTotal.WithLabelValues("invalid_origin").Inc()
		return false
	}
	originStr := parsed.Scheme + "://" + parsed.Host

	for _, allowed := range f.cfg.AllowedOrigins {
		if allowed == "*" {
			if f.cfg.Production {
				f.warn("Rejected wildcard origin in production mode", "origin", origin, "remote_addr", r.RemoteAddr)
				feedRejectedTotal.WithLabelValues("invalid_origin").Inc()
				return false
			}
			return true
		}
		if originStr == allowed {
			return true
		}
	}

	f.warn("Rejected websocket connection from unauthorized origin", "origin", origin, "remote_addr", r.RemoteAddr)
	feedRejectedTotal.WithLabelValues("invalid_origin").Inc()
	return false
}

// ServeHTTP applies the per-IP rate limit and the global connection limit
// before upgrading, then pumps hub messages to the socket.
func (f *Feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ip := remoteIP(r)
	if !f.limiter(ip).Allow() {
		f.warn("IP rate limit exceeded", "ip", ip)
		feedRejectedTotal.WithLabelValues("rate_limit").Inc()
		http.Error(w, "Too many requests", http.StatusTooManyRequests)
		return
	}

	select {
	case f.connSemaphore <- struct{}{}:
		feedActiveConnections.Inc()
		defer func() {
			<-f.connSemaphore
			feedActiveConnections.Dec()
		}()
	default:
		f.warn("Max connections reached", "limit", f.cfg.MaxConnections)
		feedRejectedTotal.WithLabelValues("connection_limit").Inc()
		http.Error(w, "Server busy", http.StatusServiceUnavailable)
		return
	}

	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.warn("Websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	client := NewClient(uuid.NewString())
	if !f.hub.Register(client) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(writeWait))
		return
	}
	if f.logger != nil {
		f.logger.Info("Feed client connected", "client_id", client.id, "remote_addr", r.RemoteAddr)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		f.writePump(conn, client)
	}()
	go func() {
		defer wg.Done()
		f.readPump(conn, client)
	}()
	wg.Wait()

	if f.logger != nil {
		f.logger.Info("Feed client disconnected", "client_id", client.id)
	}
}

// writePump forwards hub messages and keeps the connection alive with pings
func (f *Feed) writePump(conn *websocket.Conn, client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		// Unblocks readPump
		conn.Close()
	}()

	for {
		select {
		case msg, ok := <-client.GetSendChan():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(msg); err != nil {
				f.warn("Write error", "client_id", client.id, "error", err)
				return
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards client frames and tracks pongs. It unregisters the
// client when the connection ends, which closes the send channel.
func (f *Feed) readPump(conn *websocket.Conn, client *Client) {
	defer f.hub.Unregister(client)
	defer client.Close()

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				f.warn("Read error", "client_id", client.id, "error", err)
			}
			return
		}
	}
}

func (f *Feed) warn(msg string, keysAndValues ...interface{}) {
	if f.logger != nil {
		f.logger.Warn(msg, keysAndValues...)
	}
}

// limiter returns the connection rate limiter for ip
func (f *Feed) limiter(ip string) *rate.Limiter {
	if val, ok := f.ipLimiters.Load(ip); ok {
		return val.(*rate.Limiter)
	}
	actual, _ := f.ipLimiters.LoadOrStore(ip, rate.NewLimiter(rate.Limit(f.cfg.RateLimit), f.cfg.RateBurst))
	return actual.(*rate.Limiter)
}

// remoteIP ignores X-Forwarded-For
func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
