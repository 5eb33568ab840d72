package feedclient

import (
	"context"
	"exec_optimizer/internal/core"
	"exec_optimizer/pkg/liveserver"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockLogger struct{}

func (m *mockLogger) Debug(msg string, fields ...interface{})               {}
func (m *mockLogger) Info(msg string, fields ...interface{})                {}
func (m *mockLogger) Warn(msg string, fields ...interface{})                {}
func (m *mockLogger) Error(msg string, fields ...interface{})               {}
func (m *mockLogger) Fatal(msg string, fields ...interface{})               {}
func (m *mockLogger) WithField(key string, value interface{}) core.ILogger  { return m }
func (m *mockLogger) WithFields(fields map[string]interface{}) core.ILogger { return m }

type collector struct {
	mu   sync.Mutex
	msgs []liveserver.Message
}

func (c *collector) handle(msg liveserver.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
}

func (c *collector) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.msgs))
	for _, m := range c.msgs {
		out = append(out, m.Type)
	}
	return out
}

func startFeed(t *testing.T, retain ...string) (*liveserver.Hub, string) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	hub := liveserver.NewHub(nil, retain...)
	go func() { _ = hub.Run(ctx) }()
	t.Cleanup(cancel)

	srv := httptest.NewServer(liveserver.NewFeed(hub, nil, liveserver.FeedConfig{AllowedOrigins: []string{"http://test.local"}}))
	t.Cleanup(srv.Close)
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func runClient(t *testing.T, c *Client) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("client did not stop")
		}
	})
}

func TestClient_ReceivesReplayAndLiveMessages(t *testing.T) {
	hub, url := startFeed(t, liveserver.TypeFees)
	hub.Publish(liveserver.TypeFees, map[string]int{"version": 1})

	col := &collector{}
	c := NewClient(url, "http://test.local", col.handle, &mockLogger{})
	runClient(t, c)

	require.Eventually(t, func() bool { return len(col.types()) == 1 }, 2*time.Second, 5*time.Millisecond)

	hub.Publish(liveserver.TypePlan, map[string]string{"symbol": "BTCUSDT"})
	require.Eventually(t, func() bool { return len(col.types()) == 2 }, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, []string{liveserver.TypeFees, liveserver.TypePlan}, col.types())
	assert.Equal(t, uint64(2), c.LastSeq())
	assert.Zero(t, c.Gaps())
}

func TestClient_RetriesUntilFeedAccepts(t *testing.T) {
	_, url := startFeed(t)

	col := &collector{}
	c := NewClient(url, "http://evil.com", col.handle, &mockLogger{})
	c.SetReconnectWait(10 * time.Millisecond)
	runClient(t, c)

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, col.types())
	assert.Zero(t, c.LastSeq())
}

func TestClient_DispatchCountsGaps(t *testing.T) {
	col := &collector{}
	c := NewClient("ws://unused", "", col.handle, &mockLogger{})

	c.dispatch(context.Background(), []byte(`{"type":"plan","seq":1}`))
	c.dispatch(context.Background(), []byte(`{"type":"plan","seq":4}`))
	c.dispatch(context.Background(), []byte(`not json`))
	c.dispatch(context.Background(), []byte(`{"type":"plan","seq":5}`))

	assert.Equal(t, uint64(5), c.LastSeq())
	assert.Equal(t, 1, c.Gaps())
	assert.Len(t, col.types(), 3)
}
