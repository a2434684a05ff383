package wsclient

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"MarketPulse/internal/domain/models"
	"MarketPulse/pkg/logger"

	"github.com/gorilla/websocket"
)

// fakeServer speaks just enough of the broadcast protocol for the connector.
type fakeServer struct {
	t          *testing.T
	ts         *httptest.Server
	upgrader   websocket.Upgrader
	answerPing bool

	accepted atomic.Int32
	mu       sync.Mutex
	conns    []*websocket.Conn
	subs     [][]string
}

func newFakeServer(t *testing.T, answerPing bool) *fakeServer {
	f := &fakeServer{t: t, answerPing: answerPing}
	f.ts = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.ts.Close)
	return f
}

func (f *fakeServer) url() string { return "ws" + strings.TrimPrefix(f.ts.URL, "http") }

func (f *fakeServer) handle(w http.ResponseWriter, r *http.Request) {
	c, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	f.accepted.Add(1)
	f.mu.Lock()
	f.conns = append(f.conns, c)
	f.mu.Unlock()
	_ = c.WriteJSON(map[string]string{"type": "connected", "message": "hi"})

	for {
		var msg outbound
		if err := c.ReadJSON(&msg); err != nil {
			return
		}
		switch msg.Type {
		case "subscribe":
			f.mu.Lock()
			f.subs = append(f.subs, msg.Symbols)
			f.mu.Unlock()
			_ = c.WriteJSON(map[string]any{"type": "subscribed", "symbols": msg.Symbols})
		case "ping":
			if f.answerPing {
				_ = c.WriteJSON(map[string]any{"type": "pong", "timestamp": time.Now().UnixMilli()})
			}
		}
	}
}

func (f *fakeServer) dropAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.conns {
		_ = c.Close()
	}
	f.conns = nil
}

func (f *fakeServer) broadcast(v any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.conns {
		_ = c.WriteJSON(v)
	}
}

func (f *fakeServer) subscriptions() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]string(nil), f.subs...)
}

func fastConfig(url string) Config {
	cfg := DefaultConfig(url)
	cfg.BaseDelay = time.Millisecond
	cfg.MaxDelay = 10 * time.Millisecond
	return cfg
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestConnectorDeliversUpdates(t *testing.T) {
	srv := newFakeServer(t, true)
	c := New(fastConfig(srv.url()), logger.Nop())
	defer c.Disconnect()

	got := make(chan models.PriceUpdate, 1)
	c.OnPriceUpdate(func(u models.PriceUpdate) { got <- u })

	if err := c.Subscribe([]string{"aapl"}); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected before start, got %v", err)
	}
	c.Start(t.Context())
	eventually(t, func() bool { return len(srv.subscriptions()) == 1 })
	if s := srv.subscriptions()[0]; len(s) != 1 || s[0] != "AAPL" {
		t.Fatalf("desired set should be sent on connect, got %v", s)
	}
	if !c.IsConnected() || c.State() != StateConnected {
		t.Fatalf("expected connected, state %s", c.State())
	}

	srv.broadcast(map[string]any{"type": "price_update", "data": models.PriceUpdate{Symbol: "AAPL", Price: 185.6, Timestamp: 42}})
	select {
	case u := <-got:
		if u.Symbol != "AAPL" || u.Price != 185.6 || u.Timestamp != 42 {
			t.Fatalf("unexpected update %+v", u)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no update delivered")
	}
}

func TestConnectorReconnectsAndResubscribes(t *testing.T) {
	srv := newFakeServer(t, true)
	c := New(fastConfig(srv.url()), logger.Nop())
	defer c.Disconnect()

	var mu sync.Mutex
	var statuses []bool
	c.OnConnectionStatus(func(up bool) {
		mu.Lock()
		statuses = append(statuses, up)
		mu.Unlock()
	})

	c.Start(t.Context())
	eventually(t, c.IsConnected)
	if err := c.Subscribe([]string{"TSLA"}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	eventually(t, func() bool { return len(srv.subscriptions()) == 1 })

	srv.dropAll()
	eventually(t, func() bool { return srv.accepted.Load() == 2 && len(srv.subscriptions()) == 2 })
	if s := srv.subscriptions()[1]; len(s) != 1 || s[0] != "TSLA" {
		t.Fatalf("expected TSLA to be replayed, got %v", s)
	}

	eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(statuses) >= 3
	})
	mu.Lock()
	if statuses[0] != true || statuses[1] != false || statuses[2] != true {
		t.Fatalf("unexpected status sequence %v", statuses)
	}
	mu.Unlock()
}

func TestConnectorExhaustsAttempts(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()

	cfg := fastConfig(url)
	cfg.MaxAttempts = 3
	c := New(cfg, logger.Nop())
	c.Start(t.Context())

	select {
	case <-c.Done():
	case <-time.After(3 * time.Second):
		t.Fatalf("connector never gave up")
	}
	if !errors.Is(c.Err(), ErrReconnectExhausted) {
		t.Fatalf("expected ErrReconnectExhausted, got %v", c.Err())
	}
	if c.State() != StateExhausted {
		t.Fatalf("expected exhausted state, got %s", c.State())
	}
}

func TestConnectorHeartbeatTimeout(t *testing.T) {
	srv := newFakeServer(t, false)
	cfg := fastConfig(srv.url())
	cfg.HeartbeatInterval = 20 * time.Millisecond
	cfg.HeartbeatTimeout = 20 * time.Millisecond
	c := New(cfg, logger.Nop())
	defer c.Disconnect()

	c.Start(t.Context())
	// a server that never answers pings forces the connector to cycle connections
	eventually(t, func() bool { return srv.accepted.Load() >= 2 })
}

func TestConnectorHeartbeatKeepsHealthyConnection(t *testing.T) {
	srv := newFakeServer(t, true)
	cfg := fastConfig(srv.url())
	cfg.HeartbeatInterval = 10 * time.Millisecond
	cfg.HeartbeatTimeout = 200 * time.Millisecond
	c := New(cfg, logger.Nop())
	defer c.Disconnect()

	c.Start(t.Context())
	eventually(t, c.IsConnected)
	time.Sleep(100 * time.Millisecond)
	if n := srv.accepted.Load(); n != 1 {
		t.Fatalf("answered pings must not trigger reconnects, got %d connections", n)
	}
}

func TestDisconnectStopsReconnecting(t *testing.T) {
	srv := newFakeServer(t, true)
	c := New(fastConfig(srv.url()), logger.Nop())

	calls := atomic.Int32{}
	c.OnConnectionStatus(func(bool) { calls.Add(1) })
	c.Start(t.Context())
	eventually(t, c.IsConnected)

	c.Disconnect()
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("connector did not stop")
	}
	if c.State() != StateClosed || c.Err() != nil {
		t.Fatalf("expected clean close, state %s err %v", c.State(), c.Err())
	}
	before := srv.accepted.Load()
	time.Sleep(50 * time.Millisecond)
	if srv.accepted.Load() != before {
		t.Fatalf("connector reconnected after Disconnect")
	}
	if calls.Load() != 1 {
		t.Fatalf("observers should be cleared by Disconnect, got %d calls", calls.Load())
	}
}

func TestObserverCancel(t *testing.T) {
	c := New(DefaultConfig("ws://unused"), logger.Nop())
	cancel := c.OnPriceUpdate(func(models.PriceUpdate) { t.Fatalf("cancelled observer called") })
	cancel()
	c.notifyPrice(models.PriceUpdate{Symbol: "AAPL"})

	b, _ := json.Marshal(outbound{Type: "ping"})
	if string(b) != `{"type":"ping"}` {
		t.Fatalf("unexpected ping encoding %s", b)
	}
}
