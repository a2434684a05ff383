package ws

import (
	"encoding/json"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"MarketPulse/internal/domain/models"
	"MarketPulse/internal/service/bus"
	"MarketPulse/pkg/logger"
	"MarketPulse/pkg/metrics"

	"github.com/gorilla/websocket"
)

type envelope struct {
	Type      string             `json:"type"`
	Message   string             `json:"message"`
	Error     string             `json:"error"`
	Symbols   []string           `json:"symbols"`
	Timestamp int64              `json:"timestamp"`
	Data      models.PriceUpdate `json:"data"`
}

func newTestServer(t *testing.T, cfg Config) (*Server, *bus.Bus, *httptest.Server) {
	t.Helper()
	b := bus.New(logger.Nop(), metrics.Nop{})
	s := NewServer(cfg, b, metrics.Nop{}, logger.Nop())
	ts := httptest.NewServer(s)
	t.Cleanup(func() {
		s.Close()
		ts.Close()
	})
	return s, b, ts
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func read(t *testing.T, c *websocket.Conn) envelope {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	var m envelope
	if err := c.ReadJSON(&m); err != nil {
		t.Fatalf("read: %v", err)
	}
	return m
}

func send(t *testing.T, c *websocket.Conn, v any) {
	t.Helper()
	if err := c.WriteJSON(v); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestConnectedThenSubscribe(t *testing.T) {
	s, b, ts := newTestServer(t, DefaultConfig())
	c := dial(t, ts)

	if m := read(t, c); m.Type != TypeConnected || m.Message == "" {
		t.Fatalf("expected connected greeting, got %+v", m)
	}
	waitFor(t, func() bool { return s.Connections() == 1 && b.Len() == 1 })

	send(t, c, ClientMessage{Type: TypeSubscribe, Symbols: []string{"tsla", "aapl"}})
	m := read(t, c)
	if m.Type != TypeSubscribed || !reflect.DeepEqual(m.Symbols, []string{"AAPL", "TSLA"}) {
		t.Fatalf("unexpected ack %+v", m)
	}

	send(t, c, ClientMessage{Type: TypeUnsubscribe, Symbols: []string{"AAPL", "MSFT"}})
	m = read(t, c)
	if m.Type != TypeUnsubscribed || !reflect.DeepEqual(m.Symbols, []string{"TSLA"}) {
		t.Fatalf("unexpected ack %+v", m)
	}
}

func TestUnsubscribeAllReportsEmptySet(t *testing.T) {
	_, _, ts := newTestServer(t, DefaultConfig())
	c := dial(t, ts)
	read(t, c)

	send(t, c, ClientMessage{Type: TypeSubscribe, Symbols: []string{"AAPL"}})
	read(t, c)
	send(t, c, ClientMessage{Type: TypeUnsubscribe, Symbols: []string{"AAPL"}})

	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	var raw map[string]json.RawMessage
	if err := c.ReadJSON(&raw); err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(raw["symbols"]) != "[]" {
		t.Fatalf("expected empty symbols array, got %s", raw["symbols"])
	}
}

func TestFilteringByConnection(t *testing.T) {
	s, b, ts := newTestServer(t, DefaultConfig())
	a := dial(t, ts)
	c := dial(t, ts)
	read(t, a)
	read(t, c)
	waitFor(t, func() bool { return b.Len() == 2 && s.Connections() == 2 })

	send(t, a, ClientMessage{Type: TypeSubscribe, Symbols: []string{"AAPL"}})
	read(t, a)
	send(t, c, ClientMessage{Type: TypeSubscribe, Symbols: []string{"TSLA"}})
	read(t, c)

	b.Publish(models.PriceUpdate{Symbol: "AAPL", Price: 185.55, Timestamp: 1})
	b.Publish(models.PriceUpdate{Symbol: "TSLA", Price: 242.1, Timestamp: 2})

	if m := read(t, a); m.Type != TypePriceUpdate || m.Data.Symbol != "AAPL" || m.Data.Price != 185.55 {
		t.Fatalf("a: unexpected %+v", m)
	}
	if m := read(t, c); m.Type != TypePriceUpdate || m.Data.Symbol != "TSLA" {
		t.Fatalf("c: unexpected %+v", m)
	}

	// a must not have received TSLA: the next frame it sees is the pong
	send(t, a, ClientMessage{Type: TypePing})
	if m := read(t, a); m.Type != TypePong || m.Timestamp == 0 {
		t.Fatalf("a: expected pong next, got %+v", m)
	}
}

func TestProtocolErrors(t *testing.T) {
	_, _, ts := newTestServer(t, DefaultConfig())
	c := dial(t, ts)
	read(t, c)

	if err := c.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if m := read(t, c); m.Type != TypeError || m.Error != ErrInvalidFormat {
		t.Fatalf("unexpected reply %+v", m)
	}

	send(t, c, map[string]string{"type": "dance"})
	if m := read(t, c); m.Type != TypeError || m.Error != ErrUnknownType {
		t.Fatalf("unexpected reply %+v", m)
	}

	// the connection is still usable
	send(t, c, ClientMessage{Type: TypePing})
	if m := read(t, c); m.Type != TypePong {
		t.Fatalf("expected pong, got %+v", m)
	}
}

func TestCloseDeregisters(t *testing.T) {
	s, b, ts := newTestServer(t, DefaultConfig())
	c := dial(t, ts)
	read(t, c)
	waitFor(t, func() bool { return b.Len() == 1 })

	c.Close()
	waitFor(t, func() bool { return b.Len() == 0 && s.Connections() == 0 })

	// publishing to no one is fine
	b.Publish(models.PriceUpdate{Symbol: "AAPL"})
}

func TestServerCloseRejectsNewConnections(t *testing.T) {
	s, b, ts := newTestServer(t, DefaultConfig())
	c := dial(t, ts)
	read(t, c)

	s.Close()
	if s.Connections() != 0 || b.Len() != 0 {
		t.Fatalf("expected all connections gone, got %d/%d", s.Connections(), b.Len())
	}
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := c.ReadMessage(); err == nil {
		t.Fatalf("expected closed connection")
	}

	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	if _, _, err := websocket.DefaultDialer.Dial(url, nil); err == nil {
		t.Fatalf("expected upgrade to be refused")
	}
}

func TestOversizedMessageClosesConnection(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxMessageSize = 128
	s, _, ts := newTestServer(t, cfg)
	c := dial(t, ts)
	read(t, c)

	big := ClientMessage{Type: TypeSubscribe, Symbols: []string{strings.Repeat("X", 512)}}
	send(t, c, big)
	waitFor(t, func() bool { return s.Connections() == 0 })
}

func TestSlowConsumerDropsUpdates(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SendBuffer = 1
	s, b, ts := newTestServer(t, cfg)
	c := dial(t, ts)
	read(t, c)
	send(t, c, ClientMessage{Type: TypeSubscribe, Symbols: []string{"AAPL"}})
	read(t, c)
	waitFor(t, func() bool { return s.Connections() == 1 })

	// publishing must never block on a client that is not reading
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10_000; i++ {
			b.Publish(models.PriceUpdate{Symbol: "AAPL", Price: float64(i)})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("publish blocked on a slow consumer")
	}
}
