package server_test

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"MarketPulse/internal/di"
	"MarketPulse/internal/domain/models"
	"MarketPulse/pkg/config"
	"MarketPulse/pkg/server"

	"github.com/gorilla/websocket"
)

func startApp(t *testing.T) (*server.App, string) {
	t.Helper()
	cfg, err := config.Default()
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	cfg.Server.Port = 0
	cfg.Log.Level = "error"
	cfg.Log.Format = "json"
	cfg.Log.Output = "stderr"
	cfg.Simulator.MinInterval = 5 * time.Millisecond
	cfg.Simulator.MaxInterval = 20 * time.Millisecond

	app, err := di.InitializeApp(cfg)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := app.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() {
		if err := app.Shutdown(context.Background()); err != nil {
			t.Errorf("shutdown: %v", err)
		}
	})

	_, port, err := net.SplitHostPort(app.Addr())
	if err != nil {
		t.Fatalf("addr %q: %v", app.Addr(), err)
	}
	return app, "127.0.0.1:" + port
}

func getJSON(t *testing.T, url string, out interface{}) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func TestAppServesREST(t *testing.T) {
	_, addr := startApp(t)
	base := "http://" + addr

	var health models.HealthResponse
	if code := getJSON(t, base+"/health", &health); code != http.StatusOK || health.Status != "ok" {
		t.Fatalf("health: %d %+v", code, health)
	}

	var tickers []models.Ticker
	if code := getJSON(t, base+"/api/tickers", &tickers); code != http.StatusOK || len(tickers) != 5 {
		t.Fatalf("tickers: %d, %d entries", code, len(tickers))
	}

	var points []models.HistoricalPoint
	if code := getJSON(t, base+"/api/history/aapl?days=3", &points); code != http.StatusOK || len(points) != 4 {
		t.Fatalf("history: %d, %d points", code, len(points))
	}

	var stats models.CacheStats
	getJSON(t, base+"/api/cache/stats", &stats)
	if stats.Size != 1 || stats.Keys[0] != "AAPL:3" {
		t.Fatalf("unexpected cache stats %+v", stats)
	}

	if code := getJSON(t, base+"/api/tickers/NOPE", nil); code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", code)
	}

	resp, err := http.Get(base + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), "marketpulse_history_cache_requests_total") {
		t.Fatalf("metrics endpoint missing app series")
	}
}

func TestAppStreamsSubscribedUpdates(t *testing.T) {
	_, addr := startApp(t)

	c, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()
	_ = c.SetReadDeadline(time.Now().Add(3 * time.Second))

	var msg struct {
		Type    string             `json:"type"`
		Symbols []string           `json:"symbols"`
		Data    models.PriceUpdate `json:"data"`
	}
	if err := c.ReadJSON(&msg); err != nil || msg.Type != "connected" {
		t.Fatalf("expected connected, got %+v (%v)", msg, err)
	}
	if err := c.WriteJSON(map[string]interface{}{"type": "subscribe", "symbols": []string{"tsla"}}); err != nil {
		t.Fatalf("write: %v", err)
	}

	for {
		msg.Data = models.PriceUpdate{}
		if err := c.ReadJSON(&msg); err != nil {
			t.Fatalf("read: %v", err)
		}
		switch msg.Type {
		case "subscribed":
			if len(msg.Symbols) != 1 || msg.Symbols[0] != "TSLA" {
				t.Fatalf("unexpected subscription %v", msg.Symbols)
			}
		case "price_update":
			if msg.Data.Symbol != "TSLA" || msg.Data.Price <= 0 {
				t.Fatalf("unexpected update %+v", msg.Data)
			}
			return
		default:
			t.Fatalf("unexpected message type %q", msg.Type)
		}
	}
}

func TestAppShutdownIsIdempotent(t *testing.T) {
	app, _ := startApp(t)
	if err := app.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if err := app.Shutdown(context.Background()); err != nil {
		t.Fatalf("second shutdown: %v", err)
	}
	if app.Engine.Running() {
		t.Fatalf("engine still running after shutdown")
	}
}
