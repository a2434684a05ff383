package ws

import (
	"net/http"
	"sync"
	"time"

	domrepo "MarketPulse/internal/domain/repository"
	"MarketPulse/internal/service/bus"
	"MarketPulse/pkg/logger"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

const welcome = "Connected to market data stream"

// Subscriber is the part of the update bus the server needs.
type Subscriber interface {
	Subscribe(h bus.Handler) error
	Unsubscribe(h bus.Handler)
}

type Config struct {
	Path           string
	SendBuffer     int
	WriteWait      time.Duration
	PongWait       time.Duration
	PingPeriod     time.Duration
	MaxMessageSize int64
}

func DefaultConfig() Config {
	return Config{
		Path:           "/ws",
		SendBuffer:     256,
		WriteWait:      10 * time.Second,
		PongWait:       60 * time.Second,
		PingPeriod:     50 * time.Second,
		MaxMessageSize: 64 * 1024,
	}
}

// Server upgrades HTTP requests and fans bus updates out to each connection
// according to its subscriptions.
type Server struct {
	cfg      Config
	bus      Subscriber
	metrics  domrepo.Metrics
	log      *logger.Logger
	upgrader websocket.Upgrader
	now      func() time.Time

	mu     sync.Mutex
	conns  map[*conn]struct{}
	closed bool
	wg     sync.WaitGroup
}

func NewServer(cfg Config, b Subscriber, metrics domrepo.Metrics, log *logger.Logger) *Server {
	def := DefaultConfig()
	if cfg.Path == "" {
		cfg.Path = def.Path
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = def.SendBuffer
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = def.WriteWait
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = def.PongWait
	}
	if cfg.PingPeriod <= 0 || cfg.PingPeriod >= cfg.PongWait {
		cfg.PingPeriod = cfg.PongWait * 9 / 10
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}
	return &Server{
		cfg:     cfg,
		bus:     b,
		metrics: metrics,
		log:     log.Component("ws"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		now:   time.Now,
		conns: make(map[*conn]struct{}),
	}
}

// RegisterRoutes mounts the websocket endpoint on e.
func (s *Server) RegisterRoutes(e *echo.Echo) {
	e.GET(s.cfg.Path, echo.WrapHandler(s))
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		http.Error(w, "server closing", http.StatusServiceUnavailable)
		return
	}

	wsConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", logger.Error(err))
		s.metrics.RecordError("ws_upgrade")
		return
	}

	c := newConn(s, wsConn)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = wsConn.Close()
		return
	}
	s.conns[c] = struct{}{}
	s.wg.Add(2)
	s.mu.Unlock()

	s.metrics.RecordConnectionOpened()
	c.log.Info("websocket connection opened")

	c.enqueue(TypeConnected, ConnectedMessage{Type: TypeConnected, Message: welcome})
	if err := s.bus.Subscribe(c); err != nil {
		c.log.Error("bus subscribe failed", logger.Error(err))
	}

	go c.writePump()
	go c.readPump()
}

func (s *Server) remove(c *conn) {
	s.mu.Lock()
	_, ok := s.conns[c]
	delete(s.conns, c)
	s.mu.Unlock()
	if !ok {
		return
	}
	s.bus.Unsubscribe(c)
	s.metrics.RecordConnectionClosed()
	c.log.Info("websocket connection closed")
}

// Connections reports the number of open connections.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Close shuts every connection and refuses new upgrades.
func (s *Server) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	conns := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.close()
	}
	s.wg.Wait()
	s.log.Info("websocket server closed", logger.Int("connections", len(conns)))
}
