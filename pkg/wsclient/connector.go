package wsclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"MarketPulse/internal/domain/models"
	"MarketPulse/pkg/logger"
	"MarketPulse/pkg/util"

	"github.com/gorilla/websocket"
)

var (
	ErrReconnectExhausted = errors.New("wsclient: reconnect attempts exhausted")
	ErrNotConnected       = errors.New("wsclient: not connected")
)

type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateExhausted
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateExhausted:
		return "exhausted"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

type Config struct {
	URL               string
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	MaxAttempts       int
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	WriteWait         time.Duration
	Dialer            *websocket.Dialer
}

func DefaultConfig(url string) Config {
	return Config{
		URL:               url,
		BaseDelay:         time.Second,
		MaxDelay:          30 * time.Second,
		MaxAttempts:       5,
		HeartbeatInterval: 30 * time.Second,
		HeartbeatTimeout:  5 * time.Second,
		WriteWait:         10 * time.Second,
	}
}

type inbound struct {
	Type    string              `json:"type"`
	Message string              `json:"message,omitempty"`
	Error   string              `json:"error,omitempty"`
	Symbols []string            `json:"symbols,omitempty"`
	Data    *models.PriceUpdate `json:"data,omitempty"`
}

type outbound struct {
	Type    string   `json:"type"`
	Symbols []string `json:"symbols,omitempty"`
}

// Connector keeps a connection to the broadcast server alive, reconnecting
// with exponential backoff and checking liveness with application pings.
type Connector struct {
	cfg    Config
	dialer *websocket.Dialer
	log    *logger.Logger

	mu           sync.Mutex
	state        State
	conn         *websocket.Conn
	desired      map[string]struct{}
	priceObs     map[uint64]func(models.PriceUpdate)
	statusObs    map[uint64]func(bool)
	nextID       uint64
	started      bool
	disconnected bool
	cancel       context.CancelFunc
	err          error

	writeMu sync.Mutex
	pongCh  chan struct{}
	done    chan struct{}
}

func New(cfg Config, log *logger.Logger) *Connector {
	def := DefaultConfig(cfg.URL)
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = def.HeartbeatInterval
	}
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = def.HeartbeatTimeout
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = def.WriteWait
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	return &Connector{
		cfg:       cfg,
		dialer:    dialer,
		log:       log.Component("connector").With(logger.String("url", cfg.URL)),
		desired:   make(map[string]struct{}),
		priceObs:  make(map[uint64]func(models.PriceUpdate)),
		statusObs: make(map[uint64]func(bool)),
		pongCh:    make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

// Start launches the connection loop. It returns immediately; watch Done
// for termination.
func (c *Connector) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started || c.disconnected {
		return
	}
	c.started = true
	ctx, c.cancel = context.WithCancel(ctx)
	go c.run(ctx)
}

// Disconnect stops the connector for good and drops every observer.
func (c *Connector) Disconnect() {
	c.mu.Lock()
	c.disconnected = true
	c.priceObs = make(map[uint64]func(models.PriceUpdate))
	c.statusObs = make(map[uint64]func(bool))
	conn := c.conn
	cancel := c.cancel
	started := c.started
	if c.state != StateExhausted {
		c.state = StateClosed
	}
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
	if !started {
		c.closeDone()
	}
}

// Done is closed when the connector stops reconnecting.
func (c *Connector) Done() <-chan struct{} { return c.done }

// Err reports why the connector stopped; ErrReconnectExhausted after too many failures.
func (c *Connector) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Connector) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Connector) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateConnected && c.conn != nil
}

// Subscribe adds symbols to the desired set and sends them when connected.
// The set is replayed after every reconnect.
func (c *Connector) Subscribe(symbols []string) error {
	syms := util.NormalizeSymbols(symbols)
	c.mu.Lock()
	for _, s := range syms {
		c.desired[s] = struct{}{}
	}
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	return c.write(conn, outbound{Type: "subscribe", Symbols: syms})
}

func (c *Connector) Unsubscribe(symbols []string) error {
	syms := util.NormalizeSymbols(symbols)
	c.mu.Lock()
	for _, s := range syms {
		delete(c.desired, s)
	}
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	return c.write(conn, outbound{Type: "unsubscribe", Symbols: syms})
}

// OnPriceUpdate registers fn and returns a func that removes it.
func (c *Connector) OnPriceUpdate(fn func(models.PriceUpdate)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.priceObs[id] = fn
	return func() {
		c.mu.Lock()
		delete(c.priceObs, id)
		c.mu.Unlock()
	}
}

// OnConnectionStatus registers fn for connect (true) and disconnect (false) events.
func (c *Connector) OnConnectionStatus(fn func(bool)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.statusObs[id] = fn
	return func() {
		c.mu.Lock()
		delete(c.statusObs, id)
		c.mu.Unlock()
	}
}

func (c *Connector) run(ctx context.Context) {
	defer c.closeDone()
	attempt := 0
	for {
		c.setState(StateConnecting)
		conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, nil)
		if err == nil {
			attempt = 0
			c.serve(ctx, conn)
		} else if ctx.Err() == nil {
			c.log.Warn("connect failed", logger.Error(err))
		}

		if ctx.Err() != nil {
			c.setState(StateClosed)
			return
		}
		if attempt >= c.cfg.MaxAttempts {
			c.mu.Lock()
			c.state = StateExhausted
			c.err = ErrReconnectExhausted
			c.mu.Unlock()
			c.log.Error("max reconnection attempts reached", logger.Int("attempts", attempt))
			return
		}

		attempt++
		delay := Backoff(attempt, c.cfg.BaseDelay, c.cfg.MaxDelay)
		c.setState(StateReconnecting)
		c.log.Info("reconnecting", logger.Int("attempt", attempt), logger.Duration("delay_ms", delay))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			c.setState(StateClosed)
			return
		case <-timer.C:
		}
	}
}

// serve runs one connection until it closes.
func (c *Connector) serve(ctx context.Context, conn *websocket.Conn) {
	c.mu.Lock()
	if c.disconnected {
		c.mu.Unlock()
		_ = conn.Close()
		return
	}
	c.conn = conn
	c.state = StateConnected
	syms := make([]string, 0, len(c.desired))
	for s := range c.desired {
		syms = append(syms, s)
	}
	c.mu.Unlock()

	c.log.Info("connected")
	c.notifyStatus(true)

	connCtx, stop := context.WithCancel(ctx)
	go func() {
		<-connCtx.Done()
		_ = conn.Close()
	}()
	go c.heartbeat(connCtx, conn)

	if len(syms) > 0 {
		if err := c.write(conn, outbound{Type: "subscribe", Symbols: syms}); err != nil {
			c.log.Warn("resubscribe failed", logger.Error(err))
		}
	}

	c.readLoop(conn)
	stop()

	c.mu.Lock()
	c.conn = nil
	c.mu.Unlock()
	c.log.Info("disconnected")
	c.notifyStatus(false)
}

func (c *Connector) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.Warn("bad message from server", logger.Error(err))
			continue
		}
		switch msg.Type {
		case "price_update":
			if msg.Data != nil {
				c.notifyPrice(*msg.Data)
			}
		case "pong":
			select {
			case c.pongCh <- struct{}{}:
			default:
			}
		case "error":
			c.log.Warn("server error", logger.String("error", msg.Error), logger.String("message", msg.Message))
		case "connected":
			c.log.Debug("connection confirmed", logger.String("message", msg.Message))
		case "subscribed", "unsubscribed":
			c.log.Debug(msg.Type, logger.Strings("symbols", msg.Symbols))
		}
	}
}

// heartbeat sends a ping every interval and closes conn if no pong arrives in time.
func (c *Connector) heartbeat(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		select {
		case <-c.pongCh:
		default:
		}
		if err := c.write(conn, outbound{Type: "ping"}); err != nil {
			return
		}

		timeout := time.NewTimer(c.cfg.HeartbeatTimeout)
		select {
		case <-ctx.Done():
			timeout.Stop()
			return
		case <-c.pongCh:
			timeout.Stop()
		case <-timeout.C:
			c.log.Warn("heartbeat timeout, closing connection")
			_ = conn.Close()
			return
		}
	}
}

func (c *Connector) write(conn *websocket.Conn, v outbound) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
	if err := conn.WriteJSON(v); err != nil {
		return fmt.Errorf("write %s: %w", v.Type, err)
	}
	return nil
}

func (c *Connector) notifyPrice(u models.PriceUpdate) {
	c.mu.Lock()
	obs := make([]func(models.PriceUpdate), 0, len(c.priceObs))
	for _, fn := range c.priceObs {
		obs = append(obs, fn)
	}
	c.mu.Unlock()
	for _, fn := range obs {
		fn(u)
	}
}

func (c *Connector) notifyStatus(connected bool) {
	c.mu.Lock()
	obs := make([]func(bool), 0, len(c.statusObs))
	for _, fn := range c.statusObs {
		obs = append(obs, fn)
	}
	c.mu.Unlock()
	for _, fn := range obs {
		fn(connected)
	}
}

func (c *Connector) setState(s State) {
	c.mu.Lock()
	if c.state != StateExhausted && !(c.disconnected && s != StateClosed) {
		c.state = s
	}
	c.mu.Unlock()
}

func (c *Connector) closeDone() {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.done:
	default:
		close(c.done)
	}
}
