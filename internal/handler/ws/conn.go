package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"MarketPulse/internal/domain/models"
	"MarketPulse/pkg/logger"
	"MarketPulse/pkg/util"

	"github.com/gorilla/websocket"
)

// conn is one client. The read pump owns the subscription set; the bus reads it.
type conn struct {
	srv  *Server
	ws   *websocket.Conn
	log  *logger.Logger
	send chan []byte

	done      chan struct{}
	closeOnce sync.Once

	mu      sync.RWMutex
	symbols map[string]struct{}
}

func newConn(s *Server, wsConn *websocket.Conn) *conn {
	return &conn{
		srv:     s,
		ws:      wsConn,
		log:     s.log.With(logger.String("remote", wsConn.RemoteAddr().String())),
		send:    make(chan []byte, s.cfg.SendBuffer),
		done:    make(chan struct{}),
		symbols: make(map[string]struct{}),
	}
}

// HandleUpdate forwards u when the client is subscribed to its symbol.
func (c *conn) HandleUpdate(u models.PriceUpdate) {
	c.mu.RLock()
	_, ok := c.symbols[u.Symbol]
	c.mu.RUnlock()
	if !ok {
		return
	}
	if !c.enqueue(TypePriceUpdate, PriceUpdateMessage{Type: TypePriceUpdate, Data: u}) {
		c.srv.metrics.RecordMessageDropped()
	}
}

// enqueue queues v without blocking. It reports false when the message was dropped.
func (c *conn) enqueue(kind string, v any) bool {
	b, err := json.Marshal(v)
	if err != nil {
		c.log.Error("encode message", logger.String("type", kind), logger.Error(err))
		return false
	}
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- b:
		c.srv.metrics.RecordMessageSent(kind)
		return true
	default:
		return false
	}
}

func (c *conn) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *conn) readPump() {
	defer func() {
		c.close()
		c.srv.remove(c)
		c.srv.wg.Done()
	}()

	c.ws.SetReadLimit(c.srv.cfg.MaxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.srv.cfg.PongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.srv.cfg.PongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) &&
				!errors.Is(err, websocket.ErrReadLimit) {
				c.log.Warn("websocket read error", logger.Error(err))
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(c.srv.cfg.PongWait))
		c.handle(data)
	}
}

func (c *conn) writePump() {
	ticker := time.NewTicker(c.srv.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
		c.srv.wg.Done()
	}()

	for {
		select {
		case <-c.done:
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server closing"),
				time.Now().Add(c.srv.cfg.WriteWait))
			return
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.srv.cfg.WriteWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.log.Warn("websocket write error", logger.Error(err))
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.srv.cfg.WriteWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		}
	}
}

func (c *conn) handle(data []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.enqueue(TypeError, ErrorMessage{Type: TypeError, Error: ErrInvalidFormat})
		return
	}

	switch msg.Type {
	case TypeSubscribe:
		c.mu.Lock()
		for _, s := range util.NormalizeSymbols(msg.Symbols) {
			c.symbols[s] = struct{}{}
		}
		c.mu.Unlock()
		c.enqueue(TypeSubscribed, SymbolsMessage{Type: TypeSubscribed, Symbols: c.subscribed()})
	case TypeUnsubscribe:
		c.mu.Lock()
		for _, s := range util.NormalizeSymbols(msg.Symbols) {
			delete(c.symbols, s)
		}
		c.mu.Unlock()
		c.enqueue(TypeUnsubscribed, SymbolsMessage{Type: TypeUnsubscribed, Symbols: c.subscribed()})
	case TypePing:
		c.enqueue(TypePong, PongMessage{Type: TypePong, Timestamp: c.srv.now().UnixMilli()})
	default:
		c.enqueue(TypeError, ErrorMessage{
			Type:    TypeError,
			Error:   ErrUnknownType,
			Message: fmt.Sprintf("unsupported message type %q", msg.Type),
		})
	}
}

// subscribed returns the current set sorted.
func (c *conn) subscribed() []string {
	c.mu.RLock()
	out := make([]string, 0, len(c.symbols))
	for s := range c.symbols {
		out = append(out, s)
	}
	c.mu.RUnlock()
	sort.Strings(out)
	return out
}
