package ws

import "MarketPulse/internal/domain/models"

// Message types of the real-time protocol.
const (
	TypeConnected    = "connected"
	TypeSubscribe    = "subscribe"
	TypeSubscribed   = "subscribed"
	TypeUnsubscribe  = "unsubscribe"
	TypeUnsubscribed = "unsubscribed"
	TypePing         = "ping"
	TypePong         = "pong"
	TypePriceUpdate  = "price_update"
	TypeError        = "error"
)

const (
	ErrInvalidFormat = "Invalid message format"
	ErrUnknownType   = "Unknown message type"
)

// ClientMessage is anything a client sends.
type ClientMessage struct {
	Type    string   `json:"type"`
	Symbols []string `json:"symbols,omitempty"`
}

type ConnectedMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// SymbolsMessage acknowledges a subscribe or unsubscribe with the full set.
type SymbolsMessage struct {
	Type    string   `json:"type"`
	Symbols []string `json:"symbols"`
}

type PongMessage struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

type PriceUpdateMessage struct {
	Type string             `json:"type"`
	Data models.PriceUpdate `json:"data"`
}
