package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Envelope is one message on the engine socket. Topic ids are allocated by
// the client and correlate every reply and subscription update.
type Envelope struct {
	Topic   int64           `json:"topic"`
	Type    string          `json:"type,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Topic types understood by the engine.
const (
	TypeAuthorize        = "authorize"
	TypeLuaScript        = "luascript"
	TypeSubscribe        = "subscribe"
	TopicTime            = "time"
	TopicSessionRecord   = "sessionRecording"
	TopicFlightControl   = "flightcontroller"
	eventStart           = "start_subscription"
	eventStop            = "stop_subscription"
	eventConnect         = "connect"
	eventDisconnect      = "disconnect"
	authorizationGranted = "authorized"
)

type authorizePayload struct {
	Key string `json:"key"`
}

type authorizationStatus struct {
	Status string `json:"status"`
}

type luaScriptPayload struct {
	Function  string `json:"function"`
	Arguments []any  `json:"arguments"`
	Return    bool   `json:"return"`
}

type subscriptionPayload struct {
	Event    string `json:"event"`
	Property string `json:"property,omitempty"`
	Interval int64  `json:"interval,omitempty"`
}

// Conn is the transport of one engine link. *websocket.Conn satisfies it.
type Conn interface {
	ReadJSON(v any) error
	WriteJSON(v any) error
	Close() error
}

// Dialer opens a transport to the engine address.
type Dialer interface {
	Dial(ctx context.Context, address string) (Conn, error)
}

// WebsocketDialer dials the engine over gorilla websocket.
type WebsocketDialer struct {
	HandshakeTimeout time.Duration
	Header           http.Header
}

func (d WebsocketDialer) Dial(ctx context.Context, address string) (Conn, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.HandshakeTimeout,
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
	}
	conn, _, err := dialer.DialContext(ctx, address, d.Header)
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(maxMessageSize)
	return conn, nil
}

func encode(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("null")
	}
	return data
}
