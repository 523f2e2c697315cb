package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/KevinKickass/OpenPanelCore/internal/auth"
	"github.com/KevinKickass/OpenPanelCore/internal/bindings"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Time allowed for the auth message
	authWait = 10 * time.Second

	// Maximum message size allowed from peer
	maxMessageSize = 8192

	// Send channel buffer size
	sendBufferSize = 256

	// Time allowed for one client command
	commandTimeout = 10 * time.Second
)

var (
	errForbidden      = errors.New("insufficient permissions")
	errNoCommands     = errors.New("commands unavailable")
	errUnknownCommand = errors.New("unknown command")
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Panels are served from other hosts on the show network.
		return true
	},
}

// Client represents a WebSocket client connection
type Client struct {
	hub           *Hub
	conn          *websocket.Conn
	send          chan []byte
	logger        *zap.Logger
	authenticated bool
	registered    bool
	permissions   []auth.Permission
}

// readPump handles reading messages from the WebSocket connection
func (c *Client) readPump() {
	defer func() {
		if c.registered {
			c.hub.remove(c)
		} else {
			close(c.send)
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if c.authenticated {
		if !c.join() {
			return
		}
	} else {
		c.conn.SetReadDeadline(time.Now().Add(authWait))
	}

	for {
		var cmd Command
		if err := c.conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseAbnormalClosure) {
				c.logger.Warn("WebSocket read error",
					zap.Error(err),
					zap.String("remote_addr", c.conn.RemoteAddr().String()))
			}
			return
		}

		// First message MUST be authentication
		if !c.authenticated {
			if !c.authenticate(cmd) {
				return
			}
			if !c.join() {
				return
			}
			continue
		}

		c.handleCommand(cmd)
	}
}

func (c *Client) authenticate(cmd Command) bool {
	if cmd.Type != CommandAuth || cmd.Token == "" {
		c.sendAuthFailed("First message must be authentication")
		return false
	}

	_, permissions, err := c.hub.authService.ValidateToken(cmd.Token)
	if err != nil {
		c.logger.Warn("WebSocket authentication failed",
			zap.Error(err),
			zap.String("remote_addr", c.conn.RemoteAddr().String()))
		c.sendAuthFailed("Invalid or expired token")
		return false
	}

	c.authenticated = true
	c.permissions = permissions
	c.logger.Info("WebSocket client authenticated",
		zap.String("remote_addr", c.conn.RemoteAddr().String()),
		zap.Any("permissions", permissions))
	return true
}

// join registers the client with the hub once it is authenticated.
func (c *Client) join() bool {
	c.conn.SetReadDeadline(time.Time{})
	c.sendAuthSuccess()
	if !c.hub.add(c) {
		return false
	}
	c.registered = true
	return true
}

func (c *Client) can(p auth.Permission) bool {
	for _, have := range c.permissions {
		if have == p {
			return true
		}
	}
	return false
}

func (c *Client) handleCommand(cmd Command) {
	if !c.can(auth.PermOperate) {
		c.ack(cmd, errForbidden)
		return
	}
	if c.hub.commands == nil {
		c.ack(cmd, errNoCommands)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	var err error
	switch cmd.Type {
	case CommandTrigger:
		err = c.hub.commands.Trigger(ctx, cmd.ID)
	case CommandSetValue:
		err = c.hub.commands.Set(ctx, cmd.ID, cmd.Value)
	case CommandFlightInput:
		var in bindings.FlightInput
		if err = json.Unmarshal(cmd.Input, &in); err == nil {
			err = c.hub.commands.SendFlightInput(cmd.ID, in)
		}
		// Flight input is high frequency; only failures are answered.
		if err == nil {
			return
		}
	case CommandToggleFriction:
		err = c.hub.commands.ToggleFriction(ctx, cmd.Friction)
	default:
		c.logger.Debug("Unknown client command",
			zap.String("remote_addr", c.conn.RemoteAddr().String()),
			zap.String("type", cmd.Type))
		err = errUnknownCommand
	}
	c.ack(cmd, err)
}

func (c *Client) ack(cmd Command, err error) {
	data := AckData{Command: cmd.Type, ID: cmd.ID}
	typ := MessageTypeAck
	if err != nil {
		data.Error = err.Error()
		typ = MessageTypeError
	}
	c.write(NewMessage(typ, data))
}

func (c *Client) sendAuthSuccess() {
	c.write(NewMessage(MessageTypeAuthSuccess, map[string]interface{}{
		"permissions": c.permissions,
	}))
}

func (c *Client) sendAuthFailed(reason string) {
	c.write(NewMessage(MessageTypeAuthFailed, map[string]interface{}{
		"reason": reason,
	}))
}

func (c *Client) write(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("Failed to marshal client message", zap.Error(err))
		return
	}
	c.hub.deliver(c, data)
}

// writePump handles writing messages to the WebSocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// One JSON document per frame; panels parse frames directly.
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ServeWs handles WebSocket upgrade requests. When authentication is
// disabled the client acts as the editor and skips the auth message.
func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Error("WebSocket upgrade error",
			zap.Error(err),
			zap.String("remote_addr", r.RemoteAddr))
		return
	}

	client := &Client{
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		logger: hub.logger,
	}
	if !hub.authService.Enabled() {
		client.authenticated = true
		client.permissions = []auth.Permission{auth.PermView, auth.PermOperate, auth.PermEdit}
	}

	// Start read and write pumps in separate goroutines
	go client.writePump()
	go client.readPump()
}
