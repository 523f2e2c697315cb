package websocket

import (
	"encoding/json"
	"time"

	"github.com/KevinKickass/OpenPanelCore/internal/types"
)

// MessageType defines the type of WebSocket message
type MessageType string

const (
	// Component table messages
	MessageTypeComponent MessageType = "component"
	MessageTypePage      MessageType = "page"
	MessageTypeOverlaps  MessageType = "overlaps"

	// Engine messages
	MessageTypeProperty   MessageType = "property"
	MessageTypeConnection MessageType = "connection"

	// Multi sequencer messages
	MessageTypeSequencer MessageType = "sequencer"

	// Lifecycle messages
	MessageTypeSystem MessageType = "system"

	// Session messages
	MessageTypeAuthSuccess MessageType = "auth_success"
	MessageTypeAuthFailed  MessageType = "auth_failed"
	MessageTypeError       MessageType = "error"
	MessageTypeAck         MessageType = "ack"
)

// Message represents a WebSocket message
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// NewMessage creates a new message with current timestamp
func NewMessage(msgType MessageType, data interface{}) Message {
	return Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Data:      data,
	}
}

// ComponentData represents one component table change.
type ComponentData struct {
	Event     string          `json:"event"`
	ID        string          `json:"id,omitempty"`
	Component types.Component `json:"component,omitempty"`
}

// PageData represents a page list or current page change.
type PageData struct {
	Event       string       `json:"event"`
	CurrentPage int          `json:"current_page"`
	Pages       []types.Page `json:"pages"`
}

// ConnectionData represents an engine connection state change.
type ConnectionData struct {
	State   string `json:"state"`
	Address string `json:"address,omitempty"`
	Error   string `json:"error,omitempty"`
}

// PropertyData represents one property or topic update.
type PropertyData struct {
	Key     string      `json:"key"`
	Value   interface{} `json:"value"`
	Derived interface{} `json:"derived,omitempty"`
}

func NewConnectionMessage(state, address, errMsg string) Message {
	return NewMessage(MessageTypeConnection, ConnectionData{State: state, Address: address, Error: errMsg})
}

func NewPropertyMessage(key string, value, derived interface{}) Message {
	return NewMessage(MessageTypeProperty, PropertyData{Key: key, Value: value, Derived: derived})
}

// Command types accepted from clients.
const (
	CommandAuth           = "auth"
	CommandTrigger        = "trigger"
	CommandSetValue       = "set_value"
	CommandFlightInput    = "flight_input"
	CommandToggleFriction = "toggle_friction"
)

// Command is a client request. Fields are used by the command types that
// need them.
type Command struct {
	Type     string          `json:"type"`
	ID       string          `json:"id,omitempty"`
	Token    string          `json:"token,omitempty"`
	Value    float64         `json:"value,omitempty"`
	Friction string          `json:"friction,omitempty"`
	Input    json.RawMessage `json:"input,omitempty"`
}

// AckData answers a command.
type AckData struct {
	Command string `json:"command"`
	ID      string `json:"id,omitempty"`
	Error   string `json:"error,omitempty"`
}
