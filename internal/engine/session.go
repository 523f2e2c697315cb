package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/KevinKickass/OpenPanelCore/internal/metrics"
	"github.com/KevinKickass/OpenPanelCore/internal/types"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the engine
	writeWait = 10 * time.Second

	// Maximum message size allowed from the engine
	maxMessageSize = 1 << 20

	// Send channel buffer size
	sendBufferSize = 256
)

type Config struct {
	Address          string
	AuthKey          string
	HandshakeTimeout time.Duration
	CallTimeout      time.Duration
	PingPeriod       time.Duration
	ReconnectInitial time.Duration
	ReconnectMax     time.Duration
}

type handlerKind int

const (
	kindProperty handlerKind = iota
	kindTopic
	kindChannel
)

type topicHandler struct {
	kind handlerKind
	name string
	fn   func(json.RawMessage)
}

// link is one established transport. It is replaced on every reconnect.
type link struct {
	conn Conn
	send chan Envelope
	done chan struct{}
}

type listener struct {
	id int
	fn func(State)
}

// Status is a point-in-time view of the session for the API.
type Status struct {
	State       State      `json:"state"`
	Address     string     `json:"address"`
	ConnectedAt *time.Time `json:"connected_at,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
}

// Session owns the socket to the engine: the connection state machine,
// topic id allocation, request correlation and subscription delivery.
type Session struct {
	cfg    Config
	dialer Dialer
	logger *zap.Logger

	mu          sync.Mutex
	state       State
	lastErr     error
	connectedAt time.Time
	link        *link
	nextTopic   int64
	handlers    map[int64]topicHandler
	pending     map[int64]chan json.RawMessage
	wanted      bool
	events      []State

	listenerMu   sync.Mutex
	listeners    []listener
	nextListener int

	notifyMu sync.Mutex
	wake     chan struct{}
}

func NewSession(cfg Config, dialer Dialer, logger *zap.Logger) *Session {
	if dialer == nil {
		dialer = WebsocketDialer{HandshakeTimeout: cfg.HandshakeTimeout}
	}
	metrics.SetConnectionState(string(StateDisconnected))
	return &Session{
		cfg:      cfg,
		dialer:   dialer,
		logger:   logger,
		state:    StateDisconnected,
		handlers: make(map[int64]topicHandler),
		pending:  make(map[int64]chan json.RawMessage),
		wake:     make(chan struct{}, 1),
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{State: s.state, Address: s.cfg.Address}
	if s.state == StateConnected {
		t := s.connectedAt
		st.ConnectedAt = &t
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

// API returns the Lua API handle. ok is false unless the session is connected.
func (s *Session) API() (*LuaAPI, bool) {
	return NewLuaAPI(s), s.State() == StateConnected
}

// OnStateChange registers fn for every state transition. Listeners run
// outside the session lock and may call back into the session.
func (s *Session) OnStateChange(fn func(State)) (cancel func()) {
	s.listenerMu.Lock()
	id := s.nextListener
	s.nextListener++
	s.listeners = append(s.listeners, listener{id: id, fn: fn})
	s.listenerMu.Unlock()

	return func() {
		s.listenerMu.Lock()
		defer s.listenerMu.Unlock()
		for i, l := range s.listeners {
			if l.id == id {
				s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
				return
			}
		}
	}
}

// Connect dials and authorizes. It is a no-op while connecting or connected.
// A failed attempt leaves the session in ERROR for Run to retry.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	s.wanted = true
	if s.state == StateConnected || s.state == StateConnecting {
		s.mu.Unlock()
		return nil
	}
	if err := s.transitionLocked(StateConnecting, nil); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()
	s.flush()

	conn, err := s.handshake(ctx)
	if err != nil {
		s.mu.Lock()
		s.transitionLocked(StateError, err)
		s.mu.Unlock()
		s.flush()
		s.logger.Warn("Engine handshake failed",
			zap.String("address", s.cfg.Address),
			zap.Error(err))
		return err
	}

	l := &link{
		conn: conn,
		send: make(chan Envelope, sendBufferSize),
		done: make(chan struct{}),
	}

	s.mu.Lock()
	s.link = l
	s.transitionLocked(StateConnected, nil)
	wanted := s.wanted
	s.mu.Unlock()

	go s.writePump(l)
	go s.readPump(l)
	s.flush()

	if !wanted {
		s.Disconnect()
	}
	return nil
}

// Disconnect closes the link and stops reconnect attempts until the next
// Connect.
func (s *Session) Disconnect() {
	s.mu.Lock()
	s.wanted = false
	switch {
	case s.link != nil:
		s.dropLinkLocked()
		s.transitionLocked(StateDisconnected, nil)
	case s.state == StateError:
		s.transitionLocked(StateDisconnected, nil)
	}
	s.mu.Unlock()

	s.flush()
	s.nudge()
}

// Run keeps the session connected while it is wanted, retrying with
// exponential backoff. It disconnects when ctx is done.
func (s *Session) Run(ctx context.Context) {
	bo := newBackoff(s.cfg.ReconnectInitial, s.cfg.ReconnectMax, 2)

	for {
		s.mu.Lock()
		retry := s.wanted && (s.state == StateError || s.state == StateDisconnected)
		s.mu.Unlock()

		if !retry {
			select {
			case <-s.wake:
				continue
			case <-ctx.Done():
				s.Disconnect()
				return
			}
		}

		if err := bo.wait(ctx, nil); err != nil {
			s.Disconnect()
			return
		}

		s.mu.Lock()
		wanted := s.wanted
		s.mu.Unlock()
		if !wanted {
			continue
		}

		s.logger.Info("Reconnecting to engine", zap.String("address", s.cfg.Address))
		if err := s.Connect(ctx); err != nil {
			continue
		}
		bo.reset()
	}
}

// Call runs a Lua function on the engine and waits for its return value.
func (s *Session) Call(ctx context.Context, function string, args ...any) (json.RawMessage, error) {
	if args == nil {
		args = []any{}
	}
	ch := make(chan json.RawMessage, 1)

	s.mu.Lock()
	topic := s.allocTopicLocked()
	err := s.sendLocked(Envelope{
		Topic:   topic,
		Type:    TypeLuaScript,
		Payload: encode(luaScriptPayload{Function: function, Arguments: args, Return: true}),
	})
	if err == nil {
		s.pending[topic] = ch
	}
	s.mu.Unlock()

	if err != nil {
		return nil, fmt.Errorf("call %s: %w", function, err)
	}

	if s.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.CallTimeout)
		defer cancel()
	}

	select {
	case payload, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("call %s: %w", function, types.ErrNotConnected)
		}
		return payload, nil
	case <-ctx.Done():
		s.mu.Lock()
		delete(s.pending, topic)
		s.mu.Unlock()
		return nil, fmt.Errorf("call %s: %w", function, ctx.Err())
	}
}

// Notify runs a Lua function without waiting for a result.
func (s *Session) Notify(ctx context.Context, function string, args ...any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if args == nil {
		args = []any{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.sendLocked(Envelope{
		Topic:   s.allocTopicLocked(),
		Type:    TypeLuaScript,
		Payload: encode(luaScriptPayload{Function: function, Arguments: args}),
	})
	if err != nil {
		return fmt.Errorf("notify %s: %w", function, err)
	}
	return nil
}

// StartSubscription subscribes to a property at the given interval. The
// returned id stays valid until Stop or until the link goes down.
func (s *Session) StartSubscription(key string, interval time.Duration, fn func(json.RawMessage)) (int64, error) {
	payload := subscriptionPayload{Event: eventStart, Property: key, Interval: interval.Milliseconds()}
	return s.open(kindProperty, TypeSubscribe, payload, fn)
}

// StartTopic subscribes to a push topic such as "time".
func (s *Session) StartTopic(name string, fn func(json.RawMessage)) (int64, error) {
	return s.open(kindTopic, name, subscriptionPayload{Event: eventStart}, fn)
}

// OpenTopic connects to a bidirectional topic. Use SendTopic to write to it.
func (s *Session) OpenTopic(name string, fn func(json.RawMessage)) (int64, error) {
	return s.open(kindChannel, name, subscriptionPayload{Event: eventConnect}, fn)
}

func (s *Session) open(kind handlerKind, name string, payload subscriptionPayload, fn func(json.RawMessage)) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	topic := s.allocTopicLocked()
	if err := s.sendLocked(Envelope{Topic: topic, Type: name, Payload: encode(payload)}); err != nil {
		return 0, err
	}
	s.handlers[topic] = topicHandler{kind: kind, name: name, fn: fn}
	return topic, nil
}

// SendTopic writes payload on an open topic.
func (s *Session) SendTopic(id int64, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.handlers[id]
	if !ok {
		return fmt.Errorf("topic %d: %w", id, types.ErrNotConnected)
	}
	return s.sendLocked(Envelope{Topic: id, Type: h.name, Payload: encode(payload)})
}

// Stop ends a subscription or topic. Ids invalidated by a reconnect are
// ignored.
func (s *Session) Stop(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.handlers[id]
	if !ok {
		return nil
	}
	delete(s.handlers, id)

	event := eventStop
	if h.kind == kindChannel {
		event = eventDisconnect
	}
	return s.sendLocked(Envelope{Topic: id, Type: h.name, Payload: encode(subscriptionPayload{Event: event})})
}

func (s *Session) handshake(ctx context.Context) (Conn, error) {
	if s.cfg.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.HandshakeTimeout)
		defer cancel()
	}

	conn, err := s.dialer.Dial(ctx, s.cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", types.ErrHandshakeFailed, s.cfg.Address, err)
	}

	s.mu.Lock()
	topic := s.allocTopicLocked()
	s.mu.Unlock()

	auth := Envelope{Topic: topic, Type: TypeAuthorize, Payload: encode(authorizePayload{Key: s.cfg.AuthKey})}
	if err := conn.WriteJSON(auth); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: %v", types.ErrHandshakeFailed, err)
	}

	result := make(chan error, 1)
	go func() {
		for {
			var env Envelope
			if err := conn.ReadJSON(&env); err != nil {
				result <- err
				return
			}
			if env.Topic != topic {
				continue
			}
			var st authorizationStatus
			if err := json.Unmarshal(env.Payload, &st); err != nil {
				result <- fmt.Errorf("malformed authorization status: %w", err)
				return
			}
			if st.Status != authorizationGranted {
				result <- fmt.Errorf("authorization status %q", st.Status)
				return
			}
			result <- nil
			return
		}
	}()

	select {
	case err := <-result:
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("%w: %v", types.ErrHandshakeFailed, err)
		}
		return conn, nil
	case <-ctx.Done():
		conn.Close()
		return nil, fmt.Errorf("%w: %v", types.ErrHandshakeFailed, ctx.Err())
	}
}

// readPump delivers engine messages in wire order.
func (s *Session) readPump(l *link) {
	for {
		var env Envelope
		if err := l.conn.ReadJSON(&env); err != nil {
			s.linkDown(l, err)
			return
		}
		metrics.RecordEngineMessage("in", env.Type)
		s.dispatch(env)
	}
}

func (s *Session) dispatch(env Envelope) {
	s.mu.Lock()
	if ch, ok := s.pending[env.Topic]; ok {
		delete(s.pending, env.Topic)
		s.mu.Unlock()
		ch <- env.Payload
		return
	}
	h, ok := s.handlers[env.Topic]
	s.mu.Unlock()

	if !ok {
		s.logger.Debug("Dropping message for unknown topic", zap.Int64("topic", env.Topic))
		return
	}
	if h.fn != nil {
		h.fn(env.Payload)
	}
}

// writePump is the only writer of the link's transport.
func (s *Session) writePump(l *link) {
	pinger, canPing := l.conn.(interface {
		WriteControl(messageType int, data []byte, deadline time.Time) error
	})
	deadliner, canDeadline := l.conn.(interface {
		SetWriteDeadline(t time.Time) error
	})

	var tick <-chan time.Time
	if canPing && s.cfg.PingPeriod > 0 {
		ticker := time.NewTicker(s.cfg.PingPeriod)
		defer ticker.Stop()
		tick = ticker.C
	}
	defer l.conn.Close()

	for {
		select {
		case env := <-l.send:
			if canDeadline {
				deadliner.SetWriteDeadline(time.Now().Add(writeWait))
			}
			if err := l.conn.WriteJSON(env); err != nil {
				s.linkDown(l, err)
				return
			}
			metrics.RecordEngineMessage("out", env.Type)

		case <-tick:
			if err := pinger.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				s.linkDown(l, err)
				return
			}

		case <-l.done:
			if canPing {
				msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
				pinger.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			}
			return
		}
	}
}

func (s *Session) linkDown(l *link, err error) {
	s.mu.Lock()
	if s.link != l {
		s.mu.Unlock()
		return
	}
	s.dropLinkLocked()

	if isNormalClose(err) {
		s.transitionLocked(StateDisconnected, nil)
		s.mu.Unlock()
		s.logger.Info("Engine closed the connection", zap.String("address", s.cfg.Address))
	} else {
		s.transitionLocked(StateError, fmt.Errorf("%w: %v", types.ErrTransportFault, err))
		s.mu.Unlock()
		s.logger.Warn("Engine connection lost",
			zap.String("address", s.cfg.Address),
			zap.Error(err))
	}

	s.flush()
	s.nudge()
}

// dropLinkLocked releases the link. Pending calls fail and all topic ids
// become invalid.
func (s *Session) dropLinkLocked() {
	close(s.link.done)
	s.link = nil
	for id, ch := range s.pending {
		close(ch)
		delete(s.pending, id)
	}
	s.handlers = make(map[int64]topicHandler)
}

func (s *Session) sendLocked(env Envelope) error {
	if s.state != StateConnected || s.link == nil {
		return types.ErrNotConnected
	}
	select {
	case s.link.send <- env:
		return nil
	default:
		return fmt.Errorf("%w: send buffer full", types.ErrTransportFault)
	}
}

func (s *Session) allocTopicLocked() int64 {
	s.nextTopic++
	return s.nextTopic
}

func (s *Session) transitionLocked(to State, cause error) error {
	if err := ValidateTransition(s.state, to); err != nil {
		return err
	}
	from := s.state
	s.state = to

	switch {
	case to == StateConnected:
		s.connectedAt = time.Now()
		s.lastErr = nil
	case cause != nil:
		s.lastErr = cause
	}
	s.events = append(s.events, to)

	metrics.SetConnectionState(string(to))
	s.logger.Debug("Engine connection state changed",
		zap.String("from", from.String()),
		zap.String("to", to.String()))
	return nil
}

// flush delivers queued transitions in order. Only one goroutine delivers at
// a time; transitions queued meanwhile, including ones caused by listeners,
// are picked up by the delivering goroutine.
func (s *Session) flush() {
	for {
		if !s.notifyMu.TryLock() {
			return
		}

		s.mu.Lock()
		events := s.events
		s.events = nil
		s.mu.Unlock()

		for _, st := range events {
			for _, l := range s.snapshotListeners() {
				l.fn(st)
			}
		}
		s.notifyMu.Unlock()

		s.mu.Lock()
		more := len(s.events) > 0
		s.mu.Unlock()
		if !more {
			return
		}
	}
}

func (s *Session) snapshotListeners() []listener {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	return append([]listener(nil), s.listeners...)
}

func (s *Session) nudge() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func isNormalClose(err error) bool {
	return errors.Is(err, io.EOF) ||
		websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}
