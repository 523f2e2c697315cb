package properties

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/KevinKickass/OpenPanelCore/internal/engine"
	"github.com/KevinKickass/OpenPanelCore/internal/metrics"
	"github.com/KevinKickass/OpenPanelCore/internal/types"
	"go.uber.org/zap"
)

// Wire is the engine side of the subscription protocol. *engine.Session
// implements it.
type Wire interface {
	State() engine.State
	OnStateChange(fn func(engine.State)) (cancel func())
	StartSubscription(key string, interval time.Duration, fn func(json.RawMessage)) (int64, error)
	StartTopic(name string, fn func(json.RawMessage)) (int64, error)
	OpenTopic(name string, fn func(json.RawMessage)) (int64, error)
	SendTopic(id int64, payload any) error
	Stop(id int64) error
}

type Kind string

const (
	KindProperty Kind = "property"
	KindTopic    Kind = "topic"
	KindChannel  Kind = "channel"
)

type Config struct {
	DefaultInterval time.Duration
	ThrottleWindow  time.Duration
}

// Value is the latest delivery for one key. Derived holds the throttled
// value for keys that have one.
type Value struct {
	Kind      Kind      `json:"kind"`
	Key       string    `json:"key"`
	Raw       any       `json:"value"`
	Derived   any       `json:"derived,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RecordInfo describes one subscription record.
type RecordInfo struct {
	Kind     Kind          `json:"kind"`
	Key      string        `json:"key"`
	Refs     int           `json:"refs"`
	Interval time.Duration `json:"interval"`
	Active   bool          `json:"active"`
}

type recordKey struct {
	kind Kind
	key  string
}

type record struct {
	recordKey
	refs     int
	interval time.Duration
	wireID   int64
	active   bool
	gen      uint64
}

type watcher struct {
	key       string
	fn        func(Value)
	cancelled atomic.Bool
}

// Manager multiplexes reference-counted interests onto wire subscriptions.
// Wire calls are made while holding mu; the session never calls back into
// the manager with its own lock held.
type Manager struct {
	wire   Wire
	cfg    Config
	logger *zap.Logger

	mu        sync.Mutex
	connected bool
	records   map[recordKey]*record
	values    map[recordKey]Value
	throttles map[string]*throttle
	watchers  map[*watcher]struct{}
	gen       uint64

	cancelState func()
}

func NewManager(wire Wire, cfg Config, logger *zap.Logger) *Manager {
	if cfg.DefaultInterval <= 0 {
		cfg.DefaultInterval = time.Second
	}
	if cfg.ThrottleWindow <= 0 {
		cfg.ThrottleWindow = time.Second
	}

	m := &Manager{
		wire:      wire,
		cfg:       cfg,
		logger:    logger,
		connected: wire.State() == engine.StateConnected,
		records:   make(map[recordKey]*record),
		values:    make(map[recordKey]Value),
		throttles: make(map[string]*throttle),
		watchers:  make(map[*watcher]struct{}),
	}
	m.throttles[engine.TopicTime] = newThrottle(cfg.ThrottleWindow, deriveTime)
	m.cancelState = wire.OnStateChange(m.onState)
	return m
}

// Close detaches the manager from the session and stops pending throttles.
func (m *Manager) Close() {
	m.cancelState()

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.throttles {
		t.stop()
	}
}

// SubscribeToProperty adds an interest in path. The first interest issues
// the wire subscription when connected; interval 0 means the default.
func (m *Manager) SubscribeToProperty(path string, interval time.Duration) {
	if interval <= 0 {
		interval = m.cfg.DefaultInterval
	}
	m.acquire(recordKey{KindProperty, path}, interval)
}

func (m *Manager) UnsubscribeFromProperty(path string) {
	m.release(recordKey{KindProperty, path})
}

func (m *Manager) SubscribeToTopic(name string) {
	m.acquire(recordKey{KindTopic, name}, 0)
}

func (m *Manager) UnsubscribeFromTopic(name string) {
	m.release(recordKey{KindTopic, name})
}

// ConnectToTopic adds an interest in a bidirectional topic. The handle
// survives reconnects; Close releases the interest.
func (m *Manager) ConnectToTopic(name string) *TopicHandle {
	m.acquire(recordKey{KindChannel, name}, 0)
	return &TopicHandle{m: m, name: name}
}

func (m *Manager) acquire(k recordKey, interval time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.records[k]
	if !ok {
		r = &record{recordKey: k, interval: interval}
		m.records[k] = r
	}
	r.refs++

	if r.refs == 1 && m.connected && !r.active {
		m.issueLocked(r)
	}
	m.updateGaugesLocked()
}

func (m *Manager) release(k recordKey) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.records[k]
	if !ok || r.refs == 0 {
		return
	}
	r.refs--
	if r.refs > 0 {
		return
	}

	if r.active {
		err := m.wire.Stop(r.wireID)
		metrics.RecordWireCall(string(k.kind), "unsubscribe", status(err))
		if err != nil {
			m.logger.Debug("Wire unsubscribe failed",
				zap.String("key", k.key),
				zap.Error(err))
		}
	}
	delete(m.records, k)
	delete(m.values, k)
	m.updateGaugesLocked()
}

func (m *Manager) issueLocked(r *record) {
	m.gen++
	gen := m.gen
	k := r.recordKey
	deliver := func(payload json.RawMessage) { m.deliver(k, gen, payload) }

	var id int64
	var err error
	switch k.kind {
	case KindProperty:
		id, err = m.wire.StartSubscription(k.key, r.interval, deliver)
	case KindTopic:
		id, err = m.wire.StartTopic(k.key, deliver)
	case KindChannel:
		id, err = m.wire.OpenTopic(k.key, deliver)
	}
	metrics.RecordWireCall(string(k.kind), "subscribe", status(err))

	if err != nil {
		m.logger.Warn("Wire subscribe failed",
			zap.String("kind", string(k.kind)),
			zap.String("key", k.key),
			zap.Error(err))
		return
	}
	r.wireID = id
	r.gen = gen
	r.active = true
}

func (m *Manager) onState(st engine.State) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if st != engine.StateConnected {
		m.connected = false
		for _, r := range m.records {
			r.active = false
			r.wireID = 0
		}
		return
	}

	m.connected = true
	keys := make([]recordKey, 0, len(m.records))
	for k, r := range m.records {
		if r.refs > 0 && !r.active {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].kind != keys[j].kind {
			return keys[i].kind < keys[j].kind
		}
		return keys[i].key < keys[j].key
	})
	for _, k := range keys {
		m.issueLocked(m.records[k])
	}
	if len(keys) > 0 {
		m.logger.Info("Restored subscriptions", zap.Int("count", len(keys)))
	}
}

func (m *Manager) deliver(k recordKey, gen uint64, payload json.RawMessage) {
	var raw any
	if err := json.Unmarshal(payload, &raw); err != nil {
		m.logger.Debug("Dropping malformed update", zap.String("key", k.key), zap.Error(err))
		return
	}
	if k.kind == KindProperty {
		if obj, ok := raw.(map[string]any); ok {
			if v, ok := obj["value"]; ok {
				raw = v
			}
		}
	}

	m.mu.Lock()
	r, ok := m.records[k]
	if !ok || !r.active || r.gen != gen {
		m.mu.Unlock()
		return
	}

	now := time.Now()
	v := m.values[k]
	v.Kind = k.kind
	v.Key = k.key
	v.Raw = raw
	v.UpdatedAt = now
	if t, ok := m.throttles[k.key]; ok {
		if derived, ok := t.offer(raw, now, func() { m.flushThrottle(k) }); ok {
			v.Derived = derived
		}
	}
	m.values[k] = v
	targets := m.watchersLocked(k.key)
	m.mu.Unlock()

	notify(targets, v)
}

func (m *Manager) flushThrottle(k recordKey) {
	m.mu.Lock()
	t, ok := m.throttles[k.key]
	if !ok {
		m.mu.Unlock()
		return
	}
	derived, ok := t.fire(time.Now())
	v, exists := m.values[k]
	if !ok || !exists {
		m.mu.Unlock()
		return
	}
	v.Derived = derived
	m.values[k] = v
	targets := m.watchersLocked(k.key)
	m.mu.Unlock()

	notify(targets, v)
}

// Watch calls fn with every update of key, or of every key when key is
// empty. Updates stop once cancel returns.
func (m *Manager) Watch(key string, fn func(Value)) (cancel func()) {
	w := &watcher{key: key, fn: fn}

	m.mu.Lock()
	m.watchers[w] = struct{}{}
	m.mu.Unlock()

	return func() {
		w.cancelled.Store(true)
		m.mu.Lock()
		delete(m.watchers, w)
		m.mu.Unlock()
	}
}

func (m *Manager) watchersLocked(key string) []*watcher {
	var out []*watcher
	for w := range m.watchers {
		if w.key == "" || w.key == key {
			out = append(out, w)
		}
	}
	return out
}

func notify(targets []*watcher, v Value) {
	for _, w := range targets {
		if !w.cancelled.Load() {
			w.fn(v)
		}
	}
}

// lookupOrder resolves a bare key held by more than one kind.
var lookupOrder = []Kind{KindProperty, KindTopic, KindChannel}

// Get returns the latest value of key, preferring a property over a topic
// of the same name.
func (m *Manager) Get(key string) (Value, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, kind := range lookupOrder {
		if v, ok := m.values[recordKey{kind, key}]; ok {
			return v, true
		}
	}
	return Value{}, false
}

// GetKind returns the latest value of key delivered for kind.
func (m *Manager) GetKind(kind Kind, key string) (Value, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[recordKey{kind, key}]
	return v, ok
}

// Snapshot returns the latest values by key, with the same precedence as Get.
func (m *Manager) Snapshot() map[string]Value {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]Value, len(m.values))
	for i := len(lookupOrder) - 1; i >= 0; i-- {
		for k, v := range m.values {
			if k.kind == lookupOrder[i] {
				out[k.key] = v
			}
		}
	}
	return out
}

// Records lists subscription records ordered by kind and key.
func (m *Manager) Records() []RecordInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]RecordInfo, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, RecordInfo{
			Kind:     r.kind,
			Key:      r.key,
			Refs:     r.refs,
			Interval: r.interval,
			Active:   r.active,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// Refs returns the reference count of a property or topic record.
func (m *Manager) Refs(kind Kind, key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.records[recordKey{kind, key}]; ok {
		return r.refs
	}
	return 0
}

func (m *Manager) updateGaugesLocked() {
	counts := map[Kind]int{KindProperty: 0, KindTopic: 0, KindChannel: 0}
	for _, r := range m.records {
		if r.refs > 0 {
			counts[r.kind]++
		}
	}
	for k, n := range counts {
		metrics.SetActiveSubscriptions(string(k), n)
	}
}

// TopicHandle writes to a bidirectional topic.
type TopicHandle struct {
	m    *Manager
	name string
	once sync.Once
}

func (h *TopicHandle) Name() string { return h.name }

// Send writes payload on the topic. It fails with ErrNotConnected while the
// topic is not established.
func (h *TopicHandle) Send(payload any) error {
	h.m.mu.Lock()
	defer h.m.mu.Unlock()

	r, ok := h.m.records[recordKey{KindChannel, h.name}]
	if !ok || !r.active {
		return fmt.Errorf("topic %s: %w", h.name, types.ErrNotConnected)
	}
	return h.m.wire.SendTopic(r.wireID, payload)
}

func (h *TopicHandle) Close() {
	h.once.Do(func() { h.m.release(recordKey{KindChannel, h.name}) })
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
