package properties

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/KevinKickass/OpenPanelCore/internal/engine"
	"github.com/KevinKickass/OpenPanelCore/internal/types"
	"github.com/go-playground/assert/v2"
	"go.uber.org/zap"
)

type wireCall struct {
	op  string
	key string
}

type fakeWire struct {
	mu        sync.Mutex
	state     engine.State
	listeners []func(engine.State)
	calls     []wireCall
	nextID    int64
	handlers  map[int64]func(json.RawMessage)
	names     map[int64]string
	ops       map[int64]string
	sentTopic []any
}

func newFakeWire(st engine.State) *fakeWire {
	return &fakeWire{
		state:    st,
		handlers: make(map[int64]func(json.RawMessage)),
		names:    make(map[int64]string),
		ops:      make(map[int64]string),
	}
}

func (w *fakeWire) State() engine.State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *fakeWire) OnStateChange(fn func(engine.State)) func() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.listeners = append(w.listeners, fn)
	return func() {}
}

func (w *fakeWire) setState(st engine.State) {
	w.mu.Lock()
	w.state = st
	if st != engine.StateConnected {
		w.handlers = make(map[int64]func(json.RawMessage))
	}
	ls := append([]func(engine.State){}, w.listeners...)
	w.mu.Unlock()
	for _, fn := range ls {
		fn(st)
	}
}

func (w *fakeWire) start(op, key string, fn func(json.RawMessage)) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != engine.StateConnected {
		return 0, types.ErrNotConnected
	}
	w.nextID++
	w.handlers[w.nextID] = fn
	w.names[w.nextID] = key
	w.ops[w.nextID] = op
	w.calls = append(w.calls, wireCall{op, key})
	return w.nextID, nil
}

func (w *fakeWire) StartSubscription(key string, interval time.Duration, fn func(json.RawMessage)) (int64, error) {
	return w.start("subscribe", key, fn)
}

func (w *fakeWire) StartTopic(name string, fn func(json.RawMessage)) (int64, error) {
	return w.start("topic", name, fn)
}

func (w *fakeWire) OpenTopic(name string, fn func(json.RawMessage)) (int64, error) {
	return w.start("open", name, fn)
}

func (w *fakeWire) SendTopic(id int64, payload any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.handlers[id]; !ok {
		return types.ErrNotConnected
	}
	w.sentTopic = append(w.sentTopic, payload)
	return nil
}

func (w *fakeWire) Stop(id int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.handlers, id)
	w.calls = append(w.calls, wireCall{"stop", w.names[id]})
	return nil
}

func (w *fakeWire) push(key string, payload string) {
	w.mu.Lock()
	var targets []func(json.RawMessage)
	for id, fn := range w.handlers {
		if w.names[id] == key {
			targets = append(targets, fn)
		}
	}
	w.mu.Unlock()
	for _, fn := range targets {
		fn(json.RawMessage(payload))
	}
}

// handler returns the live delivery func of the op subscription to key.
func (w *fakeWire) handler(op, key string) func(json.RawMessage) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for id, fn := range w.handlers {
		if w.names[id] == key && w.ops[id] == op {
			return fn
		}
	}
	return nil
}

func (w *fakeWire) count(op, key string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, c := range w.calls {
		if c.op == op && c.key == key {
			n++
		}
	}
	return n
}

func newTestManager(w *fakeWire) *Manager {
	return NewManager(w, Config{DefaultInterval: time.Second, ThrottleWindow: 50 * time.Millisecond}, zap.NewNop())
}

const path = "Scene.Earth.Renderable.Enabled"

func TestSubscribeExactlyOnce(t *testing.T) {
	w := newFakeWire(engine.StateConnected)
	m := newTestManager(w)

	m.SubscribeToProperty(path, 500*time.Millisecond)
	m.SubscribeToProperty(path, 0)
	assert.Equal(t, w.count("subscribe", path), 1)
	assert.Equal(t, m.Refs(KindProperty, path), 2)

	m.UnsubscribeFromProperty(path)
	assert.Equal(t, w.count("stop", path), 0)

	m.UnsubscribeFromProperty(path)
	assert.Equal(t, w.count("stop", path), 1)
	assert.Equal(t, m.Refs(KindProperty, path), 0)
}

func TestUnsubscribeAtZeroIsNoop(t *testing.T) {
	w := newFakeWire(engine.StateConnected)
	m := newTestManager(w)

	m.UnsubscribeFromProperty(path)
	m.UnsubscribeFromTopic("time")
	assert.Equal(t, len(w.calls), 0)

	m.SubscribeToProperty(path, 0)
	m.UnsubscribeFromProperty(path)
	m.UnsubscribeFromProperty(path)
	assert.Equal(t, w.count("stop", path), 1)
	assert.Equal(t, m.Refs(KindProperty, path), 0)

	// a later subscribe starts again from one
	m.SubscribeToProperty(path, 0)
	assert.Equal(t, m.Refs(KindProperty, path), 1)
	assert.Equal(t, w.count("subscribe", path), 2)
}

func TestThreeConsumersOnePath(t *testing.T) {
	w := newFakeWire(engine.StateConnected)
	m := newTestManager(w)

	for i := 0; i < 3; i++ {
		m.SubscribeToProperty(path, 0)
	}
	m.UnsubscribeFromProperty(path)
	m.UnsubscribeFromProperty(path)
	assert.Equal(t, w.count("stop", path), 0)

	m.UnsubscribeFromProperty(path)
	assert.Equal(t, w.count("subscribe", path), 1)
	assert.Equal(t, w.count("stop", path), 1)
}

func TestSubscribeWhileDisconnectedOnlyCounts(t *testing.T) {
	w := newFakeWire(engine.StateDisconnected)
	m := newTestManager(w)

	m.SubscribeToProperty(path, 0)
	m.SubscribeToProperty(path, 0)
	m.SubscribeToTopic("time")
	assert.Equal(t, len(w.calls), 0)

	w.setState(engine.StateConnecting)
	w.setState(engine.StateConnected)
	assert.Equal(t, w.count("subscribe", path), 1)
	assert.Equal(t, w.count("topic", "time"), 1)
}

func TestResubscribeAfterReconnect(t *testing.T) {
	w := newFakeWire(engine.StateConnected)
	m := newTestManager(w)

	m.SubscribeToProperty(path, 0)
	m.SubscribeToProperty("Scene.Mars.Renderable.Opacity", 0)
	m.SubscribeToProperty("Scene.Moon.Renderable.Opacity", 0)
	m.UnsubscribeFromProperty("Scene.Moon.Renderable.Opacity")

	w.setState(engine.StateDisconnected)
	w.setState(engine.StateConnecting)
	w.setState(engine.StateConnected)

	assert.Equal(t, w.count("subscribe", path), 2)
	assert.Equal(t, w.count("subscribe", "Scene.Mars.Renderable.Opacity"), 2)
	assert.Equal(t, w.count("subscribe", "Scene.Moon.Renderable.Opacity"), 1)

	// unsubscribing while disconnected issues nothing on the wire
	w.setState(engine.StateError)
	m.UnsubscribeFromProperty(path)
	assert.Equal(t, w.count("stop", path), 0)
}

func TestDeliveryAndWatch(t *testing.T) {
	w := newFakeWire(engine.StateConnected)
	m := newTestManager(w)
	m.SubscribeToProperty(path, 0)

	var got []any
	cancel := m.Watch(path, func(v Value) { got = append(got, v.Raw) })

	w.push(path, `{"value":true}`)
	w.push(path, `{"value":false}`)

	v, ok := m.Get(path)
	assert.Equal(t, ok, true)
	assert.Equal(t, v.Raw, false)
	assert.Equal(t, got, []any{true, false})

	cancel()
	w.push(path, `{"value":true}`)
	assert.Equal(t, len(got), 2)

	m.UnsubscribeFromProperty(path)
	_, ok = m.Get(path)
	assert.Equal(t, ok, false)
}

func TestTimeThrottle(t *testing.T) {
	w := newFakeWire(engine.StateConnected)
	m := newTestManager(w)
	m.SubscribeToTopic(engine.TopicTime)

	w.push(engine.TopicTime, `{"time":"2020-01-01T00:00:00.250"}`)
	v, _ := m.Get(engine.TopicTime)
	assert.Equal(t, v.Derived, time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC))

	// within the window only the raw value moves
	w.push(engine.TopicTime, `{"time":"2020-01-01T00:00:01.500"}`)
	w.push(engine.TopicTime, `{"time":"2020-01-01T00:00:02.750"}`)
	v, _ = m.Get(engine.TopicTime)
	assert.Equal(t, v.Derived, time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC))

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		v, _ = m.Get(engine.TopicTime)
		if v.Derived == time.Date(2020, 1, 1, 0, 0, 2, 0, time.UTC) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, v.Derived, time.Date(2020, 1, 1, 0, 0, 2, 0, time.UTC))
	m.Close()
}

func TestConnectToTopic(t *testing.T) {
	w := newFakeWire(engine.StateDisconnected)
	m := newTestManager(w)

	h := m.ConnectToTopic(engine.TopicFlightControl)
	err := h.Send(map[string]any{"type": "inputState"})
	assert.Equal(t, errors.Is(err, types.ErrNotConnected), true)

	w.setState(engine.StateConnecting)
	w.setState(engine.StateConnected)
	assert.Equal(t, h.Send(map[string]any{"type": "inputState"}), nil)
	assert.Equal(t, len(w.sentTopic), 1)

	h.Close()
	h.Close()
	assert.Equal(t, w.count("stop", engine.TopicFlightControl), 1)
}

func TestLateDeliveryFromReleasedSubscriptionIsDropped(t *testing.T) {
	w := newFakeWire(engine.StateConnected)
	m := newTestManager(w)
	defer m.Close()

	m.SubscribeToProperty(path, 0)
	stale := w.handler("subscribe", path)
	assert.Equal(t, stale != nil, true)

	var got []Value
	var mu sync.Mutex
	cancel := m.Watch(path, func(v Value) {
		mu.Lock()
		got = append(got, v)
		mu.Unlock()
	})
	defer cancel()

	m.UnsubscribeFromProperty(path)
	m.SubscribeToProperty(path, 0)
	assert.Equal(t, w.count("subscribe", path), 2)

	// still in flight from the first wire subscription
	stale(json.RawMessage(`{"value":false}`))
	_, ok := m.Get(path)
	assert.Equal(t, ok, false)

	w.push(path, `{"value":true}`)
	v, ok := m.Get(path)
	assert.Equal(t, ok, true)
	assert.Equal(t, v.Raw, true)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, len(got), 1)
	assert.Equal(t, got[0].Raw, true)
}

func TestPropertyAndTopicValuesAreSeparate(t *testing.T) {
	w := newFakeWire(engine.StateConnected)
	m := newTestManager(w)
	defer m.Close()

	const key = "Focus"
	m.SubscribeToProperty(key, 0)
	m.SubscribeToTopic(key)

	w.handler("subscribe", key)(json.RawMessage(`{"value":1}`))
	w.handler("topic", key)(json.RawMessage(`2`))

	v, ok := m.GetKind(KindTopic, key)
	assert.Equal(t, ok, true)
	assert.Equal(t, v.Raw, 2.0)

	m.UnsubscribeFromTopic(key)
	_, ok = m.GetKind(KindTopic, key)
	assert.Equal(t, ok, false)

	v, ok = m.Get(key)
	assert.Equal(t, ok, true)
	assert.Equal(t, v.Kind, KindProperty)
	assert.Equal(t, v.Raw, 1.0)
	assert.Equal(t, m.Snapshot()[key].Raw, 1.0)
}
