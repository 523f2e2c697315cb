package bindings

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/KevinKickass/OpenPanelCore/internal/actions"
	"github.com/KevinKickass/OpenPanelCore/internal/components"
	"github.com/KevinKickass/OpenPanelCore/internal/engine"
	"github.com/KevinKickass/OpenPanelCore/internal/properties"
	"go.uber.org/zap"
)

// APIProvider hands out the engine's Lua API. *engine.Session implements it.
type APIProvider interface {
	API() (*engine.LuaAPI, bool)
	OnStateChange(fn func(engine.State)) (cancel func())
}

// MultiRunner starts a multi composite. *sequencer.Sequencer implements it.
type MultiRunner interface {
	Run(ctx context.Context, multiID string) (string, error)
}

type interest struct {
	kind     properties.Kind
	key      string
	interval time.Duration
}

type bound struct {
	interests []interest
	channel   *properties.TopicHandle
}

// Binder keeps every live component's interests subscribed and its trigger
// callable registered, following table changes and API availability.
type Binder struct {
	table    *components.Table
	props    *properties.Manager
	registry *actions.Registry
	api      APIProvider
	multis   MultiRunner
	logger   *zap.Logger

	mu      sync.Mutex
	bound   map[string]*bound
	cancels []func()
}

func New(table *components.Table, props *properties.Manager, registry *actions.Registry, api APIProvider, multis MultiRunner, logger *zap.Logger) *Binder {
	return &Binder{
		table:    table,
		props:    props,
		registry: registry,
		api:      api,
		multis:   multis,
		logger:   logger,
		bound:    make(map[string]*bound),
	}
}

// Start binds the current table contents and follows further changes.
func (b *Binder) Start() {
	b.cancels = append(b.cancels,
		b.table.Subscribe(b.onTableEvent),
		b.api.OnStateChange(func(engine.State) { b.rebindAll() }),
	)
	b.rebindAll()
}

// Stop detaches the binder and releases every interest and registration.
func (b *Binder) Stop() {
	for _, cancel := range b.cancels {
		cancel()
	}
	b.cancels = nil

	b.mu.Lock()
	defer b.mu.Unlock()
	for id := range b.bound {
		b.unbindLocked(id)
	}
}

// Bound reports the ids that currently hold interests or a registration,
// sorted.
func (b *Binder) Bound() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]string, 0, len(b.bound))
	for id := range b.bound {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (b *Binder) onTableEvent(ev components.Event) {
	switch ev.Type {
	case components.EventAdded, components.EventUpdated, components.EventRemoved:
		b.bind(ev.ID)
	case components.EventReplaced:
		b.mu.Lock()
		for id := range b.bound {
			b.unbindLocked(id)
		}
		b.mu.Unlock()
		b.rebindAll()
	}
}

func (b *Binder) rebindAll() {
	for _, c := range b.table.List() {
		b.bind(c.Common().ID)
	}
}

// bind reconciles id with the table's current copy of it. The copy and the
// API are read under b.mu, so concurrent binds of one id settle on the
// latest configuration.
func (b *Binder) bind(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.table.GetComponentByID(id)
	if !ok {
		b.unbindLocked(id)
		return
	}
	api, ok := b.api.API()
	if !ok {
		api = nil
	}
	wants, binding := b.plan(c, api)

	prev := b.bound[id]
	if prev == nil {
		prev = &bound{}
	}
	next := &bound{interests: wants, channel: prev.channel}

	for _, in := range wants {
		if !containsInterest(prev.interests, in) {
			b.acquire(next, in)
		}
	}
	for _, in := range prev.interests {
		if !containsInterest(wants, in) {
			b.releaseInterest(next, in)
		}
	}

	if binding != nil {
		b.registry.Register(id, *binding)
	} else {
		b.registry.Unregister(id)
	}

	if len(next.interests) == 0 && binding == nil {
		delete(b.bound, id)
		return
	}
	b.bound[id] = next
}

func (b *Binder) unbindLocked(id string) {
	prev, ok := b.bound[id]
	if ok {
		for _, in := range prev.interests {
			b.releaseInterest(prev, in)
		}
		delete(b.bound, id)
	}
	b.registry.Unregister(id)
}

func (b *Binder) acquire(bd *bound, in interest) {
	switch in.kind {
	case properties.KindProperty:
		b.props.SubscribeToProperty(in.key, in.interval)
	case properties.KindTopic:
		b.props.SubscribeToTopic(in.key)
	case properties.KindChannel:
		bd.channel = b.props.ConnectToTopic(in.key)
	}
}

func (b *Binder) releaseInterest(bd *bound, in interest) {
	switch in.kind {
	case properties.KindProperty:
		b.props.UnsubscribeFromProperty(in.key)
	case properties.KindTopic:
		b.props.UnsubscribeFromTopic(in.key)
	case properties.KindChannel:
		if bd.channel != nil {
			bd.channel.Close()
			bd.channel = nil
		}
	}
}

func (b *Binder) channel(id string) *properties.TopicHandle {
	b.mu.Lock()
	defer b.mu.Unlock()
	if bd, ok := b.bound[id]; ok {
		return bd.channel
	}
	return nil
}

func containsInterest(list []interest, in interest) bool {
	for _, v := range list {
		if v == in {
			return true
		}
	}
	return false
}
