package system

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/KevinKickass/OpenPanelCore/internal/actions"
	"github.com/KevinKickass/OpenPanelCore/internal/api/rest"
	"github.com/KevinKickass/OpenPanelCore/internal/api/websocket"
	"github.com/KevinKickass/OpenPanelCore/internal/auth"
	"github.com/KevinKickass/OpenPanelCore/internal/bindings"
	"github.com/KevinKickass/OpenPanelCore/internal/components"
	"github.com/KevinKickass/OpenPanelCore/internal/config"
	"github.com/KevinKickass/OpenPanelCore/internal/engine"
	"github.com/KevinKickass/OpenPanelCore/internal/interfaces"
	"github.com/KevinKickass/OpenPanelCore/internal/layout"
	"github.com/KevinKickass/OpenPanelCore/internal/project"
	"github.com/KevinKickass/OpenPanelCore/internal/properties"
	"github.com/KevinKickass/OpenPanelCore/internal/sequencer"
	"github.com/KevinKickass/OpenPanelCore/internal/storage"
	"github.com/KevinKickass/OpenPanelCore/internal/types"
	"go.uber.org/zap"
)

// panelCommands routes touch panel commands to the action registry and the
// navigation panel bindings.
type panelCommands struct {
	*actions.Registry
	*bindings.Binder
}

type LifecycleManager struct {
	config      *config.Config
	store       storage.Store
	table       *components.Table
	detector    *layout.Detector
	session     *engine.Session
	properties  *properties.Manager
	registry    *actions.Registry
	streamer    *sequencer.EventStreamer
	sequencer   *sequencer.Sequencer
	binder      *bindings.Binder
	projects    *project.Manager
	authService *auth.AuthService
	hub         *websocket.Hub
	logger      *zap.Logger

	restServer *rest.Server

	cancel func()
	wg     sync.WaitGroup
	unsubs []func()

	stateMu      sync.RWMutex
	currentState SystemState
	lastErr      error

	listenersMu     sync.RWMutex
	statusListeners []chan SystemStatus

	shutdownChan chan struct{}
	shutdownOnce sync.Once
}

// NewLifecycleManager builds every service around one component table.
// store may be nil, which disables saving and loading projects.
func NewLifecycleManager(store storage.Store, cfg *config.Config, logger *zap.Logger) (*LifecycleManager, error) {
	table := components.NewTable(logger)
	detector := layout.NewDetector(table, cfg.Grid.Size, logger)

	session := engine.NewSession(engine.Config{
		Address:          cfg.Engine.Address,
		AuthKey:          cfg.Engine.AuthKey(),
		HandshakeTimeout: cfg.Engine.HandshakeTimeout,
		CallTimeout:      cfg.Engine.CallTimeout,
		PingPeriod:       cfg.Engine.PingPeriod,
		ReconnectInitial: cfg.Engine.ReconnectInitial,
		ReconnectMax:     cfg.Engine.ReconnectMax,
	}, nil, logger)

	props := properties.NewManager(session, properties.Config{
		DefaultInterval: cfg.Subscriptions.DefaultInterval,
		ThrottleWindow:  cfg.Subscriptions.ThrottleWindow,
	}, logger)

	registry := actions.NewRegistry(logger)
	streamer := sequencer.NewEventStreamer()
	seq := sequencer.New(table, registry, streamer, sequencer.Config{
		TimeUnit: cfg.Sequencer.TimeUnit,
		History:  cfg.Sequencer.History,
	}, logger)
	binder := bindings.New(table, props, registry, session, seq, logger)

	projects, err := project.NewManager(table, store, seq, logger)
	if err != nil {
		return nil, err
	}

	authService := auth.NewAuthService(cfg.Auth, logger)
	hub := websocket.NewHub(logger, authService, panelCommands{registry, binder})

	return &LifecycleManager{
		config:       cfg,
		store:        store,
		table:        table,
		detector:     detector,
		session:      session,
		properties:   props,
		registry:     registry,
		streamer:     streamer,
		sequencer:    seq,
		binder:       binder,
		projects:     projects,
		authService:  authService,
		hub:          hub,
		logger:       logger,
		currentState: StateStopped,
		shutdownChan: make(chan struct{}),
	}, nil
}

// Start starts the entire system
func (lm *LifecycleManager) Start() error {
	lm.logger.Info("Starting OpenPanelCore")

	lm.setState(StateInitializing)

	ctx, cancel := context.WithCancel(context.Background())
	lm.cancel = cancel

	lm.binder.Start()
	lm.detector.Start()
	lm.feedHub(ctx)

	lm.wg.Add(2)
	go func() {
		defer lm.wg.Done()
		lm.hub.Run(ctx)
	}()
	go func() {
		defer lm.wg.Done()
		lm.session.Run(ctx)
	}()

	if lm.config.Engine.AutoConnect {
		go func() {
			if err := lm.session.Connect(ctx); err != nil {
				lm.logger.Warn("Initial engine connection failed, retrying in background", zap.Error(err))
			}
		}()
	}

	if err := lm.loadDefaultProject(ctx); err != nil {
		lm.logger.Warn("Failed to load default project",
			zap.String("name", lm.config.Project.Default),
			zap.Error(err))
	}

	if err := lm.startRESTServer(); err != nil {
		lm.setError(fmt.Errorf("failed to start REST API: %w", err))
		return err
	}

	lm.setState(StateRunning)

	lm.logger.Info("System started successfully",
		zap.Int("http_port", lm.config.Server.HTTPPort),
		zap.String("engine_address", lm.config.Engine.Address),
		zap.Bool("auth_enabled", lm.authService.Enabled()))

	return nil
}

func (lm *LifecycleManager) loadDefaultProject(ctx context.Context) error {
	name := lm.config.Project.Default
	if name == "" || lm.store == nil {
		return nil
	}

	rep, err := lm.projects.Load(ctx, name)
	if err != nil {
		return err
	}
	if err := lm.detector.Recompute(); err != nil {
		return err
	}

	lm.logger.Info("Default project loaded",
		zap.String("name", name),
		zap.Int("warnings", len(rep.Warnings)))
	return nil
}

// feedHub forwards table, property, connection, sequencer and lifecycle
// changes to live panels.
func (lm *LifecycleManager) feedHub(ctx context.Context) {
	lm.unsubs = append(lm.unsubs,
		lm.table.Subscribe(lm.broadcastTableEvent),
		lm.properties.Watch("", func(v properties.Value) {
			lm.hub.Broadcast(websocket.NewPropertyMessage(v.Key, v.Raw, v.Derived))
		}),
		lm.session.OnStateChange(func(st engine.State) {
			status := lm.session.Status()
			lm.hub.Broadcast(websocket.NewConnectionMessage(string(st), status.Address, status.LastError))
		}),
	)

	events := lm.streamer.Subscribe("")
	statuses := lm.SubscribeStatus()

	lm.wg.Add(1)
	go func() {
		defer lm.wg.Done()
		defer lm.streamer.Unsubscribe("", events)
		defer lm.UnsubscribeStatus(statuses)

		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-events:
				lm.hub.Broadcast(websocket.NewMessage(websocket.MessageTypeSequencer, ev))
			case st := <-statuses:
				lm.hub.Broadcast(websocket.NewMessage(websocket.MessageTypeSystem, st))
			}
		}
	}()
}

func (lm *LifecycleManager) broadcastTableEvent(ev components.Event) {
	switch ev.Type {
	case components.EventAdded, components.EventUpdated, components.EventRemoved:
		lm.hub.Broadcast(websocket.NewMessage(websocket.MessageTypeComponent, websocket.ComponentData{
			Event:     string(ev.Type),
			ID:        ev.ID,
			Component: ev.Component,
		}))

	case components.EventReplaced, components.EventPageChanged, components.EventPagesChanged:
		current, _ := lm.table.CurrentPage()
		lm.hub.Broadcast(websocket.NewMessage(websocket.MessageTypePage, websocket.PageData{
			Event:       string(ev.Type),
			CurrentPage: current,
			Pages:       lm.table.Pages(),
		}))

	case components.EventOverlaps:
		lm.hub.Broadcast(websocket.NewMessage(websocket.MessageTypeOverlaps, lm.table.AllOverlaps()))
	}
}

// Shutdown gracefully shuts down the system
func (lm *LifecycleManager) Shutdown(ctx context.Context) error {
	var shutdownErr error

	lm.shutdownOnce.Do(func() {
		lm.logger.Info("Shutting down system")

		lm.setState(StateStopping)

		shutdownErr = lm.gracefulShutdown(ctx)

		lm.setState(StateStopped)

		close(lm.shutdownChan)
	})

	return shutdownErr
}

// Done is closed once Shutdown has finished.
func (lm *LifecycleManager) Done() <-chan struct{} {
	return lm.shutdownChan
}

func (lm *LifecycleManager) gracefulShutdown(ctx context.Context) error {
	var wg sync.WaitGroup
	errChan := make(chan error, 2)

	// 1. REST API Server graceful shutdown
	if lm.restServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()

			if err := lm.restServer.Shutdown(shutdownCtx); err != nil {
				errChan <- fmt.Errorf("rest api shutdown failed: %w", err)
			}
		}()
	}

	// 2. Cancel running multis
	for _, run := range lm.sequencer.Runs() {
		if run.Status != sequencer.RunRunning {
			continue
		}
		if err := lm.sequencer.Cancel(run.ID); err != nil && !errors.Is(err, types.ErrRunNotFound) {
			lm.logger.Warn("Failed to cancel run", zap.String("run_id", run.ID), zap.Error(err))
		}
	}

	// 3. Detach bindings and overlap tracking, then stop the hub and the engine session
	lm.detector.Stop()
	lm.binder.Stop()
	for _, unsub := range lm.unsubs {
		unsub()
	}
	lm.unsubs = nil
	if lm.cancel != nil {
		lm.cancel()
	}
	lm.properties.Close()

	// Wait for all shutdowns
	done := make(chan struct{})
	go func() {
		wg.Wait()
		lm.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		lm.logger.Info("Graceful shutdown completed")
		return nil
	case <-ctx.Done():
		lm.logger.Warn("Shutdown timeout, forcing stop")
		return fmt.Errorf("shutdown timeout exceeded")
	case err := <-errChan:
		return err
	}
}

func (lm *LifecycleManager) startRESTServer() error {
	lm.restServer = rest.NewServer(lm.config, lm, lm.logger, lm.hub, lm.authService)
	return lm.restServer.Start()
}

func (lm *LifecycleManager) setState(state SystemState) {
	lm.stateMu.Lock()
	if err := ValidateTransition(lm.currentState, state); err != nil {
		lm.logger.Warn("Unexpected system state change", zap.Error(err))
	}
	lm.currentState = state
	if state != StateError {
		lm.lastErr = nil
	}
	lm.stateMu.Unlock()

	lm.broadcastStatus()
}

func (lm *LifecycleManager) setError(err error) {
	lm.logger.Error("System error", zap.Error(err))
	lm.stateMu.Lock()
	lm.currentState = StateError
	lm.lastErr = err
	lm.stateMu.Unlock()

	lm.broadcastStatus()
}

// GetCurrentStatus returns current system status (Interface implementation)
func (lm *LifecycleManager) GetCurrentStatus() interfaces.SystemStatus {
	lm.stateMu.RLock()
	state := lm.currentState
	lm.stateMu.RUnlock()

	current, _ := lm.table.CurrentPage()
	return interfaces.SystemStatus{
		State:          state.String(),
		Engine:         lm.session.Status(),
		ComponentCount: len(lm.table.List()),
		BoundCount:     len(lm.binder.Bound()),
		PageCount:      len(lm.table.Pages()),
		CurrentPage:    current,
		EditOpen:       lm.sequencer.EditOpen(),
	}
}

func (lm *LifecycleManager) getStatusInternal() SystemStatus {
	lm.stateMu.RLock()
	defer lm.stateMu.RUnlock()

	status := SystemStatus{
		State:     lm.currentState,
		Timestamp: time.Now().Unix(),
	}
	if lm.lastErr != nil {
		status.Error = lm.lastErr.Error()
	}
	return status
}

func (lm *LifecycleManager) broadcastStatus() {
	status := lm.getStatusInternal()

	lm.listenersMu.RLock()
	defer lm.listenersMu.RUnlock()

	for _, listener := range lm.statusListeners {
		select {
		case listener <- status:
		default:
			// Channel full, skip
		}
	}
}

// SubscribeStatus subscribes to status updates
func (lm *LifecycleManager) SubscribeStatus() chan SystemStatus {
	ch := make(chan SystemStatus, 10)

	lm.listenersMu.Lock()
	lm.statusListeners = append(lm.statusListeners, ch)
	lm.listenersMu.Unlock()

	return ch
}

// UnsubscribeStatus unsubscribes from status updates
func (lm *LifecycleManager) UnsubscribeStatus(ch chan SystemStatus) {
	lm.listenersMu.Lock()
	defer lm.listenersMu.Unlock()

	for i, listener := range lm.statusListeners {
		if listener == ch {
			lm.statusListeners = append(lm.statusListeners[:i], lm.statusListeners[i+1:]...)
			close(ch)
			break
		}
	}
}

func (lm *LifecycleManager) Config() *config.Config { return lm.config }
func (lm *LifecycleManager) Table() *components.Table { return lm.table }
func (lm *LifecycleManager) Detector() *layout.Detector { return lm.detector }
func (lm *LifecycleManager) Sequencer() *sequencer.Sequencer { return lm.sequencer }
func (lm *LifecycleManager) Session() *engine.Session { return lm.session }
func (lm *LifecycleManager) Properties() *properties.Manager { return lm.properties }
func (lm *LifecycleManager) Actions() *actions.Registry { return lm.registry }
func (lm *LifecycleManager) Binder() *bindings.Binder { return lm.binder }
func (lm *LifecycleManager) Projects() *project.Manager { return lm.projects }
func (lm *LifecycleManager) Hub() *websocket.Hub { return lm.hub }
func (lm *LifecycleManager) AuthService() *auth.AuthService { return lm.authService }
