package sequencer

import (
	"context"
	"sync"
	"time"

	"github.com/KevinKickass/OpenPanelCore/internal/components"
	"go.uber.org/zap"
)

// Triggerer invokes the registered callable of a component.
// *actions.Registry implements it.
type Triggerer interface {
	Trigger(ctx context.Context, id string) error
}

type Config struct {
	// TimeUnit is the duration of one unit of buffer, startTime and endTime.
	TimeUnit time.Duration
	// History is the number of finished runs kept for Status.
	History int
}

// Sequencer runs Multi composites and owns the Multi edit session.
type Sequencer struct {
	table    *components.Table
	actions  Triggerer
	streamer *EventStreamer
	cfg      Config
	logger   *zap.Logger

	mu       sync.Mutex
	edit     *editSession
	runs     map[string]*runState
	finished []string
}

func New(table *components.Table, actions Triggerer, streamer *EventStreamer, cfg Config, logger *zap.Logger) *Sequencer {
	if cfg.TimeUnit <= 0 {
		cfg.TimeUnit = time.Second
	}
	if cfg.History <= 0 {
		cfg.History = 100
	}
	if streamer == nil {
		streamer = NewEventStreamer()
	}
	return &Sequencer{
		table:    table,
		actions:  actions,
		streamer: streamer,
		cfg:      cfg,
		logger:   logger,
		runs:     make(map[string]*runState),
	}
}

func (s *Sequencer) Streamer() *EventStreamer { return s.streamer }

// Units converts a step timing value to a duration.
func (s *Sequencer) Units(v float64) time.Duration {
	if v <= 0 {
		return 0
	}
	return time.Duration(v * float64(s.cfg.TimeUnit))
}
