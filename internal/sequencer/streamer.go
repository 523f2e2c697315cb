package sequencer

import (
	"sync"
	"time"
)

type EventType string

const (
	EventRunStarted    EventType = "run_started"
	EventStepFired     EventType = "step_fired"
	EventStepSkipped   EventType = "step_skipped"
	EventStepFailed    EventType = "step_failed"
	EventStepCompleted EventType = "step_completed"
	EventRunFinished   EventType = "run_finished"
	EventEditStarted   EventType = "edit_started"
	EventEditCommitted EventType = "edit_committed"
	EventEditReverted  EventType = "edit_rolled_back"
)

type Event struct {
	Type        EventType `json:"type"`
	RunID       string    `json:"run_id,omitempty"`
	MultiID     string    `json:"multi_id"`
	StepIndex   int       `json:"step_index"`
	ComponentID string    `json:"component_id,omitempty"`
	Status      RunStatus `json:"status,omitempty"`
	Error       string    `json:"error,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// allRuns is the subscription key for events of every run.
const allRuns = ""

// EventStreamer fans sequencer events out to subscribers of one run or of
// all runs. Slow subscribers miss events rather than block the run.
type EventStreamer struct {
	mu          sync.RWMutex
	subscribers map[string][]chan Event
}

func NewEventStreamer() *EventStreamer {
	return &EventStreamer{
		subscribers: make(map[string][]chan Event),
	}
}

// Subscribe returns a channel of events for runID, or for every run and
// edit session when runID is empty.
func (s *EventStreamer) Subscribe(runID string) <-chan Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan Event, 100)
	s.subscribers[runID] = append(s.subscribers[runID], ch)
	return ch
}

func (s *EventStreamer) Unsubscribe(runID string, ch <-chan Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	subs := s.subscribers[runID]
	for i, sub := range subs {
		if sub == ch {
			s.subscribers[runID] = append(subs[:i], subs[i+1:]...)
			close(sub)
			break
		}
	}
	if len(s.subscribers[runID]) == 0 {
		delete(s.subscribers, runID)
	}
}

func (s *EventStreamer) Broadcast(event Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	targets := s.subscribers[allRuns]
	if event.RunID != allRuns {
		targets = append(targets[:len(targets):len(targets)], s.subscribers[event.RunID]...)
	}
	for _, ch := range targets {
		select {
		case ch <- event:
		default:
			// Skip if channel is full
		}
	}
}
