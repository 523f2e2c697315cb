package sequencer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/KevinKickass/OpenPanelCore/internal/metrics"
	"github.com/KevinKickass/OpenPanelCore/internal/types"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunCancelled RunStatus = "cancelled"
)

type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepWaiting   StepStatus = "waiting"
	StepActive    StepStatus = "active"
	StepDone      StepStatus = "done"
	StepSkipped   StepStatus = "skipped"
	StepFailed    StepStatus = "failed"
	StepCancelled StepStatus = "cancelled"
)

type StepInfo struct {
	Index       int        `json:"index"`
	Component   string     `json:"component"`
	Chained     bool       `json:"chained"`
	Status      StepStatus `json:"status"`
	FiredAt     *time.Time `json:"fired_at,omitempty"`
	WindowStart *time.Time `json:"window_start,omitempty"`
	WindowEnd   *time.Time `json:"window_end,omitempty"`
	Error       string     `json:"error,omitempty"`
}

type RunInfo struct {
	ID         string     `json:"id"`
	MultiID    string     `json:"multi_id"`
	Status     RunStatus  `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Steps      []StepInfo `json:"steps"`
}

func (r RunInfo) clone() RunInfo {
	r.Steps = append([]StepInfo(nil), r.Steps...)
	return r
}

type runState struct {
	info   RunInfo
	cancel context.CancelFunc
	done   chan struct{}
}

// Run starts the multi in the background and returns the run id.
//
// Steps are scheduled in list order. A chained step waits for the previous
// step to complete, then for its buffer. An unchained step waits for its
// buffer measured from the previous step's scheduling time. A step fires its
// member at startTime after scheduling and completes at endTime. Steps whose
// member or binding is missing are skipped and complete at once.
//
// Only scheduling follows the list. Members are triggered at schedule time
// plus startTime, so an unchained step with a smaller startTime can trigger
// its member before an earlier step does. Chained steps always trigger after
// the previous step completes.
func (s *Sequencer) Run(ctx context.Context, multiID string) (string, error) {
	c, ok := s.table.GetComponentByID(multiID)
	if !ok {
		return "", fmt.Errorf("multi %s: %w", multiID, types.ErrComponentNotFound)
	}
	m, ok := c.(*types.MultiComponent)
	if !ok {
		return "", fmt.Errorf("component %s is a %s, not a multi", multiID, c.Kind())
	}

	steps := append([]types.MultiStep(nil), m.Components...)
	id := ulid.Make().String()

	runCtx, cancel := context.WithCancel(context.Background())
	rs := &runState{
		info: RunInfo{
			ID:        id,
			MultiID:   multiID,
			Status:    RunRunning,
			StartedAt: time.Now(),
			Steps:     make([]StepInfo, len(steps)),
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}
	for i, step := range steps {
		rs.info.Steps[i] = StepInfo{Index: i, Component: step.Component, Chained: step.Chained, Status: StepPending}
	}

	s.mu.Lock()
	s.runs[id] = rs
	s.mu.Unlock()

	s.logger.Info("Multi run started",
		zap.String("run_id", id),
		zap.String("multi_id", multiID),
		zap.Int("steps", len(steps)))
	s.streamer.Broadcast(Event{Type: EventRunStarted, RunID: id, MultiID: multiID, StepIndex: -1, Status: RunRunning, Timestamp: time.Now()})

	go s.execute(runCtx, rs, steps)
	return id, nil
}

func (s *Sequencer) execute(ctx context.Context, rs *runState, steps []types.MultiStep) {
	defer rs.cancel()

	prevFire := time.Now()
	prevDone := make(chan struct{})
	close(prevDone)

	var wg sync.WaitGroup
	next := 0
	for ; next < len(steps); next++ {
		step := steps[next]

		if step.Chained {
			select {
			case <-prevDone:
			case <-ctx.Done():
			}
			if !sleepUntil(ctx, time.Now().Add(s.Units(step.Buffer))) {
				break
			}
		} else if !sleepUntil(ctx, prevFire.Add(s.Units(step.Buffer))) {
			break
		}

		fire := time.Now()
		prevFire = fire
		done := make(chan struct{})
		prevDone = done

		wg.Add(1)
		go func(idx int, step types.MultiStep) {
			defer wg.Done()
			defer close(done)
			s.runStep(ctx, rs, idx, step, fire)
		}(next, step)
	}

	for i := next; i < len(steps); i++ {
		s.setStep(rs, i, func(st *StepInfo) { st.Status = StepCancelled })
	}
	wg.Wait()

	status := RunCompleted
	if ctx.Err() != nil {
		status = RunCancelled
	}
	s.finish(rs, status)
}

func (s *Sequencer) runStep(ctx context.Context, rs *runState, idx int, step types.MultiStep, fire time.Time) {
	start := fire.Add(s.Units(step.StartTime))
	end := fire.Add(s.Units(step.EndTime))
	if end.Before(start) {
		end = start
	}
	s.setStep(rs, idx, func(st *StepInfo) {
		st.Status = StepWaiting
		st.FiredAt = &fire
		st.WindowStart = &start
		st.WindowEnd = &end
	})

	if !sleepUntil(ctx, start) {
		s.setStep(rs, idx, func(st *StepInfo) { st.Status = StepCancelled })
		metrics.RecordSequencerStep("cancelled")
		return
	}

	var err error
	if _, ok := s.table.GetComponentByID(step.Component); !ok {
		err = fmt.Errorf("member %s: %w", step.Component, types.ErrUnknownMemberReference)
	} else {
		err = s.actions.Trigger(ctx, step.Component)
	}

	switch {
	case errors.Is(err, types.ErrUnknownMemberReference), errors.Is(err, types.ErrMissingTriggerBinding):
		s.logger.Warn("Skipping multi step",
			zap.String("run_id", rs.info.ID),
			zap.Int("step", idx),
			zap.String("component_id", step.Component),
			zap.Error(err))
		s.stepEvent(rs, idx, step, EventStepSkipped, StepSkipped, err)
		metrics.RecordSequencerStep("skipped")
		return

	case err != nil:
		s.logger.Error("Multi step failed",
			zap.String("run_id", rs.info.ID),
			zap.Int("step", idx),
			zap.String("component_id", step.Component),
			zap.Error(err))
		s.stepEvent(rs, idx, step, EventStepFailed, StepFailed, err)
		metrics.RecordSequencerStep("failed")
		return
	}

	s.stepEvent(rs, idx, step, EventStepFired, StepActive, nil)
	sleepUntil(ctx, end)
	s.stepEvent(rs, idx, step, EventStepCompleted, StepDone, nil)
	metrics.RecordSequencerStep("done")
}

func (s *Sequencer) stepEvent(rs *runState, idx int, step types.MultiStep, typ EventType, status StepStatus, err error) {
	ev := Event{
		Type:        typ,
		RunID:       rs.info.ID,
		MultiID:     rs.info.MultiID,
		StepIndex:   idx,
		ComponentID: step.Component,
		Timestamp:   time.Now(),
	}
	if err != nil {
		ev.Error = err.Error()
	}
	s.setStep(rs, idx, func(st *StepInfo) {
		st.Status = status
		st.Error = ev.Error
	})
	s.streamer.Broadcast(ev)
}

func (s *Sequencer) setStep(rs *runState, idx int, fn func(*StepInfo)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&rs.info.Steps[idx])
}

func (s *Sequencer) finish(rs *runState, status RunStatus) {
	now := time.Now()

	s.mu.Lock()
	rs.info.Status = status
	rs.info.FinishedAt = &now
	s.finished = append(s.finished, rs.info.ID)
	for len(s.finished) > s.cfg.History {
		delete(s.runs, s.finished[0])
		s.finished = s.finished[1:]
	}
	info := rs.info.clone()
	s.mu.Unlock()
	close(rs.done)

	duration := now.Sub(info.StartedAt)
	metrics.RecordSequencerRun(string(status), duration.Seconds())
	s.logger.Info("Multi run finished",
		zap.String("run_id", info.ID),
		zap.String("multi_id", info.MultiID),
		zap.String("status", string(status)),
		zap.Duration("duration", duration))
	s.streamer.Broadcast(Event{Type: EventRunFinished, RunID: info.ID, MultiID: info.MultiID, StepIndex: -1, Status: status, Timestamp: now})
}

// Cancel stops a running multi. Steps already firing see a cancelled context.
func (s *Sequencer) Cancel(runID string) error {
	s.mu.Lock()
	rs, ok := s.runs[runID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("run %s: %w", runID, types.ErrRunNotFound)
	}
	rs.cancel()
	return nil
}

func (s *Sequencer) Status(runID string) (RunInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rs, ok := s.runs[runID]
	if !ok {
		return RunInfo{}, fmt.Errorf("run %s: %w", runID, types.ErrRunNotFound)
	}
	return rs.info.clone(), nil
}

// Runs lists known runs, newest first.
func (s *Sequencer) Runs() []RunInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]RunInfo, 0, len(s.runs))
	for _, rs := range s.runs {
		out = append(out, rs.info.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

// Wait blocks until the run finishes or ctx is done.
func (s *Sequencer) Wait(ctx context.Context, runID string) (RunInfo, error) {
	s.mu.Lock()
	rs, ok := s.runs[runID]
	s.mu.Unlock()
	if !ok {
		return RunInfo{}, fmt.Errorf("run %s: %w", runID, types.ErrRunNotFound)
	}

	select {
	case <-rs.done:
		return s.Status(runID)
	case <-ctx.Done():
		return RunInfo{}, ctx.Err()
	}
}

// InFlight reports whether step is inside its active window at now.
func (s *Sequencer) InFlight(runID string, step int, now time.Time) (bool, error) {
	info, err := s.Status(runID)
	if err != nil {
		return false, err
	}
	if step < 0 || step >= len(info.Steps) {
		return false, fmt.Errorf("step index %d out of range", step)
	}

	st := info.Steps[step]
	if st.WindowStart == nil || st.Status == StepSkipped || st.Status == StepFailed || st.Status == StepCancelled {
		return false, nil
	}
	return !now.Before(*st.WindowStart) && now.Before(*st.WindowEnd), nil
}

// sleepUntil waits for t. It returns false when ctx ends first.
func sleepUntil(ctx context.Context, t time.Time) bool {
	d := time.Until(t)
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
