package sequencer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/KevinKickass/OpenPanelCore/internal/actions"
	"github.com/KevinKickass/OpenPanelCore/internal/components"
	"github.com/KevinKickass/OpenPanelCore/internal/types"
	"github.com/go-playground/assert/v2"
	"go.uber.org/zap"
)

const unit = 10 * time.Millisecond

type firing struct {
	id string
	at time.Time
}

type recorder struct {
	mu    sync.Mutex
	fired []firing
}

func (r *recorder) binding(id string) actions.Binding {
	return actions.Binding{Kind: types.TypeTrigger, Trigger: func(ctx context.Context) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.fired = append(r.fired, firing{id: id, at: time.Now()})
		return nil
	}}
}

func (r *recorder) order() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.fired))
	for i, f := range r.fired {
		out[i] = f.id
	}
	return out
}

type fixture struct {
	table *components.Table
	reg   *actions.Registry
	seq   *Sequencer
	rec   *recorder
}

func newFixture(t *testing.T, ids ...string) *fixture {
	t.Helper()
	f := &fixture{
		table: components.NewTable(zap.NewNop()),
		reg:   actions.NewRegistry(zap.NewNop()),
		rec:   &recorder{},
	}
	for _, id := range ids {
		_, err := f.table.AddComponent(&types.TriggerComponent{Base: types.Base{ID: id, Type: types.TypeTrigger}})
		assert.Equal(t, err, nil)
		f.reg.Register(id, f.rec.binding(id))
	}
	f.seq = New(f.table, f.reg, NewEventStreamer(), Config{TimeUnit: unit}, zap.NewNop())
	return f
}

func (f *fixture) addMulti(t *testing.T, id string, steps ...types.MultiStep) {
	t.Helper()
	for _, s := range steps {
		f.table.Mutate(s.Component, func(c types.Component) (types.Component, error) {
			c.Common().IsMulti = types.MultiTrue
			return c, nil
		})
	}
	_, err := f.table.AddComponent(&types.MultiComponent{Base: types.Base{ID: id, Type: types.TypeMulti}, Components: steps})
	assert.Equal(t, err, nil)
}

func (f *fixture) state(id string) types.MultiState {
	c, _ := f.table.GetComponentByID(id)
	return c.Common().IsMulti
}

func (f *fixture) run(t *testing.T, multiID string) RunInfo {
	t.Helper()
	id, err := f.seq.Run(context.Background(), multiID)
	assert.Equal(t, err, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	info, err := f.seq.Wait(ctx, id)
	assert.Equal(t, err, nil)
	return info
}

func TestChainedStepsFireInOrder(t *testing.T) {
	f := newFixture(t, "a", "b", "c")
	f.addMulti(t, "m",
		types.MultiStep{Component: "a", Buffer: 1, Chained: true},
		types.MultiStep{Component: "b", Buffer: 2, Chained: true},
		types.MultiStep{Component: "c", Buffer: 3, Chained: true},
	)

	start := time.Now()
	info := f.run(t, "m")

	assert.Equal(t, info.Status, RunCompleted)
	assert.Equal(t, f.rec.order(), []string{"a", "b", "c"})

	f.rec.mu.Lock()
	defer f.rec.mu.Unlock()
	assert.Equal(t, f.rec.fired[0].at.Sub(start) >= 1*unit, true)
	assert.Equal(t, f.rec.fired[1].at.Sub(f.rec.fired[0].at) >= 2*unit, true)
	assert.Equal(t, f.rec.fired[2].at.Sub(f.rec.fired[1].at) >= 3*unit, true)
}

func TestChainedWaitsForWindowEnd(t *testing.T) {
	f := newFixture(t, "a", "b")
	f.addMulti(t, "m",
		types.MultiStep{Component: "a", EndTime: 5, Chained: true},
		types.MultiStep{Component: "b", Chained: true},
	)

	f.run(t, "m")

	f.rec.mu.Lock()
	defer f.rec.mu.Unlock()
	assert.Equal(t, len(f.rec.fired), 2)
	assert.Equal(t, f.rec.fired[1].at.Sub(f.rec.fired[0].at) >= 5*unit, true)
}

func TestUnchainedStepsOverlap(t *testing.T) {
	f := newFixture(t, "a", "b")
	f.addMulti(t, "m",
		types.MultiStep{Component: "a", EndTime: 50},
		types.MultiStep{Component: "b", Buffer: 1},
	)

	start := time.Now()
	f.run(t, "m")

	f.rec.mu.Lock()
	defer f.rec.mu.Unlock()
	assert.Equal(t, len(f.rec.fired), 2)
	// b does not wait for a's window to close
	assert.Equal(t, f.rec.fired[1].at.Sub(start) < 40*unit, true)
}

func TestUnchainedStartTimeDecidesTriggerOrder(t *testing.T) {
	f := newFixture(t, "a", "b")
	f.addMulti(t, "m",
		types.MultiStep{Component: "a", StartTime: 5},
		types.MultiStep{Component: "b"},
	)

	info := f.run(t, "m")

	// scheduled in list order, triggered by startTime
	assert.Equal(t, info.Steps[0].FiredAt.After(*info.Steps[1].FiredAt), false)
	assert.Equal(t, f.rec.order(), []string{"b", "a"})

	f.rec.mu.Lock()
	defer f.rec.mu.Unlock()
	assert.Equal(t, f.rec.fired[1].at.Sub(*info.Steps[0].FiredAt) >= 5*unit, true)
}

func TestMissingMembersAreSkipped(t *testing.T) {
	f := newFixture(t, "a", "c", "gone")
	_, err := f.table.AddComponent(&types.TriggerComponent{Base: types.Base{ID: "unbound", Type: types.TypeTrigger}})
	assert.Equal(t, err, nil)

	f.addMulti(t, "m",
		types.MultiStep{Component: "a", Chained: true},
		types.MultiStep{Component: "gone", Chained: true},
		types.MultiStep{Component: "unbound", Chained: true},
		types.MultiStep{Component: "c", Chained: true},
	)
	assert.Equal(t, f.table.RemoveComponent("gone"), nil)

	info := f.run(t, "m")
	assert.Equal(t, info.Status, RunCompleted)
	assert.Equal(t, f.rec.order(), []string{"a", "c"})
	assert.Equal(t, info.Steps[1].Status, StepSkipped)
	assert.Equal(t, info.Steps[2].Status, StepSkipped)
	assert.Equal(t, info.Steps[3].Status, StepDone)
}

func TestCancelRun(t *testing.T) {
	f := newFixture(t, "a", "b")
	f.addMulti(t, "m",
		types.MultiStep{Component: "a", Chained: true},
		types.MultiStep{Component: "b", Buffer: 1000, Chained: true},
	)

	id, err := f.seq.Run(context.Background(), "m")
	assert.Equal(t, err, nil)
	time.Sleep(5 * unit)
	assert.Equal(t, f.seq.Cancel(id), nil)

	info, err := f.seq.Wait(context.Background(), id)
	assert.Equal(t, err, nil)
	assert.Equal(t, info.Status, RunCancelled)
	assert.Equal(t, info.Steps[1].Status, StepCancelled)
	assert.Equal(t, f.rec.order(), []string{"a"})

	assert.Equal(t, errors.Is(f.seq.Cancel("nope"), types.ErrRunNotFound), true)
}

func TestInFlight(t *testing.T) {
	f := newFixture(t, "a")
	f.addMulti(t, "m", types.MultiStep{Component: "a", StartTime: 0, EndTime: 20})

	info := f.run(t, "m")
	st := info.Steps[0]

	in, err := f.seq.InFlight(info.ID, 0, st.WindowStart.Add(unit))
	assert.Equal(t, err, nil)
	assert.Equal(t, in, true)

	in, _ = f.seq.InFlight(info.ID, 0, st.WindowEnd.Add(unit))
	assert.Equal(t, in, false)

	_, err = f.seq.InFlight(info.ID, 3, time.Now())
	assert.NotEqual(t, err, nil)
}

func TestRunEvents(t *testing.T) {
	f := newFixture(t, "a")
	f.addMulti(t, "m", types.MultiStep{Component: "a"})

	events := f.seq.Streamer().Subscribe("")
	defer f.seq.Streamer().Unsubscribe("", events)

	f.run(t, "m")

	var got []EventType
	for len(got) < 4 {
		select {
		case ev := <-events:
			got = append(got, ev.Type)
		case <-time.After(time.Second):
			t.Fatalf("missing events, got %v", got)
		}
	}
	assert.Equal(t, got, []EventType{EventRunStarted, EventStepFired, EventStepCompleted, EventRunFinished})
}

func TestCommitResolvesPending(t *testing.T) {
	f := newFixture(t, "a", "b", "c")
	f.addMulti(t, "m", types.MultiStep{Component: "a"}, types.MultiStep{Component: "b"})

	_, err := f.seq.BeginEdit("m")
	assert.Equal(t, err, nil)

	assert.Equal(t, f.seq.AddMember(types.MultiStep{Component: "c", Buffer: 2}), nil)
	assert.Equal(t, f.seq.RemoveMember("a"), nil)
	assert.Equal(t, f.state("c"), types.MultiPendingSave)
	assert.Equal(t, f.state("a"), types.MultiPendingDelete)

	// committed steps are untouched until commit
	m, _ := f.table.GetComponentByID("m")
	assert.Equal(t, m.(*types.MultiComponent).Members(), []string{"a", "b"})

	assert.Equal(t, f.seq.Commit(context.Background()), nil)
	assert.Equal(t, f.state("a"), types.MultiFalse)
	assert.Equal(t, f.state("b"), types.MultiTrue)
	assert.Equal(t, f.state("c"), types.MultiTrue)

	m, _ = f.table.GetComponentByID("m")
	assert.Equal(t, m.(*types.MultiComponent).Members(), []string{"b", "c"})

	_, err = f.seq.Draft()
	assert.Equal(t, errors.Is(err, types.ErrNoEditSession), true)
}

func TestRollbackRestores(t *testing.T) {
	f := newFixture(t, "a", "b", "c")
	f.addMulti(t, "m", types.MultiStep{Component: "a"}, types.MultiStep{Component: "b"})

	before := map[string]types.MultiState{"a": f.state("a"), "b": f.state("b"), "c": f.state("c")}

	_, err := f.seq.BeginEdit("m")
	assert.Equal(t, err, nil)
	assert.Equal(t, f.seq.AddMember(types.MultiStep{Component: "c"}), nil)
	assert.Equal(t, f.seq.RemoveMember("a"), nil)
	assert.Equal(t, f.seq.MoveStep(1, 0), nil)

	f.table.SetPreSubmit(func(ctx context.Context) error { return nil })
	assert.Equal(t, f.seq.Rollback(), nil)

	for id, st := range before {
		assert.Equal(t, f.state(id), st)
	}
	m, _ := f.table.GetComponentByID("m")
	assert.Equal(t, m.(*types.MultiComponent).Members(), []string{"a", "b"})
	assert.Equal(t, f.table.HasPreSubmit(), false)

	for _, c := range f.table.List() {
		assert.Equal(t, c.Common().IsMulti.IsPending(), false)
	}
}

func TestSingleEditSession(t *testing.T) {
	f := newFixture(t, "a")
	f.addMulti(t, "m")
	f.addMulti(t, "n")

	_, err := f.seq.BeginEdit("m")
	assert.Equal(t, err, nil)
	_, err = f.seq.BeginEdit("n")
	assert.Equal(t, errors.Is(err, types.ErrEditSessionOpen), true)

	assert.Equal(t, f.seq.Rollback(), nil)
	assert.Equal(t, errors.Is(f.seq.Rollback(), types.ErrNoEditSession), true)
}

func TestAddMemberValidation(t *testing.T) {
	f := newFixture(t, "a")
	f.addMulti(t, "m")
	f.table.AddComponent(&types.NumberComponent{Base: types.Base{ID: "n", Type: types.TypeNumber}})

	_, err := f.seq.BeginEdit("m")
	assert.Equal(t, err, nil)

	assert.Equal(t, errors.Is(f.seq.AddMember(types.MultiStep{Component: "n"}), types.ErrNotMultiOption), true)
	assert.Equal(t, errors.Is(f.seq.AddMember(types.MultiStep{Component: "zzz"}), types.ErrUnknownMemberReference), true)
	assert.Equal(t, f.seq.AddMember(types.MultiStep{Component: "a"}), nil)
	assert.NotEqual(t, f.seq.AddMember(types.MultiStep{Component: "a"}), nil)
}

func TestCommitWaitsForPreSubmit(t *testing.T) {
	f := newFixture(t, "a")
	f.addMulti(t, "m")

	_, err := f.seq.BeginEdit("m")
	assert.Equal(t, err, nil)
	assert.Equal(t, f.seq.AddMember(types.MultiStep{Component: "a"}), nil)

	f.table.SetPreSubmit(func(ctx context.Context) error { return errors.New("upload failed") })
	assert.NotEqual(t, f.seq.Commit(context.Background()), nil)

	// session stays open with pending state intact
	assert.Equal(t, f.state("a"), types.MultiPendingSave)
	_, err = f.seq.Draft()
	assert.Equal(t, err, nil)

	assert.Equal(t, f.seq.Commit(context.Background()), nil)
	assert.Equal(t, f.state("a"), types.MultiTrue)
}

func TestBeginCreateRollbackRemovesMulti(t *testing.T) {
	f := newFixture(t, "a")

	d, err := f.seq.BeginCreate(&types.MultiComponent{
		Base:       types.Base{GuiName: "Show intro"},
		Components: []types.MultiStep{{Component: "a", Chained: true}},
	})
	assert.Equal(t, err, nil)
	assert.Equal(t, d.Creating, true)
	assert.Equal(t, len(d.Steps), 1)
	assert.Equal(t, f.state("a"), types.MultiPendingSave)

	assert.Equal(t, f.seq.Rollback(), nil)
	_, ok := f.table.GetComponentByID(d.MultiID)
	assert.Equal(t, ok, false)
	assert.Equal(t, f.state("a"), types.MultiFalse)
}
