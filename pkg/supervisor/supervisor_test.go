package supervisor

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rekindle/rekindle/pkg/status"
	"github.com/rekindle/rekindle/pkg/system"
)

// opLog records component operations across a transition for order
// assertions.
type opLog struct {
	mu  sync.Mutex
	ops []string
}

func (l *opLog) record(op string) {
	l.mu.Lock()
	l.ops = append(l.ops, op)
	l.mu.Unlock()
}

func (l *opLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.ops))
	copy(out, l.ops)
	return out
}

// fakeComponent is a component whose start/stop return fresh values
// reflecting the post-transition state, like real components do.
type fakeComponent struct {
	name      string
	log       *opLog
	started   bool
	failStart bool
	failStop  bool
}

func (f *fakeComponent) Start(ctx context.Context) (system.Component, error) {
	f.log.record("start " + f.name)
	if f.failStart {
		return nil, fmt.Errorf("%s: start failed", f.name)
	}
	return &fakeComponent{name: f.name, log: f.log, started: true, failStop: f.failStop}, nil
}

func (f *fakeComponent) Stop(ctx context.Context) (system.Component, error) {
	f.log.record("stop " + f.name)
	if f.failStop {
		return nil, fmt.Errorf("%s: stop failed", f.name)
	}
	return &fakeComponent{name: f.name, log: f.log, failStart: f.failStart}, nil
}

func constructorFor(log *opLog, components ...*fakeComponent) Constructor {
	return func(prev *system.System) (*system.System, error) {
		sys := system.New()
		for _, c := range components {
			c.log = log
			sys = sys.With(c.name, c)
		}
		return sys, nil
	}
}

func assertStarted(t *testing.T, sys *system.System, name string, want bool) {
	t.Helper()
	c, ok := sys.Component(name)
	if !ok {
		t.Fatalf("component %q not in system %v", name, sys.Names())
	}
	if got := c.(*fakeComponent).started; got != want {
		t.Errorf("component %q started = %v, want %v", name, got, want)
	}
}

func TestResetStartsComponentsInOrder(t *testing.T) {
	log := &opLog{}
	sup := New(nil, Options{})

	sys, err := sup.Reset(context.Background(), constructorFor(log,
		&fakeComponent{name: "db"},
		&fakeComponent{name: "cache"},
		&fakeComponent{name: "server"},
	))
	if err != nil {
		t.Fatalf("Reset() error = %v", err)
	}

	want := []string{"start db", "start cache", "start server"}
	if got := log.snapshot(); !reflect.DeepEqual(got, want) {
		t.Errorf("ops = %v, want %v", got, want)
	}
	for _, name := range []string{"db", "cache", "server"} {
		assertStarted(t, sys, name, true)
	}
	if got := sup.Register().Get(); got.State != status.StateHealthy {
		t.Errorf("published state = %s, want healthy", got.State)
	}
}

func TestSequentialResetReplacesSystem(t *testing.T) {
	log := &opLog{}
	sup := New(nil, Options{})
	ctx := context.Background()

	if _, err := sup.Reset(ctx, constructorFor(log,
		&fakeComponent{name: "a"},
		&fakeComponent{name: "b"},
	)); err != nil {
		t.Fatalf("first Reset() error = %v", err)
	}

	sys, err := sup.Reset(ctx, constructorFor(log,
		&fakeComponent{name: "a"},
		&fakeComponent{name: "c"},
	))
	if err != nil {
		t.Fatalf("second Reset() error = %v", err)
	}

	// Previous system stops in reverse order before the next starts.
	want := []string{
		"start a", "start b",
		"stop b", "stop a",
		"start a", "start c",
	}
	if got := log.snapshot(); !reflect.DeepEqual(got, want) {
		t.Errorf("ops = %v, want %v", got, want)
	}

	// No leftover state from the previous system.
	if got := sys.Names(); !reflect.DeepEqual(got, []string{"a", "c"}) {
		t.Errorf("system = %v, want [a c]", got)
	}
	assertStarted(t, sys, "a", true)
	assertStarted(t, sys, "c", true)
	if got := sup.Current().Names(); !reflect.DeepEqual(got, []string{"a", "c"}) {
		t.Errorf("Current() = %v, want [a c]", got)
	}
}

func TestConstructorFailurePreservesState(t *testing.T) {
	log := &opLog{}
	sup := New(nil, Options{})
	ctx := context.Background()

	if _, err := sup.Reset(ctx, constructorFor(log, &fakeComponent{name: "a"})); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}

	boom := errors.New("boom")
	_, err := sup.Reset(ctx, func(prev *system.System) (*system.System, error) {
		if prev.Len() != 1 {
			t.Errorf("constructor got prev with %d components, want 1", prev.Len())
		}
		return nil, boom
	})
	if !IsConstructionError(err) {
		t.Fatalf("error = %v, want construction error", err)
	}
	if !errors.Is(err, boom) {
		t.Errorf("error chain lost the cause: %v", err)
	}

	// Nothing stopped, nothing started, stored system untouched.
	if got := log.snapshot(); !reflect.DeepEqual(got, []string{"start a"}) {
		t.Errorf("ops = %v, want [start a]", got)
	}
	cur := sup.Current()
	if got := cur.Names(); !reflect.DeepEqual(got, []string{"a"}) {
		t.Errorf("Current() = %v, want [a]", got)
	}
	assertStarted(t, cur, "a", true)

	// The failure is still published.
	if got := sup.Register().Get(); got.State != status.StateUnhealthy {
		t.Errorf("published state = %s, want unhealthy", got.State)
	}
}

func TestStopFailureExcisesComponentAndAbortsReset(t *testing.T) {
	log := &opLog{}
	sup := New(nil, Options{})
	ctx := context.Background()

	if _, err := sup.Reset(ctx, constructorFor(log,
		&fakeComponent{name: "a"},
		&fakeComponent{name: "b", failStop: true},
		&fakeComponent{name: "c"},
	)); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}

	next := &fakeComponent{name: "next"}
	_, err := sup.Reset(ctx, constructorFor(log, next))
	if !IsStopError(err) {
		t.Fatalf("error = %v, want stop error", err)
	}
	var terr *TransitionError
	errors.As(err, &terr)
	if terr.Component != "b" {
		t.Errorf("failing component = %q, want b", terr.Component)
	}

	// The failing component is excised; everything else survives: c in
	// stopped form, a untouched in its started form. The next system is
	// never started.
	cur := sup.Current()
	if got := cur.Names(); !reflect.DeepEqual(got, []string{"a", "c"}) {
		t.Errorf("Current() = %v, want [a c]", got)
	}
	assertStarted(t, cur, "a", true)
	assertStarted(t, cur, "c", false)

	for _, op := range log.snapshot() {
		if op == "start next" {
			t.Error("next system was started after a stop failure")
		}
	}

	got := sup.Register().Get()
	if got.State != status.StateUnhealthy || got.FailedComponent != "b" {
		t.Errorf("published outcome = %+v, want unhealthy with failed b", got)
	}
}

func TestStartFailureRollsBack(t *testing.T) {
	// Spec scenario: A starts fine, B's start fails. Rollback stops A;
	// the stored system is empty and the propagated error is B's start
	// error.
	log := &opLog{}
	sup := New(nil, Options{})

	_, err := sup.Reset(context.Background(), constructorFor(log,
		&fakeComponent{name: "a"},
		&fakeComponent{name: "b", failStart: true},
	))
	if !IsStartError(err) {
		t.Fatalf("error = %v, want start error", err)
	}
	var terr *TransitionError
	errors.As(err, &terr)
	if terr.Component != "b" {
		t.Errorf("failing component = %q, want b", terr.Component)
	}

	want := []string{"start a", "start b", "stop a"}
	if got := log.snapshot(); !reflect.DeepEqual(got, want) {
		t.Errorf("ops = %v, want %v", got, want)
	}

	if got := sup.Current().Len(); got != 0 {
		t.Errorf("Current() has %d components, want 0", got)
	}
	got := sup.Register().Get()
	if got.State != status.StateUnhealthy || got.FailedComponent != "b" {
		t.Errorf("published outcome = %+v, want unhealthy with failed b", got)
	}
}

func TestRollbackSuccessStoresEmptySystem(t *testing.T) {
	// Two components start before the third fails. A clean rollback
	// stops both in reverse order and the stored system is empty, not
	// the stopped pair.
	log := &opLog{}
	sup := New(nil, Options{})

	_, err := sup.Reset(context.Background(), constructorFor(log,
		&fakeComponent{name: "a"},
		&fakeComponent{name: "b"},
		&fakeComponent{name: "c", failStart: true},
	))
	if !IsStartError(err) {
		t.Fatalf("error = %v, want start error", err)
	}

	want := []string{"start a", "start b", "start c", "stop b", "stop a"}
	if got := log.snapshot(); !reflect.DeepEqual(got, want) {
		t.Errorf("ops = %v, want %v", got, want)
	}
	if got := sup.Current().Len(); got != 0 {
		t.Errorf("Current() has %d components, want 0", got)
	}
	got := sup.Register().Get()
	if got.State != status.StateUnhealthy || len(got.System.Names()) != 0 {
		t.Errorf("published outcome = %+v, want unhealthy with empty system", got)
	}
}

func TestStartFailureWithFailingRollback(t *testing.T) {
	// a and b start, c's start fails; rolling back, b's stop also
	// fails. Rollback stops in reverse, so b fails first and is excised
	// while a keeps its started form. The propagated error stays the
	// original start error.
	log := &opLog{}
	sup := New(nil, Options{})

	_, err := sup.Reset(context.Background(), constructorFor(log,
		&fakeComponent{name: "a"},
		&fakeComponent{name: "b", failStop: true},
		&fakeComponent{name: "c", failStart: true},
	))
	if !IsStartError(err) {
		t.Fatalf("error = %v, want start error, not rollback error", err)
	}

	want := []string{"start a", "start b", "start c", "stop b"}
	if got := log.snapshot(); !reflect.DeepEqual(got, want) {
		t.Errorf("ops = %v, want %v", got, want)
	}

	cur := sup.Current()
	if got := cur.Names(); !reflect.DeepEqual(got, []string{"a"}) {
		t.Errorf("Current() = %v, want [a]", got)
	}
	assertStarted(t, cur, "a", true)
}

func TestStopOnNilSystemIsNoop(t *testing.T) {
	sup := New(nil, Options{})

	sys, err := sup.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if sys.Len() != 0 {
		t.Errorf("Stop() system has %d components, want 0", sys.Len())
	}
	if got := sup.Register().Get(); got.State != status.StateHealthy {
		t.Errorf("published state = %s, want healthy", got.State)
	}
}

func TestStopReverseOrderWithFailure(t *testing.T) {
	log := &opLog{}
	sup := New(nil, Options{})
	ctx := context.Background()

	if _, err := sup.Reset(ctx, constructorFor(log,
		&fakeComponent{name: "a"},
		&fakeComponent{name: "b", failStop: true},
	)); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}

	_, err := sup.Stop(ctx)
	if !IsStopError(err) {
		t.Fatalf("error = %v, want stop error", err)
	}

	// b fails first in reverse order and is excised; a is never
	// reached and keeps its started form.
	want := []string{"start a", "start b", "stop b"}
	if got := log.snapshot(); !reflect.DeepEqual(got, want) {
		t.Errorf("ops = %v, want %v", got, want)
	}
	cur := sup.Current()
	if got := cur.Names(); !reflect.DeepEqual(got, []string{"a"}) {
		t.Errorf("Current() = %v, want [a]", got)
	}
	assertStarted(t, cur, "a", true)
}

// gateComponent fails if two transitions ever run its hooks
// concurrently.
type gateComponent struct {
	inflight *int32
}

func (g *gateComponent) hold() error {
	if atomic.AddInt32(g.inflight, 1) != 1 {
		return errors.New("concurrent transition detected")
	}
	time.Sleep(5 * time.Millisecond)
	atomic.AddInt32(g.inflight, -1)
	return nil
}

func (g *gateComponent) Start(ctx context.Context) (system.Component, error) {
	if err := g.hold(); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *gateComponent) Stop(ctx context.Context) (system.Component, error) {
	if err := g.hold(); err != nil {
		return nil, err
	}
	return g, nil
}

func TestConcurrentResetsAreSerialized(t *testing.T) {
	sup := New(nil, Options{})
	var inflight int32

	build := func(prev *system.System) (*system.System, error) {
		return system.New().
			With("a", &gateComponent{inflight: &inflight}).
			With("b", &gateComponent{inflight: &inflight}), nil
	}

	const resets = 8
	var wg sync.WaitGroup
	errs := make([]error, resets)
	for i := 0; i < resets; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = sup.Reset(context.Background(), build)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("Reset %d error = %v", i, err)
		}
	}
	if got := sup.Current().Len(); got != 2 {
		t.Errorf("Current() has %d components, want 2", got)
	}
}

func TestResetReleasesStatusWaiters(t *testing.T) {
	sup := New(nil, Options{})
	reg := sup.Register()

	got := make(chan status.Outcome)
	go func() {
		o, err := reg.AwaitChange(context.Background())
		if err != nil {
			t.Errorf("AwaitChange() error = %v", err)
		}
		got <- o
	}()
	time.Sleep(10 * time.Millisecond)

	if _, err := sup.Reset(context.Background(), constructorFor(&opLog{}, &fakeComponent{name: "a"})); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}

	select {
	case o := <-got:
		if o.State != status.StateHealthy || o.Transition == "" {
			t.Errorf("observed outcome = %+v, want stamped healthy", o)
		}
	case <-time.After(time.Second):
		t.Fatal("status waiter was not released by the reset")
	}
}

// captureRecorder collects history records.
type captureRecorder struct {
	mu      sync.Mutex
	records []Record
}

func (r *captureRecorder) RecordTransition(ctx context.Context, rec Record) error {
	r.mu.Lock()
	r.records = append(r.records, rec)
	r.mu.Unlock()
	return nil
}

func TestTransitionsAreRecorded(t *testing.T) {
	rec := &captureRecorder{}
	sup := New(nil, Options{Recorder: rec})
	ctx := context.Background()

	if _, err := sup.Reset(ctx, constructorFor(&opLog{}, &fakeComponent{name: "a"})); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if _, err := sup.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	if len(rec.records) != 2 {
		t.Fatalf("got %d records, want 2", len(rec.records))
	}
	if rec.records[0].Op != OpReset || rec.records[1].Op != OpStop {
		t.Errorf("record ops = %s, %s, want reset, stop", rec.records[0].Op, rec.records[1].Op)
	}
	for _, r := range rec.records {
		if r.ID == "" || r.Outcome.State != status.StateHealthy {
			t.Errorf("record = %+v, want identified healthy outcome", r)
		}
		if r.FinishedAt.Before(r.StartedAt) {
			t.Errorf("record finished before it started: %+v", r)
		}
	}
}

func TestTransitionErrorPredicates(t *testing.T) {
	cause := errors.New("cause")
	cases := []struct {
		err  error
		pred func(error) bool
	}{
		{newConstructionError(cause), IsConstructionError},
		{newStopError(nil, "a", cause), IsStopError},
		{newStartError(nil, "a", cause), IsStartError},
		{newRollbackError(nil, "a", cause), IsRollbackError},
	}
	for _, c := range cases {
		if !c.pred(c.err) {
			t.Errorf("predicate rejected %v", c.err)
		}
		if !errors.Is(c.err, cause) {
			t.Errorf("%v does not unwrap to its cause", c.err)
		}
	}
	if IsStartError(newStopError(nil, "a", cause)) {
		t.Error("IsStartError accepted a stop error")
	}
	if IsStopError(errors.New("plain")) {
		t.Error("IsStopError accepted a plain error")
	}
}
