package supervisor

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rekindle/rekindle/pkg/status"
	"github.com/rekindle/rekindle/pkg/system"
	"github.com/rekindle/rekindle/pkg/telemetry"
)

// Constructor builds the next, not-yet-started system from the
// previous one. On the first transition prev is nil. The constructor
// owns the ordering policy of the system it returns and must not start
// anything itself.
type Constructor func(prev *system.System) (*system.System, error)

// Op identifies the kind of transition.
type Op string

const (
	// OpReset replaces the current system with a freshly built one.
	OpReset Op = "reset"

	// OpStop tears the current system down.
	OpStop Op = "stop"
)

// Record is one terminal transition outcome handed to a Recorder.
type Record struct {
	ID         string
	Op         Op
	Outcome    status.Outcome
	StartedAt  time.Time
	FinishedAt time.Time
}

// Recorder persists terminal transition outcomes. Write failures are
// logged and counted but never affect the transition result.
type Recorder interface {
	RecordTransition(ctx context.Context, rec Record) error
}

// Options configures optional supervisor collaborators. Nil fields get
// quiet defaults.
type Options struct {
	Logger   *telemetry.Logger
	Metrics  *telemetry.Metrics
	Tracer   *telemetry.Tracer
	Recorder Recorder
}

// Supervisor owns the current system and serializes all lifecycle
// transitions against it. The transaction mutex is held for the full
// duration of a transition, construct through every rollback branch,
// so concurrent Reset and Stop calls wait for exclusive access instead
// of interleaving stop/start sequences against the same resources.
//
// The stored system always reflects the last terminal state a
// transition reached: the empty system after a clean rollback, or the
// captured partial system with the failing component excised, never a
// torn intermediate.
type Supervisor struct {
	mu       sync.Mutex
	current  *system.System
	register *status.Register
	logger   *telemetry.Logger
	metrics  *telemetry.Metrics
	tracer   *telemetry.Tracer
	recorder Recorder
}

// New returns a supervisor publishing outcomes to the given register.
// A nil register gets a fresh one, reachable via Register.
func New(register *status.Register, opts Options) *Supervisor {
	if register == nil {
		register = status.NewRegister()
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.Default()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics, _ = telemetry.NewMetrics(telemetry.MetricsConfig{})
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer, _ = telemetry.NewTracer(telemetry.TracingConfig{}, "rekindle", "", "")
	}
	return &Supervisor{
		register: register,
		logger:   logger.NewSubsystemLogger("supervisor"),
		metrics:  metrics,
		tracer:   tracer,
		recorder: opts.Recorder,
	}
}

// Register returns the status register this supervisor publishes to.
func (s *Supervisor) Register() *status.Register {
	return s.register
}

// Current returns the stored system. It shares the transaction mutex,
// so a call during an in-flight transition waits for the terminal
// state rather than observing an intermediate snapshot.
func (s *Supervisor) Current() *system.System {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Reset atomically replaces the current system with one built by the
// constructor: construct, stop the previous system in reverse order,
// start the next one in forward order. On any failure the best-known
// partial state is stored and published, and the error propagates to
// the caller; a start failure additionally triggers a rollback stop of
// the components started so far.
func (s *Supervisor) Reset(ctx context.Context, build Constructor) (*system.System, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.New().String()
	startedAt := time.Now()
	logger := s.logger.WithTransitionID(id)
	ctx, span := s.tracer.StartTransitionSpan(ctx, string(OpReset), id)
	defer span.End()
	s.metrics.TransitionStarted(string(OpReset))

	logger.Info("reset requested")

	next, err := build(s.current)
	if err != nil {
		// Constructor failures leave the stored system untouched; the
		// unchanged current system is published as the partial state.
		terr := newConstructionError(err)
		terr.Partial = s.current
		logger.WithError(err).Error("constructor failed")
		s.finish(ctx, OpReset, id, startedAt, status.Unhealthy(s.current, "", terr), span, terr)
		return nil, terr
	}
	logger.WithField("components", next.Names()).Debug("next system constructed")

	if s.current.Len() > 0 {
		stopped, failed, err := s.stopAll(ctx, s.current, PhaseStop, logger)
		if err != nil {
			// The failing component's state is unknown, so it is
			// excised from the stored system rather than kept stale.
			// The next system is not started.
			terr := newStopError(stopped, failed, err)
			s.current = stopped
			s.finish(ctx, OpReset, id, startedAt, status.Unhealthy(stopped, failed, terr), span, terr)
			return nil, terr
		}
		s.current = stopped
	}

	// Intermediate snapshot: the constructed, unstarted system becomes
	// current before starting, so a start failure degrades from here.
	s.current = next

	partial := system.New()
	for _, named := range next.Forward() {
		c, err := s.startComponent(ctx, named, logger)
		if err != nil {
			terr := newStartError(partial, named.Name, err)
			s.current = partial
			s.publish(id, status.Unhealthy(partial, named.Name, terr))
			s.rollback(ctx, logger)
			s.finish(ctx, OpReset, id, startedAt, status.Unhealthy(s.current, named.Name, terr), span, terr)
			return nil, terr
		}
		partial = partial.With(named.Name, c)
	}

	s.current = partial
	s.finish(ctx, OpReset, id, startedAt, status.Healthy(partial), span, nil)
	logger.WithField("components", partial.Names()).Info("reset complete")
	return partial, nil
}

// Stop tears down the current system in reverse order, with the same
// partial-failure rule as a reset's stop phase. Stopping a nil system
// is a no-op success.
func (s *Supervisor) Stop(ctx context.Context) (*system.System, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.New().String()
	startedAt := time.Now()
	logger := s.logger.WithTransitionID(id)
	ctx, span := s.tracer.StartTransitionSpan(ctx, string(OpStop), id)
	defer span.End()
	s.metrics.TransitionStarted(string(OpStop))

	logger.Info("stop requested")

	stopped, failed, err := s.stopAll(ctx, s.current, PhaseStop, logger)
	s.current = stopped
	if err != nil {
		terr := newStopError(stopped, failed, err)
		s.finish(ctx, OpStop, id, startedAt, status.Unhealthy(stopped, failed, terr), span, terr)
		return nil, terr
	}
	s.finish(ctx, OpStop, id, startedAt, status.Healthy(stopped), span, nil)
	logger.Info("stop complete")
	return stopped, nil
}

// rollback stops the partially started system after a start failure
// and stores the result. Its outcome determines the stored state but
// never the reported cause: the original start error is what
// propagates, and the caller publishes the post-rollback outcome.
func (s *Supervisor) rollback(ctx context.Context, logger *telemetry.Logger) {
	stopped, failed, err := s.stopAll(ctx, s.current, PhaseRollback, logger)
	if err != nil {
		s.current = stopped
		rberr := newRollbackError(stopped, failed, err)
		logger.WithError(rberr).WithComponent(failed).Error("rollback stop failed")
		return
	}
	// A fully stopped rollback leaves nothing of the aborted system
	// behind: the stored system is empty, not a collection of stopped
	// components.
	s.current = system.New()
	logger.Debug("rollback stop complete")
}

// stopAll stops every component of sys in reverse order. It returns
// the resulting system: stopped components in their stopped form and,
// on failure, the failing component's key removed while components not
// yet reached keep their previous form.
func (s *Supervisor) stopAll(ctx context.Context, sys *system.System, phase Phase, logger *telemetry.Logger) (*system.System, string, error) {
	result := sys
	if result == nil {
		result = system.New()
	}
	for _, named := range sys.Reverse() {
		c, err := s.stopComponent(ctx, named, phase, logger)
		if err != nil {
			return result.Without(named.Name), named.Name, err
		}
		result = result.With(named.Name, c)
	}
	return result, "", nil
}

func (s *Supervisor) startComponent(ctx context.Context, named system.Named, logger *telemetry.Logger) (system.Component, error) {
	ctx, span := s.tracer.StartComponentSpan(ctx, named.Name, "start")
	defer span.End()

	logger.WithComponent(named.Name).Debug("starting component")
	c, err := named.Component.Start(ctx)
	if err != nil {
		telemetry.RecordError(span, err)
		s.metrics.ComponentOperation("start", "failure")
		logger.WithComponent(named.Name).WithError(err).Error("component start failed")
		return nil, err
	}
	telemetry.RecordSuccess(span)
	s.metrics.ComponentOperation("start", "success")
	return c, nil
}

func (s *Supervisor) stopComponent(ctx context.Context, named system.Named, phase Phase, logger *telemetry.Logger) (system.Component, error) {
	ctx, span := s.tracer.StartComponentSpan(ctx, named.Name, "stop")
	defer span.End()

	logger.WithComponent(named.Name).Debug("stopping component")
	c, err := named.Component.Stop(ctx)
	if err != nil {
		telemetry.RecordError(span, err)
		s.metrics.ComponentOperation("stop", "failure")
		logger.WithComponent(named.Name).WithError(err).WithField("phase", string(phase)).Error("component stop failed")
		return nil, err
	}
	telemetry.RecordSuccess(span)
	s.metrics.ComponentOperation("stop", "success")
	return c, nil
}

// publish stamps and sets an outcome on the register.
func (s *Supervisor) publish(id string, o status.Outcome) {
	o.Transition = id
	s.register.Set(o)
}

// finish publishes the terminal outcome and emits telemetry and the
// optional history record for the transition.
func (s *Supervisor) finish(ctx context.Context, op Op, id string, startedAt time.Time, o status.Outcome, span telemetry.Span, terr error) {
	o.Transition = id
	s.register.Set(o)

	result := "success"
	if terr != nil {
		result = "failure"
		telemetry.RecordError(span, terr)
	} else {
		telemetry.RecordSuccess(span)
	}
	finishedAt := time.Now()
	s.metrics.TransitionCompleted(string(op), result, finishedAt.Sub(startedAt))
	s.metrics.SetRunningComponents(o.System.Len())

	if s.recorder != nil {
		rec := Record{ID: id, Op: op, Outcome: o, StartedAt: startedAt, FinishedAt: finishedAt}
		if err := s.recorder.RecordTransition(ctx, rec); err != nil {
			s.metrics.HistoryWriteFailed()
			s.logger.WithTransitionID(id).WithError(err).Warn("history record failed")
		}
	}
}
