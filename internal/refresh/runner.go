package refresh

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/therealityreport/trr-app-sub006/internal/logging"
)

// Runner executes refresh runs. The zero value is not usable; call NewRunner.
type Runner struct {
	logger *zap.Logger
	now    func() time.Time
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger used for phase transitions.
func WithLogger(l *zap.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRunner creates a Runner.
func NewRunner(opts ...Option) *Runner {
	r := &Runner{
		logger: logging.L(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes phases with a default Runner.
func Run(ctx context.Context, phases []Phase, observer Observer) ([]PhaseState, error) {
	return NewRunner().Run(ctx, phases, observer)
}

// Run executes phases strictly in order, racing each one against its
// timeout and against ctx. Every state change is published to observer as
// a fresh Snapshot. The first timed out, failed or cancelled phase halts
// the run; the returned states are those of the last snapshot either way.
func (r *Runner) Run(ctx context.Context, phases []Phase, observer Observer) ([]PhaseState, error) {
	if err := validatePhases(phases); err != nil {
		return nil, err
	}

	st := newRunState(phases, observer, r.now)
	st.publish()

	for i, ph := range phases {
		if err := ctx.Err(); err != nil {
			r.logger.Warn("refresh: run cancelled before phase",
				zap.String("phase", ph.ID), zap.Error(context.Cause(ctx)))
			return st.states(), &CancelledError{Cause: context.Cause(ctx)}
		}
		if err := r.runPhase(ctx, st, i, ph); err != nil {
			return st.states(), err
		}
	}

	return st.states(), nil
}

type workResult struct {
	outcome Outcome
	err     error
}

func (r *Runner) runPhase(ctx context.Context, st *runState, i int, ph Phase) error {
	log := r.logger.With(zap.String("phase", ph.ID))

	st.apply(i, func(s *PhaseState) {
		now := r.now()
		s.Status = StatusRunning
		s.StartedAt = &now
	})
	log.Debug("refresh: phase started", zap.Duration("timeout", ph.Timeout))

	phaseCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan workResult, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- workResult{err: fmt.Errorf("%s panicked: %v", ph.Label, p)}
			}
		}()
		out, err := ph.Work(phaseCtx, st.reporter(i))
		done <- workResult{outcome: out, err: err}
	}()

	var expired <-chan time.Time
	if ph.Timeout > 0 {
		timer := time.NewTimer(ph.Timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case res := <-done:
		if res.err != nil {
			if ctx.Err() != nil {
				return r.cancelPhase(ctx, st, i, ph)
			}
			st.finish(i, StatusFailed, res.err.Error(), nil)
			log.Warn("refresh: phase failed", zap.Error(res.err))
			return &PhaseError{PhaseID: ph.ID, Label: ph.Label, Err: res.err}
		}
		if res.outcome.Skipped {
			msg := res.outcome.Message
			st.finish(i, StatusSkipped, "", &msg)
			log.Debug("refresh: phase skipped", zap.String("reason", msg))
			return nil
		}
		st.finish(i, StatusCompleted, "", nil)
		log.Debug("refresh: phase completed")
		return nil

	case <-expired:
		// The work keeps running until it notices phaseCtx; its result is
		// discarded because the slot is sealed below.
		cancel()
		st.finish(i, StatusTimedOut, timeoutMessage(ph.Label, ph.Timeout), nil)
		log.Warn("refresh: phase timed out", zap.Duration("timeout", ph.Timeout))
		return &TimeoutError{PhaseID: ph.ID, Label: ph.Label, Timeout: ph.Timeout}

	case <-ctx.Done():
		cancel()
		return r.cancelPhase(ctx, st, i, ph)
	}
}

func (r *Runner) cancelPhase(ctx context.Context, st *runState, i int, ph Phase) error {
	cause := context.Cause(ctx)
	st.finish(i, StatusFailed, fmt.Sprintf("%s cancelled: %v", ph.Label, cause), nil)
	r.logger.Warn("refresh: run cancelled", zap.String("phase", ph.ID), zap.Error(cause))
	return &CancelledError{PhaseID: ph.ID, Cause: cause}
}

func validatePhases(phases []Phase) error {
	seen := make(map[string]bool, len(phases))
	for i, ph := range phases {
		if ph.ID == "" {
			return fmt.Errorf("refresh: phase %d has no id", i)
		}
		if seen[ph.ID] {
			return fmt.Errorf("refresh: duplicate phase id %q", ph.ID)
		}
		seen[ph.ID] = true
		if ph.Work == nil {
			return fmt.Errorf("refresh: phase %q has no work", ph.ID)
		}
	}
	return nil
}

// runState owns the authoritative phase states of one run. Each slot is
// sealed once its phase reaches a terminal status; writes to a sealed slot
// are dropped.
type runState struct {
	mu       sync.Mutex
	slots    []PhaseState
	sealed   []bool
	seq      int
	observer Observer
	now      func() time.Time
}

func newRunState(phases []Phase, observer Observer, now func() time.Time) *runState {
	slots := make([]PhaseState, len(phases))
	for i, ph := range phases {
		slots[i] = PhaseState{
			ID:        ph.ID,
			Label:     ph.Label,
			Timeout:   ph.Timeout,
			TimeoutMs: ph.Timeout.Milliseconds(),
			Status:    StatusPending,
		}
	}
	return &runState{
		slots:    slots,
		sealed:   make([]bool, len(phases)),
		observer: observer,
		now:      now,
	}
}

// publish emits a snapshot of the current states.
func (s *runState) publish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emitLocked()
}

// emitLocked must be called with s.mu held so snapshots leave in Seq order.
func (s *runState) emitLocked() {
	s.seq++
	snap := Snapshot{Seq: s.seq, At: s.now(), Phases: make([]PhaseState, len(s.slots))}
	for i, p := range s.slots {
		snap.Phases[i] = p.clone()
	}
	if s.observer != nil {
		s.observer(snap)
	}
}

// apply mutates slot i and publishes, unless the slot is sealed.
func (s *runState) apply(i int, fn func(*PhaseState)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sealed[i] {
		return false
	}
	fn(&s.slots[i])
	if s.slots[i].Status.Terminal() {
		s.sealed[i] = true
	}
	s.emitLocked()
	return true
}

func (s *runState) finish(i int, status Status, errMsg string, message *string) {
	s.apply(i, func(p *PhaseState) {
		now := s.now()
		p.Status = status
		p.FinishedAt = &now
		p.Error = errMsg
		if message != nil {
			p.Progress.merge(ProgressUpdate{Message: message})
		}
	})
}

// reporter returns the write handle handed to phase i's work.
func (s *runState) reporter(i int) ReportFunc {
	return func(u ProgressUpdate) {
		s.apply(i, func(p *PhaseState) {
			p.Progress.merge(u)
		})
	}
}

func (s *runState) states() []PhaseState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PhaseState, len(s.slots))
	for i, p := range s.slots {
		out[i] = p.clone()
	}
	return out
}
