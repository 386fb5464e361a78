// Package service runs refresh profiles in the background and keeps their
// snapshots, status boards and outcomes in a run store.
package service

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/therealityreport/trr-app-sub006/internal/config"
	"github.com/therealityreport/trr-app-sub006/internal/logging"
	"github.com/therealityreport/trr-app-sub006/internal/refresh"
	"github.com/therealityreport/trr-app-sub006/internal/runstore"
)

var (
	ErrUnknownProfile = errors.New("unknown profile")
	ErrEmptyTarget    = errors.New("target is required")
	ErrClosed         = errors.New("service is shutting down")
	ErrNotRunning     = errors.New("run is not running")
)

// PhaseBuilder turns a profile into executable phases for one target.
// *backend.Client is the production implementation.
type PhaseBuilder interface {
	Phases(profile config.Profile, target string) []refresh.Phase
}

// Options configures a Service.
type Options struct {
	Profiles    map[string]config.Profile
	Builder     PhaseBuilder
	Store       *runstore.Store
	Logger      *zap.Logger
	MaxLogLines int
}

// ProfileInfo describes one configured profile.
type ProfileInfo struct {
	Name   string   `json:"name"`
	Label  string   `json:"label"`
	Phases []string `json:"phases"`
}

// Service owns the background refresh runs.
type Service struct {
	profiles map[string]config.Profile
	builder  PhaseBuilder
	store    *runstore.Store
	logger   *zap.Logger
	runner   *refresh.Runner
	maxLines int

	mu     sync.Mutex
	active map[string]*activeRun
	closed bool
	wg     sync.WaitGroup
}

type activeRun struct {
	cancel context.CancelCauseFunc
	done   chan struct{}
}

// New creates a Service. A nil Store gets a fresh one; a nil Logger means
// the process logger.
func New(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = logging.L()
	}
	store := opts.Store
	if store == nil {
		store = runstore.New()
	}
	return &Service{
		profiles: opts.Profiles,
		builder:  opts.Builder,
		store:    store,
		logger:   logger,
		runner:   refresh.NewRunner(refresh.WithLogger(logger)),
		maxLines: opts.MaxLogLines,
		active:   make(map[string]*activeRun),
	}
}

// Store returns the underlying run store.
func (s *Service) Store() *runstore.Store {
	return s.store
}

// Profiles lists the configured profiles, sorted by name.
func (s *Service) Profiles() []ProfileInfo {
	names := slices.Sorted(maps.Keys(s.profiles))
	return lo.Map(names, func(name string, _ int) ProfileInfo {
		p := s.profiles[name]
		return ProfileInfo{
			Name:   name,
			Label:  p.Label,
			Phases: lo.Map(p.Phases, func(ph config.Phase, _ int) string { return ph.ID }),
		}
	})
}

// Start launches profile for target and returns the run id immediately.
// The run outlives ctx; only Cancel and Shutdown stop it.
func (s *Service) Start(ctx context.Context, profile, target string) (string, error) {
	p, ok := s.profiles[profile]
	if !ok {
		return "", fmt.Errorf("service: %q: %w", profile, ErrUnknownProfile)
	}
	target = strings.TrimSpace(target)
	if target == "" {
		return "", fmt.Errorf("service: %w", ErrEmptyTarget)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", fmt.Errorf("service: %w", ErrClosed)
	}

	id := runstore.NewID()
	if err := s.store.Create(runstore.Record{
		ID:        id,
		Profile:   profile,
		Target:    target,
		State:     runstore.StateRunning,
		CreatedAt: time.Now(),
	}); err != nil {
		return "", fmt.Errorf("service: %w", err)
	}

	runCtx, cancel := context.WithCancelCause(context.WithoutCancel(ctx))
	ar := &activeRun{cancel: cancel, done: make(chan struct{})}
	s.active[id] = ar

	phases := s.builder.Phases(p, target)
	obs := newObserver(id, p, s.store, s.maxLines, s.logger)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(ar.done)
		defer cancel(nil)
		s.execute(runCtx, id, phases, obs)
	}()

	s.logger.Info("service: run started",
		zap.String("run", id),
		zap.String("profile", profile),
		zap.String("target", target),
		zap.Int("phases", len(phases)))
	return id, nil
}

func (s *Service) execute(ctx context.Context, id string, phases []refresh.Phase, obs *observer) {
	_, err := s.runner.Run(ctx, phases, obs.observe)

	kind := refresh.KindOf(err)
	state := runstore.StateFor(kind)
	ferr := s.store.Finish(id, state, func(r *runstore.Record) {
		obs.fill(r)
		if err != nil {
			r.Error = err.Error()
			r.ErrorKind = kind
		}
	})
	if ferr != nil {
		s.logger.Error("service: finish run", zap.String("run", id), zap.Error(ferr))
	}

	s.mu.Lock()
	delete(s.active, id)
	s.mu.Unlock()

	fields := []zap.Field{zap.String("run", id), zap.String("state", string(state))}
	if err != nil {
		s.logger.Warn("service: run halted", append(fields, zap.Error(err))...)
		return
	}
	s.logger.Info("service: run finished", fields...)
}

// Get returns the current record of run id.
func (s *Service) Get(id string) (*runstore.Record, error) {
	return s.store.Get(id)
}

// List returns runs matching filter.
func (s *Service) List(filter runstore.Filter) (*runstore.Page, error) {
	return s.store.List(filter)
}

// Cancel stops run id. The run finishes asynchronously as cancelled.
func (s *Service) Cancel(id string) error {
	s.mu.Lock()
	ar, ok := s.active[id]
	s.mu.Unlock()
	if !ok {
		if _, err := s.store.Get(id); err != nil {
			return err
		}
		return fmt.Errorf("service: %q: %w", id, ErrNotRunning)
	}
	ar.cancel(errors.New("cancelled by request"))
	return nil
}

// Wait blocks until run id finishes or ctx is done, then returns its
// record.
func (s *Service) Wait(ctx context.Context, id string) (*runstore.Record, error) {
	s.mu.Lock()
	ar, ok := s.active[id]
	s.mu.Unlock()
	if ok {
		select {
		case <-ar.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.store.Get(id)
}

// Shutdown refuses new runs, cancels the active ones and waits for them
// to finish or for ctx to expire.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	for _, ar := range s.active {
		ar.cancel(ErrClosed)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("service: shutdown: %w", ctx.Err())
	}
}
