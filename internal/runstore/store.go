// Package runstore keeps the in-memory registry of refresh runs and fans
// their snapshots out to subscribers.
package runstore

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/therealityreport/trr-app-sub006/internal/progress"
	"github.com/therealityreport/trr-app-sub006/internal/refresh"
)

// ErrNotFound is returned for unknown run ids.
var ErrNotFound = errors.New("run not found")

// subscriberBuffer is the per-subscriber snapshot buffer. Publishing never
// blocks; a full subscriber misses intermediate snapshots.
const subscriberBuffer = 64

// State is the overall state of a run.
type State string

const (
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateTimedOut  State = "timed_out"
	StateCancelled State = "cancelled"
)

// Finished reports whether the run has stopped.
func (s State) Finished() bool {
	return s != StateRunning && s != ""
}

// StateFor maps a run's halt classification to a final state.
func StateFor(kind refresh.Kind) State {
	switch kind {
	case refresh.KindNone:
		return StateSucceeded
	case refresh.KindTimeout:
		return StateTimedOut
	case refresh.KindCancelled:
		return StateCancelled
	default:
		return StateFailed
	}
}

// Record is everything known about one run.
type Record struct {
	ID         string           `json:"id"`
	Profile    string           `json:"profile"`
	Target     string           `json:"target"`
	State      State            `json:"state"`
	CreatedAt  time.Time        `json:"createdAt"`
	FinishedAt *time.Time       `json:"finishedAt,omitempty"`
	Snapshot   refresh.Snapshot `json:"snapshot"`
	Snapshots  int              `json:"snapshots"`
	Error      string           `json:"error,omitempty"`
	ErrorKind  refresh.Kind     `json:"errorKind,omitempty"`
	Rows       []progress.Row   `json:"rows"`
	Lines      []progress.Line  `json:"lines"`
	Suppressed int              `json:"suppressed"`
}

// Filter selects runs in List.
type Filter struct {
	Profile   string
	State     State
	PageSize  int    // <= 0 returns everything
	PageToken string // id of the last run of the previous page
}

// Page is one page of List results.
type Page struct {
	Runs          []Record `json:"runs"`
	TotalSize     int      `json:"totalSize"`
	NextPageToken string   `json:"nextPageToken,omitempty"`
}

// NewID returns a fresh run id.
func NewID() string {
	return uuid.NewString()
}

type subscriber struct {
	ch chan refresh.Snapshot
}

func (s *subscriber) emit(snap refresh.Snapshot) {
	select {
	case s.ch <- snap:
	default:
	}
}

// Store is a concurrency-safe in-memory run registry. Runs are kept in
// insertion order for deterministic pagination.
type Store struct {
	mu       sync.RWMutex
	runs     map[string]*Record
	orderIDs []string
	subs     map[string][]*subscriber
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		runs: make(map[string]*Record),
		subs: make(map[string][]*subscriber),
	}
}

// Create stores a new run. It fails if the id is already taken.
func (s *Store) Create(rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ID == "" {
		return errors.New("runstore: run id is required")
	}
	if _, exists := s.runs[rec.ID]; exists {
		return fmt.Errorf("runstore: run %q already exists", rec.ID)
	}
	if rec.State == "" {
		rec.State = StateRunning
	}
	r := copyRecord(&rec)
	s.runs[rec.ID] = &r
	s.orderIDs = append(s.orderIDs, rec.ID)
	return nil
}

// Get returns a deep copy of the run with id.
func (s *Store) Get(id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.runs[id]
	if !ok {
		return nil, fmt.Errorf("runstore: %q: %w", id, ErrNotFound)
	}
	out := copyRecord(r)
	return &out, nil
}

// Update applies fn to the stored run under the write lock.
func (s *Store) Update(id string, fn func(*Record)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.runs[id]
	if !ok {
		return fmt.Errorf("runstore: %q: %w", id, ErrNotFound)
	}
	fn(r)
	return nil
}

// Publish records snap as the run's latest snapshot and forwards it to
// every subscriber without blocking.
func (s *Store) Publish(id string, snap refresh.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.runs[id]
	if !ok {
		return fmt.Errorf("runstore: %q: %w", id, ErrNotFound)
	}
	if r.State.Finished() {
		return nil
	}
	r.Snapshot = snap.Clone()
	r.Snapshots++
	for _, sub := range s.subs[id] {
		sub.emit(snap.Clone())
	}
	return nil
}

// Finish applies fn, marks the run finished and closes every subscriber.
func (s *Store) Finish(id string, state State, fn func(*Record)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.runs[id]
	if !ok {
		return fmt.Errorf("runstore: %q: %w", id, ErrNotFound)
	}
	if fn != nil {
		fn(r)
	}
	now := time.Now()
	r.State = state
	r.FinishedAt = &now

	for _, sub := range s.subs[id] {
		close(sub.ch)
	}
	delete(s.subs, id)
	return nil
}

// Subscribe returns a channel that first receives the run's latest
// snapshot and then every later one. The channel is closed when the run
// finishes or cancel is called.
func (s *Store) Subscribe(id string) (<-chan refresh.Snapshot, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.runs[id]
	if !ok {
		return nil, nil, fmt.Errorf("runstore: %q: %w", id, ErrNotFound)
	}

	sub := &subscriber{ch: make(chan refresh.Snapshot, subscriberBuffer)}
	if r.Snapshots > 0 {
		sub.emit(r.Snapshot.Clone())
	}
	if r.State.Finished() {
		close(sub.ch)
		return sub.ch, func() {}, nil
	}
	s.subs[id] = append(s.subs[id], sub)

	var once sync.Once
	cancel := func() {
		once.Do(func() { s.unsubscribe(id, sub) })
	}
	return sub.ch, cancel, nil
}

func (s *Store) unsubscribe(id string, target *subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()

	subs := s.subs[id]
	for i, sub := range subs {
		if sub == target {
			s.subs[id] = append(subs[:i], subs[i+1:]...)
			close(sub.ch)
			return
		}
	}
}

// List returns runs matching filter with pagination support.
func (s *Store) List(filter Filter) (*Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	startIdx := 0
	if filter.PageToken != "" {
		found := false
		for i, id := range s.orderIDs {
			if id == filter.PageToken {
				startIdx = i + 1
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("runstore: invalid page token %q", filter.PageToken)
		}
	}

	totalBefore := 0
	for i := 0; i < startIdx; i++ {
		if matchesFilter(s.runs[s.orderIDs[i]], filter) {
			totalBefore++
		}
	}

	matched := []Record{}
	for i := startIdx; i < len(s.orderIDs); i++ {
		r := s.runs[s.orderIDs[i]]
		if matchesFilter(r, filter) {
			matched = append(matched, copyRecord(r))
		}
	}
	total := totalBefore + len(matched)

	var next string
	if filter.PageSize > 0 && len(matched) > filter.PageSize {
		next = matched[filter.PageSize-1].ID
		matched = matched[:filter.PageSize]
	}

	return &Page{Runs: matched, TotalSize: total, NextPageToken: next}, nil
}

func matchesFilter(r *Record, filter Filter) bool {
	if filter.Profile != "" && r.Profile != filter.Profile {
		return false
	}
	if filter.State != "" && r.State != filter.State {
		return false
	}
	return true
}

// copyRecord returns a deep copy of src.
func copyRecord(src *Record) Record {
	dst := *src
	dst.Snapshot = src.Snapshot.Clone()
	if src.FinishedAt != nil {
		v := *src.FinishedAt
		dst.FinishedAt = &v
	}
	if src.Rows != nil {
		dst.Rows = append([]progress.Row(nil), src.Rows...)
	}
	if src.Lines != nil {
		dst.Lines = append([]progress.Line(nil), src.Lines...)
	}
	return dst
}
