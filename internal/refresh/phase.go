package refresh

import (
	"context"
	"maps"
	"time"
)

// Status is the lifecycle state of a single phase within a run.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusTimedOut  Status = "timed_out"
	StatusSkipped   Status = "skipped"
)

// Terminal reports whether no further transition can occur from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTimedOut, StatusSkipped:
		return true
	default:
		return false
	}
}

// ProgressUpdate is a partial progress report from a running phase.
// Nil fields are left untouched when merged.
type ProgressUpdate struct {
	Current  *int
	Total    *int
	Message  *string
	Counters map[string]int
}

// Step builds an update carrying a count and a message.
func Step(current, total int, message string) ProgressUpdate {
	return ProgressUpdate{Current: &current, Total: &total, Message: &message}
}

// Note builds an update carrying only a message.
func Note(message string) ProgressUpdate {
	return ProgressUpdate{Message: &message}
}

// ReportFunc pushes a progress update for the phase it was handed to.
type ReportFunc func(ProgressUpdate)

// Outcome is what a phase's work returns on success. The zero value means
// the phase did its work.
type Outcome struct {
	Skipped bool
	Message string
}

// Skipped returns an Outcome telling the runner the phase chose not to run.
func Skipped(message string) Outcome {
	return Outcome{Skipped: true, Message: message}
}

// WorkFunc is the unit of work behind a phase. ctx is cancelled when the
// phase times out or the run is cancelled; the work is expected to notice.
type WorkFunc func(ctx context.Context, report ReportFunc) (Outcome, error)

// Phase is one named, ordered, time-boxed step of a refresh run.
type Phase struct {
	ID      string
	Label   string
	Timeout time.Duration // <= 0 disables the per-phase timer
	Work    WorkFunc
}

// Progress is the progress sub-record of a phase.
type Progress struct {
	Current  *int           `json:"current"`
	Total    *int           `json:"total"`
	Message  *string        `json:"message"`
	Counters map[string]int `json:"counters,omitempty"`
}

func (p *Progress) merge(u ProgressUpdate) {
	if u.Current != nil {
		v := *u.Current
		p.Current = &v
	}
	if u.Total != nil {
		v := *u.Total
		p.Total = &v
	}
	if u.Message != nil {
		v := *u.Message
		p.Message = &v
	}
	if u.Counters != nil {
		p.Counters = maps.Clone(u.Counters)
	}
}

func (p Progress) clone() Progress {
	out := Progress{Counters: maps.Clone(p.Counters)}
	if p.Current != nil {
		v := *p.Current
		out.Current = &v
	}
	if p.Total != nil {
		v := *p.Total
		out.Total = &v
	}
	if p.Message != nil {
		v := *p.Message
		out.Message = &v
	}
	return out
}

// PhaseState is the runner's record of one phase.
type PhaseState struct {
	ID         string        `json:"id"`
	Label      string        `json:"label"`
	Timeout    time.Duration `json:"-"`
	TimeoutMs  int64         `json:"timeoutMs"`
	Status     Status        `json:"status"`
	Progress   Progress      `json:"progress"`
	StartedAt  *time.Time    `json:"startedAt"`
	FinishedAt *time.Time    `json:"finishedAt"`
	Error      string        `json:"error,omitempty"`
}

func (s PhaseState) clone() PhaseState {
	out := s
	out.Progress = s.Progress.clone()
	if s.StartedAt != nil {
		v := *s.StartedAt
		out.StartedAt = &v
	}
	if s.FinishedAt != nil {
		v := *s.FinishedAt
		out.FinishedAt = &v
	}
	return out
}

// Snapshot is an immutable copy of every phase state at one point in a run.
type Snapshot struct {
	Seq    int          `json:"seq"`
	At     time.Time    `json:"at"`
	Phases []PhaseState `json:"phases"`
}

// Phase returns the state for id, if present.
func (s Snapshot) Phase(id string) (PhaseState, bool) {
	for _, p := range s.Phases {
		if p.ID == id {
			return p, true
		}
	}
	return PhaseState{}, false
}

// Clone returns a deep copy of s.
func (s Snapshot) Clone() Snapshot {
	out := Snapshot{Seq: s.Seq, At: s.At, Phases: make([]PhaseState, len(s.Phases))}
	for i, p := range s.Phases {
		out.Phases[i] = p.clone()
	}
	return out
}

// Observer receives every snapshot of a run, in order.
type Observer func(Snapshot)
