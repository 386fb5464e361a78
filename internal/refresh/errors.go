package refresh

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// ErrCancelled is matched by errors.Is for every cancelled run.
var ErrCancelled = errors.New("refresh: run cancelled")

// Kind classifies why a run halted.
type Kind string

const (
	KindNone      Kind = ""
	KindTimeout   Kind = "timeout"
	KindFailed    Kind = "failed"
	KindCancelled Kind = "cancelled"
)

// TimeoutError is returned when a phase outlives its timeout.
type TimeoutError struct {
	PhaseID string
	Label   string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return timeoutMessage(e.Label, e.Timeout)
}

// TimeoutMs returns the configured budget in milliseconds.
func (e *TimeoutError) TimeoutMs() int64 {
	return e.Timeout.Milliseconds()
}

// PhaseError is returned when a phase's work fails. Error returns the
// work's own message unchanged.
type PhaseError struct {
	PhaseID string
	Label   string
	Err     error
}

func (e *PhaseError) Error() string {
	return e.Err.Error()
}

func (e *PhaseError) Unwrap() error {
	return e.Err
}

// CancelledError is returned when the run's context is cancelled while a
// phase is in flight.
type CancelledError struct {
	PhaseID string
	Cause   error
}

func (e *CancelledError) Error() string {
	if e.PhaseID == "" {
		return fmt.Sprintf("refresh: run cancelled: %v", e.Cause)
	}
	return fmt.Sprintf("refresh: run cancelled during %s: %v", e.PhaseID, e.Cause)
}

func (e *CancelledError) Unwrap() []error {
	return []error{ErrCancelled, e.Cause}
}

// KindOf reports the halt classification of err.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	var te *TimeoutError
	if errors.As(err, &te) {
		return KindTimeout
	}
	if errors.Is(err, ErrCancelled) {
		return KindCancelled
	}
	return KindFailed
}

func timeoutMessage(label string, timeout time.Duration) string {
	secs := strconv.FormatFloat(timeout.Seconds(), 'f', -1, 64)
	return fmt.Sprintf("%s timed out after %ss", label, secs)
}
