// Package session decides whether a signed-in session exists. The Poller
// asks a Checker on a fixed, non-decreasing wait schedule until a session
// shows up, the schedule runs out, or the caller cancels.
package session

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// Session is the result of one session check.
type Session struct {
	Present  bool
	Identity string
}

// Checker answers "is there a session now?". A returned error means the
// question could not be answered; pollers treat it as "not yet".
type Checker interface {
	CheckSession(ctx context.Context) (Session, error)
}

// Outcome classifies one poll attempt.
type Outcome int

// Attempt outcomes.
const (
	OutcomeFound Outcome = iota + 1
	OutcomeNotFound
	OutcomeError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeFound:
		return "found"
	case OutcomeNotFound:
		return "not-found"
	case OutcomeError:
		return "error"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Attempt is one unsuccessful poll iteration, reported before the wait.
type Attempt struct {
	Index           int // 1-based
	DelayBeforeNext time.Duration
	Outcome         Outcome
	// Waited is the cumulative wait including DelayBeforeNext.
	Waited time.Duration
	Err    error
}

// Message is the progress line shown while polling.
func (a Attempt) Message() string {
	return fmt.Sprintf("Not signed in yet. Waiting... (%ds)", int(math.Round(a.Waited.Seconds())))
}

// State is the Poller's lifecycle state.
type State int

// Poller states. Found, Exhausted and Canceled are terminal for one Run.
const (
	StateIdle State = iota
	StatePolling
	StateFound
	StateExhausted
	StateCanceled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePolling:
		return "polling"
	case StateFound:
		return "found"
	case StateExhausted:
		return "exhausted"
	case StateCanceled:
		return "canceled"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ExhaustedMessage is the final status when the schedule runs out.
const ExhaustedMessage = "Still not signed in. If you completed sign-in, run `filehub login` again " +
	"or check that the session file is writable."

// Schedule limits.
const (
	MaxScheduleSteps = 32
	MaxScheduleTotal = 10 * time.Minute
)

// ErrInvalidSchedule wraps every schedule validation failure.
var ErrInvalidSchedule = errors.New("session: invalid poll schedule")

// DefaultSchedule returns the stock wait schedule: 1s, 2s, 4s, 6s, 8s, then
// 10s three times (51s total).
func DefaultSchedule() []time.Duration {
	return []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		6 * time.Second,
		8 * time.Second,
		10 * time.Second,
		10 * time.Second,
		10 * time.Second,
	}
}

// ValidateSchedule checks that the schedule is non-empty, finite, positive,
// non-decreasing and bounded in total.
func ValidateSchedule(schedule []time.Duration) error {
	if len(schedule) == 0 {
		return fmt.Errorf("%w: must contain at least one step", ErrInvalidSchedule)
	}

	if len(schedule) > MaxScheduleSteps {
		return fmt.Errorf("%w: %d steps exceeds %d", ErrInvalidSchedule, len(schedule), MaxScheduleSteps)
	}

	var total time.Duration

	for i, d := range schedule {
		if d <= 0 {
			return fmt.Errorf("%w: step %d is %s, must be positive", ErrInvalidSchedule, i+1, d)
		}

		if i > 0 && d < schedule[i-1] {
			return fmt.Errorf("%w: step %d: %s is shorter than the previous step %s",
				ErrInvalidSchedule, i+1, d, schedule[i-1])
		}

		total += d
	}

	if total > MaxScheduleTotal {
		return fmt.Errorf("%w: total wait %s exceeds %s", ErrInvalidSchedule, total, MaxScheduleTotal)
	}

	return nil
}

// Total returns the sum of the schedule: the poller's overall ceiling.
func Total(schedule []time.Duration) time.Duration {
	var total time.Duration
	for _, d := range schedule {
		total += d
	}

	return total
}
