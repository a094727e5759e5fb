package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrAlreadyPolling is returned by Run while another Run is in progress.
var ErrAlreadyPolling = errors.New("session: already polling")

// Options configures a Poller.
type Options struct {
	Logger *slog.Logger
	// Sleep waits between attempts. Defaults to a timer honoring ctx.
	Sleep func(ctx context.Context, d time.Duration) error
	// OnProgress is called after each unsuccessful attempt, before the wait.
	OnProgress func(Attempt)
	// OnFound is called once per Run when a session is found.
	OnFound func(Session)
}

// Result summarizes one Run.
type Result struct {
	State    State
	Session  Session
	Attempts int
	Waited   time.Duration
	Message  string
}

// Poller repeatedly checks for a session on a fixed schedule. At most one
// Run is active at a time.
type Poller struct {
	schedule   []time.Duration
	checker    Checker
	logger     *slog.Logger
	sleepFunc  func(ctx context.Context, d time.Duration) error
	onProgress func(Attempt)
	onFound    func(Session)

	mu       sync.Mutex
	state    State
	canceled bool
	stop     context.CancelFunc
}

// NewPoller validates schedule and creates a Poller.
func NewPoller(schedule []time.Duration, checker Checker, opts Options) (*Poller, error) {
	if err := ValidateSchedule(schedule); err != nil {
		return nil, err
	}

	if checker == nil {
		return nil, errors.New("session: nil checker")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	sleep := opts.Sleep
	if sleep == nil {
		sleep = timeSleep
	}

	return &Poller{
		schedule:   append([]time.Duration(nil), schedule...),
		checker:    checker,
		logger:     logger,
		sleepFunc:  sleep,
		onProgress: opts.OnProgress,
		onFound:    opts.OnFound,
	}, nil
}

// State returns the current state.
func (p *Poller) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.state
}

// Cancel stops a running poll before its next check or during its current
// wait. An in-flight check runs to completion but its result is dropped.
// Cancel is a no-op when no poll is running.
func (p *Poller) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != StatePolling {
		return
	}

	p.canceled = true

	if p.stop != nil {
		p.stop()
	}
}

// Run polls until a session is found, the schedule is exhausted, or the poll
// is canceled (through ctx or Cancel). Exhaustion is a normal outcome, not an
// error. A Run started while another is active returns ErrAlreadyPolling and
// does nothing else.
func (p *Poller) Run(ctx context.Context) (Result, error) {
	p.mu.Lock()
	if p.state == StatePolling {
		p.mu.Unlock()
		return Result{State: StatePolling}, ErrAlreadyPolling
	}

	waitCtx, stop := context.WithCancel(ctx)
	p.state = StatePolling
	p.canceled = false
	p.stop = stop
	p.mu.Unlock()

	defer stop()

	p.logger.Info("polling for session",
		slog.Int("steps", len(p.schedule)),
		slog.Duration("ceiling", Total(p.schedule)),
	)

	var waited time.Duration

	for i, delay := range p.schedule {
		if p.stopped(ctx) {
			return p.finish(Result{State: StateCanceled, Attempts: i, Waited: waited, Message: "Sign-in canceled."}), nil
		}

		// The check is not bound to waitCtx: Cancel must not abort it.
		sess, err := p.checker.CheckSession(ctx)

		if p.stopped(ctx) {
			return p.finish(Result{State: StateCanceled, Attempts: i + 1, Waited: waited, Message: "Sign-in canceled."}), nil
		}

		if err == nil && sess.Present {
			p.logger.Info("session found",
				slog.Int("attempt", i+1),
				slog.Duration("waited", waited),
			)

			res := p.finish(Result{
				State:    StateFound,
				Session:  sess,
				Attempts: i + 1,
				Waited:   waited,
				Message:  "Signed in. Loading...",
			})

			if p.onFound != nil {
				p.onFound(sess)
			}

			return res, nil
		}

		waited += delay

		a := Attempt{Index: i + 1, DelayBeforeNext: delay, Outcome: OutcomeNotFound, Waited: waited}
		if err != nil {
			a.Outcome = OutcomeError
			a.Err = err

			p.logger.Debug("session check failed, treating as not yet",
				slog.Int("attempt", a.Index),
				slog.String("error", err.Error()),
			)
		}

		if p.onProgress != nil {
			p.onProgress(a)
		}

		if sleepErr := p.sleepFunc(waitCtx, delay); sleepErr != nil {
			return p.finish(Result{State: StateCanceled, Attempts: i + 1, Waited: waited, Message: "Sign-in canceled."}), nil
		}
	}

	p.logger.Info("session poll exhausted",
		slog.Int("attempts", len(p.schedule)),
		slog.Duration("waited", waited),
	)

	return p.finish(Result{
		State:    StateExhausted,
		Attempts: len(p.schedule),
		Waited:   waited,
		Message:  ExhaustedMessage,
	}), nil
}

// stopped reports whether the current Run was canceled.
func (p *Poller) stopped(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	return p.canceled
}

// finish records the terminal state of a Run.
func (p *Poller) finish(res Result) Result {
	p.mu.Lock()
	p.state = res.State
	p.stop = nil
	p.mu.Unlock()

	if res.State == StateCanceled {
		p.logger.Info("session poll canceled", slog.Int("attempts", res.Attempts))
	}

	return res
}

// timeSleep waits for d or until ctx is canceled.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return fmt.Errorf("session: wait interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
