// Package controller owns the session and view state of filehub. It turns
// commands (start sign-in, upload, sign out, refresh) into work for the
// session poller and the upload orchestrator, and reports every outcome to a
// Presenter as an Event.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/tonimelisma/filehub-go/internal/hub"
	"github.com/tonimelisma/filehub-go/internal/identity"
	"github.com/tonimelisma/filehub-go/internal/session"
	"github.com/tonimelisma/filehub-go/internal/transport"
	"github.com/tonimelisma/filehub-go/internal/upload"
)

// ErrNotSignedIn is returned by Refresh while no session is known.
var ErrNotSignedIn = errors.New("controller: not signed in")

// Widget is the sign-in surface. Satisfied by *identity.Provider.
type Widget interface {
	Mount(ctx context.Context) error
	SignOut(ctx context.Context) error
}

// Performer runs a transport operation. Satisfied by *transport.Selector.
type Performer interface {
	Perform(ctx context.Context, op transport.Operation) (*transport.Response, error)
}

// Deps are the Controller's collaborators.
type Deps struct {
	Widget    Widget
	Checker   session.Checker
	Transport Performer
	Presenter Presenter
	Logger    *slog.Logger

	Schedule []time.Duration
	// Sleep overrides the poller's wait, for tests.
	Sleep func(ctx context.Context, d time.Duration) error

	Recorder    upload.Recorder
	Limiter     *upload.BandwidthLimiter
	MaxFileSize int64

	// OnSignedIn is told the identity each time a session is established.
	OnSignedIn func(identity string)
}

// Controller is the single owner of RenderState and the known session.
type Controller struct {
	widget     Widget
	checker    session.Checker
	transport  Performer
	presenter  Presenter
	logger     *slog.Logger
	poller     *session.Poller
	uploads    *upload.Orchestrator
	onSignedIn func(string)
	refreshes  singleflight.Group

	mu         sync.Mutex
	state      RenderState
	sess       session.Session
	pollCancel context.CancelFunc
	pollDone   chan struct{}
}

// New creates a Controller in the Unauthenticated state.
func New(deps Deps) (*Controller, error) {
	if deps.Widget == nil || deps.Checker == nil || deps.Transport == nil {
		return nil, errors.New("controller: widget, checker and transport are required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	presenter := deps.Presenter
	if presenter == nil {
		presenter = PresenterFunc(func(Event) {})
	}

	schedule := deps.Schedule
	if schedule == nil {
		schedule = session.DefaultSchedule()
	}

	c := &Controller{
		widget:     deps.Widget,
		checker:    deps.Checker,
		transport:  deps.Transport,
		presenter:  presenter,
		logger:     logger,
		onSignedIn: deps.OnSignedIn,
	}

	poller, err := session.NewPoller(schedule, deps.Checker, session.Options{
		Logger:     logger,
		Sleep:      deps.Sleep,
		OnProgress: c.onPollProgress,
	})
	if err != nil {
		return nil, fmt.Errorf("controller: %w", err)
	}

	c.poller = poller
	c.uploads = upload.NewOrchestrator(deps.Transport, upload.Options{
		Logger:      logger,
		Gate:        upload.GateFunc(c.SessionKnown),
		Recorder:    deps.Recorder,
		Refresh:     c.refreshAfterBatch,
		Limiter:     deps.Limiter,
		MaxFileSize: deps.MaxFileSize,
		OnStart:     c.onBatchStart,
		OnResult:    c.onUploadResult,
	})

	return c, nil
}

// State returns the current RenderState.
func (c *Controller) State() RenderState {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

// Session returns the known session.
func (c *Controller) Session() session.Session {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.sess
}

// SessionKnown reports whether the Controller is Authenticated.
func (c *Controller) SessionKnown(context.Context) bool {
	return c.State() == Authenticated
}

// setState moves to next and returns the Event announcing it. Callers hold mu.
func (c *Controller) setState(next RenderState) Event {
	if c.state != next {
		c.logger.Debug("render state",
			slog.String("from", c.state.String()),
			slog.String("to", next.String()),
		)
	}

	c.state = next

	return Event{Kind: EventState, State: next, Identity: c.sess.Identity}
}

func (c *Controller) emit(events ...Event) {
	for _, e := range events {
		c.presenter.Emit(e)
	}
}

// status builds a status Event for the current state. Callers hold mu.
func (c *Controller) status(kind EventKind, msg string) Event {
	return Event{Kind: kind, State: c.state, Message: msg, Identity: c.sess.Identity}
}

// Init checks for an existing session and settles on Authenticated (with one
// refresh) or Unauthenticated. A failed check counts as no session.
func (c *Controller) Init(ctx context.Context) error {
	sess, err := c.checker.CheckSession(ctx)
	if err != nil {
		c.logger.Info("initial session check failed", slog.String("error", err.Error()))
		sess = session.Session{}
	}

	c.mu.Lock()
	if c.state != Unauthenticated {
		c.mu.Unlock()
		return nil
	}

	if !sess.Present {
		ev := c.setState(Unauthenticated)
		st := c.status(EventAuthStatus, msgNotSignedIn)
		c.mu.Unlock()

		c.emit(ev, st)

		return nil
	}

	c.sess = sess
	ev := c.setState(Authenticated)
	st := c.status(EventUploadStatus, msgReady)
	c.mu.Unlock()

	c.emit(ev, st)
	c.signedIn(sess)

	_, _ = c.Refresh(ctx)

	return nil
}

// StartSignIn mounts the sign-in widget and starts polling for the session.
// While a sign-in is already rendering or polling it only reports that. The
// poll runs in its own goroutine for as long as ctx lives.
func (c *Controller) StartSignIn(ctx context.Context) error {
	c.mu.Lock()

	switch c.state {
	case RenderingLogin, PollingForSession:
		st := c.status(EventAuthStatus, msgAlreadyRendered)
		c.mu.Unlock()
		c.emit(st)

		return nil
	case Authenticated, SigningOut:
		st := c.status(EventAuthStatus, msgAlreadySignedIn)
		c.mu.Unlock()
		c.emit(st)

		return nil
	}

	ev := c.setState(RenderingLogin)
	st := c.status(EventAuthStatus, msgRendering)
	c.mu.Unlock()

	c.emit(ev, st)

	if err := c.widget.Mount(ctx); err != nil {
		if !errors.Is(err, identity.ErrWidgetMount) {
			err = fmt.Errorf("%w: %w", identity.ErrWidgetMount, err)
		}

		c.mu.Lock()
		var events []Event
		if c.state == RenderingLogin {
			events = append(events, c.setState(Unauthenticated))
		}

		events = append(events, Event{Kind: EventError, State: c.state, Message: "Sign-in failed.", Error: err.Error()})
		c.mu.Unlock()

		c.emit(events...)

		return err
	}

	c.mu.Lock()
	if c.state != RenderingLogin {
		// Signed out while the widget was mounting.
		c.mu.Unlock()
		return nil
	}

	pollCtx, cancel := context.WithCancel(ctx)
	prev := c.pollDone
	done := make(chan struct{})
	c.pollCancel = cancel
	c.pollDone = done
	ev = c.setState(PollingForSession)
	c.mu.Unlock()

	c.emit(ev)

	go c.poll(pollCtx, cancel, prev, done)

	return nil
}

// poll runs the poller once and settles the state it ends in. A previous
// poll that is still winding down after a sign-out is waited for first.
func (c *Controller) poll(ctx context.Context, cancel context.CancelFunc, prev, done chan struct{}) {
	defer close(done)
	defer cancel()

	if prev != nil {
		<-prev
	}

	res, err := c.poller.Run(ctx)

	c.mu.Lock()
	if c.pollDone == done {
		c.pollCancel = nil
	}

	if c.state != PollingForSession {
		c.mu.Unlock()
		return
	}

	if err == nil && res.State == session.StateFound {
		c.sess = res.Session
		st := c.status(EventAuthStatus, "Signed in. Loading...")
		ev := c.setState(Authenticated)
		c.mu.Unlock()

		c.emit(st, ev)
		c.signedIn(res.Session)

		_, _ = c.Refresh(ctx)

		return
	}

	var msg string

	switch {
	case err != nil:
		c.logger.Warn("poll not started", slog.String("error", err.Error()))
		msg = err.Error()
	case res.State == session.StateCanceled:
		msg = msgSignInCanceled
	default:
		msg = res.Message
	}

	ev := c.setState(Unauthenticated)
	st := c.status(EventAuthStatus, msg)
	c.mu.Unlock()

	c.emit(st, ev)
}

// onPollProgress reports an unsuccessful attempt.
func (c *Controller) onPollProgress(a session.Attempt) {
	c.mu.Lock()
	st := c.status(EventAuthStatus, a.Message())
	c.mu.Unlock()

	st.Attempt = a.Index
	c.emit(st)
}

func (c *Controller) signedIn(sess session.Session) {
	c.logger.Info("signed in", slog.String("identity", sess.Identity))

	if c.onSignedIn != nil {
		c.onSignedIn(sess.Identity)
	}
}

// WaitForSignIn blocks until the running poll ends, or ctx is done. It
// returns the resulting state.
func (c *Controller) WaitForSignIn(ctx context.Context) (RenderState, error) {
	c.mu.Lock()
	done := c.pollDone
	c.mu.Unlock()

	if done == nil {
		return c.State(), nil
	}

	select {
	case <-done:
		return c.State(), nil
	case <-ctx.Done():
		return c.State(), ctx.Err()
	}
}

// SignOut cancels any running poll, signs out of the widget and returns to
// Unauthenticated whether or not the sign-out call succeeded.
func (c *Controller) SignOut(ctx context.Context) error {
	c.mu.Lock()
	if c.state == SigningOut {
		c.mu.Unlock()
		return nil
	}

	cancel := c.pollCancel
	c.pollCancel = nil
	ev := c.setState(SigningOut)
	c.mu.Unlock()

	c.emit(ev)

	if cancel != nil {
		c.poller.Cancel()
		cancel()
	}

	err := c.widget.SignOut(ctx)
	if err != nil {
		c.logger.Warn("sign-out failed", slog.String("error", err.Error()))
	}

	c.mu.Lock()
	c.sess = session.Session{}
	ev = c.setState(Unauthenticated)
	st := c.status(EventAuthStatus, msgSignedOut)
	c.mu.Unlock()

	c.emit(ev, st)

	if err != nil {
		c.emit(Event{Kind: EventError, State: Unauthenticated, Message: "Sign-out did not complete cleanly.", Error: err.Error()})
		return fmt.Errorf("controller: signing out: %w", err)
	}

	return nil
}

// UploadFiles uploads tasks in order. Without a session the batch is refused
// and the view falls back to Unauthenticated.
func (c *Controller) UploadFiles(ctx context.Context, tasks []upload.Task) (upload.BatchReport, error) {
	report, err := c.uploads.UploadBatch(ctx, tasks)
	if errors.Is(err, upload.ErrSessionAbsent) {
		c.mu.Lock()
		var events []Event
		if c.state == Authenticated || c.state == Unauthenticated {
			events = append(events, c.setState(Unauthenticated))
		}

		events = append(events, c.status(EventUploadStatus, msgPleaseSignIn))
		c.mu.Unlock()

		c.emit(events...)

		return report, err
	}

	c.mu.Lock()
	ev := c.status(EventUploadReport, fmt.Sprintf("%d uploaded, %d failed.", report.Succeeded(), report.Failed()))
	c.mu.Unlock()

	ev.Report = &report
	c.emit(ev)

	return report, err
}

func (c *Controller) onBatchStart(n int) {
	c.mu.Lock()
	st := c.status(EventUploadStatus, fmt.Sprintf("Uploading %d file(s)...", n))
	c.mu.Unlock()

	c.emit(st)
}

func (c *Controller) onUploadResult(_ int, r upload.Result) {
	c.mu.Lock()
	ev := c.status(EventUploadResult, "")
	c.mu.Unlock()

	ev.Result = &r
	c.emit(ev)
}

func (c *Controller) refreshAfterBatch(ctx context.Context) {
	_, _ = c.Refresh(ctx)
}

// Refresh re-lists the stored files and emits the listing, or an error
// status. Concurrent refreshes share one request.
func (c *Controller) Refresh(ctx context.Context) (*hub.Listing, error) {
	v, err, _ := c.refreshes.Do("refresh", func() (any, error) {
		return c.refresh(ctx)
	})
	if err != nil {
		return nil, err
	}

	listing, _ := v.(*hub.Listing)

	return listing, nil
}

func (c *Controller) refresh(ctx context.Context) (*hub.Listing, error) {
	if !c.SessionKnown(ctx) {
		c.emit(Event{Kind: EventListing, State: c.State(), Error: "Not signed in"})
		return nil, ErrNotSignedIn
	}

	c.emit(Event{Kind: EventListing, State: Authenticated, Message: msgLoading})

	resp, err := c.transport.Perform(ctx, transport.Operation{Kind: transport.KindList})
	if err != nil {
		c.logger.Warn("refresh failed", slog.String("error", err.Error()))
		c.emit(Event{Kind: EventListing, State: c.State(), Error: "API ERROR: " + err.Error()})

		return nil, fmt.Errorf("controller: refresh: %w", err)
	}

	if !resp.OK {
		msg := resp.ErrorMessage()
		if msg == "" {
			msg = fmt.Sprintf("HTTP %d", resp.Status)
		}

		c.emit(Event{Kind: EventListing, State: c.State(), Error: "API ERROR: " + msg})

		return nil, fmt.Errorf("controller: refresh: %s", msg)
	}

	listing := hub.ParseListing(resp.Body)
	c.emit(Event{Kind: EventListing, State: c.State(), Listing: listing})

	c.logger.Debug("listing refreshed", slog.Int("count", listing.Count))

	return listing, nil
}

// Close cancels a running poll and waits for it to stop.
func (c *Controller) Close() {
	c.mu.Lock()
	cancel := c.pollCancel
	done := c.pollDone
	c.mu.Unlock()

	if cancel != nil {
		c.poller.Cancel()
		cancel()
	}

	if done != nil {
		<-done
	}
}
