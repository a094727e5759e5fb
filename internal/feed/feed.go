// Package feed serves controller Events to local browser or script clients
// over a websocket and accepts their commands (sign in, sign out, refresh,
// upload). It is the live presentation layer behind `filehub ui`.
package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/tonimelisma/filehub-go/internal/controller"
	"github.com/tonimelisma/filehub-go/internal/hub"
	"github.com/tonimelisma/filehub-go/internal/upload"
)

// Path is where the feed is served.
const Path = "/feed"

const (
	sendBuffer      = 64
	commandBuffer   = 16
	writeTimeout    = 5 * time.Second
	shutdownTimeout = 5 * time.Second
)

// Commands a client may send.
const (
	CmdSignIn  = "sign_in"
	CmdSignOut = "sign_out"
	CmdRefresh = "refresh"
	CmdUpload  = "upload"
)

// Command is one client request. Paths are local files, for CmdUpload.
type Command struct {
	Command string   `json:"command"`
	Paths   []string `json:"paths,omitempty"`
}

// Commander executes commands. Satisfied by *controller.Controller.
type Commander interface {
	State() controller.RenderState
	StartSignIn(ctx context.Context) error
	SignOut(ctx context.Context) error
	Refresh(ctx context.Context) (*hub.Listing, error)
	UploadFiles(ctx context.Context, tasks []upload.Task) (upload.BatchReport, error)
}

// Options configures a Server.
type Options struct {
	Logger *slog.Logger
	// OriginPatterns lists extra browser origins allowed to connect.
	// Same-host origins are always allowed.
	OriginPatterns []string
}

type client struct {
	send chan controller.Event
}

// Server fans Events out to every connected client and runs their commands
// one at a time on a single worker.
type Server struct {
	cmd      Commander
	logger   *slog.Logger
	origins  []string
	commands chan Command

	mu       sync.Mutex
	clients  map[*client]struct{}
	snapshot map[controller.EventKind]controller.Event
	base     context.Context
}

// New creates a Server. It does nothing until Serve is called.
func New(cmd Commander, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Server{
		cmd:      cmd,
		logger:   logger,
		origins:  opts.OriginPatterns,
		commands: make(chan Command, commandBuffer),
		clients:  make(map[*client]struct{}),
		snapshot: make(map[controller.EventKind]controller.Event),
		base:     context.Background(),
	}
}

// Emit implements controller.Presenter. The latest state and listing are
// kept and replayed to clients that connect later. A client whose buffer is
// full is dropped.
func (s *Server) Emit(e controller.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch e.Kind {
	case controller.EventState:
		s.snapshot[e.Kind] = e
	case controller.EventListing:
		if e.Listing != nil {
			s.snapshot[e.Kind] = e
		}
	}

	for c := range s.clients {
		select {
		case c.send <- e:
		default:
			s.logger.Warn("feed client too slow, dropping")
			s.dropLocked(c)
		}
	}
}

// Clients returns the number of connected clients.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.clients)
}

func (s *Server) add() *client {
	c := &client{send: make(chan controller.Event, sendBuffer)}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, kind := range []controller.EventKind{controller.EventState, controller.EventListing} {
		if e, ok := s.snapshot[kind]; ok {
			c.send <- e
		}
	}

	s.clients[c] = struct{}{}

	return c
}

func (s *Server) remove(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.dropLocked(c)
}

// dropLocked closes c's queue once. Callers hold mu.
func (s *Server) dropLocked(c *client) {
	if _, ok := s.clients[c]; !ok {
		return
	}

	delete(s.clients, c)
	close(c.send)
}

// ServeHTTP upgrades the request and streams Events until the client goes
// away or the server stops.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.origins})
	if err != nil {
		s.logger.Debug("feed upgrade refused", slog.String("error", err.Error()))
		return
	}
	defer conn.CloseNow()

	s.mu.Lock()
	base := s.base
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	stop := context.AfterFunc(base, cancel)
	defer stop()

	c := s.add()
	defer s.remove(c)

	s.logger.Info("feed client connected", slog.String("remote", r.RemoteAddr))

	go s.readLoop(ctx, conn, c, cancel)

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusGoingAway, "server stopping")
			s.logger.Debug("feed client disconnected", slog.String("remote", r.RemoteAddr))

			return
		case e, ok := <-c.send:
			if !ok {
				conn.Close(websocket.StatusPolicyViolation, "client too slow")
				return
			}

			if err := s.write(ctx, conn, e); err != nil {
				s.logger.Debug("feed write failed", slog.String("error", err.Error()))
				return
			}
		}
	}
}

func (s *Server) write(ctx context.Context, conn *websocket.Conn, e controller.Event) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	return wsjson.Write(ctx, conn, e)
}

// readLoop queues the client's commands. Malformed or unknown commands are
// answered on the client's own queue.
func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, c *client, cancel context.CancelFunc) {
	defer cancel()

	for {
		var cmd Command
		if err := wsjson.Read(ctx, conn, &cmd); err != nil {
			if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
				s.logger.Debug("feed read failed", slog.String("error", err.Error()))
			}

			return
		}

		if err := validate(cmd); err != nil {
			s.reply(c, s.errorEvent("Unknown command.", err))
			continue
		}

		select {
		case s.commands <- cmd:
		case <-ctx.Done():
			return
		default:
			s.reply(c, s.errorEvent("Busy, try again.", errors.New("command queue full")))
		}
	}
}

// reply sends e to one client without blocking.
func (s *Server) reply(c *client, e controller.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.clients[c]; !ok {
		return
	}

	select {
	case c.send <- e:
	default:
	}
}

func validate(cmd Command) error {
	switch cmd.Command {
	case CmdSignIn, CmdSignOut, CmdRefresh:
		return nil
	case CmdUpload:
		if len(cmd.Paths) == 0 {
			return errors.New("upload needs at least one path")
		}

		return nil
	default:
		return fmt.Errorf("unknown command %q", cmd.Command)
	}
}

func (s *Server) errorEvent(msg string, err error) controller.Event {
	return controller.Event{Kind: controller.EventError, State: s.cmd.State(), Message: msg, Error: err.Error()}
}

// work runs queued commands in arrival order.
func (s *Server) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-s.commands:
			s.run(ctx, cmd)
		}
	}
}

func (s *Server) run(ctx context.Context, cmd Command) {
	s.logger.Debug("feed command", slog.String("command", cmd.Command))

	var err error

	switch cmd.Command {
	case CmdSignIn:
		err = s.cmd.StartSignIn(ctx)
	case CmdSignOut:
		err = s.cmd.SignOut(ctx)
	case CmdRefresh:
		_, err = s.cmd.Refresh(ctx)
	case CmdUpload:
		// Unreadable paths fail in their place in the batch report.
		_, err = s.cmd.UploadFiles(ctx, upload.TasksFromPaths(cmd.Paths))
	}

	// The controller has already reported the failure as an Event.
	if err != nil {
		s.logger.Debug("feed command failed",
			slog.String("command", cmd.Command),
			slog.String("error", err.Error()),
		)
	}
}

// Serve serves the feed on ln until ctx is canceled. Commands run with ctx,
// so a sign-in started from a client outlives that client's connection.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.base = ctx
	s.mu.Unlock()

	mux := http.NewServeMux()
	mux.Handle(Path, s)

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: writeTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go s.work(ctx)

	errCh := make(chan error, 1)

	go func() {
		errCh <- srv.Serve(ln)
	}()

	s.logger.Info("feed listening", slog.String("url", "ws://"+ln.Addr().String()+Path))

	select {
	case err := <-errCh:
		return fmt.Errorf("feed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("feed: shutdown: %w", err)
	}

	return nil
}

// ListenAndServe listens on addr and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	var lc net.ListenConfig

	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("feed: listening on %s: %w", addr, err)
	}

	return s.Serve(ctx, ln)
}
