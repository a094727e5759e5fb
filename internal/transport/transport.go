// Package transport reaches the remote system through an ordered list of
// mechanisms per operation kind. A Selector tries each candidate in turn and
// moves on when one is unavailable or its call fails. It never retries a
// mechanism: retry policy belongs to the caller.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

// Kind identifies what an Operation does.
type Kind int

// Operation kinds.
const (
	KindCheckSession Kind = iota + 1
	KindUpload
	KindList
)

func (k Kind) String() string {
	switch k {
	case KindCheckSession:
		return "check-session"
	case KindUpload:
		return "upload"
	case KindList:
		return "list"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

var (
	// ErrUnavailable means the mechanism cannot serve the operation at all:
	// its handle is absent, misconfigured, or lacks the needed method.
	ErrUnavailable = errors.New("transport: mechanism unavailable")
	// ErrNetwork means the call was made and failed: the request errored or
	// the response was not a JSON object.
	ErrNetwork = errors.New("transport: network error")
	// ErrNoRoute is returned when no mechanism is registered for a kind.
	ErrNoRoute = errors.New("transport: no route for operation")
)

// Operation is one request to the remote system. Content is read once, by
// the first mechanism that transfers it.
type Operation struct {
	Kind    Kind
	Name    string
	Content io.Reader
	Size    int64
}

// Response is the parsed JSON object returned by a mechanism.
type Response struct {
	OK        bool
	Status    int
	Body      map[string]any
	Raw       []byte
	Mechanism string
}

// ErrorMessage returns the body's "error" string, if any.
func (r *Response) ErrorMessage() string {
	if r == nil {
		return ""
	}

	msg, _ := r.Body["error"].(string)

	return msg
}

// Mechanism performs operations through one transport.
type Mechanism interface {
	Name() string
	Perform(ctx context.Context, op Operation) (*Response, error)
}

// Selector dispatches operations to their ordered mechanism lists.
type Selector struct {
	routes map[Kind][]Mechanism
	logger *slog.Logger
}

// NewSelector creates a Selector with no routes.
func NewSelector(logger *slog.Logger) *Selector {
	if logger == nil {
		logger = slog.Default()
	}

	return &Selector{routes: make(map[Kind][]Mechanism), logger: logger}
}

// Route appends mechanisms, in preference order, to the route for kind.
func (s *Selector) Route(kind Kind, mechs ...Mechanism) *Selector {
	s.routes[kind] = append(s.routes[kind], mechs...)
	return s
}

// Mechanisms returns the names on the route for kind, in order.
func (s *Selector) Mechanisms(kind Kind) []string {
	names := make([]string, 0, len(s.routes[kind]))
	for _, m := range s.routes[kind] {
		names = append(names, m.Name())
	}

	return names
}

// Perform tries each mechanism on the route in order and returns the first
// response. When every candidate fails, the per-mechanism errors are joined.
// A canceled context stops the walk without trying later candidates.
func (s *Selector) Perform(ctx context.Context, op Operation) (*Response, error) {
	route := s.routes[op.Kind]
	if len(route) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoRoute, op.Kind)
	}

	var errs []error

	for i, m := range route {
		resp, err := m.Perform(ctx, op)
		if err == nil {
			if i > 0 {
				s.logger.Debug("served by fallback mechanism",
					slog.String("op", op.Kind.String()),
					slog.String("mechanism", m.Name()),
				)
			}

			resp.Mechanism = m.Name()

			return resp, nil
		}

		errs = append(errs, fmt.Errorf("%s: %w", m.Name(), err))

		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, errors.Join(append(errs, ctxErr)...)
		}

		if errors.Is(err, ErrUnavailable) {
			s.logger.Debug("mechanism unavailable",
				slog.String("op", op.Kind.String()),
				slog.String("mechanism", m.Name()),
				slog.String("error", err.Error()),
			)

			continue
		}

		s.logger.Warn("mechanism call failed",
			slog.String("op", op.Kind.String()),
			slog.String("mechanism", m.Name()),
			slog.String("error", err.Error()),
		)
	}

	return nil, errors.Join(errs...)
}

// newResponse builds a Response from a decoded object. A body without a
// boolean "ok" field is judged by its status code.
func newResponse(status int, body map[string]any, raw []byte) *Response {
	ok, found := body["ok"].(bool)
	if !found {
		ok = status >= http.StatusOK && status < http.StatusMultipleChoices
	}

	return &Response{OK: ok, Status: status, Body: body, Raw: raw}
}
