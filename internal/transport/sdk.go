package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/tonimelisma/filehub-go/internal/hub"
)

// sessionSDK is the method the SDK handle must expose for session checks.
type sessionSDK interface {
	CurrentUser(ctx context.Context) (*hub.User, error)
}

// SDK asks the platform SDK surface who is signed in. The handle is held
// loosely: a nil handle, or one without CurrentUser, makes the mechanism
// unavailable rather than broken.
type SDK struct {
	handle any
}

// NewSDK wraps handle, normally a *hub.Client.
func NewSDK(handle any) *SDK {
	return &SDK{handle: handle}
}

// Name implements Mechanism.
func (s *SDK) Name() string { return "sdk" }

// Perform implements Mechanism for KindCheckSession only. An unauthorized
// answer is a definitive "no session" response, not a failure; missing
// credentials or project make the mechanism unavailable.
func (s *SDK) Perform(ctx context.Context, op Operation) (*Response, error) {
	if op.Kind != KindCheckSession {
		return nil, fmt.Errorf("%w: sdk cannot perform %s", ErrUnavailable, op.Kind)
	}

	if s == nil || s.handle == nil {
		return nil, fmt.Errorf("%w: sdk handle absent", ErrUnavailable)
	}

	sdk, ok := s.handle.(sessionSDK)
	if !ok {
		return nil, fmt.Errorf("%w: sdk handle %T lacks CurrentUser", ErrUnavailable, s.handle)
	}

	user, err := sdk.CurrentUser(ctx)

	switch {
	case err == nil:
		return &Response{
			OK:     true,
			Status: http.StatusOK,
			Body: map[string]any{
				"ok": true,
				"user": map[string]any{
					"user_id":    user.ID,
					"email_id":   user.Email,
					"first_name": user.FirstName,
					"last_name":  user.LastName,
				},
			},
		}, nil
	case errors.Is(err, hub.ErrUnauthorized):
		return &Response{
			OK:     false,
			Status: http.StatusUnauthorized,
			Body:   map[string]any{"ok": false, "error": "not signed in"},
		}, nil
	case errors.Is(err, hub.ErrNoToken), errors.Is(err, hub.ErrNoProject):
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	default:
		return nil, fmt.Errorf("%w: %w", ErrNetwork, err)
	}
}
