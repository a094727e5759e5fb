package session

import (
	"context"
	"fmt"

	"github.com/tonimelisma/filehub-go/internal/transport"
)

// Performer runs a transport operation. Satisfied by *transport.Selector.
type Performer interface {
	Perform(ctx context.Context, op transport.Operation) (*transport.Response, error)
}

// TransportChecker checks for a session through the check-session route.
type TransportChecker struct {
	transport Performer
}

// NewTransportChecker creates a TransportChecker.
func NewTransportChecker(t Performer) *TransportChecker {
	return &TransportChecker{transport: t}
}

// CheckSession implements Checker. An ok response means a session exists;
// its identity is read from the user object or the top level of the body.
func (c *TransportChecker) CheckSession(ctx context.Context) (Session, error) {
	resp, err := c.transport.Perform(ctx, transport.Operation{Kind: transport.KindCheckSession})
	if err != nil {
		return Session{}, fmt.Errorf("session: checking: %w", err)
	}

	if !resp.OK {
		return Session{}, nil
	}

	return Session{Present: true, Identity: IdentityOf(resp.Body)}, nil
}

// IdentityOf extracts the display identity from a session body: email_id,
// then email, looked up under "user" first and then at the top level.
func IdentityOf(body map[string]any) string {
	candidates := []map[string]any{}
	if user, ok := body["user"].(map[string]any); ok {
		candidates = append(candidates, user)
	}

	candidates = append(candidates, body)

	for _, obj := range candidates {
		for _, key := range []string{"email_id", "email"} {
			if s, ok := obj[key].(string); ok && s != "" {
				return s
			}
		}
	}

	return ""
}

// Label renders the signed-in label for a session.
func Label(s Session) string {
	if s.Identity == "" {
		return "Signed in"
	}

	return "Signed in as " + s.Identity
}
