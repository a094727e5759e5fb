package transport

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/tonimelisma/filehub-go/internal/hub"
)

// FunctionClient is the direct network surface: the function endpoint.
// Satisfied by *hub.Client.
type FunctionClient interface {
	ListFiles(ctx context.Context) (*hub.Envelope, error)
	UploadFile(ctx context.Context, name string, r io.Reader) (*hub.Envelope, error)
}

// Direct calls the function endpoint with credentials (session cookies and
// the access token when there is one). It serves every operation kind.
type Direct struct {
	client FunctionClient
}

// NewDirect creates a Direct mechanism over client.
func NewDirect(client FunctionClient) *Direct {
	return &Direct{client: client}
}

// Name implements Mechanism.
func (d *Direct) Name() string { return "direct" }

// Perform implements Mechanism. Check-session and list both GET the
// function; upload POSTs a multipart body.
func (d *Direct) Perform(ctx context.Context, op Operation) (*Response, error) {
	if d == nil || d.client == nil {
		return nil, fmt.Errorf("%w: no function client", ErrUnavailable)
	}

	var (
		env *hub.Envelope
		err error
	)

	switch op.Kind {
	case KindCheckSession, KindList:
		env, err = d.client.ListFiles(ctx)
	case KindUpload:
		if op.Content == nil {
			return nil, errors.New("transport: upload without content")
		}

		env, err = d.client.UploadFile(ctx, op.Name, op.Content)
	default:
		return nil, fmt.Errorf("%w: direct cannot perform %s", ErrUnavailable, op.Kind)
	}

	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNetwork, err)
	}

	return newResponse(env.Status, env.Body, env.Raw), nil
}
