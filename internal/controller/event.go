package controller

import (
	"fmt"

	"github.com/tonimelisma/filehub-go/internal/hub"
	"github.com/tonimelisma/filehub-go/internal/identity"
	"github.com/tonimelisma/filehub-go/internal/upload"
)

// RenderState is the top-level view the presentation layer shows.
type RenderState int

// Render states.
const (
	Unauthenticated RenderState = iota
	RenderingLogin
	PollingForSession
	Authenticated
	SigningOut
)

func (s RenderState) String() string {
	switch s {
	case Unauthenticated:
		return "unauthenticated"
	case RenderingLogin:
		return "rendering_login"
	case PollingForSession:
		return "polling_for_session"
	case Authenticated:
		return "authenticated"
	case SigningOut:
		return "signing_out"
	default:
		return fmt.Sprintf("render_state(%d)", int(s))
	}
}

// MarshalText renders the state by name in JSON events.
func (s RenderState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// EventKind tells the presenter which area an Event updates.
type EventKind string

// Event kinds.
const (
	EventState        EventKind = "state"
	EventAuthStatus   EventKind = "auth_status"
	EventPrompt       EventKind = "prompt"
	EventUploadStatus EventKind = "upload_status"
	EventUploadResult EventKind = "upload_result"
	EventUploadReport EventKind = "upload_report"
	EventListing      EventKind = "listing"
	EventError        EventKind = "error"
)

// Event is one update for the presentation layer.
type Event struct {
	Kind     EventKind           `json:"kind"`
	State    RenderState         `json:"state"`
	Message  string              `json:"message,omitempty"`
	Identity string              `json:"identity,omitempty"`
	Attempt  int                 `json:"attempt,omitempty"`
	Prompt   *identity.Prompt    `json:"prompt,omitempty"`
	Result   *upload.Result      `json:"result,omitempty"`
	Report   *upload.BatchReport `json:"report,omitempty"`
	Listing  *hub.Listing        `json:"listing,omitempty"`
	Error    string              `json:"error,omitempty"`
}

// Presenter receives Events. Emit is called from the caller's goroutine and
// from the poll goroutine, so it must be safe for concurrent use.
type Presenter interface {
	Emit(Event)
}

// PresenterFunc adapts a function to Presenter.
type PresenterFunc func(Event)

// Emit implements Presenter.
func (f PresenterFunc) Emit(e Event) { f(e) }

// Status messages shown by the presenter.
const (
	msgNotSignedIn     = "Not signed in. Run `filehub login`."
	msgRendering       = "Starting sign-in..."
	msgAlreadyRendered = "Sign-in already in progress. Complete sign-in with the code shown."
	msgAlreadySignedIn = "Already signed in."
	msgReady           = "Ready."
	msgSignedOut       = "Signed out. Run `filehub login`."
	msgSignInCanceled  = "Sign-in canceled."
	msgPleaseSignIn    = "Please sign in first."
	msgLoading         = "Loading..."
)
