// Package identity drives sign-in against the platform's identity provider.
// Mounting the sign-in starts an OAuth2 flow (device code or browser with
// PKCE) that completes in the background and persists the session file;
// callers learn about the new session by polling, not by waiting on Mount.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/tonimelisma/filehub-go/internal/tokenfile"
)

// Flow names.
const (
	FlowDevice  = "device"
	FlowBrowser = "browser"
)

var (
	// ErrWidgetMount wraps every failure to render the sign-in prompt.
	ErrWidgetMount = errors.New("identity: sign-in failed to mount")
	// ErrNotSignedIn is returned by Token when no session file exists.
	ErrNotSignedIn = errors.New("identity: not signed in")
	// ErrNoPendingSignIn is returned by Wait when nothing is mounted.
	ErrNoPendingSignIn = errors.New("identity: no sign-in in progress")
)

// Config configures a Provider.
type Config struct {
	ClientID      string
	AuthURL       string
	TokenURL      string
	DeviceAuthURL string
	Scopes        []string
	// RedirectPath is the post-login redirect target of the browser flow.
	RedirectPath string
	Flow         string
	SessionPath  string
}

// Prompt is what the user needs to complete sign-in: a device code and
// verification URL, or an authorization URL to open in a browser.
type Prompt struct {
	Flow            string `json:"flow"`
	UserCode        string `json:"user_code,omitempty"`
	VerificationURI string `json:"verification_uri,omitempty"`
	AuthURL         string `json:"auth_url,omitempty"`
}

// Provider is the sign-in widget. It also serves as the token source for the
// hub client: tokens are read from the session file written by the flow.
type Provider struct {
	cfg     Config
	oauth   *oauth2.Config
	display func(Prompt)
	openURL func(string) error
	logger  *slog.Logger

	mu      sync.Mutex
	src     oauth2.TokenSource
	cancel  context.CancelFunc
	pending chan error
}

// NewProvider creates a Provider. display shows the Prompt to the user;
// openURL launches a browser (browser flow only, may be nil).
func NewProvider(cfg Config, display func(Prompt), openURL func(string) error, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}

	if display == nil {
		display = func(Prompt) {}
	}

	p := &Provider{
		cfg:     cfg,
		display: display,
		openURL: openURL,
		logger:  logger,
	}
	p.oauth = p.oauthConfig()

	return p
}

// oauthConfig builds the oauth2.Config with OnTokenChange wired to persist
// refreshed tokens next to the cached identity.
func (p *Provider) oauthConfig() *oauth2.Config {
	path := p.cfg.SessionPath
	logger := p.logger

	return &oauth2.Config{
		ClientID: p.cfg.ClientID,
		Scopes:   p.cfg.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:       p.cfg.AuthURL,
			TokenURL:      p.cfg.TokenURL,
			DeviceAuthURL: p.cfg.DeviceAuthURL,
		},
		// Called by ReuseTokenSource after each silent refresh, outside its mutex.
		OnTokenChange: func(tok *oauth2.Token) {
			if err := tokenfile.SaveToken(path, tok); err != nil {
				logger.Warn("failed to persist refreshed token",
					slog.String("path", path),
					slog.String("error", err.Error()),
				)

				return
			}

			logger.Info("persisted refreshed token", slog.Time("new_expiry", tok.Expiry))
		},
	}
}

// Mount renders the sign-in prompt and starts the authorization in the
// background. It returns once the prompt is shown; any earlier failure wraps
// ErrWidgetMount. A previous pending sign-in is abandoned.
func (p *Provider) Mount(ctx context.Context) error {
	p.abandon()

	authCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	var (
		complete func(context.Context) (*oauth2.Token, error)
		err      error
	)

	switch p.cfg.Flow {
	case FlowBrowser:
		complete, err = p.mountBrowser(ctx)
	case FlowDevice, "":
		complete, err = p.mountDevice(ctx)
	default:
		err = fmt.Errorf("unknown flow %q", p.cfg.Flow)
	}

	if err != nil {
		cancel()
		return fmt.Errorf("%w: %w", ErrWidgetMount, err)
	}

	done := make(chan error, 1)

	p.mu.Lock()
	p.cancel = cancel
	p.pending = done
	p.mu.Unlock()

	go func() {
		defer cancel()
		done <- p.finish(authCtx, complete)
	}()

	return nil
}

// finish waits for the flow to yield a token and persists it.
func (p *Provider) finish(ctx context.Context, complete func(context.Context) (*oauth2.Token, error)) error {
	tok, err := complete(ctx)
	if err != nil {
		if ctx.Err() != nil {
			p.logger.Info("sign-in abandoned")
			return fmt.Errorf("identity: sign-in canceled: %w", ctx.Err())
		}

		p.logger.Warn("sign-in failed", slog.String("error", err.Error()))

		return fmt.Errorf("identity: sign-in failed: %w", err)
	}

	if err := tokenfile.Save(p.cfg.SessionPath, &tokenfile.File{Token: tok}); err != nil {
		return fmt.Errorf("identity: saving session: %w", err)
	}

	p.mu.Lock()
	p.src = p.oauth.TokenSource(context.Background(), tok)
	p.mu.Unlock()

	p.logger.Info("sign-in complete, session saved",
		slog.String("path", p.cfg.SessionPath),
		slog.Time("expiry", tok.Expiry),
	)

	return nil
}

// mountDevice requests a device code and shows it.
func (p *Provider) mountDevice(ctx context.Context) (func(context.Context) (*oauth2.Token, error), error) {
	p.logger.Info("starting device code sign-in")

	da, err := p.oauth.DeviceAuth(ctx)
	if err != nil {
		return nil, fmt.Errorf("device authorization request: %w", err)
	}

	uri := da.VerificationURIComplete
	if uri == "" {
		uri = da.VerificationURI
	}

	p.display(Prompt{Flow: FlowDevice, UserCode: da.UserCode, VerificationURI: uri})

	return func(ctx context.Context) (*oauth2.Token, error) {
		return p.oauth.DeviceAccessToken(ctx, da)
	}, nil
}

// Wait blocks until the pending sign-in finishes and returns its result.
func (p *Provider) Wait(ctx context.Context) error {
	p.mu.Lock()
	done := p.pending
	p.mu.Unlock()

	if done == nil {
		return ErrNoPendingSignIn
	}

	select {
	case err := <-done:
		// Keep the result readable for a later Wait.
		done <- err
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Failed returns the error of a sign-in that has already ended in failure.
// It returns nil while the sign-in is pending, after success, or when none
// was started.
func (p *Provider) Failed() error {
	p.mu.Lock()
	done := p.pending
	p.mu.Unlock()

	if done == nil {
		return nil
	}

	select {
	case err := <-done:
		done <- err
		return err
	default:
		return nil
	}
}

// abandon cancels a pending sign-in, if any.
func (p *Provider) abandon() {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.pending = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// SignOut abandons any pending sign-in and removes the session file.
func (p *Provider) SignOut(_ context.Context) error {
	p.abandon()

	p.mu.Lock()
	p.src = nil
	p.mu.Unlock()

	if err := tokenfile.Remove(p.cfg.SessionPath); err != nil {
		return err
	}

	p.logger.Info("signed out", slog.String("path", p.cfg.SessionPath))

	return nil
}

// Token returns a valid access token, refreshing it when needed. It returns
// ErrNotSignedIn while no session file exists.
func (p *Provider) Token() (string, error) {
	src, err := p.source()
	if err != nil {
		return "", err
	}

	t, err := src.Token()
	if err != nil {
		p.logger.Warn("token acquisition failed", slog.String("error", err.Error()))
		return "", fmt.Errorf("identity: obtaining token: %w", err)
	}

	p.logger.Debug("token acquired", slog.Time("expiry", t.Expiry))

	return t.AccessToken, nil
}

// source returns the cached token source, loading the session file once.
func (p *Provider) source() (oauth2.TokenSource, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.src != nil {
		return p.src, nil
	}

	sf, err := tokenfile.Load(p.cfg.SessionPath)
	if err != nil {
		return nil, err
	}

	if sf == nil {
		return nil, ErrNotSignedIn
	}

	expired := !sf.Token.Expiry.IsZero() && sf.Token.Expiry.Before(time.Now())
	p.logger.Debug("loaded saved session",
		slog.Time("expiry", sf.Token.Expiry),
		slog.Bool("expired", expired),
	)

	p.src = p.oauth.TokenSource(context.Background(), sf.Token)

	return p.src, nil
}

// Remember caches the signed-in identity in the session file.
func (p *Provider) Remember(identity string) {
	if identity == "" {
		return
	}

	if err := tokenfile.SetIdentity(p.cfg.SessionPath, identity); err != nil {
		p.logger.Debug("not caching identity", slog.String("error", err.Error()))
	}
}

// CachedIdentity returns the identity cached by Remember, if any.
func (p *Provider) CachedIdentity() string {
	sf, err := tokenfile.Load(p.cfg.SessionPath)
	if err != nil || sf == nil {
		return ""
	}

	return sf.Identity
}
