package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

// stateTokenBytes is the number of random bytes for the OAuth2 state parameter.
const stateTokenBytes = 16

// shutdownTimeout is how long to wait for the callback server to drain.
const shutdownTimeout = 5 * time.Second

// callbackResult carries the authorization code or error from the callback handler.
type callbackResult struct {
	code string
	err  error
}

// mountBrowser starts the localhost callback listener on the configured
// redirect path, builds the PKCE authorization URL, and opens it. The
// returned function waits for the redirect and exchanges the code.
func (p *Provider) mountBrowser(ctx context.Context) (func(context.Context) (*oauth2.Token, error), error) {
	p.logger.Info("starting browser sign-in (authorization code + PKCE)")

	lc := net.ListenConfig{}

	listener, err := lc.Listen(ctx, "tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("binding localhost listener: %w", err)
	}

	tcpAddr, ok := listener.Addr().(*net.TCPAddr)
	if !ok {
		listener.Close()
		return nil, errors.New("listener address is not TCP")
	}

	state, err := generateState()
	if err != nil {
		listener.Close()
		return nil, fmt.Errorf("generating state token: %w", err)
	}

	cfg := *p.oauth
	cfg.RedirectURL = fmt.Sprintf("http://localhost:%d%s", tcpAddr.Port, p.cfg.RedirectPath)

	resultCh := make(chan callbackResult, 1)
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+p.cfg.RedirectPath, func(w http.ResponseWriter, r *http.Request) {
		handleCallback(w, r, state, resultCh)
	})

	srv := &http.Server{Handler: mux, ReadHeaderTimeout: shutdownTimeout}

	go func() {
		if serveErr := srv.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			deliver(resultCh, callbackResult{err: fmt.Errorf("callback server: %w", serveErr)})
		}
	}()

	p.logger.Info("callback server listening",
		slog.Int("port", tcpAddr.Port),
		slog.String("path", p.cfg.RedirectPath),
	)

	verifier := oauth2.GenerateVerifier()
	authURL := cfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.S256ChallengeOption(verifier))

	p.launchBrowser(authURL)

	return func(ctx context.Context) (*oauth2.Token, error) {
		defer p.shutdown(srv)

		code, err := waitForCallback(ctx, resultCh)
		if err != nil {
			return nil, err
		}

		p.logger.Info("received authorization code, exchanging for token")

		return cfg.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	}, nil
}

// launchBrowser opens the authorization URL; when that fails, the URL is
// shown in the prompt so the user can open it by hand.
func (p *Provider) launchBrowser(authURL string) {
	if p.openURL != nil {
		err := p.openURL(authURL)
		if err == nil {
			p.display(Prompt{Flow: FlowBrowser, AuthURL: authURL})
			return
		}

		p.logger.Warn("failed to open browser", slog.String("error", err.Error()))
	}

	p.display(Prompt{Flow: FlowBrowser, AuthURL: authURL, VerificationURI: authURL})
}

// handleCallback validates the state, extracts the code, and sends the result.
func handleCallback(w http.ResponseWriter, r *http.Request, state string, resultCh chan<- callbackResult) {
	q := r.URL.Query()

	if q.Get("state") != state {
		http.Error(w, "Invalid state parameter", http.StatusBadRequest)
		deliver(resultCh, callbackResult{err: errors.New("OAuth2 state mismatch (possible CSRF)")})

		return
	}

	if errParam := q.Get("error"); errParam != "" {
		http.Error(w, "Authorization failed: "+errParam, http.StatusBadRequest)
		deliver(resultCh, callbackResult{err: fmt.Errorf("authorization failed: %s: %s", errParam, q.Get("error_description"))})

		return
	}

	code := q.Get("code")
	if code == "" {
		http.Error(w, "Missing authorization code", http.StatusBadRequest)
		deliver(resultCh, callbackResult{err: errors.New("callback missing authorization code")})

		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, "<html><body><h1>Signed in</h1>"+
		"<p>You can close this window and return to the terminal.</p></body></html>")
	deliver(resultCh, callbackResult{code: code})
}

// deliver sends without blocking: only the first result matters.
func deliver(ch chan<- callbackResult, r callbackResult) {
	select {
	case ch <- r:
	default:
	}
}

// waitForCallback blocks until the callback fires or the context is canceled.
func waitForCallback(ctx context.Context, resultCh <-chan callbackResult) (string, error) {
	select {
	case result := <-resultCh:
		return result.code, result.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// shutdown gracefully stops the callback server.
func (p *Provider) shutdown(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		p.logger.Warn("callback server shutdown error", slog.String("error", err.Error()))
	}
}

// generateState produces a random hex string for the OAuth2 state parameter.
func generateState() (string, error) {
	b := make([]byte, stateTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}

	return hex.EncodeToString(b), nil
}
