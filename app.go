package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cookiejar"

	"github.com/tonimelisma/filehub-go/internal/config"
	"github.com/tonimelisma/filehub-go/internal/controller"
	"github.com/tonimelisma/filehub-go/internal/hub"
	"github.com/tonimelisma/filehub-go/internal/identity"
	"github.com/tonimelisma/filehub-go/internal/records"
	"github.com/tonimelisma/filehub-go/internal/session"
	"github.com/tonimelisma/filehub-go/internal/transport"
	"github.com/tonimelisma/filehub-go/internal/upload"
)

// appOptions selects what a command needs from the app.
type appOptions struct {
	// requireHub fails early when no origin is configured.
	requireHub bool
	// ledger opens the local upload history.
	ledger bool
}

// app is the wired object graph behind the session commands.
type app struct {
	cfg      *config.Resolved
	logger   *slog.Logger
	client   *hub.Client
	provider *identity.Provider
	selector *transport.Selector
	ledger   *records.Ledger
	ctrl     *controller.Controller
}

// newHTTPClient returns a client with the configured timeout and a cookie
// jar, so platform session cookies travel with function calls.
func newHTTPClient(cfg *config.Resolved) *http.Client {
	jar, _ := cookiejar.New(nil) // only fails on a bad public suffix list option

	return &http.Client{Jar: jar, Timeout: cfg.Timeout}
}

// newApp wires identity, transport, session checking, side records and the
// controller. Events go to presenter.
func newApp(ctx context.Context, cc *CLIContext, presenter controller.Presenter, opts appOptions) (*app, error) {
	cfg := cc.Cfg
	logger := cc.Logger

	if opts.requireHub {
		if err := cfg.RequireHub(); err != nil {
			return nil, err
		}
	}

	a := &app{cfg: cfg, logger: logger}

	a.provider = identity.NewProvider(identity.Config{
		ClientID:      cfg.Auth.ClientID,
		AuthURL:       cfg.Auth.AuthURL,
		TokenURL:      cfg.Auth.TokenURL,
		DeviceAuthURL: cfg.Auth.DeviceAuthURL,
		Scopes:        cfg.Auth.Scopes,
		RedirectPath:  cfg.Auth.RedirectPath,
		Flow:          cfg.Auth.Flow,
		SessionPath:   cfg.SessionPath,
	}, func(p identity.Prompt) {
		presenter.Emit(controller.Event{Kind: controller.EventPrompt, State: controller.RenderingLogin, Prompt: &p})
	}, openBrowser, logger)

	a.client = hub.NewClient(hub.Options{
		Origin:       cfg.Hub.Origin,
		FunctionName: cfg.Hub.FunctionName,
		ProjectID:    cfg.Hub.ProjectID,
		UserAgent:    cfg.UserAgent,
		HTTPClient:   newHTTPClient(cfg),
		Token:        a.provider,
		Logger:       logger,
	})

	direct := transport.NewDirect(a.client)
	a.selector = transport.NewSelector(logger).
		Route(transport.KindCheckSession, transport.NewSDK(a.client), direct).
		Route(transport.KindUpload, direct).
		Route(transport.KindList, direct)

	var recorders []upload.Recorder

	if opts.ledger {
		ledger, err := records.OpenLedger(ctx, cfg.LedgerPath, logger)
		if err != nil {
			return nil, err
		}

		a.ledger = ledger
		recorders = append(recorders, ledger)
	}

	recorders = append(recorders, records.NewTable(a.client, cfg.Hub.TableID))

	var recorder upload.Recorder
	if m := records.NewMulti(logger, recorders...); m != nil {
		recorder = m
	}

	ctrl, err := controller.New(controller.Deps{
		Widget:      a.provider,
		Checker:     session.NewTransportChecker(a.selector),
		Transport:   a.selector,
		Presenter:   presenter,
		Logger:      logger,
		Schedule:    cfg.Schedule,
		Recorder:    recorder,
		Limiter:     upload.NewBandwidthLimiter(cfg.BandwidthLimit, logger),
		MaxFileSize: cfg.MaxFileSize,
		OnSignedIn:  a.provider.Remember,
	})
	if err != nil {
		a.close()
		return nil, fmt.Errorf("building controller: %w", err)
	}

	a.ctrl = ctrl

	logger.Debug("app wired",
		slog.String("origin", cfg.Hub.Origin),
		slog.Any("check_session_route", a.selector.Mechanisms(transport.KindCheckSession)),
		slog.Bool("remote_table", cfg.Hub.TableID != ""),
	)

	return a, nil
}

// close stops a running poll and closes the ledger.
func (a *app) close() {
	if a.ctrl != nil {
		a.ctrl.Close()
	}

	if a.ledger != nil {
		if err := a.ledger.Close(); err != nil {
			a.logger.Debug("closing ledger", slog.String("error", err.Error()))
		}
	}
}

// requireSession runs the initial check and fails unless signed in.
func (a *app) requireSession(ctx context.Context) error {
	if err := a.ctrl.Init(ctx); err != nil {
		return err
	}

	if a.ctrl.State() != controller.Authenticated {
		return errNotSignedIn
	}

	return nil
}
