package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/filehub-go/internal/controller"
)

func newLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Sign in and wait until the session is established",
		Long: `Sign in with the platform's identity provider.

The device flow prints a code to enter on the verification page; the browser
flow opens the sign-in page and catches the redirect on localhost. Either way,
login then polls for the session on the configured schedule.`,
		RunE: runLogin,
	}
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "logout",
		Short:       "Sign out and remove the saved session",
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE:        runLogout,
	}
}

func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Display the signed-in user",
		RunE:  runWhoami,
	}
}

func runLogin(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx, stop := shutdownContext(cmd.Context(), cc.Logger)
	defer stop()

	a, err := newApp(ctx, cc, newTerminalPresenter(os.Stderr, cc.Flags.Quiet), appOptions{requireHub: true})
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.ctrl.Init(ctx); err != nil {
		return err
	}

	if a.ctrl.State() == controller.Authenticated {
		return nil
	}

	if err := a.ctrl.StartSignIn(ctx); err != nil {
		return err
	}

	state, err := a.ctrl.WaitForSignIn(ctx)
	if err != nil {
		return fmt.Errorf("sign-in interrupted: %w", err)
	}

	if state != controller.Authenticated {
		// Surface a failed device or browser flow over the generic exhaustion.
		if flowErr := a.provider.Failed(); flowErr != nil {
			return flowErr
		}

		return errors.New("sign-in did not complete")
	}

	cc.Logger.Info("login successful", slog.String("identity", a.ctrl.Session().Identity))

	return nil
}

func runLogout(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	a, err := newApp(cmd.Context(), cc, newTerminalPresenter(os.Stderr, cc.Flags.Quiet), appOptions{})
	if err != nil {
		return err
	}
	defer a.close()

	return a.ctrl.SignOut(cmd.Context())
}

// whoamiOutput is the JSON schema for `whoami --json`.
type whoamiOutput struct {
	SignedIn bool   `json:"signed_in"`
	Identity string `json:"identity,omitempty"`
	Origin   string `json:"origin"`
}

func runWhoami(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	a, err := newApp(ctx, cc, controller.PresenterFunc(func(controller.Event) {}), appOptions{requireHub: true})
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.requireSession(ctx); err != nil {
		if cc.Flags.JSON && errors.Is(err, errNotSignedIn) {
			return printJSON(os.Stdout, whoamiOutput{Origin: cc.Cfg.Hub.Origin})
		}

		return err
	}

	identity := a.ctrl.Session().Identity
	if identity == "" {
		identity = a.provider.CachedIdentity()
	}

	if cc.Flags.JSON {
		return printJSON(os.Stdout, whoamiOutput{SignedIn: true, Identity: identity, Origin: cc.Cfg.Hub.Origin})
	}

	if identity == "" {
		identity = "(identity not reported)"
	}

	fmt.Printf("User:    %s\n", identity)
	fmt.Printf("Origin:  %s\n", cc.Cfg.Hub.Origin)

	return nil
}
