package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/filehub-go/internal/records"
	"github.com/tonimelisma/filehub-go/internal/tokenfile"
)

// Session states for status reporting.
const (
	sessionStateMissing = "missing"
	sessionStateExpired = "expired"
	sessionStateSaved   = "saved"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show configuration, saved session, ledger and watcher state",
		Long: `Display local state without contacting the platform: where the config
and data live, whether a session is saved, how many uploads the ledger holds,
and whether a drop-folder watcher is running.`,
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE:        runStatus,
	}
}

// statusOutput is the JSON schema for `status --json`.
type statusOutput struct {
	ConfigPath   string `json:"config_path"`
	Origin       string `json:"origin"`
	Flow         string `json:"flow"`
	SessionPath  string `json:"session_path"`
	SessionState string `json:"session_state"`
	Identity     string `json:"identity,omitempty"`
	LedgerPath   string `json:"ledger_path"`
	Uploads      int    `json:"uploads"`
	WatchPID     int    `json:"watch_pid,omitempty"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()
	cfg := cc.Cfg

	out := statusOutput{
		ConfigPath:   cfg.ConfigPath,
		Origin:       cfg.Hub.Origin,
		Flow:         cfg.Auth.Flow,
		SessionPath:  cfg.SessionPath,
		SessionState: sessionStateMissing,
		LedgerPath:   cfg.LedgerPath,
	}

	sf, err := tokenfile.Load(cfg.SessionPath)
	if err != nil {
		cc.Logger.Warn("reading session file", slog.String("error", err.Error()))
	}

	if sf != nil {
		out.SessionState = sessionStateSaved
		out.Identity = sf.Identity

		// An expired access token with a refresh token is still usable.
		if !sf.Token.Valid() && sf.Token.RefreshToken == "" {
			out.SessionState = sessionStateExpired
		}
	}

	if _, statErr := os.Stat(cfg.LedgerPath); statErr == nil {
		ledger, openErr := records.OpenLedger(ctx, cfg.LedgerPath, cc.Logger)
		if openErr != nil {
			return openErr
		}

		out.Uploads, err = ledger.Count(ctx)
		ledger.Close()

		if err != nil {
			return err
		}
	}

	if pid, running := watchRunning(cfg.PIDPath); running {
		out.WatchPID = pid
	}

	if cc.Flags.JSON {
		return printJSON(os.Stdout, out)
	}

	printStatus(os.Stdout, out)

	return nil
}

func printStatus(w io.Writer, s statusOutput) {
	origin := s.Origin
	if origin == "" {
		origin = "(not set)"
	}

	configPath := s.ConfigPath
	if configPath == "" {
		configPath = "(defaults)"
	}

	fmt.Fprintf(w, "Config:   %s\n", configPath)
	fmt.Fprintf(w, "Origin:   %s\n", origin)
	fmt.Fprintf(w, "Sign-in:  %s flow\n", s.Flow)

	session := s.SessionState
	if s.Identity != "" {
		session += " (" + s.Identity + ")"
	}

	fmt.Fprintf(w, "Session:  %s\n", session)
	fmt.Fprintf(w, "Ledger:   %d uploads in %s\n", s.Uploads, s.LedgerPath)

	if s.WatchPID > 0 {
		fmt.Fprintf(w, "Watcher:  running (PID %d)\n", s.WatchPID)
	} else {
		fmt.Fprintln(w, "Watcher:  not running")
	}
}
