package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/tonimelisma/filehub-go/internal/controller"
	"github.com/tonimelisma/filehub-go/internal/identity"
	"github.com/tonimelisma/filehub-go/internal/session"
)

// statusf prints a status message to stderr unless quiet mode is set.
func statusf(quiet bool, format string, args ...any) {
	if !quiet {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}

// Statusf prints a status message to stderr unless quiet mode is set.
func (cc *CLIContext) Statusf(format string, args ...any) {
	statusf(cc.Flags.Quiet, format, args...)
}

// Size unit constants for human-readable formatting.
const (
	sizeKB = 1024
	sizeMB = 1024 * 1024
	sizeGB = 1024 * 1024 * 1024
	sizeTB = 1024 * 1024 * 1024 * 1024
)

// formatSize returns a human-readable size string (e.g. "1.2 MB").
func formatSize(bytes int64) string {
	switch {
	case bytes >= sizeTB:
		return fmt.Sprintf("%.1f TB", float64(bytes)/float64(sizeTB))
	case bytes >= sizeGB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(sizeGB))
	case bytes >= sizeMB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(sizeMB))
	case bytes >= sizeKB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(sizeKB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

// formatTime returns a compact timestamp for display.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}

	t = t.Local()

	if t.Year() == time.Now().Year() {
		return t.Format("Jan _2 15:04")
	}

	return t.Format("Jan _2  2006")
}

// printTable writes aligned columns to the given writer.
// headers and each row must have the same length.
func printTable(w io.Writer, headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}

	for _, row := range rows {
		for i, cell := range row {
			if len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	printRow(w, headers, widths)

	for _, row := range rows {
		printRow(w, row, widths)
	}
}

// printRow writes a single padded row.
func printRow(w io.Writer, cells []string, widths []int) {
	parts := make([]string, len(cells))
	for i, cell := range cells {
		parts[i] = fmt.Sprintf("%-*s", widths[i], cell)
	}

	fmt.Fprintln(w, strings.TrimRight(strings.Join(parts, "  "), " "))
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}

	return nil
}

// terminalPresenter renders controller Events as status lines. Sign-in
// prompts are always shown, even with --quiet. On a terminal, poll progress
// rewrites a single line.
type terminalPresenter struct {
	w     io.Writer
	quiet bool
	tty   bool

	mu         sync.Mutex
	progressOn bool
}

func newTerminalPresenter(w io.Writer, quiet bool) *terminalPresenter {
	return &terminalPresenter{w: w, quiet: quiet, tty: isTerminal(w)}
}

// Emit implements controller.Presenter.
func (p *terminalPresenter) Emit(e controller.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch e.Kind {
	case controller.EventPrompt:
		p.endProgress()
		p.prompt(e.Prompt)
	case controller.EventAuthStatus:
		if p.quiet {
			return
		}

		if e.Attempt > 0 && p.tty {
			fmt.Fprintf(p.w, "\r\033[K%s", e.Message)
			p.progressOn = true

			return
		}

		p.endProgress()
		fmt.Fprintln(p.w, e.Message)
	case controller.EventState:
		if e.State == controller.Authenticated && !p.quiet {
			p.endProgress()
			fmt.Fprintln(p.w, session.Label(session.Session{Present: true, Identity: e.Identity}))
		}
	case controller.EventUploadStatus:
		if !p.quiet {
			fmt.Fprintln(p.w, e.Message)
		}
	case controller.EventUploadResult:
		if p.quiet || e.Result == nil {
			return
		}

		r := e.Result
		if r.OK {
			fmt.Fprintf(p.w, "  uploaded  %s (%s)\n", r.TaskName, r.RemoteID)
		} else {
			fmt.Fprintf(p.w, "  failed    %s: %s\n", r.TaskName, r.ErrorMessage)
		}

		if r.MetadataError != "" {
			fmt.Fprintf(p.w, "            record not saved: %s\n", r.MetadataError)
		}
	case controller.EventError:
		p.endProgress()

		if !p.quiet {
			fmt.Fprintf(p.w, "%s %s\n", e.Message, e.Error)
		}
	}
}

// endProgress finishes a rewritten progress line. Callers hold mu.
func (p *terminalPresenter) endProgress() {
	if p.progressOn {
		fmt.Fprintln(p.w)
		p.progressOn = false
	}
}

func (p *terminalPresenter) prompt(pr *identity.Prompt) {
	if pr == nil {
		return
	}

	switch pr.Flow {
	case identity.FlowBrowser:
		fmt.Fprintf(p.w, "Sign in in your browser. If it did not open, visit:\n%s\n", pr.AuthURL)
	default:
		fmt.Fprintf(p.w, "To sign in, visit: %s\n", pr.VerificationURI)
		fmt.Fprintf(p.w, "Enter code: %s\n", pr.UserCode)
	}
}

// presenters fans Events out to several presenters.
type presenters []controller.Presenter

// Emit implements controller.Presenter.
func (ps presenters) Emit(e controller.Event) {
	for _, p := range ps {
		p.Emit(e)
	}
}
