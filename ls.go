package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/filehub-go/internal/controller"
	"github.com/tonimelisma/filehub-go/internal/hub"
)

func newLsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls",
		Short: "List files stored by the file hub",
		Args:  cobra.NoArgs,
		RunE:  runLs,
	}
}

func runLs(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	var last *hub.Listing

	// Entering Authenticated refreshes once; keep that listing.
	catch := controller.PresenterFunc(func(e controller.Event) {
		if e.Kind == controller.EventListing && e.Listing != nil {
			last = e.Listing
		}
	})

	a, err := newApp(ctx, cc, presenters{newTerminalPresenter(os.Stderr, true), catch}, appOptions{requireHub: true})
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.requireSession(ctx); err != nil {
		return err
	}

	listing := last
	if listing == nil {
		if listing, err = a.ctrl.Refresh(ctx); err != nil {
			return fmt.Errorf("listing files: %w", err)
		}
	}

	if cc.Flags.JSON {
		return printJSON(os.Stdout, listing)
	}

	printListing(os.Stdout, listing)

	return nil
}

func printListing(w io.Writer, l *hub.Listing) {
	if l == nil || len(l.Rows) == 0 {
		fmt.Fprintln(w, "No files stored.")
		return
	}

	rows := make([][]string, 0, len(l.Rows))
	for _, r := range l.Rows {
		created := r.CreatedTime
		if created == "" {
			created = "-"
		}

		rows = append(rows, []string{r.FileName, formatSize(r.FileSize), r.FileID, created})
	}

	printTable(w, []string{"NAME", "SIZE", "FILE ID", "CREATED"}, rows)

	if l.Count > len(l.Rows) {
		fmt.Fprintf(w, "(showing %d of %d)\n", len(l.Rows), l.Count)
	}
}
