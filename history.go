package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/filehub-go/internal/records"
)

const defaultHistoryLimit = 20

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent uploads from the local ledger",
		Long: `Show files uploaded from this machine, newest first.

The ledger is kept locally and works without signing in or a network
connection.`,
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE:        runHistory,
	}

	cmd.Flags().IntP("limit", "n", defaultHistoryLimit, "number of uploads to show")

	return cmd
}

func runHistory(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	limit, err := cmd.Flags().GetInt("limit")
	if err != nil {
		return err
	}

	if limit <= 0 {
		return fmt.Errorf("--limit must be positive, got %d", limit)
	}

	ledger, err := records.OpenLedger(ctx, cc.Cfg.LedgerPath, cc.Logger)
	if err != nil {
		return err
	}
	defer ledger.Close()

	entries, err := ledger.Recent(ctx, limit)
	if err != nil {
		return err
	}

	if cc.Flags.JSON {
		if entries == nil {
			entries = []records.Entry{}
		}

		return printJSON(os.Stdout, entries)
	}

	total, err := ledger.Count(ctx)
	if err != nil {
		return err
	}

	printHistory(os.Stdout, entries, total)

	return nil
}

func printHistory(w io.Writer, entries []records.Entry, total int) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No uploads recorded yet.")
		return
	}

	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{formatTime(e.UploadedAt), e.FileName, formatSize(e.FileSize), e.FileID})
	}

	printTable(w, []string{"UPLOADED", "NAME", "SIZE", "FILE ID"}, rows)

	if total > len(entries) {
		fmt.Fprintf(w, "(%d of %d uploads shown)\n", len(entries), total)
	}
}
