package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/filehub-go/internal/upload"
)

// errUploadsFailed is returned when at least one file of a batch failed.
var errUploadsFailed = errors.New("some uploads failed")

func newUploadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "upload FILE...",
		Short: "Upload files to the file hub",
		Long: `Upload one or more local files, one at a time, in the order given.

A failed file does not stop the rest; each file's outcome is reported. After
the batch the stored file list is refreshed.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runUpload,
	}
}

// uploadOutput is the JSON schema for `upload --json`.
type uploadOutput struct {
	BatchID   string          `json:"batch_id,omitempty"`
	Succeeded int             `json:"succeeded"`
	Failed    int             `json:"failed"`
	Results   []upload.Result `json:"results"`
}

func runUpload(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx, stop := shutdownContext(cmd.Context(), cc.Logger)
	defer stop()

	tasks := upload.TasksFromPaths(args)

	a, err := newApp(ctx, cc, newTerminalPresenter(os.Stderr, cc.Flags.Quiet || cc.Flags.JSON), appOptions{requireHub: true, ledger: true})
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.ctrl.Init(ctx); err != nil {
		return err
	}

	report, err := a.ctrl.UploadFiles(ctx, tasks)
	if errors.Is(err, upload.ErrSessionAbsent) {
		return errNotSignedIn
	}

	if err != nil {
		return err
	}

	if cc.Flags.JSON {
		if err := printJSON(os.Stdout, uploadOutput{
			BatchID:   report.BatchID,
			Succeeded: report.Succeeded(),
			Failed:    report.Failed(),
			Results:   report.Results,
		}); err != nil {
			return err
		}
	}

	if failed := report.Failed(); failed > 0 {
		return fmt.Errorf("%w: %d of %d", errUploadsFailed, failed, len(report.Results))
	}

	return nil
}
