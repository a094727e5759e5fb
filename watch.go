package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/filehub-go/internal/dropwatch"
	"github.com/tonimelisma/filehub-go/internal/upload"
)

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch DIR",
		Short: "Upload files dropped into a folder",
		Long: `Watch DIR and upload files that appear in it.

Files are collected until the folder has been quiet for the settle period,
then uploaded as one batch. Hidden files and partial downloads are ignored.
Only one watcher runs at a time.`,
		Args: cobra.ExactArgs(1),
		RunE: runWatch,
	}

	cmd.Flags().Duration("settle", 2*time.Second, "quiet period before a batch is uploaded")
	cmd.Flags().Bool("existing", false, "also upload files already in the folder")

	return cmd
}

func runWatch(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx, stop := shutdownContext(cmd.Context(), cc.Logger)
	defer stop()

	settle, err := cmd.Flags().GetDuration("settle")
	if err != nil {
		return err
	}

	existing, err := cmd.Flags().GetBool("existing")
	if err != nil {
		return err
	}

	w, err := dropwatch.New(args[0], dropwatch.Options{
		Logger:       cc.Logger,
		Settle:       settle,
		ScanExisting: existing,
	})
	if err != nil {
		return err
	}

	cleanup, err := writePIDFile(cc.Cfg.PIDPath)
	if err != nil {
		return err
	}
	defer cleanup()

	a, err := newApp(ctx, cc, newTerminalPresenter(os.Stderr, cc.Flags.Quiet), appOptions{requireHub: true, ledger: true})
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.requireSession(ctx); err != nil {
		return err
	}

	cc.Statusf("Watching %s. Press Ctrl-C to stop.\n", w.Dir())

	return w.Run(ctx, uploadBatchFunc(a, cc.Logger))
}

// uploadBatchFunc uploads each settled batch through the controller. A batch
// refused for lack of a session is logged; the watcher keeps running so a
// later `filehub login` picks up again.
func uploadBatchFunc(a *app, logger *slog.Logger) dropwatch.BatchFunc {
	return func(ctx context.Context, tasks []upload.Task) {
		report, err := a.ctrl.UploadFiles(ctx, tasks)

		switch {
		case errors.Is(err, upload.ErrSessionAbsent):
			logger.Warn("drop folder batch refused: not signed in", slog.Int("files", len(tasks)))

			// Pick up a session established elsewhere before the next batch.
			if initErr := a.ctrl.Init(ctx); initErr != nil {
				logger.Debug("session recheck failed", slog.String("error", initErr.Error()))
			}
		case err != nil:
			logger.Warn("drop folder batch failed", slog.String("error", err.Error()))
		default:
			logger.Info("drop folder batch uploaded",
				slog.String("batch_id", report.BatchID),
				slog.Int("succeeded", report.Succeeded()),
				slog.Int("failed", report.Failed()),
			)
		}
	}
}
