package main

import (
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/filehub-go/internal/controller"
	"github.com/tonimelisma/filehub-go/internal/dropwatch"
	"github.com/tonimelisma/filehub-go/internal/feed"
)

const defaultListenAddr = "127.0.0.1:8765"

func newUICmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ui",
		Short: "Serve a live event feed for a local UI",
		Long: `Serve controller events over a websocket at ws://ADDR/feed.

Clients receive every state change, sign-in prompt, upload result and file
listing as JSON, and may send commands:

  {"command": "sign_in"}
  {"command": "sign_out"}
  {"command": "refresh"}
  {"command": "upload", "paths": ["/path/to/file"]}

With --watch, files dropped into DIR are uploaded as well.`,
		Args: cobra.NoArgs,
		RunE: runUI,
	}

	cmd.Flags().String("listen", defaultListenAddr, "address to serve the feed on")
	cmd.Flags().String("watch", "", "also upload files dropped into this folder")
	cmd.Flags().StringSlice("allow-origin", nil, "extra browser origins allowed to connect (host patterns)")

	return cmd
}

func runUI(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx, stop := shutdownContext(cmd.Context(), cc.Logger)
	defer stop()

	listen, err := cmd.Flags().GetString("listen")
	if err != nil {
		return err
	}

	watchDir, err := cmd.Flags().GetString("watch")
	if err != nil {
		return err
	}

	origins, err := cmd.Flags().GetStringSlice("allow-origin")
	if err != nil {
		return err
	}

	var watcher *dropwatch.Watcher

	if watchDir != "" {
		if watcher, err = dropwatch.New(watchDir, dropwatch.Options{Logger: cc.Logger}); err != nil {
			return err
		}

		cleanup, err := writePIDFile(cc.Cfg.PIDPath)
		if err != nil {
			return err
		}
		defer cleanup()
	}

	// The feed needs the controller and the controller needs a presenter;
	// srv is set before the first Event can be emitted.
	var srv *feed.Server

	toFeed := controller.PresenterFunc(func(e controller.Event) {
		if srv != nil {
			srv.Emit(e)
		}
	})

	a, err := newApp(ctx, cc, presenters{newTerminalPresenter(os.Stderr, cc.Flags.Quiet), toFeed}, appOptions{requireHub: true, ledger: true})
	if err != nil {
		return err
	}
	defer a.close()

	srv = feed.New(a.ctrl, feed.Options{Logger: cc.Logger, OriginPatterns: origins})

	if err := a.ctrl.Init(ctx); err != nil {
		return err
	}

	cc.Statusf("Feed at ws://%s%s. Press Ctrl-C to stop.\n", listen, feed.Path)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return srv.ListenAndServe(gctx, listen)
	})

	if watcher != nil {
		g.Go(func() error {
			return watcher.Run(gctx, uploadBatchFunc(a, cc.Logger))
		})
	}

	return g.Wait()
}
