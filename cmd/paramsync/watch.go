package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/kalambet/paramsync/internal/config"
	"github.com/kalambet/paramsync/internal/paramsync"
	"github.com/kalambet/paramsync/internal/remote"
	"github.com/kalambet/paramsync/internal/watch"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Pull once, then push whenever local preferences change",
	Long: `Open a registry session, pull every declared parameter into the local
store, then watch the store and push after each burst of local edits.
The session is closed on SIGINT or SIGTERM.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := getConfig()
		if err != nil {
			return err
		}
		return runWatch(cmd.Context(), cfg)
	},
}

type pusher interface {
	Push(ctx context.Context) error
}

func runWatch(ctx context.Context, cfg config.Config) error {
	defer setupLogging(cfg).Close()

	env, err := openSyncEnv(ctx, cfg)
	if err != nil {
		return err
	}
	defer env.Close()

	if err := env.syncer.Pull(ctx); err != nil {
		reportEntryErrors(err)
		return fmt.Errorf("initial pull failed: %w", err)
	}
	printSuccess("Pulled %d parameters from %s", env.schema.Len(), env.acc.Namespace())

	if cfg.Watch.PushOnStart {
		if err := pushOnce(ctx, env.syncer); err != nil {
			return err
		}
	}

	w, err := watch.New(env.local.Path(), cfg.WatchDebounce(), watch.WithLogger(slog.Default()))
	if err != nil {
		return err
	}
	if err := w.Start(); err != nil {
		w.Stop()
		return err
	}
	defer w.Stop()

	printStep("Watching %s", env.local.Path())
	return watchLoop(ctx, env.syncer, w.Changes(), w.Errors())
}

// watchLoop pushes on every change notification until ctx is done or the
// registry session is lost.
func watchLoop(ctx context.Context, p pusher, changes <-chan struct{}, errs <-chan error) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-changes:
			if !ok {
				return nil
			}
			if err := pushOnce(ctx, p); err != nil {
				return err
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			slog.Warn("watcher error", "error", err)
		}
	}
}

// pushOnce runs one push. Per-entry failures are reported and swallowed;
// a lost session is returned.
func pushOnce(ctx context.Context, p pusher) error {
	err := p.Push(ctx)
	if err == nil {
		return nil
	}
	// Cancellation can surface as a lost session from the transport.
	if ctx.Err() != nil {
		return nil
	}
	if errors.Is(err, remote.ErrSessionUnavailable) {
		return fmt.Errorf("push aborted: %w", err)
	}
	for _, ee := range paramsync.EntryErrors(err) {
		printWarning("%s", ee)
	}
	return nil
}
