package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/kalambet/paramsync/internal/config"
	"github.com/kalambet/paramsync/internal/param"
	"github.com/kalambet/paramsync/internal/paramsync"
	"github.com/kalambet/paramsync/internal/prefs"
	"github.com/kalambet/paramsync/internal/remote"
)

// syncEnv is everything one sync command holds open: the schema, the local
// store and a registry session. Close revokes the session first.
type syncEnv struct {
	schema param.Schema
	local  prefs.Local
	reg    *remote.HTTPRegistry
	acc    *remote.Accessor
	syncer *paramsync.Synchronizer
}

func openLocal(cfg config.Config) (prefs.Local, error) {
	local, err := prefs.Open(cfg.Storage.Backend, cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening local preferences: %w", err)
	}
	return local, nil
}

func dialRegistry(ctx context.Context, cfg config.Config) (*remote.HTTPRegistry, error) {
	reg, err := remote.Dial(ctx, cfg.Remote.URL, cfg.Remote.Token, remote.WithTimeout(cfg.RemoteTimeout()))
	if err != nil {
		var se *remote.StatusError
		if errors.As(err, &se) && se.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("registry at %s rejected the token (%s): %w", cfg.Remote.URL, config.TokenHint(), err)
		}
		return nil, fmt.Errorf("connecting to registry at %s (is `paramsync serve` running?): %w", cfg.Remote.URL, err)
	}
	slog.Debug("registry session opened", "url", cfg.Remote.URL, "session", reg.SessionID())
	return reg, nil
}

func openSyncEnv(ctx context.Context, cfg config.Config) (*syncEnv, error) {
	schema, err := param.LoadSchema(cfg.Schema.Path)
	if err != nil {
		return nil, err
	}
	local, err := openLocal(cfg)
	if err != nil {
		return nil, err
	}
	reg, err := dialRegistry(ctx, cfg)
	if err != nil {
		local.Close()
		return nil, err
	}
	acc := remote.NewAccessor(reg, cfg.Remote.Namespace)
	return &syncEnv{
		schema: schema,
		local:  local,
		reg:    reg,
		acc:    acc,
		syncer: paramsync.New(schema, local, acc, paramsync.WithLogger(slog.Default())),
	}, nil
}

func (e *syncEnv) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var errs []error
	if err := e.reg.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("closing registry session: %w", err))
	}
	if err := e.local.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing local preferences: %w", err))
	}
	return errors.Join(errs...)
}
