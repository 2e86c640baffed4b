// Package paramsync moves a declared set of parameters between the local
// preference store and the remote parameter registry.
//
// Pull copies registry values into the local store in one committed batch,
// so a pass either lands completely or not at all. Push writes local values
// to the registry key by key; the registry has no multi-key transaction, so
// a push that stops part way leaves the keys written so far in place.
//
// Integers are kept locally as decimal strings (the int_as_string type) and
// as native integers in the registry.
package paramsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/kalambet/paramsync/internal/param"
	"github.com/kalambet/paramsync/internal/prefs"
	"github.com/kalambet/paramsync/internal/remote"
)

// Remote is the typed registry access a Synchronizer needs. Implemented by
// *remote.Accessor.
type Remote interface {
	GetBool(ctx context.Context, name string, def bool) (bool, error)
	GetInt(ctx context.Context, name string, def int) (int, error)
	GetString(ctx context.Context, name string, def string) (string, error)
	SetBool(ctx context.Context, name string, value bool) error
	SetInt(ctx context.Context, name string, value int) error
	SetString(ctx context.Context, name string, value string) error
}

// Synchronizer runs pull and push passes over a fixed schema. Passes on one
// Synchronizer never overlap.
type Synchronizer struct {
	schema param.Schema
	local  prefs.Store
	remote Remote
	logger *slog.Logger

	mu sync.Mutex
}

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithLogger sets the logger; the default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Synchronizer) { s.logger = l }
}

// New returns a Synchronizer for schema between local and remote.
func New(schema param.Schema, local prefs.Store, remote Remote, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		schema: schema,
		local:  local,
		remote: remote,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Schema returns the parameters this synchronizer moves.
func (s *Synchronizer) Schema() param.Schema { return s.schema }

// Pull reads every declared parameter from the registry, substituting the
// type default for absent ones, and commits them to the local store in a
// single batch. A registry failure aborts the pass before the commit, so
// the local store is unchanged. An entry with an unknown type is reported
// and skipped; the remaining entries are still committed.
func (s *Synchronizer) Pull(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ed := s.local.Edit()
	var errs []error
	staged := 0
	for _, sp := range s.schema.Specs() {
		if err := ctx.Err(); err != nil {
			return errors.Join(append(errs, err)...)
		}
		if err := s.pullEntry(ctx, ed, sp); err != nil {
			errs = append(errs, &EntryError{Name: sp.Name, Err: err})
			// Unreachable for schemas from param.NewSchema, which rejects
			// unknown tags.
			if errors.Is(err, param.ErrUnknownType) {
				continue
			}
			s.logger.Warn("pull aborted", "param", sp.Name, "error", err)
			return errors.Join(errs...)
		}
		staged++
	}

	if staged > 0 {
		if err := ed.Commit(); err != nil {
			s.logger.Warn("pull commit rejected", "error", err)
			return errors.Join(append(errs, fmt.Errorf("%w: %w", ErrLocalCommit, err))...)
		}
	}
	s.logger.Info("pulled parameters", "count", staged, "failed", len(errs))
	return errors.Join(errs...)
}

func (s *Synchronizer) pullEntry(ctx context.Context, ed prefs.Editor, sp param.Spec) error {
	switch sp.Type {
	case param.Bool:
		v, err := s.remote.GetBool(ctx, sp.Name, false)
		if err != nil {
			return err
		}
		ed.PutBool(sp.Name, v)
		s.logger.Debug("pulled", "param", sp.Name, "value", v)
	case param.IntAsString:
		v, err := s.remote.GetInt(ctx, sp.Name, 0)
		if err != nil {
			return err
		}
		ed.PutString(sp.Name, strconv.Itoa(v))
		s.logger.Debug("pulled", "param", sp.Name, "value", v)
	case param.String:
		v, err := s.remote.GetString(ctx, sp.Name, "")
		if err != nil {
			return err
		}
		ed.PutString(sp.Name, v)
		s.logger.Debug("pulled", "param", sp.Name, "value", v)
	default:
		return &param.UnknownTypeError{Name: sp.Name, Tag: sp.Type.String()}
	}
	return nil
}

// Push writes every declared parameter from the local store to the
// registry, substituting the type default for absent ones. Entries fail
// independently: a malformed integer, an unknown type or a rejected write
// is reported and the pass moves on. Losing the session aborts the pass;
// writes already made stay in the registry.
func (s *Synchronizer) Push(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	pushed := 0
	for _, sp := range s.schema.Specs() {
		if err := ctx.Err(); err != nil {
			return errors.Join(append(errs, err)...)
		}
		err := s.pushEntry(ctx, sp)
		if err == nil {
			pushed++
			continue
		}
		errs = append(errs, &EntryError{Name: sp.Name, Err: err})
		if errors.Is(err, remote.ErrSessionUnavailable) || ctx.Err() != nil {
			s.logger.Warn("push aborted", "param", sp.Name, "pushed", pushed, "error", err)
			return errors.Join(errs...)
		}
		s.logger.Warn("push entry failed", "param", sp.Name, "error", err)
	}
	s.logger.Info("pushed parameters", "count", pushed, "failed", len(errs))
	return errors.Join(errs...)
}

func (s *Synchronizer) pushEntry(ctx context.Context, sp param.Spec) error {
	switch sp.Type {
	case param.Bool:
		v, err := s.local.GetBool(sp.Name, false)
		if err != nil {
			return fmt.Errorf("reading local value: %w", err)
		}
		s.logger.Debug("pushing", "param", sp.Name, "value", v)
		return s.remote.SetBool(ctx, sp.Name, v)
	case param.IntAsString:
		str, err := s.local.GetString(sp.Name, "0")
		if err != nil {
			return fmt.Errorf("reading local value: %w", err)
		}
		v, err := strconv.Atoi(str)
		if err != nil {
			return &ConversionError{Name: sp.Name, Value: str, Err: err}
		}
		s.logger.Debug("pushing", "param", sp.Name, "value", v)
		return s.remote.SetInt(ctx, sp.Name, v)
	case param.String:
		v, err := s.local.GetString(sp.Name, "")
		if err != nil {
			return fmt.Errorf("reading local value: %w", err)
		}
		s.logger.Debug("pushing", "param", sp.Name, "value", v)
		return s.remote.SetString(ctx, sp.Name, v)
	default:
		return &param.UnknownTypeError{Name: sp.Name, Tag: sp.Type.String()}
	}
}
