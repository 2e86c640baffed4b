// Package remote provides typed access to the shared parameter registry.
//
// A Registry is keyed by fully qualified names. Accessor sits in front of a
// Registry and qualifies every bare name with its namespace before the call
// goes out, so callers never deal in qualified names themselves.
package remote

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrSessionUnavailable is returned when no connected session backs the
	// registry handle, or the session was revoked or dropped.
	ErrSessionUnavailable = errors.New("remote: session unavailable")
	// ErrTypeMismatch is returned when a stored value has a different type
	// than the one requested.
	ErrTypeMismatch = errors.New("remote: type mismatch")
)

// Registry is a connected handle on the parameter registry. Getters return
// def when the name is absent; Set overwrites unconditionally. Values passed
// to Set are bool, int or string.
type Registry interface {
	GetBool(ctx context.Context, name string, def bool) (bool, error)
	GetInt(ctx context.Context, name string, def int) (int, error)
	GetString(ctx context.Context, name string, def string) (string, error)
	Set(ctx context.Context, name string, value any) error
}

// Handle wraps a Registry with the revocation a session provider applies at
// shutdown. After Revoke every call fails with ErrSessionUnavailable.
type Handle struct {
	mu  sync.RWMutex
	reg Registry
}

// NewHandle returns a live handle on reg.
func NewHandle(reg Registry) *Handle {
	return &Handle{reg: reg}
}

// Revoke detaches the handle from its registry.
func (h *Handle) Revoke() {
	h.mu.Lock()
	h.reg = nil
	h.mu.Unlock()
}

func (h *Handle) registry() (Registry, error) {
	if h == nil {
		return nil, ErrSessionUnavailable
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.reg == nil {
		return nil, ErrSessionUnavailable
	}
	return h.reg, nil
}

func (h *Handle) GetBool(ctx context.Context, name string, def bool) (bool, error) {
	reg, err := h.registry()
	if err != nil {
		return def, err
	}
	return reg.GetBool(ctx, name, def)
}

func (h *Handle) GetInt(ctx context.Context, name string, def int) (int, error) {
	reg, err := h.registry()
	if err != nil {
		return def, err
	}
	return reg.GetInt(ctx, name, def)
}

func (h *Handle) GetString(ctx context.Context, name string, def string) (string, error) {
	reg, err := h.registry()
	if err != nil {
		return def, err
	}
	return reg.GetString(ctx, name, def)
}

func (h *Handle) Set(ctx context.Context, name string, value any) error {
	reg, err := h.registry()
	if err != nil {
		return err
	}
	return reg.Set(ctx, name, value)
}

func mismatch(name string, want Kind, got any) error {
	k, err := KindOf(got)
	if err != nil {
		return fmt.Errorf("%w: %s holds %T, want %s", ErrTypeMismatch, name, got, want)
	}
	return fmt.Errorf("%w: %s holds %s, want %s", ErrTypeMismatch, name, k, want)
}
