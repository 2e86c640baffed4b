package remote

import (
	"context"

	"github.com/kalambet/paramsync/internal/param"
)

// Accessor reads and writes parameters by bare name. Each call qualifies
// the name with the accessor's namespace and goes straight to the
// registry; nothing is cached.
type Accessor struct {
	reg       Registry
	namespace string
}

// NewAccessor binds an accessor to a connected registry handle. A nil reg
// is allowed; every call then fails with ErrSessionUnavailable.
func NewAccessor(reg Registry, namespace string) *Accessor {
	return &Accessor{reg: reg, namespace: namespace}
}

// Namespace returns the prefix applied to every name.
func (a *Accessor) Namespace() string { return a.namespace }

// Qualified returns the registry name used for the bare name.
func (a *Accessor) Qualified(name string) string {
	return param.Qualify(name, a.namespace)
}

func (a *Accessor) registry() (Registry, error) {
	if a == nil || a.reg == nil {
		return nil, ErrSessionUnavailable
	}
	return a.reg, nil
}

func (a *Accessor) GetBool(ctx context.Context, name string, def bool) (bool, error) {
	reg, err := a.registry()
	if err != nil {
		return def, err
	}
	return reg.GetBool(ctx, a.Qualified(name), def)
}

func (a *Accessor) GetInt(ctx context.Context, name string, def int) (int, error) {
	reg, err := a.registry()
	if err != nil {
		return def, err
	}
	return reg.GetInt(ctx, a.Qualified(name), def)
}

func (a *Accessor) GetString(ctx context.Context, name string, def string) (string, error) {
	reg, err := a.registry()
	if err != nil {
		return def, err
	}
	return reg.GetString(ctx, a.Qualified(name), def)
}

func (a *Accessor) SetBool(ctx context.Context, name string, value bool) error {
	return a.set(ctx, name, value)
}

func (a *Accessor) SetInt(ctx context.Context, name string, value int) error {
	return a.set(ctx, name, value)
}

func (a *Accessor) SetString(ctx context.Context, name string, value string) error {
	return a.set(ctx, name, value)
}

func (a *Accessor) set(ctx context.Context, name string, value any) error {
	reg, err := a.registry()
	if err != nil {
		return err
	}
	return reg.Set(ctx, a.Qualified(name), value)
}
