package remote

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryRegistry is an in-process Registry.
type MemoryRegistry struct {
	mu     sync.RWMutex
	values map[string]any
}

// NewMemoryRegistry returns an empty registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{values: make(map[string]any)}
}

func (m *MemoryRegistry) lookup(name string) (any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[name]
	return v, ok
}

func (m *MemoryRegistry) GetBool(_ context.Context, name string, def bool) (bool, error) {
	v, ok := m.lookup(name)
	if !ok {
		return def, nil
	}
	b, ok := v.(bool)
	if !ok {
		return def, mismatch(name, KindBool, v)
	}
	return b, nil
}

func (m *MemoryRegistry) GetInt(_ context.Context, name string, def int) (int, error) {
	v, ok := m.lookup(name)
	if !ok {
		return def, nil
	}
	i, ok := v.(int)
	if !ok {
		return def, mismatch(name, KindInt, v)
	}
	return i, nil
}

func (m *MemoryRegistry) GetString(_ context.Context, name string, def string) (string, error) {
	v, ok := m.lookup(name)
	if !ok {
		return def, nil
	}
	s, ok := v.(string)
	if !ok {
		return def, mismatch(name, KindString, v)
	}
	return s, nil
}

func (m *MemoryRegistry) Set(_ context.Context, name string, value any) error {
	if _, err := KindOf(value); err != nil {
		return err
	}
	m.mu.Lock()
	m.values[name] = value
	m.mu.Unlock()
	return nil
}

// Delete removes name. Deleting an absent name is a no-op.
func (m *MemoryRegistry) Delete(name string) {
	m.mu.Lock()
	delete(m.values, name)
	m.mu.Unlock()
}

// Names returns the stored names under prefix, sorted.
func (m *MemoryRegistry) Names(prefix string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var names []string
	for k := range m.values {
		if strings.HasPrefix(k, prefix) {
			names = append(names, k)
		}
	}
	sort.Strings(names)
	return names
}

// Value returns the raw stored value for name.
func (m *MemoryRegistry) Value(name string) (any, bool) {
	return m.lookup(name)
}
