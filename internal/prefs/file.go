package prefs

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
)

// FileStore keeps preferences as a flat JSON object. The file is re-read on
// every access so edits made by other processes are seen; Commit replaces
// it with a rename, so readers see the old or the new file, never a mix.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore returns a store backed by path. The file is created on the
// first Commit.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (f *FileStore) Path() string { return f.path }

func (f *FileStore) Close() error { return nil }

func (f *FileStore) load() (map[string]any, error) {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return make(map[string]any), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading preferences: %w", err)
	}
	m := make(map[string]any)
	if len(data) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing preferences %s: %w", f.path, err)
	}
	return m, nil
}

func (f *FileStore) save(m map[string]any) error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating preferences dir: %w", err)
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".preferences-*.json")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Chmod(tmpPath, 0o600); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, f.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replacing preferences: %w", err)
	}
	return nil
}

func (f *FileStore) value(key string) (any, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, err := f.load()
	if err != nil {
		return nil, false, err
	}
	v, ok := m[key]
	return v, ok, nil
}

func (f *FileStore) GetBool(key string, def bool) (bool, error) {
	v, ok, err := f.value(key)
	if err != nil || !ok {
		return def, err
	}
	b, ok := v.(bool)
	if !ok {
		return def, wrongKind(key, KindBool, jsonKind(v))
	}
	return b, nil
}

func (f *FileStore) GetString(key string, def string) (string, error) {
	v, ok, err := f.value(key)
	if err != nil || !ok {
		return def, err
	}
	s, ok := v.(string)
	if !ok {
		return def, wrongKind(key, KindString, jsonKind(v))
	}
	return s, nil
}

func (f *FileStore) All() ([]Entry, error) {
	f.mu.Lock()
	m, err := f.load()
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]Entry, 0, len(keys))
	for _, k := range keys {
		switch v := m[k].(type) {
		case bool:
			out = append(out, Entry{Key: k, Kind: KindBool, Value: strconv.FormatBool(v)})
		case string:
			out = append(out, Entry{Key: k, Kind: KindString, Value: v})
		default:
			out = append(out, Entry{Key: k, Kind: jsonKind(v), Value: fmt.Sprintf("%v", v)})
		}
	}
	return out, nil
}

func (f *FileStore) Edit() Editor {
	return &fileEditor{store: f, staged: make(map[string]any)}
}

type fileEditor struct {
	store  *FileStore
	staged map[string]any
}

func (e *fileEditor) PutBool(key string, value bool) Editor {
	e.staged[key] = value
	return e
}

func (e *fileEditor) PutString(key string, value string) Editor {
	e.staged[key] = value
	return e
}

func (e *fileEditor) Commit() error {
	e.store.mu.Lock()
	defer e.store.mu.Unlock()

	m, err := e.store.load()
	if err != nil {
		return err
	}
	for k, v := range e.staged {
		m[k] = v
	}
	if err := e.store.save(m); err != nil {
		return err
	}
	e.staged = make(map[string]any)
	return nil
}

func jsonKind(v any) string {
	switch v.(type) {
	case bool:
		return KindBool
	case string:
		return KindString
	case float64:
		return "number"
	case nil:
		return "null"
	}
	return fmt.Sprintf("%T", v)
}
