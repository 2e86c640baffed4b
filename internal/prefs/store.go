// Package prefs implements the local per-device preference store.
//
// Values are booleans or strings keyed by bare parameter name. Writes go
// through an Editor and become visible only when Commit succeeds, and then
// all at once.
package prefs

import (
	"errors"
	"fmt"
	"path/filepath"
)

// ErrWrongKind is returned when a key holds a value of the other kind.
var ErrWrongKind = errors.New("prefs: stored value has a different kind")

const (
	KindBool   = "bool"
	KindString = "string"
)

// Store is a local key-value preference store.
type Store interface {
	GetBool(key string, def bool) (bool, error)
	GetString(key string, def string) (string, error)
	Edit() Editor
	All() ([]Entry, error)
}

// Editor stages writes for a single all-or-nothing Commit. An editor that
// is dropped without Commit changes nothing.
type Editor interface {
	PutBool(key string, value bool) Editor
	PutString(key string, value string) Editor
	Commit() error
}

// Entry is a stored preference in text form.
type Entry struct {
	Key   string `json:"key" yaml:"key"`
	Kind  string `json:"kind" yaml:"kind"`
	Value string `json:"value" yaml:"value"`
}

// Backend names accepted by Open.
const (
	BackendSQLite = "sqlite"
	BackendFile   = "file"
)

// FileName is the JSON file used by the file backend inside the data dir.
const FileName = "preferences.json"

// Local is a Store opened by Open. Close releases it; Path is the file
// whose changes indicate a local edit.
type Local interface {
	Store
	Path() string
	Close() error
}

// Open opens the local store for backend in dataDir.
func Open(backend, dataDir string) (Local, error) {
	switch backend {
	case BackendSQLite, "":
		return OpenSQLite(dataDir)
	case BackendFile:
		return NewFileStore(filepath.Join(dataDir, FileName)), nil
	}
	return nil, fmt.Errorf("unknown preference backend %q (want %s or %s)", backend, BackendSQLite, BackendFile)
}

func wrongKind(key, want, got string) error {
	return fmt.Errorf("%w: %s is %s, want %s", ErrWrongKind, key, got, want)
}
