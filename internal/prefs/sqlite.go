package prefs

import (
	"errors"
	"strconv"

	"github.com/kalambet/paramsync/internal/storage"
)

// SQLiteStore keeps preferences in the storage database. Each Commit is
// one SQL transaction.
type SQLiteStore struct {
	db *storage.Store
}

// NewSQLiteStore wraps an open storage database.
func NewSQLiteStore(db *storage.Store) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// OpenSQLite opens the database in dataDir (":memory:" for tests).
func OpenSQLite(dataDir string) (*SQLiteStore, error) {
	db, err := storage.Open(dataDir)
	if err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Path() string { return s.db.Path() }

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) GetBool(key string, def bool) (bool, error) {
	p, err := s.db.GetPreference(key)
	if errors.Is(err, storage.ErrNotFound) {
		return def, nil
	}
	if err != nil {
		return def, err
	}
	if p.Kind != KindBool {
		return def, wrongKind(key, KindBool, p.Kind)
	}
	return strconv.ParseBool(p.Value)
}

func (s *SQLiteStore) GetString(key string, def string) (string, error) {
	p, err := s.db.GetPreference(key)
	if errors.Is(err, storage.ErrNotFound) {
		return def, nil
	}
	if err != nil {
		return def, err
	}
	if p.Kind != KindString {
		return def, wrongKind(key, KindString, p.Kind)
	}
	return p.Value, nil
}

func (s *SQLiteStore) All() ([]Entry, error) {
	rows, err := s.db.ListPreferences()
	if err != nil {
		return nil, err
	}
	out := make([]Entry, len(rows))
	for i, r := range rows {
		out[i] = Entry{Key: r.Key, Kind: r.Kind, Value: r.Value}
	}
	return out, nil
}

func (s *SQLiteStore) Edit() Editor {
	return &sqliteEditor{db: s.db, staged: make(map[string]int)}
}

type sqliteEditor struct {
	db     *storage.Store
	rows   []storage.Preference
	staged map[string]int // key -> index in rows
}

func (e *sqliteEditor) put(key, kind, value string) Editor {
	p := storage.Preference{Key: key, Kind: kind, Value: value}
	if i, ok := e.staged[key]; ok {
		e.rows[i] = p
		return e
	}
	e.staged[key] = len(e.rows)
	e.rows = append(e.rows, p)
	return e
}

func (e *sqliteEditor) PutBool(key string, value bool) Editor {
	return e.put(key, KindBool, strconv.FormatBool(value))
}

func (e *sqliteEditor) PutString(key string, value string) Editor {
	return e.put(key, KindString, value)
}

func (e *sqliteEditor) Commit() error {
	if err := e.db.PutPreferences(e.rows); err != nil {
		return err
	}
	e.rows = nil
	e.staged = make(map[string]int)
	return nil
}
