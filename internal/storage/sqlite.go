package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Database file names inside the data directory.
const (
	DBFile         = "paramsync.db"
	RegistryDBFile = "registry.db"
)

// Store wraps a SQLite database holding local preferences and, on a
// registry server, the shared parameter table.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (or creates) the local preference database in dataDir and runs
// pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	return OpenFile(dataDir, DBFile)
}

// OpenRegistry opens the registry server's database in dataDir. It is a
// separate file from the local preference database so that watchers of one
// never see writes to the other.
func OpenRegistry(dataDir string) (*Store, error) {
	return OpenFile(dataDir, RegistryDBFile)
}

// OpenFile opens (or creates) the database file name in dataDir.
func OpenFile(dataDir, name string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, name)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db, path: dsn}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path, or ":memory:".
func (s *Store) Path() string { return s.path }

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	// Ensure schema_version table exists (bootstrap).
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		// Check if already applied.
		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Preferences ---

func (s *Store) GetPreference(key string) (Preference, error) {
	var p Preference
	var updatedAt string
	err := s.db.QueryRow(`SELECT key, kind, value, updated_at FROM preferences WHERE key = ?`, key).
		Scan(&p.Key, &p.Kind, &p.Value, &updatedAt)
	if err == sql.ErrNoRows {
		return Preference{}, ErrNotFound
	}
	if err != nil {
		return Preference{}, err
	}
	if p.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return Preference{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return p, nil
}

// PutPreferences upserts every row in one transaction. Either all rows are
// written or none are.
func (s *Store) PutPreferences(prefs []Preference) error {
	if len(prefs) == 0 {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339)

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning preferences transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO preferences (key, kind, value, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET kind = excluded.kind, value = excluded.value, updated_at = excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("preparing preference upsert: %w", err)
	}
	defer stmt.Close()

	for _, p := range prefs {
		if _, err := stmt.Exec(p.Key, p.Kind, p.Value, now); err != nil {
			return fmt.Errorf("writing preference %s: %w", p.Key, err)
		}
	}
	return tx.Commit()
}

func (s *Store) ListPreferences() ([]Preference, error) {
	rows, err := s.db.Query(`SELECT key, kind, value, updated_at FROM preferences ORDER BY key ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Preference
	for rows.Next() {
		var p Preference
		var updatedAt string
		if err := rows.Scan(&p.Key, &p.Kind, &p.Value, &updatedAt); err != nil {
			return nil, err
		}
		if p.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
			return nil, fmt.Errorf("parsing updated_at: %w", err)
		}
		results = append(results, p)
	}
	return results, rows.Err()
}

// --- Parameters ---

func (s *Store) GetParameter(name string) (Parameter, error) {
	var p Parameter
	var updatedAt string
	err := s.db.QueryRow(`SELECT name, kind, value, updated_at FROM parameters WHERE name = ?`, name).
		Scan(&p.Name, &p.Kind, &p.Value, &updatedAt)
	if err == sql.ErrNoRows {
		return Parameter{}, ErrNotFound
	}
	if err != nil {
		return Parameter{}, err
	}
	if p.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return Parameter{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return p, nil
}

func (s *Store) SetParameter(p Parameter) error {
	_, err := s.db.Exec(`
		INSERT INTO parameters (name, kind, value, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET kind = excluded.kind, value = excluded.value, updated_at = excluded.updated_at`,
		p.Name, p.Kind, p.Value, time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) DeleteParameter(name string) error {
	res, err := s.db.Exec(`DELETE FROM parameters WHERE name = ?`, name)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListParameters returns parameters whose name starts with prefix, sorted by name.
func (s *Store) ListParameters(prefix string) ([]Parameter, error) {
	rows, err := s.db.Query(`
		SELECT name, kind, value, updated_at FROM parameters
		WHERE substr(name, 1, length(?)) = ?
		ORDER BY name ASC`, prefix, prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Parameter
	for rows.Next() {
		var p Parameter
		var updatedAt string
		if err := rows.Scan(&p.Name, &p.Kind, &p.Value, &updatedAt); err != nil {
			return nil, err
		}
		if p.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
			return nil, fmt.Errorf("parsing updated_at: %w", err)
		}
		results = append(results, p)
	}
	return results, rows.Err()
}
