package config

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"
)

type Config struct {
	Remote  RemoteConfig
	Server  ServerConfig
	Storage StorageConfig
	Schema  SchemaConfig
	Log     LogConfig
	Watch   WatchConfig
}

type RemoteConfig struct {
	URL       string
	Namespace string
	Timeout   string
	Token     string
}

type ServerConfig struct {
	Port     int
	MaxConns int
}

type StorageConfig struct {
	DataDir string
	Backend string
}

type SchemaConfig struct {
	Path string
}

type LogConfig struct {
	Level string
	File  string
}

type WatchConfig struct {
	Debounce    string
	PushOnStart bool
}

const (
	secretService      = "paramsync"
	remoteTokenAccount = "remote_token"
)

func defaults() Config {
	return Config{
		Remote: RemoteConfig{
			URL:       "http://127.0.0.1:11311",
			Namespace: "/paramsync",
			Timeout:   "10s",
		},
		Server: ServerConfig{
			Port:     11311,
			MaxConns: 64,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
			Backend: "sqlite",
		},
		Log: LogConfig{
			Level: "info",
		},
		Watch: WatchConfig{
			Debounce: "500ms",
		},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.paramsync.app) and the
// registry token falls back to macOS Keychain.
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/paramsync/config.json
// and the token falls back to $XDG_DATA_HOME/paramsync/secrets.json.
//
// Environment variables (PARAMSYNC_*) override backend values on all platforms.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), keychainReader{})
}

// keychain abstracts Keychain access for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	// The token is optional: a registry started without one accepts
	// unauthenticated clients.
	if cfg.Remote.Token == "" {
		if tok, err := kc.Get(secretService, remoteTokenAccount); err == nil && tok != "" {
			cfg.Remote.Token = tok
		}
	}

	if cfg.Schema.Path == "" {
		cfg.Schema.Path = filepath.Join(cfg.Storage.DataDir, "schema.toml")
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	var errs []error
	switch c.Storage.Backend {
	case "sqlite", "file":
	default:
		errs = append(errs, fmt.Errorf("storage.backend must be sqlite or file, got %q", c.Storage.Backend))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Server.MaxConns <= 0 {
		errs = append(errs, fmt.Errorf("server.max_conns must be positive, got %d", c.Server.MaxConns))
	}
	if _, err := time.ParseDuration(c.Remote.Timeout); err != nil {
		errs = append(errs, fmt.Errorf("remote.timeout: %w", err))
	}
	if _, err := time.ParseDuration(c.Watch.Debounce); err != nil {
		errs = append(errs, fmt.Errorf("watch.debounce: %w", err))
	}
	return errors.Join(errs...)
}

// RemoteTimeout returns remote.timeout as a duration.
func (c Config) RemoteTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Remote.Timeout)
	return d
}

// WatchDebounce returns watch.debounce as a duration.
func (c Config) WatchDebounce() time.Duration {
	d, _ := time.ParseDuration(c.Watch.Debounce)
	return d
}

// LogLevel maps log.level to a slog level. Unknown values mean Info.
func (c Config) LogLevel() slog.Level {
	switch strings.ToLower(c.Log.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// SetToken stores the registry bearer token in the platform secret store.
func SetToken(token string) error {
	return keychainSet(secretService, remoteTokenAccount, token)
}

// keychainReader reads from the platform secret store.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainExec(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// TokenHint tells the user where the registry token is looked up.
func TokenHint() string {
	return "set it via environment variable PARAMSYNC_REMOTE_TOKEN" + tokenHint()
}
