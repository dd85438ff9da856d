package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Remote    RemoteConfig
	Sync      SyncConfig
	Watermark WatermarkConfig
	Redis     RedisConfig
	NATS      NATSConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port int
}

type StorageConfig struct {
	DataDir string
}

type RemoteConfig struct {
	BaseURL       string
	Timeout       time.Duration
	IdentityToken string
}

type SyncConfig struct {
	MaxPages int
	Interval time.Duration
	Debounce time.Duration
	// Scheduled disables the periodic sync when false; navigation and API
	// triggers still work.
	Scheduled bool
}

type WatermarkConfig struct {
	Backend string // "sqlite" or "redis"
}

type RedisConfig struct {
	Addr string
	Key  string
}

type NATSConfig struct {
	URL     string // empty disables publishing
	Subject string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4100,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Remote: RemoteConfig{
			BaseURL: "https://api.example.com",
			Timeout: 15 * time.Second,
		},
		Sync: SyncConfig{
			MaxPages:  500,
			Interval:  5 * time.Minute,
			Debounce:  750 * time.Millisecond,
			Scheduled: true,
		},
		Watermark: WatermarkConfig{
			Backend: "sqlite",
		},
		Redis: RedisConfig{
			Addr: "127.0.0.1:6379",
			Key:  "chatmirror:watermarks",
		},
		NATS: NATSConfig{
			Subject: "chatmirror.sync",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "chatmirror-data"
		}
	}
	return filepath.Join(dir, "chatmirror")
}

// Load reads configuration from the JSON config file at
// $XDG_CONFIG_HOME/chatmirror/config.json, then applies CHATMIRROR_*
// environment overrides. Secrets come from the environment or, failing that,
// the secrets file.
//
// A missing identity token is not an error here; fetches fail with
// chat.ErrMissingIdentity until one is supplied.
func Load() (Config, error) {
	return loadWith(newFileBackend(configFilePath()), newFileSecrets(secretsFilePath()))
}

func loadWith(b ConfigBackend, secrets secretStore) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.Remote.IdentityToken == "" {
		if tok, err := secrets.Get(secretService, identityAccount); err == nil && tok != "" {
			cfg.Remote.IdentityToken = tok
		}
	}

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	switch cfg.Watermark.Backend {
	case "sqlite", "redis":
	default:
		return fmt.Errorf("invalid watermark.backend %q: want sqlite or redis", cfg.Watermark.Backend)
	}
	if cfg.Sync.MaxPages <= 0 {
		return fmt.Errorf("invalid sync.max_pages %d: must be positive", cfg.Sync.MaxPages)
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d", cfg.Server.Port)
	}
	return nil
}
