package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kDuration
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "CHATMIRROR_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "storage.data_dir", typ: kString, env: "CHATMIRROR_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "remote.base_url", typ: kString, env: "CHATMIRROR_REMOTE_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Remote.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Remote.BaseURL },
	},
	{
		key: "remote.timeout", typ: kDuration, env: "CHATMIRROR_REMOTE_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Remote.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Remote.Timeout },
	},
	{
		key: "remote.identity_token", typ: kString, env: "CHATMIRROR_IDENTITY_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Remote.IdentityToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Remote.IdentityToken },
	},
	{
		key: "sync.max_pages", typ: kInt, env: "CHATMIRROR_SYNC_MAX_PAGES",
		apply:   func(cfg *Config, v any) { cfg.Sync.MaxPages = v.(int) },
		extract: func(cfg Config) any { return cfg.Sync.MaxPages },
	},
	{
		key: "sync.interval", typ: kDuration, env: "CHATMIRROR_SYNC_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Sync.Interval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Sync.Interval },
	},
	{
		key: "sync.debounce", typ: kDuration, env: "CHATMIRROR_SYNC_DEBOUNCE",
		apply:   func(cfg *Config, v any) { cfg.Sync.Debounce = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Sync.Debounce },
	},
	{
		key: "sync.scheduled", typ: kBool, env: "CHATMIRROR_SYNC_SCHEDULED",
		apply:   func(cfg *Config, v any) { cfg.Sync.Scheduled = v.(bool) },
		extract: func(cfg Config) any { return cfg.Sync.Scheduled },
	},
	{
		key: "watermark.backend", typ: kString, env: "CHATMIRROR_WATERMARK_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Watermark.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Watermark.Backend },
	},
	{
		key: "redis.addr", typ: kString, env: "CHATMIRROR_REDIS_ADDR",
		apply:   func(cfg *Config, v any) { cfg.Redis.Addr = v.(string) },
		extract: func(cfg Config) any { return cfg.Redis.Addr },
	},
	{
		key: "redis.key", typ: kString, env: "CHATMIRROR_REDIS_KEY",
		apply:   func(cfg *Config, v any) { cfg.Redis.Key = v.(string) },
		extract: func(cfg Config) any { return cfg.Redis.Key },
	},
	{
		key: "nats.url", typ: kString, env: "CHATMIRROR_NATS_URL",
		apply:   func(cfg *Config, v any) { cfg.NATS.URL = v.(string) },
		extract: func(cfg Config) any { return cfg.NATS.URL },
	},
	{
		key: "nats.subject", typ: kString, env: "CHATMIRROR_NATS_SUBJECT",
		apply:   func(cfg *Config, v any) { cfg.NATS.Subject = v.(string) },
		extract: func(cfg Config) any { return cfg.NATS.Subject },
	},
	{
		key: "log.level", typ: kString, env: "CHATMIRROR_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

// parseValue converts raw text for a key of type typ.
func parseValue(typ keyType, raw string) (any, error) {
	switch typ {
	case kInt:
		return strconv.Atoi(raw)
	case kBool:
		return strconv.ParseBool(raw)
	case kDuration:
		return time.ParseDuration(raw)
	default:
		return raw, nil
	}
}

func (t keyType) String() string {
	switch t {
	case kInt:
		return "integer"
	case kBool:
		return "bool"
	case kDuration:
		return "duration"
	default:
		return "string"
	}
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kBool, kDuration:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if !ok || v == "" {
				continue
			}
			if pv, err := parseValue(s.typ, v); err == nil {
				s.apply(cfg, pv)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse %s from config key %s=%q: %v. Using default value.\n", s.typ, s.key, v, err)
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		if v, err := parseValue(s.typ, raw); err == nil {
			s.apply(cfg, v)
		} else {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse %s from env var %s=%q: %v. Using default value.\n", s.typ, s.env, raw, err)
		}
	}
}
