package config

import (
	"fmt"
	"os"
)

// Origins reported by ShowAll.
const (
	OriginDefault = "default"
	OriginFile    = "file"
	OriginEnv     = "env"
)

// KeyInfo describes a config key for display purposes.
type KeyInfo struct {
	Key    string
	EnvVar string
	Value  string
	Origin string // where Value came from
}

// ShowAll returns every non-secret key of cfg and where its value came from,
// judged against the config file on disk.
func ShowAll(cfg Config) []KeyInfo {
	return showAllWith(cfg, newFileBackend(configFilePath()))
}

func showAllWith(cfg Config, b ConfigBackend) []KeyInfo {
	var result []KeyInfo
	for _, s := range specs {
		if s.secret {
			continue
		}
		result = append(result, KeyInfo{
			Key:    s.key,
			EnvVar: s.env,
			Value:  fmt.Sprintf("%v", s.extract(cfg)),
			Origin: originOf(s, b),
		})
	}
	return result
}

// originOf mirrors the precedence Load applies: a parsable environment value
// beats the file, which beats the default.
func originOf(s keySpec, b ConfigBackend) string {
	if raw := os.Getenv(s.env); raw != "" {
		if _, err := parseValue(s.typ, raw); err == nil {
			return OriginEnv
		}
	}
	var ok bool
	var err error
	if s.typ == kInt {
		_, ok, err = b.GetInt(s.key)
	} else {
		_, ok, err = b.GetString(s.key)
	}
	if ok && err == nil {
		return OriginFile
	}
	return OriginDefault
}

func lookupSpec(key string) (keySpec, error) {
	for _, s := range specs {
		if s.key != key {
			continue
		}
		if s.secret {
			return keySpec{}, fmt.Errorf("cannot set secret %q via config; use environment variable %s", key, s.env)
		}
		return s, nil
	}
	return keySpec{}, fmt.Errorf("unknown config key: %q", key)
}

// SetKey writes a config key to the config file. The value must parse for
// the key's type and leave the file-backed configuration valid.
func SetKey(key, value string) error {
	return setKeyWith(newFileBackend(configFilePath()), key, value)
}

func setKeyWith(b ConfigBackend, key, value string) error {
	s, err := lookupSpec(key)
	if err != nil {
		return err
	}
	v, err := parseValue(s.typ, value)
	if err != nil {
		return fmt.Errorf("invalid %s value for %s: %w", s.typ, key, err)
	}

	candidate := defaults()
	if err := applyBackend(&candidate, b); err != nil {
		return err
	}
	s.apply(&candidate, v)
	if err := validate(candidate); err != nil {
		return err
	}

	if s.typ == kInt {
		return b.SetInt(key, v.(int))
	}
	return b.SetString(key, value)
}

// UnsetKey removes a key from the config file so its default applies again.
func UnsetKey(key string) error {
	return unsetKeyWith(newFileBackend(configFilePath()), key)
}

func unsetKeyWith(b ConfigBackend, key string) error {
	if _, err := lookupSpec(key); err != nil {
		return err
	}
	return b.Delete(key)
}

// ValidKeys returns the list of valid non-secret config key names.
func ValidKeys() []string {
	var keys []string
	for _, s := range specs {
		if !s.secret {
			keys = append(keys, s.key)
		}
	}
	return keys
}
