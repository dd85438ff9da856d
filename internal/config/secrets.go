package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

const (
	secretService   = "chatmirror"
	identityAccount = "identity_token"
	apiTokenAccount = "api_token"
)

// secretStore abstracts secret persistence for testing.
type secretStore interface {
	Get(service, account string) (string, error)
	Set(service, account, value string) error
}

func secretsFilePath() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "chatmirror", "secrets.json")
}

// fileSecrets keeps secrets in a 0600 JSON file: {service: {account: value}}.
type fileSecrets struct {
	path string
}

func newFileSecrets(path string) fileSecrets {
	return fileSecrets{path: path}
}

func (f fileSecrets) read() (map[string]map[string]string, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, err
	}
	var secrets map[string]map[string]string
	if err := json.Unmarshal(data, &secrets); err != nil {
		return nil, fmt.Errorf("parsing secrets file: %w", err)
	}
	return secrets, nil
}

func (f fileSecrets) Get(service, account string) (string, error) {
	secrets, err := f.read()
	if err != nil {
		return "", fmt.Errorf("secrets not available: %w", err)
	}
	val, ok := secrets[service][account]
	if !ok {
		return "", fmt.Errorf("secret %s/%s not found", service, account)
	}
	return val, nil
}

func (f fileSecrets) Set(service, account, value string) error {
	secrets, err := f.read()
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	if secrets == nil {
		secrets = make(map[string]map[string]string)
	}
	if secrets[service] == nil {
		secrets[service] = make(map[string]string)
	}
	secrets[service][account] = value

	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("creating secrets dir: %w", err)
	}
	out, err := json.MarshalIndent(secrets, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(f.path, out, 0o600)
}

// APIToken returns the bearer token guarding the local API, generating and
// persisting one on first use. CHATMIRROR_API_TOKEN overrides the stored value.
func APIToken() (string, error) {
	return apiTokenWith(newFileSecrets(secretsFilePath()))
}

func apiTokenWith(secrets secretStore) (string, error) {
	if tok := os.Getenv("CHATMIRROR_API_TOKEN"); tok != "" {
		return tok, nil
	}
	if tok, err := secrets.Get(secretService, apiTokenAccount); err == nil && tok != "" {
		return tok, nil
	}
	tok := uuid.NewString()
	if err := secrets.Set(secretService, apiTokenAccount, tok); err != nil {
		return "", fmt.Errorf("storing api token: %w", err)
	}
	return tok, nil
}

// SetIdentityToken stores the remote identity token in the secrets file.
func SetIdentityToken(token string) error {
	return newFileSecrets(secretsFilePath()).Set(secretService, identityAccount, token)
}
