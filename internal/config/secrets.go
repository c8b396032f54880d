package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrSecretNotSet is returned when the secrets file has no value for a key.
var ErrSecretNotSet = errors.New("secret not set")

// secretsFile keeps secret config values out of config.json. It is a flat
// JSON object keyed by config key, readable by the owner only:
//
//	{"gemini.api_key": "...", "api.token": "..."}
type secretsFile struct {
	path string
}

func defaultSecretsFile() secretsFile {
	return secretsFile{path: filepath.Join(defaultDataDir(), "secrets.json")}
}

func (f secretsFile) read() (map[string]string, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading secrets file: %w", err)
	}
	values := map[string]string{}
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("parsing secrets file %s: %w", f.path, err)
	}
	return values, nil
}

// Get returns the trimmed value stored for a secret key.
func (f secretsFile) Get(key string) (string, error) {
	values, err := f.read()
	if err != nil {
		return "", err
	}
	v := strings.TrimSpace(values[key])
	if v == "" {
		return "", fmt.Errorf("%s: %w", key, ErrSecretNotSet)
	}
	return v, nil
}

// Set stores value for a secret key. An empty value removes the key.
func (f secretsFile) Set(key, value string) error {
	if spec, ok := lookupSpec(key); !ok || !spec.secret {
		return fmt.Errorf("%q is not a secret config key", key)
	}
	values, err := f.read()
	if err != nil {
		return err
	}
	if value = strings.TrimSpace(value); value == "" {
		delete(values, key)
	} else {
		values[key] = value
	}

	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("creating secrets dir: %w", err)
	}
	out, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(f.path, out, 0o600)
}
