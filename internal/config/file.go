package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
)

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "tapping-data"
		}
	}
	return filepath.Join(dir, "tapping")
}

// fileBackend is the JSON config file. Entries are checked against the key
// table when the file is read: unknown keys, secrets and values that do not
// parse as their key's type are logged and dropped, so the getters only ever
// see well-formed text.
type fileBackend struct {
	path   string
	values map[string]string
}

func newPlatformBackend() ConfigBackend {
	return openFileBackend(configFilePath())
}

func openFileBackend(path string) *fileBackend {
	b := &fileBackend{path: path, values: make(map[string]string)}
	b.load()
	return b
}

func configFilePath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".config")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "tapping", "config.json")
}

func lookupSpec(key string) (keySpec, bool) {
	for _, s := range specs {
		if s.key == key {
			return s, true
		}
	}
	return keySpec{}, false
}

func (b *fileBackend) load() {
	data, err := os.ReadFile(b.path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("could not read config file, using defaults", "path", b.path, "error", err)
		}
		return
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		slog.Warn("could not parse config file, using defaults", "path", b.path, "error", err)
		return
	}
	for key, v := range raw {
		spec, ok := lookupSpec(key)
		switch {
		case !ok:
			slog.Warn("ignoring unknown config key", "path", b.path, "key", key)
			continue
		case spec.secret:
			slog.Warn("ignoring secret in config file, use tapping config set", "path", b.path, "key", key)
			continue
		}
		text, err := jsonText(v)
		if err == nil {
			_, err = spec.typ.parse(text)
		}
		if err != nil {
			slog.Warn("ignoring invalid config value", "path", b.path, "key", key, "type", spec.typ, "error", err)
			continue
		}
		b.values[key] = text
	}
}

// jsonText renders a decoded JSON scalar the way it would be typed on the
// command line.
func jsonText(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case bool:
		return strconv.FormatBool(t), nil
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1<<53 {
			return strconv.FormatInt(int64(t), 10), nil
		}
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	}
	return "", fmt.Errorf("unsupported JSON value %v", v)
}

// save writes every value in its typed JSON form.
func (b *fileBackend) save() error {
	out := make(map[string]any, len(b.values))
	for key, text := range b.values {
		out[key] = text
		if spec, ok := lookupSpec(key); ok && spec.typ != kString {
			if v, err := spec.typ.parse(text); err == nil {
				out[key] = v
			}
		}
	}
	if err := os.MkdirAll(filepath.Dir(b.path), 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(b.path, data, 0o600)
}

func (b *fileBackend) GetString(key string) (string, bool, error) {
	v, ok := b.values[key]
	return v, ok, nil
}

func (b *fileBackend) GetInt(key string) (int, bool, error) {
	v, ok := b.values[key]
	if !ok {
		return 0, false, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, true, fmt.Errorf("invalid integer for %s: %w", key, err)
	}
	return i, true, nil
}

func (b *fileBackend) SetString(key, val string) error {
	b.values[key] = val
	return b.save()
}

func (b *fileBackend) SetInt(key string, val int) error {
	b.values[key] = strconv.Itoa(val)
	return b.save()
}

func (b *fileBackend) Delete(key string) error {
	delete(b.values, key)
	return b.save()
}
