package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// mockSecrets is a test double for the secrets file.
type mockSecrets map[string]string

func (m mockSecrets) Get(key string) (string, error) {
	v, ok := m[key]
	if !ok {
		return "", errors.New("not found")
	}
	return v, nil
}

func writeTempConfig(t *testing.T, content string) *fileBackend {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return openFileBackend(path)
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, s := range specs {
		t.Setenv(s.env, "")
	}
}

// TestDefaults verifies all default values are applied when loading an empty config file.
func TestDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := loadWith(writeTempConfig(t, `{}`), mockSecrets{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 4100 {
		t.Errorf("Server.Port = %d, want 4100", cfg.Server.Port)
	}
	if cfg.Server.MCPEnabled {
		t.Error("Server.MCPEnabled = true, want false")
	}
	if cfg.Optical.Backend != BackendSimulated {
		t.Errorf("Optical.Backend = %q, want %q", cfg.Optical.Backend, BackendSimulated)
	}
	if cfg.Optical.FailureRate != 0.1 {
		t.Errorf("Optical.FailureRate = %v, want 0.1", cfg.Optical.FailureRate)
	}
	if cfg.OpticalTimeout().Seconds() != 30 {
		t.Errorf("OpticalTimeout = %v, want 30s", cfg.OpticalTimeout())
	}
	if cfg.Ollama.BaseURL != "http://localhost:11434" {
		t.Errorf("Ollama.BaseURL = %q, want %q", cfg.Ollama.BaseURL, "http://localhost:11434")
	}
	if got := cfg.ProfileHosts(); len(got) != 5 || got[0] != "digitalcard.app" {
		t.Errorf("ProfileHosts = %v", got)
	}
	if cfg.Tag.DevicePath != filepath.Join(cfg.Storage.DataDir, "tag.json") {
		t.Errorf("Tag.DevicePath = %q", cfg.Tag.DevicePath)
	}
	if cfg.PollInterval().Milliseconds() != 500 {
		t.Errorf("PollInterval = %v, want 500ms", cfg.PollInterval())
	}
}

// TestFileParsing verifies that fields are correctly read from the JSON file.
func TestFileParsing(t *testing.T) {
	clearEnv(t)

	b := writeTempConfig(t, `{
  "server.port": 5000,
  "server.mcp_enabled": "true",
  "storage.data_dir": "/tmp/tapping-test",
  "optical.backend": "ollama",
  "optical.failure_rate": "0",
  "optical.timeout": "5s",
  "ollama.requests_per_second": "0.5",
  "classify.profile_hosts": "cards.example.com, , me.example.org"
}`)

	cfg, err := loadWith(b, mockSecrets{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 5000 {
		t.Errorf("Server.Port = %d, want 5000", cfg.Server.Port)
	}
	if !cfg.Server.MCPEnabled {
		t.Error("Server.MCPEnabled = false, want true")
	}
	if cfg.Storage.DataDir != "/tmp/tapping-test" {
		t.Errorf("Storage.DataDir = %q", cfg.Storage.DataDir)
	}
	if cfg.Optical.Backend != BackendOllama {
		t.Errorf("Optical.Backend = %q", cfg.Optical.Backend)
	}
	if cfg.Optical.FailureRate != 0 {
		t.Errorf("Optical.FailureRate = %v, want 0", cfg.Optical.FailureRate)
	}
	if cfg.Ollama.RequestsPerSecond != 0.5 {
		t.Errorf("Ollama.RequestsPerSecond = %v", cfg.Ollama.RequestsPerSecond)
	}
	hosts := cfg.ProfileHosts()
	if len(hosts) != 2 || hosts[0] != "cards.example.com" || hosts[1] != "me.example.org" {
		t.Errorf("ProfileHosts = %v", hosts)
	}
}

// TestEnvOverride verifies that environment variables override config file values.
func TestEnvOverride(t *testing.T) {
	clearEnv(t)
	t.Setenv("TAPPING_SERVER_PORT", "7000")
	t.Setenv("TAPPING_OPTICAL_BACKEND", "ollama")

	cfg, err := loadWith(writeTempConfig(t, `{"server.port": 5000, "optical.backend": "simulated"}`), mockSecrets{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 7000 {
		t.Errorf("Server.Port = %d, want 7000", cfg.Server.Port)
	}
	if cfg.Optical.Backend != BackendOllama {
		t.Errorf("Optical.Backend = %q, want ollama", cfg.Optical.Backend)
	}
}

// TestGeminiRequiresKey verifies a clear error when the Gemini key is missing everywhere.
func TestGeminiRequiresKey(t *testing.T) {
	clearEnv(t)

	_, err := loadWith(writeTempConfig(t, `{"optical.backend": "gemini"}`), mockSecrets{})
	if err == nil {
		t.Fatal("expected error for missing API key, got nil")
	}
	if !strings.Contains(err.Error(), "missing required config") {
		t.Errorf("error = %q, want it to mention the missing config", err.Error())
	}
}

// TestSecretsFallback verifies the secrets file is consulted when no key is in env.
func TestSecretsFallback(t *testing.T) {
	clearEnv(t)
	secrets := mockSecrets{
		"gemini.api_key": "file-secret",
		"api.token":      "token-from-file",
	}

	cfg, err := loadWith(writeTempConfig(t, `{"optical.backend": "gemini"}`), secrets)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Gemini.APIKey != "file-secret" {
		t.Errorf("Gemini.APIKey = %q, want %q", cfg.Gemini.APIKey, "file-secret")
	}
	if cfg.API.Token != "token-from-file" {
		t.Errorf("API.Token = %q", cfg.API.Token)
	}

	t.Setenv("TAPPING_API_TOKEN", "env-token")
	cfg, err = loadWith(writeTempConfig(t, `{"optical.backend": "gemini"}`), secrets)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.API.Token != "env-token" {
		t.Errorf("API.Token = %q, want env value to win", cfg.API.Token)
	}
}

func TestValidation(t *testing.T) {
	clearEnv(t)

	cases := map[string]string{
		"bad backend":      `{"optical.backend": "tesseract"}`,
		"bad failure rate": `{"optical.failure_rate": "1.5"}`,
		"bad timeout":      `{"optical.timeout": "soon"}`,
		"bad poll":         `{"ingest.poll_interval": "often"}`,
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := loadWith(writeTempConfig(t, content), mockSecrets{}); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestSetKey(t *testing.T) {
	b := writeTempConfig(t, `{}`)

	if err := setKey(b, "server.port", "4200"); err != nil {
		t.Fatalf("setKey: %v", err)
	}
	if err := setKey(b, "optical.failure_rate", "0.25"); err != nil {
		t.Fatalf("setKey: %v", err)
	}
	if err := setKey(b, "server.port", "many"); err == nil {
		t.Error("expected error for non-integer port")
	}
	if err := setKey(b, "server.mcp_enabled", "maybe"); err == nil {
		t.Error("expected error for non-bool value")
	}
	if err := setKey(b, "no.such.key", "x"); err == nil {
		t.Error("expected error for unknown key")
	}

	reloaded := openFileBackend(b.path)
	if v, ok, err := reloaded.GetInt("server.port"); err != nil || !ok || v != 4200 {
		t.Errorf("server.port = %d, %v, %v", v, ok, err)
	}
	if v, ok, _ := reloaded.GetString("optical.failure_rate"); !ok || v != "0.25" {
		t.Errorf("optical.failure_rate = %q", v)
	}
}

func TestSetKey_SecretGoesToSecretsFile(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	b := writeTempConfig(t, `{}`)

	if err := setKey(b, "api.token", "s3cret"); err != nil {
		t.Fatalf("setKey: %v", err)
	}
	if _, ok, _ := b.GetString("api.token"); ok {
		t.Error("secret leaked into config file")
	}
	got, err := defaultSecretsFile().Get("api.token")
	if err != nil {
		t.Fatalf("secrets Get: %v", err)
	}
	if got != "s3cret" {
		t.Errorf("secret = %q, want s3cret", got)
	}
}

func TestSecretsFile(t *testing.T) {
	f := secretsFile{path: filepath.Join(t.TempDir(), "secrets.json")}

	if _, err := f.Get("api.token"); !errors.Is(err, ErrSecretNotSet) {
		t.Errorf("Get on missing file = %v, want ErrSecretNotSet", err)
	}
	if err := f.Set("server.port", "1"); err == nil {
		t.Error("expected error storing a non-secret key")
	}
	if err := f.Set("gemini.api_key", "  k1 "); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got, err := f.Get("gemini.api_key"); err != nil || got != "k1" {
		t.Errorf("Get = %q, %v, want k1", got, err)
	}
	if err := f.Set("gemini.api_key", ""); err != nil {
		t.Fatalf("Set empty: %v", err)
	}
	if _, err := f.Get("gemini.api_key"); !errors.Is(err, ErrSecretNotSet) {
		t.Errorf("Get after clear = %v, want ErrSecretNotSet", err)
	}
	info, err := os.Stat(f.path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("secrets file mode = %o, want 600", perm)
	}
}

func TestFileBackend_DropsInvalidEntriesOnLoad(t *testing.T) {
	clearEnv(t)
	b := writeTempConfig(t, `{
  "server.port": "many",
  "server.mcp_enabled": "maybe",
  "optical.failure_rate": 0.3,
  "optical.stage_delay_scale": 2,
  "no.such.key": 1,
  "api.token": "leaked"
}`)

	for _, key := range []string{"server.port", "server.mcp_enabled", "no.such.key", "api.token"} {
		if _, ok, _ := b.GetString(key); ok {
			t.Errorf("%s kept, want dropped", key)
		}
	}
	if v, ok, _ := b.GetString("optical.failure_rate"); !ok || v != "0.3" {
		t.Errorf("optical.failure_rate = %q, %v", v, ok)
	}
	if v, ok, _ := b.GetString("optical.stage_delay_scale"); !ok || v != "2" {
		t.Errorf("optical.stage_delay_scale = %q, %v", v, ok)
	}

	cfg, err := loadWith(b, mockSecrets{})
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Server.Port != defaults().Server.Port {
		t.Errorf("Server.Port = %d, want default", cfg.Server.Port)
	}
	if cfg.API.Token != "" {
		t.Errorf("API.Token = %q, want secret in config file ignored", cfg.API.Token)
	}
}

func TestFileBackend_SavesTypedJSON(t *testing.T) {
	b := writeTempConfig(t, `{}`)
	if err := setKey(b, "server.port", "4200"); err != nil {
		t.Fatal(err)
	}
	if err := setKey(b, "server.mcp_enabled", "true"); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(b.path)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{`"server.port": 4200`, `"server.mcp_enabled": true`} {
		if !strings.Contains(string(data), want) {
			t.Errorf("config file %s missing %s", data, want)
		}
	}
}

func TestShowAll_MasksSecrets(t *testing.T) {
	cfg := defaults()
	cfg.API.Token = "abc"

	seen := map[string]string{}
	for _, ki := range ShowAll(cfg) {
		seen[ki.Key] = ki.Value
	}
	if seen["api.token"] != "(set)" {
		t.Errorf("api.token = %q, want (set)", seen["api.token"])
	}
	if seen["gemini.api_key"] != "(unset)" {
		t.Errorf("gemini.api_key = %q, want (unset)", seen["gemini.api_key"])
	}
	if seen["server.port"] != "4100" {
		t.Errorf("server.port = %q", seen["server.port"])
	}
	if len(ValidKeys()) != len(specs) {
		t.Errorf("ValidKeys len = %d, want %d", len(ValidKeys()), len(specs))
	}
}
