package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Optical backends.
const (
	BackendSimulated = "simulated"
	BackendOllama    = "ollama"
	BackendGemini    = "gemini"
)

type Config struct {
	Server   ServerConfig
	Storage  StorageConfig
	Log      LogConfig
	Optical  OpticalConfig
	Ollama   OllamaConfig
	Gemini   GeminiConfig
	API      APIConfig
	Classify ClassifyConfig
	Tag      TagConfig
	Ingest   IngestConfig
}

type ServerConfig struct {
	Port       int
	MCPEnabled bool
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

type OpticalConfig struct {
	Backend         string
	Model           string
	Timeout         string
	FailureRate     float64
	StageDelayScale float64
}

type OllamaConfig struct {
	BaseURL           string
	RequestsPerSecond float64
}

type GeminiConfig struct {
	Model  string
	APIKey string
}

type APIConfig struct {
	Token string
}

type ClassifyConfig struct {
	ProfileHosts string
}

type TagConfig struct {
	DevicePath string
	DeviceName string
}

type IngestConfig struct {
	PollInterval string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4100,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
		Optical: OpticalConfig{
			Backend:         BackendSimulated,
			Model:           "llava",
			Timeout:         "30s",
			FailureRate:     0.1,
			StageDelayScale: 1.0,
		},
		Ollama: OllamaConfig{
			BaseURL:           "http://localhost:11434",
			RequestsPerSecond: 2,
		},
		Gemini: GeminiConfig{
			Model: "gemini-2.5-flash",
		},
		Classify: ClassifyConfig{
			ProfileHosts: "digitalcard.app,tapping.app,tapni.com,popl.co,linq.team",
		},
		Tag: TagConfig{
			DeviceName: "cli",
		},
		Ingest: IngestConfig{
			PollInterval: "500ms",
		},
	}
}

// Load reads configuration from the JSON config file, then TAPPING_*
// environment variables, then the secrets file for secrets still unset.
//
// The config file lives at $XDG_CONFIG_HOME/tapping/config.json and secrets
// at $XDG_DATA_HOME/tapping/secrets.json.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), defaultSecretsFile())
}

// secretStore abstracts the secrets file for testing.
type secretStore interface {
	Get(key string) (string, error)
}

func loadWith(b ConfigBackend, secrets secretStore) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)
	applySecrets(&cfg, secrets)

	if cfg.Tag.DevicePath == "" {
		cfg.Tag.DevicePath = filepath.Join(cfg.Storage.DataDir, "tag.json")
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg Config) validate() error {
	switch cfg.Optical.Backend {
	case BackendSimulated, BackendOllama:
	case BackendGemini:
		if cfg.Gemini.APIKey == "" {
			return fmt.Errorf("missing required config: Gemini API key. " +
				"Set it via environment variable TAPPING_GEMINI_API_KEY or tapping config set gemini.api_key")
		}
	default:
		return fmt.Errorf("invalid optical.backend %q: want %s, %s or %s",
			cfg.Optical.Backend, BackendSimulated, BackendOllama, BackendGemini)
	}
	if cfg.Optical.FailureRate < 0 || cfg.Optical.FailureRate > 1 {
		return fmt.Errorf("invalid optical.failure_rate %v: want a value in [0, 1]", cfg.Optical.FailureRate)
	}
	if _, err := time.ParseDuration(cfg.Optical.Timeout); err != nil {
		return fmt.Errorf("invalid optical.timeout %q: %w", cfg.Optical.Timeout, err)
	}
	if _, err := time.ParseDuration(cfg.Ingest.PollInterval); err != nil {
		return fmt.Errorf("invalid ingest.poll_interval %q: %w", cfg.Ingest.PollInterval, err)
	}
	return nil
}

// OpticalTimeout is the completion-call timeout. Load has validated it.
func (cfg Config) OpticalTimeout() time.Duration {
	d, _ := time.ParseDuration(cfg.Optical.Timeout)
	return d
}

// PollInterval is the job worker poll interval.
func (cfg Config) PollInterval() time.Duration {
	d, _ := time.ParseDuration(cfg.Ingest.PollInterval)
	return d
}

// ProfileHosts splits classify.profile_hosts.
func (cfg Config) ProfileHosts() []string {
	var hosts []string
	for _, h := range strings.Split(cfg.Classify.ProfileHosts, ",") {
		if h = strings.TrimSpace(h); h != "" {
			hosts = append(hosts, h)
		}
	}
	return hosts
}
