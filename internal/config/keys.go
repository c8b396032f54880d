package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
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
		key: "server.port", typ: kInt, env: "TAPPING_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.mcp_enabled", typ: kBool, env: "TAPPING_SERVER_MCP_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.Server.MCPEnabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.Server.MCPEnabled },
	},
	{
		key: "storage.data_dir", typ: kString, env: "TAPPING_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "TAPPING_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "optical.backend", typ: kString, env: "TAPPING_OPTICAL_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Optical.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Optical.Backend },
	},
	{
		key: "optical.model", typ: kString, env: "TAPPING_OPTICAL_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Optical.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Optical.Model },
	},
	{
		key: "optical.timeout", typ: kString, env: "TAPPING_OPTICAL_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Optical.Timeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Optical.Timeout },
	},
	{
		key: "optical.failure_rate", typ: kFloat, env: "TAPPING_OPTICAL_FAILURE_RATE",
		apply:   func(cfg *Config, v any) { cfg.Optical.FailureRate = v.(float64) },
		extract: func(cfg Config) any { return cfg.Optical.FailureRate },
	},
	{
		key: "optical.stage_delay_scale", typ: kFloat, env: "TAPPING_OPTICAL_STAGE_DELAY_SCALE",
		apply:   func(cfg *Config, v any) { cfg.Optical.StageDelayScale = v.(float64) },
		extract: func(cfg Config) any { return cfg.Optical.StageDelayScale },
	},
	{
		key: "ollama.base_url", typ: kString, env: "TAPPING_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "ollama.requests_per_second", typ: kFloat, env: "TAPPING_OLLAMA_REQUESTS_PER_SECOND",
		apply:   func(cfg *Config, v any) { cfg.Ollama.RequestsPerSecond = v.(float64) },
		extract: func(cfg Config) any { return cfg.Ollama.RequestsPerSecond },
	},
	{
		key: "gemini.model", typ: kString, env: "TAPPING_GEMINI_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Gemini.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Gemini.Model },
	},
	{
		key: "gemini.api_key", typ: kString, env: "TAPPING_GEMINI_API_KEY",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Gemini.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Gemini.APIKey },
	},
	{
		key: "api.token", typ: kString, env: "TAPPING_API_TOKEN",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.API.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.API.Token },
	},
	{
		key: "classify.profile_hosts", typ: kString, env: "TAPPING_CLASSIFY_PROFILE_HOSTS",
		apply:   func(cfg *Config, v any) { cfg.Classify.ProfileHosts = v.(string) },
		extract: func(cfg Config) any { return cfg.Classify.ProfileHosts },
	},
	{
		key: "tag.device_path", typ: kString, env: "TAPPING_TAG_DEVICE_PATH",
		apply:   func(cfg *Config, v any) { cfg.Tag.DevicePath = v.(string) },
		extract: func(cfg Config) any { return cfg.Tag.DevicePath },
	},
	{
		key: "tag.device_name", typ: kString, env: "TAPPING_TAG_DEVICE_NAME",
		apply:   func(cfg *Config, v any) { cfg.Tag.DeviceName = v.(string) },
		extract: func(cfg Config) any { return cfg.Tag.DeviceName },
	},
	{
		key: "ingest.poll_interval", typ: kString, env: "TAPPING_INGEST_POLL_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Ingest.PollInterval = v.(string) },
		extract: func(cfg Config) any { return cfg.Ingest.PollInterval },
	},
}

func (t keyType) String() string {
	switch t {
	case kInt:
		return "integer"
	case kBool:
		return "bool"
	case kFloat:
		return "float"
	}
	return "string"
}

// parse converts the textual form of a value of type t.
func (t keyType) parse(raw string) (any, error) {
	switch t {
	case kInt:
		return strconv.Atoi(raw)
	case kBool:
		return strconv.ParseBool(raw)
	case kFloat:
		return strconv.ParseFloat(raw, 64)
	}
	return raw, nil
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		if s.typ == kInt {
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
			continue
		}

		raw, ok, err := b.GetString(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok || (raw == "" && s.typ != kString) {
			continue
		}
		v, err := s.typ.parse(raw)
		if err != nil {
			slog.Warn("ignoring invalid config value", "key", s.key, "type", s.typ, "value", raw, "error", err)
			continue
		}
		s.apply(cfg, v)
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
		v, err := s.typ.parse(raw)
		if err != nil {
			slog.Warn("ignoring invalid environment override", "env", s.env, "type", s.typ, "value", raw, "error", err)
			continue
		}
		s.apply(cfg, v)
	}
}

func applySecrets(cfg *Config, secrets secretStore) {
	for _, s := range specs {
		if !s.secret || s.extract(*cfg) != "" {
			continue
		}
		if v, err := secrets.Get(s.key); err == nil && v != "" {
			s.apply(cfg, v)
		}
	}
}
