// Package config loads the daemon configuration from yaml with environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type TelemetryConfig struct {
	LogLevel string `yaml:"log_level"`
	// StdoutTraces dumps spans to stdout; useful in development, noisy in
	// production.
	StdoutTraces bool `yaml:"stdout_traces"`
}

type ResponderConfig struct {
	// Mode selects the routing backend: scripted is the only built-in.
	Mode string `yaml:"mode"`
}

type SynthesisConfig struct {
	// Mode selects the speech backend: silence, deepgram or polly.
	Mode  string `yaml:"mode"`
	Voice string `yaml:"voice"`
	// Concurrency bounds parallel sentence synthesis per turn.
	Concurrency int `yaml:"concurrency"`

	PollyRegion string `yaml:"polly_region"`
	PollyEngine string `yaml:"polly_engine"`
}

type TranscribeConfig struct {
	Enabled bool   `yaml:"enabled"`
	Model   string `yaml:"model"`
}

type Config struct {
	ServiceName string           `yaml:"service_name"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Responder   ResponderConfig  `yaml:"responder"`
	Synthesis   SynthesisConfig  `yaml:"synthesis"`
	Transcribe  TranscribeConfig `yaml:"transcribe"`
	// CompletionMarginMS tunes the client-side forced-completion margin
	// handed to embedded sessions.
	CompletionMarginMS int `yaml:"completion_margin_ms"`
}

func Default() Config {
	return Config{
		ServiceName: "tutord",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			StdoutTraces: false,
		},
		Responder: ResponderConfig{Mode: "scripted"},
		Synthesis: SynthesisConfig{
			Mode:        "silence",
			Concurrency: 4,
		},
		Transcribe: TranscribeConfig{
			Enabled: false,
			Model:   "nova-3",
		},
		CompletionMarginMS: 2000,
	}
}

// Load reads the yaml file at path (skipped when empty), applies environment
// overrides on top and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.ServiceName, "TUTORD_SERVICE_NAME")
	overrideString(&cfg.HTTP.Bind, "TUTORD_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "TUTORD_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "TUTORD_TELEMETRY_LOG_LEVEL")
	overrideBool(&cfg.Telemetry.StdoutTraces, "TUTORD_TELEMETRY_STDOUT_TRACES")
	overrideString(&cfg.Responder.Mode, "TUTORD_RESPONDER_MODE")
	overrideString(&cfg.Synthesis.Mode, "TUTORD_SYNTHESIS_MODE")
	overrideString(&cfg.Synthesis.Voice, "TUTORD_SYNTHESIS_VOICE")
	overrideInt(&cfg.Synthesis.Concurrency, "TUTORD_SYNTHESIS_CONCURRENCY")
	overrideString(&cfg.Synthesis.PollyRegion, "TUTORD_SYNTHESIS_POLLY_REGION")
	overrideString(&cfg.Synthesis.PollyEngine, "TUTORD_SYNTHESIS_POLLY_ENGINE")
	overrideBool(&cfg.Transcribe.Enabled, "TUTORD_TRANSCRIBE_ENABLED")
	overrideString(&cfg.Transcribe.Model, "TUTORD_TRANSCRIBE_MODEL")
	overrideInt(&cfg.CompletionMarginMS, "TUTORD_COMPLETION_MARGIN_MS")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.ServiceName == "" {
		return errors.New("service_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	switch cfg.Responder.Mode {
	case "scripted":
	default:
		return fmt.Errorf("responder.mode %q is not supported", cfg.Responder.Mode)
	}
	switch cfg.Synthesis.Mode {
	case "silence", "deepgram", "polly":
	default:
		return fmt.Errorf("synthesis.mode %q is not supported", cfg.Synthesis.Mode)
	}
	if cfg.Synthesis.Concurrency <= 0 {
		return errors.New("synthesis.concurrency must be positive")
	}
	if cfg.CompletionMarginMS < 0 {
		return errors.New("completion_margin_ms must not be negative")
	}
	return nil
}
