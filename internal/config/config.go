package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	StoreDir       string   `yaml:"store_dir"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

// ArtifactsConfig describes where synthesized audio lands on disk and how the
// cache reaches it over HTTP.
type ArtifactsConfig struct {
	Dir            string `yaml:"dir"`
	DirectBaseURL  string `yaml:"direct_base_url"`
	ProxyBaseURL   string `yaml:"proxy_base_url"`
	FetchTimeoutMS int    `yaml:"fetch_timeout_ms"`
	RetryDelayMS   int    `yaml:"retry_delay_ms"`
}

type SynthesisConfig struct {
	Mode             string  `yaml:"mode"` // mock, exec
	Command          string  `yaml:"command"`
	ModelPath        string  `yaml:"model_path"`
	SampleRate       int     `yaml:"sample_rate"`
	MaxAudioLengthMS int     `yaml:"max_audio_length_ms"`
	Temperature      float64 `yaml:"temperature"`
	TopK             int     `yaml:"topk"`
	TimeoutMS        int     `yaml:"timeout_ms"`
}

type TranscriptionConfig struct {
	Mode      string `yaml:"mode"` // mock, exec
	Command   string `yaml:"command"`
	Model     string `yaml:"model"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

type Config struct {
	RuntimeName   string              `yaml:"runtime_name"`
	Environment   string              `yaml:"environment"`
	HTTP          HTTPConfig          `yaml:"http"`
	Telemetry     TelemetryConfig     `yaml:"telemetry"`
	Bus           BusConfig           `yaml:"bus"`
	Store         StoreConfig         `yaml:"store"`
	Artifacts     ArtifactsConfig     `yaml:"artifacts"`
	Synthesis     SynthesisConfig     `yaml:"synthesis"`
	Transcription TranscriptionConfig `yaml:"transcription"`
}

func Default() Config {
	return Config{
		RuntimeName: "parlance-runtime",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPEndpoint: "",
			OTLPInsecure: true,
		},
		Bus: BusConfig{
			Enabled:        true,
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			StoreDir:       "./data/nats",
			ConnectTimeout: 2000,
		},
		Store: StoreConfig{
			Path: "./data/parlance.db",
		},
		Artifacts: ArtifactsConfig{
			Dir:            "./data/audio",
			DirectBaseURL:  "http://localhost:8080/audio",
			ProxyBaseURL:   "http://localhost:8080/api/audio-file",
			FetchTimeoutMS: 5000,
			RetryDelayMS:   250,
		},
		Synthesis: SynthesisConfig{
			Mode:             "mock",
			SampleRate:       24000,
			MaxAudioLengthMS: 10000,
			Temperature:      0.9,
			TopK:             50,
			TimeoutMS:        120000,
		},
		Transcription: TranscriptionConfig{
			Mode:      "mock",
			Model:     "base",
			TimeoutMS: 60000,
		},
	}
}

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
	overrideString(&cfg.RuntimeName, "PARLANCE_RUNTIME_NAME")
	overrideString(&cfg.Environment, "PARLANCE_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "PARLANCE_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "PARLANCE_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "PARLANCE_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "PARLANCE_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "PARLANCE_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Bus.Enabled, "PARLANCE_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "PARLANCE_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "PARLANCE_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "PARLANCE_BUS_SERVERS")
	overrideString(&cfg.Bus.StoreDir, "PARLANCE_BUS_STORE_DIR")
	overrideInt(&cfg.Bus.ConnectTimeout, "PARLANCE_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Store.Path, "PARLANCE_STORE_PATH")
	overrideString(&cfg.Artifacts.Dir, "PARLANCE_ARTIFACTS_DIR")
	overrideString(&cfg.Artifacts.DirectBaseURL, "PARLANCE_ARTIFACTS_DIRECT_BASE_URL")
	overrideString(&cfg.Artifacts.ProxyBaseURL, "PARLANCE_ARTIFACTS_PROXY_BASE_URL")
	overrideInt(&cfg.Artifacts.FetchTimeoutMS, "PARLANCE_ARTIFACTS_FETCH_TIMEOUT_MS")
	overrideInt(&cfg.Artifacts.RetryDelayMS, "PARLANCE_ARTIFACTS_RETRY_DELAY_MS")
	overrideString(&cfg.Synthesis.Mode, "PARLANCE_SYNTHESIS_MODE")
	overrideString(&cfg.Synthesis.Command, "PARLANCE_SYNTHESIS_COMMAND")
	overrideString(&cfg.Synthesis.ModelPath, "PARLANCE_SYNTHESIS_MODEL_PATH")
	overrideInt(&cfg.Synthesis.SampleRate, "PARLANCE_SYNTHESIS_SAMPLE_RATE")
	overrideInt(&cfg.Synthesis.MaxAudioLengthMS, "PARLANCE_SYNTHESIS_MAX_AUDIO_LENGTH_MS")
	overrideFloat(&cfg.Synthesis.Temperature, "PARLANCE_SYNTHESIS_TEMPERATURE")
	overrideInt(&cfg.Synthesis.TopK, "PARLANCE_SYNTHESIS_TOPK")
	overrideInt(&cfg.Synthesis.TimeoutMS, "PARLANCE_SYNTHESIS_TIMEOUT_MS")
	overrideString(&cfg.Transcription.Mode, "PARLANCE_TRANSCRIPTION_MODE")
	overrideString(&cfg.Transcription.Command, "PARLANCE_TRANSCRIPTION_COMMAND")
	overrideString(&cfg.Transcription.Model, "PARLANCE_TRANSCRIPTION_MODEL")
	overrideInt(&cfg.Transcription.TimeoutMS, "PARLANCE_TRANSCRIPTION_TIMEOUT_MS")
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

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Store.Path == "" {
		return errors.New("store.path must not be empty")
	}
	if cfg.Artifacts.Dir == "" {
		return errors.New("artifacts.dir must not be empty")
	}
	if cfg.Artifacts.DirectBaseURL == "" || cfg.Artifacts.ProxyBaseURL == "" {
		return errors.New("artifacts.direct_base_url and artifacts.proxy_base_url must not be empty")
	}
	if cfg.Artifacts.FetchTimeoutMS <= 0 {
		return errors.New("artifacts.fetch_timeout_ms must be positive")
	}
	switch cfg.Synthesis.Mode {
	case "mock", "exec":
	default:
		return errors.New("synthesis.mode must be one of mock|exec")
	}
	if cfg.Synthesis.Mode == "exec" && cfg.Synthesis.Command == "" {
		return errors.New("synthesis.command must be set when mode=exec")
	}
	if cfg.Synthesis.SampleRate <= 0 {
		return errors.New("synthesis.sample_rate must be positive")
	}
	if cfg.Synthesis.MaxAudioLengthMS <= 0 {
		return errors.New("synthesis.max_audio_length_ms must be positive")
	}
	if cfg.Synthesis.TopK <= 0 {
		return errors.New("synthesis.topk must be positive")
	}
	switch cfg.Transcription.Mode {
	case "mock", "exec":
	default:
		return errors.New("transcription.mode must be one of mock|exec")
	}
	if cfg.Transcription.Mode == "exec" && cfg.Transcription.Command == "" {
		return errors.New("transcription.command must be set when mode=exec")
	}
	return nil
}
