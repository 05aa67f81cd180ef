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
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type CaptureConfig struct {
	Mode             string `yaml:"mode"` // mock, exec
	Command          string `yaml:"command"`
	SampleRate       int    `yaml:"sample_rate"`
	Channels         int    `yaml:"channels"`
	FrameDurationMS  int    `yaml:"frame_duration_ms"`
	EchoCancellation bool   `yaml:"echo_cancellation"`
	NoiseSuppression bool   `yaml:"noise_suppression"`
	AutoGainControl  bool   `yaml:"auto_gain_control"`
}

type EncoderConfig struct {
	// Preferred lists media types in negotiation order; the first one with a
	// usable backend wins.
	Preferred   []string `yaml:"preferred"`
	OpusCommand string   `yaml:"opus_command"`
	TimesliceMS int      `yaml:"timeslice_ms"`
}

type TranscriptionConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Mode           string `yaml:"mode"` // mock, exec
	Command        string `yaml:"command"`
	ModelPath      string `yaml:"model_path"`
	UserLocale     string `yaml:"user_locale"`
	PartialEveryMS int    `yaml:"partial_every_ms"`
	InterimResults bool   `yaml:"interim_results"`
}

type TranslationConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Mode     string `yaml:"mode"` // mock, exec, http
	Command  string `yaml:"command"`
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"api_key"`
}

type SessionConfig struct {
	MaxDurationSeconds int `yaml:"max_duration_seconds"`
}

type MemoStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
	MaxMemos      int    `yaml:"max_memos"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type Config struct {
	RuntimeName   string              `yaml:"runtime_name"`
	Environment   string              `yaml:"environment"`
	HTTP          HTTPConfig          `yaml:"http"`
	Telemetry     TelemetryConfig     `yaml:"telemetry"`
	Bus           BusConfig           `yaml:"bus"`
	Capture       CaptureConfig       `yaml:"capture"`
	Encoder       EncoderConfig       `yaml:"encoder"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Translation   TranslationConfig   `yaml:"translation"`
	Session       SessionConfig       `yaml:"session"`
	MemoStore     MemoStoreConfig     `yaml:"memo_store"`
}

func Default() Config {
	return Config{
		RuntimeName: "memovox-runtime",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Capture: CaptureConfig{
			Mode:             "mock",
			SampleRate:       16000,
			Channels:         1,
			FrameDurationMS:  100,
			EchoCancellation: true,
			NoiseSuppression: true,
			AutoGainControl:  true,
		},
		Encoder: EncoderConfig{
			Preferred:   []string{"audio/ogg;codecs=opus", "audio/wav", "audio/pcm"},
			TimesliceMS: 100,
		},
		Transcription: TranscriptionConfig{
			Enabled:        true,
			Mode:           "mock",
			UserLocale:     "en-US",
			PartialEveryMS: 800,
			InterimResults: true,
		},
		Translation: TranslationConfig{
			Enabled:  false,
			Mode:     "mock",
			Endpoint: "http://localhost:5000",
		},
		Session: SessionConfig{
			MaxDurationSeconds: 120,
		},
		MemoStore: MemoStoreConfig{
			Path:          "./data/memovox.db",
			RetentionDays: 0,
			MaxMemos:      0,
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
	overrideString(&cfg.RuntimeName, "MEMOVOX_RUNTIME_NAME")
	overrideString(&cfg.Environment, "MEMOVOX_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "MEMOVOX_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "MEMOVOX_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "MEMOVOX_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "MEMOVOX_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "MEMOVOX_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "MEMOVOX_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "MEMOVOX_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "MEMOVOX_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "MEMOVOX_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "MEMOVOX_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "MEMOVOX_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "MEMOVOX_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "MEMOVOX_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "MEMOVOX_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Capture.Mode, "MEMOVOX_CAPTURE_MODE")
	overrideString(&cfg.Capture.Command, "MEMOVOX_CAPTURE_COMMAND")
	overrideInt(&cfg.Capture.SampleRate, "MEMOVOX_CAPTURE_SAMPLE_RATE")
	overrideInt(&cfg.Capture.Channels, "MEMOVOX_CAPTURE_CHANNELS")
	overrideInt(&cfg.Capture.FrameDurationMS, "MEMOVOX_CAPTURE_FRAME_DURATION_MS")
	overrideBool(&cfg.Capture.EchoCancellation, "MEMOVOX_CAPTURE_ECHO_CANCELLATION")
	overrideBool(&cfg.Capture.NoiseSuppression, "MEMOVOX_CAPTURE_NOISE_SUPPRESSION")
	overrideBool(&cfg.Capture.AutoGainControl, "MEMOVOX_CAPTURE_AUTO_GAIN_CONTROL")
	overrideStringSlice(&cfg.Encoder.Preferred, "MEMOVOX_ENCODER_PREFERRED")
	overrideString(&cfg.Encoder.OpusCommand, "MEMOVOX_ENCODER_OPUS_COMMAND")
	overrideInt(&cfg.Encoder.TimesliceMS, "MEMOVOX_ENCODER_TIMESLICE_MS")
	overrideBool(&cfg.Transcription.Enabled, "MEMOVOX_TRANSCRIPTION_ENABLED")
	overrideString(&cfg.Transcription.Mode, "MEMOVOX_TRANSCRIPTION_MODE")
	overrideString(&cfg.Transcription.Command, "MEMOVOX_TRANSCRIPTION_COMMAND")
	overrideString(&cfg.Transcription.ModelPath, "MEMOVOX_TRANSCRIPTION_MODEL_PATH")
	overrideString(&cfg.Transcription.UserLocale, "MEMOVOX_TRANSCRIPTION_USER_LOCALE")
	overrideInt(&cfg.Transcription.PartialEveryMS, "MEMOVOX_TRANSCRIPTION_PARTIAL_EVERY_MS")
	overrideBool(&cfg.Transcription.InterimResults, "MEMOVOX_TRANSCRIPTION_INTERIM_RESULTS")
	overrideBool(&cfg.Translation.Enabled, "MEMOVOX_TRANSLATION_ENABLED")
	overrideString(&cfg.Translation.Mode, "MEMOVOX_TRANSLATION_MODE")
	overrideString(&cfg.Translation.Command, "MEMOVOX_TRANSLATION_COMMAND")
	overrideString(&cfg.Translation.Endpoint, "MEMOVOX_TRANSLATION_ENDPOINT")
	overrideString(&cfg.Translation.APIKey, "MEMOVOX_TRANSLATION_API_KEY")
	overrideInt(&cfg.Session.MaxDurationSeconds, "MEMOVOX_SESSION_MAX_DURATION_SECONDS")
	overrideString(&cfg.MemoStore.Path, "MEMOVOX_MEMO_STORE_PATH")
	overrideInt(&cfg.MemoStore.RetentionDays, "MEMOVOX_MEMO_STORE_RETENTION_DAYS")
	overrideInt(&cfg.MemoStore.MaxMemos, "MEMOVOX_MEMO_STORE_MAX_MEMOS")
	overrideBool(&cfg.MemoStore.VacuumOnStart, "MEMOVOX_MEMO_STORE_VACUUM_ON_START")
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
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	switch cfg.Capture.Mode {
	case "mock", "exec":
	default:
		return errors.New("capture.mode must be one of mock|exec")
	}
	if cfg.Capture.Mode == "exec" && cfg.Capture.Command == "" {
		return errors.New("capture.command must be set when mode=exec")
	}
	if cfg.Capture.SampleRate <= 0 {
		return errors.New("capture.sample_rate must be positive")
	}
	if cfg.Capture.Channels <= 0 {
		return errors.New("capture.channels must be positive")
	}
	if cfg.Capture.FrameDurationMS <= 0 {
		return errors.New("capture.frame_duration_ms must be positive")
	}
	if len(cfg.Encoder.Preferred) == 0 {
		return errors.New("encoder.preferred must not be empty")
	}
	if cfg.Encoder.TimesliceMS <= 0 {
		return errors.New("encoder.timeslice_ms must be positive")
	}
	if cfg.Transcription.Enabled {
		switch cfg.Transcription.Mode {
		case "mock", "exec":
		default:
			return errors.New("transcription.mode must be one of mock|exec")
		}
		if cfg.Transcription.Mode == "exec" && cfg.Transcription.Command == "" {
			return errors.New("transcription.command must be set when mode=exec")
		}
		if cfg.Transcription.PartialEveryMS < 0 {
			return errors.New("transcription.partial_every_ms must be >= 0")
		}
	}
	if cfg.Translation.Enabled {
		switch cfg.Translation.Mode {
		case "mock", "exec", "http":
		default:
			return errors.New("translation.mode must be one of mock|exec|http")
		}
		if cfg.Translation.Mode == "exec" && cfg.Translation.Command == "" {
			return errors.New("translation.command must be set when mode=exec")
		}
		if cfg.Translation.Mode == "http" && cfg.Translation.Endpoint == "" {
			return errors.New("translation.endpoint must be set when mode=http")
		}
	}
	if cfg.Session.MaxDurationSeconds <= 0 {
		return errors.New("session.max_duration_seconds must be positive")
	}
	if cfg.MemoStore.Path == "" {
		return errors.New("memo_store.path must not be empty")
	}
	if cfg.MemoStore.RetentionDays < 0 {
		return errors.New("memo_store.retention_days must be >= 0")
	}
	if cfg.MemoStore.MaxMemos < 0 {
		return errors.New("memo_store.max_memos must be >= 0")
	}
	return nil
}
