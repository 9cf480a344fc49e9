package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// MaxResultsLimit bounds the number of candidates kept per final result.
const MaxResultsLimit = 5

// DefaultLanguage is used when no recognition language is configured.
const DefaultLanguage = "hi"

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	Node        NodeConfig       `yaml:"node"`
	Recognizer  RecognizerConfig `yaml:"recognizer"`
	Capture     CaptureConfig    `yaml:"capture"`
	History     HistoryConfig    `yaml:"history"`
	Draft       DraftConfig      `yaml:"draft"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type NodeConfig struct {
	ID                string `yaml:"id"`
	HeartbeatInterval int    `yaml:"heartbeat_interval_ms"`
	HeartbeatTimeout  int    `yaml:"heartbeat_timeout_ms"`
}

// RecognizerConfig selects the speech recognition capability driven by the session.
type RecognizerConfig struct {
	Mode                  string `yaml:"mode"` // mock, exec, bus
	Command               string `yaml:"command"`
	Language              string `yaml:"language"`
	LanguageModel         string `yaml:"language_model"`
	MaxResults            int    `yaml:"max_results"`
	AvailabilityTimeoutMS int    `yaml:"availability_timeout_ms"`
	Host                  bool   `yaml:"host"`
	HostMode              string `yaml:"host_mode"` // mock, exec
}

type CaptureConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Directory  string `yaml:"directory"`
	SampleRate int    `yaml:"sample_rate"`
	Channels   int    `yaml:"channels"`
}

type HistoryConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxAttempts   int    `yaml:"max_attempts"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type DraftConfig struct {
	Terminator   string `yaml:"terminator"`
	ShareSubject string `yaml:"share_subject"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-listen",
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
			Enabled:        false,
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Node: NodeConfig{
			ID:                "loqa-listen-1",
			HeartbeatInterval: 2000,
			HeartbeatTimeout:  6000,
		},
		Recognizer: RecognizerConfig{
			Mode:                  "mock",
			Language:              DefaultLanguage,
			LanguageModel:         "free_form",
			MaxResults:            MaxResultsLimit,
			AvailabilityTimeoutMS: 500,
			HostMode:              "mock",
		},
		Capture: CaptureConfig{
			Enabled:    false,
			Directory:  "./data/capture",
			SampleRate: 16000,
			Channels:   1,
		},
		History: HistoryConfig{
			Path:          "./data/loqa-listen.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxAttempts:   10000,
		},
		Draft: DraftConfig{
			Terminator:   "। ",
			ShareSubject: "share.text",
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
	overrideString(&cfg.RuntimeName, "LOQA_RUNTIME_NAME")
	overrideString(&cfg.Environment, "LOQA_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "LOQA_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "LOQA_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "LOQA_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "LOQA_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "LOQA_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Bus.Enabled, "LOQA_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "LOQA_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "LOQA_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "LOQA_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "LOQA_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "LOQA_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "LOQA_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "LOQA_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "LOQA_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "LOQA_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Node.ID, "LOQA_NODE_ID")
	overrideInt(&cfg.Node.HeartbeatInterval, "LOQA_NODE_HEARTBEAT_INTERVAL_MS")
	overrideInt(&cfg.Node.HeartbeatTimeout, "LOQA_NODE_HEARTBEAT_TIMEOUT_MS")
	overrideString(&cfg.Recognizer.Mode, "LOQA_RECOGNIZER_MODE")
	overrideString(&cfg.Recognizer.Command, "LOQA_RECOGNIZER_COMMAND")
	overrideString(&cfg.Recognizer.Language, "LOQA_RECOGNIZER_LANGUAGE")
	overrideString(&cfg.Recognizer.LanguageModel, "LOQA_RECOGNIZER_LANGUAGE_MODEL")
	overrideInt(&cfg.Recognizer.MaxResults, "LOQA_RECOGNIZER_MAX_RESULTS")
	overrideInt(&cfg.Recognizer.AvailabilityTimeoutMS, "LOQA_RECOGNIZER_AVAILABILITY_TIMEOUT_MS")
	overrideBool(&cfg.Recognizer.Host, "LOQA_RECOGNIZER_HOST")
	overrideString(&cfg.Recognizer.HostMode, "LOQA_RECOGNIZER_HOST_MODE")
	overrideBool(&cfg.Capture.Enabled, "LOQA_CAPTURE_ENABLED")
	overrideString(&cfg.Capture.Directory, "LOQA_CAPTURE_DIRECTORY")
	overrideInt(&cfg.Capture.SampleRate, "LOQA_CAPTURE_SAMPLE_RATE")
	overrideInt(&cfg.Capture.Channels, "LOQA_CAPTURE_CHANNELS")
	overrideString(&cfg.History.Path, "LOQA_HISTORY_PATH")
	overrideString(&cfg.History.RetentionMode, "LOQA_HISTORY_RETENTION_MODE")
	overrideInt(&cfg.History.RetentionDays, "LOQA_HISTORY_RETENTION_DAYS")
	overrideInt(&cfg.History.MaxAttempts, "LOQA_HISTORY_MAX_ATTEMPTS")
	overrideBool(&cfg.History.VacuumOnStart, "LOQA_HISTORY_VACUUM_ON_START")
	overrideRawString(&cfg.Draft.Terminator, "LOQA_DRAFT_TERMINATOR")
	overrideString(&cfg.Draft.ShareSubject, "LOQA_DRAFT_SHARE_SUBJECT")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

// overrideRawString keeps surrounding whitespace, which is significant for separators.
func overrideRawString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
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
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
		if cfg.Node.ID == "" {
			return errors.New("node.id must not be empty")
		}
		if cfg.Node.HeartbeatInterval <= 0 {
			return errors.New("node.heartbeat_interval_ms must be positive")
		}
		if cfg.Node.HeartbeatTimeout <= cfg.Node.HeartbeatInterval {
			return errors.New("node.heartbeat_timeout_ms must be greater than heartbeat interval")
		}
	}
	switch cfg.Recognizer.Mode {
	case "mock", "exec":
	case "bus":
		if !cfg.Bus.Enabled {
			return errors.New("recognizer.mode=bus requires bus.enabled")
		}
	default:
		return errors.New("recognizer.mode must be one of mock|exec|bus")
	}
	if cfg.Recognizer.Mode == "exec" && cfg.Recognizer.Command == "" {
		return errors.New("recognizer.command must be set when mode=exec")
	}
	if cfg.Recognizer.Language == "" {
		return errors.New("recognizer.language must not be empty")
	}
	if cfg.Recognizer.MaxResults <= 0 || cfg.Recognizer.MaxResults > MaxResultsLimit {
		return fmt.Errorf("recognizer.max_results must be between 1 and %d", MaxResultsLimit)
	}
	if cfg.Recognizer.Host {
		if !cfg.Bus.Enabled {
			return errors.New("recognizer.host requires bus.enabled")
		}
		switch cfg.Recognizer.HostMode {
		case "mock":
		case "exec":
			if cfg.Recognizer.Command == "" {
				return errors.New("recognizer.command must be set when host_mode=exec")
			}
		default:
			return errors.New("recognizer.host_mode must be one of mock|exec")
		}
	}
	if cfg.Capture.Enabled {
		if cfg.Capture.Directory == "" {
			return errors.New("capture.directory must not be empty when capture is enabled")
		}
		if cfg.Capture.SampleRate <= 0 {
			return errors.New("capture.sample_rate must be positive")
		}
		if cfg.Capture.Channels <= 0 {
			return errors.New("capture.channels must be positive")
		}
	}
	switch cfg.History.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("history.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.History.RetentionMode != "ephemeral" && cfg.History.Path == "" {
		return errors.New("history.path must not be empty")
	}
	if cfg.History.RetentionDays < 0 {
		return errors.New("history.retention_days must be >= 0")
	}
	return nil
}
