package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration for textrelay.
type Config struct {
	General  GeneralConfig  `json:"general" yaml:"general" toml:"general"`
	Server   ServerConfig   `json:"server" yaml:"server" toml:"server"`
	Local    LocalConfig    `json:"local" yaml:"local" toml:"local"`
	Hosted   HostedConfig   `json:"hosted" yaml:"hosted" toml:"hosted"`
	Delivery DeliveryConfig `json:"delivery" yaml:"delivery" toml:"delivery"`
	Storage  StorageConfig  `json:"storage" yaml:"storage" toml:"storage"`
	Media    MediaConfig    `json:"media" yaml:"media" toml:"media"`
	Relay    RelayConfig    `json:"relay" yaml:"relay" toml:"relay"`
	Metrics  MetricsConfig  `json:"metrics" yaml:"metrics" toml:"metrics"`
}

type GeneralConfig struct {
	LogLevel              string `json:"logLevel" yaml:"logLevel" toml:"logLevel"`
	LogFile               string `json:"logFile,omitempty" yaml:"logFile,omitempty" toml:"logFile,omitempty"`
	MaxConcurrentMessages int    `json:"maxConcurrentMessages" yaml:"maxConcurrentMessages" toml:"maxConcurrentMessages"`
	QueueSize             int    `json:"queueSize" yaml:"queueSize" toml:"queueSize"`
}

// ServerConfig configures the inbound webhook HTTP server.
type ServerConfig struct {
	Host         string `json:"host" yaml:"host" toml:"host"`
	Port         int    `json:"port" yaml:"port" toml:"port"`
	MessagePath  string `json:"messagePath" yaml:"messagePath" toml:"messagePath"`
	CallbackPath string `json:"callbackPath" yaml:"callbackPath" toml:"callbackPath"`
}

// LocalConfig configures the local inference server (Ollama API).
// APIBase includes the /api prefix, e.g. http://ollama:11434/api.
type LocalConfig struct {
	APIBase               string `json:"apiBase" yaml:"apiBase" toml:"apiBase"`
	BootstrapModel        string `json:"bootstrapModel" yaml:"bootstrapModel" toml:"bootstrapModel"`
	TimeoutSeconds        int    `json:"timeoutSeconds" yaml:"timeoutSeconds" toml:"timeoutSeconds"`
	InstallTimeoutSeconds int    `json:"installTimeoutSeconds" yaml:"installTimeoutSeconds" toml:"installTimeoutSeconds"`
	PromptSuffix          string `json:"promptSuffix" yaml:"promptSuffix" toml:"promptSuffix"`
	RateLimitPerMin       int    `json:"rateLimitPerMinute,omitempty" yaml:"rateLimitPerMinute,omitempty" toml:"rateLimitPerMinute,omitempty"`
}

// HostedConfig configures the hosted chat-completion API.
// Hosted models are listed and dispatched only when APIKey is set.
type HostedConfig struct {
	APIKey         string   `json:"apiKey,omitempty" yaml:"apiKey,omitempty" toml:"apiKey,omitempty"`
	APIBase        string   `json:"apiBase" yaml:"apiBase" toml:"apiBase"`
	Models         []string `json:"models" yaml:"models" toml:"models"`
	DefaultModel   string   `json:"defaultModel" yaml:"defaultModel" toml:"defaultModel"`
	TimeoutSeconds int      `json:"timeoutSeconds" yaml:"timeoutSeconds" toml:"timeoutSeconds"`
}

// DeliveryConfig configures the outbound messaging gateway (Sendblue).
type DeliveryConfig struct {
	APIBase        string `json:"apiBase" yaml:"apiBase" toml:"apiBase"`
	APIKey         string `json:"apiKey,omitempty" yaml:"apiKey,omitempty" toml:"apiKey,omitempty"`
	APISecret      string `json:"apiSecret,omitempty" yaml:"apiSecret,omitempty" toml:"apiSecret,omitempty"`
	CallbackURL    string `json:"callbackURL,omitempty" yaml:"callbackURL,omitempty" toml:"callbackURL,omitempty"`
	TimeoutSeconds int    `json:"timeoutSeconds" yaml:"timeoutSeconds" toml:"timeoutSeconds"`
}

type StorageConfig struct {
	Driver           string `json:"driver" yaml:"driver" toml:"driver"` // "file" | "sqlite"
	Dir              string `json:"dir" yaml:"dir" toml:"dir"`
	TranscriptFile   string `json:"transcriptFile" yaml:"transcriptFile" toml:"transcriptFile"`
	DefaultModelFile string `json:"defaultModelFile" yaml:"defaultModelFile" toml:"defaultModelFile"`
	DBPath           string `json:"dbPath" yaml:"dbPath" toml:"dbPath"`
	MaxTurns         int    `json:"maxTurns" yaml:"maxTurns" toml:"maxTurns"`
}

type MediaConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled" toml:"enabled"`
	Dir      string `json:"dir" yaml:"dir" toml:"dir"`
	MaxBytes int64  `json:"maxBytes" yaml:"maxBytes" toml:"maxBytes"`
}

type RelayConfig struct {
	Apology    string `json:"apology" yaml:"apology" toml:"apology"`
	StylesFile string `json:"stylesFile,omitempty" yaml:"stylesFile,omitempty" toml:"stylesFile,omitempty"`
}

// MetricsConfig configures the Prometheus endpoint on the webhook server.
type MetricsConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled" toml:"enabled"`
	Endpoint string `json:"endpoint" yaml:"endpoint" toml:"endpoint"`
}

// TranscriptPath returns the transcript file path inside the storage dir.
func (s StorageConfig) TranscriptPath() string {
	return joinDir(s.Dir, s.TranscriptFile)
}

// DefaultModelPath returns the default-model file path inside the storage dir.
func (s StorageConfig) DefaultModelPath() string {
	return joinDir(s.Dir, s.DefaultModelFile)
}

func joinDir(dir, name string) string {
	if filepath.IsAbs(name) || dir == "" {
		return name
	}
	return filepath.Join(dir, name)
}

// HostedEnabled reports whether a hosted-backend credential is configured.
func (c *Config) HostedEnabled() bool {
	return c.Hosted.APIKey != ""
}

// DefaultConfigDir returns the default config directory (~/.textrelay).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".textrelay"
	}
	return filepath.Join(home, ".textrelay")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// Load reads a config file, overlays it on Defaults, applies environment
// overrides and validates the result. The format follows the extension:
// .json, .yaml/.yml or .toml.
func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := decode(path, data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	return finish(cfg)
}

// LoadOrDefaults is Load, falling back to Defaults (plus environment
// overrides) when the file does not exist.
func LoadOrDefaults(path string) (*Config, bool, error) {
	if _, err := os.Stat(ExpandPath(path)); os.IsNotExist(err) {
		cfg, err := finish(Defaults())
		return cfg, false, err
	}
	cfg, err := Load(path)
	return cfg, true, err
}

func finish(cfg *Config) (*Config, error) {
	ApplyEnv(cfg)

	cfg.Storage.Dir = ExpandPath(cfg.Storage.Dir)
	cfg.Storage.DBPath = ExpandPath(cfg.Storage.DBPath)
	cfg.Media.Dir = ExpandPath(cfg.Media.Dir)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.Relay.StylesFile = ExpandPath(cfg.Relay.StylesFile)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	case ".toml":
		_, err := toml.NewDecoder(bytes.NewReader(data)).Decode(cfg)
		return err
	default:
		return json.Unmarshal(data, cfg)
	}
}

// envOverrides maps the deployment environment variables onto config fields.
var envOverrides = []struct {
	name  string
	apply func(*Config, string)
}{
	{"OPENAI_API_KEY", func(c *Config, v string) { c.Hosted.APIKey = v }},
	{"OLLAMA_API_ENDPOINT", func(c *Config, v string) { c.Local.APIBase = v }},
	{"SENDBLUE_API_KEY", func(c *Config, v string) { c.Delivery.APIKey = v }},
	{"SENDBLUE_API_SECRET", func(c *Config, v string) { c.Delivery.APISecret = v }},
	{"CALLBACK_URL", func(c *Config, v string) { c.Delivery.CallbackURL = v }},
}

// ApplyEnv overrides config values from the process environment.
func ApplyEnv(cfg *Config) {
	for _, o := range envOverrides {
		if v, ok := os.LookupEnv(o.name); ok && v != "" {
			o.apply(cfg, v)
		}
	}
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		hasDefault := len(groups) >= 3 && groups[2] != ""

		val, exists := os.LookupEnv(groups[1])
		if !exists || val == "" {
			if hasDefault {
				return groups[2]
			}
			return match
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	path = ExpandPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.General.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}
	if cfg.General.MaxConcurrentMessages < 1 || cfg.General.MaxConcurrentMessages > 100 {
		errs = append(errs, "general.maxConcurrentMessages must be between 1 and 100")
	}
	if cfg.General.QueueSize < 1 {
		errs = append(errs, "general.queueSize must be >= 1")
	}

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 0 and 65535")
	}
	if !strings.HasPrefix(cfg.Server.MessagePath, "/") || !strings.HasPrefix(cfg.Server.CallbackPath, "/") {
		errs = append(errs, "server.messagePath and server.callbackPath must start with /")
	}
	if cfg.Server.MessagePath == cfg.Server.CallbackPath {
		errs = append(errs, "server.messagePath and server.callbackPath must differ")
	}

	if cfg.Local.APIBase == "" {
		errs = append(errs, "local.apiBase is required")
	}
	if cfg.Local.BootstrapModel == "" {
		errs = append(errs, "local.bootstrapModel is required")
	}
	if cfg.Local.TimeoutSeconds < 1 || cfg.Local.InstallTimeoutSeconds < 1 {
		errs = append(errs, "local.timeoutSeconds and local.installTimeoutSeconds must be >= 1")
	}
	if cfg.Local.RateLimitPerMin < 0 {
		errs = append(errs, "local.rateLimitPerMinute must be >= 0")
	}

	if cfg.HostedEnabled() {
		if cfg.Hosted.APIBase == "" {
			errs = append(errs, "hosted.apiBase is required when hosted.apiKey is set")
		}
		if !contains(cfg.Hosted.Models, cfg.Hosted.DefaultModel) {
			errs = append(errs, fmt.Sprintf("hosted.defaultModel %q is not in hosted.models", cfg.Hosted.DefaultModel))
		}
	}
	if cfg.Hosted.TimeoutSeconds < 1 {
		errs = append(errs, "hosted.timeoutSeconds must be >= 1")
	}

	if cfg.Delivery.APIBase == "" {
		errs = append(errs, "delivery.apiBase is required")
	}

	switch cfg.Storage.Driver {
	case "file":
		if cfg.Storage.TranscriptFile == "" || cfg.Storage.DefaultModelFile == "" {
			errs = append(errs, "storage.transcriptFile and storage.defaultModelFile are required for the file driver")
		}
	case "sqlite":
		if cfg.Storage.DBPath == "" {
			errs = append(errs, "storage.dbPath is required for the sqlite driver")
		}
	default:
		errs = append(errs, "storage.driver must be one of: file, sqlite")
	}
	if cfg.Storage.MaxTurns < 1 {
		errs = append(errs, "storage.maxTurns must be >= 1")
	}

	if cfg.Media.Enabled && cfg.Media.Dir == "" {
		errs = append(errs, "media.dir is required when media is enabled")
	}
	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Endpoint, "/") {
		errs = append(errs, "metrics.endpoint must start with /")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
