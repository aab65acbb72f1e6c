// Package config provides configuration loading, validation, and management for the survey client.
//
// A single global Config is loaded once at startup from <projectDir>/.surveychat/config.yaml.
// A missing file is created with defaults; an existing file has defaults applied for any
// missing fields and is written back. Environment variables prefixed with SURVEYCHAT override
// file values after load (for example SURVEYCHAT_API_BASE_URL or SURVEYCHAT_STORAGE_BACKEND);
// overrides are never persisted.
//
// GetConfig returns the config BY VALUE so callers cannot mutate the shared instance.
//
//	err := config.LoadConfig(projectDir)
//	cfg, err := config.GetConfig()
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"surveychat/pkg/apiclient/retry"
	"surveychat/pkg/logx"
	"surveychat/pkg/presenter"
	"surveychat/pkg/storage"
	"surveychat/pkg/validate"
)

// File layout and env prefix.
const (
	ProjectConfigDir      = ".surveychat"
	ProjectConfigFilename = "config.yaml"
	EnvPrefix             = "SURVEYCHAT"
)

// Defaults.
const (
	DefaultBaseURL       = "http://localhost:8000/api/v1"
	DefaultSurveyID      = "Immigration Policy Opinion Survey"
	DefaultTimeout       = 30 * time.Second
	DefaultSubjectPrefix = "survey"
	DefaultMockAddr      = "127.0.0.1:8000"
	DefaultLogFile       = "surveychat.log"
	DefaultTranscriptDir = "transcripts"
)

// Global config instance with mutex protection.
//
//nolint:gochecknoglobals // Intentional singleton pattern for config management
var (
	config     *Config
	projectDir string
	logger     *logx.Logger
	mu         sync.RWMutex
)

func getLogger() *logx.Logger {
	if logger == nil {
		logger = logx.NewLogger("config")
	}
	return logger
}

// Config is the complete client configuration.
type Config struct {
	API        APIConfig              `yaml:"api"`
	Storage    StorageConfig          `yaml:"storage"`
	Validation ValidationConfig       `yaml:"validation"`
	Reveal     presenter.RevealConfig `yaml:"reveal"`
	Events     EventsConfig           `yaml:"events"`
	Metrics    MetricsConfig          `yaml:"metrics"`
	Transcript TranscriptConfig       `yaml:"transcript"`
	Logging    LoggingConfig          `yaml:"logging"`
	MockServer MockServerConfig       `yaml:"mock_server" split_words:"true"`
}

// APIConfig locates the survey service.
type APIConfig struct {
	BaseURL  string        `yaml:"base_url" split_words:"true"`
	SurveyID string        `yaml:"survey_id" split_words:"true"`
	Timeout  time.Duration `yaml:"timeout"`
	Retry    retry.Config  `yaml:"retry"`
}

// StorageConfig selects where the respondent id and recovery state live.
// An empty path means the backend's default file under the project config dir.
type StorageConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

// ValidationConfig tunes local answer checks.
type ValidationConfig struct {
	MinTextLength int `yaml:"min_text_length" split_words:"true"`
}

// EventsConfig enables NATS lifecycle events when NATSURL is set. The URL may also come
// from the conventional NATS_URL variable.
type EventsConfig struct {
	NATSURL       string `yaml:"nats_url" envconfig:"NATS_URL"`
	SubjectPrefix string `yaml:"subject_prefix" split_words:"true"`
	Token         string `yaml:"token,omitempty"`
}

// MetricsConfig enables a Prometheus textfile dump on exit when TextfilePath is set.
type MetricsConfig struct {
	TextfilePath string `yaml:"textfile_path" split_words:"true"`
}

// TranscriptConfig controls JSONL transcripts.
type TranscriptConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

// LoggingConfig controls the diagnostic log file.
type LoggingConfig struct {
	File    string   `yaml:"file"`
	Debug   bool     `yaml:"debug"`
	Domains []string `yaml:"domains,omitempty"`
}

// MockServerConfig configures the bundled mock survey service.
type MockServerConfig struct {
	Addr       string `yaml:"addr"`
	SurveyFile string `yaml:"survey_file,omitempty" split_words:"true"`
}

// GetConfig returns the current global config BY VALUE.
// Must call LoadConfig first to initialize the global config.
func GetConfig() (Config, error) {
	mu.RLock()
	defer mu.RUnlock()
	if config == nil {
		return Config{}, fmt.Errorf("config not initialized - call LoadConfig first")
	}
	c := *config
	c.Logging.Domains = append([]string(nil), config.Logging.Domains...)
	return c, nil
}

// SetConfigForTesting sets the global config for testing purposes. Pass nil to reset.
func SetConfigForTesting(cfg *Config) {
	mu.Lock()
	defer mu.Unlock()
	config = cfg
	if cfg == nil {
		projectDir = ""
	}
}

// ProjectDir returns the directory passed to LoadConfig.
func ProjectDir() string {
	mu.RLock()
	defer mu.RUnlock()
	return projectDir
}

// Dir returns the config directory under the loaded project dir.
func Dir() string {
	return filepath.Join(ProjectDir(), ProjectConfigDir)
}

// Path returns the config file location for dir.
func Path(dir string) string {
	return filepath.Join(dir, ProjectConfigDir, ProjectConfigFilename)
}

// LoadConfig loads <projectDir>/.surveychat/config.yaml into the global singleton.
//
// Behavior:
// - Missing file: creates a new config with defaults and saves it
// - Existing file: loads and validates, applying defaults for missing fields
// - Unparseable file: returns an error to avoid overwriting user changes
//
// Environment overrides are applied after the file is saved.
func LoadConfig(inputProjectDir string) error {
	mu.Lock()
	defer mu.Unlock()

	projectDir = inputProjectDir
	configPath := Path(projectDir)

	var loaded *Config
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		getLogger().Info("📝 Config file not found, creating new config at %s", configPath)
		loaded = createDefaultConfig()
	} else {
		getLogger().Info("📝 Loading config from %s", configPath)
		loaded, err = loadConfigFromFile(configPath)
		if err != nil {
			return fmt.Errorf("fatal: config file exists but cannot be parsed (to avoid overwriting your changes): %w", err)
		}
		applyDefaults(loaded)
	}

	if err := validateConfig(loaded); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	config = loaded
	if err := saveConfigLocked(); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	effective := *loaded
	if err := applyEnvOverrides(&effective); err != nil {
		return err
	}
	applyDefaults(&effective)
	if err := validateConfig(&effective); err != nil {
		return fmt.Errorf("config validation failed after environment overrides: %w", err)
	}
	config = &effective

	getLogger().Info("✅ Config loaded and validated successfully")
	return nil
}

// applyEnvOverrides overlays SURVEYCHAT_* variables. Unset variables leave fields alone.
func applyEnvOverrides(cfg *Config) error {
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return fmt.Errorf("invalid %s_* environment override: %w", EnvPrefix, err)
	}
	return nil
}

func loadConfigFromFile(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML %s: %w", configPath, err)
	}
	return &cfg, nil
}

// SaveConfig saves cfg to <dir>/.surveychat/config.yaml.
func SaveConfig(cfg *Config, dir string) error {
	configPath := Path(dir)
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// saveConfigLocked must be called with mu held.
func saveConfigLocked() error {
	if projectDir == "" {
		return fmt.Errorf("config not initialized - call LoadConfig first")
	}
	return SaveConfig(config, projectDir)
}

func createDefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:  DefaultBaseURL,
			SurveyID: DefaultSurveyID,
			Timeout:  DefaultTimeout,
			Retry:    retry.DefaultConfig,
		},
		Storage: StorageConfig{
			Backend: storage.BackendSQLite,
		},
		Validation: ValidationConfig{
			MinTextLength: validate.DefaultMinLength,
		},
		Reveal: presenter.DefaultRevealConfig(),
		Events: EventsConfig{
			SubjectPrefix: DefaultSubjectPrefix,
		},
		Transcript: TranscriptConfig{
			Enabled: true,
			Dir:     DefaultTranscriptDir,
		},
		Logging: LoggingConfig{
			File: DefaultLogFile,
		},
		MockServer: MockServerConfig{
			Addr: DefaultMockAddr,
		},
	}
}

func applyDefaults(cfg *Config) {
	if cfg.API.BaseURL == "" {
		cfg.API.BaseURL = DefaultBaseURL
	}
	if cfg.API.SurveyID == "" {
		cfg.API.SurveyID = DefaultSurveyID
	}
	if cfg.API.Timeout <= 0 {
		cfg.API.Timeout = DefaultTimeout
	}
	if cfg.API.Retry.MaxAttempts <= 0 {
		cfg.API.Retry.MaxAttempts = retry.DefaultConfig.MaxAttempts
	}
	if cfg.API.Retry.InitialDelay <= 0 {
		cfg.API.Retry.InitialDelay = retry.DefaultConfig.InitialDelay
	}
	if cfg.API.Retry.MaxDelay <= 0 {
		cfg.API.Retry.MaxDelay = retry.DefaultConfig.MaxDelay
	}
	if cfg.API.Retry.BackoffFactor < 1 {
		cfg.API.Retry.BackoffFactor = retry.DefaultConfig.BackoffFactor
	}

	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = storage.BackendSQLite
	}
	if cfg.Validation.MinTextLength <= 0 {
		cfg.Validation.MinTextLength = validate.DefaultMinLength
	}

	// A zero reveal block means the section was missing, not that every delay is zero.
	if cfg.Reveal == (presenter.RevealConfig{}) {
		cfg.Reveal = presenter.DefaultRevealConfig()
	}
	if cfg.Reveal.LongThreshold <= 0 {
		cfg.Reveal.LongThreshold = presenter.DefaultRevealConfig().LongThreshold
	}

	if cfg.Events.SubjectPrefix == "" {
		cfg.Events.SubjectPrefix = DefaultSubjectPrefix
	}
	if cfg.Transcript.Dir == "" {
		cfg.Transcript.Dir = DefaultTranscriptDir
	}
	if cfg.Logging.File == "" {
		cfg.Logging.File = DefaultLogFile
	}
	if cfg.MockServer.Addr == "" {
		cfg.MockServer.Addr = DefaultMockAddr
	}
}

func validateConfig(cfg *Config) error {
	u, err := url.Parse(cfg.API.BaseURL)
	if err != nil {
		return fmt.Errorf("api base_url %q is not a valid URL: %w", cfg.API.BaseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("api base_url must start with http:// or https:// (got %q)", cfg.API.BaseURL)
	}
	if u.Host == "" {
		return fmt.Errorf("api base_url %q has no host", cfg.API.BaseURL)
	}
	if cfg.API.SurveyID == "" {
		return fmt.Errorf("api survey_id is required")
	}
	if cfg.API.Retry.MaxAttempts > 10 {
		return fmt.Errorf("api retry max_attempts must be at most 10 (got %d)", cfg.API.Retry.MaxAttempts)
	}
	if cfg.API.Retry.MaxDelay < cfg.API.Retry.InitialDelay {
		return fmt.Errorf("api retry max_delay must not be less than initial_delay")
	}

	switch cfg.Storage.Backend {
	case storage.BackendSQLite, storage.BackendFile, storage.BackendMemory:
	default:
		return fmt.Errorf("storage backend must be one of %s, %s, %s (got %q)",
			storage.BackendSQLite, storage.BackendFile, storage.BackendMemory, cfg.Storage.Backend)
	}

	if cfg.Reveal.StartDelay < 0 || cfg.Reveal.FastPerChar < 0 || cfg.Reveal.SlowPerChar < 0 {
		return fmt.Errorf("reveal delays must not be negative")
	}

	if cfg.Events.NATSURL != "" {
		if _, err := url.Parse(cfg.Events.NATSURL); err != nil {
			return fmt.Errorf("events nats_url %q is not a valid URL: %w", cfg.Events.NATSURL, err)
		}
	}
	return nil
}

// StoragePath resolves the storage location against the config dir.
func (c *Config) StoragePath(configDir string) string {
	if c.Storage.Path == "" {
		return storage.DefaultPath(configDir, c.Storage.Backend)
	}
	return resolve(configDir, c.Storage.Path)
}

// TranscriptDir resolves the transcript directory against the config dir.
func (c *Config) TranscriptDir(configDir string) string {
	return resolve(configDir, c.Transcript.Dir)
}

// MetricsPath resolves the metrics textfile against the config dir. Empty means disabled.
func (c *Config) MetricsPath(configDir string) string {
	return resolve(configDir, c.Metrics.TextfilePath)
}

// LogFilePath resolves the log file against the config dir.
func (c *Config) LogFilePath(configDir string) string {
	return resolve(configDir, c.Logging.File)
}

func resolve(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}
