package config

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yungbote/samplegrid/internal/platform/envutil"
	"github.com/yungbote/samplegrid/internal/platform/logger"
)

const configEnv = "SAMPLEGRID_CONFIG_YAML"

//go:embed samplegrid.yaml
var configFS embed.FS

// fallback settings used when YAML is missing or invalid
var fallbackConfig = Config{
	ArchiveEnabled:   true,
	LogMode:          "prod",
	Extensions:       []string{".wav"},
	ExportSampleRate: 44100,
}

type Config struct {
	SessionsDir         string   `yaml:"sessions_dir"`
	ArchiveEnabled      bool     `yaml:"archive_enabled"`
	ArchivePath         string   `yaml:"archive_path"`
	LogMode             string   `yaml:"log_mode"`
	Workers             int      `yaml:"workers"`
	VelocityWindowMS    int      `yaml:"velocity_window_ms"`
	ConfidenceThreshold float64  `yaml:"confidence_threshold"`
	FileTimeoutSeconds  int      `yaml:"file_timeout_seconds"`
	Extensions          []string `yaml:"extensions"`
	ExportSampleRate    int      `yaml:"export_sample_rate"`
}

var loadOnce sync.Once
var loadCache *Config
var loadErr error

// Current returns the effective configuration: embedded defaults, overridden
// by SAMPLEGRID_CONFIG_YAML if set, then per-field env vars. Load failures
// fall back to defaults with a warning rather than aborting.
func Current(log *logger.Logger) Config {
	loadOnce.Do(func() {
		loadCache, loadErr = load()
	})
	if loadErr != nil {
		if log != nil {
			log.Warn("config: load failed; using defaults", "error", loadErr)
		}
		cfg := fallbackConfig
		applyEnvOverrides(&cfg)
		return cfg
	}
	return *loadCache
}

func load() (*Config, error) {
	data, err := readConfigYAML()
	if err != nil {
		return nil, err
	}

	cfg := fallbackConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	applyEnvOverrides(&cfg)
	return &cfg, nil
}

func readConfigYAML() ([]byte, error) {
	if path := strings.TrimSpace(os.Getenv(configEnv)); path != "" {
		return os.ReadFile(path)
	}
	return configFS.ReadFile("samplegrid.yaml")
}

func validate(cfg *Config) error {
	switch cfg.LogMode {
	case "", "dev", "prod", "quiet":
	default:
		return fmt.Errorf("unknown log_mode: %s", cfg.LogMode)
	}
	if cfg.Workers < 0 {
		return fmt.Errorf("workers must be >= 0, got %d", cfg.Workers)
	}
	if cfg.VelocityWindowMS < 0 {
		return fmt.Errorf("velocity_window_ms must be >= 0, got %d", cfg.VelocityWindowMS)
	}
	if cfg.ConfidenceThreshold < 0 || cfg.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence_threshold must be within [0, 1], got %g", cfg.ConfidenceThreshold)
	}
	if cfg.FileTimeoutSeconds < 0 {
		return fmt.Errorf("file_timeout_seconds must be >= 0, got %d", cfg.FileTimeoutSeconds)
	}
	switch cfg.ExportSampleRate {
	case 0, 44100, 48000, 96000:
	default:
		return fmt.Errorf("unsupported export_sample_rate: %d", cfg.ExportSampleRate)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	cfg.SessionsDir = envutil.String("SAMPLEGRID_SESSIONS_DIR", cfg.SessionsDir)
	cfg.ArchivePath = envutil.String("SAMPLEGRID_ARCHIVE_PATH", cfg.ArchivePath)
	cfg.LogMode = envutil.String("SAMPLEGRID_LOG_MODE", cfg.LogMode)
	cfg.ArchiveEnabled = envutil.Bool("SAMPLEGRID_ARCHIVE", cfg.ArchiveEnabled)
}

// ResolvedSessionsDir expands the configured sessions directory, defaulting
// to ~/.samplegrid/sessions.
func (c Config) ResolvedSessionsDir() string {
	if dir := strings.TrimSpace(c.SessionsDir); dir != "" {
		return dir
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".samplegrid", "sessions")
	}
	return "sessions"
}

// ResolvedArchivePath expands the archive location, or returns "" when the
// archive is disabled.
func (c Config) ResolvedArchivePath() string {
	if !c.ArchiveEnabled {
		return ""
	}
	if path := strings.TrimSpace(c.ArchivePath); path != "" {
		return path
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".samplegrid", "archive.db")
	}
	return "archive.db"
}

func (c Config) FileTimeout() time.Duration {
	if c.FileTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(c.FileTimeoutSeconds) * time.Second
}
