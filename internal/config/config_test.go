package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestEmbeddedDefaultsParse(t *testing.T) {
	data, err := configFS.ReadFile("samplegrid.yaml")
	if err != nil {
		t.Fatalf("read embedded yaml: %v", err)
	}
	cfg := fallbackConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("unmarshal embedded yaml: %v", err)
	}
	if err := validate(&cfg); err != nil {
		t.Fatalf("embedded defaults invalid: %v", err)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) { _ = c }, false},
		{"dev log mode", func(c *Config) { c.LogMode = "dev" }, false},
		{"quiet log mode", func(c *Config) { c.LogMode = "quiet" }, false},
		{"empty log mode", func(c *Config) { c.LogMode = "" }, false},
		{"unknown log mode", func(c *Config) { c.LogMode = "verbose" }, true},
		{"negative workers", func(c *Config) { c.Workers = -1 }, true},
		{"negative window", func(c *Config) { c.VelocityWindowMS = -100 }, true},
		{"threshold above one", func(c *Config) { c.ConfidenceThreshold = 1.5 }, true},
		{"threshold below zero", func(c *Config) { c.ConfidenceThreshold = -0.1 }, true},
		{"negative timeout", func(c *Config) { c.FileTimeoutSeconds = -5 }, true},
		{"48k export", func(c *Config) { c.ExportSampleRate = 48000 }, false},
		{"odd export rate", func(c *Config) { c.ExportSampleRate = 22050 }, true},
	}

	for _, tc := range cases {
		cfg := fallbackConfig
		tc.mutate(&cfg)
		err := validate(&cfg)
		if tc.wantErr && err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
		if !tc.wantErr && err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("SAMPLEGRID_SESSIONS_DIR", "/srv/samplegrid/sessions")
	t.Setenv("SAMPLEGRID_ARCHIVE_PATH", "/srv/samplegrid/archive.db")
	t.Setenv("SAMPLEGRID_LOG_MODE", "quiet")
	t.Setenv("SAMPLEGRID_ARCHIVE", "false")

	cfg := fallbackConfig
	applyEnvOverrides(&cfg)

	if cfg.SessionsDir != "/srv/samplegrid/sessions" {
		t.Fatalf("SessionsDir = %q", cfg.SessionsDir)
	}
	if cfg.ArchivePath != "/srv/samplegrid/archive.db" {
		t.Fatalf("ArchivePath = %q", cfg.ArchivePath)
	}
	if cfg.LogMode != "quiet" {
		t.Fatalf("LogMode = %q", cfg.LogMode)
	}
	if cfg.ArchiveEnabled {
		t.Fatal("SAMPLEGRID_ARCHIVE=false should disable the archive")
	}
}

func TestApplyEnvOverridesIgnoresGarbageBool(t *testing.T) {
	t.Setenv("SAMPLEGRID_ARCHIVE", "sideways")

	cfg := fallbackConfig
	applyEnvOverrides(&cfg)
	if !cfg.ArchiveEnabled {
		t.Fatal("unparseable SAMPLEGRID_ARCHIVE should keep the default")
	}
}

func TestReadConfigYAMLEnvPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "override.yaml")
	if err := os.WriteFile(path, []byte("workers: 3\n"), 0o644); err != nil {
		t.Fatalf("write override: %v", err)
	}
	t.Setenv(configEnv, path)

	data, err := readConfigYAML()
	if err != nil {
		t.Fatalf("readConfigYAML: %v", err)
	}
	cfg := fallbackConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("unmarshal override: %v", err)
	}
	if cfg.Workers != 3 {
		t.Fatalf("Workers = %d, want 3 from override file", cfg.Workers)
	}
	if !cfg.ArchiveEnabled || cfg.ExportSampleRate != 44100 {
		t.Fatalf("override should layer on the fallback, got %+v", cfg)
	}
}

func TestReadConfigYAMLFallsBackToEmbedded(t *testing.T) {
	t.Setenv(configEnv, "")

	data, err := readConfigYAML()
	if err != nil {
		t.Fatalf("readConfigYAML: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("embedded yaml should not be empty")
	}
}

func TestResolvedSessionsDir(t *testing.T) {
	explicit := Config{SessionsDir: "/data/sessions"}
	if got := explicit.ResolvedSessionsDir(); got != "/data/sessions" {
		t.Fatalf("explicit dir = %q", got)
	}

	got := Config{}.ResolvedSessionsDir()
	want := filepath.Join(".samplegrid", "sessions")
	if got != "sessions" && !strings.HasSuffix(got, want) {
		t.Fatalf("default dir = %q, want suffix %q", got, want)
	}
}

func TestResolvedArchivePath(t *testing.T) {
	disabled := Config{ArchiveEnabled: false, ArchivePath: "/data/archive.db"}
	if got := disabled.ResolvedArchivePath(); got != "" {
		t.Fatalf("disabled archive path = %q, want empty", got)
	}

	explicit := Config{ArchiveEnabled: true, ArchivePath: "/data/archive.db"}
	if got := explicit.ResolvedArchivePath(); got != "/data/archive.db" {
		t.Fatalf("explicit path = %q", got)
	}

	got := Config{ArchiveEnabled: true}.ResolvedArchivePath()
	if got != "archive.db" && !strings.HasSuffix(got, filepath.Join(".samplegrid", "archive.db")) {
		t.Fatalf("default path = %q", got)
	}
}

func TestFileTimeout(t *testing.T) {
	if got := (Config{}).FileTimeout(); got != 0 {
		t.Fatalf("zero timeout = %v, want 0", got)
	}
	if got := (Config{FileTimeoutSeconds: 90}).FileTimeout(); got != 90*time.Second {
		t.Fatalf("timeout = %v, want 90s", got)
	}
}
