package devswarm

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if cfg.MainBranch != "main" {
		t.Errorf("MainBranch = %q, want %q", cfg.MainBranch, "main")
	}
	if len(cfg.ValidationCommands) != 2 {
		t.Errorf("ValidationCommands = %v, want lint+build", cfg.ValidationCommands)
	}
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.TickInterval != 5*time.Second {
		t.Errorf("TickInterval = %v, want 5s", cfg.TickInterval)
	}
	if cfg.GithubSyncInterval != 60*time.Second {
		t.Errorf("GithubSyncInterval = %v, want 60s", cfg.GithubSyncInterval)
	}
}

func TestLoadConfigOverlaysYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devswarm.yaml")
	yaml := "port: 9090\ntick_interval_seconds: 2\nmax_spec_retries: 5\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Port != 9090 {
		t.Errorf("Port = %d, want 9090", cfg.Port)
	}
	if cfg.TickInterval != 2*time.Second {
		t.Errorf("TickInterval = %v, want 2s", cfg.TickInterval)
	}
	if cfg.MaxSpecRetries != 5 {
		t.Errorf("MaxSpecRetries = %d, want 5", cfg.MaxSpecRetries)
	}
}

func TestLoadConfigEnvOverridesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devswarm.yaml")
	if err := os.WriteFile(path, []byte("port: 9090\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DEVSWARM_PORT", "7000")
	t.Setenv("DEVSWARM_REPO_OWNER", "acme")
	t.Setenv("DEVSWARM_REPO_NAME", "widgets")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Port != 7000 {
		t.Errorf("Port = %d, want 7000 (env should win over yaml)", cfg.Port)
	}
	if cfg.RepoOwner != "acme" || cfg.RepoName != "widgets" {
		t.Errorf("RepoOwner/RepoName = %q/%q, want acme/widgets", cfg.RepoOwner, cfg.RepoName)
	}
}
