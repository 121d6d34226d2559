// Package devswarm is the control loop and resolution pipeline that drive
// roadmap items through the spec → implementation → validation →
// resolution pipeline, wiring the state store, worktree manager, agent
// supervisors, event bus, and code-host collaborator together.
package devswarm

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the daemon's full configuration: defaults are set in code
// (DefaultConfig), then a YAML file may override them, then a handful of
// environment variables override the values that must come from the
// container (§A.3, §6 Environment).
type Config struct {
	DataDir    string `yaml:"data_dir"`
	Port       int    `yaml:"port"`
	MainBranch string `yaml:"main_branch"`

	RepoOwner   string `yaml:"repo_owner"`
	RepoName    string `yaml:"repo_name"`
	UpstreamURL string `yaml:"upstream_url"`

	GithubToken string `yaml:"-"` // never persisted to YAML
	AgentAuth   string `yaml:"-"`

	TickInterval                time.Duration `yaml:"-"`
	TickIntervalSeconds          int           `yaml:"tick_interval_seconds"`
	GithubSyncInterval           time.Duration `yaml:"-"`
	GithubSyncIntervalSeconds    int           `yaml:"github_sync_interval_seconds"`
	CoordinatorIdleThreshold     time.Duration `yaml:"-"`
	CoordinatorIdleThresholdSecs int           `yaml:"coordinator_idle_threshold_seconds"`

	ValidationCommands []string `yaml:"validation_commands"`
	// TestCommands is reserved but not yet invoked by the validation step
	// (Open Question 1 — see DESIGN.md).
	TestCommands []string `yaml:"test_commands"`

	MaxSpecRetries int `yaml:"max_spec_retries"`

	BareRepoDaemonPort int `yaml:"bare_repo_daemon_port"`

	AgentRuntimeBinary string `yaml:"agent_runtime_binary"`
	Verbose            bool   `yaml:"verbose"`
}

// DefaultConfig returns the baseline configuration, following the teacher's
// DefaultConfig() pattern of setting every field to a sane default in code.
func DefaultConfig() Config {
	return Config{
		DataDir:                      "./data",
		Port:                         8080,
		MainBranch:                   "main",
		TickIntervalSeconds:          5,
		GithubSyncIntervalSeconds:    60,
		CoordinatorIdleThresholdSecs: 60,
		ValidationCommands:           []string{"lint", "build"},
		MaxSpecRetries:               3,
		BareRepoDaemonPort:           9418,
		AgentRuntimeBinary:           "claude",
	}
}

// LoadConfig reads DefaultConfig(), overlays path (if it exists) as YAML,
// then overlays a fixed set of environment variables.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if v := os.Getenv("DEVSWARM_REPO_OWNER"); v != "" {
		cfg.RepoOwner = v
	}
	if v := os.Getenv("DEVSWARM_REPO_NAME"); v != "" {
		cfg.RepoName = v
	}
	if v := os.Getenv("DEVSWARM_UPSTREAM_URL"); v != "" {
		cfg.UpstreamURL = v
	}
	if v := os.Getenv("DEVSWARM_PORT"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Port)
	}
	if v := os.Getenv("GITHUB_TOKEN"); v != "" {
		cfg.GithubToken = v
	}
	if v := os.Getenv("DEVSWARM_AGENT_AUTH"); v != "" {
		cfg.AgentAuth = v
	}
	if v := os.Getenv("GITHUB_SYNC_INTERVAL"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.GithubSyncIntervalSeconds)
	}

	cfg.ApplyDerivedDurations()

	return cfg, nil
}

// ApplyDerivedDurations recomputes the time.Duration fields from their
// *Seconds counterparts. Exported so a config-table override applied after
// LoadConfig (cmd/devswarm's applyConfigTableOverrides) can refresh the
// durations it depends on without duplicating the conversion.
func (c *Config) ApplyDerivedDurations() {
	c.TickInterval = time.Duration(c.TickIntervalSeconds) * time.Second
	c.GithubSyncInterval = time.Duration(c.GithubSyncIntervalSeconds) * time.Second
	c.CoordinatorIdleThreshold = time.Duration(c.CoordinatorIdleThresholdSecs) * time.Second
}
