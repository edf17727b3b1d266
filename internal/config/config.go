// Package config loads the run configuration file and resolves the run
// directory. Environment fallbacks live here, at the CLI boundary; the core
// packages take plain values.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/crewsched/crewsched/pkg/models"
)

// TaskSpec is one bootstrap task entry in the config file.
type TaskSpec struct {
	ID                string                    `yaml:"id"`
	Title             string                    `yaml:"title"`
	Description       string                    `yaml:"description,omitempty"`
	TargetPaths       []string                  `yaml:"target_paths,omitempty"`
	DependsOn         []string                  `yaml:"depends_on,omitempty"`
	RequiresPlan      bool                      `yaml:"requires_plan,omitempty"`
	MaxRevisionCycles int                       `yaml:"max_revision_cycles,omitempty"`
	PersonaPolicy     *models.TaskPersonaPolicy `yaml:"persona_policy,omitempty"`
}

// AdapterSpec selects the teammate adapter.
type AdapterSpec struct {
	Kind       string   `yaml:"kind"` // stub | subprocess
	Command    string   `yaml:"command,omitempty"`
	Args       []string `yaml:"args,omitempty"`
	TimeoutSec int      `yaml:"timeout_sec,omitempty"`
}

// ProviderSpec selects the decision provider.
type ProviderSpec struct {
	Kind    string `yaml:"kind"` // mock | llm
	BaseURL string `yaml:"base_url,omitempty"`
	APIKey  string `yaml:"api_key,omitempty"`
	Model   string `yaml:"model,omitempty"`
}

// RunConfig is the full run configuration file.
type RunConfig struct {
	Lead      string   `yaml:"lead,omitempty"`
	Teammates []string `yaml:"teammates,omitempty"`

	Personas        []models.PersonaDefinition `yaml:"personas,omitempty"`
	PersonaDefaults models.PersonaDefaults     `yaml:"persona_defaults,omitempty"`

	MaxRounds               int `yaml:"max_rounds,omitempty"`
	MaxIdleRounds           int `yaml:"max_idle_rounds,omitempty"`
	MaxIdleSeconds          int `yaml:"max_idle_seconds,omitempty"`
	NoProgressEventInterval int `yaml:"no_progress_event_interval,omitempty"`
	TaskProgressLogLimit    int `yaml:"task_progress_log_limit,omitempty"`
	MaxCommentsPerEvent     int `yaml:"max_comments_per_event,omitempty"`

	HumanApproval       bool `yaml:"human_approval,omitempty"`
	AutoApproveFallback bool `yaml:"auto_approve_fallback,omitempty"`

	Adapter  AdapterSpec  `yaml:"adapter,omitempty"`
	Provider ProviderSpec `yaml:"provider,omitempty"`

	Tasks []TaskSpec `yaml:"tasks,omitempty"`
}

// Load reads and validates a RunConfig from path.
func Load(path string) (*RunConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg RunConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return &cfg, nil
}

// Validate checks cross-field consistency the YAML schema cannot express.
func (c *RunConfig) Validate() error {
	hasExecutablePersona := false
	for _, p := range c.Personas {
		if p.Executable() {
			hasExecutablePersona = true
			break
		}
	}
	if !hasExecutablePersona && len(c.Teammates) == 0 {
		return errors.New("need at least one teammate or an executable persona")
	}
	seen := map[string]bool{}
	for i, t := range c.Tasks {
		if t.ID == "" {
			return fmt.Errorf("task %d missing id", i)
		}
		if seen[t.ID] {
			return fmt.Errorf("task id %q duplicated", t.ID)
		}
		seen[t.ID] = true
	}
	switch c.Adapter.Kind {
	case "", "stub":
	case "subprocess":
		if c.Adapter.Command == "" {
			return errors.New("subprocess adapter requires a command")
		}
	default:
		return fmt.Errorf("unknown adapter kind %q", c.Adapter.Kind)
	}
	switch c.Provider.Kind {
	case "", "mock":
	case "llm":
		if c.Provider.BaseURL == "" {
			return errors.New("llm provider requires a base_url")
		}
	default:
		return fmt.Errorf("unknown provider kind %q", c.Provider.Kind)
	}
	return nil
}

// BootstrapTasks converts the task specs to store-ready tasks.
func (c *RunConfig) BootstrapTasks() []models.Task {
	out := make([]models.Task, 0, len(c.Tasks))
	for _, t := range c.Tasks {
		out = append(out, models.Task{
			ID:                t.ID,
			Title:             t.Title,
			Description:       t.Description,
			TargetPaths:       t.TargetPaths,
			DependsOn:         t.DependsOn,
			RequiresPlan:      t.RequiresPlan,
			MaxRevisionCycles: t.MaxRevisionCycles,
			PersonaPolicy:     t.PersonaPolicy,
		})
	}
	return out
}

// ResolveDir returns the run directory: the override, CREWSCHED_DIR, or
// ./.crewsched under the working directory.
func ResolveDir(override string) (string, error) {
	if override != "" {
		return filepath.Clean(override), nil
	}
	if env := os.Getenv("CREWSCHED_DIR"); env != "" {
		return filepath.Clean(env), nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", errors.New("could not determine working directory")
	}
	return filepath.Join(wd, ".crewsched"), nil
}
