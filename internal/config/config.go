// Package config implements the runner's configuration surface (§6 "CLI
// surface", §6 "Environment"): strategy, task/memory file paths, the
// process-wide seed, and the diagnosis backend selection. Grounded on
// vsavkov-kilroy's engine.LoadRunConfigFile — a strict YAML decode, field
// defaults, and a validate pass — generalized to this runtime's much
// smaller surface.
package config

import (
	"bytes"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/LaoZhongjie/AWRR---Autonomous-Workflow-Recovery-Runtime/internal/recoverypolicy"
)

// DiagnosisBackend selects which Diagnosis Classifier implementation a run
// uses (§6).
type DiagnosisBackend string

const (
	DiagnosisHeuristic DiagnosisBackend = "heuristic"
	DiagnosisExternal  DiagnosisBackend = "external"
)

// Config is the full set of knobs a run consults (§6).
type Config struct {
	Strategy        recoverypolicy.Mode `yaml:"strategy"`
	TaskFile        string               `yaml:"task_file"`
	MemoryFile      string               `yaml:"memory_file,omitempty"`
	Seed            int64                `yaml:"seed"`
	DiagnosisBackend DiagnosisBackend    `yaml:"diagnosis_backend"`
	MemoryThreshold float64              `yaml:"memory_threshold,omitempty"`
	TracePath       string               `yaml:"trace_path,omitempty"`

	Budget struct {
		MaxTokens     int     `yaml:"max_tokens"`
		MaxToolCalls  int     `yaml:"max_tool_calls"`
		MaxWallSecond float64 `yaml:"max_wall_seconds"`
	} `yaml:"budget"`

	SagaEnabled bool `yaml:"saga_enabled"`
}

// Load decodes a YAML config document from data, applies defaults, and
// validates the result. Unknown fields are rejected, matching the
// KnownFields-strict decode idiom used for this runtime's ambient config
// surface.
func Load(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Strategy == "" {
		cfg.Strategy = recoverypolicy.B0
	}
	if cfg.DiagnosisBackend == "" {
		cfg.DiagnosisBackend = DiagnosisHeuristic
	}
	if cfg.MemoryThreshold == 0 {
		cfg.MemoryThreshold = 0.8
	}
	if cfg.Budget.MaxTokens == 0 {
		cfg.Budget.MaxTokens = 100000
	}
	if cfg.Budget.MaxToolCalls == 0 {
		cfg.Budget.MaxToolCalls = 50
	}
	if cfg.Budget.MaxWallSecond == 0 {
		cfg.Budget.MaxWallSecond = 60
	}
}

func validate(cfg *Config) error {
	if strings.TrimSpace(cfg.TaskFile) == "" {
		return fmt.Errorf("config: task_file is required")
	}
	switch cfg.Strategy {
	case recoverypolicy.B0, recoverypolicy.B1, recoverypolicy.B2, recoverypolicy.B3, recoverypolicy.B4:
	default:
		return fmt.Errorf("config: invalid strategy %q (want B0..B4)", cfg.Strategy)
	}
	switch cfg.DiagnosisBackend {
	case DiagnosisHeuristic, DiagnosisExternal:
	default:
		return fmt.Errorf("config: invalid diagnosis_backend %q (want heuristic|external)", cfg.DiagnosisBackend)
	}
	if cfg.Strategy == recoverypolicy.B4 && strings.TrimSpace(cfg.MemoryFile) == "" {
		return fmt.Errorf("config: memory_file is required for strategy B4")
	}
	return nil
}
