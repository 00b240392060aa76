package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/LaoZhongjie/AWRR---Autonomous-Workflow-Recovery-Runtime/internal/budget"
	"github.com/LaoZhongjie/AWRR---Autonomous-Workflow-Recovery-Runtime/internal/config"
	"github.com/LaoZhongjie/AWRR---Autonomous-Workflow-Recovery-Runtime/internal/diagnosis"
	"github.com/LaoZhongjie/AWRR---Autonomous-Workflow-Recovery-Runtime/internal/executor"
	"github.com/LaoZhongjie/AWRR---Autonomous-Workflow-Recovery-Runtime/internal/fault"
	"github.com/LaoZhongjie/AWRR---Autonomous-Workflow-Recovery-Runtime/internal/memory"
	"github.com/LaoZhongjie/AWRR---Autonomous-Workflow-Recovery-Runtime/internal/recoverypolicy"
	"github.com/LaoZhongjie/AWRR---Autonomous-Workflow-Recovery-Runtime/internal/runner"
	"github.com/LaoZhongjie/AWRR---Autonomous-Workflow-Recovery-Runtime/internal/saga"
	"github.com/LaoZhongjie/AWRR---Autonomous-Workflow-Recovery-Runtime/internal/taskfile"
	"github.com/LaoZhongjie/AWRR---Autonomous-Workflow-Recovery-Runtime/internal/telemetry"
	"github.com/LaoZhongjie/AWRR---Autonomous-Workflow-Recovery-Runtime/internal/toolspec"
	"github.com/LaoZhongjie/AWRR---Autonomous-Workflow-Recovery-Runtime/internal/trace"
	"github.com/LaoZhongjie/AWRR---Autonomous-Workflow-Recovery-Runtime/internal/worldstate"
)

type runFlags struct {
	configFile      string
	strategy        string
	taskFile        string
	seed            int64
	diagnosisBackend string
	memoryFile      string
	memoryThreshold float64
	tracePath       string
	sagaEnabled     bool
	maxTokens       int
	maxToolCalls    int
	maxWallSeconds  float64
}

func newRunCmd() *cobra.Command {
	flags := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run every task in a task file against a recovery strategy",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd, flags)
		},
	}

	f := cmd.Flags()
	f.StringVar(&flags.configFile, "config", "", "YAML run configuration file (overrides the flags below entirely when set)")
	f.StringVar(&flags.strategy, "strategy", string(recoverypolicy.B0), "recovery strategy: B0, B1, B2, B3, or B4")
	f.StringVar(&flags.taskFile, "task-file", "", "line-delimited task file (required)")
	f.Int64Var(&flags.seed, "seed", 0, "process-wide deterministic seed")
	f.StringVar(&flags.diagnosisBackend, "diagnosis-backend", string(config.DiagnosisHeuristic), "diagnosis classifier backend: heuristic or external")
	f.StringVar(&flags.memoryFile, "memory-file", "", "memory bank file path (required for strategy B4)")
	f.Float64Var(&flags.memoryThreshold, "memory-threshold", 0.8, "B4 memory-match confidence threshold")
	f.StringVar(&flags.tracePath, "trace-path", "", "trace log output path (stdout summary only if empty)")
	f.BoolVar(&flags.sagaEnabled, "saga-enabled", true, "run saga compensators on rollback")
	f.IntVar(&flags.maxTokens, "max-tokens", 100000, "per-task token budget")
	f.IntVar(&flags.maxToolCalls, "max-tool-calls", 50, "per-task tool-call budget")
	f.Float64Var(&flags.maxWallSeconds, "max-wall-seconds", 60, "per-task wall-time budget in seconds")

	return cmd
}

func runRun(cmd *cobra.Command, flags *runFlags) error {
	cfg, err := resolveConfig(flags)
	if err != nil {
		return err
	}

	tasks, skipped, err := taskfile.Load(cfg.TaskFile)
	if err != nil {
		return fmt.Errorf("awrr: reading task file: %w", err)
	}
	for _, s := range skipped {
		fmt.Fprintf(cmd.OutOrStdout(), "skipped line %d: %s\n", s.Line, s.Reason)
	}

	registry, err := toolspec.NewDemoRegistry()
	if err != nil {
		return fmt.Errorf("awrr: building tool registry: %w", err)
	}

	var diagBackend diagnosis.Classifier = diagnosis.NewHeuristic()
	if cfg.DiagnosisBackend == config.DiagnosisExternal {
		diagBackend = diagnosis.NewExternal(diagnosis.NewHeuristic(), telemetry.NoopLogger{})
	}

	var memBank *memory.Bank
	if cfg.MemoryFile != "" {
		memBank, err = memory.Open(cfg.MemoryFile)
		if err != nil {
			return fmt.Errorf("awrr: opening memory file: %w", err)
		}
	} else if cfg.Strategy == recoverypolicy.B4 {
		memBank = memory.New()
	}

	policy := recoverypolicy.New(cfg.Strategy, diagBackend, memBank)
	if cfg.MemoryThreshold > 0 {
		policy.MemoryThreshold = cfg.MemoryThreshold
	}

	var sink trace.Sink
	if cfg.TracePath != "" {
		fileSink, err := trace.OpenFileSink(cfg.TracePath)
		if err != nil {
			return fmt.Errorf("awrr: opening trace path: %w", err)
		}
		defer fileSink.Close()
		sink = fileSink
	}

	rn := runner.New(registry, fault.NewInjector(cfg.Seed), executor.New(cfg.Seed), policy, cfg.SagaEnabled, ticketFuncFor(registry), memBank, telemetry.NoopLogger{}, telemetry.NoopMetrics{})
	rn.Sink = sink

	bounds := budget.Bounds{MaxTokens: cfg.Budget.MaxTokens, MaxToolCalls: cfg.Budget.MaxToolCalls, MaxWallSecond: cfg.Budget.MaxWallSecond}

	var completed, escalated, failed int
	ctx := context.Background()
	for _, task := range tasks {
		result, err := rn.Run(ctx, task, bounds)
		if err != nil {
			return fmt.Errorf("awrr: task %s: %w", task.TaskID, err)
		}
		switch result.Outcome {
		case runner.OutcomeSuccess:
			completed++
		case runner.OutcomeEscalated:
			escalated++
		case runner.OutcomeFailed:
			failed++
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", task.TaskID, result.Outcome, result.Reason)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "total=%d completed=%d escalated=%d failed=%d\n", len(tasks), completed, escalated, failed)
	return nil
}

// ticketFuncFor adapts registry's create_ticket tool into a
// saga.TicketFunc, so a failed compensator during rollback files the same
// escalation ticket the runner's own budget-exhaustion path does.
func ticketFuncFor(registry *toolspec.Registry) saga.TicketFunc {
	return func(ctx context.Context, ws *worldstate.WorldState, summary, severity string) (map[string]any, error) {
		spec, ok := registry.Lookup("create_ticket")
		if !ok {
			return nil, fmt.Errorf("awrr: create_ticket tool not registered")
		}
		return spec.Forward(ctx, ws, map[string]any{"summary": summary, "severity": severity})
	}
}

// resolveConfig builds a config.Config either by loading flags.configFile
// as YAML, or by assembling one directly from the CLI flags.
func resolveConfig(flags *runFlags) (*config.Config, error) {
	if flags.configFile != "" {
		data, err := os.ReadFile(flags.configFile)
		if err != nil {
			return nil, fmt.Errorf("awrr: reading config file: %w", err)
		}
		return config.Load(data)
	}

	cfg := &config.Config{
		Strategy:         recoverypolicy.Mode(flags.strategy),
		TaskFile:         flags.taskFile,
		MemoryFile:       flags.memoryFile,
		Seed:             flags.seed,
		DiagnosisBackend: config.DiagnosisBackend(flags.diagnosisBackend),
		MemoryThreshold:  flags.memoryThreshold,
		TracePath:        flags.tracePath,
		SagaEnabled:      flags.sagaEnabled,
	}
	cfg.Budget.MaxTokens = flags.maxTokens
	cfg.Budget.MaxToolCalls = flags.maxToolCalls
	cfg.Budget.MaxWallSecond = flags.maxWallSeconds

	if cfg.TaskFile == "" {
		return nil, fmt.Errorf("awrr: --task-file is required")
	}
	switch cfg.Strategy {
	case recoverypolicy.B0, recoverypolicy.B1, recoverypolicy.B2, recoverypolicy.B3, recoverypolicy.B4:
	default:
		return nil, fmt.Errorf("awrr: invalid --strategy %q", cfg.Strategy)
	}
	switch cfg.DiagnosisBackend {
	case config.DiagnosisHeuristic, config.DiagnosisExternal:
	default:
		return nil, fmt.Errorf("awrr: invalid --diagnosis-backend %q", cfg.DiagnosisBackend)
	}
	if cfg.Strategy == recoverypolicy.B4 && cfg.MemoryFile == "" {
		return nil, fmt.Errorf("awrr: --memory-file is required for strategy B4")
	}
	return cfg, nil
}
