package diagnosis

import (
	"context"
	"fmt"

	"github.com/LaoZhongjie/AWRR---Autonomous-Workflow-Recovery-Runtime/internal/executor"
	"github.com/LaoZhongjie/AWRR---Autonomous-Workflow-Recovery-Runtime/internal/recoveryaction"
	"github.com/LaoZhongjie/AWRR---Autonomous-Workflow-Recovery-Runtime/internal/telemetry"
	"github.com/LaoZhongjie/AWRR---Autonomous-Workflow-Recovery-Runtime/internal/trace"
)

// External is the opaque-oracle backend the core treats like a real
// language-model classifier would be treated, modeled on the
// prompt-then-fall-back pattern used by the original diagnosis module.
// Per the runtime's non-goal on real model invocation, External never
// performs network I/O: Fallback is consulted for every call, and the
// prompt that would have been sent is only logged.
type External struct {
	Fallback Classifier
	Logger   telemetry.Logger
}

// NewExternal constructs an External backend. fallback must not be nil;
// logger may be nil, in which case a NoopLogger is used.
func NewExternal(fallback Classifier, logger telemetry.Logger) *External {
	if logger == nil {
		logger = telemetry.NoopLogger{}
	}
	return &External{Fallback: fallback, Logger: logger}
}

var _ Classifier = (*External)(nil)

// Diagnose logs the prompt an external model backend would have received
// and delegates to Fallback for the actual verdict.
func (e *External) Diagnose(ctx context.Context, stepCtx executor.StepContext, result executor.StepResult, history []trace.Event) Result {
	prompt := fmt.Sprintf(
		"tool=%s step=%s kind=%s message=%q history_len=%d",
		stepCtx.ToolName, stepCtx.StepName, result.ErrorKind, result.ErrorMessage, len(history),
	)
	e.Logger.Info(ctx, "diagnosis.external.would_call_model", "prompt", prompt)

	out := e.Fallback.Diagnose(ctx, stepCtx, result, history)
	out.Reasoning = "external(fallback): " + out.Reasoning
	if out.Action == "" {
		out.Action = recoveryaction.Escalate
	}
	return out
}
