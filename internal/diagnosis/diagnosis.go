// Package diagnosis implements the Diagnosis Classifier contract (§4.4):
// (context, failure, history) -> {layer, action, confidence, reasoning}.
// Two backends are provided: a deterministic heuristic backend (the
// default) and an external-model backend stub that the core treats as an
// opaque oracle with the same output schema.
package diagnosis

import (
	"context"

	"github.com/LaoZhongjie/AWRR---Autonomous-Workflow-Recovery-Runtime/internal/executor"
	"github.com/LaoZhongjie/AWRR---Autonomous-Workflow-Recovery-Runtime/internal/fault"
	"github.com/LaoZhongjie/AWRR---Autonomous-Workflow-Recovery-Runtime/internal/recoveryaction"
	"github.com/LaoZhongjie/AWRR---Autonomous-Workflow-Recovery-Runtime/internal/trace"
)

// Result is the Diagnosis Classifier's output schema (§4.4).
type Result struct {
	Layer      fault.Layer
	Action     recoveryaction.Action
	Confidence float64
	Reasoning  string
}

// Classifier is the diagnosis contract both backends implement.
// Implementations should be fast enough not to block the Runner's
// per-step loop (the heuristic backend is pure computation; the external
// backend, per spec §1's non-goal on real language-model invocation,
// never performs network I/O and returns immediately).
type Classifier interface {
	Diagnose(ctx context.Context, stepCtx executor.StepContext, result executor.StepResult, history []trace.Event) Result
}
