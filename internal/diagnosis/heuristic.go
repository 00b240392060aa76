package diagnosis

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/LaoZhongjie/AWRR---Autonomous-Workflow-Recovery-Runtime/internal/executor"
	"github.com/LaoZhongjie/AWRR---Autonomous-Workflow-Recovery-Runtime/internal/fault"
	"github.com/LaoZhongjie/AWRR---Autonomous-Workflow-Recovery-Runtime/internal/recoveryaction"
	"github.com/LaoZhongjie/AWRR---Autonomous-Workflow-Recovery-Runtime/internal/trace"
)

// Heuristic is the default, deterministic Diagnosis Classifier backend
// (§4.4): keyword-based layer classification over kind+message+step_name,
// a deterministic 10% noise tap, and kind-driven action overrides.
type Heuristic struct{}

// NewHeuristic constructs the heuristic backend. It holds no state.
func NewHeuristic() *Heuristic { return &Heuristic{} }

var _ Classifier = (*Heuristic)(nil)

// layerTokens gives the keyword groups checked in order; the first group
// whose tokens any appear in the haystack wins (§4.4).
var layerTokens = []struct {
	layer  fault.Layer
	tokens []string
}{
	{fault.LayerTransient, []string{"timeout", "http_500", "temporar", "throttle"}},
	{fault.LayerCascade, []string{"conflict", "rollback", "state"}},
	{fault.LayerSemantic, []string{"auth", "policy", "badrequest", "validation"}},
	{fault.LayerPersistent, []string{"notfound", "missing"}},
}

func classifyLayer(kind fault.Kind, message, stepName string) fault.Layer {
	haystack := strings.ToLower(string(kind) + " " + message + " " + stepName)
	for _, group := range layerTokens {
		for _, tok := range group.tokens {
			if strings.Contains(haystack, tok) {
				return group.layer
			}
		}
	}
	return fault.LayerPersistent
}

// noiseTriggered is the deterministic 10% noise tap keyed by
// "task_id:kind:step_idx" (§4.4). It derives solely from that key, not
// from the engine-wide SEED, matching the spec's literal description.
func noiseTriggered(taskID string, kind fault.Kind, stepIdx int) bool {
	key := fmt.Sprintf("%s:%s:%d", taskID, kind, stepIdx)
	sum := sha256.Sum256([]byte(key))
	v := binary.BigEndian.Uint64(sum[:8])
	return v%10 == 0
}

// Diagnose implements Classifier for the heuristic backend.
func (Heuristic) Diagnose(_ context.Context, stepCtx executor.StepContext, result executor.StepResult, history []trace.Event) Result {
	layer := classifyLayer(result.ErrorKind, result.ErrorMessage, stepCtx.StepName)
	if result.InjectedFault != nil && result.InjectedFault.Layer != "" {
		layer = result.InjectedFault.Layer
	}

	capped := noiseTriggered(stepCtx.TaskID, result.ErrorKind, stepCtx.StepIdx)
	if capped {
		layer = fault.LayerPersistent
	}

	action, confidence, reasoning := kindDrivenAction(result.ErrorKind, layer, stepCtx, result)
	if capped && confidence > 0.55 {
		confidence = 0.55
	}

	return Result{Layer: layer, Action: action, Confidence: confidence, Reasoning: reasoning}
}

func kindDrivenAction(kind fault.Kind, layer fault.Layer, stepCtx executor.StepContext, result executor.StepResult) (recoveryaction.Action, float64, string) {
	switch kind {
	case fault.Timeout, fault.HTTP500:
		return recoveryaction.Retry, 0.85, fmt.Sprintf("%s is transient, retry recommended", kind)
	case fault.Conflict:
		return recoveryaction.Rollback, 0.85, "Conflict indicates state divergence, rollback and retry"
	case fault.NotFound:
		scenario := ""
		if result.InjectedFault != nil {
			scenario = result.InjectedFault.Scenario
		}
		if scenario == "eventual_consistency" || layer == fault.LayerTransient {
			return recoveryaction.Retry, 0.85, "NotFound under eventual consistency, retry recommended"
		}
		return recoveryaction.Escalate, 0.85, "NotFound persisted, escalating"
	case fault.AuthDenied, fault.PolicyRejected, fault.BadRequest:
		return recoveryaction.Escalate, 0.85, fmt.Sprintf("%s requires human review", kind)
	default:
		return fallbackAction(layer), 0.65, fmt.Sprintf("falling back to %s-layer default action", layer)
	}
}

// fallbackAction picks a default action purely from the classified layer,
// used for the heuristic's unmatched-kind fallback (§4.4). B3's
// low-confidence fallback does not use it; recoverypolicy falls back to its
// B2 rule table instead.
func fallbackAction(layer fault.Layer) recoveryaction.Action {
	switch layer {
	case fault.LayerTransient:
		return recoveryaction.Retry
	case fault.LayerCascade:
		return recoveryaction.Rollback
	case fault.LayerSemantic:
		return recoveryaction.Escalate
	default:
		return recoveryaction.Escalate
	}
}
