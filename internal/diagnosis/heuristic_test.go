package diagnosis

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/LaoZhongjie/AWRR---Autonomous-Workflow-Recovery-Runtime/internal/executor"
	"github.com/LaoZhongjie/AWRR---Autonomous-Workflow-Recovery-Runtime/internal/fault"
	"github.com/LaoZhongjie/AWRR---Autonomous-Workflow-Recovery-Runtime/internal/recoveryaction"
)

func TestClassifyLayerKeywordGroups(t *testing.T) {
	assert.Equal(t, fault.LayerTransient, classifyLayer(fault.Timeout, "Request timeout after 30s", "fetch"))
	assert.Equal(t, fault.LayerCascade, classifyLayer(fault.Conflict, "Resource conflict detected", "update"))
	assert.Equal(t, fault.LayerSemantic, classifyLayer(fault.AuthDenied, "Authentication denied", "check"))
	assert.Equal(t, fault.LayerPersistent, classifyLayer(fault.NotFound, "Resource not found", "fetch"))
}

func TestClassifyLayerDefaultsToPersistentWhenNoTokenMatches(t *testing.T) {
	assert.Equal(t, fault.LayerPersistent, classifyLayer(fault.RuntimeError, "", ""))
}

func TestNoiseTriggeredIsDeterministic(t *testing.T) {
	first := noiseTriggered("task-1", fault.Timeout, 2)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, noiseTriggered("task-1", fault.Timeout, 2))
	}
}

func TestNoiseTriggeredVariesWithKey(t *testing.T) {
	a := noiseTriggered("task-1", fault.Timeout, 2)
	b := noiseTriggered("task-2", fault.Timeout, 2)
	c := noiseTriggered("task-1", fault.HTTP500, 2)
	d := noiseTriggered("task-1", fault.Timeout, 3)
	// Single keys need not differ from each other; across step indices
	// 0..99 the 10% tap fires for some keys and not for others.
	_ = a
	_ = b
	_ = c
	_ = d

	seen := map[bool]bool{}
	for step := 0; step < 100; step++ {
		seen[noiseTriggered("task-1", fault.Timeout, step)] = true
	}
	assert.True(t, seen[true], "some keys must trigger the noise tap")
	assert.True(t, seen[false], "some keys must not trigger the noise tap")
}

func TestKindDrivenActionTimeoutAndHTTP500Retry(t *testing.T) {
	action, conf, _ := kindDrivenAction(fault.Timeout, fault.LayerTransient, executor.StepContext{}, executor.StepResult{})
	assert.Equal(t, recoveryaction.Retry, action)
	assert.Equal(t, 0.85, conf)
}

func TestKindDrivenActionConflictRollback(t *testing.T) {
	action, _, _ := kindDrivenAction(fault.Conflict, fault.LayerCascade, executor.StepContext{}, executor.StepResult{})
	assert.Equal(t, recoveryaction.Rollback, action)
}

func TestKindDrivenActionNotFoundEventualConsistencyRetries(t *testing.T) {
	result := executor.StepResult{InjectedFault: &fault.Descriptor{Kind: fault.NotFound, Scenario: "eventual_consistency"}}
	action, _, _ := kindDrivenAction(fault.NotFound, fault.LayerPersistent, executor.StepContext{}, result)
	assert.Equal(t, recoveryaction.Retry, action)
}

func TestKindDrivenActionNotFoundPersistsEscalates(t *testing.T) {
	action, _, _ := kindDrivenAction(fault.NotFound, fault.LayerPersistent, executor.StepContext{}, executor.StepResult{})
	assert.Equal(t, recoveryaction.Escalate, action)
}

func TestKindDrivenActionAuthPolicyBadRequestEscalates(t *testing.T) {
	for _, kind := range []fault.Kind{fault.AuthDenied, fault.PolicyRejected, fault.BadRequest} {
		action, _, _ := kindDrivenAction(kind, fault.LayerSemantic, executor.StepContext{}, executor.StepResult{})
		assert.Equal(t, recoveryaction.Escalate, action)
	}
}

func TestFallbackActionByLayer(t *testing.T) {
	assert.Equal(t, recoveryaction.Retry, fallbackAction(fault.LayerTransient))
	assert.Equal(t, recoveryaction.Rollback, fallbackAction(fault.LayerCascade))
	assert.Equal(t, recoveryaction.Escalate, fallbackAction(fault.LayerSemantic))
	assert.Equal(t, recoveryaction.Escalate, fallbackAction(fault.LayerPersistent))
}

func TestDiagnoseReturnsActionForInjectedFault(t *testing.T) {
	h := NewHeuristic()
	result := executor.StepResult{
		ErrorKind:     fault.Conflict,
		ErrorMessage:  fault.CanonicalMessage(fault.Conflict),
		InjectedFault: &fault.Descriptor{Kind: fault.Conflict, Layer: fault.LayerCascade},
	}

	out := h.Diagnose(context.Background(), executor.StepContext{TaskID: "t1", StepIdx: 0, StepName: "update"}, result, nil)

	assert.NotEmpty(t, out.Action)
	assert.NotEmpty(t, out.Layer)
	assert.Greater(t, out.Confidence, 0.0)
}

func TestDiagnoseIsDeterministicForSameInput(t *testing.T) {
	h := NewHeuristic()
	result := executor.StepResult{ErrorKind: fault.Timeout, ErrorMessage: fault.CanonicalMessage(fault.Timeout)}
	stepCtx := executor.StepContext{TaskID: "t1", StepIdx: 0, StepName: "fetch"}

	a := h.Diagnose(context.Background(), stepCtx, result, nil)
	b := h.Diagnose(context.Background(), stepCtx, result, nil)

	assert.Equal(t, a, b)
}
