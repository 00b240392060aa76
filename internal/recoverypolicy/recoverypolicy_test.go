package recoverypolicy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LaoZhongjie/AWRR---Autonomous-Workflow-Recovery-Runtime/internal/budget"
	"github.com/LaoZhongjie/AWRR---Autonomous-Workflow-Recovery-Runtime/internal/diagnosis"
	"github.com/LaoZhongjie/AWRR---Autonomous-Workflow-Recovery-Runtime/internal/executor"
	"github.com/LaoZhongjie/AWRR---Autonomous-Workflow-Recovery-Runtime/internal/fault"
	"github.com/LaoZhongjie/AWRR---Autonomous-Workflow-Recovery-Runtime/internal/memory"
	"github.com/LaoZhongjie/AWRR---Autonomous-Workflow-Recovery-Runtime/internal/recoveryaction"
	"github.com/LaoZhongjie/AWRR---Autonomous-Workflow-Recovery-Runtime/internal/trace"
)

type fixedClassifier struct {
	result diagnosis.Result
}

func (f fixedClassifier) Diagnose(context.Context, executor.StepContext, executor.StepResult, []trace.Event) diagnosis.Result {
	return f.result
}

func freshTracker(remainingCalls int) *budget.Tracker {
	t := budget.NewTracker(budget.Bounds{MaxTokens: 100000, MaxToolCalls: remainingCalls, MaxWallSecond: 60})
	return t
}

func TestB0AlwaysFails(t *testing.T) {
	p := New(B0, nil, nil)
	decision := p.Decide(context.Background(), executor.StepContext{}, executor.StepResult{}, 0, nil, fault.Signature{}, freshTracker(10))
	assert.Equal(t, recoveryaction.Fail, decision.Action)
	assert.Equal(t, recoveryaction.SourceRule, decision.Source)
}

func TestB1RetriesUntilMaxThenFails(t *testing.T) {
	p := New(B1, nil, nil)
	for i := 0; i < maxRetries; i++ {
		decision := p.Decide(context.Background(), executor.StepContext{}, executor.StepResult{}, i, nil, fault.Signature{}, freshTracker(10))
		require.Equal(t, recoveryaction.Retry, decision.Action)
	}
	decision := p.Decide(context.Background(), executor.StepContext{}, executor.StepResult{}, maxRetries, nil, fault.Signature{}, freshTracker(10))
	assert.Equal(t, recoveryaction.Fail, decision.Action)
}

func TestB2RuleTableTimeoutAndConflict(t *testing.T) {
	p := New(B2, nil, nil)

	d := p.Decide(context.Background(), executor.StepContext{}, executor.StepResult{ErrorKind: fault.Timeout}, 0, nil, fault.Signature{}, freshTracker(10))
	assert.Equal(t, recoveryaction.Retry, d.Action)

	d = p.Decide(context.Background(), executor.StepContext{}, executor.StepResult{ErrorKind: fault.Conflict}, 0, nil, fault.Signature{}, freshTracker(10))
	assert.Equal(t, recoveryaction.Rollback, d.Action)

	d = p.Decide(context.Background(), executor.StepContext{}, executor.StepResult{ErrorKind: fault.AuthDenied}, 0, nil, fault.Signature{}, freshTracker(10))
	assert.Equal(t, recoveryaction.Escalate, d.Action)

	d = p.Decide(context.Background(), executor.StepContext{}, executor.StepResult{ErrorKind: fault.Timeout}, maxRetries, nil, fault.Signature{}, freshTracker(10))
	assert.Equal(t, recoveryaction.Escalate, d.Action)
}

func TestSafetyGuardEscalatesOnLowBudget(t *testing.T) {
	decision := Decision{Action: recoveryaction.Retry, Source: recoveryaction.SourceRule}
	out := applySafetyGuard(decision, 0, freshTracker(1))
	assert.Equal(t, recoveryaction.Escalate, out.Action)
}

func TestSafetyGuardLeavesFailAndEscalateAlone(t *testing.T) {
	failDecision := applySafetyGuard(Decision{Action: recoveryaction.Fail}, 0, freshTracker(1))
	assert.Equal(t, recoveryaction.Fail, failDecision.Action)

	escalateDecision := applySafetyGuard(Decision{Action: recoveryaction.Escalate}, 0, freshTracker(1))
	assert.Equal(t, recoveryaction.Escalate, escalateDecision.Action)
}

func TestSafetyGuardEscalatesAtRetryCeiling(t *testing.T) {
	out := applySafetyGuard(Decision{Action: recoveryaction.Retry}, maxRetries, freshTracker(10))
	assert.Equal(t, recoveryaction.Escalate, out.Action)
}

func TestRuleDecisionDefaultsToEscalate(t *testing.T) {
	d := ruleDecision(fault.StateCorruption, 0)
	assert.Equal(t, recoveryaction.Escalate, d.Action)
}

func TestLowConfidenceFallbackNotFoundRetriesEarly(t *testing.T) {
	d := lowConfidenceFallback(fault.NotFound, 0, diagnosis.Result{Action: recoveryaction.Escalate, Confidence: 0.2})
	assert.Equal(t, recoveryaction.Retry, d.Action)
	assert.Equal(t, recoveryaction.SourceRule, d.Source)
	require.NotNil(t, d.Diagnosis)
}

func TestLowConfidenceFallbackFallsBackToRuleTableOtherwise(t *testing.T) {
	d := lowConfidenceFallback(fault.Conflict, 0, diagnosis.Result{Confidence: 0.1})
	assert.Equal(t, recoveryaction.Rollback, d.Action)
}

func TestMemoryThresholdDefaultsWhenUnset(t *testing.T) {
	p := &Policy{Mode: B4}
	assert.Equal(t, defaultMemoryThreshold, p.memoryThreshold())

	p.MemoryThreshold = 0.95
	assert.Equal(t, 0.95, p.memoryThreshold())
}

func TestB3TrustsHighConfidenceDiagnosis(t *testing.T) {
	classifier := fixedClassifier{result: diagnosis.Result{Action: recoveryaction.Retry, Confidence: 0.9}}
	p := New(B3, classifier, nil)

	d := p.Decide(context.Background(), executor.StepContext{}, executor.StepResult{ErrorKind: fault.Timeout}, 0, nil, fault.Signature{}, freshTracker(10))

	assert.Equal(t, recoveryaction.Retry, d.Action)
	assert.Equal(t, recoveryaction.SourceDiagnosis, d.Source)
	require.NotNil(t, d.Diagnosis)
}

func TestB3FallsBackBelowConfidenceThreshold(t *testing.T) {
	classifier := fixedClassifier{result: diagnosis.Result{Action: recoveryaction.Escalate, Confidence: 0.3}}
	p := New(B3, classifier, nil)

	d := p.Decide(context.Background(), executor.StepContext{}, executor.StepResult{ErrorKind: fault.Conflict}, 0, nil, fault.Signature{}, freshTracker(10))

	assert.Equal(t, recoveryaction.Rollback, d.Action, "low-confidence diagnosis for Conflict must fall back to the B2 rule table")
	assert.Equal(t, recoveryaction.SourceRule, d.Source)
}

func TestB4UsesMemoryMatchAboveThreshold(t *testing.T) {
	bank := memory.New()
	s := fault.Signature{ToolName: "get_record", Kind: fault.Timeout, StepName: "fetch"}
	require.NoError(t, bank.Upsert(s, recoveryaction.Retry, true))

	p := New(B4, nil, bank)
	p.MemoryThreshold = 0.1

	d := p.Decide(context.Background(), executor.StepContext{}, executor.StepResult{ErrorKind: fault.Timeout}, 0, nil, s, freshTracker(10))
	assert.Equal(t, recoveryaction.Retry, d.Action)
	assert.Equal(t, recoveryaction.SourceMemory, d.Source)
}

func TestB4FallsThroughToDiagnosisWhenMemoryBelowThreshold(t *testing.T) {
	bank := memory.New()
	s := fault.Signature{ToolName: "get_record", Kind: fault.Timeout, StepName: "fetch"}
	require.NoError(t, bank.Upsert(s, recoveryaction.Rollback, false))

	classifier := fixedClassifier{result: diagnosis.Result{Action: recoveryaction.Retry, Confidence: 0.9}}
	p := New(B4, classifier, bank)
	p.MemoryThreshold = 0.99

	d := p.Decide(context.Background(), executor.StepContext{}, executor.StepResult{ErrorKind: fault.Timeout}, 0, nil, s, freshTracker(10))
	assert.Equal(t, recoveryaction.SourceDiagnosis, d.Source)
	assert.Equal(t, recoveryaction.Retry, d.Action)
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	d0 := Backoff(0)
	d1 := Backoff(1)
	d2 := Backoff(2)
	d3 := Backoff(3)

	assert.Greater(t, d1, d0)
	assert.Greater(t, d2, d1)
	assert.LessOrEqual(t, d3, d2+1) // capped, so growth must plateau by attempt 3
}

func TestBackoffIsDeterministic(t *testing.T) {
	assert.Equal(t, Backoff(1), Backoff(1))
}
