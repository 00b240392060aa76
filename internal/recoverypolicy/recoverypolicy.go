// Package recoverypolicy implements the B0-B4 recovery strategies (§4.6):
// a single decide entry point dispatching on a configured Mode, composing
// the rule table, the Diagnosis Classifier, and the Memory Bank, with a
// shared safety guard and exponential backoff for the strategies that
// retry.
package recoverypolicy

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/LaoZhongjie/AWRR---Autonomous-Workflow-Recovery-Runtime/internal/budget"
	"github.com/LaoZhongjie/AWRR---Autonomous-Workflow-Recovery-Runtime/internal/diagnosis"
	"github.com/LaoZhongjie/AWRR---Autonomous-Workflow-Recovery-Runtime/internal/executor"
	"github.com/LaoZhongjie/AWRR---Autonomous-Workflow-Recovery-Runtime/internal/fault"
	"github.com/LaoZhongjie/AWRR---Autonomous-Workflow-Recovery-Runtime/internal/memory"
	"github.com/LaoZhongjie/AWRR---Autonomous-Workflow-Recovery-Runtime/internal/recoveryaction"
	"github.com/LaoZhongjie/AWRR---Autonomous-Workflow-Recovery-Runtime/internal/trace"
)

// Mode is the closed {B0..B4} strategy selector (§4.6).
type Mode string

const (
	B0 Mode = "B0"
	B1 Mode = "B1"
	B2 Mode = "B2"
	B3 Mode = "B3"
	B4 Mode = "B4"
)

// diagnosisConfidenceThreshold is B3's cutover between trusting the
// classifier's action and falling back to the low-confidence path (§4.6).
const diagnosisConfidenceThreshold = 0.7

// defaultMemoryThreshold is B4's default cutover for trusting a Memory
// Bank match (§4.6); callers may override via Policy.MemoryThreshold.
const defaultMemoryThreshold = 0.8

// maxRetries is the retry-count ceiling the safety guard and B1 enforce
// (§4.6).
const maxRetries = 3

// Decision is decide's output: the chosen action, its source, and (when a
// classifier or memory match was consulted) the diagnosis payload attached
// to the trace event (§4.6, §4.8).
type Decision struct {
	Action    recoveryaction.Action
	Source    recoveryaction.Source
	Diagnosis *diagnosis.Result
}

// Policy bundles the collaborators decide needs beyond its per-call
// arguments: the diagnosis backend, the memory bank, and the memory-match
// confidence threshold.
type Policy struct {
	Mode            Mode
	Diagnosis       diagnosis.Classifier
	Memory          *memory.Bank
	MemoryThreshold float64
}

// New constructs a Policy for mode. diagnosisBackend and memoryBank may be
// nil for modes that never consult them (B0-B2 never need a diagnosis
// backend; B0-B3 never need a memory bank).
func New(mode Mode, diagnosisBackend diagnosis.Classifier, memoryBank *memory.Bank) *Policy {
	return &Policy{Mode: mode, Diagnosis: diagnosisBackend, Memory: memoryBank, MemoryThreshold: defaultMemoryThreshold}
}

// Decide implements the single decide entry point (§4.6): (mode, failure,
// retry_count, step_context, history, signature) -> {action, payload,
// source}. The safety guard is applied unconditionally afterward.
func (p *Policy) Decide(ctx context.Context, stepCtx executor.StepContext, result executor.StepResult, retryCount int, history []trace.Event, signature fault.Signature, budgetTracker *budget.Tracker) Decision {
	decision := p.decideRaw(ctx, stepCtx, result, retryCount, history, signature)
	return applySafetyGuard(decision, retryCount, budgetTracker)
}

func (p *Policy) decideRaw(ctx context.Context, stepCtx executor.StepContext, result executor.StepResult, retryCount int, history []trace.Event, signature fault.Signature) Decision {
	switch p.Mode {
	case B0:
		return Decision{Action: recoveryaction.Fail, Source: recoveryaction.SourceRule}

	case B1:
		if retryCount < maxRetries {
			return Decision{Action: recoveryaction.Retry, Source: recoveryaction.SourceRule}
		}
		return Decision{Action: recoveryaction.Fail, Source: recoveryaction.SourceRule}

	case B2:
		return ruleDecision(result.ErrorKind, retryCount)

	case B3:
		return p.diagnosisDecision(ctx, stepCtx, result, retryCount, history)

	case B4:
		if p.Memory != nil {
			if match := p.Memory.Query(signature); match.Found && match.Confidence >= p.memoryThreshold() {
				return Decision{Action: match.Action, Source: recoveryaction.SourceMemory}
			}
		}
		return p.diagnosisDecision(ctx, stepCtx, result, retryCount, history)

	default:
		return Decision{Action: recoveryaction.Fail, Source: recoveryaction.SourceRule}
	}
}

func (p *Policy) memoryThreshold() float64 {
	if p.MemoryThreshold > 0 {
		return p.MemoryThreshold
	}
	return defaultMemoryThreshold
}

// diagnosisDecision implements B3's classifier-then-fallback path, also
// used by B4 once it falls through the memory lookup (§4.6).
func (p *Policy) diagnosisDecision(ctx context.Context, stepCtx executor.StepContext, result executor.StepResult, retryCount int, history []trace.Event) Decision {
	out := p.Diagnosis.Diagnose(ctx, stepCtx, result, history)
	if out.Confidence >= diagnosisConfidenceThreshold {
		return Decision{Action: out.Action, Source: recoveryaction.SourceDiagnosis, Diagnosis: &out}
	}
	return lowConfidenceFallback(result.ErrorKind, retryCount, out)
}

// lowConfidenceFallback is B3's sub-threshold path: NotFound with a low
// retry count substitutes retry, otherwise the B2 rule table decides
// (§4.6). The diagnosis payload is still attached for explainability even
// though its action was not trusted.
func lowConfidenceFallback(kind fault.Kind, retryCount int, diag diagnosis.Result) Decision {
	if kind == fault.NotFound && retryCount < 2 {
		return Decision{Action: recoveryaction.Retry, Source: recoveryaction.SourceRule, Diagnosis: &diag}
	}
	rule := ruleDecision(kind, retryCount)
	rule.Diagnosis = &diag
	return rule
}

// ruleDecision is the B2 table (§4.6): Timeout/HTTP_500 retry while
// count<3 else escalate; Conflict rollback while count<3 else escalate;
// everything else escalates outright.
func ruleDecision(kind fault.Kind, retryCount int) Decision {
	switch kind {
	case fault.Timeout, fault.HTTP500:
		if retryCount < maxRetries {
			return Decision{Action: recoveryaction.Retry, Source: recoveryaction.SourceRule}
		}
		return Decision{Action: recoveryaction.Escalate, Source: recoveryaction.SourceRule}
	case fault.Conflict:
		if retryCount < maxRetries {
			return Decision{Action: recoveryaction.Rollback, Source: recoveryaction.SourceRule}
		}
		return Decision{Action: recoveryaction.Escalate, Source: recoveryaction.SourceRule}
	default:
		return Decision{Action: recoveryaction.Escalate, Source: recoveryaction.SourceRule}
	}
}

// applySafetyGuard upgrades retry/rollback decisions to escalate once the
// remaining tool-call budget is <=1 or the retry count has already reached
// the ceiling (§4.6). fail/escalate decisions pass through unchanged.
func applySafetyGuard(decision Decision, retryCount int, budgetTracker *budget.Tracker) Decision {
	if !recoveryaction.IsRetryOrRollback(decision.Action) {
		return decision
	}
	if budgetTracker != nil && budgetTracker.RemainingToolCalls() <= 1 {
		decision.Action = recoveryaction.Escalate
		return decision
	}
	if retryCount >= maxRetries {
		decision.Action = recoveryaction.Escalate
	}
	return decision
}

// Backoff computes the exponential backoff delay before reattempting a
// step: base 0.1s, doubling per attempt, capped at 0.4s (§4.6). attempt is
// the zero-based retry count at the time of the decision. RandomizationFactor
// is pinned to zero so the delay is a pure function of attempt, preserving
// the engine's byte-identical-trace determinism invariant (§8) — jittered
// backoff would otherwise leak non-reproducible wall-clock noise into
// retry timing.
func Backoff(attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.Multiplier = 2
	b.MaxInterval = 400 * time.Millisecond
	b.RandomizationFactor = 0

	delay := b.InitialInterval
	for i := 0; i <= attempt; i++ {
		d, err := b.NextBackOff()
		if err != nil {
			break
		}
		delay = d
	}
	if delay > b.MaxInterval {
		delay = b.MaxInterval
	}
	return delay
}
