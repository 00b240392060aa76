// Package metrics implements the Metrics Reducer (§4.9): a single
// forward pass over a trace log that groups events by task, derives
// per-task outcomes, and aggregates the run-level recovery metrics.
package metrics

import (
	"sort"

	"github.com/LaoZhongjie/AWRR---Autonomous-Workflow-Recovery-Runtime/internal/fault"
	"github.com/LaoZhongjie/AWRR---Autonomous-Workflow-Recovery-Runtime/internal/recoveryaction"
	"github.com/LaoZhongjie/AWRR---Autonomous-Workflow-Recovery-Runtime/internal/trace"
)

// recoveryTriggering is the set of recovery actions that count as an
// attempted recovery when searching forward for a recovered event (§4.9).
var recoveryTriggering = map[string]bool{
	string(recoveryaction.Retry):             true,
	string(recoveryaction.Rollback):          true,
	string(recoveryaction.RollbackThenRetry): true,
}

var escalateAction = map[string]bool{string(recoveryaction.Escalate): true}

// taskOutcome is the closed set of derived final outcomes a task can have,
// mirroring runner.Outcome without importing the runner package (the
// reducer only ever sees the trace log, never a live Runner).
type taskOutcome string

const (
	outcomeSuccess   taskOutcome = "success"
	outcomeEscalated taskOutcome = "escalated"
	outcomeFailed    taskOutcome = "failed"
	outcomeUnknown   taskOutcome = ""
)

// taskSummary is the per-task derived data §4.9 describes computing before
// the run-level aggregates are folded.
type taskSummary struct {
	taskID          string
	outcome         taskOutcome
	baseCallCount   int
	actualCallCount int
	hasError        bool
	hasAuthOrPolicy bool
	recoveredEvents int
	recoveryDeltaMS []int64
	srrEligible     bool
	srrPass         bool
	firstErrorKind  fault.Kind
}

// KindCount pairs an error kind with an observation count, used for the
// first-error-kind and per-event error-kind breakdowns.
type KindCount struct {
	Kind  fault.Kind
	Count int
}

// Report is the full output of Reduce: the run-level aggregates from
// §4.9's table plus the first-error-kind (per task) and error-kind (per
// event) breakdowns.
type Report struct {
	TotalTasks      int
	CompletedTasks  int
	EscalatedTasks  int
	FailedTasks     int
	ErrorTasks      int
	RecoveredTasks  int
	TotalErrorEvents int
	RecoveredEvents int
	ToolCalls       int
	SRREligible     int
	SRRPass         int
	LLMCalls        int

	WCR        float64
	HIR        float64
	RRTask     float64
	RREvent    float64
	MTTREvent  float64
	CPT        float64
	CPS        float64
	RCO        float64
	UAR        float64
	SRR        float64

	FirstErrorKindBreakdown []KindCount
	EventErrorKindBreakdown []KindCount
}

// Reduce performs the single pass described in §4.9 over events, which
// need not already be grouped or sorted: Reduce groups by TaskID and
// sorts each group by TimestampMS itself.
func Reduce(events []trace.Event) Report {
	groups := groupByTask(events)

	var summaries []taskSummary
	eventKindCounts := map[fault.Kind]int{}
	firstErrorKindCounts := map[fault.Kind]int{}
	llmCalls := 0

	for _, taskID := range sortedTaskIDs(groups) {
		group := groups[taskID]
		sort.SliceStable(group, func(i, j int) bool { return group[i].TimestampMS < group[j].TimestampMS })

		summary := reduceTask(taskID, group)
		summaries = append(summaries, summary)

		if summary.hasError {
			if summary.firstErrorKind != "" {
				firstErrorKindCounts[summary.firstErrorKind]++
			}
		}
		for _, e := range group {
			if e.EventType != trace.EventToolCall || e.Status != "error" {
				continue
			}
			eventKindCounts[e.ErrorKind]++
		}
		for _, e := range group {
			if e.Diagnosis == nil {
				continue
			}
			if e.RecoveryAction == "diagnosis:"+e.Diagnosis.Action || e.RecoveryAction == "llm:"+e.Diagnosis.Action {
				llmCalls++
			}
		}
	}

	return aggregate(summaries, eventKindCounts, firstErrorKindCounts, llmCalls)
}

func groupByTask(events []trace.Event) map[string][]trace.Event {
	groups := make(map[string][]trace.Event)
	for _, e := range events {
		groups[e.TaskID] = append(groups[e.TaskID], e)
	}
	return groups
}

func sortedTaskIDs(groups map[string][]trace.Event) []string {
	ids := make([]string, 0, len(groups))
	for id := range groups {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// reduceTask derives one task's summary per §4.9's per-task bullets.
func reduceTask(taskID string, group []trace.Event) taskSummary {
	summary := taskSummary{taskID: taskID}

	stepSeen := map[int]bool{}
	var lastFinalOutcome string
	var lastEscalateSeen bool
	var lastStepOKOnLastStep bool
	maxStepIdx := -1
	lastEventIsOKOnMaxStep := false

	for i, e := range group {
		if e.EventType == trace.EventToolCall {
			stepSeen[e.StepIdx] = true
			summary.actualCallCount++
			if e.Status == "error" {
				summary.hasError = true
				if summary.firstErrorKind == "" {
					summary.firstErrorKind = e.ErrorKind
				}
				if e.ErrorKind == fault.AuthDenied || e.ErrorKind == fault.PolicyRejected {
					summary.hasAuthOrPolicy = true
				}
				if hasTaggedAction(e.RecoveryAction, recoveryTriggering) {
					if delta, found := findRecoveryDelta(group, i, e.StepIdx); found {
						summary.recoveredEvents++
						summary.recoveryDeltaMS = append(summary.recoveryDeltaMS, delta)
					}
				}
			}
			if e.StepIdx >= maxStepIdx {
				maxStepIdx = e.StepIdx
				lastEventIsOKOnMaxStep = e.Status == "ok"
			}
		}
		if hasTaggedAction(e.RecoveryAction, escalateAction) {
			lastEscalateSeen = true
		}
		if e.EventType == trace.EventFinal {
			lastFinalOutcome = e.FinalOutcome
			if e.SRREligible != nil && *e.SRREligible {
				summary.srrEligible = true
				if e.SRRPass != nil && *e.SRRPass {
					summary.srrPass = true
				}
			}
		}
	}
	summary.baseCallCount = len(stepSeen)
	lastStepOKOnLastStep = lastEventIsOKOnMaxStep

	switch {
	case lastFinalOutcome != "":
		summary.outcome = taskOutcome(lastFinalOutcome)
	case lastEscalateSeen:
		summary.outcome = outcomeEscalated
	case lastStepOKOnLastStep:
		summary.outcome = outcomeSuccess
	default:
		summary.outcome = outcomeFailed
	}

	return summary
}

// hasTaggedAction reports whether label is one of the base actions in set,
// allowing for the "source:action" wire-form prefixes recoveryaction.Label
// produces (e.g. "memory:rollback").
func hasTaggedAction(label string, set map[string]bool) bool {
	if set[label] {
		return true
	}
	for action := range set {
		if len(label) > len(action)+1 && label[len(label)-len(action):] == action && label[len(label)-len(action)-1] == ':' {
			return true
		}
	}
	return false
}

// findRecoveryDelta searches forward from the triggering error event (at
// index errIdx in group) for the first ok tool-call event at the same step
// index, returning the millisecond delta between them (§4.9).
func findRecoveryDelta(group []trace.Event, errIdx, stepIdx int) (int64, bool) {
	earlier := group[errIdx]
	for j := errIdx + 1; j < len(group); j++ {
		e := group[j]
		if e.EventType != trace.EventToolCall || e.StepIdx != stepIdx || e.Status != "ok" {
			continue
		}
		if earlier.TimestampMS != 0 || e.TimestampMS != 0 {
			return e.TimestampMS - earlier.TimestampMS, true
		}
		var sum int64
		for k := errIdx; k <= j; k++ {
			sum += group[k].LatencyMS
		}
		return sum, true
	}
	return 0, false
}

func aggregate(summaries []taskSummary, eventKindCounts, firstErrorKindCounts map[fault.Kind]int, llmCalls int) Report {
	report := Report{TotalTasks: len(summaries), LLMCalls: llmCalls}

	var totalErrorEvents, recoveredEvents, toolCalls, baseCalls, overhead, authOrPolicyTasks int
	var deltaSum int64
	var deltaCount int

	for _, s := range summaries {
		switch s.outcome {
		case outcomeSuccess:
			report.CompletedTasks++
		case outcomeEscalated:
			report.EscalatedTasks++
		case outcomeFailed:
			report.FailedTasks++
		}
		if s.hasError {
			report.ErrorTasks++
			if s.outcome == outcomeSuccess {
				report.RecoveredTasks++
			}
		}
		if s.hasAuthOrPolicy {
			authOrPolicyTasks++
		}
		if s.srrEligible {
			report.SRREligible++
			if s.srrPass {
				report.SRRPass++
			}
		}

		toolCalls += s.actualCallCount
		baseCalls += s.baseCallCount
		stepOverhead := s.actualCallCount - s.baseCallCount
		if stepOverhead > 0 {
			overhead += stepOverhead
		}
		recoveredEvents += s.recoveredEvents
		for _, d := range s.recoveryDeltaMS {
			deltaSum += d
			deltaCount++
		}
	}
	for _, c := range eventKindCounts {
		totalErrorEvents += c
	}

	report.TotalErrorEvents = totalErrorEvents
	report.RecoveredEvents = recoveredEvents
	report.ToolCalls = toolCalls

	report.WCR = ratio(report.CompletedTasks, report.TotalTasks)
	report.HIR = ratio(report.EscalatedTasks, report.TotalTasks)
	report.RRTask = ratio(report.RecoveredTasks, report.ErrorTasks)
	report.RREvent = ratio(recoveredEvents, totalErrorEvents)
	if deltaCount > 0 {
		report.MTTREvent = float64(deltaSum) / float64(deltaCount)
	}
	report.CPT = ratio(toolCalls, report.TotalTasks)
	report.CPS = float64(toolCalls) / float64(max(1, report.CompletedTasks))
	report.RCO = ratio(overhead, baseCalls)
	report.UAR = ratio(authOrPolicyTasks, report.TotalTasks)
	report.SRR = ratio(report.SRRPass, report.SRREligible)

	report.FirstErrorKindBreakdown = sortedKindCounts(firstErrorKindCounts)
	report.EventErrorKindBreakdown = sortedKindCounts(eventKindCounts)

	return report
}

func ratio(numer, denom int) float64 {
	if denom == 0 {
		return 0
	}
	return float64(numer) / float64(denom)
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func sortedKindCounts(counts map[fault.Kind]int) []KindCount {
	out := make([]KindCount, 0, len(counts))
	for k, c := range counts {
		out = append(out, KindCount{Kind: k, Count: c})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out
}
