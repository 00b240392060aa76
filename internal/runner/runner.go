// Package runner implements the Runner (§4.8): the per-task state machine
// that pulls a step, asks the Fault Injector whether it fires, executes
// the tool, traces the outcome, and on error consults the Recovery Policy
// to decide the next move, looping until the plan is exhausted or a
// terminal state is reached.
package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/LaoZhongjie/AWRR---Autonomous-Workflow-Recovery-Runtime/internal/budget"
	"github.com/LaoZhongjie/AWRR---Autonomous-Workflow-Recovery-Runtime/internal/executor"
	"github.com/LaoZhongjie/AWRR---Autonomous-Workflow-Recovery-Runtime/internal/fault"
	"github.com/LaoZhongjie/AWRR---Autonomous-Workflow-Recovery-Runtime/internal/memory"
	"github.com/LaoZhongjie/AWRR---Autonomous-Workflow-Recovery-Runtime/internal/oracle"
	"github.com/LaoZhongjie/AWRR---Autonomous-Workflow-Recovery-Runtime/internal/recoveryaction"
	"github.com/LaoZhongjie/AWRR---Autonomous-Workflow-Recovery-Runtime/internal/recoverypolicy"
	"github.com/LaoZhongjie/AWRR---Autonomous-Workflow-Recovery-Runtime/internal/saga"
	"github.com/LaoZhongjie/AWRR---Autonomous-Workflow-Recovery-Runtime/internal/taskfile"
	"github.com/LaoZhongjie/AWRR---Autonomous-Workflow-Recovery-Runtime/internal/telemetry"
	"github.com/LaoZhongjie/AWRR---Autonomous-Workflow-Recovery-Runtime/internal/toolspec"
	"github.com/LaoZhongjie/AWRR---Autonomous-Workflow-Recovery-Runtime/internal/trace"
	"github.com/LaoZhongjie/AWRR---Autonomous-Workflow-Recovery-Runtime/internal/worldstate"
)

// Outcome is the closed {success, failed, escalated} set a task's final
// event carries (§7 "user-visible outcomes per task").
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeFailed    Outcome = "failed"
	OutcomeEscalated Outcome = "escalated"
)

// FatalError marks a failure mode that aborts the whole run rather than
// just the current task (§7: "Memory-Bank persistence I/O errors are
// fatal to the run"). Run returns this as a Go error; every other
// task-level failure mode is represented in Result instead.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return fmt.Sprintf("runner: fatal: %v", e.Err) }
func (e *FatalError) Unwrap() error { return e.Err }

// Result is one task's outcome plus its full trace event sequence.
type Result struct {
	TaskID  string
	Outcome Outcome
	Reason  string
	Events  []trace.Event
}

// Runner bundles the collaborators a task run needs. Registry, Injector,
// Exec, and Policy are required; SagaEnabled gates whether a saga.Manager
// is built per task, and Memory may be nil (any strategy other than B4).
//
// A fresh saga.Manager is constructed inside Run for every task rather
// than held as a shared field, since a Manager's Stack and Logger are
// task-scoped state (§5: "each task owns its own... saga stack"); sharing
// one Manager across concurrently running tasks would let one task's
// compensation records and trace events bleed into another's.
type Runner struct {
	Registry    *toolspec.Registry
	Injector    *fault.Injector
	Exec        *executor.Executor
	Policy      *recoverypolicy.Policy
	SagaEnabled bool
	SagaTicket  saga.TicketFunc
	Memory      *memory.Bank
	Log         telemetry.Logger
	Metrics     telemetry.Metrics
	// Sink, if non-nil, is where every task's trace events are persisted
	// as they're emitted (e.g. a trace.FileSink over the configured trace
	// path). Nil buffers events in memory only, which is sufficient for
	// tests and for a single in-process Reduce call.
	Sink trace.Sink
}

// New constructs a Runner. log and metrics may be nil, defaulting to
// no-ops. sagaTicket may be nil; the Saga Manager then records critical
// failures as an audit entry instead of a real create_ticket call.
func New(registry *toolspec.Registry, injector *fault.Injector, exec *executor.Executor, policy *recoverypolicy.Policy, sagaEnabled bool, sagaTicket saga.TicketFunc, memoryBank *memory.Bank, log telemetry.Logger, metrics telemetry.Metrics) *Runner {
	if log == nil {
		log = telemetry.NoopLogger{}
	}
	if metrics == nil {
		metrics = telemetry.NoopMetrics{}
	}
	return &Runner{Registry: registry, Injector: injector, Exec: exec, Policy: policy, SagaEnabled: sagaEnabled, SagaTicket: sagaTicket, Memory: memoryBank, Log: log, Metrics: metrics}
}

// convertAuditLog adapts a task file's free-form initial audit log entries
// into worldstate.AuditEntry values. An entry missing "action" or
// "timestamp" still imports, defaulting to zero values, since the task
// file schema does not constrain audit_log entry shape (§6).
func convertAuditLog(entries []map[string]any) []worldstate.AuditEntry {
	if entries == nil {
		return nil
	}
	out := make([]worldstate.AuditEntry, 0, len(entries))
	for _, raw := range entries {
		entry := worldstate.AuditEntry{Fields: make(map[string]any, len(raw))}
		for k, v := range raw {
			switch k {
			case "action":
				entry.Action, _ = v.(string)
			case "timestamp":
				switch t := v.(type) {
				case float64:
					entry.Timestamp = int64(t)
				case int64:
					entry.Timestamp = t
				}
			default:
				entry.Fields[k] = v
			}
		}
		out = append(out, entry)
	}
	return out
}

// taskState is the per-task mutable bookkeeping the RUNNING loop carries:
// retry counts per step, the first failure's signature/action for
// end-of-task memory learning, and whether any compensation occurred
// (gating the final event's consistency check).
type taskState struct {
	retryCounts      map[int]int
	firstSignature   *fault.Signature
	firstAction      recoveryaction.Action
	anyCompensation  bool
	initialInventory map[string]int
}

// Run executes task to completion against bounds, returning its Result.
// The only error Run itself returns is a *FatalError — every other
// failure mode is represented as a Result with Outcome failed/escalated
// (§7).
func (r *Runner) Run(ctx context.Context, task taskfile.Task, bounds budget.Bounds) (*Result, error) {
	ws := worldstate.FromSnapshot(task.InitialWorldState.Records, task.InitialWorldState.Inventory, convertAuditLog(task.InitialWorldState.AuditLog))
	tracker := budget.NewTracker(bounds)
	logger := trace.NewLogger(r.Sink)
	checkpoint := ws.DeepCopy()
	initialInventory := make(map[string]int, len(ws.Inventory))
	for item, qty := range ws.Inventory {
		initialInventory[item] = qty
	}
	state := &taskState{retryCounts: make(map[int]int), initialInventory: initialInventory}

	var sagaMgr *saga.Manager
	if r.SagaEnabled {
		sagaMgr = saga.New(logger, r.SagaTicket, r.Log)
	}

	stepIdx := 0
	for {
		if stepIdx >= len(task.Steps) {
			break
		}
		if tracker.Exhausted() {
			r.fileTicket(ctx, ws, tracker, logger, sagaMgr, task.TaskID, stepIdx, fmt.Sprintf("Critical: budget exhausted for task %s at step %d", task.TaskID, stepIdx))
			return r.finalize(task.TaskID, logger, sagaMgr, OutcomeEscalated, "budget_exhausted", ws, state), nil
		}

		step := task.Steps[stepIdx]
		spec, ok := r.Registry.Lookup(step.ToolName)
		if !ok {
			return r.finalize(task.TaskID, logger, sagaMgr, OutcomeFailed, "unknown_tool:"+step.ToolName, ws, state), nil
		}

		retryCount := state.retryCounts[stepIdx]
		attemptIdx := retryCount
		stateHash := ws.ContentHashHex()

		var injected *fault.Descriptor
		for _, fc := range task.FaultInjections {
			if fc.StepIdx != stepIdx {
				continue
			}
			if descriptor, fires := r.Injector.Decide(fc, task.TaskID, ws, stepIdx, attemptIdx); fires {
				injected = &descriptor
			}
			break
		}

		stepCtx := executor.StepContext{
			TaskID: task.TaskID, StepIdx: stepIdx, StepName: step.StepName,
			ToolName: step.ToolName, Params: step.Params, StateHash: stateHash,
		}
		result := r.Exec.Execute(ctx, ws, spec, stepCtx, attemptIdx, injected)

		event := trace.Event{
			ID: trace.NewID(), TaskID: task.TaskID, StepIdx: stepIdx, StepName: step.StepName,
			ToolName: step.ToolName, Params: step.Params,
			LatencyMS: result.LatencyMS, InjectedFault: result.InjectedFault,
			StateHash: stateHash, Budget: tracker.Snapshot(), AttemptIdx: attemptIdx,
			EventType: trace.EventToolCall, SagaStackDepth: sagaDepth(sagaMgr),
			TimestampMS: time.Now().UnixMilli(),
		}
		tracker.Consume(budget.EstimateTokens(step.Params), 1)

		if result.Status == executor.StatusOK {
			event.Status = "ok"
			_ = logger.Append(event)
			if spec.Compensate != nil && !spec.Irreversible && sagaMgr != nil {
				sagaMgr.Stack.Push(saga.Record{Name: step.ToolName, Compensator: spec.Compensate, Args: spec.ProjectCompensateArgs(step.Params)})
			}
			checkpoint = ws.DeepCopy()
			state.retryCounts[stepIdx] = 0
			stepIdx++
			continue
		}

		event.Status = "error"
		event.ErrorKind = result.ErrorKind
		event.ErrorMessage = result.ErrorMessage

		signature := fault.NewSignature(step.ToolName, result.ErrorKind, step.StepName, result.ErrorMessage+" "+result.ErrorTrace, stateHash)
		isFirstFailure := state.firstSignature == nil
		if isFirstFailure {
			sig := signature
			state.firstSignature = &sig
		}

		decision := r.Policy.Decide(ctx, stepCtx, result, retryCount, logger.Events(), signature, tracker)
		decision = r.guardBackoffWallTime(decision, retryCount, tracker)
		if isFirstFailure {
			state.firstAction = decision.Action
		}

		event.RecoveryAction = recoveryaction.Label(decision.Action, decision.Source)
		if decision.Diagnosis != nil {
			event.Diagnosis = &trace.Diagnosis{
				Layer: string(decision.Diagnosis.Layer), Action: string(decision.Diagnosis.Action),
				Confidence: decision.Diagnosis.Confidence, Reasoning: decision.Diagnosis.Reasoning,
			}
		}
		_ = logger.Append(event)

		switch decision.Action {
		case recoveryaction.Fail:
			return r.finalize(task.TaskID, logger, sagaMgr, OutcomeFailed, string(result.ErrorKind), ws, state), nil

		case recoveryaction.Escalate, recoveryaction.Compensate:
			r.fileTicket(ctx, ws, tracker, logger, sagaMgr, task.TaskID, stepIdx, fmt.Sprintf("Escalation for task %s at step %d: %s", task.TaskID, stepIdx, result.ErrorKind))
			return r.finalize(task.TaskID, logger, sagaMgr, OutcomeEscalated, string(result.ErrorKind), ws, state), nil

		case recoveryaction.Retry:
			state.retryCounts[stepIdx] = retryCount + 1
			r.sleepBackoff(retryCount)

		case recoveryaction.Rollback, recoveryaction.RollbackThenRetry:
			ws.Restore(checkpoint)
			ws.AppendAudit(worldstate.AuditEntry{Action: "rollback", Timestamp: time.Now().Unix()})
			state.retryCounts[stepIdx] = retryCount + 1
			if sagaMgr != nil {
				rollbackResult := sagaMgr.Rollback(ctx, ws, task.TaskID, stepIdx, tracker)
				state.anyCompensation = true
				if !rollbackResult.OK {
					return r.finalize(task.TaskID, logger, sagaMgr, OutcomeEscalated, rollbackResult.Reason, ws, state), nil
				}
			}
			r.sleepBackoff(retryCount)

		default:
			return r.finalize(task.TaskID, logger, sagaMgr, OutcomeFailed, "unknown_action", ws, state), nil
		}
	}

	return r.finalizeSuccess(task.TaskID, task.SuccessCondition, logger, sagaMgr, ws, state)
}

// sagaDepth reports the current compensation stack depth, or 0 when the
// saga is disabled for this run.
func sagaDepth(sagaMgr *saga.Manager) int {
	if sagaMgr == nil {
		return 0
	}
	return sagaMgr.Stack.Depth()
}

// guardBackoffWallTime escalates a retry/rollback decision whose backoff
// delay would exceed the remaining wall-time budget, per §5's
// "retry sleeps must never exceed the remaining wall-time".
func (r *Runner) guardBackoffWallTime(decision recoverypolicy.Decision, retryCount int, tracker *budget.Tracker) recoverypolicy.Decision {
	if !recoveryaction.IsRetryOrRollback(decision.Action) {
		return decision
	}
	delay := recoverypolicy.Backoff(retryCount)
	if delay.Seconds() > tracker.RemainingWallSeconds() {
		decision.Action = recoveryaction.Escalate
	}
	return decision
}

func (r *Runner) sleepBackoff(retryCount int) {
	time.Sleep(recoverypolicy.Backoff(retryCount))
}

// fileTicket creates an escalation ticket directly through the registry's
// create_ticket tool, bypassing fault injection, matching the pattern used
// for saga's own critical-failure ticket (§4.7, §4.8 step 1).
func (r *Runner) fileTicket(ctx context.Context, ws *worldstate.WorldState, tracker *budget.Tracker, logger *trace.Logger, sagaMgr *saga.Manager, taskID string, stepIdx int, summary string) {
	params := map[string]any{"summary": summary, "severity": "critical"}
	var out map[string]any
	if spec, ok := r.Registry.Lookup("create_ticket"); ok {
		var err error
		out, err = spec.Forward(ctx, ws, params)
		if err != nil {
			r.Log.Error(ctx, "runner.file_ticket_failed", "task_id", taskID, "error", err)
		}
	}
	tracker.Consume(0, 1)
	event := trace.Event{
		ID: trace.NewID(), TaskID: taskID, StepIdx: stepIdx, StepName: "escalate", ToolName: "create_ticket",
		Params: map[string]any{"summary": summary, "severity": "critical", "result": out}, Status: "ok",
		StateHash: ws.ContentHashHex(), Budget: tracker.Snapshot(), RecoveryAction: "escalate",
		EventType: trace.EventRecovery, SagaStackDepth: sagaDepth(sagaMgr), TimestampMS: time.Now().UnixMilli(),
	}
	_ = logger.Append(event)
}

// finalize builds and appends the task's terminal final event and returns
// the Result for the given outcome (§4.8 step 7/8).
func (r *Runner) finalize(taskID string, logger *trace.Logger, sagaMgr *saga.Manager, outcome Outcome, reason string, ws *worldstate.WorldState, state *taskState) *Result {
	event := trace.Event{
		ID: trace.NewID(), TaskID: taskID, EventType: trace.EventFinal,
		Status: "ok", StateHash: ws.ContentHashHex(),
		FinalOutcome: string(outcome), FinalReason: reason,
		SagaStackDepth: sagaDepth(sagaMgr), TimestampMS: time.Now().UnixMilli(),
	}
	if state.anyCompensation {
		eligible := true
		event.SRREligible = &eligible
		pass := oracle.CheckConsistency(ws, state.initialInventory).Pass()
		event.SRRPass = &pass
	}
	_ = logger.Append(event)
	return &Result{TaskID: taskID, Outcome: outcome, Reason: reason, Events: logger.Events()}
}

// finalizeSuccess runs the Oracle, optionally upserts the first failure's
// signature/action into the Memory Bank (B4 only), and builds the final
// event (§4.8 step 8). A Memory Bank persistence failure is fatal to the
// whole run (§7), so it is returned as a *FatalError rather than folded
// into the task's Result.
func (r *Runner) finalizeSuccess(taskID string, cond oracle.SuccessCondition, logger *trace.Logger, sagaMgr *saga.Manager, ws *worldstate.WorldState, state *taskState) (*Result, error) {
	success := oracle.Evaluate(ws, cond)

	if r.Policy.Mode == recoverypolicy.B4 && r.Memory != nil && state.firstSignature != nil {
		if err := r.Memory.Upsert(*state.firstSignature, state.firstAction, success); err != nil {
			return nil, &FatalError{Err: err}
		}
	}

	outcome, reason := OutcomeSuccess, ""
	if !success {
		outcome, reason = OutcomeFailed, "oracle_failed"
	}
	return r.finalize(taskID, logger, sagaMgr, outcome, reason, ws, state), nil
}
