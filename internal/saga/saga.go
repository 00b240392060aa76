// Package saga implements the Saga Manager (§4.7): a stack of compensation
// records pushed in forward-success order, unwound end-to-start on
// rollback. Grounded on original_source/saga.py's TransactionStack /
// SagaManager, restructured around the engine's toolspec.Compensator,
// trace.Logger, and budget.Tracker types.
package saga

import (
	"context"
	"fmt"
	"time"

	"github.com/LaoZhongjie/AWRR---Autonomous-Workflow-Recovery-Runtime/internal/budget"
	"github.com/LaoZhongjie/AWRR---Autonomous-Workflow-Recovery-Runtime/internal/telemetry"
	"github.com/LaoZhongjie/AWRR---Autonomous-Workflow-Recovery-Runtime/internal/toolspec"
	"github.com/LaoZhongjie/AWRR---Autonomous-Workflow-Recovery-Runtime/internal/trace"
	"github.com/LaoZhongjie/AWRR---Autonomous-Workflow-Recovery-Runtime/internal/worldstate"
)

// Record is one pushed compensation entry: the tool's display name, its
// compensator, and the forward parameters already projected through the
// tool spec's CompensateArgKeys (§3, §4.7). Irreversible tools never
// produce a Record; the Runner simply never pushes one for them.
type Record struct {
	Name        string
	Compensator toolspec.Compensator
	Args        map[string]any
}

// Stack is the compensation stack, pushed in forward-success order and
// popped end-to-start on rollback (§4.7).
type Stack struct {
	records []Record
}

// Push appends rec to the top of the stack.
func (s *Stack) Push(rec Record) {
	s.records = append(s.records, rec)
}

// Pop removes and returns the top record, or ok=false if the stack is
// empty.
func (s *Stack) Pop() (Record, bool) {
	if len(s.records) == 0 {
		return Record{}, false
	}
	last := len(s.records) - 1
	rec := s.records[last]
	s.records = s.records[:last]
	return rec, true
}

// Depth reports the current stack depth.
func (s *Stack) Depth() int {
	return len(s.records)
}

// RollbackResult is rollback_saga's outcome (§4.7): ok, or an error with a
// machine-readable reason ("compensation_failed" or "budget_exhausted").
type RollbackResult struct {
	OK     bool
	Reason string
}

// TicketFunc files a critical escalation ticket when a compensator fails
// mid-rollback (§4.7). It mirrors the Tool Registry's create_ticket
// forward operation but is invoked directly, bypassing fault injection,
// matching original_source/saga.py's fault_injection=None call.
type TicketFunc func(ctx context.Context, ws *worldstate.WorldState, summary, severity string) (map[string]any, error)

// Manager runs rollback against a Stack, emitting compensation trace
// events and consuming budget for every compensator call (§4.7).
type Manager struct {
	Stack  Stack
	Logger *trace.Logger
	Ticket TicketFunc
	Log    telemetry.Logger
}

// New constructs a Manager. ticket may be nil, in which case critical
// failure tickets are recorded as a worldstate audit entry instead of a
// tool call.
func New(logger *trace.Logger, ticket TicketFunc, log telemetry.Logger) *Manager {
	if log == nil {
		log = telemetry.NoopLogger{}
	}
	return &Manager{Logger: logger, Ticket: ticket, Log: log}
}

// Rollback pops the stack end-to-start, invoking each compensator against
// ws, emitting a compensation trace event per call, and consuming budget
// per the same tokens-per-parameters rule as forward calls (§4.7). On
// success the stack is left empty. On the first compensator failure, the
// manager stops, files an escalation ticket, and returns
// reason="compensation_failed". If the budget is exhausted before a
// compensator call, it returns reason="budget_exhausted" without invoking
// that compensator.
func (m *Manager) Rollback(ctx context.Context, ws *worldstate.WorldState, taskID string, stepIdx int, tracker *budget.Tracker) RollbackResult {
	for {
		if tracker.Exhausted() {
			return RollbackResult{OK: false, Reason: "budget_exhausted"}
		}
		rec, ok := m.Stack.Pop()
		if !ok {
			return RollbackResult{OK: true}
		}

		err := rec.Compensator(ctx, ws, rec.Args)

		evtStatus := "ok"
		errKind := ""
		errMsg := ""
		if err != nil {
			evtStatus = "error"
			errKind = "CompensationFailed"
			errMsg = err.Error()
		}

		params := map[string]any{"args": rec.Args}
		tracker.Consume(budget.EstimateTokens(params), 1)

		event := trace.Event{
			ID:             trace.NewID(),
			TaskID:         taskID,
			StepIdx:        stepIdx,
			StepName:       "compensate",
			ToolName:       rec.Name,
			Params:         params,
			Status:         evtStatus,
			ErrorMessage:   errMsg,
			StateHash:      ws.ContentHashHex(),
			Budget:         tracker.Snapshot(),
			RecoveryAction: "rollback",
			EventType:      trace.EventCompensation,
			SagaStackDepth: m.Stack.Depth(),
			TimestampMS:    time.Now().UnixMilli(),
		}
		if errKind != "" {
			event.ErrorMessage = fmt.Sprintf("%s: %s", errKind, errMsg)
		}
		if m.Logger != nil {
			_ = m.Logger.Append(event)
		}

		if err != nil {
			m.recordCriticalFailure(ctx, ws, taskID, stepIdx, tracker)
			return RollbackResult{OK: false, Reason: "compensation_failed"}
		}
	}
}

// recordCriticalFailure files the escalation ticket for a failed
// compensator and logs a matching compensation trace event
// (original_source/saga.py's _record_critical_failure).
func (m *Manager) recordCriticalFailure(ctx context.Context, ws *worldstate.WorldState, taskID string, stepIdx int, tracker *budget.Tracker) {
	summary := fmt.Sprintf("Critical: compensation failed for task %s at step %d", taskID, stepIdx)

	var out map[string]any
	var err error
	if m.Ticket != nil {
		out, err = m.Ticket(ctx, ws, summary, "critical")
	} else {
		ws.AppendAudit(worldstate.AuditEntry{Action: "ticket_created", Fields: map[string]any{"summary": summary, "severity": "critical"}})
	}
	if err != nil {
		m.Log.Error(ctx, "saga.critical_ticket_failed", "task_id", taskID, "error", err)
	}

	tracker.Consume(0, 1)

	event := trace.Event{
		ID:             trace.NewID(),
		TaskID:         taskID,
		StepIdx:        stepIdx,
		StepName:       "compensate",
		ToolName:       "create_ticket",
		Params:         map[string]any{"summary": summary, "severity": "critical", "result": out},
		Status:         "ok",
		StateHash:      ws.ContentHashHex(),
		Budget:         tracker.Snapshot(),
		RecoveryAction: "escalate",
		EventType:      trace.EventCompensation,
		SagaStackDepth: m.Stack.Depth(),
		TimestampMS:    time.Now().UnixMilli(),
	}
	if m.Logger != nil {
		_ = m.Logger.Append(event)
	}
}
