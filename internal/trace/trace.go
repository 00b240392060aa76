// Package trace implements the Trace Event model and the append-only
// Trace Logger (§3, §4.3 "Trace Logger", §6 "Trace log"). Every step a
// Runner takes produces exactly one immutable Event; sinks persist the
// stream as line-delimited records.
package trace

import (
	"github.com/google/uuid"

	"github.com/LaoZhongjie/AWRR---Autonomous-Workflow-Recovery-Runtime/internal/budget"
	"github.com/LaoZhongjie/AWRR---Autonomous-Workflow-Recovery-Runtime/internal/fault"
)

// EventType is the closed {tool_call, recovery, compensation, final} set
// from §3.
type EventType string

const (
	EventToolCall     EventType = "tool_call"
	EventRecovery     EventType = "recovery"
	EventCompensation EventType = "compensation"
	EventFinal        EventType = "final"
)

// Diagnosis mirrors the Diagnosis Classifier's output (§4.4), embedded in
// a trace event when a recovery decision consulted it.
type Diagnosis struct {
	Layer      string  `json:"layer"`
	Action     string  `json:"action"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// Event is one immutable trace record (§3). Ordering within a task is the
// emission order; global ordering is by Timestamp.
type Event struct {
	ID       string `json:"id"`
	TaskID   string `json:"task_id"`
	StepIdx  int    `json:"step_idx"`
	StepName string `json:"step_name"`
	ToolName string `json:"tool_name"`
	Params   map[string]any `json:"params"`

	Status       string          `json:"status"`
	LatencyMS    int64           `json:"latency_ms"`
	ErrorKind    fault.Kind      `json:"error_kind,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	InjectedFault *fault.Descriptor `json:"injected_fault,omitempty"`

	StateHash string          `json:"state_hash"`
	Budget    budget.Snapshot `json:"budget"`

	RecoveryAction string `json:"recovery_action,omitempty"`

	AttemptIdx int       `json:"attempt_idx"`
	EventType  EventType `json:"event_type"`
	TimestampMS int64    `json:"ts_ms"`

	SagaStackDepth int        `json:"saga_stack_depth"`
	Diagnosis      *Diagnosis `json:"diagnosis,omitempty"`

	// Final-event-only fields.
	FinalOutcome string `json:"final_outcome,omitempty"`
	FinalReason  string `json:"final_reason,omitempty"`
	SRREligible  *bool  `json:"srr_eligible,omitempty"`
	SRRPass      *bool  `json:"srr_pass,omitempty"`
}

// NewID generates a fresh trace event ID.
func NewID() string {
	return uuid.NewString()
}

// Sink persists a stream of events. Implementations must preserve
// emission order (§3); the engine never relies on a sink to reorder.
type Sink interface {
	Append(e Event) error
	Close() error
}

// Logger is the append-only in-process event stream described in §4's
// "Trace Logger" row: it buffers emitted events and forwards them to a
// Sink for durability. Logger is owned by a single task/run and is not
// safe for concurrent use from multiple goroutines (§5 — trace emission
// is local to the runner and requires no synchronization within a task).
type Logger struct {
	sink   Sink
	events []Event
}

// NewLogger constructs a Logger writing through to sink. sink may be nil,
// in which case events are only buffered in memory (useful for tests and
// for the Metrics Reducer operating on a single in-process run).
func NewLogger(sink Sink) *Logger {
	return &Logger{sink: sink}
}

// Append records e, forwarding it to the configured sink if any. Returns
// an error only if the sink's Append fails; the event is always retained
// in the in-memory buffer regardless.
func (l *Logger) Append(e Event) error {
	l.events = append(l.events, e)
	if l.sink != nil {
		return l.sink.Append(e)
	}
	return nil
}

// Events returns all events appended so far, in emission order. The
// returned slice is owned by the caller; mutating it does not affect the
// Logger.
func (l *Logger) Events() []Event {
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

// Close releases the underlying sink, if any.
func (l *Logger) Close() error {
	if l.sink != nil {
		return l.sink.Close()
	}
	return nil
}
