// Package worldstate implements the in-memory record/inventory/audit-log
// world a task's plan executes against, plus the deterministic-replay
// bookkeeping (fault plan, fault state) the fault injector consults.
//
// A WorldState is constructed once per task, mutated by tool executions,
// checkpointed (deep-copied) after each successful step, and discarded at
// task end. It carries no network or storage dependency: everything lives
// in process memory for the lifetime of a single task run.
package worldstate

import (
	"encoding/json"
	"fmt"

	"github.com/zeebo/blake3"
)

// AuditEntry records a single append-only audit log entry. Fields is
// intentionally a free-form map so tool implementations can attach
// whatever attributes are relevant (record_id, patch, ticket_id, ...)
// without the world state needing to know about every tool's schema.
type AuditEntry struct {
	Action    string         `json:"action"`
	Fields    map[string]any `json:"fields,omitempty"`
	Timestamp int64          `json:"timestamp"`
}

// FaultBookkeeping is the per-fault-id replay state the Fault Injector
// needs to honor mode semantics across attempts and steps (§3, §4.2):
// whether a "once" fault has already fired, whether a "persistent" or
// "stateful_conflict" fault was sampled in, and for stateful_conflict,
// the rollback count observed at activation plus whether it has since
// resolved.
type FaultBookkeeping struct {
	// Sampled records the outcome of the one-time Bernoulli trial for
	// modes once/persistent/stateful_conflict. Per-attempt mode does not
	// use this field; it re-samples every attempt.
	Sampled bool
	// SampledDecided is true once Sampled has been set by a trial, so the
	// injector never re-samples a once/persistent/stateful_conflict fault.
	SampledDecided bool
	// Fired is true once a "once"-mode fault has fired, so it never fires
	// again for the remainder of the task.
	Fired bool
	// ActivationRollbackCount is the audit log's rollback-entry count
	// observed the first time a stateful_conflict fault fired.
	ActivationRollbackCount int
	// Resolved is true once a stateful_conflict fault has been cleared by
	// an observed rollback; once true it never fires again.
	Resolved bool
}

// WorldState is the mutable record/inventory/audit-log world a task's plan
// executes against, plus the deterministic-replay aides (fault plan, fault
// state) described in §3. It is not safe for concurrent use from more than
// one goroutine at a time; callers coordinate with Budget/retry/saga state
// belonging to the same task (§5).
type WorldState struct {
	Records    map[string]map[string]any  `json:"records"`
	Inventory  map[string]int             `json:"inventory"`
	AuditLog   []AuditEntry               `json:"audit_log"`
	FaultPlan  map[string]bool            `json:"-"`
	FaultState map[string]FaultBookkeeping `json:"-"`
}

// New constructs an empty WorldState ready for population from a task's
// initial snapshot.
func New() *WorldState {
	return &WorldState{
		Records:    make(map[string]map[string]any),
		Inventory:  make(map[string]int),
		AuditLog:   nil,
		FaultPlan:  make(map[string]bool),
		FaultState: make(map[string]FaultBookkeeping),
	}
}

// FromSnapshot builds a WorldState from a task file's initial_world_state
// block. Inputs are copied so later mutation of the caller's maps cannot
// leak into the constructed state.
func FromSnapshot(records map[string]map[string]any, inventory map[string]int, auditLog []AuditEntry) *WorldState {
	ws := New()
	for id, attrs := range records {
		ws.Records[id] = cloneAttrs(attrs)
	}
	for item, qty := range inventory {
		ws.Inventory[item] = qty
	}
	ws.AuditLog = append(ws.AuditLog, auditLog...)
	return ws
}

// RollbackCount returns how many audit entries with action "rollback" have
// been appended so far. The Fault Injector's stateful_conflict mode uses
// this to decide whether to clear itself (§4.2).
func (w *WorldState) RollbackCount() int {
	n := 0
	for _, e := range w.AuditLog {
		if e.Action == "rollback" {
			n++
		}
	}
	return n
}

// AppendAudit appends an audit entry. It is the only way to add to the
// audit log; the only other method that changes the log is Restore, which
// replaces it with a checkpoint's copy on rollback.
func (w *WorldState) AppendAudit(entry AuditEntry) {
	w.AuditLog = append(w.AuditLog, entry)
}

// DeepCopy returns an independent copy of the world state, including its
// replay bookkeeping. Two deep copies of the same state hash to the same
// digest (§3 invariant); mutating one never affects the other.
func (w *WorldState) DeepCopy() *WorldState {
	cp := New()
	for id, attrs := range w.Records {
		cp.Records[id] = cloneAttrs(attrs)
	}
	for item, qty := range w.Inventory {
		cp.Inventory[item] = qty
	}
	cp.AuditLog = append(cp.AuditLog, w.AuditLog...)
	for id, ok := range w.FaultPlan {
		cp.FaultPlan[id] = ok
	}
	for id, fs := range w.FaultState {
		cp.FaultState[id] = fs
	}
	return cp
}

// Restore overwrites the receiver's records, inventory, and audit log with
// a checkpoint's values in place, leaving fault-plan/fault-state bookkeeping
// untouched (those track the whole task's replay, not a single checkpoint;
// see Checkpoint safety invariant in §8). Restore is how the Runner
// implements a rollback without a saga (§4.7).
func (w *WorldState) Restore(checkpoint *WorldState) {
	records := make(map[string]map[string]any, len(checkpoint.Records))
	for id, attrs := range checkpoint.Records {
		records[id] = cloneAttrs(attrs)
	}
	inventory := make(map[string]int, len(checkpoint.Inventory))
	for item, qty := range checkpoint.Inventory {
		inventory[item] = qty
	}
	auditLog := make([]AuditEntry, len(checkpoint.AuditLog))
	copy(auditLog, checkpoint.AuditLog)

	w.Records = records
	w.Inventory = inventory
	w.AuditLog = auditLog
}

// projection is the subset of WorldState that participates in the content
// hash: records, inventory, and audit log, matching §3's definition of
// "two deep copies with equal content hash to the same 256-bit digest".
// Fault plan/state are deliberately excluded — they are replay bookkeeping,
// not observable world content.
type projection struct {
	Records   map[string]map[string]any `json:"records"`
	Inventory map[string]int            `json:"inventory"`
	AuditLog  []AuditEntry              `json:"audit_log"`
}

// ContentHash computes the 256-bit BLAKE3 digest of the canonical JSON
// encoding of the state's observable content (records, inventory, audit
// log). encoding/json sorts map keys on marshal, which combined with
// BLAKE3's fixed-size digest gives the "two deep copies hash equal"
// invariant from §3 without needing a hand-rolled canonicalizer.
func (w *WorldState) ContentHash() [32]byte {
	data, err := json.Marshal(projection{Records: w.Records, Inventory: w.Inventory, AuditLog: w.AuditLog})
	if err != nil {
		// Records/Inventory/AuditLog are built exclusively from JSON-safe
		// types (maps, slices, strings, numbers); Marshal cannot fail here
		// short of a serious internal invariant violation.
		panic(fmt.Sprintf("worldstate: content hash marshal: %v", err))
	}
	return blake3.Sum256(data)
}

// ContentHashHex returns ContentHash as a lowercase hex string, used for
// state_hash fields in trace events and fault signatures.
func (w *WorldState) ContentHashHex() string {
	h := w.ContentHash()
	return fmt.Sprintf("%x", h[:])
}

func cloneAttrs(attrs map[string]any) map[string]any {
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		out[k] = v
	}
	return out
}
