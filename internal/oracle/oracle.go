// Package oracle implements the success predicate and post-run
// consistency invariants (§4's "Oracle / Consistency Checker" row):
// whether a completed task's world state satisfies its task file's
// success_condition, and whether the world state is internally consistent
// enough to count as a safe rollback.
package oracle

import (
	"github.com/LaoZhongjie/AWRR---Autonomous-Workflow-Recovery-Runtime/internal/worldstate"
)

// SuccessCondition is the task file's declarative success predicate (§6):
// currently the only supported Type is "record_status", matching a
// record's status field against ExpectedStatus.
type SuccessCondition struct {
	Type           string `json:"type" yaml:"type"`
	RecordID       string `json:"record_id" yaml:"record_id"`
	ExpectedStatus string `json:"expected_status" yaml:"expected_status"`
}

// Evaluate reports whether ws satisfies cond. An unrecognized Type or a
// missing record evaluates to false rather than erroring, since the
// Oracle is consulted only to label a final event's outcome, never to
// abort a run.
func Evaluate(ws *worldstate.WorldState, cond SuccessCondition) bool {
	switch cond.Type {
	case "record_status":
		record, ok := ws.Records[cond.RecordID]
		if !ok {
			return false
		}
		status, _ := record["status"].(string)
		return status == cond.ExpectedStatus
	default:
		return false
	}
}

// ConsistencyResult is the post-run invariant check backing a final
// event's srr_eligible/srr_pass fields (§4.8, §8 scenario 4, Glossary
// "Safe-rollback"): inventory restored to its pre-task snapshot, and no
// record left with an orphaned payment_status/status combination.
type ConsistencyResult struct {
	InventoryRestored bool
	NoOrphanedRecords bool
}

// Pass reports whether every consistency check held.
func (c ConsistencyResult) Pass() bool {
	return c.InventoryRestored && c.NoOrphanedRecords
}

// CheckConsistency runs the post-run invariants against ws, to be called
// only when the task involved at least one compensation (§4.8: "if any
// compensation occurred during the task, also evaluate the consistency
// predicate"). initialInventory is the task's inventory snapshot before
// its first step ran, matching original_source/oracle_checker.py's
// check_consistency signature.
func CheckConsistency(ws *worldstate.WorldState, initialInventory map[string]int) ConsistencyResult {
	inventoryRestored := inventoryEqual(ws.Inventory, initialInventory)

	noOrphans := true
	for _, record := range ws.Records {
		status, _ := record["status"].(string)
		paymentStatus, _ := record["payment_status"].(string)

		if paymentStatus == "paid" && status != "approved" {
			noOrphans = false
			break
		}
		if status == "approved" && paymentStatus != "" && paymentStatus != "paid" {
			noOrphans = false
			break
		}
	}

	return ConsistencyResult{InventoryRestored: inventoryRestored, NoOrphanedRecords: noOrphans}
}

func inventoryEqual(a, b map[string]int) bool {
	if len(a) != len(b) {
		return false
	}
	for item, qty := range a {
		if other, ok := b[item]; !ok || other != qty {
			return false
		}
	}
	return true
}
