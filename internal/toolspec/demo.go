package toolspec

import (
	"context"
	"fmt"
	"time"

	"github.com/LaoZhongjie/AWRR---Autonomous-Workflow-Recovery-Runtime/internal/worldstate"
)

// attrString/attrMap pull a typed value out of a params map, returning the
// zero value when the key is absent or the wrong type — params arrive as
// map[string]any off a task file's JSON, so callers never get a compile-time
// guarantee about their shape.
func attrString(params map[string]any, key string) string {
	if v, ok := params[key].(string); ok {
		return v
	}
	return ""
}

func attrMap(params map[string]any, key string) map[string]any {
	if v, ok := params[key].(map[string]any); ok {
		return v
	}
	return nil
}

// NewDemoRegistry builds the demo tool catalogue ported from
// original_source/mock_api.py: get_record, policy_check, update_record,
// send_message, create_ticket, and commit. It operates directly on a
// worldstate.WorldState rather than mock_api.py's hand-rolled StepResult
// envelope, since the Tool Executor now owns that envelope (§4.3).
// send_message and create_ticket are irreversible, matching the original;
// update_record carries a compensator, exercised by saga-enabled runs
// (§8 scenario 4). rollback is a Runner-level operation, not a registered
// tool, since it operates on the checkpoint rather than on tool params.
func NewDemoRegistry() (*Registry, error) {
	r := NewRegistry()

	specs := []Spec{
		{Name: "get_record", Forward: getRecord},
		{Name: "policy_check", Forward: policyCheck},
		{
			Name:              "update_record",
			Forward:           updateRecord,
			Compensate:        compensateUpdateRecord,
			CompensateArgKeys: []string{"record_id", "patch"},
		},
		{Name: "send_message", Forward: sendMessage, Irreversible: true},
		{Name: "create_ticket", Forward: createTicket, Irreversible: true},
		{Name: "commit", Forward: commit},
	}
	for _, spec := range specs {
		if err := r.Register(spec); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func getRecord(_ context.Context, ws *worldstate.WorldState, params map[string]any) (map[string]any, error) {
	recordID := attrString(params, "record_id")
	record, ok := ws.Records[recordID]
	if !ok {
		return nil, fmt.Errorf("record %s not found", recordID)
	}
	return map[string]any{"record": record}, nil
}

func policyCheck(_ context.Context, ws *worldstate.WorldState, params map[string]any) (map[string]any, error) {
	action := attrString(params, "action")
	ctx := attrMap(params, "context")
	required, _ := ctx["required_inventory"].(map[string]any)
	for item, want := range required {
		wantQty, _ := want.(float64)
		if float64(ws.Inventory[item]) < wantQty {
			return nil, fmt.Errorf("insufficient inventory: %s", item)
		}
	}
	return map[string]any{"allowed": true, "action": action}, nil
}

func updateRecord(_ context.Context, ws *worldstate.WorldState, params map[string]any) (map[string]any, error) {
	recordID := attrString(params, "record_id")
	patch := attrMap(params, "patch")
	record, ok := ws.Records[recordID]
	if !ok {
		return nil, fmt.Errorf("record %s not found", recordID)
	}
	for k, v := range patch {
		record[k] = v
	}
	ws.AppendAudit(worldstate.AuditEntry{
		Action:    "update_record",
		Fields:    map[string]any{"record_id": recordID, "patch": patch},
		Timestamp: time.Now().Unix(),
	})
	return map[string]any{"record_id": recordID, "updated": true}, nil
}

// compensateUpdateRecord logs the compensation for explainability and does
// not revert the patch. The Runner restores the checkpoint before the Saga
// Manager invokes compensators (§9 "saga vs rollback duality"), but that
// checkpoint is the state after the last successful step, so a patch from an
// update_record that succeeded earlier is still present afterwards.
func compensateUpdateRecord(_ context.Context, ws *worldstate.WorldState, args map[string]any) error {
	ws.AppendAudit(worldstate.AuditEntry{
		Action:    "compensate_update_record",
		Fields:    args,
		Timestamp: time.Now().Unix(),
	})
	return nil
}

func sendMessage(_ context.Context, ws *worldstate.WorldState, params map[string]any) (map[string]any, error) {
	userID := attrString(params, "user_id")
	text := attrString(params, "text")
	ws.AppendAudit(worldstate.AuditEntry{
		Action:    "send_message",
		Fields:    map[string]any{"user_id": userID, "text": text},
		Timestamp: time.Now().Unix(),
	})
	return map[string]any{"user_id": userID, "sent": true}, nil
}

func createTicket(_ context.Context, ws *worldstate.WorldState, params map[string]any) (map[string]any, error) {
	summary := attrString(params, "summary")
	severity := attrString(params, "severity")
	ticketID := fmt.Sprintf("TKT-%d", len(ws.AuditLog))
	ws.AppendAudit(worldstate.AuditEntry{
		Action:    "create_ticket",
		Fields:    map[string]any{"ticket_id": ticketID, "summary": summary, "severity": severity},
		Timestamp: time.Now().Unix(),
	})
	return map[string]any{"ticket_id": ticketID, "created": true}, nil
}

func commit(_ context.Context, ws *worldstate.WorldState, _ map[string]any) (map[string]any, error) {
	ws.AppendAudit(worldstate.AuditEntry{Action: "commit", Timestamp: time.Now().Unix()})
	return map[string]any{"committed": true}, nil
}
