// Package toolspec implements the Tool Registry (§3 "Tool Spec", §4.7):
// a name -> {forward operation, optional compensator, irreversibility
// flag, compensator argument keys} mapping the Runner and Saga Manager
// consult to execute and, if needed, compensate tool calls.
package toolspec

import (
	"context"
	"fmt"

	"github.com/LaoZhongjie/AWRR---Autonomous-Workflow-Recovery-Runtime/internal/worldstate"
)

// Forward is a tool's forward operation. It mutates the world state and
// returns a JSON-serializable output payload, or an error if the operation
// itself cannot be carried out (distinct from an injected fault, which the
// Tool Executor synthesizes without ever calling Forward).
type Forward func(ctx context.Context, ws *worldstate.WorldState, params map[string]any) (map[string]any, error)

// Compensator is a tool's inverse operation, invoked by the Saga Manager
// during rollback. It receives the projected subset of the original
// forward call's parameters named by Spec.CompensateArgKeys.
type Compensator func(ctx context.Context, ws *worldstate.WorldState, args map[string]any) error

// Spec describes one registered tool: its name, forward operation,
// optional compensator, irreversibility, and the parameter keys projected
// into the compensator's arguments (§3). If Irreversible is true,
// Compensate must be nil — the registry enforces this at registration
// time so the invariant can never be silently violated later.
type Spec struct {
	// Name is the tool's registry key, e.g. "update_record".
	Name string
	// Forward is the tool's forward operation.
	Forward Forward
	// Compensate is the tool's inverse, or nil if the tool has none.
	Compensate Compensator
	// Irreversible marks a tool whose effect can never be undone (e.g.
	// sending a message, filing a ticket). Irreversible tools are never
	// pushed onto the saga stack (§4.7) even if Compensate happened to be
	// set, which Register refuses to allow in the first place.
	Irreversible bool
	// CompensateArgKeys lists, in order, which forward-call parameter keys
	// are projected into the compensator's arguments (§3).
	CompensateArgKeys []string
}

// Registry maps tool names to their Spec. It is built once at startup and
// treated as read-only for the remainder of the process; concurrent reads
// are always safe.
type Registry struct {
	specs map[string]Spec
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{specs: make(map[string]Spec)}
}

// Register adds spec to the registry. It returns an error if spec.Name is
// empty, if a tool with the same name is already registered, or if the
// irreversible-implies-no-compensator invariant (§3) is violated.
func (r *Registry) Register(spec Spec) error {
	if spec.Name == "" {
		return fmt.Errorf("toolspec: register: name is required")
	}
	if _, exists := r.specs[spec.Name]; exists {
		return fmt.Errorf("toolspec: register: %q already registered", spec.Name)
	}
	if spec.Irreversible && spec.Compensate != nil {
		return fmt.Errorf("toolspec: register %q: irreversible tool must not have a compensator", spec.Name)
	}
	r.specs[spec.Name] = spec
	return nil
}

// Lookup returns the Spec registered under name, and whether it was found.
func (r *Registry) Lookup(name string) (Spec, bool) {
	spec, ok := r.specs[name]
	return spec, ok
}

// ProjectCompensateArgs projects params down to the keys named by
// CompensateArgKeys, in preparation for pushing a compensation record onto
// the saga stack (§4.7). Missing keys are simply omitted, not errors: a
// tool's compensator is expected to tolerate partial arguments only for
// keys it actually needs.
func (s Spec) ProjectCompensateArgs(params map[string]any) map[string]any {
	out := make(map[string]any, len(s.CompensateArgKeys))
	for _, key := range s.CompensateArgKeys {
		if v, ok := params[key]; ok {
			out[key] = v
		}
	}
	return out
}
