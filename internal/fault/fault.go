// Package fault implements the deterministic fault taxonomy, fault
// configuration, and the Fault Injector described in §3 and §4.2: a pure
// function of (config, step index, task id, world state, attempt index)
// that decides whether a planned fault fires, and if so, with what kind,
// layer, scenario, and fault id.
package fault

import (
	"crypto/sha256"
	"encoding/binary"
	"math/rand"

	"github.com/LaoZhongjie/AWRR---Autonomous-Workflow-Recovery-Runtime/internal/worldstate"
)

// Kind enumerates the closed set of error kinds a tool call can fail with
// (§4.2, plus the generic RuntimeError from §7 used by the Tool Executor
// for unexpected exceptions).
type Kind string

const (
	Timeout         Kind = "Timeout"
	HTTP500         Kind = "HTTP_500"
	BadRequest      Kind = "BadRequest"
	AuthDenied      Kind = "AuthDenied"
	NotFound        Kind = "NotFound"
	Conflict        Kind = "Conflict"
	PolicyRejected  Kind = "PolicyRejected"
	StateCorruption Kind = "StateCorruption"
	RuntimeError    Kind = "RuntimeError"
)

// Layer is the coarse failure taxonomy driving the initial recovery
// guess: transient/persistent/semantic/cascade (§4.2, Glossary).
type Layer string

const (
	LayerTransient  Layer = "transient"
	LayerPersistent Layer = "persistent"
	LayerSemantic   Layer = "semantic"
	LayerCascade    Layer = "cascade"
)

// defaultLayer is the kind -> layer default table from §4.2.
var defaultLayer = map[Kind]Layer{
	Timeout:         LayerTransient,
	HTTP500:         LayerTransient,
	Conflict:        LayerCascade,
	StateCorruption: LayerCascade,
	AuthDenied:      LayerSemantic,
	PolicyRejected:  LayerSemantic,
	BadRequest:      LayerSemantic,
	NotFound:        LayerPersistent,
}

// DefaultLayer returns the default ground-truth layer for kind, per the
// §4.2 table. Kinds absent from the table (namely RuntimeError) default to
// LayerPersistent, matching the Diagnosis Classifier's heuristic fallback
// (§4.4) for unrecognized kinds.
func DefaultLayer(kind Kind) Layer {
	if l, ok := defaultLayer[kind]; ok {
		return l
	}
	return LayerPersistent
}

// CanonicalMessage returns the canonical error message for kind, per the
// table in §4.3. Unknown kinds return a generic message rather than the
// empty string, since every StepResult needs a human-readable message.
func CanonicalMessage(kind Kind) string {
	switch kind {
	case Timeout:
		return "Request timeout after 30s"
	case HTTP500:
		return "Internal server error"
	case BadRequest:
		return "Invalid request parameters"
	case AuthDenied:
		return "Authentication denied"
	case NotFound:
		return "Resource not found"
	case Conflict:
		return "Resource conflict detected"
	case PolicyRejected:
		return "Policy violation detected"
	case StateCorruption:
		return "State corruption detected"
	default:
		return "Unexpected runtime error"
	}
}

// Mode enumerates the four firing modes a Fault Config can use (§3).
type Mode string

const (
	// ModeOnce fires at most once per task, decided the first time the
	// step is reached.
	ModeOnce Mode = "once"
	// ModePerAttempt samples an independent Bernoulli trial every attempt.
	ModePerAttempt Mode = "per_attempt"
	// ModePersistent samples once; if sampled in, fires every attempt.
	ModePersistent Mode = "persistent"
	// ModeStatefulConflict samples once (or is forced on the first
	// attempt) and fires continuously until a rollback is observed in the
	// audit log, after which it resolves and never fires again.
	ModeStatefulConflict Mode = "stateful_conflict"
)

// Config is a single planned fault injection (§3 "Fault Config", §6 "Task
// file"'s fault_injections entries).
type Config struct {
	// StepIdx is the plan step this fault is attached to.
	StepIdx int `json:"step_idx"`
	// Kind is the error kind this fault injects when it fires.
	Kind Kind `json:"fault_type"`
	// Prob is the Bernoulli trial probability used by modes that sample
	// (all modes except force-first-attempt's implicit certainty).
	Prob float64 `json:"prob"`
	// Mode selects the firing semantics (§3).
	Mode Mode `json:"mode"`
	// Scenario is an optional semantic hint exposed to the Diagnosis
	// Classifier (e.g. "eventual_consistency").
	Scenario string `json:"scenario,omitempty"`
	// ForceFirstAttempt, when true, guarantees the fault is treated as
	// sampled-in on the first attempt without consuming a random draw.
	// Only honored by persistent and stateful_conflict; once mode always
	// draws.
	ForceFirstAttempt bool `json:"force_first_attempt,omitempty"`
	// LayerOverride, if non-empty, overrides DefaultLayer(Kind) as the
	// fault's ground-truth layer.
	LayerOverride Layer `json:"layer_override,omitempty"`
	// FaultID uniquely identifies this fault config within a task, used
	// for determinism seeding and once-mode bookkeeping.
	FaultID string `json:"fault_id"`
}

// Descriptor is what the Injector returns when a fault fires: the kind,
// its ground-truth layer, the scenario tag, and the fault id responsible
// (§4.2).
type Descriptor struct {
	Kind     Kind   `json:"kind"`
	Layer    Layer  `json:"layer"`
	Scenario string `json:"scenario,omitempty"`
	FaultID  string `json:"fault_id"`
}

// Injector is a pure function of (config, step idx, task id, world state,
// attempt idx) per §4.2. It is a plain struct rather than an interface
// because the decision procedure itself — not its pluggability — is the
// thing under test; a harness that wanted a different fault model would
// replace this package, not implement an interface.
type Injector struct {
	// Seed is the single process-wide constant consumed by every
	// deterministic decision in the engine (§6 ENVIRONMENT).
	Seed int64
}

// NewInjector constructs an Injector seeded with the given constant.
func NewInjector(seed int64) *Injector {
	return &Injector{Seed: seed}
}

// Decide evaluates whether cfg fires at the given step/attempt against ws,
// returning the fault Descriptor if so. Decide mutates ws.FaultState to
// track once/persistent/stateful_conflict bookkeeping; it is intentionally
// not side-effect-free on that axis, since §3 requires fault state to be
// part of the deterministic-replay aides carried by the world state
// itself, not kept separately by the injector.
func (inj *Injector) Decide(cfg Config, taskID string, ws *worldstate.WorldState, stepIdx, attemptIdx int) (Descriptor, bool) {
	if cfg.StepIdx != stepIdx {
		return Descriptor{}, false
	}

	layer := cfg.LayerOverride
	if layer == "" {
		layer = DefaultLayer(cfg.Kind)
	}
	descriptor := Descriptor{Kind: cfg.Kind, Layer: layer, Scenario: cfg.Scenario, FaultID: cfg.FaultID}

	state := ws.FaultState[cfg.FaultID]

	switch cfg.Mode {
	case ModePerAttempt:
		fires := inj.sample(cfg, taskID, stepIdx, attemptIdx, cfg.Prob)
		return descriptor, fires

	case ModeOnce:
		if state.Fired || state.SampledDecided {
			return Descriptor{}, false
		}
		fires := inj.sample(cfg, taskID, stepIdx, attemptIdx, cfg.Prob)
		state.Sampled = fires
		state.SampledDecided = true
		state.Fired = fires
		ws.FaultState[cfg.FaultID] = state
		return descriptor, fires

	case ModePersistent:
		if !state.SampledDecided {
			sampled := cfg.ForceFirstAttempt && attemptIdx == 0
			if !sampled {
				sampled = inj.sample(cfg, taskID, stepIdx, attemptIdx, cfg.Prob)
			}
			state.Sampled = sampled
			state.SampledDecided = true
			ws.FaultState[cfg.FaultID] = state
		}
		return descriptor, state.Sampled

	case ModeStatefulConflict:
		if state.Resolved {
			return Descriptor{}, false
		}
		if !state.SampledDecided {
			sampled := cfg.ForceFirstAttempt && attemptIdx == 0
			if !sampled {
				sampled = inj.sample(cfg, taskID, stepIdx, attemptIdx, cfg.Prob)
			}
			state.Sampled = sampled
			state.SampledDecided = true
			if sampled {
				state.ActivationRollbackCount = ws.RollbackCount()
			}
			ws.FaultState[cfg.FaultID] = state
		}
		if !state.Sampled {
			return Descriptor{}, false
		}
		if ws.RollbackCount() > state.ActivationRollbackCount {
			state.Resolved = true
			ws.FaultState[cfg.FaultID] = state
			return Descriptor{}, false
		}
		return descriptor, true

	default:
		return Descriptor{}, false
	}
}

// sample draws the seeded Bernoulli trial for (task, fault, step, attempt)
// per §4.2's determinism rule: every randomized decision derives from
// hash(SEED, task_id, fault_id, step_idx, attempt_idx).
func (inj *Injector) sample(cfg Config, taskID string, stepIdx, attemptIdx int, prob float64) bool {
	rng := rand.New(rand.NewSource(seedFor(inj.Seed, taskID, cfg.FaultID, stepIdx, attemptIdx)))
	return rng.Float64() < prob
}

// seedFor derives a deterministic int64 seed from the constant seed plus
// the task id, fault id, step index, and attempt index, per §4.2/§9.
func seedFor(seed int64, taskID, faultID string, stepIdx, attemptIdx int) int64 {
	h := sha256.New()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(seed))
	h.Write(buf[:])
	h.Write([]byte(taskID))
	h.Write([]byte{0})
	h.Write([]byte(faultID))
	h.Write([]byte{0})
	binary.LittleEndian.PutUint64(buf[:], uint64(stepIdx))
	h.Write(buf[:])
	binary.LittleEndian.PutUint64(buf[:], uint64(attemptIdx))
	h.Write(buf[:])
	sum := h.Sum(nil)
	return int64(binary.LittleEndian.Uint64(sum[:8]))
}

// LatencySeed derives a deterministic seed for sampling a kind-specific
// synthesized latency (§4.3), keeping latency sampling independent of the
// fault-firing decision's random stream while remaining fully
// reproducible under a fixed SEED.
func LatencySeed(seed int64, taskID string, stepIdx, attemptIdx int, tag string) int64 {
	return seedFor(seed, taskID, "latency:"+tag, stepIdx, attemptIdx)
}
