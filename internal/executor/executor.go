// Package executor implements the Tool Executor (§4.3): a uniform
// envelope around every tool forward call that either synthesizes an
// injected-fault error result or invokes the real forward operation,
// measuring latency and classifying the outcome either way.
package executor

import (
	"context"
	"math/rand"
	"time"

	"github.com/LaoZhongjie/AWRR---Autonomous-Workflow-Recovery-Runtime/internal/fault"
	"github.com/LaoZhongjie/AWRR---Autonomous-Workflow-Recovery-Runtime/internal/toolspec"
	"github.com/LaoZhongjie/AWRR---Autonomous-Workflow-Recovery-Runtime/internal/worldstate"
)

// StepContext carries the identifying information for a single step
// invocation, passed to the Diagnosis Classifier and used to build Fault
// Signatures (§3).
type StepContext struct {
	TaskID    string
	StepIdx   int
	StepName  string
	ToolName  string
	Params    map[string]any
	StateHash string
}

// StepResult is the outcome of one tool call attempt (§3): ok or error,
// with the error axis (kind/message/trace) carried as data rather than a
// Go error, per §7.
type StepResult struct {
	Status        Status
	Output        map[string]any
	ErrorKind     fault.Kind
	ErrorMessage  string
	ErrorTrace    string
	LatencyMS     int64
	InjectedFault *fault.Descriptor
}

// Status is the closed {ok, error} status set for a StepResult.
type Status string

const (
	StatusOK    Status = "ok"
	StatusError Status = "error"
)

// latencyRange gives the kind-specific synthesized-latency range (in
// milliseconds) the Tool Executor draws from when a fault fires (§4.3).
// The spec leaves exact ranges implementation-defined ("a kind-specific
// range"); Timeout is the slowest (250-400ms) and HTTP_500 next
// (80-160ms), the cascade kinds and NotFound are short (15-60ms), and the
// semantic kinds and RuntimeError are the shortest (10-30ms).
var latencyRange = map[fault.Kind][2]int64{
	fault.Timeout:         {250, 400},
	fault.HTTP500:         {80, 160},
	fault.BadRequest:      {10, 30},
	fault.AuthDenied:      {10, 30},
	fault.NotFound:        {15, 40},
	fault.Conflict:        {20, 60},
	fault.PolicyRejected:  {10, 30},
	fault.StateCorruption: {20, 60},
	fault.RuntimeError:    {10, 30},
}

const baseLatencyMinMS, baseLatencyMaxMS = 5, 20

// Clock abstracts the wall-clock/sleep primitives the executor uses to
// model latency, per §9's design note that sleeps are modeling artifacts
// an implementation may replace with a virtual clock without changing
// semantics. The zero value is unusable; use RealClock or a test double.
type Clock interface {
	Sleep(d time.Duration)
}

// RealClock sleeps for real, via time.Sleep.
type RealClock struct{}

// Sleep blocks for d using time.Sleep.
func (RealClock) Sleep(d time.Duration) { time.Sleep(d) }

// Executor envelopes every forward tool call (§4.3).
type Executor struct {
	Seed  int64
	Clock Clock
}

// New constructs an Executor seeded with seed, sleeping for real.
func New(seed int64) *Executor {
	return &Executor{Seed: seed, Clock: RealClock{}}
}

// Execute runs one attempt of stepCtx's tool call. If injected is
// non-nil, it synthesizes the canonical error result for injected.Kind
// without ever invoking spec.Forward. Otherwise it invokes spec.Forward;
// any error it returns is classified as fault.RuntimeError (§7: "the
// second axis is fatal at... unexpected exceptions" — here, tool-level
// Go errors from Forward are the "unexpected exception" case, converted
// to a generic runtime error rather than propagated as a Go error).
func (e *Executor) Execute(ctx context.Context, ws *worldstate.WorldState, spec toolspec.Spec, stepCtx StepContext, attemptIdx int, injected *fault.Descriptor) StepResult {
	if injected != nil {
		lo, hi := latencyRange[injected.Kind][0], latencyRange[injected.Kind][1]
		latency := e.seededDuration(stepCtx, attemptIdx, "fault", lo, hi)
		e.Clock.Sleep(time.Duration(latency) * time.Millisecond)
		return StepResult{
			Status:        StatusError,
			ErrorKind:     injected.Kind,
			ErrorMessage:  fault.CanonicalMessage(injected.Kind),
			ErrorTrace:    "injected fault: " + string(injected.Kind),
			LatencyMS:     latency,
			InjectedFault: injected,
		}
	}

	latency := e.seededDuration(stepCtx, attemptIdx, "base", baseLatencyMinMS, baseLatencyMaxMS)
	e.Clock.Sleep(time.Duration(latency) * time.Millisecond)

	out, err := spec.Forward(ctx, ws, stepCtx.Params)
	if err != nil {
		return StepResult{
			Status:       StatusError,
			ErrorKind:    fault.RuntimeError,
			ErrorMessage: err.Error(),
			ErrorTrace:   err.Error(),
			LatencyMS:    latency,
		}
	}
	return StepResult{Status: StatusOK, Output: out, LatencyMS: latency}
}

// seededDuration draws a deterministic latency in [lo, hi] milliseconds,
// seeded from the same (SEED, task, step, attempt) material as the fault
// injector, tagged so the latency draw never shares a random stream with
// the fault-firing decision (§9).
func (e *Executor) seededDuration(stepCtx StepContext, attemptIdx int, tag string, lo, hi int64) int64 {
	if hi <= lo {
		return lo
	}
	seed := fault.LatencySeed(e.Seed, stepCtx.TaskID, stepCtx.StepIdx, attemptIdx, tag)
	rng := rand.New(rand.NewSource(seed))
	return lo + rng.Int63n(hi-lo+1)
}
