package fault

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LaoZhongjie/AWRR---Autonomous-Workflow-Recovery-Runtime/internal/worldstate"
)

func TestDecideIgnoresOtherSteps(t *testing.T) {
	inj := NewInjector(1)
	ws := worldstate.New()
	cfg := Config{StepIdx: 2, Kind: Timeout, Mode: ModePerAttempt, Prob: 1, FaultID: "f1"}

	_, fires := inj.Decide(cfg, "task-1", ws, 0, 0)

	assert.False(t, fires)
}

func TestDecideIsDeterministicAcrossRuns(t *testing.T) {
	cfg := Config{StepIdx: 0, Kind: HTTP500, Mode: ModePerAttempt, Prob: 0.5, FaultID: "f1"}

	run := func() bool {
		inj := NewInjector(42)
		ws := worldstate.New()
		_, fires := inj.Decide(cfg, "task-1", ws, 0, 0)
		return fires
	}

	first := run()
	for i := 0; i < 5; i++ {
		require.Equal(t, first, run())
	}
}

func TestDecideVariesByTaskFaultStepAttempt(t *testing.T) {
	cfg := Config{StepIdx: 0, Kind: HTTP500, Mode: ModePerAttempt, Prob: 0.5, FaultID: "f1"}
	inj := NewInjector(42)
	ws := worldstate.New()

	_, a := inj.Decide(cfg, "task-1", ws, 0, 0)
	_, b := inj.Decide(cfg, "task-2", ws, 0, 0)
	_, c := inj.Decide(cfg, "task-1", ws, 0, 1)

	// Not every pair of decisions is required to differ (Bernoulli draws
	// can coincide), so the per-axis variation is checked on the seed the
	// decision's random source is built from.
	_ = a
	_ = b
	_ = c

	base := seedFor(42, "task-1", "f1", 0, 0)
	assert.NotEqual(t, base, seedFor(42, "task-2", "f1", 0, 0), "task id must change the seed")
	assert.NotEqual(t, base, seedFor(42, "task-1", "f2", 0, 0), "fault id must change the seed")
	assert.NotEqual(t, base, seedFor(42, "task-1", "f1", 1, 0), "step index must change the seed")
	assert.NotEqual(t, base, seedFor(42, "task-1", "f1", 0, 1), "attempt index must change the seed")
}

func TestModeOnceFiresAtMostOnce(t *testing.T) {
	inj := NewInjector(7)
	ws := worldstate.New()
	cfg := Config{StepIdx: 0, Kind: Timeout, Mode: ModeOnce, Prob: 1, FaultID: "f1"}

	_, first := inj.Decide(cfg, "task-1", ws, 0, 0)
	require.True(t, first)

	_, second := inj.Decide(cfg, "task-1", ws, 0, 1)
	assert.False(t, second)
}

func TestModePersistentSamplesOnceThenRepeats(t *testing.T) {
	inj := NewInjector(7)
	ws := worldstate.New()
	cfg := Config{StepIdx: 0, Kind: Timeout, Mode: ModePersistent, ForceFirstAttempt: true, FaultID: "f1"}

	_, first := inj.Decide(cfg, "task-1", ws, 0, 0)
	require.True(t, first)

	_, second := inj.Decide(cfg, "task-1", ws, 0, 1)
	assert.True(t, second, "a persistent fault sampled in must keep firing")
}

func TestModeStatefulConflictResolvesOnRollback(t *testing.T) {
	inj := NewInjector(7)
	ws := worldstate.New()
	cfg := Config{StepIdx: 0, Kind: Conflict, Mode: ModeStatefulConflict, ForceFirstAttempt: true, FaultID: "f1"}

	_, fires := inj.Decide(cfg, "task-1", ws, 0, 0)
	require.True(t, fires)

	ws.AppendAudit(worldstate.AuditEntry{Action: "rollback"})

	_, stillFires := inj.Decide(cfg, "task-1", ws, 0, 1)
	assert.False(t, stillFires, "a rollback observed after activation must clear a stateful_conflict fault")

	_, afterResolved := inj.Decide(cfg, "task-1", ws, 0, 2)
	assert.False(t, afterResolved, "a resolved stateful_conflict fault must never fire again")
}

func TestDefaultLayerTable(t *testing.T) {
	assert.Equal(t, LayerTransient, DefaultLayer(Timeout))
	assert.Equal(t, LayerCascade, DefaultLayer(Conflict))
	assert.Equal(t, LayerSemantic, DefaultLayer(AuthDenied))
	assert.Equal(t, LayerPersistent, DefaultLayer(NotFound))
	assert.Equal(t, LayerPersistent, DefaultLayer(RuntimeError), "unknown kinds default to persistent")
}

func TestLatencySeedIndependentOfFaultStream(t *testing.T) {
	a := LatencySeed(1, "task-1", 0, 0, "get_record")
	b := seedFor(1, "task-1", "f1", 0, 0)

	assert.NotEqual(t, a, b)
}
