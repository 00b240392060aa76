package memory

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LaoZhongjie/AWRR---Autonomous-Workflow-Recovery-Runtime/internal/fault"
	"github.com/LaoZhongjie/AWRR---Autonomous-Workflow-Recovery-Runtime/internal/recoveryaction"
)

func sig(tool string, kind fault.Kind, step string, keywords []string, statePrefix string) fault.Signature {
	return fault.Signature{ToolName: tool, Kind: kind, StepName: step, Keywords: keywords, StateHashPrefix: statePrefix}
}

func TestUpsertAccumulatesStatsAndExamples(t *testing.T) {
	b := New()
	s := sig("get_record", fault.Timeout, "fetch", []string{"timeout"}, "abc")

	require.NoError(t, b.Upsert(s, recoveryaction.Retry, true))
	require.NoError(t, b.Upsert(s, recoveryaction.Retry, false))

	result := b.Query(s)
	require.True(t, result.Found)
	assert.Equal(t, recoveryaction.Retry, result.Action)
}

func TestUpsertCapsExamplesAtFive(t *testing.T) {
	b := New()
	s := sig("get_record", fault.Timeout, "fetch", []string{"timeout"}, "abc")

	for i := 0; i < 8; i++ {
		require.NoError(t, b.Upsert(s, recoveryaction.Retry, true))
	}

	entry := b.entries[s.Key()]
	assert.Len(t, entry.Examples, maxExamples)
	assert.Equal(t, 8, entry.Stats.Total)
	assert.Equal(t, 8, entry.Stats.Success)
}

func TestQueryOnEmptyBankReturnsNotFound(t *testing.T) {
	b := New()
	result := b.Query(sig("get_record", fault.Timeout, "fetch", nil, ""))
	assert.False(t, result.Found)
}

func TestQueryPicksHighestSimilarity(t *testing.T) {
	b := New()
	exact := sig("get_record", fault.Timeout, "fetch", []string{"timeout"}, "abc")
	distant := sig("send_message", fault.AuthDenied, "notify", []string{"auth"}, "zzz")

	require.NoError(t, b.Upsert(exact, recoveryaction.Retry, true))
	require.NoError(t, b.Upsert(distant, recoveryaction.Escalate, true))

	result := b.Query(exact)
	assert.Equal(t, recoveryaction.Retry, result.Action)
	assert.Equal(t, exact.Key(), result.MatchedKey)
	assert.InDelta(t, 1.0, result.Confidence, 1e-9)
}

func TestQueryConfidenceBlendsSimilarityAndSuccessRate(t *testing.T) {
	b := New()
	s := sig("get_record", fault.Timeout, "fetch", []string{"timeout"}, "abc")
	require.NoError(t, b.Upsert(s, recoveryaction.Retry, false))
	require.NoError(t, b.Upsert(s, recoveryaction.Retry, false))

	result := b.Query(s)
	// exact match on all five parts -> similarity 1.1 (only the blended
	// confidence is clipped), success rate 0 -> confidence 0.7*1.1 = 0.77
	assert.InDelta(t, 0.77, result.Confidence, 1e-9)
}

func TestSimilarityWeights(t *testing.T) {
	a := sig("get_record", fault.Timeout, "fetch", []string{"alpha", "beta"}, "abc")
	b := sig("get_record", fault.Timeout, "fetch", []string{"alpha", "beta"}, "abc")
	assert.InDelta(t, 1.1, similarity(a, b), 1e-9)

	onlyTool := sig("send_message", fault.AuthDenied, "other", nil, "zzz")
	onlyTool.ToolName = a.ToolName
	assert.InDelta(t, 0.3, similarity(a, onlyTool), 1e-9)
}

func TestOpenMissingFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.json")
	b, err := Open(path)
	require.NoError(t, err)
	assert.False(t, b.Query(sig("x", fault.Timeout, "y", nil, "")).Found)
}

func TestOpenPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory.json")
	s := sig("get_record", fault.Timeout, "fetch", []string{"timeout"}, "abc")

	b1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, b1.Upsert(s, recoveryaction.Retry, true))

	b2, err := Open(path)
	require.NoError(t, err)
	result := b2.Query(s)
	require.True(t, result.Found)
	assert.Equal(t, recoveryaction.Retry, result.Action)
}

func TestNewBankWithoutPathNeverPersists(t *testing.T) {
	b := New()
	s := sig("get_record", fault.Timeout, "fetch", nil, "")
	require.NoError(t, b.Upsert(s, recoveryaction.Retry, true))
	assert.Empty(t, b.path)
}
