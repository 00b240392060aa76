package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LaoZhongjie/AWRR---Autonomous-Workflow-Recovery-Runtime/internal/recoverypolicy"
)

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load([]byte("task_file: tasks.jsonl\n"))
	require.NoError(t, err)

	assert.Equal(t, recoverypolicy.B0, cfg.Strategy)
	assert.Equal(t, DiagnosisHeuristic, cfg.DiagnosisBackend)
	assert.Equal(t, 0.8, cfg.MemoryThreshold)
	assert.Equal(t, 100000, cfg.Budget.MaxTokens)
	assert.Equal(t, 50, cfg.Budget.MaxToolCalls)
	assert.Equal(t, 60.0, cfg.Budget.MaxWallSecond)
}

func TestLoadRejectsMissingTaskFile(t *testing.T) {
	_, err := Load([]byte("strategy: B0\n"))
	assert.Error(t, err)
}

func TestLoadRejectsInvalidStrategy(t *testing.T) {
	_, err := Load([]byte("task_file: t.jsonl\nstrategy: B9\n"))
	assert.Error(t, err)
}

func TestLoadRejectsInvalidDiagnosisBackend(t *testing.T) {
	_, err := Load([]byte("task_file: t.jsonl\ndiagnosis_backend: made_up\n"))
	assert.Error(t, err)
}

func TestLoadRequiresMemoryFileForB4(t *testing.T) {
	_, err := Load([]byte("task_file: t.jsonl\nstrategy: B4\n"))
	assert.Error(t, err)

	cfg, err := Load([]byte("task_file: t.jsonl\nstrategy: B4\nmemory_file: mem.json\n"))
	require.NoError(t, err)
	assert.Equal(t, recoverypolicy.B4, cfg.Strategy)
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	_, err := Load([]byte("task_file: t.jsonl\nbogus_field: 1\n"))
	assert.Error(t, err)
}

func TestLoadPreservesExplicitValuesOverDefaults(t *testing.T) {
	cfg, err := Load([]byte("task_file: t.jsonl\nseed: 42\nbudget:\n  max_tokens: 5\n"))
	require.NoError(t, err)
	assert.Equal(t, int64(42), cfg.Seed)
	assert.Equal(t, 5, cfg.Budget.MaxTokens)
	assert.Equal(t, 50, cfg.Budget.MaxToolCalls, "unset budget fields still get defaults")
}
