package recoveryaction

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLabelRendersSourcePrefixExceptRule(t *testing.T) {
	assert.Equal(t, "retry", Label(Retry, SourceRule))
	assert.Equal(t, "retry", Label(Retry, ""))
	assert.Equal(t, "diagnosis:retry", Label(Retry, SourceDiagnosis))
	assert.Equal(t, "memory:rollback", Label(Rollback, SourceMemory))
}

func TestIsRetryOrRollback(t *testing.T) {
	assert.True(t, IsRetryOrRollback(Retry))
	assert.True(t, IsRetryOrRollback(Rollback))
	assert.True(t, IsRetryOrRollback(RollbackThenRetry))
	assert.False(t, IsRetryOrRollback(Escalate))
	assert.False(t, IsRetryOrRollback(Compensate))
	assert.False(t, IsRetryOrRollback(Fail))
}
