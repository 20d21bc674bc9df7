package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutionStatus(t *testing.T) {
	tests := []struct {
		status   ExecutionStatus
		valid    bool
		terminal bool
	}{
		{ExecutionStatusRunning, true, false},
		{ExecutionStatusPaused, true, false},
		{ExecutionStatusCompleted, true, true},
		{ExecutionStatusFailed, true, true},
		{ExecutionStatusCompensated, true, true},
		{ExecutionStatusCancelled, true, true},
		{ExecutionStatusTimeout, true, true},
		{ExecutionStatusCleanedUp, true, true},
		{"running", false, false},
		{"", false, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.valid, tt.status.IsValid())
			assert.Equal(t, tt.terminal, tt.status.IsTerminal())
		})
	}
}

func TestWorkflowExecution_ExpiryAndTimeout(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	expiresAt := now.Add(time.Minute)

	execution := &WorkflowExecution{TimeoutSeconds: 90}
	assert.False(t, execution.IsExpired(now))
	assert.Equal(t, 90*time.Second, execution.Timeout())

	execution.ExpiresAt = &expiresAt
	assert.False(t, execution.IsExpired(now))
	assert.True(t, execution.IsExpired(expiresAt))
	assert.True(t, execution.IsExpired(expiresAt.Add(time.Second)))
}

func TestWorkflowExecution_Clone(t *testing.T) {
	completedAt := time.Now().UTC()
	original := &WorkflowExecution{
		ID:          "exec-1",
		InputData:   json.RawMessage(`{"a":1}`),
		ContextData: json.RawMessage(`{"k":"v"}`),
		CompletedAt: &completedAt,
	}

	clone := original.Clone()
	require.Equal(t, original, clone)

	clone.InputData[5] = '2'
	*clone.CompletedAt = completedAt.Add(time.Hour)

	assert.JSONEq(t, `{"a":1}`, string(original.InputData))
	assert.Equal(t, completedAt, *original.CompletedAt)

	var missing *WorkflowExecution
	assert.Nil(t, missing.Clone())
}

func TestExecutionFilter_Matches(t *testing.T) {
	deletedAt := time.Now()
	execution := &WorkflowExecution{
		WorkflowName:      "checkout",
		Status:            ExecutionStatusCompleted,
		CorrelationID:     "corr-1",
		ParentExecutionID: "parent-1",
	}

	assert.True(t, ExecutionFilter{}.Matches(execution))
	assert.True(t, ExecutionFilter{WorkflowName: "checkout", Status: ExecutionStatusCompleted, CorrelationID: "corr-1", ParentExecutionID: "parent-1"}.Matches(execution))
	assert.False(t, ExecutionFilter{WorkflowName: "refund"}.Matches(execution))
	assert.False(t, ExecutionFilter{Status: ExecutionStatusFailed}.Matches(execution))
	assert.False(t, ExecutionFilter{CorrelationID: "corr-2"}.Matches(execution))
	assert.False(t, ExecutionFilter{ParentExecutionID: "parent-2"}.Matches(execution))

	execution.DeletedAt = &deletedAt
	assert.False(t, ExecutionFilter{}.Matches(execution))
	assert.True(t, ExecutionFilter{IncludeDeleted: true}.Matches(execution))
}

func TestWorkflowStepEvent_Finalize(t *testing.T) {
	startedAt := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	event := &WorkflowStepEvent{Status: StepStatusRunning, StartedAt: startedAt}

	assert.False(t, event.Status.IsFinal())

	event.Finalize(StepStatusCompleted, startedAt.Add(1500*time.Millisecond))

	assert.True(t, event.Status.IsFinal())
	assert.Equal(t, int64(1500), event.DurationMs)
	require.NotNil(t, event.CompletedAt)

	clone := event.Clone()
	*clone.CompletedAt = startedAt

	assert.NotEqual(t, startedAt, *event.CompletedAt)
}
