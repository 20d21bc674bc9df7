package events

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBaseEvent(t *testing.T) {
	base := NewBaseEvent(ExecutionStartedEvent, "exec-1", "checkout", "corr-1")

	assert.NotEmpty(t, base.ID)
	assert.Equal(t, ExecutionStartedEvent, base.Type)
	assert.Equal(t, "exec-1", base.ExecutionID)
	assert.Equal(t, "checkout", base.WorkflowName)
	assert.Equal(t, "corr-1", base.CorrelationID)
	assert.False(t, base.Timestamp.IsZero())
	assert.NotNil(t, base.Metadata)

	other := NewBaseEvent(ExecutionStartedEvent, "exec-1", "checkout", "corr-1")
	assert.NotEqual(t, base.ID, other.ID)
}

func TestGetType(t *testing.T) {
	tests := []struct {
		name     string
		event    interface{ GetType() EventType }
		expected EventType
	}{
		{"started", ExecutionStarted{}, ExecutionStartedEvent},
		{"completed", ExecutionCompleted{}, ExecutionCompletedEvent},
		{"step completed", StepCompleted{}, StepCompletedEvent},
		{"step failed", StepFailed{}, StepFailedEvent},
		{
			"failed carries its own type",
			ExecutionFailed{BaseEvent: NewBaseEvent(ExecutionCompensatedEvent, "e", "w", "")},
			ExecutionCompensatedEvent,
		},
		{
			"transition carries its own type",
			ExecutionTransitioned{BaseEvent: NewBaseEvent(ExecutionPausedEvent, "e", "w", "")},
			ExecutionPausedEvent,
		},
		{
			"compensation carries its own type",
			StepCompensation{BaseEvent: NewBaseEvent(StepCompensationFailedEvent, "e", "w", "")},
			StepCompensationFailedEvent,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.event.GetType())
		})
	}
}

func TestExecutionFailed_JSONSerialization(t *testing.T) {
	original := ExecutionFailed{
		BaseEvent:         NewBaseEvent(ExecutionFailedEvent, "exec-1", "checkout", "corr-1"),
		Status:            "FAILED",
		Error:             "card declined",
		ErrorType:         "StepError",
		CompensatedSteps:  1,
		CompensationError: "release failed",
		DurationMs:        42,
	}

	data, err := json.Marshal(original)
	require.NoError(t, err)

	var decoded ExecutionFailed
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, original.ID, decoded.ID)
	assert.Equal(t, ExecutionFailedEvent, decoded.GetType())
	assert.Equal(t, "card declined", decoded.Error)
	assert.Equal(t, 1, decoded.CompensatedSteps)
	assert.Equal(t, "release failed", decoded.CompensationError)
	assert.Equal(t, "corr-1", decoded.CorrelationID)
}
