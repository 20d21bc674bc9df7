package workflow

import (
	"errors"
	"fmt"
	"testing"

	"github.com/dukex/orderflow/pkg/persistence"
	"github.com/stretchr/testify/assert"
)

func TestErrorType(t *testing.T) {
	assert.Empty(t, errorType(nil))
	assert.Equal(t, "error", errorType(errors.New("boom")))
	assert.Equal(t, "error", errorType(&StepError{Step: "charge", Err: fmt.Errorf("declined: %w", errors.New("card"))}))
	assert.Equal(t, "PanicError", errorType(&StepError{Step: "charge", Err: &PanicError{Value: "boom"}}))
	assert.Equal(t, "ExecutionError", errorType(&StepError{
		Step: "charge",
		Err:  persistence.NewExecutionError("Update", "exec-1", persistence.ErrVersionConflict),
	}))
	assert.Equal(t, "TransitionError", errorType(&TransitionError{}))
}

func TestSplitCompensationError(t *testing.T) {
	primary := &StepError{Step: "confirm", Index: 2, Err: errors.New("confirm failed")}
	compensation := &CompensationError{Failures: []*StepError{
		{Step: "charge", Index: 1, Err: errors.New("refund failed")},
	}}

	gotPrimary, gotCompensation := splitCompensationError(errors.Join(primary, compensation))
	assert.Equal(t, primary, gotPrimary)
	assert.Equal(t, compensation, gotCompensation)

	gotPrimary, gotCompensation = splitCompensationError(primary)
	assert.Equal(t, primary, gotPrimary)
	assert.Nil(t, gotCompensation)

	assert.Equal(t, "compensation failed: step \"charge\" (#1) failed: refund failed", compensation.Error())
	assert.ErrorIs(t, errors.Join(primary, compensation), compensation.Failures[0])
}
