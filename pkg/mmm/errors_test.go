package mmm

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorFormatting(t *testing.T) {
	err := New(CodeValidation, "missing column")
	assert.Equal(t, "[validation] missing column", err.Error())

	wrapped := Wrap(errors.New("eof"), CodeInternal, "read table")
	assert.Equal(t, "[internal] read table: eof", wrapped.Error())
	assert.EqualError(t, errors.Unwrap(wrapped), "eof")
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, CodeInfeasible, CodeOf(New(CodeInfeasible, "empty interval")))
	assert.Equal(t, CodeUnknown, CodeOf(errors.New("plain")))
	assert.Equal(t, CodeUnknown, CodeOf(nil))

	// Code survives fmt wrapping.
	err := fmt.Errorf("solve scenario: %w", New(CodeNoConvergence, "no progress"))
	assert.Equal(t, CodeNoConvergence, CodeOf(err))
}

func TestSentinelMatching(t *testing.T) {
	err := Newf(CodeNotFound, "run %q not found", "r1")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, errors.Is(err, ErrAlreadyExists))
}

func TestPredicates(t *testing.T) {
	cases := []struct {
		pred func(error) bool
		code ErrorCode
	}{
		{IsValidation, CodeValidation},
		{IsInvalidParameter, CodeInvalidParameter},
		{IsInvalidState, CodeInvalidState},
		{IsDuplicateDecision, CodeDuplicateDecision},
		{IsInfeasible, CodeInfeasible},
		{IsNotFound, CodeNotFound},
	}
	for _, tc := range cases {
		assert.True(t, tc.pred(New(tc.code, "x")), string(tc.code))
		assert.False(t, tc.pred(New(CodeInternal, "x")), string(tc.code))
	}
	assert.False(t, IsNotFound(nil))
}

func TestWithDetails(t *testing.T) {
	err := New(CodeInfeasible, "min fractions exceed budget").
		WithDetails("scenario", "aggressive").
		WithDetails("sum", 1.2)

	require.NotNil(t, err.Details)
	assert.Equal(t, "aggressive", err.Details["scenario"])
	assert.Equal(t, 1.2, err.Details["sum"])
}
