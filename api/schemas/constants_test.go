package schemas_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/locus/api/schemas"
)

// TestConstants pins the wire values of constants that end up in persisted
// patterns and reports.
func TestConstants(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		name     string
		constant interface{}
		expected string
	}{
		{"ActionClick", schemas.ActionClick, "click"},
		{"ActionFill", schemas.ActionFill, "fill"},
		{"ActionSelect", schemas.ActionSelect, "select"},
		{"ActionCheck", schemas.ActionCheck, "check"},
		{"ActionNavigate", schemas.ActionNavigate, "navigate"},
		{"ActionVerify", schemas.ActionVerify, "verify"},
		{"ActionWait", schemas.ActionWait, "wait"},
		{"ActionUnknown", schemas.ActionUnknown, "unknown"},

		{"LocatorTestID", schemas.LocatorTestID, "testid"},
		{"LocatorVision", schemas.LocatorVisionCoordinates, "vision-coordinates"},

		{"MethodDirect", schemas.MethodDirect, "direct"},
		{"MethodMemoryCached", schemas.MethodMemoryCached, "memory-cached"},
		{"MethodVisionAI", schemas.MethodVisionAI, "vision-ai"},

		{"TierFast", schemas.TierFast, "fast"},
		{"TierPowerful", schemas.TierPowerful, "powerful"},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.expected, fmt.Sprint(tc.constant))
		})
	}
}

func TestParseActionType(t *testing.T) {
	t.Parallel()
	assert.Equal(t, schemas.ActionFill, schemas.ParseActionType("fill"))
	assert.Equal(t, schemas.ActionUnknown, schemas.ParseActionType("hover"))
	assert.Equal(t, schemas.ActionUnknown, schemas.ParseActionType(""))

	assert.False(t, schemas.ActionVerify.IsExecutable())
	assert.False(t, schemas.ActionWait.IsExecutable())
	assert.True(t, schemas.ActionClick.IsExecutable())
	assert.True(t, schemas.ActionSelect.TakesValue())
	assert.False(t, schemas.ActionCheck.TakesValue())
}

func TestNormalizeActionText(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "click the submit button", schemas.NormalizeActionText("  Click   the Submit\tbutton "))
	assert.Equal(t, "", schemas.NormalizeActionText("   "))
}

func TestResolutionError(t *testing.T) {
	t.Parallel()

	err := &schemas.ResolutionError{Failures: []schemas.TierFailure{
		schemas.NewTierFailure("direct", fmt.Errorf("waiting for #submit: %w", schemas.ErrElementNotVisible)),
		{Tier: "memory-cached", Code: schemas.ErrCodeMemoryMiss},
		schemas.NewTierFailure("vision-ai", schemas.ErrVisionLowConfidence),
	}}

	msg := err.Error()
	assert.Contains(t, msg, "direct: waiting for #submit: element not visible")
	assert.Contains(t, msg, "memory-cached: MEMORY_MISS")
	assert.Contains(t, msg, "vision-ai: vision confidence below threshold")

	assert.True(t, errors.Is(err, schemas.ErrElementNotVisible))
	assert.True(t, errors.Is(err, schemas.ErrVisionLowConfidence))
	assert.False(t, errors.Is(err, schemas.ErrOracleParse))

	var target *schemas.ResolutionError
	require.True(t, errors.As(fmt.Errorf("wrapped: %w", err), &target))
	assert.Len(t, target.Failures, 3)
	assert.Equal(t, schemas.ErrCodeElementNotVisible, target.Failures[0].Code)
}

func TestCodeFor(t *testing.T) {
	t.Parallel()
	assert.Equal(t, schemas.ErrorCode(""), schemas.CodeFor(nil))
	assert.Equal(t, schemas.ErrCodeOracleParse, schemas.CodeFor(fmt.Errorf("x: %w", schemas.ErrOracleParse)))
	assert.Equal(t, schemas.ErrCodeStaleHandle, schemas.CodeFor(schemas.ErrStaleHandle))
	assert.Equal(t, schemas.ErrCodeMemoryMiss, schemas.CodeFor(schemas.ErrMemoryMiss))
	assert.Equal(t, schemas.ErrCodeExecutionFailure, schemas.CodeFor(errors.New("boom")))
}

func TestDecisionHasTarget(t *testing.T) {
	t.Parallel()
	ref := "e1"
	empty := ""
	var nilDecision *schemas.ResolutionDecision
	assert.False(t, nilDecision.HasTarget())
	assert.False(t, (&schemas.ResolutionDecision{}).HasTarget())
	assert.False(t, (&schemas.ResolutionDecision{TargetRef: &empty}).HasTarget())
	assert.True(t, (&schemas.ResolutionDecision{TargetRef: &ref}).HasTarget())
}
