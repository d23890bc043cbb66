package quality

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NikhilSetiya/textbook-assistant/pkg/errors"
	"github.com/NikhilSetiya/textbook-assistant/pkg/types"
	"github.com/NikhilSetiya/textbook-assistant/pkg/validation"
)

var rosSource = []types.Source{{Title: "Chapter 2: ROS 2 Basics", URL: "/docs/ros2-basics"}}

func TestValidateResponse_LowConfidence(t *testing.T) {
	v := NewValidator(DefaultRules())

	result := v.ValidateResponse(Response{Content: "ok", Sources: rosSource, Confidence: 0.5}, "q", nil)

	require.True(t, validation.HasKind(result.Issues, validation.KindLowConfidence))
	assert.False(t, result.IsValid)
	assert.Equal(t, "Response confidence (50.0%) is below threshold (70.0%)", result.Issues[0].Message)
	assert.Equal(t, []string{"Consider requesting more context or acknowledging uncertainty"}, result.Suggestions)
	// (100 - 10) * 0.5
	assert.Equal(t, 45, result.AccuracyScore)
}

func TestValidateResponse_MissingCitations(t *testing.T) {
	v := NewValidator(DefaultRules())

	result := v.ValidateResponse(Response{Content: "ok", Confidence: 0.9}, "q", nil)

	assert.True(t, validation.HasKind(result.Issues, validation.KindMissingCitations))
	assert.True(t, result.IsValid, "missing citations alone does not invalidate")
	assert.Equal(t, 81, result.AccuracyScore)
	assert.NoError(t, result.Err())

	rules := DefaultRules()
	rules.CitationRequired = false
	v.UpdateRules(rules)
	result = v.ValidateResponse(Response{Content: "ok", Confidence: 0.9}, "q", nil)
	assert.Empty(t, result.Issues)
	assert.Equal(t, 90, result.AccuracyScore)
}

func TestValidateResponse_Hallucination(t *testing.T) {
	v := NewValidator(DefaultRules())
	context := []string{"ROS 2 uses DDS for communication between nodes.", "Nodes publish messages on topics."}

	result := v.ValidateResponse(Response{
		Content:    "Nodes publish messages on topics. ROS 2 runs only on windows!",
		Sources:    rosSource,
		Confidence: 1,
	}, "q", context)

	require.True(t, validation.HasKind(result.Issues, validation.KindPotentialHallucination))
	assert.False(t, result.IsValid)
	for _, issue := range result.Issues {
		if issue.Kind == validation.KindPotentialHallucination {
			assert.Equal(t, []string{"ros 2 runs only on windows"}, issue.Details)
			assert.Equal(t, validation.SeverityWarning, issue.Severity)
		}
	}
	assert.Contains(t, result.Suggestions, "Verify all claims against provided context")
}

func TestValidateResponse_HallucinationSkippedWithoutContext(t *testing.T) {
	rules := DefaultRules()
	rules.FactCheckEnabled = false
	v := NewValidator(rules)

	result := v.ValidateResponse(Response{
		Content:    "This sentence is certainly longer than ten characters.",
		Sources:    rosSource,
		Confidence: 1,
	}, "q", nil)

	assert.Empty(t, result.Issues)
	assert.True(t, result.IsValid)
	assert.Equal(t, 100, result.AccuracyScore)
}

func TestValidateResponse_Contradiction(t *testing.T) {
	rules := DefaultRules()
	rules.FactCheckEnabled = false
	v := NewValidator(rules)

	result := v.ValidateResponse(Response{
		Content:    "yes, it works. no, it does not.",
		Sources:    rosSource,
		Confidence: 1,
	}, "q", nil)

	require.Len(t, result.Issues, 1)
	assert.Equal(t, validation.KindContradiction, result.Issues[0].Kind)
	assert.Equal(t, validation.SeverityError, result.Issues[0].Severity)
	assert.Equal(t, []string{"Mixed yes/no responses"}, result.Issues[0].Details)
	assert.False(t, result.IsValid)
	assert.Equal(t, 75, result.AccuracyScore)

	err := result.Err()
	assert.True(t, errors.IsType(err, errors.ErrorTypeQualityValidation))
}

func TestValidateResponse_FactualInconsistency(t *testing.T) {
	rules := DefaultRules()
	rules.HallucinationDetection = false
	v := NewValidator(rules)

	result := v.ValidateResponse(Response{
		Content:    "Gazebo simulates robots and Isaac renders them.",
		Sources:    rosSource,
		Confidence: 1,
	}, "q", []string{"Gazebo is a simulator used with ROS."})

	require.Len(t, result.Issues, 1)
	assert.Equal(t, validation.KindFactualInconsistency, result.Issues[0].Kind)
	assert.Equal(t, []string{`Entity "Isaac" not found in context`}, result.Issues[0].Details)
	assert.Equal(t, []string{"Ensure all information aligns with textbook content"}, result.Suggestions)
}

func TestValidateResponse_SuggestionOrder(t *testing.T) {
	v := NewValidator(DefaultRules())

	result := v.ValidateResponse(Response{
		Content:    "Yes and no. Step 1 then step 1 again, says Nvidia.",
		Confidence: 0.2,
	}, "q", []string{"unrelated context"})

	assert.Equal(t, []string{
		"Consider requesting more context or acknowledging uncertainty",
		"Include specific citations to textbook content",
		"Verify all claims against provided context",
		"Review response for internal consistency",
		"Ensure all information aligns with textbook content",
	}, result.Suggestions)
	// 100 - 3*10 - 2*25 = 20, scaled by 0.2
	assert.Equal(t, 4, result.AccuracyScore)
}

type stubMatcher struct{ claims []string }

func (s stubMatcher) UnsupportedClaims(string, []string) []string { return s.claims }

func TestValidateResponse_PluggableMatcher(t *testing.T) {
	rules := DefaultRules()
	rules.FactCheckEnabled = false
	v := NewValidator(rules, WithClaimMatcher(stubMatcher{claims: []string{"made up"}}))

	result := v.ValidateResponse(Response{Content: "anything", Sources: rosSource, Confidence: 1}, "q", []string{"ctx"})

	require.Len(t, result.Issues, 1)
	assert.Equal(t, []string{"made up"}, result.Issues[0].Details)
}

func TestAccuracyScore(t *testing.T) {
	tests := []struct {
		name       string
		severities []validation.Severity
		confidence float64
		expected   int
	}{
		{"no issues", nil, 1, 100},
		{"rounds", []validation.Severity{validation.SeverityInfo}, 0.55, 54},
		{"other severity", []validation.Severity{validation.SeverityHigh}, 1, 95},
		{"clamped at zero", []validation.Severity{"error", "error", "error", "error", "error"}, 1, 0},
		{"clamped at hundred", nil, 1.5, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var issues []validation.Issue
			for _, s := range tt.severities {
				issues = append(issues, validation.Issue{Severity: s})
			}
			assert.Equal(t, tt.expected, AccuracyScore(issues, tt.confidence))
		})
	}
}

func TestMeasureResponseQuality(t *testing.T) {
	v := NewValidator(DefaultRules())

	report := v.MeasureResponseQuality(Response{
		Content:    "yes or no",
		Confidence: 0.5,
	}, "q", nil)

	assert.Equal(t, report.Validation.AccuracyScore, report.Metrics.Accuracy)
	assert.Equal(t, 0.5, report.Metrics.Confidence)
	assert.Zero(t, report.Metrics.CitationCount)
	assert.Equal(t, 9, report.Metrics.ResponseLength)
	assert.Equal(t, 3, report.Metrics.IssueCount)
	assert.Equal(t, 1, report.Metrics.ErrorCount)
	assert.Equal(t, 2, report.Metrics.WarningCount)
}

func TestResult_ErrNil(t *testing.T) {
	var result *Result
	assert.NoError(t, result.Err())
	assert.NoError(t, (&Result{IsValid: true}).Err())
}
