package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKind_Valid(t *testing.T) {
	for _, k := range Kinds {
		assert.True(t, k.Valid(), string(k))
	}
	assert.False(t, Kind("spam").Valid())
}

func TestIssueHelpers(t *testing.T) {
	issues := []Issue{
		{Kind: KindLowConfidence, Severity: SeverityWarning},
		{Kind: KindContradiction, Severity: SeverityError},
	}

	assert.True(t, HasKind(issues, KindContradiction))
	assert.False(t, HasKind(issues, KindXSSAttempt))
	assert.True(t, HasSeverity(issues, SeverityError))
	assert.False(t, HasSeverity(issues, SeverityHigh))
	assert.Equal(t, []string{"low_confidence", "contradiction"}, KindNames(issues))
	assert.Empty(t, KindNames(nil))
}
