// Package validation holds the issue types shared by the input security
// validator and the response quality validator.
package validation

// Kind identifies what a validator found. The set is closed.
type Kind string

const (
	KindXSSAttempt             Kind = "xss_attempt"
	KindInjectionAttempt       Kind = "injection_attempt"
	KindPotentialDoS           Kind = "potential_dos"
	KindSensitiveDataExposure  Kind = "sensitive_data_exposure"
	KindLowConfidence          Kind = "low_confidence"
	KindMissingCitations       Kind = "missing_citations"
	KindPotentialHallucination Kind = "potential_hallucination"
	KindContradiction          Kind = "contradiction"
	KindFactualInconsistency   Kind = "factual_inconsistency"
)

// Kinds lists every known kind in reporting order.
var Kinds = []Kind{
	KindXSSAttempt,
	KindInjectionAttempt,
	KindPotentialDoS,
	KindSensitiveDataExposure,
	KindLowConfidence,
	KindMissingCitations,
	KindPotentialHallucination,
	KindContradiction,
	KindFactualInconsistency,
}

// Valid reports whether k belongs to the closed set.
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Severity of an issue. Security findings use medium/high, quality findings
// use info/warning/error.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
	SeverityMedium  Severity = "medium"
	SeverityHigh    Severity = "high"
)

// Issue is a single finding. Details is only populated by checks that have
// something to list (unsupported claims, unmatched entities).
type Issue struct {
	Kind     Kind     `json:"type"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
	Details  []string `json:"details,omitempty"`
}

// HasKind reports whether issues contains an issue of kind k.
func HasKind(issues []Issue, k Kind) bool {
	for _, issue := range issues {
		if issue.Kind == k {
			return true
		}
	}
	return false
}

// HasSeverity reports whether issues contains an issue of severity s.
func HasSeverity(issues []Issue, s Severity) bool {
	for _, issue := range issues {
		if issue.Severity == s {
			return true
		}
	}
	return false
}

// KindNames returns the kinds of issues as strings, in order.
func KindNames(issues []Issue) []string {
	names := make([]string, 0, len(issues))
	for _, issue := range issues {
		names = append(names, string(issue.Kind))
	}
	return names
}
