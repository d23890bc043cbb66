// Package quality scores a completed answer against the context it was
// built from. The checks are heuristics and the result is advisory.
package quality

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/NikhilSetiya/textbook-assistant/pkg/errors"
	"github.com/NikhilSetiya/textbook-assistant/pkg/types"
	"github.com/NikhilSetiya/textbook-assistant/pkg/validation"
)

// Rules toggles the individual checks
type Rules struct {
	ConfidenceCheck        bool    `json:"confidence_check"`
	ConfidenceThreshold    float64 `json:"confidence_threshold"`
	CitationRequired       bool    `json:"citation_required"`
	HallucinationDetection bool    `json:"hallucination_detection"`
	ContradictionCheck     bool    `json:"contradiction_check"`
	FactCheckEnabled       bool    `json:"fact_check_enabled"`
}

// DefaultRules enables every check with a 0.7 confidence threshold
func DefaultRules() Rules {
	return Rules{
		ConfidenceCheck:        true,
		ConfidenceThreshold:    0.7,
		CitationRequired:       true,
		HallucinationDetection: true,
		ContradictionCheck:     true,
		FactCheckEnabled:       true,
	}
}

// Response is the part of an answer the validator looks at
type Response struct {
	Content    string
	Sources    []types.Source
	Confidence float64
}

// Result is the outcome of validating one response
type Result struct {
	AccuracyScore int                `json:"accuracy_score"`
	Issues        []validation.Issue `json:"issues"`
	Suggestions   []string           `json:"suggestions"`
	IsValid       bool               `json:"is_valid"`
}

// Err returns a QualityValidationFailure when the response is not valid
func (r *Result) Err() error {
	if r == nil || r.IsValid {
		return nil
	}
	return errors.NewQualityValidationFailure(r.AccuracyScore, validation.KindNames(r.Issues))
}

// Metrics summarises a response for dashboards
type Metrics struct {
	Accuracy       int     `json:"accuracy"`
	Confidence     float64 `json:"confidence"`
	CitationCount  int     `json:"citation_count"`
	ResponseLength int     `json:"response_length"`
	IssueCount     int     `json:"issue_count"`
	ErrorCount     int     `json:"error_count"`
	WarningCount   int     `json:"warning_count"`
}

// Report pairs the metrics with the validation they were derived from
type Report struct {
	Metrics    Metrics `json:"metrics"`
	Validation *Result `json:"validation"`
}

var suggestions = map[validation.Kind]string{
	validation.KindLowConfidence:          "Consider requesting more context or acknowledging uncertainty",
	validation.KindMissingCitations:       "Include specific citations to textbook content",
	validation.KindPotentialHallucination: "Verify all claims against provided context",
	validation.KindContradiction:          "Review response for internal consistency",
	validation.KindFactualInconsistency:   "Ensure all information aligns with textbook content",
}

// Option customises a Validator
type Option func(*Validator)

// WithClaimMatcher replaces the hallucination heuristic
func WithClaimMatcher(m ClaimMatcher) Option {
	return func(v *Validator) { v.claims = m }
}

// WithEntityMatcher replaces the factual-consistency heuristic
func WithEntityMatcher(m EntityMatcher) Option {
	return func(v *Validator) { v.entities = m }
}

// WithContradictionDetector replaces the contradiction heuristic
func WithContradictionDetector(d ContradictionDetector) Option {
	return func(v *Validator) { v.contradictions = d }
}

// Validator runs the quality checks. It is safe for concurrent use.
type Validator struct {
	mu    sync.RWMutex
	rules Rules

	claims         ClaimMatcher
	entities       EntityMatcher
	contradictions ContradictionDetector
}

// NewValidator creates a validator using the substring heuristics unless overridden
func NewValidator(rules Rules, opts ...Option) *Validator {
	v := &Validator{
		rules:          rules,
		claims:         SubstringClaimMatcher{},
		entities:       SubstringEntityMatcher{},
		contradictions: HeuristicContradictionDetector{},
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Rules returns the active rules
func (v *Validator) Rules() Rules {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.rules
}

// UpdateRules replaces the active rules
func (v *Validator) UpdateRules(rules Rules) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.rules = rules
}

// ValidateResponse checks resp against the query and the context snippets it
// was answered from
func (v *Validator) ValidateResponse(resp Response, query string, context []string) *Result {
	rules := v.Rules()
	result := &Result{IsValid: true}

	if rules.ConfidenceCheck && resp.Confidence < rules.ConfidenceThreshold {
		result.Issues = append(result.Issues, validation.Issue{
			Kind: validation.KindLowConfidence,
			Message: fmt.Sprintf("Response confidence (%.1f%%) is below threshold (%.1f%%)",
				resp.Confidence*100, rules.ConfidenceThreshold*100),
			Severity: validation.SeverityWarning,
		})
		result.IsValid = false
	}

	if rules.CitationRequired && len(resp.Sources) == 0 {
		result.Issues = append(result.Issues, validation.Issue{
			Kind:     validation.KindMissingCitations,
			Message:  "Response lacks proper citations to textbook content",
			Severity: validation.SeverityWarning,
		})
	}

	if rules.HallucinationDetection && len(context) > 0 {
		if claims := v.claims.UnsupportedClaims(resp.Content, context); len(claims) > 0 {
			result.Issues = append(result.Issues, validation.Issue{
				Kind:     validation.KindPotentialHallucination,
				Message:  "Response may contain unsupported claims: " + strings.Join(claims, ", "),
				Severity: validation.SeverityWarning,
				Details:  claims,
			})
			result.IsValid = false
		}
	}

	if rules.ContradictionCheck {
		if found := v.contradictions.Contradictions(resp.Content); len(found) > 0 {
			result.Issues = append(result.Issues, validation.Issue{
				Kind:     validation.KindContradiction,
				Message:  "Response contains potential contradictions: " + strings.Join(found, ", "),
				Severity: validation.SeverityError,
				Details:  found,
			})
			result.IsValid = false
		}
	}

	if rules.FactCheckEnabled {
		if unmatched := v.entities.UnmatchedEntities(resp.Content, context); len(unmatched) > 0 {
			result.Issues = append(result.Issues, validation.Issue{
				Kind:     validation.KindFactualInconsistency,
				Message:  "Response contains factual inconsistencies with context: " + strings.Join(unmatched, ", "),
				Severity: validation.SeverityError,
				Details:  unmatched,
			})
			result.IsValid = false
		}
	}

	result.AccuracyScore = AccuracyScore(result.Issues, resp.Confidence)
	result.Suggestions = Suggestions(result.Issues)

	return result
}

// MeasureResponseQuality validates resp and derives summary metrics
func (v *Validator) MeasureResponseQuality(resp Response, query string, context []string) *Report {
	result := v.ValidateResponse(resp, query, context)

	metrics := Metrics{
		Accuracy:       result.AccuracyScore,
		Confidence:     resp.Confidence,
		CitationCount:  len(resp.Sources),
		ResponseLength: utf8.RuneCountInString(resp.Content),
		IssueCount:     len(result.Issues),
	}
	for _, issue := range result.Issues {
		switch issue.Severity {
		case validation.SeverityError:
			metrics.ErrorCount++
		case validation.SeverityWarning:
			metrics.WarningCount++
		}
	}

	return &Report{Metrics: metrics, Validation: result}
}

// AccuracyScore deducts a fixed penalty per issue severity from 100, scales
// by confidence and clamps to [0, 100].
func AccuracyScore(issues []validation.Issue, confidence float64) int {
	score := 100.0
	for _, issue := range issues {
		switch issue.Severity {
		case validation.SeverityError:
			score -= 25
		case validation.SeverityWarning:
			score -= 10
		case validation.SeverityInfo:
			score -= 2
		default:
			score -= 5
		}
	}

	score = math.Round(score * confidence)
	return int(math.Max(0, math.Min(100, score)))
}

// Suggestions returns one fixed hint per issue kind present, in kind order
func Suggestions(issues []validation.Issue) []string {
	var out []string
	for _, kind := range validation.Kinds {
		if hint, ok := suggestions[kind]; ok && validation.HasKind(issues, kind) {
			out = append(out, hint)
		}
	}
	return out
}
