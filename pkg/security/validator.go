package security

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/NikhilSetiya/textbook-assistant/pkg/errors"
	"github.com/NikhilSetiya/textbook-assistant/pkg/validation"
)

// DefaultMaxInputLength is the rune count above which input is flagged as a potential DoS
const DefaultMaxInputLength = 10000

var (
	xssPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?is)<script\b.*?</script\s*>`),
		regexp.MustCompile(`(?i)</?script\b[^>]*>?`),
		regexp.MustCompile(`(?i)javascript\s*:`),
		regexp.MustCompile(`(?i)\bon\w+\s*=`),
		regexp.MustCompile(`(?i)<\s*/?\s*(iframe|object|embed)\b[^>]*>?`),
		regexp.MustCompile(`(?i)\beval\s*\(`),
		regexp.MustCompile(`(?i)\bexpression\s*\(`),
	}

	injectionPatterns = []*regexp.Regexp{
		// SQL statements
		regexp.MustCompile(`(?i)\bselect\s+(\*|[\w\s,]+?)\s+from\s+\w+`),
		regexp.MustCompile(`(?i)\bunion\s+(all\s+)?select\b`),
		regexp.MustCompile(`(?i)\binsert\s+into\s+\w+`),
		regexp.MustCompile(`(?i)\bdelete\s+from\s+\w+`),
		regexp.MustCompile(`(?i)\bupdate\s+\w+\s+set\s+\w+\s*=`),
		regexp.MustCompile(`(?i)\b(drop|alter|truncate|create)\s+(table|database|schema)\b`),
		regexp.MustCompile(`(?i)\bexec(ute)?\s*\(`),
		// tautologies
		regexp.MustCompile(`(?i)'\s*or\s+'?\w+'?\s*=\s*'?\w+`),
		regexp.MustCompile(`(?i)\bor\s+(\d+)\s*=\s*(\d+)\b`),
		// comment markers
		regexp.MustCompile(`--`),
		regexp.MustCompile(`/\*|\*/`),
		// shell substitution
		regexp.MustCompile(`\$\(`),
		regexp.MustCompile("`[^`]*`"),
	}

	// Shell chaining. The optional leading group captures an escaped entity so
	// its closing ';' is not taken for a command separator.
	shellChainPattern = regexp.MustCompile(`(&(?:amp|lt|gt|quot|#x27))?(;|&&|\|\|?)\s*(?i:rm|cat|curl|wget|sh|bash|nc|chmod|sudo)\b`)

	sensitiveKeyParts = []string{"password", "token", "secret", "key", "auth", "credential"}

	// Entities produced by the escaper. An ampersand that already starts one
	// of them is left alone so sanitizing twice changes nothing.
	producedEntities = []string{"&amp;", "&lt;", "&gt;", "&quot;", "&#x27;"}
)

// ValidationResult is the outcome of validating one input
type ValidationResult struct {
	IsValid        bool               `json:"is_valid"`
	Issues         []validation.Issue `json:"issues"`
	SanitizedInput string             `json:"sanitized_input"`
}

// Err returns a SecurityValidationError when any high-severity issue was found
func (r *ValidationResult) Err() error {
	if r == nil || !validation.HasSeverity(r.Issues, validation.SeverityHigh) {
		return nil
	}

	var kinds []string
	for _, issue := range r.Issues {
		if issue.Severity == validation.SeverityHigh {
			kinds = append(kinds, string(issue.Kind))
		}
	}
	return errors.NewSecurityValidationError(kinds)
}

// Validator screens user input before it is forwarded upstream
type Validator struct {
	maxInputLength int
}

// NewValidator creates a validator; a non-positive limit uses DefaultMaxInputLength
func NewValidator(maxInputLength int) *Validator {
	if maxInputLength <= 0 {
		maxInputLength = DefaultMaxInputLength
	}
	return &Validator{maxInputLength: maxInputLength}
}

// Validate checks input and the accompanying context keys. The sanitized
// input is always returned, whether or not issues were found.
func (v *Validator) Validate(input string, context map[string]string) *ValidationResult {
	var issues []validation.Issue

	if input != "" {
		if ContainsXSS(input) {
			issues = append(issues, validation.Issue{
				Kind:     validation.KindXSSAttempt,
				Message:  "Input contains potential XSS attempt",
				Severity: validation.SeverityHigh,
			})
		}

		if ContainsInjection(input) {
			issues = append(issues, validation.Issue{
				Kind:     validation.KindInjectionAttempt,
				Message:  "Input contains potential injection attempt",
				Severity: validation.SeverityHigh,
			})
		}

		if utf8.RuneCountInString(input) > v.maxInputLength {
			issues = append(issues, validation.Issue{
				Kind:     validation.KindPotentialDoS,
				Message:  "Input length exceeds reasonable limit",
				Severity: validation.SeverityMedium,
			})
		}
	}

	keys := make([]string, 0, len(context))
	for key := range context {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if isSensitiveKey(key) {
			issues = append(issues, validation.Issue{
				Kind:     validation.KindSensitiveDataExposure,
				Message:  fmt.Sprintf("Potential sensitive data in context key: %s", key),
				Severity: validation.SeverityHigh,
				Details:  []string{key},
			})
		}
	}

	return &ValidationResult{
		IsValid:        len(issues) == 0,
		Issues:         issues,
		SanitizedInput: Sanitize(input),
	}
}

// ContainsXSS reports whether input matches any script injection pattern
func ContainsXSS(input string) bool {
	return matchesAny(xssPatterns, input)
}

// ContainsInjection reports whether input matches any SQL or shell injection pattern
func ContainsInjection(input string) bool {
	if matchesAny(injectionPatterns, input) {
		return true
	}
	for _, m := range shellChainPattern.FindAllString(input, -1) {
		if !closesEntity(m) {
			return true
		}
	}
	return false
}

// Sanitize removes script content and injection substrings, then HTML-escapes
// what is left. Sanitize(Sanitize(x)) == Sanitize(x).
func Sanitize(input string) string {
	if input == "" {
		return input
	}

	stripped := input
	for {
		next := stripOnce(stripped)
		if next == stripped {
			break
		}
		stripped = next
	}

	return escapeHTML(stripped)
}

func stripOnce(s string) string {
	for _, p := range xssPatterns {
		s = p.ReplaceAllString(s, "")
	}
	for _, p := range injectionPatterns {
		s = p.ReplaceAllString(s, "")
	}
	return shellChainPattern.ReplaceAllStringFunc(s, func(m string) string {
		if closesEntity(m) {
			return m
		}
		return ""
	})
}

// closesEntity reports whether a shell chain match starts with an entity
// whose ';' was taken as the separator
func closesEntity(match string) bool {
	return startsWithEntity(match)
}

func escapeHTML(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '&':
			if startsWithEntity(s[i:]) {
				b.WriteByte('&')
			} else {
				b.WriteString("&amp;")
			}
		case '<':
			b.WriteString("&lt;")
		case '>':
			b.WriteString("&gt;")
		case '"':
			b.WriteString("&quot;")
		case '\'':
			b.WriteString("&#x27;")
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func startsWithEntity(s string) bool {
	for _, entity := range producedEntities {
		if strings.HasPrefix(s, entity) {
			return true
		}
	}
	return false
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, part := range sensitiveKeyParts {
		if strings.Contains(lower, part) {
			return true
		}
	}
	return false
}

func matchesAny(patterns []*regexp.Regexp, input string) bool {
	for _, p := range patterns {
		if p.MatchString(input) {
			return true
		}
	}
	return false
}
