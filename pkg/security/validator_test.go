package security

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NikhilSetiya/textbook-assistant/pkg/errors"
	"github.com/NikhilSetiya/textbook-assistant/pkg/validation"
)

func TestValidator_CleanInput(t *testing.T) {
	v := NewValidator(0)

	result := v.Validate("What is a ROS 2 node and how does it publish topics?", nil)

	assert.True(t, result.IsValid)
	assert.Empty(t, result.Issues)
	assert.Equal(t, "What is a ROS 2 node and how does it publish topics?", result.SanitizedInput)
	assert.NoError(t, result.Err())
}

func TestValidator_DetectsXSS(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"script block", "<script>alert(1)</script>"},
		{"javascript url", "click javascript:alert(1)"},
		{"inline handler", `<img src=x onerror=alert(1)>`},
		{"iframe", "<iframe src='https://evil.example'>"},
		{"object", "<object data='x'>"},
		{"embed", "<embed src='x'>"},
		{"eval", "eval(document.cookie)"},
		{"css expression", "width: expression(alert(1))"},
	}

	v := NewValidator(0)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := v.Validate(tt.input, nil)

			assert.False(t, result.IsValid)
			assert.True(t, validation.HasKind(result.Issues, validation.KindXSSAttempt))
			assert.True(t, errors.IsType(result.Err(), errors.ErrorTypeSecurityValidation))
		})
	}
}

func TestValidator_DetectsInjection(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"union select", "1 UNION SELECT password FROM users"},
		{"drop table", "'; DROP TABLE students;"},
		{"tautology", "admin' OR '1'='1"},
		{"numeric tautology", "id = 5 or 1=1"},
		{"sql comment", "admin'--"},
		{"block comment", "name /* hidden */"},
		{"shell chaining", "topic; rm -rf /"},
		{"command substitution", "$(whoami)"},
		{"backticks", "run `id` now"},
	}

	v := NewValidator(0)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := v.Validate(tt.input, nil)

			assert.False(t, result.IsValid)
			assert.True(t, validation.HasKind(result.Issues, validation.KindInjectionAttempt))
		})
	}
}

func TestValidator_OrdinaryQuestionsAreNotInjection(t *testing.T) {
	v := NewValidator(0)

	for _, input := range []string{
		"How do I select a motor for a robot arm?",
		"Can you update me on chapter 3?",
		"Explain how to create a URDF file",
		"What's the difference between a topic and a service?",
	} {
		result := v.Validate(input, nil)
		assert.True(t, result.IsValid, input)
	}
}

func TestValidator_PotentialDoS(t *testing.T) {
	v := NewValidator(0)

	result := v.Validate(strings.Repeat("a", DefaultMaxInputLength+1), nil)
	require.Len(t, result.Issues, 1)
	assert.Equal(t, validation.KindPotentialDoS, result.Issues[0].Kind)
	assert.Equal(t, validation.SeverityMedium, result.Issues[0].Severity)
	assert.False(t, result.IsValid)
	assert.NoError(t, result.Err(), "medium severity must not block")

	result = v.Validate(strings.Repeat("é", DefaultMaxInputLength), nil)
	assert.True(t, result.IsValid, "length is counted in characters, not bytes")
}

func TestValidator_SensitiveContextKeys(t *testing.T) {
	v := NewValidator(0)

	result := v.Validate("hello", map[string]string{
		"chapter":      "3",
		"userPassword": "hunter2",
		"API_KEY":      "abc",
		"authHeader":   "Bearer x",
	})

	require.Len(t, result.Issues, 3)
	assert.Equal(t, []string{"API_KEY"}, result.Issues[0].Details)
	assert.Equal(t, []string{"authHeader"}, result.Issues[1].Details)
	assert.Equal(t, []string{"userPassword"}, result.Issues[2].Details)
	for _, issue := range result.Issues {
		assert.Equal(t, validation.KindSensitiveDataExposure, issue.Kind)
		assert.Equal(t, validation.SeverityHigh, issue.Severity)
	}
	assert.Equal(t, "hello", result.SanitizedInput)
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"empty", "", ""},
		{"plain", "plain text", "plain text"},
		{"script removed", "<script>alert(1)</script>hello", "hello"},
		{"escapes markup", `<b>"bold" & 'quoted'</b>`, "&lt;b&gt;&quot;bold&quot; &amp; &#x27;quoted&#x27;&lt;/b&gt;"},
		{"keeps existing entities", "a &amp; b &lt; c", "a &amp; b &lt; c"},
		{"handler removed", `<img src=x onerror=alert(1)>`, "&lt;img src=x alert(1)&gt;"},
		{"nested script", "<scr<script></script>ipt>alert(1)</script>", "alert(1)"},
		{"comment markers", "admin'-- /* x */", "admin&#x27;  x "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Sanitize(tt.input))
		})
	}
}

func TestSanitize_StripsInjection(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"select from", "1 UNION SELECT password FROM users", "1 UNION "},
		{"drop table", "'; DROP TABLE users", "&#x27;;  users"},
		{"tautology", "admin' OR '1'='1", "admin"},
		{"numeric tautology", "id = 5 or 1=1", "id = 5 "},
		{"shell chaining", "x; rm -rf /", "x -rf /"},
		{"and chaining", "a && curl evil.example", "a  evil.example"},
		{"command substitution", "$(whoami)", "whoami)"},
		{"backticks", "run `id` now", "run  now"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.True(t, ContainsInjection(tt.input))

			once := Sanitize(tt.input)
			assert.Equal(t, tt.expected, once)
			assert.False(t, ContainsInjection(once))
			assert.Equal(t, once, Sanitize(once))
		})
	}
}

func TestSanitize_EntitySemicolonIsNotASeparator(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"<rm", "&lt;rm"},
		{"&cat", "&amp;cat"},
		{`"sh`, "&quot;sh"},
		{"'bash", "&#x27;bash"},
		{"&lt;rm", "&lt;rm"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			once := Sanitize(tt.input)
			assert.Equal(t, tt.expected, once)
			assert.Equal(t, once, Sanitize(once))
			assert.False(t, ContainsInjection(once))
		})
	}

	assert.True(t, ContainsInjection("&LT;rm"), "only escaper entities are exempt")
	assert.True(t, ContainsInjection("&amp&&rm"))
}

func TestSanitize_Idempotent(t *testing.T) {
	inputs := []string{
		"<script>alert(1)</script>hello",
		`<a href="javascript:alert('x')" onclick="go()">link</a>`,
		"Tom & Jerry < 3 > 2 \"quoted\" 'single'",
		"&amp &lt; &#x27 &quot;",
		"---- /*/ $($( ``",
		"<iframe src=x></iframe><embed><object>",
		"on<=x eval (1) expression (2)",
		"über <scr<script>ipt> ünïcode",
		"<rm &sh 'cat \"nc >sudo",
		"&amp;&&rm ;;rm |<curl",
		"SELECT <b> FROM t; DROP TABLE x -- '1'='1",
		"select a from b union select c from d",
	}

	for _, input := range inputs {
		once := Sanitize(input)
		assert.Equal(t, once, Sanitize(once), input)
		assert.NotContains(t, strings.ToLower(once), "<script")
	}
}

func TestValidationResult_ErrNil(t *testing.T) {
	var result *ValidationResult
	assert.NoError(t, result.Err())
}
