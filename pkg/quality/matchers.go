package quality

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ClaimMatcher finds response claims the context does not support
type ClaimMatcher interface {
	UnsupportedClaims(response string, context []string) []string
}

// EntityMatcher finds named entities of the response that the context never mentions
type EntityMatcher interface {
	UnmatchedEntities(response string, context []string) []string
}

// ContradictionDetector describes internal contradictions of a response
type ContradictionDetector interface {
	Contradictions(response string) []string
}

// minClaimLength is the rune count a sentence must exceed to count as a claim
const minClaimLength = 10

// yesNoWindow is the distance in bytes within which yes and no conflict
const yesNoWindow = 100

var (
	claimSplitter = regexp.MustCompile(`[.!?]+`)
	yesPattern    = regexp.MustCompile(`(?i)\byes\b`)
	noPattern     = regexp.MustCompile(`(?i)\bno\b`)
	numberPattern = regexp.MustCompile(`\d+(\.\d+)?`)

	entityStopwords = map[string]struct{}{}
)

func init() {
	for _, w := range []string{
		"The", "This", "That", "These", "Those", "And", "Or", "But", "In", "On", "At", "To",
		"For", "Of", "With", "By", "A", "An", "Is", "Are", "Was", "Were", "Be", "Have", "Has",
		"Will", "Would", "Could", "Should", "Can", "May", "Might", "Must", "Shall", "I", "You",
		"He", "She", "It", "We", "They", "Me", "Him", "Her", "Us", "Them", "My", "Your", "His",
		"Its", "Our", "Their", "Mine", "Yours", "Ours", "Theirs",
	} {
		entityStopwords[w] = struct{}{}
	}
}

// SubstringClaimMatcher treats every sentence longer than ten characters as a
// claim and accepts it only if it appears verbatim in the joined context.
type SubstringClaimMatcher struct{}

// UnsupportedClaims implements ClaimMatcher
func (SubstringClaimMatcher) UnsupportedClaims(response string, context []string) []string {
	contextText := strings.ToLower(strings.Join(context, " "))

	var unsupported []string
	for _, claim := range ExtractClaims(strings.ToLower(response)) {
		if !strings.Contains(contextText, claim) {
			unsupported = append(unsupported, claim)
		}
	}
	return unsupported
}

// ExtractClaims splits text into trimmed sentence fragments longer than ten characters
func ExtractClaims(text string) []string {
	var claims []string
	for _, sentence := range claimSplitter.Split(text, -1) {
		sentence = strings.TrimSpace(sentence)
		if utf8.RuneCountInString(sentence) > minClaimLength {
			claims = append(claims, sentence)
		}
	}
	return claims
}

// SubstringEntityMatcher accepts a response entity when it contains, or is
// contained in, some context entity, ignoring case.
type SubstringEntityMatcher struct{}

// UnmatchedEntities implements EntityMatcher
func (SubstringEntityMatcher) UnmatchedEntities(response string, context []string) []string {
	var contextEntities []string
	for _, item := range context {
		for _, e := range ExtractNamedEntities(item) {
			contextEntities = append(contextEntities, strings.ToLower(e))
		}
	}

	var unmatched []string
	for _, entity := range ExtractNamedEntities(response) {
		lower := strings.ToLower(entity)
		found := false
		for _, ctx := range contextEntities {
			if strings.Contains(ctx, lower) || strings.Contains(lower, ctx) {
				found = true
				break
			}
		}
		if !found {
			unmatched = append(unmatched, fmt.Sprintf("Entity %q not found in context", entity))
		}
	}
	return unmatched
}

// ExtractNamedEntities returns the distinct capitalized words of text that are
// longer than two characters and not common function words, in order of
// first appearance.
func ExtractNamedEntities(text string) []string {
	words := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})

	seen := make(map[string]struct{})
	var entities []string
	for _, word := range words {
		if utf8.RuneCountInString(word) <= 2 {
			continue
		}
		first, _ := utf8.DecodeRuneInString(word)
		if !unicode.IsUpper(first) {
			continue
		}
		if _, stop := entityStopwords[word]; stop {
			continue
		}
		if _, dup := seen[word]; dup {
			continue
		}
		seen[word] = struct{}{}
		entities = append(entities, word)
	}
	return entities
}

// HeuristicContradictionDetector flags a yes and a no close together, and
// numbers that repeat.
type HeuristicContradictionDetector struct{}

// Contradictions implements ContradictionDetector
func (HeuristicContradictionDetector) Contradictions(response string) []string {
	var found []string

	if yesNoClose(response) {
		found = append(found, "Mixed yes/no responses")
	}

	numbers := numberPattern.FindAllString(response, -1)
	seen := make(map[string]struct{}, len(numbers))
	for _, n := range numbers {
		if _, dup := seen[n]; dup {
			found = append(found, "Repetitive numbers in context where they should differ")
			break
		}
		seen[n] = struct{}{}
	}

	return found
}

func yesNoClose(text string) bool {
	yes := yesPattern.FindAllStringIndex(text, -1)
	no := noPattern.FindAllStringIndex(text, -1)

	// Both index lists are sorted; walk them together for the closest pair.
	i, j := 0, 0
	for i < len(yes) && j < len(no) {
		d := yes[i][0] - no[j][0]
		if d < 0 {
			d = -d
		}
		if d < yesNoWindow {
			return true
		}
		if yes[i][0] < no[j][0] {
			i++
		} else {
			j++
		}
	}
	return false
}
