// Package steps turns natural-language scenario lines into ActionSteps.
package steps

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/xkilldash9x/locus/api/schemas"
	"github.com/xkilldash9x/locus/internal/lexicon"
)

// quotePairs maps each opening quote to its closing quote.
var quotePairs = map[rune]rune{
	'"':  '"',
	'“':  '”',
	'\'': '\'',
	'‘':  '’',
	'«':  '»',
}

var urlRegex = regexp.MustCompile(`https?://[^\s"'“”‘’<>]+`)

// ExtractLiteral returns the earliest quoted substring of s, whatever its
// quote style. A straight single quote directly after a letter or digit is an
// apostrophe ("user's") and never opens a literal.
func ExtractLiteral(s string) (string, bool) {
	prev := rune(0)
	for i, r := range s {
		closer, ok := quotePairs[r]
		if ok && r == '\'' && (unicode.IsLetter(prev) || unicode.IsDigit(prev)) {
			ok = false
		}
		prev = r
		if !ok {
			continue
		}
		start := i + utf8.RuneLen(r)
		if end := strings.IndexRune(s[start:], closer); end >= 0 {
			return s[start : start+end], true
		}
	}
	return "", false
}

// ExtractURL returns the first absolute http(s) URL in s.
func ExtractURL(s string) (string, bool) {
	u := urlRegex.FindString(s)
	u = strings.TrimRight(u, ".,;:!?)")
	return u, u != ""
}

// Parse builds an ActionStep from its number and description. An explicit
// action type (from a scenario file) wins over inference.
func Parse(lex *lexicon.Lexicon, number int, description string, explicit schemas.ActionType) schemas.ActionStep {
	step := schemas.ActionStep{
		StepNumber:  number,
		Description: strings.TrimSpace(description),
		ActionType:  explicit,
	}
	if step.ActionType == "" || step.ActionType == schemas.ActionUnknown {
		step.ActionType = lex.InferAction(step.Description)
	}
	if step.ActionType == schemas.ActionUnknown {
		if _, ok := ExtractURL(step.Description); ok {
			step.ActionType = schemas.ActionNavigate
		}
	}
	step.LiteralValue, step.HasLiteral = ExtractLiteral(step.Description)
	return step
}

// Normalize fills in derived fields of steps loaded from a scenario file and
// renumbers them from 1 when numbers are missing.
func Normalize(lex *lexicon.Lexicon, in []schemas.ActionStep) []schemas.ActionStep {
	out := make([]schemas.ActionStep, len(in))
	for i, s := range in {
		number := s.StepNumber
		if number == 0 {
			number = i + 1
		}
		out[i] = Parse(lex, number, s.Description, schemas.ParseActionType(string(s.ActionType)))
	}
	return out
}

// TargetText reduces a step to the words naming its target element: action
// verbs, noise words and, for value-carrying actions, the quoted value are
// removed. For other actions the quoted literal is the target.
func TargetText(lex *lexicon.Lexicon, step schemas.ActionStep) string {
	if step.HasLiteral && !step.ActionType.TakesValue() && step.LiteralValue != "" {
		return strings.Join(lexicon.Tokenize(step.LiteralValue), " ")
	}

	desc := step.Description
	if step.HasLiteral {
		desc = doubleQuotedRegex.ReplaceAllString(desc, " ")
		desc = otherQuotedRegex.ReplaceAllString(desc, " ")
	}
	desc = urlRegex.ReplaceAllString(desc, " ")

	var kept []string
	for _, tok := range lexicon.Tokenize(desc) {
		if lex.IsActionWord(tok) || lex.IsNoise(tok) {
			continue
		}
		kept = append(kept, tok)
	}
	return strings.Join(kept, " ")
}
