// Package heuristic scores visible elements against a step with fixed,
// deterministic rules. It is the cheap first tier of resolution and the
// fallback signal when the text oracle is unavailable.
package heuristic

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/xkilldash9x/locus/api/schemas"
	"github.com/xkilldash9x/locus/internal/lexicon"
	"github.com/xkilldash9x/locus/internal/steps"
)

// Form field scores.
const (
	scoreTargetHint   = 50
	scoreExactLabel   = 60
	scorePartialLabel = 30
	scoreFormNameID   = 15
)

// Clickable scores. The four text rules are exclusive; the first that
// applies wins.
const (
	scoreExactText      = 100
	scoreCleanWord      = 90
	scoreRawWord        = 80
	scoreTextSubstring  = 20
	scoreClickNameID    = 10
	scoreClass          = 3
	scoreNativeButton   = 5
	scoreSubmitType     = 10
	scoreInViewport     = 15
	maxConfidence       = 100
	maxAlternatives     = 3
	minSignificantRunes = 3
)

// Result is the outcome of matching one step against a candidate set.
type Result struct {
	Best         *schemas.ElementCandidate
	Alternatives []schemas.ElementCandidate
	Confidence   int
}

// Decision renders the result as a ResolutionDecision for step.
func (r Result) Decision(step schemas.ActionStep) *schemas.ResolutionDecision {
	d := &schemas.ResolutionDecision{
		ActionType:   step.ActionType,
		Confidence:   r.Confidence,
		Alternatives: r.Alternatives,
	}
	if d.ActionType == schemas.ActionUnknown {
		d.ActionType = schemas.ActionClick
	}
	if step.ActionType.TakesValue() {
		d.Value = step.LiteralValue
	}
	if r.Best == nil {
		d.Reason = "no candidate matched the step"
		return d
	}
	ref := r.Best.CorrelationID
	d.TargetRef = &ref
	d.Reason = fmt.Sprintf("heuristic score %d for <%s> %q", r.Best.Score, r.Best.Tag, r.Best.VisibleText)
	return d
}

// Matcher is stateless apart from its lexicon and safe for concurrent use.
type Matcher struct {
	lex *lexicon.Lexicon
}

// NewMatcher returns a Matcher using lex, or the default lexicon when nil.
func NewMatcher(lex *lexicon.Lexicon) *Matcher {
	if lex == nil {
		lex = lexicon.Default()
	}
	return &Matcher{lex: lex}
}

// query is everything derived from the step once per match.
type query struct {
	action      schemas.ActionType
	target      string
	targetWords []string
	rawWords    []string
	hints       []lexicon.FieldHint
}

func (m *Matcher) newQuery(step schemas.ActionStep) query {
	q := query{action: step.ActionType}
	if q.action == "" || q.action == schemas.ActionUnknown {
		q.action = m.lex.InferAction(step.Description)
	}
	q.target = steps.TargetText(m.lex, step)
	q.targetWords = strings.Fields(q.target)
	for _, w := range strings.Fields(step.Description) {
		w = strings.TrimFunc(w, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) })
		if w != "" {
			q.rawWords = append(q.rawWords, w)
		}
	}
	q.hints = m.lex.FieldHints(step.Description)
	return q
}

// Match scores every eligible element against step and ranks them.
func (m *Matcher) Match(step schemas.ActionStep, elements []schemas.InteractableElement) Result {
	q := m.newQuery(step)
	eligible := make([]schemas.InteractableElement, 0, len(elements))
	for _, el := range elements {
		if isEligible(q.action, el) {
			eligible = append(eligible, el)
		}
	}
	if len(eligible) == 0 {
		eligible = elements
	}

	cands := make([]schemas.ElementCandidate, 0, len(eligible))
	for _, el := range eligible {
		cands = append(cands, schemas.ElementCandidate{
			InteractableElement: el,
			Score:               m.score(q, el),
			ActionType:          q.action,
		})
	}
	return Rank(cands)
}

// Score returns the score element earns for step.
func (m *Matcher) Score(step schemas.ActionStep, el schemas.InteractableElement) int {
	return m.score(m.newQuery(step), el)
}

func (m *Matcher) score(q query, el schemas.InteractableElement) int {
	if el.Category == schemas.CategoryForm {
		return scoreForm(q, el)
	}
	return clickableRelevance(q, el) + structuralBonus(el)
}

// Relevance is the part of el's score earned by matching the step's words:
// text, label, hint, id, name and class rules. Structural bonuses for native
// buttons, submit types and viewport position are excluded, so a result with
// zero relevance was ranked on page layout alone.
func (m *Matcher) Relevance(step schemas.ActionStep, el schemas.InteractableElement) int {
	q := m.newQuery(step)
	if el.Category == schemas.CategoryForm {
		return scoreForm(q, el)
	}
	return clickableRelevance(q, el)
}

// Rank orders pre-scored candidates by descending score. Ties keep their
// input order. Candidates scoring zero or less are never chosen.
func Rank(cands []schemas.ElementCandidate) Result {
	ranked := append([]schemas.ElementCandidate(nil), cands...)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })

	if len(ranked) == 0 || ranked[0].Score <= 0 {
		return Result{}
	}
	best := ranked[0]
	res := Result{Best: &best, Confidence: best.Score}
	if res.Confidence > maxConfidence {
		res.Confidence = maxConfidence
	}
	for _, c := range ranked[1:] {
		if len(res.Alternatives) == maxAlternatives || c.Score <= 0 {
			break
		}
		res.Alternatives = append(res.Alternatives, c)
	}
	return res
}

func isEligible(action schemas.ActionType, el schemas.InteractableElement) bool {
	kind := strings.ToLower(el.RoleOrType)
	toggle := kind == "checkbox" || kind == "radio" || kind == "switch"
	switch action {
	case schemas.ActionFill:
		return el.Category == schemas.CategoryForm && el.Tag != "select" && !toggle
	case schemas.ActionSelect:
		return el.Category == schemas.CategoryForm && (el.Tag == "select" || kind == "combobox" || kind == "listbox")
	case schemas.ActionCheck:
		return toggle
	default:
		return el.Category == schemas.CategoryClickable
	}
}

func scoreForm(q query, el schemas.InteractableElement) int {
	score := 0
	combined := lower(strings.Join([]string{el.VisibleText, el.DomID, el.Name, el.Placeholder, el.LabelText, el.AriaLabel}, " "))
	combinedTokens := lexicon.Tokenize(combined)

hints:
	for _, h := range q.hints {
		for _, alias := range h.Aliases {
			if aliasMatches(alias, combined, combinedTokens) {
				score += scoreTargetHint
				break hints
			}
		}
	}

	if q.target == "" {
		return score
	}

	label := words(el.LabelText)
	if label == "" {
		label = words(el.VisibleText)
	}
	placeholder := words(el.Placeholder)
	switch {
	case label != "" && label == q.target:
		score += scoreExactLabel
	case partialMatch(label, q) || partialMatch(placeholder, q):
		score += scorePartialLabel
	}

	if anyWordIn(q.targetWords, lower(el.Name), lower(el.DomID)) {
		score += scoreFormNameID
	}
	return score
}

func clickableRelevance(q query, el schemas.InteractableElement) int {
	text := strings.TrimSpace(el.VisibleText)
	lt := words(text)

	relevance := 0
	switch {
	case text == "":
	case q.target != "" && lt == q.target:
		relevance = scoreExactText
	case containsString(q.targetWords, lt):
		relevance = scoreCleanWord
	case containsString(q.rawWords, text):
		relevance = scoreRawWord
	case q.target != "" && (strings.Contains(lt, q.target) ||
		(runeLen(lt) >= minSignificantRunes && strings.Contains(q.target, lt))):
		relevance = scoreTextSubstring
	}
	if anyWordIn(q.targetWords, lower(el.DomID), lower(el.Name), lower(el.TestID)) {
		relevance += scoreClickNameID
	}
	if anyWordIn(q.targetWords, lower(el.ClassName)) {
		relevance += scoreClass
	}
	return relevance
}

func structuralBonus(el schemas.InteractableElement) int {
	bonus := 0
	if el.Tag == "button" {
		bonus += scoreNativeButton
	}
	if strings.EqualFold(el.RoleOrType, "submit") {
		bonus += scoreSubmitType
	}
	if el.IsInViewport {
		bonus += scoreInViewport
	}
	return bonus
}

func partialMatch(field string, q query) bool {
	if field == "" {
		return false
	}
	if strings.Contains(field, q.target) || (runeLen(field) >= minSignificantRunes && strings.Contains(q.target, field)) {
		return true
	}
	for _, w := range q.targetWords {
		if runeLen(w) >= minSignificantRunes && strings.Contains(field, w) {
			return true
		}
	}
	return false
}

// aliasMatches compares short aliases by whole token and longer ones by
// substring, so "ad" does not match "address".
func aliasMatches(alias, combined string, tokens []string) bool {
	if runeLen(alias) >= minSignificantRunes {
		return strings.Contains(combined, alias)
	}
	return containsString(tokens, alias)
}

func anyWordIn(words []string, fields ...string) bool {
	for _, w := range words {
		if runeLen(w) < minSignificantRunes {
			continue
		}
		for _, f := range fields {
			if f != "" && strings.Contains(f, w) {
				return true
			}
		}
	}
	return false
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func lower(s string) string { return lexicon.Normalize(strings.TrimSpace(s)) }

// words reduces s to its lowercase tokens joined by single spaces.
func words(s string) string { return strings.Join(lexicon.Tokenize(s), " ") }

func runeLen(s string) int { return len([]rune(s)) }
