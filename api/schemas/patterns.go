package schemas

import (
	"cmp"
	"sort"
	"strings"
	"time"
)

// ElementDescriptor captures the attributes of the element a pattern was
// learned from, for diagnostics and semantic recall.
type ElementDescriptor struct {
	Tag       string `json:"tag,omitempty"`
	Text      string `json:"text,omitempty"`
	TestID    string `json:"testId,omitempty"`
	DomID     string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	AriaLabel string `json:"ariaLabel,omitempty"`
}

// MemoryPattern is a learned mapping from an action description to a locator
// on a given host. The tuple (ProjectID, ActionText, URLPattern, IsInModal,
// Selector) is unique; repeat observations reinforce the existing row.
type MemoryPattern struct {
	ID                string            `json:"id"`
	ProjectID         string            `json:"project_id"`
	ActionText        string            `json:"action_text"`
	ActionType        ActionType        `json:"action_type"`
	ElementDescriptor ElementDescriptor `json:"element_descriptor"`
	Selector          string            `json:"selector"`
	LocatorKind       LocatorKind       `json:"locator_kind"`
	URLPattern        string            `json:"url_pattern"`
	Confidence        int               `json:"confidence"`
	IsInModal         bool              `json:"is_in_modal"`
	ContainerRole     string            `json:"container_role,omitempty"`
	SuccessCount      int               `json:"success_count"`
	LastUsedAt        time.Time         `json:"last_used_at"`
	CreatedAt         time.Time         `json:"created_at"`
}

// Locator returns the pattern's stored locator.
func (p MemoryPattern) Locator() Locator {
	return Locator{Kind: p.LocatorKind, Selector: p.Selector}
}

// PatternKey is the uniqueness tuple of a MemoryPattern.
type PatternKey struct {
	ProjectID  string
	ActionText string
	URLPattern string
	IsInModal  bool
	Selector   string
}

// Compare orders keys field by field, with false before true for IsInModal.
func (k PatternKey) Compare(o PatternKey) int {
	return cmp.Or(
		strings.Compare(k.ProjectID, o.ProjectID),
		strings.Compare(k.ActionText, o.ActionText),
		strings.Compare(k.URLPattern, o.URLPattern),
		cmpBool(k.IsInModal, o.IsInModal),
		strings.Compare(k.Selector, o.Selector),
	)
}

func cmpBool(a, b bool) int {
	switch {
	case a == b:
		return 0
	case a:
		return 1
	default:
		return -1
	}
}

// Key returns the pattern's uniqueness tuple.
func (p MemoryPattern) Key() PatternKey {
	return PatternKey{
		ProjectID:  p.ProjectID,
		ActionText: p.ActionText,
		URLPattern: p.URLPattern,
		IsInModal:  p.IsInModal,
		Selector:   p.Selector,
	}
}

// NormalizeActionText lowercases and trims an action description so that
// equivalent descriptions share a key.
func NormalizeActionText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// PatternObserved is emitted whenever a resolution succeeds and is worth
// remembering. Flow is "discovery" or "runtime".
type PatternObserved struct {
	Pattern MemoryPattern `json:"pattern"`
	Flow    string        `json:"flow"`
	Method  Method        `json:"method"`
}

// RankPatterns sorts ps in place by reinforcement: success count descending,
// then confidence descending, then most recently used.
func RankPatterns(ps []MemoryPattern) {
	sort.SliceStable(ps, func(i, j int) bool { return ps[i].RanksAbove(ps[j]) })
}

// RanksAbove reports whether p is preferred over o.
func (p MemoryPattern) RanksAbove(o MemoryPattern) bool {
	if p.SuccessCount != o.SuccessCount {
		return p.SuccessCount > o.SuccessCount
	}
	if p.Confidence != o.Confidence {
		return p.Confidence > o.Confidence
	}
	return p.LastUsedAt.After(o.LastUsedAt)
}
