// Package snapshot normalizes the raw output of a DOM extraction pass into the
// visible, interactable element list the matchers and oracles work from.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/xkilldash9x/locus/api/schemas"
)

// Default limits.
const (
	DefaultMaxTextLength = 100
	DefaultMaxElements   = 200
)

// Snapshot is the interactable view of a page at one extraction pass.
type Snapshot struct {
	PassID   string
	URL      string
	Elements []schemas.InteractableElement

	byRef map[string]int
}

// Lookup returns the element with the given correlation id.
func (s *Snapshot) Lookup(ref string) (schemas.InteractableElement, bool) {
	if s == nil {
		return schemas.InteractableElement{}, false
	}
	i, ok := s.byRef[ref]
	if !ok {
		return schemas.InteractableElement{}, false
	}
	return s.Elements[i], true
}

// Ref wraps a correlation id from this pass into an opaque handle.
func (s *Snapshot) Ref(correlationID string) schemas.ElementRef {
	return schemas.ElementRef{PassID: s.PassID, ID: correlationID}
}

// Forms returns the elements that accept input.
func (s *Snapshot) Forms() []schemas.InteractableElement {
	return s.filter(func(e schemas.InteractableElement) bool { return e.Category == schemas.CategoryForm })
}

// Clickables returns the elements that are activated.
func (s *Snapshot) Clickables() []schemas.InteractableElement {
	return s.filter(func(e schemas.InteractableElement) bool { return e.Category == schemas.CategoryClickable })
}

// InModal returns only the elements inside a modal dialog.
func (s *Snapshot) InModal() []schemas.InteractableElement {
	return s.filter(func(e schemas.InteractableElement) bool { return e.IsInModal })
}

func (s *Snapshot) filter(keep func(schemas.InteractableElement) bool) []schemas.InteractableElement {
	var out []schemas.InteractableElement
	for _, e := range s.Elements {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}

// OracleView renders elements as the compact JSON array sent to the text
// oracle, truncated to limit entries.
func OracleView(elements []schemas.InteractableElement, limit int) (string, error) {
	if limit > 0 && len(elements) > limit {
		elements = elements[:limit]
	}
	type view struct {
		Ref         string `json:"ref"`
		Tag         string `json:"tag"`
		Role        string `json:"role,omitempty"`
		Text        string `json:"text,omitempty"`
		TestID      string `json:"testId,omitempty"`
		ID          string `json:"id,omitempty"`
		Name        string `json:"name,omitempty"`
		Placeholder string `json:"placeholder,omitempty"`
		Category    string `json:"category"`
		InViewport  bool   `json:"inViewport"`
		InModal     bool   `json:"inModal"`
		Container   string `json:"container,omitempty"`
	}
	views := make([]view, 0, len(elements))
	for _, e := range elements {
		views = append(views, view{
			Ref:         e.CorrelationID,
			Tag:         e.Tag,
			Role:        e.RoleOrType,
			Text:        e.VisibleText,
			TestID:      e.TestID,
			ID:          e.DomID,
			Name:        e.Name,
			Placeholder: e.Placeholder,
			Category:    string(e.Category),
			InViewport:  e.IsInViewport,
			InModal:     e.IsInModal,
			Container:   e.ContainerRole,
		})
	}
	b, err := json.Marshal(views)
	if err != nil {
		return "", fmt.Errorf("failed to marshal oracle view: %w", err)
	}
	return string(b), nil
}

// Extractor runs extraction passes on a page and normalizes the result.
type Extractor struct {
	logger        *zap.Logger
	maxTextLength int
}

// NewExtractor returns an Extractor truncating visible text to maxTextLength
// runes.
func NewExtractor(logger *zap.Logger, maxTextLength int) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxTextLength <= 0 {
		maxTextLength = DefaultMaxTextLength
	}
	return &Extractor{logger: logger.Named("snapshot"), maxTextLength: maxTextLength}
}

// Extract runs a fresh pass on page. Handles from any previous pass on the
// same page become stale.
func (x *Extractor) Extract(ctx context.Context, page schemas.Page) (*Snapshot, error) {
	pass, err := page.Extract(ctx)
	if err != nil {
		return nil, fmt.Errorf("dom extraction failed: %w", err)
	}
	snap := x.Normalize(pass)
	x.logger.Debug("Extraction pass complete.",
		zap.String("pass_id", snap.PassID),
		zap.Int("raw", len(pass.Elements)),
		zap.Int("interactable", len(snap.Elements)))
	return snap, nil
}

// Normalize filters out elements that are not rendered, derives their visible
// text and category, and preserves document order.
func (x *Extractor) Normalize(pass *schemas.ExtractionPass) *Snapshot {
	snap := &Snapshot{PassID: pass.PassID, URL: pass.URL, byRef: make(map[string]int)}
	for _, raw := range pass.Elements {
		if !IsRendered(raw) || raw.Ref == "" {
			continue
		}
		if _, dup := snap.byRef[raw.Ref]; dup {
			continue
		}
		el := schemas.InteractableElement{
			CorrelationID: raw.Ref,
			Tag:           strings.ToLower(raw.Tag),
			RoleOrType:    roleOrType(raw),
			TestID:        raw.TestID,
			DomID:         raw.DomID,
			Name:          raw.Name,
			AriaLabel:     collapse(raw.AriaLabel),
			Placeholder:   collapse(raw.Placeholder),
			LabelText:     collapse(raw.LabelText),
			ClassName:     raw.ClassName,
			IsInViewport:  raw.InViewport,
			IsInModal:     raw.InModal,
			ContainerRole: raw.ContainerRole,
			Position:      schemas.Position{X: raw.X + raw.Width/2, Y: raw.Y + raw.Height/2},
			Category:      Categorize(raw),
		}
		el.VisibleText = truncate(visibleText(raw, el.Category), x.maxTextLength)
		snap.byRef[el.CorrelationID] = len(snap.Elements)
		snap.Elements = append(snap.Elements, el)
	}
	return snap
}

// IsRendered reports whether an element occupies space and is not hidden by
// display, visibility or opacity.
func IsRendered(raw schemas.RawElement) bool {
	if raw.Width <= 0 || raw.Height <= 0 {
		return false
	}
	if strings.EqualFold(raw.Display, "none") {
		return false
	}
	if strings.EqualFold(raw.Visibility, "hidden") || strings.EqualFold(raw.Visibility, "collapse") {
		return false
	}
	return raw.Opacity > 0
}

var nonFormInputTypes = map[string]bool{
	"button": true, "submit": true, "reset": true, "image": true,
}

// Categorize classifies an element as a form field or a clickable.
func Categorize(raw schemas.RawElement) schemas.Category {
	switch strings.ToLower(raw.Tag) {
	case "textarea", "select":
		return schemas.CategoryForm
	case "input":
		if nonFormInputTypes[strings.ToLower(raw.Type)] {
			return schemas.CategoryClickable
		}
		return schemas.CategoryForm
	}
	switch strings.ToLower(raw.Role) {
	case "textbox", "combobox", "searchbox", "listbox", "spinbutton":
		return schemas.CategoryForm
	}
	return schemas.CategoryClickable
}

func roleOrType(raw schemas.RawElement) string {
	if raw.Role != "" {
		return strings.ToLower(raw.Role)
	}
	if raw.Type != "" {
		return strings.ToLower(raw.Type)
	}
	return ""
}

// visibleText picks the text a user associates with the element. Form fields
// are identified by their label first; clickables by what they display.
func visibleText(raw schemas.RawElement, cat schemas.Category) string {
	var order []string
	if cat == schemas.CategoryForm {
		order = []string{raw.LabelText, raw.Placeholder, raw.AriaLabel, raw.Name, raw.InnerText}
	} else {
		order = []string{raw.InnerText, raw.AriaLabel, raw.LabelText, raw.Name}
		if strings.EqualFold(raw.Tag, "input") {
			// input buttons have no inner text; the value attribute is
			// reported as InnerText by the page script.
			order = append(order, raw.Placeholder)
		}
	}
	for _, s := range order {
		if c := collapse(s); c != "" {
			return c
		}
	}
	return ""
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max])
}
