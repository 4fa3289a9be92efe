// Package actions performs resolved actions on a page and describes the
// successful ones as patterns worth remembering.
package actions

import (
	"context"
	"fmt"

	"github.com/xkilldash9x/locus/api/schemas"
	"github.com/xkilldash9x/locus/internal/locator"
)

// Perform runs action against loc. Unknown and navigate actions on an element
// are treated as clicks.
func Perform(ctx context.Context, page schemas.Page, action schemas.ActionType, loc schemas.Locator, value string) error {
	var err error
	switch action {
	case schemas.ActionFill:
		err = page.Fill(ctx, loc, value)
	case schemas.ActionSelect:
		if loc.Kind == schemas.LocatorVisionCoordinates {
			return fmt.Errorf("select needs an element locator, got %s", loc)
		}
		err = page.Select(ctx, loc, value)
	case schemas.ActionCheck:
		err = page.Check(ctx, loc)
	default:
		err = page.Click(ctx, loc)
	}
	if err != nil {
		return fmt.Errorf("%s %s: %w", action, loc, err)
	}
	return nil
}

// Descriptor summarizes an element for pattern storage.
func Descriptor(el schemas.InteractableElement) schemas.ElementDescriptor {
	return schemas.ElementDescriptor{
		Tag:       el.Tag,
		Text:      el.VisibleText,
		TestID:    el.TestID,
		DomID:     el.DomID,
		Name:      el.Name,
		AriaLabel: el.AriaLabel,
	}
}

// Observation is what a flow knows about one successful resolution.
type Observation struct {
	ProjectID     string
	ActionText    string
	ActionType    schemas.ActionType
	PageURL       string
	Locator       schemas.Locator
	Element       schemas.ElementDescriptor
	Confidence    int
	IsInModal     bool
	ContainerRole string
}

// Event renders o as a PatternObserved event for flow.
func (o Observation) Event(flow string, method schemas.Method) schemas.PatternObserved {
	return schemas.PatternObserved{
		Flow:   flow,
		Method: method,
		Pattern: schemas.MemoryPattern{
			ProjectID:         o.ProjectID,
			ActionText:        o.ActionText,
			ActionType:        o.ActionType,
			ElementDescriptor: o.Element,
			Selector:          o.Locator.Selector,
			LocatorKind:       o.Locator.Kind,
			URLPattern:        locator.HostOf(o.PageURL),
			Confidence:        o.Confidence,
			IsInModal:         o.IsInModal,
			ContainerRole:     o.ContainerRole,
		},
	}
}
