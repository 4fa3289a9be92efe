package mocks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/xkilldash9x/locus/api/schemas"
)

// PageAction is one interaction recorded by FakePage.
type PageAction struct {
	Kind    string
	Locator schemas.Locator
	Value   string
	X, Y    float64
}

// FakePage is a scripted schemas.Page. Each Extract call returns the next
// entry of Passes, repeating the last one once they run out. Element handles
// are validated against the current pass like the real page does.
type FakePage struct {
	mu sync.Mutex

	CurrentURL string
	Passes     [][]schemas.RawElement
	// Identities maps a raw element ref to what Describe reports for it.
	Identities map[string]schemas.ElementIdentity
	// Visible maps Locator.String() to visibility.
	Visible map[string]bool
	Shot    schemas.Screenshot

	ExtractErr    error
	ScreenshotErr error
	// ActionErrs maps Locator.String() to the error its actions return.
	ActionErrs map[string]error
	// OnAction runs after every recorded action, while unlocked.
	OnAction func(PageAction)

	passCount   int
	currentPass string
	actions     []PageAction
	navigations []string
	loads       int
}

var _ schemas.Page = (*FakePage)(nil)

func (p *FakePage) URL(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.CurrentURL, nil
}

func (p *FakePage) Navigate(ctx context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CurrentURL = url
	p.currentPass = ""
	p.navigations = append(p.navigations, url)
	return nil
}

func (p *FakePage) WaitForLoad(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loads++
	return ctx.Err()
}

func (p *FakePage) Extract(ctx context.Context) (*schemas.ExtractionPass, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ExtractErr != nil {
		return nil, p.ExtractErr
	}
	p.passCount++
	p.currentPass = fmt.Sprintf("pass-%d", p.passCount)

	var elems []schemas.RawElement
	if n := len(p.Passes); n > 0 {
		i := p.passCount - 1
		if i >= n {
			i = n - 1
		}
		elems = append(elems, p.Passes[i]...)
	}
	return &schemas.ExtractionPass{PassID: p.currentPass, URL: p.CurrentURL, Elements: elems}, nil
}

func (p *FakePage) Describe(ctx context.Context, ref schemas.ElementRef) (schemas.ElementIdentity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ref.PassID == "" || ref.PassID != p.currentPass {
		return schemas.ElementIdentity{}, schemas.ErrStaleHandle
	}
	id, ok := p.Identities[ref.ID]
	if !ok {
		return schemas.ElementIdentity{}, fmt.Errorf("ref %s: %w", ref.ID, schemas.ErrElementNotFound)
	}
	return id, nil
}

func (p *FakePage) Click(ctx context.Context, loc schemas.Locator) error {
	return p.record(PageAction{Kind: "click", Locator: loc})
}

func (p *FakePage) Fill(ctx context.Context, loc schemas.Locator, value string) error {
	return p.record(PageAction{Kind: "fill", Locator: loc, Value: value})
}

func (p *FakePage) Select(ctx context.Context, loc schemas.Locator, value string) error {
	return p.record(PageAction{Kind: "select", Locator: loc, Value: value})
}

func (p *FakePage) Check(ctx context.Context, loc schemas.Locator) error {
	return p.record(PageAction{Kind: "check", Locator: loc})
}

func (p *FakePage) IsVisible(ctx context.Context, loc schemas.Locator, timeout time.Duration) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Visible[loc.String()], nil
}

func (p *FakePage) ClickAt(ctx context.Context, x, y float64) error {
	return p.record(PageAction{Kind: "click_at", X: x, Y: y})
}

func (p *FakePage) TypeText(ctx context.Context, text string) error {
	return p.record(PageAction{Kind: "type", Value: text})
}

func (p *FakePage) Screenshot(ctx context.Context) (schemas.Screenshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ScreenshotErr != nil {
		return schemas.Screenshot{}, p.ScreenshotErr
	}
	shot := p.Shot
	if shot.Data == nil {
		shot = schemas.Screenshot{Data: []byte("png"), MIMEType: "image/png", Width: 1366, Height: 768, Scale: 1}
	}
	return shot, nil
}

func (p *FakePage) record(a PageAction) error {
	p.mu.Lock()
	if err, ok := p.ActionErrs[a.Locator.String()]; ok && !a.Locator.IsZero() {
		p.mu.Unlock()
		return err
	}
	p.actions = append(p.actions, a)
	hook := p.OnAction
	p.mu.Unlock()
	if hook != nil {
		hook(a)
	}
	return nil
}

// SetVisible marks a locator as visible or hidden.
func (p *FakePage) SetVisible(loc schemas.Locator, visible bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Visible == nil {
		p.Visible = make(map[string]bool)
	}
	p.Visible[loc.String()] = visible
}

// Actions returns the recorded interactions in order.
func (p *FakePage) Actions() []PageAction {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]PageAction(nil), p.actions...)
}

// Navigations returns every URL passed to Navigate.
func (p *FakePage) Navigations() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.navigations...)
}

// ExtractCount reports how many extraction passes ran.
func (p *FakePage) ExtractCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.passCount
}

// ErrPageClosed is a convenience error for scripting adapter failures.
var ErrPageClosed = errors.New("page closed")

// Button builds a rendered, in-viewport button RawElement.
func Button(ref, text string) schemas.RawElement {
	return schemas.RawElement{
		Ref: ref, Tag: "button", Type: "submit", InnerText: text,
		Width: 80, Height: 24, X: 10, Y: 10,
		Display: "inline-block", Visibility: "visible", Opacity: 1, InViewport: true,
	}
}

// Link builds a rendered, in-viewport anchor RawElement.
func Link(ref, text string) schemas.RawElement {
	return schemas.RawElement{
		Ref: ref, Tag: "a", InnerText: text, Href: "#",
		Width: 120, Height: 18, X: 10, Y: 60,
		Display: "inline", Visibility: "visible", Opacity: 1, InViewport: true,
	}
}

// Input builds a rendered text input RawElement.
func Input(ref, inputType, label, name string) schemas.RawElement {
	return schemas.RawElement{
		Ref: ref, Tag: "input", Type: inputType, LabelText: label, Name: name,
		Width: 200, Height: 24, X: 10, Y: 100,
		Display: "block", Visibility: "visible", Opacity: 1, InViewport: true,
	}
}
