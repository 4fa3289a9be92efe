package browser

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/png"
	"sync"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/locus/api/schemas"
	"github.com/xkilldash9x/locus/internal/config"
	"github.com/xkilldash9x/locus/internal/locator"
)

//go:embed scripts/extract.js
var extractScript string

//go:embed scripts/describe.js
var describeScript string

//go:embed scripts/select.js
var selectScript string

const (
	defaultActionTimeout     = 15 * time.Second
	defaultNavigationTimeout = 60 * time.Second
)

// ErrPageClosed is returned by every operation on a closed page.
var ErrPageClosed = errors.New("page is closed")

// Page is a chromedp tab implementing schemas.Page. It remembers the id of
// the latest extraction pass and rejects handles from any other.
type Page struct {
	ctx     context.Context
	release func()
	logger  *zap.Logger

	actionTimeout time.Duration
	navTimeout    time.Duration

	mu     sync.Mutex
	passID string
	closed bool
}

var _ schemas.Page = (*Page)(nil)

func newPage(tabCtx context.Context, release func(), net config.NetworkConfig, logger *zap.Logger) *Page {
	p := &Page{
		ctx:           tabCtx,
		release:       release,
		logger:        logger.Named("page"),
		actionTimeout: net.ActionTimeout,
		navTimeout:    net.NavigationTimeout,
	}
	if p.actionTimeout <= 0 {
		p.actionTimeout = defaultActionTimeout
	}
	if p.navTimeout <= 0 {
		p.navTimeout = defaultNavigationTimeout
	}
	return p
}

// run executes actions in the tab, bounded by ctx and timeout.
func (p *Page) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return ErrPageClosed
	}
	runCtx, cancel := CombineContext(p.ctx, ctx)
	defer cancel()
	runCtx, cancelTimeout := context.WithTimeout(runCtx, timeout)
	defer cancelTimeout()
	return chromedp.Run(runCtx, actions...)
}

func (p *Page) invalidate() {
	p.mu.Lock()
	p.passID = ""
	p.mu.Unlock()
}

func (p *Page) URL(ctx context.Context) (string, error) {
	var u string
	if err := p.run(ctx, p.actionTimeout, chromedp.Location(&u)); err != nil {
		return "", fmt.Errorf("reading page url: %w", err)
	}
	return u, nil
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	p.invalidate()
	if err := p.run(ctx, p.navTimeout, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigating to %s: %w", url, err)
	}
	return nil
}

// WaitForLoad waits for the body and a complete readyState.
func (p *Page) WaitForLoad(ctx context.Context) error {
	var ready bool
	err := p.run(ctx, p.navTimeout,
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Poll(`document.readyState === "complete"`, &ready, chromedp.WithPollingInterval(100*time.Millisecond)),
	)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("waiting for page load: %w", err)
	}
	return nil
}

// Extract tags the page's candidate elements under a fresh pass id.
func (p *Page) Extract(ctx context.Context) (*schemas.ExtractionPass, error) {
	passID := uuid.NewString()
	expr, err := call(extractScript, passID)
	if err != nil {
		return nil, err
	}

	var elems []schemas.RawElement
	var u string
	if err := p.run(ctx, p.actionTimeout, chromedp.Evaluate(expr, &elems), chromedp.Location(&u)); err != nil {
		p.invalidate()
		return nil, fmt.Errorf("extracting elements: %w", err)
	}

	p.mu.Lock()
	p.passID = passID
	p.mu.Unlock()
	p.logger.Debug("Extraction pass.", zap.String("pass_id", passID), zap.Int("elements", len(elems)))
	return &schemas.ExtractionPass{PassID: passID, URL: u, Elements: elems}, nil
}

type describeResult struct {
	Stale    bool                     `json:"stale"`
	Missing  bool                     `json:"missing"`
	Identity *schemas.ElementIdentity `json:"identity"`
}

// Describe reports the durable attributes of a handle from the current pass.
// A handle is stale when a newer pass ran or the document was replaced.
func (p *Page) Describe(ctx context.Context, ref schemas.ElementRef) (schemas.ElementIdentity, error) {
	p.mu.Lock()
	current := p.passID
	p.mu.Unlock()
	if ref.PassID == "" || ref.PassID != current {
		return schemas.ElementIdentity{}, schemas.ErrStaleHandle
	}

	expr, err := call(describeScript, ref.PassID, ref.ID)
	if err != nil {
		return schemas.ElementIdentity{}, err
	}
	var res describeResult
	if err := p.run(ctx, p.actionTimeout, chromedp.Evaluate(expr, &res)); err != nil {
		return schemas.ElementIdentity{}, fmt.Errorf("describing %s: %w", ref.ID, err)
	}
	switch {
	case res.Stale:
		p.invalidate()
		return schemas.ElementIdentity{}, schemas.ErrStaleHandle
	case res.Missing || res.Identity == nil:
		return schemas.ElementIdentity{}, fmt.Errorf("ref %s: %w", ref.ID, schemas.ErrElementNotFound)
	}
	return *res.Identity, nil
}

func (p *Page) Click(ctx context.Context, loc schemas.Locator) error {
	if loc.Kind == schemas.LocatorVisionCoordinates {
		x, y, err := locator.ParseCoordinates(loc.Selector)
		if err != nil {
			return err
		}
		return p.ClickAt(ctx, x, y)
	}
	q, err := toQuery(loc)
	if err != nil {
		return err
	}
	if err := p.run(ctx, p.actionTimeout, chromedp.Click(q.sel, q.options(chromedp.NodeVisible)...)); err != nil {
		return p.actionError("click", loc, err)
	}
	return nil
}

func (p *Page) Fill(ctx context.Context, loc schemas.Locator, value string) error {
	if loc.Kind == schemas.LocatorVisionCoordinates {
		if err := p.Click(ctx, loc); err != nil {
			return err
		}
		return p.TypeText(ctx, value)
	}
	q, err := toQuery(loc)
	if err != nil {
		return err
	}
	err = p.run(ctx, p.actionTimeout,
		chromedp.Clear(q.sel, q.options(chromedp.NodeVisible)...),
		chromedp.SendKeys(q.sel, value, q.options(chromedp.NodeVisible)...),
	)
	if err != nil {
		return p.actionError("fill", loc, err)
	}
	return nil
}

// Select picks the option whose value, or else whose label, equals value.
func (p *Page) Select(ctx context.Context, loc schemas.Locator, value string) error {
	q, err := toQuery(loc)
	if err != nil {
		return err
	}
	expr, err := call(selectScript, q.xpath, q.sel, value)
	if err != nil {
		return err
	}
	var status string
	if err := p.run(ctx, p.actionTimeout, chromedp.Evaluate(expr, &status)); err != nil {
		return p.actionError("select", loc, err)
	}
	switch status {
	case "ok":
		return nil
	case "missing":
		return fmt.Errorf("select %s: %w", loc, schemas.ErrElementNotFound)
	default:
		return fmt.Errorf("select %q on %s: %s", value, loc, status)
	}
}

// Check clicks a checkbox or radio unless it is already checked.
func (p *Page) Check(ctx context.Context, loc schemas.Locator) error {
	if loc.Kind == schemas.LocatorVisionCoordinates {
		return p.Click(ctx, loc)
	}
	q, err := toQuery(loc)
	if err != nil {
		return err
	}
	var checked bool
	if err := p.run(ctx, p.actionTimeout, chromedp.JavascriptAttribute(q.sel, "checked", &checked, q.options()...)); err != nil {
		return p.actionError("check", loc, err)
	}
	if checked {
		return nil
	}
	return p.Click(ctx, loc)
}

// IsVisible waits up to timeout for loc to become visible.
func (p *Page) IsVisible(ctx context.Context, loc schemas.Locator, timeout time.Duration) (bool, error) {
	if loc.Kind == schemas.LocatorVisionCoordinates {
		x, y, err := locator.ParseCoordinates(loc.Selector)
		if err != nil {
			return false, err
		}
		var hit bool
		expr := fmt.Sprintf("document.elementFromPoint(%g, %g) !== null", x, y)
		if err := p.run(ctx, p.actionTimeout, chromedp.Evaluate(expr, &hit)); err != nil {
			return false, fmt.Errorf("probing %s: %w", loc, err)
		}
		return hit, nil
	}

	q, err := toQuery(loc)
	if err != nil {
		return false, err
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	err = p.run(waitCtx, timeout, chromedp.WaitVisible(q.sel, q.options()...))
	switch {
	case err == nil:
		return true, nil
	case ctx.Err() != nil:
		return false, ctx.Err()
	case waitCtx.Err() != nil || errors.Is(err, context.DeadlineExceeded):
		return false, nil
	}
	return false, fmt.Errorf("waiting for %s: %w", loc, err)
}

// ClickAt presses and releases the left button at viewport CSS pixels.
func (p *Page) ClickAt(ctx context.Context, x, y float64) error {
	err := p.run(ctx, p.actionTimeout,
		input.DispatchMouseEvent(input.MouseMoved, x, y),
		input.DispatchMouseEvent(input.MousePressed, x, y).WithButton(input.Left).WithButtons(1).WithClickCount(1),
		input.DispatchMouseEvent(input.MouseReleased, x, y).WithButton(input.Left).WithClickCount(1),
	)
	if err != nil {
		return fmt.Errorf("click at %.0f,%.0f: %w", x, y, err)
	}
	return nil
}

// TypeText inserts text into the focused element.
func (p *Page) TypeText(ctx context.Context, text string) error {
	if err := p.run(ctx, p.actionTimeout, input.InsertText(text)); err != nil {
		return fmt.Errorf("typing text: %w", err)
	}
	return nil
}

// Screenshot captures the viewport. Scale is derived from the decoded image
// width over the CSS viewport width, so it reflects devicePixelRatio.
func (p *Page) Screenshot(ctx context.Context) (schemas.Screenshot, error) {
	var buf []byte
	var cssWidth float64
	err := p.run(ctx, p.actionTimeout,
		chromedp.Evaluate(`window.innerWidth`, &cssWidth),
		chromedp.CaptureScreenshot(&buf),
	)
	if err != nil {
		return schemas.Screenshot{}, fmt.Errorf("capturing screenshot: %w", err)
	}
	return decodeScreenshot(buf, cssWidth)
}

func decodeScreenshot(buf []byte, cssWidth float64) (schemas.Screenshot, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(buf))
	if err != nil {
		return schemas.Screenshot{}, fmt.Errorf("decoding screenshot: %w", err)
	}
	scale := 1.0
	if cssWidth > 0 {
		scale = float64(cfg.Width) / cssWidth
	}
	return schemas.Screenshot{
		Data:     buf,
		MIMEType: "image/" + format,
		Width:    cfg.Width,
		Height:   cfg.Height,
		Scale:    scale,
	}, nil
}

// Close releases the tab and its slot in the manager. It is idempotent.
func (p *Page) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.passID = ""
	p.mu.Unlock()
	if p.release != nil {
		p.release()
	}
	return nil
}

func (p *Page) actionError(action string, loc schemas.Locator, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s %s: %w", action, loc, schemas.ErrElementNotVisible)
	}
	return fmt.Errorf("%s %s: %w", action, loc, err)
}

// call renders a function-expression script applied to JSON-encoded args.
func call(script string, args ...interface{}) (string, error) {
	var b bytes.Buffer
	b.WriteString("(")
	b.WriteString(script)
	b.WriteString(")(")
	for i, a := range args {
		if i > 0 {
			b.WriteString(", ")
		}
		enc, err := json.Marshal(a)
		if err != nil {
			return "", fmt.Errorf("encoding script argument: %w", err)
		}
		b.Write(enc)
	}
	b.WriteString(")")
	return b.String(), nil
}
