package browser

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/locus/api/schemas"
	"github.com/xkilldash9x/locus/internal/config"
	"github.com/xkilldash9x/locus/internal/locator"
)

const fixtureHTML = `<!doctype html>
<html><body>
  <form onsubmit="event.preventDefault(); document.getElementById('out').textContent = 'sent ' + document.getElementById('email').value;">
    <label for="email">Email</label><input id="email" name="email" type="email">
    <select name="country"><option value="tr">Türkiye</option><option value="de">Germany</option></select>
    <label><input type="checkbox" name="terms"> I agree</label>
    <button type="submit">Submit</button>
    <a href="#" data-testid="order-link">Submit Order</a>
  </form>
  <div role="dialog" class="modal"><button>Close</button></div>
  <p id="out"></p>
</body></html>`

func findChrome(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("browser tests are skipped in short mode")
	}
	for _, name := range []string{"google-chrome", "chromium", "chromium-browser", "headless-shell"} {
		if p, err := exec.LookPath(name); err == nil {
			return p
		}
	}
	t.Skip("no Chrome binary on PATH")
	return ""
}

func TestPageAgainstChrome(t *testing.T) {
	execPath := findChrome(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, fixtureHTML)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cfg := config.NewDefaultConfig()
	cfg.Browser.ExecPath = execPath
	cfg.Browser.Concurrency = 1
	m, err := NewManager(ctx, cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer m.Shutdown(context.Background())

	page, err := m.NewPage(ctx)
	require.NoError(t, err)
	defer page.Close()

	require.NoError(t, page.Navigate(ctx, srv.URL))
	require.NoError(t, page.WaitForLoad(ctx))

	pass, err := page.Extract(ctx)
	require.NoError(t, err)
	byText := map[string]schemas.RawElement{}
	for _, e := range pass.Elements {
		byText[e.InnerText] = e
	}
	require.Contains(t, byText, "Submit")
	require.Contains(t, byText, "Close")
	assert.True(t, byText["Close"].InModal)
	assert.Equal(t, "dialog", byText["Close"].ContainerRole)

	link := byText["Submit Order"]
	id, err := page.Describe(ctx, schemas.ElementRef{PassID: pass.PassID, ID: link.Ref})
	require.NoError(t, err)
	assert.True(t, id.TestIDUnique)
	loc, err := locator.Materialize(id)
	require.NoError(t, err)
	assert.Equal(t, schemas.LocatorTestID, loc.Kind)

	second, err := page.Extract(ctx)
	require.NoError(t, err)
	_, err = page.Describe(ctx, schemas.ElementRef{PassID: pass.PassID, ID: link.Ref})
	assert.ErrorIs(t, err, schemas.ErrStaleHandle)
	assert.NotEqual(t, pass.PassID, second.PassID)

	email := schemas.Locator{Kind: schemas.LocatorID, Selector: `[id="email"]`}
	require.NoError(t, page.Fill(ctx, email, "jane@example.com"))
	require.NoError(t, page.Select(ctx, schemas.Locator{Kind: schemas.LocatorName, Selector: `select[name="country"]`}, "Germany"))
	require.NoError(t, page.Check(ctx, schemas.Locator{Kind: schemas.LocatorName, Selector: `input[name="terms"]`}))
	require.NoError(t, page.Click(ctx, schemas.Locator{Kind: schemas.LocatorText, Selector: "Submit"}))

	visible, err := page.IsVisible(ctx, schemas.Locator{Kind: schemas.LocatorText, Selector: "sent jane@example.com"}, 2*time.Second)
	require.NoError(t, err)
	assert.True(t, visible)

	visible, err = page.IsVisible(ctx, schemas.Locator{Kind: schemas.LocatorCSS, Selector: "#missing"}, 200*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, visible)

	shot, err := page.Screenshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "image/png", shot.MIMEType)
	assert.Greater(t, shot.Width, 0)
	assert.Greater(t, shot.Scale, 0.0)
}
