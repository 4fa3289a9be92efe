package browser

import (
	"fmt"
	"strings"

	"github.com/chromedp/chromedp"

	"github.com/xkilldash9x/locus/api/schemas"
)

// query is how a locator is addressed through chromedp.
type query struct {
	sel   string
	xpath bool
}

func (q query) options(extra ...chromedp.QueryOption) []chromedp.QueryOption {
	by := chromedp.ByQuery
	if q.xpath {
		by = chromedp.BySearch
	}
	return append([]chromedp.QueryOption{by}, extra...)
}

func toQuery(loc schemas.Locator) (query, error) {
	if loc.IsZero() {
		return query{}, fmt.Errorf("empty locator")
	}
	switch loc.Kind {
	case schemas.LocatorText:
		return query{sel: textXPath(loc.Selector), xpath: true}, nil
	case schemas.LocatorVisionCoordinates:
		return query{}, fmt.Errorf("coordinate locator %q has no selector", loc.Selector)
	default:
		return query{sel: loc.Selector}, nil
	}
}

// textXPath finds the innermost element whose normalized text, or aria-label,
// equals text.
func textXPath(text string) string {
	lit := xpathLiteral(strings.Join(strings.Fields(text), " "))
	return fmt.Sprintf(
		"//*[not(self::script or self::style)][normalize-space(.)=%[1]s or @aria-label=%[1]s][not(.//*[normalize-space(.)=%[1]s])]",
		lit)
}

// xpathLiteral quotes s for XPath 1.0, which has no escape sequences.
func xpathLiteral(s string) string {
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	parts := strings.Split(s, "'")
	quoted := make([]string, 0, 2*len(parts))
	for i, p := range parts {
		if i > 0 {
			quoted = append(quoted, `"'"`)
		}
		if p != "" {
			quoted = append(quoted, "'"+p+"'")
		}
	}
	return "concat(" + strings.Join(quoted, ", ") + ")"
}
