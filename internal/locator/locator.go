// Package locator turns element identities into durable locators and parses
// the target descriptors callers hand to the runtime actor.
package locator

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/idna"

	"github.com/xkilldash9x/locus/api/schemas"
)

// maxTextRunes bounds the visible text that may serve as a text locator.
// Longer captions tend to carry counters, prices or dates that drift.
const maxTextRunes = 40

// Materialize picks the most durable locator the identity supports, in the
// order test id, dom id, name, short exact text, structural path. Attributes
// that are not unique on the page are skipped.
func Materialize(id schemas.ElementIdentity) (schemas.Locator, error) {
	switch {
	case id.TestID != "" && id.TestIDUnique:
		return schemas.Locator{Kind: schemas.LocatorTestID, Selector: attrSelector("data-testid", id.TestID)}, nil
	case id.DomID != "" && id.DomIDUnique:
		return schemas.Locator{Kind: schemas.LocatorID, Selector: attrSelector("id", id.DomID)}, nil
	case id.Name != "" && id.NameUnique:
		sel := attrSelector("name", id.Name)
		if id.Tag != "" {
			sel = strings.ToLower(id.Tag) + sel
		}
		return schemas.Locator{Kind: schemas.LocatorName, Selector: sel}, nil
	}

	text := strings.Join(strings.Fields(id.Text), " ")
	if text != "" && id.TextUnique && utf8.RuneCountInString(text) <= maxTextRunes {
		return schemas.Locator{Kind: schemas.LocatorText, Selector: text}, nil
	}
	if id.StructuralPath != "" {
		return schemas.Locator{Kind: schemas.LocatorCSS, Selector: id.StructuralPath}, nil
	}
	return schemas.Locator{}, fmt.Errorf("no durable locator for <%s>: %w", id.Tag, schemas.ErrElementNotFound)
}

// attrSelector builds [attr="value"] with value serialized as a CSS string.
func attrSelector(attr, value string) string {
	return "[" + attr + "=" + cssString(value) + "]"
}

// cssString quotes s the way CSSOM serializes strings: quote and backslash
// are backslash escaped, control characters become hex escapes followed by a
// space, and NUL becomes U+FFFD. Everything else is kept verbatim, non-ASCII
// included.
func cssString(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for _, r := range s {
		switch {
		case r == 0:
			b.WriteRune(utf8.RuneError)
		case r < 0x20 || r == 0x7f:
			b.WriteString(`\` + strconv.FormatInt(int64(r), 16) + " ")
		case r == '"' || r == '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}

// Descriptor prefixes understood by ParseTarget.
const (
	coordsPrefix = "coords="
	textPrefix   = "text="
)

// ParseTarget interprets a runtime target descriptor. "coords=X,Y" is a
// vision coordinate, "text=Label" an exact text locator, and anything else a
// CSS selector.
func ParseTarget(target string) (schemas.Locator, error) {
	target = strings.TrimSpace(target)
	switch {
	case target == "":
		return schemas.Locator{}, fmt.Errorf("empty target descriptor")
	case strings.HasPrefix(target, coordsPrefix):
		x, y, err := ParseCoordinates(strings.TrimPrefix(target, coordsPrefix))
		if err != nil {
			return schemas.Locator{}, err
		}
		return Coordinates(x, y), nil
	case strings.HasPrefix(target, textPrefix):
		text := strings.TrimSpace(strings.TrimPrefix(target, textPrefix))
		if text == "" {
			return schemas.Locator{}, fmt.Errorf("empty text in target %q", target)
		}
		return schemas.Locator{Kind: schemas.LocatorText, Selector: text}, nil
	default:
		return schemas.Locator{Kind: schemas.LocatorCSS, Selector: target}, nil
	}
}

// Coordinates builds a vision-coordinates locator.
func Coordinates(x, y float64) schemas.Locator {
	return schemas.Locator{
		Kind:     schemas.LocatorVisionCoordinates,
		Selector: strconv.FormatFloat(x, 'f', -1, 64) + "," + strconv.FormatFloat(y, 'f', -1, 64),
	}
}

// ParseCoordinates parses "x,y".
func ParseCoordinates(s string) (x, y float64, err error) {
	xs, ys, ok := strings.Cut(s, ",")
	if !ok {
		return 0, 0, fmt.Errorf("coordinates %q: want x,y", s)
	}
	if x, err = strconv.ParseFloat(strings.TrimSpace(xs), 64); err != nil {
		return 0, 0, fmt.Errorf("coordinates %q: %w", s, err)
	}
	if y, err = strconv.ParseFloat(strings.TrimSpace(ys), 64); err != nil {
		return 0, 0, fmt.Errorf("coordinates %q: %w", s, err)
	}
	if x < 0 || y < 0 {
		return 0, 0, fmt.Errorf("coordinates %q: negative", s)
	}
	return x, y, nil
}

// ToViewport converts screenshot pixel coordinates to CSS pixels.
func ToViewport(x, y, scale float64) (float64, float64) {
	if scale <= 0 {
		return x, y
	}
	return x / scale, y / scale
}

// HostOf returns the normalized host of rawURL, which keys pattern memory.
// Internationalized names are converted to their ASCII form so that the
// Unicode and punycode spellings of a host share patterns. Ports are dropped.
func HostOf(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		// Bare hosts such as "example.com/login" parse as a path.
		u, err = url.Parse("//" + strings.TrimSpace(rawURL))
		if err != nil {
			return ""
		}
	}
	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if host == "" {
		return ""
	}
	if ascii, err := idna.Lookup.ToASCII(host); err == nil {
		return ascii
	}
	return host
}
