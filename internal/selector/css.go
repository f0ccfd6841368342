package selector

import (
	"log/slog"
	"regexp"
	"strings"

	"github.com/crimson-sun/stepwise/internal/dom"
)

// classPattern accepts hand-written class names and rejects generated or
// escaped utility classes ("md:px-2", "css-1x2y3[data]").
var classPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_-]*$`)

// safeAttributes are stable enough to identify an element across reloads.
var safeAttributes = map[string]bool{
	"id":           true,
	"name":         true,
	"type":         true,
	"placeholder":  true,
	"role":         true,
	"for":          true,
	"autocomplete": true,
	"required":     true,
	"readonly":     true,
	"alt":          true,
	"title":        true,
	"src":          true,
	"href":         true,
	"target":       true,
	"data-id":      true,
	"data-qa":      true,
	"data-cy":      true,
	"data-testid":  true,
}

func isSafeAttribute(name string) bool {
	return safeAttributes[name] || strings.HasPrefix(name, "aria-")
}

// CSSSelector builds tag + .class tokens + [attr] predicates for el.
// Values containing quotes, angle brackets or whitespace use a substring
// match. It never fails: on any internal fault the result embeds xpath.
func CSSSelector(el dom.Element, xpath string) (sel string) {
	defer func() {
		if r := recover(); r != nil {
			slog.Debug("css selector fallback", "xpath", xpath, "panic", r)
			sel = fallbackSelector(el, xpath)
		}
	}()
	if el == nil {
		return fallbackSelector(nil, xpath)
	}

	var b strings.Builder
	b.WriteString(el.TagName())
	for _, class := range el.Classes() {
		if classPattern.MatchString(class) {
			b.WriteByte('.')
			b.WriteString(class)
		}
	}
	for _, a := range el.Attrs() {
		if a.Name == "class" || !isSafeAttribute(a.Name) {
			continue
		}
		b.WriteByte('[')
		b.WriteString(a.Name)
		switch {
		case a.Value == "":
		case strings.ContainsAny(a.Value, "\"'<>` \t\n\r\f"):
			b.WriteString(`*="`)
			b.WriteString(escapeValue(a.Value))
			b.WriteByte('"')
		default:
			b.WriteString(`="`)
			b.WriteString(escapeValue(a.Value))
			b.WriteByte('"')
		}
		b.WriteByte(']')
	}
	return b.String()
}

func fallbackSelector(el dom.Element, xpath string) string {
	tag := "*"
	func() {
		defer func() { _ = recover() }()
		if el != nil && el.TagName() != "" {
			tag = el.TagName()
		}
	}()
	return tag + `[xpath="` + escapeValue(xpath) + `"]`
}

// escapeValue escapes a string for use inside a double-quoted CSS string.
func escapeValue(v string) string {
	return valueEscaper.Replace(v)
}

var valueEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\a `, "\r", `\d `, "\f", `\c `)
