package compactor

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// Verbosity controls how much detail is retained in emitted workflows.
type Verbosity int

const (
	Minimal  Verbosity = iota // strip screenshots, short element text
	Standard                  // keep screenshots, moderate element text
	Full                      // retain everything
)

// ParseVerbosity maps a config string to a Verbosity. Unknown values map to Standard.
func ParseVerbosity(s string) Verbosity {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "minimal":
		return Minimal
	case "full":
		return Full
	default:
		return Standard
	}
}

func (v Verbosity) String() string {
	switch v {
	case Minimal:
		return "minimal"
	case Full:
		return "full"
	default:
		return "standard"
	}
}

// Compactor normalizes text captured from the page before it is stored on a step.
type Compactor struct {
	Verbosity Verbosity
}

// New creates a Compactor with the given verbosity level.
func New(v Verbosity) *Compactor {
	return &Compactor{Verbosity: v}
}

// Text returns visible element text in NFC form with whitespace runs collapsed,
// truncated according to the verbosity.
func (c *Compactor) Text(raw string) string {
	s := collapse(norm.NFC.String(raw))
	switch c.Verbosity {
	case Minimal:
		return truncate(s, 40)
	case Full:
		return s
	default:
		return truncate(s, 200)
	}
}

// Value returns a typed form value in NFC form. Whitespace is significant and kept.
func Value(raw string) string {
	return norm.NFC.String(raw)
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// truncate shortens s to at most maxRunes runes, appending "..." when cut.
func truncate(s string, maxRunes int) string {
	if utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	n := 0
	for i := range s {
		if n == maxRunes {
			return strings.TrimRight(s[:i], " ") + "..."
		}
		n++
	}
	return s
}
