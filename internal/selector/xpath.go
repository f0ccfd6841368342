// Package selector derives replay selectors for DOM elements: a structural
// XPath and an attribute-based CSS selector.
package selector

import (
	"strconv"
	"strings"

	"github.com/crimson-sun/stepwise/internal/dom"
)

// XPath returns an absolute XPath for el. The walk stops at the nearest
// element carrying an id, which becomes an id("...") step. Other elements
// are addressed by their 1-based index among same-tag siblings.
// A detached subtree is addressed from its topmost ancestor.
func XPath(el dom.Element) string {
	if el == nil {
		return ""
	}
	var segments []string
	for cur := el; cur != nil; cur = cur.Parent() {
		if id := idStep(cur.ID()); id != "" {
			return id + joinSegments(segments)
		}
		parent := cur.Parent()
		if parent == nil {
			segments = append(segments, cur.TagName())
			return "/" + strings.Join(reverse(segments), "/")
		}
		segments = append(segments, cur.TagName()+"["+strconv.Itoa(sameTagIndex(parent, cur))+"]")
	}
	return ""
}

// idStep quotes id for an id() call. Ids that contain both quote kinds
// cannot be written as an XPath literal and fall back to positional steps.
func idStep(id string) string {
	switch {
	case id == "":
		return ""
	case !strings.Contains(id, `"`):
		return `id("` + id + `")`
	case !strings.Contains(id, `'`):
		return `id('` + id + `')`
	default:
		return ""
	}
}

func sameTagIndex(parent, el dom.Element) int {
	ix := 0
	tag := el.TagName()
	for _, sib := range parent.Children() {
		if sib.TagName() != tag {
			continue
		}
		ix++
		if sib == el {
			return ix
		}
	}
	return 1
}

func joinSegments(reversed []string) string {
	if len(reversed) == 0 {
		return ""
	}
	return "/" + strings.Join(reverse(reversed), "/")
}

func reverse(s []string) []string {
	out := make([]string, len(s))
	for i, v := range s {
		out[len(s)-1-i] = v
	}
	return out
}

// Resolve evaluates an XPath produced by XPath against doc. It returns nil
// when the path is malformed or matches nothing.
func Resolve(doc dom.Document, xpath string) dom.Element {
	if doc == nil || xpath == "" {
		return nil
	}
	var cur dom.Element
	rest := xpath
	switch {
	case strings.HasPrefix(rest, "id("):
		id, tail, ok := cutIDCall(rest)
		if !ok {
			return nil
		}
		cur = doc.ElementByID(id)
		rest = tail
	case strings.HasPrefix(rest, "/"):
		root := doc.Root()
		rest = rest[1:]
		first, tail, _ := strings.Cut(rest, "/")
		tag, n, ok := parseStep(first)
		if !ok || root == nil || root.TagName() != tag || n != 1 {
			return nil
		}
		cur = root
		if tail == "" {
			return cur
		}
		rest = "/" + tail
	default:
		return nil
	}

	for cur != nil && rest != "" {
		if !strings.HasPrefix(rest, "/") {
			return nil
		}
		step, tail, _ := strings.Cut(rest[1:], "/")
		tag, n, ok := parseStep(step)
		if !ok {
			return nil
		}
		cur = nthChild(cur, tag, n)
		if tail == "" {
			break
		}
		rest = "/" + tail
	}
	return cur
}

// cutIDCall parses a leading id("...") or id('...') and returns the id and
// the remainder of the path.
func cutIDCall(s string) (id, rest string, ok bool) {
	s = s[len("id("):]
	if s == "" || (s[0] != '"' && s[0] != '\'') {
		return "", "", false
	}
	q := s[0]
	end := strings.IndexByte(s[1:], q)
	if end < 0 {
		return "", "", false
	}
	id = s[1 : end+1]
	rest = s[end+2:]
	if !strings.HasPrefix(rest, ")") {
		return "", "", false
	}
	return id, rest[1:], true
}

// parseStep splits "div[3]" into ("div", 3); a bare "div" is index 1.
func parseStep(step string) (string, int, bool) {
	open := strings.IndexByte(step, '[')
	if open < 0 {
		return step, 1, step != ""
	}
	if !strings.HasSuffix(step, "]") || open == 0 {
		return "", 0, false
	}
	n, err := strconv.Atoi(step[open+1 : len(step)-1])
	if err != nil || n < 1 {
		return "", 0, false
	}
	return step[:open], n, true
}

func nthChild(parent dom.Element, tag string, n int) dom.Element {
	ix := 0
	for _, c := range parent.Children() {
		if c.TagName() != tag {
			continue
		}
		ix++
		if ix == n {
			return c
		}
	}
	return nil
}
