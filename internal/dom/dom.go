// Package dom defines the element locator capability the capture layer
// needs from a live document: tree navigation, attributes, geometry and
// CSS queries. Implementations wrap a concrete DOM; see dom/htmldom.
package dom

// Rect is an element's bounding box in viewport coordinates.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Contains reports whether the point (x, y) lies inside r.
func (r Rect) Contains(x, y float64) bool {
	return x >= r.X && x <= r.X+r.Width && y >= r.Y && y <= r.Y+r.Height
}

// Empty reports whether r has no area.
func (r Rect) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}

// Attr is one element attribute in document order.
type Attr struct {
	Name  string
	Value string
}

// Element is a DOM element. Implementations return the same Element value
// for the same underlying node so elements compare with ==.
type Element interface {
	// TagName is the lower-case local name ("div", "input").
	TagName() string
	ID() string
	Attr(name string) (string, bool)
	Attrs() []Attr
	Classes() []string
	// Parent is the parent element, nil for the document element.
	Parent() Element
	Children() []Element
	// Text is the concatenated text content.
	Text() string
	Rect() Rect
	// Connected reports whether the element is attached to its document.
	Connected() bool
}

// Document is a queryable element tree.
type Document interface {
	// Root is the document element (<html>).
	Root() Element
	// ElementByID returns the first element in document order with the id, or nil.
	ElementByID(id string) Element
	// QueryAll returns the elements matching a CSS selector in document order.
	QueryAll(selector string) ([]Element, error)
}

// IsInputCapable reports whether el accepts text or option input.
func IsInputCapable(el Element) bool {
	if el == nil {
		return false
	}
	switch el.TagName() {
	case "input", "textarea", "select":
		return true
	}
	if v, ok := el.Attr("contenteditable"); ok && v != "false" {
		return true
	}
	return false
}
