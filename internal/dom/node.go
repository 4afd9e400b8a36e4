// Package dom is an abstract document tree the automation heuristics run on.
// Trees are built from HTML snapshots taken inside the page, so every
// heuristic here is a pure function testable without a rendering engine.
package dom

import (
	"strings"
)

// IDAttr is stamped on elements by the control script so that the host can
// address them in later commands.
const IDAttr = "data-aa-id"

// HiddenAttr is stamped on elements the page reported as not rendered
const HiddenAttr = "data-aa-hidden"

// Node is an element or a text node
type Node struct {
	Tag      string
	Text     string
	Attrs    map[string]string
	Parent   *Node
	Children []*Node
}

// IsText reports whether n is a text node
func (n *Node) IsText() bool {
	return n.Tag == ""
}

// Attr returns the attribute value or ""
func (n *Node) Attr(key string) string {
	if n == nil || n.Attrs == nil {
		return ""
	}
	return n.Attrs[key]
}

// HasAttr reports whether the attribute is present
func (n *Node) HasAttr(key string) bool {
	if n == nil || n.Attrs == nil {
		return false
	}
	_, ok := n.Attrs[key]
	return ok
}

// ID returns the control-script id of the element
func (n *Node) ID() string {
	return n.Attr(IDAttr)
}

// Classes splits the class attribute
func (n *Node) Classes() []string {
	return strings.Fields(n.Attr("class"))
}

// Append adds children and fixes their parent pointers
func (n *Node) Append(children ...*Node) *Node {
	for _, c := range children {
		c.Parent = n
		n.Children = append(n.Children, c)
	}
	return n
}

// Element builds an element node. attrs are key/value pairs.
func Element(tag string, attrs ...string) *Node {
	n := &Node{Tag: tag, Attrs: make(map[string]string, len(attrs)/2)}
	for i := 0; i+1 < len(attrs); i += 2 {
		n.Attrs[attrs[i]] = attrs[i+1]
	}
	return n
}

// TextNode builds a text node
func TextNode(text string) *Node {
	return &Node{Text: text}
}

// TextContent concatenates all descendant text, whitespace-collapsed
func (n *Node) TextContent() string {
	var b strings.Builder
	n.walk(func(c *Node) bool {
		if c.IsText() {
			b.WriteString(c.Text)
			b.WriteByte(' ')
		}
		return true
	})
	return strings.Join(strings.Fields(b.String()), " ")
}

// Label is the accessible label of a control: aria-label, then title, then
// its text content.
func (n *Node) Label() string {
	if v := strings.TrimSpace(n.Attr("aria-label")); v != "" {
		return v
	}
	if text := n.TextContent(); text != "" {
		return text
	}
	return strings.TrimSpace(n.Attr("title"))
}

// Disabled reports the disabled state as the DOM exposes it
func (n *Node) Disabled() bool {
	return n.HasAttr("disabled") || n.Attr("aria-disabled") == "true"
}

// Hidden reports whether the page flagged the element as not rendered
func (n *Node) Hidden() bool {
	return n.HasAttr(HiddenAttr)
}

// Index returns the position of n among its parent's children
func (n *Node) Index() int {
	if n.Parent == nil {
		return -1
	}
	for i, c := range n.Parent.Children {
		if c == n {
			return i
		}
	}
	return -1
}

// PrevSiblings returns preceding siblings, nearest first
func (n *Node) PrevSiblings() []*Node {
	idx := n.Index()
	if idx <= 0 {
		return nil
	}
	out := make([]*Node, 0, idx)
	for i := idx - 1; i >= 0; i-- {
		out = append(out, n.Parent.Children[i])
	}
	return out
}

// Closest returns the nearest inclusive ancestor satisfying pred
func (n *Node) Closest(pred func(*Node) bool) *Node {
	for cur := n; cur != nil; cur = cur.Parent {
		if !cur.IsText() && pred(cur) {
			return cur
		}
	}
	return nil
}

// FindAll returns every descendant element satisfying pred, in document order
func (n *Node) FindAll(pred func(*Node) bool) []*Node {
	var out []*Node
	n.walk(func(c *Node) bool {
		if c != n && !c.IsText() && pred(c) {
			out = append(out, c)
		}
		return true
	})
	return out
}

// Find returns the first descendant element satisfying pred
func (n *Node) Find(pred func(*Node) bool) *Node {
	var found *Node
	n.walk(func(c *Node) bool {
		if found != nil {
			return false
		}
		if c != n && !c.IsText() && pred(c) {
			found = c
			return false
		}
		return true
	})
	return found
}

// ByID finds the descendant (or n itself) carrying the control-script id
func (n *Node) ByID(id string) *Node {
	if n.ID() == id {
		return n
	}
	return n.Find(func(c *Node) bool { return c.ID() == id })
}

func (n *Node) walk(visit func(*Node) bool) {
	if !visit(n) {
		return
	}
	for _, c := range n.Children {
		c.walk(visit)
	}
}
