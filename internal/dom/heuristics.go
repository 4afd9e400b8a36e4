package dom

import (
	"strings"
)

// Limits for the nearby-command search
const (
	DefaultAncestorDepth  = 6
	DefaultSiblingBreadth = 8
	maxCommandTextLength  = 4000
)

var codeTags = map[string]bool{
	"pre":  true,
	"code": true,
}

var codeClassHints = []string{
	"code",
	"terminal",
	"command",
	"shell",
	"monaco",
	"hljs",
}

// IsInteractive reports whether n is something a user can activate
func IsInteractive(n *Node) bool {
	if n == nil || n.IsText() {
		return false
	}
	switch n.Tag {
	case "button":
		return true
	case "a":
		return n.HasAttr("href") || n.Attr("role") == "button"
	}
	switch n.Attr("role") {
	case "button", "menuitem", "link", "tab":
		return true
	}
	return n.HasAttr("onclick") || (n.Attr("tabindex") == "0" && n.HasAttr(IDAttr))
}

// InteractiveTarget resolves n to its nearest interactive ancestor so that a
// label span and its button are treated as one control.
func InteractiveTarget(n *Node) *Node {
	if t := n.Closest(IsInteractive); t != nil {
		return t
	}
	return n
}

// IsCodeBlock reports whether n looks like a rendered code or command block
func IsCodeBlock(n *Node) bool {
	if n == nil || n.IsText() {
		return false
	}
	if codeTags[n.Tag] {
		return true
	}
	for _, cls := range n.Classes() {
		lower := strings.ToLower(cls)
		for _, hint := range codeClassHints {
			if strings.Contains(lower, hint) {
				return true
			}
		}
	}
	return false
}

// NearbyCommandText finds the command a run control refers to. It walks up
// to depth ancestors; at each level it scans at most breadth preceding
// siblings, nearest first, for code-like blocks. The first non-empty block
// wins.
func NearbyCommandText(control *Node, depth, breadth int) string {
	if control == nil {
		return ""
	}
	if depth <= 0 {
		depth = DefaultAncestorDepth
	}
	if breadth <= 0 {
		breadth = DefaultSiblingBreadth
	}

	cur := control
	for level := 0; level < depth && cur != nil; level++ {
		siblings := cur.PrevSiblings()
		if len(siblings) > breadth {
			siblings = siblings[:breadth]
		}
		for _, sib := range siblings {
			if text := codeText(sib); text != "" {
				return text
			}
		}
		cur = cur.Parent
	}
	return ""
}

// codeText returns the text of the last code block in n (inclusive)
func codeText(n *Node) string {
	if n.IsText() {
		return ""
	}
	if IsCodeBlock(n) {
		return clip(n.TextContent())
	}
	blocks := n.FindAll(IsCodeBlock)
	for i := len(blocks) - 1; i >= 0; i-- {
		if text := clip(blocks[i].TextContent()); text != "" {
			return text
		}
	}
	return ""
}

func clip(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxCommandTextLength {
		return s[:maxCommandTextLength]
	}
	return s
}
