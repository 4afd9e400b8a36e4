package dom

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// skipped elements never contribute text or controls
var skipped = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"template": true,
	"svg":      true,
}

// Parse builds a tree from an outerHTML snapshot. The returned node is a
// synthetic root whose children are the snapshot's top-level elements.
func Parse(snapshot string) (*Node, error) {
	context := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(snapshot), context)
	if err != nil {
		return nil, fmt.Errorf("failed to parse snapshot: %w", err)
	}

	root := Element("#root")
	for _, hn := range nodes {
		if c := convert(hn); c != nil {
			root.Append(c)
		}
	}
	return root, nil
}

func convert(hn *html.Node) *Node {
	switch hn.Type {
	case html.TextNode:
		if strings.TrimSpace(hn.Data) == "" {
			return nil
		}
		return TextNode(hn.Data)
	case html.ElementNode:
		tag := strings.ToLower(hn.Data)
		if skipped[tag] {
			return nil
		}
		n := &Node{Tag: tag, Attrs: make(map[string]string, len(hn.Attr))}
		for _, a := range hn.Attr {
			n.Attrs[strings.ToLower(a.Key)] = a.Val
		}
		for c := hn.FirstChild; c != nil; c = c.NextSibling {
			if child := convert(c); child != nil {
				n.Append(child)
			}
		}
		return n
	default:
		return nil
	}
}
