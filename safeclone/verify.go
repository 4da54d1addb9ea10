package safeclone

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// Finding is one literal declaration that still carries an unsafe color.
type Finding struct {
	Path     string `json:"path"`
	Property string `json:"property"`
	Value    string `json:"value"`
}

// DepthProperty is the Finding property for a subtree too deep to scan. Such
// a subtree cannot be proven safe.
const DepthProperty = "<depth>"

// HasUnsafeColor reports whether any node of the subtree rooted at n still
// declares an unsafe color in its literal style state: the style attribute,
// SVG color attributes and <style> element text. The cascade is not
// consulted.
func HasUnsafeColor(n *html.Node) bool {
	found := false
	scanUnsafe(n, func(*html.Node, string, string) bool {
		found = true
		return false
	})
	return found
}

// VerifyNoOklch is HasUnsafeColor. A false result means the subtree is safe
// to hand to the rasterizer.
func VerifyNoOklch(n *html.Node) bool {
	return HasUnsafeColor(n)
}

// ScanUnsafeColors lists every unsafe declaration below n in document order.
func ScanUnsafeColors(n *html.Node) []Finding {
	var out []Finding
	scanUnsafe(n, func(at *html.Node, prop, value string) bool {
		out = append(out, Finding{Path: nodePath(n, at), Property: prop, Value: value})
		return true
	})
	return out
}

// scanUnsafe calls visit for each unsafe declaration until visit returns
// false. Children below maxCloneDepth are not walked; their parent is
// reported under DepthProperty instead.
func scanUnsafe(root *html.Node, visit func(n *html.Node, prop, value string) bool) {
	if root == nil {
		return
	}
	var walk func(*html.Node, int) bool
	walk = func(n *html.Node, depth int) bool {
		if n.Type == html.ElementNode {
			for _, a := range n.Attr {
				if a.Namespace != "" || !ContainsUnsafeColor(a.Val) {
					continue
				}
				if strings.EqualFold(a.Key, "style") {
					reported := false
					for _, d := range splitInlineDeclarations(a.Val) {
						if !ContainsUnsafeColor(d.value) {
							continue
						}
						reported = true
						if !visit(n, d.property, d.value) {
							return false
						}
					}
					if !reported && !visit(n, "style", a.Val) {
						return false
					}
					continue
				}
				if isSVGColorAttribute(a.Key) && !visit(n, "@"+a.Key, a.Val) {
					return false
				}
			}
			if strings.EqualFold(n.Data, "style") {
				for c := n.FirstChild; c != nil; c = c.NextSibling {
					if c.Type == html.TextNode && ContainsUnsafeColor(c.Data) && !visit(n, "<style>", strings.TrimSpace(c.Data)) {
						return false
					}
				}
			}
		}
		if depth >= maxCloneDepth && n.FirstChild != nil {
			return visit(n, DepthProperty, fmt.Sprintf("children deeper than %d levels not scanned", maxCloneDepth))
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if !walk(c, depth+1) {
				return false
			}
		}
		return true
	}
	walk(root, 0)
}
