package safeclone

import (
	"sort"
	"strings"

	"golang.org/x/net/html"
)

// RewriteStats counts what one rewrite pass touched.
type RewriteStats struct {
	Elements     int `json:"elements"`
	TextNodes    int `json:"text_nodes"`
	Declarations int `json:"declarations"`
	// Converted is the number of unsafe color occurrences rewritten.
	Converted int `json:"converted"`
	// Unparseable is the number of occurrences Normalize could not read.
	// Under FallbackBlack each of them was replaced.
	Unparseable int `json:"unparseable"`
}

type rewriter struct {
	res   *resolver
	opts  *Options
	stats RewriteStats
}

func newRewriter(res *resolver, opts *Options) *rewriter {
	return &rewriter{res: res, opts: opts}
}

// rewrite freezes the resolved color properties of original onto clone.
// Both trees are walked in the same depth-first order, so the n-th node of
// one corresponds to the n-th node of the other.
func (rw *rewriter) rewrite(original, clone *html.Node) error {
	if err := rw.walk(original, clone, original, 0); err != nil {
		return err
	}
	rw.freezeCustom(clone, rw.res.customProperties(original), nil)
	return nil
}

func (rw *rewriter) walk(orig, clone, root *html.Node, depth int) error {
	if depth > maxCloneDepth {
		return &StructuralCloneError{Type: orig.Type, Path: nodePath(root, orig), Reason: "subtree too deep"}
	}
	kind := kindOf(orig)
	if kind != kindOf(clone) || (kind == KindElement && orig.Data != clone.Data) {
		return &StructuralCloneError{Type: clone.Type, Path: nodePath(root, orig), Reason: "clone does not match original"}
	}
	switch kind {
	case KindText:
		rw.stats.TextNodes++
		return nil
	case KindElement:
		rw.rewriteElement(orig, clone)
	default:
		return &StructuralCloneError{Type: orig.Type, Path: nodePath(root, orig)}
	}

	oc, cc := orig.FirstChild, clone.FirstChild
	for oc != nil && cc != nil {
		if err := rw.walk(oc, cc, root, depth+1); err != nil {
			return err
		}
		oc, cc = oc.NextSibling, cc.NextSibling
	}
	if oc != nil || cc != nil {
		return &StructuralCloneError{Type: orig.Type, Path: nodePath(root, orig), Reason: "child count differs"}
	}
	return nil
}

func (rw *rewriter) rewriteElement(orig, clone *html.Node) {
	rw.stats.Elements++

	style := readInlineStyle(clone)
	for i, d := range style.decls {
		style.decls[i].value = rw.normalize(d.value, d.property)
	}

	// Custom properties that differ from the parent's were declared here.
	if orig.Parent != nil && orig.Parent.Type == html.ElementNode {
		rw.freezeCustomInto(style, rw.res.customProperties(orig), rw.res.customProperties(orig.Parent))
	}

	snap := rw.res.snapshot(orig)
	for _, p := range snap.props {
		style.set(p.Name, rw.normalize(p.Value, p.Name), true)
		rw.stats.Declarations++
	}
	style.apply(clone)

	for i, a := range clone.Attr {
		if a.Namespace == "" && a.Key != "style" && isSVGColorAttribute(a.Key) && ContainsUnsafeColor(a.Val) {
			clone.Attr[i].Val = rw.normalize(a.Val, a.Key)
		}
	}

	if strings.EqualFold(clone.Data, "style") {
		for c := clone.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.TextNode && ContainsUnsafeColor(c.Data) {
				c.Data = rw.normalize(c.Data, "<style>")
			}
		}
	}
}

// freezeCustom writes the unsafe custom properties of visible that are not
// identical in inherited onto n's inline style.
func (rw *rewriter) freezeCustom(n *html.Node, visible, inherited map[string]string) {
	if len(visible) == 0 {
		return
	}
	style := readInlineStyle(n)
	if rw.freezeCustomInto(style, visible, inherited) {
		style.apply(n)
	}
}

func (rw *rewriter) freezeCustomInto(style *inlineStyle, visible, inherited map[string]string) bool {
	names := make([]string, 0, len(visible))
	for name, v := range visible {
		if !ContainsUnsafeColor(v) {
			continue
		}
		if pv, ok := inherited[name]; ok && pv == v {
			continue
		}
		names = append(names, name)
	}
	if len(names) == 0 {
		return false
	}
	sort.Strings(names)
	for _, name := range names {
		style.set(name, rw.normalize(visible[name], name), true)
		rw.stats.Declarations++
	}
	return true
}

func (rw *rewriter) normalize(value, property string) string {
	fallback := ""
	if rw.opts.Fallback == FallbackBlack {
		fallback = defaultTextColor
	}
	out, converted, failed := normalizeCounted(value, fallback)
	rw.stats.Converted += converted
	if failed > 0 {
		rw.stats.Unparseable += failed
		rw.opts.Logger.Debug("unparseable color", "property", property, "value", value, "fallback", string(rw.opts.Fallback))
	}
	return out
}
