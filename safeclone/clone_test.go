package safeclone

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"
)

type shape struct {
	kind     NodeKind
	data     string
	attrs    []html.Attribute
	children []shape
}

// shapeOf captures the structure of a subtree. With structureOnly set the
// literal color state a rewrite may change is left out: style attributes,
// SVG color attributes and <style> text.
func shapeOf(n *html.Node, structureOnly bool) shape {
	s := shape{kind: kindOf(n), data: n.Data}
	if structureOnly && n.Type == html.TextNode && n.Parent != nil && n.Parent.Data == "style" {
		s.data = ""
	}
	for _, a := range n.Attr {
		if structureOnly && (a.Key == "style" || isSVGColorAttribute(a.Key)) {
			continue
		}
		s.attrs = append(s.attrs, a)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		s.children = append(s.children, shapeOf(c, structureOnly))
	}
	return s
}

func TestCloneTreePreservesShape(t *testing.T) {
	t.Parallel()
	doc := mustParse(t, `<html><body><section id="report" data-x="1">
		<h1 class="title">Profit &amp; loss</h1>
		<!-- totals -->
		<table><tbody><tr><td>1</td><td style="color:red">2</td></tr></tbody></table>
		<svg viewBox="0 0 10 10"><circle fill="oklch(0.7 0.1 180)" r="4"></circle></svg>
	</section></body></html>`, Options{})
	root := mustQuery(t, doc, "#report")

	cloned, err := cloneTree(root)
	require.NoError(t, err)
	assert.Nil(t, cloned.Parent)
	assert.Equal(t, shapeOf(root, false), shapeOf(cloned, false))

	svg := cloned.LastChild.PrevSibling
	require.Equal(t, "svg", svg.Data)
	assert.Equal(t, "svg", svg.Namespace)
}

func TestCloneTreeIsIndependent(t *testing.T) {
	t.Parallel()
	doc := mustParse(t, `<div id="a" title="t"><span>x</span></div>`, Options{})
	root := mustQuery(t, doc, "#a")
	cloned, err := cloneTree(root)
	require.NoError(t, err)

	root.Attr[0].Val = "changed"
	root.FirstChild.FirstChild.Data = "mutated"
	root.AppendChild(&html.Node{Type: html.TextNode, Data: "late"})

	assert.Equal(t, "a", getAttr(cloned, "id"))
	assert.Equal(t, "x", cloned.FirstChild.FirstChild.Data)
	assert.Nil(t, cloned.FirstChild.NextSibling)
}

func TestCloneTreeDeep(t *testing.T) {
	t.Parallel()
	var b strings.Builder
	const depth = 200
	for i := 0; i < depth; i++ {
		b.WriteString(`<div class="lvl">`)
	}
	b.WriteString("leaf")
	for i := 0; i < depth; i++ {
		b.WriteString(`</div>`)
	}
	doc := mustParse(t, "<body>"+b.String()+"</body>", Options{})
	root := mustQuery(t, doc, "body > div")

	cloned, err := cloneTree(root)
	require.NoError(t, err)
	assert.Equal(t, shapeOf(root, false), shapeOf(cloned, false))
}

func TestCloneTreeRejectsUnsupportedKinds(t *testing.T) {
	t.Parallel()
	_, err := cloneTree(nil)
	assert.ErrorIs(t, err, ErrNotElement)

	docNode := &html.Node{Type: html.DocumentNode}
	_, err = cloneTree(docNode)
	var sce *StructuralCloneError
	require.True(t, errors.As(err, &sce))
	assert.Equal(t, html.DocumentNode, sce.Type)

	div := &html.Node{Type: html.ElementNode, Data: "div"}
	inner := &html.Node{Type: html.ElementNode, Data: "p"}
	div.AppendChild(inner)
	inner.AppendChild(&html.Node{Type: html.RawNode, Data: "<b>"})
	_, err = cloneTree(div)
	assert.ErrorIs(t, err, ErrStructuralClone)
	require.True(t, errors.As(err, &sce))
	assert.Equal(t, "div>p>#raw", sce.Path)
	assert.Contains(t, err.Error(), "raw")
}

func TestKindOf(t *testing.T) {
	t.Parallel()
	assert.Equal(t, KindElement, kindOf(&html.Node{Type: html.ElementNode}))
	assert.Equal(t, KindText, kindOf(&html.Node{Type: html.TextNode}))
	assert.Equal(t, KindText, kindOf(&html.Node{Type: html.CommentNode}))
	assert.Equal(t, KindUnsupported, kindOf(&html.Node{Type: html.DoctypeNode}))
	assert.Equal(t, "element", KindElement.String())
}
