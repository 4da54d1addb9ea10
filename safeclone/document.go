// Package safeclone produces export-safe copies of styled HTML subtrees.
//
// A Document couples a parsed page with its stylesheets. CreatePdfSafeClone
// copies a subtree, freezes every resolved color property onto the copy as
// literal !important declarations with oklch() and oklab() rewritten to
// rgb(), and mounts the copy in an offscreen container so a rasterizer can
// lay it out. The caller disposes the clone with CleanupPdfSafeClone.
package safeclone

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Document is a parsed page and the stylesheet computed from it.
type Document struct {
	root  *html.Node
	sheet *Stylesheet
	opts  Options
}

// Parse reads an HTML document and collects its stylesheets. Linked sheets
// are fetched only when opts.FetchExternal is set.
func Parse(ctx context.Context, r io.Reader, opts Options) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return NewDocument(ctx, root, opts), nil
}

// NewDocument wraps an already parsed tree. Any node of the tree may be
// passed; the document is rooted at its topmost ancestor.
func NewDocument(ctx context.Context, root *html.Node, opts Options) *Document {
	opts.defaults()
	for root != nil && root.Parent != nil {
		root = root.Parent
	}
	d := &Document{root: root, opts: opts}
	d.sheet = buildStylesheet(ctx, root, &d.opts)
	d.opts.Logger.Debug("document parsed", "rules", d.sheet.Len())
	return d
}

// Root returns the topmost node of the document.
func (d *Document) Root() *html.Node { return d.root }

// Options returns the effective options after defaults were applied.
func (d *Document) Options() Options { return d.opts }

// Stylesheet returns the rules collected from the document.
func (d *Document) Stylesheet() *Stylesheet { return d.sheet }

// Body returns the <body> element, or nil for a fragment without one.
func (d *Document) Body() *html.Node {
	var find func(*html.Node) *html.Node
	find = func(n *html.Node) *html.Node {
		if n.Type == html.ElementNode && n.DataAtom == atom.Body {
			return n
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if b := find(c); b != nil {
				return b
			}
		}
		return nil
	}
	if d.root == nil {
		return nil
	}
	return find(d.root)
}

// Query returns the first element matching selector.
func (d *Document) Query(selector string) (*html.Node, error) {
	sel, err := cascadia.Parse(selector)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidSelector, selector, err)
	}
	n := cascadia.Query(d.root, sel)
	if n == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoMatch, selector)
	}
	return n, nil
}

// QueryAll returns every element matching selector in document order.
func (d *Document) QueryAll(selector string) ([]*html.Node, error) {
	sel, err := cascadia.ParseGroup(selector)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidSelector, selector, err)
	}
	return cascadia.QueryAll(d.root, sel), nil
}

// ResolveColorProperties returns the resolved color properties of n. The
// document is not modified. Nodes outside the document and non-elements
// yield an empty snapshot.
func (d *Document) ResolveColorProperties(n *html.Node) StyleSnapshot {
	return newResolver(d.root, d.sheet, &d.opts).snapshot(n)
}

// Render writes the whole document, including mounted clones.
func (d *Document) Render(w io.Writer) error {
	return html.Render(w, d.root)
}

// String renders the document, mostly for debugging.
func (d *Document) String() string {
	var b strings.Builder
	if err := d.Render(&b); err != nil {
		return ""
	}
	return b.String()
}
