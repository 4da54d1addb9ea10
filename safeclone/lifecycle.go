package safeclone

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// ContainerAttr marks the offscreen mount point of a clone.
const ContainerAttr = "data-pdf-safe-container"

// State is the lifecycle position of a Clone.
type State uint8

const (
	StateCreated State = iota
	StateAttached
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateAttached:
		return "attached"
	case StateDisposed:
		return "disposed"
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// Clone is an export-safe copy of a subtree. It has a single owner; the
// owner must dispose it with CleanupPdfSafeClone or Close.
type Clone struct {
	doc       *Document
	root      *html.Node
	container *html.Node
	id        string
	state     State
	stats     RewriteStats
}

// CreatePdfSafeClone copies root, freezes its resolved colors onto the copy
// and mounts the copy in an offscreen container appended to the document
// body. The original subtree is not modified. Document-level roots (html,
// head, body) are rejected with ErrUnmountableRoot.
func (d *Document) CreatePdfSafeClone(root *html.Node) (*Clone, error) {
	if root == nil || root.Type != html.ElementNode {
		return nil, ErrNotElement
	}
	switch root.DataAtom {
	case atom.Html, atom.Head, atom.Body:
		return nil, fmt.Errorf("%w: <%s>", ErrUnmountableRoot, root.Data)
	}
	cloned, err := cloneTree(root)
	if err != nil {
		return nil, err
	}
	rw := newRewriter(newResolver(d.root, d.sheet, &d.opts), &d.opts)
	if err := rw.rewrite(root, cloned); err != nil {
		return nil, err
	}

	c := &Clone{
		doc:   d,
		root:  cloned,
		id:    "pdf-safe-" + uuid.NewString(),
		state: StateCreated,
		stats: rw.stats,
	}
	c.attach()
	d.opts.Logger.Debug("pdf-safe clone attached",
		"id", c.id,
		"elements", c.stats.Elements,
		"converted", c.stats.Converted,
		"unparseable", c.stats.Unparseable,
	)
	return c, nil
}

func (c *Clone) attach() {
	c.container = &html.Node{
		Type:     html.ElementNode,
		DataAtom: atom.Div,
		Data:     "div",
		Attr: []html.Attribute{
			{Key: "id", Val: c.id},
			{Key: ContainerAttr, Val: ""},
			{Key: "aria-hidden", Val: "true"},
			{Key: "style", Val: fmt.Sprintf(
				"position:absolute;left:%s;top:0;width:%dpx;pointer-events:none",
				c.doc.opts.ContainerOffset, c.doc.opts.ViewportWidth)},
		},
	}
	c.container.AppendChild(c.root)
	if body := c.doc.Body(); body != nil {
		body.AppendChild(c.container)
	}
	c.state = StateAttached
}

// CleanupPdfSafeClone detaches the clone and removes its container from the
// document. It is a no-op for nil and already disposed clones.
func CleanupPdfSafeClone(c *Clone) {
	if c == nil || c.state == StateDisposed {
		return
	}
	if c.container != nil && c.container.Parent != nil {
		c.container.Parent.RemoveChild(c.container)
	}
	if c.root != nil && c.root.Parent != nil {
		c.root.Parent.RemoveChild(c.root)
	}
	c.state = StateDisposed
	c.doc.opts.Logger.Debug("pdf-safe clone disposed", "id", c.id)
}

// Close implements io.Closer by disposing the clone.
func (c *Clone) Close() error {
	CleanupPdfSafeClone(c)
	return nil
}

// WithPdfSafeClone creates a clone of root, passes it to fn and disposes it
// on every exit path, including panics. fn is not called when ctx is
// already done.
func (d *Document) WithPdfSafeClone(ctx context.Context, root *html.Node, fn func(context.Context, *Clone) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c, err := d.CreatePdfSafeClone(root)
	if err != nil {
		return err
	}
	defer CleanupPdfSafeClone(c)
	if err := fn(ctx, c); err != nil {
		return err
	}
	return ctx.Err()
}

// Root returns the cloned subtree root.
func (c *Clone) Root() *html.Node { return c.root }

// Container returns the offscreen mount point.
func (c *Clone) Container() *html.Node { return c.container }

// ContainerID is the id attribute of the offscreen container.
func (c *Clone) ContainerID() string { return c.id }

// State returns the lifecycle state.
func (c *Clone) State() State { return c.state }

// Stats returns what the rewrite pass changed.
func (c *Clone) Stats() RewriteStats { return c.stats }

// Document returns the document the clone is mounted in.
func (c *Clone) Document() *Document { return c.doc }

// Render writes the clone subtree as an HTML fragment.
func (c *Clone) Render(w io.Writer) error {
	if c.state == StateDisposed {
		return ErrDisposed
	}
	return html.Render(w, c.root)
}

// Findings scans the clone for leftover unsafe colors.
func (c *Clone) Findings() ([]Finding, error) {
	if c.state == StateDisposed {
		return nil, ErrDisposed
	}
	return ScanUnsafeColors(c.root), nil
}
