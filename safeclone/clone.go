package safeclone

import "golang.org/x/net/html"

// maxCloneDepth bounds the recursion of the cloner and the rewriter.
const maxCloneDepth = 1024

// cloneTree returns a detached deep copy of root. Attributes are copied into
// fresh slices so no clone node shares mutable state with the original.
func cloneTree(root *html.Node) (*html.Node, error) {
	if root == nil {
		return nil, ErrNotElement
	}
	if kindOf(root) != KindElement {
		return nil, &StructuralCloneError{Type: root.Type, Path: pathSegment(root)}
	}
	return cloneNode(root, root, 0)
}

func cloneNode(root, n *html.Node, depth int) (*html.Node, error) {
	if depth > maxCloneDepth {
		return nil, &StructuralCloneError{Type: n.Type, Path: nodePath(root, n), Reason: "subtree too deep"}
	}
	var out *html.Node
	switch kindOf(n) {
	case KindElement:
		out = &html.Node{
			Type:      html.ElementNode,
			DataAtom:  n.DataAtom,
			Data:      n.Data,
			Namespace: n.Namespace,
		}
		if len(n.Attr) > 0 {
			out.Attr = make([]html.Attribute, len(n.Attr))
			copy(out.Attr, n.Attr)
		}
	case KindText:
		return &html.Node{Type: n.Type, Data: n.Data}, nil
	default:
		return nil, &StructuralCloneError{Type: n.Type, Path: nodePath(root, n)}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		cc, err := cloneNode(root, c, depth+1)
		if err != nil {
			return nil, err
		}
		out.AppendChild(cc)
	}
	return out, nil
}
