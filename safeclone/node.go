package safeclone

import (
	"errors"
	"fmt"
	"strings"

	"github.com/aymerick/douceur/parser"
	"golang.org/x/net/html"
)

// NodeKind classifies the nodes a cloned subtree may contain.
type NodeKind uint8

const (
	KindUnsupported NodeKind = iota
	KindElement
	KindText
)

func (k NodeKind) String() string {
	switch k {
	case KindElement:
		return "element"
	case KindText:
		return "text"
	default:
		return "unsupported"
	}
}

// kindOf maps an html node type to its NodeKind. Comments are literal
// character data and are copied like text.
func kindOf(n *html.Node) NodeKind {
	switch n.Type {
	case html.ElementNode:
		return KindElement
	case html.TextNode, html.CommentNode:
		return KindText
	default:
		return KindUnsupported
	}
}

var (
	// ErrStructuralClone is matched by every *StructuralCloneError.
	ErrStructuralClone = errors.New("safeclone: unsupported node in subtree")
	// ErrDisposed is returned when a disposed clone is used.
	ErrDisposed = errors.New("safeclone: clone disposed")
	// ErrNoMatch is returned by Query when no element matches.
	ErrNoMatch = errors.New("safeclone: no element matches selector")
	// ErrInvalidSelector is returned by Query and QueryAll for selectors
	// that do not parse.
	ErrInvalidSelector = errors.New("safeclone: invalid selector")
	// ErrNotElement is returned when a clone root is not an element.
	ErrNotElement = errors.New("safeclone: root is not an element")
	// ErrUnmountableRoot is returned for html, head and body roots. A copy
	// of one cannot live inside the offscreen container div.
	ErrUnmountableRoot = errors.New("safeclone: root cannot be mounted in a container")
)

// StructuralCloneError reports a node the cloner cannot copy.
type StructuralCloneError struct {
	Type html.NodeType
	// Path locates the node below the clone root, e.g. "div>ul>li[2]".
	Path string
	// Reason is set when the subtree is rejected for something other than
	// its node type, such as excessive depth.
	Reason string
}

func (e *StructuralCloneError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("safeclone: cannot clone %s: %s", e.Path, e.Reason)
	}
	return fmt.Sprintf("safeclone: cannot clone %s node at %s", nodeTypeName(e.Type), e.Path)
}

func (e *StructuralCloneError) Unwrap() error { return ErrStructuralClone }

func nodeTypeName(t html.NodeType) string {
	switch t {
	case html.DocumentNode:
		return "document"
	case html.DoctypeNode:
		return "doctype"
	case html.RawNode:
		return "raw"
	case html.ErrorNode:
		return "error"
	case html.ElementNode:
		return "element"
	case html.TextNode:
		return "text"
	case html.CommentNode:
		return "comment"
	}
	return "unknown"
}

// nodePath renders a short selector-like path for diagnostics: tag names
// joined by ">", with a 1-based index among same-tag siblings when needed.
func nodePath(root, n *html.Node) string {
	var parts []string
	for cur := n; cur != nil; cur = cur.Parent {
		parts = append(parts, pathSegment(cur))
		if cur == root {
			break
		}
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, ">")
}

func pathSegment(n *html.Node) string {
	name := n.Data
	switch n.Type {
	case html.TextNode:
		name = "#text"
	case html.CommentNode:
		name = "#comment"
	case html.DocumentNode:
		return "#document"
	case html.DoctypeNode:
		return "#doctype"
	case html.RawNode:
		return "#raw"
	}
	if n.Parent == nil {
		return name
	}
	idx, same := 0, 0
	for c := n.Parent.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == n.Type && c.Data == n.Data {
			same++
			if c == n {
				idx = same
			}
		}
	}
	if same > 1 {
		return fmt.Sprintf("%s[%d]", name, idx)
	}
	return name
}

func getAttr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}

func setAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, key) {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func removeAttr(n *html.Node, key string) {
	out := n.Attr[:0]
	for _, a := range n.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, key) {
			continue
		}
		out = append(out, a)
	}
	n.Attr = out
}

// parseInlineDeclarations parses the contents of a style attribute.
func parseInlineDeclarations(text string) []cssDeclaration {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	// The declaration parser drops the value of a final declaration that
	// is not terminated.
	if !strings.HasSuffix(text, ";") {
		text += ";"
	}
	decls, err := parser.ParseDeclarations(text)
	if err != nil {
		return splitInlineDeclarations(text)
	}
	return convertDeclarations(decls)
}

// splitInlineDeclarations is the lenient fallback for style attributes the
// parser rejects. Semicolons inside parentheses or quotes do not split.
func splitInlineDeclarations(text string) []cssDeclaration {
	var out []cssDeclaration
	for _, part := range splitTopLevel(text, ';') {
		kv := strings.SplitN(part, ":", 2)
		if len(kv) != 2 {
			continue
		}
		prop := normalizePropertyName(kv[0])
		val := strings.TrimSpace(kv[1])
		important := false
		if i := strings.LastIndex(strings.ToLower(val), "!important"); i >= 0 && strings.TrimSpace(val[i+len("!important"):]) == "" {
			important = true
			val = strings.TrimSpace(val[:i])
		}
		if prop == "" || val == "" {
			continue
		}
		out = append(out, cssDeclaration{property: prop, value: val, important: important})
	}
	return out
}

func splitTopLevel(s string, sep byte) []string {
	var parts []string
	depth := 0
	var quote byte
	start := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == '(':
			depth++
		case c == ')':
			if depth > 0 {
				depth--
			}
		case c == sep && depth == 0:
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		parts = append(parts, s[start:])
	}
	return parts
}

// inlineStyle is an editable, order preserving style attribute.
type inlineStyle struct {
	decls []cssDeclaration
}

func readInlineStyle(n *html.Node) *inlineStyle {
	return &inlineStyle{decls: parseInlineDeclarations(getAttr(n, "style"))}
}

func (s *inlineStyle) set(prop, value string, important bool) {
	for i := range s.decls {
		if s.decls[i].property == prop {
			s.decls[i].value = value
			s.decls[i].important = important
			return
		}
	}
	s.decls = append(s.decls, cssDeclaration{property: prop, value: value, important: important})
}

func (s *inlineStyle) get(prop string) (cssDeclaration, bool) {
	for _, d := range s.decls {
		if d.property == prop {
			return d, true
		}
	}
	return cssDeclaration{}, false
}

func (s *inlineStyle) String() string {
	var b strings.Builder
	for i, d := range s.decls {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(d.property)
		b.WriteString(": ")
		b.WriteString(d.value)
		if d.important {
			b.WriteString(" !important")
		}
	}
	return b.String()
}

func (s *inlineStyle) apply(n *html.Node) {
	if len(s.decls) == 0 {
		removeAttr(n, "style")
		return
	}
	setAttr(n, "style", s.String())
}
