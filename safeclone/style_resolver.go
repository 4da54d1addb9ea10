package safeclone

import (
	"strings"

	"github.com/gorilla/css/scanner"
	"golang.org/x/net/html"
)

// Property is one resolved declaration of a StyleSnapshot.
type Property struct {
	Name  string
	Value string
}

// StyleSnapshot is the resolved value of every color property of a node, in
// ColorProperties order. The zero value is the empty snapshot.
type StyleSnapshot struct {
	props []Property
}

// Len returns the number of properties, 0 for an unresolvable node.
func (s StyleSnapshot) Len() int { return len(s.props) }

// Get returns the resolved value of name.
func (s StyleSnapshot) Get(name string) (string, bool) {
	for _, p := range s.props {
		if p.Name == name {
			return p.Value, true
		}
	}
	return "", false
}

// Properties returns a copy of the ordered properties.
func (s StyleSnapshot) Properties() []Property {
	return append([]Property(nil), s.props...)
}

type computedStyle struct {
	// values holds one entry per colorProperties index. currentcolor is
	// kept as a keyword so inherited values refer to the inheriting node.
	values []string
	custom map[string]string
}

// resolver computes styles for one pass over a document. Results are
// memoized per node; a resolver must not outlive the tree mutation it was
// created for.
type resolver struct {
	docRoot *html.Node
	sheet   *Stylesheet
	opts    *Options
	memo    map[*html.Node]*computedStyle
}

func newResolver(docRoot *html.Node, sheet *Stylesheet, opts *Options) *resolver {
	return &resolver{docRoot: docRoot, sheet: sheet, opts: opts, memo: map[*html.Node]*computedStyle{}}
}

func (r *resolver) connected(n *html.Node) bool {
	top := n
	for top.Parent != nil {
		top = top.Parent
	}
	return top == r.docRoot
}

// snapshot resolves the color properties of n. Text nodes, detached nodes
// and nodes of other documents yield an empty snapshot.
func (r *resolver) snapshot(n *html.Node) StyleSnapshot {
	if n == nil || n.Type != html.ElementNode || !r.connected(n) {
		return StyleSnapshot{}
	}
	cs := r.compute(n)
	color := cs.values[0]
	props := make([]Property, len(colorProperties))
	for i, p := range colorProperties {
		v := cs.values[i]
		if i > 0 {
			v = replaceCurrentColor(v, color)
		}
		props[i] = Property{Name: p.name, Value: v}
	}
	return StyleSnapshot{props: props}
}

// customProperties returns the custom properties visible on n.
func (r *resolver) customProperties(n *html.Node) map[string]string {
	if n == nil || n.Type != html.ElementNode || !r.connected(n) {
		return nil
	}
	return r.compute(n).custom
}

func (r *resolver) compute(n *html.Node) *computedStyle {
	if cs, ok := r.memo[n]; ok {
		return cs
	}
	var parent *computedStyle
	if n.Parent != nil && n.Parent.Type == html.ElementNode {
		parent = r.compute(n.Parent)
	}
	declared := declaredStyle(n, r.sheet)

	cs := &computedStyle{
		values: make([]string, len(colorProperties)),
		custom: r.resolveCustom(declared, parent),
	}
	lookup := func(name string) (string, bool) {
		v, ok := cs.custom[name]
		return v, ok
	}

	for i, p := range colorProperties {
		inheritedValue := p.initial
		if parent != nil {
			inheritedValue = parent.values[i]
		}
		st, ok := declared[p.name]
		if !ok {
			if p.inherited {
				cs.values[i] = inheritedValue
			} else {
				cs.values[i] = p.initial
			}
			continue
		}

		value, valid := substituteVars(st.val, lookup)
		if valid && st.shorthand != "" {
			value = extractLonghand(st.shorthand, p.name, value)
			if value == "" {
				value = p.initial
			}
		}
		if !valid {
			r.opts.Logger.Debug("invalid at computed-value time", "property", p.name, "value", st.val)
			value = "unset"
		}

		switch strings.ToLower(strings.TrimSpace(value)) {
		case "inherit":
			value = inheritedValue
		case "initial":
			value = p.initial
		case "unset", "revert", "revert-layer":
			if p.inherited {
				value = inheritedValue
			} else {
				value = p.initial
			}
		case "currentcolor":
			if i == 0 {
				value = inheritedValue
			}
		}
		cs.values[i] = value
	}

	r.memo[n] = cs
	return cs
}

// resolveCustom computes the custom properties of a node from its declared
// ones and the inherited set. Reference cycles make every participant
// invalid, which leaves it unset.
func (r *resolver) resolveCustom(declared map[string]propState, parent *computedStyle) map[string]string {
	out := map[string]string{}
	if parent != nil {
		for k, v := range parent.custom {
			out[k] = v
		}
	}
	const (
		pending = iota
		visiting
		done
	)
	state := map[string]int{}
	var resolve func(string) (string, bool)
	resolve = func(name string) (string, bool) {
		st, own := declared[name]
		if !own {
			v, ok := out[name]
			return v, ok
		}
		switch state[name] {
		case visiting:
			return "", false
		case done:
			v, ok := out[name]
			return v, ok
		}
		state[name] = visiting
		var (
			value string
			ok    bool
		)
		switch strings.ToLower(strings.TrimSpace(st.val)) {
		case "inherit", "unset", "revert", "revert-layer":
			if parent != nil {
				value, ok = parent.custom[name]
			}
		case "initial":
		default:
			value, ok = substituteVars(st.val, resolve)
		}
		if ok {
			out[name] = value
		} else {
			delete(out, name)
			if strings.Contains(st.val, "var(") {
				r.opts.Logger.Debug("custom property unresolved", "name", name, "value", st.val)
			}
		}
		state[name] = done
		return value, ok
	}
	for name := range declared {
		if isCustomProperty(name) {
			resolve(name)
		}
	}
	return out
}

// substituteVars replaces every var(--name[, fallback]) in value. It fails
// when a reference has neither a value nor a fallback.
func substituteVars(value string, lookup func(string) (string, bool)) (string, bool) {
	if !strings.Contains(strings.ToLower(value), "var(") {
		return strings.TrimSpace(value), true
	}
	toks, ok := tokenize(value)
	if !ok {
		return "", false
	}
	var b strings.Builder
	for i := 0; i < len(toks); i++ {
		t := toks[i]
		if t.Type != scanner.TokenFunction || !strings.EqualFold(t.Value, "var(") {
			b.WriteString(t.Value)
			continue
		}
		end := matchingParen(toks, i)
		if end < 0 {
			return "", false
		}
		var inner strings.Builder
		writeTokens(&inner, toks[i+1:end])
		args := splitTopLevelOnce(inner.String(), ',')
		name := strings.TrimSpace(args[0])
		if !isCustomProperty(name) {
			return "", false
		}
		if v, found := lookup(name); found {
			b.WriteString(v)
		} else if len(args) == 2 {
			fb, ok := substituteVars(args[1], lookup)
			if !ok {
				return "", false
			}
			b.WriteString(fb)
		} else {
			return "", false
		}
		i = end
	}
	return strings.TrimSpace(b.String()), true
}

// splitTopLevelOnce splits s at the first sep outside parentheses.
func splitTopLevelOnce(s string, sep byte) []string {
	depth := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			if depth > 0 {
				depth--
			}
		case sep:
			if depth == 0 {
				return []string{s[:i], s[i+1:]}
			}
		}
	}
	return []string{s}
}

// replaceCurrentColor substitutes the currentcolor keyword, in any case,
// with color.
func replaceCurrentColor(value, color string) string {
	if !strings.Contains(strings.ToLower(value), "currentcolor") {
		return value
	}
	toks, ok := tokenize(value)
	if !ok {
		return value
	}
	var b strings.Builder
	for _, t := range toks {
		if t.Type == scanner.TokenIdent && strings.EqualFold(t.Value, "currentcolor") {
			b.WriteString(color)
			continue
		}
		b.WriteString(t.Value)
	}
	return b.String()
}

// extractLonghand returns the part of a shorthand value that sets longhand,
// or "" when the shorthand leaves it at its initial value.
func extractLonghand(shorthand, longhand, value string) string {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "inherit", "initial", "unset", "revert", "revert-layer":
		return value
	}
	switch shorthand {
	case "background":
		layers := splitTopLevel(value, ',')
		if longhand == "background-color" {
			if len(layers) == 0 {
				return ""
			}
			return firstColorComponent(layers[len(layers)-1])
		}
		images := make([]string, 0, len(layers))
		found := false
		for _, layer := range layers {
			img := "none"
			for _, c := range splitComponents(layer) {
				if isImageComponent(c) {
					img = c
					found = true
					break
				}
			}
			images = append(images, img)
		}
		if !found {
			return ""
		}
		return strings.Join(images, ", ")
	case "border-color":
		comps := splitComponents(value)
		if len(comps) == 0 || len(comps) > 4 {
			return ""
		}
		// top right bottom left, with the usual 1-4 value expansion
		var box [4]string
		switch len(comps) {
		case 1:
			box = [4]string{comps[0], comps[0], comps[0], comps[0]}
		case 2:
			box = [4]string{comps[0], comps[1], comps[0], comps[1]}
		case 3:
			box = [4]string{comps[0], comps[1], comps[2], comps[1]}
		case 4:
			box = [4]string{comps[0], comps[1], comps[2], comps[3]}
		}
		switch longhand {
		case "border-top-color":
			return box[0]
		case "border-right-color":
			return box[1]
		case "border-bottom-color":
			return box[2]
		case "border-left-color":
			return box[3]
		}
		return ""
	default:
		return firstColorComponent(value)
	}
}

func firstColorComponent(value string) string {
	for _, c := range splitComponents(value) {
		if isColorComponent(c) {
			return c
		}
	}
	return ""
}

// splitComponents splits a value on top-level whitespace.
func splitComponents(value string) []string {
	var out []string
	depth := 0
	var quote byte
	start := -1
	flush := func(end int) {
		if start >= 0 {
			out = append(out, value[start:end])
			start = -1
		}
	}
	for i := 0; i < len(value); i++ {
		c := value[i]
		switch {
		case quote != 0:
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
			if start < 0 {
				start = i
			}
		case c == '(':
			depth++
			if start < 0 {
				start = i
			}
		case c == ')':
			if depth > 0 {
				depth--
			}
		case depth == 0 && (c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f'):
			flush(i)
		default:
			if start < 0 {
				start = i
			}
		}
	}
	flush(len(value))
	return out
}

func componentFunctionName(component string) string {
	open := strings.IndexByte(component, '(')
	if open <= 0 || !strings.HasSuffix(component, ")") {
		return ""
	}
	return strings.ToLower(component[:open])
}

func isColorComponent(c string) bool {
	lower := strings.ToLower(strings.TrimSpace(c))
	switch {
	case lower == "":
		return false
	case strings.HasPrefix(lower, "#"):
		_, ok := parseHexColor(lower)
		return ok
	case lower == "currentcolor":
		return true
	}
	if fn := componentFunctionName(lower); fn != "" {
		return colorFunctions[fn]
	}
	_, ok := parseNamedColor(lower)
	return ok
}

func isImageComponent(c string) bool {
	return imageFunctions[componentFunctionName(strings.TrimSpace(c))]
}
