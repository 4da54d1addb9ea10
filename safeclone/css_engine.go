package safeclone

import (
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/andybalholm/cascadia"
	cssast "github.com/aymerick/douceur/css"
	"github.com/aymerick/douceur/parser"
	"golang.org/x/net/html"
)

const maxImportDepth = 16

type propState struct {
	val       string
	spec      cascadia.Specificity
	order     int
	important bool
	// shorthand is set when val is the raw value of a shorthand that still
	// has to be split after var() substitution.
	shorthand string
}

type cssDeclaration struct {
	property  string
	value     string
	important bool
}

type cssRule struct {
	selector     cascadia.Sel
	specificity  cascadia.Specificity
	declarations []cssDeclaration
	order        int
}

// Stylesheet is the ordered rule set collected from a document.
type Stylesheet struct {
	rules []cssRule
}

// Len returns the number of selector rules.
func (ss *Stylesheet) Len() int {
	if ss == nil {
		return 0
	}
	return len(ss.rules)
}

type cssParseContext struct {
	baseURL string
	opts    *Options
	depth   int
	visited map[string]struct{}
	budget  *int
}

func (ctx *cssParseContext) child(newBase string) *cssParseContext {
	next := *ctx
	next.baseURL = newBase
	next.depth = ctx.depth + 1
	return &next
}

func buildStylesheet(ctx context.Context, doc *html.Node, opts *Options) *Stylesheet {
	ss := &Stylesheet{}
	if doc == nil {
		return ss
	}
	order := 0
	budget := opts.MaxStylesheets
	pctx := &cssParseContext{
		baseURL: opts.BaseURL,
		opts:    opts,
		visited: map[string]struct{}{},
		budget:  &budget,
	}

	// Inline <style> blocks and <link> sheets are applied in document order.
	var collect func(*html.Node)
	collect = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch strings.ToLower(n.Data) {
			case "style":
				if isActiveStyleElement(n, opts) && n.FirstChild != nil && n.FirstChild.Type == html.TextNode {
					if rs, ord := parseCSSText(ctx, n.FirstChild.Data, order, pctx); len(rs) > 0 {
						ss.rules = append(ss.rules, rs...)
						order = ord
					}
				}
			case "link":
				if href := stylesheetHref(n, opts); href != "" {
					if rs, ord := fetchAndParse(ctx, href, order, pctx); len(rs) > 0 {
						ss.rules = append(ss.rules, rs...)
						order = ord
					}
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			collect(c)
		}
	}
	collect(doc)
	return ss
}

func isActiveStyleElement(n *html.Node, opts *Options) bool {
	media := strings.TrimSpace(getAttr(n, "media"))
	return media == "" || mediaRuleActive(media, opts)
}

func stylesheetHref(n *html.Node, opts *Options) string {
	if !opts.FetchExternal {
		return ""
	}
	rel := strings.ToLower(strings.TrimSpace(getAttr(n, "rel")))
	if !strings.Contains(rel, "stylesheet") || strings.Contains(rel, "alternate") {
		return ""
	}
	typ := strings.ToLower(strings.TrimSpace(getAttr(n, "type")))
	if typ != "" && typ != "text/css" {
		return ""
	}
	if media := strings.TrimSpace(getAttr(n, "media")); media != "" && !mediaRuleActive(media, opts) {
		return ""
	}
	return strings.TrimSpace(getAttr(n, "href"))
}

func fetchAndParse(ctx context.Context, href string, order int, pctx *cssParseContext) ([]cssRule, int) {
	abs := resolveAbsURL(pctx.baseURL, href)
	if abs == "" {
		return nil, order
	}
	if _, seen := pctx.visited[abs]; seen {
		return nil, order
	}
	pctx.visited[abs] = struct{}{}
	if *pctx.budget <= 0 {
		pctx.opts.Logger.Debug("stylesheet budget exhausted", "url", abs)
		return nil, order
	}
	*pctx.budget--
	b, ok := pctx.opts.Cache.Get(abs)
	if !ok {
		var err error
		b, err = fetchText(ctx, abs, pctx.opts)
		if err != nil {
			pctx.opts.Logger.Debug("stylesheet fetch failed", "url", abs, "err", err)
			return nil, order
		}
		pctx.opts.Cache.Store(abs, b)
		pctx.opts.Logger.Debug("stylesheet fetched", "url", abs, "bytes", len(b))
	}
	return parseCSSText(ctx, string(b), order, pctx.child(abs))
}

func parseCSSText(ctx context.Context, txt string, startOrder int, pctx *cssParseContext) ([]cssRule, int) {
	trimmed := strings.TrimSpace(txt)
	if trimmed == "" || pctx.depth >= maxImportDepth {
		return nil, startOrder
	}
	sheet, err := parser.Parse(trimmed)
	if err != nil {
		pctx.opts.Logger.Debug("css parse failed", "base", pctx.baseURL, "err", err)
		return nil, startOrder
	}

	rules := make([]cssRule, 0, len(sheet.Rules)*2)
	order := startOrder

	var walk func([]*cssast.Rule)
	walk = func(list []*cssast.Rule) {
		for _, rule := range list {
			if rule == nil {
				continue
			}
			switch rule.Kind {
			case cssast.AtRule:
				switch strings.ToLower(strings.TrimSpace(rule.Name)) {
				case "@media":
					if mediaRuleActive(rule.Prelude, pctx.opts) {
						walk(rule.Rules)
					}
				case "@import":
					importURL, media := extractImportTarget(rule.Prelude)
					if importURL == "" || !pctx.opts.FetchExternal {
						continue
					}
					if media != "" && !mediaRuleActive(media, pctx.opts) {
						continue
					}
					if rs, ord := fetchAndParse(ctx, importURL, order, pctx); len(rs) > 0 {
						rules = append(rules, rs...)
						order = ord
					}
				default:
					// @supports, @layer, @container and friends: assume the
					// condition holds.
					if len(rule.Rules) > 0 {
						walk(rule.Rules)
					}
				}
			case cssast.QualifiedRule:
				decls := convertDeclarations(rule.Declarations)
				if len(decls) == 0 || len(rule.Selectors) == 0 {
					continue
				}
				for _, raw := range rule.Selectors {
					sel, err := cascadia.Parse(raw)
					if err != nil {
						pctx.opts.Logger.Debug("unsupported selector", "selector", raw, "err", err)
						continue
					}
					if sel.PseudoElement() != "" {
						continue
					}
					rules = append(rules, cssRule{selector: sel, specificity: sel.Specificity(), declarations: decls, order: order})
					order++
				}
			}
		}
	}

	walk(sheet.Rules)
	return rules, order
}

func convertDeclarations(list []*cssast.Declaration) []cssDeclaration {
	if len(list) == 0 {
		return nil
	}
	out := make([]cssDeclaration, 0, len(list))
	for _, decl := range list {
		if decl == nil {
			continue
		}
		prop := normalizePropertyName(decl.Property)
		if prop == "" {
			continue
		}
		val := strings.TrimSpace(decl.Value)
		if val == "" {
			continue
		}
		out = append(out, cssDeclaration{property: prop, value: val, important: decl.Important})
	}
	return out
}

// normalizePropertyName lower-cases standard properties. Custom property
// names are case sensitive.
func normalizePropertyName(p string) string {
	p = strings.TrimSpace(p)
	if isCustomProperty(p) {
		return p
	}
	return strings.ToLower(p)
}

func extractImportTarget(prelude string) (string, string) {
	s := strings.TrimSpace(prelude)
	if s == "" {
		return "", ""
	}
	lower := strings.ToLower(s)
	if strings.HasPrefix(lower, "url(") {
		end := strings.Index(s, ")")
		if end == -1 {
			return "", ""
		}
		target := trimCSSString(strings.TrimSpace(s[4:end]))
		return target, strings.TrimSpace(s[end+1:])
	}
	if (s[0] == '"' || s[0] == '\'') && len(s) > 1 {
		if idx := strings.IndexByte(s[1:], s[0]); idx != -1 {
			return s[1 : idx+1], strings.TrimSpace(s[idx+2:])
		}
	}
	fields := strings.Fields(s)
	target := trimCSSString(fields[0])
	return target, strings.TrimSpace(strings.TrimPrefix(s, fields[0]))
}

func trimCSSString(v string) string {
	vv := strings.TrimSpace(v)
	if len(vv) >= 2 {
		if (vv[0] == '"' && vv[len(vv)-1] == '"') || (vv[0] == '\'' && vv[len(vv)-1] == '\'') {
			return vv[1 : len(vv)-1]
		}
	}
	return vv
}

func mediaRuleActive(prelude string, opts *Options) bool {
	if strings.TrimSpace(prelude) == "" {
		return true
	}
	for _, raw := range strings.Split(prelude, ",") {
		query := strings.ToLower(strings.TrimSpace(raw))
		if query == "" {
			continue
		}
		negate := false
		if strings.HasPrefix(query, "not ") {
			negate = true
			query = strings.TrimSpace(query[4:])
		}
		query = strings.TrimSpace(strings.TrimPrefix(query, "only "))

		mediaType := ""
		rest := query
		if parts := strings.Fields(query); len(parts) > 0 && !strings.HasPrefix(parts[0], "(") {
			mediaType = parts[0]
			rest = strings.TrimSpace(strings.TrimPrefix(query, mediaType))
			rest = strings.TrimSpace(strings.TrimPrefix(rest, "and"))
		}

		matched := false
		switch mediaType {
		case "", "all":
			matched = evaluateMediaFeatures(rest, opts)
		case "screen", "print":
			matched = mediaType == opts.Media && evaluateMediaFeatures(rest, opts)
		}
		if matched != negate {
			return true
		}
	}
	return false
}

func evaluateMediaFeatures(expr string, opts *Options) bool {
	width := opts.ViewportWidth
	height := opts.ViewportHeight

	for _, clause := range strings.Split(expr, " and ") {
		c := strings.TrimSpace(clause)
		if c == "" {
			continue
		}
		if strings.HasPrefix(c, "(") && strings.HasSuffix(c, ")") {
			c = strings.TrimSpace(c[1 : len(c)-1])
		}
		parts := strings.SplitN(c, ":", 2)
		feature := strings.TrimSpace(parts[0])
		value := ""
		if len(parts) == 2 {
			value = strings.TrimSpace(parts[1])
		}

		switch feature {
		case "orientation":
			orientation := "portrait"
			if width > height {
				orientation = "landscape"
			}
			if value != "" && value != orientation {
				return false
			}
		case "min-width":
			if px, ok := cssLengthToPx(value, width); ok && width < px {
				return false
			}
		case "max-width":
			if px, ok := cssLengthToPx(value, width); ok && width > px {
				return false
			}
		case "min-height":
			if px, ok := cssLengthToPx(value, height); ok && height < px {
				return false
			}
		case "max-height":
			if px, ok := cssLengthToPx(value, height); ok && height > px {
				return false
			}
		case "prefers-color-scheme":
			if value != "" && value != opts.ColorScheme {
				return false
			}
		default:
			// Unknown features are treated as matching.
		}
	}
	return true
}

func cssLengthToPx(val string, base int) (int, bool) {
	v := strings.ToLower(strings.TrimSpace(val))
	if v == "" {
		return 0, false
	}
	num := func(s string) (float64, bool) {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		return f, err == nil
	}
	switch {
	case strings.HasSuffix(v, "px"):
		if f, ok := num(v[:len(v)-2]); ok {
			return int(f + 0.5), true
		}
	case strings.HasSuffix(v, "rem"):
		if f, ok := num(v[:len(v)-3]); ok {
			return int(f*16.0 + 0.5), true
		}
	case strings.HasSuffix(v, "em"):
		if f, ok := num(v[:len(v)-2]); ok {
			return int(f*16.0 + 0.5), true
		}
	case strings.HasSuffix(v, "%"), strings.HasSuffix(v, "vw"), strings.HasSuffix(v, "vh"):
		unit := 1
		if !strings.HasSuffix(v, "%") {
			unit = 2
		}
		if f, ok := num(v[:len(v)-unit]); ok && base > 0 {
			return int(float64(base) * f / 100.0), true
		}
	default:
		if f, ok := num(v); ok {
			return int(f + 0.5), true
		}
	}
	return 0, false
}

// inlineSpecificity ranks style attributes above every selector.
var inlineSpecificity = cascadia.Specificity{1 << 12, 0, 0}

// declaredStyle runs the cascade for n and returns the winning declaration
// for every tracked property: the color longhands and custom properties.
func declaredStyle(n *html.Node, ss *Stylesheet) map[string]propState {
	if n == nil || n.Type != html.ElementNode {
		return nil
	}
	props := map[string]propState{}

	// SVG presentation attributes rank below every stylesheet rule.
	if n.Namespace == "svg" {
		for i, a := range n.Attr {
			if a.Namespace == "" && a.Key != "color" && isSVGColorAttribute(a.Key) {
				applyDeclaration(props, cssDeclaration{property: strings.ToLower(a.Key), value: a.Val}, cascadia.Specificity{}, -(1<<30)+i)
			}
		}
	}

	if ss != nil {
		for _, rule := range ss.rules {
			if rule.selector == nil || !rule.selector.Match(n) {
				continue
			}
			for _, decl := range rule.declarations {
				applyDeclaration(props, decl, rule.specificity, rule.order)
			}
		}
	}

	if inline := strings.TrimSpace(getAttr(n, "style")); inline != "" {
		for i, decl := range parseInlineDeclarations(inline) {
			applyDeclaration(props, decl, inlineSpecificity, (1<<30)+i)
		}
	}
	return props
}

func applyDeclaration(store map[string]propState, decl cssDeclaration, spec cascadia.Specificity, order int) {
	prop := normalizePropertyName(decl.property)
	value := strings.TrimSpace(decl.value)
	if prop == "" || value == "" {
		return
	}
	if longhands, ok := shorthands[prop]; ok {
		for _, lh := range longhands {
			applyOne(store, lh, propState{val: value, spec: spec, order: order, important: decl.important, shorthand: prop})
		}
		return
	}
	if !isColorProperty(prop) && !isCustomProperty(prop) {
		return
	}
	applyOne(store, prop, propState{val: value, spec: spec, order: order, important: decl.important})
}

func applyOne(store map[string]propState, prop string, entry propState) {
	prev, ok := store[prop]
	if !ok {
		store[prop] = entry
		return
	}
	if prev.important && !entry.important {
		return
	}
	if entry.important && !prev.important {
		store[prop] = entry
		return
	}
	if prev.spec.Less(entry.spec) {
		store[prop] = entry
		return
	}
	if entry.spec.Less(prev.spec) {
		return
	}
	if entry.order >= prev.order {
		store[prop] = entry
	}
}

func resolveAbsURL(base, href string) string {
	hu, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if base == "" {
		if hu.IsAbs() {
			return hu.String()
		}
		return ""
	}
	bu, err := url.Parse(base)
	if err != nil {
		return ""
	}
	return bu.ResolveReference(hu).String()
}

func fetchText(ctx context.Context, absURL string, opts *Options) ([]byte, error) {
	u, err := url.Parse(absURL)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported stylesheet scheme %q", u.Scheme)
	}
	ctx, cancel := context.WithTimeout(ctx, opts.HTTPTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, absURL, nil)
	if err != nil {
		return nil, err
	}
	for k, vals := range opts.Header {
		if strings.EqualFold(k, "accept") {
			continue
		}
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "text/css,*/*;q=0.1")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("stylesheet %s: status %d", absURL, resp.StatusCode)
	}
	rc := io.ReadCloser(resp.Body)
	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "gzip":
		if gr, err := gzip.NewReader(resp.Body); err == nil {
			rc = gr
			defer gr.Close()
		}
	case "deflate":
		if zr, err := zlib.NewReader(resp.Body); err == nil {
			rc = zr
			defer zr.Close()
		} else {
			fr := flate.NewReader(resp.Body)
			rc = fr
			defer fr.Close()
		}
	}
	return io.ReadAll(io.LimitReader(rc, 4<<20))
}
