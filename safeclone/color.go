package safeclone

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/gorilla/css/scanner"
	"github.com/lucasb-eyer/go-colorful"
)

// unsafeColorFunctions lists the color functions a legacy rasterizer cannot
// paint and Normalize resolves. Anything else is passed through unexamined,
// except relative color syntax, which is always unsafe.
var unsafeColorFunctions = []string{"oklch", "oklab", "color-mix"}

// relativeColorRe matches relative color syntax such as
// "rgb(from var(--x) r g b)". It cannot be resolved without the origin
// color's computed value.
var relativeColorRe = regexp.MustCompile(`(?i)\b(?:rgba?|hsla?|hwb|lab|lch|oklab|oklch|color)\(\s*from\s`)

// ContainsUnsafeColor reports whether value mentions one of the unsafe color
// functions anywhere, including inside compound values such as shadows or
// gradients.
func ContainsUnsafeColor(value string) bool {
	if value == "" {
		return false
	}
	lower := strings.ToLower(value)
	for _, fn := range unsafeColorFunctions {
		if strings.Contains(lower, fn+"(") {
			return true
		}
	}
	return strings.Contains(lower, "from") && relativeColorRe.MatchString(value)
}

func functionName(token string) string {
	return strings.ToLower(strings.TrimSuffix(token, "("))
}

func isUnsafeFunction(token string) bool {
	name := functionName(token)
	for _, fn := range unsafeColorFunctions {
		if name == fn {
			return true
		}
	}
	return false
}

// Normalize rewrites every oklch()/oklab()/color-mix() color in value into
// rgb()/rgba() notation. Values without such a function are returned
// unchanged, as are occurrences that cannot be parsed and relative colors.
// Normalize is pure and deterministic.
func Normalize(value string) string {
	out, _, _ := normalizeCounted(value, "")
	return out
}

// normalizeCounted is Normalize plus the number of converted and
// unparseable occurrences. A non-empty fallback replaces every unparseable
// occurrence instead of keeping it.
func normalizeCounted(value, fallback string) (string, int, int) {
	if !ContainsUnsafeColor(value) {
		return value, 0, 0
	}
	keep := func(b *strings.Builder, toks []*scanner.Token) {
		if fallback != "" {
			b.WriteString(fallback)
			return
		}
		writeTokens(b, toks)
	}
	toks, ok := tokenize(value)
	if !ok {
		if fallback != "" {
			return fallback, 0, 1
		}
		return value, 0, 1
	}
	var b strings.Builder
	b.Grow(len(value))
	converted, failed := 0, 0
	for i := 0; i < len(toks); i++ {
		t := toks[i]
		if t.Type != scanner.TokenFunction {
			b.WriteString(t.Value)
			continue
		}
		relative := isRelativeColor(toks, i)
		if !relative && !isUnsafeFunction(t.Value) {
			b.WriteString(t.Value)
			continue
		}
		end := matchingParen(toks, i)
		if end < 0 {
			keep(&b, toks[i:])
			failed++
			break
		}
		var col rgbColor
		ok := false
		if !relative {
			col, ok = resolveColorFunction(t.Value, toks[i+1:end])
		}
		if ok {
			b.WriteString(col.css())
			converted++
		} else {
			keep(&b, toks[i:end+1])
			failed++
		}
		i = end
	}
	return b.String(), converted, failed
}

// isRelativeColor reports whether the function opened at toks[i] uses
// relative color syntax.
func isRelativeColor(toks []*scanner.Token, i int) bool {
	switch functionName(toks[i].Value) {
	case "rgb", "rgba", "hsl", "hsla", "hwb", "lab", "lch", "oklab", "oklch", "color":
	default:
		return false
	}
	for _, t := range toks[i+1:] {
		switch t.Type {
		case scanner.TokenS, scanner.TokenComment:
			continue
		case scanner.TokenIdent:
			return strings.EqualFold(t.Value, "from")
		}
		return false
	}
	return false
}

func resolveColorFunction(fn string, args []*scanner.Token) (rgbColor, bool) {
	if functionName(fn) == "color-mix" {
		return parseColorMix(args)
	}
	cv, ok := parseColorValue(fn, args)
	if !ok {
		return rgbColor{}, false
	}
	return cv.toRGB(), true
}

// tokenize splits a CSS value into scanner tokens. Concatenating the token
// values yields the input again.
func tokenize(value string) ([]*scanner.Token, bool) {
	s := scanner.New(value)
	var toks []*scanner.Token
	for {
		t := s.Next()
		switch t.Type {
		case scanner.TokenEOF:
			return toks, true
		case scanner.TokenError:
			return nil, false
		}
		toks = append(toks, t)
	}
}

func writeTokens(b *strings.Builder, toks []*scanner.Token) {
	for _, t := range toks {
		b.WriteString(t.Value)
	}
}

// matchingParen returns the index of the token closing the function or
// parenthesis opened at toks[open], or -1.
func matchingParen(toks []*scanner.Token, open int) int {
	depth := 1
	for j := open + 1; j < len(toks); j++ {
		t := toks[j]
		switch {
		case t.Type == scanner.TokenFunction, t.Type == scanner.TokenChar && t.Value == "(":
			depth++
		case t.Type == scanner.TokenChar && t.Value == ")":
			depth--
			if depth == 0 {
				return j
			}
		}
	}
	return -1
}

type colorSpace uint8

const (
	spaceOKLCH colorSpace = iota + 1
	spaceOKLab
)

// colorValue is a parsed perceptual color.
type colorValue struct {
	space colorSpace
	c     [3]float64
	alpha float64
}

func (v colorValue) toRGB() rgbColor {
	var col colorful.Color
	switch v.space {
	case spaceOKLab:
		col = colorful.OkLab(v.c[0], v.c[1], v.c[2])
	default:
		col = colorful.OkLch(v.c[0], v.c[1], v.c[2])
	}
	r, g, b := col.Clamped().RGB255()
	return rgbColor{R: r, G: g, B: b, A: v.alpha}
}

// Percentages for chroma and the a/b axes are relative to 0.4, as in CSS
// Color 4.
const perceptualChromaRef = 0.4

func parseColorValue(fn string, args []*scanner.Token) (colorValue, bool) {
	comps, alpha, ok := splitChannels(args)
	if !ok || len(comps) != 3 {
		return colorValue{}, false
	}
	cv := colorValue{alpha: 1}
	l, ok := channelNumber(comps[0], 1)
	if !ok {
		return colorValue{}, false
	}
	cv.c[0] = math.Max(0, math.Min(1, l))

	switch functionName(fn) {
	case "oklch":
		cv.space = spaceOKLCH
		c, ok := channelNumber(comps[1], perceptualChromaRef)
		if !ok {
			return colorValue{}, false
		}
		h, ok := hueDegrees(comps[2])
		if !ok {
			return colorValue{}, false
		}
		cv.c[1] = math.Max(0, c)
		cv.c[2] = h
	case "oklab":
		cv.space = spaceOKLab
		a, ok := channelNumber(comps[1], perceptualChromaRef)
		if !ok {
			return colorValue{}, false
		}
		b, ok := channelNumber(comps[2], perceptualChromaRef)
		if !ok {
			return colorValue{}, false
		}
		cv.c[1], cv.c[2] = a, b
	default:
		return colorValue{}, false
	}

	if alpha != nil {
		a, ok := channelNumber(*alpha, 1)
		if !ok {
			return colorValue{}, false
		}
		cv.alpha = math.Max(0, math.Min(1, a))
	}
	return cv, true
}

type channelKind uint8

const (
	chanNone channelKind = iota
	chanNumber
	chanPercent
	chanDimension
)

// channel is one space separated component of a color function.
type channel struct {
	kind channelKind
	v    float64
	unit string
}

// splitChannels turns the argument tokens of a space separated color
// function into its channels and the optional alpha after "/". Adjacent
// tokens form one word, so "-1e-3" is read whole however the scanner cut it.
func splitChannels(args []*scanner.Token) ([]channel, *channel, bool) {
	var (
		comps      []channel
		alpha      *channel
		afterSlash bool
		word       strings.Builder
	)
	flush := func() bool {
		if word.Len() == 0 {
			return true
		}
		ch, ok := parseChannel(word.String())
		word.Reset()
		if !ok {
			return false
		}
		if !afterSlash {
			comps = append(comps, ch)
			return true
		}
		if alpha != nil {
			return false
		}
		alpha = &ch
		return true
	}
	for _, t := range args {
		switch t.Type {
		case scanner.TokenS, scanner.TokenComment:
			if !flush() {
				return nil, nil, false
			}
		case scanner.TokenChar:
			switch t.Value {
			case "/":
				if !flush() || afterSlash {
					return nil, nil, false
				}
				afterSlash = true
			case "-", "+", ".":
				word.WriteString(t.Value)
			default:
				return nil, nil, false
			}
		case scanner.TokenNumber, scanner.TokenPercentage, scanner.TokenDimension, scanner.TokenIdent:
			word.WriteString(t.Value)
		default:
			return nil, nil, false
		}
	}
	if !flush() || (afterSlash && alpha == nil) {
		return nil, nil, false
	}
	return comps, alpha, true
}

// parseChannel reads "none", a number, a percentage or a dimension.
func parseChannel(word string) (channel, bool) {
	if strings.EqualFold(word, "none") {
		return channel{kind: chanNone}, true
	}
	num, unit, ok := splitNumber(word)
	if !ok {
		return channel{}, false
	}
	v, ok := parseFinite(num)
	if !ok {
		return channel{}, false
	}
	switch {
	case unit == "":
		return channel{kind: chanNumber, v: v}, true
	case unit == "%":
		return channel{kind: chanPercent, v: v}, true
	case isUnitName(unit):
		return channel{kind: chanDimension, v: v, unit: strings.ToLower(unit)}, true
	}
	return channel{}, false
}

// channelNumber reads a number or percentage channel; percentRef is the
// value 100% maps to. "none" is zero.
func channelNumber(ch channel, percentRef float64) (float64, bool) {
	switch ch.kind {
	case chanNone:
		return 0, true
	case chanNumber:
		return ch.v, true
	case chanPercent:
		return ch.v / 100 * percentRef, true
	}
	return 0, false
}

func hueDegrees(ch channel) (float64, bool) {
	var deg float64
	switch ch.kind {
	case chanNone:
		return 0, true
	case chanNumber:
		deg = ch.v
	case chanDimension:
		switch ch.unit {
		case "deg":
			deg = ch.v
		case "grad":
			deg = ch.v * 0.9
		case "rad":
			deg = ch.v * 180 / math.Pi
		case "turn":
			deg = ch.v * 360
		default:
			return 0, false
		}
	default:
		return 0, false
	}
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	return deg, true
}

// splitNumber cuts a CSS number with optional sign, fraction and exponent
// off the front of v and returns it with the rest. An "e" only starts an
// exponent when a digit follows, optionally after a sign, so "1em" is one
// em.
func splitNumber(v string) (num, rest string, ok bool) {
	i, digits := 0, 0
	if i < len(v) && (v[i] == '-' || v[i] == '+') {
		i++
	}
	for i < len(v) && isDigit(v[i]) {
		i++
		digits++
	}
	if i < len(v) && v[i] == '.' {
		j, frac := i+1, 0
		for j < len(v) && isDigit(v[j]) {
			j++
			frac++
		}
		if frac == 0 {
			return "", "", false
		}
		i, digits = j, digits+frac
	}
	if digits == 0 {
		return "", "", false
	}
	if i < len(v) && (v[i] == 'e' || v[i] == 'E') {
		j := i + 1
		if j < len(v) && (v[j] == '-' || v[j] == '+') {
			j++
		}
		if j < len(v) && isDigit(v[j]) {
			for j < len(v) && isDigit(v[j]) {
				j++
			}
			i = j
		}
	}
	return v[:i], v[i:], true
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isUnitName(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i] | 0x20
		if c < 'a' || c > 'z' {
			return false
		}
	}
	return s != ""
}

func parseFinite(v string) (float64, bool) {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
