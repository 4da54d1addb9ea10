package safeclone

import (
	"strings"

	"github.com/gorilla/css/scanner"
	"github.com/lucasb-eyer/go-colorful"
)

type blendFunc func(c1, c2 colorful.Color, t float64) colorful.Color

// mixBlends are the color-mix() interpolation spaces Normalize can resolve.
var mixBlends = map[string]blendFunc{
	"oklab":       colorful.Color.BlendOkLab,
	"oklch":       colorful.Color.BlendOkLch,
	"srgb":        colorful.Color.BlendRgb,
	"srgb-linear": colorful.Color.BlendLinearRgb,
}

// parseColorMix resolves color-mix(in <space>, <color> [<p>], <color> [<p>])
// when both operands are safe colors once normalized. Alpha is interpolated
// premultiplied and percentages summing below 100% scale the result alpha.
func parseColorMix(args []*scanner.Token) (rgbColor, bool) {
	parts := splitArgs(args)
	if len(parts) != 3 {
		return rgbColor{}, false
	}
	blend, ok := mixMethod(parts[0])
	if !ok {
		return rgbColor{}, false
	}
	c1, p1, ok := mixOperand(parts[1])
	if !ok {
		return rgbColor{}, false
	}
	c2, p2, ok := mixOperand(parts[2])
	if !ok {
		return rgbColor{}, false
	}
	t, mult, ok := mixWeights(p1, p2)
	if !ok {
		return rgbColor{}, false
	}

	alpha := c1.A*(1-t) + c2.A*t
	premul := t
	if alpha > 0 {
		premul = c2.A * t / alpha
	}
	r, g, b := blend(c1.colorful(), c2.colorful(), premul).Clamped().RGB255()
	return rgbColor{R: r, G: g, B: b, A: alpha * mult}, true
}

// splitArgs splits function arguments at top level commas.
func splitArgs(args []*scanner.Token) [][]*scanner.Token {
	var (
		parts [][]*scanner.Token
		start int
		depth int
	)
	for i, t := range args {
		switch {
		case t.Type == scanner.TokenFunction, t.Type == scanner.TokenChar && t.Value == "(":
			depth++
		case t.Type == scanner.TokenChar && t.Value == ")":
			depth--
		case t.Type == scanner.TokenChar && t.Value == "," && depth == 0:
			parts = append(parts, args[start:i])
			start = i + 1
		}
	}
	return append(parts, args[start:])
}

func mixMethod(toks []*scanner.Token) (blendFunc, bool) {
	var b strings.Builder
	writeTokens(&b, toks)
	words := strings.Fields(strings.ToLower(b.String()))
	if len(words) < 2 || words[0] != "in" {
		return nil, false
	}
	blend, ok := mixBlends[words[1]]
	if !ok {
		return nil, false
	}
	switch {
	case len(words) == 2:
		return blend, true
	case len(words) == 4 && words[1] == "oklch" && words[2] == "shorter" && words[3] == "hue":
		return blend, true
	}
	return nil, false
}

// mixOperand reads a color with an optional percentage before or after it.
// The color may itself be an unsafe color function.
func mixOperand(toks []*scanner.Token) (rgbColor, *float64, bool) {
	var (
		pct   *float64
		color strings.Builder
		depth int
	)
	for _, t := range toks {
		switch {
		case t.Type == scanner.TokenFunction, t.Type == scanner.TokenChar && t.Value == "(":
			depth++
		case t.Type == scanner.TokenChar && t.Value == ")":
			depth--
		case t.Type == scanner.TokenPercentage && depth == 0:
			if pct != nil {
				return rgbColor{}, nil, false
			}
			v, ok := parseFinite(strings.TrimSuffix(t.Value, "%"))
			if !ok {
				return rgbColor{}, nil, false
			}
			pct = &v
			continue
		}
		color.WriteString(t.Value)
	}
	resolved, _, failed := normalizeCounted(strings.TrimSpace(color.String()), "")
	if failed > 0 {
		return rgbColor{}, nil, false
	}
	col, ok := parseSafeColor(resolved)
	return col, pct, ok
}

// mixWeights returns the share of the second color and the alpha
// multiplier for the given operand percentages.
func mixWeights(p1, p2 *float64) (t, mult float64, ok bool) {
	var a, b float64
	switch {
	case p1 == nil && p2 == nil:
		a, b = 50, 50
	case p1 == nil:
		b = *p2
		a = 100 - b
	case p2 == nil:
		a = *p1
		b = 100 - a
	default:
		a, b = *p1, *p2
	}
	if a < 0 || b < 0 || a > 100 || b > 100 || a+b == 0 {
		return 0, 0, false
	}
	sum := a + b
	mult = 1
	if sum < 100 {
		mult = sum / 100
	}
	return b / sum, mult, true
}
