package safeclone

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/lucasb-eyer/go-colorful"
	"golang.org/x/image/colornames"
)

const defaultTextColor = "rgb(0, 0, 0)"

// rgbColor is a gamma-encoded sRGB color with straight alpha in [0,1].
type rgbColor struct {
	R uint8
	G uint8
	B uint8
	A float64
}

func (c rgbColor) hex() string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

func (c rgbColor) colorful() colorful.Color {
	return colorful.Color{R: float64(c.R) / 255, G: float64(c.G) / 255, B: float64(c.B) / 255}
}

// css serializes the color in legacy functional notation, which every
// rasterizer we feed understands.
func (c rgbColor) css() string {
	if c.A >= 1 {
		return fmt.Sprintf("rgb(%d, %d, %d)", c.R, c.G, c.B)
	}
	return fmt.Sprintf("rgba(%d, %d, %d, %s)", c.R, c.G, c.B, formatAlpha(c.A))
}

func formatAlpha(a float64) string {
	a = math.Max(0, math.Min(1, a))
	return strconv.FormatFloat(math.Round(a*1e4)/1e4, 'f', -1, 64)
}

func parseHexColor(value string) (rgbColor, bool) {
	hex := strings.TrimPrefix(strings.TrimSpace(value), "#")
	switch len(hex) {
	case 3, 4:
		exp := make([]byte, 0, 8)
		for i := 0; i < len(hex); i++ {
			exp = append(exp, hex[i], hex[i])
		}
		hex = string(exp)
	case 6, 8:
	default:
		return rgbColor{}, false
	}
	var ch [4]uint8
	ch[3] = 0xff
	for i := 0; i*2 < len(hex); i++ {
		v, err := strconv.ParseUint(hex[i*2:i*2+2], 16, 8)
		if err != nil {
			return rgbColor{}, false
		}
		ch[i] = uint8(v)
	}
	return rgbColor{R: ch[0], G: ch[1], B: ch[2], A: float64(ch[3]) / 255.0}, true
}

func parseNamedColor(value string) (rgbColor, bool) {
	name := strings.ToLower(strings.TrimSpace(value))
	if name == "transparent" {
		return rgbColor{}, true
	}
	c, ok := colornames.Map[name]
	if !ok {
		return rgbColor{}, false
	}
	return rgbColor{R: c.R, G: c.G, B: c.B, A: 1}, true
}

// parseRGBFunctional accepts rgb()/rgba() in both the comma and the space
// separated forms. Channels may be integers, floats or percentages.
func parseRGBFunctional(expr string) (rgbColor, bool) {
	open := strings.IndexByte(expr, '(')
	close := strings.LastIndexByte(expr, ')')
	if open < 0 || close <= open+1 {
		return rgbColor{}, false
	}
	inner := expr[open+1 : close]
	var alphaPart string
	if slash := strings.IndexByte(inner, '/'); slash >= 0 {
		alphaPart = inner[slash+1:]
		inner = inner[:slash]
	}
	var parts []string
	if strings.Contains(inner, ",") {
		parts = strings.Split(inner, ",")
	} else {
		parts = strings.Fields(inner)
	}
	if len(parts) == 4 && alphaPart == "" {
		alphaPart = parts[3]
		parts = parts[:3]
	}
	if len(parts) != 3 {
		return rgbColor{}, false
	}
	toByte := func(component string) (uint8, bool) {
		component = strings.TrimSpace(component)
		scale := 1.0
		if strings.HasSuffix(component, "%") {
			component = strings.TrimSuffix(component, "%")
			scale = 255.0 / 100.0
		}
		v, err := strconv.ParseFloat(component, 64)
		if err != nil {
			return 0, false
		}
		return clampByte(v * scale), true
	}
	r, okR := toByte(parts[0])
	g, okG := toByte(parts[1])
	b, okB := toByte(parts[2])
	if !okR || !okG || !okB {
		return rgbColor{}, false
	}
	col := rgbColor{R: r, G: g, B: b, A: 1}
	if a := strings.TrimSpace(alphaPart); a != "" {
		alpha, ok := parseAlpha(a)
		if !ok {
			return rgbColor{}, false
		}
		col.A = alpha
	}
	return col, true
}

func parseAlpha(v string) (float64, bool) {
	scale := 1.0
	if strings.HasSuffix(v, "%") {
		v = strings.TrimSuffix(v, "%")
		scale = 0.01
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil || math.IsNaN(f) {
		return 0, false
	}
	return math.Max(0, math.Min(1, f*scale)), true
}

func clampByte(v float64) uint8 {
	if math.IsNaN(v) || v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(math.Round(v))
}

// parseSafeColor parses the color forms a legacy rasterizer understands.
func parseSafeColor(input string) (rgbColor, bool) {
	s := strings.TrimSpace(strings.ToLower(input))
	switch {
	case s == "":
		return rgbColor{}, false
	case strings.HasPrefix(s, "#"):
		return parseHexColor(s)
	case strings.HasPrefix(s, "rgb(") || strings.HasPrefix(s, "rgba("):
		return parseRGBFunctional(s)
	}
	return parseNamedColor(s)
}

// HexColor returns the #rrggbb form of value when it is a single color in a
// form the rasterizer can paint: hex, rgb()/rgba() or a CSS named color.
// Alpha is dropped.
func HexColor(value string) (string, bool) {
	col, ok := parseSafeColor(value)
	if !ok {
		return "", false
	}
	return col.hex(), true
}
