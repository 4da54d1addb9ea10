package safeclone

import "strings"

// colorProperty describes one color-bearing longhand the resolver freezes.
type colorProperty struct {
	name      string
	inherited bool
	// initial is the computed initial value. "currentcolor" is resolved
	// against the element's color.
	initial string
}

// colorProperties is the fixed, ordered set of paint-affecting properties.
// color comes first because currentcolor in every other entry refers to it.
var colorProperties = []colorProperty{
	{name: "color", inherited: true, initial: defaultTextColor},
	{name: "background-color", initial: "rgba(0, 0, 0, 0)"},
	{name: "background-image", initial: "none"},
	{name: "border-top-color", initial: "currentcolor"},
	{name: "border-right-color", initial: "currentcolor"},
	{name: "border-bottom-color", initial: "currentcolor"},
	{name: "border-left-color", initial: "currentcolor"},
	{name: "outline-color", initial: "currentcolor"},
	{name: "text-decoration-color", initial: "currentcolor"},
	{name: "text-emphasis-color", inherited: true, initial: "currentcolor"},
	{name: "column-rule-color", initial: "currentcolor"},
	{name: "caret-color", inherited: true, initial: "currentcolor"},
	{name: "accent-color", inherited: true, initial: "auto"},
	{name: "fill", inherited: true, initial: defaultTextColor},
	{name: "stroke", inherited: true, initial: "none"},
	{name: "stop-color", initial: defaultTextColor},
	{name: "flood-color", initial: defaultTextColor},
	{name: "lighting-color", initial: "rgb(255, 255, 255)"},
	{name: "box-shadow", initial: "none"},
	{name: "text-shadow", inherited: true, initial: "none"},
}

var colorPropertyIndex = func() map[string]int {
	m := make(map[string]int, len(colorProperties))
	for i, p := range colorProperties {
		m[p.name] = i
	}
	return m
}()

// ColorProperties returns the names of the properties StyleResolver
// resolves, in snapshot order.
func ColorProperties() []string {
	out := make([]string, len(colorProperties))
	for i, p := range colorProperties {
		out[i] = p.name
	}
	return out
}

func isColorProperty(name string) bool {
	_, ok := colorPropertyIndex[name]
	return ok
}

func isCustomProperty(name string) bool {
	return strings.HasPrefix(name, "--")
}

// shorthands maps a shorthand to the color longhands it sets.
var shorthands = map[string][]string{
	"background":      {"background-color", "background-image"},
	"border":          {"border-top-color", "border-right-color", "border-bottom-color", "border-left-color"},
	"border-color":    {"border-top-color", "border-right-color", "border-bottom-color", "border-left-color"},
	"border-top":      {"border-top-color"},
	"border-right":    {"border-right-color"},
	"border-bottom":   {"border-bottom-color"},
	"border-left":     {"border-left-color"},
	"outline":         {"outline-color"},
	"column-rule":     {"column-rule-color"},
	"text-decoration": {"text-decoration-color"},
	"text-emphasis":   {"text-emphasis-color"},
}

// svgColorAttributes are presentation attributes that carry paint.
var svgColorAttributes = []string{"fill", "stroke", "stop-color", "flood-color", "lighting-color", "color"}

func isSVGColorAttribute(key string) bool {
	for _, a := range svgColorAttributes {
		if strings.EqualFold(a, key) {
			return true
		}
	}
	return false
}

// colorFunctions are function names whose call is a single color value.
var colorFunctions = map[string]bool{
	"rgb": true, "rgba": true, "hsl": true, "hsla": true, "hwb": true,
	"lab": true, "lch": true, "oklab": true, "oklch": true,
	"color": true, "color-mix": true, "light-dark": true,
}

// imageFunctions are background-image values.
var imageFunctions = map[string]bool{
	"url": true, "image": true, "image-set": true, "cross-fade": true, "element": true,
	"linear-gradient": true, "radial-gradient": true, "conic-gradient": true,
	"repeating-linear-gradient": true, "repeating-radial-gradient": true, "repeating-conic-gradient": true,
}
