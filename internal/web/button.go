package web

import "strings"

// Button variants
const (
	ButtonCTA             = "cta"
	ButtonGlow            = "glow"
	ButtonDanger          = "danger"
	ButtonGhost           = "ghost"
	ButtonPlain           = "plain"
	ButtonBordered        = "bordered"
	ButtonFuchsia         = "fuchsia"
	ButtonBorderedWhite   = "borderedWhite"
	ButtonBorderedFuchsia = "borderedFuchsia"
)

var buttonVariants = map[string]string{
	ButtonCTA:             "button-cta",
	ButtonGlow:            "button-glow",
	ButtonDanger:          "button-danger",
	ButtonGhost:           "button-ghost",
	ButtonPlain:           "button-plain",
	ButtonBordered:        "button-bordered",
	ButtonFuchsia:         "button-fuchsia",
	ButtonBorderedWhite:   "button-bordered-white",
	ButtonBorderedFuchsia: "button-bordered-fuchsia",
}

var buttonSizes = map[string]string{
	"xs":   "button-xs",
	"sm":   "button-sm",
	"base": "button-base",
	"md":   "button-md",
	"lg":   "button-lg",
}

// Button is the state of the button primitive.
type Button struct {
	Variant string
	Size    string // default: base
	Light   bool   // regular instead of semibold weight
	Loading bool
	Class   string // extra classes, placed first
}

// ClassName composes the button's CSS classes. Unknown variants get only
// the base styling.
func (b Button) ClassName() string {
	classes := make([]string, 0, 6)
	if b.Class != "" {
		classes = append(classes, b.Class)
	}
	classes = append(classes, "button")
	if v, ok := buttonVariants[b.Variant]; ok {
		classes = append(classes, v)
	}
	size := b.Size
	if size == "" {
		size = "base"
	}
	if s, ok := buttonSizes[size]; ok {
		classes = append(classes, s)
	}
	if !b.Light {
		classes = append(classes, "font-semibold")
	}
	if b.Loading {
		classes = append(classes, "is-loading")
	}
	return strings.Join(classes, " ")
}

// buttonClass is the template form of Button.ClassName.
func buttonClass(variant, size string, loading bool, extra string) string {
	return Button{Variant: variant, Size: size, Loading: loading, Class: extra}.ClassName()
}
