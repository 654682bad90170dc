package overlay

import "github.com/sells-group/evidence-cli/internal/model"

// Affordance is the badge drawn next to a highlight. It is either a
// BuiltinIcon or a CustomIcon.
type Affordance interface {
	affordance()
}

// BuiltinIcon references an icon shipped with the viewer by name.
type BuiltinIcon struct {
	Name string
}

// CustomIcon renders its own markup.
type CustomIcon struct {
	Render func(h Highlight) string
}

func (BuiltinIcon) affordance() {}
func (CustomIcon) affordance()  {}

// DefaultAffordance returns the builtin badge for a precision tier.
func DefaultAffordance(p model.Precision) Affordance {
	switch p {
	case model.PrecisionExact:
		return BuiltinIcon{Name: "crosshair"}
	case model.PrecisionPage:
		return BuiltinIcon{Name: "file-text"}
	default:
		return BuiltinIcon{Name: "file"}
	}
}

// RenderAffordance produces the markup for a highlight's badge.
func RenderAffordance(a Affordance, h Highlight) string {
	switch v := a.(type) {
	case BuiltinIcon:
		return `<i class="icon icon-` + v.Name + `"></i>`
	case CustomIcon:
		if v.Render == nil {
			return ""
		}
		return v.Render(h)
	default:
		return ""
	}
}
