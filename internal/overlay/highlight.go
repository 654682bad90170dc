package overlay

import (
	"slices"

	"github.com/sells-group/evidence-cli/internal/model"
)

// Kind is how a highlight is drawn.
type Kind string

const (
	KindFrame  Kind = "frame"  // border around the whole page
	KindRect   Kind = "rect"   // box around an exact region
	KindAnchor Kind = "anchor" // text-layer highlight from a text anchor
)

// Layers; higher layers are drawn above lower ones.
const (
	LayerFrame = 0
	LayerExact = 1
)

// Highlight is one visual region for a piece of evidence on a page.
type Highlight struct {
	EvidenceID string            `json:"evidence_id"`
	Kind       Kind              `json:"kind"`
	Layer      int               `json:"layer"`
	Rect       Rect              `json:"rect"`
	Anchor     *model.TextAnchor `json:"anchor,omitempty"`
	Precision  model.Precision   `json:"precision"`
	Selected   bool              `json:"selected,omitempty"`
	Hovered    bool              `json:"hovered,omitempty"`
	Icon       Affordance        `json:"-"`
}

// Overlay is what the viewer draws for one page.
type Overlay struct {
	Page       int                 `json:"page"`
	Highlights []Highlight         `json:"highlights"`
	Metadata   []model.EvidenceRef `json:"metadata"`
}

// OnPage reports whether ref should be listed for page. Document-level
// evidence applies to every page; page and exact evidence apply to their
// effective page, where the bbox page takes priority.
func OnPage(ref model.EvidenceRef, page int) bool {
	switch ref.Precision {
	case model.PrecisionPage, model.PrecisionExact:
		return ref.EffectivePage() == page
	default:
		return true
	}
}

// FilterPage returns the refs listed for page, preserving order.
func FilterPage(refs []model.EvidenceRef, page int) []model.EvidenceRef {
	out := make([]model.EvidenceRef, 0, len(refs))
	for _, r := range refs {
		if OnPage(r, page) {
			out = append(out, r)
		}
	}
	return out
}

// Build computes the overlay for page. Every ref on the page is listed in
// Metadata; only refs with a drawable location get highlights. Frames are
// ordered before rects so exact regions draw on top.
func Build(refs []model.EvidenceRef, page int, dims PageDimensions) Overlay {
	ov := Overlay{Page: page, Metadata: FilterPage(refs, page)}
	for _, r := range ov.Metadata {
		if h, ok := highlightFor(r, dims); ok {
			ov.Highlights = append(ov.Highlights, h)
		}
	}
	slices.SortStableFunc(ov.Highlights, func(a, b Highlight) int {
		return a.Layer - b.Layer
	})
	return ov
}

func highlightFor(r model.EvidenceRef, dims PageDimensions) (Highlight, bool) {
	h := Highlight{EvidenceID: r.ID, Precision: r.Precision, Icon: DefaultAffordance(r.Precision)}
	switch r.Precision {
	case model.PrecisionPage:
		if !dims.Valid() {
			return h, false
		}
		h.Kind = KindFrame
		h.Layer = LayerFrame
		h.Rect = FullPage(dims)
		return h, true
	case model.PrecisionExact:
		switch {
		case r.BBox != nil && dims.Valid():
			h.Kind = KindRect
			h.Layer = LayerExact
			h.Rect = ToScreenRect(*r.BBox, dims.Width, dims.Height)
			return h, true
		case r.Anchor != nil:
			h.Kind = KindAnchor
			h.Layer = LayerExact
			a := *r.Anchor
			h.Anchor = &a
			return h, true
		}
		return h, false
	default:
		return h, false
	}
}
