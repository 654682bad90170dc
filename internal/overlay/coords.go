// Package overlay maps tiered evidence locations onto a rendered page.
package overlay

import "github.com/sells-group/evidence-cli/internal/model"

// Rect is a screen-space rectangle in pixels relative to the page's
// top-left corner.
type Rect struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// PageDimensions is the rendered size of a page in pixels.
type PageDimensions struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Valid reports whether both dimensions are positive.
func (d PageDimensions) Valid() bool {
	return d.Width > 0 && d.Height > 0
}

// ToScreenRect converts a percentage bbox to pixels.
func ToScreenRect(b model.BBox, pageWidthPx, pageHeightPx float64) Rect {
	return Rect{
		Left:   b.X / 100 * pageWidthPx,
		Top:    b.Y / 100 * pageHeightPx,
		Width:  b.Width / 100 * pageWidthPx,
		Height: b.Height / 100 * pageHeightPx,
	}
}

// ToBBox is the inverse of ToScreenRect. Page dimensions must be positive.
func ToBBox(r Rect, page int, pageWidthPx, pageHeightPx float64) model.BBox {
	return model.BBox{
		Page:   page,
		X:      r.Left / pageWidthPx * 100,
		Y:      r.Top / pageHeightPx * 100,
		Width:  r.Width / pageWidthPx * 100,
		Height: r.Height / pageHeightPx * 100,
	}
}

// FullPage returns the rectangle covering the whole page.
func FullPage(d PageDimensions) Rect {
	return Rect{Width: d.Width, Height: d.Height}
}
