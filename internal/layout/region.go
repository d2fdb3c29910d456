// Package layout turns raw layout-detector output into the ordered list of
// page regions that are sent to OCR.
package layout

import (
	"image"

	"github.com/MeKo-Tech/folio/internal/utils"
)

// RawRegion is a single detection as reported by a layout detector, in the
// pixel coordinates of the analyzed page image.
type RawRegion struct {
	Label string  `json:"label"`
	X1    float64 `json:"x1"`
	Y1    float64 `json:"y1"`
	X2    float64 `json:"x2"`
	Y2    float64 `json:"y2"`
	Score float64 `json:"score"`
}

// Box returns the region's bounding box.
func (r RawRegion) Box() utils.Box {
	return utils.NewBox(r.X1, r.Y1, r.X2, r.Y2)
}

// BBox is an integer pixel bounding box with X1 < X2 and Y1 < Y2.
type BBox struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// Rect converts the box to an image rectangle.
func (b BBox) Rect() image.Rectangle {
	return image.Rect(b.X1, b.Y1, b.X2, b.Y2)
}

// Width returns X2-X1.
func (b BBox) Width() int { return b.X2 - b.X1 }

// Height returns Y2-Y1.
func (b BBox) Height() int { return b.Y2 - b.Y1 }

// Region is a region that survived selection.
type Region struct {
	Label string  `json:"label"`
	BBox  BBox    `json:"bbox"`
	Score float64 `json:"score"`
}
