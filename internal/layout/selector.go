package layout

import (
	"math"
	"slices"
	"strings"
)

// DefaultScoreThreshold is the minimum detector score a region needs to be kept.
const DefaultScoreThreshold = 0.5

// DefaultSkipLabels are page furniture labels that never carry body text.
var DefaultSkipLabels = []string{
	"header",
	"footer",
	"footnote",
	"number",
	"header_image",
	"footer_image",
}

// SelectorConfig controls region filtering.
type SelectorConfig struct {
	ScoreThreshold float64
	SkipLabels     []string
}

// DefaultSelectorConfig returns the default filtering rules.
func DefaultSelectorConfig() SelectorConfig {
	return SelectorConfig{
		ScoreThreshold: DefaultScoreThreshold,
		SkipLabels:     slices.Clone(DefaultSkipLabels),
	}
}

func (c SelectorConfig) skips(label string) bool {
	for _, s := range c.SkipLabels {
		if strings.EqualFold(s, label) {
			return true
		}
	}
	return false
}

// Select filters raw detections and returns them in reading order: ascending
// top edge, ties broken by ascending left edge. Boxes are rounded to whole
// pixels and clamped to the width x height page; boxes that collapse to zero
// area are dropped. Select never mutates raw.
func Select(raw []RawRegion, width, height int, cfg SelectorConfig) []Region {
	out := make([]Region, 0, len(raw))
	for _, r := range raw {
		if cfg.skips(r.Label) {
			continue
		}
		if math.IsNaN(r.Score) || r.Score < cfg.ScoreThreshold {
			continue
		}
		box, ok := roundBox(r, width, height)
		if !ok {
			continue
		}
		out = append(out, Region{Label: r.Label, BBox: box, Score: clamp01(r.Score)})
	}

	slices.SortStableFunc(out, func(a, b Region) int {
		if a.BBox.Y1 != b.BBox.Y1 {
			return a.BBox.Y1 - b.BBox.Y1
		}
		return a.BBox.X1 - b.BBox.X1
	})
	return out
}

func roundBox(r RawRegion, width, height int) (BBox, bool) {
	x1, x2 := math.Round(r.X1), math.Round(r.X2)
	y1, y2 := math.Round(r.Y1), math.Round(r.Y2)
	if x1 > x2 {
		x1, x2 = x2, x1
	}
	if y1 > y2 {
		y1, y2 = y2, y1
	}
	b := BBox{
		X1: clampInt(x1, width),
		Y1: clampInt(y1, height),
		X2: clampInt(x2, width),
		Y2: clampInt(y2, height),
	}
	if b.X1 >= b.X2 || b.Y1 >= b.Y2 {
		return BBox{}, false
	}
	return b, true
}

func clampInt(v float64, upper int) int {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case upper > 0 && v > float64(upper):
		return upper
	default:
		return int(v)
	}
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
