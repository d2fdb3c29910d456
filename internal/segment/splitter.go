// Package segment cuts tall page images into overlapping horizontal windows
// for pages where layout detection found nothing.
package segment

import (
	"errors"
	"fmt"
	"image"

	"github.com/MeKo-Tech/folio/internal/utils"
)

const (
	// DefaultMaxHeight is the tallest window sent to OCR as one unit.
	DefaultMaxHeight = 1600
	// DefaultOverlap is the number of rows shared by consecutive windows.
	DefaultOverlap = 80
)

// Config controls window geometry.
type Config struct {
	MaxHeight int
	Overlap   int
}

// DefaultConfig returns the default window geometry.
func DefaultConfig() Config {
	return Config{MaxHeight: DefaultMaxHeight, Overlap: DefaultOverlap}
}

// Validate checks that the configuration yields a positive stride.
func (c Config) Validate() error {
	if c.MaxHeight <= 0 {
		return fmt.Errorf("max height must be positive, got %d", c.MaxHeight)
	}
	if c.Overlap < 0 || c.Overlap >= c.MaxHeight {
		return fmt.Errorf("overlap must be in [0, %d), got %d", c.MaxHeight, c.Overlap)
	}
	return nil
}

// Segment is one horizontal window of the source image. Top and Bottom are
// row offsets relative to the source image's top edge.
type Segment struct {
	Index  int
	Top    int
	Bottom int
	Image  image.Image
}

// Height returns the number of rows in the segment.
func (s Segment) Height() int { return s.Bottom - s.Top }

// Splitter lazily yields the segments of one image. It is finite and cannot
// be restarted; create a new Splitter to iterate again.
type Splitter struct {
	img    image.Image
	cfg    Config
	height int
	next   int
	index  int
	done   bool
}

// NewSplitter prepares a splitter for img.
func NewSplitter(img image.Image, cfg Config) (*Splitter, error) {
	if img == nil {
		return nil, &utils.ImageProcessingError{Operation: "split", Err: errors.New("input image is nil")}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	h := img.Bounds().Dy()
	if h <= 0 || img.Bounds().Dx() <= 0 {
		return nil, &utils.ImageProcessingError{Operation: "split", Err: fmt.Errorf("empty image %v", img.Bounds())}
	}
	return &Splitter{img: img, cfg: cfg, height: h}, nil
}

// Next returns the next segment, or false once the bottom edge has been emitted.
func (s *Splitter) Next() (Segment, bool) {
	if s.done {
		return Segment{}, false
	}

	if s.height <= s.cfg.MaxHeight {
		s.done = true
		s.index++
		return Segment{Index: 0, Top: 0, Bottom: s.height, Image: s.img}, true
	}

	top := s.next
	bottom := min(top+s.cfg.MaxHeight, s.height)
	b := s.img.Bounds()
	rect := image.Rect(b.Min.X, b.Min.Y+top, b.Max.X, b.Min.Y+bottom)
	seg := Segment{Index: s.index, Top: top, Bottom: bottom, Image: utils.CropImageRect(s.img, rect)}

	s.index++
	if bottom >= s.height {
		s.done = true
	} else {
		s.next = top + s.cfg.MaxHeight - s.cfg.Overlap
	}
	return seg, true
}

// Count returns how many segments an image of the given height produces.
func Count(height int, cfg Config) int {
	if height <= 0 {
		return 0
	}
	if height <= cfg.MaxHeight {
		return 1
	}
	stride := cfg.MaxHeight - cfg.Overlap
	return 1 + (height-cfg.MaxHeight+stride-1)/stride
}

// Split collects every segment of img.
func Split(img image.Image, cfg Config) ([]Segment, error) {
	s, err := NewSplitter(img, cfg)
	if err != nil {
		return nil, err
	}
	out := make([]Segment, 0, Count(img.Bounds().Dy(), cfg))
	for seg, ok := s.Next(); ok; seg, ok = s.Next() {
		out = append(out, seg)
	}
	return out, nil
}
