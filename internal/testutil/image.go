package testutil

import (
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// ImageSize represents page dimensions in pixels.
type ImageSize struct {
	Width  int
	Height int
}

var (
	SmallPage = ImageSize{200, 280}
	A4Page    = ImageSize{595, 842}
	TallPage  = ImageSize{400, 3000}
)

// PageConfig describes a synthetic scanned page.
type PageConfig struct {
	Size       ImageSize
	Lines      []string
	Background color.Color
	Foreground color.Color
	Margin     int
	Rotation   float64 // degrees, counter-clockwise
}

// DefaultPageConfig returns a small white page with two lines of text.
func DefaultPageConfig() PageConfig {
	return PageConfig{
		Size:       SmallPage,
		Lines:      []string{"Chapter One", "Sample body text"},
		Background: color.White,
		Foreground: color.Black,
		Margin:     16,
	}
}

// GeneratePage renders the configured lines top to bottom onto a page.
func GeneratePage(cfg PageConfig) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, cfg.Size.Width, cfg.Size.Height))
	draw.Draw(img, img.Bounds(), &image.Uniform{cfg.Background}, image.Point{}, draw.Src)

	face := basicfont.Face7x13
	drawer := &font.Drawer{Dst: img, Src: &image.Uniform{cfg.Foreground}, Face: face}
	lineHeight := face.Metrics().Height.Ceil() * 2
	for i, line := range cfg.Lines {
		y := cfg.Margin + (i+1)*lineHeight
		if y > cfg.Size.Height-cfg.Margin {
			break
		}
		drawer.Dot = fixed.P(cfg.Margin, y)
		drawer.DrawString(line)
	}

	if cfg.Rotation == 0 {
		return img
	}
	rotated := imaging.Rotate(img, cfg.Rotation, cfg.Background)
	rgba := image.NewRGBA(rotated.Bounds())
	draw.Draw(rgba, rgba.Bounds(), rotated, rotated.Bounds().Min, draw.Src)
	return rgba
}

// WritePage renders a page and stores it as PNG under dir.
func WritePage(t testing.TB, dir, name string, cfg PageConfig) string {
	t.Helper()
	path := filepath.Join(dir, name)
	SaveImage(t, GeneratePage(cfg), path)
	return path
}

// SaveImage saves an image as PNG, creating parent directories.
func SaveImage(t testing.TB, img image.Image, path string) {
	t.Helper()

	require.NoError(t, EnsureDir(filepath.Dir(path)))

	file, err := os.Create(path) //nolint:gosec // G304: test file creation with controlled path
	require.NoError(t, err, "Failed to create file %s", path)
	defer func() {
		require.NoError(t, file.Close())
	}()

	require.NoError(t, png.Encode(file, img), "Failed to encode PNG image")
}

// LoadImage loads an image from the specified path.
func LoadImage(t testing.TB, path string) image.Image {
	t.Helper()

	file, err := os.Open(path) //nolint:gosec // G304: test file reading with controlled path
	require.NoError(t, err, "Failed to open image file %s", path)
	defer func() { _ = file.Close() }()

	img, _, err := image.Decode(file)
	require.NoError(t, err, "Failed to decode image")

	return img
}

// InkRatio returns the share of pixels darker than mid-grey.
func InkRatio(img image.Image) float64 {
	b := img.Bounds()
	if b.Empty() {
		return 0
	}
	dark := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if color.GrayModel.Convert(img.At(x, y)).(color.Gray).Y < 128 {
				dark++
			}
		}
	}
	return float64(dark) / float64(b.Dx()*b.Dy())
}
