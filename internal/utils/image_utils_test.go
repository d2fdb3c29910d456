package utils

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsSupportedImage(t *testing.T) {
	cases := []struct {
		path string
		ok   bool
	}{
		{"a.jpg", true},
		{"b.JPEG", true},
		{"c.png", true},
		{"d.bmp", true},
		{"e.tiff", true},
		{"f.gif", true},
		{"g.pdf", false},
		{"noext", false},
	}
	for _, c := range cases {
		assert.Equal(t, c.ok, IsSupportedImage(c.path), c.path)
	}
}

func solidImage(w, h int, col color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, col)
		}
	}
	return img
}

func TestLoadImageAndMetadata(t *testing.T) {
	path := filepath.Join(t.TempDir(), "page.png")
	require.NoError(t, SavePNG(path, solidImage(40, 25, color.White)))

	img, meta, err := LoadImage(path)
	require.NoError(t, err)
	assert.Equal(t, 40, img.Bounds().Dx())
	assert.Equal(t, "png", meta.Format)
	assert.Equal(t, 25, meta.Height)
	assert.Positive(t, meta.SizeBytes)
}

func TestLoadImageErrors(t *testing.T) {
	dir := t.TempDir()

	_, _, err := LoadImage("")
	require.Error(t, err)

	_, _, err = LoadImage(filepath.Join(dir, "doc.pdf"))
	require.Error(t, err)

	garbage := filepath.Join(dir, "broken.png")
	require.NoError(t, os.WriteFile(garbage, []byte("not a png"), 0o600))
	_, _, err = LoadImage(garbage)
	var ipe *ImageProcessingError
	require.ErrorAs(t, err, &ipe)
	assert.Equal(t, "decode", ipe.Operation)
}

func TestDecodeImageRoundTrip(t *testing.T) {
	data, err := EncodePNG(solidImage(3, 7, color.Black))
	require.NoError(t, err)

	img, format, err := DecodeImage(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, "png", format)
	assert.Equal(t, image.Rect(0, 0, 3, 7), img.Bounds())
}

func TestValidateImageConstraints(t *testing.T) {
	c := ImageConstraints{MinWidth: 2, MinHeight: 2, MaxWidth: 10, MaxHeight: 10}
	require.NoError(t, ValidateImageConstraints(solidImage(5, 5, color.White), c))
	require.Error(t, ValidateImageConstraints(solidImage(1, 5, color.White), c))
	require.Error(t, ValidateImageConstraints(solidImage(5, 11, color.White), c))
	require.Error(t, ValidateImageConstraints(nil, c))

	unbounded := ImageConstraints{MinWidth: 1, MinHeight: 1}
	require.NoError(t, ValidateImageConstraints(solidImage(5, 500, color.White), unbounded))
}

func TestImageProcessingErrorUnwrap(t *testing.T) {
	base := errors.New("boom")
	err := &ImageProcessingError{Operation: "crop", Err: base}
	assert.ErrorIs(t, err, base)
	assert.Contains(t, err.Error(), "crop")
}

func TestBoxAndIoU(t *testing.T) {
	b := NewBox(10, 10, 0, 0)
	assert.InDelta(t, 0.0, b.MinX, 1e-9)
	assert.InDelta(t, 100.0, b.Area(), 1e-9)

	assert.InDelta(t, 1.0, IoU(b, b), 1e-9)
	assert.InDelta(t, 0.0, IoU(b, NewBox(20, 20, 30, 30)), 1e-9)
	// half overlap: inter 50, union 150
	assert.InDelta(t, 1.0/3.0, IoU(b, NewBox(5, 0, 15, 10)), 1e-9)
}

func TestCropImageRect(t *testing.T) {
	img := solidImage(20, 20, color.White)
	crop := CropImageRect(img, image.Rect(5, 5, 50, 8))
	assert.Equal(t, image.Rect(0, 0, 15, 3), crop.Bounds())

	empty := CropImageRect(img, image.Rect(30, 30, 40, 40))
	assert.True(t, empty.Bounds().Empty())
}

func TestResizeExact(t *testing.T) {
	out := ResizeExact(solidImage(30, 10, color.White), 8, 8)
	assert.Equal(t, 8, out.Bounds().Dx())
	assert.Equal(t, 8, out.Bounds().Dy())
}

func TestPageFilename(t *testing.T) {
	assert.Equal(t, "page_001.png", PageFilename(1, ".png"))
	assert.Equal(t, "page_042.jpg", PageFilename(42, "JPG"))
	assert.Equal(t, "page_1234.tif", PageFilename(1234, ".tif"))
	assert.Equal(t, "page_007", PageFilename(7, ""))
}
