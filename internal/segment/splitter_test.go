package segment

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tallImage(w, h int) image.Image {
	return image.NewGray(image.Rect(0, 0, w, h))
}

func TestSplitShortImageIsIdentity(t *testing.T) {
	img := tallImage(100, 1600)
	segs, err := Split(img, DefaultConfig())
	require.NoError(t, err)
	require.Len(t, segs, 1)
	assert.Same(t, img.(*image.Gray), segs[0].Image.(*image.Gray))
	assert.Equal(t, 0, segs[0].Top)
	assert.Equal(t, 1600, segs[0].Bottom)
}

func TestSplitTallImage(t *testing.T) {
	segs, err := Split(tallImage(50, 4000), DefaultConfig())
	require.NoError(t, err)
	require.Len(t, segs, 3)

	tops := []int{segs[0].Top, segs[1].Top, segs[2].Top}
	assert.Equal(t, []int{0, 1520, 3040}, tops)
	assert.Equal(t, 4000, segs[2].Bottom)
	assert.Equal(t, 960, segs[2].Image.Bounds().Dy(), "last window is clipped")
	for i, s := range segs {
		assert.Equal(t, i, s.Index)
		assert.Equal(t, 50, s.Image.Bounds().Dx())
	}
}

func TestSplitExactStrideBoundary(t *testing.T) {
	// 1600 + 1520 = 3120 ends exactly on the second window.
	segs, err := Split(tallImage(10, 3120), DefaultConfig())
	require.NoError(t, err)
	require.Len(t, segs, 2)
	assert.Equal(t, 3120, segs[1].Bottom)
	assert.Equal(t, 1600, segs[1].Height())
}

func TestSplitterIsNotRestartable(t *testing.T) {
	s, err := NewSplitter(tallImage(10, 2000), DefaultConfig())
	require.NoError(t, err)

	n := 0
	for _, ok := s.Next(); ok; _, ok = s.Next() {
		n++
	}
	assert.Equal(t, 2, n)

	_, ok := s.Next()
	assert.False(t, ok)
}

func TestSplitterHonorsNonZeroOrigin(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, 20, 500))
	sub := src.SubImage(image.Rect(5, 100, 15, 400))
	segs, err := Split(sub, Config{MaxHeight: 200, Overlap: 50})
	require.NoError(t, err)
	require.Len(t, segs, 2)
	assert.Equal(t, 200, segs[0].Image.Bounds().Dy())
	assert.Equal(t, 150, segs[1].Top)
	assert.Equal(t, 300, segs[1].Bottom)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"defaults", DefaultConfig(), false},
		{"zero overlap", Config{MaxHeight: 10, Overlap: 0}, false},
		{"zero height", Config{MaxHeight: 0, Overlap: 0}, true},
		{"negative overlap", Config{MaxHeight: 10, Overlap: -1}, true},
		{"overlap equals height", Config{MaxHeight: 10, Overlap: 10}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			assert.Equal(t, tt.wantErr, err != nil, "err = %v", err)
		})
	}
}

func TestNewSplitterErrors(t *testing.T) {
	_, err := NewSplitter(nil, DefaultConfig())
	require.Error(t, err)

	_, err = NewSplitter(tallImage(0, 0), DefaultConfig())
	require.Error(t, err)

	_, err = NewSplitter(tallImage(10, 10), Config{MaxHeight: 5, Overlap: 5})
	require.Error(t, err)
}
