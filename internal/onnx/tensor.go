package onnx

import (
	"errors"
	"fmt"
	"image"

	"github.com/MeKo-Tech/folio/internal/mempool"
)

// Tensor represents a float32 tensor prepared for ONNX input.
// Data layout is row-major, with NCHW for images.
type Tensor struct {
	Data  []float32
	Shape []int64
}

// NewImageTensor builds a single-image tensor with shape [1, C, H, W].
// data must be length C*H*W in NCHW order.
func NewImageTensor(data []float32, c, h, w int) (Tensor, error) {
	if data == nil {
		return Tensor{}, errors.New("nil data")
	}
	expected := c * h * w
	if len(data) != expected {
		return Tensor{}, fmt.Errorf("unexpected data length: got %d, want %d", len(data), expected)
	}
	return Tensor{Data: data, Shape: []int64{1, int64(c), int64(h), int64(w)}}, nil
}

// NewVectorTensor builds a [1, len(values)] tensor, used for auxiliary model
// inputs such as image shape and scale factors.
func NewVectorTensor(values ...float32) Tensor {
	data := make([]float32, len(values))
	copy(data, values)
	return Tensor{Data: data, Shape: []int64{1, int64(len(values))}}
}

// ImageToNCHW converts an RGB image to a normalized [1, 3, H, W] tensor.
// Each channel is scaled to [0,1] and then normalized with mean and std.
// The data buffer comes from a pool; call Release once the tensor is consumed.
func ImageToNCHW(img image.Image, mean, std [3]float32) (Tensor, error) {
	if img == nil {
		return Tensor{}, errors.New("nil image")
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= 0 || h <= 0 {
		return Tensor{}, fmt.Errorf("invalid image size %dx%d", w, h)
	}
	for i, s := range std {
		if s == 0 {
			return Tensor{}, fmt.Errorf("std[%d] must be non-zero", i)
		}
	}

	plane := w * h
	data := mempool.GetFloat32(3 * plane)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			idx := y*w + x
			data[idx] = (float32(r>>8)/255 - mean[0]) / std[0]
			data[plane+idx] = (float32(g>>8)/255 - mean[1]) / std[1]
			data[2*plane+idx] = (float32(bl>>8)/255 - mean[2]) / std[2]
		}
	}
	return NewImageTensor(data, 3, h, w)
}

// Release hands a pooled data buffer back. The tensor must not be used afterwards.
func (t *Tensor) Release() {
	mempool.PutFloat32(t.Data)
	t.Data = nil
}

// ValidateNCHW ensures a shape is [N, C, H, W] with positive dimensions.
func ValidateNCHW(shape []int64) error {
	if len(shape) != 4 {
		return fmt.Errorf("shape rank %d != 4", len(shape))
	}
	for i, v := range shape {
		if v <= 0 {
			return fmt.Errorf("dimension %d must be > 0, got %d", i, v)
		}
	}
	return nil
}

// VerifyImageTensor checks data length matches the provided NCHW shape.
func VerifyImageTensor(t Tensor) error {
	if err := ValidateNCHW(t.Shape); err != nil {
		return err
	}
	n, c, h, w := t.Shape[0], t.Shape[1], t.Shape[2], t.Shape[3]
	expected := int(n * c * h * w)
	if len(t.Data) != expected {
		return fmt.Errorf("tensor data length %d != expected %d for shape %v", len(t.Data), expected, t.Shape)
	}
	return nil
}
