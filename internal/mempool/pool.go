// Package mempool pools the scratch buffers used by layout detection: the
// float32 image tensors fed to ONNX Runtime and the suppression masks of NMS.
package mempool

import "sync"

const step = 1024

// sizeClass rounds n up to a multiple of 1024 so similar page sizes share buffers.
func sizeClass(n int) int {
	if n <= step {
		return step
	}
	return (n + step - 1) / step * step
}

type sizedPool[T any] struct {
	classes sync.Map // size class -> *sync.Pool of *[]T
}

func (p *sizedPool[T]) pool(cls int) *sync.Pool {
	v, _ := p.classes.LoadOrStore(cls, &sync.Pool{New: func() any {
		buf := make([]T, cls)
		return &buf
	}})
	return v.(*sync.Pool)
}

func (p *sizedPool[T]) get(n int) []T {
	cls := sizeClass(n)
	ptr, _ := p.pool(cls).Get().(*[]T)
	if ptr == nil || cap(*ptr) < cls {
		return make([]T, cls)[:n]
	}
	return (*ptr)[:n]
}

func (p *sizedPool[T]) put(buf []T) {
	if cap(buf) < step {
		return
	}
	// Buffers file under the largest class they can fully serve.
	cls := cap(buf) / step * step
	full := buf[:cls]
	p.pool(cls).Put(&full)
}

var (
	float32s sizedPool[float32]
	bools    sizedPool[bool]
)

// GetFloat32 returns a buffer of length n. Its contents are unspecified;
// callers overwrite every element. Return it with PutFloat32.
func GetFloat32(n int) []float32 {
	return float32s.get(n)
}

// PutFloat32 returns a buffer to the pool. Nil and small slices are dropped.
func PutFloat32(buf []float32) {
	float32s.put(buf)
}

// GetBool returns a zeroed buffer of length n. Return it with PutBool.
func GetBool(n int) []bool {
	buf := bools.get(n)
	clear(buf)
	return buf
}

// PutBool returns a buffer to the pool. Nil and small slices are dropped.
func PutBool(buf []bool) {
	bools.put(buf)
}
