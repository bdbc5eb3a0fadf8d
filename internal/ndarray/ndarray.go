// Package ndarray provides the flat numeric buffer that flows between the
// dispatch layer and its callers. An NDArray owns a contiguous float64
// buffer plus an ordered shape; it is passed by pointer and mutated in
// place by kernel execution.
package ndarray

import (
	"fmt"
)

// NDArray is a shape-tagged contiguous buffer of float64 values stored in
// row-major order. The invariant len(data) == product(shape) holds for
// every NDArray produced by this package.
type NDArray struct {
	data  []float64
	shape []int
}

// New allocates a zero-filled NDArray with the given shape.
func New(shape ...int) (*NDArray, error) {
	size, err := checkShape(shape)
	if err != nil {
		return nil, err
	}
	return &NDArray{
		data:  make([]float64, size),
		shape: append([]int(nil), shape...),
	}, nil
}

// FromSlice wraps data in an NDArray with the given shape. The slice is not
// copied; the NDArray takes ownership.
func FromSlice(data []float64, shape ...int) (*NDArray, error) {
	size, err := checkShape(shape)
	if err != nil {
		return nil, err
	}
	if len(data) != size {
		return nil, fmt.Errorf("data length %d does not match shape %v (size %d)", len(data), shape, size)
	}
	return &NDArray{
		data:  data,
		shape: append([]int(nil), shape...),
	}, nil
}

// Zeros is like New but panics on an invalid shape. Intended for fixed
// shapes known at the call site.
func Zeros(shape ...int) *NDArray {
	a, err := New(shape...)
	if err != nil {
		panic(err)
	}
	return a
}

// Size returns the total number of elements.
func (a *NDArray) Size() int { return len(a.data) }

// Shape returns the dimension sizes. The returned slice must not be mutated.
func (a *NDArray) Shape() []int { return a.shape }

// Data returns the underlying buffer. Kernels write into it in place.
func (a *NDArray) Data() []float64 { return a.data }

// Rows returns the first dimension size, or 1 for a scalar.
func (a *NDArray) Rows() int {
	if len(a.shape) == 0 {
		return 1
	}
	return a.shape[0]
}

// Cols returns the second dimension size for a matrix, or the total size
// for a vector.
func (a *NDArray) Cols() int {
	if len(a.shape) < 2 {
		return len(a.data)
	}
	return a.shape[1]
}

// At returns the element at row i, column j of a 2-D array.
func (a *NDArray) At(i, j int) float64 {
	return a.data[i*a.Cols()+j]
}

// Set stores v at row i, column j of a 2-D array.
func (a *NDArray) Set(i, j int, v float64) {
	a.data[i*a.Cols()+j] = v
}

// Reshape changes the shape without touching the buffer. The new shape must
// describe the same number of elements.
func (a *NDArray) Reshape(shape ...int) error {
	size, err := checkShape(shape)
	if err != nil {
		return err
	}
	if size != len(a.data) {
		return fmt.Errorf("cannot reshape %d elements to %v (size %d)", len(a.data), shape, size)
	}
	a.shape = append([]int(nil), shape...)
	return nil
}

// Clone returns a deep copy.
func (a *NDArray) Clone() *NDArray {
	return &NDArray{
		data:  append([]float64(nil), a.data...),
		shape: append([]int(nil), a.shape...),
	}
}

func checkShape(shape []int) (int, error) {
	if len(shape) == 0 {
		return 0, fmt.Errorf("shape must have at least one dimension")
	}
	size := 1
	for _, d := range shape {
		if d < 0 {
			return 0, fmt.Errorf("negative dimension %d in shape %v", d, shape)
		}
		size *= d
	}
	return size, nil
}
