package gpu

import (
	"github.com/x448/float16"
)

// The conversion bridge between the library's float64 buffers and a
// backend's native precision. Narrowing is lossy by design; callers must
// not assume bit-exact round trips.

// Float64ToFloat32 narrows a float64 slice to float32.
func Float64ToFloat32(in []float64) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}

// Float32ToFloat64 widens a float32 slice back to float64.
func Float32ToFloat64(in []float32) []float64 {
	out := make([]float64, len(in))
	for i, v := range in {
		out[i] = float64(v)
	}
	return out
}

// Float64ToFloat16 narrows through IEEE 754 half precision, rounding to
// nearest even, for backends whose kernels compute in fp16.
func Float64ToFloat16(in []float64) []float16.Float16 {
	out := make([]float16.Float16, len(in))
	for i, v := range in {
		out[i] = float16.Fromfloat32(float32(v))
	}
	return out
}

// Float16ToFloat64 widens half precision values back to float64.
func Float16ToFloat64(in []float16.Float16) []float64 {
	out := make([]float64, len(in))
	for i, v := range in {
		out[i] = float64(v.Float32())
	}
	return out
}

// toNative converts a float64 buffer to the float32 dispatch representation
// for the given native precision. For fp16 backends the values are rounded
// through half precision first so host-side results match device results.
func toNative(in []float64, p Precision) []float32 {
	out := make([]float32, len(in))
	if p == PrecisionFloat16 {
		for i, v := range in {
			out[i] = float16.Fromfloat32(float32(v)).Float32()
		}
		return out
	}
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}

// fromNative widens dispatch results back into an existing float64 buffer.
func fromNative(in []float32, out []float64) {
	for i, v := range in {
		out[i] = float64(v)
	}
}

// cstringBytes interprets b as a NUL-terminated C string.
func cstringBytes(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
