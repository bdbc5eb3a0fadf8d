//go:build !rocm

package gpu

import (
	"fmt"

	"go.uber.org/zap"
)

func init() {
	registerBackend(BackendROCm, false, func(log *zap.Logger) Backend {
		return &rocmBackend{}
	})
}

// rocmBackend is the stub used when the binary is built without the rocm
// tag.
type rocmBackend struct{}

func (b *rocmBackend) Type() BackendType          { return BackendROCm }
func (b *rocmBackend) IsAvailable() bool          { return false }
func (b *rocmBackend) NativePrecision() Precision { return PrecisionFloat32 }
func (b *rocmBackend) DeviceInfo() GPUInfo        { return GPUInfo{Vendor: VendorAMD, Name: "ROCm not compiled in"} }
func (b *rocmBackend) Cleanup() error             { return nil }

func (b *rocmBackend) Initialize() error {
	return fmt.Errorf("%w: built without rocm support", ErrBackendUnavailable)
}

func (b *rocmBackend) MatMul(a, bb []float32, m, k, n int) ([]float32, error) {
	return nil, fmt.Errorf("%w: built without rocm support", ErrBackendUnavailable)
}

func (b *rocmBackend) CompileKernel(name, source string, paramCount int) (Pipeline, error) {
	return nil, fmt.Errorf("%w: built without rocm support", ErrBackendUnavailable)
}

func (b *rocmBackend) DispatchUnary(p Pipeline, in, out []float32, params []float32) error {
	return fmt.Errorf("%w: built without rocm support", ErrBackendUnavailable)
}

func (b *rocmBackend) DispatchBinary(p Pipeline, in1, in2, out []float32, params []float32) error {
	return fmt.Errorf("%w: built without rocm support", ErrBackendUnavailable)
}
