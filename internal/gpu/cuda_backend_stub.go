//go:build !cuda

package gpu

import (
	"fmt"

	"go.uber.org/zap"
)

func init() {
	registerBackend(BackendCUDA, false, func(log *zap.Logger) Backend {
		return &cudaBackend{}
	})
}

// cudaBackend is the stub used when the binary is built without the cuda
// tag. It reports unavailable and fails loudly on use.
type cudaBackend struct{}

func (b *cudaBackend) Type() BackendType          { return BackendCUDA }
func (b *cudaBackend) IsAvailable() bool          { return false }
func (b *cudaBackend) NativePrecision() Precision { return PrecisionFloat32 }
func (b *cudaBackend) DeviceInfo() GPUInfo        { return GPUInfo{Vendor: VendorNVIDIA, Name: "CUDA not compiled in"} }
func (b *cudaBackend) Cleanup() error             { return nil }

func (b *cudaBackend) Initialize() error {
	return fmt.Errorf("%w: built without cuda support", ErrBackendUnavailable)
}

func (b *cudaBackend) MatMul(a, bb []float32, m, k, n int) ([]float32, error) {
	return nil, fmt.Errorf("%w: built without cuda support", ErrBackendUnavailable)
}

func (b *cudaBackend) CompileKernel(name, source string, paramCount int) (Pipeline, error) {
	return nil, fmt.Errorf("%w: built without cuda support", ErrBackendUnavailable)
}

func (b *cudaBackend) DispatchUnary(p Pipeline, in, out []float32, params []float32) error {
	return fmt.Errorf("%w: built without cuda support", ErrBackendUnavailable)
}

func (b *cudaBackend) DispatchBinary(p Pipeline, in1, in2, out []float32, params []float32) error {
	return fmt.Errorf("%w: built without cuda support", ErrBackendUnavailable)
}
