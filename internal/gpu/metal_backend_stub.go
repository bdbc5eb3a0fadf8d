//go:build !metal || !darwin

package gpu

import (
	"fmt"

	"go.uber.org/zap"
)

func init() {
	registerBackend(BackendMetal, false, func(log *zap.Logger) Backend {
		return &metalBackend{}
	})
}

// metalBackend is the stub used when the binary is built without the metal
// tag or off macOS.
type metalBackend struct{}

func (b *metalBackend) Type() BackendType          { return BackendMetal }
func (b *metalBackend) IsAvailable() bool          { return false }
func (b *metalBackend) NativePrecision() Precision { return PrecisionFloat32 }
func (b *metalBackend) DeviceInfo() GPUInfo        { return GPUInfo{Vendor: VendorApple, Name: "Metal not compiled in"} }
func (b *metalBackend) Cleanup() error             { return nil }

func (b *metalBackend) Initialize() error {
	return fmt.Errorf("%w: built without metal support", ErrBackendUnavailable)
}

func (b *metalBackend) MatMul(a, bb []float32, m, k, n int) ([]float32, error) {
	return nil, fmt.Errorf("%w: built without metal support", ErrBackendUnavailable)
}

func (b *metalBackend) CompileKernel(name, source string, paramCount int) (Pipeline, error) {
	return nil, fmt.Errorf("%w: built without metal support", ErrBackendUnavailable)
}

func (b *metalBackend) DispatchUnary(p Pipeline, in, out []float32, params []float32) error {
	return fmt.Errorf("%w: built without metal support", ErrBackendUnavailable)
}

func (b *metalBackend) DispatchBinary(p Pipeline, in1, in2, out []float32, params []float32) error {
	return fmt.Errorf("%w: built without metal support", ErrBackendUnavailable)
}
