//go:build !oneapi

package gpu

import (
	"fmt"

	"go.uber.org/zap"
)

func init() {
	registerBackend(BackendOneAPI, false, func(log *zap.Logger) Backend {
		return &oneapiBackend{}
	})
}

// oneapiBackend is the stub used when the binary is built without the
// oneapi tag.
type oneapiBackend struct{}

func (b *oneapiBackend) Type() BackendType          { return BackendOneAPI }
func (b *oneapiBackend) IsAvailable() bool          { return false }
func (b *oneapiBackend) NativePrecision() Precision { return PrecisionFloat32 }
func (b *oneapiBackend) DeviceInfo() GPUInfo {
	return GPUInfo{Vendor: VendorIntel, Name: "oneAPI not compiled in"}
}
func (b *oneapiBackend) Cleanup() error { return nil }

func (b *oneapiBackend) Initialize() error {
	return fmt.Errorf("%w: built without oneapi support", ErrBackendUnavailable)
}

func (b *oneapiBackend) MatMul(a, bb []float32, m, k, n int) ([]float32, error) {
	return nil, fmt.Errorf("%w: built without oneapi support", ErrBackendUnavailable)
}

func (b *oneapiBackend) CompileKernel(name, source string, paramCount int) (Pipeline, error) {
	return nil, fmt.Errorf("%w: built without oneapi support", ErrBackendUnavailable)
}

func (b *oneapiBackend) DispatchUnary(p Pipeline, in, out []float32, params []float32) error {
	return fmt.Errorf("%w: built without oneapi support", ErrBackendUnavailable)
}

func (b *oneapiBackend) DispatchBinary(p Pipeline, in1, in2, out []float32, params []float32) error {
	return fmt.Errorf("%w: built without oneapi support", ErrBackendUnavailable)
}
