package gpu

import (
	"go.uber.org/zap"
)

// Pipeline is a compiled, ready-to-execute kernel owned by the backend
// that produced it. Handles must not outlive the backend's Cleanup.
type Pipeline interface {
	// Release frees the native pipeline object. Safe to call once.
	Release()
}

// Backend is the uniform capability interface one vendor compute API must
// implement. Adding a vendor means adding one implementation file (plus its
// build-tag stub) and one registration; no call site changes.
//
// Implementation notes:
//   - IsAvailable must be a quick runtime probe and must never panic.
//   - Initialize creates the native compute context (device handle, command
//     queue) and is called once by the kernel manager.
//   - Dispatch blocks until the device finishes the work-item grid.
type Backend interface {
	// Type identifies the vendor API.
	Type() BackendType

	// IsAvailable reports whether the vendor runtime and a capable device
	// are present. Probe failures are absorbed and reported as false.
	IsAvailable() bool

	// Initialize creates the compute context. Idempotent.
	Initialize() error

	// Cleanup releases the compute context and every pipeline it produced.
	// Idempotent and safe to call when never initialized.
	Cleanup() error

	// DeviceInfo describes the device backing the context.
	DeviceInfo() GPUInfo

	// NativePrecision is the element type kernels compute in. Buffers are
	// converted to and from this precision around every dispatch.
	NativePrecision() Precision

	// MatMul computes C = A*B for row-major A (m×k) and B (k×n).
	MatMul(a, b []float32, m, k, n int) ([]float32, error)

	// CompileKernel turns kernel source into an executable pipeline.
	// Compilation errors are real bugs in the source, not environment
	// limitations, and are returned wrapped in ErrKernelCompile.
	CompileKernel(name, source string, paramCount int) (Pipeline, error)

	// DispatchUnary runs a compiled unary kernel across len(in) work items.
	DispatchUnary(p Pipeline, in, out []float32, params []float32) error

	// DispatchBinary runs a compiled binary kernel across len(in1) work items.
	DispatchBinary(p Pipeline, in1, in2, out []float32, params []float32) error
}

type backendEntry struct {
	factory func(*zap.Logger) Backend
	// compiled is true when the real implementation is linked in, false for
	// the build-tag stub.
	compiled bool
}

// backendRegistry is the dispatch table of vendor backends. Each vendor
// file (or its stub) registers itself at init, so the set of entries is
// fixed at link time.
var backendRegistry = map[BackendType]backendEntry{}

func registerBackend(t BackendType, compiled bool, factory func(*zap.Logger) Backend) {
	backendRegistry[t] = backendEntry{factory: factory, compiled: compiled}
}

// newBackend constructs the backend for t, or nil if none is registered.
func newBackend(t BackendType, log *zap.Logger) Backend {
	entry, ok := backendRegistry[t]
	if !ok {
		return nil
	}
	return entry.factory(log)
}

// compiledBackends lists backends whose real implementation is linked into
// this binary, in preference order.
func compiledBackends() []BackendType {
	var out []BackendType
	for _, t := range []BackendType{BackendCUDA, BackendROCm, BackendMetal, BackendOneAPI} {
		if entry, ok := backendRegistry[t]; ok && entry.compiled {
			out = append(out, t)
		}
	}
	return out
}
