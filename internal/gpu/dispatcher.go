package gpu

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/tessellate-ml/tessera/internal/metrics"
	"github.com/tessellate-ml/tessera/internal/ndarray"
)

// Dispatcher routes named numeric operations to either the in-process CPU
// implementation or the active GPU backend, based on the registry's device
// state. GPU failures are non-fatal: the operation is transparently
// re-executed on the CPU and the fallback is logged and counted.
type Dispatcher struct {
	mu  sync.RWMutex
	reg *Registry
	km  *KernelManager
	log *zap.Logger
}

// NewDispatcher creates a dispatcher over the given registry and kernel
// manager.
func NewDispatcher(reg *Registry, km *KernelManager, log *zap.Logger) *Dispatcher {
	return &Dispatcher{
		reg: reg,
		km:  km,
		log: log.Named("dispatch"),
	}
}

// MatMul computes out = a × b for 2-D buffers. The inner dimensions must
// match and out must hold rows(a) × cols(b) elements; mismatches are
// errors on both the CPU and GPU paths, never silent no-ops.
func (d *Dispatcher) MatMul(a, b, out *ndarray.NDArray) error {
	if len(a.Shape()) != 2 || len(b.Shape()) != 2 {
		return fmt.Errorf("%w: matmul requires 2-D buffers, got %v × %v", ErrShapeMismatch, a.Shape(), b.Shape())
	}
	m, k := a.Shape()[0], a.Shape()[1]
	kb, n := b.Shape()[0], b.Shape()[1]
	if k != kb {
		return fmt.Errorf("%w: matmul inner dimensions %d and %d differ", ErrShapeMismatch, k, kb)
	}
	if out.Size() != m*n {
		return fmt.Errorf("%w: matmul output size %d, want %d", ErrShapeMismatch, out.Size(), m*n)
	}
	// A zero dimension yields an empty product, or an all-zero one when
	// only the inner dimension collapses. gonum rejects zero-length
	// matrices, so settle these before building any.
	if m == 0 || k == 0 || n == 0 {
		clear(out.Data())
		return out.Reshape(m, n)
	}

	if d.gpuPath() {
		backend := d.km.Backend()
		prec := backend.NativePrecision()
		result, err := backend.MatMul(toNative(a.Data(), prec), toNative(b.Data(), prec), m, k, n)
		if err == nil {
			fromNative(result, out.Data())
			metrics.DispatchTotal.WithLabelValues("matmul", backend.Type().String()).Inc()
			return out.Reshape(m, n)
		}
		d.fallback("matmul", err)
	}

	am := mat.NewDense(m, k, a.Data())
	bm := mat.NewDense(k, n, b.Data())
	cm := mat.NewDense(m, n, out.Data())
	cm.Mul(am, bm)
	metrics.DispatchTotal.WithLabelValues("matmul", "cpu").Inc()
	return out.Reshape(m, n)
}

// Add computes out = a + b elementwise.
func (d *Dispatcher) Add(a, b, out *ndarray.NDArray) error {
	return d.binary("add", a, b, out, floats.AddTo)
}

// Subtract computes out = a - b elementwise.
func (d *Dispatcher) Subtract(a, b, out *ndarray.NDArray) error {
	return d.binary("subtract", a, b, out, floats.SubTo)
}

// Multiply computes out = a * b elementwise (Hadamard product).
func (d *Dispatcher) Multiply(a, b, out *ndarray.NDArray) error {
	return d.binary("multiply", a, b, out, floats.MulTo)
}

// AddScalar computes out = a + s elementwise.
func (d *Dispatcher) AddScalar(a *ndarray.NDArray, s float64, out *ndarray.NDArray) error {
	return d.scalar("add_scalar", a, s, out, func(dst []float64) {
		floats.AddConst(s, dst)
	})
}

// MultiplyScalar computes out = a * s elementwise.
func (d *Dispatcher) MultiplyScalar(a *ndarray.NDArray, s float64, out *ndarray.NDArray) error {
	return d.scalar("multiply_scalar", a, s, out, func(dst []float64) {
		floats.Scale(s, dst)
	})
}

// AvailableGPUBackends enumerates backends compiled into this binary and
// confirmed present at runtime.
func (d *Dispatcher) AvailableGPUBackends() []BackendType {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []BackendType
	for _, t := range compiledBackends() {
		if d.reg.backendAvailable(t) {
			out = append(out, t)
		}
	}
	return out
}

// SetPreferredGPUBackend commits an explicit backend preference. The
// request is validated against AvailableGPUBackends first; an unavailable
// backend leaves the previous preference in place and returns false.
func (d *Dispatcher) SetPreferredGPUBackend(t BackendType) bool {
	for _, avail := range d.AvailableGPUBackends() {
		if avail == t {
			d.mu.Lock()
			d.reg.SetPreferredBackend(t)
			d.mu.Unlock()
			return true
		}
	}
	d.log.Warn("requested GPU backend not available, keeping previous preference",
		zap.String("requested", t.String()))
	return false
}

// CurrentGPUBackend returns the backend of the active compute context, or
// the recorded preference when no context is active.
func (d *Dispatcher) CurrentGPUBackend() BackendType {
	if d.km.HasGPUContext() {
		return d.km.BackendType()
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.reg.PreferredBackend()
}

func (d *Dispatcher) binary(name string, a, b, out *ndarray.NDArray, cpu func(dst, s, t []float64) []float64) error {
	if a.Size() != b.Size() {
		return fmt.Errorf("%w: %s sizes %d and %d differ", ErrShapeMismatch, name, a.Size(), b.Size())
	}
	if out.Size() != a.Size() {
		return fmt.Errorf("%w: %s output size %d, want %d", ErrShapeMismatch, name, out.Size(), a.Size())
	}

	if d.gpuPath() {
		if err := d.km.ExecuteBinaryKernel(name, a.Data(), b.Data(), out.Data()); err == nil {
			metrics.DispatchTotal.WithLabelValues(name, d.km.BackendType().String()).Inc()
			return nil
		} else {
			d.fallback(name, err)
		}
	}

	cpu(out.Data(), a.Data(), b.Data())
	metrics.DispatchTotal.WithLabelValues(name, "cpu").Inc()
	return nil
}

func (d *Dispatcher) scalar(name string, a *ndarray.NDArray, s float64, out *ndarray.NDArray, cpu func(dst []float64)) error {
	if out.Size() != a.Size() {
		return fmt.Errorf("%w: %s output size %d, want %d", ErrShapeMismatch, name, out.Size(), a.Size())
	}

	if d.gpuPath() {
		if err := d.km.ExecuteUnaryKernel(name, a.Data(), out.Data(), s); err == nil {
			metrics.DispatchTotal.WithLabelValues(name, d.km.BackendType().String()).Inc()
			return nil
		} else {
			d.fallback(name, err)
		}
	}

	copy(out.Data(), a.Data())
	cpu(out.Data())
	metrics.DispatchTotal.WithLabelValues(name, "cpu").Inc()
	return nil
}

func (d *Dispatcher) gpuPath() bool {
	return d.reg.CurrentDevice() == DeviceGPU && d.km.HasGPUContext()
}

// fallback records a non-fatal GPU failure before the CPU re-execution.
func (d *Dispatcher) fallback(op string, err error) {
	reason := "kernel_error"
	switch {
	case errors.Is(err, ErrKernelCompile):
		reason = "compile_failed"
	case errors.Is(err, ErrBackendUnavailable):
		reason = "backend_unavailable"
	}
	metrics.CPUFallbackTotal.WithLabelValues(op, reason).Inc()
	d.log.Warn("GPU execution failed, re-running on CPU",
		zap.String("op", op),
		zap.String("reason", reason),
		zap.Error(err))
}
