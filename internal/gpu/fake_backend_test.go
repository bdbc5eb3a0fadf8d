package gpu

import (
	"fmt"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

// fakeBackend is an in-process Backend used to exercise the GPU code paths
// without hardware. Kernels are "compiled" into host closures keyed by
// name; unconfigured names fall back to an identity dispatch so callers can
// still observe that the GPU path ran.
type fakeBackend struct {
	typ       BackendType
	precision Precision
	available bool

	initErr    error
	compileErr error
	unaryErr   error
	matmulErr  error

	initCount    int
	compileCount int
	unaryCount   int
	binaryCount  int
	matmulCount  int
	cleanupCount int

	// unaryFns maps kernel name to the host evaluation applied by
	// DispatchUnary. Binary dispatch is always elementwise addition.
	unaryFns map[string]func(x float32, params []float32) float32

	initialized bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		typ:       BackendCUDA,
		precision: PrecisionFloat32,
		available: true,
		unaryFns:  make(map[string]func(x float32, params []float32) float32),
	}
}

type fakePipeline struct {
	name     string
	released bool
}

func (p *fakePipeline) Release() { p.released = true }

func (b *fakeBackend) Type() BackendType          { return b.typ }
func (b *fakeBackend) IsAvailable() bool          { return b.available }
func (b *fakeBackend) NativePrecision() Precision { return b.precision }
func (b *fakeBackend) DeviceInfo() GPUInfo {
	return GPUInfo{Vendor: VendorNVIDIA, Name: "Fake GPU", MemoryMB: 8192, ComputeCapable: true}
}

func (b *fakeBackend) Initialize() error {
	b.initCount++
	if b.initErr != nil {
		return b.initErr
	}
	b.initialized = true
	return nil
}

func (b *fakeBackend) Cleanup() error {
	b.cleanupCount++
	b.initialized = false
	return nil
}

func (b *fakeBackend) CompileKernel(name, source string, paramCount int) (Pipeline, error) {
	b.compileCount++
	if b.compileErr != nil {
		return nil, b.compileErr
	}
	if source == "" {
		return nil, fmt.Errorf("empty kernel source for %q", name)
	}
	return &fakePipeline{name: name}, nil
}

func (b *fakeBackend) DispatchUnary(p Pipeline, in, out []float32, params []float32) error {
	b.unaryCount++
	if b.unaryErr != nil {
		return b.unaryErr
	}
	pl := p.(*fakePipeline)
	f := b.unaryFns[pl.name]
	for i, x := range in {
		if f != nil {
			out[i] = f(x, params)
		} else {
			out[i] = x
		}
	}
	return nil
}

func (b *fakeBackend) DispatchBinary(p Pipeline, in1, in2, out []float32, params []float32) error {
	b.binaryCount++
	for i := range in1 {
		out[i] = in1[i] + in2[i]
	}
	return nil
}

func (b *fakeBackend) MatMul(a, bb []float32, m, k, n int) ([]float32, error) {
	b.matmulCount++
	if b.matmulErr != nil {
		return nil, b.matmulErr
	}
	out := make([]float32, m*n)
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			var sum float32
			for x := 0; x < k; x++ {
				sum += a[i*k+x] * bb[x*n+j]
			}
			out[i*n+j] = sum
		}
	}
	return out, nil
}

// installFakeBackend swaps fake into the dispatch table under its type for
// the duration of the test.
func installFakeBackend(t *testing.T, fake *fakeBackend) {
	t.Helper()
	prev, had := backendRegistry[fake.typ]
	registerBackend(fake.typ, true, func(_ *zap.Logger) Backend { return fake })
	t.Cleanup(func() {
		if had {
			backendRegistry[fake.typ] = prev
		} else {
			delete(backendRegistry, fake.typ)
		}
	})
}

// gpuManager returns a kernel manager bound to fake with builtins loaded.
func gpuManager(t *testing.T, fake *fakeBackend) *KernelManager {
	t.Helper()
	km := NewKernelManager(fake, "", zaptest.NewLogger(t))
	if err := km.InitializeBuiltinKernels(); err != nil {
		t.Fatalf("initialize builtin kernels: %v", err)
	}
	t.Cleanup(km.Cleanup)
	return km
}
