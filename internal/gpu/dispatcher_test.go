package gpu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/tessellate-ml/tessera/internal/ndarray"
)

func cpuDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	log := zaptest.NewLogger(t)
	reg := NewRegistry(log, WithProbe(staticProbe(Probe{})))
	return NewDispatcher(reg, cpuManager(t, ""), log)
}

// gpuDispatcher wires a dispatcher whose registry is on the GPU device and
// whose kernel manager holds an active fake context.
func gpuDispatcher(t *testing.T, fake *fakeBackend) *Dispatcher {
	t.Helper()
	log := zaptest.NewLogger(t)
	installFakeBackend(t, fake)
	reg := NewRegistry(log, WithProbe(staticProbe(Probe{Descriptor: "NVIDIA GeForce RTX 3060"})))
	require.True(t, reg.SetDeviceWithValidation(DeviceGPU, false))
	return NewDispatcher(reg, gpuManager(t, fake), log)
}

func matrix(t *testing.T, rows, cols int, data ...float64) *ndarray.NDArray {
	t.Helper()
	nd, err := ndarray.FromSlice(data, rows, cols)
	require.NoError(t, err)
	return nd
}

func TestDispatcherMatMul(t *testing.T) {
	run := func(t *testing.T, d *Dispatcher) {
		a := matrix(t, 2, 3,
			1, 2, 3,
			4, 5, 6)
		b := matrix(t, 3, 2,
			7, 8,
			9, 10,
			11, 12)
		out := ndarray.Zeros(2, 2)

		require.NoError(t, d.MatMul(a, b, out))
		// [1*7+2*9+3*11, 1*8+2*10+3*12] = [58, 64]
		// [4*7+5*9+6*11, 4*8+5*10+6*12] = [139, 154]
		assert.InDeltaSlice(t, []float64{58, 64, 139, 154}, out.Data(), 1e-6)
	}

	t.Run("cpu", func(t *testing.T) { run(t, cpuDispatcher(t)) })
	t.Run("gpu", func(t *testing.T) {
		fake := newFakeBackend()
		d := gpuDispatcher(t, fake)
		run(t, d)
		assert.Equal(t, []BackendType{BackendCUDA}, d.AvailableGPUBackends())
	})

	t.Run("gpu failure recomputes on cpu", func(t *testing.T) {
		fake := newFakeBackend()
		fake.matmulErr = assert.AnError
		run(t, gpuDispatcher(t, fake))
	})

	t.Run("inner dimension mismatch", func(t *testing.T) {
		d := cpuDispatcher(t)
		a := matrix(t, 2, 3, 1, 2, 3, 4, 5, 6)
		b := matrix(t, 2, 2, 1, 2, 3, 4)
		out := ndarray.Zeros(2, 2)
		require.ErrorIs(t, d.MatMul(a, b, out), ErrShapeMismatch)
	})

	t.Run("mismatch errors on the gpu path too", func(t *testing.T) {
		d := gpuDispatcher(t, newFakeBackend())
		a := matrix(t, 2, 3, 1, 2, 3, 4, 5, 6)
		b := matrix(t, 2, 2, 1, 2, 3, 4)
		out := ndarray.Zeros(2, 2)
		require.ErrorIs(t, d.MatMul(a, b, out), ErrShapeMismatch)
	})

	t.Run("wrong output size", func(t *testing.T) {
		d := cpuDispatcher(t)
		a := matrix(t, 2, 2, 1, 2, 3, 4)
		b := matrix(t, 2, 2, 5, 6, 7, 8)
		out := ndarray.Zeros(3, 3)
		require.ErrorIs(t, d.MatMul(a, b, out), ErrShapeMismatch)
	})

	t.Run("non 2-D operands", func(t *testing.T) {
		d := cpuDispatcher(t)
		a, err := ndarray.FromSlice([]float64{1, 2, 3}, 3)
		require.NoError(t, err)
		b := matrix(t, 3, 1, 1, 2, 3)
		out := ndarray.Zeros(1, 1)
		require.ErrorIs(t, d.MatMul(a, b, out), ErrShapeMismatch)
	})

	t.Run("zero rows produce an empty result", func(t *testing.T) {
		d := cpuDispatcher(t)
		a := matrix(t, 0, 3)
		b := matrix(t, 3, 2, 1, 2, 3, 4, 5, 6)
		out := ndarray.Zeros(0, 2)
		require.NoError(t, d.MatMul(a, b, out))
		assert.Empty(t, out.Data())
		assert.Equal(t, []int{0, 2}, out.Shape())
	})

	t.Run("zero inner dimension zeroes the output", func(t *testing.T) {
		d := cpuDispatcher(t)
		a := matrix(t, 2, 0)
		b := matrix(t, 0, 2)
		out := matrix(t, 2, 2, 9, 9, 9, 9)
		require.NoError(t, d.MatMul(a, b, out))
		assert.Equal(t, []float64{0, 0, 0, 0}, out.Data())
	})

	t.Run("zero dimension on the gpu path stays on host", func(t *testing.T) {
		fake := newFakeBackend()
		d := gpuDispatcher(t, fake)
		a := matrix(t, 0, 3)
		b := matrix(t, 3, 0)
		out := ndarray.Zeros(0, 1)
		require.NoError(t, d.MatMul(a, b, out))
		assert.Zero(t, fake.matmulCount)
	})
}

func TestDispatcherElementwise(t *testing.T) {
	run := func(t *testing.T, d *Dispatcher) {
		a := matrix(t, 1, 3, 1, 2, 3)
		b := matrix(t, 1, 3, 10, 20, 30)
		out := ndarray.Zeros(1, 3)

		require.NoError(t, d.Add(a, b, out))
		assert.InDeltaSlice(t, []float64{11, 22, 33}, out.Data(), 1e-6)

		require.NoError(t, d.Subtract(a, b, out))
		assert.InDeltaSlice(t, []float64{-9, -18, -27}, out.Data(), 1e-6)

		require.NoError(t, d.Multiply(a, b, out))
		assert.InDeltaSlice(t, []float64{10, 40, 90}, out.Data(), 1e-6)
	}

	t.Run("cpu", func(t *testing.T) { run(t, cpuDispatcher(t)) })

	t.Run("size mismatch", func(t *testing.T) {
		d := cpuDispatcher(t)
		a := matrix(t, 1, 3, 1, 2, 3)
		b := matrix(t, 1, 2, 1, 2)
		out := ndarray.Zeros(1, 3)
		require.ErrorIs(t, d.Add(a, b, out), ErrShapeMismatch)
	})

	t.Run("gpu binary kernels", func(t *testing.T) {
		fake := newFakeBackend()
		d := gpuDispatcher(t, fake)
		a := matrix(t, 1, 2, 1, 2)
		b := matrix(t, 1, 2, 3, 4)
		out := ndarray.Zeros(1, 2)
		require.NoError(t, d.Add(a, b, out))
		assert.InDeltaSlice(t, []float64{4, 6}, out.Data(), 1e-6)
		assert.Equal(t, 1, fake.binaryCount)
	})
}

func TestDispatcherScalarOps(t *testing.T) {
	d := cpuDispatcher(t)
	a := matrix(t, 1, 3, 1, 2, 3)
	out := ndarray.Zeros(1, 3)

	t.Run("add scalar", func(t *testing.T) {
		require.NoError(t, d.AddScalar(a, 0.5, out))
		assert.InDeltaSlice(t, []float64{1.5, 2.5, 3.5}, out.Data(), 1e-9)
	})

	t.Run("multiply scalar", func(t *testing.T) {
		require.NoError(t, d.MultiplyScalar(a, -2, out))
		assert.InDeltaSlice(t, []float64{-2, -4, -6}, out.Data(), 1e-9)
	})

	t.Run("source unchanged", func(t *testing.T) {
		require.NoError(t, d.MultiplyScalar(a, 10, out))
		assert.Equal(t, []float64{1, 2, 3}, a.Data())
	})

	t.Run("output size mismatch", func(t *testing.T) {
		bad := ndarray.Zeros(1, 2)
		require.ErrorIs(t, d.AddScalar(a, 1, bad), ErrShapeMismatch)
	})
}

func TestDispatcherBackendSelection(t *testing.T) {
	t.Run("no backends compiled in", func(t *testing.T) {
		d := cpuDispatcher(t)
		assert.Empty(t, d.AvailableGPUBackends())
		assert.False(t, d.SetPreferredGPUBackend(BackendCUDA))
		assert.Equal(t, BackendNone, d.CurrentGPUBackend())
	})

	t.Run("preference validated against availability", func(t *testing.T) {
		fake := newFakeBackend()
		d := gpuDispatcher(t, fake)

		assert.True(t, d.SetPreferredGPUBackend(BackendCUDA))
		assert.False(t, d.SetPreferredGPUBackend(BackendMetal), "stub backends must be rejected")
		// Active context reports its own type.
		assert.Equal(t, BackendCUDA, d.CurrentGPUBackend())
	})
}
