package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestDispatchCounters(t *testing.T) {
	t.Run("DispatchTotal", func(t *testing.T) {
		before := testutil.ToFloat64(DispatchTotal.WithLabelValues("matmul", "cpu"))
		DispatchTotal.WithLabelValues("matmul", "cpu").Inc()
		DispatchTotal.WithLabelValues("matmul", "cpu").Inc()
		assert.Equal(t, before+2, testutil.ToFloat64(DispatchTotal.WithLabelValues("matmul", "cpu")))
	})

	t.Run("CPUFallbackTotal", func(t *testing.T) {
		before := testutil.ToFloat64(CPUFallbackTotal.WithLabelValues("add", "compile_failed"))
		CPUFallbackTotal.WithLabelValues("add", "compile_failed").Inc()
		assert.Equal(t, before+1, testutil.ToFloat64(CPUFallbackTotal.WithLabelValues("add", "compile_failed")))
	})

	t.Run("CompiledKernels", func(t *testing.T) {
		CompiledKernels.Set(9)
		assert.Equal(t, float64(9), testutil.ToFloat64(CompiledKernels))
	})

	t.Run("MatMulGFLOPS", func(t *testing.T) {
		MatMulGFLOPS.Set(12.5)
		assert.Equal(t, 12.5, testutil.ToFloat64(MatMulGFLOPS))
	})

	t.Run("KernelCompileDuration", func(t *testing.T) {
		assert.NotPanics(t, func() {
			KernelCompileDuration.Observe(3.7)
		})
	})
}
