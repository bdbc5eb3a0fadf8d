// Package metrics exposes prometheus instrumentation for the compute
// dispatch layer. Every dispatch decision, fallback, and kernel compile is
// observable here so slow paths can be diagnosed from /metrics alone.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DispatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tessera_dispatch_total",
		Help: "Total number of dispatched operations by op and backend",
	}, []string{"op", "backend"})

	CPUFallbackTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tessera_cpu_fallback_total",
		Help: "Total number of GPU operations that fell back to the CPU path",
	}, []string{"op", "reason"})

	KernelCompileDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tessera_kernel_compile_duration_ms",
		Help:    "Duration of native kernel compilation in milliseconds",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 14), // 0.1ms to ~800ms
	})

	CompiledKernels = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tessera_compiled_kernels",
		Help: "Number of compiled kernel pipelines currently cached",
	})

	MatMulGFLOPS = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tessera_matmul_gflops",
		Help: "Performance of the last matrix multiplication in GFLOPS",
	})

	GPUMemoryTotalMB = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tessera_gpu_memory_total_mb",
		Help: "Total memory of the active GPU device in megabytes",
	})
)
