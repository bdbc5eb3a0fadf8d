package gpu

import (
	"fmt"
	"testing"

	"go.uber.org/zap"

	"github.com/tessellate-ml/tessera/internal/ndarray"
)

func BenchmarkDispatcherMatMul(b *testing.B) {
	log := zap.NewNop()
	reg := NewRegistry(log, WithProbe(staticProbe(Probe{})))
	km := NewKernelManager(nil, "", log)
	if err := km.InitializeBuiltinKernels(); err != nil {
		b.Fatal(err)
	}
	defer km.Cleanup()
	d := NewDispatcher(reg, km, log)

	sizes := []int{32, 64, 128, 256}

	for _, size := range sizes {
		b.Run(fmt.Sprintf("size_%d", size), func(b *testing.B) {
			data := make([]float64, size*size)
			for i := range data {
				data[i] = float64(i%100) / 100.0
			}
			a, err := ndarray.FromSlice(data, size, size)
			if err != nil {
				b.Fatal(err)
			}
			m := a.Clone()
			out := ndarray.Zeros(size, size)

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if err := d.MatMul(a, m, out); err != nil {
					b.Fatal(err)
				}
			}

			flops := int64(2*size*size*size) * int64(b.N)
			seconds := b.Elapsed().Seconds()
			b.ReportMetric(float64(flops)/seconds/1e9, "GFLOPS")
			b.ReportMetric(float64(size*size*8*3)/(1<<20), "MB")
		})
	}
}

func BenchmarkActivationCPU(b *testing.B) {
	log := zap.NewNop()
	km := NewKernelManager(nil, "", log)
	if err := km.InitializeBuiltinKernels(); err != nil {
		b.Fatal(err)
	}
	defer km.Cleanup()
	reg := NewActivationRegistry(km, log)
	if err := reg.InitializeBuiltinActivations(); err != nil {
		b.Fatal(err)
	}

	in := make([]float64, 1<<16)
	for i := range in {
		in[i] = float64(i%200-100) / 10.0
	}
	out := make([]float64, len(in))

	for _, name := range []string{"relu", "sigmoid", "gelu"} {
		b.Run(name, func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				if err := reg.ExecuteActivation(name, in, out); err != nil {
					b.Fatal(err)
				}
			}
			b.SetBytes(int64(len(in) * 8))
		})
	}
}
