//go:build cuda

package gpu

/*
#cgo CFLAGS: -I${SRCDIR}/../../cuda
#cgo LDFLAGS: -L${SRCDIR}/../../cuda -ltessera_cuda -lcudart -lnvrtc -lcublas
#include "tessera_cuda.h"
#include <stdlib.h>
*/
import "C"
import (
	"fmt"
	"unsafe"

	"go.uber.org/zap"
)

func init() {
	registerBackend(BackendCUDA, true, func(log *zap.Logger) Backend {
		return newCUDABackend(log)
	})
}

// cudaBackend drives NVIDIA GPUs through the CUDA runtime, with NVRTC for
// runtime kernel compilation and cuBLAS for matrix multiplication.
type cudaBackend struct {
	log         *zap.Logger
	available   bool
	initialized bool
	info        GPUInfo
}

func newCUDABackend(log *zap.Logger) *cudaBackend {
	b := &cudaBackend{log: log.Named("cuda")}
	if rc := C.tessera_cuda_check_device(); rc != 0 {
		log.Debug("CUDA device check failed", zap.Int("code", int(rc)))
	} else {
		b.available = true
	}
	return b
}

func (b *cudaBackend) Type() BackendType          { return BackendCUDA }
func (b *cudaBackend) IsAvailable() bool          { return b.available }
func (b *cudaBackend) NativePrecision() Precision { return PrecisionFloat32 }
func (b *cudaBackend) DeviceInfo() GPUInfo        { return b.info }

func (b *cudaBackend) Initialize() error {
	if !b.available {
		return fmt.Errorf("%w: no CUDA device", ErrBackendUnavailable)
	}
	if b.initialized {
		return nil
	}

	if rc := C.tessera_cuda_init(); rc != 0 {
		return fmt.Errorf("cuda init failed: %s", cudaError(rc))
	}

	var info C.TesseraCudaDeviceInfo
	if rc := C.tessera_cuda_device_info(&info); rc != 0 {
		return fmt.Errorf("cuda device info failed: %s", cudaError(rc))
	}
	b.info = GPUInfo{
		Vendor:         VendorNVIDIA,
		Name:           C.GoString(&info.name[0]),
		MemoryMB:       int(info.total_memory_mb),
		ComputeCapable: true,
		APISupport:     fmt.Sprintf("cuda (cc %d.%d)", int(info.major), int(info.minor)),
	}

	b.initialized = true
	b.log.Info("CUDA context ready",
		zap.String("device", b.info.Name),
		zap.Int("memory_mb", b.info.MemoryMB))
	return nil
}

func (b *cudaBackend) Cleanup() error {
	if !b.initialized {
		return nil
	}
	if rc := C.tessera_cuda_cleanup(); rc != 0 {
		return fmt.Errorf("cuda cleanup failed: %s", cudaError(rc))
	}
	b.initialized = false
	return nil
}

func (b *cudaBackend) MatMul(a, bb []float32, m, k, n int) ([]float32, error) {
	if err := b.ensureContext(); err != nil {
		return nil, err
	}
	if len(a) != m*k || len(bb) != k*n {
		return nil, fmt.Errorf("%w: matmul buffers %d×%d for %d×%d · %d×%d", ErrShapeMismatch, len(a), len(bb), m, k, k, n)
	}

	out := make([]float32, m*n)
	rc := C.tessera_cuda_matmul(
		(*C.float)(unsafe.Pointer(&a[0])),
		(*C.float)(unsafe.Pointer(&bb[0])),
		(*C.float)(unsafe.Pointer(&out[0])),
		C.int(m), C.int(n), C.int(k))
	if rc != 0 {
		return nil, fmt.Errorf("cuda matmul failed: %s", cudaError(rc))
	}
	return out, nil
}

// cudaPipeline wraps an NVRTC-compiled module handle.
type cudaPipeline struct {
	handle C.TesseraCudaKernel
}

func (p *cudaPipeline) Release() {
	if p.handle != nil {
		C.tessera_cuda_release_kernel(p.handle)
		p.handle = nil
	}
}

func (b *cudaBackend) CompileKernel(name, source string, paramCount int) (Pipeline, error) {
	if err := b.ensureContext(); err != nil {
		return nil, err
	}

	cName := C.CString(name)
	cSource := C.CString(source)
	defer C.free(unsafe.Pointer(cName))
	defer C.free(unsafe.Pointer(cSource))

	var handle C.TesseraCudaKernel
	logBuf := make([]byte, 4096)
	rc := C.tessera_cuda_compile(cSource, cName, &handle,
		(*C.char)(unsafe.Pointer(&logBuf[0])), C.size_t(len(logBuf)))
	if rc != 0 {
		return nil, fmt.Errorf("nvrtc: %s: %s", cudaError(rc), cstringBytes(logBuf))
	}
	return &cudaPipeline{handle: handle}, nil
}

func (b *cudaBackend) DispatchUnary(p Pipeline, in, out []float32, params []float32) error {
	pl, ok := p.(*cudaPipeline)
	if !ok || pl.handle == nil {
		return fmt.Errorf("invalid CUDA pipeline handle")
	}
	rc := C.tessera_cuda_launch_unary(pl.handle,
		(*C.float)(unsafe.Pointer(&in[0])),
		(*C.float)(unsafe.Pointer(&out[0])),
		floatPtr(params), C.int(len(params)), C.int(len(in)))
	if rc != 0 {
		return fmt.Errorf("cuda unary launch failed: %s", cudaError(rc))
	}
	return nil
}

func (b *cudaBackend) DispatchBinary(p Pipeline, in1, in2, out []float32, params []float32) error {
	pl, ok := p.(*cudaPipeline)
	if !ok || pl.handle == nil {
		return fmt.Errorf("invalid CUDA pipeline handle")
	}
	rc := C.tessera_cuda_launch_binary(pl.handle,
		(*C.float)(unsafe.Pointer(&in1[0])),
		(*C.float)(unsafe.Pointer(&in2[0])),
		(*C.float)(unsafe.Pointer(&out[0])),
		floatPtr(params), C.int(len(params)), C.int(len(in1)))
	if rc != 0 {
		return fmt.Errorf("cuda binary launch failed: %s", cudaError(rc))
	}
	return nil
}

func (b *cudaBackend) ensureContext() error {
	if !b.initialized {
		return fmt.Errorf("%w: CUDA context not initialized", ErrNotInitialized)
	}
	return nil
}

func floatPtr(s []float32) *C.float {
	if len(s) == 0 {
		return nil
	}
	return (*C.float)(unsafe.Pointer(&s[0]))
}

func cudaError(rc C.int) string {
	return C.GoString(C.tessera_cuda_error_string(rc))
}
