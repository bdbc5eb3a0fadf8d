//go:build metal && darwin

package gpu

/*
#cgo CFLAGS: -I${SRCDIR}/../../metal/include -x objective-c -fobjc-arc
#cgo LDFLAGS: ${SRCDIR}/../../metal/lib/libtessera_metal.a -framework Metal -framework MetalPerformanceShaders -framework Foundation
#include "tessera_metal.h"
#include <stdlib.h>
*/
import "C"
import (
	"fmt"
	"unsafe"

	"go.uber.org/zap"

	"github.com/tessellate-ml/tessera/metal"
)

func init() {
	registerBackend(BackendMetal, true, func(log *zap.Logger) Backend {
		return newMetalBackend(log)
	})
}

// metalBackend drives Apple GPUs. MatMul goes through Metal Performance
// Shaders from the embedded metallib; expression kernels are compiled at
// runtime from MSL source with newLibraryWithSource.
type metalBackend struct {
	log         *zap.Logger
	available   bool
	initialized bool
	info        GPUInfo
}

func newMetalBackend(log *zap.Logger) *metalBackend {
	b := &metalBackend{log: log.Named("metal")}
	if C.tessera_metal_check_device() != 0 {
		log.Debug("no Metal device present")
	} else {
		b.available = true
	}
	return b
}

func (b *metalBackend) Type() BackendType          { return BackendMetal }
func (b *metalBackend) IsAvailable() bool          { return b.available }
func (b *metalBackend) NativePrecision() Precision { return PrecisionFloat32 }
func (b *metalBackend) DeviceInfo() GPUInfo        { return b.info }

func (b *metalBackend) Initialize() error {
	if !b.available {
		return fmt.Errorf("%w: no Metal device", ErrBackendUnavailable)
	}
	if b.initialized {
		return nil
	}

	// The embedded metallib carries the pre-compiled MPS matmul wrapper;
	// expression kernels are compiled from source at first use.
	lib := metal.Lib()
	var rc C.int
	if len(lib) > 0 {
		rc = C.tessera_metal_init_with_lib(unsafe.Pointer(&lib[0]), C.size_t(len(lib)))
	} else {
		rc = C.tessera_metal_init()
	}
	if rc != 0 {
		return fmt.Errorf("metal init failed: code %d", int(rc))
	}

	var info C.TesseraMetalDeviceInfo
	if rc := C.tessera_metal_device_info(&info); rc != 0 {
		return fmt.Errorf("metal device info failed: code %d", int(rc))
	}
	b.info = GPUInfo{
		Vendor:         VendorApple,
		Name:           C.GoString(&info.name[0]),
		MemoryMB:       int(info.total_memory_mb),
		ComputeCapable: true,
		APISupport:     "metal",
	}
	if info.unified_memory == 1 {
		b.info.APISupport += " (unified memory)"
	}

	b.initialized = true
	b.log.Info("Metal context ready",
		zap.String("device", b.info.Name),
		zap.Int("memory_mb", b.info.MemoryMB))
	return nil
}

func (b *metalBackend) Cleanup() error {
	if !b.initialized {
		return nil
	}
	C.tessera_metal_cleanup()
	b.initialized = false
	return nil
}

func (b *metalBackend) MatMul(a, bb []float32, m, k, n int) ([]float32, error) {
	if !b.initialized {
		return nil, fmt.Errorf("%w: Metal context not initialized", ErrNotInitialized)
	}
	out := make([]float32, m*n)
	rc := C.tessera_metal_matmul(
		(*C.float)(unsafe.Pointer(&a[0])),
		(*C.float)(unsafe.Pointer(&bb[0])),
		(*C.float)(unsafe.Pointer(&out[0])),
		C.int(m), C.int(n), C.int(k))
	if rc != 0 {
		return nil, fmt.Errorf("metal matmul failed: code %d", int(rc))
	}
	return out, nil
}

// metalPipeline wraps a MTLComputePipelineState handle held by the shim.
type metalPipeline struct {
	handle C.TesseraMetalPipeline
}

func (p *metalPipeline) Release() {
	if p.handle != nil {
		C.tessera_metal_release_pipeline(p.handle)
		p.handle = nil
	}
}

func (b *metalBackend) CompileKernel(name, source string, paramCount int) (Pipeline, error) {
	if !b.initialized {
		return nil, fmt.Errorf("%w: Metal context not initialized", ErrNotInitialized)
	}
	cName := C.CString(name)
	cSource := C.CString(source)
	defer C.free(unsafe.Pointer(cName))
	defer C.free(unsafe.Pointer(cSource))

	var handle C.TesseraMetalPipeline
	errBuf := make([]byte, 4096)
	rc := C.tessera_metal_compile(cSource, cName, &handle,
		(*C.char)(unsafe.Pointer(&errBuf[0])), C.size_t(len(errBuf)))
	if rc != 0 {
		return nil, fmt.Errorf("MSL compile failed: %s", cstringBytes(errBuf))
	}
	return &metalPipeline{handle: handle}, nil
}

func (b *metalBackend) DispatchUnary(p Pipeline, in, out []float32, params []float32) error {
	pl, ok := p.(*metalPipeline)
	if !ok || pl.handle == nil {
		return fmt.Errorf("invalid Metal pipeline handle")
	}
	rc := C.tessera_metal_dispatch(pl.handle,
		(*C.float)(unsafe.Pointer(&in[0])), nil,
		(*C.float)(unsafe.Pointer(&out[0])),
		metalFloatPtr(params), C.int(len(params)), C.int(len(in)))
	if rc != 0 {
		return fmt.Errorf("metal unary dispatch failed: code %d", int(rc))
	}
	return nil
}

func (b *metalBackend) DispatchBinary(p Pipeline, in1, in2, out []float32, params []float32) error {
	pl, ok := p.(*metalPipeline)
	if !ok || pl.handle == nil {
		return fmt.Errorf("invalid Metal pipeline handle")
	}
	rc := C.tessera_metal_dispatch(pl.handle,
		(*C.float)(unsafe.Pointer(&in1[0])),
		(*C.float)(unsafe.Pointer(&in2[0])),
		(*C.float)(unsafe.Pointer(&out[0])),
		metalFloatPtr(params), C.int(len(params)), C.int(len(in1)))
	if rc != 0 {
		return fmt.Errorf("metal binary dispatch failed: code %d", int(rc))
	}
	return nil
}

func metalFloatPtr(s []float32) *C.float {
	if len(s) == 0 {
		return nil
	}
	return (*C.float)(unsafe.Pointer(&s[0]))
}
