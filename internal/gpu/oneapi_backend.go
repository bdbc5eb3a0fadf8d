//go:build oneapi

package gpu

/*
#cgo LDFLAGS: -lOpenCL

#define CL_TARGET_OPENCL_VERSION 300
#include <CL/cl.h>
#include <stdlib.h>
#include <string.h>

static cl_context       tessera_cl_ctx = NULL;
static cl_command_queue tessera_cl_queue = NULL;
static cl_device_id     tessera_cl_dev = NULL;

// Picks the first Intel GPU device, falling back to any GPU on an Intel
// platform. Returns 0 on success.
static int tessera_cl_check_device(void) {
	cl_platform_id platforms[8];
	cl_uint n_platforms = 0;
	if (clGetPlatformIDs(8, platforms, &n_platforms) != CL_SUCCESS || n_platforms == 0) {
		return 1;
	}
	for (cl_uint i = 0; i < n_platforms; i++) {
		cl_device_id dev;
		cl_uint n_dev = 0;
		if (clGetDeviceIDs(platforms[i], CL_DEVICE_TYPE_GPU, 1, &dev, &n_dev) == CL_SUCCESS && n_dev > 0) {
			tessera_cl_dev = dev;
			return 0;
		}
	}
	return 2;
}

static int tessera_cl_init(void) {
	cl_int err;
	if (tessera_cl_dev == NULL && tessera_cl_check_device() != 0) return 1;
	tessera_cl_ctx = clCreateContext(NULL, 1, &tessera_cl_dev, NULL, NULL, &err);
	if (err != CL_SUCCESS) return 2;
	tessera_cl_queue = clCreateCommandQueueWithProperties(tessera_cl_ctx, tessera_cl_dev, NULL, &err);
	if (err != CL_SUCCESS) return 3;
	return 0;
}

static void tessera_cl_cleanup(void) {
	if (tessera_cl_queue) { clReleaseCommandQueue(tessera_cl_queue); tessera_cl_queue = NULL; }
	if (tessera_cl_ctx)   { clReleaseContext(tessera_cl_ctx); tessera_cl_ctx = NULL; }
}

static int tessera_cl_device_info(char* name, size_t name_cap, size_t* total_mb) {
	if (tessera_cl_dev == NULL) return 1;
	if (clGetDeviceInfo(tessera_cl_dev, CL_DEVICE_NAME, name_cap, name, NULL) != CL_SUCCESS) return 2;
	cl_ulong mem = 0;
	clGetDeviceInfo(tessera_cl_dev, CL_DEVICE_GLOBAL_MEM_SIZE, sizeof(mem), &mem, NULL);
	*total_mb = (size_t)(mem / (1024 * 1024));
	return 0;
}

// Builds an OpenCL C program and returns the named kernel. On build
// failure the log is copied into log_buf.
static int tessera_cl_compile(const char* source, const char* name,
                              cl_kernel* kernel, char* log_buf, size_t log_cap) {
	cl_int err;
	cl_program prog = clCreateProgramWithSource(tessera_cl_ctx, 1, &source, NULL, &err);
	if (err != CL_SUCCESS) return 1;
	if (clBuildProgram(prog, 1, &tessera_cl_dev, "", NULL, NULL) != CL_SUCCESS) {
		clGetProgramBuildInfo(prog, tessera_cl_dev, CL_PROGRAM_BUILD_LOG, log_cap - 1, log_buf, NULL);
		clReleaseProgram(prog);
		return 2;
	}
	*kernel = clCreateKernel(prog, name, &err);
	clReleaseProgram(prog);
	return err == CL_SUCCESS ? 0 : 3;
}

// Runs an elementwise kernel over n work items. in2 may be NULL for unary
// kernels; binary kernels take (in1, in2, out, n), unary (in, out, params, n).
static int tessera_cl_dispatch(cl_kernel kernel,
                               const float* in1, const float* in2, float* out,
                               const float* params, int n_params, int n) {
	cl_int err;
	size_t bytes = (size_t)n * sizeof(float);
	size_t pbytes = (size_t)(n_params > 0 ? n_params : 1) * sizeof(float);
	float zero = 0.0f;
	if (params == NULL || n_params == 0) params = &zero;
	int rc = 0;

	cl_mem d_in1 = clCreateBuffer(tessera_cl_ctx, CL_MEM_READ_ONLY | CL_MEM_COPY_HOST_PTR, bytes, (void*)in1, &err);
	cl_mem d_in2 = NULL, d_out = NULL, d_params = NULL;
	if (err != CL_SUCCESS) return 1;
	if (in2 != NULL) {
		d_in2 = clCreateBuffer(tessera_cl_ctx, CL_MEM_READ_ONLY | CL_MEM_COPY_HOST_PTR, bytes, (void*)in2, &err);
		if (err != CL_SUCCESS) { rc = 1; goto done; }
	}
	d_out = clCreateBuffer(tessera_cl_ctx, CL_MEM_WRITE_ONLY, bytes, NULL, &err);
	if (err != CL_SUCCESS) { rc = 1; goto done; }
	d_params = clCreateBuffer(tessera_cl_ctx, CL_MEM_READ_ONLY | CL_MEM_COPY_HOST_PTR, pbytes, (void*)params, &err);
	if (err != CL_SUCCESS) { rc = 1; goto done; }

	{
		int arg = 0;
		clSetKernelArg(kernel, arg++, sizeof(cl_mem), &d_in1);
		if (in2 != NULL) clSetKernelArg(kernel, arg++, sizeof(cl_mem), &d_in2);
		clSetKernelArg(kernel, arg++, sizeof(cl_mem), &d_out);
		if (in2 == NULL) clSetKernelArg(kernel, arg++, sizeof(cl_mem), &d_params);
		clSetKernelArg(kernel, arg++, sizeof(int), &n);

		size_t global = (size_t)((n + 255) / 256) * 256;
		size_t local = 256;
		if (clEnqueueNDRangeKernel(tessera_cl_queue, kernel, 1, NULL, &global, &local, 0, NULL, NULL) != CL_SUCCESS) {
			rc = 2; goto done;
		}
		if (clEnqueueReadBuffer(tessera_cl_queue, d_out, CL_TRUE, 0, bytes, out, 0, NULL, NULL) != CL_SUCCESS) {
			rc = 3; goto done;
		}
	}

done:
	if (d_in1) clReleaseMemObject(d_in1);
	if (d_in2) clReleaseMemObject(d_in2);
	if (d_out) clReleaseMemObject(d_out);
	if (d_params) clReleaseMemObject(d_params);
	return rc;
}

static int tessera_cl_matmul(cl_kernel kernel,
                             const float* a, const float* b, float* c,
                             int m, int n, int k) {
	cl_int err;
	size_t a_bytes = (size_t)m * k * sizeof(float);
	size_t b_bytes = (size_t)k * n * sizeof(float);
	size_t c_bytes = (size_t)m * n * sizeof(float);
	int rc = 0;

	cl_mem d_a = clCreateBuffer(tessera_cl_ctx, CL_MEM_READ_ONLY | CL_MEM_COPY_HOST_PTR, a_bytes, (void*)a, &err);
	cl_mem d_b = NULL, d_c = NULL;
	if (err != CL_SUCCESS) return 1;
	d_b = clCreateBuffer(tessera_cl_ctx, CL_MEM_READ_ONLY | CL_MEM_COPY_HOST_PTR, b_bytes, (void*)b, &err);
	if (err != CL_SUCCESS) { rc = 1; goto done; }
	d_c = clCreateBuffer(tessera_cl_ctx, CL_MEM_WRITE_ONLY, c_bytes, NULL, &err);
	if (err != CL_SUCCESS) { rc = 1; goto done; }

	{
		clSetKernelArg(kernel, 0, sizeof(cl_mem), &d_a);
		clSetKernelArg(kernel, 1, sizeof(cl_mem), &d_b);
		clSetKernelArg(kernel, 2, sizeof(cl_mem), &d_c);
		clSetKernelArg(kernel, 3, sizeof(int), &m);
		clSetKernelArg(kernel, 4, sizeof(int), &n);
		clSetKernelArg(kernel, 5, sizeof(int), &k);

		size_t global[2] = { (size_t)((n + 15) / 16) * 16, (size_t)((m + 15) / 16) * 16 };
		size_t local[2] = { 16, 16 };
		if (clEnqueueNDRangeKernel(tessera_cl_queue, kernel, 2, NULL, global, local, 0, NULL, NULL) != CL_SUCCESS) {
			rc = 2; goto done;
		}
		if (clEnqueueReadBuffer(tessera_cl_queue, d_c, CL_TRUE, 0, c_bytes, c, 0, NULL, NULL) != CL_SUCCESS) {
			rc = 3; goto done;
		}
	}

done:
	if (d_a) clReleaseMemObject(d_a);
	if (d_b) clReleaseMemObject(d_b);
	if (d_c) clReleaseMemObject(d_c);
	return rc;
}
*/
import "C"
import (
	"fmt"
	"unsafe"

	"go.uber.org/zap"
)

func init() {
	registerBackend(BackendOneAPI, true, func(log *zap.Logger) Backend {
		return newOneAPIBackend(log)
	})
}

// oneapiMatMulSource is the fixed OpenCL C matmul kernel; matmul uses the
// same online-compilation path as every expression kernel.
const oneapiMatMulSource = `__kernel void tessera_matmul(__global const float* a, __global const float* b, __global float* c, const int m, const int n, const int k) {
    int col = get_global_id(0);
    int row = get_global_id(1);
    if (row >= m || col >= n) return;
    float sum = 0.0f;
    for (int i = 0; i < k; i++) {
        sum += a[row * k + i] * b[i * n + col];
    }
    c[row * n + col] = sum;
}
`

// oneapiBackend drives Intel GPUs through the OpenCL runtime shipped with
// the oneAPI toolkit, building kernels online with clBuildProgram.
type oneapiBackend struct {
	log         *zap.Logger
	available   bool
	initialized bool
	info        GPUInfo
	matmul      *oneapiPipeline
}

func newOneAPIBackend(log *zap.Logger) *oneapiBackend {
	b := &oneapiBackend{log: log.Named("oneapi")}
	if C.tessera_cl_check_device() == 0 {
		b.available = true
	}
	return b
}

func (b *oneapiBackend) Type() BackendType          { return BackendOneAPI }
func (b *oneapiBackend) IsAvailable() bool          { return b.available }
func (b *oneapiBackend) NativePrecision() Precision { return PrecisionFloat32 }
func (b *oneapiBackend) DeviceInfo() GPUInfo        { return b.info }

func (b *oneapiBackend) Initialize() error {
	if !b.available {
		return fmt.Errorf("%w: no OpenCL GPU device", ErrBackendUnavailable)
	}
	if b.initialized {
		return nil
	}
	if rc := C.tessera_cl_init(); rc != 0 {
		return fmt.Errorf("opencl init failed: code %d", int(rc))
	}

	nameBuf := make([]byte, 256)
	var totalMB C.size_t
	if rc := C.tessera_cl_device_info((*C.char)(unsafe.Pointer(&nameBuf[0])), C.size_t(len(nameBuf)), &totalMB); rc != 0 {
		return fmt.Errorf("opencl device info failed: code %d", int(rc))
	}
	b.info = GPUInfo{
		Vendor:         VendorIntel,
		Name:           cstringBytes(nameBuf),
		MemoryMB:       int(totalMB),
		ComputeCapable: true,
		APISupport:     "oneapi",
	}
	b.initialized = true
	b.log.Info("OpenCL context ready", zap.String("device", b.info.Name))
	return nil
}

func (b *oneapiBackend) Cleanup() error {
	if !b.initialized {
		return nil
	}
	if b.matmul != nil {
		b.matmul.Release()
		b.matmul = nil
	}
	C.tessera_cl_cleanup()
	b.initialized = false
	return nil
}

type oneapiPipeline struct {
	kernel C.cl_kernel
}

func (p *oneapiPipeline) Release() {
	if p.kernel != nil {
		C.clReleaseKernel(p.kernel)
		p.kernel = nil
	}
}

func (b *oneapiBackend) CompileKernel(name, source string, paramCount int) (Pipeline, error) {
	if !b.initialized {
		return nil, fmt.Errorf("%w: OpenCL context not initialized", ErrNotInitialized)
	}
	cName := C.CString(name)
	cSource := C.CString(source)
	defer C.free(unsafe.Pointer(cName))
	defer C.free(unsafe.Pointer(cSource))

	p := &oneapiPipeline{}
	logBuf := make([]byte, 4096)
	rc := C.tessera_cl_compile(cSource, cName, &p.kernel,
		(*C.char)(unsafe.Pointer(&logBuf[0])), C.size_t(len(logBuf)))
	if rc != 0 {
		return nil, fmt.Errorf("clBuildProgram failed (%d): %s", int(rc), cstringBytes(logBuf))
	}
	return p, nil
}

func (b *oneapiBackend) DispatchUnary(p Pipeline, in, out []float32, params []float32) error {
	pl, ok := p.(*oneapiPipeline)
	if !ok || pl.kernel == nil {
		return fmt.Errorf("invalid OpenCL pipeline handle")
	}
	rc := C.tessera_cl_dispatch(pl.kernel,
		(*C.float)(unsafe.Pointer(&in[0])), nil,
		(*C.float)(unsafe.Pointer(&out[0])),
		oneapiFloatPtr(params), C.int(len(params)), C.int(len(in)))
	if rc != 0 {
		return fmt.Errorf("opencl unary dispatch failed: code %d", int(rc))
	}
	return nil
}

func (b *oneapiBackend) DispatchBinary(p Pipeline, in1, in2, out []float32, params []float32) error {
	pl, ok := p.(*oneapiPipeline)
	if !ok || pl.kernel == nil {
		return fmt.Errorf("invalid OpenCL pipeline handle")
	}
	rc := C.tessera_cl_dispatch(pl.kernel,
		(*C.float)(unsafe.Pointer(&in1[0])),
		(*C.float)(unsafe.Pointer(&in2[0])),
		(*C.float)(unsafe.Pointer(&out[0])),
		oneapiFloatPtr(params), C.int(len(params)), C.int(len(in1)))
	if rc != 0 {
		return fmt.Errorf("opencl binary dispatch failed: code %d", int(rc))
	}
	return nil
}

// MatMul compiles and caches the fixed matmul kernel, then enqueues it
// over an m×n range.
func (b *oneapiBackend) MatMul(a, bb []float32, m, k, n int) ([]float32, error) {
	if !b.initialized {
		return nil, fmt.Errorf("%w: OpenCL context not initialized", ErrNotInitialized)
	}
	if b.matmul == nil {
		p, err := b.CompileKernel("tessera_matmul", oneapiMatMulSource, 0)
		if err != nil {
			return nil, err
		}
		b.matmul = p.(*oneapiPipeline)
	}

	out := make([]float32, m*n)
	rc := C.tessera_cl_matmul(b.matmul.kernel,
		(*C.float)(unsafe.Pointer(&a[0])),
		(*C.float)(unsafe.Pointer(&bb[0])),
		(*C.float)(unsafe.Pointer(&out[0])),
		C.int(m), C.int(n), C.int(k))
	if rc != 0 {
		return nil, fmt.Errorf("opencl matmul failed: code %d", int(rc))
	}
	return out, nil
}

func oneapiFloatPtr(s []float32) *C.float {
	if len(s) == 0 {
		return nil
	}
	return (*C.float)(unsafe.Pointer(&s[0]))
}
