package gpu

import (
	"fmt"
	"regexp"
	"strings"
)

// Kernel source generation. Each backend's kernel language shares the C
// expression dialect parsed by expr.go, so generating a kernel is template
// substitution: the expression is inlined into a per-backend skeleton where
// "input" names the element being processed and each declared parameter
// name is rewritten to its constant slot.

// GenerateKernelSource produces backend-native source for a unary
// elementwise kernel defined by expr. The expression must already have
// passed parseExpression validation; paramNames are rewritten in order to
// params[0..n-1].
func GenerateKernelSource(t BackendType, name, expr string, paramNames []string) string {
	body := expr
	for i, p := range paramNames {
		body = replaceToken(body, p, fmt.Sprintf("params[%d]", i))
	}
	switch t {
	case BackendCUDA, BackendROCm:
		// HIP compiles the CUDA dialect unchanged.
		return fmt.Sprintf(`extern "C" __global__ void %s(const float* in, float* out, const float* params, int n) {
    int gid = blockIdx.x * blockDim.x + threadIdx.x;
    if (gid >= n) return;
    float input = in[gid];
    out[gid] = (%s);
}
`, name, body)
	case BackendMetal:
		return fmt.Sprintf(`#include <metal_stdlib>
using namespace metal;
kernel void %s(device const float* in [[buffer(0)]],
               device float* out [[buffer(1)]],
               constant float* params [[buffer(2)]],
               constant uint& n [[buffer(3)]],
               uint gid [[thread_position_in_grid]]) {
    if (gid >= n) return;
    float input = in[gid];
    out[gid] = (%s);
}
`, name, body)
	case BackendOneAPI:
		return fmt.Sprintf(`__kernel void %s(__global const float* in, __global float* out, __constant float* params, const int n) {
    int gid = get_global_id(0);
    if (gid >= n) return;
    float input = in[gid];
    out[gid] = (%s);
}
`, name, body)
	default:
		return ""
	}
}

// generateBinaryKernelSource produces source for a two-input elementwise
// kernel combining its operands with the infix operator op.
func generateBinaryKernelSource(t BackendType, name, op string) string {
	switch t {
	case BackendCUDA, BackendROCm:
		return fmt.Sprintf(`extern "C" __global__ void %s(const float* in1, const float* in2, float* out, int n) {
    int gid = blockIdx.x * blockDim.x + threadIdx.x;
    if (gid >= n) return;
    out[gid] = in1[gid] %s in2[gid];
}
`, name, op)
	case BackendMetal:
		return fmt.Sprintf(`#include <metal_stdlib>
using namespace metal;
kernel void %s(device const float* in1 [[buffer(0)]],
               device const float* in2 [[buffer(1)]],
               device float* out [[buffer(2)]],
               constant uint& n [[buffer(3)]],
               uint gid [[thread_position_in_grid]]) {
    if (gid >= n) return;
    out[gid] = in1[gid] %s in2[gid];
}
`, name, op)
	case BackendOneAPI:
		return fmt.Sprintf(`__kernel void %s(__global const float* in1, __global const float* in2, __global float* out, const int n) {
    int gid = get_global_id(0);
    if (gid >= n) return;
    out[gid] = in1[gid] %s in2[gid];
}
`, name, op)
	default:
		return ""
	}
}

// replaceToken rewrites whole-word occurrences of token, leaving longer
// identifiers that merely contain it untouched.
func replaceToken(src, token, repl string) string {
	re := regexp.MustCompile(`\b` + regexp.QuoteMeta(token) + `\b`)
	return re.ReplaceAllString(src, strings.ReplaceAll(repl, "$", "$$"))
}
