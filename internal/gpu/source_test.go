package gpu

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateKernelSource(t *testing.T) {
	t.Run("cuda", func(t *testing.T) {
		src := GenerateKernelSource(BackendCUDA, "relu", "max(input, 0.0)", nil)
		assert.Contains(t, src, `extern "C" __global__ void relu(`)
		assert.Contains(t, src, "float input = in[gid];")
		assert.Contains(t, src, "out[gid] = (max(input, 0.0));")
	})

	t.Run("rocm shares the cuda dialect", func(t *testing.T) {
		assert.Equal(t,
			GenerateKernelSource(BackendCUDA, "relu", "max(input, 0.0)", nil),
			GenerateKernelSource(BackendROCm, "relu", "max(input, 0.0)", nil))
	})

	t.Run("metal", func(t *testing.T) {
		src := GenerateKernelSource(BackendMetal, "sigmoid", "1.0 / (1.0 + exp(-input))", nil)
		assert.Contains(t, src, "#include <metal_stdlib>")
		assert.Contains(t, src, "kernel void sigmoid(")
		assert.Contains(t, src, "thread_position_in_grid")
	})

	t.Run("oneapi", func(t *testing.T) {
		src := GenerateKernelSource(BackendOneAPI, "tanh", "tanh(input)", nil)
		assert.Contains(t, src, "__kernel void tanh(")
		assert.Contains(t, src, "get_global_id(0)")
	})

	t.Run("none backend yields no source", func(t *testing.T) {
		assert.Empty(t, GenerateKernelSource(BackendNone, "relu", "max(input, 0.0)", nil))
	})

	t.Run("parameters rewritten positionally", func(t *testing.T) {
		src := GenerateKernelSource(BackendCUDA, "affine", "a * input + b", []string{"a", "b"})
		assert.Contains(t, src, "params[0] * input + params[1]")
	})

	t.Run("substitution is whole word only", func(t *testing.T) {
		// The parameter "c" must not touch the "c" inside "cos".
		src := GenerateKernelSource(BackendCUDA, "wave", "cos(input) + c", []string{"c"})
		assert.Contains(t, src, "cos(input) + params[0]")
		assert.NotContains(t, src, "params[0]os(")
	})
}

func TestGenerateBinaryKernelSource(t *testing.T) {
	for _, bt := range []BackendType{BackendCUDA, BackendROCm, BackendMetal, BackendOneAPI} {
		t.Run(bt.String(), func(t *testing.T) {
			src := generateBinaryKernelSource(bt, "add", "+")
			require.NotEmpty(t, src)
			assert.Contains(t, src, "in1[gid] + in2[gid]")
			assert.True(t, strings.Contains(src, "add("), "kernel must carry the registered name")
		})
	}
	assert.Empty(t, generateBinaryKernelSource(BackendNone, "add", "+"))
}
