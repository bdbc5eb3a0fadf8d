package gpu

import (
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/tessellate-ml/tessera/internal/config"
	"github.com/tessellate-ml/tessera/internal/metrics"
)

// Built-in kernel names. The unary set is expression-defined; the binary
// set combines two inputs with an infix operator.
var builtinUnaryKernels = []struct {
	name       string
	expression string
	paramNames []string
	constants  []float64
}{
	{"relu", "max(input, 0.0)", nil, nil},
	{"sigmoid", "1.0 / (1.0 + exp(-input))", nil, nil},
	{"tanh", "tanh(input)", nil, nil},
	{"leaky_relu", "input > 0.0 ? input : alpha * input", []string{"alpha"}, []float64{0.01}},
	{"elu", "input > 0.0 ? input : alpha * (exp(input) - 1.0)", []string{"alpha"}, []float64{1.0}},
	{"softplus", "log(1.0 + exp(input))", nil, nil},
	{"add_scalar", "input + c", []string{"c"}, []float64{0}},
	{"multiply_scalar", "input * c", []string{"c"}, []float64{1}},
}

var builtinBinaryKernels = []struct {
	name string
	op   string
}{
	{"add", "+"},
	{"subtract", "-"},
	{"multiply", "*"},
}

// cpuUnaryKernels are the closed-form host implementations of the built-in
// unary kernels, used whenever no GPU context is active.
var cpuUnaryKernels = map[string]func(x float64, params []float64) float64{
	"relu": func(x float64, _ []float64) float64 { return math.Max(x, 0) },
	"sigmoid": func(x float64, _ []float64) float64 {
		return 1.0 / (1.0 + math.Exp(-x))
	},
	"tanh": func(x float64, _ []float64) float64 { return math.Tanh(x) },
	"leaky_relu": func(x float64, params []float64) float64 {
		alpha := paramOr(params, 0, 0.01)
		if x > 0 {
			return x
		}
		return alpha * x
	},
	"elu": func(x float64, params []float64) float64 {
		alpha := paramOr(params, 0, 1.0)
		if x > 0 {
			return x
		}
		return alpha * (math.Exp(x) - 1.0)
	},
	"softplus": func(x float64, _ []float64) float64 {
		return math.Log(1.0 + math.Exp(x))
	},
	"add_scalar": func(x float64, params []float64) float64 {
		return x + paramOr(params, 0, 0)
	},
	"multiply_scalar": func(x float64, params []float64) float64 {
		return x * paramOr(params, 0, 1)
	},
}

var cpuBinaryKernels = map[string]func(a, b float64) float64{
	"add":      func(a, b float64) float64 { return a + b },
	"subtract": func(a, b float64) float64 { return a - b },
	"multiply": func(a, b float64) float64 { return a * b },
}

func paramOr(params []float64, i int, def float64) float64 {
	if i < len(params) {
		return params[i]
	}
	return def
}

// KernelManager executes named elementwise kernels against raw buffers and
// owns every native GPU resource: the compute context and the compiled
// pipeline cache. With no backend (or after a failed context init) it
// evaluates the built-in kernels in process.
//
// Not synchronized; see the package comment.
type KernelManager struct {
	log     *zap.Logger
	policy  config.UnknownKernelPolicy
	backend Backend

	kernels   map[string]KernelParams
	pipelines map[string]Pipeline

	initialized bool
	gpuActive   bool
	// generation increments on every Cleanup so higher layers can tell
	// their pushed registrations went stale.
	generation int
}

// NewKernelManager creates a manager bound to backend, which may be nil
// for a CPU-only context.
func NewKernelManager(backend Backend, policy config.UnknownKernelPolicy, log *zap.Logger) *KernelManager {
	if policy == "" {
		policy = config.UnknownKernelIdentity
	}
	return &KernelManager{
		log:       log.Named("kernels"),
		policy:    policy,
		backend:   backend,
		kernels:   make(map[string]KernelParams),
		pipelines: make(map[string]Pipeline),
	}
}

// InitializeBuiltinKernels creates the native compute context for the
// bound backend and pre-registers the built-in kernel set. Idempotent: a
// second call is a no-op. A failed context creation downgrades the manager
// to the CPU path rather than failing.
func (m *KernelManager) InitializeBuiltinKernels() error {
	if m.initialized {
		return nil
	}

	backendType := BackendNone
	if m.backend != nil {
		if err := m.backend.Initialize(); err != nil {
			m.log.Warn("compute context creation failed, using CPU path",
				zap.String("backend", m.backend.Type().String()),
				zap.Error(err))
		} else {
			m.gpuActive = true
			backendType = m.backend.Type()
			info := m.backend.DeviceInfo()
			metrics.GPUMemoryTotalMB.Set(float64(info.MemoryMB))
			m.log.Info("compute context ready",
				zap.String("backend", backendType.String()),
				zap.String("device", info.Name))
		}
	}

	for _, k := range builtinUnaryKernels {
		m.kernels[k.name] = KernelParams{
			Name:      k.name,
			Source:    GenerateKernelSource(backendType, k.name, k.expression, k.paramNames),
			Constants: k.constants,
		}
	}
	for _, k := range builtinBinaryKernels {
		m.kernels[k.name] = KernelParams{
			Name:   k.name,
			Source: generateBinaryKernelSource(backendType, k.name, k.op),
		}
	}

	m.initialized = true
	return nil
}

// RegisterKernel inserts or overwrites a kernel definition by name.
// Compilation is deferred to first execution; overwriting an already
// compiled name drops its stale pipeline so the next execution recompiles.
func (m *KernelManager) RegisterKernel(p KernelParams) {
	if pl, ok := m.pipelines[p.Name]; ok {
		pl.Release()
		delete(m.pipelines, p.Name)
		metrics.CompiledKernels.Set(float64(len(m.pipelines)))
	}
	m.kernels[p.Name] = p
}

// RegisteredKernelCount returns the number of registered definitions.
func (m *KernelManager) RegisteredKernelCount() int { return len(m.kernels) }

// HasGPUContext reports whether a native compute context is active.
func (m *KernelManager) HasGPUContext() bool { return m.gpuActive }

// Backend returns the bound backend, or nil for a CPU-only manager.
func (m *KernelManager) Backend() Backend { return m.backend }

// BackendType returns the type of the active GPU context, or BackendNone.
func (m *KernelManager) BackendType() BackendType {
	if !m.gpuActive {
		return BackendNone
	}
	return m.backend.Type()
}

// ExecuteUnaryKernel runs the named kernel over in, writing len(in)
// results into out. Explicit params override the constants stored at
// registration.
func (m *KernelManager) ExecuteUnaryKernel(name string, in, out []float64, params ...float64) error {
	if len(out) < len(in) {
		return fmt.Errorf("%w: output size %d < input size %d", ErrShapeMismatch, len(out), len(in))
	}

	kp, registered := m.kernels[name]
	eff := params
	if len(eff) == 0 {
		eff = kp.Constants
	}

	if !m.gpuActive {
		return m.cpuUnary(name, in, out, eff)
	}
	if !registered {
		return m.handleUnknown(name, in, out)
	}

	pl, err := m.pipeline(name, kp.Source, len(eff))
	if err != nil {
		return err
	}

	prec := m.backend.NativePrecision()
	nin := toNative(in, prec)
	nout := make([]float32, len(in))
	if err := m.backend.DispatchUnary(pl, nin, nout, toNative(eff, prec)); err != nil {
		return fmt.Errorf("dispatch %q on %s: %w", name, m.backend.Type(), err)
	}
	fromNative(nout, out)
	return nil
}

// ExecuteBinaryKernel runs the named two-input kernel elementwise over in1
// and in2.
func (m *KernelManager) ExecuteBinaryKernel(name string, in1, in2, out []float64, params ...float64) error {
	if len(in1) != len(in2) {
		return fmt.Errorf("%w: input sizes %d and %d differ", ErrShapeMismatch, len(in1), len(in2))
	}
	if len(out) < len(in1) {
		return fmt.Errorf("%w: output size %d < input size %d", ErrShapeMismatch, len(out), len(in1))
	}

	if !m.gpuActive {
		return m.cpuBinary(name, in1, in2, out)
	}
	kp, registered := m.kernels[name]
	if !registered {
		return m.handleUnknown(name, in1, out)
	}

	pl, err := m.pipeline(name, kp.Source, len(params))
	if err != nil {
		return err
	}

	prec := m.backend.NativePrecision()
	nout := make([]float32, len(in1))
	if err := m.backend.DispatchBinary(pl, toNative(in1, prec), toNative(in2, prec), nout, toNative(params, prec)); err != nil {
		return fmt.Errorf("dispatch %q on %s: %w", name, m.backend.Type(), err)
	}
	fromNative(nout, out)
	return nil
}

// Cleanup releases every cached pipeline and the compute context. Safe to
// call repeatedly and when never initialized.
func (m *KernelManager) Cleanup() {
	for name, pl := range m.pipelines {
		pl.Release()
		delete(m.pipelines, name)
	}
	metrics.CompiledKernels.Set(0)
	if m.gpuActive {
		if err := m.backend.Cleanup(); err != nil {
			m.log.Warn("backend cleanup failed", zap.Error(err))
		}
		m.gpuActive = false
	}
	m.kernels = make(map[string]KernelParams)
	m.initialized = false
	m.generation++
}

// pipeline returns the cached compiled pipeline for name, compiling and
// caching it on first use.
func (m *KernelManager) pipeline(name, source string, paramCount int) (Pipeline, error) {
	if pl, ok := m.pipelines[name]; ok {
		return pl, nil
	}
	start := time.Now()
	pl, err := m.backend.CompileKernel(name, source, paramCount)
	if err != nil {
		return nil, fmt.Errorf("%w: %q on %s: %v", ErrKernelCompile, name, m.backend.Type(), err)
	}
	metrics.KernelCompileDuration.Observe(float64(time.Since(start).Microseconds()) / 1000.0)
	m.pipelines[name] = pl
	metrics.CompiledKernels.Set(float64(len(m.pipelines)))
	m.log.Debug("compiled kernel", zap.String("name", name), zap.String("backend", m.backend.Type().String()))
	return pl, nil
}

func (m *KernelManager) cpuUnary(name string, in, out []float64, params []float64) error {
	f, ok := cpuUnaryKernels[name]
	if !ok {
		return m.handleUnknown(name, in, out)
	}
	for i, x := range in {
		out[i] = f(x, params)
	}
	return nil
}

func (m *KernelManager) cpuBinary(name string, in1, in2, out []float64) error {
	f, ok := cpuBinaryKernels[name]
	if !ok {
		return m.handleUnknown(name, in1, out)
	}
	for i := range in1 {
		out[i] = f(in1[i], in2[i])
	}
	return nil
}

// handleUnknown resolves execution of an unregistered name per the
// configured policy: identity pass-through with a diagnostic, or
// ErrUnknownKernel.
func (m *KernelManager) handleUnknown(name string, in, out []float64) error {
	if m.policy == config.UnknownKernelError {
		return fmt.Errorf("%w: %q", ErrUnknownKernel, name)
	}
	copy(out, in)
	m.log.Warn("unknown kernel, passing input through unchanged",
		zap.String("name", name))
	return nil
}
