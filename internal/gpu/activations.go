package gpu

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/tessellate-ml/tessera/internal/metrics"
)

// builtinActivations is the fixed activation catalog registered by
// InitializeBuiltinActivations, with canonical expressions.
var builtinActivations = []struct {
	def      ActivationDef
	defaults []float64
}{
	{ActivationDef{Name: "relu", GPUExpression: "max(input, 0.0)"}, nil},
	{ActivationDef{Name: "sigmoid", GPUExpression: "1.0 / (1.0 + exp(-input))"}, nil},
	{ActivationDef{Name: "tanh", GPUExpression: "tanh(input)"}, nil},
	{ActivationDef{
		Name:          "leaky_relu",
		GPUExpression: "input > 0.0 ? input : alpha * input",
		ParamNames:    []string{"alpha"},
		HasParameters: true,
	}, []float64{0.01}},
	{ActivationDef{
		Name:          "elu",
		GPUExpression: "input > 0.0 ? input : alpha * (exp(input) - 1.0)",
		ParamNames:    []string{"alpha"},
		HasParameters: true,
	}, []float64{1.0}},
	{ActivationDef{Name: "softplus", GPUExpression: "log(1.0 + exp(input))"}, nil},
	{ActivationDef{
		Name:          "swish",
		GPUExpression: "input / (1.0 + exp(-beta * input))",
		ParamNames:    []string{"beta"},
		HasParameters: true,
	}, []float64{1.0}},
	{ActivationDef{
		Name:          "gelu",
		GPUExpression: "0.5 * input * (1.0 + tanh(0.7978845608028654 * (input + 0.044715 * input * input * input)))",
	}, nil},
}

// ActivationRegistry is the catalog of expression-defined activation
// functions. Each registration is validated once, compiled lazily per
// backend through the kernel manager, and evaluated in process when no GPU
// context is active or compilation fails.
//
// Per name and backend a kernel moves Unregistered -> Registered (source
// stored) -> Compiled (pipeline cached) -> Unregistered again on cleanup.
type ActivationRegistry struct {
	log *zap.Logger
	km  *KernelManager

	defs     map[string]ActivationDef
	evals    map[string]exprNode
	defaults map[string][]float64
	// pushed records the kernel-manager generation a name's source was
	// registered under; a cleanup bumps the generation and forces a fresh
	// registration (and therefore recompilation).
	pushed map[string]int

	initialized bool
}

// NewActivationRegistry creates a registry executing through km.
func NewActivationRegistry(km *KernelManager, log *zap.Logger) *ActivationRegistry {
	return &ActivationRegistry{
		log:      log.Named("activations"),
		km:       km,
		defs:     make(map[string]ActivationDef),
		evals:    make(map[string]exprNode),
		defaults: make(map[string][]float64),
		pushed:   make(map[string]int),
	}
}

// RegisterActivation stores or overwrites a definition by name. The
// expression is parsed immediately: every identifier must be "input", a
// declared parameter, or a whitelisted math builtin, so malformed
// expressions fail here instead of at first execution. Overwriting an
// already compiled name invalidates its stale pipeline.
func (r *ActivationRegistry) RegisterActivation(def ActivationDef) error {
	if def.Name == "" {
		return fmt.Errorf("activation name must not be empty")
	}
	node, err := parseExpression(def.GPUExpression, def.ParamNames)
	if err != nil {
		return fmt.Errorf("activation %q: %w", def.Name, err)
	}

	r.defs[def.Name] = def
	r.evals[def.Name] = node
	delete(r.defaults, def.Name)
	if gen, ok := r.pushed[def.Name]; ok && gen == r.km.generation {
		// Push the new source now so the kernel manager drops the compiled
		// pipeline built from the old expression.
		r.pushToManager(def)
	}
	return nil
}

// InitializeBuiltinActivations registers the fixed built-in set.
// Idempotent.
func (r *ActivationRegistry) InitializeBuiltinActivations() error {
	if r.initialized {
		return nil
	}
	for _, b := range builtinActivations {
		if err := r.RegisterActivation(b.def); err != nil {
			return err
		}
		if b.defaults != nil {
			r.defaults[b.def.Name] = b.defaults
		}
	}
	r.initialized = true
	return nil
}

// ExecuteActivation applies the named activation to in, writing len(in)
// results into out. Unknown names follow the kernel manager's
// unknown-kernel policy; GPU failures fall back to the in-process
// evaluation of the same expression.
func (r *ActivationRegistry) ExecuteActivation(name string, in, out []float64, params ...float64) error {
	if len(out) < len(in) {
		return fmt.Errorf("%w: output size %d < input size %d", ErrShapeMismatch, len(out), len(in))
	}

	def, ok := r.defs[name]
	if !ok {
		return r.km.handleUnknown(name, in, out)
	}

	eff := params
	if len(eff) == 0 {
		eff = r.defaults[name]
	}

	if r.km.HasGPUContext() {
		if gen, ok := r.pushed[name]; !ok || gen != r.km.generation {
			r.pushToManager(def)
		}
		err := r.km.ExecuteUnaryKernel(name, in, out, eff...)
		if err == nil {
			return nil
		}
		metrics.CPUFallbackTotal.WithLabelValues(name, "kernel_error").Inc()
		r.log.Warn("GPU activation failed, using CPU fallback",
			zap.String("name", name), zap.Error(err))
	}

	r.evalCPU(def, in, out, eff)
	return nil
}

// Activations lists the registered activation names, sorted.
func (r *ActivationRegistry) Activations() []string {
	names := make([]string, 0, len(r.defs))
	for name := range r.defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *ActivationRegistry) pushToManager(def ActivationDef) {
	source := GenerateKernelSource(r.km.BackendType(), def.Name, def.GPUExpression, def.ParamNames)
	r.km.RegisterKernel(KernelParams{
		Name:      def.Name,
		Source:    source,
		Constants: r.defaults[def.Name],
	})
	r.pushed[def.Name] = r.km.generation
}

func (r *ActivationRegistry) evalCPU(def ActivationDef, in, out []float64, params []float64) {
	pmap := make(map[string]float64, len(def.ParamNames))
	for i, pname := range def.ParamNames {
		pmap[pname] = paramOr(params, i, 0)
	}
	node := r.evals[def.Name]
	for i, x := range in {
		out[i] = node.eval(x, pmap)
	}
}
