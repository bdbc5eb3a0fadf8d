// Package compute is the public entry point to the dispatch layer. An
// Engine bundles device detection, backend selection, the kernel manager
// and the activation registry behind one handle, configured from a single
// config.Config.
package compute

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/tessellate-ml/tessera/internal/config"
	"github.com/tessellate-ml/tessera/internal/gpu"
	"github.com/tessellate-ml/tessera/internal/ndarray"
)

// Engine executes numeric operations on the configured device. All methods
// are safe for concurrent use; device changes serialize against in-flight
// operations.
type Engine struct {
	mu sync.RWMutex

	log         *zap.Logger
	registry    *gpu.Registry
	km          *gpu.KernelManager
	activations *gpu.ActivationRegistry
	dispatcher  *gpu.Dispatcher

	closed bool
}

// New builds an engine from cfg: the device request is validated, the
// backend for the detected (or preferred) vendor is constructed, and the
// built-in kernel and activation sets are registered. A GPU request on a
// host without a usable GPU degrades to CPU rather than failing.
func New(cfg *config.Config, log *zap.Logger, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}

	e := &Engine{log: log.Named("compute")}

	var regOpts []gpu.RegistryOption
	for _, opt := range opts {
		regOpts = opt(regOpts)
	}
	e.registry = gpu.NewRegistry(log, regOpts...)

	device, err := gpu.ParseDeviceType(cfg.Compute.Device)
	if err != nil {
		return nil, err
	}
	preferred, err := gpu.ParseBackendType(cfg.Compute.Backend)
	if err != nil {
		return nil, err
	}
	if preferred != gpu.BackendNone {
		e.registry.SetPreferredBackend(preferred)
	}
	e.registry.SetDeviceWithValidation(device, true)

	var backend gpu.Backend
	if e.registry.CurrentDevice() == gpu.DeviceGPU {
		backend = e.registry.Backend(e.registry.DefaultBackend())
	}

	e.km = gpu.NewKernelManager(backend, cfg.Compute.UnknownKernels, log)
	if err := e.km.InitializeBuiltinKernels(); err != nil {
		return nil, fmt.Errorf("initialize kernels: %w", err)
	}
	// A context creation failure inside the kernel manager leaves it on the
	// CPU path; mirror that in the device state so callers see the truth.
	if e.registry.CurrentDevice() == gpu.DeviceGPU && !e.km.HasGPUContext() {
		e.registry.SetDevice(gpu.DeviceCPU)
	}

	e.activations = gpu.NewActivationRegistry(e.km, log)
	if err := e.activations.InitializeBuiltinActivations(); err != nil {
		return nil, fmt.Errorf("initialize activations: %w", err)
	}

	e.dispatcher = gpu.NewDispatcher(e.registry, e.km, log)

	e.log.Info("engine ready",
		zap.String("device", e.registry.CurrentDevice().String()),
		zap.String("backend", e.km.BackendType().String()),
		zap.Int("kernels", e.km.RegisteredKernelCount()))
	return e, nil
}

// Option customizes engine construction.
type Option func([]gpu.RegistryOption) []gpu.RegistryOption

// WithProbe overrides hardware detection, for tests and embedders that
// already know the host's devices.
func WithProbe(p gpu.ProbeFunc) Option {
	return func(opts []gpu.RegistryOption) []gpu.RegistryOption {
		return append(opts, gpu.WithProbe(p))
	}
}

// MatMul computes out = a × b.
func (e *Engine) MatMul(a, b, out *ndarray.NDArray) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return errClosed
	}
	return e.dispatcher.MatMul(a, b, out)
}

// Add computes out = a + b elementwise.
func (e *Engine) Add(a, b, out *ndarray.NDArray) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return errClosed
	}
	return e.dispatcher.Add(a, b, out)
}

// Subtract computes out = a - b elementwise.
func (e *Engine) Subtract(a, b, out *ndarray.NDArray) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return errClosed
	}
	return e.dispatcher.Subtract(a, b, out)
}

// Multiply computes out = a * b elementwise.
func (e *Engine) Multiply(a, b, out *ndarray.NDArray) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return errClosed
	}
	return e.dispatcher.Multiply(a, b, out)
}

// AddScalar computes out = a + s elementwise.
func (e *Engine) AddScalar(a *ndarray.NDArray, s float64, out *ndarray.NDArray) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return errClosed
	}
	return e.dispatcher.AddScalar(a, s, out)
}

// MultiplyScalar computes out = a * s elementwise.
func (e *Engine) MultiplyScalar(a *ndarray.NDArray, s float64, out *ndarray.NDArray) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return errClosed
	}
	return e.dispatcher.MultiplyScalar(a, s, out)
}

// ExecuteActivation applies a registered activation to in, writing results
// to out. Optional params override the activation's defaults.
func (e *Engine) ExecuteActivation(name string, in, out []float64, params ...float64) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return errClosed
	}
	return e.activations.ExecuteActivation(name, in, out, params...)
}

// RegisterActivation adds or replaces an activation definition. The
// expression is validated immediately.
func (e *Engine) RegisterActivation(def gpu.ActivationDef) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errClosed
	}
	return e.activations.RegisterActivation(def)
}

// Activations lists the registered activation names, sorted.
func (e *Engine) Activations() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.activations.Activations()
}

// SetDevice requests a device change. Returns false when the request could
// not be honored and the engine stayed on (or fell back to) the CPU.
func (e *Engine) SetDevice(d gpu.DeviceType) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false
	}
	return e.registry.SetDeviceWithValidation(d, true)
}

// CurrentDevice returns the resolved active device.
func (e *Engine) CurrentDevice() gpu.DeviceType {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.registry.CurrentDevice()
}

// IsGPUAvailable reports whether a usable GPU backend exists on this host.
func (e *Engine) IsGPUAvailable() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.registry.IsGPUAvailable()
}

// DetectGPUs lists the GPUs present on this host.
func (e *Engine) DetectGPUs() []gpu.GPUInfo {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.registry.DetectGPUs()
}

// AvailableGPUBackends lists backends compiled in and usable at runtime.
func (e *Engine) AvailableGPUBackends() []gpu.BackendType {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.dispatcher.AvailableGPUBackends()
}

// CurrentGPUBackend returns the backend of the active compute context.
func (e *Engine) CurrentGPUBackend() gpu.BackendType {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.dispatcher.CurrentGPUBackend()
}

// Close releases every native resource. The engine is unusable afterwards;
// Close is idempotent.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.km.Cleanup()
	e.closed = true
	return nil
}

var errClosed = fmt.Errorf("compute engine is closed")
