package gpu

import (
	"os/exec"
	"runtime"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// Probe is a snapshot of the host's graphics hardware, produced by a
// ProbeFunc. The descriptor is a free-form string (nvidia-smi, lspci or
// similar output) scanned for vendor brand substrings.
type Probe struct {
	Descriptor   string
	AppleSilicon bool
	MemoryMB     int
}

// ProbeFunc supplies hardware probes. Injectable so tests run hermetically.
type ProbeFunc func() Probe

// VendorProbeFunc reports whether a vendor's compute API answers at
// runtime. Must not panic; failures are reported as false.
type VendorProbeFunc func(Vendor) bool

// Registry holds the process's device placement state: the active device,
// the preferred GPU backend, and the probes that decide availability. It
// replaces ambient global state with an explicit object so tests can
// construct independent instances.
//
// Registry is not synchronized; concurrent mutation must be serialized by
// the caller.
type Registry struct {
	log         *zap.Logger
	probe       ProbeFunc
	vendorProbe VendorProbeFunc

	device    DeviceType
	preferred BackendType
}

// RegistryOption customizes a Registry.
type RegistryOption func(*Registry)

// WithProbe replaces the hardware probe.
func WithProbe(p ProbeFunc) RegistryOption {
	return func(r *Registry) { r.probe = p }
}

// WithVendorProbe replaces the vendor API probe.
func WithVendorProbe(p VendorProbeFunc) RegistryOption {
	return func(r *Registry) { r.vendorProbe = p }
}

// NewRegistry creates a Registry starting on the CPU device with no
// backend preference.
func NewRegistry(log *zap.Logger, opts ...RegistryOption) *Registry {
	r := &Registry{
		log:    log.Named("device"),
		probe:  platformProbe,
		device: DeviceCPU,
	}
	r.vendorProbe = r.defaultVendorProbe
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// DetectGPUs probes the platform for present GPUs. Brand substrings are
// checked in the order NVIDIA, AMD, Intel, Apple, and every match is
// included in the result. Probe failures yield an empty list, never an
// error.
func (r *Registry) DetectGPUs() []GPUInfo {
	probe := r.safeProbe()
	descriptor := strings.ToLower(probe.Descriptor)

	var gpus []GPUInfo
	add := func(v Vendor, name string) {
		bt := backendForVendor(v)
		gpus = append(gpus, GPUInfo{
			Vendor:         v,
			Name:           name,
			MemoryMB:       probe.MemoryMB,
			ComputeCapable: r.IsVendorAvailable(v),
			APISupport:     bt.String(),
		})
	}

	if strings.Contains(descriptor, "nvidia") {
		add(VendorNVIDIA, descriptorLine(probe.Descriptor, "nvidia"))
	}
	if brand, ok := matchBrand(descriptor, "radeon", "amd"); ok {
		add(VendorAMD, descriptorLine(probe.Descriptor, brand))
	}
	if brand, ok := matchBrand(descriptor, "iris", "intel"); ok {
		add(VendorIntel, descriptorLine(probe.Descriptor, brand))
	}
	if probe.AppleSilicon {
		add(VendorApple, "Apple Silicon GPU")
	}
	return gpus
}

// PrimaryGPUVendor picks the vendor that governs the default backend:
// NVIDIA > AMD > Apple > Intel. If none of those appear but the list is
// non-empty, the first entry's vendor wins; an empty list is Unknown.
func PrimaryGPUVendor(gpus []GPUInfo) Vendor {
	for _, want := range []Vendor{VendorNVIDIA, VendorAMD, VendorApple, VendorIntel} {
		for _, g := range gpus {
			if g.Vendor == want {
				return want
			}
		}
	}
	if len(gpus) > 0 {
		return gpus[0].Vendor
	}
	return VendorUnknown
}

// IsGPUAvailable reports whether at least one vendor backend is compiled
// into this binary and its runtime probe succeeds.
func (r *Registry) IsGPUAvailable() bool {
	for _, t := range compiledBackends() {
		if r.backendAvailable(t) {
			return true
		}
	}
	return false
}

// IsVendorAvailable runs the vendor-specific runtime probe. Never panics.
func (r *Registry) IsVendorAvailable(v Vendor) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	return r.vendorProbe(v)
}

// SetDeviceWithValidation is the single gate through which device changes
// pass. A GPU request without an available GPU forces the CPU device and
// returns false; when emitWarnings is set the reason is logged. Auto
// resolves to GPU when available, CPU otherwise, and always succeeds.
func (r *Registry) SetDeviceWithValidation(d DeviceType, emitWarnings bool) bool {
	switch d {
	case DeviceAuto:
		if r.IsGPUAvailable() {
			r.device = DeviceGPU
		} else {
			r.device = DeviceCPU
		}
		return true
	case DeviceGPU:
		if !r.IsGPUAvailable() {
			r.device = DeviceCPU
			if emitWarnings {
				r.log.Warn("GPU requested but not usable, staying on CPU",
					zap.String("reason", r.unavailableReason()))
			}
			return false
		}
		r.device = DeviceGPU
		return true
	default:
		r.device = DeviceCPU
		return true
	}
}

// SetDevice commits a device without validation. Exists only to restore a
// previously validated state.
func (r *Registry) SetDevice(d DeviceType) { r.device = d }

// CurrentDevice returns the resolved active device (never Auto).
func (r *Registry) CurrentDevice() DeviceType { return r.device }

// SetPreferredBackend records a backend preference without validation; the
// dispatcher validates against the available set first.
func (r *Registry) SetPreferredBackend(t BackendType) { r.preferred = t }

// PreferredBackend returns the explicit preference, or BackendNone when
// selection should follow the detected primary vendor.
func (r *Registry) PreferredBackend() BackendType { return r.preferred }

// DefaultBackend resolves the backend to use: the validated preference if
// set, otherwise the backend of the primary detected vendor.
func (r *Registry) DefaultBackend() BackendType {
	if r.preferred != BackendNone {
		return r.preferred
	}
	return backendForVendor(PrimaryGPUVendor(r.DetectGPUs()))
}

// Backend constructs the backend implementation for t, or nil when no
// implementation (real or stub) is linked in.
func (r *Registry) Backend(t BackendType) Backend {
	return newBackend(t, r.log)
}

// unavailableReason explains a failed GPU validation for diagnostics.
func (r *Registry) unavailableReason() string {
	if len(compiledBackends()) == 0 {
		return "binary built without GPU backend support"
	}
	if len(r.DetectGPUs()) == 0 {
		return "no GPU hardware detected"
	}
	return "GPU vendor runtime unavailable or busy"
}

func (r *Registry) backendAvailable(t BackendType) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	b := newBackend(t, r.log)
	return b != nil && b.IsAvailable()
}

func (r *Registry) defaultVendorProbe(v Vendor) bool {
	t := backendForVendor(v)
	entry, compiled := backendRegistry[t]
	if !compiled || !entry.compiled {
		return false
	}
	return r.backendAvailable(t)
}

func (r *Registry) safeProbe() (p Probe) {
	defer func() {
		if recover() != nil {
			p = Probe{}
		}
	}()
	return r.probe()
}

// descriptorLine extracts the descriptor line containing the (lowercase)
// brand substring, for a human-readable device name.
// matchBrand reports the first brand substring present in the lowercased
// descriptor, so the name lookup scans for the token that actually hit.
func matchBrand(descriptor string, brands ...string) (string, bool) {
	for _, b := range brands {
		if strings.Contains(descriptor, b) {
			return b, true
		}
	}
	return "", false
}

func descriptorLine(descriptor, brand string) string {
	for _, line := range strings.Split(descriptor, "\n") {
		if strings.Contains(strings.ToLower(line), brand) {
			return strings.TrimSpace(line)
		}
	}
	return strings.TrimSpace(descriptor)
}

// platformProbe is the default hardware probe. It asks nvidia-smi first,
// falls back to lspci for other discrete GPUs, and flags Apple silicon
// from the build target. Every failure is absorbed.
func platformProbe() Probe {
	p := Probe{
		AppleSilicon: runtime.GOOS == "darwin" && runtime.GOARCH == "arm64",
	}

	if out, err := exec.Command("nvidia-smi",
		"--query-gpu=name,memory.total",
		"--format=csv,noheader,nounits").Output(); err == nil {
		p.Descriptor = strings.TrimSpace(string(out))
		if fields := strings.Split(strings.Split(p.Descriptor, "\n")[0], ", "); len(fields) == 2 {
			if mb, err := strconv.Atoi(strings.TrimSpace(fields[1])); err == nil {
				p.MemoryMB = mb
			}
		}
		if p.Descriptor != "" {
			return p
		}
	}

	if out, err := exec.Command("lspci").Output(); err == nil {
		var lines []string
		for _, line := range strings.Split(string(out), "\n") {
			if strings.Contains(line, "VGA") || strings.Contains(line, "3D controller") {
				lines = append(lines, line)
			}
		}
		p.Descriptor = strings.Join(lines, "\n")
	}
	return p
}
