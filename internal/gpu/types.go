// Package gpu implements the device and backend compute-dispatch layer:
// device and vendor detection, backend selection with CPU fallback, a
// kernel manager that executes named operations on the active backend, and
// an activation registry that turns math-expression strings into compiled,
// cached, vendor-native kernels.
//
// All state in this package is mutated in place without locking beyond the
// dispatcher's backend handle; callers must serialize concurrent mutation
// of the Registry, KernelManager and ActivationRegistry externally.
package gpu

import "fmt"

// DeviceType is the requested compute placement.
type DeviceType int

const (
	DeviceCPU DeviceType = iota
	DeviceGPU
	DeviceAuto
)

func (d DeviceType) String() string {
	switch d {
	case DeviceCPU:
		return "cpu"
	case DeviceGPU:
		return "gpu"
	case DeviceAuto:
		return "auto"
	default:
		return fmt.Sprintf("device(%d)", int(d))
	}
}

// ParseDeviceType converts a config string to a DeviceType.
func ParseDeviceType(s string) (DeviceType, error) {
	switch s {
	case "cpu":
		return DeviceCPU, nil
	case "gpu":
		return DeviceGPU, nil
	case "auto", "":
		return DeviceAuto, nil
	default:
		return DeviceCPU, fmt.Errorf("unknown device type %q", s)
	}
}

// Vendor is the GPU hardware maker, detected independently of which
// backend API is ultimately used to talk to it.
type Vendor int

const (
	VendorUnknown Vendor = iota
	VendorNVIDIA
	VendorAMD
	VendorIntel
	VendorApple
)

func (v Vendor) String() string {
	switch v {
	case VendorNVIDIA:
		return "nvidia"
	case VendorAMD:
		return "amd"
	case VendorIntel:
		return "intel"
	case VendorApple:
		return "apple"
	default:
		return "unknown"
	}
}

// BackendType identifies one vendor-specific compute execution path.
type BackendType int

const (
	BackendNone BackendType = iota
	BackendCUDA
	BackendROCm
	BackendMetal
	BackendOneAPI
)

func (b BackendType) String() string {
	switch b {
	case BackendCUDA:
		return "cuda"
	case BackendROCm:
		return "rocm"
	case BackendMetal:
		return "metal"
	case BackendOneAPI:
		return "oneapi"
	default:
		return "none"
	}
}

// ParseBackendType converts a config string to a BackendType. An empty
// string means no explicit preference.
func ParseBackendType(s string) (BackendType, error) {
	switch s {
	case "":
		return BackendNone, nil
	case "cuda":
		return BackendCUDA, nil
	case "rocm":
		return BackendROCm, nil
	case "metal":
		return BackendMetal, nil
	case "oneapi":
		return BackendOneAPI, nil
	default:
		return BackendNone, fmt.Errorf("unknown backend type %q", s)
	}
}

// backendForVendor maps a detected hardware vendor to the backend API used
// to drive it.
func backendForVendor(v Vendor) BackendType {
	switch v {
	case VendorNVIDIA:
		return BackendCUDA
	case VendorAMD:
		return BackendROCm
	case VendorApple:
		return BackendMetal
	case VendorIntel:
		return BackendOneAPI
	default:
		return BackendNone
	}
}

// Precision is the native element type a backend computes in.
type Precision int

const (
	PrecisionFloat32 Precision = iota
	PrecisionFloat16
)

func (p Precision) String() string {
	if p == PrecisionFloat16 {
		return "float16"
	}
	return "float32"
}

// GPUInfo describes one detected GPU device. Produced fresh by each
// detection probe; never persisted.
type GPUInfo struct {
	Vendor         Vendor `json:"vendor"`
	Name           string `json:"name"`
	MemoryMB       int    `json:"memoryMB"`
	ComputeCapable bool   `json:"computeCapable"`
	APISupport     string `json:"apiSupport"`
}

// KernelParams is a directly supplied native kernel definition. Constants
// are bound positionally to the kernel's parameter slots at dispatch time.
type KernelParams struct {
	Name      string
	Source    string
	Constants []float64
}

// ActivationDef describes an activation function declaratively: a math
// expression over the token "input" and the named parameters, instead of
// hand-written per-backend kernel code.
type ActivationDef struct {
	Name          string
	GPUExpression string
	ParamNames    []string
	HasParameters bool
}
