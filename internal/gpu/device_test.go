package gpu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func staticProbe(p Probe) ProbeFunc {
	return func() Probe { return p }
}

func TestDetectGPUs(t *testing.T) {
	log := zaptest.NewLogger(t)

	t.Run("nvidia from smi output", func(t *testing.T) {
		r := NewRegistry(log, WithProbe(staticProbe(Probe{
			Descriptor: "NVIDIA GeForce RTX 4090, 24564",
			MemoryMB:   24564,
		})))
		gpus := r.DetectGPUs()
		require.Len(t, gpus, 1)
		assert.Equal(t, VendorNVIDIA, gpus[0].Vendor)
		assert.Equal(t, 24564, gpus[0].MemoryMB)
		assert.Contains(t, gpus[0].Name, "RTX 4090")
		assert.Equal(t, "cuda", gpus[0].APISupport)
	})

	t.Run("multiple vendors all reported in order", func(t *testing.T) {
		r := NewRegistry(log, WithProbe(staticProbe(Probe{
			Descriptor: "00:02.0 VGA compatible controller: Intel Iris Xe Graphics\n" +
				"01:00.0 VGA compatible controller: NVIDIA GeForce RTX 3060\n" +
				"02:00.0 VGA compatible controller: AMD Radeon RX 7800",
		})))
		gpus := r.DetectGPUs()
		require.Len(t, gpus, 3)
		assert.Equal(t, VendorNVIDIA, gpus[0].Vendor)
		assert.Equal(t, VendorAMD, gpus[1].Vendor)
		assert.Equal(t, VendorIntel, gpus[2].Vendor)
	})

	t.Run("brand aliases resolve to the matching line", func(t *testing.T) {
		r := NewRegistry(log, WithProbe(staticProbe(Probe{
			Descriptor: "01:00.0 Display controller: AMD Instinct MI300\n" +
				"02:00.0 VGA compatible controller: Intel Arc A770",
		})))
		gpus := r.DetectGPUs()
		require.Len(t, gpus, 2)
		assert.Equal(t, VendorAMD, gpus[0].Vendor)
		assert.Equal(t, "01:00.0 Display controller: AMD Instinct MI300", gpus[0].Name)
		assert.Equal(t, VendorIntel, gpus[1].Vendor)
		assert.Equal(t, "02:00.0 VGA compatible controller: Intel Arc A770", gpus[1].Name)
	})

	t.Run("apple silicon flag yields a single apple entry", func(t *testing.T) {
		r := NewRegistry(log, WithProbe(staticProbe(Probe{AppleSilicon: true})))
		gpus := r.DetectGPUs()
		require.Len(t, gpus, 1)
		assert.Equal(t, VendorApple, gpus[0].Vendor)
		assert.Equal(t, "metal", gpus[0].APISupport)
	})

	t.Run("empty probe yields empty list", func(t *testing.T) {
		r := NewRegistry(log, WithProbe(staticProbe(Probe{})))
		assert.Empty(t, r.DetectGPUs())
	})

	t.Run("panicking probe is absorbed", func(t *testing.T) {
		r := NewRegistry(log, WithProbe(func() Probe { panic("probe crashed") }))
		assert.Empty(t, r.DetectGPUs())
	})

	t.Run("vendor probe drives compute capability", func(t *testing.T) {
		r := NewRegistry(log,
			WithProbe(staticProbe(Probe{Descriptor: "NVIDIA GeForce GTX 1080"})),
			WithVendorProbe(func(v Vendor) bool { return v == VendorNVIDIA }))
		gpus := r.DetectGPUs()
		require.Len(t, gpus, 1)
		assert.True(t, gpus[0].ComputeCapable)
	})
}

func TestPrimaryGPUVendor(t *testing.T) {
	cases := []struct {
		name string
		gpus []GPUInfo
		want Vendor
	}{
		{"empty", nil, VendorUnknown},
		{"single intel", []GPUInfo{{Vendor: VendorIntel}}, VendorIntel},
		{"nvidia beats amd", []GPUInfo{{Vendor: VendorAMD}, {Vendor: VendorNVIDIA}}, VendorNVIDIA},
		{"amd beats apple", []GPUInfo{{Vendor: VendorApple}, {Vendor: VendorAMD}}, VendorAMD},
		{"apple beats intel", []GPUInfo{{Vendor: VendorIntel}, {Vendor: VendorApple}}, VendorApple},
		{"unranked vendor falls back to first", []GPUInfo{{Vendor: VendorUnknown}}, VendorUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, PrimaryGPUVendor(tc.gpus))
		})
	}
}

func TestSetDeviceWithValidation(t *testing.T) {
	log := zaptest.NewLogger(t)

	t.Run("gpu request without hardware stays on cpu", func(t *testing.T) {
		r := NewRegistry(log, WithProbe(staticProbe(Probe{})))
		ok := r.SetDeviceWithValidation(DeviceGPU, true)
		assert.False(t, ok)
		assert.Equal(t, DeviceCPU, r.CurrentDevice())
	})

	t.Run("auto without hardware resolves to cpu", func(t *testing.T) {
		r := NewRegistry(log, WithProbe(staticProbe(Probe{})))
		ok := r.SetDeviceWithValidation(DeviceAuto, false)
		assert.True(t, ok)
		assert.Equal(t, DeviceCPU, r.CurrentDevice())
	})

	t.Run("cpu request always succeeds", func(t *testing.T) {
		r := NewRegistry(log)
		ok := r.SetDeviceWithValidation(DeviceCPU, true)
		assert.True(t, ok)
		assert.Equal(t, DeviceCPU, r.CurrentDevice())
	})

	t.Run("gpu request with a usable backend", func(t *testing.T) {
		installFakeBackend(t, newFakeBackend())
		r := NewRegistry(log, WithProbe(staticProbe(Probe{Descriptor: "NVIDIA GeForce RTX 3060"})))
		ok := r.SetDeviceWithValidation(DeviceGPU, true)
		assert.True(t, ok)
		assert.Equal(t, DeviceGPU, r.CurrentDevice())
	})

	t.Run("auto with a usable backend resolves to gpu", func(t *testing.T) {
		installFakeBackend(t, newFakeBackend())
		r := NewRegistry(log, WithProbe(staticProbe(Probe{Descriptor: "NVIDIA GeForce RTX 3060"})))
		ok := r.SetDeviceWithValidation(DeviceAuto, false)
		assert.True(t, ok)
		assert.Equal(t, DeviceGPU, r.CurrentDevice())
	})

	t.Run("unavailable fake keeps cpu", func(t *testing.T) {
		fake := newFakeBackend()
		fake.available = false
		installFakeBackend(t, fake)
		r := NewRegistry(log, WithProbe(staticProbe(Probe{Descriptor: "NVIDIA GeForce RTX 3060"})))
		assert.False(t, r.SetDeviceWithValidation(DeviceGPU, false))
		assert.Equal(t, DeviceCPU, r.CurrentDevice())
	})
}

func TestRegistryBackendSelection(t *testing.T) {
	log := zaptest.NewLogger(t)

	t.Run("explicit preference wins", func(t *testing.T) {
		r := NewRegistry(log, WithProbe(staticProbe(Probe{Descriptor: "NVIDIA GeForce RTX 3060"})))
		r.SetPreferredBackend(BackendOneAPI)
		assert.Equal(t, BackendOneAPI, r.DefaultBackend())
	})

	t.Run("no preference follows primary vendor", func(t *testing.T) {
		r := NewRegistry(log, WithProbe(staticProbe(Probe{
			Descriptor: "Intel Iris Xe\nAMD Radeon RX 6700",
		})))
		assert.Equal(t, BackendNone, r.PreferredBackend())
		assert.Equal(t, BackendROCm, r.DefaultBackend())
	})

	t.Run("no hardware means no backend", func(t *testing.T) {
		r := NewRegistry(log, WithProbe(staticProbe(Probe{})))
		assert.Equal(t, BackendNone, r.DefaultBackend())
	})
}
