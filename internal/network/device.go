package network

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// Device is where network parameters and per-level tensors live. It is
// passed explicitly to everything that allocates tensors.
type Device interface {
	Name() string
	// Upload copies m into device memory.
	Upload(m mat.Matrix) (*mat.Dense, error)
}

// CPU keeps tensors in host memory.
type CPU struct{}

// Name returns "cpu".
func (CPU) Name() string { return "cpu" }

// Upload implements Device.
func (CPU) Upload(m mat.Matrix) (*mat.Dense, error) {
	r, c := m.Dims()
	if r == 0 || c == 0 {
		return &mat.Dense{}, nil
	}
	return mat.DenseCopyOf(m), nil
}

// AvailableDevices lists the device names SelectDevice accepts.
func AvailableDevices() []string {
	return []string{"cpu"}
}

// SelectDevice resolves a device name. "auto" picks the best available
// device, which is always the CPU in this build.
func SelectDevice(name string) (Device, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "auto", "cpu":
		return CPU{}, nil
	default:
		return nil, fmt.Errorf("%w: %q (available: %s)", ErrDeviceUnavailable, name, strings.Join(AvailableDevices(), ", "))
	}
}
