package backend

import (
	"errors"

	"github.com/gogpu/framegraph/device"
)

// Backend names. The native backend picks the best GPU API of the platform;
// the API-specific names force one.
const (
	Native = "native"
	Vulkan = "vulkan"
	Metal  = "metal"
	DX12   = "dx12"
	GL     = "gl"
	Null   = "null"
)

// Common backend errors.
var (
	// ErrBackendNotAvailable is returned when a requested backend is not registered.
	ErrBackendNotAvailable = errors.New("backend: not available")

	// ErrNoBackend is returned when no backend is registered at all.
	ErrNoBackend = errors.New("backend: no backend registered")
)

// Factory creates a device from a backend-neutral description.
type Factory func(desc device.Desc) (device.Device, error)
