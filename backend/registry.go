package backend

import (
	"fmt"
	"slices"

	"github.com/gogpu/gpucontext"

	"github.com/gogpu/framegraph/device"
)

// Priority order for backend selection (first registered wins).
// Native > explicit APIs > GL > Null (Null performs no rendering).
var backendPriority = []string{Native, Vulkan, Metal, DX12, GL, Null}

var registry = gpucontext.NewRegistry[Factory](gpucontext.WithPriority(backendPriority...))

// Register registers a backend factory with the given name.
// This is typically called from init() functions in backend packages.
// If a backend with the same name is already registered, it will be replaced.
func Register(name string, factory Factory) {
	registry.Register(name, func() Factory { return factory })
}

// Unregister removes a backend from the registry.
// This is useful for testing.
func Unregister(name string) {
	registry.Unregister(name)
}

// Available returns the sorted names of registered backends.
func Available() []string {
	names := registry.Available()
	slices.Sort(names)
	return names
}

// IsRegistered checks if a backend with the given name is registered.
func IsRegistered(name string) bool {
	return registry.Has(name)
}

// Best returns the name of the backend Open selects for an empty name, or
// the empty string when nothing is registered.
func Best() string {
	return registry.BestName()
}

// Open instantiates the named backend. An empty name selects the best
// registered backend by priority.
func Open(name string, desc device.Desc) (device.Device, error) {
	if name == "" {
		name = registry.BestName()
		if name == "" {
			return nil, ErrNoBackend
		}
	}
	factory := registry.Get(name)
	if factory == nil {
		return nil, fmt.Errorf("%w: %q (registered: %v)", ErrBackendNotAvailable, name, Available())
	}

	dev, err := factory(desc)
	if err != nil {
		return nil, fmt.Errorf("open %s backend: %w", name, err)
	}
	Logger().Info("backend: device opened", "backend", name)
	return dev, nil
}

// MustOpen is like Open but panics on error.
func MustOpen(name string, desc device.Desc) device.Device {
	dev, err := Open(name, desc)
	if err != nil {
		panic(err)
	}
	return dev
}
