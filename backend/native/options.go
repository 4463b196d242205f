package native

import (
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// Option configures a native Device.
type Option func(*options)

type options struct {
	api      hal.Backend
	variant  gputypes.Backend
	memoryMB int
}

// WithHAL runs the device on the given HAL backend instead of looking one
// up in the HAL registry. Tests pass noop.API{}.
func WithHAL(api hal.Backend) Option {
	return func(o *options) { o.api = api }
}

// WithVariant forces one GPU API. BackendEmpty tries Vulkan, Metal, DX12
// and GL in that order.
func WithVariant(v gputypes.Backend) Option {
	return func(o *options) { o.variant = v }
}

// WithMemoryBudget sets the budget for persistent GPU resources in
// megabytes. Values below MinMemoryMB select DefaultMaxMemoryMB.
func WithMemoryBudget(megabytes int) Option {
	return func(o *options) { o.memoryMB = megabytes }
}
