package device

import (
	"errors"
	"fmt"
)

// Resource and environment failures. Backends wrap these with context.
var (
	// ErrAllocationTooLarge is returned when an ephemeral buffer exceeds the ring buffer.
	ErrAllocationTooLarge = errors.New("device: allocation larger than ring buffer")

	// ErrRingBufferFull is returned when the current frame alone has filled
	// the ring buffer and no retired frame can free space.
	ErrRingBufferFull = errors.New("device: ring buffer full")

	// ErrFramebufferIncomplete is returned when attachments do not match a render pass.
	ErrFramebufferIncomplete = errors.New("device: framebuffer incomplete")

	// ErrUnsupportedFormat is returned for formats the backend cannot render to or sample.
	ErrUnsupportedFormat = errors.New("device: unsupported format")

	// ErrShaderCompile is returned when a shader fails to load or compile.
	ErrShaderCompile = errors.New("device: shader compilation failed")

	// ErrNoShaderCompiler is returned by CreatePipeline on a device created without one.
	ErrNoShaderCompiler = errors.New("device: no shader compiler configured")

	// ErrDeviceLost is returned when the GPU device is gone.
	ErrDeviceLost = errors.New("device: device lost")

	// ErrTimeout is returned when waiting for the GPU exceeds the idle timeout.
	ErrTimeout = errors.New("device: timed out waiting for GPU")

	// ErrClosed is returned by operations on a closed device.
	ErrClosed = errors.New("device: closed")
)

// ContractViolation is the panic value for calls that break the device
// contract: wrong call order, stale handles, mismatched bindings. These are
// bugs in the calling code, never runtime conditions.
type ContractViolation struct {
	Msg string
}

func (v *ContractViolation) Error() string { return "device: contract violation: " + v.Msg }

// Violationf panics with a *ContractViolation.
func Violationf(format string, args ...any) {
	panic(&ContractViolation{Msg: fmt.Sprintf(format, args...)})
}

// Checkf panics with a *ContractViolation unless cond holds.
func Checkf(cond bool, format string, args ...any) {
	if !cond {
		Violationf(format, args...)
	}
}

func errUnsupported(what, name string, f any) error {
	return fmt.Errorf("%w: %s %q format %v", ErrUnsupportedFormat, what, name, f)
}

func errEmpty(what, name string) error {
	return fmt.Errorf("device: %s %q has no size or data", what, name)
}

func errMipSize(name string, level, got int, want uint32) error {
	return fmt.Errorf("device: texture %q mip %d has %d bytes, want %d", name, level, got, want)
}

func errMissingColor(name string, slot int) error {
	return fmt.Errorf("%w: framebuffer %q color slot %d is unbound", ErrFramebufferIncomplete, name, slot)
}

func errExtraColor(name string, slot int, pass string) error {
	return fmt.Errorf("%w: framebuffer %q binds color slot %d which render pass %q does not use",
		ErrFramebufferIncomplete, name, slot, pass)
}
