package device

import (
	"fmt"

	"github.com/gogpu/gputypes"
)

// Limits shared by every backend.
const (
	MaxColorRenderTargets = 4
	MaxDescriptorSets     = 4
	MaxVertexAttribs      = 16
	MaxVertexBuffers      = 8
)

// Layout is the synchronization state of a render target image.
type Layout uint8

const (
	// LayoutUndefined means the contents may be discarded.
	LayoutUndefined Layout = iota
	LayoutShaderRead
	LayoutTransferSrc
	LayoutTransferDst
	LayoutColorAttachment
)

func (l Layout) String() string {
	switch l {
	case LayoutUndefined:
		return "Undefined"
	case LayoutShaderRead:
		return "ShaderRead"
	case LayoutTransferSrc:
		return "TransferSrc"
	case LayoutTransferDst:
		return "TransferDst"
	case LayoutColorAttachment:
		return "ColorAttachment"
	default:
		return fmt.Sprintf("Layout(%d)", uint8(l))
	}
}

// Usage maps a layout to the texture usage a barrier transitions into.
func (l Layout) Usage() gputypes.TextureUsage {
	switch l {
	case LayoutShaderRead:
		return gputypes.TextureUsageTextureBinding
	case LayoutTransferSrc:
		return gputypes.TextureUsageCopySrc
	case LayoutTransferDst:
		return gputypes.TextureUsageCopyDst
	case LayoutColorAttachment:
		return gputypes.TextureUsageRenderAttachment
	default:
		return gputypes.TextureUsageNone
	}
}

// PassBegin selects what happens to an attachment's contents when a render
// pass begins.
type PassBegin uint8

const (
	PassBeginDontCare PassBegin = iota
	PassBeginKeep
	PassBeginClear
)

func (p PassBegin) String() string {
	switch p {
	case PassBeginDontCare:
		return "DontCare"
	case PassBeginKeep:
		return "Keep"
	case PassBeginClear:
		return "Clear"
	default:
		return fmt.Sprintf("PassBegin(%d)", uint8(p))
	}
}

// BufferType selects how a buffer may be bound.
type BufferType uint8

const (
	BufferTypeInvalid BufferType = iota
	BufferTypeIndex
	BufferTypeUniform
	BufferTypeStorage
	BufferTypeVertex
	BufferTypeEverything
)

func (t BufferType) String() string {
	switch t {
	case BufferTypeIndex:
		return "Index"
	case BufferTypeUniform:
		return "Uniform"
	case BufferTypeStorage:
		return "Storage"
	case BufferTypeVertex:
		return "Vertex"
	case BufferTypeEverything:
		return "Everything"
	default:
		return "Invalid"
	}
}

// Usage returns the buffer usage flags for t.
func (t BufferType) Usage() gputypes.BufferUsage {
	switch t {
	case BufferTypeIndex:
		return gputypes.BufferUsageIndex
	case BufferTypeUniform:
		return gputypes.BufferUsageUniform
	case BufferTypeStorage:
		return gputypes.BufferUsageStorage
	case BufferTypeVertex:
		return gputypes.BufferUsageVertex
	case BufferTypeEverything:
		return gputypes.BufferUsageIndex | gputypes.BufferUsageUniform |
			gputypes.BufferUsageStorage | gputypes.BufferUsageVertex
	default:
		return 0
	}
}

// Allows reports whether a buffer of type t may be used as want.
func (t BufferType) Allows(want BufferType) bool {
	return t == want || t == BufferTypeEverything
}

// ShaderStage identifies a programmable stage.
type ShaderStage uint8

const (
	StageVertex ShaderStage = iota
	StageFragment
)

func (s ShaderStage) String() string {
	if s == StageVertex {
		return "vert"
	}
	return "frag"
}

// EntryPoint is the WGSL entry point for the stage.
func (s ShaderStage) EntryPoint() string {
	if s == StageVertex {
		return "vs_main"
	}
	return "fs_main"
}

// VSync selects the swapchain presentation mode.
type VSync uint8

const (
	VSyncOff VSync = iota
	VSyncOn
	VSyncLateSwapTear
)

func (v VSync) String() string {
	switch v {
	case VSyncOff:
		return "off"
	case VSyncOn:
		return "on"
	case VSyncLateSwapTear:
		return "late"
	default:
		return fmt.Sprintf("VSync(%d)", uint8(v))
	}
}

// ParseVSync parses the String form of a VSync value.
func ParseVSync(s string) (VSync, error) {
	switch s {
	case "off", "":
		return VSyncOff, nil
	case "on":
		return VSyncOn, nil
	case "late":
		return VSyncLateSwapTear, nil
	}
	return VSyncOff, fmt.Errorf("device: unknown vsync mode %q", s)
}

// PresentMode maps v onto a surface present mode.
func (v VSync) PresentMode() gputypes.PresentMode {
	switch v {
	case VSyncOn:
		return gputypes.PresentModeFifo
	case VSyncLateSwapTear:
		return gputypes.PresentModeFifoRelaxed
	default:
		return gputypes.PresentModeImmediate
	}
}
