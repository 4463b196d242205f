package device

import (
	"fmt"
	"time"

	"github.com/gogpu/gputypes"
)

// TextureDesc describes an immutable sampled texture. Mips holds the tightly
// packed pixel data of each mip level, level 0 first.
type TextureDesc struct {
	Width  uint32
	Height uint32
	Format gputypes.TextureFormat
	Mips   [][]byte
	Name   string
}

// MipLevels returns the number of mip levels, at least one.
func (d *TextureDesc) MipLevels() uint32 {
	return max(1, uint32(len(d.Mips))) //nolint:gosec // G115: mip count is tiny
}

// RenderTargetDesc describes an image a render pass can write.
//
// AdditionalViewFormat, when set, creates a second view reinterpreting the
// image (for example the sRGB view of a linear target).
type RenderTargetDesc struct {
	Width                uint32
	Height               uint32
	Format               gputypes.TextureFormat
	AdditionalViewFormat gputypes.TextureFormat
	NumSamples           uint32
	Name                 string
}

// Samples returns NumSamples with zero treated as one.
func (d RenderTargetDesc) Samples() uint32 { return max(1, d.NumSamples) }

// SamplerDesc describes a sampler.
type SamplerDesc struct {
	Min  gputypes.FilterMode
	Mag  gputypes.FilterMode
	Wrap gputypes.AddressMode
	Name string
}

// ColorTargetDesc is one color slot of a render pass.
type ColorTargetDesc struct {
	Format        gputypes.TextureFormat
	PassBegin     PassBegin
	InitialLayout Layout
	FinalLayout   Layout
	ClearValue    gputypes.Color
}

// RenderPassDesc describes the attachments of a render pass and what happens
// to them at its boundaries. A slot with an undefined format is unused.
type RenderPassDesc struct {
	Colors             [MaxColorRenderTargets]ColorTargetDesc
	DepthStencilFormat gputypes.TextureFormat
	ClearDepth         bool
	DepthClearValue    float32
	NumSamples         uint32
	Name               string
}

// Samples returns NumSamples with zero treated as one.
func (d *RenderPassDesc) Samples() uint32 { return max(1, d.NumSamples) }

// ColorCount returns the number of used color slots. Used slots are dense
// from slot zero.
func (d *RenderPassDesc) ColorCount() int {
	n := 0
	for n < MaxColorRenderTargets && d.Colors[n].Format != gputypes.TextureFormatUndefined {
		n++
	}
	return n
}

// Validate panics when a slot's begin behavior disagrees with its initial
// layout: DontCare and Clear discard the contents and so require Undefined,
// Keep reads them and so requires a defined layout.
func (d *RenderPassDesc) Validate() {
	for i := 0; i < d.ColorCount(); i++ {
		c := &d.Colors[i]
		switch c.PassBegin {
		case PassBeginDontCare, PassBeginClear:
			Checkf(c.InitialLayout == LayoutUndefined,
				"render pass %q color %d: %v begin needs Undefined initial layout, got %v",
				d.Name, i, c.PassBegin, c.InitialLayout)
		case PassBeginKeep:
			Checkf(c.InitialLayout != LayoutUndefined,
				"render pass %q color %d: Keep begin with Undefined initial layout", d.Name, i)
		}
		Checkf(c.FinalLayout != LayoutUndefined && c.FinalLayout != LayoutTransferDst,
			"render pass %q color %d: illegal final layout %v", d.Name, i, c.FinalLayout)
	}
	for i := d.ColorCount(); i < MaxColorRenderTargets; i++ {
		Checkf(d.Colors[i].Format == gputypes.TextureFormatUndefined,
			"render pass %q: color slot %d used after an empty slot", d.Name, i)
	}
}

// AttachmentLayout is the part of a render pass that decides compatibility:
// formats and sample count, never load/store behavior or layouts.
type AttachmentLayout struct {
	Colors       [MaxColorRenderTargets]gputypes.TextureFormat
	DepthStencil gputypes.TextureFormat
	Samples      uint32
}

// AttachmentLayout extracts the compatibility key of d.
func (d *RenderPassDesc) AttachmentLayout() AttachmentLayout {
	l := AttachmentLayout{DepthStencil: d.DepthStencilFormat, Samples: d.Samples()}
	for i := range d.Colors {
		l.Colors[i] = d.Colors[i].Format
	}
	return l
}

// Compatible reports whether pipelines and framebuffers built for d can be
// used with other.
func (d *RenderPassDesc) Compatible(other *RenderPassDesc) bool {
	return d.AttachmentLayout() == other.AttachmentLayout()
}

// FramebufferDesc binds render targets to the slots of a render pass.
type FramebufferDesc struct {
	RenderPass   RenderPassHandle
	Colors       [MaxColorRenderTargets]RenderTargetHandle
	DepthStencil RenderTargetHandle
	Name         string
}

// CheckFramebuffer verifies that the given attachments match the render pass:
// every used slot is bound, and sizes, formats and sample counts agree.
// colors[i] is ignored for unused slots; depth may be nil when the pass has no
// depth attachment.
func CheckFramebuffer(rp *RenderPassDesc, name string, colors []RenderTargetDesc, depth *RenderTargetDesc) error {
	n := rp.ColorCount()
	if len(colors) != n {
		return fmt.Errorf("%w: framebuffer %q has %d color targets, render pass %q has %d",
			ErrFramebufferIncomplete, name, len(colors), rp.Name, n)
	}
	if n == 0 && depth == nil {
		return fmt.Errorf("%w: framebuffer %q has no attachments", ErrFramebufferIncomplete, name)
	}

	var width, height uint32
	sized := false
	check := func(what string, rt *RenderTargetDesc, format gputypes.TextureFormat) error {
		if rt.Format != format {
			return fmt.Errorf("%w: framebuffer %q %s format %v, render pass wants %v",
				ErrFramebufferIncomplete, name, what, rt.Format, format)
		}
		if rt.Samples() != rp.Samples() {
			return fmt.Errorf("%w: framebuffer %q %s has %d samples, render pass wants %d",
				ErrFramebufferIncomplete, name, what, rt.Samples(), rp.Samples())
		}
		if !sized {
			width, height, sized = rt.Width, rt.Height, true
		} else if rt.Width != width || rt.Height != height {
			return fmt.Errorf("%w: framebuffer %q %s is %dx%d, other attachments are %dx%d",
				ErrFramebufferIncomplete, name, what, rt.Width, rt.Height, width, height)
		}
		return nil
	}

	for i := 0; i < n; i++ {
		if err := check(fmt.Sprintf("color %d", i), &colors[i], rp.Colors[i].Format); err != nil {
			return err
		}
	}
	switch {
	case depth != nil && rp.DepthStencilFormat == gputypes.TextureFormatUndefined:
		return fmt.Errorf("%w: framebuffer %q has depth, render pass %q has none",
			ErrFramebufferIncomplete, name, rp.Name)
	case depth == nil && rp.DepthStencilFormat != gputypes.TextureFormatUndefined:
		return fmt.Errorf("%w: framebuffer %q lacks the depth attachment of render pass %q",
			ErrFramebufferIncomplete, name, rp.Name)
	case depth != nil:
		if err := check("depth", depth, rp.DepthStencilFormat); err != nil {
			return err
		}
	}
	return nil
}

// SwapchainDesc describes the presentation surface.
type SwapchainDesc struct {
	Frames     uint32
	Width      uint32
	Height     uint32
	VSync      VSync
	Fullscreen bool
}

// SurfaceHandles are the platform handles a presenting backend creates its
// window surface from. Zero handles select headless rendering.
type SurfaceHandles struct {
	Display uintptr
	Window  uintptr
}

// IsZero reports whether no window was given.
func (h SurfaceHandles) IsZero() bool { return h.Display == 0 && h.Window == 0 }

// Desc is the backend-neutral input for creating a device.
type Desc struct {
	Swapchain       SwapchainDesc
	SwapchainFormat gputypes.TextureFormat
	RingBufferSize  uint32
	Debug           bool
	IdleTimeout     time.Duration
	Shaders         ShaderCompiler
	Surface         SurfaceHandles
	// Pump is called between completion polls whenever the device blocks:
	// swapchain recreation, ring buffer resize, ring overflow, Close, and
	// WaitForDeviceIdle when it is given no pump of its own. It keeps the
	// host event loop serviced. Nil means no pumping.
	Pump func()
}

// DefaultDesc returns the defaults every backend falls back to.
func DefaultDesc() Desc {
	return Desc{
		Swapchain: SwapchainDesc{
			Frames: 3,
			Width:  1280,
			Height: 720,
			VSync:  VSyncOn,
		},
		SwapchainFormat: gputypes.TextureFormatBGRA8Unorm,
		RingBufferSize:  1 << 20,
		IdleTimeout:     10 * time.Second,
	}
}
