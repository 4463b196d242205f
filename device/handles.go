package device

import "github.com/gogpu/framegraph/pool"

// Handles are typed wrappers around pool.Handle so that a buffer handle can
// not be passed where a texture is expected. The zero value of every handle
// type is invalid.

// BufferHandle identifies a buffer.
type BufferHandle pool.Handle

// IsValid reports whether h is non-zero.
func (h BufferHandle) IsValid() bool { return pool.Handle(h).IsValid() }

func (h BufferHandle) String() string { return "Buffer" + pool.Handle(h).String() }

// TextureHandle identifies a sampled texture.
type TextureHandle pool.Handle

// IsValid reports whether h is non-zero.
func (h TextureHandle) IsValid() bool { return pool.Handle(h).IsValid() }

func (h TextureHandle) String() string { return "Texture" + pool.Handle(h).String() }

// SamplerHandle identifies a sampler.
type SamplerHandle pool.Handle

// IsValid reports whether h is non-zero.
func (h SamplerHandle) IsValid() bool { return pool.Handle(h).IsValid() }

func (h SamplerHandle) String() string { return "Sampler" + pool.Handle(h).String() }

// RenderTargetHandle identifies a render target.
type RenderTargetHandle pool.Handle

// IsValid reports whether h is non-zero.
func (h RenderTargetHandle) IsValid() bool { return pool.Handle(h).IsValid() }

func (h RenderTargetHandle) String() string { return "RenderTarget" + pool.Handle(h).String() }

// RenderPassHandle identifies a render pass object.
type RenderPassHandle pool.Handle

// IsValid reports whether h is non-zero.
func (h RenderPassHandle) IsValid() bool { return pool.Handle(h).IsValid() }

func (h RenderPassHandle) String() string { return "RenderPass" + pool.Handle(h).String() }

// FramebufferHandle identifies a framebuffer.
type FramebufferHandle pool.Handle

// IsValid reports whether h is non-zero.
func (h FramebufferHandle) IsValid() bool { return pool.Handle(h).IsValid() }

func (h FramebufferHandle) String() string { return "Framebuffer" + pool.Handle(h).String() }

// PipelineHandle identifies a graphics pipeline.
type PipelineHandle pool.Handle

// IsValid reports whether h is non-zero.
func (h PipelineHandle) IsValid() bool { return pool.Handle(h).IsValid() }

func (h PipelineHandle) String() string { return "Pipeline" + pool.Handle(h).String() }

// DSLayoutHandle identifies a descriptor set layout.
type DSLayoutHandle pool.Handle

// IsValid reports whether h is non-zero.
func (h DSLayoutHandle) IsValid() bool { return pool.Handle(h).IsValid() }

func (h DSLayoutHandle) String() string { return "DSLayout" + pool.Handle(h).String() }
