package device

import "github.com/gogpu/gputypes"

// Caps reports backend capabilities the calling layer may adapt to.
type Caps struct {
	// ExplicitSync is true when layout transitions become real barriers.
	ExplicitSync bool
	// UniformAlignment is the required offset alignment of uniform buffers.
	UniformAlignment uint32
	// StorageAlignment is the required offset alignment of storage buffers.
	StorageAlignment uint32
	// MaxSamples is the largest supported MSAA sample count.
	MaxSamples uint32
}

// Stats is a point-in-time snapshot of device counters. It is safe to read
// from any goroutine.
type Stats struct {
	Backend         string
	FrameNum        uint64
	FramesInFlight  int
	FrameSlots      int
	LastSyncedFrame uint64
	FrameStalls     uint64

	RingBufferSize uint64
	RingBufferUsed uint64
	RingWaits      uint64

	Buffers          int
	EphemeralBuffers int
	Textures         int
	RenderTargets    int
	Samplers         int
	RenderPasses     int
	Framebuffers     int
	Pipelines        int

	SwapchainRecreations uint64
	DrawCalls            uint64

	// MemoryBytes is the GPU memory held by persistent resources, zero when
	// the backend does not track it.
	MemoryBytes uint64
}

// Device is the contract every backend implements. A Device is owned by a
// single recording goroutine; only Stats may be called concurrently.
//
// Methods documented as panicking do so with a *ContractViolation.
type Device interface {
	// Backend returns the registry name of the implementation.
	Backend() string
	Caps() Caps
	IsRenderTargetFormatSupported(format gputypes.TextureFormat) bool

	// CreateBuffer creates a persistent buffer initialized with data.
	CreateBuffer(typ BufferType, data []byte) (BufferHandle, error)
	// CreateEphemeralBuffer places data in the ring buffer. The handle is
	// valid only until the frame it was created in retires.
	CreateEphemeralBuffer(typ BufferType, data []byte) (BufferHandle, error)
	CreateTexture(desc TextureDesc) (TextureHandle, error)
	CreateRenderTarget(desc RenderTargetDesc) (RenderTargetHandle, error)
	CreateSampler(desc SamplerDesc) (SamplerHandle, error)
	CreateDescriptorSetLayout(layout []DescriptorType) (DSLayoutHandle, error)
	// CreateRenderPass panics if desc violates Validate.
	CreateRenderPass(desc RenderPassDesc) (RenderPassHandle, error)
	// CreateFramebuffer fails with ErrFramebufferIncomplete when the render
	// targets do not match the render pass.
	CreateFramebuffer(desc FramebufferDesc) (FramebufferHandle, error)
	CreatePipeline(desc PipelineDesc) (PipelineHandle, error)

	// RenderTargetView returns the shader-readable view of rt. format selects
	// the additional view; Undefined or the target's own format selects the
	// main view.
	RenderTargetView(rt RenderTargetHandle, format gputypes.TextureFormat) TextureHandle

	DeleteBuffer(h BufferHandle)
	DeleteTexture(h TextureHandle)
	DeleteRenderTarget(h RenderTargetHandle)
	DeleteSampler(h SamplerHandle)
	DeleteDescriptorSetLayout(h DSLayoutHandle)
	DeleteRenderPass(h RenderPassHandle)
	DeleteFramebuffer(h FramebufferHandle)
	DeletePipeline(h PipelineHandle)

	// SetSwapchainDesc requests a new swapchain configuration. It only
	// marks the swapchain dirty; the next BeginFrame applies it.
	SetSwapchainDesc(desc SwapchainDesc)
	SwapchainDesc() SwapchainDesc
	IsSwapchainDirty() bool
	// DrawableSize returns the current swapchain image size.
	DrawableSize() (width, height uint32)
	// ResizeRingBuffer replaces the ring buffer. Outside a frame only.
	ResizeRingBuffer(size uint32) error

	// BeginFrame starts recording a frame. It never blocks: it returns false
	// when the frame slot is still in flight or the surface is out of date,
	// and the caller pumps its event loop and retries.
	BeginFrame() (bool, error)
	// PresentFrame submits the frame and presents rt, which must be in the
	// TransferSrc layout.
	PresentFrame(rt RenderTargetHandle) error
	// WaitForDeviceIdle waits for every frame in flight, calling pump
	// between polls.
	WaitForDeviceIdle(pump func()) error

	BeginRenderPass(rp RenderPassHandle, fb FramebufferHandle)
	EndRenderPass()
	// LayoutTransition panics unless dst is defined, differs from src, and
	// src is Undefined or the target's current layout.
	LayoutTransition(rt RenderTargetHandle, src, dst Layout)
	Blit(src, dst RenderTargetHandle)
	ResolveMSAA(src, dst RenderTargetHandle)

	BindPipeline(p PipelineHandle)
	BindIndexBuffer(b BufferHandle, bit16 bool)
	BindVertexBuffer(binding uint32, b BufferHandle)
	BindDescriptorSet(index uint32, layout DSLayoutHandle, descriptors ...Descriptor)

	SetViewport(x, y, width, height uint32)
	SetScissorRect(x, y, width, height uint32)

	Draw(firstVertex, vertexCount uint32)
	DrawIndexedInstanced(indexCount, instanceCount uint32)
	DrawIndexedOffset(indexCount, firstIndex, minIndex, maxIndex uint32)

	Stats() Stats
	// Close waits for the GPU, releases every resource and the device.
	Close() error
}
