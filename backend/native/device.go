package native

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/framegraph/backend"
	"github.com/gogpu/framegraph/device"
	"github.com/gogpu/framegraph/internal/contract"
	"github.com/gogpu/framegraph/internal/frame"
	"github.com/gogpu/framegraph/internal/ring"
	"github.com/gogpu/framegraph/pool"
)

// variantPriority is the order the native backend tries HAL backends in.
var variantPriority = []gputypes.Backend{
	gputypes.BackendVulkan,
	gputypes.BackendMetal,
	gputypes.BackendDX12,
	gputypes.BackendGL,
}

func init() {
	register := func(name string, variant gputypes.Backend) {
		backend.Register(name, func(desc device.Desc) (device.Device, error) {
			return New(desc, WithVariant(variant))
		})
	}
	register(backend.Native, gputypes.BackendEmpty)
	register(backend.Vulkan, gputypes.BackendVulkan)
	register(backend.Metal, gputypes.BackendMetal)
	register(backend.DX12, gputypes.BackendDX12)
	register(backend.GL, gputypes.BackendGL)
}

type buffer struct {
	typ       device.BufferType
	raw       hal.Buffer
	size      uint32
	ephemeral bool
	// offset is the ring buffer offset of an ephemeral buffer.
	offset uint32
}

type texture struct {
	raw           hal.Texture
	view          hal.TextureView
	width, height uint32
	format        gputypes.TextureFormat
	bytes         uint64
	// owner is set for views created by a render target; raw is then nil.
	owner device.RenderTargetHandle
}

type renderTarget struct {
	desc           device.RenderTargetDesc
	layout         device.Layout
	raw            hal.Texture
	bytes          uint64
	view           device.TextureHandle
	additionalView device.TextureHandle
}

type sampler struct {
	desc device.SamplerDesc
	raw  hal.Sampler
}

type dsLayout struct {
	types []device.DescriptorType
	raw   hal.BindGroupLayout
}

type framebuffer struct {
	desc          device.FramebufferDesc
	attachments   device.AttachmentLayout
	width, height uint32
}

type pipeline struct {
	desc   device.PipelineDesc
	layout hal.PipelineLayout
	raw    hal.RenderPipeline
}

// Device implements device.Device on a wgpu HAL device.
type Device struct {
	desc    device.Desc
	variant gputypes.Backend
	name    string

	instance hal.Instance
	adapter  hal.ExposedAdapter
	dev      hal.Device
	queue    hal.Queue
	surface  hal.Surface
	caps     device.Caps

	buffers       *pool.Pool[buffer]
	textures      *pool.Pool[texture]
	renderTargets *pool.Pool[renderTarget]
	samplers      *pool.Pool[sampler]
	dsLayouts     *pool.Pool[dsLayout]
	renderPasses  *pool.Pool[device.RenderPassDesc]
	framebuffers  *pool.Pool[framebuffer]
	pipelines     *pool.Pool[pipeline]

	ringBuf hal.Buffer
	ring    *ring.Allocator
	frames  *frame.Ring
	state   contract.State
	shaders *shaderCache
	memory  *memoryTracker

	// emptyLayout fills descriptor set slots a pipeline leaves unused.
	emptyLayout hal.BindGroupLayout

	encoder    hal.CommandEncoder
	pass       hal.RenderPassEncoder
	surfaceTex *hal.AcquiredSurfaceTexture

	swapchain device.SwapchainDesc
	wanted    device.SwapchainDesc
	dirty     bool

	currentPass     device.RenderPassHandle
	currentFB       device.FramebufferHandle
	currentPipeline device.PipelineHandle
	indexBound      bool
	// recordErr is the first command recording failure of the frame.
	// PresentFrame reports it; draws are skipped until then.
	recordErr error

	recreations uint64
	drawCalls   uint64
	stats       atomic.Pointer[device.Stats]
	closed      bool
}

var _ device.Device = (*Device)(nil)

func selectAPI(o *options) (hal.Backend, error) {
	if o.api != nil {
		return o.api, nil
	}
	if o.variant != gputypes.BackendEmpty {
		api, ok := hal.GetBackend(o.variant)
		if !ok {
			return nil, fmt.Errorf("%w: HAL backend %v not compiled in", backend.ErrBackendNotAvailable, o.variant)
		}
		return api, nil
	}
	for _, v := range variantPriority {
		if api, ok := hal.GetBackend(v); ok {
			return api, nil
		}
	}
	return nil, fmt.Errorf("%w: no HAL backend compiled in (import hal/allbackends)", backend.ErrBackendNotAvailable)
}

func selectAdapter(adapters []hal.ExposedAdapter) *hal.ExposedAdapter {
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			return &adapters[i]
		}
	}
	return &adapters[0]
}

// New opens a HAL device. Zero fields of desc take the values of
// device.DefaultDesc. Without surface handles the device renders headless
// and PresentFrame only submits.
func New(desc device.Desc, opts ...Option) (*Device, error) {
	o := options{memoryMB: DefaultMaxMemoryMB}
	for _, opt := range opts {
		opt(&o)
	}

	def := device.DefaultDesc()
	if desc.Swapchain.Frames == 0 {
		desc.Swapchain.Frames = def.Swapchain.Frames
	}
	if desc.Swapchain.Width == 0 || desc.Swapchain.Height == 0 {
		desc.Swapchain.Width, desc.Swapchain.Height = def.Swapchain.Width, def.Swapchain.Height
	}
	if desc.RingBufferSize == 0 {
		desc.RingBufferSize = def.RingBufferSize
	}
	if desc.IdleTimeout == 0 {
		desc.IdleTimeout = def.IdleTimeout
	}
	if desc.SwapchainFormat == gputypes.TextureFormatUndefined {
		desc.SwapchainFormat = def.SwapchainFormat
	}

	api, err := selectAPI(&o)
	if err != nil {
		return nil, err
	}
	flags := gputypes.InstanceFlagsNone
	if desc.Debug {
		flags = gputypes.InstanceFlagsDebug | gputypes.InstanceFlagsValidation
	}
	instance, err := api.CreateInstance(&hal.InstanceDescriptor{Flags: flags})
	if err != nil {
		return nil, fmt.Errorf("native: create instance: %w", err)
	}

	d := &Device{
		desc:          desc,
		variant:       api.Variant(),
		instance:      instance,
		buffers:       pool.New[buffer](),
		textures:      pool.New[texture](),
		renderTargets: pool.New[renderTarget](),
		samplers:      pool.New[sampler](),
		dsLayouts:     pool.New[dsLayout](),
		renderPasses:  pool.New[device.RenderPassDesc](),
		framebuffers:  pool.New[framebuffer](),
		pipelines:     pool.New[pipeline](),
		shaders:       newShaderCache(),
		memory:        newMemoryTracker(o.memoryMB),
		swapchain:     desc.Swapchain,
		wanted:        desc.Swapchain,
	}
	d.name = backend.Native
	if o.variant != gputypes.BackendEmpty {
		d.name = variantName(o.variant)
	}

	if err := d.open(); err != nil {
		d.destroyHAL()
		return nil, err
	}
	d.publishStats()
	backend.Logger().Info("native: device created",
		"api", d.variant.String(),
		"adapter", d.adapter.Info.Name,
		"frames", desc.Swapchain.Frames,
		"ring", desc.RingBufferSize,
		"surface", d.surface != nil)
	return d, nil
}

func variantName(v gputypes.Backend) string {
	switch v {
	case gputypes.BackendVulkan:
		return backend.Vulkan
	case gputypes.BackendMetal:
		return backend.Metal
	case gputypes.BackendDX12:
		return backend.DX12
	case gputypes.BackendGL:
		return backend.GL
	default:
		return backend.Native
	}
}

func (d *Device) open() error {
	var err error
	if !d.desc.Surface.IsZero() {
		d.surface, err = d.instance.CreateSurface(d.desc.Surface.Display, d.desc.Surface.Window)
		if err != nil {
			return fmt.Errorf("native: create surface: %w", err)
		}
	}

	adapters := d.instance.EnumerateAdapters(d.surface)
	if len(adapters) == 0 {
		return fmt.Errorf("%w: no GPU adapters found", backend.ErrBackendNotAvailable)
	}
	d.adapter = *selectAdapter(adapters)

	opened, err := d.adapter.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		return fmt.Errorf("native: open device: %w", err)
	}
	d.dev = opened.Device
	d.queue = opened.Queue

	limits := d.adapter.Capabilities.Limits
	d.caps = device.Caps{
		ExplicitSync:     d.variant != gputypes.BackendGL,
		UniformAlignment: max(limits.MinUniformBufferOffsetAlignment, 4),
		StorageAlignment: max(limits.MinStorageBufferOffsetAlignment, 4),
		MaxSamples:       4,
	}

	if err := d.configureSurface(); err != nil {
		return err
	}

	d.ring, err = ring.New(uint64(d.desc.RingBufferSize))
	if err != nil {
		return fmt.Errorf("native: ring buffer: %w", err)
	}
	if d.ringBuf, err = d.createRingBuffer(d.desc.RingBufferSize); err != nil {
		return err
	}
	d.frames = frame.NewRing(int(d.desc.Swapchain.Frames), d.queue)

	d.emptyLayout, err = d.dev.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{Label: "empty"})
	if err != nil {
		return fmt.Errorf("native: create empty bind group layout: %w", err)
	}
	return nil
}

func (d *Device) createRingBuffer(size uint32) (hal.Buffer, error) {
	if err := d.memory.reserve(memoryRing, uint64(size)); err != nil {
		return nil, err
	}
	buf, err := d.dev.CreateBuffer(&hal.BufferDescriptor{
		Label: "ring",
		Size:  uint64(size),
		Usage: device.BufferTypeEverything.Usage() | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		d.memory.release(memoryRing, uint64(size))
		return nil, fmt.Errorf("native: create ring buffer: %w", err)
	}
	return buf, nil
}

func (d *Device) configureSurface() error {
	if d.surface == nil {
		return nil
	}
	err := d.surface.Configure(d.dev, &hal.SurfaceConfiguration{
		Width:       d.swapchain.Width,
		Height:      d.swapchain.Height,
		Format:      d.desc.SwapchainFormat,
		Usage:       gputypes.TextureUsageRenderAttachment | gputypes.TextureUsageCopyDst,
		PresentMode: d.swapchain.VSync.PresentMode(),
		AlphaMode:   gputypes.CompositeAlphaModeOpaque,
	})
	if err != nil {
		return fmt.Errorf("native: configure surface: %w", err)
	}
	return nil
}

// destroyHAL releases the HAL objects owned directly by the device.
func (d *Device) destroyHAL() {
	if d.dev != nil {
		d.shaders.clear(d.dev)
		if d.emptyLayout != nil {
			d.dev.DestroyBindGroupLayout(d.emptyLayout)
		}
		if d.ringBuf != nil {
			d.dev.DestroyBuffer(d.ringBuf)
		}
		if d.surface != nil {
			d.surface.Unconfigure(d.dev)
		}
		d.dev.Destroy()
	}
	if d.surface != nil {
		d.surface.Destroy()
	}
	if d.instance != nil {
		d.instance.Destroy()
	}
}

// Backend implements device.Device.
func (d *Device) Backend() string { return d.name }

// API returns the HAL backend the device runs on.
func (d *Device) API() gputypes.Backend { return d.variant }

// AdapterInfo describes the selected GPU.
func (d *Device) AdapterInfo() gputypes.AdapterInfo { return d.adapter.Info }

// Caps implements device.Device.
func (d *Device) Caps() device.Caps { return d.caps }

// IsRenderTargetFormatSupported implements device.Device.
func (d *Device) IsRenderTargetFormatSupported(f gputypes.TextureFormat) bool {
	if f == gputypes.TextureFormatUndefined {
		return false
	}
	c := d.adapter.Adapter.TextureFormatCapabilities(f)
	return c.Flags&hal.TextureFormatCapabilityRenderAttachment != 0
}

func (d *Device) checkOpen() {
	device.Checkf(!d.closed, "use of closed device")
}

// MemoryStats reports GPU memory accounting.
func (d *Device) MemoryStats() MemoryStats { return d.memory.stats() }

// ShaderCacheStats reports shader module cache hits and misses.
func (d *Device) ShaderCacheStats() (hits, misses uint64) { return d.shaders.Stats() }

// RenderTargetLayout returns the tracked layout of rt.
func (d *Device) RenderTargetLayout(rt device.RenderTargetHandle) device.Layout {
	return contract.Lookup(d.renderTargets, rt, "render target").layout
}

func (d *Device) waitErr(err error) error {
	if errors.Is(err, frame.ErrTimeout) {
		return fmt.Errorf("%w: %w", device.ErrTimeout, err)
	}
	return err
}

// WaitForDeviceIdle implements device.Device.
func (d *Device) WaitForDeviceIdle(pump func()) error {
	if d.closed {
		return device.ErrClosed
	}
	if pump == nil {
		pump = d.desc.Pump
	}
	err := d.frames.WaitIdle(d.desc.IdleTimeout, pump)
	d.publishStats()
	return d.waitErr(err)
}

// Stats implements device.Device.
func (d *Device) Stats() device.Stats {
	return *d.stats.Load()
}

func (d *Device) publishStats() {
	fs := d.frames.Stats()
	_, synced := d.frames.LastSynced()
	ephemeral := 0
	d.buffers.Each(func(_ pool.Handle, b *buffer) {
		if b.ephemeral {
			ephemeral++
		}
	})
	ms := d.memory.stats()
	d.stats.Store(&device.Stats{
		Backend:              d.name,
		FrameNum:             fs.FrameNum,
		FramesInFlight:       fs.InFlight,
		FrameSlots:           fs.Slots,
		LastSyncedFrame:      fs.LastSyncedFrame,
		FrameStalls:          fs.Stalls,
		RingBufferSize:       d.ring.Size(),
		RingBufferUsed:       d.ring.Cursor() - min(synced, d.ring.Cursor()),
		RingWaits:            fs.RingWaits,
		Buffers:              d.buffers.Len() - ephemeral,
		EphemeralBuffers:     ephemeral,
		Textures:             d.textures.Len(),
		RenderTargets:        d.renderTargets.Len(),
		Samplers:             d.samplers.Len(),
		RenderPasses:         d.renderPasses.Len(),
		Framebuffers:         d.framebuffers.Len(),
		Pipelines:            d.pipelines.Len(),
		SwapchainRecreations: d.recreations,
		DrawCalls:            d.drawCalls,
		MemoryBytes:          ms.UsedBytes,
	})
}

// Close implements device.Device. Resources still alive are destroyed.
func (d *Device) Close() error {
	if d.closed {
		return nil
	}
	device.Checkf(!d.state.InFrame(), "Close inside a frame")
	waitErr := d.frames.WaitIdle(d.desc.IdleTimeout, d.desc.Pump)
	if waitErr != nil {
		// Fall back to a blocking device wait before tearing down.
		if err := d.dev.WaitIdle(); err != nil {
			backend.Logger().Warn("native: device wait failed", "err", err)
		}
		_ = d.frames.WaitIdle(0, nil)
	}
	d.frames.Drain()

	d.pipelines.Each(func(_ pool.Handle, p *pipeline) { d.destroyPipeline(p) })
	d.dsLayouts.Each(func(_ pool.Handle, l *dsLayout) { d.dev.DestroyBindGroupLayout(l.raw) })
	d.samplers.Each(func(_ pool.Handle, s *sampler) { d.dev.DestroySampler(s.raw) })
	d.textures.Each(func(_ pool.Handle, t *texture) { d.destroyTexture(t) })
	d.renderTargets.Each(func(_ pool.Handle, rt *renderTarget) {
		d.dev.DestroyTexture(rt.raw)
		d.memory.release(memoryRenderTarget, rt.bytes)
	})
	d.buffers.Each(func(_ pool.Handle, b *buffer) {
		if !b.ephemeral {
			d.dev.DestroyBuffer(b.raw)
			d.memory.release(memoryBuffer, uint64(b.size))
		}
	})
	d.pipelines = pool.New[pipeline]()
	d.framebuffers = pool.New[framebuffer]()
	d.renderPasses = pool.New[device.RenderPassDesc]()
	d.dsLayouts = pool.New[dsLayout]()
	d.samplers = pool.New[sampler]()
	d.renderTargets = pool.New[renderTarget]()
	d.textures = pool.New[texture]()
	d.buffers = pool.New[buffer]()

	d.memory.release(memoryRing, d.ring.Size())
	d.destroyHAL()
	d.closed = true
	d.publishStats()
	backend.Logger().Debug("native: device closed")
	return d.waitErr(waitErr)
}
