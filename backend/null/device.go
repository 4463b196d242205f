package null

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/framegraph/backend"
	"github.com/gogpu/framegraph/device"
	"github.com/gogpu/framegraph/internal/contract"
	"github.com/gogpu/framegraph/internal/frame"
	"github.com/gogpu/framegraph/internal/ring"
	"github.com/gogpu/framegraph/pool"
)

func init() {
	backend.Register(backend.Null, func(desc device.Desc) (device.Device, error) {
		return New(desc)
	})
}

const (
	uniformAlignment = 256
	storageAlignment = 256
	vertexAlignment  = 4
	maxSamples       = 8
)

type buffer struct {
	typ       device.BufferType
	size      uint32
	ephemeral bool
	offset    uint32
	// data aliases the ring storage for ephemeral buffers.
	data []byte
}

type texture struct {
	width, height uint32
	format        gputypes.TextureFormat
	mips          uint32
	// owner is set for views created by a render target.
	owner device.RenderTargetHandle
}

type renderTarget struct {
	desc           device.RenderTargetDesc
	layout         device.Layout
	view           device.TextureHandle
	additionalView device.TextureHandle
}

type framebuffer struct {
	desc          device.FramebufferDesc
	attachments   device.AttachmentLayout
	width, height uint32
}

// Device is the validating, non-rendering implementation of device.Device.
type Device struct {
	desc device.Desc

	buffers       *pool.Pool[buffer]
	textures      *pool.Pool[texture]
	renderTargets *pool.Pool[renderTarget]
	samplers      *pool.Pool[device.SamplerDesc]
	dsLayouts     *pool.Pool[[]device.DescriptorType]
	renderPasses  *pool.Pool[device.RenderPassDesc]
	framebuffers  *pool.Pool[framebuffer]
	pipelines     *pool.Pool[device.PipelineDesc]

	ring     *ring.Allocator
	ringData []byte
	frames   *frame.Ring
	gpu      *timeline
	state    contract.State

	swapchain   device.SwapchainDesc
	wanted      device.SwapchainDesc
	dirty       bool
	surfaceLost bool
	failBind    bool

	currentPass     device.RenderPassHandle
	currentFB       device.FramebufferHandle
	currentPipeline device.PipelineHandle
	indexBound      bool
	recordErr       error

	recreations uint64
	drawCalls   uint64
	stats       atomic.Pointer[device.Stats]
	closed      bool
}

var _ device.Device = (*Device)(nil)

// New creates a null device. Zero fields of desc take the values of
// device.DefaultDesc.
func New(desc device.Desc, opts ...Option) (*Device, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	def := device.DefaultDesc()
	if desc.Swapchain.Frames == 0 {
		desc.Swapchain.Frames = def.Swapchain.Frames
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

	r, err := ring.New(uint64(desc.RingBufferSize))
	if err != nil {
		return nil, fmt.Errorf("null: ring buffer: %w", err)
	}

	gpu := &timeline{delay: o.gpuDelay}
	d := &Device{
		desc:          desc,
		buffers:       pool.New[buffer](),
		textures:      pool.New[texture](),
		renderTargets: pool.New[renderTarget](),
		samplers:      pool.New[device.SamplerDesc](),
		dsLayouts:     pool.New[[]device.DescriptorType](),
		renderPasses:  pool.New[device.RenderPassDesc](),
		framebuffers:  pool.New[framebuffer](),
		pipelines:     pool.New[device.PipelineDesc](),
		ring:          r,
		ringData:      make([]byte, desc.RingBufferSize),
		frames:        frame.NewRing(int(desc.Swapchain.Frames), gpu),
		gpu:           gpu,
		swapchain:     desc.Swapchain,
		wanted:        desc.Swapchain,
	}
	d.publishStats()
	backend.Logger().Debug("null: device created",
		"frames", desc.Swapchain.Frames, "ring", desc.RingBufferSize)
	return d, nil
}

// Backend implements device.Device.
func (d *Device) Backend() string { return backend.Null }

// Caps implements device.Device.
func (d *Device) Caps() device.Caps {
	return device.Caps{
		ExplicitSync:     true,
		UniformAlignment: uniformAlignment,
		StorageAlignment: storageAlignment,
		MaxSamples:       maxSamples,
	}
}

// IsRenderTargetFormatSupported implements device.Device.
func (d *Device) IsRenderTargetFormatSupported(f gputypes.TextureFormat) bool {
	return f != gputypes.TextureFormatUndefined
}

func (d *Device) checkOpen() {
	device.Checkf(!d.closed, "use of closed device")
}

// SimulateSurfaceLoss makes the next BeginFrame report an out-of-date
// surface, as a window resize or display change would.
func (d *Device) SimulateSurfaceLoss() {
	d.surfaceLost = true
}

// SimulateBindFailure makes the next BindDescriptorSet fail as a lost
// device would. Draws are dropped for the rest of the frame and
// PresentFrame reports the error.
func (d *Device) SimulateBindFailure() {
	d.failBind = true
}

// EphemeralContents returns the ring buffer bytes of an ephemeral buffer.
func (d *Device) EphemeralContents(h device.BufferHandle) []byte {
	b := contract.Lookup(d.buffers, h, "buffer")
	device.Checkf(b.ephemeral, "buffer %v is not ephemeral", h)
	return b.data
}

// EphemeralOffset returns the ring buffer offset of an ephemeral buffer.
func (d *Device) EphemeralOffset(h device.BufferHandle) uint32 {
	b := contract.Lookup(d.buffers, h, "buffer")
	device.Checkf(b.ephemeral, "buffer %v is not ephemeral", h)
	return b.offset
}

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
	s := &device.Stats{
		Backend:              backend.Null,
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
	}
	d.stats.Store(s)
}

// Close implements device.Device.
func (d *Device) Close() error {
	if d.closed {
		return nil
	}
	device.Checkf(!d.state.InFrame(), "Close inside a frame")
	if err := d.frames.WaitIdle(d.desc.IdleTimeout, d.desc.Pump); err != nil {
		d.gpu.idle()
		d.frames.WaitIdle(0, nil) //nolint:errcheck // the timeline is idle now
	}
	d.frames.Drain()

	d.pipelines = pool.New[device.PipelineDesc]()
	d.framebuffers = pool.New[framebuffer]()
	d.renderPasses = pool.New[device.RenderPassDesc]()
	d.dsLayouts = pool.New[[]device.DescriptorType]()
	d.samplers = pool.New[device.SamplerDesc]()
	d.renderTargets = pool.New[renderTarget]()
	d.textures = pool.New[texture]()
	d.buffers = pool.New[buffer]()
	d.closed = true
	d.publishStats()
	backend.Logger().Debug("null: device closed")
	return nil
}
