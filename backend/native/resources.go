package native

import (
	"errors"
	"fmt"
	"maps"
	"math/bits"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/framegraph/device"
	"github.com/gogpu/framegraph/internal/contract"
	"github.com/gogpu/framegraph/internal/frame"
	"github.com/gogpu/framegraph/internal/ring"
	"github.com/gogpu/framegraph/pool"
)

func (d *Device) ephemeralAlignment(typ device.BufferType) uint64 {
	switch typ {
	case device.BufferTypeUniform:
		return uint64(d.caps.UniformAlignment)
	case device.BufferTypeStorage:
		return uint64(d.caps.StorageAlignment)
	case device.BufferTypeEverything:
		return uint64(max(d.caps.UniformAlignment, d.caps.StorageAlignment))
	default:
		return vertexAlignment
	}
}

// CreateBuffer implements device.Device.
func (d *Device) CreateBuffer(typ device.BufferType, data []byte) (device.BufferHandle, error) {
	d.checkOpen()
	device.Checkf(typ != device.BufferTypeInvalid, "CreateBuffer with invalid type")
	device.Checkf(len(data) > 0, "CreateBuffer with no data")

	// WriteBuffer needs 4-byte aligned sizes.
	size := (uint64(len(data)) + 3) &^ 3
	if err := d.memory.reserve(memoryBuffer, size); err != nil {
		return 0, err
	}
	raw, err := d.dev.CreateBuffer(&hal.BufferDescriptor{
		Label: typ.String(),
		Size:  size,
		Usage: typ.Usage() | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		d.memory.release(memoryBuffer, size)
		return 0, fmt.Errorf("native: create buffer: %w", err)
	}
	if err := d.queue.WriteBuffer(raw, 0, padded(data, size)); err != nil {
		d.dev.DestroyBuffer(raw)
		d.memory.release(memoryBuffer, size)
		return 0, fmt.Errorf("native: upload buffer: %w", err)
	}

	_, h := d.buffers.Add(buffer{
		typ:  typ,
		raw:  raw,
		size: uint32(size), //nolint:gosec // G115: buffer sizes fit in 32 bits
	})
	return device.BufferHandle(h), nil
}

func padded(data []byte, size uint64) []byte {
	if uint64(len(data)) == size {
		return data
	}
	out := make([]byte, size)
	copy(out, data)
	return out
}

// CreateEphemeralBuffer implements device.Device.
func (d *Device) CreateEphemeralBuffer(typ device.BufferType, data []byte) (device.BufferHandle, error) {
	d.checkOpen()
	device.Checkf(typ != device.BufferTypeInvalid, "CreateEphemeralBuffer with invalid type")
	device.Checkf(len(data) > 0, "CreateEphemeralBuffer with no data")

	size := (uint64(len(data)) + 3) &^ 3
	waits := d.frames.Stats().RingWaits
	off, err := d.frames.Reserve(d.ring, size, d.ephemeralAlignment(typ), d.desc.IdleTimeout, d.desc.Pump)
	if d.frames.Stats().RingWaits != waits {
		d.publishStats()
	}
	switch {
	case errors.Is(err, ring.ErrAllocationTooLarge):
		return 0, fmt.Errorf("%w: %d bytes, ring is %d", device.ErrAllocationTooLarge, size, d.ring.Size())
	case errors.Is(err, frame.ErrRingFull):
		return 0, fmt.Errorf("%w: %d bytes requested", device.ErrRingBufferFull, size)
	case err != nil:
		return 0, d.waitErr(err)
	}
	if err := d.queue.WriteBuffer(d.ringBuf, off, padded(data, size)); err != nil {
		return 0, fmt.Errorf("native: write ring buffer: %w", err)
	}

	_, h := d.buffers.Add(buffer{
		typ:       typ,
		raw:       d.ringBuf,
		size:      uint32(size), //nolint:gosec // G115: bounded by ring size
		ephemeral: true,
		offset:    uint32(off), //nolint:gosec // G115: bounded by ring size
	})
	d.frames.TrackEphemeral(func() { d.buffers.Remove(h, nil) })
	return device.BufferHandle(h), nil
}

// CreateTexture implements device.Device.
func (d *Device) CreateTexture(desc device.TextureDesc) (device.TextureHandle, error) {
	d.checkOpen()
	if err := device.CheckTextureDesc(&desc); err != nil {
		return 0, err
	}
	var bytes uint64
	for _, m := range desc.Mips {
		bytes += uint64(len(m))
	}
	if err := d.memory.reserve(memoryTexture, bytes); err != nil {
		return 0, err
	}

	raw, err := d.dev.CreateTexture(&hal.TextureDescriptor{
		Label:         desc.Name,
		Size:          hal.Extent3D{Width: desc.Width, Height: desc.Height, DepthOrArrayLayers: 1},
		MipLevelCount: desc.MipLevels(),
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        desc.Format,
		Usage:         gputypes.TextureUsageTextureBinding | gputypes.TextureUsageCopyDst,
	})
	if err != nil {
		d.memory.release(memoryTexture, bytes)
		return 0, fmt.Errorf("native: create texture %q: %w", desc.Name, err)
	}
	fail := func(err error) (device.TextureHandle, error) {
		d.dev.DestroyTexture(raw)
		d.memory.release(memoryTexture, bytes)
		return 0, err
	}

	bpp, _ := device.BytesPerPixel(desc.Format)
	for level, pix := range desc.Mips {
		w, h := device.MipSize(desc.Width, desc.Height, uint32(level)) //nolint:gosec // G115: mip index is tiny
		err := d.queue.WriteTexture(
			&hal.ImageCopyTexture{Texture: raw, MipLevel: uint32(level), Aspect: gputypes.TextureAspectAll}, //nolint:gosec // G115: mip index is tiny
			pix,
			&hal.ImageDataLayout{BytesPerRow: w * bpp, RowsPerImage: h},
			&hal.Extent3D{Width: w, Height: h, DepthOrArrayLayers: 1},
		)
		if err != nil {
			return fail(fmt.Errorf("native: upload texture %q mip %d: %w", desc.Name, level, err))
		}
	}

	view, err := d.dev.CreateTextureView(raw, &hal.TextureViewDescriptor{
		Label:           desc.Name,
		Format:          desc.Format,
		Dimension:       gputypes.TextureViewDimension2D,
		Aspect:          gputypes.TextureAspectAll,
		MipLevelCount:   desc.MipLevels(),
		ArrayLayerCount: 1,
	})
	if err != nil {
		return fail(fmt.Errorf("native: create texture view %q: %w", desc.Name, err))
	}

	_, h := d.textures.Add(texture{
		raw:    raw,
		view:   view,
		width:  desc.Width,
		height: desc.Height,
		format: desc.Format,
		bytes:  bytes,
	})
	return device.TextureHandle(h), nil
}

func (d *Device) createView(raw hal.Texture, desc *device.RenderTargetDesc, format gputypes.TextureFormat) (hal.TextureView, error) {
	view, err := d.dev.CreateTextureView(raw, &hal.TextureViewDescriptor{
		Label:           desc.Name,
		Format:          format,
		Dimension:       gputypes.TextureViewDimension2D,
		Aspect:          aspectOf(format),
		MipLevelCount:   1,
		ArrayLayerCount: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("native: create view of %q as %v: %w", desc.Name, format, err)
	}
	return view, nil
}

// CreateRenderTarget implements device.Device.
func (d *Device) CreateRenderTarget(desc device.RenderTargetDesc) (device.RenderTargetHandle, error) {
	d.checkOpen()
	device.Checkf(desc.Width > 0 && desc.Height > 0, "render target %q has zero size", desc.Name)
	if !d.IsRenderTargetFormatSupported(desc.Format) {
		return 0, fmt.Errorf("%w: render target %q format %v", device.ErrUnsupportedFormat, desc.Name, desc.Format)
	}
	samples := desc.Samples()
	if samples > d.caps.MaxSamples || bits.OnesCount32(samples) != 1 {
		return 0, fmt.Errorf("%w: render target %q with %d samples", device.ErrUnsupportedFormat, desc.Name, samples)
	}
	device.Checkf(desc.AdditionalViewFormat != desc.Format,
		"render target %q additional view repeats its format", desc.Name)

	bytes := uint64(desc.Width) * uint64(desc.Height) * texelSize(desc.Format) * uint64(samples)
	if err := d.memory.reserve(memoryRenderTarget, bytes); err != nil {
		return 0, err
	}
	var viewFormats []gputypes.TextureFormat
	if desc.AdditionalViewFormat != gputypes.TextureFormatUndefined {
		viewFormats = []gputypes.TextureFormat{desc.AdditionalViewFormat}
	}
	raw, err := d.dev.CreateTexture(&hal.TextureDescriptor{
		Label:         desc.Name,
		Size:          hal.Extent3D{Width: desc.Width, Height: desc.Height, DepthOrArrayLayers: 1},
		MipLevelCount: 1,
		SampleCount:   samples,
		Dimension:     gputypes.TextureDimension2D,
		Format:        desc.Format,
		Usage:         renderTargetUsage(&desc),
		ViewFormats:   viewFormats,
	})
	if err != nil {
		d.memory.release(memoryRenderTarget, bytes)
		return 0, fmt.Errorf("native: create render target %q: %w", desc.Name, err)
	}

	view, err := d.createView(raw, &desc, desc.Format)
	if err != nil {
		d.dev.DestroyTexture(raw)
		d.memory.release(memoryRenderTarget, bytes)
		return 0, err
	}
	var extra hal.TextureView
	if viewFormats != nil {
		if extra, err = d.createView(raw, &desc, desc.AdditionalViewFormat); err != nil {
			d.dev.DestroyTextureView(view)
			d.dev.DestroyTexture(raw)
			d.memory.release(memoryRenderTarget, bytes)
			return 0, err
		}
	}

	rec, h := d.renderTargets.Add(renderTarget{desc: desc, raw: raw, bytes: bytes})
	rt := device.RenderTargetHandle(h)
	_, vh := d.textures.Add(texture{view: view, width: desc.Width, height: desc.Height, format: desc.Format, owner: rt})
	rec.view = device.TextureHandle(vh)
	if extra != nil {
		_, eh := d.textures.Add(texture{
			view: extra, width: desc.Width, height: desc.Height, format: desc.AdditionalViewFormat, owner: rt,
		})
		rec.additionalView = device.TextureHandle(eh)
	}
	return rt, nil
}

// CreateSampler implements device.Device.
func (d *Device) CreateSampler(desc device.SamplerDesc) (device.SamplerHandle, error) {
	d.checkOpen()
	wrap := desc.Wrap
	if wrap == gputypes.AddressModeUndefined {
		wrap = gputypes.AddressModeClampToEdge
	}
	raw, err := d.dev.CreateSampler(&hal.SamplerDescriptor{
		Label:        desc.Name,
		AddressModeU: wrap,
		AddressModeV: wrap,
		AddressModeW: wrap,
		MagFilter:    filterOrNearest(desc.Mag),
		MinFilter:    filterOrNearest(desc.Min),
		MipmapFilter: filterOrNearest(desc.Min),
		LodMaxClamp:  32,
		Anisotropy:   1,
	})
	if err != nil {
		return 0, fmt.Errorf("native: create sampler %q: %w", desc.Name, err)
	}
	_, h := d.samplers.Add(sampler{desc: desc, raw: raw})
	return device.SamplerHandle(h), nil
}

// CreateDescriptorSetLayout implements device.Device.
func (d *Device) CreateDescriptorSetLayout(layout []device.DescriptorType) (device.DSLayoutHandle, error) {
	d.checkOpen()
	device.Checkf(len(layout) > 0, "empty descriptor set layout")
	raw, err := d.dev.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Entries: bindGroupLayoutEntries(layout),
	})
	if err != nil {
		return 0, fmt.Errorf("native: create bind group layout: %w", err)
	}
	_, h := d.dsLayouts.Add(dsLayout{types: append([]device.DescriptorType(nil), layout...), raw: raw})
	return device.DSLayoutHandle(h), nil
}

// CreateRenderPass implements device.Device. Render passes are pure
// descriptions on this backend; HAL passes are begun from them per use.
func (d *Device) CreateRenderPass(desc device.RenderPassDesc) (device.RenderPassHandle, error) {
	d.checkOpen()
	desc.Validate()
	device.Checkf(desc.ColorCount() > 0 || desc.DepthStencilFormat != gputypes.TextureFormatUndefined,
		"render pass %q has no attachments", desc.Name)
	for i := 0; i < desc.ColorCount(); i++ {
		if !d.IsRenderTargetFormatSupported(desc.Colors[i].Format) {
			return 0, fmt.Errorf("%w: render pass %q color %d", device.ErrUnsupportedFormat, desc.Name, i)
		}
	}
	_, h := d.renderPasses.Add(desc)
	return device.RenderPassHandle(h), nil
}

// CreateFramebuffer implements device.Device.
func (d *Device) CreateFramebuffer(desc device.FramebufferDesc) (device.FramebufferHandle, error) {
	d.checkOpen()
	rp := contract.Lookup(d.renderPasses, desc.RenderPass, "render pass")
	w, h, err := device.ResolveFramebuffer(rp, &desc, func(rt device.RenderTargetHandle) device.RenderTargetDesc {
		return contract.Lookup(d.renderTargets, rt, "render target").desc
	})
	if err != nil {
		return 0, err
	}
	_, fb := d.framebuffers.Add(framebuffer{
		desc:        desc,
		attachments: rp.AttachmentLayout(),
		width:       w,
		height:      h,
	})
	return device.FramebufferHandle(fb), nil
}

// CreatePipeline implements device.Device. Shader modules come from the
// device's shader cache, so pipelines sharing a variant compile it once.
func (d *Device) CreatePipeline(desc device.PipelineDesc) (device.PipelineHandle, error) {
	d.checkOpen()
	rp := contract.Lookup(d.renderPasses, desc.RenderPass, "render pass")
	device.Checkf(desc.Samples() == rp.Samples(),
		"pipeline %q has %d samples, render pass %q has %d", desc.Name, desc.Samples(), rp.Name, rp.Samples())
	device.Checkf(len(desc.VertexAttribs) <= device.MaxVertexAttribs, "pipeline %q has too many vertex attributes", desc.Name)
	device.Checkf(len(desc.VertexBuffers) <= device.MaxVertexBuffers, "pipeline %q has too many vertex buffers", desc.Name)
	for _, a := range desc.VertexAttribs {
		device.Checkf(int(a.Binding) < len(desc.VertexBuffers),
			"pipeline %q attribute %d reads vertex buffer %d", desc.Name, a.Location, a.Binding)
	}

	var groups []hal.BindGroupLayout
	for i, l := range desc.DescriptorSetLayouts {
		if !l.IsValid() {
			continue
		}
		rec := contract.Lookup(d.dsLayouts, l, fmt.Sprintf("descriptor set layout %d", i))
		for len(groups) < i {
			groups = append(groups, d.emptyLayout)
		}
		groups = append(groups, rec.raw)
	}

	vs, err := d.shaders.getOrCreate(d.dev, d.desc.Shaders, desc.VertexShaderName, device.StageVertex, desc.Macros)
	if err != nil {
		return 0, fmt.Errorf("pipeline %q: %w", desc.Name, err)
	}
	fs, err := d.shaders.getOrCreate(d.dev, d.desc.Shaders, desc.FragmentShaderName, device.StageFragment, desc.Macros)
	if err != nil {
		return 0, fmt.Errorf("pipeline %q: %w", desc.Name, err)
	}

	layout, err := d.dev.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            desc.Name,
		BindGroupLayouts: groups,
	})
	if err != nil {
		return 0, fmt.Errorf("native: create pipeline layout %q: %w", desc.Name, err)
	}
	raw, err := d.dev.CreateRenderPipeline(&hal.RenderPipelineDescriptor{
		Label:  desc.Name,
		Layout: layout,
		Vertex: hal.VertexState{
			Module:     vs.module,
			EntryPoint: vs.entryPoint,
			Buffers:    vertexLayouts(&desc),
		},
		Primitive:    primitiveState(&desc),
		DepthStencil: depthStencilState(rp, &desc),
		Multisample:  gputypes.MultisampleState{Count: desc.Samples(), Mask: 0xFFFFFFFF},
		Fragment: &hal.FragmentState{
			Module:     fs.module,
			EntryPoint: fs.entryPoint,
			Targets:    colorTargets(rp, &desc),
		},
	})
	if err != nil {
		d.dev.DestroyPipelineLayout(layout)
		return 0, fmt.Errorf("native: create render pipeline %q: %w", desc.Name, err)
	}

	desc.Macros = maps.Clone(desc.Macros)
	desc.VertexAttribs = append([]device.VertexAttr(nil), desc.VertexAttribs...)
	desc.VertexBuffers = append([]device.VertexBufferDesc(nil), desc.VertexBuffers...)
	_, h := d.pipelines.Add(pipeline{desc: desc, layout: layout, raw: raw})
	return device.PipelineHandle(h), nil
}

// RenderTargetView implements device.Device.
func (d *Device) RenderTargetView(rt device.RenderTargetHandle, format gputypes.TextureFormat) device.TextureHandle {
	r := contract.Lookup(d.renderTargets, rt, "render target")
	switch format {
	case gputypes.TextureFormatUndefined, r.desc.Format:
		return r.view
	case r.desc.AdditionalViewFormat:
		return r.additionalView
	}
	device.Violationf("render target %q has no %v view", r.desc.Name, format)
	return 0
}

func (d *Device) destroyTexture(t *texture) {
	if t.view != nil {
		d.dev.DestroyTextureView(t.view)
	}
	if t.raw != nil {
		d.dev.DestroyTexture(t.raw)
		d.memory.release(memoryTexture, t.bytes)
	}
}

func (d *Device) destroyPipeline(p *pipeline) {
	d.dev.DestroyRenderPipeline(p.raw)
	d.dev.DestroyPipelineLayout(p.layout)
}

// DeleteBuffer implements device.Device. The HAL buffer is destroyed once
// the frames that may use it have retired.
func (d *Device) DeleteBuffer(h device.BufferHandle) {
	b := contract.Lookup(d.buffers, h, "buffer")
	device.Checkf(!b.ephemeral, "DeleteBuffer on ephemeral buffer %v", h)
	raw, size := b.raw, uint64(b.size)
	d.buffers.Remove(pool.Handle(h), nil)
	d.frames.Defer(func() {
		d.dev.DestroyBuffer(raw)
		d.memory.release(memoryBuffer, size)
	})
}

// DeleteTexture implements device.Device.
func (d *Device) DeleteTexture(h device.TextureHandle) {
	t := contract.Lookup(d.textures, h, "texture")
	device.Checkf(!t.owner.IsValid(), "DeleteTexture on a view owned by %v", t.owner)
	rec := *t
	d.textures.Remove(pool.Handle(h), nil)
	d.frames.Defer(func() { d.destroyTexture(&rec) })
}

// DeleteRenderTarget implements device.Device. The views of the target are
// deleted with it.
func (d *Device) DeleteRenderTarget(h device.RenderTargetHandle) {
	contract.Lookup(d.renderTargets, h, "render target")
	d.renderTargets.Remove(pool.Handle(h), func(rt *renderTarget) {
		views := []hal.TextureView{d.textures.Get(pool.Handle(rt.view)).view}
		d.textures.Remove(pool.Handle(rt.view), nil)
		if rt.additionalView.IsValid() {
			views = append(views, d.textures.Get(pool.Handle(rt.additionalView)).view)
			d.textures.Remove(pool.Handle(rt.additionalView), nil)
		}
		raw, bytes := rt.raw, rt.bytes
		d.frames.Defer(func() {
			for _, v := range views {
				d.dev.DestroyTextureView(v)
			}
			d.dev.DestroyTexture(raw)
			d.memory.release(memoryRenderTarget, bytes)
		})
	})
}

// DeleteSampler implements device.Device.
func (d *Device) DeleteSampler(h device.SamplerHandle) {
	raw := contract.Lookup(d.samplers, h, "sampler").raw
	d.samplers.Remove(pool.Handle(h), nil)
	d.frames.Defer(func() { d.dev.DestroySampler(raw) })
}

// DeleteDescriptorSetLayout implements device.Device.
func (d *Device) DeleteDescriptorSetLayout(h device.DSLayoutHandle) {
	raw := contract.Lookup(d.dsLayouts, h, "descriptor set layout").raw
	d.dsLayouts.Remove(pool.Handle(h), nil)
	d.frames.Defer(func() { d.dev.DestroyBindGroupLayout(raw) })
}

// DeleteRenderPass implements device.Device.
func (d *Device) DeleteRenderPass(h device.RenderPassHandle) {
	contract.Lookup(d.renderPasses, h, "render pass")
	device.Checkf(h != d.currentPass || !d.state.InRenderPass(), "DeleteRenderPass on the active pass")
	d.renderPasses.Remove(pool.Handle(h), nil)
}

// DeleteFramebuffer implements device.Device.
func (d *Device) DeleteFramebuffer(h device.FramebufferHandle) {
	contract.Lookup(d.framebuffers, h, "framebuffer")
	device.Checkf(h != d.currentFB || !d.state.InRenderPass(), "DeleteFramebuffer on the active framebuffer")
	d.framebuffers.Remove(pool.Handle(h), nil)
}

// DeletePipeline implements device.Device.
func (d *Device) DeletePipeline(h device.PipelineHandle) {
	rec := *contract.Lookup(d.pipelines, h, "pipeline")
	d.pipelines.Remove(pool.Handle(h), nil)
	d.frames.Defer(func() { d.destroyPipeline(&rec) })
}
