package null

import (
	"errors"
	"fmt"
	"maps"
	"math/bits"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/framegraph/device"
	"github.com/gogpu/framegraph/internal/contract"
	"github.com/gogpu/framegraph/internal/frame"
	"github.com/gogpu/framegraph/internal/ring"
	"github.com/gogpu/framegraph/pool"
)

func ephemeralAlignment(typ device.BufferType) uint64 {
	switch typ {
	case device.BufferTypeUniform:
		return uniformAlignment
	case device.BufferTypeStorage:
		return storageAlignment
	case device.BufferTypeEverything:
		return max(uniformAlignment, storageAlignment)
	default:
		return vertexAlignment
	}
}

// CreateBuffer implements device.Device.
func (d *Device) CreateBuffer(typ device.BufferType, data []byte) (device.BufferHandle, error) {
	d.checkOpen()
	device.Checkf(typ != device.BufferTypeInvalid, "CreateBuffer with invalid type")
	device.Checkf(len(data) > 0, "CreateBuffer with no data")

	_, h := d.buffers.Add(buffer{
		typ:  typ,
		size: uint32(len(data)), //nolint:gosec // G115: buffer sizes fit in 32 bits
		data: append([]byte(nil), data...),
	})
	return device.BufferHandle(h), nil
}

// CreateEphemeralBuffer implements device.Device.
func (d *Device) CreateEphemeralBuffer(typ device.BufferType, data []byte) (device.BufferHandle, error) {
	d.checkOpen()
	device.Checkf(typ != device.BufferTypeInvalid, "CreateEphemeralBuffer with invalid type")
	device.Checkf(len(data) > 0, "CreateEphemeralBuffer with no data")
	device.Checkf(d.state.InFrame(), "CreateEphemeralBuffer outside a frame")

	size := uint64(len(data))
	waits := d.frames.Stats().RingWaits
	off, err := d.frames.Reserve(d.ring, size, ephemeralAlignment(typ), d.desc.IdleTimeout, d.desc.Pump)
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
	copy(d.ringData[off:], data)

	_, h := d.buffers.Add(buffer{
		typ:       typ,
		size:      uint32(size), //nolint:gosec // G115: bounded by ring size
		ephemeral: true,
		offset:    uint32(off), //nolint:gosec // G115: bounded by ring size
		data:      d.ringData[off : off+size],
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
	_, h := d.textures.Add(texture{
		width:  desc.Width,
		height: desc.Height,
		format: desc.Format,
		mips:   desc.MipLevels(),
	})
	return device.TextureHandle(h), nil
}

// CreateRenderTarget implements device.Device.
func (d *Device) CreateRenderTarget(desc device.RenderTargetDesc) (device.RenderTargetHandle, error) {
	d.checkOpen()
	device.Checkf(desc.Width > 0 && desc.Height > 0, "render target %q has zero size", desc.Name)
	if !d.IsRenderTargetFormatSupported(desc.Format) {
		return 0, fmt.Errorf("%w: render target %q format %v", device.ErrUnsupportedFormat, desc.Name, desc.Format)
	}
	samples := desc.Samples()
	if samples > maxSamples || bits.OnesCount32(samples) != 1 {
		return 0, fmt.Errorf("%w: render target %q with %d samples", device.ErrUnsupportedFormat, desc.Name, samples)
	}
	device.Checkf(desc.AdditionalViewFormat != desc.Format,
		"render target %q additional view repeats its format", desc.Name)

	rec, h := d.renderTargets.Add(renderTarget{desc: desc})
	rt := device.RenderTargetHandle(h)
	_, view := d.textures.Add(texture{width: desc.Width, height: desc.Height, format: desc.Format, mips: 1, owner: rt})
	rec.view = device.TextureHandle(view)
	if desc.AdditionalViewFormat != gputypes.TextureFormatUndefined {
		_, extra := d.textures.Add(texture{
			width: desc.Width, height: desc.Height, format: desc.AdditionalViewFormat, mips: 1, owner: rt,
		})
		rec.additionalView = device.TextureHandle(extra)
	}
	return rt, nil
}

// CreateSampler implements device.Device.
func (d *Device) CreateSampler(desc device.SamplerDesc) (device.SamplerHandle, error) {
	d.checkOpen()
	_, h := d.samplers.Add(desc)
	return device.SamplerHandle(h), nil
}

// CreateDescriptorSetLayout implements device.Device.
func (d *Device) CreateDescriptorSetLayout(layout []device.DescriptorType) (device.DSLayoutHandle, error) {
	d.checkOpen()
	device.Checkf(len(layout) > 0, "empty descriptor set layout")
	_, h := d.dsLayouts.Add(append([]device.DescriptorType(nil), layout...))
	return device.DSLayoutHandle(h), nil
}

// CreateRenderPass implements device.Device.
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

// CreatePipeline implements device.Device.
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
	for i, l := range desc.DescriptorSetLayouts {
		if l.IsValid() {
			contract.Lookup(d.dsLayouts, l, fmt.Sprintf("descriptor set layout %d", i))
		}
	}

	if d.desc.Shaders != nil {
		if _, err := d.desc.Shaders.Compile(desc.VertexShaderName, device.StageVertex, desc.Macros); err != nil {
			return 0, fmt.Errorf("pipeline %q: %w", desc.Name, err)
		}
		if _, err := d.desc.Shaders.Compile(desc.FragmentShaderName, device.StageFragment, desc.Macros); err != nil {
			return 0, fmt.Errorf("pipeline %q: %w", desc.Name, err)
		}
	}

	desc.Macros = maps.Clone(desc.Macros)
	desc.VertexAttribs = append([]device.VertexAttr(nil), desc.VertexAttribs...)
	desc.VertexBuffers = append([]device.VertexBufferDesc(nil), desc.VertexBuffers...)
	_, h := d.pipelines.Add(desc)
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

// DeleteBuffer implements device.Device.
func (d *Device) DeleteBuffer(h device.BufferHandle) {
	b := contract.Lookup(d.buffers, h, "buffer")
	device.Checkf(!b.ephemeral, "DeleteBuffer on ephemeral buffer %v", h)
	d.buffers.Remove(pool.Handle(h), nil)
}

// DeleteTexture implements device.Device.
func (d *Device) DeleteTexture(h device.TextureHandle) {
	t := contract.Lookup(d.textures, h, "texture")
	device.Checkf(!t.owner.IsValid(), "DeleteTexture on a view owned by %v", t.owner)
	d.textures.Remove(pool.Handle(h), nil)
}

// DeleteRenderTarget implements device.Device. The views of the target are
// deleted with it.
func (d *Device) DeleteRenderTarget(h device.RenderTargetHandle) {
	contract.Lookup(d.renderTargets, h, "render target")
	d.renderTargets.Remove(pool.Handle(h), func(rt *renderTarget) {
		d.textures.Remove(pool.Handle(rt.view), nil)
		if rt.additionalView.IsValid() {
			d.textures.Remove(pool.Handle(rt.additionalView), nil)
		}
	})
}

// DeleteSampler implements device.Device.
func (d *Device) DeleteSampler(h device.SamplerHandle) {
	contract.Lookup(d.samplers, h, "sampler")
	d.samplers.Remove(pool.Handle(h), nil)
}

// DeleteDescriptorSetLayout implements device.Device.
func (d *Device) DeleteDescriptorSetLayout(h device.DSLayoutHandle) {
	contract.Lookup(d.dsLayouts, h, "descriptor set layout")
	d.dsLayouts.Remove(pool.Handle(h), nil)
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
	contract.Lookup(d.pipelines, h, "pipeline")
	d.pipelines.Remove(pool.Handle(h), nil)
}
