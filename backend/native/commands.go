package native

import (
	"errors"
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/framegraph/backend"
	"github.com/gogpu/framegraph/device"
	"github.com/gogpu/framegraph/internal/contract"
	"github.com/gogpu/framegraph/pool"
)

// SetSwapchainDesc implements device.Device.
func (d *Device) SetSwapchainDesc(desc device.SwapchainDesc) {
	device.Checkf(desc.Frames > 0, "swapchain with zero frames")
	if desc != d.wanted {
		d.wanted = desc
		d.dirty = desc != d.swapchain
	}
}

// SwapchainDesc implements device.Device.
func (d *Device) SwapchainDesc() device.SwapchainDesc { return d.swapchain }

// IsSwapchainDirty implements device.Device.
func (d *Device) IsSwapchainDirty() bool { return d.dirty }

// DrawableSize implements device.Device.
func (d *Device) DrawableSize() (width, height uint32) {
	return d.swapchain.Width, d.swapchain.Height
}

// ResizeRingBuffer implements device.Device.
func (d *Device) ResizeRingBuffer(size uint32) error {
	d.checkOpen()
	d.state.OutsideFrame("ResizeRingBuffer")
	if err := d.frames.WaitIdle(d.desc.IdleTimeout, d.desc.Pump); err != nil {
		return d.waitErr(err)
	}
	if err := d.ring.Resize(uint64(size)); err != nil {
		return fmt.Errorf("native: resize ring buffer: %w", err)
	}
	d.frames.Rebase(d.ring.Cursor())

	buf, err := d.createRingBuffer(size)
	if err != nil {
		_ = d.ring.Resize(uint64(d.desc.RingBufferSize))
		d.frames.Rebase(d.ring.Cursor())
		return err
	}
	d.dev.DestroyBuffer(d.ringBuf)
	d.memory.release(memoryRing, uint64(d.desc.RingBufferSize))
	d.ringBuf = buf
	d.desc.RingBufferSize = size
	d.publishStats()
	return nil
}

func (d *Device) recreateSwapchain() error {
	if err := d.frames.WaitIdle(d.desc.IdleTimeout, d.desc.Pump); err != nil {
		return d.waitErr(err)
	}
	if d.wanted.Frames != d.swapchain.Frames {
		d.frames.Resize(int(d.wanted.Frames))
	}
	d.swapchain = d.wanted
	if err := d.configureSurface(); err != nil {
		return err
	}
	d.dirty = false
	d.recreations++
	d.publishStats()
	backend.Logger().Debug("native: swapchain recreated",
		"width", d.swapchain.Width, "height", d.swapchain.Height, "frames", d.swapchain.Frames)
	return nil
}

func deviceErr(op string, err error) error {
	if errors.Is(err, hal.ErrDeviceLost) {
		return fmt.Errorf("%w: %s: %w", device.ErrDeviceLost, op, err)
	}
	return fmt.Errorf("native: %s: %w", op, err)
}

func surfaceOutdated(err error) bool {
	return errors.Is(err, hal.ErrSurfaceOutdated) || errors.Is(err, hal.ErrSurfaceLost)
}

// BeginFrame implements device.Device.
func (d *Device) BeginFrame() (bool, error) {
	d.checkOpen()
	device.Checkf(!d.state.InFrame(), "BeginFrame inside a frame")
	if d.dirty {
		if err := d.recreateSwapchain(); err != nil {
			return false, err
		}
	}
	if !d.frames.Begin() {
		return false, nil
	}

	if d.surface != nil {
		acquired, err := d.surface.AcquireTexture(nil)
		switch {
		case surfaceOutdated(err):
			d.dirty = true
			backend.Logger().Warn("native: surface out of date", "err", err)
			return false, nil
		case err != nil:
			return false, deviceErr("acquire surface texture", err)
		}
		if acquired.Suboptimal {
			d.dirty = true
		}
		d.surfaceTex = acquired
	}

	enc, err := d.dev.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "frame"})
	if err != nil {
		d.discardSurfaceTexture()
		return false, deviceErr("create command encoder", err)
	}
	if err := enc.BeginEncoding(fmt.Sprintf("frame %d", d.frames.FrameNum())); err != nil {
		enc.Destroy()
		d.discardSurfaceTexture()
		return false, deviceErr("begin encoding", err)
	}
	d.encoder = enc
	d.state.BeginFrame()
	return true, nil
}

func (d *Device) discardSurfaceTexture() {
	if d.surfaceTex != nil {
		d.surface.DiscardTexture(d.surfaceTex.Texture)
		d.surfaceTex = nil
	}
}

// PresentFrame implements device.Device. Without a surface the frame is
// submitted and rt is left for the caller to read back.
func (d *Device) PresentFrame(rt device.RenderTargetHandle) error {
	d.checkOpen()
	device.Checkf(d.state.InFrame(), "PresentFrame outside a frame")
	r := contract.Lookup(d.renderTargets, rt, "render target")
	device.Checkf(r.layout == device.LayoutTransferSrc,
		"PresentFrame of %q in layout %v, want TransferSrc", r.desc.Name, r.layout)
	d.state.PresentFrame()
	recordErr := d.recordErr
	d.recordErr = nil

	enc := d.encoder
	d.encoder = nil
	if d.surfaceTex != nil {
		surf := d.surfaceTex.Texture
		enc.TransitionTextures([]hal.TextureBarrier{{
			Texture: surf,
			Range:   hal.TextureRange{Aspect: gputypes.TextureAspectAll, MipLevelCount: 1, ArrayLayerCount: 1},
			Usage:   hal.TextureUsageTransition{NewUsage: gputypes.TextureUsageCopyDst},
		}})
		enc.CopyTextureToTexture(r.raw, surf, []hal.TextureCopy{{
			SrcBase: hal.ImageCopyTexture{Texture: r.raw, Aspect: gputypes.TextureAspectAll},
			DstBase: hal.ImageCopyTexture{Texture: surf, Aspect: gputypes.TextureAspectAll},
			Size: hal.Extent3D{
				Width:              min(r.desc.Width, d.swapchain.Width),
				Height:             min(r.desc.Height, d.swapchain.Height),
				DepthOrArrayLayers: 1,
			},
		}})
		enc.TransitionTextures([]hal.TextureBarrier{{
			Texture: surf,
			Range:   hal.TextureRange{Aspect: gputypes.TextureAspectAll, MipLevelCount: 1, ArrayLayerCount: 1},
			Usage: hal.TextureUsageTransition{
				OldUsage: gputypes.TextureUsageCopyDst,
				NewUsage: gputypes.TextureUsageRenderAttachment,
			},
		}})
	}

	cmd, err := enc.EndEncoding()
	if err != nil {
		enc.Destroy()
		d.discardSurfaceTexture()
		return errors.Join(recordErr, deviceErr("end encoding", err))
	}
	d.frames.Defer(func() {
		d.dev.FreeCommandBuffer(cmd)
		enc.Destroy()
	})
	token, err := d.queue.Submit([]hal.CommandBuffer{cmd})
	if err != nil {
		d.discardSurfaceTexture()
		return errors.Join(recordErr, deviceErr("submit", err))
	}
	d.frames.Present(token, d.ring.Cursor())

	var presentErr error
	if d.surfaceTex != nil {
		err := d.queue.Present(d.surface, d.surfaceTex.Texture, nil)
		d.surfaceTex = nil
		switch {
		case surfaceOutdated(err):
			d.dirty = true
			backend.Logger().Warn("native: present on out of date surface", "err", err)
		case err != nil:
			presentErr = deviceErr("present", err)
		}
	}
	d.publishStats()
	return errors.Join(recordErr, presentErr)
}

func (d *Device) rtTexture(h device.TextureHandle) hal.TextureView {
	return d.textures.Get(pool.Handle(h)).view
}

// BeginRenderPass implements device.Device.
func (d *Device) BeginRenderPass(rpHandle device.RenderPassHandle, fbHandle device.FramebufferHandle) {
	d.state.BeginRenderPass()
	rp := contract.Lookup(d.renderPasses, rpHandle, "render pass")
	fb := contract.Lookup(d.framebuffers, fbHandle, "framebuffer")
	device.Checkf(rp.AttachmentLayout() == fb.attachments,
		"render pass %q is not compatible with framebuffer %q", rp.Name, fb.desc.Name)

	desc := hal.RenderPassDescriptor{Label: rp.Name}
	var barriers []hal.TextureBarrier
	for i := 0; i < rp.ColorCount(); i++ {
		rt := contract.Lookup(d.renderTargets, fb.desc.Colors[i], "render target")
		c := &rp.Colors[i]
		device.Checkf(c.InitialLayout == device.LayoutUndefined || rt.layout == c.InitialLayout,
			"render pass %q color %d: %q is in %v, pass expects %v", rp.Name, i, rt.desc.Name, rt.layout, c.InitialLayout)
		from := rt.layout
		if c.PassBegin != device.PassBeginKeep {
			from = device.LayoutUndefined
		}
		if from != device.LayoutColorAttachment {
			barriers = append(barriers, textureBarrier(rt.raw, rt.desc.Format, from, device.LayoutColorAttachment))
		}
		rt.layout = device.LayoutColorAttachment
		desc.ColorAttachments = append(desc.ColorAttachments, hal.RenderPassColorAttachment{
			View:       d.rtTexture(rt.view),
			LoadOp:     loadOp(c.PassBegin),
			StoreOp:    gputypes.StoreOpStore,
			ClearValue: c.ClearValue,
		})
	}
	if fb.desc.DepthStencil.IsValid() {
		ds := contract.Lookup(d.renderTargets, fb.desc.DepthStencil, "render target")
		depthLoad := gputypes.LoadOpLoad
		if rp.ClearDepth {
			depthLoad = gputypes.LoadOpClear
		}
		desc.DepthStencilAttachment = &hal.RenderPassDepthStencilAttachment{
			View:            d.rtTexture(ds.view),
			DepthLoadOp:     depthLoad,
			DepthStoreOp:    gputypes.StoreOpStore,
			DepthClearValue: rp.DepthClearValue,
			StencilLoadOp:   gputypes.LoadOpClear,
			StencilStoreOp:  gputypes.StoreOpDiscard,
		}
	}
	if len(barriers) > 0 {
		d.encoder.TransitionTextures(barriers)
	}

	d.pass = d.encoder.BeginRenderPass(&desc)
	d.pass.SetViewport(0, 0, float32(fb.width), float32(fb.height), 0, 1)
	d.currentPass = rpHandle
	d.currentFB = fbHandle
	d.currentPipeline = 0
	d.indexBound = false
}

// EndRenderPass implements device.Device.
func (d *Device) EndRenderPass() {
	d.state.EndRenderPass()
	d.pass.End()
	d.pass = nil

	rp := contract.Lookup(d.renderPasses, d.currentPass, "render pass")
	fb := contract.Lookup(d.framebuffers, d.currentFB, "framebuffer")
	var barriers []hal.TextureBarrier
	for i := 0; i < rp.ColorCount(); i++ {
		rt := contract.Lookup(d.renderTargets, fb.desc.Colors[i], "render target")
		final := rp.Colors[i].FinalLayout
		if final != device.LayoutColorAttachment {
			barriers = append(barriers, textureBarrier(rt.raw, rt.desc.Format, device.LayoutColorAttachment, final))
		}
		rt.layout = final
	}
	if len(barriers) > 0 {
		d.encoder.TransitionTextures(barriers)
	}
	d.currentPass = 0
	d.currentFB = 0
	d.currentPipeline = 0
}

// LayoutTransition implements device.Device. A transition from Undefined
// discards the contents.
func (d *Device) LayoutTransition(h device.RenderTargetHandle, src, dst device.Layout) {
	d.state.OutsidePass("LayoutTransition")
	rt := contract.Lookup(d.renderTargets, h, "render target")
	device.Checkf(dst != device.LayoutUndefined, "transition of %q to Undefined", rt.desc.Name)
	device.Checkf(src != dst, "transition of %q from %v to itself", rt.desc.Name, src)
	device.Checkf(src == device.LayoutUndefined || rt.layout == src,
		"transition of %q from %v, but it is in %v", rt.desc.Name, src, rt.layout)
	d.encoder.TransitionTextures([]hal.TextureBarrier{textureBarrier(rt.raw, rt.desc.Format, src, dst)})
	rt.layout = dst
}

func (d *Device) copyTargets(op string, srcHandle, dstHandle device.RenderTargetHandle) (src, dst *renderTarget) {
	d.state.OutsidePass(op)
	src = contract.Lookup(d.renderTargets, srcHandle, "render target")
	dst = contract.Lookup(d.renderTargets, dstHandle, "render target")
	device.Checkf(src.layout == device.LayoutTransferSrc, "%s source %q is in %v", op, src.desc.Name, src.layout)
	device.Checkf(dst.layout == device.LayoutTransferDst, "%s destination %q is in %v", op, dst.desc.Name, dst.layout)
	device.Checkf(src.desc.Width == dst.desc.Width && src.desc.Height == dst.desc.Height,
		"%s size mismatch: %dx%d to %dx%d", op, src.desc.Width, src.desc.Height, dst.desc.Width, dst.desc.Height)
	device.Checkf(dst.desc.Samples() == 1, "%s destination %q is multisampled", op, dst.desc.Name)
	return src, dst
}

// Blit implements device.Device.
func (d *Device) Blit(srcHandle, dstHandle device.RenderTargetHandle) {
	src, dst := d.copyTargets("Blit", srcHandle, dstHandle)
	device.Checkf(src.desc.Samples() == 1, "Blit source %q is multisampled", src.desc.Name)
	aspect := aspectOf(src.desc.Format)
	d.encoder.CopyTextureToTexture(src.raw, dst.raw, []hal.TextureCopy{{
		SrcBase: hal.ImageCopyTexture{Texture: src.raw, Aspect: aspect},
		DstBase: hal.ImageCopyTexture{Texture: dst.raw, Aspect: aspect},
		Size:    hal.Extent3D{Width: src.desc.Width, Height: src.desc.Height, DepthOrArrayLayers: 1},
	}})
}

// ResolveMSAA implements device.Device. HAL resolves only at the end of a
// render pass, so the resolve is an empty pass loading src and resolving it
// into dst; both return to their transfer layouts afterwards.
func (d *Device) ResolveMSAA(srcHandle, dstHandle device.RenderTargetHandle) {
	src, dst := d.copyTargets("ResolveMSAA", srcHandle, dstHandle)
	device.Checkf(src.desc.Samples() > 1, "ResolveMSAA source %q is not multisampled", src.desc.Name)
	device.Checkf(src.desc.Format == dst.desc.Format, "ResolveMSAA format mismatch %v to %v", src.desc.Format, dst.desc.Format)

	d.encoder.TransitionTextures([]hal.TextureBarrier{
		textureBarrier(src.raw, src.desc.Format, device.LayoutTransferSrc, device.LayoutColorAttachment),
		textureBarrier(dst.raw, dst.desc.Format, device.LayoutTransferDst, device.LayoutColorAttachment),
	})
	pass := d.encoder.BeginRenderPass(&hal.RenderPassDescriptor{
		Label: "resolve " + src.desc.Name,
		ColorAttachments: []hal.RenderPassColorAttachment{{
			View:          d.rtTexture(src.view),
			ResolveTarget: d.rtTexture(dst.view),
			LoadOp:        gputypes.LoadOpLoad,
			StoreOp:       gputypes.StoreOpStore,
		}},
	})
	pass.End()
	d.encoder.TransitionTextures([]hal.TextureBarrier{
		textureBarrier(src.raw, src.desc.Format, device.LayoutColorAttachment, device.LayoutTransferSrc),
		textureBarrier(dst.raw, dst.desc.Format, device.LayoutColorAttachment, device.LayoutTransferDst),
	})
}

// BindPipeline implements device.Device. Pipelines without scissor test
// get a scissor covering the framebuffer.
func (d *Device) BindPipeline(h device.PipelineHandle) {
	p := contract.Lookup(d.pipelines, h, "pipeline")
	d.state.BindPipeline(p.desc.ScissorTest)
	rp := contract.Lookup(d.renderPasses, d.currentPass, "render pass")
	pipelinePass := contract.Lookup(d.renderPasses, p.desc.RenderPass, "render pass")
	device.Checkf(rp.Compatible(pipelinePass), "pipeline %q is not compatible with render pass %q", p.desc.Name, rp.Name)

	d.pass.SetPipeline(p.raw)
	if !p.desc.ScissorTest {
		fb := contract.Lookup(d.framebuffers, d.currentFB, "framebuffer")
		d.pass.SetScissorRect(0, 0, fb.width, fb.height)
	}
	d.currentPipeline = h
}

func (d *Device) checkBufferBinding(h device.BufferHandle, want device.BufferType) *buffer {
	b := contract.Lookup(d.buffers, h, "buffer")
	device.Checkf(b.typ.Allows(want), "buffer %v of type %v bound as %v", h, b.typ, want)
	if b.ephemeral {
		device.Checkf(uint64(b.offset)+uint64(b.size) <= d.ring.Size(), "ephemeral buffer %v exceeds ring buffer", h)
	}
	return b
}

// BindIndexBuffer implements device.Device.
func (d *Device) BindIndexBuffer(h device.BufferHandle, bit16 bool) {
	d.state.Bound("BindIndexBuffer")
	b := d.checkBufferBinding(h, device.BufferTypeIndex)
	format := gputypes.IndexFormatUint32
	if bit16 {
		format = gputypes.IndexFormatUint16
	}
	d.pass.SetIndexBuffer(b.raw, format, uint64(b.offset))
	d.indexBound = true
}

// BindVertexBuffer implements device.Device.
func (d *Device) BindVertexBuffer(binding uint32, h device.BufferHandle) {
	d.state.Bound("BindVertexBuffer")
	p := contract.Lookup(d.pipelines, d.currentPipeline, "pipeline")
	device.Checkf(int(binding) < len(p.desc.VertexBuffers), "pipeline %q has no vertex buffer %d", p.desc.Name, binding)
	b := d.checkBufferBinding(h, device.BufferTypeVertex)
	d.pass.SetVertexBuffer(binding, b.raw, uint64(b.offset))
}

// BindDescriptorSet implements device.Device. The bind group lives until
// the frame that recorded it retires.
func (d *Device) BindDescriptorSet(index uint32, layout device.DSLayoutHandle, descriptors ...device.Descriptor) {
	d.state.Bound("BindDescriptorSet")
	device.Checkf(index < device.MaxDescriptorSets, "descriptor set index %d", index)
	p := contract.Lookup(d.pipelines, d.currentPipeline, "pipeline")
	device.Checkf(p.desc.DescriptorSetLayouts[index] == layout,
		"descriptor set %d layout %v does not match pipeline %q layout %v",
		index, layout, p.desc.Name, p.desc.DescriptorSetLayouts[index])
	l := contract.Lookup(d.dsLayouts, layout, "descriptor set layout")
	device.CheckDescriptors(l.types, descriptors)

	entries := make([]gputypes.BindGroupEntry, 0, len(descriptors)+1)
	binding := uint32(0)
	add := func(r gputypes.BindingResource) {
		entries = append(entries, gputypes.BindGroupEntry{Binding: binding, Resource: r})
		binding++
	}
	bufferBinding := func(b *buffer) gputypes.BufferBinding {
		return gputypes.BufferBinding{Buffer: b.raw.NativeHandle(), Offset: uint64(b.offset), Size: uint64(b.size)}
	}
	textureBinding := func(h device.TextureHandle) gputypes.TextureViewBinding {
		t := contract.Lookup(d.textures, h, "texture")
		return gputypes.TextureViewBinding{TextureView: t.view.NativeHandle()}
	}
	samplerBinding := func(h device.SamplerHandle) gputypes.SamplerBinding {
		s := contract.Lookup(d.samplers, h, "sampler")
		return gputypes.SamplerBinding{Sampler: s.raw.NativeHandle()}
	}
	for _, desc := range descriptors {
		switch v := desc.(type) {
		case device.UniformBuffer:
			add(bufferBinding(d.checkBufferBinding(v.Buffer, device.BufferTypeUniform)))
		case device.StorageBuffer:
			add(bufferBinding(d.checkBufferBinding(v.Buffer, device.BufferTypeStorage)))
		case device.Sampler:
			add(samplerBinding(v.Sampler))
		case device.Texture:
			add(textureBinding(v.Texture))
		case device.CombinedSampler:
			add(textureBinding(v.Texture))
			add(samplerBinding(v.Sampler))
		}
	}

	group, err := d.dev.CreateBindGroup(&hal.BindGroupDescriptor{Layout: l.raw, Entries: entries})
	if err != nil {
		// Validation above covers every caller error; what remains is the
		// device failing. The frame still submits so its slot retires.
		backend.Logger().Error("native: create bind group", "set", index, "err", err)
		d.recordFailed(deviceErr(fmt.Sprintf("create bind group %d", index), err))
		return
	}
	d.pass.SetBindGroup(index, group, nil)
	d.frames.Defer(func() { d.dev.DestroyBindGroup(group) })
}

func (d *Device) recordFailed(err error) {
	if d.recordErr == nil {
		d.recordErr = err
	}
}

// SetViewport implements device.Device.
func (d *Device) SetViewport(x, y, width, height uint32) {
	d.state.SetViewport()
	device.Checkf(width > 0 && height > 0, "empty viewport")
	d.pass.SetViewport(float32(x), float32(y), float32(width), float32(height), 0, 1)
}

// SetScissorRect implements device.Device.
func (d *Device) SetScissorRect(x, y, width, height uint32) {
	d.state.SetScissorRect()
	d.pass.SetScissorRect(x, y, width, height)
}

// Draw implements device.Device.
func (d *Device) Draw(firstVertex, vertexCount uint32) {
	d.state.Draw()
	device.Checkf(vertexCount > 0, "Draw of zero vertices")
	if d.recordErr != nil {
		return
	}
	d.pass.Draw(vertexCount, 1, firstVertex, 0)
	d.drawCalls++
}

// DrawIndexedInstanced implements device.Device.
func (d *Device) DrawIndexedInstanced(indexCount, instanceCount uint32) {
	d.state.Draw()
	device.Checkf(d.indexBound, "indexed draw without index buffer")
	device.Checkf(indexCount > 0 && instanceCount > 0, "indexed draw of zero indices or instances")
	if d.recordErr != nil {
		return
	}
	d.pass.DrawIndexed(indexCount, instanceCount, 0, 0, 0)
	d.drawCalls++
}

// DrawIndexedOffset implements device.Device. minIndex and maxIndex are
// range hints HAL does not take.
func (d *Device) DrawIndexedOffset(indexCount, firstIndex, minIndex, maxIndex uint32) {
	d.state.Draw()
	device.Checkf(d.indexBound, "indexed draw without index buffer")
	device.Checkf(indexCount > 0, "indexed draw of zero indices")
	device.Checkf(minIndex <= maxIndex, "index range %d > %d", minIndex, maxIndex)
	if d.recordErr != nil {
		return
	}
	d.pass.DrawIndexed(indexCount, 1, firstIndex, 0, 0)
	d.drawCalls++
}
