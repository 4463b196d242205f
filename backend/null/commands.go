package null

import (
	"fmt"

	"github.com/gogpu/framegraph/backend"
	"github.com/gogpu/framegraph/device"
	"github.com/gogpu/framegraph/internal/contract"
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
		return fmt.Errorf("null: resize ring buffer: %w", err)
	}
	d.frames.Rebase(d.ring.Cursor())
	// Ephemeral buffers of frames in flight keep aliasing the old storage.
	d.ringData = make([]byte, size)
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
	d.dirty = false
	d.surfaceLost = false
	d.recreations++
	d.publishStats()
	backend.Logger().Debug("null: swapchain recreated",
		"width", d.swapchain.Width, "height", d.swapchain.Height, "frames", d.swapchain.Frames)
	return nil
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
	if d.surfaceLost {
		d.dirty = true
		backend.Logger().Warn("null: surface out of date")
		return false, nil
	}
	d.state.BeginFrame()
	return true, nil
}

// PresentFrame implements device.Device.
func (d *Device) PresentFrame(rt device.RenderTargetHandle) error {
	d.checkOpen()
	device.Checkf(d.state.InFrame(), "PresentFrame outside a frame")
	r := contract.Lookup(d.renderTargets, rt, "render target")
	device.Checkf(r.layout == device.LayoutTransferSrc,
		"PresentFrame of %q in layout %v, want TransferSrc", r.desc.Name, r.layout)
	d.state.PresentFrame()

	d.frames.Present(d.gpu.submit(), d.ring.Cursor())
	d.publishStats()
	err := d.recordErr
	d.recordErr = nil
	return err
}

// BeginRenderPass implements device.Device.
func (d *Device) BeginRenderPass(rpHandle device.RenderPassHandle, fbHandle device.FramebufferHandle) {
	d.state.BeginRenderPass()
	rp := contract.Lookup(d.renderPasses, rpHandle, "render pass")
	fb := contract.Lookup(d.framebuffers, fbHandle, "framebuffer")
	device.Checkf(rp.AttachmentLayout() == fb.attachments,
		"render pass %q is not compatible with framebuffer %q", rp.Name, fb.desc.Name)

	for i := 0; i < rp.ColorCount(); i++ {
		rt := contract.Lookup(d.renderTargets, fb.desc.Colors[i], "render target")
		want := rp.Colors[i].InitialLayout
		device.Checkf(want == device.LayoutUndefined || rt.layout == want,
			"render pass %q color %d: %q is in %v, pass expects %v", rp.Name, i, rt.desc.Name, rt.layout, want)
		rt.layout = device.LayoutColorAttachment
	}
	d.currentPass = rpHandle
	d.currentFB = fbHandle
	d.currentPipeline = 0
	d.indexBound = false
}

// EndRenderPass implements device.Device.
func (d *Device) EndRenderPass() {
	d.state.EndRenderPass()
	rp := contract.Lookup(d.renderPasses, d.currentPass, "render pass")
	fb := contract.Lookup(d.framebuffers, d.currentFB, "framebuffer")
	for i := 0; i < rp.ColorCount(); i++ {
		rt := contract.Lookup(d.renderTargets, fb.desc.Colors[i], "render target")
		rt.layout = rp.Colors[i].FinalLayout
	}
	d.currentPass = 0
	d.currentFB = 0
	d.currentPipeline = 0
}

// LayoutTransition implements device.Device.
func (d *Device) LayoutTransition(h device.RenderTargetHandle, src, dst device.Layout) {
	d.state.OutsidePass("LayoutTransition")
	rt := contract.Lookup(d.renderTargets, h, "render target")
	checkTransition(rt.desc.Name, rt.layout, src, dst)
	rt.layout = dst
}

func checkTransition(name string, current, src, dst device.Layout) {
	device.Checkf(dst != device.LayoutUndefined, "transition of %q to Undefined", name)
	device.Checkf(src != dst, "transition of %q from %v to itself", name, src)
	device.Checkf(src == device.LayoutUndefined || current == src,
		"transition of %q from %v, but it is in %v", name, src, current)
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
	src, _ := d.copyTargets("Blit", srcHandle, dstHandle)
	device.Checkf(src.desc.Samples() == 1, "Blit source %q is multisampled", src.desc.Name)
}

// ResolveMSAA implements device.Device.
func (d *Device) ResolveMSAA(srcHandle, dstHandle device.RenderTargetHandle) {
	src, dst := d.copyTargets("ResolveMSAA", srcHandle, dstHandle)
	device.Checkf(src.desc.Samples() > 1, "ResolveMSAA source %q is not multisampled", src.desc.Name)
	device.Checkf(src.desc.Format == dst.desc.Format, "ResolveMSAA format mismatch %v to %v", src.desc.Format, dst.desc.Format)
}

// BindPipeline implements device.Device.
func (d *Device) BindPipeline(h device.PipelineHandle) {
	p := contract.Lookup(d.pipelines, h, "pipeline")
	d.state.BindPipeline(p.ScissorTest)
	rp := contract.Lookup(d.renderPasses, d.currentPass, "render pass")
	pipelinePass := contract.Lookup(d.renderPasses, p.RenderPass, "render pass")
	device.Checkf(rp.Compatible(pipelinePass), "pipeline %q is not compatible with render pass %q", p.Name, rp.Name)
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
func (d *Device) BindIndexBuffer(h device.BufferHandle, _ bool) {
	d.state.Bound("BindIndexBuffer")
	d.checkBufferBinding(h, device.BufferTypeIndex)
	d.indexBound = true
}

// BindVertexBuffer implements device.Device.
func (d *Device) BindVertexBuffer(binding uint32, h device.BufferHandle) {
	d.state.Bound("BindVertexBuffer")
	p := contract.Lookup(d.pipelines, d.currentPipeline, "pipeline")
	device.Checkf(int(binding) < len(p.VertexBuffers), "pipeline %q has no vertex buffer %d", p.Name, binding)
	d.checkBufferBinding(h, device.BufferTypeVertex)
}

// BindDescriptorSet implements device.Device.
func (d *Device) BindDescriptorSet(index uint32, layout device.DSLayoutHandle, descriptors ...device.Descriptor) {
	d.state.Bound("BindDescriptorSet")
	device.Checkf(index < device.MaxDescriptorSets, "descriptor set index %d", index)
	p := contract.Lookup(d.pipelines, d.currentPipeline, "pipeline")
	device.Checkf(p.DescriptorSetLayouts[index] == layout,
		"descriptor set %d layout %v does not match pipeline %q layout %v", index, layout, p.Name, p.DescriptorSetLayouts[index])
	types := contract.Lookup(d.dsLayouts, layout, "descriptor set layout")
	device.CheckDescriptors(*types, descriptors)

	for _, desc := range descriptors {
		switch v := desc.(type) {
		case device.UniformBuffer:
			d.checkBufferBinding(v.Buffer, device.BufferTypeUniform)
		case device.StorageBuffer:
			d.checkBufferBinding(v.Buffer, device.BufferTypeStorage)
		case device.Sampler:
			contract.Lookup(d.samplers, v.Sampler, "sampler")
		case device.Texture:
			contract.Lookup(d.textures, v.Texture, "texture")
		case device.CombinedSampler:
			contract.Lookup(d.textures, v.Texture, "texture")
			contract.Lookup(d.samplers, v.Sampler, "sampler")
		}
	}
	if d.failBind {
		d.failBind = false
		if d.recordErr == nil {
			d.recordErr = fmt.Errorf("%w: null: create bind group %d", device.ErrDeviceLost, index)
		}
	}
}

// SetViewport implements device.Device.
func (d *Device) SetViewport(_, _, width, height uint32) {
	d.state.SetViewport()
	device.Checkf(width > 0 && height > 0, "empty viewport")
}

// SetScissorRect implements device.Device.
func (d *Device) SetScissorRect(_, _, _, _ uint32) {
	d.state.SetScissorRect()
}

// Draw implements device.Device.
func (d *Device) Draw(_, vertexCount uint32) {
	d.state.Draw()
	device.Checkf(vertexCount > 0, "Draw of zero vertices")
	if d.recordErr != nil {
		return
	}
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
	d.drawCalls++
}

// DrawIndexedOffset implements device.Device.
func (d *Device) DrawIndexedOffset(indexCount, _, minIndex, maxIndex uint32) {
	d.state.Draw()
	device.Checkf(d.indexBound, "indexed draw without index buffer")
	device.Checkf(indexCount > 0, "indexed draw of zero indices")
	device.Checkf(minIndex <= maxIndex, "index range %d > %d", minIndex, maxIndex)
	if d.recordErr != nil {
		return
	}
	d.drawCalls++
}
