package null

import (
	"bytes"
	"errors"
	"testing"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/framegraph/device"
)

func mustViolate(t *testing.T, name string, fn func()) {
	t.Helper()
	defer func() {
		r := recover()
		if r == nil {
			t.Errorf("%s: expected contract violation", name)
			return
		}
		if _, ok := r.(*device.ContractViolation); !ok {
			t.Errorf("%s: panic value %T, want *device.ContractViolation", name, r)
		}
	}()
	fn()
}

func newDevice(t *testing.T, ringSize uint32, frames uint32, opts ...Option) *Device {
	t.Helper()
	desc := device.DefaultDesc()
	desc.RingBufferSize = ringSize
	desc.Swapchain.Frames = frames
	d, err := New(desc, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() {
		// Tests that stop mid-frame leave the device to the collector.
		if !d.state.InFrame() {
			_ = d.Close()
		}
	})
	return d
}

// scene is a single color pass rendering into a presentable target.
type scene struct {
	rt       device.RenderTargetHandle
	rp       device.RenderPassHandle
	fb       device.FramebufferHandle
	pipeline device.PipelineHandle
	layout   device.DSLayoutHandle
}

func newScene(t *testing.T, d *Device, scissor bool) scene {
	t.Helper()
	var s scene
	var err error
	s.rt, err = d.CreateRenderTarget(device.RenderTargetDesc{
		Width: 64, Height: 32, Format: gputypes.TextureFormatRGBA8Unorm, Name: "color",
	})
	if err != nil {
		t.Fatal(err)
	}

	var rp device.RenderPassDesc
	rp.Name = "main"
	rp.Colors[0] = device.ColorTargetDesc{
		Format:      gputypes.TextureFormatRGBA8Unorm,
		PassBegin:   device.PassBeginClear,
		FinalLayout: device.LayoutTransferSrc,
	}
	if s.rp, err = d.CreateRenderPass(rp); err != nil {
		t.Fatal(err)
	}

	fb := device.FramebufferDesc{RenderPass: s.rp, Name: "main"}
	fb.Colors[0] = s.rt
	if s.fb, err = d.CreateFramebuffer(fb); err != nil {
		t.Fatal(err)
	}

	if s.layout, err = d.CreateDescriptorSetLayout([]device.DescriptorType{device.DescriptorUniformBuffer}); err != nil {
		t.Fatal(err)
	}
	pd := device.PipelineDesc{
		VertexShaderName:   "triangle",
		FragmentShaderName: "triangle",
		RenderPass:         s.rp,
		VertexAttribs:      []device.VertexAttr{{Location: 0, Binding: 0, Format: gputypes.VertexFormatFloat32x2}},
		VertexBuffers:      []device.VertexBufferDesc{{Stride: 8}},
		ScissorTest:        scissor,
		Name:               "triangle",
	}
	pd.DescriptorSetLayouts[0] = s.layout
	if s.pipeline, err = d.CreatePipeline(pd); err != nil {
		t.Fatal(err)
	}
	return s
}

func beginFrame(t *testing.T, d *Device) {
	t.Helper()
	for i := 0; i < 1000; i++ {
		ok, err := d.BeginFrame()
		if err != nil {
			t.Fatalf("BeginFrame() error = %v", err)
		}
		if ok {
			return
		}
	}
	t.Fatal("BeginFrame() never succeeded")
}

func (s scene) draw(t *testing.T, d *Device) {
	t.Helper()
	vb, err := d.CreateEphemeralBuffer(device.BufferTypeVertex, make([]byte, 24))
	if err != nil {
		t.Fatal(err)
	}
	ub, err := d.CreateEphemeralBuffer(device.BufferTypeUniform, make([]byte, 64))
	if err != nil {
		t.Fatal(err)
	}
	d.BeginRenderPass(s.rp, s.fb)
	d.BindPipeline(s.pipeline)
	d.BindVertexBuffer(0, vb)
	d.BindDescriptorSet(0, s.layout, device.UniformBuffer{Buffer: ub})
	d.Draw(0, 3)
	d.EndRenderPass()
}

func TestFrameLoop(t *testing.T) {
	d := newDevice(t, 1<<16, 3)
	s := newScene(t, d, false)

	for i := 0; i < 10; i++ {
		beginFrame(t, d)
		s.draw(t, d)
		if got := d.RenderTargetLayout(s.rt); got != device.LayoutTransferSrc {
			t.Fatalf("layout after pass = %v, want TransferSrc", got)
		}
		if err := d.PresentFrame(s.rt); err != nil {
			t.Fatal(err)
		}
	}

	st := d.Stats()
	if st.FrameNum != 10 {
		t.Errorf("FrameNum = %d, want 10", st.FrameNum)
	}
	if st.DrawCalls != 10 {
		t.Errorf("DrawCalls = %d, want 10", st.DrawCalls)
	}
	if st.Pipelines != 1 || st.RenderTargets != 1 {
		t.Errorf("Stats resources = %+v", st)
	}
	if st.Backend != "null" {
		t.Errorf("Backend = %q", st.Backend)
	}
}

func TestBindFailureReportedAtPresent(t *testing.T) {
	d := newDevice(t, 1<<16, 2)
	s := newScene(t, d, false)

	beginFrame(t, d)
	d.SimulateBindFailure()
	s.draw(t, d)
	err := d.PresentFrame(s.rt)
	if !errors.Is(err, device.ErrDeviceLost) {
		t.Fatalf("PresentFrame() error = %v, want ErrDeviceLost", err)
	}
	st := d.Stats()
	if st.DrawCalls != 0 {
		t.Errorf("DrawCalls = %d after failed bind, want 0", st.DrawCalls)
	}
	if st.FrameNum != 1 {
		t.Errorf("FrameNum = %d, want the failed frame submitted", st.FrameNum)
	}

	beginFrame(t, d)
	s.draw(t, d)
	if err := d.PresentFrame(s.rt); err != nil {
		t.Fatalf("PresentFrame() after recovery error = %v", err)
	}
	if got := d.Stats().DrawCalls; got != 1 {
		t.Errorf("DrawCalls = %d, want 1", got)
	}
}

func TestFramesInFlightBounded(t *testing.T) {
	d := newDevice(t, 1<<16, 2, WithGPUDelay(3))
	s := newScene(t, d, false)

	for i := 0; i < 20; i++ {
		beginFrame(t, d)
		s.draw(t, d)
		if err := d.PresentFrame(s.rt); err != nil {
			t.Fatal(err)
		}
		if got := d.Stats().FramesInFlight; got > 2 {
			t.Fatalf("frame %d: FramesInFlight = %d, want <= 2", i, got)
		}
	}
	if d.Stats().FrameStalls == 0 {
		t.Error("FrameStalls = 0, want stalls with a slow GPU")
	}
	if err := d.WaitForDeviceIdle(nil); err != nil {
		t.Fatal(err)
	}
	if got := d.Stats().EphemeralBuffers; got != 0 {
		t.Errorf("EphemeralBuffers after idle = %d, want 0", got)
	}
}

func TestEphemeralRingWrapsAcrossFrames(t *testing.T) {
	d := newDevice(t, 1024, 2)
	s := newScene(t, d, false)

	beginFrame(t, d)
	first, err := d.CreateEphemeralBuffer(device.BufferTypeUniform, bytes.Repeat([]byte{1}, 600))
	if err != nil {
		t.Fatal(err)
	}
	if off := d.EphemeralOffset(first); off != 0 {
		t.Errorf("first offset = %d, want 0", off)
	}
	d.LayoutTransition(s.rt, device.LayoutUndefined, device.LayoutTransferSrc)
	if err := d.PresentFrame(s.rt); err != nil {
		t.Fatal(err)
	}

	beginFrame(t, d)
	second, err := d.CreateEphemeralBuffer(device.BufferTypeUniform, bytes.Repeat([]byte{2}, 600))
	if err != nil {
		t.Fatal(err)
	}
	if off := d.EphemeralOffset(second); off != 0 {
		t.Errorf("second offset = %d, want 0 after wrap", off)
	}
	if !bytes.Equal(d.EphemeralContents(second), bytes.Repeat([]byte{2}, 600)) {
		t.Error("second buffer contents differ")
	}
	if d.Stats().RingWaits != 1 {
		t.Errorf("RingWaits = %d, want 1", d.Stats().RingWaits)
	}
	// The first frame retired to make room; its buffer is gone.
	mustViolate(t, "stale ephemeral", func() { d.EphemeralOffset(first) })

	d.LayoutTransition(s.rt, device.LayoutUndefined, device.LayoutTransferSrc)
	if err := d.PresentFrame(s.rt); err != nil {
		t.Fatal(err)
	}
}

func TestEphemeralErrors(t *testing.T) {
	d := newDevice(t, 1024, 2)
	mustViolate(t, "ephemeral outside a frame", func() {
		d.CreateEphemeralBuffer(device.BufferTypeVertex, make([]byte, 16)) //nolint:errcheck // panics
	})

	beginFrame(t, d)
	if _, err := d.CreateEphemeralBuffer(device.BufferTypeVertex, make([]byte, 2048)); !errors.Is(err, device.ErrAllocationTooLarge) {
		t.Errorf("oversized allocation error = %v, want ErrAllocationTooLarge", err)
	}
	if _, err := d.CreateEphemeralBuffer(device.BufferTypeVertex, make([]byte, 600)); err != nil {
		t.Fatal(err)
	}
	if _, err := d.CreateEphemeralBuffer(device.BufferTypeVertex, make([]byte, 500)); !errors.Is(err, device.ErrRingBufferFull) {
		t.Errorf("overflow within a frame error = %v, want ErrRingBufferFull", err)
	}
}

func TestEphemeralAlignment(t *testing.T) {
	d := newDevice(t, 4096, 2)
	beginFrame(t, d)

	if _, err := d.CreateEphemeralBuffer(device.BufferTypeVertex, make([]byte, 10)); err != nil {
		t.Fatal(err)
	}
	ub, err := d.CreateEphemeralBuffer(device.BufferTypeUniform, make([]byte, 16))
	if err != nil {
		t.Fatal(err)
	}
	if off := d.EphemeralOffset(ub); off%uniformAlignment != 0 {
		t.Errorf("uniform offset %d not aligned to %d", off, uniformAlignment)
	}
	vb, err := d.CreateEphemeralBuffer(device.BufferTypeVertex, make([]byte, 4))
	if err != nil {
		t.Fatal(err)
	}
	if off := d.EphemeralOffset(vb); off != 272 {
		t.Errorf("vertex offset = %d, want 272", off)
	}
}

func TestStaleHandles(t *testing.T) {
	d := newDevice(t, 1024, 2)
	b, err := d.CreateBuffer(device.BufferTypeVertex, []byte{1, 2, 3, 4})
	if err != nil {
		t.Fatal(err)
	}
	d.DeleteBuffer(b)
	mustViolate(t, "double delete", func() { d.DeleteBuffer(b) })

	b2, err := d.CreateBuffer(device.BufferTypeVertex, []byte{1, 2, 3, 4})
	if err != nil {
		t.Fatal(err)
	}
	if b2 == b {
		t.Error("reused slot returned the stale handle value")
	}
	mustViolate(t, "zero handle", func() { d.DeleteTexture(0) })
}

func TestContractViolations(t *testing.T) {
	d := newDevice(t, 1<<16, 2)
	s := newScene(t, d, true)

	mustViolate(t, "render pass outside frame", func() { d.BeginRenderPass(s.rp, s.fb) })
	mustViolate(t, "present outside frame", func() { _ = d.PresentFrame(s.rt) })

	beginFrame(t, d)
	mustViolate(t, "begin frame twice", func() { _, _ = d.BeginFrame() })
	mustViolate(t, "resize ring in frame", func() { _ = d.ResizeRingBuffer(2048) })
	mustViolate(t, "draw outside pass", func() { d.Draw(0, 3) })
	mustViolate(t, "present in wrong layout", func() { _ = d.PresentFrame(s.rt) })

	// Recover into a consistent state by running the frame out.
	d.LayoutTransition(s.rt, device.LayoutUndefined, device.LayoutTransferSrc)
	if err := d.PresentFrame(s.rt); err != nil {
		t.Fatal(err)
	}

	beginFrame(t, d)
	d.BeginRenderPass(s.rp, s.fb)
	d.BindPipeline(s.pipeline)
	mustViolate(t, "draw without scissor", func() { d.Draw(0, 3) })
	d.SetScissorRect(0, 0, 8, 8)
	mustViolate(t, "indexed draw without index buffer", func() { d.DrawIndexedInstanced(3, 1) })
	mustViolate(t, "wrong descriptor type", func() {
		d.BindDescriptorSet(0, s.layout, device.Sampler{})
	})
	d.Draw(0, 3)
	d.BindPipeline(s.pipeline)
	mustViolate(t, "rebind without draw", func() { d.BindPipeline(s.pipeline) })
}

func TestLayoutTransitionRules(t *testing.T) {
	d := newDevice(t, 1024, 2)
	s := newScene(t, d, false)
	beginFrame(t, d)

	mustViolate(t, "to undefined", func() {
		d.LayoutTransition(s.rt, device.LayoutUndefined, device.LayoutUndefined)
	})
	d.LayoutTransition(s.rt, device.LayoutUndefined, device.LayoutShaderRead)
	mustViolate(t, "same layout", func() {
		d.LayoutTransition(s.rt, device.LayoutShaderRead, device.LayoutShaderRead)
	})
	mustViolate(t, "wrong source", func() {
		d.LayoutTransition(s.rt, device.LayoutColorAttachment, device.LayoutTransferSrc)
	})
	d.LayoutTransition(s.rt, device.LayoutShaderRead, device.LayoutTransferSrc)
	if got := d.RenderTargetLayout(s.rt); got != device.LayoutTransferSrc {
		t.Errorf("layout = %v, want TransferSrc", got)
	}
}

func TestBlitAndResolve(t *testing.T) {
	d := newDevice(t, 1024, 2)
	mk := func(name string, w, samples uint32) device.RenderTargetHandle {
		h, err := d.CreateRenderTarget(device.RenderTargetDesc{
			Width: w, Height: 16, Format: gputypes.TextureFormatRGBA8Unorm, NumSamples: samples, Name: name,
		})
		if err != nil {
			t.Fatal(err)
		}
		return h
	}
	src := mk("src", 16, 1)
	dst := mk("dst", 16, 1)
	msaa := mk("msaa", 16, 4)
	small := mk("small", 8, 1)

	beginFrame(t, d)
	d.LayoutTransition(src, device.LayoutUndefined, device.LayoutTransferSrc)
	mustViolate(t, "blit into undefined", func() { d.Blit(src, dst) })
	d.LayoutTransition(dst, device.LayoutUndefined, device.LayoutTransferDst)
	d.Blit(src, dst)
	mustViolate(t, "resolve single sampled", func() { d.ResolveMSAA(src, dst) })

	d.LayoutTransition(msaa, device.LayoutUndefined, device.LayoutTransferSrc)
	d.ResolveMSAA(msaa, dst)
	mustViolate(t, "blit multisampled", func() { d.Blit(msaa, dst) })

	d.LayoutTransition(small, device.LayoutUndefined, device.LayoutTransferDst)
	mustViolate(t, "blit size mismatch", func() { d.Blit(src, small) })
}

func TestSurfaceLossRecreatesSwapchain(t *testing.T) {
	d := newDevice(t, 1024, 2)
	s := newScene(t, d, false)

	d.SimulateSurfaceLoss()
	ok, err := d.BeginFrame()
	if err != nil || ok {
		t.Fatalf("BeginFrame() = %v, %v after surface loss, want false, nil", ok, err)
	}
	if !d.IsSwapchainDirty() {
		t.Fatal("IsSwapchainDirty() = false after surface loss")
	}

	beginFrame(t, d)
	if d.IsSwapchainDirty() {
		t.Error("swapchain still dirty after BeginFrame")
	}
	if got := d.Stats().SwapchainRecreations; got != 1 {
		t.Errorf("SwapchainRecreations = %d, want 1", got)
	}
	d.LayoutTransition(s.rt, device.LayoutUndefined, device.LayoutTransferSrc)
	if err := d.PresentFrame(s.rt); err != nil {
		t.Fatal(err)
	}
}

func TestSetSwapchainDesc(t *testing.T) {
	d := newDevice(t, 1024, 2)
	s := newScene(t, d, false)

	want := d.SwapchainDesc()
	d.SetSwapchainDesc(want)
	if d.IsSwapchainDirty() {
		t.Error("identical swapchain desc marked dirty")
	}

	want.Frames = 4
	want.Width, want.Height = 800, 600
	d.SetSwapchainDesc(want)
	if !d.IsSwapchainDirty() {
		t.Fatal("IsSwapchainDirty() = false after change")
	}
	if w, _ := d.DrawableSize(); w == 800 {
		t.Error("DrawableSize changed before BeginFrame")
	}

	beginFrame(t, d)
	if w, h := d.DrawableSize(); w != 800 || h != 600 {
		t.Errorf("DrawableSize() = %dx%d, want 800x600", w, h)
	}
	d.LayoutTransition(s.rt, device.LayoutUndefined, device.LayoutTransferSrc)
	if err := d.PresentFrame(s.rt); err != nil {
		t.Fatal(err)
	}
	if got := d.Stats().FrameSlots; got != 4 {
		t.Errorf("FrameSlots = %d, want 4", got)
	}
}

func TestBlockingWaitsPump(t *testing.T) {
	pumps := 0
	desc := device.DefaultDesc()
	desc.RingBufferSize = 1024
	desc.Swapchain.Frames = 2
	desc.Pump = func() { pumps++ }
	d, err := New(desc, WithGPUDelay(3))
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()
	s := newScene(t, d, false)

	present := func() {
		t.Helper()
		d.LayoutTransition(s.rt, device.LayoutUndefined, device.LayoutTransferSrc)
		if err := d.PresentFrame(s.rt); err != nil {
			t.Fatal(err)
		}
	}

	beginFrame(t, d)
	present()

	// The swapchain waits for the frame in flight, which completes on the
	// third poll.
	sc := d.SwapchainDesc()
	sc.Width, sc.Height = 800, 600
	d.SetSwapchainDesc(sc)
	beginFrame(t, d)
	if pumps != 2 {
		t.Errorf("pumps after swapchain resize = %d, want 2", pumps)
	}
	present()

	if err := d.ResizeRingBuffer(2048); err != nil {
		t.Fatal(err)
	}
	if pumps != 4 {
		t.Errorf("pumps after ring resize = %d, want 4", pumps)
	}
	if got := d.Stats().RingBufferSize; got != 2048 {
		t.Errorf("RingBufferSize = %d, want 2048", got)
	}
}

func TestFramebufferIncomplete(t *testing.T) {
	d := newDevice(t, 1024, 2)
	s := newScene(t, d, false)
	other, err := d.CreateRenderTarget(device.RenderTargetDesc{
		Width: 10, Height: 10, Format: gputypes.TextureFormatR8Unorm, Name: "other",
	})
	if err != nil {
		t.Fatal(err)
	}
	fb := device.FramebufferDesc{RenderPass: s.rp, Name: "bad"}
	fb.Colors[0] = other
	if _, err := d.CreateFramebuffer(fb); !errors.Is(err, device.ErrFramebufferIncomplete) {
		t.Errorf("CreateFramebuffer() error = %v, want ErrFramebufferIncomplete", err)
	}

	fb.Colors[0] = 0
	if _, err := d.CreateFramebuffer(fb); !errors.Is(err, device.ErrFramebufferIncomplete) {
		t.Errorf("CreateFramebuffer() unbound slot error = %v, want ErrFramebufferIncomplete", err)
	}
}

func TestRenderPassIncompatibleFramebuffer(t *testing.T) {
	d := newDevice(t, 1024, 2)
	s := newScene(t, d, false)

	var rp device.RenderPassDesc
	rp.Name = "r8"
	rp.Colors[0] = device.ColorTargetDesc{
		Format:      gputypes.TextureFormatR8Unorm,
		PassBegin:   device.PassBeginDontCare,
		FinalLayout: device.LayoutShaderRead,
	}
	r8, err := d.CreateRenderPass(rp)
	if err != nil {
		t.Fatal(err)
	}
	beginFrame(t, d)
	mustViolate(t, "incompatible framebuffer", func() { d.BeginRenderPass(r8, s.fb) })
}

func TestRenderTargetViews(t *testing.T) {
	d := newDevice(t, 1024, 2)
	rt, err := d.CreateRenderTarget(device.RenderTargetDesc{
		Width: 4, Height: 4,
		Format:               gputypes.TextureFormatRGBA8Unorm,
		AdditionalViewFormat: gputypes.TextureFormatRGBA8UnormSrgb,
		Name:                 "dual",
	})
	if err != nil {
		t.Fatal(err)
	}
	main := d.RenderTargetView(rt, gputypes.TextureFormatUndefined)
	if d.RenderTargetView(rt, gputypes.TextureFormatRGBA8Unorm) != main {
		t.Error("own format did not select the main view")
	}
	srgb := d.RenderTargetView(rt, gputypes.TextureFormatRGBA8UnormSrgb)
	if srgb == main || !srgb.IsValid() {
		t.Errorf("additional view = %v, main = %v", srgb, main)
	}
	mustViolate(t, "unknown view format", func() { d.RenderTargetView(rt, gputypes.TextureFormatR8Unorm) })
	mustViolate(t, "delete owned view", func() { d.DeleteTexture(main) })

	d.DeleteRenderTarget(rt)
	if got := d.textures.Len(); got != 0 {
		t.Errorf("textures after DeleteRenderTarget = %d, want 0", got)
	}
}

func TestResizeRingBuffer(t *testing.T) {
	d := newDevice(t, 1024, 2)
	s := newScene(t, d, false)

	beginFrame(t, d)
	if _, err := d.CreateEphemeralBuffer(device.BufferTypeVertex, make([]byte, 300)); err != nil {
		t.Fatal(err)
	}
	d.LayoutTransition(s.rt, device.LayoutUndefined, device.LayoutTransferSrc)
	if err := d.PresentFrame(s.rt); err != nil {
		t.Fatal(err)
	}

	if err := d.ResizeRingBuffer(1000); err == nil {
		t.Error("ResizeRingBuffer(1000) succeeded, want power of two error")
	}
	if err := d.ResizeRingBuffer(4096); err != nil {
		t.Fatal(err)
	}

	beginFrame(t, d)
	b, err := d.CreateEphemeralBuffer(device.BufferTypeVertex, make([]byte, 4000))
	if err != nil {
		t.Fatalf("allocation after resize: %v", err)
	}
	if off := d.EphemeralOffset(b); off != 0 {
		t.Errorf("offset after resize = %d, want 0", off)
	}
	if got := d.Stats().RingBufferSize; got != 4096 {
		t.Errorf("RingBufferSize = %d, want 4096", got)
	}
}

func TestClose(t *testing.T) {
	desc := device.DefaultDesc()
	d, err := New(desc, WithGPUDelay(2))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := d.CreateTexture(device.TextureDesc{
		Width: 2, Height: 2, Format: gputypes.TextureFormatRGBA8Unorm, Mips: [][]byte{make([]byte, 16)}, Name: "t",
	}); err != nil {
		t.Fatal(err)
	}
	if err := d.Close(); err != nil {
		t.Fatal(err)
	}
	if got := d.Stats().Textures; got != 0 {
		t.Errorf("Textures after Close = %d, want 0", got)
	}
	if err := d.WaitForDeviceIdle(nil); !errors.Is(err, device.ErrClosed) {
		t.Errorf("WaitForDeviceIdle() after Close = %v, want ErrClosed", err)
	}
	mustViolate(t, "create after close", func() { _, _ = d.CreateBuffer(device.BufferTypeIndex, []byte{0, 0}) })
}
