package device

import (
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/gogpu/gputypes"
)

func mustViolate(t *testing.T, name string, fn func()) {
	t.Helper()
	defer func() {
		r := recover()
		if r == nil {
			t.Errorf("%s: expected contract violation", name)
			return
		}
		if _, ok := r.(*ContractViolation); !ok {
			t.Errorf("%s: panic value %T, want *ContractViolation", name, r)
		}
	}()
	fn()
}

func colorPass(begin PassBegin, initial Layout) RenderPassDesc {
	var rp RenderPassDesc
	rp.Name = "test"
	rp.Colors[0] = ColorTargetDesc{
		Format:        gputypes.TextureFormatRGBA8UnormSrgb,
		PassBegin:     begin,
		InitialLayout: initial,
		FinalLayout:   LayoutTransferSrc,
	}
	return rp
}

func TestRenderPassValidate(t *testing.T) {
	tests := []struct {
		name    string
		begin   PassBegin
		initial Layout
		ok      bool
	}{
		{"clear from undefined", PassBeginClear, LayoutUndefined, true},
		{"dontcare from undefined", PassBeginDontCare, LayoutUndefined, true},
		{"keep from attachment", PassBeginKeep, LayoutColorAttachment, true},
		{"clear from attachment", PassBeginClear, LayoutColorAttachment, false},
		{"keep from undefined", PassBeginKeep, LayoutUndefined, false},
	}
	for _, tt := range tests {
		rp := colorPass(tt.begin, tt.initial)
		if tt.ok {
			rp.Validate()
		} else {
			mustViolate(t, tt.name, rp.Validate)
		}
	}
}

func TestRenderPassValidateFinalLayout(t *testing.T) {
	rp := colorPass(PassBeginClear, LayoutUndefined)
	rp.Colors[0].FinalLayout = LayoutTransferDst
	mustViolate(t, "TransferDst final", rp.Validate)

	rp = colorPass(PassBeginClear, LayoutUndefined)
	rp.Colors[2].Format = gputypes.TextureFormatRGBA8Unorm
	mustViolate(t, "sparse slots", rp.Validate)
}

func TestRenderPassCompatible(t *testing.T) {
	a := colorPass(PassBeginClear, LayoutUndefined)
	b := colorPass(PassBeginKeep, LayoutColorAttachment)
	b.Colors[0].FinalLayout = LayoutShaderRead
	b.Name = "other"
	if !a.Compatible(&b) {
		t.Error("passes differing only in load behavior and layouts must be compatible")
	}

	c := a
	c.NumSamples = 4
	if a.Compatible(&c) {
		t.Error("sample count mismatch reported compatible")
	}
	d := a
	d.DepthStencilFormat = gputypes.TextureFormatDepth24Plus
	if a.Compatible(&d) {
		t.Error("depth format mismatch reported compatible")
	}
	e := a
	e.NumSamples = 1
	if !a.Compatible(&e) {
		t.Error("zero and one samples must be equivalent")
	}
}

func TestCheckFramebuffer(t *testing.T) {
	rp := colorPass(PassBeginClear, LayoutUndefined)
	rp.DepthStencilFormat = gputypes.TextureFormatDepth24Plus

	color0 := RenderTargetDesc{Width: 256, Height: 256, Format: gputypes.TextureFormatRGBA8UnormSrgb}
	depth := RenderTargetDesc{Width: 256, Height: 256, Format: gputypes.TextureFormatDepth24Plus}

	if err := CheckFramebuffer(&rp, "ok", []RenderTargetDesc{color0}, &depth); err != nil {
		t.Fatalf("CheckFramebuffer() error = %v", err)
	}

	small := depth
	small.Width = 128
	wrongFormat := color0
	wrongFormat.Format = gputypes.TextureFormatBGRA8Unorm
	msaa := color0
	msaa.NumSamples = 4

	tests := []struct {
		name   string
		colors []RenderTargetDesc
		depth  *RenderTargetDesc
	}{
		{"size mismatch", []RenderTargetDesc{color0}, &small},
		{"format mismatch", []RenderTargetDesc{wrongFormat}, &depth},
		{"samples mismatch", []RenderTargetDesc{msaa}, &depth},
		{"missing depth", []RenderTargetDesc{color0}, nil},
		{"missing color", nil, &depth},
	}
	for _, tt := range tests {
		err := CheckFramebuffer(&rp, tt.name, tt.colors, tt.depth)
		if !errors.Is(err, ErrFramebufferIncomplete) {
			t.Errorf("%s: error = %v, want ErrFramebufferIncomplete", tt.name, err)
		}
	}
}

func TestPipelineDescEqualAndHash(t *testing.T) {
	base := PipelineDesc{
		VertexShaderName:   "blit",
		FragmentShaderName: "blit",
		Macros:             ShaderMacros{"QUALITY": "2", "EDGE": "luma"},
		RenderPass:         RenderPassHandle(7),
		VertexAttribs:      []VertexAttr{{Location: 0, Format: gputypes.VertexFormatFloat32x2}},
		VertexBuffers:      []VertexBufferDesc{{Stride: 8}},
		Name:               "a",
	}
	same := base
	same.Name = "b"
	same.Macros = ShaderMacros{"EDGE": "luma", "QUALITY": "2"}
	same.VertexAttribs = append([]VertexAttr(nil), base.VertexAttribs...)
	same.NumSamples = 1

	if !base.Equal(&same) {
		t.Fatal("Equal() = false for descriptors differing only in name and map order")
	}
	if base.Hash() != same.Hash() {
		t.Error("equal descriptors hash differently")
	}

	changes := map[string]func(d *PipelineDesc){
		"macro":   func(d *PipelineDesc) { d.Macros = ShaderMacros{"QUALITY": "3", "EDGE": "luma"} },
		"pass":    func(d *PipelineDesc) { d.RenderPass = RenderPassHandle(8) },
		"blend":   func(d *PipelineDesc) { d.Blending = true },
		"scissor": func(d *PipelineDesc) { d.ScissorTest = true },
		"stride":  func(d *PipelineDesc) { d.VertexBuffers = []VertexBufferDesc{{Stride: 16}} },
		"layout":  func(d *PipelineDesc) { d.DescriptorSetLayouts[1] = DSLayoutHandle(3) },
	}
	for name, change := range changes {
		d := base
		d.DescriptorSetLayouts = base.DescriptorSetLayouts
		change(&d)
		if base.Equal(&d) {
			t.Errorf("%s change: Equal() = true", name)
		}
	}
}

func TestShaderMacrosKey(t *testing.T) {
	if got := (ShaderMacros{}).Key(); got != "" {
		t.Errorf("empty Key() = %q", got)
	}
	got := ShaderMacros{"B": "1", "A": "x"}.Key()
	if got != "A=x;B=1" {
		t.Errorf("Key() = %q, want %q", got, "A=x;B=1")
	}
}

func TestCheckDescriptors(t *testing.T) {
	layout := []DescriptorType{DescriptorUniformBuffer, DescriptorCombinedSampler}
	CheckDescriptors(layout, []Descriptor{
		UniformBuffer{Buffer: BufferHandle(1)},
		CombinedSampler{Texture: TextureHandle(1), Sampler: SamplerHandle(1)},
	})
	mustViolate(t, "type mismatch", func() {
		CheckDescriptors(layout, []Descriptor{UniformBuffer{}, Texture{}})
	})
	mustViolate(t, "count mismatch", func() {
		CheckDescriptors(layout, []Descriptor{UniformBuffer{}})
	})
}

func TestTextureDescFromImage(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 8, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, color.NRGBA{R: 255, A: 255})
		}
	}

	desc := TextureDescFromImage(img, "red", true)
	if desc.Width != 8 || desc.Height != 4 {
		t.Fatalf("size = %dx%d, want 8x4", desc.Width, desc.Height)
	}
	// 8x4, 4x2, 2x1, 1x1
	if desc.MipLevels() != 4 {
		t.Fatalf("MipLevels() = %d, want 4", desc.MipLevels())
	}
	for level, pix := range desc.Mips {
		w, h := MipSize(desc.Width, desc.Height, uint32(level))
		if len(pix) != int(w*h*4) {
			t.Errorf("mip %d has %d bytes, want %d", level, len(pix), w*h*4)
		}
	}
	last := desc.Mips[3]
	if last[0] < 250 || last[1] > 5 || last[3] < 250 {
		t.Errorf("1x1 mip = %v, want opaque red", last[:4])
	}

	flat := TextureDescFromImage(img, "red", false)
	if flat.MipLevels() != 1 {
		t.Errorf("MipLevels() without mips = %d, want 1", flat.MipLevels())
	}
}

func TestLayoutStrings(t *testing.T) {
	tests := []struct {
		l    Layout
		want string
	}{
		{LayoutUndefined, "Undefined"},
		{LayoutTransferSrc, "TransferSrc"},
		{LayoutColorAttachment, "ColorAttachment"},
		{Layout(42), "Layout(42)"},
	}
	for _, tt := range tests {
		if got := tt.l.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
	if _, err := ParseVSync("sometimes"); err == nil {
		t.Error("ParseVSync accepted an unknown mode")
	}
}
