package main

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/framegraph/device"
	"github.com/gogpu/framegraph/graph"
	"github.com/gogpu/framegraph/shader"
)

const msaaSamples = 4

// postMacros selects the post-processing variant.
var postMacros = device.ShaderMacros{"VIGNETTE": "0.8", "TONEMAP": ""}

// variants lists every shader compilation the demo needs, for warmup.
func variants() []shader.Variant {
	return []shader.Variant{
		{Name: "scene", Stage: device.StageVertex},
		{Name: "scene", Stage: device.StageFragment},
		{Name: "post", Stage: device.StageVertex, Macros: postMacros},
		{Name: "post", Stage: device.StageFragment, Macros: postMacros},
	}
}

// demo holds the resources the passes bind besides the graph's targets.
type demo struct {
	dev      device.Device
	sampler  device.SamplerHandle
	layout   device.DSLayoutHandle
	g        *graph.Graph
	exposure float32
	time     float32
}

var postLayout = []device.DescriptorType{device.DescriptorCombinedSampler, device.DescriptorUniformBuffer}

func newDemo(dev device.Device, width, height uint32) (*demo, error) {
	d := &demo{dev: dev, exposure: 1.2}
	var err error
	d.sampler, err = dev.CreateSampler(device.SamplerDesc{
		Min:  gputypes.FilterModeLinear,
		Mag:  gputypes.FilterModeLinear,
		Wrap: gputypes.AddressModeClampToEdge,
		Name: "post",
	})
	if err != nil {
		return nil, fmt.Errorf("sampler: %w", err)
	}
	d.layout, err = dev.CreateDescriptorSetLayout(postLayout)
	if err != nil {
		dev.DeleteSampler(d.sampler)
		return nil, fmt.Errorf("descriptor set layout: %w", err)
	}
	d.g = graph.New(dev)
	if err := d.build(width, height); err != nil {
		d.close()
		return nil, err
	}
	return d, nil
}

// build declares scene (MSAA) -> resolve -> post -> present.
func (d *demo) build(width, height uint32) error {
	if err := d.g.Reset(nil); err != nil {
		return err
	}
	black := gputypes.Color{A: 1}
	d.g.RenderTarget("msaa", device.RenderTargetDesc{
		Width: width, Height: height, Format: gputypes.TextureFormatRGBA16Float,
		NumSamples: msaaSamples, Name: "msaa",
	})
	d.g.RenderTarget("hdr", device.RenderTargetDesc{
		Width: width, Height: height, Format: gputypes.TextureFormatRGBA16Float, Name: "hdr",
	})
	d.g.RenderTarget("final", device.RenderTargetDesc{
		Width: width, Height: height, Format: gputypes.TextureFormatBGRA8Unorm, Name: "final",
	})

	d.g.RenderPass("scene", graph.PassDesc{NumSamples: msaaSamples, Name: "scene"}.
		Color("msaa", device.PassBeginClear, black), d.scene)
	d.g.ResolveMSAA("msaa", "hdr")
	d.g.RenderPass("post", graph.PassDesc{Name: "post"}.
		Color("final", device.PassBeginDontCare, black).Input("hdr"), d.post)
	d.g.PresentRenderTarget("final")
	return d.g.Build()
}

// triangle returns the interleaved position/color vertices of a triangle
// rotated by angle.
func triangle(angle float32) []byte {
	colors := [3][3]float32{{1, 0.2, 0.2}, {0.2, 1, 0.2}, {0.2, 0.2, 1}}
	buf := make([]byte, 0, 3*5*4)
	for i := range 3 {
		a := float64(angle) + float64(i)*2*math.Pi/3
		v := [5]float32{float32(0.8 * math.Cos(a)), float32(0.8 * math.Sin(a)), colors[i][0], colors[i][1], colors[i][2]}
		for _, f := range v {
			buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(f))
		}
	}
	return buf
}

func (d *demo) scene(ctx *graph.PassContext) {
	p, err := ctx.Pipeline(device.PipelineDesc{
		VertexShaderName:   "scene",
		FragmentShaderName: "scene",
		VertexAttribs: []device.VertexAttr{
			{Location: 0, Format: gputypes.VertexFormatFloat32x2},
			{Location: 1, Format: gputypes.VertexFormatFloat32x3, Offset: 8},
		},
		VertexBuffers: []device.VertexBufferDesc{{Stride: 20}},
		Name:          "scene",
	})
	if err != nil {
		logger().Error("scene pipeline", "err", err)
		return
	}
	vb, err := ctx.Device.CreateEphemeralBuffer(device.BufferTypeVertex, triangle(d.time))
	if err != nil {
		logger().Error("scene vertices", "err", err)
		return
	}
	ctx.Device.BindPipeline(p)
	ctx.Device.BindVertexBuffer(0, vb)
	ctx.Device.Draw(0, 3)
}

func (d *demo) post(ctx *graph.PassContext) {
	p, err := ctx.Pipeline(device.PipelineDesc{
		VertexShaderName:     "post",
		FragmentShaderName:   "post",
		Macros:               postMacros,
		DescriptorSetLayouts: [device.MaxDescriptorSets]device.DSLayoutHandle{d.layout},
		Name:                 "post",
	})
	if err != nil {
		logger().Error("post pipeline", "err", err)
		return
	}
	params := make([]byte, 0, 16)
	for _, f := range [4]float32{d.exposure, d.time, 0, 0} {
		params = binary.LittleEndian.AppendUint32(params, math.Float32bits(f))
	}
	ub, err := ctx.Device.CreateEphemeralBuffer(device.BufferTypeUniform, params)
	if err != nil {
		logger().Error("post uniforms", "err", err)
		return
	}
	ctx.Device.BindPipeline(p)
	ctx.Device.BindDescriptorSet(0, d.layout,
		device.CombinedSampler{Texture: ctx.Resources.View("hdr"), Sampler: d.sampler},
		device.UniformBuffer{Buffer: ub})
	ctx.Device.Draw(0, 3)
}

// close releases the graph and the demo's own resources. Outside a frame.
func (d *demo) close() {
	if d.g != nil {
		if err := d.g.Reset(nil); err != nil {
			logger().Warn("graph reset", "err", err)
		}
	}
	d.dev.DeleteDescriptorSetLayout(d.layout)
	d.dev.DeleteSampler(d.sampler)
}
