package native

import (
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/framegraph/device"
)

const vertexAlignment = 4

func isDepthFormat(f gputypes.TextureFormat) bool {
	switch f {
	case gputypes.TextureFormatStencil8,
		gputypes.TextureFormatDepth16Unorm,
		gputypes.TextureFormatDepth24Plus,
		gputypes.TextureFormatDepth24PlusStencil8,
		gputypes.TextureFormatDepth32Float,
		gputypes.TextureFormatDepth32FloatStencil8:
		return true
	}
	return false
}

func aspectOf(f gputypes.TextureFormat) gputypes.TextureAspect {
	if isDepthFormat(f) {
		return gputypes.TextureAspectDepthOnly
	}
	return gputypes.TextureAspectAll
}

// texelSize estimates the bytes per sample of a render target for memory
// accounting. Formats without a known size count as four bytes.
func texelSize(f gputypes.TextureFormat) uint64 {
	if bpp, ok := device.BytesPerPixel(f); ok {
		return uint64(bpp)
	}
	switch f {
	case gputypes.TextureFormatDepth32FloatStencil8:
		return 8
	case gputypes.TextureFormatDepth16Unorm:
		return 2
	case gputypes.TextureFormatStencil8:
		return 1
	}
	return 4
}

func filterOrNearest(f gputypes.FilterMode) gputypes.FilterMode {
	if f == gputypes.FilterModeUndefined {
		return gputypes.FilterModeNearest
	}
	return f
}

func renderTargetUsage(desc *device.RenderTargetDesc) gputypes.TextureUsage {
	usage := gputypes.TextureUsageRenderAttachment | gputypes.TextureUsageTextureBinding
	if desc.Samples() == 1 {
		usage |= gputypes.TextureUsageCopySrc | gputypes.TextureUsageCopyDst
	}
	return usage
}

func loadOp(b device.PassBegin) gputypes.LoadOp {
	switch b {
	case device.PassBeginKeep:
		return gputypes.LoadOpLoad
	default:
		return gputypes.LoadOpClear
	}
}

// bindGroupLayoutEntries expands descriptor types into HAL binding slots.
// A combined sampler occupies its texture slot and the sampler slot after it.
func bindGroupLayoutEntries(types []device.DescriptorType) []gputypes.BindGroupLayoutEntry {
	entries := make([]gputypes.BindGroupLayoutEntry, 0, len(types)+1)
	binding := uint32(0)
	for _, t := range types {
		e := gputypes.BindGroupLayoutEntry{Binding: binding, Visibility: gputypes.ShaderStagesVertexFragment}
		switch t {
		case device.DescriptorUniformBuffer:
			e.Buffer = &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform}
		case device.DescriptorStorageBuffer:
			e.Buffer = &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeReadOnlyStorage}
		case device.DescriptorSampler:
			e.Sampler = &gputypes.SamplerBindingLayout{Type: gputypes.SamplerBindingTypeFiltering}
		case device.DescriptorTexture, device.DescriptorCombinedSampler:
			e.Texture = &gputypes.TextureBindingLayout{
				SampleType:    gputypes.TextureSampleTypeFloat,
				ViewDimension: gputypes.TextureViewDimension2D,
			}
		}
		entries = append(entries, e)
		binding++
		if t == device.DescriptorCombinedSampler {
			entries = append(entries, gputypes.BindGroupLayoutEntry{
				Binding:    binding,
				Visibility: gputypes.ShaderStagesVertexFragment,
				Sampler:    &gputypes.SamplerBindingLayout{Type: gputypes.SamplerBindingTypeFiltering},
			})
			binding++
		}
	}
	return entries
}

// vertexLayouts groups attributes by the vertex buffer they read.
func vertexLayouts(desc *device.PipelineDesc) []gputypes.VertexBufferLayout {
	layouts := make([]gputypes.VertexBufferLayout, len(desc.VertexBuffers))
	for i, vb := range desc.VertexBuffers {
		layouts[i].ArrayStride = uint64(vb.Stride)
		layouts[i].StepMode = gputypes.VertexStepModeVertex
		if vb.Instance {
			layouts[i].StepMode = gputypes.VertexStepModeInstance
		}
	}
	for _, a := range desc.VertexAttribs {
		l := &layouts[a.Binding]
		l.Attributes = append(l.Attributes, gputypes.VertexAttribute{
			Format:         a.Format,
			Offset:         uint64(a.Offset),
			ShaderLocation: a.Location,
		})
	}
	return layouts
}

func colorTargets(rp *device.RenderPassDesc, desc *device.PipelineDesc) []gputypes.ColorTargetState {
	n := rp.ColorCount()
	targets := make([]gputypes.ColorTargetState, n)
	for i := range targets {
		targets[i] = gputypes.ColorTargetState{
			Format:    rp.Colors[i].Format,
			WriteMask: gputypes.ColorWriteMaskAll,
		}
		if desc.Blending {
			c := gputypes.BlendComponent{
				SrcFactor: desc.SourceBlend,
				DstFactor: desc.DestinationBlend,
				Operation: gputypes.BlendOperationAdd,
			}
			targets[i].Blend = &gputypes.BlendState{Color: c, Alpha: c}
		}
	}
	return targets
}

func depthStencilState(rp *device.RenderPassDesc, desc *device.PipelineDesc) *hal.DepthStencilState {
	if rp.DepthStencilFormat == gputypes.TextureFormatUndefined {
		return nil
	}
	compare := gputypes.CompareFunctionAlways
	if desc.DepthTest {
		compare = gputypes.CompareFunctionLess
	}
	return &hal.DepthStencilState{
		Format:            rp.DepthStencilFormat,
		DepthWriteEnabled: desc.DepthWrite,
		DepthCompare:      compare,
		StencilReadMask:   0xFFFFFFFF,
		StencilWriteMask:  0xFFFFFFFF,
	}
}

func primitiveState(desc *device.PipelineDesc) gputypes.PrimitiveState {
	p := gputypes.PrimitiveState{
		Topology:  gputypes.PrimitiveTopologyTriangleList,
		FrontFace: gputypes.FrontFaceCCW,
		CullMode:  gputypes.CullModeNone,
	}
	if desc.CullFaces {
		p.CullMode = gputypes.CullModeBack
	}
	return p
}

func textureBarrier(tex hal.Texture, format gputypes.TextureFormat, from, to device.Layout) hal.TextureBarrier {
	return hal.TextureBarrier{
		Texture: tex,
		Range:   hal.TextureRange{Aspect: aspectOf(format), MipLevelCount: 1, ArrayLayerCount: 1},
		Usage: hal.TextureUsageTransition{
			OldUsage: from.Usage(),
			NewUsage: to.Usage(),
		},
	}
}
