package graph

import (
	"fmt"
	"maps"
	"slices"

	"github.com/gogpu/framegraph/device"
)

// CreatePipeline returns a pipeline for pass id, creating it only when no
// equal descriptor was created before. Pipelines are keyed by the first
// declared pass with the same attachment formats and sample count, so
// compatible passes share them.
func (g *Graph) CreatePipeline(id PassID, desc device.PipelineDesc) (device.PipelineHandle, error) {
	if g.state != StateReady && g.state != StateRendering {
		return 0, fmt.Errorf("%w: CreatePipeline in state %v", ErrInvalidState, g.state)
	}
	p, ok := g.passes[id]
	if !ok {
		return 0, fmt.Errorf("%w: render pass %q", ErrUnknownTarget, id)
	}
	desc.RenderPass = g.compatiblePass(p)
	if desc.NumSamples == 0 {
		desc.NumSamples = p.rpDesc.Samples()
	}

	// Graphs hold a handful of pipelines. The hash rejects most entries
	// before the field by field comparison.
	sum := desc.Hash()
	for i := range g.pipelines {
		if g.pipelines[i].hash == sum && g.pipelines[i].desc.Equal(&desc) {
			g.pipelineHits.Add(1)
			return g.pipelines[i].handle, nil
		}
	}

	h, err := g.dev.CreatePipeline(desc)
	if err != nil {
		return 0, fmt.Errorf("graph: pipeline %q for pass %q: %w", desc.Name, id, err)
	}
	desc.Macros = maps.Clone(desc.Macros)
	desc.VertexAttribs = slices.Clone(desc.VertexAttribs)
	desc.VertexBuffers = slices.Clone(desc.VertexBuffers)
	g.pipelines = append(g.pipelines, cachedPipeline{hash: sum, desc: desc, handle: h})
	g.pipelineMisses.Add(1)
	g.pipelineCount.Store(int64(len(g.pipelines)))
	Logger().Debug("graph: pipeline created", "pass", string(id), "name", desc.Name,
		"vs", desc.VertexShaderName, "fs", desc.FragmentShaderName)
	return h, nil
}

func (g *Graph) compatiblePass(p *pass) device.RenderPassHandle {
	layout := p.rpDesc.AttachmentLayout()
	for _, op := range g.ops {
		if q := op.pass; q != nil && q.rpDesc.AttachmentLayout() == layout {
			return q.handle
		}
	}
	return p.handle
}
