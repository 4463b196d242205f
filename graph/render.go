package graph

import (
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/framegraph/device"
)

type viewKey struct {
	id     TargetID
	format gputypes.TextureFormat
}

// PassResources maps the inputs of a pass to shader-readable views.
type PassResources struct {
	views map[viewKey]device.TextureHandle
}

// Get returns the view of input id in format. Undefined selects the
// target's own format; the additional view format of an internal target is
// also available. It panics if id is not an input of the pass.
func (r *PassResources) Get(id TargetID, format gputypes.TextureFormat) device.TextureHandle {
	h, ok := r.views[viewKey{id, format}]
	device.Checkf(ok, "render target %q format %v is not an input of this pass", id, format)
	return h
}

// View is Get with the target's own format.
func (r *PassResources) View(id TargetID) device.TextureHandle {
	return r.Get(id, gputypes.TextureFormatUndefined)
}

// PassContext is handed to a pass callback while its render pass is open.
type PassContext struct {
	Pass      PassID
	Device    device.Device
	Resources *PassResources

	graph *Graph
}

// Pipeline returns a pipeline compatible with the running pass, creating it
// on first use.
func (c *PassContext) Pipeline(desc device.PipelineDesc) (device.PipelineHandle, error) {
	return c.graph.CreatePipeline(c.Pass, desc)
}

// Render records the frame and presents it. The caller has begun the frame
// with BeginFrame and bound every external target.
//
// External bindings are cleared afterwards, also when Render fails; a
// failed Render leaves the device frame open, which the caller treats as
// fatal.
func (g *Graph) Render() error {
	if g.state != StateReady {
		return fmt.Errorf("%w: Render in state %v", ErrInvalidState, g.state)
	}
	for _, id := range g.order {
		if e := g.targets[id].external; e != nil && !e.handle.IsValid() {
			return fmt.Errorf("%w: %q", ErrExternalNotBound, id)
		}
	}

	g.state = StateRendering
	defer g.endFrame()

	for _, id := range g.order {
		if e := g.targets[id].external; e != nil {
			g.layouts[id] = e.initial
		}
	}
	for _, op := range g.ops {
		if op.pass != nil && op.pass.deferred {
			if err := g.buildFramebuffer(op.pass); err != nil {
				return err
			}
		}
	}

	for i := range g.ops {
		op := &g.ops[i]
		switch op.kind {
		case opPass:
			g.runPass(op.pass)
		case opResolve:
			g.copyTarget(op, g.dev.ResolveMSAA)
		case opBlit:
			g.copyTarget(op, g.dev.Blit)
		}
	}

	g.settle(g.present, device.LayoutTransferSrc)
	if err := g.dev.PresentFrame(g.targets[g.present].handle()); err != nil {
		return err
	}
	g.frames.Add(1)
	return nil
}

// endFrame drops the per-frame state: external bindings and the
// framebuffers built for them.
func (g *Graph) endFrame() {
	for _, op := range g.ops {
		if p := op.pass; p != nil && p.deferred && p.fb.IsValid() {
			g.dev.DeleteFramebuffer(p.fb)
			p.fb = 0
		}
	}
	for _, id := range g.order {
		if e := g.targets[id].external; e != nil {
			e.handle = 0
			delete(g.layouts, id)
		}
	}
	g.state = StateReady
}

// settle moves id into layout when the tracked layout differs. Layouts
// derived by Build make this a no-op except for targets whose state
// carries over between frames or between operations reading them.
func (g *Graph) settle(id TargetID, layout device.Layout) {
	from := g.layouts[id]
	if from == layout {
		return
	}
	g.dev.LayoutTransition(g.targets[id].handle(), from, layout)
	g.layouts[id] = layout
	g.transitions.Add(1)
}

func (g *Graph) copyTarget(op *operation, copyFn func(src, dst device.RenderTargetHandle)) {
	g.settle(op.src, device.LayoutTransferSrc)
	dst := g.targets[op.dst].handle()
	g.dev.LayoutTransition(dst, device.LayoutUndefined, device.LayoutTransferDst)
	copyFn(g.targets[op.src].handle(), dst)
	if op.finalLayout != device.LayoutTransferDst {
		g.dev.LayoutTransition(dst, device.LayoutTransferDst, op.finalLayout)
	}
	g.layouts[op.dst] = op.finalLayout
}

func (g *Graph) runPass(p *pass) {
	for i, c := range p.desc.Colors {
		if initial := p.rpDesc.Colors[i].InitialLayout; initial != device.LayoutUndefined {
			g.settle(c.Target, initial)
		}
	}
	res := &PassResources{views: make(map[viewKey]device.TextureHandle, 2*len(p.desc.Inputs))}
	for _, in := range p.desc.Inputs {
		g.settle(in, device.LayoutShaderRead)
		t := g.targets[in]
		h := t.handle()
		for j, f := range t.viewFormats() {
			view := g.dev.RenderTargetView(h, f)
			res.views[viewKey{in, f}] = view
			if j == 0 {
				res.views[viewKey{in, gputypes.TextureFormatUndefined}] = view
			}
		}
	}

	g.dev.BeginRenderPass(p.handle, p.fb)
	if p.fn != nil {
		p.fn(&PassContext{Pass: p.id, Device: g.dev, Resources: res, graph: g})
	}
	g.dev.EndRenderPass()

	for i, c := range p.desc.Colors {
		g.layouts[c.Target] = p.rpDesc.Colors[i].FinalLayout
	}
}
