package graph

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/framegraph/device"
)

// Build validates the declarations, derives the layout of every target at
// every use, and creates the render targets, render passes and framebuffers.
// Passes writing external targets get their framebuffer in Render.
//
// On failure every object Build created is released and the graph returns
// to the Invalid state.
func (g *Graph) Build() error {
	if g.state != StateBuilding {
		return fmt.Errorf("%w: Build in state %v", ErrInvalidState, g.state)
	}
	err := g.build()
	if err != nil {
		g.release()
		g.state = StateInvalid
		return err
	}
	g.state = StateReady
	g.builds.Add(1)
	g.dump()
	return nil
}

func (g *Graph) build() error {
	if g.err != nil {
		return g.err
	}
	if err := g.checkReferences(); err != nil {
		return err
	}
	if err := g.inferLayouts(); err != nil {
		return err
	}

	for _, id := range g.order {
		t := g.targets[id]
		if t.internal == nil {
			continue
		}
		h, err := g.dev.CreateRenderTarget(t.internal.desc)
		if err != nil {
			return fmt.Errorf("graph: render target %q: %w", id, err)
		}
		t.internal.handle = h
		g.layouts[id] = device.LayoutUndefined
	}

	for i := range g.ops {
		p := g.ops[i].pass
		if p == nil {
			continue
		}
		h, err := g.dev.CreateRenderPass(p.rpDesc)
		if err != nil {
			return fmt.Errorf("graph: render pass %q: %w", p.id, err)
		}
		p.handle = h
		p.deferred = g.usesExternal(p)
		if !p.deferred {
			if err := g.buildFramebuffer(p); err != nil {
				return err
			}
		}
	}
	return nil
}

func (g *Graph) usesExternal(p *pass) bool {
	for _, c := range p.desc.Colors {
		if g.targets[c.Target].external != nil {
			return true
		}
	}
	return p.desc.DepthStencil != "" && g.targets[p.desc.DepthStencil].external != nil
}

func (g *Graph) buildFramebuffer(p *pass) error {
	fb := device.FramebufferDesc{RenderPass: p.handle, Name: p.desc.Name}
	for i, c := range p.desc.Colors {
		fb.Colors[i] = g.targets[c.Target].handle()
	}
	if p.desc.DepthStencil != "" {
		fb.DepthStencil = g.targets[p.desc.DepthStencil].handle()
	}
	h, err := g.dev.CreateFramebuffer(fb)
	if err != nil {
		return fmt.Errorf("graph: pass %q: %w", p.id, err)
	}
	p.fb = h
	g.framebufferBuilds.Add(1)
	return nil
}

func (g *Graph) lookup(what string, id TargetID) error {
	if _, ok := g.targets[id]; !ok {
		return fmt.Errorf("%w: %s references render target %q", ErrUnknownTarget, what, id)
	}
	return nil
}

func (g *Graph) checkReferences() error {
	if g.present == "" {
		return ErrNoPresentTarget
	}
	if err := g.lookup("present", g.present); err != nil {
		return err
	}
	for _, op := range g.ops {
		switch op.kind {
		case opPass:
			p := op.pass
			what := fmt.Sprintf("pass %q", p.id)
			if len(p.desc.Colors) == 0 && p.desc.DepthStencil == "" {
				return fmt.Errorf("graph: pass %q has no attachments", p.id)
			}
			for _, c := range p.desc.Colors {
				if err := g.lookup(what, c.Target); err != nil {
					return err
				}
			}
			if p.desc.DepthStencil != "" {
				if err := g.lookup(what, p.desc.DepthStencil); err != nil {
					return err
				}
			}
			for _, in := range p.desc.Inputs {
				if err := g.lookup(what, in); err != nil {
					return err
				}
				for _, c := range p.desc.Colors {
					if c.Target == in {
						return fmt.Errorf("%w: pass %q samples its own attachment %q", ErrLayoutConflict, p.id, in)
					}
				}
			}
		default:
			what := op.kind.String()
			if err := g.lookup(what, op.src); err != nil {
				return err
			}
			if err := g.lookup(what, op.dst); err != nil {
				return err
			}
			if op.src == op.dst {
				return fmt.Errorf("graph: %s from %q into itself", what, op.src)
			}
			if g.targets[op.src].format() != g.targets[op.dst].format() {
				return fmt.Errorf("%w: %s %q (%v) into %q (%v)", device.ErrUnsupportedFormat,
					what, op.src, g.targets[op.src].format(), op.dst, g.targets[op.dst].format())
			}
		}
	}
	return nil
}

// inferLayouts walks the operations backwards. need holds, for each target,
// the layout the next use expects; each operation takes its final layouts
// from need and replaces them with what it expects on entry.
func (g *Graph) inferLayouts() error {
	need := make(map[TargetID]device.Layout, len(g.targets))
	used := make(map[TargetID]bool, len(g.targets))
	// keep records targets whose earliest use is a Keep color attachment.
	keep := make(map[TargetID]*device.ColorTargetDesc)

	for _, id := range g.order {
		if e := g.targets[id].external; e != nil {
			need[id] = e.final
		}
	}
	if e := g.targets[g.present].external; e != nil && e.final != device.LayoutTransferSrc {
		return fmt.Errorf("%w: presented external target %q must end in TransferSrc, declared %v",
			ErrLayoutConflict, g.present, e.final)
	}
	need[g.present] = device.LayoutTransferSrc

	for i := len(g.ops) - 1; i >= 0; i-- {
		op := &g.ops[i]
		if op.kind != opPass {
			final, ok := need[op.dst]
			if !ok || final == device.LayoutUndefined {
				final = device.LayoutTransferDst
			}
			op.finalLayout = final
			need[op.dst] = device.LayoutUndefined
			need[op.src] = device.LayoutTransferSrc
			used[op.src], used[op.dst] = true, true
			delete(keep, op.src)
			delete(keep, op.dst)
			continue
		}

		p := op.pass
		rp := &p.rpDesc
		*rp = device.RenderPassDesc{Name: p.desc.Name, NumSamples: p.desc.NumSamples}
		if ds := p.desc.DepthStencil; ds != "" {
			rp.DepthStencilFormat = g.targets[ds].format()
			rp.ClearDepth = p.desc.ClearDepth
			rp.DepthClearValue = p.desc.DepthClear
			used[ds] = true
		}
		for j, c := range p.desc.Colors {
			final, ok := need[c.Target]
			if !ok || final == device.LayoutUndefined || final == device.LayoutTransferDst {
				final = device.LayoutColorAttachment
			}
			initial := device.LayoutUndefined
			if c.Begin == device.PassBeginKeep {
				initial = device.LayoutColorAttachment
			}
			rp.Colors[j] = device.ColorTargetDesc{
				Format:        g.targets[c.Target].format(),
				PassBegin:     c.Begin,
				InitialLayout: initial,
				FinalLayout:   final,
				ClearValue:    c.ClearValue,
			}
			need[c.Target] = initial
			used[c.Target] = true
			if c.Begin == device.PassBeginKeep {
				keep[c.Target] = &rp.Colors[j]
			} else {
				delete(keep, c.Target)
			}
		}
		for _, in := range p.desc.Inputs {
			need[in] = device.LayoutShaderRead
			used[in] = true
			delete(keep, in)
		}
	}

	// need now holds what the first use of each target expects.
	for _, id := range g.order {
		if !used[id] {
			continue
		}
		first := need[id]
		if first == device.LayoutUndefined {
			continue
		}
		t := g.targets[id]
		if t.external == nil {
			if keep[id] == nil {
				return fmt.Errorf("%w: render target %q is read as %v before it is written",
					ErrLayoutConflict, id, first)
			}
			continue
		}
		switch {
		case first == t.external.initial:
		case keep[id] != nil && t.external.initial != device.LayoutUndefined:
			keep[id].InitialLayout = t.external.initial
		default:
			return fmt.Errorf("%w: external target %q arrives in %v, first use needs %v",
				ErrLayoutConflict, id, t.external.initial, first)
		}
	}
	return nil
}

// release deletes every device object the graph holds.
func (g *Graph) release() {
	for _, p := range g.pipelines {
		g.dev.DeletePipeline(p.handle)
	}
	g.pipelines = nil
	g.pipelineCount.Store(0)

	for _, id := range g.order {
		if t := g.targets[id]; t.internal != nil && t.internal.handle.IsValid() {
			g.dev.DeleteRenderTarget(t.internal.handle)
			t.internal.handle = 0
		}
	}
	for _, op := range g.ops {
		p := op.pass
		if p == nil {
			continue
		}
		if p.fb.IsValid() {
			g.dev.DeleteFramebuffer(p.fb)
			p.fb = 0
		}
		if p.handle.IsValid() {
			g.dev.DeleteRenderPass(p.handle)
			p.handle = 0
		}
	}
}

// dump logs the resolved operation table at debug level.
func (g *Graph) dump() {
	log := Logger()
	if !log.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	var b strings.Builder
	for _, op := range g.ops {
		switch op.kind {
		case opPass:
			p := op.pass
			fmt.Fprintf(&b, "\n%s %s", op.kind, p.id)
			if p.deferred {
				b.WriteString(" (deferred framebuffer)")
			}
			if ds := p.desc.DepthStencil; ds != "" {
				fmt.Fprintf(&b, "\n  depth %s %v", ds, p.rpDesc.DepthStencilFormat)
			}
			for i, c := range p.desc.Colors {
				rc := &p.rpDesc.Colors[i]
				fmt.Fprintf(&b, "\n  color %d: %s %v %v -> %v", i, c.Target, rc.PassBegin, rc.InitialLayout, rc.FinalLayout)
			}
			for _, in := range p.desc.Inputs {
				fmt.Fprintf(&b, "\n  input %s", in)
			}
		default:
			fmt.Fprintf(&b, "\n%s %s -> %s %v", op.kind, op.src, op.dst, op.finalLayout)
		}
	}
	log.Debug("graph: built", "targets", len(g.targets), "operations", len(g.ops),
		"present", string(g.present), "table", b.String())
}

// viewFormats returns the formats a pass input can be sampled as.
func (t *target) viewFormats() []gputypes.TextureFormat {
	formats := []gputypes.TextureFormat{t.format()}
	if f := t.additionalFormat(); f != gputypes.TextureFormatUndefined && f != t.format() {
		formats = append(formats, f)
	}
	return formats
}
