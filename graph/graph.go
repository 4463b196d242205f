package graph

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/framegraph/device"
)

// Errors returned while declaring, building and rendering a graph.
var (
	// ErrInvalidState is returned when a call is not legal in the graph's state.
	ErrInvalidState = errors.New("graph: invalid state")

	// ErrDuplicateTarget is returned when a render target or pass id is declared twice.
	ErrDuplicateTarget = errors.New("graph: duplicate id")

	// ErrUnknownTarget is returned when an operation references an undeclared id.
	ErrUnknownTarget = errors.New("graph: unknown id")

	// ErrLayoutConflict is returned when the layouts a target needs cannot be met.
	ErrLayoutConflict = errors.New("graph: layout conflict")

	// ErrNoPresentTarget is returned by Build when no target was presented.
	ErrNoPresentTarget = errors.New("graph: no present target")

	// ErrExternalNotBound is returned by Render when an external target has no handle.
	ErrExternalNotBound = errors.New("graph: external render target not bound")
)

// State is the lifecycle state of a Graph.
type State uint8

const (
	StateInvalid State = iota
	StateBuilding
	StateReady
	StateRendering
)

func (s State) String() string {
	switch s {
	case StateInvalid:
		return "Invalid"
	case StateBuilding:
		return "Building"
	case StateReady:
		return "Ready"
	case StateRendering:
		return "Rendering"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// TargetID names a render target within a graph.
type TargetID string

// PassID names a render pass within a graph.
type PassID string

// ColorAttachment is one color output of a pass.
type ColorAttachment struct {
	Target     TargetID
	Begin      device.PassBegin
	ClearValue gputypes.Color
}

// PassDesc declares the attachments and inputs of a render pass.
type PassDesc struct {
	Colors       []ColorAttachment
	DepthStencil TargetID
	ClearDepth   bool
	DepthClear   float32
	// Inputs are the targets the pass samples. Each is in the ShaderRead
	// layout while the pass runs.
	Inputs     []TargetID
	NumSamples uint32
	Name       string
}

// Color appends a color attachment and returns d for chaining.
func (d PassDesc) Color(id TargetID, begin device.PassBegin, clear gputypes.Color) PassDesc {
	d.Colors = append(append([]ColorAttachment(nil), d.Colors...), ColorAttachment{Target: id, Begin: begin, ClearValue: clear})
	return d
}

// Input appends a sampled input and returns d for chaining.
func (d PassDesc) Input(id TargetID) PassDesc {
	d.Inputs = append(append([]TargetID(nil), d.Inputs...), id)
	return d
}

// PassFunc records the draw calls of a pass.
type PassFunc func(ctx *PassContext)

type internalTarget struct {
	desc   device.RenderTargetDesc
	handle device.RenderTargetHandle
}

type externalTarget struct {
	format  gputypes.TextureFormat
	initial device.Layout
	final   device.Layout
	// handle is bound by the caller for a single frame.
	handle device.RenderTargetHandle
}

// target is either internal or external; exactly one pointer is set.
type target struct {
	internal *internalTarget
	external *externalTarget
}

func (t *target) format() gputypes.TextureFormat {
	if t.external != nil {
		return t.external.format
	}
	return t.internal.desc.Format
}

func (t *target) additionalFormat() gputypes.TextureFormat {
	if t.external != nil {
		return gputypes.TextureFormatUndefined
	}
	return t.internal.desc.AdditionalViewFormat
}

func (t *target) handle() device.RenderTargetHandle {
	if t.external != nil {
		return t.external.handle
	}
	return t.internal.handle
}

type pass struct {
	id     PassID
	desc   PassDesc
	fn     PassFunc
	rpDesc device.RenderPassDesc
	handle device.RenderPassHandle
	fb     device.FramebufferHandle
	// deferred passes reference external targets; their framebuffer is
	// built each frame once the targets are bound.
	deferred bool
}

type opKind uint8

const (
	opPass opKind = iota
	opResolve
	opBlit
)

func (k opKind) String() string {
	switch k {
	case opPass:
		return "RenderPass"
	case opResolve:
		return "ResolveMSAA"
	default:
		return "Blit"
	}
}

// operation is one step of the frame in declaration order.
type operation struct {
	kind opKind
	pass *pass
	src  TargetID
	dst  TargetID
	// finalLayout is the layout dst is left in, filled by Build.
	finalLayout device.Layout
}

type cachedPipeline struct {
	hash   uint64
	desc   device.PipelineDesc
	handle device.PipelineHandle
}

// Stats are graph counters. They may be read from any goroutine.
type Stats struct {
	Builds            uint64
	Frames            uint64
	Pipelines         int
	PipelineHits      uint64
	PipelineMisses    uint64
	FramebufferBuilds uint64
	// Transitions counts layout transitions Render issued beyond the
	// ones the pass layouts already cover.
	Transitions uint64
}

// Graph is a declarative frame: render targets, and passes, resolves and
// blits over them. Build derives every layout transition and creates the
// device objects; Render replays the frame.
//
// A Graph is used from the device's recording goroutine only, except Stats.
type Graph struct {
	dev   device.Device
	state State
	err   error

	targets   map[TargetID]*target
	order     []TargetID
	passes    map[PassID]*pass
	ops       []operation
	present   TargetID
	externals int

	// layouts tracks the current layout of every target while rendering.
	// Internal targets keep theirs across frames.
	layouts map[TargetID]device.Layout

	pipelines []cachedPipeline

	builds            atomic.Uint64
	frames            atomic.Uint64
	pipelineCount     atomic.Int64
	pipelineHits      atomic.Uint64
	pipelineMisses    atomic.Uint64
	framebufferBuilds atomic.Uint64
	transitions       atomic.Uint64
}

// New returns an empty graph over dev in the Invalid state. Call Reset
// before declaring targets.
func New(dev device.Device) *Graph {
	return &Graph{dev: dev}
}

// State returns the lifecycle state.
func (g *Graph) State() State { return g.state }

// Stats returns a snapshot of the graph counters.
func (g *Graph) Stats() Stats {
	return Stats{
		Builds:            g.builds.Load(),
		Frames:            g.frames.Load(),
		Pipelines:         int(g.pipelineCount.Load()),
		PipelineHits:      g.pipelineHits.Load(),
		PipelineMisses:    g.pipelineMisses.Load(),
		FramebufferBuilds: g.framebufferBuilds.Load(),
		Transitions:       g.transitions.Load(),
	}
}

// fail records the first declaration error; Build returns it.
func (g *Graph) fail(err error) {
	if g.err == nil {
		g.err = err
	}
}

func (g *Graph) building(op string) bool {
	if g.state != StateBuilding {
		g.fail(fmt.Errorf("%w: %s in state %v", ErrInvalidState, op, g.state))
		return false
	}
	return true
}

func (g *Graph) declare(id TargetID, t *target) {
	if id == "" {
		g.fail(fmt.Errorf("%w: empty render target id", ErrUnknownTarget))
		return
	}
	if _, dup := g.targets[id]; dup {
		g.fail(fmt.Errorf("%w: render target %q", ErrDuplicateTarget, id))
		return
	}
	g.targets[id] = t
	g.order = append(g.order, id)
}

// RenderTarget declares a render target the graph creates and owns.
func (g *Graph) RenderTarget(id TargetID, desc device.RenderTargetDesc) {
	if !g.building("RenderTarget") {
		return
	}
	if desc.Name == "" {
		desc.Name = string(id)
	}
	g.declare(id, &target{internal: &internalTarget{desc: desc}})
}

// ExternalRenderTarget declares a target the caller binds every frame with
// BindExternalRT. It arrives in initial and must be left in final.
func (g *Graph) ExternalRenderTarget(id TargetID, format gputypes.TextureFormat, initial, final device.Layout) {
	if !g.building("ExternalRenderTarget") {
		return
	}
	if final == device.LayoutUndefined || final == device.LayoutTransferDst {
		g.fail(fmt.Errorf("%w: external target %q final layout %v", ErrLayoutConflict, id, final))
		return
	}
	g.declare(id, &target{external: &externalTarget{format: format, initial: initial, final: final}})
	g.externals++
}

// RenderPass declares a pass and appends it to the frame.
func (g *Graph) RenderPass(id PassID, desc PassDesc, fn PassFunc) {
	if !g.building("RenderPass") {
		return
	}
	if _, dup := g.passes[id]; dup {
		g.fail(fmt.Errorf("%w: render pass %q", ErrDuplicateTarget, id))
		return
	}
	if len(desc.Colors) > device.MaxColorRenderTargets {
		g.fail(fmt.Errorf("graph: pass %q has %d color attachments, max %d",
			id, len(desc.Colors), device.MaxColorRenderTargets))
		return
	}
	if desc.Name == "" {
		desc.Name = string(id)
	}
	p := &pass{id: id, desc: desc, fn: fn}
	g.passes[id] = p
	g.ops = append(g.ops, operation{kind: opPass, pass: p})
}

// ResolveMSAA appends a resolve of the multisampled src into dst.
func (g *Graph) ResolveMSAA(src, dst TargetID) {
	if g.building("ResolveMSAA") {
		g.ops = append(g.ops, operation{kind: opResolve, src: src, dst: dst})
	}
}

// Blit appends a copy of src into dst.
func (g *Graph) Blit(src, dst TargetID) {
	if g.building("Blit") {
		g.ops = append(g.ops, operation{kind: opBlit, src: src, dst: dst})
	}
}

// PresentRenderTarget selects the target handed to PresentFrame.
func (g *Graph) PresentRenderTarget(id TargetID) {
	if g.building("PresentRenderTarget") {
		g.present = id
	}
}

// BindExternalRT binds the handle of an external target for the next
// Render. Each external target is bound exactly once per frame.
func (g *Graph) BindExternalRT(id TargetID, h device.RenderTargetHandle) error {
	if g.state != StateReady {
		return fmt.Errorf("%w: BindExternalRT in state %v", ErrInvalidState, g.state)
	}
	if !h.IsValid() {
		return fmt.Errorf("graph: BindExternalRT %q with invalid handle", id)
	}
	t, ok := g.targets[id]
	if !ok {
		return fmt.Errorf("%w: render target %q", ErrUnknownTarget, id)
	}
	if t.external == nil {
		return fmt.Errorf("graph: render target %q is not external", id)
	}
	if t.external.handle.IsValid() {
		return fmt.Errorf("%w: external target %q bound twice", ErrInvalidState, id)
	}
	t.external.handle = h
	return nil
}

// Reset destroys every object the graph created and waits for the device
// to go idle, calling pump while waiting. The graph is then ready for new
// declarations.
func (g *Graph) Reset(pump func()) error {
	if g.state != StateInvalid && g.state != StateReady {
		return fmt.Errorf("%w: Reset in state %v", ErrInvalidState, g.state)
	}

	g.release()

	g.targets = make(map[TargetID]*target)
	g.order = nil
	g.passes = make(map[PassID]*pass)
	g.ops = nil
	g.present = ""
	g.externals = 0
	g.layouts = make(map[TargetID]device.Layout)
	g.err = nil
	g.state = StateBuilding

	return g.dev.WaitForDeviceIdle(pump)
}
