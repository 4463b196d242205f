// Package contract tracks the recording state every backend validates
// against: frame and render pass nesting, pipeline binding and dynamic
// scissor state. Violations panic through device.Violationf.
package contract

import (
	"github.com/gogpu/framegraph/device"
	"github.com/gogpu/framegraph/pool"
)

// State is the recording state machine of one device.
type State struct {
	inFrame       bool
	inRenderPass  bool
	validPipeline bool
	pipelineDrawn bool
	scissorTest   bool
	scissorSet    bool
}

// InFrame reports whether a frame is being recorded.
func (s *State) InFrame() bool { return s.inFrame }

// InRenderPass reports whether a render pass is open.
func (s *State) InRenderPass() bool { return s.inRenderPass }

// BeginFrame enters the frame state.
func (s *State) BeginFrame() {
	device.Checkf(!s.inFrame, "BeginFrame inside a frame")
	*s = State{inFrame: true, pipelineDrawn: true}
}

// PresentFrame leaves the frame state.
func (s *State) PresentFrame() {
	device.Checkf(s.inFrame, "PresentFrame outside a frame")
	device.Checkf(!s.inRenderPass, "PresentFrame inside a render pass")
	s.inFrame = false
}

// BeginRenderPass opens a render pass.
func (s *State) BeginRenderPass() {
	device.Checkf(s.inFrame, "BeginRenderPass outside a frame")
	device.Checkf(!s.inRenderPass, "BeginRenderPass inside a render pass")
	s.inRenderPass = true
	s.validPipeline = false
	s.pipelineDrawn = true
	s.scissorSet = false
}

// EndRenderPass closes the render pass.
func (s *State) EndRenderPass() {
	device.Checkf(s.inRenderPass, "EndRenderPass outside a render pass")
	s.inRenderPass = false
	s.validPipeline = false
}

// OutsidePass checks that op is recorded in a frame but outside any pass.
func (s *State) OutsidePass(op string) {
	device.Checkf(s.inFrame, "%s outside a frame", op)
	device.Checkf(!s.inRenderPass, "%s inside a render pass", op)
}

// OutsideFrame checks that op is not issued while a frame is recorded.
func (s *State) OutsideFrame(op string) {
	device.Checkf(!s.inFrame, "%s inside a frame", op)
}

// BindPipeline records a pipeline bind. Binding twice without a draw in
// between is a violation.
func (s *State) BindPipeline(scissorTest bool) {
	device.Checkf(s.inRenderPass, "BindPipeline outside a render pass")
	device.Checkf(s.pipelineDrawn, "BindPipeline without drawing with the previous pipeline")
	s.pipelineDrawn = false
	s.validPipeline = true
	s.scissorTest = scissorTest
	s.scissorSet = false
}

// Bound checks that op has a pipeline to bind against.
func (s *State) Bound(op string) {
	device.Checkf(s.inRenderPass, "%s outside a render pass", op)
	device.Checkf(s.validPipeline, "%s without a bound pipeline", op)
}

// SetViewport checks viewport state changes.
func (s *State) SetViewport() {
	device.Checkf(s.inRenderPass, "SetViewport outside a render pass")
}

// SetScissorRect records a scissor change. The bound pipeline must enable
// the scissor test.
func (s *State) SetScissorRect() {
	s.Bound("SetScissorRect")
	device.Checkf(s.scissorTest, "SetScissorRect with a pipeline that has no scissor test")
	s.scissorSet = true
}

// Draw checks draw preconditions and marks the pipeline used.
func (s *State) Draw() {
	s.Bound("Draw")
	device.Checkf(!s.scissorTest || s.scissorSet, "Draw with scissor test enabled but no scissor rect")
	s.pipelineDrawn = true
}

// Lookup resolves a typed device handle in p, panicking with a contract
// violation when the handle is zero or stale.
func Lookup[T any, H ~uint64](p *pool.Pool[T], h H, what string) *T {
	rec, ok := p.Lookup(pool.Handle(h))
	device.Checkf(ok, "invalid or stale %s handle %v", what, pool.Handle(h))
	return rec
}
