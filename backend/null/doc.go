// Package null provides a Device that renders nothing but enforces the full
// device contract.
//
// Every call is validated exactly as the GPU backends validate it: frame and
// render pass nesting, layout transitions, framebuffer completeness,
// descriptor layouts and ring buffer bounds. Ephemeral buffer contents are
// copied into a CPU-side ring so tests can inspect them, and GPU latency is
// simulated with a completion timeline that only advances when polled.
//
// The package registers itself as backend.Null:
//
//	import _ "github.com/gogpu/framegraph/backend/null"
package null
