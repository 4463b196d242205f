// Package device defines the backend contract of the frame-orchestration
// layer: value-type descriptors for every GPU object, typed handles, image
// layouts and the Device interface that backends implement.
//
// Exactly one Device is active per process. It is owned by the goroutine
// that records frames and is torn down with Close after the GPU is idle.
//
// Errors fall into three classes. Contract violations (wrong call order,
// stale handles, mismatched descriptor layouts) panic with a
// *ContractViolation. Resource failures (incomplete framebuffers, shader
// compile errors, unsupported formats) are returned as errors wrapping the
// sentinels in this package. An out-of-date surface is neither: it sets the
// sticky dirty flag reported by IsSwapchainDirty and BeginFrame returns false.
package device
