// Package framegraph is a GPU resource and frame orchestration layer.
//
// It provides a backend-agnostic device API (package device) with a
// validating null backend and a native backend over wgpu's HAL, frame
// pacing against asynchronous GPU execution, per-frame ephemeral buffers
// carved from a ring buffer, and a render graph (package graph) that
// derives image layout transitions, caches framebuffers and pipelines and
// replays the frame.
//
// This package ties them together: a TOML Config, Open returning a
// Context that owns the device and shader compiler, and logger plumbing.
//
//	cfg, err := framegraph.LoadConfig("framegraph.toml")
//	if err != nil {
//	    return err
//	}
//	fc, err := framegraph.Open(cfg)
//	if err != nil {
//	    return err
//	}
//	defer fc.Close()
//
//	g := graph.New(fc.Device())
//	// declare targets and passes, Build, then per frame:
//	if ok, err := fc.BeginFrame(); ok && err == nil {
//	    err = g.Render()
//	}
//
// # Logging
//
// Nothing is logged until SetLogger is called. The logger is shared with
// the backend, graph and shader packages.
package framegraph
