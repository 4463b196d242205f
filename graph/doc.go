// Package graph declares a frame as render targets and the operations over
// them, and turns the declaration into device objects and layout
// transitions.
//
// A graph goes through Reset, declarations, Build, then one Render per
// frame:
//
//	g := graph.New(dev)
//	g.Reset(nil)
//	g.RenderTarget("color", device.RenderTargetDesc{Width: w, Height: h, Format: f})
//	g.RenderPass("scene", graph.PassDesc{}.Color("color", device.PassBeginClear, black), drawScene)
//	g.PresentRenderTarget("color")
//	if err := g.Build(); err != nil { ... }
//
//	for {
//		if ok, _ := dev.BeginFrame(); ok {
//			g.Render()
//		}
//	}
//
// Build walks the operations backwards so that every pass knows the layout
// the next reader of each attachment expects and leaves it there. Render
// then only issues the transitions a pass cannot express itself.
package graph
