// Package shader compiles WGSL shaders for the device backends.
//
// A Compiler resolves shader names against a file system, applies the
// pipeline's macro set with a small line-based preprocessor and validates
// the result with naga, producing SPIR-V:
//
//	c := shader.NewCompiler(os.DirFS("shaders"))
//	desc := device.DefaultDesc()
//	desc.Shaders = c
//
// Compiled variants are cached per (name, stage, macros). A Watcher drops
// the variants built from a file when it changes on disk.
package shader
