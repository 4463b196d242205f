package shader

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"testing/fstest"

	"github.com/gogpu/framegraph/device"
)

const spirvMagic = 0x07230203

const triangleWGSL = `#include "common/io.wgsl"

@vertex
fn vs_main(@location(0) pos: vec3<f32>, @location(1) col: vec3<f32>) -> VertexOutput {
    var output: VertexOutput;
    output.position = vec4<f32>(pos.x, pos.y, pos.z, 1.0);
    output.color = col * BRIGHTNESS;
    return output;
}

@fragment
fn fs_main(@location(0) color: vec3<f32>) -> @location(0) vec4<f32> {
#ifdef GRAYSCALE
    let l = (color.x + color.y + color.z) / 3.0;
    return vec4<f32>(l, l, l, 1.0);
#else
    return vec4<f32>(color.x, color.y, color.z, 1.0);
#endif
}
`

const ioWGSL = `#ifndef BRIGHTNESS
#define BRIGHTNESS 1.0
#endif
struct VertexOutput {
    @builtin(position) position: vec4<f32>,
    @location(0) color: vec3<f32>,
}
`

const postFragWGSL = `@fragment
fn fs_main(@location(0) color: vec3<f32>) -> @location(0) vec4<f32> {
    return vec4<f32>(color.x, color.y, color.z, 1.0);
}
`

func testFS() fstest.MapFS {
	return fstest.MapFS{
		"triangle.wgsl":  {Data: []byte(triangleWGSL)},
		"common/io.wgsl": {Data: []byte(ioWGSL)},
		"post.frag.wgsl": {Data: []byte(postFragWGSL)},
		"post.wgsl":      {Data: []byte("this is not reached")},
		"broken.wgsl":    {Data: []byte("@fragment\nfn fs_main( -> {\n")},
	}
}

func TestCompile(t *testing.T) {
	c := NewCompiler(testFS())

	bin, err := c.Compile("triangle", device.StageVertex, nil)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	if bin.EntryPoint != "vs_main" || bin.Stage != device.StageVertex || bin.Name != "triangle" {
		t.Errorf("binary = %s %v %s", bin.Name, bin.Stage, bin.EntryPoint)
	}
	if len(bin.SPIRV) == 0 || bin.SPIRV[0] != spirvMagic {
		t.Errorf("SPIR-V does not start with the magic number")
	}
	if !strings.Contains(bin.WGSL, "col * 1.0") {
		t.Errorf("include default was not applied:\n%s", bin.WGSL)
	}

	again, err := c.Compile("triangle", device.StageVertex, device.ShaderMacros{})
	if err != nil {
		t.Fatal(err)
	}
	if again != bin {
		t.Error("empty and nil macro sets produced different variants")
	}

	gray, err := c.Compile("triangle", device.StageFragment, device.ShaderMacros{"GRAYSCALE": "", "BRIGHTNESS": "2.0"})
	if err != nil {
		t.Fatalf("Compile(GRAYSCALE) error = %v", err)
	}
	if !strings.Contains(gray.WGSL, "let l =") || gray.EntryPoint != "fs_main" {
		t.Errorf("GRAYSCALE branch missing:\n%s", gray.WGSL)
	}

	st := c.Stats()
	if st.Variants != 2 || st.Hits != 1 || st.Misses != 2 {
		t.Errorf("Stats() = %+v, want 2 variants, 1 hit, 2 misses", st)
	}
}

func TestStageFilePreferred(t *testing.T) {
	c := NewCompiler(testFS())
	bin, err := c.Compile("post", device.StageFragment, nil)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	if !strings.HasPrefix(bin.WGSL, "@fragment") {
		t.Errorf("post.frag.wgsl was not used: %q", bin.WGSL)
	}
}

func TestCompileErrors(t *testing.T) {
	c := NewCompiler(testFS())
	if _, err := c.Compile("missing", device.StageVertex, nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("Compile(missing) error = %v, want ErrNotFound", err)
	}
	if _, err := c.Compile("broken", device.StageFragment, nil); !errors.Is(err, device.ErrShaderCompile) {
		t.Errorf("Compile(broken) error = %v, want ErrShaderCompile", err)
	}
	if c.Stats().Variants != 0 {
		t.Error("failed compilations were cached")
	}

	wgslOnly := NewCompiler(testFS(), WithWGSLOnly())
	if _, err := wgslOnly.Compile("broken", device.StageFragment, nil); !errors.Is(err, device.ErrShaderCompile) {
		t.Errorf("WGSL-only Compile(broken) error = %v, want ErrShaderCompile", err)
	}
	bin, err := wgslOnly.Compile("triangle", device.StageVertex, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(bin.SPIRV) != 0 || bin.WGSL == "" {
		t.Errorf("WGSL-only binary has %d SPIR-V words", len(bin.SPIRV))
	}
}

func TestInvalidate(t *testing.T) {
	fsys := testFS()
	c := NewCompiler(fsys)
	for _, stage := range []device.ShaderStage{device.StageVertex, device.StageFragment} {
		if _, err := c.Compile("triangle", stage, nil); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := c.Compile("post", device.StageFragment, nil); err != nil {
		t.Fatal(err)
	}

	fsys["common/io.wgsl"] = &fstest.MapFile{Data: []byte(strings.Replace(ioWGSL, "1.0", "4.0", 1))}
	if n := c.Invalidate("common/io.wgsl"); n != 2 {
		t.Errorf("Invalidate(include) = %d, want 2", n)
	}
	if n := c.Invalidate("unrelated.wgsl"); n != 0 {
		t.Errorf("Invalidate(unrelated) = %d, want 0", n)
	}
	bin, err := c.Compile("triangle", device.StageVertex, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(bin.WGSL, "col * 4.0") {
		t.Error("recompilation did not read the changed include")
	}

	c.Purge()
	if c.Stats().Variants != 0 {
		t.Errorf("Variants after Purge = %d", c.Stats().Variants)
	}
}

// gatedFS pauses the first read of one file after its contents were read,
// until release is closed.
type gatedFS struct {
	fstest.MapFS
	name    string
	read    chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedFS) ReadFile(name string) ([]byte, error) {
	data, err := g.MapFS.ReadFile(name)
	if name == g.name {
		g.once.Do(func() {
			close(g.read)
			<-g.release
		})
	}
	return data, err
}

func TestInvalidateDuringCompile(t *testing.T) {
	fsys := testFS()
	gated := &gatedFS{
		MapFS:   fsys,
		name:    "common/io.wgsl",
		read:    make(chan struct{}),
		release: make(chan struct{}),
	}
	c := NewCompiler(gated)

	type result struct {
		bin *device.ShaderBinary
		err error
	}
	done := make(chan result, 1)
	go func() {
		bin, err := c.Compile("triangle", device.StageVertex, nil)
		done <- result{bin, err}
	}()

	<-gated.read
	fsys["common/io.wgsl"] = &fstest.MapFile{Data: []byte(strings.Replace(ioWGSL, "1.0", "4.0", 1))}
	c.Invalidate("common/io.wgsl")
	close(gated.release)

	r := <-done
	if r.err != nil {
		t.Fatal(r.err)
	}
	if !strings.Contains(r.bin.WGSL, "col * 1.0") {
		t.Fatalf("in-flight compile did not see the old include:\n%s", r.bin.WGSL)
	}
	if n := c.Stats().Variants; n != 0 {
		t.Errorf("Variants = %d, want the stale result left uncached", n)
	}

	bin, err := c.Compile("triangle", device.StageVertex, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(bin.WGSL, "col * 4.0") {
		t.Error("compile after invalidation returned the stale include")
	}
	if n := c.Stats().Variants; n != 1 {
		t.Errorf("Variants = %d, want 1", n)
	}
}

func TestCacheSize(t *testing.T) {
	c := NewCompiler(testFS(), WithCacheSize(1))
	for _, m := range []string{"1.0", "2.0", "1.0"} {
		if _, err := c.Compile("triangle", device.StageVertex, device.ShaderMacros{"BRIGHTNESS": m}); err != nil {
			t.Fatal(err)
		}
	}
	st := c.Stats()
	if st.Variants != 1 || st.Evictions != 2 || st.Misses != 3 {
		t.Errorf("Stats() = %+v, want 1 variant, 2 evictions, 3 misses", st)
	}
}

func TestPrecompile(t *testing.T) {
	c := NewCompiler(testFS())
	variants := []Variant{
		{Name: "triangle", Stage: device.StageVertex},
		{Name: "triangle", Stage: device.StageFragment},
		{Name: "triangle", Stage: device.StageFragment, Macros: device.ShaderMacros{"GRAYSCALE": ""}},
		{Name: "post", Stage: device.StageFragment},
	}
	if err := c.Precompile(context.Background(), variants...); err != nil {
		t.Fatalf("Precompile() error = %v", err)
	}
	if got := c.Stats().Variants; got != len(variants) {
		t.Errorf("Variants = %d, want %d", got, len(variants))
	}

	err := c.Precompile(context.Background(), Variant{Name: "broken", Stage: device.StageFragment})
	if !errors.Is(err, device.ErrShaderCompile) {
		t.Errorf("Precompile(broken) error = %v, want ErrShaderCompile", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.Precompile(ctx, Variant{Name: "post", Stage: device.StageVertex}); !errors.Is(err, context.Canceled) {
		t.Errorf("Precompile(canceled) error = %v, want context.Canceled", err)
	}
}

func TestConcurrentCompile(t *testing.T) {
	c := NewCompiler(testFS())
	var wg sync.WaitGroup
	bins := make([]*device.ShaderBinary, 16)
	for i := range bins {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b, err := c.Compile("triangle", device.StageFragment, nil)
			if err != nil {
				t.Error(err)
			}
			bins[i] = b
		}()
	}
	wg.Wait()
	for _, b := range bins[1:] {
		if b != bins[0] {
			t.Fatal("concurrent compiles returned different binaries")
		}
	}
}
