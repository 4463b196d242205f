package shader

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/gogpu/naga"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/gogpu/framegraph/device"
	"github.com/gogpu/framegraph/internal/cache"
)

// Errors returned by the compiler.
var (
	// ErrNotFound is returned when no source file exists for a shader.
	ErrNotFound = errors.New("shader: source not found")

	// ErrPreprocess is returned for malformed preprocessor directives.
	ErrPreprocess = errors.New("shader: preprocess failed")
)

// DefaultCacheSize is the number of compiled variants kept by default.
const DefaultCacheSize = 256

type key struct {
	name   string
	stage  device.ShaderStage
	macros string
}

func (k key) String() string {
	if k.macros == "" {
		return k.name + "." + k.stage.String()
	}
	return k.name + "." + k.stage.String() + "[" + k.macros + "]"
}

type entry struct {
	bin *device.ShaderBinary
	// files are the sources the binary was built from, in first-read order.
	files []string
}

// Compiler loads WGSL sources from a file system, preprocesses them with a
// macro set and validates them into SPIR-V with naga. Results are cached
// per (name, stage, macros). It implements device.ShaderCompiler and is safe
// for concurrent use.
//
// A shader name resolves to "<name>.<stage>.wgsl" (stage is "vert" or
// "frag"), falling back to "<name>.wgsl" holding both entry points.
type Compiler struct {
	fsys   fs.FS
	opts   naga.CompileOptions
	spirv  bool
	cache  *cache.Cache[key, entry]
	flight singleflight.Group

	// gen counts invalidations. A compile that started under an older
	// generation may have read replaced sources, so its result is returned
	// but not cached. mu orders the check against Invalidate.
	mu  sync.Mutex
	gen uint64
}

// Option configures a Compiler.
type Option func(*Compiler)

// WithCacheSize bounds the number of cached variants; 0 means unlimited.
func WithCacheSize(n int) Option {
	return func(c *Compiler) { c.cache = cache.New[key, entry](n) }
}

// WithDebugInfo emits SPIR-V debug names and line information.
func WithDebugInfo(on bool) Option {
	return func(c *Compiler) { c.opts.Debug = on }
}

// WithWGSLOnly skips SPIR-V generation after validation. Backends that
// consume WGSL directly then receive an empty SPIRV field.
func WithWGSLOnly() Option {
	return func(c *Compiler) { c.spirv = false }
}

// NewCompiler returns a compiler reading sources from fsys.
func NewCompiler(fsys fs.FS, opts ...Option) *Compiler {
	c := &Compiler{
		fsys:  fsys,
		opts:  naga.DefaultOptions(),
		spirv: true,
		cache: cache.New[key, entry](DefaultCacheSize),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compile implements device.ShaderCompiler.
func (c *Compiler) Compile(name string, stage device.ShaderStage, macros device.ShaderMacros) (*device.ShaderBinary, error) {
	k := key{name: name, stage: stage, macros: macros.Key()}
	if e, ok := c.cache.Get(k); ok {
		return e.bin, nil
	}
	gen := c.generation()
	v, err, _ := c.flight.Do(k.String()+"@"+strconv.FormatUint(gen, 10), func() (any, error) {
		e, err := c.compile(k, macros)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		if c.gen == gen {
			c.cache.Set(k, e)
		}
		c.mu.Unlock()
		return e.bin, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*device.ShaderBinary), nil
}

func (c *Compiler) compile(k key, macros device.ShaderMacros) (entry, error) {
	p := newPreprocessor(c.fsys, macros)
	file := k.name + "." + k.stage.String() + ".wgsl"
	src, err := p.readFile(file)
	if errors.Is(err, ErrNotFound) {
		file = k.name + ".wgsl"
		src, err = p.readFile(file)
	}
	if err != nil {
		return entry{}, err
	}

	var b strings.Builder
	if err := p.run(&b, file, src, 0); err != nil {
		return entry{}, err
	}
	wgsl := b.String()

	bin := &device.ShaderBinary{
		Name:       k.name,
		Stage:      k.stage,
		EntryPoint: k.stage.EntryPoint(),
		WGSL:       wgsl,
	}
	if c.spirv {
		out, err := naga.CompileWithOptions(wgsl, c.opts)
		if err != nil {
			return entry{}, fmt.Errorf("%w: %s: %w", device.ErrShaderCompile, k, err)
		}
		bin.SPIRV = words(out)
	} else if err := c.validate(wgsl); err != nil {
		return entry{}, fmt.Errorf("%w: %s: %w", device.ErrShaderCompile, k, err)
	}

	Logger().Debug("shader: compiled", "shader", k.String(), "file", file,
		"includes", len(p.files)-1, "spirv_words", len(bin.SPIRV))
	return entry{bin: bin, files: p.files}, nil
}

func (c *Compiler) validate(wgsl string) error {
	ast, err := naga.Parse(wgsl)
	if err != nil {
		return fmt.Errorf("parse error: %w", err)
	}
	module, err := naga.LowerWithSource(ast, wgsl)
	if err != nil {
		return fmt.Errorf("lowering error: %w", err)
	}
	if !c.opts.Validate {
		return nil
	}
	verrs, err := naga.Validate(module)
	if err != nil {
		return fmt.Errorf("validation error: %w", err)
	}
	if len(verrs) > 0 {
		return fmt.Errorf("validation failed: %w", &verrs[0])
	}
	return nil
}

// words reinterprets a little-endian SPIR-V byte stream as 32-bit words.
func words(b []byte) []uint32 {
	w := make([]uint32, len(b)/4)
	for i := range w {
		w[i] = binary.LittleEndian.Uint32(b[4*i:])
	}
	return w
}

// Invalidate drops every cached variant built from file, a slash-separated
// path relative to the source tree. It returns the number dropped.
func (c *Compiler) Invalidate(file string) int {
	c.mu.Lock()
	c.gen++
	n := c.cache.DeleteFunc(func(_ key, e entry) bool {
		return slices.Contains(e.files, file)
	})
	c.mu.Unlock()
	if n > 0 {
		Logger().Debug("shader: invalidated", "file", file, "variants", n)
	}
	return n
}

// Purge drops every cached variant.
func (c *Compiler) Purge() {
	c.mu.Lock()
	c.gen++
	c.cache.Clear()
	c.mu.Unlock()
}

func (c *Compiler) generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

// Variant names one compilation for Precompile.
type Variant struct {
	Name   string
	Stage  device.ShaderStage
	Macros device.ShaderMacros
}

// Precompile compiles variants in parallel and fills the cache. It stops at
// the first error or when ctx is done.
func (c *Compiler) Precompile(ctx context.Context, variants ...Variant) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for _, v := range variants {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			_, err := c.Compile(v.Name, v.Stage, v.Macros)
			return err
		})
	}
	return g.Wait()
}

// Stats are cache counters.
type Stats struct {
	Variants  int
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

// Stats returns a snapshot of the cache counters.
func (c *Compiler) Stats() Stats {
	s := c.cache.Stats()
	return Stats{Variants: s.Len, Hits: s.Hits, Misses: s.Misses, Evictions: s.Evictions}
}
