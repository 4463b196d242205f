package native

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"

	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/framegraph/device"
)

type shaderModule struct {
	module     hal.ShaderModule
	entryPoint string
}

// shaderCache holds one HAL module per (name, stage, macros). Pipelines
// sharing a shader variant share its module.
//
// Lookups use RWMutex double-check locking; the hit and miss counters are
// read without the lock.
type shaderCache struct {
	mu      sync.RWMutex
	modules map[uint64]shaderModule

	hits   atomic.Uint64
	misses atomic.Uint64
}

func newShaderCache() *shaderCache {
	return &shaderCache{modules: make(map[uint64]shaderModule)}
}

func shaderKey(name string, stage device.ShaderStage, macros device.ShaderMacros) uint64 {
	h := fnv.New64a()
	var n [4]byte
	binary.LittleEndian.PutUint32(n[:], uint32(len(name))) //nolint:gosec // G115: shader names are short
	_, _ = h.Write(n[:])
	_, _ = h.Write([]byte(name))
	_, _ = h.Write([]byte{byte(stage)})
	_, _ = h.Write([]byte(macros.Key()))
	return h.Sum64()
}

// getOrCreate returns the module for a shader variant, compiling and
// creating it on first use.
func (c *shaderCache) getOrCreate(
	dev hal.Device,
	compiler device.ShaderCompiler,
	name string,
	stage device.ShaderStage,
	macros device.ShaderMacros,
) (shaderModule, error) {
	key := shaderKey(name, stage, macros)

	c.mu.RLock()
	if m, ok := c.modules[key]; ok {
		c.mu.RUnlock()
		c.hits.Add(1)
		return m, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if m, ok := c.modules[key]; ok {
		c.hits.Add(1)
		return m, nil
	}

	if compiler == nil {
		return shaderModule{}, fmt.Errorf("%w: shader %q", device.ErrNoShaderCompiler, name)
	}
	bin, err := compiler.Compile(name, stage, macros)
	if err != nil {
		return shaderModule{}, err
	}
	src := hal.ShaderSource{SPIRV: bin.SPIRV}
	if len(src.SPIRV) == 0 {
		src.WGSL = bin.WGSL
	}
	mod, err := dev.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  name + "." + stage.String(),
		Source: src,
	})
	if err != nil {
		return shaderModule{}, fmt.Errorf("%w: create module %s.%v: %w", device.ErrShaderCompile, name, stage, err)
	}

	entry := bin.EntryPoint
	if entry == "" {
		entry = stage.EntryPoint()
	}
	m := shaderModule{module: mod, entryPoint: entry}
	c.modules[key] = m
	c.misses.Add(1)
	return m, nil
}

// Stats returns the number of cache hits and misses.
func (c *shaderCache) Stats() (hits, misses uint64) {
	return c.hits.Load(), c.misses.Load()
}

// Len returns the number of cached modules.
func (c *shaderCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.modules)
}

// clear destroys every cached module.
func (c *shaderCache) clear(dev hal.Device) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, m := range c.modules {
		dev.DestroyShaderModule(m.module)
		delete(c.modules, k)
	}
}
