package device

import (
	"encoding/binary"
	"hash"
	"hash/fnv"
	"maps"
	"slices"
	"strings"

	"github.com/gogpu/gputypes"
)

// ShaderMacros are preprocessor definitions applied to shader sources.
type ShaderMacros map[string]string

// Key returns a canonical string form, stable across map iteration order.
func (m ShaderMacros) Key() string {
	if len(m) == 0 {
		return ""
	}
	keys := slices.Sorted(maps.Keys(m))
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(';')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(m[k])
	}
	return b.String()
}

// VertexAttr describes one vertex shader input.
type VertexAttr struct {
	Location uint32
	Binding  uint32
	Format   gputypes.VertexFormat
	Offset   uint32
}

// VertexBufferDesc describes one vertex buffer binding.
type VertexBufferDesc struct {
	Stride   uint32
	Instance bool
}

// PipelineDesc describes a graphics pipeline. Two descriptors that compare
// Equal produce interchangeable pipelines.
type PipelineDesc struct {
	VertexShaderName   string
	FragmentShaderName string
	Macros             ShaderMacros
	RenderPass         RenderPassHandle

	VertexAttribs        []VertexAttr
	VertexBuffers        []VertexBufferDesc
	DescriptorSetLayouts [MaxDescriptorSets]DSLayoutHandle

	NumSamples       uint32
	DepthWrite       bool
	DepthTest        bool
	CullFaces        bool
	ScissorTest      bool
	Blending         bool
	SourceBlend      gputypes.BlendFactor
	DestinationBlend gputypes.BlendFactor

	Name string
}

// Samples returns NumSamples with zero treated as one.
func (d *PipelineDesc) Samples() uint32 { return max(1, d.NumSamples) }

// Equal reports whether d and o describe the same pipeline. The debug name
// does not take part.
func (d *PipelineDesc) Equal(o *PipelineDesc) bool {
	return d.VertexShaderName == o.VertexShaderName &&
		d.FragmentShaderName == o.FragmentShaderName &&
		maps.Equal(d.Macros, o.Macros) &&
		d.RenderPass == o.RenderPass &&
		slices.Equal(d.VertexAttribs, o.VertexAttribs) &&
		slices.Equal(d.VertexBuffers, o.VertexBuffers) &&
		d.DescriptorSetLayouts == o.DescriptorSetLayouts &&
		d.Samples() == o.Samples() &&
		d.DepthWrite == o.DepthWrite &&
		d.DepthTest == o.DepthTest &&
		d.CullFaces == o.CullFaces &&
		d.ScissorTest == o.ScissorTest &&
		d.Blending == o.Blending &&
		d.SourceBlend == o.SourceBlend &&
		d.DestinationBlend == o.DestinationBlend
}

// Hash returns an FNV-1a hash over the fields Equal compares, so equal
// descriptors hash equal.
func (d *PipelineDesc) Hash() uint64 {
	h := fnv.New64a()
	hashWriteString(h, d.VertexShaderName)
	hashWriteString(h, d.FragmentShaderName)
	hashWriteString(h, d.Macros.Key())
	hashWriteUint64(h, uint64(d.RenderPass))

	hashWriteUint32(h, uint32(len(d.VertexAttribs))) //nolint:gosec // G115: bounded by MaxVertexAttribs
	for _, a := range d.VertexAttribs {
		hashWriteUint32(h, a.Location)
		hashWriteUint32(h, a.Binding)
		hashWriteUint32(h, uint32(a.Format))
		hashWriteUint32(h, a.Offset)
	}
	hashWriteUint32(h, uint32(len(d.VertexBuffers))) //nolint:gosec // G115: bounded by MaxVertexBuffers
	for _, b := range d.VertexBuffers {
		hashWriteUint32(h, b.Stride)
		hashWriteBool(h, b.Instance)
	}
	for _, l := range d.DescriptorSetLayouts {
		hashWriteUint64(h, uint64(l))
	}

	hashWriteUint32(h, d.Samples())
	hashWriteBool(h, d.DepthWrite)
	hashWriteBool(h, d.DepthTest)
	hashWriteBool(h, d.CullFaces)
	hashWriteBool(h, d.ScissorTest)
	hashWriteBool(h, d.Blending)
	hashWriteUint32(h, uint32(d.SourceBlend))
	hashWriteUint32(h, uint32(d.DestinationBlend))
	return h.Sum64()
}

func hashWriteUint32(h hash.Hash64, v uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	_, _ = h.Write(buf[:])
}

func hashWriteUint64(h hash.Hash64, v uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	_, _ = h.Write(buf[:])
}

//nolint:gosec // G115: shader names and macro keys are short
func hashWriteString(h hash.Hash64, s string) {
	hashWriteUint32(h, uint32(len(s)))
	_, _ = h.Write([]byte(s))
}

func hashWriteBool(h hash.Hash64, v bool) {
	if v {
		_, _ = h.Write([]byte{1})
	} else {
		_, _ = h.Write([]byte{0})
	}
}
