package device

import "fmt"

// DescriptorType is the kind of one binding slot in a descriptor set layout.
type DescriptorType uint8

const (
	DescriptorUniformBuffer DescriptorType = iota
	DescriptorStorageBuffer
	DescriptorSampler
	DescriptorTexture
	DescriptorCombinedSampler
)

func (t DescriptorType) String() string {
	switch t {
	case DescriptorUniformBuffer:
		return "UniformBuffer"
	case DescriptorStorageBuffer:
		return "StorageBuffer"
	case DescriptorSampler:
		return "Sampler"
	case DescriptorTexture:
		return "Texture"
	case DescriptorCombinedSampler:
		return "CombinedSampler"
	default:
		return fmt.Sprintf("DescriptorType(%d)", uint8(t))
	}
}

// Bindings returns how many backend binding slots t occupies. A combined
// sampler is a texture binding followed by a sampler binding.
func (t DescriptorType) Bindings() int {
	if t == DescriptorCombinedSampler {
		return 2
	}
	return 1
}

// Descriptor is one resource bound into a descriptor set. The concrete types
// are UniformBuffer, StorageBuffer, Sampler, Texture and CombinedSampler.
type Descriptor interface {
	Type() DescriptorType
}

// UniformBuffer binds a uniform buffer.
type UniformBuffer struct{ Buffer BufferHandle }

// StorageBuffer binds a storage buffer.
type StorageBuffer struct{ Buffer BufferHandle }

// Sampler binds a sampler.
type Sampler struct{ Sampler SamplerHandle }

// Texture binds a sampled texture.
type Texture struct{ Texture TextureHandle }

// CombinedSampler binds a texture together with its sampler.
type CombinedSampler struct {
	Texture TextureHandle
	Sampler SamplerHandle
}

func (UniformBuffer) Type() DescriptorType   { return DescriptorUniformBuffer }
func (StorageBuffer) Type() DescriptorType   { return DescriptorStorageBuffer }
func (Sampler) Type() DescriptorType         { return DescriptorSampler }
func (Texture) Type() DescriptorType         { return DescriptorTexture }
func (CombinedSampler) Type() DescriptorType { return DescriptorCombinedSampler }

// CheckDescriptors panics unless descriptors match layout slot for slot.
func CheckDescriptors(layout []DescriptorType, descriptors []Descriptor) {
	Checkf(len(layout) == len(descriptors),
		"descriptor set has %d descriptors, layout has %d", len(descriptors), len(layout))
	for i, d := range descriptors {
		Checkf(d != nil, "descriptor %d is nil", i)
		Checkf(d.Type() == layout[i], "descriptor %d is %v, layout wants %v", i, d.Type(), layout[i])
	}
}
