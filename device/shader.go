package device

// ShaderBinary is a compiled shader stage ready for a backend.
type ShaderBinary struct {
	Name       string
	Stage      ShaderStage
	EntryPoint string

	// WGSL is the preprocessed source; backends that ingest WGSL use it.
	WGSL string
	// SPIRV is the validated SPIR-V translation of WGSL.
	SPIRV []uint32
}

// ShaderCompiler turns a shader name and macro set into a validated binary.
// Results for the same (name, stage, macros) must be interchangeable.
type ShaderCompiler interface {
	Compile(name string, stage ShaderStage, macros ShaderMacros) (*ShaderBinary, error)
}
