package gpu

// RootParameterType is the kind of a root signature parameter
type RootParameterType int

const (
	RootParameterTypeDescriptorTable RootParameterType = iota
	RootParameterType32BitConstants
	RootParameterTypeCBV
	RootParameterTypeSRV
	RootParameterTypeUAV
)

// DescriptorRangeType is the kind of descriptors a table range holds
type DescriptorRangeType int

const (
	DescriptorRangeTypeSRV DescriptorRangeType = iota
	DescriptorRangeTypeUAV
	DescriptorRangeTypeCBV
	DescriptorRangeTypeSampler
)

// DescriptorRangeOffsetAppend places a range directly after the previous one in its table
const DescriptorRangeOffsetAppend uint32 = 0xffffffff

// DescriptorRange is one run of descriptors inside a descriptor table
type DescriptorRange struct {
	Type               DescriptorRangeType
	NumDescriptors     uint32
	BaseShaderRegister uint32
	RegisterSpace      uint32
	OffsetInTable      uint32
}

// RootParameter is one parameter of a root signature
type RootParameter struct {
	Type RootParameterType

	// Descriptor tables
	Ranges []DescriptorRange

	// 32-bit constants and root descriptors
	ShaderRegister uint32
	RegisterSpace  uint32
	Num32BitValues uint32
}

// HeapType is the descriptor heap a table parameter's descriptors come from: samplers can't share a
// table with other descriptor kinds
func (p RootParameter) HeapType() DescriptorHeapType {
	if len(p.Ranges) > 0 && p.Ranges[0].Type == DescriptorRangeTypeSampler {
		return DescriptorHeapTypeSampler
	}
	return DescriptorHeapTypeCBVSRVUAV
}

// NumDescriptors is the number of descriptors a table parameter spans
func (p RootParameter) NumDescriptors() uint32 {
	var end uint32
	var cursor uint32
	for _, r := range p.Ranges {
		start := r.OffsetInTable
		if start == DescriptorRangeOffsetAppend {
			start = cursor
		}
		cursor = start + r.NumDescriptors
		end = max(end, cursor)
	}
	return end
}

// StaticSampler is a sampler baked into a root signature
type StaticSampler struct {
	ShaderRegister uint32
	RegisterSpace  uint32
	Filter         uint32
	AddressMode    uint32
	MaxAnisotropy  uint32
}

// RootSignatureDesc describes a root signature
type RootSignatureDesc struct {
	Parameters     []RootParameter
	StaticSamplers []StaticSampler
}

// ComputePipelineStateDesc describes a compute pipeline
type ComputePipelineStateDesc struct {
	RootSignature RootSignature
	CS            []byte
	NodeMask      NodeMask
}
