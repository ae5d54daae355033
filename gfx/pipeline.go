package gfx

import (
	"github.com/afrcore/afrcore/descriptor"
	"github.com/afrcore/afrcore/gpu"
	"github.com/afrcore/afrcore/memutils"
	"github.com/chewxy/math32"
	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slog"
)

// Pipeline is a compute or graphics pipeline together with the root signature it was built against
type Pipeline interface {
	PipelineState() gpu.PipelineState
	RootSignature() *RootSignature
	// DefaultUAV returns null unordered access views used to pad partially filled UAV tables
	DefaultUAV() gpu.CPUDescriptorHandle
}

// Root parameters of the mip generation pipeline
const (
	generateMipsConstants = iota
	generateMipsSrcMip
	generateMipsOutMip
)

// maxMipsPerPass is the number of mips a single generate-mips dispatch writes
const maxMipsPerPass = 4

// generateMipsConstantsData is the layout of the pipeline's root constants
type generateMipsConstantsData struct {
	SrcMipLevel  uint32
	NumMipLevels uint32
	SrcDimension uint32
	IsSRGB       uint32
	TexelSize    [2]float32
}

func (c generateMipsConstantsData) values() []uint32 {
	return []uint32{
		c.SrcMipLevel,
		c.NumMipLevels,
		c.SrcDimension,
		c.IsSRGB,
		math32.Float32bits(c.TexelSize[0]),
		math32.Float32bits(c.TexelSize[1]),
	}
}

// GenerateMipsPipeline downsamples up to four mips of a 2D texture per dispatch
type GenerateMipsPipeline struct {
	rootSignature *RootSignature
	pipelineState gpu.PipelineState
	defaultUAV    *descriptor.Allocation
}

var _ Pipeline = &GenerateMipsPipeline{}

func newGenerateMipsPipeline(device *Device, shader []byte) (*GenerateMipsPipeline, error) {
	if len(shader) == 0 {
		return nil, errors.Wrap(memutils.InvalidArgumentError, "no mip generation shader was configured")
	}

	rootSignature, err := device.CreateRootSignature(gpu.RootSignatureDesc{
		Parameters: []gpu.RootParameter{
			generateMipsConstants: {
				Type:           gpu.RootParameterType32BitConstants,
				Num32BitValues: 6,
			},
			generateMipsSrcMip: {
				Type: gpu.RootParameterTypeDescriptorTable,
				Ranges: []gpu.DescriptorRange{
					{Type: gpu.DescriptorRangeTypeSRV, NumDescriptors: 1},
				},
			},
			generateMipsOutMip: {
				Type: gpu.RootParameterTypeDescriptorTable,
				Ranges: []gpu.DescriptorRange{
					{Type: gpu.DescriptorRangeTypeUAV, NumDescriptors: maxMipsPerPass},
				},
			},
		},
		StaticSamplers: []gpu.StaticSampler{
			{ShaderRegister: 0},
		},
	})
	if err != nil {
		return nil, err
	}

	pipelineState, err := device.gpu.CreateComputePipelineState(gpu.ComputePipelineStateDesc{
		RootSignature: rootSignature.Native(),
		CS:            shader,
	})
	if err != nil {
		return nil, memutils.HostFailure(err, "CreateComputePipelineState")
	}
	pipelineState.SetName("GenerateMips")

	defaultUAV, err := device.AllocateDescriptors(gpu.DescriptorHeapTypeCBVSRVUAV, maxMipsPerPass)
	if err != nil {
		return nil, err
	}
	for i := 0; i < maxMipsPerPass; i++ {
		device.gpu.CreateUnorderedAccessView(nil, &gpu.UAVDesc{
			ViewDimension: gpu.ViewDimensionTexture2D,
			MipSlice:      uint32(i),
		}, defaultUAV.Descriptor(i))
	}

	device.logger.Debug("GenerateMipsPipeline::New", slog.Int("ShaderSize", len(shader)))

	return &GenerateMipsPipeline{
		rootSignature: rootSignature,
		pipelineState: pipelineState,
		defaultUAV:    defaultUAV,
	}, nil
}

func (p *GenerateMipsPipeline) PipelineState() gpu.PipelineState { return p.pipelineState }

func (p *GenerateMipsPipeline) RootSignature() *RootSignature { return p.rootSignature }

// DefaultUAV is the first of four consecutive null texture UAVs
func (p *GenerateMipsPipeline) DefaultUAV() gpu.CPUDescriptorHandle {
	return p.defaultUAV.Descriptor(0)
}
