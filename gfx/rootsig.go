package gfx

import (
	"github.com/afrcore/afrcore/dynheap"
	"github.com/afrcore/afrcore/gpu"
	"github.com/afrcore/afrcore/memutils"
	"github.com/cockroachdb/errors"
)

// RootSignature is a gpu.RootSignature together with the layout of its descriptor tables, which
// command lists use to stage descriptors
type RootSignature struct {
	rootSignature gpu.RootSignature
	desc          gpu.RootSignatureDesc

	samplerTableMask    uint32
	descriptorTableMask uint32
	numDescriptors      [dynheap.MaxDescriptorTables]uint32
}

var _ dynheap.RootSignature = &RootSignature{}

// CreateRootSignature creates a root signature of at most 32 parameters
func (d *Device) CreateRootSignature(desc gpu.RootSignatureDesc) (*RootSignature, error) {
	if len(desc.Parameters) > dynheap.MaxDescriptorTables {
		return nil, errors.Wrapf(memutils.InvalidArgumentError, "root signature has %d parameters; at most %d are supported", len(desc.Parameters), dynheap.MaxDescriptorTables)
	}

	native, err := d.gpu.CreateRootSignature(desc)
	if err != nil {
		return nil, memutils.HostFailure(err, "CreateRootSignature")
	}

	signature := &RootSignature{
		rootSignature: native,
		desc:          desc,
	}
	for index, param := range desc.Parameters {
		if param.Type != gpu.RootParameterTypeDescriptorTable || len(param.Ranges) == 0 {
			continue
		}

		if param.HeapType() == gpu.DescriptorHeapTypeSampler {
			signature.samplerTableMask |= 1 << index
		} else {
			signature.descriptorTableMask |= 1 << index
		}
		signature.numDescriptors[index] = param.NumDescriptors()
	}

	return signature, nil
}

func (s *RootSignature) Native() gpu.RootSignature { return s.rootSignature }

func (s *RootSignature) Desc() gpu.RootSignatureDesc { return s.desc }

func (s *RootSignature) DescriptorTableBitMask(heapType gpu.DescriptorHeapType) uint32 {
	switch heapType {
	case gpu.DescriptorHeapTypeCBVSRVUAV:
		return s.descriptorTableMask
	case gpu.DescriptorHeapTypeSampler:
		return s.samplerTableMask
	}
	return 0
}

func (s *RootSignature) NumDescriptors(rootIndex uint32) uint32 {
	if rootIndex >= dynheap.MaxDescriptorTables {
		return 0
	}
	return s.numDescriptors[rootIndex]
}
