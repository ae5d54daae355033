package upload

import (
	"fmt"

	"github.com/afrcore/afrcore/gpu"
	"github.com/afrcore/afrcore/memutils"
	"github.com/afrcore/afrcore/memutils/metadata"
	"github.com/cockroachdb/errors"
)

// page is one persistently mapped upload buffer. Allocations are bumped off a cursor and the page is
// only ever rewound as a whole.
type page struct {
	id       int
	resource gpu.Resource
	cpu      []byte
	base     gpu.GPUVirtualAddress
	metadata *metadata.LinearBlockMetadata
}

func newPage(device gpu.Device, size int, id int) (*page, error) {
	resource, err := device.CreateCommittedResource(gpu.HeapTypeUpload, gpu.BufferDesc(uint64(size), gpu.ResourceFlagNone), gpu.ResourceStateGenericRead, nil)
	if err != nil {
		return nil, memutils.HostFailure(err, "CreateCommittedResource")
	}
	resource.SetName(fmt.Sprintf("upload page %d", id))

	cpu, err := resource.Map()
	if err != nil {
		return nil, memutils.HostFailure(err, "Map")
	}

	p := &page{
		id:       id,
		resource: resource,
		cpu:      cpu,
		base:     resource.GPUVirtualAddress(),
		metadata: metadata.NewLinearBlockMetadata(),
	}
	p.metadata.Init(size)
	return p, nil
}

func (p *page) Allocate(size int, alignment uint, outAlloc *Allocation) (bool, error) {
	success, request, err := p.metadata.CreateAllocationRequest(size, alignment, 0)
	if err != nil || !success {
		return false, err
	}

	err = p.metadata.Alloc(request, nil)
	if err != nil {
		return false, err
	}

	offset := request.Item.Offset
	outAlloc.CPU = p.cpu[offset : offset+size : offset+size]
	outAlloc.GPU = p.base + gpu.GPUVirtualAddress(offset)
	outAlloc.Resource = p.resource
	outAlloc.Offset = uint64(offset)

	if end := offset + size; end+memutils.DebugMargin <= len(p.cpu) {
		memutils.WriteMagicValue(p.cpu, end)
	}
	memutils.DebugValidate(p)
	return true, nil
}

// Offset is the cursor position: the first byte past the most recent allocation
func (p *page) Offset() int {
	return p.metadata.Cursor()
}

func (p *page) Reset() {
	p.metadata.Clear()
}

func (p *page) Validate() error {
	if p.resource == nil {
		return errors.New("no upload resource for this page")
	}
	if len(p.cpu) != p.metadata.Size() {
		return errors.Newf("mapped size %d does not match the page size %d", len(p.cpu), p.metadata.Size())
	}

	err := p.metadata.VisitAllRegions(func(handle metadata.BlockAllocationHandle, offset, size int, userData any, free bool) error {
		end := offset + size
		if free || end+memutils.DebugMargin > len(p.cpu) {
			return nil
		}
		if !memutils.ValidateMagicValue(p.cpu, end) {
			return errors.Newf("memory past the allocation at offset %d was overwritten", offset)
		}
		return nil
	})
	if err != nil {
		return err
	}

	return p.metadata.Validate()
}

func (p *page) Destroy() {
	if p.resource != nil {
		p.resource.Unmap()
	}
	p.resource = nil
	p.cpu = nil
	p.metadata.Clear()
}
