package soft

import (
	"github.com/afrcore/afrcore/gpu"
	"github.com/afrcore/afrcore/memutils"
	"github.com/cockroachdb/errors"
)

// DescriptorKind is the kind of view a descriptor slot holds
type DescriptorKind int

const (
	DescriptorKindNone DescriptorKind = iota
	DescriptorKindSRV
	DescriptorKindUAV
	DescriptorKindRTV
	DescriptorKindDSV
	DescriptorKindCBV
)

// Descriptor is the content of one descriptor slot
type Descriptor struct {
	Kind     DescriptorKind
	Resource gpu.Resource
	SRV      gpu.SRVDesc
	UAV      gpu.UAVDesc
	RTV      gpu.RTVDesc
	DSV      gpu.DSVDesc
	CBV      gpu.CBVDesc
	// Default is set when the view was created from a nil description
	Default bool
}

// DescriptorHeap is a software descriptor heap. CPU handles are addresses in a device-wide range
// so that any handle can be traced back to its heap and slot.
type DescriptorHeap struct {
	object

	device   *Device
	desc     gpu.DescriptorHeapDesc
	cpuStart uint64
	gpuStart uint64
	slots    []Descriptor
}

var _ gpu.DescriptorHeap = &DescriptorHeap{}

func (h *DescriptorHeap) Desc() gpu.DescriptorHeapDesc { return h.desc }

func (h *DescriptorHeap) CPUDescriptorHandleForHeapStart() gpu.CPUDescriptorHandle {
	return gpu.CPUDescriptorHandle{Ptr: h.cpuStart}
}

func (h *DescriptorHeap) GPUDescriptorHandleForHeapStart() gpu.GPUDescriptorHandle {
	return gpu.GPUDescriptorHandle{Ptr: h.gpuStart}
}

func (h *DescriptorHeap) increment() uint64 {
	return uint64(descriptorIncrementSizes[h.desc.Type])
}

func (h *DescriptorHeap) containsCPU(ptr uint64) bool {
	return ptr >= h.cpuStart && ptr < h.cpuStart+uint64(len(h.slots))*h.increment()
}

func (h *DescriptorHeap) containsGPU(ptr uint64) bool {
	return h.gpuStart != 0 && ptr >= h.gpuStart && ptr < h.gpuStart+uint64(len(h.slots))*h.increment()
}

func (d *Device) CreateDescriptorHeap(desc gpu.DescriptorHeapDesc) (gpu.DescriptorHeap, error) {
	if err := d.takeFailure("CreateDescriptorHeap"); err != nil {
		return nil, err
	}
	if desc.NumDescriptors == 0 {
		return nil, errors.New("descriptor heaps must hold at least one descriptor")
	}
	if desc.ShaderVisible && (desc.Type == gpu.DescriptorHeapTypeRTV || desc.Type == gpu.DescriptorHeapTypeDSV) {
		return nil, errors.Newf("%s heaps cannot be shader visible", desc.Type)
	}

	heap := &DescriptorHeap{
		device: d,
		desc:   desc,
		slots:  make([]Descriptor, desc.NumDescriptors),
	}
	span := uint64(desc.NumDescriptors) * heap.increment()

	d.mutex.Lock()
	defer d.mutex.Unlock()

	heap.cpuStart = d.nextCPUHandle
	d.nextCPUHandle = memutils.AlignUp(d.nextCPUHandle+span, addressSpaceAlign)
	if desc.ShaderVisible {
		heap.gpuStart = d.nextGPUHandle
		d.nextGPUHandle = memutils.AlignUp(d.nextGPUHandle+span, addressSpaceAlign)
	}
	d.descriptorHeaps = append(d.descriptorHeaps, heap)

	return heap, nil
}

func (d *Device) DescriptorHandleIncrementSize(heapType gpu.DescriptorHeapType) uint32 {
	return descriptorIncrementSizes[heapType]
}

func (d *Device) slotForCPU(handle gpu.CPUDescriptorHandle) (*DescriptorHeap, int, bool) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	for _, heap := range d.descriptorHeaps {
		if heap.containsCPU(handle.Ptr) {
			return heap, int((handle.Ptr - heap.cpuStart) / heap.increment()), true
		}
	}
	return nil, 0, false
}

func (d *Device) slotForGPU(handle gpu.GPUDescriptorHandle) (*DescriptorHeap, int, bool) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	for _, heap := range d.descriptorHeaps {
		if heap.containsGPU(handle.Ptr) {
			return heap, int((handle.Ptr - heap.gpuStart) / heap.increment()), true
		}
	}
	return nil, 0, false
}

// Descriptor reads the slot a CPU handle points at
func (d *Device) Descriptor(handle gpu.CPUDescriptorHandle) (Descriptor, bool) {
	heap, index, ok := d.slotForCPU(handle)
	if !ok {
		return Descriptor{}, false
	}

	d.mutex.Lock()
	defer d.mutex.Unlock()

	return heap.slots[index], true
}

// ShaderVisibleDescriptor reads the slot a GPU handle points at
func (d *Device) ShaderVisibleDescriptor(handle gpu.GPUDescriptorHandle) (Descriptor, bool) {
	heap, index, ok := d.slotForGPU(handle)
	if !ok {
		return Descriptor{}, false
	}

	d.mutex.Lock()
	defer d.mutex.Unlock()

	return heap.slots[index], true
}

func (d *Device) writeDescriptor(dst gpu.CPUDescriptorHandle, heapType gpu.DescriptorHeapType, descriptor Descriptor) {
	heap, index, ok := d.slotForCPU(dst)
	if !ok {
		d.violate("descriptor written to unknown handle %#x", dst.Ptr)
		return
	}
	if heap.desc.Type != heapType {
		d.violate("%s descriptor written to a %s heap", heapType, heap.desc.Type)
		return
	}

	d.mutex.Lock()
	defer d.mutex.Unlock()

	heap.slots[index] = descriptor
}

func (d *Device) CopyDescriptors(dstRangeStarts []gpu.CPUDescriptorHandle, dstRangeSizes []uint32, srcRangeStarts []gpu.CPUDescriptorHandle, srcRangeSizes []uint32, heapType gpu.DescriptorHeapType) {
	increment := d.DescriptorHandleIncrementSize(heapType)

	var sources []Descriptor
	for rangeIndex, start := range srcRangeStarts {
		size := uint32(1)
		if srcRangeSizes != nil {
			size = srcRangeSizes[rangeIndex]
		}
		for i := uint32(0); i < size; i++ {
			handle := start.Offset(i, increment)
			descriptor, ok := d.Descriptor(handle)
			if !ok {
				d.violate("descriptor copied from unknown handle %#x", handle.Ptr)
			}
			sources = append(sources, descriptor)
		}
	}

	var total uint32
	for _, size := range dstRangeSizes {
		total += size
	}
	if int(total) != len(sources) {
		d.violate("descriptor copy moves %d descriptors into %d slots", len(sources), total)
		return
	}

	next := 0
	for rangeIndex, start := range dstRangeStarts {
		for i := uint32(0); i < dstRangeSizes[rangeIndex]; i++ {
			d.writeDescriptor(start.Offset(i, increment), heapType, sources[next])
			next++
		}
	}
}

func (d *Device) CopyDescriptorsSimple(numDescriptors uint32, dst gpu.CPUDescriptorHandle, src gpu.CPUDescriptorHandle, heapType gpu.DescriptorHeapType) {
	d.CopyDescriptors(
		[]gpu.CPUDescriptorHandle{dst}, []uint32{numDescriptors},
		[]gpu.CPUDescriptorHandle{src}, []uint32{numDescriptors},
		heapType,
	)
}

func (d *Device) CreateShaderResourceView(resource gpu.Resource, desc *gpu.SRVDesc, dst gpu.CPUDescriptorHandle) {
	descriptor := Descriptor{Kind: DescriptorKindSRV, Resource: resource, Default: desc == nil}
	if desc != nil {
		descriptor.SRV = *desc
	}
	d.writeDescriptor(dst, gpu.DescriptorHeapTypeCBVSRVUAV, descriptor)
}

func (d *Device) CreateUnorderedAccessView(resource gpu.Resource, desc *gpu.UAVDesc, dst gpu.CPUDescriptorHandle) {
	if resource != nil && resource.Desc().Flags&gpu.ResourceFlagAllowUnorderedAccess == 0 {
		d.violate("unordered access view of %q, which does not allow unordered access", resource.Name())
	}

	descriptor := Descriptor{Kind: DescriptorKindUAV, Resource: resource, Default: desc == nil}
	if desc != nil {
		descriptor.UAV = *desc
	}
	d.writeDescriptor(dst, gpu.DescriptorHeapTypeCBVSRVUAV, descriptor)
}

func (d *Device) CreateRenderTargetView(resource gpu.Resource, desc *gpu.RTVDesc, dst gpu.CPUDescriptorHandle) {
	if resource.Desc().Flags&gpu.ResourceFlagAllowRenderTarget == 0 {
		d.violate("render target view of %q, which does not allow render targets", resource.Name())
	}

	descriptor := Descriptor{Kind: DescriptorKindRTV, Resource: resource, Default: desc == nil}
	if desc != nil {
		descriptor.RTV = *desc
	}
	d.writeDescriptor(dst, gpu.DescriptorHeapTypeRTV, descriptor)
}

func (d *Device) CreateDepthStencilView(resource gpu.Resource, desc *gpu.DSVDesc, dst gpu.CPUDescriptorHandle) {
	if resource.Desc().Flags&gpu.ResourceFlagAllowDepthStencil == 0 {
		d.violate("depth-stencil view of %q, which does not allow depth-stencil", resource.Name())
	}

	descriptor := Descriptor{Kind: DescriptorKindDSV, Resource: resource, Default: desc == nil}
	if desc != nil {
		descriptor.DSV = *desc
	}
	d.writeDescriptor(dst, gpu.DescriptorHeapTypeDSV, descriptor)
}

func (d *Device) CreateConstantBufferView(desc gpu.CBVDesc, dst gpu.CPUDescriptorHandle) {
	if desc.SizeInBytes%gpu.ConstantBufferDataPlacementAlignment != 0 {
		d.violate("constant buffer view size %d is not a multiple of %d", desc.SizeInBytes, gpu.ConstantBufferDataPlacementAlignment)
	}
	d.writeDescriptor(dst, gpu.DescriptorHeapTypeCBVSRVUAV, Descriptor{Kind: DescriptorKindCBV, CBV: desc})
}
