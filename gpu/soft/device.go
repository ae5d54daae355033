// Package soft is an in-memory implementation of the gpu package. It executes buffer copies,
// tracks the true state of every subresource so that a barrier with a wrong "before" state is
// reported as a violation, and keeps a log of every submission. It is used by tests and by the
// afrsim command.
package soft

import (
	"fmt"
	"math/bits"
	"sync"

	"github.com/afrcore/afrcore/gpu"
	"github.com/afrcore/afrcore/memutils"
	"github.com/cockroachdb/errors"
	"github.com/gogpu/gputypes"
)

const (
	resourceAddressBase uint64 = 0x1_0000_0000
	descriptorHeapBase  uint64 = 0x10_0000
	gpuDescriptorBase   uint64 = 0x8000_0000_0000
	addressSpaceAlign   uint64 = 64 * 1024
	defaultMaxNodeCount        = 32
)

var descriptorIncrementSizes = [gpu.NumDescriptorHeapTypes]uint32{
	gpu.DescriptorHeapTypeCBVSRVUAV: 32,
	gpu.DescriptorHeapTypeSampler:   32,
	gpu.DescriptorHeapTypeRTV:       8,
	gpu.DescriptorHeapTypeDSV:       8,
}

// Options configures a software device
type Options struct {
	// NodeCount is the number of physical adapters the device pretends to have. Zero means one.
	NodeCount uint32
	// ManualFenceCompletion keeps signaled fence values pending until CommandQueue.CompleteAll or
	// CommandQueue.CompleteNext is called. Without it, work completes as soon as it is submitted.
	ManualFenceCompletion bool
	// FormatSupport overrides the capabilities reported for individual formats
	FormatSupport map[gputypes.TextureFormat]gpu.FormatSupport
	// MaxSampleCount is the largest multisample count any format supports. Zero means
	// DefaultMaxSampleCount.
	MaxSampleCount uint32
}

const DefaultMaxSampleCount = 8

// Device is a software gpu.Device
type Device struct {
	options Options

	mutex           sync.Mutex
	nodeCount       uint32
	affinity        gpu.NodeMask
	activeNode      uint32
	nextAddress     uint64
	nextCPUHandle   uint64
	nextGPUHandle   uint64
	descriptorHeaps []*DescriptorHeap
	failures        map[string]error
	violations      []string
	resourceCount   int
}

var _ gpu.Device = &Device{}

func NewDevice(options Options) *Device {
	nodeCount := options.NodeCount
	if nodeCount == 0 {
		nodeCount = 1
	}
	if nodeCount > defaultMaxNodeCount {
		nodeCount = defaultMaxNodeCount
	}

	return &Device{
		options:       options,
		nodeCount:     nodeCount,
		affinity:      gpu.NodeMask(1)<<nodeCount - 1,
		nextAddress:   resourceAddressBase,
		nextCPUHandle: descriptorHeapBase,
		nextGPUHandle: gpuDescriptorBase,
		failures:      make(map[string]error),
	}
}

// InjectFailure makes the next call of the named device, queue or command allocator method
// return err
func (d *Device) InjectFailure(call string, err error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	d.failures[call] = err
}

func (d *Device) takeFailure(call string) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	err, ok := d.failures[call]
	if !ok {
		return nil
	}
	delete(d.failures, call)
	return err
}

func (d *Device) violate(format string, args ...any) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	d.violations = append(d.violations, fmt.Sprintf(format, args...))
}

// Violations lists every misuse of the API the device has observed, such as a barrier whose before
// state did not match the subresource's actual state
func (d *Device) Violations() []string {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	return append([]string(nil), d.violations...)
}

// LiveResourceCount is the number of resources created so far
func (d *Device) LiveResourceCount() int {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	return d.resourceCount
}

func (d *Device) NodeCount() uint32 {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	return uint32(bits.OnesCount32(uint32(d.affinity)))
}

func (d *Device) NodeMask() gpu.NodeMask {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	return d.affinity
}

func (d *Device) SetAffinity(mask gpu.NodeMask) error {
	if err := d.takeFailure("SetAffinity"); err != nil {
		return err
	}

	all := gpu.NodeMask(1)<<d.nodeCount - 1
	if mask == 0 || mask&^all != 0 {
		return errors.Newf("affinity mask %#x is not a non-empty subset of %#x", mask, all)
	}

	d.mutex.Lock()
	defer d.mutex.Unlock()

	d.affinity = mask
	d.activeNode = 0
	return nil
}

// SwitchToNextNode moves to the next node under the device's affinity, wrapping back to the first
func (d *Device) SwitchToNextNode() {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	d.activeNode = (d.activeNode + 1) % uint32(bits.OnesCount32(uint32(d.affinity)))
}

func (d *Device) ActiveNodeIndex() uint32 {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	return d.activeNode
}

func (d *Device) ActiveNodeMask() gpu.NodeMask {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	mask := uint32(d.affinity)
	for i := uint32(0); i < d.activeNode; i++ {
		mask &= mask - 1
	}
	return gpu.NodeMask(mask & -mask)
}

func (d *Device) CreateCommandQueue(listType gpu.CommandListType) (gpu.CommandQueue, error) {
	if err := d.takeFailure("CreateCommandQueue"); err != nil {
		return nil, err
	}

	return &CommandQueue{
		object:   object{name: listType.String() + " queue"},
		device:   d,
		listType: listType,
	}, nil
}

func (d *Device) CreateCommandAllocator(listType gpu.CommandListType) (gpu.CommandAllocator, error) {
	if err := d.takeFailure("CreateCommandAllocator"); err != nil {
		return nil, err
	}

	return &CommandAllocator{device: d, listType: listType}, nil
}

func (d *Device) CreateCommandList(listType gpu.CommandListType, allocator gpu.CommandAllocator, initialState gpu.PipelineState) (gpu.CommandList, error) {
	if err := d.takeFailure("CreateCommandList"); err != nil {
		return nil, err
	}
	if allocator.Type() != listType {
		return nil, errors.Newf("allocator of type %s cannot record a %s list", allocator.Type(), listType)
	}

	list := &CommandList{device: d, listType: listType, allocator: allocator}
	if initialState != nil {
		list.SetPipelineState(initialState)
	}
	return list, nil
}

func (d *Device) CreateFence(initialValue uint64) (gpu.Fence, error) {
	if err := d.takeFailure("CreateFence"); err != nil {
		return nil, err
	}

	return &Fence{completed: initialValue}, nil
}

func (d *Device) allocateAddress(size uint64) uint64 {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	address := d.nextAddress
	d.nextAddress = memutils.AlignUp(d.nextAddress+max(size, 1), addressSpaceAlign)
	d.resourceCount++
	return address
}

func (d *Device) newResource(heapType gpu.HeapType, desc gpu.ResourceDesc, initialState gpu.ResourceStates, clearValue *gpu.ClearValue) (*Resource, error) {
	if desc.Dimension == gpu.ResourceDimensionUnknown {
		return nil, errors.New("resource dimension must be specified")
	}
	if desc.Dimension == gpu.ResourceDimensionBuffer && desc.Width == 0 {
		return nil, errors.New("buffers must have a non-zero width")
	}
	if desc.Dimension != gpu.ResourceDimensionBuffer && (desc.Width == 0 || desc.Height == 0 || desc.MipLevels == 0) {
		return nil, errors.Newf("texture %dx%d with %d mips is invalid", desc.Width, desc.Height, desc.MipLevels)
	}
	if heapType != gpu.HeapTypeDefault && desc.Dimension != gpu.ResourceDimensionBuffer {
		return nil, errors.Newf("textures cannot live in %s heaps", heapType)
	}
	if desc.SampleCount > 1 {
		if desc.Dimension != gpu.ResourceDimensionTexture2D || desc.MipLevels != 1 {
			return nil, errors.Newf("multisampled resources must be 2D textures with one mip, not %s with %d mips", desc.Dimension, desc.MipLevels)
		}
		if levels := d.qualityLevels(desc.Format, desc.SampleCount, gpu.MultisampleQualityLevelsFlagNone); desc.SampleQuality >= levels {
			return nil, errors.Newf("%s does not support %d samples at quality %d", desc.Format, desc.SampleCount, desc.SampleQuality)
		}
	}
	if heapType == gpu.HeapTypeUpload {
		initialState = gpu.ResourceStateGenericRead
	} else if heapType == gpu.HeapTypeReadback {
		initialState = gpu.ResourceStateCopyDest
	}

	resource := &Resource{
		device:     d,
		desc:       desc,
		heapType:   heapType,
		states:     make([]gpu.ResourceStates, desc.SubresourceCount()),
		clearValue: clearValue,
	}
	for i := range resource.states {
		resource.states[i] = initialState
	}
	if desc.Dimension == gpu.ResourceDimensionBuffer {
		resource.memory = make([]byte, desc.Width)
		resource.address = d.allocateAddress(desc.Width)
	} else {
		d.allocateAddress(0)
	}

	return resource, nil
}

func (d *Device) CreateCommittedResource(heapType gpu.HeapType, desc gpu.ResourceDesc, initialState gpu.ResourceStates, clearValue *gpu.ClearValue) (gpu.Resource, error) {
	if err := d.takeFailure("CreateCommittedResource"); err != nil {
		return nil, err
	}
	return d.newResource(heapType, desc, initialState, clearValue)
}

func (d *Device) CreateHeap(desc gpu.HeapDesc) (gpu.Heap, error) {
	if err := d.takeFailure("CreateHeap"); err != nil {
		return nil, err
	}
	if desc.SizeInBytes == 0 {
		return nil, errors.New("heaps must have a non-zero size")
	}

	return &Heap{desc: desc}, nil
}

func (d *Device) CreatePlacedResource(heap gpu.Heap, offset uint64, desc gpu.ResourceDesc, initialState gpu.ResourceStates, clearValue *gpu.ClearValue) (gpu.Resource, error) {
	if err := d.takeFailure("CreatePlacedResource"); err != nil {
		return nil, err
	}

	info := d.ResourceAllocationInfo(desc)
	if offset+info.SizeInBytes > heap.Desc().SizeInBytes {
		return nil, errors.Newf("placed resource of %d bytes at offset %d does not fit a heap of %d bytes", info.SizeInBytes, offset, heap.Desc().SizeInBytes)
	}

	resource, err := d.newResource(heap.Desc().Type, desc, initialState, clearValue)
	if err != nil {
		return nil, err
	}
	resource.heap = heap
	return resource, nil
}

// ResourceAllocationInfo reports the footprint of every resource as its linear layout rounded to 64KiB
func (d *Device) ResourceAllocationInfo(descs ...gpu.ResourceDesc) gpu.AllocationInfo {
	var info gpu.AllocationInfo
	info.Alignment = addressSpaceAlign

	for _, desc := range descs {
		size := desc.Width
		if desc.Dimension != gpu.ResourceDimensionBuffer {
			total, err := gpu.RequiredIntermediateSize(desc, 0, desc.SubresourceCount())
			if err != nil {
				total = desc.Width * uint64(desc.Height) * 16
			}
			size = total
		}
		info.SizeInBytes = memutils.AlignUp(info.SizeInBytes, addressSpaceAlign) + memutils.AlignUp(size, addressSpaceAlign)
	}

	return info
}

func (d *Device) CreateRootSignature(desc gpu.RootSignatureDesc) (gpu.RootSignature, error) {
	if err := d.takeFailure("CreateRootSignature"); err != nil {
		return nil, err
	}

	for index, param := range desc.Parameters {
		if param.Type != gpu.RootParameterTypeDescriptorTable {
			continue
		}
		for _, r := range param.Ranges {
			if (r.Type == gpu.DescriptorRangeTypeSampler) != (param.HeapType() == gpu.DescriptorHeapTypeSampler) {
				return nil, errors.Newf("root parameter %d mixes samplers with other descriptors", index)
			}
		}
	}

	return &RootSignature{desc: desc}, nil
}

func (d *Device) CreateComputePipelineState(desc gpu.ComputePipelineStateDesc) (gpu.PipelineState, error) {
	if err := d.takeFailure("CreateComputePipelineState"); err != nil {
		return nil, err
	}
	if desc.RootSignature == nil {
		return nil, errors.New("compute pipelines require a root signature")
	}
	if len(desc.CS) == 0 {
		return nil, errors.New("compute pipelines require shader bytecode")
	}

	return &PipelineState{rootSignature: desc.RootSignature}, nil
}

var uavFormats = map[gputypes.TextureFormat]bool{
	gputypes.TextureFormatR8Unorm:     true,
	gputypes.TextureFormatR16Float:    true,
	gputypes.TextureFormatR32Float:    true,
	gputypes.TextureFormatR32Uint:     true,
	gputypes.TextureFormatR32Sint:     true,
	gputypes.TextureFormatRG16Float:   true,
	gputypes.TextureFormatRG32Float:   true,
	gputypes.TextureFormatRGBA8Unorm:  true,
	gputypes.TextureFormatRGBA8Uint:   true,
	gputypes.TextureFormatRGBA16Float: true,
	gputypes.TextureFormatRGBA16Unorm: true,
	gputypes.TextureFormatRGBA32Float: true,
	gputypes.TextureFormatRGBA32Uint:  true,
}

func (d *Device) CheckFormatSupport(format gputypes.TextureFormat) (gpu.FormatSupport, error) {
	if err := d.takeFailure("CheckFormatSupport"); err != nil {
		return gpu.FormatSupport{}, err
	}
	return d.formatSupport(format), nil
}

func (d *Device) formatSupport(format gputypes.TextureFormat) gpu.FormatSupport {
	if support, ok := d.options.FormatSupport[format]; ok {
		support.Format = format
		return support
	}

	support := gpu.FormatSupport{Format: format}
	if format == gputypes.TextureFormatUndefined {
		support.Support1 = gpu.FormatSupport1Buffer
		return support
	}

	support.Support1 = gpu.FormatSupport1Texture2D | gpu.FormatSupport1ShaderSample
	if format.IsDepthStencil() {
		support.Support1 |= gpu.FormatSupport1DepthStencil | gpu.FormatSupport1MultisampleRenderTarget
		return support
	}
	if gpu.BytesPerPixel(format) > 0 {
		support.Support1 |= gpu.FormatSupport1RenderTarget | gpu.FormatSupport1Blendable |
			gpu.FormatSupport1MultisampleResolve | gpu.FormatSupport1MultisampleRenderTarget
	}
	if uavFormats[format] {
		support.Support1 |= gpu.FormatSupport1TypedUnorderedAccessView
		support.Support2 |= gpu.FormatSupport2UAVTypedLoad | gpu.FormatSupport2UAVTypedStore
	}
	return support
}

// CheckMultisampleQualityLevels reports one quality level for single-sampled formats. Formats that
// can be multisampled render targets report two levels for every power-of-two count up to
// Options.MaxSampleCount, or one for tiled resources.
func (d *Device) CheckMultisampleQualityLevels(format gputypes.TextureFormat, sampleCount uint32, flags gpu.MultisampleQualityLevelFlags) (uint32, error) {
	if err := d.takeFailure("CheckMultisampleQualityLevels"); err != nil {
		return 0, err
	}
	return d.qualityLevels(format, sampleCount, flags), nil
}

func (d *Device) qualityLevels(format gputypes.TextureFormat, sampleCount uint32, flags gpu.MultisampleQualityLevelFlags) uint32 {
	if format == gputypes.TextureFormatUndefined || sampleCount == 0 || sampleCount&(sampleCount-1) != 0 {
		return 0
	}
	if sampleCount == 1 {
		return 1
	}

	maxSampleCount := d.options.MaxSampleCount
	if maxSampleCount == 0 {
		maxSampleCount = DefaultMaxSampleCount
	}
	if sampleCount > maxSampleCount || d.formatSupport(format).Support1&gpu.FormatSupport1MultisampleRenderTarget == 0 {
		return 0
	}
	if flags&gpu.MultisampleQualityLevelsFlagTiledResource != 0 {
		return 1
	}
	return 2
}
