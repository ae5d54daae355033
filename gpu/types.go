// Package gpu describes the explicit-submission GPU API that the rest of the module records
// against: devices with several affinity nodes, command queues, allocators and lists, resources,
// heaps, descriptor heaps, fences, root signatures and pipeline states.
package gpu

import (
	"strings"

	"github.com/gogpu/gputypes"
)

// CommandListType identifies the kind of queue a command list can be submitted to
type CommandListType int

const (
	CommandListTypeDirect CommandListType = iota
	CommandListTypeCompute
	CommandListTypeCopy

	NumCommandListTypes = 3
)

var commandListTypeMapping = map[CommandListType]string{
	CommandListTypeDirect:  "Direct",
	CommandListTypeCompute: "Compute",
	CommandListTypeCopy:    "Copy",
}

func (t CommandListType) String() string {
	return commandListTypeMapping[t]
}

// DescriptorHeapType identifies the kind of descriptor a heap stores
type DescriptorHeapType int

const (
	DescriptorHeapTypeCBVSRVUAV DescriptorHeapType = iota
	DescriptorHeapTypeSampler
	DescriptorHeapTypeRTV
	DescriptorHeapTypeDSV

	NumDescriptorHeapTypes = 4
)

var descriptorHeapTypeMapping = map[DescriptorHeapType]string{
	DescriptorHeapTypeCBVSRVUAV: "CBV_SRV_UAV",
	DescriptorHeapTypeSampler:   "Sampler",
	DescriptorHeapTypeRTV:       "RTV",
	DescriptorHeapTypeDSV:       "DSV",
}

func (t DescriptorHeapType) String() string {
	return descriptorHeapTypeMapping[t]
}

// ResourceStates is a bitmask of the ways a resource may currently be accessed by the GPU
type ResourceStates uint32

const (
	ResourceStateCommon                  ResourceStates = 0
	ResourceStateVertexAndConstantBuffer ResourceStates = 0x1
	ResourceStateIndexBuffer             ResourceStates = 0x2
	ResourceStateRenderTarget            ResourceStates = 0x4
	ResourceStateUnorderedAccess         ResourceStates = 0x8
	ResourceStateDepthWrite              ResourceStates = 0x10
	ResourceStateDepthRead               ResourceStates = 0x20
	ResourceStateNonPixelShaderResource  ResourceStates = 0x40
	ResourceStatePixelShaderResource     ResourceStates = 0x80
	ResourceStateIndirectArgument        ResourceStates = 0x200
	ResourceStateCopyDest                ResourceStates = 0x400
	ResourceStateCopySource              ResourceStates = 0x800
	ResourceStateResolveDest             ResourceStates = 0x1000
	ResourceStateResolveSource           ResourceStates = 0x2000

	ResourceStateGenericRead = ResourceStateVertexAndConstantBuffer | ResourceStateIndexBuffer |
		ResourceStateNonPixelShaderResource | ResourceStatePixelShaderResource |
		ResourceStateIndirectArgument | ResourceStateCopySource
	ResourceStatePresent = ResourceStateCommon
)

var resourceStateNames = []struct {
	state ResourceStates
	name  string
}{
	{ResourceStateVertexAndConstantBuffer, "VERTEX_AND_CONSTANT_BUFFER"},
	{ResourceStateIndexBuffer, "INDEX_BUFFER"},
	{ResourceStateRenderTarget, "RENDER_TARGET"},
	{ResourceStateUnorderedAccess, "UNORDERED_ACCESS"},
	{ResourceStateDepthWrite, "DEPTH_WRITE"},
	{ResourceStateDepthRead, "DEPTH_READ"},
	{ResourceStateNonPixelShaderResource, "NON_PIXEL_SHADER_RESOURCE"},
	{ResourceStatePixelShaderResource, "PIXEL_SHADER_RESOURCE"},
	{ResourceStateIndirectArgument, "INDIRECT_ARGUMENT"},
	{ResourceStateCopyDest, "COPY_DEST"},
	{ResourceStateCopySource, "COPY_SOURCE"},
	{ResourceStateResolveDest, "RESOLVE_DEST"},
	{ResourceStateResolveSource, "RESOLVE_SOURCE"},
}

func (s ResourceStates) String() string {
	if s == ResourceStateCommon {
		return "COMMON"
	}
	if s == ResourceStateGenericRead {
		return "GENERIC_READ"
	}

	var names []string
	for _, entry := range resourceStateNames {
		if s&entry.state != 0 {
			names = append(names, entry.name)
		}
	}
	return strings.Join(names, "|")
}

// AllSubresources addresses every subresource of a resource at once
const AllSubresources uint32 = 0xffffffff

// NodeMask is a bitmask over the physical adapters of an affinity device
type NodeMask uint32

// GPUVirtualAddress is the address of a buffer location as seen by the GPU
type GPUVirtualAddress uint64

// CPUDescriptorHandle addresses one descriptor in a descriptor heap from the CPU
type CPUDescriptorHandle struct {
	Ptr uint64
}

// Offset returns the handle count descriptors further along a heap with the given increment size
func (h CPUDescriptorHandle) Offset(count uint32, incrementSize uint32) CPUDescriptorHandle {
	return CPUDescriptorHandle{Ptr: h.Ptr + uint64(count)*uint64(incrementSize)}
}

func (h CPUDescriptorHandle) IsNull() bool { return h.Ptr == 0 }

// GPUDescriptorHandle addresses one descriptor in a shader-visible descriptor heap from the GPU
type GPUDescriptorHandle struct {
	Ptr uint64
}

func (h GPUDescriptorHandle) Offset(count uint32, incrementSize uint32) GPUDescriptorHandle {
	return GPUDescriptorHandle{Ptr: h.Ptr + uint64(count)*uint64(incrementSize)}
}

func (h GPUDescriptorHandle) IsNull() bool { return h.Ptr == 0 }

// HeapType selects the memory pool a resource or heap lives in
type HeapType int

const (
	HeapTypeDefault HeapType = iota
	HeapTypeUpload
	HeapTypeReadback
)

var heapTypeMapping = map[HeapType]string{
	HeapTypeDefault:  "Default",
	HeapTypeUpload:   "Upload",
	HeapTypeReadback: "Readback",
}

func (t HeapType) String() string {
	return heapTypeMapping[t]
}

// ResourceDimension is the shape of a resource
type ResourceDimension int

const (
	ResourceDimensionUnknown ResourceDimension = iota
	ResourceDimensionBuffer
	ResourceDimensionTexture1D
	ResourceDimensionTexture2D
	ResourceDimensionTexture3D
)

var resourceDimensionMapping = map[ResourceDimension]string{
	ResourceDimensionUnknown:   "Unknown",
	ResourceDimensionBuffer:    "Buffer",
	ResourceDimensionTexture1D: "Texture1D",
	ResourceDimensionTexture2D: "Texture2D",
	ResourceDimensionTexture3D: "Texture3D",
}

func (d ResourceDimension) String() string {
	return resourceDimensionMapping[d]
}

// ResourceFlags allow additional usages of a resource
type ResourceFlags uint32

const (
	ResourceFlagNone                    ResourceFlags = 0
	ResourceFlagAllowRenderTarget       ResourceFlags = 0x1
	ResourceFlagAllowDepthStencil       ResourceFlags = 0x2
	ResourceFlagAllowUnorderedAccess    ResourceFlags = 0x4
	ResourceFlagDenyShaderResource      ResourceFlags = 0x8
	ResourceFlagAllowSimultaneousAccess ResourceFlags = 0x20
)

// ResourceDesc describes a buffer or texture
type ResourceDesc struct {
	Dimension        ResourceDimension
	Alignment        uint64
	Width            uint64
	Height           uint32
	DepthOrArraySize uint16
	MipLevels        uint16
	Format           gputypes.TextureFormat
	SampleCount      uint32
	SampleQuality    uint32
	Flags            ResourceFlags
}

// BufferDesc describes a buffer of size bytes
func BufferDesc(size uint64, flags ResourceFlags) ResourceDesc {
	return ResourceDesc{
		Dimension:        ResourceDimensionBuffer,
		Width:            size,
		Height:           1,
		DepthOrArraySize: 1,
		MipLevels:        1,
		Format:           gputypes.TextureFormatUndefined,
		SampleCount:      1,
		Flags:            flags,
	}
}

// Tex2DDesc describes a 2D texture. A mipLevels of 0 requests the full mip chain.
func Tex2DDesc(format gputypes.TextureFormat, width uint64, height uint32, arraySize uint16, mipLevels uint16, flags ResourceFlags) ResourceDesc {
	desc := ResourceDesc{
		Dimension:        ResourceDimensionTexture2D,
		Width:            width,
		Height:           height,
		DepthOrArraySize: arraySize,
		MipLevels:        mipLevels,
		Format:           format,
		SampleCount:      1,
		Flags:            flags,
	}
	if desc.MipLevels == 0 {
		desc.MipLevels = FullMipCount(width, height)
	}
	return desc
}

// FullMipCount is the number of mips in a complete chain for a texture of the given size
func FullMipCount(width uint64, height uint32) uint16 {
	size := max(width, uint64(height))
	count := uint16(1)
	for size > 1 {
		size >>= 1
		count++
	}
	return count
}

// ArraySize is the number of array slices of the resource; 3D textures have one
func (d ResourceDesc) ArraySize() uint32 {
	if d.Dimension == ResourceDimensionTexture3D || d.DepthOrArraySize == 0 {
		return 1
	}
	return uint32(d.DepthOrArraySize)
}

// SubresourceCount is the number of independently tracked subresources
func (d ResourceDesc) SubresourceCount() uint32 {
	if d.Dimension == ResourceDimensionBuffer {
		return 1
	}
	mips := uint32(d.MipLevels)
	if mips == 0 {
		mips = 1
	}
	return mips * d.ArraySize()
}

// CalcSubresource returns the subresource index for a mip slice and array slice
func (d ResourceDesc) CalcSubresource(mipSlice, arraySlice uint32) uint32 {
	return mipSlice + arraySlice*uint32(d.MipLevels)
}

// MipSize returns the width and height of mip level mip
func (d ResourceDesc) MipSize(mip uint32) (uint64, uint32) {
	return max(d.Width>>mip, 1), max(d.Height>>mip, 1)
}

// ClearFlags selects which parts of a depth-stencil view are cleared
type ClearFlags uint32

const (
	ClearFlagDepth ClearFlags = 1 << iota
	ClearFlagStencil
)

// ClearValue is the optimized clear value of a render target or depth-stencil resource
type ClearValue struct {
	Format  gputypes.TextureFormat
	Color   [4]float32
	Depth   float32
	Stencil uint8
}

// HeapDesc describes a heap that placed resources can be created in
type HeapDesc struct {
	SizeInBytes uint64
	Type        HeapType
	Alignment   uint64
}

// AllocationInfo is the size and alignment a set of resources requires in a heap
type AllocationInfo struct {
	SizeInBytes uint64
	Alignment   uint64
}

// DescriptorHeapDesc describes a descriptor heap
type DescriptorHeapDesc struct {
	Type           DescriptorHeapType
	NumDescriptors uint32
	ShaderVisible  bool
	NodeMask       NodeMask
}

// FormatSupport1 is the first half of a format's capabilities
type FormatSupport1 uint32

const (
	FormatSupport1Buffer                   FormatSupport1 = 0x1
	FormatSupport1Texture2D                FormatSupport1 = 0x20
	FormatSupport1ShaderSample             FormatSupport1 = 0x400
	FormatSupport1RenderTarget             FormatSupport1 = 0x4000
	FormatSupport1Blendable                FormatSupport1 = 0x8000
	FormatSupport1DepthStencil             FormatSupport1 = 0x10000
	FormatSupport1MultisampleResolve       FormatSupport1 = 0x40000
	FormatSupport1MultisampleRenderTarget  FormatSupport1 = 0x200000
	FormatSupport1TypedUnorderedAccessView FormatSupport1 = 0x40000000
)

// FormatSupport2 is the second half of a format's capabilities
type FormatSupport2 uint32

const (
	FormatSupport2UAVAtomicAdd        FormatSupport2 = 0x1
	FormatSupport2UAVTypedLoad        FormatSupport2 = 0x40
	FormatSupport2UAVTypedStore       FormatSupport2 = 0x80
	FormatSupport2OutputMergerLogicOp FormatSupport2 = 0x100
)

// FormatSupport holds both halves of a format's capabilities
type FormatSupport struct {
	Format   gputypes.TextureFormat
	Support1 FormatSupport1
	Support2 FormatSupport2
}

// SampleDesc is a multisample count and the quality level used with it
type SampleDesc struct {
	Count   uint32
	Quality uint32
}

type MultisampleQualityLevelFlags uint32

const (
	MultisampleQualityLevelsFlagNone          MultisampleQualityLevelFlags = 0
	MultisampleQualityLevelsFlagTiledResource MultisampleQualityLevelFlags = 0x1
)
