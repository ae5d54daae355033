package gpu

import "github.com/gogpu/gputypes"

// ViewDimension selects how a view interprets its resource
type ViewDimension int

const (
	ViewDimensionUnknown ViewDimension = iota
	ViewDimensionBuffer
	ViewDimensionTexture1D
	ViewDimensionTexture2D
	ViewDimensionTexture2DArray
	ViewDimensionTexture2DMS
	ViewDimensionTexture3D
	ViewDimensionTextureCube
)

// SRVDesc describes a shader resource view. The zero value is not valid; pass a nil *SRVDesc to get a
// view of the whole resource in its own format.
type SRVDesc struct {
	Format          gputypes.TextureFormat
	ViewDimension   ViewDimension
	MostDetailedMip uint32
	MipLevels       uint32
	FirstArraySlice uint32
	ArraySize       uint32

	FirstElement        uint64
	NumElements         uint32
	StructureByteStride uint32
	Raw                 bool
}

// UAVDesc describes an unordered access view
type UAVDesc struct {
	Format          gputypes.TextureFormat
	ViewDimension   ViewDimension
	MipSlice        uint32
	FirstArraySlice uint32
	ArraySize       uint32

	FirstElement        uint64
	NumElements         uint32
	StructureByteStride uint32
	Raw                 bool
}

// RTVDesc describes a render target view
type RTVDesc struct {
	Format          gputypes.TextureFormat
	ViewDimension   ViewDimension
	MipSlice        uint32
	FirstArraySlice uint32
	ArraySize       uint32
}

// DSVDesc describes a depth-stencil view
type DSVDesc struct {
	Format          gputypes.TextureFormat
	ViewDimension   ViewDimension
	MipSlice        uint32
	FirstArraySlice uint32
	ArraySize       uint32
}

// CBVDesc describes a constant buffer view
type CBVDesc struct {
	BufferLocation GPUVirtualAddress
	SizeInBytes    uint32
}

// VertexBufferView binds a vertex buffer to an input slot
type VertexBufferView struct {
	BufferLocation GPUVirtualAddress
	SizeInBytes    uint32
	StrideInBytes  uint32
}

// IndexBufferView binds an index buffer
type IndexBufferView struct {
	BufferLocation GPUVirtualAddress
	SizeInBytes    uint32
	Format         gputypes.IndexFormat
}

type Viewport struct {
	TopLeftX float32
	TopLeftY float32
	Width    float32
	Height   float32
	MinDepth float32
	MaxDepth float32
}

type Rect struct {
	Left   int32
	Top    int32
	Right  int32
	Bottom int32
}

// SubresourceFootprint is the layout of one subresource inside a buffer
type SubresourceFootprint struct {
	Format   gputypes.TextureFormat
	Width    uint32
	Height   uint32
	Depth    uint32
	RowPitch uint32
}

// PlacedSubresourceFootprint is a SubresourceFootprint at an offset of a buffer
type PlacedSubresourceFootprint struct {
	Offset    uint64
	Footprint SubresourceFootprint
}

// TextureCopyLocation is either a subresource of a texture or a footprint inside a buffer
type TextureCopyLocation struct {
	Resource         Resource
	SubresourceIndex uint32
	PlacedFootprint  *PlacedSubresourceFootprint
}

// SubresourceData is CPU data for one subresource. RowPitch and SlicePitch are in bytes.
type SubresourceData struct {
	Data       []byte
	RowPitch   int
	SlicePitch int
}
