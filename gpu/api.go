package gpu

import (
	"context"

	"github.com/gogpu/gputypes"
)

// Object is anything created by a Device. A command list keeps every Object it references alive
// until the GPU has finished with it.
type Object interface {
	SetName(name string)
	Name() string
}

type Resource interface {
	Object
	Desc() ResourceDesc
	GPUVirtualAddress() GPUVirtualAddress
	// Map returns the CPU view of an upload or readback resource
	Map() ([]byte, error)
	Unmap()
}

type Heap interface {
	Object
	Desc() HeapDesc
}

type DescriptorHeap interface {
	Object
	Desc() DescriptorHeapDesc
	CPUDescriptorHandleForHeapStart() CPUDescriptorHandle
	// GPUDescriptorHandleForHeapStart returns a null handle for heaps that are not shader visible
	GPUDescriptorHandleForHeapStart() GPUDescriptorHandle
}

type Fence interface {
	Object
	CompletedValue() uint64
	// Wait blocks until the fence reaches value or ctx is done
	Wait(ctx context.Context, value uint64) error
}

type PipelineState interface {
	Object
}

type RootSignature interface {
	Object
	Desc() RootSignatureDesc
}

type CommandAllocator interface {
	Object
	Type() CommandListType
	// Reset reclaims the allocator's memory; every list recorded with it must have finished executing
	Reset() error
}

type CommandList interface {
	Object
	Type() CommandListType
	Close() error
	Reset(allocator CommandAllocator, initialState PipelineState) error

	ResourceBarrier(barriers []ResourceBarrier)

	CopyResource(dst, src Resource)
	CopyBufferRegion(dst Resource, dstOffset uint64, src Resource, srcOffset uint64, numBytes uint64)
	CopyTextureRegion(dst TextureCopyLocation, dstX, dstY, dstZ uint32, src TextureCopyLocation)
	ResolveSubresource(dst Resource, dstSubresource uint32, src Resource, srcSubresource uint32, format gputypes.TextureFormat)

	IASetPrimitiveTopology(topology gputypes.PrimitiveTopology)
	IASetVertexBuffers(startSlot uint32, views []VertexBufferView)
	IASetIndexBuffer(view *IndexBufferView)
	RSSetViewports(viewports []Viewport)
	RSSetScissorRects(rects []Rect)
	OMSetRenderTargets(renderTargets []CPUDescriptorHandle, depthStencil *CPUDescriptorHandle)

	ClearRenderTargetView(renderTarget CPUDescriptorHandle, color [4]float32)
	ClearDepthStencilView(depthStencil CPUDescriptorHandle, flags ClearFlags, depth float32, stencil uint8)

	SetPipelineState(pipelineState PipelineState)
	SetGraphicsRootSignature(rootSignature RootSignature)
	SetComputeRootSignature(rootSignature RootSignature)
	SetDescriptorHeaps(heaps []DescriptorHeap)
	SetGraphicsRootDescriptorTable(rootParameterIndex uint32, baseDescriptor GPUDescriptorHandle)
	SetComputeRootDescriptorTable(rootParameterIndex uint32, baseDescriptor GPUDescriptorHandle)
	SetGraphicsRoot32BitConstants(rootParameterIndex uint32, values []uint32, destOffset uint32)
	SetComputeRoot32BitConstants(rootParameterIndex uint32, values []uint32, destOffset uint32)
	SetGraphicsRootConstantBufferView(rootParameterIndex uint32, location GPUVirtualAddress)
	SetComputeRootConstantBufferView(rootParameterIndex uint32, location GPUVirtualAddress)
	SetGraphicsRootShaderResourceView(rootParameterIndex uint32, location GPUVirtualAddress)

	DrawInstanced(vertexCountPerInstance, instanceCount, startVertex, startInstance uint32)
	DrawIndexedInstanced(indexCountPerInstance, instanceCount, startIndex uint32, baseVertex int32, startInstance uint32)
	Dispatch(x, y, z uint32)
}

type CommandQueue interface {
	Object
	Type() CommandListType
	// ExecuteCommandLists submits closed command lists to the device's active node
	ExecuteCommandLists(lists []CommandList) error
	// Signal sets fence to value once all previously submitted work has completed
	Signal(fence Fence, value uint64) error
	// Wait makes the queue wait on the GPU until fence reaches value
	Wait(fence Fence, value uint64) error
}

// Device is an affinity device: one logical device over NodeCount physical adapters, with one
// active node that receives submitted work
type Device interface {
	NodeCount() uint32
	// NodeMask is the mask of every node under the device's affinity
	NodeMask() NodeMask
	SetAffinity(mask NodeMask) error
	SwitchToNextNode()
	ActiveNodeIndex() uint32
	ActiveNodeMask() NodeMask

	CreateCommandQueue(listType CommandListType) (CommandQueue, error)
	CreateCommandAllocator(listType CommandListType) (CommandAllocator, error)
	CreateCommandList(listType CommandListType, allocator CommandAllocator, initialState PipelineState) (CommandList, error)
	CreateFence(initialValue uint64) (Fence, error)

	CreateCommittedResource(heapType HeapType, desc ResourceDesc, initialState ResourceStates, clearValue *ClearValue) (Resource, error)
	CreateHeap(desc HeapDesc) (Heap, error)
	CreatePlacedResource(heap Heap, offset uint64, desc ResourceDesc, initialState ResourceStates, clearValue *ClearValue) (Resource, error)
	ResourceAllocationInfo(descs ...ResourceDesc) AllocationInfo

	CreateDescriptorHeap(desc DescriptorHeapDesc) (DescriptorHeap, error)
	DescriptorHandleIncrementSize(heapType DescriptorHeapType) uint32
	// CopyDescriptors copies descriptors between heaps. A nil srcRangeSizes means every source range
	// holds one descriptor.
	CopyDescriptors(dstRangeStarts []CPUDescriptorHandle, dstRangeSizes []uint32, srcRangeStarts []CPUDescriptorHandle, srcRangeSizes []uint32, heapType DescriptorHeapType)
	CopyDescriptorsSimple(numDescriptors uint32, dst CPUDescriptorHandle, src CPUDescriptorHandle, heapType DescriptorHeapType)
	CreateShaderResourceView(resource Resource, desc *SRVDesc, dst CPUDescriptorHandle)
	CreateUnorderedAccessView(resource Resource, desc *UAVDesc, dst CPUDescriptorHandle)
	CreateRenderTargetView(resource Resource, desc *RTVDesc, dst CPUDescriptorHandle)
	CreateDepthStencilView(resource Resource, desc *DSVDesc, dst CPUDescriptorHandle)
	CreateConstantBufferView(desc CBVDesc, dst CPUDescriptorHandle)

	CreateRootSignature(desc RootSignatureDesc) (RootSignature, error)
	CreateComputePipelineState(desc ComputePipelineStateDesc) (PipelineState, error)

	CheckFormatSupport(format gputypes.TextureFormat) (FormatSupport, error)
	// CheckMultisampleQualityLevels returns the number of quality levels format supports at
	// sampleCount. Zero means the sample count is not supported.
	CheckMultisampleQualityLevels(format gputypes.TextureFormat, sampleCount uint32, flags MultisampleQualityLevelFlags) (uint32, error)
}
