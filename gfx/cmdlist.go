package gfx

import (
	"fmt"
	"math/bits"

	"github.com/afrcore/afrcore/dynheap"
	"github.com/afrcore/afrcore/gpu"
	"github.com/afrcore/afrcore/memutils"
	"github.com/afrcore/afrcore/state"
	"github.com/afrcore/afrcore/upload"
	"github.com/cockroachdb/errors"
	"github.com/gogpu/gputypes"
	"golang.org/x/exp/slog"
)

// dynamicHeapTypes are the descriptor heap types that can be made shader visible
var dynamicHeapTypes = [2]gpu.DescriptorHeapType{
	gpu.DescriptorHeapTypeCBVSRVUAV,
	gpu.DescriptorHeapTypeSampler,
}

const (
	cbvSrvUavHeap = 0
	samplerHeap   = 1

	// maxViewports is the number of viewports and scissor rects a pipeline can use
	maxViewports = 16
)

// CommandList records GPU work. Resource transitions go through a state.Tracker, so callers
// only ever say which state a resource must be in next; barriers whose before state is not known
// while recording are resolved when the list is submitted. Dynamic data is written to upload
// pages owned by the list and descriptors are staged until the next draw or dispatch.
//
// A CommandList is obtained from CommandQueue.GetCommandList, is used by one goroutine at a time,
// and is handed back with CommandQueue.ExecuteCommandLists.
type CommandList struct {
	logger   *slog.Logger
	device   *Device
	listType gpu.CommandListType

	allocator gpu.CommandAllocator
	list      gpu.CommandList

	tracker         *state.Tracker
	uploads         *upload.Allocator
	dynamicHeaps    [len(dynamicHeapTypes)]*dynheap.Heap
	descriptorHeaps [gpu.NumDescriptorHeapTypes]gpu.DescriptorHeap

	rootSignature  gpu.RootSignature
	computeList    *CommandList
	trackedObjects []any
	closed         bool

	// transientTextures are released once the list has finished executing
	transientTextures []*Texture
}

var _ dynheap.Binder = &CommandList{}

func newCommandList(device *Device, listType gpu.CommandListType, id int) (*CommandList, error) {
	allocator, err := device.gpu.CreateCommandAllocator(listType)
	if err != nil {
		return nil, memutils.HostFailure(err, "CreateCommandAllocator")
	}

	list, err := device.gpu.CreateCommandList(listType, allocator, nil)
	if err != nil {
		return nil, memutils.HostFailure(err, "CreateCommandList")
	}
	list.SetName(fmt.Sprintf("%s list %d", listType, id))

	commandList := &CommandList{
		logger:    device.logger,
		device:    device,
		listType:  listType,
		allocator: allocator,
		list:      list,
		tracker:   state.NewTracker(device.logger, device.globalStates),
		uploads:   upload.New(device.logger, device.gpu, device.options.UploadPageSize),
	}
	for i, pool := range device.dynamicHeapPools {
		commandList.dynamicHeaps[i] = dynheap.NewHeap(device.logger, device.gpu, pool)
	}

	return commandList, nil
}

func (l *CommandList) CommandListType() gpu.CommandListType { return l.listType }

func (l *CommandList) Device() *Device { return l.device }

// Native is the underlying command list
func (l *CommandList) Native() gpu.CommandList { return l.list }

// TrackObject keeps obj reachable until the list has finished executing
func (l *CommandList) TrackObject(obj any) {
	if obj == nil {
		return
	}
	l.trackedObjects = append(l.trackedObjects, obj)
}

func (l *CommandList) TrackedObjectCount() int { return len(l.trackedObjects) }

func (l *CommandList) trackResource(resource gpu.Resource) {
	if resource != nil {
		l.trackedObjects = append(l.trackedObjects, resource)
	}
}

func (l *CommandList) transition(resource gpu.Resource, stateAfter gpu.ResourceStates, subresource uint32) error {
	if resource == nil {
		return nil
	}

	if err := l.tracker.TransitionResource(resource, stateAfter, subresource); err != nil {
		return err
	}
	l.trackResource(resource)
	return nil
}

func (l *CommandList) transitionRange(resource gpu.Resource, stateAfter gpu.ResourceStates, firstSubresource, numSubresources uint32) error {
	if numSubresources == gpu.AllSubresources {
		return l.transition(resource, stateAfter, gpu.AllSubresources)
	}

	for i := uint32(0); i < numSubresources; i++ {
		if err := l.transition(resource, stateAfter, firstSubresource+i); err != nil {
			return err
		}
	}
	return nil
}

// TransitionBarrier moves a subresource, or gpu.AllSubresources, of resource to stateAfter.
// The barrier is not recorded until the next flush.
func (l *CommandList) TransitionBarrier(resource GPUResource, stateAfter gpu.ResourceStates, subresource uint32) error {
	return l.transition(resource.Native(), stateAfter, subresource)
}

// UAVBarrier orders unordered access to resource. A nil resource orders every unordered access.
func (l *CommandList) UAVBarrier(resource GPUResource) {
	var native gpu.Resource
	if resource != nil {
		native = resource.Native()
	}

	l.tracker.UAVBarrier(native)
	l.trackResource(native)
}

// AliasingBarrier marks the switch between two resources that share memory. Either may be nil.
func (l *CommandList) AliasingBarrier(before, after GPUResource) {
	var nativeBefore, nativeAfter gpu.Resource
	if before != nil {
		nativeBefore = before.Native()
	}
	if after != nil {
		nativeAfter = after.Native()
	}

	l.tracker.AliasBarrier(nativeBefore, nativeAfter)
	l.trackResource(nativeBefore)
	l.trackResource(nativeAfter)
}

// FlushResourceBarriers records every barrier emitted so far and returns how many there were
func (l *CommandList) FlushResourceBarriers() int {
	return l.tracker.FlushResourceBarriers(l.list)
}

func (l *CommandList) CopyResource(dst, src GPUResource) error {
	return l.copyResource(dst.Native(), src.Native())
}

func (l *CommandList) copyResource(dst, src gpu.Resource) error {
	if err := l.transition(dst, gpu.ResourceStateCopyDest, gpu.AllSubresources); err != nil {
		return err
	}
	if err := l.transition(src, gpu.ResourceStateCopySource, gpu.AllSubresources); err != nil {
		return err
	}
	l.FlushResourceBarriers()

	l.list.CopyResource(dst, src)
	return nil
}

// ResolveSubresource resolves a multisampled subresource of src into dst
func (l *CommandList) ResolveSubresource(dst, src GPUResource, dstSubresource, srcSubresource uint32) error {
	nativeDst := dst.Native()
	nativeSrc := src.Native()

	if err := l.transition(nativeDst, gpu.ResourceStateResolveDest, dstSubresource); err != nil {
		return err
	}
	if err := l.transition(nativeSrc, gpu.ResourceStateResolveSource, srcSubresource); err != nil {
		return err
	}
	l.FlushResourceBarriers()

	l.list.ResolveSubresource(nativeDst, dstSubresource, nativeSrc, srcSubresource, nativeDst.Desc().Format)
	return nil
}

// CopyBuffer gives buffer a new default-heap resource of numElements*elementSize bytes, registered
// in the COMMON state, and records an upload of data into it when data is not nil. A size of zero
// leaves buffer with a null resource.
func (l *CommandList) CopyBuffer(buffer BufferResource, numElements, elementSize int, data []byte, flags gpu.ResourceFlags) error {
	size := numElements * elementSize
	if size < 0 {
		return errors.Wrapf(memutils.InvalidArgumentError, "buffer of %d elements of %d bytes", numElements, elementSize)
	}
	if data != nil && len(data) < size {
		return errors.Wrapf(memutils.InvalidArgumentError, "%d bytes of data for a buffer of %d bytes", len(data), size)
	}

	var resource gpu.Resource
	if size > 0 {
		var err error
		resource, err = l.device.gpu.CreateCommittedResource(gpu.HeapTypeDefault, gpu.BufferDesc(uint64(size), flags), gpu.ResourceStateCommon, nil)
		if err != nil {
			return memutils.HostFailure(err, "CreateCommittedResource")
		}
		if name := buffer.base().name; name != "" {
			resource.SetName(name)
		}
		l.device.globalStates.AddGlobalResourceState(resource, gpu.ResourceStateCommon)

		if data != nil {
			uploadResource, err := l.device.gpu.CreateCommittedResource(gpu.HeapTypeUpload, gpu.BufferDesc(uint64(size), gpu.ResourceFlagNone), gpu.ResourceStateGenericRead, nil)
			if err != nil {
				return memutils.HostFailure(err, "CreateCommittedResource")
			}

			if err := l.transition(resource, gpu.ResourceStateCopyDest, gpu.AllSubresources); err != nil {
				return err
			}
			l.FlushResourceBarriers()

			_, err = gpu.UpdateSubresources(l.list, resource, uploadResource, 0, 0, []gpu.SubresourceData{
				{Data: data[:size], RowPitch: size, SlicePitch: size},
			})
			if err != nil {
				return err
			}
			l.trackResource(uploadResource)
		}
		l.trackResource(resource)
	}

	if err := buffer.base().setResource(l.device, resource, nil); err != nil {
		return err
	}
	return buffer.createViews(numElements, elementSize)
}

func (l *CommandList) CopyVertexBuffer(vertexBuffer *VertexBuffer, numVertices, vertexStride int, data []byte) error {
	return l.CopyBuffer(vertexBuffer, numVertices, vertexStride, data, gpu.ResourceFlagNone)
}

func (l *CommandList) CopyIndexBuffer(indexBuffer *IndexBuffer, numIndices int, format gputypes.IndexFormat, data []byte) error {
	indexSize := int(format.Size())
	if indexSize == 0 {
		return errors.Wrapf(memutils.InvalidArgumentError, "index format %s", format)
	}
	return l.CopyBuffer(indexBuffer, numIndices, indexSize, data, gpu.ResourceFlagNone)
}

func (l *CommandList) CopyByteAddressBuffer(buffer *ByteAddressBuffer, bufferSize int, data []byte) error {
	return l.CopyBuffer(buffer, 1, bufferSize, data, gpu.ResourceFlagAllowUnorderedAccess)
}

func (l *CommandList) CopyStructuredBuffer(buffer *StructuredBuffer, numElements, elementSize int, data []byte) error {
	return l.CopyBuffer(buffer, numElements, elementSize, data, gpu.ResourceFlagAllowUnorderedAccess)
}

// CopyTextureSubresource uploads data into consecutive subresources of texture starting at
// firstSubresource, through an intermediate upload buffer
func (l *CommandList) CopyTextureSubresource(texture *Texture, firstSubresource uint32, data []gpu.SubresourceData) error {
	dst := texture.Native()
	if dst == nil || len(data) == 0 {
		return nil
	}

	if err := l.transition(dst, gpu.ResourceStateCopyDest, gpu.AllSubresources); err != nil {
		return err
	}
	l.FlushResourceBarriers()

	requiredSize, err := gpu.RequiredIntermediateSize(dst.Desc(), firstSubresource, uint32(len(data)))
	if err != nil {
		return err
	}

	intermediate, err := l.device.gpu.CreateCommittedResource(gpu.HeapTypeUpload, gpu.BufferDesc(requiredSize, gpu.ResourceFlagNone), gpu.ResourceStateGenericRead, nil)
	if err != nil {
		return memutils.HostFailure(err, "CreateCommittedResource")
	}

	if _, err := gpu.UpdateSubresources(l.list, dst, intermediate, 0, firstSubresource, data); err != nil {
		return err
	}

	l.trackResource(intermediate)
	l.trackResource(dst)
	return nil
}

func (l *CommandList) SetPrimitiveTopology(topology gputypes.PrimitiveTopology) {
	l.list.IASetPrimitiveTopology(topology)
}

func (l *CommandList) SetViewport(viewport gpu.Viewport) error {
	return l.SetViewports([]gpu.Viewport{viewport})
}

func (l *CommandList) SetViewports(viewports []gpu.Viewport) error {
	if len(viewports) > maxViewports {
		return errors.Wrapf(memutils.InvalidArgumentError, "%d viewports; at most %d can be set", len(viewports), maxViewports)
	}
	l.list.RSSetViewports(viewports)
	return nil
}

func (l *CommandList) SetScissorRect(rect gpu.Rect) error {
	return l.SetScissorRects([]gpu.Rect{rect})
}

func (l *CommandList) SetScissorRects(rects []gpu.Rect) error {
	if len(rects) > maxViewports {
		return errors.Wrapf(memutils.InvalidArgumentError, "%d scissor rects; at most %d can be set", len(rects), maxViewports)
	}
	l.list.RSSetScissorRects(rects)
	return nil
}

func (l *CommandList) SetPipelineState(pipelineState gpu.PipelineState) {
	l.list.SetPipelineState(pipelineState)
	l.TrackObject(pipelineState)
}

// setRootSignature binds rootSignature unless it is already bound. Binding a new root signature
// discards every staged descriptor.
func (l *CommandList) setRootSignature(rootSignature *RootSignature, bind func(gpu.RootSignature)) error {
	native := rootSignature.Native()
	if l.rootSignature == native {
		return nil
	}

	for _, heap := range l.dynamicHeaps {
		if err := heap.ParseRootSignature(rootSignature); err != nil {
			return err
		}
	}
	l.rootSignature = native

	bind(native)
	l.TrackObject(native)
	return nil
}

func (l *CommandList) SetGraphicsRootSignature(rootSignature *RootSignature) error {
	return l.setRootSignature(rootSignature, l.list.SetGraphicsRootSignature)
}

func (l *CommandList) SetComputeRootSignature(rootSignature *RootSignature) error {
	return l.setRootSignature(rootSignature, l.list.SetComputeRootSignature)
}

// SetShaderResourceView transitions numSubresources subresources of resource, starting at
// firstSubresource, to stateAfter and stages the view described by desc at descriptorOffset of the
// descriptor table at rootParameterIndex. A numSubresources of gpu.AllSubresources transitions the
// whole resource.
func (l *CommandList) SetShaderResourceView(rootParameterIndex, descriptorOffset uint32, resource ShaderResource, stateAfter gpu.ResourceStates, firstSubresource, numSubresources uint32, desc *gpu.SRVDesc) error {
	if err := l.transitionRange(resource.Native(), stateAfter, firstSubresource, numSubresources); err != nil {
		return err
	}

	view, err := resource.ShaderResourceView(desc)
	if err != nil {
		return err
	}
	return l.dynamicHeaps[cbvSrvUavHeap].StageDescriptors(rootParameterIndex, descriptorOffset, 1, view)
}

// SetUnorderedAccessView is SetShaderResourceView for unordered access views
func (l *CommandList) SetUnorderedAccessView(rootParameterIndex, descriptorOffset uint32, resource UnorderedAccessResource, stateAfter gpu.ResourceStates, firstSubresource, numSubresources uint32, desc *gpu.UAVDesc) error {
	if err := l.transitionRange(resource.Native(), stateAfter, firstSubresource, numSubresources); err != nil {
		return err
	}

	view, err := resource.UnorderedAccessView(desc)
	if err != nil {
		return err
	}
	return l.dynamicHeaps[cbvSrvUavHeap].StageDescriptors(rootParameterIndex, descriptorOffset, 1, view)
}

// StageSamplers stages count sampler descriptors, starting at src, into the sampler table at
// rootParameterIndex
func (l *CommandList) StageSamplers(rootParameterIndex, descriptorOffset, count uint32, src gpu.CPUDescriptorHandle) error {
	return l.dynamicHeaps[samplerHeap].StageDescriptors(rootParameterIndex, descriptorOffset, count, src)
}

func (l *CommandList) uploadConstants(data []byte) (upload.Allocation, error) {
	alloc, err := l.uploads.Allocate(len(data), gpu.ConstantBufferDataPlacementAlignment)
	if err != nil {
		return upload.Allocation{}, err
	}
	copy(alloc.CPU, data)
	return alloc, nil
}

// SetGraphicsDynamicConstantBuffer copies data to upload memory and binds it as the root
// constant buffer view at rootParameterIndex
func (l *CommandList) SetGraphicsDynamicConstantBuffer(rootParameterIndex uint32, data []byte) error {
	alloc, err := l.uploadConstants(data)
	if err != nil {
		return err
	}
	l.list.SetGraphicsRootConstantBufferView(rootParameterIndex, alloc.GPU)
	return nil
}

func (l *CommandList) SetComputeDynamicConstantBuffer(rootParameterIndex uint32, data []byte) error {
	alloc, err := l.uploadConstants(data)
	if err != nil {
		return err
	}
	l.list.SetComputeRootConstantBufferView(rootParameterIndex, alloc.GPU)
	return nil
}

// SetGraphicsRootConstantBufferView binds the constant buffer at offset bytes into buffer
func (l *CommandList) SetGraphicsRootConstantBufferView(rootParameterIndex uint32, buffer GPUResource, offset uint64) error {
	native := buffer.Native()
	if err := l.transition(native, gpu.ResourceStateVertexAndConstantBuffer, gpu.AllSubresources); err != nil {
		return err
	}
	l.list.SetGraphicsRootConstantBufferView(rootParameterIndex, native.GPUVirtualAddress()+gpu.GPUVirtualAddress(offset))
	return nil
}

func (l *CommandList) SetGraphics32BitConstants(rootParameterIndex uint32, constants []uint32) {
	l.list.SetGraphicsRoot32BitConstants(rootParameterIndex, constants, 0)
}

func (l *CommandList) SetCompute32BitConstants(rootParameterIndex uint32, constants []uint32) {
	l.list.SetComputeRoot32BitConstants(rootParameterIndex, constants, 0)
}

func (l *CommandList) SetVertexBuffer(slot uint32, vertexBuffer *VertexBuffer) error {
	if err := l.transition(vertexBuffer.Native(), gpu.ResourceStateVertexAndConstantBuffer, gpu.AllSubresources); err != nil {
		return err
	}
	l.list.IASetVertexBuffers(slot, []gpu.VertexBufferView{vertexBuffer.VertexBufferView()})
	return nil
}

// elementAlignment is the largest power of two that divides elementSize
func elementAlignment(elementSize int) uint {
	if elementSize <= 0 {
		return 1
	}
	return 1 << bits.TrailingZeros(uint(elementSize))
}

func (l *CommandList) uploadElements(numElements, elementSize int, data []byte) (upload.Allocation, error) {
	size := numElements * elementSize
	if len(data) < size {
		return upload.Allocation{}, errors.Wrapf(memutils.InvalidArgumentError, "%d bytes of data for %d elements of %d bytes", len(data), numElements, elementSize)
	}

	alloc, err := l.uploads.Allocate(size, elementAlignment(elementSize))
	if err != nil {
		return upload.Allocation{}, err
	}
	copy(alloc.CPU, data[:size])
	return alloc, nil
}

// SetDynamicVertexBuffer copies vertex data to upload memory and binds it to slot
func (l *CommandList) SetDynamicVertexBuffer(slot uint32, numVertices, vertexSize int, data []byte) error {
	alloc, err := l.uploadElements(numVertices, vertexSize, data)
	if err != nil {
		return err
	}

	l.list.IASetVertexBuffers(slot, []gpu.VertexBufferView{{
		BufferLocation: alloc.GPU,
		SizeInBytes:    uint32(numVertices * vertexSize),
		StrideInBytes:  uint32(vertexSize),
	}})
	return nil
}

func (l *CommandList) SetIndexBuffer(indexBuffer *IndexBuffer) error {
	if err := l.transition(indexBuffer.Native(), gpu.ResourceStateIndexBuffer, gpu.AllSubresources); err != nil {
		return err
	}
	view := indexBuffer.IndexBufferView()
	l.list.IASetIndexBuffer(&view)
	return nil
}

// SetDynamicIndexBuffer copies index data to upload memory and binds it
func (l *CommandList) SetDynamicIndexBuffer(numIndices int, format gputypes.IndexFormat, data []byte) error {
	indexSize := int(format.Size())
	if indexSize == 0 {
		return errors.Wrapf(memutils.InvalidArgumentError, "index format %s", format)
	}

	alloc, err := l.uploadElements(numIndices, indexSize, data)
	if err != nil {
		return err
	}

	l.list.IASetIndexBuffer(&gpu.IndexBufferView{
		BufferLocation: alloc.GPU,
		SizeInBytes:    uint32(numIndices * indexSize),
		Format:         format,
	})
	return nil
}

// SetGraphicsDynamicStructuredBuffer copies elements to upload memory and binds them as the root
// shader resource view at slot
func (l *CommandList) SetGraphicsDynamicStructuredBuffer(slot uint32, numElements, elementSize int, data []byte) error {
	alloc, err := l.uploadElements(numElements, elementSize, data)
	if err != nil {
		return err
	}
	l.list.SetGraphicsRootShaderResourceView(slot, alloc.GPU)
	return nil
}

// SetRenderTarget transitions and binds every color attachment and the depth-stencil attachment of
// renderTarget
func (l *CommandList) SetRenderTarget(renderTarget *RenderTarget) error {
	textures := renderTarget.Textures()

	renderTargets := make([]gpu.CPUDescriptorHandle, 0, AttachmentPointDepthStencil)
	for point := AttachmentPointColor0; point <= AttachmentPointColor7; point++ {
		texture := textures[point]
		if texture == nil || !texture.IsValid() {
			continue
		}

		if err := l.transition(texture.Native(), gpu.ResourceStateRenderTarget, gpu.AllSubresources); err != nil {
			return err
		}
		renderTargets = append(renderTargets, texture.RenderTargetView())
	}

	var depthStencil *gpu.CPUDescriptorHandle
	if texture := textures[AttachmentPointDepthStencil]; texture != nil && texture.IsValid() {
		if err := l.transition(texture.Native(), gpu.ResourceStateDepthWrite, gpu.AllSubresources); err != nil {
			return err
		}
		if view := texture.DepthStencilView(); !view.IsNull() {
			depthStencil = &view
		}
	}

	l.list.OMSetRenderTargets(renderTargets, depthStencil)
	return nil
}

// ClearTexture clears the render target view of texture to color
func (l *CommandList) ClearTexture(texture *Texture, color [4]float32) error {
	view := texture.RenderTargetView()
	if view.IsNull() {
		return errors.Wrapf(memutils.InvalidArgumentError, "texture %q has no render target view", texture.Name())
	}

	if err := l.transition(texture.Native(), gpu.ResourceStateRenderTarget, gpu.AllSubresources); err != nil {
		return err
	}
	l.FlushResourceBarriers()

	l.list.ClearRenderTargetView(view, color)
	return nil
}

func (l *CommandList) ClearDepthStencilTexture(texture *Texture, flags gpu.ClearFlags, depth float32, stencil uint8) error {
	view := texture.DepthStencilView()
	if view.IsNull() {
		return errors.Wrapf(memutils.InvalidArgumentError, "texture %q has no depth-stencil view", texture.Name())
	}

	if err := l.transition(texture.Native(), gpu.ResourceStateDepthWrite, gpu.AllSubresources); err != nil {
		return err
	}
	l.FlushResourceBarriers()

	l.list.ClearDepthStencilView(view, flags, depth, stencil)
	return nil
}

func (l *CommandList) Draw(vertexCount, instanceCount, startVertex, startInstance uint32) error {
	l.FlushResourceBarriers()

	for _, heap := range l.dynamicHeaps {
		if err := heap.CommitStagedDescriptorsForDraw(l); err != nil {
			return err
		}
	}

	l.list.DrawInstanced(vertexCount, instanceCount, startVertex, startInstance)
	return nil
}

func (l *CommandList) DrawIndexed(indexCount, instanceCount, startIndex uint32, baseVertex int32, startInstance uint32) error {
	l.FlushResourceBarriers()

	for _, heap := range l.dynamicHeaps {
		if err := heap.CommitStagedDescriptorsForDraw(l); err != nil {
			return err
		}
	}

	l.list.DrawIndexedInstanced(indexCount, instanceCount, startIndex, baseVertex, startInstance)
	return nil
}

func (l *CommandList) Dispatch(numGroupsX, numGroupsY, numGroupsZ uint32) error {
	l.FlushResourceBarriers()

	for _, heap := range l.dynamicHeaps {
		if err := heap.CommitStagedDescriptorsForDispatch(l); err != nil {
			return err
		}
	}

	l.list.Dispatch(numGroupsX, numGroupsY, numGroupsZ)
	return nil
}

// SetDescriptorHeap binds heap as the list's shader-visible heap of heapType. The list rebinds
// every heap it holds whenever one of them changes.
func (l *CommandList) SetDescriptorHeap(heapType gpu.DescriptorHeapType, heap gpu.DescriptorHeap) {
	if l.descriptorHeaps[heapType] == heap {
		return
	}
	l.descriptorHeaps[heapType] = heap

	heaps := make([]gpu.DescriptorHeap, 0, gpu.NumDescriptorHeapTypes)
	for _, descriptorHeap := range l.descriptorHeaps {
		if descriptorHeap != nil {
			heaps = append(heaps, descriptorHeap)
		}
	}
	l.list.SetDescriptorHeaps(heaps)
}

// Close flushes the remaining barriers and closes the list. It is used for lists that never carry
// pending barriers, such as patch lists.
func (l *CommandList) Close() error {
	l.FlushResourceBarriers()
	if err := l.list.Close(); err != nil {
		return memutils.HostFailure(err, "CommandList.Close")
	}
	l.closed = true
	return nil
}

// CloseWithPending closes the list, resolves its pending barriers into pending and commits its
// final resource states. It reports whether any barrier was recorded into pending. It must be
// called with the device's global state map locked.
func (l *CommandList) CloseWithPending(pending *CommandList) (bool, error) {
	l.FlushResourceBarriers()
	if err := l.list.Close(); err != nil {
		return false, memutils.HostFailure(err, "CommandList.Close")
	}
	l.closed = true

	numPending, err := l.tracker.FlushPendingResourceBarriers(pending.list)
	if err != nil {
		return false, err
	}
	if err := l.tracker.CommitFinalResourceStates(); err != nil {
		return false, err
	}

	return numPending > 0, nil
}

// Reset prepares the list for recording again, closing it first if it is still open. It may only be
// called once the GPU has finished executing the list.
func (l *CommandList) Reset() error {
	if !l.closed {
		if err := l.list.Close(); err != nil {
			return memutils.HostFailure(err, "CommandList.Close")
		}
		l.closed = true
	}
	if err := l.allocator.Reset(); err != nil {
		return memutils.HostFailure(err, "CommandAllocator.Reset")
	}
	if err := l.list.Reset(l.allocator, nil); err != nil {
		return memutils.HostFailure(err, "CommandList.Reset")
	}
	l.closed = false

	l.tracker.Reset()
	l.uploads.Reset()

	clear(l.trackedObjects)
	l.trackedObjects = l.trackedObjects[:0]

	for _, texture := range l.transientTextures {
		texture.Release()
	}
	clear(l.transientTextures)
	l.transientTextures = l.transientTextures[:0]

	for _, heap := range l.dynamicHeaps {
		heap.Reset()
	}
	clear(l.descriptorHeaps[:])

	l.rootSignature = nil
	l.computeList = nil
	return nil
}

func (l *CommandList) destroy() {
	l.uploads.Destroy()
	for _, heap := range l.dynamicHeaps {
		heap.Reset()
	}
}
