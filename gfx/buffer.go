package gfx

import (
	"github.com/afrcore/afrcore/descriptor"
	"github.com/afrcore/afrcore/gpu"
	"github.com/afrcore/afrcore/memutils"
	"github.com/cockroachdb/errors"
	"github.com/gogpu/gputypes"
)

// BufferResource is a buffer that CommandList.CopyBuffer can fill. Each kind of buffer builds its
// own views once its resource has been created.
type BufferResource interface {
	GPUResource
	base() *Buffer
	createViews(numElements, elementSize int) error
}

// Buffer is a plain buffer resource with no views
type Buffer struct {
	Resource
	name string
}

var _ BufferResource = &Buffer{}

func (b *Buffer) base() *Buffer { return b }

func (b *Buffer) createViews(numElements, elementSize int) error { return nil }

// SetName names the buffer's resource and every resource CommandList.CopyBuffer gives it later
func (b *Buffer) SetName(name string) {
	b.name = name
	b.Resource.SetName(name)
}

// Release removes the buffer from the global state map and drops its resource
func (b *Buffer) Release() {
	releaseBuffer(b, &bufferViews{})
}

// VertexBuffer is a buffer of vertices bound to an input slot
type VertexBuffer struct {
	Buffer
	numVertices  int
	vertexStride int
	view         gpu.VertexBufferView
}

var _ BufferResource = &VertexBuffer{}

func (b *VertexBuffer) createViews(numElements, elementSize int) error {
	b.numVertices = numElements
	b.vertexStride = elementSize
	b.view = gpu.VertexBufferView{}
	if b.resource == nil {
		return nil
	}

	b.view = gpu.VertexBufferView{
		BufferLocation: b.resource.GPUVirtualAddress(),
		SizeInBytes:    uint32(numElements * elementSize),
		StrideInBytes:  uint32(elementSize),
	}
	return nil
}

func (b *VertexBuffer) VertexBufferView() gpu.VertexBufferView { return b.view }

func (b *VertexBuffer) NumVertices() int { return b.numVertices }

func (b *VertexBuffer) VertexStride() int { return b.vertexStride }

// IndexBuffer is a buffer of 16 or 32 bit indices
type IndexBuffer struct {
	Buffer
	numIndices int
	format     gputypes.IndexFormat
	view       gpu.IndexBufferView
}

var _ BufferResource = &IndexBuffer{}

func (b *IndexBuffer) createViews(numElements, elementSize int) error {
	b.numIndices = numElements
	b.view = gpu.IndexBufferView{}

	switch elementSize {
	case 2:
		b.format = gputypes.IndexFormatUint16
	case 4:
		b.format = gputypes.IndexFormatUint32
	default:
		return errors.Wrapf(memutils.InvalidArgumentError, "indices of %d bytes", elementSize)
	}

	if b.resource == nil {
		return nil
	}
	b.view = gpu.IndexBufferView{
		BufferLocation: b.resource.GPUVirtualAddress(),
		SizeInBytes:    uint32(numElements * elementSize),
		Format:         b.format,
	}
	return nil
}

func (b *IndexBuffer) IndexBufferView() gpu.IndexBufferView { return b.view }

func (b *IndexBuffer) NumIndices() int { return b.numIndices }

func (b *IndexBuffer) IndexFormat() gputypes.IndexFormat { return b.format }

// bufferViews holds the shader resource and unordered access views of a raw or structured buffer
type bufferViews struct {
	srv *descriptor.Allocation
	uav *descriptor.Allocation
}

func (v *bufferViews) create(resource *Resource, srvDesc gpu.SRVDesc, uavDesc gpu.UAVDesc) error {
	v.release(resource.device)
	if resource.resource == nil {
		return nil
	}

	srv, err := resource.device.AllocateDescriptors(gpu.DescriptorHeapTypeCBVSRVUAV, 1)
	if err != nil {
		return err
	}
	resource.device.gpu.CreateShaderResourceView(resource.resource, &srvDesc, srv.Descriptor(0))
	v.srv = srv

	if resource.resource.Desc().Flags&gpu.ResourceFlagAllowUnorderedAccess == 0 {
		return nil
	}

	uav, err := resource.device.AllocateDescriptors(gpu.DescriptorHeapTypeCBVSRVUAV, 1)
	if err != nil {
		return err
	}
	resource.device.gpu.CreateUnorderedAccessView(resource.resource, &uavDesc, uav.Descriptor(0))
	v.uav = uav
	return nil
}

func (v *bufferViews) release(device *Device) {
	if device == nil {
		return
	}
	frame := device.CurrentFrame()
	if v.srv != nil {
		v.srv.Free(frame)
		v.srv = nil
	}
	if v.uav != nil {
		v.uav.Free(frame)
		v.uav = nil
	}
}

func (v *bufferViews) shaderResourceView(name string) (gpu.CPUDescriptorHandle, error) {
	if v.srv == nil {
		return gpu.CPUDescriptorHandle{}, errors.Wrapf(memutils.InvalidArgumentError, "buffer %q has no shader resource view", name)
	}
	return v.srv.Descriptor(0), nil
}

func (v *bufferViews) unorderedAccessView(name string) (gpu.CPUDescriptorHandle, error) {
	if v.uav == nil {
		return gpu.CPUDescriptorHandle{}, errors.Wrapf(memutils.InvalidArgumentError, "buffer %q has no unordered access view", name)
	}
	return v.uav.Descriptor(0), nil
}

// ByteAddressBuffer is a raw buffer addressed in 4 byte words
type ByteAddressBuffer struct {
	Buffer
	views      bufferViews
	bufferSize int
}

var _ BufferResource = &ByteAddressBuffer{}
var _ ShaderResource = &ByteAddressBuffer{}
var _ UnorderedAccessResource = &ByteAddressBuffer{}

func (b *ByteAddressBuffer) createViews(numElements, elementSize int) error {
	// Raw views address whole 4 byte words
	b.bufferSize = memutils.AlignUp(numElements*elementSize, 4)

	return b.views.create(&b.Resource,
		gpu.SRVDesc{
			ViewDimension: gpu.ViewDimensionBuffer,
			NumElements:   uint32(b.bufferSize / 4),
			Raw:           true,
		},
		gpu.UAVDesc{
			ViewDimension: gpu.ViewDimensionBuffer,
			NumElements:   uint32(b.bufferSize / 4),
			Raw:           true,
		})
}

func (b *ByteAddressBuffer) BufferSize() int { return b.bufferSize }

// ShaderResourceView returns the buffer's raw view; desc is ignored
func (b *ByteAddressBuffer) ShaderResourceView(desc *gpu.SRVDesc) (gpu.CPUDescriptorHandle, error) {
	return b.views.shaderResourceView(b.Name())
}

// UnorderedAccessView returns the buffer's raw view; desc is ignored
func (b *ByteAddressBuffer) UnorderedAccessView(desc *gpu.UAVDesc) (gpu.CPUDescriptorHandle, error) {
	return b.views.unorderedAccessView(b.Name())
}

// Release frees the buffer's views and removes it from the global state map
func (b *ByteAddressBuffer) Release() {
	releaseBuffer(&b.Buffer, &b.views)
}

// StructuredBuffer is a buffer of fixed-size elements with an append/consume counter
type StructuredBuffer struct {
	Buffer
	views       bufferViews
	numElements int
	elementSize int
	counter     ByteAddressBuffer
}

var _ BufferResource = &StructuredBuffer{}
var _ ShaderResource = &StructuredBuffer{}
var _ UnorderedAccessResource = &StructuredBuffer{}

func (b *StructuredBuffer) createViews(numElements, elementSize int) error {
	b.numElements = numElements
	b.elementSize = elementSize

	err := b.views.create(&b.Resource,
		gpu.SRVDesc{
			ViewDimension:       gpu.ViewDimensionBuffer,
			NumElements:         uint32(numElements),
			StructureByteStride: uint32(elementSize),
		},
		gpu.UAVDesc{
			ViewDimension:       gpu.ViewDimensionBuffer,
			NumElements:         uint32(numElements),
			StructureByteStride: uint32(elementSize),
		})
	if err != nil || b.resource == nil || b.counter.IsValid() {
		return err
	}

	counter, err := b.device.CreateByteAddressBuffer(4, b.Name()+" counter")
	if err != nil {
		return err
	}
	b.counter = *counter
	return nil
}

func (b *StructuredBuffer) NumElements() int { return b.numElements }

func (b *StructuredBuffer) ElementSize() int { return b.elementSize }

// CounterBuffer is the 4 byte buffer holding the append/consume counter
func (b *StructuredBuffer) CounterBuffer() *ByteAddressBuffer { return &b.counter }

// ShaderResourceView returns the buffer's structured view; desc is ignored
func (b *StructuredBuffer) ShaderResourceView(desc *gpu.SRVDesc) (gpu.CPUDescriptorHandle, error) {
	return b.views.shaderResourceView(b.Name())
}

// UnorderedAccessView returns the buffer's structured view; desc is ignored
func (b *StructuredBuffer) UnorderedAccessView(desc *gpu.UAVDesc) (gpu.CPUDescriptorHandle, error) {
	return b.views.unorderedAccessView(b.Name())
}

// Release frees the buffer and its counter
func (b *StructuredBuffer) Release() {
	b.counter.Release()
	releaseBuffer(&b.Buffer, &b.views)
}

func releaseBuffer(buffer *Buffer, views *bufferViews) {
	if buffer.resource == nil {
		return
	}
	views.release(buffer.device)
	buffer.device.globalStates.RemoveGlobalResourceState(buffer.resource)
	buffer.resource = nil
}
