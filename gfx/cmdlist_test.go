package gfx_test

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/afrcore/afrcore/gfx"
	"github.com/afrcore/afrcore/gpu"
	"github.com/afrcore/afrcore/gpu/soft"
	"github.com/afrcore/afrcore/memutils"
	"github.com/gogpu/gputypes"
	"github.com/stretchr/testify/require"
)

func vertexData(numVertices int) []byte {
	data := make([]byte, numVertices*12)
	for i := 0; i < numVertices*3; i++ {
		binary.LittleEndian.PutUint32(data[i*4:], uint32(i))
	}
	return data
}

func TestCopyVertexBuffer(t *testing.T) {
	softDevice, device := newDevice(t, soft.Options{}, gfx.CreateOptions{})
	queue := device.CommandQueue(gpu.CommandListTypeDirect)

	vertexBuffer := device.CreateVertexBuffer("vertices")
	t.Cleanup(vertexBuffer.Release)
	data := vertexData(3)

	list, err := queue.GetCommandList()
	require.NoError(t, err)
	require.NoError(t, list.CopyVertexBuffer(vertexBuffer, 3, 12, data))
	require.NoError(t, list.SetVertexBuffer(0, vertexBuffer))
	list.SetPrimitiveTopology(gputypes.PrimitiveTopologyTriangleList)
	require.NoError(t, list.Draw(3, 1, 0, 0))

	require.Equal(t, "vertices", vertexBuffer.Name())
	require.Equal(t, 3, vertexBuffer.NumVertices())
	require.Equal(t, gpu.VertexBufferView{
		BufferLocation: vertexBuffer.Native().GPUVirtualAddress(),
		SizeInBytes:    36,
		StrideInBytes:  12,
	}, vertexBuffer.VertexBufferView())

	_, err = queue.ExecuteCommandLists(list)
	require.NoError(t, err)
	require.NoError(t, device.Flush(context.Background()))

	require.Empty(t, softDevice.Violations())
	require.Equal(t, data, vertexBuffer.Native().(*soft.Resource).Contents())

	submissions := queue.Native().(*soft.CommandQueue).Submissions()
	require.Len(t, submissions, 2)
	require.Equal(t, []gpu.ResourceBarrier{
		gpu.TransitionBarrier(vertexBuffer.Native(), gpu.ResourceStateCommon, gpu.ResourceStateCopyDest, gpu.AllSubresources),
	}, submissions[0].Commands[0].Barriers)

	committed, ok := device.GlobalStates().ResourceState(vertexBuffer.Native())
	require.True(t, ok)
	require.Equal(t, gpu.ResourceStateVertexAndConstantBuffer, committed.SubresourceState(0))
}

func TestCopyIndexBuffer(t *testing.T) {
	softDevice, device := newDevice(t, soft.Options{}, gfx.CreateOptions{})
	queue := device.CommandQueue(gpu.CommandListTypeDirect)

	indexBuffer := device.CreateIndexBuffer("indices")
	t.Cleanup(indexBuffer.Release)
	data := []byte{0, 0, 1, 0, 2, 0, 2, 0, 1, 0, 3, 0}

	list, err := queue.GetCommandList()
	require.NoError(t, err)
	require.ErrorIs(t, list.CopyIndexBuffer(indexBuffer, 6, gputypes.IndexFormatUndefined, data), memutils.InvalidArgumentError)
	require.ErrorIs(t, list.CopyIndexBuffer(indexBuffer, 12, gputypes.IndexFormatUint16, data), memutils.InvalidArgumentError)

	require.NoError(t, list.CopyIndexBuffer(indexBuffer, 6, gputypes.IndexFormatUint16, data))
	require.NoError(t, list.SetIndexBuffer(indexBuffer))
	require.NoError(t, list.DrawIndexed(6, 1, 0, 0, 0))
	require.Equal(t, 6, indexBuffer.NumIndices())
	require.Equal(t, gputypes.IndexFormatUint16, indexBuffer.IndexBufferView().Format)

	_, err = queue.ExecuteCommandLists(list)
	require.NoError(t, err)
	require.NoError(t, device.Flush(context.Background()))

	require.Empty(t, softDevice.Violations())
	require.Equal(t, data, indexBuffer.Native().(*soft.Resource).Contents())
	require.Equal(t, gpu.ResourceStateIndexBuffer, indexBuffer.Native().(*soft.Resource).State(0))
}

func TestStructuredBuffer(t *testing.T) {
	softDevice, device := newDevice(t, soft.Options{}, gfx.CreateOptions{})

	_, err := device.CreateStructuredBuffer(0, 16, "empty")
	require.ErrorIs(t, err, memutils.InvalidArgumentError)

	buffer, err := device.CreateStructuredBuffer(64, 16, "particles")
	require.NoError(t, err)
	t.Cleanup(buffer.Release)

	require.Equal(t, 64, buffer.NumElements())
	require.Equal(t, 16, buffer.ElementSize())
	require.Equal(t, uint64(1024), buffer.Desc().Width)

	counter := buffer.CounterBuffer()
	require.True(t, counter.IsValid())
	require.Equal(t, "particles counter", counter.Name())
	require.Equal(t, 4, counter.BufferSize())

	srv, err := buffer.ShaderResourceView(nil)
	require.NoError(t, err)
	descriptor, ok := softDevice.Descriptor(srv)
	require.True(t, ok)
	require.Equal(t, soft.DescriptorKindSRV, descriptor.Kind)
	require.Equal(t, uint32(16), descriptor.SRV.StructureByteStride)

	uav, err := buffer.UnorderedAccessView(nil)
	require.NoError(t, err)
	require.False(t, uav.IsNull())

	require.Equal(t, 2, device.GlobalStates().Count())
	require.Empty(t, softDevice.Violations())
}

func TestByteAddressBufferCopy(t *testing.T) {
	softDevice, device := newDevice(t, soft.Options{}, gfx.CreateOptions{})
	queue := device.CommandQueue(gpu.CommandListTypeDirect)

	buffer, err := device.CreateByteAddressBuffer(6, "raw")
	require.NoError(t, err)
	t.Cleanup(buffer.Release)
	require.Equal(t, 8, buffer.BufferSize())

	list, err := queue.GetCommandList()
	require.NoError(t, err)
	data := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	require.NoError(t, list.CopyByteAddressBuffer(buffer, len(data), data))
	require.NoError(t, list.TransitionBarrier(buffer, gpu.ResourceStateUnorderedAccess, gpu.AllSubresources))
	list.UAVBarrier(buffer)

	_, err = queue.ExecuteCommandLists(list)
	require.NoError(t, err)
	require.NoError(t, device.Flush(context.Background()))

	require.Empty(t, softDevice.Violations())
	require.Equal(t, data, buffer.Native().(*soft.Resource).Contents())
}

func TestClearsRequireViews(t *testing.T) {
	_, device := newDevice(t, soft.Options{}, gfx.CreateOptions{})
	queue := device.CommandQueue(gpu.CommandListTypeDirect)

	texture, err := device.CreateTexture(gpu.Tex2DDesc(gputypes.TextureFormatRGBA8Unorm, 8, 8, 1, 1, gpu.ResourceFlagNone), nil, gfx.TextureUsageAlbedo, "albedo")
	require.NoError(t, err)
	t.Cleanup(texture.Release)

	list, err := queue.GetCommandList()
	require.NoError(t, err)
	require.ErrorIs(t, list.ClearTexture(texture, [4]float32{}), memutils.InvalidArgumentError)
	require.ErrorIs(t, list.ClearDepthStencilTexture(texture, gpu.ClearFlagDepth, 1, 0), memutils.InvalidArgumentError)
	require.Empty(t, list.Native().(*soft.CommandList).Commands())

	_, err = queue.ExecuteCommandLists(list)
	require.NoError(t, err)
}

func TestDepthStencilClear(t *testing.T) {
	softDevice, device := newDevice(t, soft.Options{}, gfx.CreateOptions{})
	queue := device.CommandQueue(gpu.CommandListTypeDirect)

	depth, err := device.CreateTexture(
		gpu.Tex2DDesc(gputypes.TextureFormatDepth32Float, 8, 8, 1, 1, gpu.ResourceFlagAllowDepthStencil),
		&gpu.ClearValue{Format: gputypes.TextureFormatDepth32Float, Depth: 1},
		gfx.TextureUsageDepth, "depth")
	require.NoError(t, err)
	t.Cleanup(depth.Release)

	list, err := queue.GetCommandList()
	require.NoError(t, err)
	require.NoError(t, list.ClearDepthStencilTexture(depth, gpu.ClearFlagDepth, 1, 0))

	clears := list.Native().(*soft.CommandList).CommandsOf(soft.OpClearDepthStencilView)
	require.Len(t, clears, 1)
	require.Equal(t, float32(1), clears[0].Depth)
	require.Equal(t, gpu.ClearFlagDepth, clears[0].ClearFlags)

	_, err = queue.ExecuteCommandLists(list)
	require.NoError(t, err)
	require.NoError(t, device.Flush(context.Background()))

	require.Empty(t, softDevice.Violations())
	require.Equal(t, gpu.ResourceStateDepthWrite, depth.Native().(*soft.Resource).State(0))
}

func TestViewportLimit(t *testing.T) {
	_, device := newDevice(t, soft.Options{}, gfx.CreateOptions{})
	queue := device.CommandQueue(gpu.CommandListTypeDirect)

	list, err := queue.GetCommandList()
	require.NoError(t, err)

	require.ErrorIs(t, list.SetViewports(make([]gpu.Viewport, 17)), memutils.InvalidArgumentError)
	require.ErrorIs(t, list.SetScissorRects(make([]gpu.Rect, 17)), memutils.InvalidArgumentError)
	require.NoError(t, list.SetViewports(make([]gpu.Viewport, 16)))
	require.NoError(t, list.SetScissorRect(gpu.Rect{Right: 8, Bottom: 8}))

	native := list.Native().(*soft.CommandList)
	require.Len(t, native.CommandsOf(soft.OpSetViewports), 1)
	require.Len(t, native.CommandsOf(soft.OpSetScissorRects), 1)

	_, err = queue.ExecuteCommandLists(list)
	require.NoError(t, err)
}

func TestDrawCommitsStagedDescriptors(t *testing.T) {
	softDevice, device := newDevice(t, soft.Options{}, gfx.CreateOptions{})
	queue := device.CommandQueue(gpu.CommandListTypeDirect)

	texture, err := device.CreateTexture(gpu.Tex2DDesc(gputypes.TextureFormatRGBA8Unorm, 8, 8, 1, 1, gpu.ResourceFlagNone), nil, gfx.TextureUsageAlbedo, "albedo")
	require.NoError(t, err)
	t.Cleanup(texture.Release)

	rootSignature, err := device.CreateRootSignature(gpu.RootSignatureDesc{
		Parameters: []gpu.RootParameter{
			{Type: gpu.RootParameterTypeCBV},
			{
				Type: gpu.RootParameterTypeDescriptorTable,
				Ranges: []gpu.DescriptorRange{
					{Type: gpu.DescriptorRangeTypeSRV, NumDescriptors: 2},
				},
			},
		},
	})
	require.NoError(t, err)

	list, err := queue.GetCommandList()
	require.NoError(t, err)
	require.NoError(t, list.SetGraphicsRootSignature(rootSignature))
	require.NoError(t, list.SetGraphicsRootSignature(rootSignature))
	require.NoError(t, list.SetGraphicsDynamicConstantBuffer(0, make([]byte, 16)))
	require.NoError(t, list.SetShaderResourceView(1, 1, texture, gpu.ResourceStatePixelShaderResource, 0, gpu.AllSubresources, nil))
	require.NoError(t, list.Draw(3, 1, 0, 0))

	native := list.Native().(*soft.CommandList)
	require.Len(t, native.CommandsOf(soft.OpSetGraphicsRootSignature), 1)
	require.Len(t, native.CommandsOf(soft.OpSetDescriptorHeaps), 1)

	tables := native.CommandsOf(soft.OpSetGraphicsRootDescriptorTable)
	require.Len(t, tables, 1)
	require.Equal(t, uint32(1), tables[0].RootParameterIndex)

	increment := softDevice.DescriptorHandleIncrementSize(gpu.DescriptorHeapTypeCBVSRVUAV)
	descriptor, ok := softDevice.ShaderVisibleDescriptor(tables[0].DescriptorTable.Offset(1, increment))
	require.True(t, ok)
	require.Equal(t, soft.DescriptorKindSRV, descriptor.Kind)
	require.Equal(t, texture.Native(), descriptor.Resource)

	constants := native.CommandsOf(soft.OpSetGraphicsRootConstantBufferView)
	require.Len(t, constants, 1)
	require.True(t, memutils.IsAligned(uint64(constants[0].Address), gpu.ConstantBufferDataPlacementAlignment))

	_, err = queue.ExecuteCommandLists(list)
	require.NoError(t, err)
	require.NoError(t, device.Flush(context.Background()))

	require.Empty(t, softDevice.Violations())
	require.Equal(t, gpu.ResourceStatePixelShaderResource, texture.Native().(*soft.Resource).State(0))
}

func TestDynamicUploads(t *testing.T) {
	_, device := newDevice(t, soft.Options{}, gfx.CreateOptions{})
	queue := device.CommandQueue(gpu.CommandListTypeDirect)

	list, err := queue.GetCommandList()
	require.NoError(t, err)

	require.ErrorIs(t, list.SetDynamicVertexBuffer(0, 4, 12, make([]byte, 24)), memutils.InvalidArgumentError)
	require.NoError(t, list.SetDynamicVertexBuffer(0, 4, 12, vertexData(4)))
	require.NoError(t, list.SetDynamicIndexBuffer(6, gputypes.IndexFormatUint32, make([]byte, 24)))
	require.NoError(t, list.SetGraphicsDynamicStructuredBuffer(2, 3, 8, make([]byte, 24)))

	native := list.Native().(*soft.CommandList)
	vertexBuffers := native.CommandsOf(soft.OpSetVertexBuffers)
	require.Len(t, vertexBuffers, 1)
	require.Equal(t, uint32(48), vertexBuffers[0].VertexBuffers[0].SizeInBytes)
	require.Equal(t, uint32(12), vertexBuffers[0].VertexBuffers[0].StrideInBytes)
	require.True(t, memutils.IsAligned(uint64(vertexBuffers[0].VertexBuffers[0].BufferLocation), 4))

	indexBuffers := native.CommandsOf(soft.OpSetIndexBuffer)
	require.Len(t, indexBuffers, 1)
	require.Equal(t, gputypes.IndexFormatUint32, indexBuffers[0].IndexBuffer.Format)
	require.Equal(t, uint32(24), indexBuffers[0].IndexBuffer.SizeInBytes)

	require.Len(t, native.CommandsOf(soft.OpSetGraphicsRootShaderResourceView), 1)

	_, err = queue.ExecuteCommandLists(list)
	require.NoError(t, err)
}

func newMultisampledTarget(t *testing.T, device *gfx.Device, name string) *gfx.Texture {
	sample := device.MultisampleQualityLevels(gputypes.TextureFormatRGBA8Unorm, 4)
	require.Equal(t, gpu.SampleDesc{Count: 4, Quality: 1}, sample)

	desc := gpu.Tex2DDesc(gputypes.TextureFormatRGBA8Unorm, 4, 4, 1, 1, gpu.ResourceFlagAllowRenderTarget)
	desc.SampleCount = sample.Count
	desc.SampleQuality = sample.Quality

	texture, err := device.CreateTexture(desc, nil, gfx.TextureUsageRenderTarget, name)
	require.NoError(t, err)
	t.Cleanup(texture.Release)
	return texture
}

func TestResolveMultisampledRenderTarget(t *testing.T) {
	softDevice, device := newDevice(t, soft.Options{}, gfx.CreateOptions{})
	queue := device.CommandQueue(gpu.CommandListTypeDirect)
	multisampled := newMultisampledTarget(t, device, "msaa")
	resolved := newRenderTarget(t, device, "resolved")

	var renderTarget gfx.RenderTarget
	renderTarget.AttachTexture(gfx.AttachmentPointColor0, multisampled)
	require.Equal(t, [8]gputypes.TextureFormat{gputypes.TextureFormatRGBA8Unorm}, renderTarget.RenderTargetFormats())

	list, err := queue.GetCommandList()
	require.NoError(t, err)
	require.NoError(t, list.SetRenderTarget(&renderTarget))
	require.NoError(t, list.Draw(3, 1, 0, 0))
	require.NoError(t, list.ResolveSubresource(resolved, multisampled, 0, 0))

	native := list.Native().(*soft.CommandList)
	targets := native.CommandsOf(soft.OpSetRenderTargets)
	require.Len(t, targets, 1)
	require.Equal(t, []gpu.CPUDescriptorHandle{multisampled.RenderTargetView()}, targets[0].RenderTargets)
	require.Nil(t, targets[0].DepthStencil)

	_, err = queue.ExecuteCommandLists(list)
	require.NoError(t, err)
	require.NoError(t, device.Flush(context.Background()))
	require.Empty(t, softDevice.Violations())

	submissions := queue.Native().(*soft.CommandQueue).Submissions()
	require.Len(t, submissions, 2)
	require.Equal(t, []gpu.ResourceBarrier{
		gpu.TransitionBarrier(multisampled.Native(), gpu.ResourceStateCommon, gpu.ResourceStateRenderTarget, gpu.AllSubresources),
		gpu.TransitionBarrier(resolved.Native(), gpu.ResourceStateCommon, gpu.ResourceStateResolveDest, 0),
	}, submissions[0].Commands[0].Barriers)

	barriers := commandsOf(submissions[1:], soft.OpResourceBarrier)
	require.Len(t, barriers, 1)
	require.Equal(t, []gpu.ResourceBarrier{
		gpu.TransitionBarrier(multisampled.Native(), gpu.ResourceStateRenderTarget, gpu.ResourceStateResolveSource, 0),
	}, barriers[0].Barriers)

	resolves := commandsOf(submissions[1:], soft.OpResolveSubresource)
	require.Len(t, resolves, 1)
	require.Equal(t, resolved.Native(), resolves[0].Dst)
	require.Equal(t, multisampled.Native(), resolves[0].Src)
	require.Equal(t, gputypes.TextureFormatRGBA8Unorm, resolves[0].Format)

	for _, expected := range []struct {
		texture *gfx.Texture
		state   gpu.ResourceStates
	}{
		{multisampled, gpu.ResourceStateResolveSource},
		{resolved, gpu.ResourceStateResolveDest},
	} {
		committed, ok := device.GlobalStates().ResourceState(expected.texture.Native())
		require.True(t, ok)
		require.Equal(t, expected.state, committed.SubresourceState(0))
		require.Equal(t, expected.state, expected.texture.Native().(*soft.Resource).State(0))
	}
}

func TestRootConstantsAndSamplers(t *testing.T) {
	softDevice, device := newDevice(t, soft.Options{}, gfx.CreateOptions{})
	queue := device.CommandQueue(gpu.CommandListTypeDirect)

	samplers, err := device.AllocateDescriptors(gpu.DescriptorHeapTypeSampler, 2)
	require.NoError(t, err)
	t.Cleanup(func() { samplers.Free(device.CurrentFrame()) })

	rootSignature, err := device.CreateRootSignature(gpu.RootSignatureDesc{
		Parameters: []gpu.RootParameter{
			{Type: gpu.RootParameterType32BitConstants, Num32BitValues: 3},
			{
				Type: gpu.RootParameterTypeDescriptorTable,
				Ranges: []gpu.DescriptorRange{
					{Type: gpu.DescriptorRangeTypeSampler, NumDescriptors: 2},
				},
			},
		},
	})
	require.NoError(t, err)

	list, err := queue.GetCommandList()
	require.NoError(t, err)
	require.NoError(t, list.SetGraphicsRootSignature(rootSignature))
	list.SetGraphics32BitConstants(0, []uint32{1, 2, 3})
	require.NoError(t, list.StageSamplers(1, 0, 2, samplers.Descriptor(0)))
	require.NoError(t, list.Draw(3, 1, 0, 0))

	native := list.Native().(*soft.CommandList)
	constants := native.CommandsOf(soft.OpSetGraphicsRoot32BitConstants)
	require.Len(t, constants, 1)
	require.Equal(t, uint32(0), constants[0].RootParameterIndex)
	require.Equal(t, []uint32{1, 2, 3}, constants[0].Constants)

	tables := native.CommandsOf(soft.OpSetGraphicsRootDescriptorTable)
	require.Len(t, tables, 1)
	require.Equal(t, uint32(1), tables[0].RootParameterIndex)
	_, ok := softDevice.ShaderVisibleDescriptor(tables[0].DescriptorTable)
	require.True(t, ok)

	heaps := native.CommandsOf(soft.OpSetDescriptorHeaps)
	require.NotEmpty(t, heaps)
	var heapTypes []gpu.DescriptorHeapType
	for _, heap := range heaps[len(heaps)-1].DescriptorHeaps {
		heapTypes = append(heapTypes, heap.Desc().Type)
	}
	require.Contains(t, heapTypes, gpu.DescriptorHeapTypeSampler)

	_, err = queue.ExecuteCommandLists(list)
	require.NoError(t, err)
	require.NoError(t, device.Flush(context.Background()))
	require.Empty(t, softDevice.Violations())
}

func TestWrapTexture(t *testing.T) {
	softDevice, device := newDevice(t, soft.Options{}, gfx.CreateOptions{})
	queue := device.CommandQueue(gpu.CommandListTypeDirect)

	backBuffer, err := softDevice.CreateCommittedResource(gpu.HeapTypeDefault,
		gpu.Tex2DDesc(gputypes.TextureFormatBGRA8Unorm, 4, 4, 1, 1, gpu.ResourceFlagAllowRenderTarget),
		gpu.ResourceStateRenderTarget, nil)
	require.NoError(t, err)
	backBuffer.SetName("back buffer")

	texture, err := device.WrapTexture(backBuffer, gpu.ResourceStateRenderTarget, gfx.TextureUsageRenderTarget)
	require.NoError(t, err)
	t.Cleanup(texture.Release)
	require.False(t, texture.RenderTargetView().IsNull())
	require.Equal(t, gfx.TextureUsageRenderTarget, texture.Usage())

	committed, ok := device.GlobalStates().ResourceState(backBuffer)
	require.True(t, ok)
	require.Equal(t, gpu.ResourceStateRenderTarget, committed.State)

	list, err := queue.GetCommandList()
	require.NoError(t, err)
	require.NoError(t, list.ClearTexture(texture, [4]float32{0, 0, 1, 1}))
	require.NoError(t, list.TransitionBarrier(texture, gpu.ResourceStatePresent, gpu.AllSubresources))

	_, err = queue.ExecuteCommandLists(list)
	require.NoError(t, err)
	require.NoError(t, device.Flush(context.Background()))

	require.Empty(t, softDevice.Violations())
	require.Len(t, submittedNames(queue), 1)
	require.Equal(t, gpu.ResourceStatePresent, backBuffer.(*soft.Resource).State(0))
}

func TestResizeReplacesResource(t *testing.T) {
	_, device := newDevice(t, soft.Options{}, gfx.CreateOptions{})
	texture := newRenderTarget(t, device, "target")
	multisampled := newMultisampledTarget(t, device, "msaa")
	original := texture.Native()

	var renderTarget gfx.RenderTarget
	renderTarget.AttachTexture(gfx.AttachmentPointColor0, texture)
	renderTarget.AttachTexture(gfx.AttachmentPointColor1, multisampled)
	require.NoError(t, renderTarget.Resize(16, 8))

	width, height := renderTarget.Size()
	require.Equal(t, uint64(16), width)
	require.Equal(t, uint32(8), height)

	desc := texture.Desc()
	require.Equal(t, uint64(16), desc.Width)
	require.Equal(t, uint32(8), desc.Height)
	require.Equal(t, uint16(5), desc.MipLevels)
	require.Equal(t, "target", texture.Name())
	require.False(t, texture.RenderTargetView().IsNull())

	_, ok := device.GlobalStates().ResourceState(original)
	require.False(t, ok)
	committed, ok := device.GlobalStates().ResourceState(texture.Native())
	require.True(t, ok)
	require.Equal(t, gpu.ResourceStateCommon, committed.State)

	msDesc := multisampled.Desc()
	require.Equal(t, uint64(16), msDesc.Width)
	require.Equal(t, uint16(1), msDesc.MipLevels)
	require.Equal(t, uint32(4), msDesc.SampleCount)
	require.Equal(t, uint32(1), msDesc.SampleQuality)

	viewport := renderTarget.Viewport(1, 1, 0, 0, 0, 1)
	require.Equal(t, gpu.Viewport{Width: 16, Height: 8, MaxDepth: 1}, viewport)
}
