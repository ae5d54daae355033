package soft_test

import (
	"context"
	"testing"
	"time"

	"github.com/afrcore/afrcore/gpu"
	"github.com/afrcore/afrcore/gpu/soft"
	"github.com/cockroachdb/errors"
	"github.com/gogpu/gputypes"
	"github.com/stretchr/testify/require"
)

func newList(t *testing.T, device *soft.Device, listType gpu.CommandListType) *soft.CommandList {
	allocator, err := device.CreateCommandAllocator(listType)
	require.NoError(t, err)
	list, err := device.CreateCommandList(listType, allocator, nil)
	require.NoError(t, err)
	return list.(*soft.CommandList)
}

func TestBufferCopy(t *testing.T) {
	device := soft.NewDevice(soft.Options{})
	queue, err := device.CreateCommandQueue(gpu.CommandListTypeCopy)
	require.NoError(t, err)

	upload, err := device.CreateCommittedResource(gpu.HeapTypeUpload, gpu.BufferDesc(16, 0), gpu.ResourceStateGenericRead, nil)
	require.NoError(t, err)
	target, err := device.CreateCommittedResource(gpu.HeapTypeDefault, gpu.BufferDesc(16, 0), gpu.ResourceStateCommon, nil)
	require.NoError(t, err)

	mapped, err := upload.Map()
	require.NoError(t, err)
	copy(mapped, []byte{1, 2, 3, 4})

	list := newList(t, device, gpu.CommandListTypeCopy)
	list.ResourceBarrier([]gpu.ResourceBarrier{gpu.TransitionBarrier(target, gpu.ResourceStateCommon, gpu.ResourceStateCopyDest, gpu.AllSubresources)})
	list.CopyBufferRegion(target, 4, upload, 0, 4)
	require.NoError(t, list.Close())
	require.NoError(t, queue.ExecuteCommandLists([]gpu.CommandList{list}))

	require.Empty(t, device.Violations())
	require.Equal(t, []byte{0, 0, 0, 0, 1, 2, 3, 4}, target.(*soft.Resource).Contents()[:8])
	require.Equal(t, gpu.ResourceStateCopyDest, target.(*soft.Resource).State(0))

	_, err = target.Map()
	require.Error(t, err)
}

func TestBarrierBeforeStateMismatch(t *testing.T) {
	device := soft.NewDevice(soft.Options{})
	queue, err := device.CreateCommandQueue(gpu.CommandListTypeDirect)
	require.NoError(t, err)

	texture, err := device.CreateCommittedResource(gpu.HeapTypeDefault,
		gpu.Tex2DDesc(gputypes.TextureFormatRGBA8Unorm, 4, 4, 1, 3, gpu.ResourceFlagAllowRenderTarget), gpu.ResourceStateCommon, nil)
	require.NoError(t, err)
	texture.SetName("albedo")

	list := newList(t, device, gpu.CommandListTypeDirect)
	list.SetName("frame")
	list.ResourceBarrier([]gpu.ResourceBarrier{
		gpu.TransitionBarrier(texture, gpu.ResourceStateCommon, gpu.ResourceStateRenderTarget, 1),
		gpu.TransitionBarrier(texture, gpu.ResourceStateCommon, gpu.ResourceStatePixelShaderResource, 1),
	})
	require.NoError(t, list.Close())
	require.NoError(t, queue.ExecuteCommandLists([]gpu.CommandList{list}))

	violations := device.Violations()
	require.Len(t, violations, 1)
	require.Contains(t, violations[0], `"albedo" subresource 1 from COMMON but it is in RENDER_TARGET`)
	require.Equal(t, gpu.ResourceStateCommon, texture.(*soft.Resource).State(0))
	require.Equal(t, gpu.ResourceStatePixelShaderResource, texture.(*soft.Resource).State(1))
}

func TestExecuteRequiresClosedList(t *testing.T) {
	device := soft.NewDevice(soft.Options{})
	queue, err := device.CreateCommandQueue(gpu.CommandListTypeDirect)
	require.NoError(t, err)

	list := newList(t, device, gpu.CommandListTypeDirect)
	require.Error(t, queue.ExecuteCommandLists([]gpu.CommandList{list}))

	require.NoError(t, list.Close())
	list.Dispatch(1, 1, 1)
	require.Len(t, device.Violations(), 1)
	require.Empty(t, list.Commands())
}

func TestManualFenceCompletion(t *testing.T) {
	device := soft.NewDevice(soft.Options{ManualFenceCompletion: true})
	queue, err := device.CreateCommandQueue(gpu.CommandListTypeDirect)
	require.NoError(t, err)
	fence, err := device.CreateFence(0)
	require.NoError(t, err)

	require.NoError(t, queue.Signal(fence, 1))
	require.NoError(t, queue.Signal(fence, 2))
	require.Equal(t, uint64(0), fence.CompletedValue())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, fence.Wait(ctx, 1), context.DeadlineExceeded)

	softQueue := queue.(*soft.CommandQueue)
	require.Equal(t, 2, softQueue.PendingSignals())

	done := make(chan error, 1)
	go func() {
		done <- fence.Wait(context.Background(), 2)
	}()

	require.True(t, softQueue.CompleteNext())
	require.Equal(t, uint64(1), fence.CompletedValue())
	softQueue.CompleteAll()
	require.NoError(t, <-done)
	require.Equal(t, uint64(2), fence.CompletedValue())
	require.False(t, softQueue.CompleteNext())
}

func TestDescriptorCopy(t *testing.T) {
	device := soft.NewDevice(soft.Options{})

	staging, err := device.CreateDescriptorHeap(gpu.DescriptorHeapDesc{Type: gpu.DescriptorHeapTypeCBVSRVUAV, NumDescriptors: 4})
	require.NoError(t, err)
	visible, err := device.CreateDescriptorHeap(gpu.DescriptorHeapDesc{Type: gpu.DescriptorHeapTypeCBVSRVUAV, NumDescriptors: 8, ShaderVisible: true})
	require.NoError(t, err)
	require.True(t, staging.GPUDescriptorHandleForHeapStart().IsNull())

	buffer, err := device.CreateCommittedResource(gpu.HeapTypeDefault, gpu.BufferDesc(256, 0), gpu.ResourceStateCommon, nil)
	require.NoError(t, err)

	increment := device.DescriptorHandleIncrementSize(gpu.DescriptorHeapTypeCBVSRVUAV)
	src := staging.CPUDescriptorHandleForHeapStart()
	device.CreateShaderResourceView(buffer, nil, src)
	device.CreateConstantBufferView(gpu.CBVDesc{BufferLocation: buffer.GPUVirtualAddress(), SizeInBytes: 256}, src.Offset(1, increment))

	device.CopyDescriptors(
		[]gpu.CPUDescriptorHandle{visible.CPUDescriptorHandleForHeapStart().Offset(3, increment)}, []uint32{2},
		[]gpu.CPUDescriptorHandle{src, src.Offset(1, increment)}, nil,
		gpu.DescriptorHeapTypeCBVSRVUAV,
	)
	require.Empty(t, device.Violations())

	srv, ok := device.ShaderVisibleDescriptor(visible.GPUDescriptorHandleForHeapStart().Offset(3, increment))
	require.True(t, ok)
	require.Equal(t, soft.DescriptorKindSRV, srv.Kind)
	require.Equal(t, buffer, srv.Resource)
	require.True(t, srv.Default)

	cbv, ok := device.ShaderVisibleDescriptor(visible.GPUDescriptorHandleForHeapStart().Offset(4, increment))
	require.True(t, ok)
	require.Equal(t, soft.DescriptorKindCBV, cbv.Kind)
	require.Equal(t, uint32(256), cbv.CBV.SizeInBytes)
}

func TestAffinity(t *testing.T) {
	device := soft.NewDevice(soft.Options{NodeCount: 3})
	require.Equal(t, uint32(3), device.NodeCount())
	require.Equal(t, gpu.NodeMask(0b111), device.NodeMask())

	require.Equal(t, gpu.NodeMask(0b001), device.ActiveNodeMask())
	device.SwitchToNextNode()
	require.Equal(t, uint32(1), device.ActiveNodeIndex())
	require.Equal(t, gpu.NodeMask(0b010), device.ActiveNodeMask())
	device.SwitchToNextNode()
	device.SwitchToNextNode()
	require.Equal(t, uint32(0), device.ActiveNodeIndex())

	require.NoError(t, device.SetAffinity(0b101))
	require.Equal(t, uint32(2), device.NodeCount())
	device.SwitchToNextNode()
	require.Equal(t, gpu.NodeMask(0b100), device.ActiveNodeMask())

	require.Error(t, device.SetAffinity(0b1000))
	require.Error(t, device.SetAffinity(0))
}

func TestInjectedFailure(t *testing.T) {
	device := soft.NewDevice(soft.Options{})
	lost := errors.New("device removed")
	device.InjectFailure("CreateFence", lost)

	_, err := device.CreateFence(0)
	require.ErrorIs(t, err, lost)

	_, err = device.CreateFence(0)
	require.NoError(t, err)
}

func TestMultisampledResources(t *testing.T) {
	device := soft.NewDevice(soft.Options{MaxSampleCount: 4})
	format := gputypes.TextureFormatRGBA8Unorm

	for _, c := range []struct {
		sampleCount uint32
		flags       gpu.MultisampleQualityLevelFlags
		levels      uint32
	}{
		{0, gpu.MultisampleQualityLevelsFlagNone, 0},
		{1, gpu.MultisampleQualityLevelsFlagNone, 1},
		{3, gpu.MultisampleQualityLevelsFlagNone, 0},
		{4, gpu.MultisampleQualityLevelsFlagNone, 2},
		{4, gpu.MultisampleQualityLevelsFlagTiledResource, 1},
		{8, gpu.MultisampleQualityLevelsFlagNone, 0},
	} {
		levels, err := device.CheckMultisampleQualityLevels(format, c.sampleCount, c.flags)
		require.NoError(t, err)
		require.Equal(t, c.levels, levels, "%d samples", c.sampleCount)
	}

	levels, err := device.CheckMultisampleQualityLevels(gputypes.TextureFormatUndefined, 4, gpu.MultisampleQualityLevelsFlagNone)
	require.NoError(t, err)
	require.Zero(t, levels)

	desc := gpu.Tex2DDesc(format, 4, 4, 1, 1, gpu.ResourceFlagAllowRenderTarget)
	desc.SampleCount = 4
	desc.SampleQuality = 1
	_, err = device.CreateCommittedResource(gpu.HeapTypeDefault, desc, gpu.ResourceStateCommon, nil)
	require.NoError(t, err)

	desc.SampleQuality = 2
	_, err = device.CreateCommittedResource(gpu.HeapTypeDefault, desc, gpu.ResourceStateCommon, nil)
	require.Error(t, err)

	desc.SampleQuality = 0
	desc.MipLevels = 2
	_, err = device.CreateCommittedResource(gpu.HeapTypeDefault, desc, gpu.ResourceStateCommon, nil)
	require.Error(t, err)
}
