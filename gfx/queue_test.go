package gfx_test

import (
	"context"
	"testing"
	"time"

	"github.com/afrcore/afrcore/gfx"
	"github.com/afrcore/afrcore/gpu"
	"github.com/afrcore/afrcore/gpu/soft"
	"github.com/afrcore/afrcore/memutils"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestExecuteInterleavesPatchLists(t *testing.T) {
	softDevice, device := newDevice(t, soft.Options{}, gfx.CreateOptions{})
	queue := device.CommandQueue(gpu.CommandListTypeDirect)
	texture := newRenderTarget(t, device, "target")

	first, err := queue.GetCommandList()
	require.NoError(t, err)
	require.NoError(t, first.ClearTexture(texture, [4]float32{0, 0, 0, 1}))

	second, err := queue.GetCommandList()
	require.NoError(t, err)
	require.NoError(t, second.TransitionBarrier(texture, gpu.ResourceStatePixelShaderResource, gpu.AllSubresources))

	fenceValue, err := queue.ExecuteCommandLists(first, second)
	require.NoError(t, err)
	require.NoError(t, queue.WaitForFenceValue(context.Background(), fenceValue))

	require.Empty(t, softDevice.Violations())
	require.Equal(t, []string{"Direct list 3", "Direct list 1", "Direct list 4", "Direct list 2"}, submittedNames(queue))

	submissions := queue.Native().(*soft.CommandQueue).Submissions()
	require.Equal(t, []gpu.ResourceBarrier{
		gpu.TransitionBarrier(texture.Native(), gpu.ResourceStateCommon, gpu.ResourceStateRenderTarget, gpu.AllSubresources),
	}, submissions[0].Commands[0].Barriers)
	require.Equal(t, []gpu.ResourceBarrier{
		gpu.TransitionBarrier(texture.Native(), gpu.ResourceStateRenderTarget, gpu.ResourceStatePixelShaderResource, gpu.AllSubresources),
	}, submissions[2].Commands[0].Barriers)
	require.Len(t, submissions[1].Commands, 1)
	require.Equal(t, soft.OpClearRenderTargetView, submissions[1].Commands[0].Op)

	committed, ok := device.GlobalStates().ResourceState(texture.Native())
	require.True(t, ok)
	require.Equal(t, gpu.ResourceStatePixelShaderResource, committed.SubresourceState(0))
	require.Equal(t, gpu.ResourceStatePixelShaderResource, texture.Native().(*soft.Resource).State(0))

	require.NoError(t, queue.Flush(context.Background()))
	require.Equal(t, 0, queue.InFlightCount())
	require.Equal(t, 4, queue.AvailableCount())
}

func TestExecuteSkipsEmptyPatchLists(t *testing.T) {
	softDevice, device := newDevice(t, soft.Options{}, gfx.CreateOptions{})
	queue := device.CommandQueue(gpu.CommandListTypeDirect)
	texture := newRenderTarget(t, device, "target")

	list, err := queue.GetCommandList()
	require.NoError(t, err)
	require.NoError(t, list.TransitionBarrier(texture, gpu.ResourceStateCommon, gpu.AllSubresources))

	_, err = queue.ExecuteCommandLists(list)
	require.NoError(t, err)

	require.Empty(t, softDevice.Violations())
	require.Equal(t, []string{"Direct list 1"}, submittedNames(queue))
}

func TestRecycledListsAreReset(t *testing.T) {
	softDevice, device := newDevice(t, soft.Options{ManualFenceCompletion: true}, gfx.CreateOptions{})
	queue := device.CommandQueue(gpu.CommandListTypeDirect)
	softQueue := queue.Native().(*soft.CommandQueue)

	list, err := queue.GetCommandList()
	require.NoError(t, err)
	require.NoError(t, list.SetGraphicsDynamicConstantBuffer(0, make([]byte, 64)))

	fenceValue, err := queue.ExecuteCommandLists(list)
	require.NoError(t, err)
	require.False(t, queue.IsFenceComplete(fenceValue))
	require.Equal(t, 1, queue.InFlightCount())
	require.Equal(t, 1, queue.AvailableCount())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = queue.WaitForFenceValue(ctx, fenceValue)
	require.ErrorIs(t, err, context.Canceled)

	softQueue.CompleteAll()
	require.NoError(t, queue.WaitForFenceValue(context.Background(), fenceValue))

	flushed := make(chan error)
	go func() { flushed <- queue.Flush(context.Background()) }()
	require.Eventually(t, func() bool { return softQueue.PendingSignals() > 0 }, time.Second, time.Millisecond)
	softQueue.CompleteAll()
	require.NoError(t, <-flushed)

	require.Equal(t, 0, queue.InFlightCount())
	require.Equal(t, 2, queue.AvailableCount())
	require.Equal(t, 0, list.TrackedObjectCount())
	require.Empty(t, softDevice.Violations())
}

func TestWaitIsIssuedOnTheGPU(t *testing.T) {
	_, device := newDevice(t, soft.Options{ManualFenceCompletion: true}, gfx.CreateOptions{})
	direct := device.CommandQueue(gpu.CommandListTypeDirect)
	copyQueue := device.CommandQueue(gpu.CommandListTypeCopy)

	value, err := copyQueue.Signal()
	require.NoError(t, err)
	require.NoError(t, direct.Wait(copyQueue))

	operations := direct.Native().(*soft.CommandQueue).FenceOperations()
	require.Len(t, operations, 1)
	require.False(t, operations[0].Signal)
	require.Equal(t, value, operations[0].Value)
	require.Equal(t, copyQueue.Fence(), operations[0].Fence)
}

func TestStrictTrackingRejectsUnknownResources(t *testing.T) {
	softDevice, device := newDevice(t, soft.Options{}, gfx.CreateOptions{Flags: gfx.DeviceCreateStrictStateTracking})
	queue := device.CommandQueue(gpu.CommandListTypeDirect)

	foreign, err := softDevice.CreateCommittedResource(gpu.HeapTypeDefault, gpu.BufferDesc(64, gpu.ResourceFlagNone), gpu.ResourceStateCommon, nil)
	require.NoError(t, err)

	list, err := queue.GetCommandList()
	require.NoError(t, err)
	require.NoError(t, list.TransitionBarrier(nativeResource{foreign}, gpu.ResourceStateCopyDest, gpu.AllSubresources))

	_, err = queue.ExecuteCommandLists(list)
	require.ErrorIs(t, err, memutils.UnknownResourceError)
}

func TestFailedBatchLeavesGlobalStatesUntouched(t *testing.T) {
	softDevice, device := newDevice(t, soft.Options{}, gfx.CreateOptions{Flags: gfx.DeviceCreateStrictStateTracking})
	queue := device.CommandQueue(gpu.CommandListTypeDirect)
	texture := newRenderTarget(t, device, "target")

	foreign, err := softDevice.CreateCommittedResource(gpu.HeapTypeDefault, gpu.BufferDesc(64, gpu.ResourceFlagNone), gpu.ResourceStateCommon, nil)
	require.NoError(t, err)

	first, err := queue.GetCommandList()
	require.NoError(t, err)
	require.NoError(t, first.TransitionBarrier(texture, gpu.ResourceStateCopyDest, gpu.AllSubresources))

	second, err := queue.GetCommandList()
	require.NoError(t, err)
	require.NoError(t, second.TransitionBarrier(nativeResource{foreign}, gpu.ResourceStateCopyDest, gpu.AllSubresources))

	_, err = queue.ExecuteCommandLists(first, second)
	require.ErrorIs(t, err, memutils.UnknownResourceError)

	require.Empty(t, submittedNames(queue))
	committed, ok := device.GlobalStates().ResourceState(texture.Native())
	require.True(t, ok)
	require.Equal(t, gpu.ResourceStateCommon, committed.SubresourceState(0))
	require.Equal(t, 0, queue.InFlightCount())
	require.Equal(t, 4, queue.AvailableCount())

	list, err := queue.GetCommandList()
	require.NoError(t, err)
	require.Equal(t, 0, list.TrackedObjectCount())
	require.NoError(t, list.TransitionBarrier(texture, gpu.ResourceStateRenderTarget, gpu.AllSubresources))

	_, err = queue.ExecuteCommandLists(list)
	require.NoError(t, err)
	require.NoError(t, queue.Flush(context.Background()))

	require.Empty(t, softDevice.Violations())
	require.Len(t, submittedNames(queue), 2)
	require.Equal(t, gpu.ResourceStateRenderTarget, texture.Native().(*soft.Resource).State(0))
}

func TestFailedExecuteLeavesGlobalStatesUntouched(t *testing.T) {
	softDevice, device := newDevice(t, soft.Options{}, gfx.CreateOptions{})
	queue := device.CommandQueue(gpu.CommandListTypeDirect)
	texture := newRenderTarget(t, device, "target")

	list, err := queue.GetCommandList()
	require.NoError(t, err)
	require.NoError(t, list.TransitionBarrier(texture, gpu.ResourceStateCopyDest, gpu.AllSubresources))

	softDevice.InjectFailure("ExecuteCommandLists", errors.New("device removed"))
	_, err = queue.ExecuteCommandLists(list)
	require.ErrorIs(t, err, memutils.HostAPIFailureError)

	committed, ok := device.GlobalStates().ResourceState(texture.Native())
	require.True(t, ok)
	require.Equal(t, gpu.ResourceStateCommon, committed.SubresourceState(0))
	require.Equal(t, 0, queue.InFlightCount())
	require.Equal(t, 2, queue.AvailableCount())
	require.Empty(t, softDevice.Violations())
}

type nativeResource struct {
	resource gpu.Resource
}

func (r nativeResource) Native() gpu.Resource { return r.resource }

func TestCloseWithPendingRequiresGlobalLock(t *testing.T) {
	_, device := newDevice(t, soft.Options{}, gfx.CreateOptions{})
	queue := device.CommandQueue(gpu.CommandListTypeDirect)
	texture := newRenderTarget(t, device, "target")

	list, err := queue.GetCommandList()
	require.NoError(t, err)
	pending, err := queue.GetCommandList()
	require.NoError(t, err)
	require.NoError(t, list.TransitionBarrier(texture, gpu.ResourceStateCopyDest, gpu.AllSubresources))

	_, err = list.CloseWithPending(pending)
	require.True(t, errors.IsAssertionFailure(err))

	list, err = queue.GetCommandList()
	require.NoError(t, err)
	pending, err = queue.GetCommandList()
	require.NoError(t, err)
	require.NoError(t, list.TransitionBarrier(texture, gpu.ResourceStateCopyDest, gpu.AllSubresources))

	device.GlobalStates().Lock()
	hasPending, err := list.CloseWithPending(pending)
	device.GlobalStates().Unlock()
	require.NoError(t, err)
	require.True(t, hasPending)

	require.Equal(t, []gpu.ResourceBarrier{
		gpu.TransitionBarrier(texture.Native(), gpu.ResourceStateCommon, gpu.ResourceStateCopyDest, gpu.AllSubresources),
	}, pending.Native().(*soft.CommandList).Barriers())

	committed, ok := device.GlobalStates().ResourceState(texture.Native())
	require.True(t, ok)
	require.Equal(t, gpu.ResourceStateCopyDest, committed.SubresourceState(0))
}

func TestParallelRecording(t *testing.T) {
	softDevice, device := newDevice(t, soft.Options{}, gfx.CreateOptions{})
	queue := device.CommandQueue(gpu.CommandListTypeDirect)

	const workers = 8
	textures := make([]*gfx.Texture, workers)
	for i := range textures {
		textures[i] = newRenderTarget(t, device, "target")
	}

	lists := make([]*gfx.CommandList, workers)
	var group errgroup.Group
	for i := range lists {
		group.Go(func() error {
			list, err := queue.GetCommandList()
			if err != nil {
				return err
			}
			if err := list.ClearTexture(textures[i], [4]float32{1, 0, 0, 1}); err != nil {
				return err
			}
			if err := list.SetGraphicsDynamicConstantBuffer(0, make([]byte, 256)); err != nil {
				return err
			}
			lists[i] = list
			return nil
		})
	}
	require.NoError(t, group.Wait())

	_, err := queue.ExecuteCommandLists(lists...)
	require.NoError(t, err)
	require.NoError(t, device.Flush(context.Background()))

	require.Empty(t, softDevice.Violations())
	require.Len(t, submittedNames(queue), 2*workers)
	for _, texture := range textures {
		require.Equal(t, gpu.ResourceStateRenderTarget, texture.Native().(*soft.Resource).State(0))
	}
}
