package gfx_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/afrcore/afrcore/gfx"
	"github.com/afrcore/afrcore/gpu"
	"github.com/afrcore/afrcore/gpu/soft"
	"github.com/afrcore/afrcore/memutils"
	"github.com/cockroachdb/errors"
	"github.com/gogpu/gputypes"
	"github.com/stretchr/testify/require"
)

func TestNewDeviceDefaults(t *testing.T) {
	_, device := newDevice(t, soft.Options{NodeCount: 2}, gfx.CreateOptions{})

	options := device.Options()
	require.Equal(t, uint32(1), options.NumFrames)
	require.Equal(t, uint32(1), options.BackBuffersPerNode)
	require.Equal(t, uint32(2), device.NodeCount())
	require.Equal(t, gpu.NodeMask(0b11), device.NodeMask())

	for _, listType := range queueTypes {
		require.Equal(t, listType, device.CommandQueue(listType).CommandListType())
	}
}

func TestNewDeviceHostFailure(t *testing.T) {
	softDevice := soft.NewDevice(soft.Options{})
	softDevice.InjectFailure("CreateFence", errors.New("device removed"))

	_, err := gfx.NewDevice(testLogger(), softDevice, gfx.CreateOptions{})
	require.ErrorIs(t, err, memutils.HostAPIFailureError)
	require.ErrorContains(t, err, "device removed")
}

func TestDestroyReportsLeakedDescriptors(t *testing.T) {
	softDevice := soft.NewDevice(soft.Options{})
	device, err := gfx.NewDevice(testLogger(), softDevice, gfx.CreateOptions{})
	require.NoError(t, err)

	_, err = device.AllocateDescriptors(gpu.DescriptorHeapTypeRTV, 2)
	require.NoError(t, err)

	require.Error(t, device.Destroy(context.Background()))
}

func TestBuildStatsString(t *testing.T) {
	_, device := newDevice(t, soft.Options{}, gfx.CreateOptions{})
	queue := device.CommandQueue(gpu.CommandListTypeDirect)
	newRenderTarget(t, device, "target")

	list, err := queue.GetCommandList()
	require.NoError(t, err)
	require.NoError(t, list.SetGraphicsDynamicConstantBuffer(0, make([]byte, 16)))
	_, err = queue.ExecuteCommandLists(list)
	require.NoError(t, err)
	require.NoError(t, device.Flush(context.Background()))

	for _, detailed := range []bool{false, true} {
		var stats struct {
			NodeCount            int
			TrackedResources     int
			DescriptorAllocators map[string]map[string]any
			ShaderVisibleHeaps   map[string]map[string]any
			Queues               map[string]struct {
				LastSignaledValue float64
				CompletedValue    float64
				InFlightLists     int
				AvailableLists    int
			}
		}
		require.NoError(t, json.Unmarshal([]byte(device.BuildStatsString(detailed)), &stats))

		require.Equal(t, 1, stats.NodeCount)
		require.Equal(t, 1, stats.TrackedResources)
		require.Len(t, stats.DescriptorAllocators, 4)
		require.Len(t, stats.ShaderVisibleHeaps, 2)
		require.Equal(t, float64(1), stats.DescriptorAllocators["RTV"]["AllocationCount"])
		require.Equal(t, float64(0), stats.DescriptorAllocators["RTV"]["StaleDescriptors"])

		direct := stats.Queues["Direct"]
		require.Equal(t, float64(2), direct.LastSignaledValue)
		require.Equal(t, direct.LastSignaledValue, direct.CompletedValue)
		require.Equal(t, 0, direct.InFlightLists)
		require.Equal(t, 2, direct.AvailableLists)

		_, hasPages := stats.DescriptorAllocators["RTV"]["Pages"]
		require.Equal(t, detailed, hasPages)
	}
}

func TestMultisampleQualityLevels(t *testing.T) {
	_, device := newDevice(t, soft.Options{}, gfx.CreateOptions{})
	for _, c := range []struct {
		numSamples uint32
		expected   gpu.SampleDesc
	}{
		{8, gpu.SampleDesc{Count: 8, Quality: 1}},
		{6, gpu.SampleDesc{Count: 4, Quality: 1}},
		{1, gpu.SampleDesc{Count: 1}},
		{0, gpu.SampleDesc{Count: 1}},
	} {
		require.Equal(t, c.expected, device.MultisampleQualityLevels(gputypes.TextureFormatRGBA8Unorm, c.numSamples), "%d samples", c.numSamples)
	}

	_, limited := newDevice(t, soft.Options{MaxSampleCount: 4}, gfx.CreateOptions{})
	require.Equal(t, gpu.SampleDesc{Count: 4, Quality: 1}, limited.MultisampleQualityLevels(gputypes.TextureFormatRGBA8Unorm, 16))

	_, singleSampled := newDevice(t, soft.Options{
		FormatSupport: map[gputypes.TextureFormat]gpu.FormatSupport{
			gputypes.TextureFormatRGBA8Unorm: {Support1: gpu.FormatSupport1Texture2D | gpu.FormatSupport1RenderTarget},
		},
	}, gfx.CreateOptions{})
	require.Equal(t, gpu.SampleDesc{Count: 1}, singleSampled.MultisampleQualityLevels(gputypes.TextureFormatRGBA8Unorm, 8))

	softDevice, failing := newDevice(t, soft.Options{}, gfx.CreateOptions{})
	softDevice.InjectFailure("CheckMultisampleQualityLevels", errors.New("device removed"))
	require.Equal(t, gpu.SampleDesc{Count: 1}, failing.MultisampleQualityLevels(gputypes.TextureFormatRGBA8Unorm, 8))
	require.Equal(t, gpu.SampleDesc{Count: 8, Quality: 1}, failing.MultisampleQualityLevels(gputypes.TextureFormatRGBA8Unorm, 8))
}
