package descriptor_test

import (
	"encoding/json"
	"io"
	"math/rand"
	"testing"

	"github.com/afrcore/afrcore/descriptor"
	"github.com/afrcore/afrcore/gpu"
	"github.com/afrcore/afrcore/gpu/soft"
	"github.com/afrcore/afrcore/memutils"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"
)

func newAllocator(device gpu.Device, options descriptor.CreateOptions) *descriptor.Allocator {
	logger := slog.New(slog.NewJSONHandler(io.Discard))
	return descriptor.New(logger, device, gpu.DescriptorHeapTypeCBVSRVUAV, options)
}

func TestAllocator_StaleRelease(t *testing.T) {
	allocator := newAllocator(soft.NewDevice(soft.Options{}), descriptor.CreateOptions{DescriptorsPerPage: 256})

	alloc, err := allocator.Allocate(100)
	require.NoError(t, err)
	require.Equal(t, 100, alloc.NumHandles())
	require.Equal(t, 1, allocator.PageCount())
	require.Equal(t, 156, allocator.NumFreeHandles())

	alloc.Free(10)
	require.True(t, alloc.IsNull())
	require.Equal(t, 1, allocator.StaleCount())

	allocator.ReleaseStaleDescriptors(9)
	require.Equal(t, 156, allocator.NumFreeHandles())
	require.Equal(t, 1, allocator.StaleCount())

	allocator.ReleaseStaleDescriptors(10)
	require.Equal(t, 256, allocator.NumFreeHandles())
	require.Equal(t, 0, allocator.StaleCount())

	full, err := allocator.Allocate(256)
	require.NoError(t, err)
	require.Equal(t, 1, allocator.PageCount())
	require.Equal(t, 0, full.Offset())

	full.Free(11)
	allocator.ReleaseStaleDescriptors(11)
	require.NoError(t, allocator.Destroy())
}

func TestAllocator_ContiguousHandles(t *testing.T) {
	device := soft.NewDevice(soft.Options{})
	allocator := newAllocator(device, descriptor.CreateOptions{DescriptorsPerPage: 16})

	first, err := allocator.Allocate(4)
	require.NoError(t, err)
	second, err := allocator.Allocate(3)
	require.NoError(t, err)

	increment := device.DescriptorHandleIncrementSize(gpu.DescriptorHeapTypeCBVSRVUAV)
	require.Equal(t, first.Descriptor(0).Offset(4, increment), second.Descriptor(0))
	require.Equal(t, second.Descriptor(0).Offset(2, increment), second.Descriptor(2))
	require.Panics(t, func() { second.Descriptor(3) })
}

func TestAllocator_LargeRequestGetsOwnPage(t *testing.T) {
	allocator := newAllocator(soft.NewDevice(soft.Options{}), descriptor.CreateOptions{DescriptorsPerPage: 8})

	_, err := allocator.Allocate(6)
	require.NoError(t, err)
	large, err := allocator.Allocate(20)
	require.NoError(t, err)
	require.Equal(t, 20, large.NumHandles())
	require.Equal(t, 2, allocator.PageCount())

	var stats memutils.Statistics
	allocator.AddStatistics(&stats)
	require.Equal(t, memutils.Statistics{
		BlockCount:      2,
		AllocationCount: 2,
		BlockSize:       28,
		AllocationSize:  26,
	}, stats)
}

func TestAllocator_PageCap(t *testing.T) {
	allocator := newAllocator(soft.NewDevice(soft.Options{}), descriptor.CreateOptions{DescriptorsPerPage: 8, MaxPages: 2})

	_, err := allocator.Allocate(8)
	require.NoError(t, err)
	stale, err := allocator.Allocate(8)
	require.NoError(t, err)

	_, err = allocator.Allocate(1)
	require.ErrorIs(t, err, memutils.OutOfDescriptorMemoryError)

	stale.Free(3)
	_, err = allocator.Allocate(1)
	require.ErrorIs(t, err, memutils.OutOfDescriptorMemoryError)

	allocator.ReleaseStaleDescriptors(3)
	_, err = allocator.Allocate(8)
	require.NoError(t, err)
	require.Equal(t, 2, allocator.PageCount())
}

func TestAllocator_CapacityInvariant(t *testing.T) {
	allocator := newAllocator(soft.NewDevice(soft.Options{}), descriptor.CreateOptions{DescriptorsPerPage: 64})
	random := rand.New(rand.NewSource(7))

	var live []*descriptor.Allocation
	frame := uint64(0)
	for i := 0; i < 500; i++ {
		if len(live) > 0 && random.Intn(3) == 0 {
			index := random.Intn(len(live))
			live[index].Free(frame)
			live = append(live[:index], live[index+1:]...)
		} else {
			size := random.Intn(24) + 1
			alloc, err := allocator.Allocate(size)
			require.NoError(t, err)
			require.Equal(t, size, alloc.NumHandles())
			live = append(live, alloc)
		}

		if i%25 == 0 {
			frame++
			allocator.ReleaseStaleDescriptors(frame - 1)
		}

		var stats memutils.Statistics
		allocator.AddStatistics(&stats)
		require.Equal(t, stats.BlockSize, stats.AllocationSize+allocator.NumFreeHandles())
		require.NoError(t, allocator.Validate())
	}
}

func TestAllocator_HostFailure(t *testing.T) {
	device := soft.NewDevice(soft.Options{})
	removed := errors.New("device removed")
	device.InjectFailure("CreateDescriptorHeap", removed)

	allocator := newAllocator(device, descriptor.CreateOptions{})
	_, err := allocator.Allocate(1)
	require.ErrorIs(t, err, memutils.HostAPIFailureError)
	require.ErrorIs(t, err, removed)
	require.Equal(t, 0, allocator.PageCount())
}

func TestAllocator_InvalidCount(t *testing.T) {
	allocator := newAllocator(soft.NewDevice(soft.Options{}), descriptor.CreateOptions{})
	_, err := allocator.Allocate(0)
	require.ErrorIs(t, err, memutils.InvalidArgumentError)
}

func TestAllocator_NullAllocation(t *testing.T) {
	var alloc descriptor.Allocation
	require.True(t, alloc.IsNull())
	alloc.Free(1)
}

func TestAllocator_DestroyReportsLeaks(t *testing.T) {
	allocator := newAllocator(soft.NewDevice(soft.Options{}), descriptor.CreateOptions{DescriptorsPerPage: 8})

	_, err := allocator.Allocate(2)
	require.NoError(t, err)
	stale, err := allocator.Allocate(2)
	require.NoError(t, err)
	stale.Free(1)

	require.Error(t, allocator.Destroy())
	require.Equal(t, 0, allocator.PageCount())
}

func TestAllocator_BuildStatsString(t *testing.T) {
	allocator := newAllocator(soft.NewDevice(soft.Options{}), descriptor.CreateOptions{DescriptorsPerPage: 8})

	_, err := allocator.Allocate(3)
	require.NoError(t, err)
	stale, err := allocator.Allocate(2)
	require.NoError(t, err)
	stale.Free(4)

	var parsed struct {
		HeapType string
		Total    struct {
			BlockCount       int
			AllocationCount  int
			UnusedRangeCount int
		}
		Pages map[string]struct {
			Stale  int
			Ranges []map[string]any
		}
	}
	require.NoError(t, json.Unmarshal([]byte(allocator.BuildStatsString(true)), &parsed))

	require.Equal(t, gpu.DescriptorHeapTypeCBVSRVUAV.String(), parsed.HeapType)
	require.Equal(t, 1, parsed.Total.BlockCount)
	require.Equal(t, 2, parsed.Total.AllocationCount)
	require.Equal(t, 1, parsed.Total.UnusedRangeCount)
	require.Len(t, parsed.Pages, 1)
	require.Equal(t, 1, parsed.Pages["0"].Stale)
	require.Len(t, parsed.Pages["0"].Ranges, 3)
	require.Equal(t, true, parsed.Pages["0"].Ranges[1]["Stale"])
}
