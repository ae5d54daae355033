package upload_test

import (
	"io"
	"testing"

	"github.com/afrcore/afrcore/gpu"
	"github.com/afrcore/afrcore/gpu/soft"
	"github.com/afrcore/afrcore/memutils"
	"github.com/afrcore/afrcore/upload"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"
)

const mib = 1024 * 1024

func newAllocator(device gpu.Device, pageSize int) *upload.Allocator {
	return upload.New(slog.New(slog.NewJSONHandler(io.Discard)), device, pageSize)
}

func TestAllocator_PageRollover(t *testing.T) {
	allocator := newAllocator(soft.NewDevice(soft.Options{}), 2*mib)

	first, err := allocator.Allocate(mib+mib/2, 256)
	require.NoError(t, err)
	require.Equal(t, 1, allocator.PageCount())

	second, err := allocator.Allocate(mib, 256)
	require.NoError(t, err)
	require.Equal(t, 2, allocator.PageCount())
	require.NotEqual(t, first.Resource, second.Resource)
	require.Equal(t, uint64(0), second.Offset)
	require.Equal(t, mib, allocator.CurrentOffset())

	allocator.Reset()
	require.Equal(t, 2, allocator.AvailablePageCount())
	require.Equal(t, 0, allocator.CurrentOffset())

	_, err = allocator.Allocate(64, 16)
	require.NoError(t, err)
	require.Equal(t, 2, allocator.PageCount())
	require.Equal(t, 1, allocator.AvailablePageCount())
}

func TestAllocator_Alignment(t *testing.T) {
	allocator := newAllocator(soft.NewDevice(soft.Options{}), 4096)

	for _, request := range []struct {
		size      int
		alignment uint
	}{{3, 1}, {17, 256}, {5, 4}, {100, 512}, {1, 1}, {64, 64}} {
		alloc, err := allocator.Allocate(request.size, request.alignment)
		require.NoError(t, err)
		require.Len(t, alloc.CPU, request.size)
		require.Zero(t, uint64(alloc.GPU)%uint64(request.alignment))
		require.Zero(t, alloc.Offset%uint64(request.alignment))
		require.LessOrEqual(t, alloc.Offset+uint64(request.size), uint64(4096))
	}
	require.NoError(t, allocator.Validate())
}

func TestAllocator_WritesReachTheGPU(t *testing.T) {
	allocator := newAllocator(soft.NewDevice(soft.Options{}), 1024)

	alloc, err := allocator.Allocate(4, 256)
	require.NoError(t, err)
	copy(alloc.CPU, []byte{9, 8, 7, 6})

	contents := alloc.Resource.(*soft.Resource).Contents()
	require.Equal(t, []byte{9, 8, 7, 6}, contents[alloc.Offset:alloc.Offset+4])
	require.Equal(t, alloc.Resource.GPUVirtualAddress()+gpu.GPUVirtualAddress(alloc.Offset), alloc.GPU)
}

func TestAllocator_Errors(t *testing.T) {
	allocator := newAllocator(soft.NewDevice(soft.Options{}), 1024)

	_, err := allocator.Allocate(1025, 1)
	require.ErrorIs(t, err, memutils.AllocationTooLargeError)

	_, err = allocator.Allocate(16, 48)
	require.ErrorIs(t, err, memutils.InvalidArgumentError)

	_, err = allocator.Allocate(0, 1)
	require.ErrorIs(t, err, memutils.InvalidArgumentError)

	require.Equal(t, 0, allocator.PageCount())

	full, err := allocator.Allocate(1024, 256)
	require.NoError(t, err)
	require.Len(t, full.CPU, 1024)
}

func TestAllocator_HostFailure(t *testing.T) {
	device := soft.NewDevice(soft.Options{})
	lost := errors.New("device removed")
	device.InjectFailure("CreateCommittedResource", lost)

	allocator := newAllocator(device, 1024)
	_, err := allocator.Allocate(16, 16)
	require.ErrorIs(t, err, memutils.HostAPIFailureError)
	require.ErrorIs(t, err, lost)
}

func TestAllocator_Statistics(t *testing.T) {
	allocator := newAllocator(soft.NewDevice(soft.Options{}), 1024)

	_, err := allocator.Allocate(600, 1)
	require.NoError(t, err)
	_, err = allocator.Allocate(600, 1)
	require.NoError(t, err)

	var stats memutils.Statistics
	allocator.AddStatistics(&stats)
	require.Equal(t, memutils.Statistics{
		BlockCount:      2,
		AllocationCount: 2,
		BlockSize:       2048,
		AllocationSize:  1200,
	}, stats)

	allocator.Reset()
	stats.Clear()
	allocator.AddStatistics(&stats)
	require.Equal(t, memutils.Statistics{BlockCount: 2, BlockSize: 2048}, stats)

	allocator.Destroy()
	require.Equal(t, 0, allocator.AvailablePageCount())
}
