package descriptor

import (
	"context"
	"fmt"
	"sync"

	"github.com/afrcore/afrcore/gpu"
	"github.com/afrcore/afrcore/memutils"
	"github.com/afrcore/afrcore/memutils/metadata"
	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slog"
)

type staleRange struct {
	handle metadata.BlockAllocationHandle
	frame  uint64
}

// page is one CPU-only descriptor heap. Free slots are tracked by a free list ordered both by
// offset and by size; ranges released by a frame wait in the stale queue until that frame completes.
type page struct {
	id            int
	logger        *slog.Logger
	heap          gpu.DescriptorHeap
	base          gpu.CPUDescriptorHandle
	incrementSize uint32

	mutex    sync.Mutex
	metadata *metadata.FreeListBlockMetadata
	stale    []staleRange
}

func newPage(logger *slog.Logger, device gpu.Device, heapType gpu.DescriptorHeapType, numDescriptors int, id int) (*page, error) {
	heap, err := device.CreateDescriptorHeap(gpu.DescriptorHeapDesc{
		Type:           heapType,
		NumDescriptors: uint32(numDescriptors),
	})
	if err != nil {
		return nil, memutils.HostFailure(err, "CreateDescriptorHeap")
	}
	heap.SetName(fmt.Sprintf("%s descriptor page %d", heapType, id))

	p := &page{
		id:            id,
		logger:        logger,
		heap:          heap,
		base:          heap.CPUDescriptorHandleForHeapStart(),
		incrementSize: device.DescriptorHandleIncrementSize(heapType),
		metadata:      metadata.NewFreeListBlockMetadata(),
	}
	p.metadata.Init(numDescriptors)

	return p, nil
}

// HasSpace reports whether some free range can hold numDescriptors. Free ranges are coalesced, so
// this is exact.
func (p *page) HasSpace(numDescriptors int) bool {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	return p.metadata.LargestFreeRegion() >= numDescriptors
}

func (p *page) NumFreeHandles() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	return p.metadata.SumFreeSize()
}

func (p *page) NumDescriptors() int {
	return p.metadata.Size()
}

func (p *page) Allocate(numDescriptors int, outAlloc *Allocation) (bool, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	success, request, err := p.metadata.CreateAllocationRequest(numDescriptors, 1, metadata.AllocationStrategyMinMemory)
	if err != nil || !success {
		return false, err
	}

	err = p.metadata.Alloc(request, outAlloc)
	if err != nil {
		return false, err
	}

	outAlloc.init(p, request.BlockAllocationHandle, request.Item.Offset, numDescriptors)
	memutils.DebugValidate(p)
	return true, nil
}

// Free queues a range to be returned to the free list once frame has completed
func (p *page) Free(handle metadata.BlockAllocationHandle, frame uint64) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.stale = append(p.stale, staleRange{handle: handle, frame: frame})
}

// ReleaseStaleDescriptors returns every stale range released at or before completedFrame to the
// free list and reports how many ranges were released
func (p *page) ReleaseStaleDescriptors(completedFrame uint64) int {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	released := 0
	remaining := p.stale[:0]
	for _, entry := range p.stale {
		if entry.frame > completedFrame {
			remaining = append(remaining, entry)
			continue
		}

		err := p.metadata.Free(entry.handle)
		if err != nil {
			panic(fmt.Sprintf("unexpected error when freeing stale descriptor range %d in page %d: %+v", entry.handle, p.id, err))
		}
		released++
	}
	p.stale = remaining

	memutils.DebugValidate(p)
	return released
}

func (p *page) StaleCount() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	return len(p.stale)
}

func (p *page) IsEmpty() bool {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	return p.metadata.IsEmpty()
}

func (p *page) Validate() error {
	if p.heap == nil {
		return errors.New("no descriptor heap for this page")
	}
	if p.metadata.Size() < 1 {
		return errors.New("this page's metadata has an invalid size")
	}

	err := p.metadata.VisitAllRegions(func(handle metadata.BlockAllocationHandle, offset, size int, userData any, free bool) error {
		allocation, isAllocation := userData.(*Allocation)
		if free && isAllocation {
			return errors.Newf("a range at offset %d is marked as free but contains an allocation object", offset)
		} else if !free && (!isAllocation || allocation == nil) {
			return errors.Newf("a range at offset %d is marked as allocated but has no allocation object", offset)
		}

		return nil
	})
	if err != nil {
		return err
	}

	return p.metadata.Validate()
}

// Destroy logs every range that was never released. Ranges that are stale but not yet released
// are not leaks.
func (p *page) Destroy() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	staleHandles := make(map[metadata.BlockAllocationHandle]struct{}, len(p.stale))
	for _, entry := range p.stale {
		staleHandles[entry.handle] = struct{}{}
	}

	leaked := 0
	err := p.metadata.VisitAllRegions(func(handle metadata.BlockAllocationHandle, offset, size int, userData any, free bool) error {
		if free {
			return nil
		}
		if _, isStale := staleHandles[handle]; isStale {
			return nil
		}

		leaked++
		p.logger.LogAttrs(context.Background(), slog.LevelError, "[UNRELEASED DESCRIPTORS] unfreed descriptor range",
			slog.Int("page", p.id),
			slog.Int("offset", offset),
			slog.Int("size", size),
		)
		return nil
	})
	if err != nil {
		p.logger.LogAttrs(context.Background(), slog.LevelError,
			"[UNRELEASED DESCRIPTORS] error while iterating unreleased descriptors",
			slog.Any("error", err))
	}

	p.metadata.Clear()
	p.stale = nil
	p.heap = nil

	if leaked > 0 {
		return errors.Newf("%d descriptor ranges were not freed before the destruction of page %d", leaked, p.id)
	}
	return nil
}
