package metadata

import (
	"github.com/afrcore/afrcore/memutils"
	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"golang.org/x/exp/slices"
)

type freeRange struct {
	offset int
	size   int
}

func compareOffset(r freeRange, offset int) int {
	return r.offset - offset
}

func compareSize(r freeRange, target freeRange) int {
	if r.size != target.size {
		return r.size - target.size
	}
	return r.offset - target.offset
}

// FreeListBlockMetadata keeps the free ranges of a block in two ordered views: one by offset, used to
// coalesce a released range with its neighbors, and one by size, used to find the smallest range that
// fits a request. Adjacent free ranges never exist; they are always merged.
type FreeListBlockMetadata struct {
	BlockMetadataBase

	byOffset    []freeRange
	bySize      []freeRange
	allocations *swiss.Map[BlockAllocationHandle, Suballocation]
	sumFreeSize int
}

var _ BlockMetadata = &FreeListBlockMetadata{}

func NewFreeListBlockMetadata() *FreeListBlockMetadata {
	return &FreeListBlockMetadata{
		allocations: swiss.NewMap[BlockAllocationHandle, Suballocation](16),
	}
}

func (m *FreeListBlockMetadata) Init(size int) {
	m.BlockMetadataBase.Init(size)
	m.Clear()
}

func (m *FreeListBlockMetadata) SumFreeSize() int { return m.sumFreeSize }

func (m *FreeListBlockMetadata) IsEmpty() bool { return m.allocations.Count() == 0 }

func (m *FreeListBlockMetadata) AllocationCount() int { return m.allocations.Count() }

func (m *FreeListBlockMetadata) FreeRegionsCount() int { return len(m.byOffset) }

// LargestFreeRegion returns the size of the biggest free range, or 0 if the block is full
func (m *FreeListBlockMetadata) LargestFreeRegion() int {
	if len(m.bySize) == 0 {
		return 0
	}
	return m.bySize[len(m.bySize)-1].size
}

func (m *FreeListBlockMetadata) Clear() {
	m.allocations.Clear()
	m.byOffset = m.byOffset[:0]
	m.bySize = m.bySize[:0]
	m.sumFreeSize = m.Size()
	if m.Size() > 0 {
		whole := freeRange{offset: 0, size: m.Size()}
		m.byOffset = append(m.byOffset, whole)
		m.bySize = append(m.bySize, whole)
	}
}

func (m *FreeListBlockMetadata) Validate() error {
	if len(m.byOffset) != len(m.bySize) {
		return errors.Newf("offset view holds %d free ranges but size view holds %d", len(m.byOffset), len(m.bySize))
	}

	freeSum := 0
	for index, r := range m.byOffset {
		if r.size <= 0 {
			return errors.Newf("free range at offset %d has invalid size %d", r.offset, r.size)
		}
		if index > 0 {
			prev := m.byOffset[index-1]
			if prev.offset+prev.size > r.offset {
				return errors.Newf("free range at offset %d overlaps the range at offset %d", r.offset, prev.offset)
			}
			if prev.offset+prev.size == r.offset {
				return errors.Newf("free ranges at offsets %d and %d were not merged", prev.offset, r.offset)
			}
		}
		_, found := slices.BinarySearchFunc(m.bySize, r, compareSize)
		if !found {
			return errors.Newf("free range at offset %d is missing from the size view", r.offset)
		}
		freeSum += r.size
	}

	if freeSum != m.sumFreeSize {
		return errors.Newf("free size %d does not match the sum of free ranges %d", m.sumFreeSize, freeSum)
	}

	allocatedSum := 0
	var err error
	m.allocations.Iter(func(handle BlockAllocationHandle, suballoc Suballocation) bool {
		allocatedSum += suballoc.Size
		if BlockAllocationHandle(suballoc.Offset) != handle {
			err = errors.Newf("allocation at offset %d is stored under handle %d", suballoc.Offset, handle)
			return true
		}
		return false
	})
	if err != nil {
		return err
	}

	if allocatedSum+freeSum != m.Size() {
		return errors.Newf("allocated %d + free %d does not equal the block size %d", allocatedSum, freeSum, m.Size())
	}

	return nil
}

func (m *FreeListBlockMetadata) sortedAllocations() []Suballocation {
	allocs := make([]Suballocation, 0, m.allocations.Count())
	m.allocations.Iter(func(handle BlockAllocationHandle, suballoc Suballocation) bool {
		allocs = append(allocs, suballoc)
		return false
	})
	slices.SortFunc(allocs, func(a, b Suballocation) bool {
		return a.Offset < b.Offset
	})
	return allocs
}

func (m *FreeListBlockMetadata) VisitAllRegions(handleBlock func(handle BlockAllocationHandle, offset int, size int, userData any, free bool) error) error {
	allocs := m.sortedAllocations()
	freeIndex := 0
	allocIndex := 0

	for freeIndex < len(m.byOffset) || allocIndex < len(allocs) {
		if allocIndex >= len(allocs) || (freeIndex < len(m.byOffset) && m.byOffset[freeIndex].offset < allocs[allocIndex].Offset) {
			r := m.byOffset[freeIndex]
			err := handleBlock(NoAllocation, r.offset, r.size, nil, true)
			if err != nil {
				return err
			}
			freeIndex++
			continue
		}

		suballoc := allocs[allocIndex]
		err := handleBlock(BlockAllocationHandle(suballoc.Offset), suballoc.Offset, suballoc.Size, suballoc.UserData, false)
		if err != nil {
			return err
		}
		allocIndex++
	}

	return nil
}

func (m *FreeListBlockMetadata) AllocationOffset(allocHandle BlockAllocationHandle) (int, error) {
	suballoc, ok := m.allocations.Get(allocHandle)
	if !ok {
		return 0, errors.Newf("no live allocation for handle %d", allocHandle)
	}
	return suballoc.Offset, nil
}

func (m *FreeListBlockMetadata) AllocationUserData(allocHandle BlockAllocationHandle) (any, error) {
	suballoc, ok := m.allocations.Get(allocHandle)
	if !ok {
		return nil, errors.Newf("no live allocation for handle %d", allocHandle)
	}
	return suballoc.UserData, nil
}

func (m *FreeListBlockMetadata) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	stats.BlockCount++
	stats.BlockSize += m.Size()

	m.allocations.Iter(func(handle BlockAllocationHandle, suballoc Suballocation) bool {
		stats.AddAllocation(suballoc.Size)
		return false
	})
	for _, r := range m.byOffset {
		stats.AddUnusedRange(r.size)
	}
}

func (m *FreeListBlockMetadata) AddStatistics(stats *memutils.Statistics) {
	stats.BlockCount++
	stats.AllocationCount += m.allocations.Count()
	stats.BlockSize += m.Size()
	stats.AllocationSize += m.Size() - m.sumFreeSize
}

func (m *FreeListBlockMetadata) BlockJsonData(json *jwriter.ObjectState) {
	m.BlockMetadataBase.BlockJsonData(json, m.sumFreeSize, m.AllocationCount(), m.FreeRegionsCount())
	writeRegions(json, m)
}

func fits(r freeRange, size int, alignment uint) (int, bool) {
	offset := memutils.AlignUp(r.offset, int(alignment))
	return offset, offset+size <= r.offset+r.size
}

func (m *FreeListBlockMetadata) CreateAllocationRequest(allocSize int, allocAlignment uint, strategy AllocationStrategy) (bool, AllocationRequest, error) {
	if allocSize < 1 {
		return false, AllocationRequest{}, errors.Wrapf(memutils.InvalidArgumentError, "allocation size %d", allocSize)
	}
	if allocAlignment == 0 {
		allocAlignment = 1
	}
	if err := memutils.CheckPow2(allocAlignment, "alignment"); err != nil {
		return false, AllocationRequest{}, err
	}
	if allocSize > m.sumFreeSize {
		return false, AllocationRequest{}, nil
	}

	chosen := -1
	var offset int

	switch strategy {
	case AllocationStrategyMinOffset:
		for index, r := range m.byOffset {
			if o, ok := fits(r, allocSize, allocAlignment); ok {
				chosen, offset = index, o
				break
			}
		}
		if chosen >= 0 {
			chosen, _ = slices.BinarySearchFunc(m.bySize, m.byOffset[chosen], compareSize)
		}
	case AllocationStrategyMinTime:
		if len(m.bySize) > 0 {
			last := len(m.bySize) - 1
			if o, ok := fits(m.bySize[last], allocSize, allocAlignment); ok {
				chosen, offset = last, o
			}
		}
	default:
		start, _ := slices.BinarySearchFunc(m.bySize, freeRange{size: allocSize}, compareSize)
		for index := start; index < len(m.bySize); index++ {
			if o, ok := fits(m.bySize[index], allocSize, allocAlignment); ok {
				chosen, offset = index, o
				break
			}
		}
	}

	if chosen < 0 {
		return false, AllocationRequest{}, nil
	}

	return true, AllocationRequest{
		BlockAllocationHandle: BlockAllocationHandle(offset),
		Size:                  allocSize,
		Item: Suballocation{
			Offset: offset,
			Size:   allocSize,
		},
		Type:          AllocationRequestFreeList,
		AlgorithmData: uint64(m.bySize[chosen].offset),
	}, nil
}

func (m *FreeListBlockMetadata) Alloc(request AllocationRequest, userData any) error {
	if request.Type != AllocationRequestFreeList {
		return errors.Newf("free list metadata cannot commit a %s request", request.Type)
	}

	rangeOffset := int(request.AlgorithmData)
	index, found := slices.BinarySearchFunc(m.byOffset, rangeOffset, compareOffset)
	if !found {
		return errors.Newf("free range at offset %d no longer exists", rangeOffset)
	}
	r := m.byOffset[index]

	if request.Item.Offset < r.offset || request.Item.Offset+request.Size > r.offset+r.size {
		return errors.Newf("request at offset %d with size %d no longer fits the free range at offset %d", request.Item.Offset, request.Size, r.offset)
	}

	m.removeFree(index)

	if padding := request.Item.Offset - r.offset; padding > 0 {
		m.insertFree(freeRange{offset: r.offset, size: padding})
	}
	end := request.Item.Offset + request.Size
	if remainder := r.offset + r.size - end; remainder > 0 {
		m.insertFree(freeRange{offset: end, size: remainder})
	}

	m.allocations.Put(request.BlockAllocationHandle, Suballocation{
		Offset:   request.Item.Offset,
		Size:     request.Size,
		UserData: userData,
	})
	m.sumFreeSize -= request.Size
	return nil
}

// Free returns an allocation to the free list, merging it with the free range immediately before it
// and the free range immediately after it
func (m *FreeListBlockMetadata) Free(allocHandle BlockAllocationHandle) error {
	suballoc, ok := m.allocations.Get(allocHandle)
	if !ok {
		return errors.Newf("no live allocation for handle %d", allocHandle)
	}
	m.allocations.Delete(allocHandle)
	m.sumFreeSize += suballoc.Size

	released := freeRange{offset: suballoc.Offset, size: suballoc.Size}
	index, _ := slices.BinarySearchFunc(m.byOffset, released.offset, compareOffset)

	if index < len(m.byOffset) {
		next := m.byOffset[index]
		if released.offset+released.size == next.offset {
			released.size += next.size
			m.removeFree(index)
		}
	}

	if index > 0 {
		prev := m.byOffset[index-1]
		if prev.offset+prev.size == released.offset {
			released.offset = prev.offset
			released.size += prev.size
			m.removeFree(index - 1)
		}
	}

	m.insertFree(released)
	return nil
}

func (m *FreeListBlockMetadata) insertFree(r freeRange) {
	offsetIndex, _ := slices.BinarySearchFunc(m.byOffset, r.offset, compareOffset)
	m.byOffset = slices.Insert(m.byOffset, offsetIndex, r)

	sizeIndex, _ := slices.BinarySearchFunc(m.bySize, r, compareSize)
	m.bySize = slices.Insert(m.bySize, sizeIndex, r)
}

func (m *FreeListBlockMetadata) removeFree(offsetIndex int) {
	r := m.byOffset[offsetIndex]
	m.byOffset = slices.Delete(m.byOffset, offsetIndex, offsetIndex+1)

	sizeIndex, found := slices.BinarySearchFunc(m.bySize, r, compareSize)
	if found {
		m.bySize = slices.Delete(m.bySize, sizeIndex, sizeIndex+1)
	}
}
