package metadata

import (
	"github.com/afrcore/afrcore/memutils"
	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
)

// LinearBlockMetadata is a bump allocator: allocations are always placed past the most recent one and
// space is reclaimed only when the most recent allocations are freed or the block is cleared. It is
// used for transient upload pages that are rewound wholesale once per frame.
type LinearBlockMetadata struct {
	BlockMetadataBase

	suballocations []Suballocation
	cursor         int
	sumAllocated   int
}

var _ BlockMetadata = &LinearBlockMetadata{}

func NewLinearBlockMetadata() *LinearBlockMetadata {
	return &LinearBlockMetadata{}
}

func (m *LinearBlockMetadata) Init(size int) {
	m.BlockMetadataBase.Init(size)
	m.Clear()
}

// Cursor returns the offset past the most recent allocation
func (m *LinearBlockMetadata) Cursor() int { return m.cursor }

func (m *LinearBlockMetadata) SumFreeSize() int { return m.Size() - m.sumAllocated }

func (m *LinearBlockMetadata) IsEmpty() bool { return len(m.suballocations) == 0 }

func (m *LinearBlockMetadata) AllocationCount() int { return len(m.suballocations) }

func (m *LinearBlockMetadata) FreeRegionsCount() int {
	count := 0
	_ = m.VisitAllRegions(func(handle BlockAllocationHandle, offset int, size int, userData any, free bool) error {
		if free {
			count++
		}
		return nil
	})
	return count
}

func (m *LinearBlockMetadata) Validate() error {
	if m.cursor > m.Size() {
		return errors.Newf("cursor %d is past the end of the block (%d)", m.cursor, m.Size())
	}

	prevEnd := 0
	sum := 0
	for index, suballoc := range m.suballocations {
		if suballoc.Offset < prevEnd {
			return errors.Newf("suballocation %d at offset %d overlaps the previous suballocation", index, suballoc.Offset)
		}
		if suballoc.Size <= 0 {
			return errors.Newf("suballocation %d has invalid size %d", index, suballoc.Size)
		}
		prevEnd = suballoc.Offset + suballoc.Size
		sum += suballoc.Size
	}

	if prevEnd > m.cursor {
		return errors.Newf("last suballocation ends at %d but the cursor is at %d", prevEnd, m.cursor)
	}
	if sum != m.sumAllocated {
		return errors.Newf("allocated size %d does not match the sum of suballocations %d", m.sumAllocated, sum)
	}

	return nil
}

func (m *LinearBlockMetadata) VisitAllRegions(handleBlock func(handle BlockAllocationHandle, offset int, size int, userData any, free bool) error) error {
	offset := 0
	for _, suballoc := range m.suballocations {
		if suballoc.Offset > offset {
			err := handleBlock(NoAllocation, offset, suballoc.Offset-offset, nil, true)
			if err != nil {
				return err
			}
		}

		err := handleBlock(BlockAllocationHandle(suballoc.Offset), suballoc.Offset, suballoc.Size, suballoc.UserData, false)
		if err != nil {
			return err
		}
		offset = suballoc.Offset + suballoc.Size
	}

	if offset < m.Size() {
		return handleBlock(NoAllocation, offset, m.Size()-offset, nil, true)
	}
	return nil
}

func (m *LinearBlockMetadata) AllocationOffset(allocHandle BlockAllocationHandle) (int, error) {
	suballoc, _, err := m.findSuballocation(allocHandle)
	if err != nil {
		return 0, err
	}
	return suballoc.Offset, nil
}

func (m *LinearBlockMetadata) AllocationUserData(allocHandle BlockAllocationHandle) (any, error) {
	suballoc, _, err := m.findSuballocation(allocHandle)
	if err != nil {
		return nil, err
	}
	return suballoc.UserData, nil
}

func (m *LinearBlockMetadata) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	stats.BlockCount++
	stats.BlockSize += m.Size()

	_ = m.VisitAllRegions(func(handle BlockAllocationHandle, offset int, size int, userData any, free bool) error {
		if free {
			stats.AddUnusedRange(size)
		} else {
			stats.AddAllocation(size)
		}
		return nil
	})
}

func (m *LinearBlockMetadata) AddStatistics(stats *memutils.Statistics) {
	stats.BlockCount++
	stats.AllocationCount += len(m.suballocations)
	stats.BlockSize += m.Size()
	stats.AllocationSize += m.sumAllocated
}

func (m *LinearBlockMetadata) Clear() {
	m.suballocations = m.suballocations[:0]
	m.cursor = 0
	m.sumAllocated = 0
}

func (m *LinearBlockMetadata) BlockJsonData(json *jwriter.ObjectState) {
	m.BlockMetadataBase.BlockJsonData(json, m.SumFreeSize(), m.AllocationCount(), m.FreeRegionsCount())
	json.Name("Cursor").Int(m.cursor)
	writeRegions(json, m)
}

func (m *LinearBlockMetadata) CreateAllocationRequest(allocSize int, allocAlignment uint, strategy AllocationStrategy) (bool, AllocationRequest, error) {
	if allocSize < 1 {
		return false, AllocationRequest{}, errors.Wrapf(memutils.InvalidArgumentError, "allocation size %d", allocSize)
	}
	if allocAlignment == 0 {
		allocAlignment = 1
	}
	if err := memutils.CheckPow2(allocAlignment, "alignment"); err != nil {
		return false, AllocationRequest{}, err
	}

	offset := m.cursor
	if len(m.suballocations) > 0 {
		offset += memutils.DebugMargin
	}
	offset = memutils.AlignUp(offset, int(allocAlignment))

	if offset+allocSize > m.Size() {
		return false, AllocationRequest{}, nil
	}

	return true, AllocationRequest{
		BlockAllocationHandle: BlockAllocationHandle(offset),
		Size:                  allocSize,
		Item: Suballocation{
			Offset: offset,
			Size:   allocSize,
		},
		Type: AllocationRequestEndOfStack,
	}, nil
}

func (m *LinearBlockMetadata) Alloc(request AllocationRequest, userData any) error {
	if request.Type != AllocationRequestEndOfStack {
		return errors.Newf("linear metadata cannot commit a %s request", request.Type)
	}
	if request.Item.Offset < m.cursor || request.Item.Offset+request.Size > m.Size() {
		return errors.Newf("request at offset %d with size %d no longer fits: cursor is at %d", request.Item.Offset, request.Size, m.cursor)
	}

	m.suballocations = append(m.suballocations, Suballocation{
		Offset:   request.Item.Offset,
		Size:     request.Size,
		UserData: userData,
	})
	m.cursor = request.Item.Offset + request.Size
	m.sumAllocated += request.Size
	return nil
}

// Free releases an allocation. Only the most recent allocations actually return space to the block:
// the cursor retreats to the end of the last live allocation.
func (m *LinearBlockMetadata) Free(allocHandle BlockAllocationHandle) error {
	_, index, err := m.findSuballocation(allocHandle)
	if err != nil {
		return err
	}

	m.sumAllocated -= m.suballocations[index].Size
	m.suballocations = append(m.suballocations[:index], m.suballocations[index+1:]...)

	if len(m.suballocations) == 0 {
		m.cursor = 0
	} else {
		last := m.suballocations[len(m.suballocations)-1]
		m.cursor = last.Offset + last.Size
	}
	return nil
}

func (m *LinearBlockMetadata) findSuballocation(allocHandle BlockAllocationHandle) (Suballocation, int, error) {
	offset := int(allocHandle)
	for index, suballoc := range m.suballocations {
		if suballoc.Offset == offset {
			return suballoc, index, nil
		}
	}

	return Suballocation{}, -1, errors.Newf("no live allocation at offset %d", offset)
}
