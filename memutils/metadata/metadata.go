package metadata

import (
	"github.com/afrcore/afrcore/memutils"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
)

// BlockMetadata represents a single fixed-size range of some resource (bytes of an upload page,
// slots of a descriptor heap). It manages suballocations within the block, allowing ranges to be
// requested, freed, enumerated and queried. Sizes and offsets are expressed in the block's own unit.
type BlockMetadata interface {
	// Init must be called before the BlockMetadata is used. It sizes the block to size units
	// and makes the entire block available.
	Init(size int)
	// Size retrieves the size that the block was initialized with
	Size() int

	// Validate performs internal consistency checks on the metadata. When the implementation is
	// functioning correctly it should not be possible for this method to return an error.
	Validate() error
	// AllocationCount returns the number of suballocations currently live in the block
	AllocationCount() int
	// FreeRegionsCount returns the number of unique free regions in the block. Adjacent free regions
	// are always counted as a single region.
	FreeRegionsCount() int
	// SumFreeSize returns the number of free units in the block
	SumFreeSize() int
	// IsEmpty will return true if this block has no live suballocations
	IsEmpty() bool

	// VisitAllRegions calls the provided callback once for each allocation and free region in the block,
	// in offset order. This is intended for diagnostics.
	VisitAllRegions(handleBlock func(handle BlockAllocationHandle, offset int, size int, userData any, free bool) error) error
	// AllocationOffset returns the offset of a live allocation
	AllocationOffset(allocHandle BlockAllocationHandle) (int, error)
	// AllocationUserData returns the userData value provided to Alloc for a live allocation
	AllocationUserData(allocHandle BlockAllocationHandle) (any, error)

	// AddDetailedStatistics sums this block's statistics into stats
	AddDetailedStatistics(stats *memutils.DetailedStatistics)
	// AddStatistics sums this block's statistics into stats
	AddStatistics(stats *memutils.Statistics)

	// Clear instantly frees all allocations
	Clear()
	// BlockJsonData populates a json object with information about this block
	BlockJsonData(json *jwriter.ObjectState)

	// CreateAllocationRequest finds a place for an allocation of allocSize units aligned to allocAlignment.
	// It returns false with no error when the block cannot hold the allocation. The request can be
	// passed to Alloc to commit it.
	CreateAllocationRequest(allocSize int, allocAlignment uint, strategy AllocationStrategy) (bool, AllocationRequest, error)
	// Alloc commits an AllocationRequest. The implementation must return an error if the request
	// no longer fits the block.
	Alloc(request AllocationRequest, userData any) error
	// Free returns a live allocation to the block
	Free(allocHandle BlockAllocationHandle) error
}

// BlockMetadataBase provides a few shared utilities for BlockMetadata implementations
type BlockMetadataBase struct {
	size int
}

// Init sizes the block
func (m *BlockMetadataBase) Init(size int) {
	m.size = size
}

// Size returns the size of the block
func (m *BlockMetadataBase) Size() int { return m.size }

// BlockJsonData populates a json object with the summary fields common to every block
func (m *BlockMetadataBase) BlockJsonData(json *jwriter.ObjectState, unusedSize, allocationCount, unusedRangeCount int) {
	json.Name("TotalSize").Int(m.Size())
	json.Name("UnusedSize").Int(unusedSize)
	json.Name("Allocations").Int(allocationCount)
	json.Name("UnusedRanges").Int(unusedRangeCount)
}

func writeRegions(json *jwriter.ObjectState, metadata BlockMetadata) {
	regions := json.Name("Suballocations").Array()
	defer regions.End()

	_ = metadata.VisitAllRegions(func(handle BlockAllocationHandle, offset int, size int, userData any, free bool) error {
		region := regions.Object()
		region.Name("Offset").Int(offset)
		region.Name("Size").Int(size)
		if free {
			region.Name("Type").String("FREE")
		} else {
			region.Name("Type").String("USED")
		}
		region.End()
		return nil
	})
}
