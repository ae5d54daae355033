package metadata

// AllocationRequestType is an enum that indicates the type of allocation that is being made.
// It is returned in AllocationRequest from CreateAllocationRequest
type AllocationRequestType uint32

const (
	// AllocationRequestFreeList indicates that the allocation request was sourced from
	// metadata.FreeListBlockMetadata and splits one of its free ranges
	AllocationRequestFreeList AllocationRequestType = iota
	// AllocationRequestEndOfStack indicates that the allocation request was sourced from
	// metadata.LinearBlockMetadata and is placed past the current cursor
	AllocationRequestEndOfStack
)

var allocationRequestMapping = map[AllocationRequestType]string{
	AllocationRequestFreeList:   "FreeList",
	AllocationRequestEndOfStack: "EndOfStack",
}

func (t AllocationRequestType) String() string {
	return allocationRequestMapping[t]
}

// AllocationRequest is a type returned from BlockMetadata.CreateAllocationRequest which indicates where
// the metadata intends to place a new allocation. It is committed with BlockMetadata.Alloc
type AllocationRequest struct {
	// BlockAllocationHandle is a numeric handle used to identify individual allocations within the metadata
	BlockAllocationHandle BlockAllocationHandle
	// Size the total size of the allocation
	Size int
	// Item is a Suballocation object indicating basic information about the allocation
	Item Suballocation
	// Type identifies the BlockMetadata implementation used to generate this request
	Type AllocationRequestType

	// AlgorithmData is arbitrary data used by the BlockMetadata implementation for internal
	// purposes
	AlgorithmData uint64
}
