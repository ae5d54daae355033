package metadata

import "math"

// BlockAllocationHandle identifies a live allocation within a block. Both implementations in this
// package use the allocation's offset.
type BlockAllocationHandle uint64

const (
	NoAllocation BlockAllocationHandle = math.MaxUint64
)

type Suballocation struct {
	Offset   int
	Size     int
	UserData any
}
