package metadata

// AllocationStrategy exposes several options for choosing the location of a new allocation.
// If none is chosen, AllocationStrategyMinMemory is used.
type AllocationStrategy uint32

const (
	// AllocationStrategyMinMemory selects the smallest free range that fits the allocation (best fit)
	AllocationStrategyMinMemory AllocationStrategy = 1 << iota
	// AllocationStrategyMinTime selects the largest free range, which is found in constant time
	AllocationStrategyMinTime
	// AllocationStrategyMinOffset selects the free range with the lowest offset that fits
	AllocationStrategyMinOffset
)

var allocationStrategyMapping = map[AllocationStrategy]string{
	AllocationStrategyMinMemory: "MinMemory",
	AllocationStrategyMinTime:   "MinTime",
	AllocationStrategyMinOffset: "MinOffset",
}

func (s AllocationStrategy) String() string {
	str, ok := allocationStrategyMapping[s]
	if !ok {
		return "Default"
	}
	return str
}
