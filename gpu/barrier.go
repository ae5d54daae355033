package gpu

// BarrierType is the kind of a ResourceBarrier
type BarrierType int

const (
	BarrierTypeTransition BarrierType = iota
	BarrierTypeAliasing
	BarrierTypeUAV
)

var barrierTypeMapping = map[BarrierType]string{
	BarrierTypeTransition: "Transition",
	BarrierTypeAliasing:   "Aliasing",
	BarrierTypeUAV:        "UAV",
}

func (t BarrierType) String() string {
	return barrierTypeMapping[t]
}

// ResourceBarrier orders GPU memory accesses around a state change, a change of the resource occupying
// aliased memory, or between two UAV accesses. Only the fields of the barrier's Type are meaningful.
type ResourceBarrier struct {
	Type BarrierType

	// Transition and UAV barriers
	Resource    Resource
	Subresource uint32
	StateBefore ResourceStates
	StateAfter  ResourceStates

	// Aliasing barriers; either may be nil
	ResourceBefore Resource
	ResourceAfter  Resource
}

func TransitionBarrier(resource Resource, before, after ResourceStates, subresource uint32) ResourceBarrier {
	return ResourceBarrier{
		Type:        BarrierTypeTransition,
		Resource:    resource,
		Subresource: subresource,
		StateBefore: before,
		StateAfter:  after,
	}
}

func UAVBarrier(resource Resource) ResourceBarrier {
	return ResourceBarrier{
		Type:     BarrierTypeUAV,
		Resource: resource,
	}
}

func AliasingBarrier(before, after Resource) ResourceBarrier {
	return ResourceBarrier{
		Type:           BarrierTypeAliasing,
		ResourceBefore: before,
		ResourceAfter:  after,
	}
}
