package state

import (
	"github.com/afrcore/afrcore/gpu"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// ResourceState is the state of every subresource of one resource. State applies to each
// subresource that has no entry in Subresources.
type ResourceState struct {
	State        gpu.ResourceStates
	Subresources map[uint32]gpu.ResourceStates
}

func NewResourceState(state gpu.ResourceStates) ResourceState {
	return ResourceState{State: state}
}

// SubresourceState returns the state of one subresource. AllSubresources returns State.
func (s ResourceState) SubresourceState(subresource uint32) gpu.ResourceStates {
	if subresource != gpu.AllSubresources {
		if state, ok := s.Subresources[subresource]; ok {
			return state
		}
	}
	return s.State
}

// SetSubresourceState sets one subresource, or every subresource when subresource is
// AllSubresources
func (s *ResourceState) SetSubresourceState(subresource uint32, state gpu.ResourceStates) {
	if subresource == gpu.AllSubresources {
		s.State = state
		s.Subresources = nil
		return
	}

	if s.Subresources == nil {
		s.Subresources = make(map[uint32]gpu.ResourceStates)
	}
	s.Subresources[subresource] = state
}

// IsUniform reports whether every subresource is in State
func (s ResourceState) IsUniform() bool {
	return len(s.Subresources) == 0
}

// SortedSubresources lists the subresources with their own entry in ascending order
func (s ResourceState) SortedSubresources() []uint32 {
	keys := maps.Keys(s.Subresources)
	slices.Sort(keys)
	return keys
}

func (s ResourceState) clone() ResourceState {
	clone := ResourceState{State: s.State}
	if len(s.Subresources) > 0 {
		clone.Subresources = make(map[uint32]gpu.ResourceStates, len(s.Subresources))
		for subresource, state := range s.Subresources {
			clone.Subresources[subresource] = state
		}
	}
	return clone
}

// normalize drops per-subresource entries that repeat State and collapses a map that covers every
// one of subresourceCount subresources with a single state
func (s *ResourceState) normalize(subresourceCount uint32) {
	for subresource, state := range s.Subresources {
		if state == s.State || subresource >= subresourceCount {
			delete(s.Subresources, subresource)
		}
	}

	if uint32(len(s.Subresources)) == subresourceCount && subresourceCount > 0 {
		first := s.Subresources[0]
		for _, state := range s.Subresources {
			if state != first {
				return
			}
		}
		s.State = first
		s.Subresources = nil
		return
	}

	if len(s.Subresources) == 0 {
		s.Subresources = nil
	}
}
