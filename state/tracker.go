// Package state tracks resource states while command lists are recorded. Each Tracker belongs to
// one command list; it emits barriers for transitions whose before state it already knows and
// defers the rest as pending barriers. At submission time the pending barriers are resolved
// against the GlobalStateMap into a patch list that runs ahead of the command list.
package state

import (
	"github.com/afrcore/afrcore/gpu"
	"github.com/afrcore/afrcore/memutils"
	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"golang.org/x/exp/slog"
)

// BarrierRecorder is the part of a command list the tracker records barriers into
type BarrierRecorder interface {
	ResourceBarrier(barriers []gpu.ResourceBarrier)
}

type pendingBarrier struct {
	resource    gpu.Resource
	subresource uint32
	after       gpu.ResourceStates
}

// finalState is what a tracker knows about a resource: the state after its last transition of
// each subresource it has touched. When all is set, every subresource is known.
type finalState struct {
	all          bool
	state        gpu.ResourceStates
	subresources map[uint32]gpu.ResourceStates
}

func (f *finalState) known(subresource uint32) (gpu.ResourceStates, bool) {
	if state, ok := f.subresources[subresource]; ok {
		return state, true
	}
	return f.state, f.all
}

// uniform returns the single state every subresource is known to be in, if there is one
func (f *finalState) uniform(subresourceCount uint32) (gpu.ResourceStates, bool) {
	if !f.all {
		return 0, false
	}
	for subresource, state := range f.subresources {
		if subresource < subresourceCount && state != f.state {
			return 0, false
		}
	}
	return f.state, true
}

type Tracker struct {
	logger *slog.Logger
	global *GlobalStateMap

	barriers []gpu.ResourceBarrier
	pending  []pendingBarrier
	final    *swiss.Map[gpu.Resource, *finalState]
}

func NewTracker(logger *slog.Logger, global *GlobalStateMap) *Tracker {
	return &Tracker{
		logger: logger,
		global: global,
		final:  swiss.NewMap[gpu.Resource, *finalState](16),
	}
}

// ResourceBarrier records a barrier. Transition barriers are routed through TransitionResource, so
// their StateBefore is ignored.
func (t *Tracker) ResourceBarrier(barrier gpu.ResourceBarrier) error {
	if barrier.Type == gpu.BarrierTypeTransition {
		return t.TransitionResource(barrier.Resource, barrier.StateAfter, barrier.Subresource)
	}

	t.barriers = append(t.barriers, barrier)
	return nil
}

// TransitionResource moves a subresource, or every subresource, to after. A barrier is emitted
// when this tracker already knows the subresource's state and it differs from after; otherwise a
// pending barrier is recorded for resolution at submission.
func (t *Tracker) TransitionResource(resource gpu.Resource, after gpu.ResourceStates, subresource uint32) error {
	count := resource.Desc().SubresourceCount()
	if subresource != gpu.AllSubresources && subresource >= count {
		return errors.Wrapf(memutils.InvalidArgumentError, "subresource %d of %q, which has %d subresources", subresource, resource.Name(), count)
	}

	entry, exists := t.final.Get(resource)
	if !exists {
		entry = &finalState{}
		t.final.Put(resource, entry)
	}

	if subresource == gpu.AllSubresources {
		t.transitionAll(resource, entry, exists, after, count)
		entry.all = true
		entry.state = after
		entry.subresources = nil
		return nil
	}

	if before, known := entry.known(subresource); known {
		if before != after {
			t.barriers = append(t.barriers, gpu.TransitionBarrier(resource, before, after, subresource))
		}
	} else {
		t.pending = append(t.pending, pendingBarrier{resource: resource, subresource: subresource, after: after})
	}

	if entry.subresources == nil {
		entry.subresources = make(map[uint32]gpu.ResourceStates)
	}
	entry.subresources[subresource] = after
	return nil
}

func (t *Tracker) transitionAll(resource gpu.Resource, entry *finalState, exists bool, after gpu.ResourceStates, count uint32) {
	if !exists {
		t.pending = append(t.pending, pendingBarrier{resource: resource, subresource: gpu.AllSubresources, after: after})
		return
	}

	if before, uniform := entry.uniform(count); uniform {
		if before != after {
			t.barriers = append(t.barriers, gpu.TransitionBarrier(resource, before, after, gpu.AllSubresources))
		}
		return
	}

	// Mixed: every known subresource gets its own barrier, the rest are resolved at submission
	for subresource := uint32(0); subresource < count; subresource++ {
		before, known := entry.known(subresource)
		if !known {
			t.pending = append(t.pending, pendingBarrier{resource: resource, subresource: subresource, after: after})
		} else if before != after {
			t.barriers = append(t.barriers, gpu.TransitionBarrier(resource, before, after, subresource))
		}
	}
}

// UAVBarrier orders unordered access to resource. A nil resource orders all unordered access.
func (t *Tracker) UAVBarrier(resource gpu.Resource) {
	t.barriers = append(t.barriers, gpu.UAVBarrier(resource))
}

// AliasBarrier orders access between two resources sharing memory
func (t *Tracker) AliasBarrier(before, after gpu.Resource) {
	t.barriers = append(t.barriers, gpu.AliasingBarrier(before, after))
}

// FlushResourceBarriers records every emitted barrier into list and returns how many there were
func (t *Tracker) FlushResourceBarriers(list BarrierRecorder) int {
	count := len(t.barriers)
	if count == 0 {
		return 0
	}

	list.ResourceBarrier(t.barriers)
	t.barriers = t.barriers[:0]
	return count
}

// FlushPendingResourceBarriers resolves the pending barriers against the global state map and
// records those that change a state into patchList. It must be called with the global state map
// locked.
func (t *Tracker) FlushPendingResourceBarriers(patchList BarrierRecorder) (int, error) {
	if err := t.global.assertLocked("FlushPendingResourceBarriers"); err != nil {
		return 0, err
	}

	var barriers []gpu.ResourceBarrier
	for _, pending := range t.pending {
		global, err := t.global.lookup(pending.resource)
		if err != nil {
			return 0, err
		}

		if pending.subresource != gpu.AllSubresources {
			before := global.SubresourceState(pending.subresource)
			if before != pending.after {
				barriers = append(barriers, gpu.TransitionBarrier(pending.resource, before, pending.after, pending.subresource))
			}
			continue
		}

		if global.IsUniform() {
			if global.State != pending.after {
				barriers = append(barriers, gpu.TransitionBarrier(pending.resource, global.State, pending.after, gpu.AllSubresources))
			}
			continue
		}

		count := pending.resource.Desc().SubresourceCount()
		for subresource := uint32(0); subresource < count; subresource++ {
			before := global.SubresourceState(subresource)
			if before != pending.after {
				barriers = append(barriers, gpu.TransitionBarrier(pending.resource, before, pending.after, subresource))
			}
		}
	}

	if len(barriers) > 0 {
		patchList.ResourceBarrier(barriers)
	}
	t.logger.Debug("Tracker::FlushPendingResourceBarriers", slog.Int("Pending", len(t.pending)), slog.Int("Barriers", len(barriers)))

	t.pending = t.pending[:0]
	return len(barriers), nil
}

// CommitFinalResourceStates writes the state of every subresource this tracker transitioned into
// the global state map. It must be called with the global state map locked.
func (t *Tracker) CommitFinalResourceStates() error {
	if err := t.global.assertLocked("CommitFinalResourceStates"); err != nil {
		return err
	}

	var commitErr error
	t.final.Iter(func(resource gpu.Resource, entry *finalState) bool {
		t.global.record(resource)

		var global *ResourceState
		if entry.all {
			committed := NewResourceState(entry.state)
			global = &committed
			t.global.states.Put(resource, global)
		} else {
			var err error
			global, err = t.global.lookup(resource)
			if err != nil {
				commitErr = err
				return true
			}
		}

		for subresource, state := range entry.subresources {
			global.SetSubresourceState(subresource, state)
		}
		global.normalize(resource.Desc().SubresourceCount())
		return false
	})

	return commitErr
}

// FinalState returns the state this tracker last transitioned a subresource to
func (t *Tracker) FinalState(resource gpu.Resource, subresource uint32) (gpu.ResourceStates, bool) {
	entry, ok := t.final.Get(resource)
	if !ok {
		return 0, false
	}
	if subresource == gpu.AllSubresources {
		return entry.uniform(resource.Desc().SubresourceCount())
	}
	return entry.known(subresource)
}

// PendingCount is the number of barriers waiting to be resolved at submission
func (t *Tracker) PendingCount() int { return len(t.pending) }

// BarrierCount is the number of emitted barriers not yet flushed
func (t *Tracker) BarrierCount() int { return len(t.barriers) }

// Reset forgets every barrier and state. It is called when the owning command list is reset.
func (t *Tracker) Reset() {
	t.barriers = t.barriers[:0]
	t.pending = t.pending[:0]
	t.final.Clear()
}
