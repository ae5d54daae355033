package state

import (
	"sync"
	"sync/atomic"

	"github.com/afrcore/afrcore/gpu"
	"github.com/afrcore/afrcore/memutils"
	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"golang.org/x/exp/slog"
)

// GlobalStateMap holds the committed state of every resource known to a device: the state each
// subresource will be in once all submitted work has executed. It is only read and written by
// trackers inside the submission window opened by Lock.
type GlobalStateMap struct {
	logger *slog.Logger
	strict bool

	mutex    sync.Mutex
	isLocked atomic.Bool
	states   *swiss.Map[gpu.Resource, *ResourceState]

	// journal holds the state each resource had before the current window first changed it
	journal *swiss.Map[gpu.Resource, journalEntry]
}

type journalEntry struct {
	state   ResourceState
	existed bool
}

// NewGlobalStateMap creates an empty map. When strict is set, trackers fail with
// UnknownResourceError on resources that were never added; otherwise such resources are assumed to
// be in COMMON.
func NewGlobalStateMap(logger *slog.Logger, strict bool) *GlobalStateMap {
	return &GlobalStateMap{
		logger:  logger,
		strict:  strict,
		states:  swiss.NewMap[gpu.Resource, *ResourceState](64),
		journal: swiss.NewMap[gpu.Resource, journalEntry](16),
	}
}

// Lock opens the submission window. Pending barriers may only be flushed and final states committed
// between Lock and Unlock. Changes made inside the window can be undone with Rollback until Unlock.
func (m *GlobalStateMap) Lock() {
	m.mutex.Lock()
	m.isLocked.Store(true)
}

func (m *GlobalStateMap) Unlock() {
	m.journal.Clear()
	m.isLocked.Store(false)
	m.mutex.Unlock()
}

// Rollback restores every resource changed since Lock to the state it had when the window opened
func (m *GlobalStateMap) Rollback() error {
	if err := m.assertLocked("Rollback"); err != nil {
		return err
	}

	restored := m.journal.Count()
	m.journal.Iter(func(resource gpu.Resource, entry journalEntry) bool {
		if !entry.existed {
			m.states.Delete(resource)
			return false
		}
		state := entry.state
		m.states.Put(resource, &state)
		return false
	})
	m.journal.Clear()

	m.logger.Debug("GlobalStateMap::Rollback", slog.Int("Resources", restored))
	return nil
}

// record saves the state of resource the first time the current window changes it
func (m *GlobalStateMap) record(resource gpu.Resource) {
	if m.journal.Has(resource) {
		return
	}

	state, ok := m.states.Get(resource)
	entry := journalEntry{existed: ok}
	if ok {
		entry.state = state.clone()
	}
	m.journal.Put(resource, entry)
}

// AddGlobalResourceState registers a resource in state for every subresource
func (m *GlobalStateMap) AddGlobalResourceState(resource gpu.Resource, state gpu.ResourceStates) {
	if resource == nil {
		return
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	initial := NewResourceState(state)
	m.states.Put(resource, &initial)
}

func (m *GlobalStateMap) RemoveGlobalResourceState(resource gpu.Resource) {
	if resource == nil {
		return
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.states.Delete(resource)
}

// ResourceState returns a copy of the committed state of a resource
func (m *GlobalStateMap) ResourceState(resource gpu.Resource) (ResourceState, bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	state, ok := m.states.Get(resource)
	if !ok {
		return ResourceState{}, false
	}
	return state.clone(), true
}

func (m *GlobalStateMap) Count() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	return m.states.Count()
}

// Shutdown forgets every resource
func (m *GlobalStateMap) Shutdown() {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if count := m.states.Count(); count > 0 {
		m.logger.Debug("GlobalStateMap::Shutdown", slog.Int("Resources", count))
	}
	m.states.Clear()
}

func (m *GlobalStateMap) assertLocked(operation string) error {
	if !m.isLocked.Load() {
		return errors.AssertionFailedf("%s requires the global state map to be locked for submission", operation)
	}
	return nil
}

// lookup must be called inside the submission window
func (m *GlobalStateMap) lookup(resource gpu.Resource) (*ResourceState, error) {
	state, ok := m.states.Get(resource)
	if ok {
		return state, nil
	}

	if m.strict {
		return nil, errors.Wrapf(memutils.UnknownResourceError, "resource %q", resource.Name())
	}

	m.logger.Debug("GlobalStateMap::lookup synthesized COMMON", slog.String("resource", resource.Name()))
	synthesized := NewResourceState(gpu.ResourceStateCommon)
	m.record(resource)
	m.states.Put(resource, &synthesized)
	return &synthesized, nil
}
