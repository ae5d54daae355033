package soft

import (
	"sync"

	"github.com/afrcore/afrcore/gpu"
	"github.com/cockroachdb/errors"
)

type object struct {
	mutex sync.Mutex
	name  string
}

func (o *object) SetName(name string) {
	o.mutex.Lock()
	defer o.mutex.Unlock()

	o.name = name
}

func (o *object) Name() string {
	o.mutex.Lock()
	defer o.mutex.Unlock()

	return o.name
}

// Resource is a software buffer or texture. Buffers are backed by host memory in every heap type;
// textures carry only their state.
type Resource struct {
	object

	device     *Device
	desc       gpu.ResourceDesc
	heapType   gpu.HeapType
	heap       gpu.Heap
	address    uint64
	memory     []byte
	clearValue *gpu.ClearValue

	stateMutex sync.Mutex
	states     []gpu.ResourceStates
	mapCount   int
}

var _ gpu.Resource = &Resource{}

func (r *Resource) Desc() gpu.ResourceDesc { return r.desc }

func (r *Resource) HeapType() gpu.HeapType { return r.heapType }

// Heap is the heap a placed resource lives in, or nil for committed resources
func (r *Resource) Heap() gpu.Heap { return r.heap }

func (r *Resource) ClearValue() *gpu.ClearValue { return r.clearValue }

func (r *Resource) GPUVirtualAddress() gpu.GPUVirtualAddress {
	return gpu.GPUVirtualAddress(r.address)
}

func (r *Resource) Map() ([]byte, error) {
	if err := r.device.takeFailure("Map"); err != nil {
		return nil, err
	}
	if r.heapType == gpu.HeapTypeDefault {
		return nil, errors.Newf("resource %q lives in a default heap and cannot be mapped", r.Name())
	}

	r.stateMutex.Lock()
	defer r.stateMutex.Unlock()

	r.mapCount++
	return r.memory, nil
}

func (r *Resource) Unmap() {
	r.stateMutex.Lock()
	defer r.stateMutex.Unlock()

	if r.mapCount > 0 {
		r.mapCount--
	}
}

// Contents returns the memory behind a buffer in any heap, as the GPU would see it after all
// executed work
func (r *Resource) Contents() []byte {
	return r.memory
}

// State is the state a subresource is actually in, following every executed barrier
func (r *Resource) State(subresource uint32) gpu.ResourceStates {
	r.stateMutex.Lock()
	defer r.stateMutex.Unlock()

	return r.states[subresource]
}

type stateMismatch struct {
	subresource uint32
	actual      string
}

// transition applies one transition barrier and returns the subresources whose before state did not match
func (r *Resource) transition(subresource uint32, before, after gpu.ResourceStates) []stateMismatch {
	r.stateMutex.Lock()
	defer r.stateMutex.Unlock()

	var mismatched []stateMismatch
	apply := func(index uint32) {
		if r.states[index] != before {
			mismatched = append(mismatched, stateMismatch{subresource: index, actual: r.states[index].String()})
		}
		r.states[index] = after
	}

	if subresource == gpu.AllSubresources {
		for index := range r.states {
			apply(uint32(index))
		}
	} else if int(subresource) < len(r.states) {
		apply(subresource)
	} else {
		mismatched = append(mismatched, stateMismatch{subresource: subresource, actual: "no such subresource"})
	}

	return mismatched
}

func (r *Resource) allIn(state gpu.ResourceStates) bool {
	r.stateMutex.Lock()
	defer r.stateMutex.Unlock()

	for _, actual := range r.states {
		if actual&state != state {
			return false
		}
	}
	return true
}

func (r *Resource) subresourceIn(subresource uint32, state gpu.ResourceStates) bool {
	r.stateMutex.Lock()
	defer r.stateMutex.Unlock()

	if int(subresource) >= len(r.states) {
		return false
	}
	return r.states[subresource]&state == state
}

type Heap struct {
	object
	desc gpu.HeapDesc
}

func (h *Heap) Desc() gpu.HeapDesc { return h.desc }

type RootSignature struct {
	object
	desc gpu.RootSignatureDesc
}

func (s *RootSignature) Desc() gpu.RootSignatureDesc { return s.desc }

type PipelineState struct {
	object
	rootSignature gpu.RootSignature
}

func (p *PipelineState) RootSignature() gpu.RootSignature { return p.rootSignature }
