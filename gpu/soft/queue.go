package soft

import (
	"sync"

	"github.com/afrcore/afrcore/gpu"
	"github.com/cockroachdb/errors"
)

// Submission is one command list as the device executed it
type Submission struct {
	Node     uint32
	Queue    gpu.CommandListType
	List     string
	Commands []Command
}

// FenceOperation is a Signal or Wait issued on a queue
type FenceOperation struct {
	Node   uint32
	Fence  gpu.Fence
	Value  uint64
	Signal bool
}

type pendingSignal struct {
	fence *Fence
	value uint64
}

// CommandQueue is a software command queue. Command lists execute synchronously inside
// ExecuteCommandLists.
type CommandQueue struct {
	object

	device   *Device
	listType gpu.CommandListType

	queueMutex      sync.Mutex
	pending         []pendingSignal
	submissions     []Submission
	fenceOperations []FenceOperation
}

var _ gpu.CommandQueue = &CommandQueue{}

func (q *CommandQueue) Type() gpu.CommandListType { return q.listType }

func (q *CommandQueue) ExecuteCommandLists(lists []gpu.CommandList) error {
	if err := q.device.takeFailure("ExecuteCommandLists"); err != nil {
		return err
	}

	softLists := make([]*CommandList, 0, len(lists))
	for _, list := range lists {
		softList, ok := list.(*CommandList)
		if !ok {
			return errors.Newf("command list %q was not created by this device", list.Name())
		}
		if !softList.closed {
			return errors.Newf("command list %q must be closed before it is executed", list.Name())
		}
		if softList.listType != q.listType {
			return errors.Newf("%s list %q cannot be executed on a %s queue", softList.listType, list.Name(), q.listType)
		}
		softLists = append(softLists, softList)
	}

	q.queueMutex.Lock()
	defer q.queueMutex.Unlock()

	node := q.device.ActiveNodeIndex()
	for _, list := range softLists {
		for _, command := range list.commands {
			q.execute(list, command)
		}
		q.submissions = append(q.submissions, Submission{
			Node:     node,
			Queue:    q.listType,
			List:     list.Name(),
			Commands: append([]Command(nil), list.commands...),
		})
	}

	return nil
}

func (q *CommandQueue) execute(list *CommandList, command Command) {
	switch command.Op {
	case OpResourceBarrier:
		for _, barrier := range command.Barriers {
			if barrier.Type != gpu.BarrierTypeTransition {
				continue
			}
			resource, ok := barrier.Resource.(*Resource)
			if !ok {
				q.device.violate("list %q transitions a resource this device did not create", list.Name())
				continue
			}
			for _, mismatch := range resource.transition(barrier.Subresource, barrier.StateBefore, barrier.StateAfter) {
				q.device.violate("list %q transitions %q subresource %d from %s but it is in %s",
					list.Name(), resource.Name(), mismatch.subresource, barrier.StateBefore, mismatch.actual)
			}
		}
	case OpCopyResource:
		dst, src := q.copyPair(list, command.Dst, command.Src)
		if dst != nil && src != nil && dst.memory != nil && src.memory != nil {
			copy(dst.memory, src.memory)
		}
	case OpCopyBufferRegion:
		dst, src := q.copyPair(list, command.Dst, command.Src)
		if dst == nil || src == nil {
			return
		}
		if command.DstOffset+command.NumBytes > uint64(len(dst.memory)) || command.SrcOffset+command.NumBytes > uint64(len(src.memory)) {
			q.device.violate("list %q copies %d bytes out of bounds", list.Name(), command.NumBytes)
			return
		}
		copy(dst.memory[command.DstOffset:command.DstOffset+command.NumBytes], src.memory[command.SrcOffset:command.SrcOffset+command.NumBytes])
	case OpCopyTextureRegion:
		q.checkLocation(list, command.DstLocation, gpu.ResourceStateCopyDest)
		q.checkLocation(list, command.SrcLocation, gpu.ResourceStateCopySource)
	case OpResolveSubresource:
		q.checkLocation(list, gpu.TextureCopyLocation{Resource: command.Dst, SubresourceIndex: command.DstSubresource}, gpu.ResourceStateResolveDest)
		q.checkLocation(list, gpu.TextureCopyLocation{Resource: command.Src, SubresourceIndex: command.SrcSubresource}, gpu.ResourceStateResolveSource)
	}
}

func readableState(resource *Resource, state gpu.ResourceStates) gpu.ResourceStates {
	if resource.heapType == gpu.HeapTypeUpload && state == gpu.ResourceStateCopySource {
		return gpu.ResourceStateGenericRead
	}
	return state
}

func (q *CommandQueue) copyPair(list *CommandList, dst, src gpu.Resource) (*Resource, *Resource) {
	softDst, dstOK := dst.(*Resource)
	softSrc, srcOK := src.(*Resource)
	if !dstOK || !srcOK {
		q.device.violate("list %q copies between resources this device did not create", list.Name())
		return nil, nil
	}

	if !softDst.allIn(gpu.ResourceStateCopyDest) {
		q.device.violate("list %q copies into %q, which is not in %s", list.Name(), softDst.Name(), gpu.ResourceStateCopyDest)
	}
	if !softSrc.allIn(readableState(softSrc, gpu.ResourceStateCopySource)) {
		q.device.violate("list %q copies from %q, which is not in %s", list.Name(), softSrc.Name(), gpu.ResourceStateCopySource)
	}
	return softDst, softSrc
}

func (q *CommandQueue) checkLocation(list *CommandList, location gpu.TextureCopyLocation, state gpu.ResourceStates) {
	resource, ok := location.Resource.(*Resource)
	if !ok {
		q.device.violate("list %q uses a resource this device did not create", list.Name())
		return
	}

	state = readableState(resource, state)
	if location.PlacedFootprint != nil {
		if !resource.allIn(state) {
			q.device.violate("list %q uses buffer %q, which is not in %s", list.Name(), resource.Name(), state)
		}
		return
	}
	if !resource.subresourceIn(location.SubresourceIndex, state) {
		q.device.violate("list %q uses %q subresource %d, which is not in %s", list.Name(), resource.Name(), location.SubresourceIndex, state)
	}
}

func (q *CommandQueue) Signal(fence gpu.Fence, value uint64) error {
	if err := q.device.takeFailure("Signal"); err != nil {
		return err
	}
	softFence, ok := fence.(*Fence)
	if !ok {
		return errors.New("fence was not created by this device")
	}

	q.queueMutex.Lock()
	q.fenceOperations = append(q.fenceOperations, FenceOperation{Node: q.device.ActiveNodeIndex(), Fence: fence, Value: value, Signal: true})
	if q.device.options.ManualFenceCompletion {
		q.pending = append(q.pending, pendingSignal{fence: softFence, value: value})
		q.queueMutex.Unlock()
		return nil
	}
	q.queueMutex.Unlock()

	softFence.Complete(value)
	return nil
}

func (q *CommandQueue) Wait(fence gpu.Fence, value uint64) error {
	if err := q.device.takeFailure("Wait"); err != nil {
		return err
	}

	q.queueMutex.Lock()
	defer q.queueMutex.Unlock()

	q.fenceOperations = append(q.fenceOperations, FenceOperation{Node: q.device.ActiveNodeIndex(), Fence: fence, Value: value})
	return nil
}

// CompleteNext finishes the oldest outstanding signal under ManualFenceCompletion
func (q *CommandQueue) CompleteNext() bool {
	q.queueMutex.Lock()
	if len(q.pending) == 0 {
		q.queueMutex.Unlock()
		return false
	}
	next := q.pending[0]
	q.pending = q.pending[1:]
	q.queueMutex.Unlock()

	next.fence.Complete(next.value)
	return true
}

// CompleteAll finishes every outstanding signal under ManualFenceCompletion
func (q *CommandQueue) CompleteAll() {
	for q.CompleteNext() {
	}
}

// PendingSignals is the number of signals waiting on CompleteNext
func (q *CommandQueue) PendingSignals() int {
	q.queueMutex.Lock()
	defer q.queueMutex.Unlock()

	return len(q.pending)
}

// Submissions lists every command list the queue has executed, in order
func (q *CommandQueue) Submissions() []Submission {
	q.queueMutex.Lock()
	defer q.queueMutex.Unlock()

	return append([]Submission(nil), q.submissions...)
}

// FenceOperations lists every signal and wait issued on the queue, in order
func (q *CommandQueue) FenceOperations() []FenceOperation {
	q.queueMutex.Lock()
	defer q.queueMutex.Unlock()

	return append([]FenceOperation(nil), q.fenceOperations...)
}
