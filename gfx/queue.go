package gfx

import (
	"context"
	"sync"

	"github.com/afrcore/afrcore/gpu"
	"github.com/afrcore/afrcore/memutils"
	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slices"
	"golang.org/x/exp/slog"
)

type inFlightList struct {
	fenceValue uint64
	list       *CommandList
}

// CommandQueue submits command lists to one of the device's queues and recycles them once the GPU
// has finished with them. Submission resolves each list's pending barriers into a patch list that
// executes directly before it.
//
// A background goroutine waits on the queue's fence for every in-flight list, in submission
// order, and returns each list to the free pool after resetting it.
type CommandQueue struct {
	logger   *slog.Logger
	device   *Device
	listType gpu.CommandListType
	queue    gpu.CommandQueue
	fence    gpu.Fence

	// submitMutex orders submissions and fence signals
	submitMutex sync.Mutex
	fenceValue  uint64

	mutex     sync.Mutex
	cond      *sync.Cond
	free      []*CommandList
	inFlight  []inFlightList
	resetting int
	numLists  int
	closed    bool

	cancel context.CancelFunc
	done   chan struct{}
}

func newCommandQueue(device *Device, listType gpu.CommandListType) (*CommandQueue, error) {
	queue, err := device.gpu.CreateCommandQueue(listType)
	if err != nil {
		return nil, memutils.HostFailure(err, "CreateCommandQueue")
	}
	queue.SetName(listType.String() + " queue")

	fence, err := device.gpu.CreateFence(0)
	if err != nil {
		return nil, memutils.HostFailure(err, "CreateFence")
	}
	fence.SetName(listType.String() + " queue fence")

	ctx, cancel := context.WithCancel(context.Background())
	commandQueue := &CommandQueue{
		logger:   device.logger,
		device:   device,
		listType: listType,
		queue:    queue,
		fence:    fence,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	commandQueue.cond = sync.NewCond(&commandQueue.mutex)

	go commandQueue.releaseInFlightLists(ctx)

	return commandQueue, nil
}

func (q *CommandQueue) Native() gpu.CommandQueue { return q.queue }

func (q *CommandQueue) Fence() gpu.Fence { return q.fence }

func (q *CommandQueue) CommandListType() gpu.CommandListType { return q.listType }

// GetCommandList returns a list ready for recording, reusing a recycled list when one is free
func (q *CommandQueue) GetCommandList() (*CommandList, error) {
	q.mutex.Lock()
	if count := len(q.free); count > 0 {
		list := q.free[count-1]
		q.free[count-1] = nil
		q.free = q.free[:count-1]
		q.mutex.Unlock()
		return list, nil
	}
	q.numLists++
	id := q.numLists
	q.mutex.Unlock()

	q.logger.Debug("CommandQueue::GetCommandList", slog.String("Type", q.listType.String()), slog.Int("ID", id))
	return newCommandList(q.device, q.listType, id)
}

// AvailableCount is the number of recycled lists waiting in the free pool
func (q *CommandQueue) AvailableCount() int {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	return len(q.free)
}

// InFlightCount is the number of submitted lists, patch lists included, that have not been recycled
func (q *CommandQueue) InFlightCount() int {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	return len(q.inFlight) + q.resetting
}

// closeLists closes every list and builds the interleaved submission. It runs inside the global
// state window, so final states are committed in the order the lists will execute. Patch lists that
// received no barriers are returned in unused. Lists drawn for the submission are returned even when
// an error is reported.
func (q *CommandQueue) closeLists(lists []*CommandList) (nativeLists []gpu.CommandList, submitted, unused []*CommandList, err error) {
	nativeLists = make([]gpu.CommandList, 0, 2*len(lists))
	submitted = make([]*CommandList, 0, 2*len(lists))

	for _, list := range lists {
		pending, err := q.GetCommandList()
		if err != nil {
			return nil, submitted, unused, err
		}

		hasPending, err := list.CloseWithPending(pending)
		if err != nil {
			return nil, submitted, append(unused, pending), err
		}
		if err := pending.Close(); err != nil {
			return nil, submitted, append(unused, pending), err
		}

		if hasPending {
			nativeLists = append(nativeLists, pending.list)
			submitted = append(submitted, pending)
		} else {
			unused = append(unused, pending)
		}
		nativeLists = append(nativeLists, list.list)
		submitted = append(submitted, list)
	}

	return nativeLists, submitted, unused, nil
}

// submit closes and executes lists with the global state map locked. On failure every committed
// state is rolled back.
func (q *CommandQueue) submit(lists []*CommandList) (nativeLists []gpu.CommandList, submitted, unused []*CommandList, err error) {
	globalStates := q.device.globalStates
	globalStates.Lock()
	defer globalStates.Unlock()

	nativeLists, submitted, unused, err = q.closeLists(lists)
	if err == nil {
		err = q.queue.ExecuteCommandLists(nativeLists)
		if err != nil {
			err = memutils.HostFailure(err, "CommandQueue.ExecuteCommandLists")
		}
	}
	if err != nil {
		if rollbackErr := globalStates.Rollback(); rollbackErr != nil {
			err = errors.CombineErrors(err, rollbackErr)
		}
		return nil, submitted, unused, err
	}

	return nativeLists, submitted, unused, nil
}

// discard returns lists that were never submitted to the free pool, together with the compute
// lists they recorded mips into
func (q *CommandQueue) discard(lists []*CommandList) {
	var computeLists []*CommandList
	for _, list := range lists {
		if list.computeList != nil {
			computeLists = append(computeLists, list.computeList)
		}
		if err := list.Reset(); err != nil {
			q.logger.LogAttrs(context.Background(), slog.LevelError, "failed to reset discarded command list",
				slog.String("Type", q.listType.String()),
				slog.Any("error", err))
			continue
		}

		q.mutex.Lock()
		q.free = append(q.free, list)
		q.mutex.Unlock()
	}

	if len(computeLists) > 0 {
		q.device.CommandQueue(gpu.CommandListTypeCompute).discard(computeLists)
	}
}

// ExecuteCommandLists closes and submits lists in order and returns the fence value that signals
// their completion. Mips recorded on copy lists are submitted to the compute queue afterwards,
// behind a GPU-side wait on this queue.
//
// If the lists cannot be submitted the global state map is left as it was, and the lists are reset
// and returned to the pool.
func (q *CommandQueue) ExecuteCommandLists(lists ...*CommandList) (uint64, error) {
	if len(lists) == 0 {
		return 0, nil
	}

	q.submitMutex.Lock()
	defer q.submitMutex.Unlock()

	nativeLists, submitted, unused, err := q.submit(lists)
	q.discard(unused)
	if err != nil {
		q.discard(submitted)
		q.discard(unsubmitted(lists, submitted))
		return 0, err
	}

	fenceValue, err := q.signal()
	if err != nil {
		return 0, err
	}

	q.logger.Debug("CommandQueue::ExecuteCommandLists",
		slog.String("Type", q.listType.String()),
		slog.Int("Lists", len(lists)),
		slog.Int("Submitted", len(nativeLists)),
		slog.Uint64("FenceValue", fenceValue))

	var computeLists []*CommandList
	q.mutex.Lock()
	for _, list := range submitted {
		q.inFlight = append(q.inFlight, inFlightList{fenceValue: fenceValue, list: list})
		if list.computeList != nil {
			computeLists = append(computeLists, list.computeList)
		}
	}
	q.cond.Broadcast()
	q.mutex.Unlock()

	if len(computeLists) > 0 {
		computeQueue := q.device.CommandQueue(gpu.CommandListTypeCompute)
		if err := computeQueue.waitForValue(q, fenceValue); err != nil {
			return 0, err
		}
		if _, err := computeQueue.ExecuteCommandLists(computeLists...); err != nil {
			return 0, err
		}
	}

	return fenceValue, nil
}

// unsubmitted lists the members of lists that closeLists did not get to
func unsubmitted(lists, submitted []*CommandList) []*CommandList {
	var rest []*CommandList
	for _, list := range lists {
		if !slices.Contains(submitted, list) {
			rest = append(rest, list)
		}
	}
	return rest
}

func (q *CommandQueue) signal() (uint64, error) {
	value := q.fenceValue + 1
	if err := q.queue.Signal(q.fence, value); err != nil {
		return 0, memutils.HostFailure(err, "CommandQueue.Signal")
	}
	q.fenceValue = value
	return value, nil
}

// Signal signals the queue's fence once all submitted work has completed and returns the value
// signaled
func (q *CommandQueue) Signal() (uint64, error) {
	q.submitMutex.Lock()
	defer q.submitMutex.Unlock()

	return q.signal()
}

// LastSignaledValue is the most recent value passed to the fence
func (q *CommandQueue) LastSignaledValue() uint64 {
	q.submitMutex.Lock()
	defer q.submitMutex.Unlock()

	return q.fenceValue
}

func (q *CommandQueue) IsFenceComplete(fenceValue uint64) bool {
	return q.fence.CompletedValue() >= fenceValue
}

// WaitForFenceValue blocks until the fence reaches fenceValue or ctx is done
func (q *CommandQueue) WaitForFenceValue(ctx context.Context, fenceValue uint64) error {
	if q.IsFenceComplete(fenceValue) {
		return nil
	}

	if err := q.fence.Wait(ctx, fenceValue); err != nil {
		return errors.Wrapf(err, "waiting for %s queue fence value %d", q.listType, fenceValue)
	}
	return nil
}

// Flush signals the fence and waits for it, then waits for every in-flight list to be recycled
func (q *CommandQueue) Flush(ctx context.Context) error {
	fenceValue, err := q.Signal()
	if err != nil {
		return err
	}
	if err := q.WaitForFenceValue(ctx, fenceValue); err != nil {
		return err
	}

	q.mutex.Lock()
	defer q.mutex.Unlock()

	for !q.closed && (len(q.inFlight) > 0 || q.resetting > 0) {
		q.cond.Wait()
	}
	return nil
}

// Wait makes this queue wait on the GPU for every submission made to other so far
func (q *CommandQueue) Wait(other *CommandQueue) error {
	return q.waitForValue(other, other.LastSignaledValue())
}

func (q *CommandQueue) waitForValue(other *CommandQueue, fenceValue uint64) error {
	if err := q.queue.Wait(other.fence, fenceValue); err != nil {
		return memutils.HostFailure(err, "CommandQueue.Wait")
	}
	return nil
}

// releaseInFlightLists recycles in-flight lists as the fence passes them, until the queue is closed
func (q *CommandQueue) releaseInFlightLists(ctx context.Context) {
	defer close(q.done)

	for {
		q.mutex.Lock()
		for len(q.inFlight) == 0 && !q.closed {
			q.cond.Wait()
		}
		if q.closed {
			q.mutex.Unlock()
			return
		}

		next := q.inFlight[0]
		q.inFlight[0] = inFlightList{}
		q.inFlight = q.inFlight[1:]
		q.resetting++
		q.mutex.Unlock()

		if err := q.fence.Wait(ctx, next.fenceValue); err != nil {
			q.mutex.Lock()
			q.resetting--
			q.cond.Broadcast()
			q.mutex.Unlock()
			return
		}

		if err := next.list.Reset(); err != nil {
			q.logger.LogAttrs(ctx, slog.LevelError, "failed to reset command list",
				slog.String("Type", q.listType.String()),
				slog.Any("error", err))
		}

		q.mutex.Lock()
		q.free = append(q.free, next.list)
		q.resetting--
		q.cond.Broadcast()
		q.mutex.Unlock()
	}
}

// Close stops the releaser goroutine. Lists still in flight are not recycled.
func (q *CommandQueue) Close() {
	q.mutex.Lock()
	if q.closed {
		q.mutex.Unlock()
		return
	}
	q.closed = true
	q.cond.Broadcast()
	q.mutex.Unlock()

	q.cancel()
	<-q.done

	q.mutex.Lock()
	defer q.mutex.Unlock()

	for _, list := range q.free {
		list.destroy()
	}
	q.free = nil
	q.inFlight = nil
}
