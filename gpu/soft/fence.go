package soft

import (
	"context"
	"sync"

	"github.com/afrcore/afrcore/gpu"
)

// Fence is a software fence. Its value only ever increases.
type Fence struct {
	object

	valueMutex sync.Mutex
	completed  uint64
	waiters    []fenceWaiter
}

type fenceWaiter struct {
	value uint64
	done  chan struct{}
}

var _ gpu.Fence = &Fence{}

func (f *Fence) CompletedValue() uint64 {
	f.valueMutex.Lock()
	defer f.valueMutex.Unlock()

	return f.completed
}

// Complete advances the fence to value and wakes every waiter it satisfies
func (f *Fence) Complete(value uint64) {
	f.valueMutex.Lock()
	defer f.valueMutex.Unlock()

	if value <= f.completed {
		return
	}
	f.completed = value

	remaining := f.waiters[:0]
	for _, waiter := range f.waiters {
		if waiter.value <= value {
			close(waiter.done)
			continue
		}
		remaining = append(remaining, waiter)
	}
	f.waiters = remaining
}

func (f *Fence) Wait(ctx context.Context, value uint64) error {
	f.valueMutex.Lock()
	if f.completed >= value {
		f.valueMutex.Unlock()
		return nil
	}
	done := make(chan struct{})
	f.waiters = append(f.waiters, fenceWaiter{value: value, done: done})
	f.valueMutex.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
