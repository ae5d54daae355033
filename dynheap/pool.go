package dynheap

import (
	"fmt"
	"sync"

	"github.com/afrcore/afrcore/gpu"
	"github.com/afrcore/afrcore/memutils"
	"golang.org/x/exp/slog"
)

// DefaultDescriptorsPerHeap is the size of each shader-visible heap when NewPool is passed zero
const DefaultDescriptorsPerHeap = 1024

// Device is the part of a gpu.Device the dynamic heaps use
type Device interface {
	CreateDescriptorHeap(desc gpu.DescriptorHeapDesc) (gpu.DescriptorHeap, error)
	DescriptorHandleIncrementSize(heapType gpu.DescriptorHeapType) uint32
	CopyDescriptors(dstRangeStarts []gpu.CPUDescriptorHandle, dstRangeSizes []uint32, srcRangeStarts []gpu.CPUDescriptorHandle, srcRangeSizes []uint32, heapType gpu.DescriptorHeapType)
	CopyDescriptorsSimple(numDescriptors uint32, dst gpu.CPUDescriptorHandle, src gpu.CPUDescriptorHandle, heapType gpu.DescriptorHeapType)
}

// Pool shares shader-visible descriptor heaps of one type between every Heap of a device. Heaps
// are handed back by Heap.Reset once the GPU has finished with them.
type Pool struct {
	logger                *slog.Logger
	device                Device
	heapType              gpu.DescriptorHeapType
	numDescriptorsPerHeap uint32

	mutex     sync.Mutex
	available []gpu.DescriptorHeap
	created   int
}

func NewPool(logger *slog.Logger, device Device, heapType gpu.DescriptorHeapType, numDescriptorsPerHeap uint32) *Pool {
	if numDescriptorsPerHeap == 0 {
		numDescriptorsPerHeap = DefaultDescriptorsPerHeap
	}

	return &Pool{
		logger:                logger,
		device:                device,
		heapType:              heapType,
		numDescriptorsPerHeap: numDescriptorsPerHeap,
	}
}

func (p *Pool) HeapType() gpu.DescriptorHeapType { return p.heapType }

func (p *Pool) NumDescriptorsPerHeap() uint32 { return p.numDescriptorsPerHeap }

// HeapCount is the number of heaps the pool has created
func (p *Pool) HeapCount() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	return p.created
}

// AvailableCount is the number of heaps waiting to be acquired
func (p *Pool) AvailableCount() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	return len(p.available)
}

// Acquire returns an idle heap, creating one when none is available
func (p *Pool) Acquire() (gpu.DescriptorHeap, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if len(p.available) > 0 {
		heap := p.available[len(p.available)-1]
		p.available = p.available[:len(p.available)-1]
		return heap, nil
	}

	heap, err := p.device.CreateDescriptorHeap(gpu.DescriptorHeapDesc{
		Type:           p.heapType,
		NumDescriptors: p.numDescriptorsPerHeap,
		ShaderVisible:  true,
	})
	if err != nil {
		return nil, memutils.HostFailure(err, "CreateDescriptorHeap")
	}
	heap.SetName(fmt.Sprintf("dynamic %s heap %d", p.heapType, p.created))
	p.created++

	p.logger.Debug("Pool::Acquire created heap", slog.Int("heap.id", p.created-1), slog.String("HeapType", p.heapType.String()))
	return heap, nil
}

func (p *Pool) Release(heaps ...gpu.DescriptorHeap) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.available = append(p.available, heaps...)
}
