// Package dynheap stages CPU descriptors per root signature descriptor table and copies them into
// shader-visible heaps right before draws and dispatches.
package dynheap

import (
	"math/bits"

	"github.com/afrcore/afrcore/gpu"
	"github.com/afrcore/afrcore/memutils"
	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slog"
)

// MaxDescriptorTables is the number of root parameters a root signature may declare
const MaxDescriptorTables = 32

// RootSignature describes the descriptor tables a Heap stages for
type RootSignature interface {
	// DescriptorTableBitMask has bit i set when root parameter i is a descriptor table of heapType
	DescriptorTableBitMask(heapType gpu.DescriptorHeapType) uint32
	// NumDescriptors is the number of descriptors in the table at rootIndex
	NumDescriptors(rootIndex uint32) uint32
}

// Binder is the command list a Heap commits into
type Binder interface {
	// SetDescriptorHeap binds heap as the command list's shader-visible heap of heapType
	SetDescriptorHeap(heapType gpu.DescriptorHeapType, heap gpu.DescriptorHeap)
	Native() gpu.CommandList
}

type slotSet []uint64

func (s slotSet) set(slot uint32)        { s[slot/64] |= 1 << (slot % 64) }
func (s slotSet) isSet(slot uint32) bool { return s[slot/64]&(1<<(slot%64)) != 0 }
func (s slotSet) count() int {
	count := 0
	for _, word := range s {
		count += bits.OnesCount64(word)
	}
	return count
}

type tableCache struct {
	numDescriptors uint32
	handles        []gpu.CPUDescriptorHandle
	staged         slotSet
}

func (c *tableCache) reset(numDescriptors uint32) {
	c.numDescriptors = numDescriptors
	if cap(c.handles) < int(numDescriptors) {
		c.handles = make([]gpu.CPUDescriptorHandle, numDescriptors)
	}
	c.handles = c.handles[:numDescriptors]
	clear(c.handles)

	words := int(numDescriptors+63) / 64
	if cap(c.staged) < words {
		c.staged = make(slotSet, words)
	}
	c.staged = c.staged[:words]
	clear(c.staged)
}

// Heap stages descriptors for one command list. It is not safe for concurrent use.
type Heap struct {
	logger        *slog.Logger
	device        Device
	pool          *Pool
	heapType      gpu.DescriptorHeapType
	incrementSize uint32

	tables    [MaxDescriptorTables]tableCache
	tableMask uint32
	staleMask uint32

	current    gpu.DescriptorHeap
	currentCPU gpu.CPUDescriptorHandle
	currentGPU gpu.GPUDescriptorHandle
	numFree    uint32
	used       []gpu.DescriptorHeap
}

func NewHeap(logger *slog.Logger, device Device, pool *Pool) *Heap {
	return &Heap{
		logger:        logger,
		device:        device,
		pool:          pool,
		heapType:      pool.HeapType(),
		incrementSize: device.DescriptorHandleIncrementSize(pool.HeapType()),
	}
}

func (h *Heap) HeapType() gpu.DescriptorHeapType { return h.heapType }

// ParseRootSignature prepares a table cache for every descriptor table of the heap's type and
// discards everything staged so far
func (h *Heap) ParseRootSignature(rootSignature RootSignature) error {
	tableMask := rootSignature.DescriptorTableBitMask(h.heapType)

	var total uint32
	for mask := tableMask; mask != 0; mask &= mask - 1 {
		rootIndex := uint32(bits.TrailingZeros32(mask))
		total += rootSignature.NumDescriptors(rootIndex)
	}
	if total > h.pool.NumDescriptorsPerHeap() {
		return errors.Wrapf(memutils.InvalidArgumentError, "root signature declares %d %s descriptors but a dynamic heap holds %d", total, h.heapType, h.pool.NumDescriptorsPerHeap())
	}

	h.staleMask = 0
	h.tableMask = tableMask
	for rootIndex := uint32(0); rootIndex < MaxDescriptorTables; rootIndex++ {
		var numDescriptors uint32
		if tableMask&(1<<rootIndex) != 0 {
			numDescriptors = rootSignature.NumDescriptors(rootIndex)
		}
		h.tables[rootIndex].reset(numDescriptors)
	}

	return nil
}

// StageDescriptors copies count contiguous CPU handles starting at src into the table at rootIndex,
// starting at offset. Nothing reaches the GPU until the next commit.
func (h *Heap) StageDescriptors(rootIndex, offset, count uint32, src gpu.CPUDescriptorHandle) error {
	if rootIndex >= MaxDescriptorTables || h.tableMask&(1<<rootIndex) == 0 {
		return errors.Wrapf(memutils.OutOfTableBoundsError, "root parameter %d is not a %s descriptor table", rootIndex, h.heapType)
	}

	table := &h.tables[rootIndex]
	if uint64(offset)+uint64(count) > uint64(table.numDescriptors) {
		return errors.Wrapf(memutils.OutOfTableBoundsError, "%d descriptors at offset %d of root parameter %d, which holds %d", count, offset, rootIndex, table.numDescriptors)
	}

	for i := uint32(0); i < count; i++ {
		table.handles[offset+i] = src.Offset(i, h.incrementSize)
		table.staged.set(offset + i)
	}
	h.staleMask |= 1 << rootIndex
	return nil
}

// StagedCount is the number of staged slots across every table
func (h *Heap) StagedCount() int {
	count := 0
	for mask := h.tableMask; mask != 0; mask &= mask - 1 {
		count += h.tables[bits.TrailingZeros32(mask)].staged.count()
	}
	return count
}

// StaleTableMask has a bit set for every table that will be copied and bound by the next commit
func (h *Heap) StaleTableMask() uint32 { return h.staleMask }

func (h *Heap) staleDescriptorCount() uint32 {
	var count uint32
	for mask := h.staleMask; mask != 0; mask &= mask - 1 {
		count += h.tables[bits.TrailingZeros32(mask)].numDescriptors
	}
	return count
}

func (h *Heap) requestHeap(binder Binder) error {
	heap, err := h.pool.Acquire()
	if err != nil {
		return err
	}

	h.current = heap
	h.currentCPU = heap.CPUDescriptorHandleForHeapStart()
	h.currentGPU = heap.GPUDescriptorHandleForHeapStart()
	h.numFree = heap.Desc().NumDescriptors
	h.used = append(h.used, heap)

	binder.SetDescriptorHeap(h.heapType, heap)
	// Every table must be copied into the new heap
	h.staleMask = h.tableMask

	h.logger.Debug("Heap::requestHeap", slog.String("HeapType", h.heapType.String()), slog.Int("UsedHeaps", len(h.used)))
	return nil
}

func (h *Heap) commit(binder Binder, setTable func(list gpu.CommandList, rootIndex uint32, base gpu.GPUDescriptorHandle)) error {
	count := h.staleDescriptorCount()
	if count == 0 {
		return nil
	}

	if h.current == nil || h.numFree < count {
		if err := h.requestHeap(binder); err != nil {
			return err
		}
	}

	list := binder.Native()
	for mask := h.staleMask; mask != 0; mask &= mask - 1 {
		rootIndex := uint32(bits.TrailingZeros32(mask))
		table := &h.tables[rootIndex]

		var dstStarts []gpu.CPUDescriptorHandle
		var dstSizes []uint32
		var srcStarts []gpu.CPUDescriptorHandle
		for slot := uint32(0); slot < table.numDescriptors; slot++ {
			if !table.staged.isSet(slot) {
				continue
			}
			if slot > 0 && table.staged.isSet(slot-1) {
				dstSizes[len(dstSizes)-1]++
			} else {
				dstStarts = append(dstStarts, h.currentCPU.Offset(slot, h.incrementSize))
				dstSizes = append(dstSizes, 1)
			}
			srcStarts = append(srcStarts, table.handles[slot])
		}

		if len(srcStarts) > 0 {
			h.device.CopyDescriptors(dstStarts, dstSizes, srcStarts, nil, h.heapType)
		}
		setTable(list, rootIndex, h.currentGPU)

		h.currentCPU = h.currentCPU.Offset(table.numDescriptors, h.incrementSize)
		h.currentGPU = h.currentGPU.Offset(table.numDescriptors, h.incrementSize)
		h.numFree -= table.numDescriptors
	}

	h.staleMask = 0
	return nil
}

// CommitStagedDescriptorsForDraw copies every stale table into the shader-visible heap and binds it
// as a graphics root descriptor table
func (h *Heap) CommitStagedDescriptorsForDraw(binder Binder) error {
	return h.commit(binder, func(list gpu.CommandList, rootIndex uint32, base gpu.GPUDescriptorHandle) {
		list.SetGraphicsRootDescriptorTable(rootIndex, base)
	})
}

// CommitStagedDescriptorsForDispatch copies every stale table into the shader-visible heap and
// binds it as a compute root descriptor table
func (h *Heap) CommitStagedDescriptorsForDispatch(binder Binder) error {
	return h.commit(binder, func(list gpu.CommandList, rootIndex uint32, base gpu.GPUDescriptorHandle) {
		list.SetComputeRootDescriptorTable(rootIndex, base)
	})
}

// CopyDescriptor copies a single CPU descriptor into the shader-visible heap and returns its GPU
// handle. It is used by commands such as unordered access view clears that need a GPU handle
// outside of any table.
func (h *Heap) CopyDescriptor(binder Binder, cpuDescriptor gpu.CPUDescriptorHandle) (gpu.GPUDescriptorHandle, error) {
	if h.current == nil || h.numFree < 1 {
		if err := h.requestHeap(binder); err != nil {
			return gpu.GPUDescriptorHandle{}, err
		}
	}

	gpuDescriptor := h.currentGPU
	h.device.CopyDescriptorsSimple(1, h.currentCPU, cpuDescriptor, h.heapType)

	h.currentCPU = h.currentCPU.Offset(1, h.incrementSize)
	h.currentGPU = h.currentGPU.Offset(1, h.incrementSize)
	h.numFree--
	return gpuDescriptor, nil
}

// Reset returns every heap used since the last Reset to the pool and forgets the root signature.
// It may only be called once the GPU has finished with the command list.
func (h *Heap) Reset() {
	if len(h.used) > 0 {
		h.pool.Release(h.used...)
	}
	h.used = h.used[:0]
	h.current = nil
	h.currentCPU = gpu.CPUDescriptorHandle{}
	h.currentGPU = gpu.GPUDescriptorHandle{}
	h.numFree = 0
	h.tableMask = 0
	h.staleMask = 0
	for rootIndex := range h.tables {
		h.tables[rootIndex].reset(0)
	}
}
