package descriptor

import (
	"github.com/afrcore/afrcore/gpu"
	"github.com/afrcore/afrcore/memutils/metadata"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
)

// Allocation is a contiguous range of CPU-visible descriptors inside one page. The zero value is a
// null allocation.
type Allocation struct {
	page       *page
	handle     metadata.BlockAllocationHandle
	descriptor gpu.CPUDescriptorHandle
	offset     int
	numHandles int
}

func (a *Allocation) init(p *page, handle metadata.BlockAllocationHandle, offset int, numHandles int) {
	a.page = p
	a.handle = handle
	a.offset = offset
	a.numHandles = numHandles
	a.descriptor = p.base.Offset(uint32(offset), p.incrementSize)
}

// IsNull reports whether the allocation holds no descriptors
func (a *Allocation) IsNull() bool {
	return a.page == nil
}

// Descriptor returns the CPU handle of the descriptor at offset within the range
func (a *Allocation) Descriptor(offset int) gpu.CPUDescriptorHandle {
	if offset < 0 || offset >= a.numHandles {
		panic("descriptor offset is outside of the allocation")
	}
	return a.descriptor.Offset(uint32(offset), a.page.incrementSize)
}

func (a *Allocation) NumHandles() int { return a.numHandles }

// Offset is the index of the first descriptor inside its page
func (a *Allocation) Offset() int { return a.offset }

// Free marks the range stale at frame. It becomes available again once ReleaseStaleDescriptors is
// called with a completed frame at or after frame. Freeing a null allocation does nothing.
func (a *Allocation) Free(frame uint64) {
	if a.page == nil {
		return
	}

	a.page.Free(a.handle, frame)
	a.page = nil
	a.descriptor = gpu.CPUDescriptorHandle{}
}

func (a *Allocation) printParameters(json *jwriter.ObjectState) {
	json.Name("Offset").Int(a.offset)
	json.Name("NumHandles").Int(a.numHandles)
	json.Name("Stale").Bool(a.page == nil)
}
