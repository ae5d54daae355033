// Package upload provides a linear allocator for short-lived CPU to GPU data such as dynamic
// constant buffers, dynamic vertex data and texture upload intermediates.
package upload

import (
	"github.com/afrcore/afrcore/gpu"
	"github.com/afrcore/afrcore/memutils"
	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slog"
)

// DefaultPageSize is the page size used when New is passed zero. It is equal to 2MiB.
const DefaultPageSize = 2 * 1024 * 1024

// Allocation is a region of an upload page. CPU writes to it are visible to the GPU at GPU.
type Allocation struct {
	CPU []byte
	GPU gpu.GPUVirtualAddress

	// Resource and Offset locate the allocation for copy commands
	Resource gpu.Resource
	Offset   uint64
}

// Allocator hands out upload memory from a set of pages. It is owned by a single command list
// and is not safe for concurrent use; Reset may only be called once the GPU has finished with every
// allocation.
type Allocator struct {
	logger   *slog.Logger
	device   gpu.Device
	pageSize int

	pagePool   []*page
	usedPages  []*page
	current    *page
	nextPageID int
}

// New creates an Allocator. No pages are created until the first call to Allocate.
func New(logger *slog.Logger, device gpu.Device, pageSize int) *Allocator {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	return &Allocator{
		logger:   logger,
		device:   device,
		pageSize: pageSize,
	}
}

func (a *Allocator) PageSize() int { return a.pageSize }

// PageCount is the number of pages the allocator has created
func (a *Allocator) PageCount() int { return a.nextPageID }

// AvailablePageCount is the number of pages waiting in the pool
func (a *Allocator) AvailablePageCount() int { return len(a.pagePool) }

// CurrentOffset is the cursor of the page allocations are currently made from
func (a *Allocator) CurrentOffset() int {
	if a.current == nil {
		return 0
	}
	return a.current.Offset()
}

// Allocate returns size bytes aligned to alignment. Allocations never span pages, so size may
// not exceed the page size.
func (a *Allocator) Allocate(size int, alignment uint) (Allocation, error) {
	if size < 1 {
		return Allocation{}, errors.Wrapf(memutils.InvalidArgumentError, "cannot allocate %d bytes", size)
	}
	if size > a.pageSize {
		return Allocation{}, errors.Wrapf(memutils.AllocationTooLargeError, "%d bytes with a page size of %d", size, a.pageSize)
	}
	if alignment == 0 {
		alignment = 1
	}
	if err := memutils.CheckPow2(alignment, "alignment"); err != nil {
		return Allocation{}, errors.WithSecondaryError(errors.Wrapf(memutils.InvalidArgumentError, "alignment %d", alignment), err)
	}

	var alloc Allocation
	if a.current != nil {
		success, err := a.current.Allocate(size, alignment, &alloc)
		if err != nil {
			return Allocation{}, err
		} else if success {
			return alloc, nil
		}
	}

	next, err := a.requestPage()
	if err != nil {
		return Allocation{}, err
	}
	a.current = next

	success, err := a.current.Allocate(size, alignment, &alloc)
	if err != nil {
		return Allocation{}, err
	} else if !success {
		panic("a fresh upload page could not hold an allocation no larger than the page size")
	}
	return alloc, nil
}

func (a *Allocator) requestPage() (*page, error) {
	if len(a.pagePool) > 0 {
		p := a.pagePool[len(a.pagePool)-1]
		a.pagePool = a.pagePool[:len(a.pagePool)-1]
		a.usedPages = append(a.usedPages, p)
		return p, nil
	}

	p, err := newPage(a.device, a.pageSize, a.nextPageID)
	if err != nil {
		return nil, err
	}
	a.nextPageID++
	a.usedPages = append(a.usedPages, p)

	a.logger.Debug("Allocator::requestPage", slog.Int("page.id", p.id), slog.Int("PageSize", a.pageSize))
	return p, nil
}

// Reset rewinds every page and returns them all to the pool
func (a *Allocator) Reset() {
	for _, p := range a.usedPages {
		p.Reset()
	}
	a.pagePool = append(a.pagePool, a.usedPages...)
	a.usedPages = a.usedPages[:0]
	a.current = nil
}

func (a *Allocator) AddStatistics(stats *memutils.Statistics) {
	for _, p := range a.usedPages {
		p.metadata.AddStatistics(stats)
	}
	for _, p := range a.pagePool {
		p.metadata.AddStatistics(stats)
	}
}

func (a *Allocator) Validate() error {
	for _, p := range a.usedPages {
		if err := p.Validate(); err != nil {
			return errors.Wrapf(err, "page %d", p.id)
		}
	}
	return nil
}

// Destroy unmaps every page. The allocator must not be used afterwards.
func (a *Allocator) Destroy() {
	for _, p := range a.usedPages {
		p.Destroy()
	}
	for _, p := range a.pagePool {
		p.Destroy()
	}
	a.usedPages = nil
	a.pagePool = nil
	a.current = nil
}
