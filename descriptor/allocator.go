// Package descriptor allocates ranges of CPU-visible descriptors. Descriptors are staged here
// before they are copied into shader-visible heaps by the dynheap package.
package descriptor

import (
	"strconv"

	"github.com/afrcore/afrcore/gpu"
	"github.com/afrcore/afrcore/internal/utils"
	"github.com/afrcore/afrcore/memutils"
	"github.com/afrcore/afrcore/memutils/metadata"
	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"golang.org/x/exp/slog"
)

// DefaultDescriptorsPerPage is the page size used when CreateOptions.DescriptorsPerPage is zero
const DefaultDescriptorsPerPage = 256

// CreateOptions contains optional settings when creating an Allocator
type CreateOptions struct {
	// DescriptorsPerPage is the number of descriptors in a page. Requests larger than this get a
	// page of their own size.
	DescriptorsPerPage int
	// MaxPages caps the number of pages the allocator will create. Zero means no cap.
	MaxPages int
	// ExternallySynchronized disables the allocator's internal mutex. The consumer must guarantee
	// it is only used from one goroutine at a time.
	ExternallySynchronized bool
}

// Allocator is a pool of descriptor pages for one heap type
type Allocator struct {
	logger             *slog.Logger
	device             gpu.Device
	heapType           gpu.DescriptorHeapType
	descriptorsPerPage int
	maxPages           int

	mutex      utils.OptionalMutex
	pages      []*page
	nextPageID int
}

// New creates an Allocator. No pages are created until the first call to Allocate.
func New(logger *slog.Logger, device gpu.Device, heapType gpu.DescriptorHeapType, options CreateOptions) *Allocator {
	descriptorsPerPage := options.DescriptorsPerPage
	if descriptorsPerPage <= 0 {
		descriptorsPerPage = DefaultDescriptorsPerPage
	}

	return &Allocator{
		logger:             logger,
		device:             device,
		heapType:           heapType,
		descriptorsPerPage: descriptorsPerPage,
		maxPages:           options.MaxPages,
		mutex:              utils.NewOptionalMutex(!options.ExternallySynchronized),
	}
}

func (a *Allocator) HeapType() gpu.DescriptorHeapType { return a.heapType }

func (a *Allocator) DescriptorsPerPage() int { return a.descriptorsPerPage }

func (a *Allocator) PageCount() int {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	return len(a.pages)
}

// Allocate returns numDescriptors contiguous descriptors. Existing pages are searched first; a new
// page of max(DescriptorsPerPage, numDescriptors) is created when none can hold the request.
// OutOfDescriptorMemoryError is returned only when the page cap has been reached.
func (a *Allocator) Allocate(numDescriptors int) (*Allocation, error) {
	a.logger.Debug("Allocator::Allocate", slog.Int("NumDescriptors", numDescriptors), slog.String("HeapType", a.heapType.String()))

	if numDescriptors < 1 {
		return nil, errors.Wrapf(memutils.InvalidArgumentError, "cannot allocate %d descriptors", numDescriptors)
	}

	a.mutex.Lock()
	defer a.mutex.Unlock()

	alloc := &Allocation{}
	for _, p := range a.pages {
		if !p.HasSpace(numDescriptors) {
			continue
		}

		success, err := p.Allocate(numDescriptors, alloc)
		if err != nil {
			return nil, err
		} else if success {
			a.logger.Debug("    Returned from existing page", slog.Int("page.id", p.id))
			return alloc, nil
		}
	}

	if a.maxPages > 0 && len(a.pages) >= a.maxPages {
		return nil, errors.Wrapf(memutils.OutOfDescriptorMemoryError, "%d %s descriptors with %d pages in use", numDescriptors, a.heapType, len(a.pages))
	}

	p, err := newPage(a.logger, a.device, a.heapType, max(a.descriptorsPerPage, numDescriptors), a.nextPageID)
	if err != nil {
		return nil, err
	}
	a.nextPageID++
	a.pages = append(a.pages, p)
	a.logger.Debug("    Created new page", slog.Int("page.id", p.id), slog.Int("NumDescriptors", p.NumDescriptors()))

	success, err := p.Allocate(numDescriptors, alloc)
	if err != nil {
		return nil, err
	} else if !success {
		panic("created a new descriptor page to hold an allocation but the page could not hold it")
	}

	return alloc, nil
}

// ReleaseStaleDescriptors returns to the free lists every range freed at or before completedFrame
func (a *Allocator) ReleaseStaleDescriptors(completedFrame uint64) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	released := 0
	for _, p := range a.pages {
		released += p.ReleaseStaleDescriptors(completedFrame)
	}

	if released > 0 {
		a.logger.Debug("Allocator::ReleaseStaleDescriptors",
			slog.Uint64("CompletedFrame", completedFrame),
			slog.Int("Released", released),
			slog.String("HeapType", a.heapType.String()))
	}
}

// NumFreeHandles is the number of free descriptors across all pages
func (a *Allocator) NumFreeHandles() int {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	free := 0
	for _, p := range a.pages {
		free += p.NumFreeHandles()
	}
	return free
}

// StaleCount is the number of freed ranges still waiting for their frame to complete
func (a *Allocator) StaleCount() int {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	stale := 0
	for _, p := range a.pages {
		stale += p.StaleCount()
	}
	return stale
}

func (a *Allocator) AddStatistics(stats *memutils.Statistics) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	for _, p := range a.pages {
		p.mutex.Lock()
		p.metadata.AddStatistics(stats)
		p.mutex.Unlock()
	}
}

func (a *Allocator) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	for _, p := range a.pages {
		p.mutex.Lock()
		p.metadata.AddDetailedStatistics(stats)
		p.mutex.Unlock()
	}
}

func (a *Allocator) Validate() error {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	for _, p := range a.pages {
		p.mutex.Lock()
		err := p.Validate()
		p.mutex.Unlock()
		if err != nil {
			return errors.Wrapf(err, "page %d", p.id)
		}
	}
	return nil
}

// PrintDetailedMap writes one object per page, keyed by page id, into an open json object
func (a *Allocator) PrintDetailedMap(json *jwriter.ObjectState) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	for _, p := range a.pages {
		p.mutex.Lock()
		pageObj := json.Name(strconv.Itoa(p.id)).Object()
		pageObj.Name("Stale").Int(len(p.stale))
		p.metadata.BlockJsonData(&pageObj)
		printDetailedMapAllocations(p.metadata, &pageObj)
		pageObj.End()
		p.mutex.Unlock()
	}
}

func printDetailedMapAllocations(md metadata.BlockMetadata, json *jwriter.ObjectState) {
	arrayState := json.Name("Ranges").Array()
	defer arrayState.End()

	_ = md.VisitAllRegions(func(handle metadata.BlockAllocationHandle, offset int, size int, userData any, free bool) error {
		obj := arrayState.Object()
		defer obj.End()

		if free {
			obj.Name("Offset").Int(offset)
			obj.Name("Free").Bool(true)
			obj.Name("NumHandles").Int(size)
			return nil
		}

		alloc, isAllocation := userData.(*Allocation)
		if isAllocation && alloc != nil {
			alloc.printParameters(&obj)
		} else {
			obj.Name("Offset").Int(offset)
			obj.Name("NumHandles").Int(size)
		}
		return nil
	})
}

// BuildStatsString returns a json summary of the allocator. With detailedMap set every page's
// ranges are listed too.
func (a *Allocator) BuildStatsString(detailedMap bool) string {
	var stats memutils.DetailedStatistics
	stats.Clear()
	a.AddDetailedStatistics(&stats)

	writer := jwriter.NewWriter()
	obj := writer.Object()

	obj.Name("HeapType").String(a.heapType.String())
	totalObj := obj.Name("Total").Object()
	writeDetailedStatistics(&totalObj, &stats)
	totalObj.End()

	if detailedMap {
		pagesObj := obj.Name("Pages").Object()
		a.PrintDetailedMap(&pagesObj)
		pagesObj.End()
	}

	obj.End()
	return string(writer.Bytes())
}

func writeDetailedStatistics(json *jwriter.ObjectState, stats *memutils.DetailedStatistics) {
	json.Name("BlockCount").Int(stats.BlockCount)
	json.Name("BlockSize").Int(stats.BlockSize)
	json.Name("AllocationCount").Int(stats.AllocationCount)
	json.Name("AllocationSize").Int(stats.AllocationSize)
	json.Name("UnusedRangeCount").Int(stats.UnusedRangeCount)
	if stats.AllocationCount > 0 {
		json.Name("AllocationSizeMin").Int(stats.AllocationSizeMin)
		json.Name("AllocationSizeMax").Int(stats.AllocationSizeMax)
	}
	if stats.UnusedRangeCount > 0 {
		json.Name("UnusedRangeSizeMin").Int(stats.UnusedRangeSizeMin)
		json.Name("UnusedRangeSizeMax").Int(stats.UnusedRangeSizeMax)
	}
}

// Destroy releases every page. Ranges that were never freed are logged and reported as an error.
func (a *Allocator) Destroy() error {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	var result error
	for _, p := range a.pages {
		if err := p.Destroy(); err != nil {
			result = errors.CombineErrors(result, err)
		}
	}
	a.pages = nil
	return result
}
