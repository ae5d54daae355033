// Package gfx records and submits GPU work on a multi-node device. A Device owns the descriptor
// allocators, the shader-visible descriptor heap pools, the global resource state map, the texture
// cache and one CommandQueue per command list type. CommandLists obtained from a queue track
// resource states, upload dynamic data and stage descriptors; FramePacer rotates submission across
// the device's nodes.
package gfx

import (
	"context"
	"math"
	"sync"
	"sync/atomic"

	"github.com/afrcore/afrcore/descriptor"
	"github.com/afrcore/afrcore/dynheap"
	"github.com/afrcore/afrcore/gpu"
	"github.com/afrcore/afrcore/memutils"
	"github.com/afrcore/afrcore/state"
	"github.com/cockroachdb/errors"
	"github.com/gogpu/gputypes"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"golang.org/x/exp/slog"
	"golang.org/x/sync/errgroup"
)

// Device wraps a gpu.Device and owns everything command recording shares between lists
type Device struct {
	logger  *slog.Logger
	gpu     gpu.Device
	options CreateOptions

	globalStates         *state.GlobalStateMap
	descriptorAllocators [gpu.NumDescriptorHeapTypes]*descriptor.Allocator
	dynamicHeapPools     [len(dynamicHeapTypes)]*dynheap.Pool
	queues               [gpu.NumCommandListTypes]*CommandQueue
	textures             *TextureCache

	mipsMutex    sync.Mutex
	generateMips *GenerateMipsPipeline

	frame atomic.Uint64
}

// NewDevice creates a Device over device. Options left at their zero value take their defaults.
func NewDevice(logger *slog.Logger, device gpu.Device, options CreateOptions) (*Device, error) {
	options = options.withDefaults(device.NodeCount())

	d := &Device{
		logger:       logger,
		gpu:          device,
		options:      options,
		globalStates: state.NewGlobalStateMap(logger, options.Flags&DeviceCreateStrictStateTracking != 0),
	}

	for heapType := range d.descriptorAllocators {
		d.descriptorAllocators[heapType] = descriptor.New(logger, device, gpu.DescriptorHeapType(heapType), descriptor.CreateOptions{
			DescriptorsPerPage:     options.DescriptorsPerPage,
			MaxPages:               options.MaxDescriptorPages,
			ExternallySynchronized: options.Flags&DeviceCreateExternallySynchronized != 0,
		})
	}
	for i, heapType := range dynamicHeapTypes {
		d.dynamicHeapPools[i] = dynheap.NewPool(logger, device, heapType, options.DynamicDescriptorsPerHeap)
	}

	for listType := range d.queues {
		queue, err := newCommandQueue(d, gpu.CommandListType(listType))
		if err != nil {
			for _, created := range d.queues[:listType] {
				created.Close()
			}
			return nil, err
		}
		d.queues[listType] = queue
	}

	d.textures = newTextureCache(d)

	logger.Debug("Device::New",
		slog.Int("NodeCount", int(device.NodeCount())),
		slog.Int("NumFrames", int(options.NumFrames)),
		slog.Int("BackBuffersPerNode", int(options.BackBuffersPerNode)),
		slog.String("Flags", options.Flags.String()))

	return d, nil
}

func (d *Device) Native() gpu.Device { return d.gpu }

func (d *Device) Options() CreateOptions { return d.options }

func (d *Device) NodeCount() uint32 { return d.gpu.NodeCount() }

func (d *Device) NodeMask() gpu.NodeMask { return d.gpu.NodeMask() }

// ActiveNodeIndex is the node that receives submitted work
func (d *Device) ActiveNodeIndex() uint32 { return d.gpu.ActiveNodeIndex() }

// AdvanceToNextNode makes the next node, wrapping to node zero, the active node
func (d *Device) AdvanceToNextNode() { d.gpu.SwitchToNextNode() }

func (d *Device) CommandQueue(listType gpu.CommandListType) *CommandQueue {
	return d.queues[listType]
}

func (d *Device) GlobalStates() *state.GlobalStateMap { return d.globalStates }

func (d *Device) TextureCache() *TextureCache { return d.textures }

// CurrentFrame is the ordinal of the frame being recorded. Descriptors freed now become reusable
// once this frame has completed.
func (d *Device) CurrentFrame() uint64 { return d.frame.Load() }

// AllocateDescriptors allocates count contiguous CPU descriptors of heapType
func (d *Device) AllocateDescriptors(heapType gpu.DescriptorHeapType, count int) (*descriptor.Allocation, error) {
	return d.descriptorAllocators[heapType].Allocate(count)
}

// ReleaseStaleDescriptors returns to the free lists every descriptor freed at or before
// completedFrame
func (d *Device) ReleaseStaleDescriptors(completedFrame uint64) {
	for _, allocator := range d.descriptorAllocators {
		allocator.ReleaseStaleDescriptors(completedFrame)
	}
}

// createCommitted creates a default-heap resource and registers it in the COMMON state
func (d *Device) createCommitted(desc gpu.ResourceDesc, clearValue *gpu.ClearValue, name string) (gpu.Resource, error) {
	resource, err := d.gpu.CreateCommittedResource(gpu.HeapTypeDefault, desc, gpu.ResourceStateCommon, clearValue)
	if err != nil {
		return nil, memutils.HostFailure(err, "CreateCommittedResource")
	}
	if name != "" {
		resource.SetName(name)
	}

	d.globalStates.AddGlobalResourceState(resource, gpu.ResourceStateCommon)
	return resource, nil
}

// MultisampleQualityLevels returns the highest sample count up to numSamples that format supports,
// doubling from one, with the best quality level at that count. Formats without multisample support
// get a single sample at quality zero.
func (d *Device) MultisampleQualityLevels(format gputypes.TextureFormat, numSamples uint32) gpu.SampleDesc {
	sampleDesc := gpu.SampleDesc{Count: 1}

	for sampleCount := uint32(1); sampleCount != 0 && sampleCount <= numSamples; sampleCount *= 2 {
		levels, err := d.gpu.CheckMultisampleQualityLevels(format, sampleCount, gpu.MultisampleQualityLevelsFlagNone)
		if err != nil {
			d.logger.Debug("Device::MultisampleQualityLevels", slog.Int("SampleCount", int(sampleCount)), slog.Any("error", err))
			break
		}
		if levels == 0 {
			break
		}
		sampleDesc = gpu.SampleDesc{Count: sampleCount, Quality: levels - 1}
	}

	return sampleDesc
}

// CreateTexture creates a texture in the COMMON state, with render target or depth-stencil views
// when desc allows them
func (d *Device) CreateTexture(desc gpu.ResourceDesc, clearValue *gpu.ClearValue, usage TextureUsage, name string) (*Texture, error) {
	resource, err := d.createCommitted(desc, clearValue, name)
	if err != nil {
		return nil, err
	}

	texture := &Texture{}
	if err := texture.setTexture(d, resource, clearValue, usage); err != nil {
		return nil, err
	}
	return texture, nil
}

// WrapTexture wraps a resource created elsewhere, such as a swap chain buffer, and registers it in
// currentState
func (d *Device) WrapTexture(resource gpu.Resource, currentState gpu.ResourceStates, usage TextureUsage) (*Texture, error) {
	d.globalStates.AddGlobalResourceState(resource, currentState)

	texture := &Texture{}
	if err := texture.setTexture(d, resource, nil, usage); err != nil {
		return nil, err
	}
	return texture, nil
}

func (d *Device) createBuffer(buffer BufferResource, numElements, elementSize int, flags gpu.ResourceFlags) error {
	resource, err := d.createCommitted(gpu.BufferDesc(uint64(numElements*elementSize), flags), nil, buffer.base().name)
	if err != nil {
		return err
	}

	if err := buffer.base().setResource(d, resource, nil); err != nil {
		return err
	}
	return buffer.createViews(numElements, elementSize)
}

// CreateVertexBuffer returns an empty vertex buffer for CommandList.CopyVertexBuffer to fill
func (d *Device) CreateVertexBuffer(name string) *VertexBuffer {
	buffer := &VertexBuffer{}
	buffer.device = d
	buffer.name = name
	return buffer
}

// CreateIndexBuffer returns an empty index buffer for CommandList.CopyIndexBuffer to fill
func (d *Device) CreateIndexBuffer(name string) *IndexBuffer {
	buffer := &IndexBuffer{}
	buffer.device = d
	buffer.name = name
	return buffer
}

// CreateByteAddressBuffer creates an unordered access raw buffer of at least size bytes
func (d *Device) CreateByteAddressBuffer(size int, name string) (*ByteAddressBuffer, error) {
	buffer := &ByteAddressBuffer{}
	buffer.name = name
	if err := d.createBuffer(buffer, 1, memutils.AlignUp(size, 4), gpu.ResourceFlagAllowUnorderedAccess); err != nil {
		return nil, err
	}
	return buffer, nil
}

// CreateStructuredBuffer creates an unordered access structured buffer and its counter buffer
func (d *Device) CreateStructuredBuffer(numElements, elementSize int, name string) (*StructuredBuffer, error) {
	if numElements <= 0 || elementSize <= 0 {
		return nil, errors.Wrapf(memutils.InvalidArgumentError, "structured buffer of %d elements of %d bytes", numElements, elementSize)
	}

	buffer := &StructuredBuffer{}
	buffer.name = name
	if err := d.createBuffer(buffer, numElements, elementSize, gpu.ResourceFlagAllowUnorderedAccess); err != nil {
		return nil, err
	}
	return buffer, nil
}

// GenerateMipsPipeline returns the mip generation pipeline, building it on first use
func (d *Device) GenerateMipsPipeline() (*GenerateMipsPipeline, error) {
	d.mipsMutex.Lock()
	defer d.mipsMutex.Unlock()

	if d.generateMips == nil {
		pipeline, err := newGenerateMipsPipeline(d, d.options.GenerateMipsShader)
		if err != nil {
			return nil, err
		}
		d.generateMips = pipeline
	}
	return d.generateMips, nil
}

// Flush waits until every queue is idle and every in-flight command list has been recycled
func (d *Device) Flush(ctx context.Context) error {
	group, groupCtx := errgroup.WithContext(ctx)
	for _, queue := range d.queues {
		group.Go(func() error {
			return queue.Flush(groupCtx)
		})
	}
	return group.Wait()
}

// Destroy flushes the device and releases everything it owns. Descriptors that were never freed
// are reported as an error.
func (d *Device) Destroy(ctx context.Context) error {
	err := d.Flush(ctx)

	for _, queue := range d.queues {
		queue.Close()
	}

	d.mipsMutex.Lock()
	if d.generateMips != nil {
		d.generateMips.defaultUAV.Free(d.CurrentFrame())
		d.generateMips = nil
	}
	d.mipsMutex.Unlock()

	d.textures.Clear()

	for _, allocator := range d.descriptorAllocators {
		allocator.ReleaseStaleDescriptors(math.MaxUint64)
		if destroyErr := allocator.Destroy(); destroyErr != nil {
			err = errors.CombineErrors(err, destroyErr)
		}
	}

	d.globalStates.Shutdown()
	return err
}

// BuildStatsString returns a json summary of the device's descriptor allocators, shader-visible
// heap pools, queues and tracked resources. With detailedMap set every descriptor page's ranges
// are listed too.
func (d *Device) BuildStatsString(detailedMap bool) string {
	writer := jwriter.NewWriter()
	obj := writer.Object()

	obj.Name("NodeCount").Int(int(d.NodeCount()))
	obj.Name("ActiveNode").Int(int(d.ActiveNodeIndex()))
	obj.Name("CurrentFrame").Float64(float64(d.CurrentFrame()))
	obj.Name("TrackedResources").Int(d.globalStates.Count())
	obj.Name("CachedTextures").Int(d.textures.Count())

	allocatorsObj := obj.Name("DescriptorAllocators").Object()
	for _, allocator := range d.descriptorAllocators {
		var stats memutils.DetailedStatistics
		stats.Clear()
		allocator.AddDetailedStatistics(&stats)

		allocatorObj := allocatorsObj.Name(allocator.HeapType().String()).Object()
		writeDetailedStatistics(&allocatorObj, &stats)
		allocatorObj.Name("StaleDescriptors").Int(allocator.StaleCount())

		if detailedMap {
			pagesObj := allocatorObj.Name("Pages").Object()
			allocator.PrintDetailedMap(&pagesObj)
			pagesObj.End()
		}
		allocatorObj.End()
	}
	allocatorsObj.End()

	poolsObj := obj.Name("ShaderVisibleHeaps").Object()
	for _, pool := range d.dynamicHeapPools {
		poolObj := poolsObj.Name(pool.HeapType().String()).Object()
		poolObj.Name("DescriptorsPerHeap").Int(int(pool.NumDescriptorsPerHeap()))
		poolObj.Name("HeapCount").Int(pool.HeapCount())
		poolObj.Name("AvailableCount").Int(pool.AvailableCount())
		poolObj.End()
	}
	poolsObj.End()

	queuesObj := obj.Name("Queues").Object()
	for _, queue := range d.queues {
		queueObj := queuesObj.Name(queue.listType.String()).Object()
		queueObj.Name("LastSignaledValue").Float64(float64(queue.LastSignaledValue()))
		queueObj.Name("CompletedValue").Float64(float64(queue.fence.CompletedValue()))
		queueObj.Name("InFlightLists").Int(queue.InFlightCount())
		queueObj.Name("AvailableLists").Int(queue.AvailableCount())
		queueObj.End()
	}
	queuesObj.End()

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
