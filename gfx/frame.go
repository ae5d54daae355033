package gfx

import (
	"context"

	"github.com/afrcore/afrcore/gpu"
	"golang.org/x/exp/slog"
)

// PresentInfo describes one call to FramePacer.Present
type PresentInfo struct {
	// Node is the node the frame was submitted to
	Node            uint32
	FrameIndex      uint32
	BackBufferIndex uint32
	// FenceValue signals the completion of the frame's work
	FenceValue uint64
	// Frame is the ordinal of the presented frame
	Frame uint64

	// Released is set when presenting wrapped the device back to node zero and stale descriptors
	// of ReleasedFrame and earlier were reclaimed
	Released      bool
	ReleasedFrame uint64
}

// FramePacer paces alternate-frame rendering over the device's nodes. Each present submits to the
// active node and then moves to the next one; frameIndex advances each time the rotation returns
// to node zero. Before a back buffer is reused, BeginFrame waits for the fence value of the frame
// that last used it.
//
// A FramePacer is used by a single goroutine.
type FramePacer struct {
	logger *slog.Logger
	device *Device
	queue  *CommandQueue

	numFrames       uint32
	backBufferCount uint32

	frameIndex      uint32
	backBufferIndex uint32
	frame           uint64

	fenceValues []uint64
	frames      []uint64
}

// NewFramePacer paces frames submitted to the device's direct queue
func NewFramePacer(device *Device) *FramePacer {
	backBufferCount := device.options.BackBuffersPerNode * device.NodeCount()

	return &FramePacer{
		logger:          device.logger,
		device:          device,
		queue:           device.CommandQueue(gpu.CommandListTypeDirect),
		numFrames:       device.options.NumFrames,
		backBufferCount: backBufferCount,
		fenceValues:     make([]uint64, backBufferCount),
		frames:          make([]uint64, backBufferCount),
	}
}

func (p *FramePacer) FrameIndex() uint32 { return p.frameIndex }

func (p *FramePacer) BackBufferIndex() uint32 { return p.backBufferIndex }

func (p *FramePacer) BackBufferCount() uint32 { return p.backBufferCount }

// Frame is the ordinal of the frame being recorded
func (p *FramePacer) Frame() uint64 { return p.frame }

// BeginFrame waits until the GPU has finished the last frame that used the current back buffer
func (p *FramePacer) BeginFrame(ctx context.Context) error {
	return p.queue.WaitForFenceValue(ctx, p.fenceValues[p.backBufferIndex])
}

// Present submits lists as the current frame on the active node, then advances to the next node
// and back buffer
func (p *FramePacer) Present(lists ...*CommandList) (PresentInfo, error) {
	info := PresentInfo{
		Node:            p.device.ActiveNodeIndex(),
		FrameIndex:      p.frameIndex,
		BackBufferIndex: p.backBufferIndex,
		Frame:           p.frame,
	}

	var fenceValue uint64
	var err error
	if len(lists) > 0 {
		fenceValue, err = p.queue.ExecuteCommandLists(lists...)
	} else {
		fenceValue, err = p.queue.Signal()
	}
	if err != nil {
		return info, err
	}
	info.FenceValue = fenceValue

	p.fenceValues[p.backBufferIndex] = fenceValue
	p.frames[p.backBufferIndex] = p.frame

	p.device.AdvanceToNextNode()
	p.backBufferIndex = (p.backBufferIndex + 1) % p.backBufferCount
	p.frame++
	p.device.frame.Store(p.frame)

	if p.device.ActiveNodeIndex() == 0 {
		p.frameIndex = (p.frameIndex + 1) % p.numFrames

		if completedFrame, ok := p.completedFrame(); ok {
			p.device.ReleaseStaleDescriptors(completedFrame)
			info.Released = true
			info.ReleasedFrame = completedFrame
		}
	}

	p.logger.Debug("FramePacer::Present",
		slog.Int("Node", int(info.Node)),
		slog.Int("FrameIndex", int(info.FrameIndex)),
		slog.Int("BackBufferIndex", int(info.BackBufferIndex)),
		slog.Uint64("FenceValue", fenceValue))

	return info, nil
}

// completedFrame is the largest frame ordinal whose fence has completed
func (p *FramePacer) completedFrame() (uint64, bool) {
	var completed uint64
	found := false
	for i, fenceValue := range p.fenceValues {
		if fenceValue == 0 || !p.queue.IsFenceComplete(fenceValue) {
			continue
		}
		if !found || p.frames[i] > completed {
			completed = p.frames[i]
			found = true
		}
	}
	return completed, found
}
