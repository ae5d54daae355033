package soft

import (
	"github.com/afrcore/afrcore/gpu"
	"github.com/cockroachdb/errors"
	"github.com/gogpu/gputypes"
)

// Op identifies a recorded command
type Op int

const (
	OpResourceBarrier Op = iota
	OpCopyResource
	OpCopyBufferRegion
	OpCopyTextureRegion
	OpResolveSubresource
	OpSetPrimitiveTopology
	OpSetVertexBuffers
	OpSetIndexBuffer
	OpSetViewports
	OpSetScissorRects
	OpSetRenderTargets
	OpClearRenderTargetView
	OpClearDepthStencilView
	OpSetPipelineState
	OpSetGraphicsRootSignature
	OpSetComputeRootSignature
	OpSetDescriptorHeaps
	OpSetGraphicsRootDescriptorTable
	OpSetComputeRootDescriptorTable
	OpSetGraphicsRoot32BitConstants
	OpSetComputeRoot32BitConstants
	OpSetGraphicsRootConstantBufferView
	OpSetComputeRootConstantBufferView
	OpSetGraphicsRootShaderResourceView
	OpDrawInstanced
	OpDrawIndexedInstanced
	OpDispatch
)

var opNames = map[Op]string{
	OpResourceBarrier:                   "ResourceBarrier",
	OpCopyResource:                      "CopyResource",
	OpCopyBufferRegion:                  "CopyBufferRegion",
	OpCopyTextureRegion:                 "CopyTextureRegion",
	OpResolveSubresource:                "ResolveSubresource",
	OpSetPrimitiveTopology:              "IASetPrimitiveTopology",
	OpSetVertexBuffers:                  "IASetVertexBuffers",
	OpSetIndexBuffer:                    "IASetIndexBuffer",
	OpSetViewports:                      "RSSetViewports",
	OpSetScissorRects:                   "RSSetScissorRects",
	OpSetRenderTargets:                  "OMSetRenderTargets",
	OpClearRenderTargetView:             "ClearRenderTargetView",
	OpClearDepthStencilView:             "ClearDepthStencilView",
	OpSetPipelineState:                  "SetPipelineState",
	OpSetGraphicsRootSignature:          "SetGraphicsRootSignature",
	OpSetComputeRootSignature:           "SetComputeRootSignature",
	OpSetDescriptorHeaps:                "SetDescriptorHeaps",
	OpSetGraphicsRootDescriptorTable:    "SetGraphicsRootDescriptorTable",
	OpSetComputeRootDescriptorTable:     "SetComputeRootDescriptorTable",
	OpSetGraphicsRoot32BitConstants:     "SetGraphicsRoot32BitConstants",
	OpSetComputeRoot32BitConstants:      "SetComputeRoot32BitConstants",
	OpSetGraphicsRootConstantBufferView: "SetGraphicsRootConstantBufferView",
	OpSetComputeRootConstantBufferView:  "SetComputeRootConstantBufferView",
	OpSetGraphicsRootShaderResourceView: "SetGraphicsRootShaderResourceView",
	OpDrawInstanced:                     "DrawInstanced",
	OpDrawIndexedInstanced:              "DrawIndexedInstanced",
	OpDispatch:                          "Dispatch",
}

func (o Op) String() string {
	return opNames[o]
}

// Command is one recorded command. Only the fields relevant to Op are set.
type Command struct {
	Op Op

	Barriers []gpu.ResourceBarrier

	Dst, Src             gpu.Resource
	DstOffset, SrcOffset uint64
	NumBytes             uint64
	DstSubresource       uint32
	SrcSubresource       uint32
	DstLocation          gpu.TextureCopyLocation
	SrcLocation          gpu.TextureCopyLocation
	DstX, DstY, DstZ     uint32
	Format               gputypes.TextureFormat
	Topology             gputypes.PrimitiveTopology
	StartSlot            uint32
	VertexBuffers        []gpu.VertexBufferView
	IndexBuffer          *gpu.IndexBufferView
	Viewports            []gpu.Viewport
	ScissorRects         []gpu.Rect
	RenderTargets        []gpu.CPUDescriptorHandle
	DepthStencil         *gpu.CPUDescriptorHandle
	Color                [4]float32
	ClearFlags           gpu.ClearFlags
	Depth                float32
	Stencil              uint8
	PipelineState        gpu.PipelineState
	RootSignature        gpu.RootSignature
	DescriptorHeaps      []gpu.DescriptorHeap
	RootParameterIndex   uint32
	DescriptorTable      gpu.GPUDescriptorHandle
	Constants            []uint32
	ConstantsOffset      uint32
	Address              gpu.GPUVirtualAddress
	Counts               [4]uint32
	BaseVertex           int32
}

// CommandAllocator is a software command allocator
type CommandAllocator struct {
	object
	device   *Device
	listType gpu.CommandListType
	resets   int
}

var _ gpu.CommandAllocator = &CommandAllocator{}

func (a *CommandAllocator) Type() gpu.CommandListType { return a.listType }

func (a *CommandAllocator) Reset() error {
	if err := a.device.takeFailure("CommandAllocator.Reset"); err != nil {
		return err
	}
	a.resets++
	return nil
}

// ResetCount is the number of times the allocator has been reset
func (a *CommandAllocator) ResetCount() int { return a.resets }

// CommandList records commands for later execution by a CommandQueue
type CommandList struct {
	object

	device    *Device
	listType  gpu.CommandListType
	allocator gpu.CommandAllocator
	closed    bool
	commands  []Command
}

var _ gpu.CommandList = &CommandList{}

func (l *CommandList) Type() gpu.CommandListType { return l.listType }

// Closed reports whether the list is ready to be executed
func (l *CommandList) Closed() bool { return l.closed }

// Commands returns everything recorded since the last Reset
func (l *CommandList) Commands() []Command { return l.commands }

// CommandsOf returns the recorded commands with the given op
func (l *CommandList) CommandsOf(op Op) []Command {
	var commands []Command
	for _, command := range l.commands {
		if command.Op == op {
			commands = append(commands, command)
		}
	}
	return commands
}

// Barriers returns every barrier recorded since the last Reset, in order
func (l *CommandList) Barriers() []gpu.ResourceBarrier {
	var barriers []gpu.ResourceBarrier
	for _, command := range l.CommandsOf(OpResourceBarrier) {
		barriers = append(barriers, command.Barriers...)
	}
	return barriers
}

func (l *CommandList) record(command Command) {
	if l.closed {
		l.device.violate("%s recorded into closed list %q", command.Op, l.Name())
		return
	}
	l.commands = append(l.commands, command)
}

func (l *CommandList) Close() error {
	if err := l.device.takeFailure("CommandList.Close"); err != nil {
		return err
	}
	if l.closed {
		return errors.Newf("command list %q is already closed", l.Name())
	}
	l.closed = true
	return nil
}

func (l *CommandList) Reset(allocator gpu.CommandAllocator, initialState gpu.PipelineState) error {
	if err := l.device.takeFailure("CommandList.Reset"); err != nil {
		return err
	}
	if !l.closed {
		return errors.Newf("command list %q must be closed before it is reset", l.Name())
	}
	if allocator.Type() != l.listType {
		return errors.Newf("allocator of type %s cannot record a %s list", allocator.Type(), l.listType)
	}

	l.allocator = allocator
	l.closed = false
	l.commands = nil
	if initialState != nil {
		l.SetPipelineState(initialState)
	}
	return nil
}

func (l *CommandList) ResourceBarrier(barriers []gpu.ResourceBarrier) {
	if len(barriers) == 0 {
		return
	}
	l.record(Command{Op: OpResourceBarrier, Barriers: append([]gpu.ResourceBarrier(nil), barriers...)})
}

func (l *CommandList) CopyResource(dst, src gpu.Resource) {
	l.record(Command{Op: OpCopyResource, Dst: dst, Src: src})
}

func (l *CommandList) CopyBufferRegion(dst gpu.Resource, dstOffset uint64, src gpu.Resource, srcOffset uint64, numBytes uint64) {
	l.record(Command{Op: OpCopyBufferRegion, Dst: dst, DstOffset: dstOffset, Src: src, SrcOffset: srcOffset, NumBytes: numBytes})
}

func (l *CommandList) CopyTextureRegion(dst gpu.TextureCopyLocation, dstX, dstY, dstZ uint32, src gpu.TextureCopyLocation) {
	l.record(Command{Op: OpCopyTextureRegion, DstLocation: dst, SrcLocation: src, DstX: dstX, DstY: dstY, DstZ: dstZ})
}

func (l *CommandList) ResolveSubresource(dst gpu.Resource, dstSubresource uint32, src gpu.Resource, srcSubresource uint32, format gputypes.TextureFormat) {
	l.record(Command{Op: OpResolveSubresource, Dst: dst, DstSubresource: dstSubresource, Src: src, SrcSubresource: srcSubresource, Format: format})
}

func (l *CommandList) IASetPrimitiveTopology(topology gputypes.PrimitiveTopology) {
	l.record(Command{Op: OpSetPrimitiveTopology, Topology: topology})
}

func (l *CommandList) IASetVertexBuffers(startSlot uint32, views []gpu.VertexBufferView) {
	l.record(Command{Op: OpSetVertexBuffers, StartSlot: startSlot, VertexBuffers: append([]gpu.VertexBufferView(nil), views...)})
}

func (l *CommandList) IASetIndexBuffer(view *gpu.IndexBufferView) {
	var copied *gpu.IndexBufferView
	if view != nil {
		v := *view
		copied = &v
	}
	l.record(Command{Op: OpSetIndexBuffer, IndexBuffer: copied})
}

func (l *CommandList) RSSetViewports(viewports []gpu.Viewport) {
	l.record(Command{Op: OpSetViewports, Viewports: append([]gpu.Viewport(nil), viewports...)})
}

func (l *CommandList) RSSetScissorRects(rects []gpu.Rect) {
	l.record(Command{Op: OpSetScissorRects, ScissorRects: append([]gpu.Rect(nil), rects...)})
}

func (l *CommandList) OMSetRenderTargets(renderTargets []gpu.CPUDescriptorHandle, depthStencil *gpu.CPUDescriptorHandle) {
	var copied *gpu.CPUDescriptorHandle
	if depthStencil != nil {
		handle := *depthStencil
		copied = &handle
	}
	l.record(Command{Op: OpSetRenderTargets, RenderTargets: append([]gpu.CPUDescriptorHandle(nil), renderTargets...), DepthStencil: copied})
}

func (l *CommandList) ClearRenderTargetView(renderTarget gpu.CPUDescriptorHandle, color [4]float32) {
	l.record(Command{Op: OpClearRenderTargetView, RenderTargets: []gpu.CPUDescriptorHandle{renderTarget}, Color: color})
}

func (l *CommandList) ClearDepthStencilView(depthStencil gpu.CPUDescriptorHandle, flags gpu.ClearFlags, depth float32, stencil uint8) {
	l.record(Command{Op: OpClearDepthStencilView, DepthStencil: &depthStencil, ClearFlags: flags, Depth: depth, Stencil: stencil})
}

func (l *CommandList) SetPipelineState(pipelineState gpu.PipelineState) {
	l.record(Command{Op: OpSetPipelineState, PipelineState: pipelineState})
}

func (l *CommandList) SetGraphicsRootSignature(rootSignature gpu.RootSignature) {
	l.record(Command{Op: OpSetGraphicsRootSignature, RootSignature: rootSignature})
}

func (l *CommandList) SetComputeRootSignature(rootSignature gpu.RootSignature) {
	l.record(Command{Op: OpSetComputeRootSignature, RootSignature: rootSignature})
}

func (l *CommandList) SetDescriptorHeaps(heaps []gpu.DescriptorHeap) {
	for _, heap := range heaps {
		if !heap.Desc().ShaderVisible {
			l.device.violate("descriptor heap %q bound to a command list is not shader visible", heap.Name())
		}
	}
	l.record(Command{Op: OpSetDescriptorHeaps, DescriptorHeaps: append([]gpu.DescriptorHeap(nil), heaps...)})
}

func (l *CommandList) SetGraphicsRootDescriptorTable(rootParameterIndex uint32, baseDescriptor gpu.GPUDescriptorHandle) {
	l.record(Command{Op: OpSetGraphicsRootDescriptorTable, RootParameterIndex: rootParameterIndex, DescriptorTable: baseDescriptor})
}

func (l *CommandList) SetComputeRootDescriptorTable(rootParameterIndex uint32, baseDescriptor gpu.GPUDescriptorHandle) {
	l.record(Command{Op: OpSetComputeRootDescriptorTable, RootParameterIndex: rootParameterIndex, DescriptorTable: baseDescriptor})
}

func (l *CommandList) SetGraphicsRoot32BitConstants(rootParameterIndex uint32, values []uint32, destOffset uint32) {
	l.record(Command{Op: OpSetGraphicsRoot32BitConstants, RootParameterIndex: rootParameterIndex, Constants: append([]uint32(nil), values...), ConstantsOffset: destOffset})
}

func (l *CommandList) SetComputeRoot32BitConstants(rootParameterIndex uint32, values []uint32, destOffset uint32) {
	l.record(Command{Op: OpSetComputeRoot32BitConstants, RootParameterIndex: rootParameterIndex, Constants: append([]uint32(nil), values...), ConstantsOffset: destOffset})
}

func (l *CommandList) SetGraphicsRootConstantBufferView(rootParameterIndex uint32, location gpu.GPUVirtualAddress) {
	l.record(Command{Op: OpSetGraphicsRootConstantBufferView, RootParameterIndex: rootParameterIndex, Address: location})
}

func (l *CommandList) SetComputeRootConstantBufferView(rootParameterIndex uint32, location gpu.GPUVirtualAddress) {
	l.record(Command{Op: OpSetComputeRootConstantBufferView, RootParameterIndex: rootParameterIndex, Address: location})
}

func (l *CommandList) SetGraphicsRootShaderResourceView(rootParameterIndex uint32, location gpu.GPUVirtualAddress) {
	l.record(Command{Op: OpSetGraphicsRootShaderResourceView, RootParameterIndex: rootParameterIndex, Address: location})
}

func (l *CommandList) DrawInstanced(vertexCountPerInstance, instanceCount, startVertex, startInstance uint32) {
	l.record(Command{Op: OpDrawInstanced, Counts: [4]uint32{vertexCountPerInstance, instanceCount, startVertex, startInstance}})
}

func (l *CommandList) DrawIndexedInstanced(indexCountPerInstance, instanceCount, startIndex uint32, baseVertex int32, startInstance uint32) {
	l.record(Command{Op: OpDrawIndexedInstanced, Counts: [4]uint32{indexCountPerInstance, instanceCount, startIndex, startInstance}, BaseVertex: baseVertex})
}

func (l *CommandList) Dispatch(x, y, z uint32) {
	if l.listType == gpu.CommandListTypeCopy {
		l.device.violate("dispatch recorded into copy list %q", l.Name())
	}
	l.record(Command{Op: OpDispatch, Counts: [4]uint32{x, y, z}})
}
