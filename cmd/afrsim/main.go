// The afrsim command drives alternate-frame rendering over a software device with any number of
// nodes. Every frame, worker goroutines record command lists in parallel; a final list composes
// their output into the back buffer before the frame is presented. Barrier state violations found
// by the software device are reported and fail the run.
package main

import (
	"context"
	"encoding/binary"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/afrcore/afrcore/gfx"
	"github.com/afrcore/afrcore/gpu"
	"github.com/afrcore/afrcore/gpu/soft"
	"github.com/chewxy/math32"
	"github.com/cockroachdb/errors"
	"github.com/gogpu/gputypes"
	"golang.org/x/exp/slog"
	"golang.org/x/sync/errgroup"
)

var (
	configPath = flag.String("config", "", "TOML file of device options")
	nodes      = flag.Uint("nodes", 2, "number of simulated GPU nodes")
	frames     = flag.Uint("frames", 0, "frames in flight; overrides the config when set")
	presents   = flag.Int("presents", 16, "number of frames to present")
	workers    = flag.Int("workers", 4, "goroutines recording command lists each frame")
	verbose    = flag.Bool("v", false, "log at debug level and print the detailed descriptor map")
)

const targetSize = 64

func main() {
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.HandlerOptions{Level: level}.NewJSONHandler(os.Stderr))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, logger); err != nil {
		logger.LogAttrs(ctx, slog.LevelError, "afrsim failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func loadOptions() (gfx.CreateOptions, error) {
	var options gfx.CreateOptions
	if *configPath != "" {
		var err error
		options, err = gfx.LoadOptions(*configPath)
		if err != nil {
			return options, err
		}
	}
	if *frames > 0 {
		options.NumFrames = uint32(*frames)
	}
	return options, nil
}

func run(ctx context.Context, logger *slog.Logger) error {
	if *workers < 1 || *presents < 0 {
		return errors.Newf("need at least one worker and a non-negative present count, got %d and %d", *workers, *presents)
	}

	options, err := loadOptions()
	if err != nil {
		return err
	}

	softDevice := soft.NewDevice(soft.Options{NodeCount: uint32(*nodes)})
	device, err := gfx.NewDevice(logger, softDevice, options)
	if err != nil {
		return err
	}

	sim, err := newSimulation(device)
	if err == nil {
		err = sim.run(ctx, *presents)
	}
	if sim != nil {
		sim.release()
	}

	if err == nil {
		err = device.Flush(ctx)
	}
	if err == nil {
		fmt.Println(device.BuildStatsString(*verbose))
	}
	if destroyErr := device.Destroy(ctx); destroyErr != nil {
		err = errors.CombineErrors(err, destroyErr)
	}
	if err != nil {
		return err
	}

	violations := softDevice.Violations()
	for _, violation := range violations {
		logger.Warn("barrier violation", slog.String("violation", violation))
	}
	if len(violations) > 0 {
		return errors.Newf("%d barrier violations", len(violations))
	}
	return nil
}

type simulation struct {
	device        *gfx.Device
	pacer         *gfx.FramePacer
	queue         *gfx.CommandQueue
	rootSignature *gfx.RootSignature

	vertices    *gfx.VertexBuffer
	targets     []*gfx.Texture
	backBuffers []*gfx.Texture
}

func newSimulation(device *gfx.Device) (*simulation, error) {
	sim := &simulation{
		device: device,
		pacer:  gfx.NewFramePacer(device),
		queue:  device.CommandQueue(gpu.CommandListTypeDirect),
	}

	rootSignature, err := device.CreateRootSignature(gpu.RootSignatureDesc{
		Parameters: []gpu.RootParameter{
			{Type: gpu.RootParameterTypeCBV},
			{
				Type: gpu.RootParameterTypeDescriptorTable,
				Ranges: []gpu.DescriptorRange{
					{Type: gpu.DescriptorRangeTypeSRV, NumDescriptors: uint32(*workers)},
				},
			},
		},
	})
	if err != nil {
		return sim, err
	}
	sim.rootSignature = rootSignature

	for i := 0; i < *workers; i++ {
		target, err := device.CreateTexture(
			gpu.Tex2DDesc(gputypes.TextureFormatRGBA8Unorm, targetSize, targetSize, 1, 1, gpu.ResourceFlagAllowRenderTarget),
			&gpu.ClearValue{Format: gputypes.TextureFormatRGBA8Unorm},
			gfx.TextureUsageRenderTarget, fmt.Sprintf("worker target %d", i))
		if err != nil {
			return sim, err
		}
		sim.targets = append(sim.targets, target)
	}

	for i := uint32(0); i < sim.pacer.BackBufferCount(); i++ {
		backBuffer, err := device.CreateTexture(
			gpu.Tex2DDesc(gputypes.TextureFormatBGRA8Unorm, targetSize, targetSize, 1, 1, gpu.ResourceFlagAllowRenderTarget),
			nil, gfx.TextureUsageRenderTarget, fmt.Sprintf("back buffer %d", i))
		if err != nil {
			return sim, err
		}
		sim.backBuffers = append(sim.backBuffers, backBuffer)
	}

	return sim, sim.uploadVertices()
}

// uploadVertices copies a quad through the copy queue and makes the direct queue wait for it
func (s *simulation) uploadVertices() error {
	copyQueue := s.device.CommandQueue(gpu.CommandListTypeCopy)
	list, err := copyQueue.GetCommandList()
	if err != nil {
		return err
	}

	quad := []float32{-1, -1, 0, -1, 1, 0, 1, -1, 0, 1, 1, 0}
	data := make([]byte, 0, len(quad)*4)
	for _, value := range quad {
		data = binary.LittleEndian.AppendUint32(data, math32.Float32bits(value))
	}

	s.vertices = s.device.CreateVertexBuffer("quad")
	if err := list.CopyVertexBuffer(s.vertices, 4, 12, data); err != nil {
		return err
	}
	if _, err := copyQueue.ExecuteCommandLists(list); err != nil {
		return err
	}
	return s.queue.Wait(copyQueue)
}

func (s *simulation) run(ctx context.Context, presents int) error {
	for i := 0; i < presents; i++ {
		if err := s.pacer.BeginFrame(ctx); err != nil {
			return err
		}

		lists, err := s.recordFrame()
		if err != nil {
			return err
		}

		info, err := s.pacer.Present(lists...)
		if err != nil {
			return err
		}
		if info.Released {
			fmt.Printf("frame %d on node %d released descriptors of frame %d\n", info.Frame, info.Node, info.ReleasedFrame)
		}
	}
	return nil
}

// recordFrame records one list per worker in parallel, then the list that composes their targets
// into the current back buffer
func (s *simulation) recordFrame() ([]*gfx.CommandList, error) {
	lists := make([]*gfx.CommandList, len(s.targets)+1)
	frame := s.pacer.Frame()

	var group errgroup.Group
	for i, target := range s.targets {
		group.Go(func() error {
			list, err := s.queue.GetCommandList()
			if err != nil {
				return err
			}
			lists[i] = list

			shade := float32(i+1) / float32(len(s.targets))
			if err := list.ClearTexture(target, [4]float32{shade, 0, 0, 1}); err != nil {
				return err
			}
			if err := list.SetGraphicsRootSignature(s.rootSignature); err != nil {
				return err
			}
			if err := list.SetGraphicsDynamicConstantBuffer(0, frameConstants(frame, i)); err != nil {
				return err
			}
			if err := list.SetVertexBuffer(0, s.vertices); err != nil {
				return err
			}
			list.SetPrimitiveTopology(gputypes.PrimitiveTopologyTriangleStrip)
			return list.Draw(4, 1, 0, 0)
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	compose, err := s.queue.GetCommandList()
	if err != nil {
		return nil, err
	}
	lists[len(s.targets)] = compose

	backBuffer := s.backBuffers[s.pacer.BackBufferIndex()]
	var renderTarget gfx.RenderTarget
	renderTarget.AttachTexture(gfx.AttachmentPointColor0, backBuffer)
	if err := compose.SetRenderTarget(&renderTarget); err != nil {
		return nil, err
	}
	if err := compose.SetViewport(renderTarget.Viewport(1, 1, 0, 0, 0, 1)); err != nil {
		return nil, err
	}
	if err := compose.SetGraphicsRootSignature(s.rootSignature); err != nil {
		return nil, err
	}
	for i, target := range s.targets {
		err := compose.SetShaderResourceView(1, uint32(i), target, gpu.ResourceStatePixelShaderResource, 0, gpu.AllSubresources, nil)
		if err != nil {
			return nil, err
		}
	}
	if err := compose.SetDynamicVertexBuffer(0, 3, 8, make([]byte, 24)); err != nil {
		return nil, err
	}
	if err := compose.Draw(3, 1, 0, 0); err != nil {
		return nil, err
	}
	if err := compose.TransitionBarrier(backBuffer, gpu.ResourceStatePresent, gpu.AllSubresources); err != nil {
		return nil, err
	}

	return lists, nil
}

// frameConstants is the per-draw constant buffer: the frame ordinal and the worker index
func frameConstants(frame uint64, worker int) []byte {
	data := make([]byte, 16)
	binary.LittleEndian.PutUint64(data, frame)
	binary.LittleEndian.PutUint32(data[8:], uint32(worker))
	return data
}

func (s *simulation) release() {
	if s.vertices != nil {
		s.vertices.Release()
	}
	for _, texture := range s.targets {
		texture.Release()
	}
	for _, texture := range s.backBuffers {
		texture.Release()
	}
}
