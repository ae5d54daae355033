package gfx_test

import (
	"context"
	"io"
	"runtime"
	"testing"

	"github.com/afrcore/afrcore/gfx"
	"github.com/afrcore/afrcore/gpu"
	"github.com/afrcore/afrcore/gpu/soft"
	"github.com/gogpu/gputypes"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard))
}

var queueTypes = []gpu.CommandListType{
	gpu.CommandListTypeDirect,
	gpu.CommandListTypeCompute,
	gpu.CommandListTypeCopy,
}

// newDevice creates a device over a software gpu and destroys it when the test ends. Under
// ManualFenceCompletion the queues are drained while the device flushes.
func newDevice(t *testing.T, softOptions soft.Options, options gfx.CreateOptions) (*soft.Device, *gfx.Device) {
	softDevice := soft.NewDevice(softOptions)
	device, err := gfx.NewDevice(testLogger(), softDevice, options)
	require.NoError(t, err)

	t.Cleanup(func() {
		destroyed := make(chan error, 1)
		go func() { destroyed <- device.Destroy(context.Background()) }()

		for {
			select {
			case err := <-destroyed:
				require.NoError(t, err)
				return
			default:
				completeAll(device)
				runtime.Gosched()
			}
		}
	})
	return softDevice, device
}

func completeAll(device *gfx.Device) {
	for _, listType := range queueTypes {
		device.CommandQueue(listType).Native().(*soft.CommandQueue).CompleteAll()
	}
}

func newRenderTarget(t *testing.T, device *gfx.Device, name string) *gfx.Texture {
	texture, err := device.CreateTexture(
		gpu.Tex2DDesc(gputypes.TextureFormatRGBA8Unorm, 4, 4, 1, 1, gpu.ResourceFlagAllowRenderTarget),
		nil, gfx.TextureUsageRenderTarget, name)
	require.NoError(t, err)
	t.Cleanup(texture.Release)
	return texture
}

func submittedNames(queue *gfx.CommandQueue) []string {
	var names []string
	for _, submission := range queue.Native().(*soft.CommandQueue).Submissions() {
		names = append(names, submission.List)
	}
	return names
}
