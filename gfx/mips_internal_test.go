package gfx

import (
	"math"
	"testing"

	"github.com/afrcore/afrcore/gpu"
	"github.com/gogpu/gputypes"
	"github.com/stretchr/testify/require"
)

func TestPlanMipPasses(t *testing.T) {
	tests := []struct {
		name      string
		width     uint64
		height    uint32
		mipLevels uint16
		passes    []mipPass
	}{
		{
			name: "PowerOfTwo", width: 256, height: 256, mipLevels: 9,
			passes: []mipPass{
				{srcMip: 0, mipCount: 4, srcDimension: 0, dstWidth: 128, dstHeight: 128},
				{srcMip: 4, mipCount: 4, srcDimension: 0, dstWidth: 8, dstHeight: 8},
			},
		},
		{
			name: "OddSource", width: 5, height: 3, mipLevels: 3,
			passes: []mipPass{
				{srcMip: 0, mipCount: 2, srcDimension: 3, dstWidth: 2, dstHeight: 1},
			},
		},
		{
			name: "OddDestination", width: 6, height: 6, mipLevels: 3,
			passes: []mipPass{
				{srcMip: 0, mipCount: 1, srcDimension: 0, dstWidth: 3, dstHeight: 3},
				{srcMip: 1, mipCount: 1, srcDimension: 3, dstWidth: 1, dstHeight: 1},
			},
		},
		{
			name: "Wide", width: 64, height: 4, mipLevels: 7,
			passes: []mipPass{
				{srcMip: 0, mipCount: 2, srcDimension: 0, dstWidth: 32, dstHeight: 2},
				{srcMip: 2, mipCount: 4, srcDimension: 2, dstWidth: 8, dstHeight: 1},
			},
		},
		{
			name: "SingleMip", width: 16, height: 16, mipLevels: 1,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			desc := gpu.Tex2DDesc(gputypes.TextureFormatRGBA8Unorm, test.width, test.height, 1, test.mipLevels, gpu.ResourceFlagNone)
			require.Equal(t, test.passes, planMipPasses(desc))
		})
	}
}

func TestGenerateMipsConstantsLayout(t *testing.T) {
	constants := generateMipsConstantsData{
		SrcMipLevel:  4,
		NumMipLevels: 3,
		SrcDimension: 2,
		IsSRGB:       1,
		TexelSize:    [2]float32{0.5, 0.25},
	}

	require.Equal(t, []uint32{4, 3, 2, 1, math.Float32bits(0.5), math.Float32bits(0.25)}, constants.values())
}
