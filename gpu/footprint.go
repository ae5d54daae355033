package gpu

import (
	"github.com/afrcore/afrcore/memutils"
	"github.com/cockroachdb/errors"
	"github.com/gogpu/gputypes"
)

const (
	// TextureDataPitchAlignment is the required alignment of texture rows inside a buffer
	TextureDataPitchAlignment = 256
	// TextureDataPlacementAlignment is the required alignment of a subresource inside a buffer
	TextureDataPlacementAlignment = 512
	// ConstantBufferDataPlacementAlignment is the required alignment of a constant buffer view
	ConstantBufferDataPlacementAlignment = 256
)

type formatLayout struct {
	bytesPerBlock uint32
	blockSize     uint32
}

func layoutOf(format gputypes.TextureFormat) formatLayout {
	switch format {
	case gputypes.TextureFormatR8Unorm, gputypes.TextureFormatR8Snorm, gputypes.TextureFormatR8Uint,
		gputypes.TextureFormatR8Sint, gputypes.TextureFormatStencil8:
		return formatLayout{1, 1}
	case gputypes.TextureFormatR16Unorm, gputypes.TextureFormatR16Snorm, gputypes.TextureFormatR16Uint,
		gputypes.TextureFormatR16Sint, gputypes.TextureFormatR16Float, gputypes.TextureFormatRG8Unorm,
		gputypes.TextureFormatRG8Snorm, gputypes.TextureFormatRG8Uint, gputypes.TextureFormatRG8Sint,
		gputypes.TextureFormatDepth16Unorm:
		return formatLayout{2, 1}
	case gputypes.TextureFormatR32Float, gputypes.TextureFormatR32Uint, gputypes.TextureFormatR32Sint,
		gputypes.TextureFormatRG16Unorm, gputypes.TextureFormatRG16Snorm, gputypes.TextureFormatRG16Uint,
		gputypes.TextureFormatRG16Sint, gputypes.TextureFormatRG16Float, gputypes.TextureFormatRGBA8Unorm,
		gputypes.TextureFormatRGBA8UnormSrgb, gputypes.TextureFormatRGBA8Snorm, gputypes.TextureFormatRGBA8Uint,
		gputypes.TextureFormatRGBA8Sint, gputypes.TextureFormatBGRA8Unorm, gputypes.TextureFormatBGRA8UnormSrgb,
		gputypes.TextureFormatRGB10A2Uint, gputypes.TextureFormatRGB10A2Unorm, gputypes.TextureFormatRG11B10Ufloat,
		gputypes.TextureFormatRGB9E5Ufloat, gputypes.TextureFormatDepth24Plus, gputypes.TextureFormatDepth24PlusStencil8,
		gputypes.TextureFormatDepth32Float:
		return formatLayout{4, 1}
	case gputypes.TextureFormatRG32Float, gputypes.TextureFormatRG32Uint, gputypes.TextureFormatRG32Sint,
		gputypes.TextureFormatRGBA16Unorm, gputypes.TextureFormatRGBA16Snorm, gputypes.TextureFormatRGBA16Uint,
		gputypes.TextureFormatRGBA16Sint, gputypes.TextureFormatRGBA16Float, gputypes.TextureFormatDepth32FloatStencil8:
		return formatLayout{8, 1}
	case gputypes.TextureFormatRGBA32Float, gputypes.TextureFormatRGBA32Uint, gputypes.TextureFormatRGBA32Sint:
		return formatLayout{16, 1}
	case gputypes.TextureFormatBC1RGBAUnorm, gputypes.TextureFormatBC1RGBAUnormSrgb,
		gputypes.TextureFormatBC4RUnorm, gputypes.TextureFormatBC4RSnorm:
		return formatLayout{8, 4}
	case gputypes.TextureFormatBC2RGBAUnorm, gputypes.TextureFormatBC2RGBAUnormSrgb,
		gputypes.TextureFormatBC3RGBAUnorm, gputypes.TextureFormatBC3RGBAUnormSrgb,
		gputypes.TextureFormatBC5RGUnorm, gputypes.TextureFormatBC5RGSnorm,
		gputypes.TextureFormatBC6HRGBUfloat, gputypes.TextureFormatBC6HRGBFloat,
		gputypes.TextureFormatBC7RGBAUnorm, gputypes.TextureFormatBC7RGBAUnormSrgb:
		return formatLayout{16, 4}
	}
	return formatLayout{}
}

// BytesPerPixel returns the size of one texel, or 0 for block-compressed and unknown formats
func BytesPerPixel(format gputypes.TextureFormat) uint32 {
	layout := layoutOf(format)
	if layout.blockSize != 1 {
		return 0
	}
	return layout.bytesPerBlock
}

// CopyableFootprints computes where each of numSubresources subresources starting at firstSubresource
// lands when the texture described by desc is laid out in a buffer at baseOffset. It returns the
// footprints, the number of rows of each subresource, the unpadded size of each row, and the total
// number of bytes the layout spans.
func CopyableFootprints(desc ResourceDesc, firstSubresource, numSubresources uint32, baseOffset uint64) ([]PlacedSubresourceFootprint, []uint32, []uint64, uint64, error) {
	if desc.Dimension == ResourceDimensionBuffer {
		if firstSubresource != 0 || numSubresources != 1 {
			return nil, nil, nil, 0, errors.Wrapf(memutils.InvalidArgumentError, "buffers have a single subresource, requested %d starting at %d", numSubresources, firstSubresource)
		}
		footprint := PlacedSubresourceFootprint{
			Offset: baseOffset,
			Footprint: SubresourceFootprint{
				Width:    uint32(desc.Width),
				Height:   1,
				Depth:    1,
				RowPitch: uint32(memutils.AlignUp(desc.Width, TextureDataPitchAlignment)),
			},
		}
		return []PlacedSubresourceFootprint{footprint}, []uint32{1}, []uint64{desc.Width}, desc.Width, nil
	}

	if firstSubresource+numSubresources > desc.SubresourceCount() {
		return nil, nil, nil, 0, errors.Wrapf(memutils.InvalidArgumentError, "subresources [%d, %d) out of range for %d subresources", firstSubresource, firstSubresource+numSubresources, desc.SubresourceCount())
	}

	layout := layoutOf(desc.Format)
	if layout.bytesPerBlock == 0 {
		return nil, nil, nil, 0, errors.Wrapf(memutils.InvalidArgumentError, "format %s has no linear layout", desc.Format)
	}

	footprints := make([]PlacedSubresourceFootprint, numSubresources)
	numRows := make([]uint32, numSubresources)
	rowSizes := make([]uint64, numSubresources)

	offset := baseOffset
	var totalBytes uint64
	for i := uint32(0); i < numSubresources; i++ {
		subresource := firstSubresource + i
		mip := subresource % uint32(desc.MipLevels)
		width, height := desc.MipSize(mip)
		depth := uint32(1)
		if desc.Dimension == ResourceDimensionTexture3D {
			depth = max(uint32(desc.DepthOrArraySize)>>mip, 1)
		}

		blocksWide := (uint32(width) + layout.blockSize - 1) / layout.blockSize
		blocksHigh := (height + layout.blockSize - 1) / layout.blockSize
		rowSize := uint64(blocksWide) * uint64(layout.bytesPerBlock)
		rowPitch := memutils.AlignUp(rowSize, TextureDataPitchAlignment)

		offset = memutils.AlignUp(offset, TextureDataPlacementAlignment)
		footprints[i] = PlacedSubresourceFootprint{
			Offset: offset,
			Footprint: SubresourceFootprint{
				Format:   desc.Format,
				Width:    uint32(width),
				Height:   height,
				Depth:    depth,
				RowPitch: uint32(rowPitch),
			},
		}
		numRows[i] = blocksHigh
		rowSizes[i] = rowSize

		// The last row of the last slice is not padded
		subresourceSize := rowPitch*uint64(blocksHigh)*uint64(depth-1) + rowPitch*uint64(blocksHigh-1) + rowSize
		totalBytes = offset + subresourceSize - baseOffset
		offset += subresourceSize
	}

	return footprints, numRows, rowSizes, totalBytes, nil
}

// RequiredIntermediateSize is the size of the upload buffer UpdateSubresources needs for the given
// subresources of dst
func RequiredIntermediateSize(desc ResourceDesc, firstSubresource, numSubresources uint32) (uint64, error) {
	_, _, _, total, err := CopyableFootprints(desc, firstSubresource, numSubresources, 0)
	return total, err
}

// UpdateSubresources writes data into intermediate, an upload buffer, starting at intermediateOffset
// and records the copies from it into dst on list. It returns the number of bytes of intermediate used.
func UpdateSubresources(list CommandList, dst Resource, intermediate Resource, intermediateOffset uint64, firstSubresource uint32, data []SubresourceData) (uint64, error) {
	dstDesc := dst.Desc()
	footprints, numRows, rowSizes, total, err := CopyableFootprints(dstDesc, firstSubresource, uint32(len(data)), intermediateOffset)
	if err != nil {
		return 0, err
	}

	intermediateDesc := intermediate.Desc()
	if intermediateDesc.Dimension != ResourceDimensionBuffer || intermediateOffset+total > intermediateDesc.Width {
		return 0, errors.Wrapf(memutils.InvalidArgumentError, "intermediate buffer of %d bytes cannot hold %d bytes at offset %d", intermediateDesc.Width, total, intermediateOffset)
	}

	mapped, err := intermediate.Map()
	if err != nil {
		return 0, memutils.HostFailure(err, "Map")
	}

	for i, src := range data {
		footprint := footprints[i]
		rowPitch := uint64(footprint.Footprint.RowPitch)
		for z := uint32(0); z < footprint.Footprint.Depth; z++ {
			for row := uint32(0); row < numRows[i]; row++ {
				dstStart := footprint.Offset + uint64(z)*rowPitch*uint64(numRows[i]) + uint64(row)*rowPitch
				srcStart := z*uint32(src.SlicePitch) + row*uint32(src.RowPitch)
				if int(srcStart) >= len(src.Data) {
					break
				}
				srcEnd := min(uint64(srcStart)+rowSizes[i], uint64(len(src.Data)))
				copy(mapped[dstStart:dstStart+rowSizes[i]], src.Data[srcStart:srcEnd])
			}
		}
	}
	intermediate.Unmap()

	if dstDesc.Dimension == ResourceDimensionBuffer {
		list.CopyBufferRegion(dst, 0, intermediate, footprints[0].Offset, dstDesc.Width)
		return total, nil
	}

	for i := range data {
		footprint := footprints[i]
		list.CopyTextureRegion(
			TextureCopyLocation{Resource: dst, SubresourceIndex: firstSubresource + uint32(i)},
			0, 0, 0,
			TextureCopyLocation{Resource: intermediate, PlacedFootprint: &footprint},
		)
	}

	return total, nil
}
