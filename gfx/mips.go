package gfx

import (
	"math/bits"

	"github.com/afrcore/afrcore/gpu"
	"github.com/afrcore/afrcore/memutils"
	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slog"
)

// mipPass is one dispatch of the mip generation pipeline
type mipPass struct {
	srcMip       uint32
	mipCount     uint32
	srcDimension uint32
	dstWidth     uint32
	dstHeight    uint32
}

// planMipPasses splits the mip chain of desc into dispatches of at most four mips. A pass stops
// early when a destination dimension becomes odd, since the shader can only average exact 2x2
// footprints past the first output mip.
func planMipPasses(desc gpu.ResourceDesc) []mipPass {
	var passes []mipPass
	mipLevels := uint32(desc.MipLevels)

	for srcMip := uint32(0); srcMip+1 < mipLevels; {
		srcWidth := uint32(desc.Width >> srcMip)
		srcHeight := desc.Height >> srcMip
		dstWidth := srcWidth >> 1
		dstHeight := srcHeight >> 1

		// Bit 0 is set for an odd width and bit 1 for an odd height
		srcDimension := (srcHeight&1)<<1 | (srcWidth & 1)

		widthBits := dstWidth
		if dstWidth == 1 {
			widthBits = dstHeight
		}
		heightBits := dstHeight
		if dstHeight == 1 {
			heightBits = dstWidth
		}
		mipCount := min(maxMipsPerPass, uint32(bits.TrailingZeros32(widthBits|heightBits))+1)
		if srcMip+mipCount >= mipLevels {
			mipCount = mipLevels - srcMip - 1
		}

		passes = append(passes, mipPass{
			srcMip:       srcMip,
			mipCount:     mipCount,
			srcDimension: srcDimension,
			dstWidth:     max(dstWidth, 1),
			dstHeight:    max(dstHeight, 1),
		})
		srcMip += mipCount
	}

	return passes
}

// GenerateMips fills every mip of texture below the first from the mip above it. The texture must
// be a single-sampled 2D texture with one array slice and more than one mip. Copy lists cannot
// dispatch, so they record into a compute list that the copy queue submits to the compute queue
// once the copy list's work is done.
//
// Textures that do not allow unordered access, or whose format cannot be written through a UAV,
// are copied into an aliased UAV-compatible resource and copied back afterwards.
func (l *CommandList) GenerateMips(texture *Texture) error {
	if l.listType == gpu.CommandListTypeCopy {
		if l.computeList == nil {
			computeList, err := l.device.CommandQueue(gpu.CommandListTypeCompute).GetCommandList()
			if err != nil {
				return err
			}
			l.computeList = computeList
		}
		return l.computeList.GenerateMips(texture)
	}

	resource := texture.Native()
	if resource == nil {
		return nil
	}

	desc := resource.Desc()
	if desc.Dimension != gpu.ResourceDimensionTexture2D || desc.DepthOrArraySize != 1 || desc.SampleCount > 1 {
		return errors.Wrapf(memutils.InvalidArgumentError, "mips can only be generated for single-sampled non-array 2D textures, not %q (%s, %d slices, %d samples)", texture.Name(), desc.Dimension, desc.DepthOrArraySize, desc.SampleCount)
	}
	if desc.MipLevels <= 1 {
		return errors.Wrapf(memutils.InvalidArgumentError, "texture %q has a single mip", texture.Name())
	}

	l.logger.Debug("CommandList::GenerateMips", slog.String("Texture", texture.Name()), slog.Int("MipLevels", int(desc.MipLevels)))

	if desc.Flags&gpu.ResourceFlagAllowUnorderedAccess != 0 && texture.CheckUAVSupport() {
		return l.generateMipsUAV(texture, IsSRGBFormat(desc.Format))
	}

	uavTexture, aliasTexture, err := l.createAliasedTextures(texture)
	if err != nil {
		return err
	}

	l.AliasingBarrier(nil, aliasTexture)
	if err := l.CopyResource(aliasTexture, texture); err != nil {
		return err
	}
	l.AliasingBarrier(aliasTexture, uavTexture)

	if err := l.generateMipsUAV(uavTexture, IsSRGBFormat(desc.Format)); err != nil {
		return err
	}

	l.AliasingBarrier(uavTexture, aliasTexture)
	return l.CopyResource(texture, aliasTexture)
}

// createAliasedTextures places two textures over the same heap memory: one with the texture's own
// format and one with a UAV-compatible format
func (l *CommandList) createAliasedTextures(texture *Texture) (*Texture, *Texture, error) {
	desc := texture.Desc()

	aliasDesc := desc
	aliasDesc.Flags |= gpu.ResourceFlagAllowUnorderedAccess
	aliasDesc.Flags &^= gpu.ResourceFlagAllowRenderTarget | gpu.ResourceFlagAllowDepthStencil | gpu.ResourceFlagDenyShaderResource

	uavDesc := aliasDesc
	uavDesc.Format = UAVCompatibleFormat(desc.Format)

	allocationInfo := l.device.gpu.ResourceAllocationInfo(aliasDesc, uavDesc)
	heap, err := l.device.gpu.CreateHeap(gpu.HeapDesc{
		SizeInBytes: allocationInfo.SizeInBytes,
		Type:        gpu.HeapTypeDefault,
		Alignment:   allocationInfo.Alignment,
	})
	if err != nil {
		return nil, nil, memutils.HostFailure(err, "CreateHeap")
	}
	l.TrackObject(heap)

	textures := make([]*Texture, 2)
	for i, placedDesc := range []gpu.ResourceDesc{uavDesc, aliasDesc} {
		resource, err := l.device.gpu.CreatePlacedResource(heap, 0, placedDesc, gpu.ResourceStateCommon, nil)
		if err != nil {
			return nil, nil, memutils.HostFailure(err, "CreatePlacedResource")
		}
		resource.SetName(texture.Name() + " mips alias")
		l.device.globalStates.AddGlobalResourceState(resource, gpu.ResourceStateCommon)

		textures[i] = &Texture{}
		l.transientTextures = append(l.transientTextures, textures[i])
		if err := textures[i].setTexture(l.device, resource, nil, texture.Usage()); err != nil {
			return nil, nil, err
		}
		l.trackResource(resource)
	}

	return textures[0], textures[1], nil
}

func (l *CommandList) generateMipsUAV(texture *Texture, isSRGB bool) error {
	pipeline, err := l.device.GenerateMipsPipeline()
	if err != nil {
		return err
	}

	l.SetPipelineState(pipeline.PipelineState())
	if err := l.SetComputeRootSignature(pipeline.RootSignature()); err != nil {
		return err
	}

	desc := texture.Desc()
	srvFormat := desc.Format
	var srgbConstant uint32
	if isSRGB {
		srvFormat = SRGBFormat(desc.Format)
		srgbConstant = 1
	}

	for _, pass := range planMipPasses(desc) {
		constants := generateMipsConstantsData{
			SrcMipLevel:  pass.srcMip,
			NumMipLevels: pass.mipCount,
			SrcDimension: pass.srcDimension,
			IsSRGB:       srgbConstant,
			TexelSize:    [2]float32{1 / float32(pass.dstWidth), 1 / float32(pass.dstHeight)},
		}
		l.SetCompute32BitConstants(generateMipsConstants, constants.values())

		srvDesc := &gpu.SRVDesc{
			Format:          srvFormat,
			ViewDimension:   gpu.ViewDimensionTexture2D,
			MostDetailedMip: 0,
			MipLevels:       uint32(desc.MipLevels),
		}
		err := l.SetShaderResourceView(generateMipsSrcMip, 0, texture, gpu.ResourceStateNonPixelShaderResource, pass.srcMip, 1, srvDesc)
		if err != nil {
			return err
		}

		for mip := uint32(0); mip < pass.mipCount; mip++ {
			uavDesc := &gpu.UAVDesc{
				Format:        desc.Format,
				ViewDimension: gpu.ViewDimensionTexture2D,
				MipSlice:      pass.srcMip + mip + 1,
			}
			err := l.SetUnorderedAccessView(generateMipsOutMip, mip, texture, gpu.ResourceStateUnorderedAccess, pass.srcMip+mip+1, 1, uavDesc)
			if err != nil {
				return err
			}
		}

		if pass.mipCount < maxMipsPerPass {
			err := l.dynamicHeaps[cbvSrvUavHeap].StageDescriptors(generateMipsOutMip, pass.mipCount, maxMipsPerPass-pass.mipCount, pipeline.DefaultUAV())
			if err != nil {
				return err
			}
		}

		if err := l.Dispatch(memutils.DivideRoundingUp(pass.dstWidth, 8), memutils.DivideRoundingUp(pass.dstHeight, 8), 1); err != nil {
			return err
		}
		l.UAVBarrier(texture)
	}

	return nil
}
