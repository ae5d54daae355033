package gfx

import (
	"sync"

	"github.com/afrcore/afrcore/descriptor"
	"github.com/afrcore/afrcore/gpu"
	"github.com/afrcore/afrcore/memutils"
	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"golang.org/x/exp/slog"
)

// TextureUsage says what a texture holds, which decides the format a loaded image is given
type TextureUsage int

const (
	TextureUsageAlbedo TextureUsage = iota
	TextureUsageHeightmap
	TextureUsageNormalmap
	TextureUsageRenderTarget

	TextureUsageDiffuse = TextureUsageAlbedo
	TextureUsageDepth   = TextureUsageHeightmap
)

var textureUsageMapping = map[TextureUsage]string{
	TextureUsageAlbedo:       "Albedo",
	TextureUsageHeightmap:    "Heightmap",
	TextureUsageNormalmap:    "Normalmap",
	TextureUsageRenderTarget: "RenderTarget",
}

func (u TextureUsage) String() string {
	return textureUsageMapping[u]
}

type srvKey struct {
	desc  gpu.SRVDesc
	whole bool
}

type uavKey struct {
	desc  gpu.UAVDesc
	whole bool
}

// Texture is a texture resource with its render target and depth-stencil views. Shader resource
// and unordered access views are created on first use and cached by description.
type Texture struct {
	Resource
	usage  TextureUsage
	cached bool

	rtv *descriptor.Allocation
	dsv *descriptor.Allocation

	viewMutex sync.Mutex
	srvs      *swiss.Map[srvKey, *descriptor.Allocation]
	uavs      *swiss.Map[uavKey, *descriptor.Allocation]
}

var _ ShaderResource = &Texture{}
var _ UnorderedAccessResource = &Texture{}

func (t *Texture) Usage() TextureUsage { return t.usage }

func (t *Texture) SetUsage(usage TextureUsage) { t.usage = usage }

func (t *Texture) setTexture(device *Device, resource gpu.Resource, clearValue *gpu.ClearValue, usage TextureUsage) error {
	t.releaseViews()
	t.usage = usage
	if err := t.setResource(device, resource, clearValue); err != nil {
		return err
	}
	return t.createViews()
}

// createViews creates the render target and depth-stencil views the resource allows
func (t *Texture) createViews() error {
	if t.resource == nil {
		return nil
	}

	desc := t.resource.Desc()
	if desc.Flags&gpu.ResourceFlagAllowRenderTarget != 0 && t.CheckRTVSupport() {
		alloc, err := t.device.AllocateDescriptors(gpu.DescriptorHeapTypeRTV, 1)
		if err != nil {
			return err
		}
		t.device.gpu.CreateRenderTargetView(t.resource, nil, alloc.Descriptor(0))
		t.rtv = alloc
	}

	if desc.Flags&gpu.ResourceFlagAllowDepthStencil != 0 && t.CheckDSVSupport() {
		alloc, err := t.device.AllocateDescriptors(gpu.DescriptorHeapTypeDSV, 1)
		if err != nil {
			return err
		}
		t.device.gpu.CreateDepthStencilView(t.resource, nil, alloc.Descriptor(0))
		t.dsv = alloc
	}

	return nil
}

// RenderTargetView returns the texture's render target view, or a null handle when the texture
// cannot be used as a render target
func (t *Texture) RenderTargetView() gpu.CPUDescriptorHandle {
	if t.rtv == nil {
		return gpu.CPUDescriptorHandle{}
	}
	return t.rtv.Descriptor(0)
}

// DepthStencilView returns the texture's depth-stencil view, or a null handle when the texture
// cannot be used as a depth-stencil target
func (t *Texture) DepthStencilView() gpu.CPUDescriptorHandle {
	if t.dsv == nil {
		return gpu.CPUDescriptorHandle{}
	}
	return t.dsv.Descriptor(0)
}

func (t *Texture) ShaderResourceView(desc *gpu.SRVDesc) (gpu.CPUDescriptorHandle, error) {
	if t.resource == nil {
		return gpu.CPUDescriptorHandle{}, errors.Wrap(memutils.InvalidArgumentError, "shader resource view of a null texture")
	}

	key := srvKey{whole: desc == nil}
	if desc != nil {
		key.desc = *desc
	}

	t.viewMutex.Lock()
	defer t.viewMutex.Unlock()

	if t.srvs == nil {
		t.srvs = swiss.NewMap[srvKey, *descriptor.Allocation](4)
	}
	if alloc, ok := t.srvs.Get(key); ok {
		return alloc.Descriptor(0), nil
	}

	alloc, err := t.device.AllocateDescriptors(gpu.DescriptorHeapTypeCBVSRVUAV, 1)
	if err != nil {
		return gpu.CPUDescriptorHandle{}, err
	}
	t.device.gpu.CreateShaderResourceView(t.resource, desc, alloc.Descriptor(0))
	t.srvs.Put(key, alloc)
	return alloc.Descriptor(0), nil
}

func (t *Texture) UnorderedAccessView(desc *gpu.UAVDesc) (gpu.CPUDescriptorHandle, error) {
	if t.resource == nil {
		return gpu.CPUDescriptorHandle{}, errors.Wrap(memutils.InvalidArgumentError, "unordered access view of a null texture")
	}
	if t.resource.Desc().Flags&gpu.ResourceFlagAllowUnorderedAccess == 0 {
		return gpu.CPUDescriptorHandle{}, errors.Wrapf(memutils.InvalidArgumentError, "texture %q does not allow unordered access", t.Name())
	}

	key := uavKey{whole: desc == nil}
	if desc != nil {
		key.desc = *desc
	}

	t.viewMutex.Lock()
	defer t.viewMutex.Unlock()

	if t.uavs == nil {
		t.uavs = swiss.NewMap[uavKey, *descriptor.Allocation](4)
	}
	if alloc, ok := t.uavs.Get(key); ok {
		return alloc.Descriptor(0), nil
	}

	alloc, err := t.device.AllocateDescriptors(gpu.DescriptorHeapTypeCBVSRVUAV, 1)
	if err != nil {
		return gpu.CPUDescriptorHandle{}, err
	}
	t.device.gpu.CreateUnorderedAccessView(t.resource, desc, alloc.Descriptor(0))
	t.uavs.Put(key, alloc)
	return alloc.Descriptor(0), nil
}

// Resize replaces the texture's resource with one of the new size, keeping every other property.
// The old resource is unregistered and the new one registered in the COMMON state.
func (t *Texture) Resize(width uint64, height uint32) error {
	if t.resource == nil {
		return nil
	}

	desc := t.resource.Desc()
	desc.Width = max(width, 1)
	desc.Height = max(height, 1)
	if desc.SampleCount > 1 {
		desc.MipLevels = 1
	} else {
		desc.MipLevels = gpu.FullMipCount(desc.Width, desc.Height)
	}

	name := t.resource.Name()
	t.device.logger.Debug("Texture::Resize", slog.String("Name", name), slog.Uint64("Width", desc.Width), slog.Uint64("Height", uint64(desc.Height)))

	resource, err := t.device.gpu.CreateCommittedResource(gpu.HeapTypeDefault, desc, gpu.ResourceStateCommon, t.clearValue)
	if err != nil {
		return memutils.HostFailure(err, "CreateCommittedResource")
	}
	resource.SetName(name)

	t.device.globalStates.RemoveGlobalResourceState(t.resource)
	t.device.globalStates.AddGlobalResourceState(resource, gpu.ResourceStateCommon)
	t.cached = false

	return t.setTexture(t.device, resource, t.clearValue, t.usage)
}

func (t *Texture) releaseViews() {
	if t.device == nil {
		return
	}

	frame := t.device.CurrentFrame()
	for _, alloc := range []*descriptor.Allocation{t.rtv, t.dsv} {
		if alloc != nil {
			alloc.Free(frame)
		}
	}
	t.rtv = nil
	t.dsv = nil

	t.viewMutex.Lock()
	defer t.viewMutex.Unlock()

	if t.srvs != nil {
		t.srvs.Iter(func(key srvKey, alloc *descriptor.Allocation) bool {
			alloc.Free(frame)
			return false
		})
		t.srvs.Clear()
	}
	if t.uavs != nil {
		t.uavs.Iter(func(key uavKey, alloc *descriptor.Allocation) bool {
			alloc.Free(frame)
			return false
		})
		t.uavs.Clear()
	}
}

// Release frees the texture's views at the device's current frame. Textures that do not share
// their resource with the texture cache are also removed from the global state map.
func (t *Texture) Release() {
	if t.resource == nil {
		return
	}

	t.releaseViews()
	if !t.cached {
		t.device.globalStates.RemoveGlobalResourceState(t.resource)
	}
	t.resource = nil
}
