package gfx

import (
	"github.com/afrcore/afrcore/gpu"
	"github.com/afrcore/afrcore/memutils"
)

// GPUResource is anything backed by a gpu.Resource that a CommandList can transition and keep
// alive until its work completes
type GPUResource interface {
	Native() gpu.Resource
}

// ShaderResource is a resource that can be bound through a shader resource view
type ShaderResource interface {
	GPUResource
	// ShaderResourceView returns a CPU descriptor for the view described by desc. A nil desc
	// describes the whole resource in its own format.
	ShaderResourceView(desc *gpu.SRVDesc) (gpu.CPUDescriptorHandle, error)
}

// UnorderedAccessResource is a resource that can be bound through an unordered access view
type UnorderedAccessResource interface {
	GPUResource
	UnorderedAccessView(desc *gpu.UAVDesc) (gpu.CPUDescriptorHandle, error)
}

// Resource wraps a gpu.Resource together with the capabilities of its format, which are queried
// once when the resource is set. A Resource with no gpu.Resource is a null resource.
type Resource struct {
	device        *Device
	resource      gpu.Resource
	clearValue    *gpu.ClearValue
	formatSupport gpu.FormatSupport
}

var _ GPUResource = &Resource{}

func (r *Resource) setResource(device *Device, resource gpu.Resource, clearValue *gpu.ClearValue) error {
	r.device = device
	r.resource = resource
	r.clearValue = clearValue
	r.formatSupport = gpu.FormatSupport{}

	if resource == nil {
		return nil
	}

	support, err := device.gpu.CheckFormatSupport(resource.Desc().Format)
	if err != nil {
		return memutils.HostFailure(err, "CheckFormatSupport")
	}
	r.formatSupport = support
	return nil
}

func (r *Resource) Native() gpu.Resource { return r.resource }

// IsValid reports whether the resource is backed by a gpu.Resource
func (r *Resource) IsValid() bool { return r.resource != nil }

func (r *Resource) Desc() gpu.ResourceDesc {
	if r.resource == nil {
		return gpu.ResourceDesc{}
	}
	return r.resource.Desc()
}

func (r *Resource) Name() string {
	if r.resource == nil {
		return ""
	}
	return r.resource.Name()
}

func (r *Resource) SetName(name string) {
	if r.resource != nil {
		r.resource.SetName(name)
	}
}

// ClearValue is the optimized clear value the resource was created with, if any
func (r *Resource) ClearValue() *gpu.ClearValue { return r.clearValue }

func (r *Resource) FormatSupport() gpu.FormatSupport { return r.formatSupport }

func (r *Resource) CheckFormatSupport1(support gpu.FormatSupport1) bool {
	return r.formatSupport.Support1&support != 0
}

func (r *Resource) CheckFormatSupport2(support gpu.FormatSupport2) bool {
	return r.formatSupport.Support2&support != 0
}

func (r *Resource) CheckSRVSupport() bool {
	return r.CheckFormatSupport1(gpu.FormatSupport1ShaderSample)
}

func (r *Resource) CheckRTVSupport() bool {
	return r.CheckFormatSupport1(gpu.FormatSupport1RenderTarget)
}

// CheckUAVSupport reports whether the format supports typed UAV loads and stores
func (r *Resource) CheckUAVSupport() bool {
	return r.CheckFormatSupport1(gpu.FormatSupport1TypedUnorderedAccessView) &&
		r.CheckFormatSupport2(gpu.FormatSupport2UAVTypedLoad) &&
		r.CheckFormatSupport2(gpu.FormatSupport2UAVTypedStore)
}

func (r *Resource) CheckDSVSupport() bool {
	return r.CheckFormatSupport1(gpu.FormatSupport1DepthStencil)
}
