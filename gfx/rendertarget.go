package gfx

import (
	"github.com/afrcore/afrcore/gpu"
	"github.com/gogpu/gputypes"
)

// AttachmentPoint is a slot of a RenderTarget
type AttachmentPoint int

const (
	AttachmentPointColor0 AttachmentPoint = iota
	AttachmentPointColor1
	AttachmentPointColor2
	AttachmentPointColor3
	AttachmentPointColor4
	AttachmentPointColor5
	AttachmentPointColor6
	AttachmentPointColor7
	AttachmentPointDepthStencil

	NumAttachmentPoints = 9
)

// RenderTarget is a set of up to eight color textures and one depth-stencil texture
type RenderTarget struct {
	textures [NumAttachmentPoints]*Texture
	width    uint64
	height   uint32
}

// AttachTexture binds texture to point. A nil texture detaches whatever was there.
func (r *RenderTarget) AttachTexture(point AttachmentPoint, texture *Texture) {
	r.textures[point] = texture
	if texture != nil && texture.IsValid() {
		desc := texture.Desc()
		r.width = desc.Width
		r.height = desc.Height
	}
}

func (r *RenderTarget) Texture(point AttachmentPoint) *Texture {
	return r.textures[point]
}

// Textures returns every attachment, indexed by AttachmentPoint
func (r *RenderTarget) Textures() [NumAttachmentPoints]*Texture {
	return r.textures
}

func (r *RenderTarget) Size() (uint64, uint32) {
	return r.width, r.height
}

// Resize resizes every attached texture
func (r *RenderTarget) Resize(width uint64, height uint32) error {
	r.width = width
	r.height = height
	for _, texture := range r.textures {
		if texture == nil {
			continue
		}
		if err := texture.Resize(width, height); err != nil {
			return err
		}
	}
	return nil
}

// Viewport returns a viewport covering the render target, scaled and offset in normalized
// coordinates
func (r *RenderTarget) Viewport(scaleX, scaleY, biasX, biasY, minDepth, maxDepth float32) gpu.Viewport {
	width := float32(r.width)
	height := float32(r.height)
	return gpu.Viewport{
		TopLeftX: width * biasX,
		TopLeftY: height * biasY,
		Width:    width * scaleX,
		Height:   height * scaleY,
		MinDepth: minDepth,
		MaxDepth: maxDepth,
	}
}

// RenderTargetFormats returns the formats of the color attachments, with TextureFormatUndefined for
// empty slots
func (r *RenderTarget) RenderTargetFormats() [8]gputypes.TextureFormat {
	var formats [8]gputypes.TextureFormat
	for i := AttachmentPointColor0; i <= AttachmentPointColor7; i++ {
		if texture := r.textures[i]; texture != nil && texture.IsValid() {
			formats[i] = texture.Desc().Format
		}
	}
	return formats
}

func (r *RenderTarget) DepthStencilFormat() gputypes.TextureFormat {
	if texture := r.textures[AttachmentPointDepthStencil]; texture != nil && texture.IsValid() {
		return texture.Desc().Format
	}
	return gputypes.TextureFormatUndefined
}
