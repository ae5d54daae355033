package gfx

import (
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sync"

	"github.com/afrcore/afrcore/gpu"
	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/gogpu/gputypes"
	"github.com/mitchellh/go-homedir"
	"golang.org/x/exp/slog"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// TextureCache shares the resources of textures loaded from disk. Entries are keyed by absolute
// path and are never replaced once inserted.
type TextureCache struct {
	logger *slog.Logger
	device *Device

	mutex   sync.Mutex
	entries *swiss.Map[string, gpu.Resource]
}

func newTextureCache(device *Device) *TextureCache {
	return &TextureCache{
		logger:  device.logger,
		device:  device,
		entries: swiss.NewMap[string, gpu.Resource](16),
	}
}

// Count is the number of cached textures
func (c *TextureCache) Count() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return c.entries.Count()
}

// Contains reports whether the texture at path has been loaded
func (c *TextureCache) Contains(path string) bool {
	absPath, err := texturePath(path)
	if err != nil {
		return false
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	_, ok := c.entries.Get(absPath)
	return ok
}

// Clear drops every cached resource and removes it from the global state map
func (c *TextureCache) Clear() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.entries.Iter(func(path string, resource gpu.Resource) bool {
		c.device.globalStates.RemoveGlobalResourceState(resource)
		return false
	})
	c.entries.Clear()
}

func texturePath(path string) (string, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return "", errors.Wrapf(err, "expanding texture path %q", path)
	}
	absPath, err := filepath.Abs(expanded)
	if err != nil {
		return "", errors.Wrapf(err, "resolving texture path %q", path)
	}
	return absPath, nil
}

func decodeImage(path string) (*image.NRGBA, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening texture %q", path)
	}
	defer file.Close()

	decoded, _, err := image.Decode(file)
	if err != nil {
		return nil, errors.Wrapf(err, "decoding texture %q", path)
	}

	if nrgba, ok := decoded.(*image.NRGBA); ok && nrgba.Rect.Min == (image.Point{}) {
		return nrgba, nil
	}

	bounds := decoded.Bounds()
	nrgba := image.NewNRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(nrgba, nrgba.Bounds(), decoded, bounds.Min, draw.Src)
	return nrgba, nil
}

// load returns a texture for the image at path, decoding and uploading it with list the first time
// the path is seen. The cache lock is held for the whole load so concurrent loads of one path
// upload it once.
func (c *TextureCache) load(list *CommandList, path string, usage TextureUsage) (*Texture, error) {
	absPath, err := texturePath(path)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(absPath); err != nil {
		return nil, errors.Wrapf(err, "texture %q", path)
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	texture := &Texture{}
	if resource, ok := c.entries.Get(absPath); ok {
		if err := texture.setTexture(c.device, resource, nil, usage); err != nil {
			return nil, err
		}
		texture.cached = true
		return texture, nil
	}

	pixels, err := decodeImage(absPath)
	if err != nil {
		return nil, err
	}

	format := gputypes.TextureFormatRGBA8Unorm
	if usage == TextureUsageAlbedo {
		format = SRGBFormat(format)
	}

	// A full chain is only allocated when there is a pipeline to fill it
	var mipLevels uint16 = 1
	if len(c.device.options.GenerateMipsShader) > 0 {
		mipLevels = 0
	}

	size := pixels.Rect.Size()
	desc := gpu.Tex2DDesc(format, uint64(size.X), uint32(size.Y), 1, mipLevels, gpu.ResourceFlagNone)
	resource, err := c.device.createCommitted(desc, nil, filepath.Base(absPath))
	if err != nil {
		return nil, err
	}
	if err := texture.setTexture(c.device, resource, nil, usage); err != nil {
		return nil, err
	}

	err = list.CopyTextureSubresource(texture, 0, []gpu.SubresourceData{
		{Data: pixels.Pix, RowPitch: pixels.Stride, SlicePitch: len(pixels.Pix)},
	})
	if err != nil {
		return nil, err
	}

	if desc.MipLevels > 1 {
		if err := list.GenerateMips(texture); err != nil {
			return nil, err
		}
	}

	texture.cached = true
	c.entries.Put(absPath, resource)

	c.logger.Debug("TextureCache::Load",
		slog.String("Path", absPath),
		slog.String("Format", format.String()),
		slog.Int("Width", size.X),
		slog.Int("Height", size.Y),
		slog.Int("MipLevels", int(desc.MipLevels)))

	return texture, nil
}

// LoadTextureFromFile returns a texture holding the image at path. The first load of a path
// records its upload, and its mip generation when a mip shader is configured, into the list; later
// loads share the cached resource. Albedo textures are given an sRGB format.
func (l *CommandList) LoadTextureFromFile(path string, usage TextureUsage) (*Texture, error) {
	return l.device.textures.load(l, path, usage)
}
