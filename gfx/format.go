package gfx

import "github.com/gogpu/gputypes"

// IsUAVCompatibleFormat reports whether every device is required to support typed UAV loads and
// stores for format
func IsUAVCompatibleFormat(format gputypes.TextureFormat) bool {
	switch format {
	case gputypes.TextureFormatRGBA32Float,
		gputypes.TextureFormatRGBA32Uint,
		gputypes.TextureFormatRGBA32Sint,
		gputypes.TextureFormatRGBA16Float,
		gputypes.TextureFormatRGBA16Uint,
		gputypes.TextureFormatRGBA16Sint,
		gputypes.TextureFormatRGBA8Unorm,
		gputypes.TextureFormatRGBA8Uint,
		gputypes.TextureFormatRGBA8Sint,
		gputypes.TextureFormatR32Float,
		gputypes.TextureFormatR32Uint,
		gputypes.TextureFormatR32Sint,
		gputypes.TextureFormatR16Float,
		gputypes.TextureFormatR16Uint,
		gputypes.TextureFormatR16Sint,
		gputypes.TextureFormatR8Unorm,
		gputypes.TextureFormatR8Uint,
		gputypes.TextureFormatR8Sint:
		return true
	}
	return false
}

func IsSRGBFormat(format gputypes.TextureFormat) bool {
	return format.IsSrgb()
}

func IsBGRFormat(format gputypes.TextureFormat) bool {
	return format == gputypes.TextureFormatBGRA8Unorm || format == gputypes.TextureFormatBGRA8UnormSrgb
}

func IsDepthFormat(format gputypes.TextureFormat) bool {
	return format.HasDepth()
}

var srgbFormats = map[gputypes.TextureFormat]gputypes.TextureFormat{
	gputypes.TextureFormatRGBA8Unorm:     gputypes.TextureFormatRGBA8UnormSrgb,
	gputypes.TextureFormatBGRA8Unorm:     gputypes.TextureFormatBGRA8UnormSrgb,
	gputypes.TextureFormatBC1RGBAUnorm:   gputypes.TextureFormatBC1RGBAUnormSrgb,
	gputypes.TextureFormatBC2RGBAUnorm:   gputypes.TextureFormatBC2RGBAUnormSrgb,
	gputypes.TextureFormatBC3RGBAUnorm:   gputypes.TextureFormatBC3RGBAUnormSrgb,
	gputypes.TextureFormatBC7RGBAUnorm:   gputypes.TextureFormatBC7RGBAUnormSrgb,
	gputypes.TextureFormatETC2RGB8Unorm:  gputypes.TextureFormatETC2RGB8UnormSrgb,
	gputypes.TextureFormatETC2RGBA8Unorm: gputypes.TextureFormatETC2RGBA8UnormSrgb,
}

// SRGBFormat returns the sRGB variant of format, or format itself when it has none
func SRGBFormat(format gputypes.TextureFormat) gputypes.TextureFormat {
	if srgb, ok := srgbFormats[format]; ok {
		return srgb
	}
	return format
}

// UAVCompatibleFormat returns a format with the same memory layout as format that can be written
// through an unordered access view
func UAVCompatibleFormat(format gputypes.TextureFormat) gputypes.TextureFormat {
	switch format {
	case gputypes.TextureFormatRGBA8UnormSrgb,
		gputypes.TextureFormatBGRA8Unorm,
		gputypes.TextureFormatBGRA8UnormSrgb:
		return gputypes.TextureFormatRGBA8Unorm
	case gputypes.TextureFormatDepth32Float:
		return gputypes.TextureFormatR32Float
	}
	return format
}
