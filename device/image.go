package device

import (
	"image"

	"github.com/gogpu/gputypes"
	"golang.org/x/image/draw"
)

// TextureDescFromImage converts img to an sRGB RGBA8 texture description.
// With mips set, the full mip chain down to 1x1 is generated with a bilinear
// filter.
func TextureDescFromImage(img image.Image, name string, mips bool) TextureDesc {
	b := img.Bounds()
	base := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(base, base.Bounds(), img, b.Min, draw.Src)

	desc := TextureDesc{
		Width:  uint32(b.Dx()), //nolint:gosec // G115: image sizes are positive
		Height: uint32(b.Dy()), //nolint:gosec // G115: image sizes are positive
		Format: gputypes.TextureFormatRGBA8UnormSrgb,
		Mips:   [][]byte{base.Pix},
		Name:   name,
	}
	if !mips {
		return desc
	}

	prev := base
	w, h := b.Dx(), b.Dy()
	for w > 1 || h > 1 {
		w, h = max(1, w/2), max(1, h/2)
		level := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.BiLinear.Scale(level, level.Bounds(), prev, prev.Bounds(), draw.Src, nil)
		desc.Mips = append(desc.Mips, level.Pix)
		prev = level
	}
	return desc
}

// MipSize returns the dimensions of mip level of a width x height image.
func MipSize(width, height, level uint32) (uint32, uint32) {
	return max(1, width>>level), max(1, height>>level)
}
