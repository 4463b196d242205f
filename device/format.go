package device

import "github.com/gogpu/gputypes"

// BytesPerPixel returns the texel size of uncompressed color formats that
// textures can be uploaded in.
func BytesPerPixel(f gputypes.TextureFormat) (uint32, bool) {
	switch f {
	case gputypes.TextureFormatR8Unorm:
		return 1, true
	case gputypes.TextureFormatRG8Unorm:
		return 2, true
	case gputypes.TextureFormatRGBA8Unorm, gputypes.TextureFormatRGBA8UnormSrgb,
		gputypes.TextureFormatBGRA8Unorm, gputypes.TextureFormatBGRA8UnormSrgb,
		gputypes.TextureFormatR32Float, gputypes.TextureFormatRG16Float:
		return 4, true
	case gputypes.TextureFormatRGBA16Float, gputypes.TextureFormatRG32Float:
		return 8, true
	case gputypes.TextureFormatRGBA32Float:
		return 16, true
	}
	return 0, false
}

// CheckTextureDesc verifies sizes and mip data lengths of desc.
func CheckTextureDesc(desc *TextureDesc) error {
	bpp, ok := BytesPerPixel(desc.Format)
	if !ok {
		return errUnsupported("texture", desc.Name, desc.Format)
	}
	if desc.Width == 0 || desc.Height == 0 || len(desc.Mips) == 0 {
		return errEmpty("texture", desc.Name)
	}
	for level, pix := range desc.Mips {
		w, h := MipSize(desc.Width, desc.Height, uint32(level)) //nolint:gosec // G115: mip index is tiny
		if uint64(len(pix)) != uint64(w)*uint64(h)*uint64(bpp) {
			return errMipSize(desc.Name, level, len(pix), w*h*bpp)
		}
	}
	return nil
}

// ResolveFramebuffer looks up the render targets bound by fb and checks them
// against rp. It returns the framebuffer size.
func ResolveFramebuffer(rp *RenderPassDesc, fb *FramebufferDesc, lookup func(RenderTargetHandle) RenderTargetDesc) (width, height uint32, err error) {
	n := rp.ColorCount()
	colors := make([]RenderTargetDesc, 0, n)
	for i, h := range fb.Colors {
		switch {
		case i < n && !h.IsValid():
			return 0, 0, errMissingColor(fb.Name, i)
		case i >= n && h.IsValid():
			return 0, 0, errExtraColor(fb.Name, i, rp.Name)
		case h.IsValid():
			colors = append(colors, lookup(h))
		}
	}
	var depth *RenderTargetDesc
	if fb.DepthStencil.IsValid() {
		d := lookup(fb.DepthStencil)
		depth = &d
	}
	if err := CheckFramebuffer(rp, fb.Name, colors, depth); err != nil {
		return 0, 0, err
	}
	if len(colors) > 0 {
		return colors[0].Width, colors[0].Height, nil
	}
	return depth.Width, depth.Height, nil
}
