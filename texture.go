package lumen

import (
	"encoding/binary"
	"fmt"
	"image"
	"math"

	"github.com/gogpu/gputypes"
	"golang.org/x/image/draw"

	"github.com/gogpu/lumen/gpucore"
)

// Dim is the dimensionality of a texture.
type Dim = gpucore.TextureDim

// Texture dimensions. The array forms are layered.
const (
	Dim1D      = gpucore.TextureDim1D
	Dim2D      = gpucore.TextureDim2D
	Dim3D      = gpucore.TextureDim3D
	DimCube    = gpucore.TextureDimCube
	Dim1DArray = gpucore.TextureDim1DArray
	Dim2DArray = gpucore.TextureDim2DArray
)

// Wrap selects how texture coordinates outside [0, 1] are resolved.
type Wrap uint8

// Wrap modes.
const (
	WrapClampToEdge Wrap = iota
	WrapRepeat
	WrapMirroredRepeat
)

func (w Wrap) address() gputypes.AddressMode {
	switch w {
	case WrapRepeat:
		return gputypes.AddressModeRepeat
	case WrapMirroredRepeat:
		return gputypes.AddressModeMirrorRepeat
	default:
		return gputypes.AddressModeClampToEdge
	}
}

// Filter selects texel filtering.
type Filter uint8

// Filters. The zero value is linear filtering.
const (
	FilterLinear Filter = iota
	FilterNearest
)

func (f Filter) mode() gputypes.FilterMode {
	if f == FilterNearest {
		return gputypes.FilterModeNearest
	}
	return gputypes.FilterModeLinear
}

// Sampler configures how a texture is sampled. The zero value is
// clamp-to-edge with linear filtering and no depth comparison.
type Sampler struct {
	WrapS, WrapT, WrapR Wrap

	MinFilter    Filter
	MagFilter    Filter
	MipmapFilter Filter

	// DepthComparison enables comparison sampling of depth textures when
	// not CompareFunctionUndefined.
	DepthComparison gputypes.CompareFunction
}

// DefaultSampler returns clamp-to-edge sampling with linear filtering.
func DefaultSampler() Sampler { return Sampler{} }

func (s Sampler) state() gpucore.SamplerState {
	return gpucore.SamplerState{
		AddressU:     s.WrapS.address(),
		AddressV:     s.WrapT.address(),
		AddressW:     s.WrapR.address(),
		MinFilter:    s.MinFilter.mode(),
		MagFilter:    s.MagFilter.mode(),
		MipmapFilter: s.MipmapFilter.mode(),
		Compare:      s.DepthComparison,
	}
}

// Extent is a texture size in texels. Height is ignored for 1D textures
// and Depth is used only by 3D textures.
type Extent struct {
	Width, Height, Depth uint32
}

// TextureDesc describes a texture to create.
type TextureDesc struct {
	Label string
	Dim   Dim
	Size  Extent

	// Layers is the layer count of array textures.
	Layers uint32

	Format gputypes.TextureFormat

	// MipLevels is the number of mip levels. 0 allocates a full chain.
	MipLevels uint32

	// RenderTarget allows the texture to be a framebuffer attachment.
	RenderTarget bool

	Sampler Sampler
}

// Region addresses a box inside a mip level. Z is the depth slice of 3D
// textures and the layer of array and cube textures. A zero Width selects
// the whole level.
type Region struct {
	X, Y, Z               uint32
	Width, Height, Depth uint32
}

// Texture is a texel image with its sampler.
type Texture struct {
	handle
	info textureInfo
}

// CreateTexture allocates a texture.
func (c *Context) CreateTexture(desc TextureDesc) (*Texture, error) {
	if c.closed {
		return nil, ErrContextClosed
	}
	if err := c.checkFormat(desc.Format, desc.Dim); err != nil {
		return nil, err
	}
	size, err := c.textureExtent(desc)
	if err != nil {
		return nil, err
	}
	maxLevels := gpucore.MaxMipLevels(desc.Dim, size)
	levels := desc.MipLevels
	if levels == 0 {
		levels = maxLevels
	}
	if levels > maxLevels {
		return nil, fmt.Errorf("%w: %d mip levels for %dx%d", ErrInvalidDimensions, levels, size.Width, size.Height)
	}

	info := textureInfo{
		dim:          desc.Dim,
		size:         size,
		format:       desc.Format,
		levels:       levels,
		renderTarget: desc.RenderTarget,
		sampler:      desc.Sampler.state(),
	}
	id, err := c.backend.AllocateTexture(&gpucore.TextureDescriptor{
		Label:        desc.Label,
		Dim:          desc.Dim,
		Size:         size,
		Format:       desc.Format,
		MipLevels:    levels,
		RenderTarget: desc.RenderTarget,
		Sampler:      info.sampler,
	})
	if err != nil {
		texel, _ := gpucore.TexelSize(desc.Format)
		bytes := uint64(size.Width) * uint64(size.Height) * uint64(size.DepthOrArrayLayers) * uint64(texel)
		return nil, &AllocationError{Resource: "texture", Size: bytes, Err: err}
	}
	key := c.insert(kindTexture, uint64(id), desc.Label)
	e, _ := c.res.Get(key)
	e.tex = info
	return &Texture{handle: handle{ctx: c, key: key}, info: info}, nil
}

// checkFormat rejects formats that cannot back dim.
func (c *Context) checkFormat(f gputypes.TextureFormat, dim Dim) error {
	if f == gputypes.TextureFormatUndefined {
		return fmt.Errorf("%w: undefined format", ErrUnsupportedFormat)
	}
	if f.IsDepthStencil() && (dim == Dim3D || dim == Dim1D || dim == Dim1DArray) {
		return fmt.Errorf("%w: %v in a %v texture", ErrUnsupportedFormat, f, dim)
	}
	if _, ok := gpucore.TexelSize(f); !ok {
		return fmt.Errorf("%w: %v", ErrUnsupportedFormat, f)
	}
	if !c.backend.SupportsTexture(f, dim) {
		return fmt.Errorf("%w: %v %v on %s", ErrUnsupportedFormat, dim, f, c.backend.Name())
	}
	return nil
}

// textureExtent validates desc against the limits and returns the backend
// extent, with layers folded into DepthOrArrayLayers.
func (c *Context) textureExtent(desc TextureDesc) (gputypes.Extent3D, error) {
	l := c.backend.Limits()
	s := desc.Size
	bad := func(format string, args ...any) (gputypes.Extent3D, error) {
		return gputypes.Extent3D{}, fmt.Errorf("%w: "+format, append([]any{ErrInvalidDimensions}, args...)...)
	}
	if s.Width == 0 {
		return bad("zero width")
	}
	switch desc.Dim {
	case Dim1D, Dim1DArray:
		if s.Width > l.MaxTextureSize1D {
			return bad("width %d exceeds %d", s.Width, l.MaxTextureSize1D)
		}
		if desc.Dim == Dim1D {
			return gputypes.Extent3D{Width: s.Width, Height: 1, DepthOrArrayLayers: 1}, nil
		}
		if desc.Layers == 0 || desc.Layers > l.MaxTextureLayers {
			return bad("%d layers", desc.Layers)
		}
		return gputypes.Extent3D{Width: s.Width, Height: 1, DepthOrArrayLayers: desc.Layers}, nil
	case Dim2D, Dim2DArray, DimCube:
		if s.Height == 0 {
			return bad("zero height")
		}
		if s.Width > l.MaxTextureSize2D || s.Height > l.MaxTextureSize2D {
			return bad("%dx%d exceeds %d", s.Width, s.Height, l.MaxTextureSize2D)
		}
		switch desc.Dim {
		case DimCube:
			if s.Width != s.Height {
				return bad("cube faces %dx%d are not square", s.Width, s.Height)
			}
			return gputypes.Extent3D{Width: s.Width, Height: s.Height, DepthOrArrayLayers: 6}, nil
		case Dim2DArray:
			if desc.Layers == 0 || desc.Layers > l.MaxTextureLayers {
				return bad("%d layers", desc.Layers)
			}
			return gputypes.Extent3D{Width: s.Width, Height: s.Height, DepthOrArrayLayers: desc.Layers}, nil
		}
		return gputypes.Extent3D{Width: s.Width, Height: s.Height, DepthOrArrayLayers: 1}, nil
	case Dim3D:
		if s.Height == 0 || s.Depth == 0 {
			return bad("zero height or depth")
		}
		if s.Width > l.MaxTextureSize3D || s.Height > l.MaxTextureSize3D || s.Depth > l.MaxTextureSize3D {
			return bad("%dx%dx%d exceeds %d", s.Width, s.Height, s.Depth, l.MaxTextureSize3D)
		}
		return gputypes.Extent3D{Width: s.Width, Height: s.Height, DepthOrArrayLayers: s.Depth}, nil
	default:
		return bad("unknown dimension %v", desc.Dim)
	}
}

// Dim returns the texture dimension.
func (t *Texture) Dim() Dim { return t.info.dim }

// Format returns the texel format.
func (t *Texture) Format() gputypes.TextureFormat { return t.info.format }

// Levels returns the number of mip levels.
func (t *Texture) Levels() uint32 { return t.info.levels }

// Size returns the extent of level 0. Layers are reported in Depth for
// array and cube textures.
func (t *Texture) Size() Extent {
	s := t.info.size
	return Extent{Width: s.Width, Height: s.Height, Depth: s.DepthOrArrayLayers}
}

// LevelSize returns the extent of a mip level.
func (t *Texture) LevelSize(level uint32) Extent {
	s := gpucore.MipExtent(t.info.dim, t.info.size, level)
	return Extent{Width: s.Width, Height: s.Height, Depth: s.DepthOrArrayLayers}
}

// Sampler returns the sampler state the texture was created with.
func (t *Texture) Sampler() gpucore.SamplerState { return t.info.sampler }

func (t *Texture) id() (gpucore.TextureID, error) {
	e, err := t.ctx.lookup(t.handle)
	if err != nil {
		return 0, err
	}
	return gpucore.TextureID(e.id), nil
}

// Upload writes texels into region of a mip level. texels must be tightly
// packed rows of the texture format.
func (t *Texture) Upload(level uint32, region Region, texels []byte) error {
	id, err := t.id()
	if err != nil {
		return err
	}
	if level >= t.info.levels {
		return fmt.Errorf("%w: level %d of %d", ErrOutOfBounds, level, t.info.levels)
	}
	ext := gpucore.MipExtent(t.info.dim, t.info.size, level)
	if region.Width == 0 {
		region = Region{Width: ext.Width, Height: ext.Height, Depth: ext.DepthOrArrayLayers}
	}
	if region.Height == 0 {
		region.Height = 1
	}
	if region.Depth == 0 {
		region.Depth = 1
	}
	if uint64(region.X)+uint64(region.Width) > uint64(ext.Width) ||
		uint64(region.Y)+uint64(region.Height) > uint64(ext.Height) ||
		uint64(region.Z)+uint64(region.Depth) > uint64(ext.DepthOrArrayLayers) {
		return fmt.Errorf("%w: region %+v in level %d of %dx%dx%d",
			ErrOutOfBounds, region, level, ext.Width, ext.Height, ext.DepthOrArrayLayers)
	}
	texel, _ := gpucore.TexelSize(t.info.format)
	want := uint64(region.Width) * uint64(region.Height) * uint64(region.Depth) * uint64(texel)
	if uint64(len(texels)) != want {
		return fmt.Errorf("%w: %d bytes for a region of %d", ErrOutOfBounds, len(texels), want)
	}
	return backendErr("upload_texture", t.ctx.backend.UploadTexture(id, gpucore.TextureRegion{
		Level:  level,
		Origin: gputypes.Origin3D{X: region.X, Y: region.Y, Z: region.Z},
		Size:   gputypes.Extent3D{Width: region.Width, Height: region.Height, DepthOrArrayLayers: region.Depth},
	}, texels))
}

// UploadImage uploads img into level 0 of a 2D RGBA8 or BGRA8 texture and
// fills the remaining mip levels by bilinear downscaling. An image of a
// different size is scaled to the texture size.
func (t *Texture) UploadImage(img image.Image) error {
	if t.info.dim != Dim2D {
		return fmt.Errorf("%w: image upload into a %v texture", ErrUnsupportedFormat, t.info.dim)
	}
	swap := false
	switch t.info.format {
	case gputypes.TextureFormatRGBA8Unorm, gputypes.TextureFormatRGBA8UnormSrgb:
	case gputypes.TextureFormatBGRA8Unorm, gputypes.TextureFormatBGRA8UnormSrgb:
		swap = true
	default:
		return fmt.Errorf("%w: image upload into %v", ErrUnsupportedFormat, t.info.format)
	}

	src := img
	for level := uint32(0); level < t.info.levels; level++ {
		ext := gpucore.MipExtent(t.info.dim, t.info.size, level)
		dst := image.NewRGBA(image.Rect(0, 0, int(ext.Width), int(ext.Height)))
		if rgba, ok := src.(*image.RGBA); ok && rgba.Bounds() == dst.Bounds() {
			copy(dst.Pix, rgba.Pix)
		} else {
			draw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
		}
		pix := dst.Pix
		if swap {
			pix = swapRB(pix)
		}
		if err := t.Upload(level, Region{}, pix); err != nil {
			return err
		}
		src = dst
	}
	return nil
}

// swapRB converts between RGBA and BGRA byte order.
func swapRB(pix []byte) []byte {
	out := make([]byte, len(pix))
	for i := 0; i+3 < len(pix); i += 4 {
		out[i], out[i+1], out[i+2], out[i+3] = pix[i+2], pix[i+1], pix[i], pix[i+3]
	}
	return out
}

// Clear fills every level and layer with color. Depth formats take the
// red component as depth.
func (t *Texture) Clear(color gputypes.Color) error {
	px, err := encodeTexel(t.info.format, color)
	if err != nil {
		return err
	}
	for level := uint32(0); level < t.info.levels; level++ {
		ext := gpucore.MipExtent(t.info.dim, t.info.size, level)
		n := int(ext.Width) * int(ext.Height) * int(ext.DepthOrArrayLayers)
		data := make([]byte, 0, n*len(px))
		for i := 0; i < n; i++ {
			data = append(data, px...)
		}
		if err := t.Upload(level, Region{}, data); err != nil {
			return err
		}
	}
	return nil
}

// encodeTexel encodes one texel of color in format f.
func encodeTexel(f gputypes.TextureFormat, c gputypes.Color) ([]byte, error) {
	unorm := func(v float64) byte {
		return byte(math.Round(math.Max(0, math.Min(1, v)) * 255))
	}
	f32 := func(out []byte, vs ...float64) []byte {
		for _, v := range vs {
			out = binary.LittleEndian.AppendUint32(out, math.Float32bits(float32(v)))
		}
		return out
	}
	switch f {
	case gputypes.TextureFormatRGBA8Unorm, gputypes.TextureFormatRGBA8UnormSrgb:
		return []byte{unorm(c.R), unorm(c.G), unorm(c.B), unorm(c.A)}, nil
	case gputypes.TextureFormatBGRA8Unorm, gputypes.TextureFormatBGRA8UnormSrgb:
		return []byte{unorm(c.B), unorm(c.G), unorm(c.R), unorm(c.A)}, nil
	case gputypes.TextureFormatR8Unorm:
		return []byte{unorm(c.R)}, nil
	case gputypes.TextureFormatRG8Unorm:
		return []byte{unorm(c.R), unorm(c.G)}, nil
	case gputypes.TextureFormatR32Float, gputypes.TextureFormatDepth32Float:
		return f32(nil, c.R), nil
	case gputypes.TextureFormatRG32Float:
		return f32(nil, c.R, c.G), nil
	case gputypes.TextureFormatRGBA32Float:
		return f32(nil, c.R, c.G, c.B, c.A), nil
	default:
		return nil, fmt.Errorf("%w: clear of %v", ErrUnsupportedFormat, f)
	}
}
