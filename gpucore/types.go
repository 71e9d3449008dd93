package gpucore

import (
	"fmt"

	"github.com/gogpu/gputypes"
)

// Resource IDs
//
// These opaque IDs represent backend objects. Each backend implementation
// maintains a mapping between IDs and actual native resources.
// IDs are uint64 to accommodate various backend handle sizes.

// BufferID is an opaque handle to a backend buffer.
type BufferID uint64

// TextureID is an opaque handle to a backend texture (with its sampler).
type TextureID uint64

// StageID is an opaque handle to a compiled shader stage.
type StageID uint64

// ProgramID is an opaque handle to a linked shader program.
type ProgramID uint64

// FramebufferID is an opaque handle to a framebuffer.
// The zero value names the default framebuffer.
type FramebufferID uint64

// InvalidID is the zero value, representing an invalid/null resource.
const InvalidID = 0

// DefaultFramebuffer is the framebuffer backed by the surface.
const DefaultFramebuffer FramebufferID = 0

// BufferTarget is the binding point a buffer is attached to.
type BufferTarget uint8

// Buffer targets.
const (
	// TargetVertex binds per-vertex attribute data.
	TargetVertex BufferTarget = iota
	// TargetInstance binds per-instance attribute data.
	TargetInstance
	// TargetIndex binds index data.
	TargetIndex
	// TargetUniform binds uniform block data.
	TargetUniform
)

// String returns the target name.
func (t BufferTarget) String() string {
	switch t {
	case TargetVertex:
		return "Vertex"
	case TargetInstance:
		return "Instance"
	case TargetIndex:
		return "Index"
	case TargetUniform:
		return "Uniform"
	default:
		return fmt.Sprintf("Unknown(%d)", int(t))
	}
}

// BufferDescriptor describes a buffer allocation.
type BufferDescriptor struct {
	// Label is an optional debug label.
	Label string

	// Size is the allocation size in bytes.
	Size uint64

	// Usage describes how the buffer will be bound.
	Usage gputypes.BufferUsage
}

// TextureDim is the dimensionality of a texture, including layering.
type TextureDim uint8

// Texture dimensions.
const (
	TextureDim1D TextureDim = iota
	TextureDim2D
	TextureDim3D
	TextureDimCube
	TextureDim1DArray
	TextureDim2DArray
)

// String returns the dimension name.
func (d TextureDim) String() string {
	switch d {
	case TextureDim1D:
		return "1D"
	case TextureDim2D:
		return "2D"
	case TextureDim3D:
		return "3D"
	case TextureDimCube:
		return "Cube"
	case TextureDim1DArray:
		return "1DArray"
	case TextureDim2DArray:
		return "2DArray"
	default:
		return fmt.Sprintf("Unknown(%d)", int(d))
	}
}

// Layered reports whether the dimension stores array layers.
func (d TextureDim) Layered() bool {
	return d == TextureDim1DArray || d == TextureDim2DArray
}

// Storage returns the gputypes storage dimension backing d.
func (d TextureDim) Storage() gputypes.TextureDimension {
	switch d {
	case TextureDim1D, TextureDim1DArray:
		return gputypes.TextureDimension1D
	case TextureDim3D:
		return gputypes.TextureDimension3D
	default:
		return gputypes.TextureDimension2D
	}
}

// View returns the gputypes view dimension used to sample d.
func (d TextureDim) View() gputypes.TextureViewDimension {
	switch d {
	case TextureDim1D, TextureDim1DArray:
		return gputypes.TextureViewDimension1D
	case TextureDim3D:
		return gputypes.TextureViewDimension3D
	case TextureDimCube:
		return gputypes.TextureViewDimensionCube
	case TextureDim2DArray:
		return gputypes.TextureViewDimension2DArray
	default:
		return gputypes.TextureViewDimension2D
	}
}

// SamplerState configures how a texture is sampled.
// It is comparable so backends can share samplers with equal state.
type SamplerState struct {
	AddressU, AddressV, AddressW gputypes.AddressMode

	MinFilter    gputypes.FilterMode
	MagFilter    gputypes.FilterMode
	MipmapFilter gputypes.FilterMode

	// Compare enables depth comparison when not Undefined.
	Compare gputypes.CompareFunction
}

// TextureDescriptor describes a texture allocation.
type TextureDescriptor struct {
	Label string

	Dim TextureDim

	// Size holds width, height and depth (3D) or layer count (arrays, cube = 6).
	Size gputypes.Extent3D

	Format gputypes.TextureFormat

	// MipLevels is the number of mip levels, at least 1.
	MipLevels uint32

	// RenderTarget marks textures usable as framebuffer attachments.
	RenderTarget bool

	Sampler SamplerState
}

// TextureRegion addresses a box inside one mip level of a texture.
type TextureRegion struct {
	Level  uint32
	Origin gputypes.Origin3D
	Size   gputypes.Extent3D
}

// StageKind identifies a programmable pipeline position.
type StageKind uint8

// Shader stage kinds.
const (
	StageVertex StageKind = iota
	StageFragment
	StageGeometry
	StageTessControl
	StageTessEval
)

// String returns the stage name.
func (k StageKind) String() string {
	switch k {
	case StageVertex:
		return "vertex"
	case StageFragment:
		return "fragment"
	case StageGeometry:
		return "geometry"
	case StageTessControl:
		return "tessellation control"
	case StageTessEval:
		return "tessellation evaluation"
	default:
		return fmt.Sprintf("Unknown(%d)", int(k))
	}
}

// StageDescriptor describes a shader stage to compile.
type StageDescriptor struct {
	Label  string
	Kind   StageKind
	Source string
}

// ProgramDescriptor lists the compiled stages to link.
// Optional stages are InvalidID when absent.
type ProgramDescriptor struct {
	Label       string
	Vertex      StageID
	Fragment    StageID
	Geometry    StageID
	TessControl StageID
	TessEval    StageID
}

// FramebufferDescriptor describes a framebuffer's attachments.
type FramebufferDescriptor struct {
	Label string
	Color []TextureID
	Depth TextureID
}

// FramebufferStatus is the completeness status reported by a backend.
type FramebufferStatus uint8

// Framebuffer statuses.
const (
	FramebufferComplete FramebufferStatus = iota
	FramebufferMissingAttachment
	FramebufferDimensionMismatch
	FramebufferUnsupported
	FramebufferUnknown
)

// String returns the status name.
func (s FramebufferStatus) String() string {
	switch s {
	case FramebufferComplete:
		return "Complete"
	case FramebufferMissingAttachment:
		return "MissingAttachment"
	case FramebufferDimensionMismatch:
		return "DimensionMismatch"
	case FramebufferUnsupported:
		return "Unsupported"
	case FramebufferUnknown:
		return "Unknown"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// VertexBuffer is a vertex or instance buffer bound for a draw, with the
// layout the backend needs to fetch attributes from it.
type VertexBuffer struct {
	Buffer BufferID
	Layout gputypes.VertexBufferLayout
}

// DrawCall describes one draw against the currently bound state.
type DrawCall struct {
	Topology gputypes.PrimitiveTopology

	// Buffers lists vertex and instance buffers in slot order.
	Buffers []VertexBuffer

	// Indexed draws read IndexFormat indices from the bound index buffer.
	Indexed     bool
	IndexFormat gputypes.IndexFormat

	// RestartIndex enables primitive restart when Restart is set.
	Restart      bool
	RestartIndex uint32

	First         uint32
	Count         uint32
	InstanceCount uint32
}

// Limits reports backend capacities the core validates against.
type Limits struct {
	MaxTextureSize1D    uint32
	MaxTextureSize2D    uint32
	MaxTextureSize3D    uint32
	MaxTextureLayers    uint32
	MaxTextureUnits     uint32
	MaxVertexBuffers    uint32
	MaxColorAttachments uint32
}

// DefaultLimits returns limits derived from the WebGPU defaults.
func DefaultLimits() Limits {
	l := gputypes.DefaultLimits()
	return Limits{
		MaxTextureSize1D:    l.MaxTextureDimension1D,
		MaxTextureSize2D:    l.MaxTextureDimension2D,
		MaxTextureSize3D:    l.MaxTextureDimension3D,
		MaxTextureLayers:    l.MaxTextureArrayLayers,
		MaxTextureUnits:     l.MaxSampledTexturesPerShaderStage,
		MaxVertexBuffers:    l.MaxVertexBuffers,
		MaxColorAttachments: l.MaxColorAttachments,
	}
}

// TexelSize returns the byte size of one texel of an uncompressed format.
// It reports false for compressed and undefined formats.
func TexelSize(f gputypes.TextureFormat) (uint32, bool) {
	switch f {
	case gputypes.TextureFormatR8Unorm, gputypes.TextureFormatR8Snorm,
		gputypes.TextureFormatR8Uint, gputypes.TextureFormatR8Sint,
		gputypes.TextureFormatStencil8:
		return 1, true
	case gputypes.TextureFormatR16Unorm, gputypes.TextureFormatR16Snorm,
		gputypes.TextureFormatR16Uint, gputypes.TextureFormatR16Sint,
		gputypes.TextureFormatR16Float, gputypes.TextureFormatRG8Unorm,
		gputypes.TextureFormatRG8Snorm, gputypes.TextureFormatRG8Uint,
		gputypes.TextureFormatRG8Sint, gputypes.TextureFormatDepth16Unorm:
		return 2, true
	case gputypes.TextureFormatR32Float, gputypes.TextureFormatR32Uint,
		gputypes.TextureFormatR32Sint, gputypes.TextureFormatRG16Unorm,
		gputypes.TextureFormatRG16Snorm, gputypes.TextureFormatRG16Uint,
		gputypes.TextureFormatRG16Sint, gputypes.TextureFormatRG16Float,
		gputypes.TextureFormatRGBA8Unorm, gputypes.TextureFormatRGBA8UnormSrgb,
		gputypes.TextureFormatRGBA8Snorm, gputypes.TextureFormatRGBA8Uint,
		gputypes.TextureFormatRGBA8Sint, gputypes.TextureFormatBGRA8Unorm,
		gputypes.TextureFormatBGRA8UnormSrgb, gputypes.TextureFormatRGB10A2Uint,
		gputypes.TextureFormatRGB10A2Unorm, gputypes.TextureFormatRG11B10Ufloat,
		gputypes.TextureFormatRGB9E5Ufloat, gputypes.TextureFormatDepth24Plus,
		gputypes.TextureFormatDepth24PlusStencil8, gputypes.TextureFormatDepth32Float:
		return 4, true
	case gputypes.TextureFormatRG32Float, gputypes.TextureFormatRG32Uint,
		gputypes.TextureFormatRG32Sint, gputypes.TextureFormatRGBA16Unorm,
		gputypes.TextureFormatRGBA16Snorm, gputypes.TextureFormatRGBA16Uint,
		gputypes.TextureFormatRGBA16Sint, gputypes.TextureFormatRGBA16Float,
		gputypes.TextureFormatDepth32FloatStencil8:
		return 8, true
	case gputypes.TextureFormatRGBA32Float, gputypes.TextureFormatRGBA32Uint,
		gputypes.TextureFormatRGBA32Sint:
		return 16, true
	default:
		return 0, false
	}
}

// MipExtent returns the size of mip level of a texture of the given base
// size. Array layers are not reduced; depth shrinks only for 3D textures.
func MipExtent(dim TextureDim, size gputypes.Extent3D, level uint32) gputypes.Extent3D {
	shrink := func(v uint32) uint32 {
		v >>= level
		if v == 0 {
			return 1
		}
		return v
	}
	e := gputypes.Extent3D{Width: shrink(size.Width), Height: size.Height, DepthOrArrayLayers: size.DepthOrArrayLayers}
	if dim != TextureDim1D && dim != TextureDim1DArray {
		e.Height = shrink(size.Height)
	}
	if dim == TextureDim3D {
		e.DepthOrArrayLayers = shrink(size.DepthOrArrayLayers)
	}
	return e
}

// MaxMipLevels returns the length of a full mip chain for size.
func MaxMipLevels(dim TextureDim, size gputypes.Extent3D) uint32 {
	m := size.Width
	if dim != TextureDim1D && dim != TextureDim1DArray && size.Height > m {
		m = size.Height
	}
	if dim == TextureDim3D && size.DepthOrArrayLayers > m {
		m = size.DepthOrArrayLayers
	}
	var n uint32 = 1
	for m > 1 {
		m >>= 1
		n++
	}
	return n
}
