package lumen

import (
	"github.com/gogpu/gputypes"

	"github.com/gogpu/lumen/gpucore"
)

// RenderState is the blending, depth, culling and scissor configuration
// of draws in a RenderGate. It is a comparable value.
type RenderState = gpucore.RenderState

// Blending configures color blending. The zero value disables it.
type Blending = gpucore.Blending

// DepthTest configures the depth comparison. The zero value disables it.
type DepthTest = gpucore.DepthTest

// Scissor restricts rasterization to a rectangle when Enabled.
type Scissor = gpucore.Scissor

// Viewport maps normalized device coordinates to framebuffer pixels.
type Viewport = gpucore.Viewport

// DefaultRenderState returns opaque rendering with a less-than depth test,
// depth writes and back-face culling of counter-clockwise front faces.
func DefaultRenderState() RenderState {
	return RenderState{
		Depth:      DepthTest{Enabled: true, Compare: gputypes.CompareFunctionLess},
		DepthWrite: true,
		Cull:       gputypes.CullModeBack,
		FrontFace:  gputypes.FrontFaceCCW,
		ColorWrite: gputypes.ColorWriteMaskAll,
	}
}

// AlphaBlending returns source-over blending of non-premultiplied colors.
func AlphaBlending() Blending {
	s := gputypes.BlendStateAlpha()
	return Blending{Enabled: true, Color: s.Color, Alpha: s.Alpha}
}

// PremultipliedBlending returns source-over blending of premultiplied colors.
func PremultipliedBlending() Blending {
	s := gputypes.BlendStatePremultiplied()
	return Blending{Enabled: true, Color: s.Color, Alpha: s.Alpha}
}

// PipelineState configures a PipelineGate.
type PipelineState struct {
	// ClearColor is written to every color attachment when ClearColorEnabled.
	ClearColor        gputypes.Color
	ClearColorEnabled bool

	// ClearDepth is written to the depth attachment when ClearDepthEnabled.
	ClearDepth        float32
	ClearDepthEnabled bool

	// Viewport is the drawn area. The zero value covers the framebuffer.
	Viewport Viewport
}

// DefaultPipelineState clears color to opaque black and depth to 1.
func DefaultPipelineState() PipelineState {
	return PipelineState{
		ClearColor:        gputypes.Color{A: 1},
		ClearColorEnabled: true,
		ClearDepth:        1,
		ClearDepthEnabled: true,
	}
}

// viewport resolves the configured viewport against the framebuffer size.
func (ps PipelineState) viewport(width, height uint32) Viewport {
	v := ps.Viewport
	if v.Width == 0 || v.Height == 0 {
		return Viewport{Width: float32(width), Height: float32(height), MaxDepth: 1}
	}
	if v.MinDepth == 0 && v.MaxDepth == 0 {
		v.MaxDepth = 1
	}
	return v
}
