package gpucore

import "github.com/gogpu/gputypes"

// Blending configures color blending. The zero value disables it.
type Blending struct {
	Enabled bool
	Color   gputypes.BlendComponent
	Alpha   gputypes.BlendComponent
}

// DepthTest configures the depth comparison. The zero value disables it.
type DepthTest struct {
	Enabled bool
	Compare gputypes.CompareFunction
}

// Scissor restricts rasterization to a rectangle when Enabled.
type Scissor struct {
	Enabled       bool
	X, Y          uint32
	Width, Height uint32
}

// RenderState is the toggleable pipeline configuration applied to draws.
//
// RenderState is a plain comparable value: two states are the same
// transition if and only if they compare equal with ==.
type RenderState struct {
	Blending   Blending
	Depth      DepthTest
	DepthWrite bool
	Cull       gputypes.CullMode
	FrontFace  gputypes.FrontFace
	Scissor    Scissor
	ColorWrite gputypes.ColorWriteMask
}

// Viewport maps normalized device coordinates to framebuffer pixels.
type Viewport struct {
	X, Y          float32
	Width, Height float32
	MinDepth      float32
	MaxDepth      float32
}

// ClearOp clears the bound framebuffer's attachments.
type ClearOp struct {
	ClearColor bool
	Color      gputypes.Color

	ClearDepth bool
	Depth      float32
}

// WithBlending returns a copy of s using b.
func (s RenderState) WithBlending(b Blending) RenderState {
	s.Blending = b
	return s
}

// WithDepthTest returns a copy of s comparing depth with f. Passing
// CompareFunctionUndefined disables the test.
func (s RenderState) WithDepthTest(f gputypes.CompareFunction) RenderState {
	s.Depth = DepthTest{Enabled: f != gputypes.CompareFunctionUndefined, Compare: f}
	return s
}

// WithDepthWrite returns a copy of s with depth writes set to on.
func (s RenderState) WithDepthWrite(on bool) RenderState {
	s.DepthWrite = on
	return s
}

// WithCulling returns a copy of s culling mode faces, front being the
// winding of front faces.
func (s RenderState) WithCulling(mode gputypes.CullMode, front gputypes.FrontFace) RenderState {
	s.Cull = mode
	s.FrontFace = front
	return s
}

// WithScissor returns a copy of s restricted to the given rectangle.
func (s RenderState) WithScissor(x, y, width, height uint32) RenderState {
	s.Scissor = Scissor{Enabled: true, X: x, Y: y, Width: width, Height: height}
	return s
}

// WithColorWrite returns a copy of s writing only the channels in m.
func (s RenderState) WithColorWrite(m gputypes.ColorWriteMask) RenderState {
	s.ColorWrite = m
	return s
}
