package lumen

import (
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/lumen/gpucore"
	"github.com/gogpu/lumen/internal/arena"
)

// FramebufferDesc lists the attachments of a framebuffer.
type FramebufferDesc struct {
	Label string
	Color []*Texture
	Depth *Texture

	// DepthOnly allows a framebuffer without color attachments.
	DepthOnly bool
}

// Framebuffer is a render target made of attachment textures.
//
// The framebuffer retains its attachments; releasing an attachment
// texture does not destroy it while the framebuffer is alive.
type Framebuffer struct {
	handle
	color     []arena.Key
	depth     arena.Key
	depthOnly bool

	colorTex []*Texture
	depthTex *Texture
}

// CreateFramebuffer creates a framebuffer over existing textures.
// Attachment consistency is checked when a pipeline opens on it.
func (c *Context) CreateFramebuffer(desc FramebufferDesc) (*Framebuffer, error) {
	if c.closed {
		return nil, ErrContextClosed
	}
	fb := &Framebuffer{handle: handle{ctx: c}, depthOnly: desc.DepthOnly}
	bd := gpucore.FramebufferDescriptor{Label: desc.Label}
	for _, t := range desc.Color {
		if t == nil {
			return nil, fmt.Errorf("%w: nil color attachment", ErrFramebufferIncomplete)
		}
		e, err := c.lookup(t.handle)
		if err != nil {
			return nil, err
		}
		fb.color = append(fb.color, t.key)
		bd.Color = append(bd.Color, gpucore.TextureID(e.id))
	}
	if desc.Depth != nil {
		e, err := c.lookup(desc.Depth.handle)
		if err != nil {
			return nil, err
		}
		fb.depth = desc.Depth.key
		bd.Depth = gpucore.TextureID(e.id)
	}

	id, err := c.backend.CreateFramebuffer(&bd)
	if err != nil {
		return nil, &AllocationError{Resource: "framebuffer", Err: err}
	}
	deps := append([]arena.Key(nil), fb.color...)
	if !fb.depth.IsZero() {
		deps = append(deps, fb.depth)
	}
	for _, k := range deps {
		_ = c.retain(k)
	}
	fb.key = c.insert(kindFramebuffer, uint64(id), desc.Label, deps...)
	fb.colorTex = append([]*Texture(nil), desc.Color...)
	fb.depthTex = desc.Depth
	return fb, nil
}

// NewFramebuffer allocates a framebuffer of the given size with one
// render-target texture per color format and an optional depth texture
// (TextureFormatUndefined for none).
func (c *Context) NewFramebuffer(width, height uint32, color []gputypes.TextureFormat, depth gputypes.TextureFormat) (*Framebuffer, error) {
	var owned []*Texture
	cleanup := func() {
		for _, t := range owned {
			_ = t.Release()
		}
	}
	desc := FramebufferDesc{DepthOnly: len(color) == 0}
	for _, f := range color {
		t, err := c.CreateTexture(TextureDesc{
			Dim:          Dim2D,
			Size:         Extent{Width: width, Height: height},
			Format:       f,
			MipLevels:    1,
			RenderTarget: true,
		})
		if err != nil {
			cleanup()
			return nil, err
		}
		owned = append(owned, t)
		desc.Color = append(desc.Color, t)
	}
	if depth != gputypes.TextureFormatUndefined {
		t, err := c.CreateTexture(TextureDesc{
			Dim:          Dim2D,
			Size:         Extent{Width: width, Height: height},
			Format:       depth,
			MipLevels:    1,
			RenderTarget: true,
		})
		if err != nil {
			cleanup()
			return nil, err
		}
		owned = append(owned, t)
		desc.Depth = t
	}
	fb, err := c.CreateFramebuffer(desc)
	// The framebuffer holds its own references.
	cleanup()
	if err != nil {
		return nil, err
	}
	return fb, nil
}

// IsDefault reports whether fb is the context's default framebuffer.
func (fb *Framebuffer) IsDefault() bool { return fb.key.IsZero() }

// ColorAttachment returns color attachment i, or nil.
func (fb *Framebuffer) ColorAttachment(i int) *Texture {
	if i < 0 || i >= len(fb.colorTex) {
		return nil
	}
	return fb.colorTex[i]
}

// ColorAttachments returns the number of color attachments.
func (fb *Framebuffer) ColorAttachments() int { return len(fb.colorTex) }

// DepthAttachment returns the depth attachment, or nil.
func (fb *Framebuffer) DepthAttachment() *Texture { return fb.depthTex }

// Size returns the framebuffer size in pixels. For the default framebuffer
// it tracks the surface size.
func (fb *Framebuffer) Size() (width, height uint32) {
	if fb.IsDefault() {
		return fb.ctx.defaultSize()
	}
	for _, t := range fb.colorTex {
		return t.info.size.Width, t.info.size.Height
	}
	if fb.depthTex != nil {
		return fb.depthTex.info.size.Width, fb.depthTex.info.size.Height
	}
	return 0, 0
}

// hasDepth reports whether clears may touch a depth attachment.
func (fb *Framebuffer) hasDepth() bool {
	return fb.IsDefault() || !fb.depth.IsZero()
}

// validate checks the attachments without calling the backend and returns
// the framebuffer's backend ID and size.
func (fb *Framebuffer) validate() (gpucore.FramebufferID, uint32, uint32, error) {
	c := fb.ctx
	if fb.IsDefault() {
		w, h := c.defaultSize()
		return gpucore.DefaultFramebuffer, w, h, nil
	}
	e, err := c.lookup(fb.handle)
	if err != nil {
		return 0, 0, 0, err
	}
	incomplete := func(format string, args ...any) (gpucore.FramebufferID, uint32, uint32, error) {
		return 0, 0, 0, fmt.Errorf("%w: "+format, append([]any{ErrFramebufferIncomplete}, args...)...)
	}
	if len(fb.color) == 0 && !fb.depthOnly {
		return incomplete("no color attachment")
	}
	if len(fb.color) == 0 && fb.depth.IsZero() {
		return incomplete("no attachments")
	}
	if limit := c.backend.Limits().MaxColorAttachments; uint32(len(fb.color)) > limit {
		return incomplete("%d color attachments, limit %d", len(fb.color), limit)
	}

	var w, h uint32
	check := func(key arena.Key, what string, depth bool) error {
		a, ok := c.res.Get(key)
		if !ok || a.refs <= 0 {
			return fmt.Errorf("%w: %s attachment released", ErrFramebufferIncomplete, what)
		}
		if !a.tex.renderTarget {
			return fmt.Errorf("%w: %s attachment is not a render target", ErrFramebufferIncomplete, what)
		}
		if a.tex.format.HasDepth() != depth {
			return fmt.Errorf("%w: %s attachment has format %v", ErrFramebufferIncomplete, what, a.tex.format)
		}
		if w == 0 && h == 0 {
			w, h = a.tex.size.Width, a.tex.size.Height
		} else if a.tex.size.Width != w || a.tex.size.Height != h {
			return fmt.Errorf("%w: %s attachment is %dx%d, want %dx%d",
				ErrFramebufferIncomplete, what, a.tex.size.Width, a.tex.size.Height, w, h)
		}
		return nil
	}
	for i, k := range fb.color {
		if err := check(k, fmt.Sprintf("color %d", i), false); err != nil {
			return 0, 0, 0, err
		}
	}
	if !fb.depth.IsZero() {
		if err := check(fb.depth, "depth", true); err != nil {
			return 0, 0, 0, err
		}
	}
	return gpucore.FramebufferID(e.id), w, h, nil
}
