// Package state mirrors a backend's bound state to elide redundant calls.
//
// Every state-affecting call the core makes goes through a [Cache]. A call
// whose value equals the last value applied to the same slot never reaches
// the backend. A backend failure leaves the slot unknown, so the next call
// for that slot is always forwarded.
package state

import (
	"bytes"
	"fmt"

	"github.com/gogpu/lumen/gpucore"
)

// Bind selects how the cache treats an unchanged value.
type Bind uint8

const (
	// BindCached skips backend calls for unchanged values.
	BindCached Bind = iota
	// BindForced forwards every call to the backend.
	BindForced
)

// String returns the bind mode name.
func (b Bind) String() string {
	switch b {
	case BindCached:
		return "Cached"
	case BindForced:
		return "Forced"
	default:
		return fmt.Sprintf("Unknown(%d)", int(b))
	}
}

// Op identifies a cached backend operation.
type Op uint8

// Cached operations.
const (
	OpBindFramebuffer Op = iota
	OpSetViewport
	OpSetRenderState
	OpUseProgram
	OpBindBuffer
	OpBindTexture
	OpSetUniform
	numOps
)

var opNames = [numOps]string{
	OpBindFramebuffer: "bind_framebuffer",
	OpSetViewport:     "set_viewport",
	OpSetRenderState:  "set_render_state",
	OpUseProgram:      "use_program",
	OpBindBuffer:      "bind_buffer",
	OpBindTexture:     "bind_texture",
	OpSetUniform:      "set_uniform",
}

// String returns the operation name.
func (o Op) String() string {
	if o < numOps {
		return opNames[o]
	}
	return fmt.Sprintf("Unknown(%d)", int(o))
}

// Counter counts forwarded and elided calls of one operation.
type Counter struct {
	Issued uint64
	Elided uint64
}

// Stats holds per-operation counters.
type Stats [numOps]Counter

// Total sums the counters of every operation.
func (s Stats) Total() Counter {
	var c Counter
	for _, op := range s {
		c.Issued += op.Issued
		c.Elided += op.Elided
	}
	return c
}

// slot is one mirrored value. An invalid slot matches nothing.
type slot[T comparable] struct {
	value T
	valid bool
}

type bufferSlot struct {
	target gpucore.BufferTarget
	index  uint32
}

type uniformSlot struct {
	program gpucore.ProgramID
	loc     gpucore.UniformLocation
}

// Cache mirrors the bound state of one backend.
// It is not safe for concurrent use.
type Cache struct {
	backend gpucore.Backend
	mode    Bind

	framebuffer slot[gpucore.FramebufferID]
	viewport    slot[gpucore.Viewport]
	render      slot[gpucore.RenderState]
	program     slot[gpucore.ProgramID]
	buffers     map[bufferSlot]gpucore.BufferID
	textures    map[uint32]gpucore.TextureID
	uniforms    map[uniformSlot][]byte

	stats Stats
}

// New creates a cache in front of b. All slots start unknown.
func New(b gpucore.Backend, mode Bind) *Cache {
	return &Cache{
		backend:  b,
		mode:     mode,
		buffers:  make(map[bufferSlot]gpucore.BufferID),
		textures: make(map[uint32]gpucore.TextureID),
		uniforms: make(map[uniformSlot][]byte),
	}
}

// Backend returns the backend behind the cache.
func (c *Cache) Backend() gpucore.Backend { return c.backend }

// Mode returns the bind mode.
func (c *Cache) Mode() Bind { return c.mode }

// SetMode changes the bind mode.
func (c *Cache) SetMode(m Bind) { c.mode = m }

// Stats returns a snapshot of the counters.
func (c *Cache) Stats() Stats { return c.stats }

// ResetStats zeroes the counters.
func (c *Cache) ResetStats() { c.stats = Stats{} }

func setSlot[T comparable](c *Cache, op Op, s *slot[T], v T, apply func(T) error) (bool, error) {
	if c.mode == BindCached && s.valid && s.value == v {
		c.stats[op].Elided++
		return false, nil
	}
	c.stats[op].Issued++
	if err := apply(v); err != nil {
		s.valid = false
		return false, err
	}
	s.value = v
	s.valid = true
	return true, nil
}

// BindFramebuffer binds id as the render target.
func (c *Cache) BindFramebuffer(id gpucore.FramebufferID) (bool, error) {
	return setSlot(c, OpBindFramebuffer, &c.framebuffer, id, c.backend.BindFramebuffer)
}

// SetViewport applies v.
func (c *Cache) SetViewport(v gpucore.Viewport) (bool, error) {
	return setSlot(c, OpSetViewport, &c.viewport, v, c.backend.SetViewport)
}

// SetRenderState applies s.
func (c *Cache) SetRenderState(s gpucore.RenderState) (bool, error) {
	return setSlot(c, OpSetRenderState, &c.render, s, c.backend.SetRenderState)
}

// UseProgram activates id.
func (c *Cache) UseProgram(id gpucore.ProgramID) (bool, error) {
	return setSlot(c, OpUseProgram, &c.program, id, c.backend.UseProgram)
}

// BindBuffer binds id to the given target slot.
func (c *Cache) BindBuffer(target gpucore.BufferTarget, index uint32, id gpucore.BufferID) (bool, error) {
	key := bufferSlot{target: target, index: index}
	if cur, ok := c.buffers[key]; ok && cur == id && c.mode == BindCached {
		c.stats[OpBindBuffer].Elided++
		return false, nil
	}
	c.stats[OpBindBuffer].Issued++
	if err := c.backend.BindBuffer(target, index, id); err != nil {
		delete(c.buffers, key)
		return false, err
	}
	c.buffers[key] = id
	return true, nil
}

// BindTexture binds id to a texture unit.
func (c *Cache) BindTexture(unit uint32, id gpucore.TextureID) (bool, error) {
	if cur, ok := c.textures[unit]; ok && cur == id && c.mode == BindCached {
		c.stats[OpBindTexture].Elided++
		return false, nil
	}
	c.stats[OpBindTexture].Issued++
	if err := c.backend.BindTexture(unit, id); err != nil {
		delete(c.textures, unit)
		return false, err
	}
	c.textures[unit] = id
	return true, nil
}

// SetUniform writes data to a program's uniform location.
// Uniform values are remembered per program, so switching programs does
// not force a re-upload of unchanged values.
func (c *Cache) SetUniform(program gpucore.ProgramID, loc gpucore.UniformLocation, data []byte) (bool, error) {
	key := uniformSlot{program: program, loc: loc}
	if cur, ok := c.uniforms[key]; ok && c.mode == BindCached && bytes.Equal(cur, data) {
		c.stats[OpSetUniform].Elided++
		return false, nil
	}
	c.stats[OpSetUniform].Issued++
	if err := c.backend.SetUniform(program, loc, data); err != nil {
		delete(c.uniforms, key)
		return false, err
	}
	c.uniforms[key] = append([]byte(nil), data...)
	return true, nil
}

// Invalidate marks every slot unknown. Call it after any backend call that
// bypassed the cache.
func (c *Cache) Invalidate() {
	c.framebuffer = slot[gpucore.FramebufferID]{}
	c.viewport = slot[gpucore.Viewport]{}
	c.render = slot[gpucore.RenderState]{}
	c.program = slot[gpucore.ProgramID]{}
	clear(c.buffers)
	clear(c.textures)
	clear(c.uniforms)
}

// ForgetBuffer drops every slot holding id.
func (c *Cache) ForgetBuffer(id gpucore.BufferID) {
	for k, v := range c.buffers {
		if v == id {
			delete(c.buffers, k)
		}
	}
}

// ForgetTexture drops every unit holding id.
func (c *Cache) ForgetTexture(id gpucore.TextureID) {
	for k, v := range c.textures {
		if v == id {
			delete(c.textures, k)
		}
	}
}

// ForgetProgram drops the program slot and uniform values of id.
func (c *Cache) ForgetProgram(id gpucore.ProgramID) {
	if c.program.valid && c.program.value == id {
		c.program = slot[gpucore.ProgramID]{}
	}
	for k := range c.uniforms {
		if k.program == id {
			delete(c.uniforms, k)
		}
	}
}

// ForgetFramebuffer drops the framebuffer slot if it holds id.
// The viewport is tied to the target, so it is dropped too.
func (c *Cache) ForgetFramebuffer(id gpucore.FramebufferID) {
	if c.framebuffer.valid && c.framebuffer.value == id {
		c.framebuffer = slot[gpucore.FramebufferID]{}
		c.viewport = slot[gpucore.Viewport]{}
	}
}

// Target is a snapshot of the framebuffer and viewport slots.
type Target struct {
	framebuffer slot[gpucore.FramebufferID]
	viewport    slot[gpucore.Viewport]
}

// Target returns the current framebuffer and viewport slots.
func (c *Cache) Target() Target {
	return Target{framebuffer: c.framebuffer, viewport: c.viewport}
}

// RestoreTarget re-applies a snapshot taken with Target. Known values are
// set through the backend, elided when unchanged; unknown ones stay unknown.
func (c *Cache) RestoreTarget(t Target) error {
	if !t.framebuffer.valid {
		c.framebuffer = slot[gpucore.FramebufferID]{}
		c.viewport = slot[gpucore.Viewport]{}
		return nil
	}
	if _, err := c.BindFramebuffer(t.framebuffer.value); err != nil {
		return err
	}
	if !t.viewport.valid {
		c.viewport = slot[gpucore.Viewport]{}
		return nil
	}
	_, err := c.SetViewport(t.viewport.value)
	return err
}

// Program returns the program the cache believes is active.
func (c *Cache) Program() (gpucore.ProgramID, bool) {
	return c.program.value, c.program.valid
}

// Framebuffer returns the framebuffer the cache believes is bound.
func (c *Cache) Framebuffer() (gpucore.FramebufferID, bool) {
	return c.framebuffer.value, c.framebuffer.valid
}

// RenderState returns the render state the cache believes is applied.
func (c *Cache) RenderState() (gpucore.RenderState, bool) {
	return c.render.value, c.render.valid
}
