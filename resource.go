package lumen

import (
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/lumen/gpucore"
	"github.com/gogpu/lumen/internal/arena"
)

// resourceKind tags an arena entry with the backend object it owns.
type resourceKind uint8

const (
	kindBuffer resourceKind = iota + 1
	kindTexture
	kindFramebuffer
	kindStage
	kindProgram
	kindTess
)

func (k resourceKind) String() string {
	switch k {
	case kindBuffer:
		return "buffer"
	case kindTexture:
		return "texture"
	case kindFramebuffer:
		return "framebuffer"
	case kindStage:
		return "stage"
	case kindProgram:
		return "program"
	case kindTess:
		return "tess"
	default:
		return fmt.Sprintf("Unknown(%d)", int(k))
	}
}

// destroyOrder is the order Close tears down live entries: dependents
// before the resources they retain.
var destroyOrder = [...]resourceKind{kindTess, kindFramebuffer, kindProgram, kindStage, kindTexture, kindBuffer}

// textureInfo is the metadata framebuffer validation needs without a
// backend round trip.
type textureInfo struct {
	dim          Dim
	size         gputypes.Extent3D
	format       gputypes.TextureFormat
	levels       uint32
	renderTarget bool
	sampler      gpucore.SamplerState
}

// entry is one arena slot. refs counts user references and gate pins;
// deps are released when the entry is destroyed.
type entry struct {
	kind  resourceKind
	id    uint64
	refs  int32
	label string
	deps  []arena.Key
	tex   textureInfo
}

// handle is the common part of every resource handle.
type handle struct {
	ctx *Context
	key arena.Key
}

// Alive reports whether the resource still holds at least one reference.
func (h handle) Alive() bool {
	if h.ctx == nil || h.ctx.closed {
		return false
	}
	if h.key.IsZero() {
		return true
	}
	e, ok := h.ctx.res.Get(h.key)
	return ok && e.refs > 0
}

// Retain adds a reference. The resource is destroyed once every reference
// has been released.
func (h handle) Retain() error {
	return h.ctx.retain(h.key)
}

// Release drops a reference. Destruction of the backend object is deferred
// according to the context's DestroyPolicy.
func (h handle) Release() error {
	return h.ctx.release(h.key)
}

// insert registers a new backend object with one reference.
func (c *Context) insert(kind resourceKind, id uint64, label string, deps ...arena.Key) arena.Key {
	return c.res.Insert(&entry{kind: kind, id: id, refs: 1, label: label, deps: deps})
}

// lookup resolves h to its live entry.
func (c *Context) lookup(h handle) (*entry, error) {
	if c.closed {
		return nil, ErrContextClosed
	}
	if h.ctx != c {
		return nil, ErrForeignContext
	}
	e, ok := c.res.Get(h.key)
	if !ok || e.refs <= 0 {
		return nil, ErrReleased
	}
	return e, nil
}

func (c *Context) retain(key arena.Key) error {
	if c.closed {
		return ErrContextClosed
	}
	if key.IsZero() {
		return nil
	}
	e, ok := c.res.Get(key)
	if !ok || e.refs <= 0 {
		return ErrReleased
	}
	e.refs++
	return nil
}

func (c *Context) release(key arena.Key) error {
	if c.closed {
		return ErrContextClosed
	}
	if key.IsZero() {
		return nil
	}
	e, ok := c.res.Get(key)
	if !ok || e.refs <= 0 {
		return ErrReleased
	}
	e.refs--
	if e.refs == 0 {
		c.retire(key, e)
	}
	return nil
}

// unref releases an internal reference. Failures are logged, not returned.
func (c *Context) unref(key arena.Key) {
	if err := c.release(key); err != nil && !c.closing {
		Logger().Warn("lumen: release failed", "context", c.opts.label, "err", err)
	}
}

// retire destroys an unreferenced entry now or queues it, per policy.
func (c *Context) retire(key arena.Key, e *entry) {
	if c.opts.policy == DestroyAtSafePoint && len(c.gates) == 0 {
		c.destroy(key)
		return
	}
	Logger().Debug("lumen: destroy deferred", "kind", e.kind, "label", e.label, "open_gates", len(c.gates))
	c.queue = append(c.queue, key)
}

// drain destroys every queued entry, including entries whose last
// reference was held by a queued entry.
func (c *Context) drain() {
	for len(c.queue) > 0 {
		key := c.queue[0]
		c.queue = c.queue[1:]
		if e, ok := c.res.Get(key); ok && e.refs <= 0 {
			c.destroy(key)
		}
	}
	c.queue = c.queue[:0]
}

// destroy frees the backend object of key, forgets it in the state cache
// and releases its dependencies.
func (c *Context) destroy(key arena.Key) {
	e, ok := c.res.Remove(key)
	if !ok {
		return
	}
	switch e.kind {
	case kindBuffer:
		id := gpucore.BufferID(e.id)
		c.cache.ForgetBuffer(id)
		c.backend.FreeBuffer(id)
	case kindTexture:
		id := gpucore.TextureID(e.id)
		c.cache.ForgetTexture(id)
		c.backend.FreeTexture(id)
	case kindFramebuffer:
		id := gpucore.FramebufferID(e.id)
		c.cache.ForgetFramebuffer(id)
		c.backend.FreeFramebuffer(id)
	case kindStage:
		c.backend.FreeStage(gpucore.StageID(e.id))
	case kindProgram:
		id := gpucore.ProgramID(e.id)
		c.cache.ForgetProgram(id)
		c.backend.FreeProgram(id)
	}
	Logger().Debug("lumen: destroyed", "kind", e.kind, "label", e.label, "id", e.id)
	for _, d := range e.deps {
		c.unref(d)
	}
}

// destroyAll tears down every live entry regardless of references.
func (c *Context) destroyAll() {
	c.closing = true
	for _, kind := range destroyOrder {
		var keys []arena.Key
		c.res.Each(func(k arena.Key, e *entry) bool {
			if e.kind == kind {
				keys = append(keys, k)
			}
			return true
		})
		for _, k := range keys {
			c.destroy(k)
		}
	}
	c.queue = nil
}
