package lumen

import (
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/gogpu/lumen/gpucore"
	"github.com/gogpu/lumen/internal/arena"
	"github.com/gogpu/lumen/internal/state"
)

var contextIDs atomic.Uint64

// Context owns the resources, the state cache and the gate stack of one
// rendering context on one backend.
//
// A Context is not safe for concurrent use. Every handle it creates is
// valid only with this Context.
type Context struct {
	id      uint64
	backend gpucore.Backend
	cache   *state.Cache
	opts    contextOptions

	res   *arena.Arena[*entry]
	queue []arena.Key
	gates []*gate

	defaultFB *Framebuffer

	closing bool
	closed  bool
}

// NewContext creates a Context over b.
//
// Example:
//
//	b, err := backend.InitDefault()
//	if err != nil {
//	    return err
//	}
//	ctx, err := lumen.NewContext(b, lumen.WithDefaultFramebufferSize(640, 480))
//	if err != nil {
//	    return err
//	}
//	defer ctx.Close()
func NewContext(b gpucore.Backend, opts ...ContextOption) (*Context, error) {
	if b == nil {
		return nil, ErrNilBackend
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.surface != nil {
		if err := o.surface.MakeCurrent(); err != nil {
			return nil, fmt.Errorf("lumen: make surface current: %w", err)
		}
	}

	c := &Context{
		id:      contextIDs.Add(1),
		backend: b,
		cache:   state.New(b, o.bind),
		opts:    o,
		res:     arena.New[*entry](),
	}
	c.defaultFB = &Framebuffer{handle: handle{ctx: c}}

	propagateLogger(b, Logger())
	liveBackends.Store(c.id, b)

	Logger().Info("lumen: context created",
		"label", o.label,
		"backend", b.Name(),
		"policy", o.policy,
		"bind", o.bind)
	return c, nil
}

// Backend returns the backend the context renders with.
func (c *Context) Backend() gpucore.Backend { return c.backend }

// Limits returns the backend limits.
func (c *Context) Limits() gpucore.Limits { return c.backend.Limits() }

// DestroyPolicy returns the configured destroy policy.
func (c *Context) DestroyPolicy() DestroyPolicy { return c.opts.policy }

// BindMode returns the current bind mode.
func (c *Context) BindMode() BindMode { return c.cache.Mode() }

// SetBindMode switches between cached and forced binding.
func (c *Context) SetBindMode(m BindMode) { c.cache.SetMode(m) }

// InvalidateState forgets everything the context knows about the bound
// backend state, so the next state change of every kind reaches the
// backend. Call it after foreign code has used the same native context.
// It may be called inside open gates; the next Draw re-applies their state.
func (c *Context) InvalidateState() { c.cache.Invalidate() }

// DefaultFramebuffer returns the framebuffer backed by the surface, or by
// an offscreen target of the configured size when there is no surface.
// It is never destroyed; Retain and Release on it are no-ops.
func (c *Context) DefaultFramebuffer() *Framebuffer { return c.defaultFB }

// defaultSize returns the current default framebuffer size in pixels.
func (c *Context) defaultSize() (uint32, uint32) {
	if c.opts.surface != nil {
		w, h := surfaceSize(c.opts.surface)
		if w > 0 && h > 0 {
			return uint32(w), uint32(h)
		}
	}
	return uint32(c.opts.width), uint32(c.opts.height)
}

// GateState reports the state of the innermost open gate.
func (c *Context) GateState() GateState {
	if len(c.gates) == 0 {
		return GateIdle
	}
	return c.gates[len(c.gates)-1].state
}

// Live returns the number of live resources, including those waiting in
// the destroy queue.
func (c *Context) Live() int { return c.res.Len() }

// Pending returns the number of released resources waiting for a flush.
func (c *Context) Pending() int { return len(c.queue) }

// StateCounter counts forwarded and elided state changes of one kind.
type StateCounter struct {
	Issued uint64
	Elided uint64
}

// StateStats returns per-operation state change counters keyed by
// operation name (e.g. "use_program", "set_render_state").
func (c *Context) StateStats() map[string]StateCounter {
	stats := c.cache.Stats()
	out := make(map[string]StateCounter, len(stats))
	for i, s := range stats {
		out[state.Op(i).String()] = StateCounter{Issued: s.Issued, Elided: s.Elided}
	}
	return out
}

// ResetStateStats zeroes the state change counters.
func (c *Context) ResetStateStats() { c.cache.ResetStats() }

// Flush destroys every released resource that is not pinned by an open
// gate and submits queued backend work.
func (c *Context) Flush() error {
	if c.closed {
		return ErrContextClosed
	}
	c.drain()
	return backendErr("flush", c.backend.Flush())
}

// Present ends the frame: it flushes and swaps the surface buffers.
// Present fails with ErrScopeState while a gate is open.
func (c *Context) Present() error {
	if c.closed {
		return ErrContextClosed
	}
	if len(c.gates) > 0 {
		return fmt.Errorf("%w: present with %s", ErrScopeState, c.GateState())
	}
	if err := c.Flush(); err != nil {
		return err
	}
	if c.opts.surface == nil {
		return nil
	}
	return backendErr("swap_buffers", c.opts.surface.SwapBuffers())
}

// Close destroys every resource still alive and releases the backend.
// Close fails with ErrScopeState while a gate is open. Closing a closed
// context is a no-op.
func (c *Context) Close() error {
	if c.closed {
		return nil
	}
	if len(c.gates) > 0 {
		return fmt.Errorf("%w: close with %s", ErrScopeState, c.GateState())
	}
	c.drain()
	leaked := c.res.Len()
	if leaked > 0 {
		Logger().Debug("lumen: destroying live resources on close",
			"label", c.opts.label, "count", leaked, "kinds", c.liveKinds())
	}
	c.destroyAll()
	err := backendErr("flush", c.backend.Flush())

	c.closed = true
	liveBackends.Delete(c.id)
	return err
}

// liveKinds returns a summary of live resources per kind, sorted by kind
// name. It is used in debug output.
func (c *Context) liveKinds() []string {
	counts := make(map[resourceKind]int)
	c.res.Each(func(_ arena.Key, e *entry) bool {
		counts[e.kind]++
		return true
	})
	out := make([]string, 0, len(counts))
	for k, n := range counts {
		out = append(out, fmt.Sprintf("%s=%d", k, n))
	}
	sort.Strings(out)
	return out
}
