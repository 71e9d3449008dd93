package lumen

import (
	"errors"
	"fmt"

	"github.com/gogpu/lumen/internal/arena"
)

// GateState is the state of the innermost open gate of a Context.
type GateState uint8

// Gate states.
const (
	// GateIdle means no gate is open.
	GateIdle GateState = iota
	// GatePipeline means a PipelineGate is the innermost gate.
	GatePipeline
	// GateShading means a ShadingGate is the innermost gate.
	GateShading
	// GateRender means a RenderGate is the innermost gate.
	GateRender
)

// String returns the state name.
func (s GateState) String() string {
	switch s {
	case GateIdle:
		return "Idle"
	case GatePipeline:
		return "PipelineOpen"
	case GateShading:
		return "ShadingOpen"
	case GateRender:
		return "RenderOpen"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// gate is one entry of a Context's gate stack. It holds a reference on
// every resource it pins until it closes.
type gate struct {
	ctx    *Context
	state  GateState
	closed bool
	pins   []arena.Key
}

// push opens a gate in state s on top of the stack.
func (c *Context) push(s GateState) *gate {
	g := &gate{ctx: c, state: s}
	c.gates = append(c.gates, g)
	Logger().Debug("lumen: gate opened", "state", s, "depth", len(c.gates))
	return g
}

func (c *Context) top() *gate {
	if len(c.gates) == 0 {
		return nil
	}
	return c.gates[len(c.gates)-1]
}

// pin retains key for the lifetime of the gate.
func (g *gate) pin(key arena.Key) {
	if key.IsZero() {
		return
	}
	for _, k := range g.pins {
		if k == key {
			return
		}
	}
	if err := g.ctx.retain(key); err == nil {
		g.pins = append(g.pins, key)
	}
}

// open fails if the gate has been closed.
func (g *gate) open() error {
	if g.closed {
		return ErrScopeClosed
	}
	return nil
}

// active fails unless the gate is open and innermost.
func (g *gate) active() error {
	if err := g.open(); err != nil {
		return err
	}
	if top := g.ctx.top(); top != g {
		return fmt.Errorf("%w: %s is open inside", ErrScopeState, top.state)
	}
	return nil
}

// close pops the gate. Only the innermost gate can be closed. Pins are
// released and, once the stack is empty, deferred destruction runs.
func (g *gate) close() error {
	if g.closed {
		return ErrScopeClosed
	}
	c := g.ctx
	if c.top() != g {
		return fmt.Errorf("%w: closing %s while %s is open", ErrScopeOrder, g.state, c.GateState())
	}
	c.gates = c.gates[:len(c.gates)-1]
	g.closed = true
	for _, k := range g.pins {
		c.unref(k)
	}
	g.pins = nil
	Logger().Debug("lumen: gate closed", "state", g.state, "depth", len(c.gates))
	if len(c.gates) == 0 && c.opts.policy == DestroyAtSafePoint {
		c.drain()
	}
	return nil
}

// unwind closes every gate opened after g, then g. It reports
// ErrScopeOrder when gates above g were still open.
func (g *gate) unwind() error {
	if g.closed {
		return nil
	}
	var err error
	for top := g.ctx.top(); top != nil && top != g; top = g.ctx.top() {
		err = fmt.Errorf("%w: %s left open", ErrScopeOrder, top.state)
		_ = top.close()
	}
	return errors.Join(err, g.close())
}

// run calls fn and then unwinds g, also when fn panics.
func (g *gate) run(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			_ = g.unwind()
			panic(r)
		}
	}()
	err = fn()
	return errors.Join(err, g.unwind())
}
