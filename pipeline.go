package lumen

import (
	"fmt"

	"github.com/gogpu/lumen/gpucore"
	"github.com/gogpu/lumen/internal/arena"
	"github.com/gogpu/lumen/internal/state"
)

// PipelineGate is an open pipeline on a framebuffer. Textures bound
// through it keep their units until it closes.
type PipelineGate struct {
	*gate
	fb       *Framebuffer
	state    PipelineState
	viewport gpucore.Viewport
	units    []arena.Key
}

// OpenPipeline starts rendering into fb (nil for the default framebuffer).
// The framebuffer is validated, bound, its viewport applied and cleared
// as ps requests. On failure no gate is opened and the previous target
// is bound again.
func (c *Context) OpenPipeline(fb *Framebuffer, ps PipelineState) (*PipelineGate, error) {
	if c.closed {
		return nil, ErrContextClosed
	}
	if len(c.gates) > 0 {
		return nil, fmt.Errorf("%w: pipeline inside %s", ErrScopeState, c.GateState())
	}
	if fb == nil {
		fb = c.defaultFB
	}
	if fb.ctx != c {
		return nil, ErrForeignContext
	}
	id, w, h, err := fb.validate()
	if err != nil {
		return nil, err
	}
	if status := c.backend.FramebufferStatus(id); status != gpucore.FramebufferComplete {
		return nil, fmt.Errorf("%w: backend reports %v", ErrFramebufferIncomplete, status)
	}
	prev := c.cache.Target()
	if _, err := c.cache.BindFramebuffer(id); err != nil {
		c.restoreTarget(prev)
		return nil, backendErr("bind_framebuffer", err)
	}
	vp := ps.viewport(w, h)
	if _, err := c.cache.SetViewport(vp); err != nil {
		c.restoreTarget(prev)
		return nil, backendErr("set_viewport", err)
	}
	op := gpucore.ClearOp{
		ClearColor: ps.ClearColorEnabled,
		Color:      ps.ClearColor,
		ClearDepth: ps.ClearDepthEnabled && fb.hasDepth(),
		Depth:      ps.ClearDepth,
	}
	if op.ClearColor || op.ClearDepth {
		if err := c.backend.Clear(op); err != nil {
			c.restoreTarget(prev)
			return nil, backendErr("clear", err)
		}
	}

	g := &PipelineGate{gate: c.push(GatePipeline), fb: fb, state: ps, viewport: vp}
	g.pin(fb.key)
	return g, nil
}

// restoreTarget rebinds the target bound before a failed pipeline entry.
func (c *Context) restoreTarget(t state.Target) {
	if err := c.cache.RestoreTarget(t); err != nil {
		Logger().Warn("lumen: restore render target", "err", err)
	}
}

// Pipeline opens a pipeline on fb, calls fn with it and closes it, also
// when fn panics. Errors from fn and from closing are joined.
//
// Example:
//
//	err := ctx.Pipeline(nil, lumen.DefaultPipelineState(), func(pg *lumen.PipelineGate) error {
//	    return pg.Shade(prog, func(sg *lumen.ShadingGate) error {
//	        return sg.Render(lumen.DefaultRenderState(), func(rg *lumen.RenderGate) error {
//	            return rg.Draw(tess.View())
//	        })
//	    })
//	})
func (c *Context) Pipeline(fb *Framebuffer, ps PipelineState, fn func(*PipelineGate) error) error {
	g, err := c.OpenPipeline(fb, ps)
	if err != nil {
		return err
	}
	return g.run(func() error { return fn(g) })
}

// Framebuffer returns the framebuffer the pipeline renders into.
func (g *PipelineGate) Framebuffer() *Framebuffer { return g.fb }

// State returns the pipeline state the gate was opened with.
func (g *PipelineGate) State() PipelineState { return g.state }

// Close closes the pipeline. It must be the innermost open gate.
func (g *PipelineGate) Close() error { return g.close() }

// BindTexture assigns tex to a texture unit for the lifetime of the gate.
// Binding the same texture twice returns the same unit.
func (g *PipelineGate) BindTexture(tex *Texture) (BoundTexture, error) {
	if err := g.open(); err != nil {
		return BoundTexture{}, err
	}
	c := g.ctx
	if tex == nil {
		return BoundTexture{}, fmt.Errorf("%w: nil texture", ErrReleased)
	}
	e, err := c.lookup(tex.handle)
	if err != nil {
		return BoundTexture{}, err
	}
	bt := BoundTexture{
		gate:    g,
		dim:     e.tex.dim,
		format:  e.tex.format,
		compare: e.tex.sampler.Compare != 0,
	}
	for i, k := range g.units {
		if k == tex.key {
			bt.unit = uint32(i)
			return bt, nil
		}
	}
	unit := uint32(len(g.units))
	if limit := c.backend.Limits().MaxTextureUnits; unit >= limit {
		return BoundTexture{}, fmt.Errorf("%w: %d units", ErrTextureUnitsExhausted, limit)
	}
	if _, err := c.cache.BindTexture(unit, gpucore.TextureID(e.id)); err != nil {
		return BoundTexture{}, backendErr("bind_texture", err)
	}
	g.units = append(g.units, tex.key)
	g.pin(tex.key)
	bt.unit = unit
	return bt, nil
}

// ShadingGate is an open pipeline with an active program.
type ShadingGate struct {
	*gate
	pipeline *PipelineGate
	program  *Program
	uniforms map[gpucore.UniformLocation][]byte
}

// OpenShading activates program inside the pipeline.
func (g *PipelineGate) OpenShading(program *Program) (*ShadingGate, error) {
	if err := g.active(); err != nil {
		return nil, err
	}
	c := g.ctx
	if program == nil {
		return nil, fmt.Errorf("%w: nil program", ErrProgramNotLinked)
	}
	if program.ctx != c {
		return nil, ErrForeignContext
	}
	id, err := program.id()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProgramNotLinked, err)
	}
	if _, err := c.cache.UseProgram(id); err != nil {
		return nil, backendErr("use_program", err)
	}
	sg := &ShadingGate{
		gate:     c.push(GateShading),
		pipeline: g,
		program:  program,
		uniforms: make(map[gpucore.UniformLocation][]byte),
	}
	sg.pin(program.key)
	return sg, nil
}

// Shade opens a shading gate, calls fn with it and closes it, also when
// fn panics.
func (g *PipelineGate) Shade(program *Program, fn func(*ShadingGate) error) error {
	sg, err := g.OpenShading(program)
	if err != nil {
		return err
	}
	return sg.run(func() error { return fn(sg) })
}

// Program returns the active program.
func (g *ShadingGate) Program() *Program { return g.program }

// Pipeline returns the enclosing pipeline gate.
func (g *ShadingGate) Pipeline() *PipelineGate { return g.pipeline }

// Close closes the shading gate. It must be the innermost open gate.
func (g *ShadingGate) Close() error { return g.close() }

// SetUniform assigns v to u. The value type must equal the slot type;
// a mismatch fails without reaching the backend.
func (g *ShadingGate) SetUniform(u Uniform, v UniformValue) error {
	if err := g.open(); err != nil {
		return err
	}
	if u.program != g.program {
		return fmt.Errorf("%w: %q belongs to another program", ErrUnknownUniform, u.name)
	}
	if err := checkAssign(u.typ, v); err != nil {
		return fmt.Errorf("uniform %q: %w", u.name, err)
	}
	if bt, ok := v.(BoundTexture); ok {
		if bt.gate != g.pipeline {
			return fmt.Errorf("%w: texture bound by another pipeline", ErrScopeState)
		}
	}
	id, err := g.program.id()
	if err != nil {
		return err
	}
	data := v.appendBytes(nil)
	if _, err := g.ctx.cache.SetUniform(id, u.loc, data); err != nil {
		return backendErr("set_uniform", err)
	}
	g.uniforms[u.loc] = data
	return nil
}

// SetUniformByName looks up the uniform called name and assigns v.
func (g *ShadingGate) SetUniformByName(name string, v UniformValue) error {
	u, err := g.program.Uniform(name)
	if err != nil {
		return err
	}
	return g.SetUniform(u, v)
}

// RenderGate is an open shading gate with a render state applied.
type RenderGate struct {
	*gate
	shading *ShadingGate
	state   RenderState
}

// OpenRender applies rs to draws issued through the returned gate.
func (g *ShadingGate) OpenRender(rs RenderState) (*RenderGate, error) {
	if err := g.active(); err != nil {
		return nil, err
	}
	if _, err := g.ctx.cache.SetRenderState(rs); err != nil {
		return nil, backendErr("set_render_state", err)
	}
	return &RenderGate{gate: g.ctx.push(GateRender), shading: g, state: rs}, nil
}

// Render opens a render gate, calls fn with it and closes it, also when
// fn panics.
func (g *ShadingGate) Render(rs RenderState, fn func(*RenderGate) error) error {
	rg, err := g.OpenRender(rs)
	if err != nil {
		return err
	}
	return rg.run(func() error { return fn(rg) })
}

// OpenRender opens a nested render gate overriding the render state.
// Draws in g after the nested gate closes use g's state again.
func (g *RenderGate) OpenRender(rs RenderState) (*RenderGate, error) {
	if err := g.active(); err != nil {
		return nil, err
	}
	if _, err := g.ctx.cache.SetRenderState(rs); err != nil {
		return nil, backendErr("set_render_state", err)
	}
	return &RenderGate{gate: g.ctx.push(GateRender), shading: g.shading, state: rs}, nil
}

// Render opens a nested render gate, calls fn with it and closes it.
func (g *RenderGate) Render(rs RenderState, fn func(*RenderGate) error) error {
	rg, err := g.OpenRender(rs)
	if err != nil {
		return err
	}
	return rg.run(func() error { return fn(rg) })
}

// State returns the render state of the gate.
func (g *RenderGate) State() RenderState { return g.state }

// Close closes the render gate. It must be the innermost open gate.
func (g *RenderGate) Close() error { return g.close() }

// Draw draws v with the gate's framebuffer, program and render state.
// The viewport, texture units and uniform values set through the open
// gates are applied again, so a draw after InvalidateState sees them.
// The tess layout must provide every program input. Empty views are
// accepted and draw nothing.
func (g *RenderGate) Draw(v TessView) error {
	if err := g.active(); err != nil {
		return err
	}
	c := g.ctx
	t := v.tess
	if t == nil {
		return fmt.Errorf("%w: empty tess view", ErrReleased)
	}
	if _, err := c.lookup(t.handle); err != nil {
		return err
	}
	prog := g.shading.program
	if err := t.matches(prog.info.Inputs); err != nil {
		return err
	}
	if v.start+v.count > t.vertexCount {
		return fmt.Errorf("%w: view %d..%d of %d", ErrOutOfBounds, v.start, v.start+v.count, t.vertexCount)
	}
	if v.count == 0 || v.instances == 0 {
		return nil
	}

	pg := g.shading.pipeline
	fbID, _, _, err := pg.fb.validate()
	if err != nil {
		return err
	}
	progID, err := prog.id()
	if err != nil {
		return err
	}
	if _, err := c.cache.BindFramebuffer(fbID); err != nil {
		return backendErr("bind_framebuffer", err)
	}
	if _, err := c.cache.SetViewport(pg.viewport); err != nil {
		return backendErr("set_viewport", err)
	}
	if _, err := c.cache.UseProgram(progID); err != nil {
		return backendErr("use_program", err)
	}
	for unit, key := range pg.units {
		e, ok := c.res.Get(key)
		if !ok {
			return ErrReleased
		}
		if _, err := c.cache.BindTexture(uint32(unit), gpucore.TextureID(e.id)); err != nil {
			return backendErr("bind_texture", err)
		}
	}
	for loc, data := range g.shading.uniforms {
		if _, err := c.cache.SetUniform(progID, loc, data); err != nil {
			return backendErr("set_uniform", err)
		}
	}
	if _, err := c.cache.SetRenderState(g.state); err != nil {
		return backendErr("set_render_state", err)
	}

	call, err := t.drawCall(v, func(b *Buffer) (gpucore.BufferID, error) {
		e, ok := c.res.Get(b.key)
		if !ok {
			return 0, ErrReleased
		}
		return gpucore.BufferID(e.id), nil
	})
	if err != nil {
		return err
	}
	for i, vb := range call.Buffers {
		target := gpucore.TargetVertex
		if t.instance != nil && i == len(call.Buffers)-1 {
			target = gpucore.TargetInstance
		}
		if _, err := c.cache.BindBuffer(target, uint32(i), vb.Buffer); err != nil {
			return backendErr("bind_buffer", err)
		}
	}
	if t.indices != nil {
		e, ok := c.res.Get(t.indices.key)
		if !ok {
			return ErrReleased
		}
		if _, err := c.cache.BindBuffer(gpucore.TargetIndex, 0, gpucore.BufferID(e.id)); err != nil {
			return backendErr("bind_buffer", err)
		}
	}
	g.pin(t.key)
	return backendErr("draw", c.backend.Draw(call))
}
