package native

import (
	"encoding/binary"
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/lumen/gpucore"
)

type bufferSlot struct {
	target gpucore.BufferTarget
	slot   uint32
}

// binding is the bound state draws are recorded against.
type binding struct {
	framebuffer gpucore.FramebufferID
	viewport    gpucore.Viewport
	state       gpucore.RenderState
	program     gpucore.ProgramID
	buffers     map[bufferSlot]gpucore.BufferID
	units       map[uint32]gpucore.TextureID
}

func newBinding() binding {
	return binding{
		state:   gpucore.RenderState{ColorWrite: gputypes.ColorWriteMaskAll},
		buffers: make(map[bufferSlot]gpucore.BufferID),
		units:   make(map[uint32]gpucore.TextureID),
	}
}

func (b *Backend) target(id gpucore.FramebufferID) (*framebuffer, error) {
	if id == gpucore.DefaultFramebuffer {
		return b.defaultFB, nil
	}
	fb, ok := b.framebuffers[id]
	if !ok {
		return nil, fmt.Errorf("%w: framebuffer %d", ErrUnknownResource, id)
	}
	if err := b.resolve(fb); err != nil {
		return nil, err
	}
	return fb, nil
}

// BindFramebuffer makes id the render target. An open pass on another
// target is ended.
func (b *Backend) BindFramebuffer(id gpucore.FramebufferID) error {
	if _, err := b.target(id); err != nil {
		return err
	}
	if b.frame.pass != nil && b.frame.passFB != id {
		b.frame.endPass()
	}
	b.bound.framebuffer = id
	return nil
}

// Clear opens a render pass on the bound framebuffer that clears the
// requested attachments.
func (b *Backend) Clear(op gpucore.ClearOp) error {
	if !op.ClearColor && !op.ClearDepth {
		return nil
	}
	fb, err := b.target(b.bound.framebuffer)
	if err != nil {
		return err
	}
	return b.frame.beginPass(b, b.bound.framebuffer, fb, &op)
}

// SetViewport stores the viewport applied to following draws.
func (b *Backend) SetViewport(v gpucore.Viewport) error {
	b.bound.viewport = v
	return nil
}

// SetRenderState stores the state selecting the pipelines of following draws.
func (b *Backend) SetRenderState(s gpucore.RenderState) error {
	b.bound.state = s
	return nil
}

// UseProgram activates a program.
func (b *Backend) UseProgram(id gpucore.ProgramID) error {
	if _, ok := b.programs[id]; !ok {
		return fmt.Errorf("%w: program %d", ErrUnknownResource, id)
	}
	b.bound.program = id
	return nil
}

// BindBuffer binds a buffer to a target slot.
func (b *Backend) BindBuffer(target gpucore.BufferTarget, slot uint32, id gpucore.BufferID) error {
	if _, ok := b.buffers[id]; !ok {
		return fmt.Errorf("%w: buffer %d", ErrUnknownResource, id)
	}
	b.bound.buffers[bufferSlot{target, slot}] = id
	return nil
}

// BindTexture binds a texture to a unit.
func (b *Backend) BindTexture(unit uint32, id gpucore.TextureID) error {
	if unit >= b.cfg.Limits.MaxTextureUnits {
		return fmt.Errorf("%w: texture unit %d", ErrRange, unit)
	}
	if _, ok := b.textures[id]; !ok {
		return fmt.Errorf("%w: texture %d", ErrUnknownResource, id)
	}
	b.bound.units[unit] = id
	return nil
}

// SetUniform writes data into a program's uniform buffer. Texture and
// sampler locations take a little-endian texture unit instead.
func (b *Backend) SetUniform(id gpucore.ProgramID, loc gpucore.UniformLocation, data []byte) error {
	p, ok := b.programs[id]
	if !ok {
		return fmt.Errorf("%w: program %d", ErrUnknownResource, id)
	}
	key := resourceKey{loc.Group, loc.Binding}
	if ub, ok := p.uniforms[key]; ok {
		end := uint64(loc.Offset) + uint64(len(data))
		if end > uint64(len(ub.shadow)) {
			return fmt.Errorf("%w: uniform %d+%d in %d bytes", ErrRange, loc.Offset, len(data), len(ub.shadow))
		}
		if err := b.frame.before(b, uint64(id)); err != nil {
			return err
		}
		return b.write(ub, uint64(loc.Offset), data)
	}
	for _, r := range p.resources {
		if r.Group == loc.Group && r.Binding == loc.Binding {
			if len(data) != 4 {
				return fmt.Errorf("%w: texture unit takes 4 bytes, got %d", ErrRange, len(data))
			}
			p.units[key] = binary.LittleEndian.Uint32(data)
			return nil
		}
	}
	return fmt.Errorf("%w: no resource at group %d binding %d", ErrRange, loc.Group, loc.Binding)
}

// Draw records a draw into the render pass of the bound framebuffer.
func (b *Backend) Draw(call *gpucore.DrawCall) error {
	p, ok := b.programs[b.bound.program]
	if !ok {
		return ErrNoProgram
	}
	fbID := b.bound.framebuffer
	fb, err := b.target(fbID)
	if err != nil {
		return err
	}

	vbufs := make([]*buffer, len(call.Buffers))
	for i, vb := range call.Buffers {
		buf, ok := b.buffers[vb.Buffer]
		if !ok {
			return fmt.Errorf("%w: buffer %d", ErrUnknownResource, vb.Buffer)
		}
		vbufs[i] = buf
	}
	var (
		ibuf *buffer
		ibID gpucore.BufferID
	)
	if call.Indexed {
		ibID, ok = b.bound.buffers[bufferSlot{target: gpucore.TargetIndex}]
		if !ok {
			return ErrNoIndexBuffer
		}
		if ibuf, ok = b.buffers[ibID]; !ok {
			return fmt.Errorf("%w: buffer %d", ErrUnknownResource, ibID)
		}
		if end := uint64(call.First+call.Count) * uint64(call.IndexFormat.Size()); end > ibuf.size {
			return fmt.Errorf("%w: indices %d..%d", ErrRange, call.First, call.First+call.Count)
		}
		if call.Restart && call.RestartIndex != restartIndex(call.IndexFormat) {
			return fmt.Errorf("%w: %d for %v", ErrRestartIndex, call.RestartIndex, call.IndexFormat)
		}
	}
	if call.Count == 0 || call.InstanceCount == 0 {
		return nil
	}

	f := &b.frame
	if f.pass == nil || f.passFB != fbID {
		if err := f.beginPass(b, fbID, fb, nil); err != nil {
			return err
		}
	}

	key := b.pipelineKey(call, fb)
	rp, err := b.pipelines.GetOrCreate(key, func() (hal.RenderPipeline, error) {
		return b.createPipeline(p, key)
	})
	if err != nil {
		return err
	}
	f.pass.SetPipeline(rp)

	groups, textures, err := b.bindGroups(p)
	if err != nil {
		return err
	}
	for i, g := range groups {
		f.pass.SetBindGroup(uint32(i), g, nil)
		f.release(b.device, func(d hal.Device) { d.DestroyBindGroup(g) })
	}
	for i, buf := range vbufs {
		f.pass.SetVertexBuffer(uint32(i), buf.raw, 0)
		f.use(uint64(call.Buffers[i].Buffer))
	}
	if ibuf != nil {
		f.pass.SetIndexBuffer(ibuf.raw, call.IndexFormat, 0)
		f.use(uint64(ibID))
	}
	for _, tid := range textures {
		f.use(uint64(tid))
	}
	f.use(uint64(b.bound.program))

	w, h := fb.size()
	v := b.bound.viewport
	if v.Width == 0 || v.Height == 0 {
		v.X, v.Y, v.Width, v.Height = 0, 0, float32(w), float32(h)
	}
	if v.MinDepth == 0 && v.MaxDepth == 0 {
		v.MaxDepth = 1
	}
	f.pass.SetViewport(v.X, v.Y, v.Width, v.Height, v.MinDepth, v.MaxDepth)
	f.pass.SetScissorRect(scissor(b.bound.state.Scissor, w, h))

	if call.Indexed {
		f.pass.DrawIndexed(call.Count, call.InstanceCount, call.First, 0, 0)
	} else {
		f.pass.Draw(call.Count, call.InstanceCount, call.First, 0)
	}
	return nil
}

func restartIndex(f gputypes.IndexFormat) uint32 {
	if f == gputypes.IndexFormatUint16 {
		return 0xFFFF
	}
	return 0xFFFFFFFF
}

// scissor clamps an enabled scissor to the target, or covers it whole.
func scissor(s gpucore.Scissor, w, h uint32) (x, y, width, height uint32) {
	if !s.Enabled {
		return 0, 0, w, h
	}
	x, y = min(s.X, w), min(s.Y, h)
	return x, y, min(s.Width, w-x), min(s.Height, h-y)
}

func (b *Backend) pipelineKey(call *gpucore.DrawCall, fb *framebuffer) *PipelineKey {
	key := &PipelineKey{
		Program:  b.bound.program,
		Topology: call.Topology,
		State:    b.bound.state,
	}
	key.State.Scissor = gpucore.Scissor{}
	for _, vb := range call.Buffers {
		key.Buffers = append(key.Buffers, vb.Layout)
	}
	if call.Indexed && (call.Topology == gputypes.PrimitiveTopologyLineStrip || call.Topology == gputypes.PrimitiveTopologyTriangleStrip) {
		key.StripIndexFormat = call.IndexFormat
	}
	for _, t := range fb.color {
		key.ColorFormats = append(key.ColorFormats, t.desc.Format)
	}
	if fb.depth != nil {
		key.DepthFormat = fb.depth.desc.Format
	}
	return key
}

func (b *Backend) createPipeline(p *program, key *PipelineKey) (hal.RenderPipeline, error) {
	s := key.State
	prim := gputypes.PrimitiveState{
		Topology:  key.Topology,
		FrontFace: s.FrontFace,
		CullMode:  s.Cull,
	}
	if key.StripIndexFormat != gputypes.IndexFormatUndefined {
		f := key.StripIndexFormat
		prim.StripIndexFormat = &f
	}

	targets := make([]gputypes.ColorTargetState, len(key.ColorFormats))
	for i, format := range key.ColorFormats {
		targets[i] = gputypes.ColorTargetState{Format: format, WriteMask: s.ColorWrite}
		if s.Blending.Enabled {
			targets[i].Blend = &gputypes.BlendState{Color: s.Blending.Color, Alpha: s.Blending.Alpha}
		}
	}

	var ds *hal.DepthStencilState
	if key.DepthFormat != gputypes.TextureFormatUndefined {
		keep := hal.StencilFaceState{Compare: gputypes.CompareFunctionAlways}
		ds = &hal.DepthStencilState{
			Format:            key.DepthFormat,
			DepthWriteEnabled: s.Depth.Enabled && s.DepthWrite,
			DepthCompare:      gputypes.CompareFunctionAlways,
			StencilFront:      keep,
			StencilBack:       keep,
		}
		if s.Depth.Enabled {
			ds.DepthCompare = s.Depth.Compare
		}
	}

	b.slogger().Debug("native: creating pipeline", "program", key.Program, "topology", key.Topology)
	return b.device.CreateRenderPipeline(&hal.RenderPipelineDescriptor{
		Label:  b.label("pipeline"),
		Layout: p.layout,
		Vertex: hal.VertexState{
			Module:     p.vs.raw,
			EntryPoint: p.vs.mod.EntryPoint,
			Buffers:    key.Buffers,
		},
		Primitive:    prim,
		DepthStencil: ds,
		Multisample:  gputypes.DefaultMultisampleState(),
		Fragment: &hal.FragmentState{
			Module:     p.fs.raw,
			EntryPoint: p.fs.mod.EntryPoint,
			Targets:    targets,
		},
	})
}

// bindGroups creates one bind group per group of p from its uniform
// buffers and the textures bound to the units its uniforms name.
func (b *Backend) bindGroups(p *program) ([]hal.BindGroup, []gpucore.TextureID, error) {
	entries := make([][]gputypes.BindGroupEntry, len(p.groups))
	var textures []gpucore.TextureID
	for _, r := range p.resources {
		key := resourceKey{r.Group, r.Binding}
		e := gputypes.BindGroupEntry{Binding: r.Binding}
		switch r.Kind {
		case gpucore.ResourceUniformBuffer:
			ub := p.uniforms[key]
			e.Resource = gputypes.BufferBinding{Buffer: ub.raw.NativeHandle(), Size: uint64(len(ub.shadow))}
		default:
			unit := p.units[key]
			tid, ok := b.bound.units[unit]
			if !ok {
				return nil, nil, fmt.Errorf("%w: no texture on unit %d for %q", ErrUnknownResource, unit, r.Name)
			}
			t, ok := b.textures[tid]
			if !ok {
				return nil, nil, fmt.Errorf("%w: texture %d", ErrUnknownResource, tid)
			}
			if r.Kind == gpucore.ResourceSampler {
				e.Resource = gputypes.SamplerBinding{Sampler: t.sampler.NativeHandle()}
			} else {
				e.Resource = gputypes.TextureViewBinding{TextureView: t.view.NativeHandle()}
			}
			textures = append(textures, tid)
		}
		entries[r.Group] = append(entries[r.Group], e)
	}

	groups := make([]hal.BindGroup, 0, len(p.groups))
	for i, layout := range p.groups {
		g, err := b.device.CreateBindGroup(&hal.BindGroupDescriptor{
			Label:   b.label(fmt.Sprintf("bind group %d", i)),
			Layout:  layout,
			Entries: entries[i],
		})
		if err != nil {
			for _, g := range groups {
				b.device.DestroyBindGroup(g)
			}
			return nil, nil, fmt.Errorf("native: create bind group: %w", err)
		}
		groups = append(groups, g)
	}
	return groups, textures, nil
}

// Bound returns the buffer bound to a target slot.
func (b *Backend) Bound(target gpucore.BufferTarget, slot uint32) (gpucore.BufferID, bool) {
	id, ok := b.bound.buffers[bufferSlot{target, slot}]
	return id, ok
}

// Stats returns the number of render passes begun and command buffers
// submitted since the backend was created.
func (b *Backend) Stats() (passes, submits uint64) {
	return b.frame.passes, b.frame.submits
}
