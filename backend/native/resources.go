package native

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/lumen/gpucore"
	"github.com/gogpu/lumen/internal/shaderir"
)

// buffer is a device buffer with a host shadow. Every write goes through
// the shadow, so reads never wait on the device.
type buffer struct {
	raw    hal.Buffer
	size   uint64
	shadow []byte
}

type texture struct {
	desc    gpucore.TextureDescriptor
	raw     hal.Texture
	view    hal.TextureView
	target  hal.TextureView
	sampler hal.Sampler
}

type stage struct {
	mod   *shaderir.Module
	raw   hal.ShaderModule
	refs  int
	freed bool
}

type resourceKey struct {
	group, binding uint32
}

type program struct {
	info      *gpucore.ProgramInfo
	vs, fs    *stage
	groups    []hal.BindGroupLayout
	layout    hal.PipelineLayout
	uniforms  map[resourceKey]*buffer
	units     map[resourceKey]uint32
	resources []gpucore.ResourceInfo
}

type framebuffer struct {
	desc  gpucore.FramebufferDescriptor
	color []*texture
	depth *texture
	owned bool
}

func align4(n uint64) uint64 { return (n + 3) &^ 3 }

// AllocateBuffer creates a device buffer. Sizes are padded to the
// 4-byte copy alignment.
func (b *Backend) AllocateBuffer(desc *gpucore.BufferDescriptor) (gpucore.BufferID, error) {
	buf, err := b.newBuffer(desc.Label, desc.Size, desc.Usage)
	if err != nil {
		return gpucore.InvalidID, err
	}
	id := gpucore.BufferID(b.id())
	b.buffers[id] = buf
	b.slogger().Debug("native: buffer allocated", "id", id, "size", desc.Size)
	return id, nil
}

func (b *Backend) newBuffer(label string, size uint64, usage gputypes.BufferUsage) (*buffer, error) {
	padded := max(align4(size), 4)
	if label == "" {
		label = b.label("buffer")
	}
	raw, err := b.device.CreateBuffer(&hal.BufferDescriptor{
		Label: label,
		Size:  padded,
		Usage: usage | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("native: create buffer: %w", err)
	}
	return &buffer{raw: raw, size: size, shadow: make([]byte, padded)}, nil
}

// write copies data into the shadow and uploads the enclosing aligned range.
func (b *Backend) write(buf *buffer, offset uint64, data []byte) error {
	copy(buf.shadow[offset:], data)
	lo := offset &^ 3
	hi := align4(offset + uint64(len(data)))
	if err := b.queue.WriteBuffer(buf.raw, lo, buf.shadow[lo:hi]); err != nil {
		return fmt.Errorf("native: write buffer: %w", err)
	}
	return nil
}

// UploadBuffer writes data at offset. Pending commands that read the
// buffer are submitted first.
func (b *Backend) UploadBuffer(id gpucore.BufferID, offset uint64, data []byte) error {
	buf, ok := b.buffers[id]
	if !ok {
		return fmt.Errorf("%w: buffer %d", ErrUnknownResource, id)
	}
	if !inRange(offset, uint64(len(data)), buf.size) {
		return fmt.Errorf("%w: write %d+%d into %d bytes", ErrRange, offset, len(data), buf.size)
	}
	if err := b.frame.before(b, uint64(id)); err != nil {
		return err
	}
	return b.write(buf, offset, data)
}

// ReadBuffer copies from the host shadow.
func (b *Backend) ReadBuffer(id gpucore.BufferID, offset uint64, dst []byte) error {
	buf, ok := b.buffers[id]
	if !ok {
		return fmt.Errorf("%w: buffer %d", ErrUnknownResource, id)
	}
	if !inRange(offset, uint64(len(dst)), buf.size) {
		return fmt.Errorf("%w: read %d+%d from %d bytes", ErrRange, offset, len(dst), buf.size)
	}
	copy(dst, buf.shadow[offset:])
	return nil
}

// FreeBuffer releases a buffer once no pending command uses it.
func (b *Backend) FreeBuffer(id gpucore.BufferID) {
	buf, ok := b.buffers[id]
	if !ok {
		return
	}
	delete(b.buffers, id)
	b.frame.release(b.device, func(d hal.Device) { d.DestroyBuffer(buf.raw) })
}

// AllocateTexture creates a texture with a sampling view and a sampler,
// plus a level 0 attachment view for render targets.
func (b *Backend) AllocateTexture(desc *gpucore.TextureDescriptor) (gpucore.TextureID, error) {
	if !b.SupportsTexture(desc.Format, desc.Dim) {
		return gpucore.InvalidID, fmt.Errorf("native: format %v unsupported for %v textures", desc.Format, desc.Dim)
	}
	t, err := b.newTexture(desc)
	if err != nil {
		return gpucore.InvalidID, err
	}
	id := gpucore.TextureID(b.id())
	b.textures[id] = t
	return id, nil
}

func (b *Backend) newTexture(desc *gpucore.TextureDescriptor) (*texture, error) {
	label := desc.Label
	if label == "" {
		label = b.label("texture")
	}
	usage := gputypes.TextureUsageTextureBinding | gputypes.TextureUsageCopyDst
	if desc.RenderTarget {
		usage |= gputypes.TextureUsageRenderAttachment | gputypes.TextureUsageCopySrc
	}
	raw, err := b.device.CreateTexture(&hal.TextureDescriptor{
		Label: label,
		Size: hal.Extent3D{
			Width:              desc.Size.Width,
			Height:             max(desc.Size.Height, 1),
			DepthOrArrayLayers: max(desc.Size.DepthOrArrayLayers, 1),
		},
		MipLevelCount: desc.MipLevels,
		SampleCount:   1,
		Dimension:     desc.Dim.Storage(),
		Format:        desc.Format,
		Usage:         usage,
	})
	if err != nil {
		return nil, fmt.Errorf("native: create texture: %w", err)
	}
	t := &texture{desc: *desc, raw: raw}

	layers := uint32(1)
	if desc.Dim.Layered() || desc.Dim == gpucore.TextureDimCube {
		layers = max(desc.Size.DepthOrArrayLayers, 1)
	}
	t.view, err = b.device.CreateTextureView(raw, &hal.TextureViewDescriptor{
		Label:           label + " view",
		Format:          desc.Format,
		Dimension:       desc.Dim.View(),
		Aspect:          gputypes.TextureAspectAll,
		MipLevelCount:   desc.MipLevels,
		ArrayLayerCount: layers,
	})
	if err != nil {
		t.destroy(b.device)
		return nil, fmt.Errorf("native: create texture view: %w", err)
	}
	if desc.RenderTarget {
		t.target, err = b.device.CreateTextureView(raw, &hal.TextureViewDescriptor{
			Label:           label + " target",
			Format:          desc.Format,
			Dimension:       gputypes.TextureViewDimension2D,
			Aspect:          gputypes.TextureAspectAll,
			MipLevelCount:   1,
			ArrayLayerCount: 1,
		})
		if err != nil {
			t.destroy(b.device)
			return nil, fmt.Errorf("native: create target view: %w", err)
		}
	}
	s := desc.Sampler
	t.sampler, err = b.device.CreateSampler(&hal.SamplerDescriptor{
		Label:        label + " sampler",
		AddressModeU: s.AddressU,
		AddressModeV: s.AddressV,
		AddressModeW: s.AddressW,
		MagFilter:    s.MagFilter,
		MinFilter:    s.MinFilter,
		MipmapFilter: s.MipmapFilter,
		LodMaxClamp:  float32(desc.MipLevels),
		Compare:      s.Compare,
		Anisotropy:   1,
	})
	if err != nil {
		t.destroy(b.device)
		return nil, fmt.Errorf("native: create sampler: %w", err)
	}
	return t, nil
}

func (t *texture) destroy(d hal.Device) {
	if t.sampler != nil {
		d.DestroySampler(t.sampler)
	}
	if t.target != nil {
		d.DestroyTextureView(t.target)
	}
	if t.view != nil {
		d.DestroyTextureView(t.view)
	}
	d.DestroyTexture(t.raw)
}

// UploadTexture writes tightly packed texels into a region of one level.
func (b *Backend) UploadTexture(id gpucore.TextureID, region gpucore.TextureRegion, data []byte) error {
	t, ok := b.textures[id]
	if !ok {
		return fmt.Errorf("%w: texture %d", ErrUnknownResource, id)
	}
	if region.Level >= t.desc.MipLevels {
		return fmt.Errorf("%w: level %d of %d", ErrRange, region.Level, t.desc.MipLevels)
	}
	e := gpucore.MipExtent(t.desc.Dim, t.desc.Size, region.Level)
	o, s := region.Origin, region.Size
	if o.X+s.Width > e.Width || o.Y+s.Height > e.Height || o.Z+s.DepthOrArrayLayers > max(e.DepthOrArrayLayers, 1) {
		return fmt.Errorf("%w: region exceeds level %d extent", ErrRange, region.Level)
	}
	texel, _ := gpucore.TexelSize(t.desc.Format)
	row := s.Width * texel
	if uint64(len(data)) != uint64(row)*uint64(s.Height)*uint64(s.DepthOrArrayLayers) {
		return fmt.Errorf("%w: %d bytes for region", ErrRange, len(data))
	}
	if err := b.frame.before(b, uint64(id)); err != nil {
		return err
	}
	err := b.queue.WriteTexture(
		&hal.ImageCopyTexture{
			Texture:  t.raw,
			MipLevel: region.Level,
			Origin:   hal.Origin3D{X: o.X, Y: o.Y, Z: o.Z},
			Aspect:   gputypes.TextureAspectAll,
		},
		data,
		&hal.ImageDataLayout{BytesPerRow: row, RowsPerImage: s.Height},
		&hal.Extent3D{Width: s.Width, Height: s.Height, DepthOrArrayLayers: s.DepthOrArrayLayers},
	)
	if err != nil {
		return fmt.Errorf("native: write texture: %w", err)
	}
	return nil
}

// FreeTexture releases a texture once no pending command uses it.
func (b *Backend) FreeTexture(id gpucore.TextureID) {
	t, ok := b.textures[id]
	if !ok {
		return
	}
	delete(b.textures, id)
	b.frame.release(b.device, t.destroy)
}

// CompileStage validates the stage with naga, then creates the device
// shader module from WGSL or, with Config.PreferSPIRV, from SPIR-V.
func (b *Backend) CompileStage(desc *gpucore.StageDescriptor) (gpucore.StageID, error) {
	m, err := shaderir.Compile(desc.Kind, desc.Source)
	if err != nil {
		return gpucore.InvalidID, err
	}
	src := hal.ShaderSource{WGSL: desc.Source}
	if b.cfg.PreferSPIRV {
		words, err := shaderir.SPIRV(m)
		if err != nil {
			return gpucore.InvalidID, &gpucore.CompileError{Log: err.Error()}
		}
		src = hal.ShaderSource{SPIRV: words}
	}
	label := desc.Label
	if label == "" {
		label = b.label(desc.Kind.String() + " stage")
	}
	raw, err := b.device.CreateShaderModule(&hal.ShaderModuleDescriptor{Label: label, Source: src})
	if err != nil {
		return gpucore.InvalidID, &gpucore.CompileError{Log: err.Error()}
	}
	id := gpucore.StageID(b.id())
	b.stages[id] = &stage{mod: m, raw: raw}
	return id, nil
}

// FreeStage releases a stage. Its shader module lives on while linked
// programs use it.
func (b *Backend) FreeStage(id gpucore.StageID) {
	s, ok := b.stages[id]
	if !ok {
		return
	}
	delete(b.stages, id)
	s.freed = true
	b.dropStage(s)
}

func (b *Backend) dropStage(s *stage) {
	if s.freed && s.refs == 0 {
		b.frame.release(b.device, func(d hal.Device) { d.DestroyShaderModule(s.raw) })
	}
}

// LinkProgram checks the stage interfaces and creates the bind group
// layouts, the pipeline layout and one uniform buffer per uniform block.
func (b *Backend) LinkProgram(desc *gpucore.ProgramDescriptor) (gpucore.ProgramID, *gpucore.ProgramInfo, error) {
	if desc.Geometry != gpucore.InvalidID || desc.TessControl != gpucore.InvalidID || desc.TessEval != gpucore.InvalidID {
		return gpucore.InvalidID, nil, &gpucore.LinkError{Log: "only vertex and fragment stages can be linked"}
	}
	vs, fs := b.stages[desc.Vertex], b.stages[desc.Fragment]
	var vm, fm *shaderir.Module
	if vs != nil {
		vm = vs.mod
	}
	if fs != nil {
		fm = fs.mod
	}
	info, err := shaderir.Link(vm, fm)
	if err != nil {
		return gpucore.InvalidID, nil, err
	}

	p := &program{
		info:      info,
		vs:        vs,
		fs:        fs,
		uniforms:  make(map[resourceKey]*buffer),
		units:     make(map[resourceKey]uint32),
		resources: info.Resources,
	}
	if err := b.buildLayouts(p, desc.Label); err != nil {
		p.destroy(b.device)
		return gpucore.InvalidID, nil, err
	}
	vs.refs++
	fs.refs++

	id := gpucore.ProgramID(b.id())
	b.programs[id] = p
	return id, info, nil
}

func (b *Backend) buildLayouts(p *program, label string) error {
	if label == "" {
		label = b.label("program")
	}
	groups := 0
	entries := make(map[uint32][]gputypes.BindGroupLayoutEntry)
	for _, r := range p.resources {
		entries[r.Group] = append(entries[r.Group], layoutEntry(r))
		groups = max(groups, int(r.Group)+1)

		if r.Kind == gpucore.ResourceUniformBuffer {
			ub, err := b.newBuffer(fmt.Sprintf("%s %s", label, r.Name), max(uint64(r.Size), 16), gputypes.BufferUsageUniform)
			if err != nil {
				return err
			}
			p.uniforms[resourceKey{r.Group, r.Binding}] = ub
		}
	}
	for g := range groups {
		l, err := b.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
			Label:   fmt.Sprintf("%s group %d", label, g),
			Entries: entries[uint32(g)],
		})
		if err != nil {
			return fmt.Errorf("native: create bind group layout: %w", err)
		}
		p.groups = append(p.groups, l)
	}
	layout, err := b.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            label + " layout",
		BindGroupLayouts: p.groups,
	})
	if err != nil {
		return fmt.Errorf("native: create pipeline layout: %w", err)
	}
	p.layout = layout
	return nil
}

func layoutEntry(r gpucore.ResourceInfo) gputypes.BindGroupLayoutEntry {
	e := gputypes.BindGroupLayoutEntry{
		Binding:    r.Binding,
		Visibility: gputypes.ShaderStagesVertexFragment,
	}
	switch r.Kind {
	case gpucore.ResourceUniformBuffer:
		e.Buffer = &gputypes.BufferBindingLayout{
			Type:           gputypes.BufferBindingTypeUniform,
			MinBindingSize: uint64(r.Size),
		}
	case gpucore.ResourceSampler:
		typ := gputypes.SamplerBindingTypeFiltering
		if r.Type == gpucore.TypeSamplerComparison {
			typ = gputypes.SamplerBindingTypeComparison
		}
		e.Sampler = &gputypes.SamplerBindingLayout{Type: typ}
	case gpucore.ResourceTexture:
		e.Texture = &gputypes.TextureBindingLayout{
			SampleType:    gputypes.TextureSampleTypeFloat,
			ViewDimension: viewDimension(r.Type),
		}
		if r.Type == gpucore.TypeTextureDepth {
			e.Texture.SampleType = gputypes.TextureSampleTypeDepth
		}
	}
	return e
}

func viewDimension(t gpucore.UniformType) gputypes.TextureViewDimension {
	switch t {
	case gpucore.TypeTexture1D:
		return gputypes.TextureViewDimension1D
	case gpucore.TypeTexture3D:
		return gputypes.TextureViewDimension3D
	case gpucore.TypeTextureCube:
		return gputypes.TextureViewDimensionCube
	case gpucore.TypeTexture2DArray:
		return gputypes.TextureViewDimension2DArray
	default:
		return gputypes.TextureViewDimension2D
	}
}

func (p *program) destroy(d hal.Device) {
	if p.layout != nil {
		d.DestroyPipelineLayout(p.layout)
	}
	for _, l := range p.groups {
		d.DestroyBindGroupLayout(l)
	}
	for _, ub := range p.uniforms {
		d.DestroyBuffer(ub.raw)
	}
}

// FreeProgram releases a program and the pipelines created for it.
func (b *Backend) FreeProgram(id gpucore.ProgramID) {
	p, ok := b.programs[id]
	if !ok {
		return
	}
	delete(b.programs, id)
	if b.bound.program == id {
		b.bound.program = gpucore.InvalidID
	}
	b.pipelines.Evict(id, func(rp hal.RenderPipeline) {
		b.frame.release(b.device, func(d hal.Device) { d.DestroyRenderPipeline(rp) })
	})
	b.frame.release(b.device, p.destroy)
	p.vs.refs--
	p.fs.refs--
	b.dropStage(p.vs)
	b.dropStage(p.fs)
}

// CreateFramebuffer records a framebuffer's attachments. Attachments are
// resolved when a render pass begins.
func (b *Backend) CreateFramebuffer(desc *gpucore.FramebufferDescriptor) (gpucore.FramebufferID, error) {
	d := *desc
	d.Color = append([]gpucore.TextureID(nil), desc.Color...)
	id := gpucore.FramebufferID(b.id())
	b.framebuffers[id] = &framebuffer{desc: d}
	return id, nil
}

// FramebufferStatus checks attachment presence, usage and sizes.
func (b *Backend) FramebufferStatus(id gpucore.FramebufferID) gpucore.FramebufferStatus {
	if id == gpucore.DefaultFramebuffer {
		return gpucore.FramebufferComplete
	}
	fb, ok := b.framebuffers[id]
	if !ok {
		return gpucore.FramebufferUnknown
	}
	if err := b.resolve(fb); err != nil {
		return gpucore.FramebufferMissingAttachment
	}
	all := append([]*texture(nil), fb.color...)
	if fb.depth != nil {
		all = append(all, fb.depth)
	}
	if len(all) == 0 {
		return gpucore.FramebufferMissingAttachment
	}
	size := all[0].desc.Size
	for _, t := range all {
		if !t.desc.RenderTarget {
			return gpucore.FramebufferUnsupported
		}
		if t.desc.Size.Width != size.Width || t.desc.Size.Height != size.Height {
			return gpucore.FramebufferDimensionMismatch
		}
	}
	return gpucore.FramebufferComplete
}

// resolve looks up the textures named by a framebuffer's descriptor.
func (b *Backend) resolve(fb *framebuffer) error {
	if fb.owned {
		return nil
	}
	fb.color = fb.color[:0]
	for _, tid := range fb.desc.Color {
		t, ok := b.textures[tid]
		if !ok {
			return fmt.Errorf("%w: attachment %d", ErrUnknownResource, tid)
		}
		fb.color = append(fb.color, t)
	}
	fb.depth = nil
	if fb.desc.Depth != gpucore.InvalidID {
		t, ok := b.textures[fb.desc.Depth]
		if !ok {
			return fmt.Errorf("%w: attachment %d", ErrUnknownResource, fb.desc.Depth)
		}
		fb.depth = t
	}
	return nil
}

// FreeFramebuffer releases a framebuffer. Attachments are not freed.
func (b *Backend) FreeFramebuffer(id gpucore.FramebufferID) {
	if _, ok := b.framebuffers[id]; !ok {
		return
	}
	delete(b.framebuffers, id)
	if b.bound.framebuffer == id {
		b.bound.framebuffer = gpucore.DefaultFramebuffer
	}
	if b.frame.pass != nil && b.frame.passFB == id {
		b.frame.endPass()
	}
}

// createDefaultFramebuffer creates the offscreen target behind the
// default framebuffer.
func (b *Backend) createDefaultFramebuffer() (*framebuffer, error) {
	size := gputypes.Extent3D{Width: b.cfg.Width, Height: b.cfg.Height, DepthOrArrayLayers: 1}
	color, err := b.newTexture(&gpucore.TextureDescriptor{
		Label:        b.label("default color"),
		Dim:          gpucore.TextureDim2D,
		Size:         size,
		Format:       b.cfg.SurfaceFormat,
		MipLevels:    1,
		RenderTarget: true,
	})
	if err != nil {
		return nil, err
	}
	fb := &framebuffer{color: []*texture{color}, owned: true}
	if b.cfg.DepthFormat != gputypes.TextureFormatUndefined {
		fb.depth, err = b.newTexture(&gpucore.TextureDescriptor{
			Label:        b.label("default depth"),
			Dim:          gpucore.TextureDim2D,
			Size:         size,
			Format:       b.cfg.DepthFormat,
			MipLevels:    1,
			RenderTarget: true,
		})
		if err != nil {
			color.destroy(b.device)
			return nil, err
		}
	}
	return fb, nil
}

func (fb *framebuffer) destroyOwned(d hal.Device) {
	if !fb.owned {
		return
	}
	for _, t := range fb.color {
		t.destroy(d)
	}
	if fb.depth != nil {
		fb.depth.destroy(d)
	}
}

func (fb *framebuffer) size() (uint32, uint32) {
	if len(fb.color) > 0 {
		return fb.color[0].desc.Size.Width, fb.color[0].desc.Size.Height
	}
	if fb.depth != nil {
		return fb.depth.desc.Size.Width, fb.depth.desc.Size.Height
	}
	return 1, 1
}

// inRange reports whether [offset, offset+n) lies within size bytes.
func inRange(offset, n, size uint64) bool {
	return n <= size && offset <= size-n
}
