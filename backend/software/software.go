// Package software implements an in-memory lumen backend.
//
// The software backend keeps every resource in host memory, validates each
// call against its own mirror of the bound state, and records a call log.
// It does not rasterize; draws are checked and counted. This makes it the
// reference backend for tests and for headless tools that only need to know
// what would reach a GPU.
package software

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/lumen/backend"
	"github.com/gogpu/lumen/gpucore"
	"github.com/gogpu/lumen/internal/shaderir"
)

// Name is the registry name of the software backend.
const Name = "software"

// Backend errors.
var (
	// ErrUnknownResource is returned when an ID does not name a live object.
	ErrUnknownResource = errors.New("software: unknown resource")

	// ErrNoProgram is returned when drawing or setting uniforms without a program.
	ErrNoProgram = errors.New("software: no program in use")

	// ErrNoIndexBuffer is returned for indexed draws without an index buffer.
	ErrNoIndexBuffer = errors.New("software: no index buffer bound")

	// ErrRange is returned when an access exceeds a resource's extent.
	ErrRange = errors.New("software: access out of range")

	// ErrOutOfMemory is returned when an allocation exceeds Config.MemoryLimit.
	ErrOutOfMemory = errors.New("software: out of memory")
)

func init() {
	backend.Register(Name, func() gpucore.Backend { return New(Config{}) })
}

// Config configures a software backend.
type Config struct {
	// Limits overrides the reported limits. Zero fields use gpucore.DefaultLimits.
	Limits gpucore.Limits

	// Unsupported lists texture formats the backend rejects. Compressed
	// formats are always rejected.
	Unsupported []gputypes.TextureFormat

	// MemoryLimit caps total allocated bytes. 0 means unlimited.
	MemoryLimit uint64

	// Width and Height size the default framebuffer. 0 defaults to 1.
	Width, Height uint32
}

func (c Config) withDefaults() Config {
	d := gpucore.DefaultLimits()
	l := &c.Limits
	if l.MaxTextureSize1D == 0 {
		l.MaxTextureSize1D = d.MaxTextureSize1D
	}
	if l.MaxTextureSize2D == 0 {
		l.MaxTextureSize2D = d.MaxTextureSize2D
	}
	if l.MaxTextureSize3D == 0 {
		l.MaxTextureSize3D = d.MaxTextureSize3D
	}
	if l.MaxTextureLayers == 0 {
		l.MaxTextureLayers = d.MaxTextureLayers
	}
	if l.MaxTextureUnits == 0 {
		l.MaxTextureUnits = d.MaxTextureUnits
	}
	if l.MaxVertexBuffers == 0 {
		l.MaxVertexBuffers = d.MaxVertexBuffers
	}
	if l.MaxColorAttachments == 0 {
		l.MaxColorAttachments = d.MaxColorAttachments
	}
	if c.Width == 0 {
		c.Width = 1
	}
	if c.Height == 0 {
		c.Height = 1
	}
	return c
}

type buffer struct {
	data  []byte
	usage gputypes.BufferUsage
}

type texture struct {
	desc   gpucore.TextureDescriptor
	levels [][]byte
}

type program struct {
	info     *gpucore.ProgramInfo
	uniforms map[gpucore.UniformLocation][]byte
}

type bufferBinding struct {
	target gpucore.BufferTarget
	slot   uint32
}

// Backend is the software backend. It is not safe for concurrent use.
type Backend struct {
	cfg    Config
	logger atomic.Pointer[slog.Logger]

	nextID  uint64
	used    uint64
	buffers map[gpucore.BufferID]*buffer
	texs    map[gpucore.TextureID]*texture
	stages  map[gpucore.StageID]*shaderir.Module
	progs   map[gpucore.ProgramID]*program
	fbs     map[gpucore.FramebufferID]gpucore.FramebufferDescriptor

	framebuffer gpucore.FramebufferID
	viewport    gpucore.Viewport
	render      gpucore.RenderState
	program     gpucore.ProgramID
	bound       map[bufferBinding]gpucore.BufferID
	units       map[uint32]gpucore.TextureID
	defaultFB   []byte
	lastClear   gpucore.ClearOp

	log      []Call
	failures map[string]error
	drawn    DrawStats
}

// New creates a software backend.
func New(cfg Config) *Backend {
	cfg = cfg.withDefaults()
	b := &Backend{
		cfg:       cfg,
		buffers:   make(map[gpucore.BufferID]*buffer),
		texs:      make(map[gpucore.TextureID]*texture),
		stages:    make(map[gpucore.StageID]*shaderir.Module),
		progs:     make(map[gpucore.ProgramID]*program),
		fbs:       make(map[gpucore.FramebufferID]gpucore.FramebufferDescriptor),
		bound:     make(map[bufferBinding]gpucore.BufferID),
		units:     make(map[uint32]gpucore.TextureID),
		defaultFB: make([]byte, int(cfg.Width)*int(cfg.Height)*4),
		failures:  make(map[string]error),
	}
	b.logger.Store(slog.New(nopHandler{}))
	return b
}

// SetLogger sets the backend's logger. Nil restores silence.
func (b *Backend) SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.New(nopHandler{})
	}
	b.logger.Store(l)
}

func (b *Backend) slogger() *slog.Logger { return b.logger.Load() }

// Name returns the backend identifier.
func (b *Backend) Name() string { return Name }

// Limits returns the configured limits.
func (b *Backend) Limits() gpucore.Limits { return b.cfg.Limits }

// SupportsTexture reports whether format can back a texture of dim.
func (b *Backend) SupportsTexture(format gputypes.TextureFormat, dim gpucore.TextureDim) bool {
	if _, ok := gpucore.TexelSize(format); !ok {
		return false
	}
	for _, f := range b.cfg.Unsupported {
		if f == format {
			return false
		}
	}
	if format.IsDepthStencil() && (dim == gpucore.TextureDim3D || dim == gpucore.TextureDim1D || dim == gpucore.TextureDim1DArray) {
		return false
	}
	return true
}

// SupportsStage reports whether kind compiles from WGSL.
func (b *Backend) SupportsStage(kind gpucore.StageKind) bool {
	return shaderir.Supported(kind)
}

func (b *Backend) id() uint64 {
	b.nextID++
	return b.nextID
}

// AllocateBuffer allocates zeroed host memory.
func (b *Backend) AllocateBuffer(desc *gpucore.BufferDescriptor) (gpucore.BufferID, error) {
	if err := b.record(OpAllocateBuffer, desc.Label); err != nil {
		return gpucore.InvalidID, err
	}
	if err := b.reserve(desc.Size); err != nil {
		return gpucore.InvalidID, err
	}
	id := gpucore.BufferID(b.id())
	b.buffers[id] = &buffer{data: make([]byte, desc.Size), usage: desc.Usage}
	b.slogger().Debug("software: buffer allocated", "id", id, "size", desc.Size)
	return id, nil
}

// UploadBuffer copies data into a buffer.
func (b *Backend) UploadBuffer(id gpucore.BufferID, offset uint64, data []byte) error {
	if err := b.record(OpUploadBuffer, id); err != nil {
		return err
	}
	buf, ok := b.buffers[id]
	if !ok {
		return fmt.Errorf("%w: buffer %d", ErrUnknownResource, id)
	}
	if !inRange(offset, uint64(len(data)), uint64(len(buf.data))) {
		return fmt.Errorf("%w: write %d+%d into %d bytes", ErrRange, offset, len(data), len(buf.data))
	}
	copy(buf.data[offset:], data)
	return nil
}

// ReadBuffer copies buffer contents into dst.
func (b *Backend) ReadBuffer(id gpucore.BufferID, offset uint64, dst []byte) error {
	if err := b.record(OpReadBuffer, id); err != nil {
		return err
	}
	buf, ok := b.buffers[id]
	if !ok {
		return fmt.Errorf("%w: buffer %d", ErrUnknownResource, id)
	}
	if !inRange(offset, uint64(len(dst)), uint64(len(buf.data))) {
		return fmt.Errorf("%w: read %d+%d from %d bytes", ErrRange, offset, len(dst), len(buf.data))
	}
	copy(dst, buf.data[offset:])
	return nil
}

// FreeBuffer releases a buffer.
func (b *Backend) FreeBuffer(id gpucore.BufferID) {
	_ = b.record(OpFreeBuffer, id)
	if buf, ok := b.buffers[id]; ok {
		b.used -= uint64(len(buf.data))
		delete(b.buffers, id)
	}
}

// AllocateTexture allocates every mip level of a texture.
func (b *Backend) AllocateTexture(desc *gpucore.TextureDescriptor) (gpucore.TextureID, error) {
	if err := b.record(OpAllocateTexture, desc.Label); err != nil {
		return gpucore.InvalidID, err
	}
	if !b.SupportsTexture(desc.Format, desc.Dim) {
		return gpucore.InvalidID, fmt.Errorf("software: format %v unsupported for %v textures", desc.Format, desc.Dim)
	}
	texel, _ := gpucore.TexelSize(desc.Format)
	t := &texture{desc: *desc, levels: make([][]byte, desc.MipLevels)}
	var total uint64
	for l := range t.levels {
		e := gpucore.MipExtent(desc.Dim, desc.Size, uint32(l))
		total += uint64(e.Width) * uint64(e.Height) * uint64(e.DepthOrArrayLayers) * uint64(texel)
	}
	if err := b.reserve(total); err != nil {
		return gpucore.InvalidID, err
	}
	for l := range t.levels {
		e := gpucore.MipExtent(desc.Dim, desc.Size, uint32(l))
		t.levels[l] = make([]byte, int(e.Width)*int(e.Height)*int(e.DepthOrArrayLayers)*int(texel))
	}
	id := gpucore.TextureID(b.id())
	b.texs[id] = t
	return id, nil
}

// UploadTexture copies texels into a region of one mip level.
// Rows are tightly packed in data.
func (b *Backend) UploadTexture(id gpucore.TextureID, region gpucore.TextureRegion, data []byte) error {
	if err := b.record(OpUploadTexture, id); err != nil {
		return err
	}
	t, ok := b.texs[id]
	if !ok {
		return fmt.Errorf("%w: texture %d", ErrUnknownResource, id)
	}
	if region.Level >= uint32(len(t.levels)) {
		return fmt.Errorf("%w: level %d of %d", ErrRange, region.Level, len(t.levels))
	}
	e := gpucore.MipExtent(t.desc.Dim, t.desc.Size, region.Level)
	o, s := region.Origin, region.Size
	if o.X+s.Width > e.Width || o.Y+s.Height > e.Height || o.Z+s.DepthOrArrayLayers > e.DepthOrArrayLayers {
		return fmt.Errorf("%w: region exceeds level %d extent", ErrRange, region.Level)
	}
	texel, _ := gpucore.TexelSize(t.desc.Format)
	row := int(s.Width * texel)
	if len(data) != row*int(s.Height)*int(s.DepthOrArrayLayers) {
		return fmt.Errorf("%w: %d bytes for region", ErrRange, len(data))
	}
	dst := t.levels[region.Level]
	pitch := int(e.Width * texel)
	slice := pitch * int(e.Height)
	for z := 0; z < int(s.DepthOrArrayLayers); z++ {
		for y := 0; y < int(s.Height); y++ {
			src := (z*int(s.Height) + y) * row
			off := (int(o.Z)+z)*slice + (int(o.Y)+y)*pitch + int(o.X*texel)
			copy(dst[off:off+row], data[src:src+row])
		}
	}
	return nil
}

// FreeTexture releases a texture.
func (b *Backend) FreeTexture(id gpucore.TextureID) {
	_ = b.record(OpFreeTexture, id)
	if t, ok := b.texs[id]; ok {
		for _, l := range t.levels {
			b.used -= uint64(len(l))
		}
		delete(b.texs, id)
	}
}

// CompileStage compiles a WGSL stage.
func (b *Backend) CompileStage(desc *gpucore.StageDescriptor) (gpucore.StageID, error) {
	if err := b.record(OpCompileStage, desc.Kind); err != nil {
		return gpucore.InvalidID, err
	}
	m, err := shaderir.Compile(desc.Kind, desc.Source)
	if err != nil {
		return gpucore.InvalidID, err
	}
	id := gpucore.StageID(b.id())
	b.stages[id] = m
	return id, nil
}

// FreeStage releases a compiled stage.
func (b *Backend) FreeStage(id gpucore.StageID) {
	_ = b.record(OpFreeStage, id)
	delete(b.stages, id)
}

// LinkProgram links vertex and fragment stages.
func (b *Backend) LinkProgram(desc *gpucore.ProgramDescriptor) (gpucore.ProgramID, *gpucore.ProgramInfo, error) {
	if err := b.record(OpLinkProgram, desc.Label); err != nil {
		return gpucore.InvalidID, nil, err
	}
	if desc.Geometry != gpucore.InvalidID || desc.TessControl != gpucore.InvalidID || desc.TessEval != gpucore.InvalidID {
		return gpucore.InvalidID, nil, &gpucore.LinkError{Log: "only vertex and fragment stages can be linked"}
	}
	info, err := shaderir.Link(b.stages[desc.Vertex], b.stages[desc.Fragment])
	if err != nil {
		return gpucore.InvalidID, nil, err
	}
	id := gpucore.ProgramID(b.id())
	b.progs[id] = &program{info: info, uniforms: make(map[gpucore.UniformLocation][]byte)}
	return id, info, nil
}

// FreeProgram releases a program.
func (b *Backend) FreeProgram(id gpucore.ProgramID) {
	_ = b.record(OpFreeProgram, id)
	delete(b.progs, id)
	if b.program == id {
		b.program = gpucore.InvalidID
	}
}

// CreateFramebuffer records a framebuffer's attachments.
func (b *Backend) CreateFramebuffer(desc *gpucore.FramebufferDescriptor) (gpucore.FramebufferID, error) {
	if err := b.record(OpCreateFramebuffer, desc.Label); err != nil {
		return gpucore.DefaultFramebuffer, err
	}
	id := gpucore.FramebufferID(b.id())
	d := *desc
	d.Color = append([]gpucore.TextureID(nil), desc.Color...)
	b.fbs[id] = d
	return id, nil
}

// FramebufferStatus checks attachment presence and sizes.
func (b *Backend) FramebufferStatus(id gpucore.FramebufferID) gpucore.FramebufferStatus {
	_ = b.record(OpFramebufferStatus, id)
	if id == gpucore.DefaultFramebuffer {
		return gpucore.FramebufferComplete
	}
	desc, ok := b.fbs[id]
	if !ok {
		return gpucore.FramebufferUnknown
	}
	var size *gputypes.Extent3D
	attachments := append([]gpucore.TextureID(nil), desc.Color...)
	if desc.Depth != gpucore.InvalidID {
		attachments = append(attachments, desc.Depth)
	}
	if len(attachments) == 0 {
		return gpucore.FramebufferMissingAttachment
	}
	for _, tid := range attachments {
		t, ok := b.texs[tid]
		if !ok {
			return gpucore.FramebufferMissingAttachment
		}
		if !t.desc.RenderTarget {
			return gpucore.FramebufferUnsupported
		}
		e := t.desc.Size
		if size == nil {
			size = &e
		} else if e.Width != size.Width || e.Height != size.Height {
			return gpucore.FramebufferDimensionMismatch
		}
	}
	return gpucore.FramebufferComplete
}

// FreeFramebuffer releases a framebuffer. Attachments are not freed.
func (b *Backend) FreeFramebuffer(id gpucore.FramebufferID) {
	_ = b.record(OpFreeFramebuffer, id)
	delete(b.fbs, id)
	if b.framebuffer == id {
		b.framebuffer = gpucore.DefaultFramebuffer
	}
}

// Flush is a no-op; the software backend applies calls immediately.
func (b *Backend) Flush() error {
	return b.record(OpFlush, nil)
}

func (b *Backend) reserve(n uint64) error {
	if b.cfg.MemoryLimit > 0 && b.used+n > b.cfg.MemoryLimit {
		return fmt.Errorf("%w: %d bytes requested, %d of %d in use", ErrOutOfMemory, n, b.used, b.cfg.MemoryLimit)
	}
	b.used += n
	return nil
}

// MemoryUsed returns the number of allocated bytes.
func (b *Backend) MemoryUsed() uint64 { return b.used }

// BufferCount returns the number of live buffers.
func (b *Backend) BufferCount() int { return len(b.buffers) }

// HasBuffer reports whether id names a live buffer.
func (b *Backend) HasBuffer(id gpucore.BufferID) bool {
	_, ok := b.buffers[id]
	return ok
}

// HasTexture reports whether id names a live texture.
func (b *Backend) HasTexture(id gpucore.TextureID) bool {
	_, ok := b.texs[id]
	return ok
}

// HasProgram reports whether id names a live program.
func (b *Backend) HasProgram(id gpucore.ProgramID) bool {
	_, ok := b.progs[id]
	return ok
}

// TextureLevel returns a copy of one mip level's texels.
func (b *Backend) TextureLevel(id gpucore.TextureID, level uint32) ([]byte, bool) {
	t, ok := b.texs[id]
	if !ok || level >= uint32(len(t.levels)) {
		return nil, false
	}
	return append([]byte(nil), t.levels[level]...), true
}

// Uniform returns the bytes last written to a program's uniform location.
func (b *Backend) Uniform(id gpucore.ProgramID, loc gpucore.UniformLocation) ([]byte, bool) {
	p, ok := b.progs[id]
	if !ok {
		return nil, false
	}
	v, ok := p.uniforms[loc]
	return v, ok
}

// DefaultFramebufferPixels returns the RGBA8 contents of the default framebuffer.
func (b *Backend) DefaultFramebufferPixels() []byte {
	return append([]byte(nil), b.defaultFB...)
}

// inRange reports whether [offset, offset+n) lies within size bytes.
func inRange(offset, n, size uint64) bool {
	return n <= size && offset <= size-n
}
