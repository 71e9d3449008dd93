// Package native implements the lumen backend over a gogpu/wgpu HAL device.
//
// The backend translates the bind-and-draw model of lumen into WebGPU
// objects: programs become pipeline layouts plus a cache of render
// pipelines keyed by draw configuration, uniforms live in per-program
// uniform buffers, and texture units are resolved into bind groups at
// draw time. Commands are recorded into one encoder and submitted by
// Flush.
//
// The device and queue come from a gpucontext.DeviceProvider whose
// Device() and Queue() are hal.Device and hal.Queue:
//
//	b, err := native.New(provider, native.Config{})
//	if err != nil {
//	    return err
//	}
//	ctx, err := lumen.NewContext(b)
package native

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/lumen/backend"
	"github.com/gogpu/lumen/gpucore"
	"github.com/gogpu/lumen/internal/shaderir"
)

// Name is the registry name of the native backend.
const Name = backend.NameNative

// Backend errors.
var (
	// ErrNotHAL is returned when a provider's device or queue is not a HAL object.
	ErrNotHAL = errors.New("native: provider does not expose hal.Device and hal.Queue")

	// ErrUnknownResource is returned when an ID does not name a live object.
	ErrUnknownResource = errors.New("native: unknown resource")

	// ErrNoProgram is returned when drawing without a program in use.
	ErrNoProgram = errors.New("native: no program in use")

	// ErrRange is returned when an access exceeds a resource's extent.
	ErrRange = errors.New("native: access out of range")

	// ErrNoIndexBuffer is returned for an indexed draw without an index buffer.
	ErrNoIndexBuffer = errors.New("native: no index buffer bound")

	// ErrRestartIndex is returned for a primitive restart index other than
	// the maximum value of the index format.
	ErrRestartIndex = errors.New("native: restart index must be the maximum index value")
)

// Config configures a native backend.
type Config struct {
	// SurfaceFormat is the default framebuffer color format.
	// Undefined uses the provider's surface format, then BGRA8Unorm.
	SurfaceFormat gputypes.TextureFormat

	// DepthFormat adds a depth attachment to the default framebuffer when
	// not Undefined.
	DepthFormat gputypes.TextureFormat

	// Width and Height size the default framebuffer. 0 defaults to 1.
	Width, Height uint32

	// Label prefixes the debug labels of created objects.
	Label string

	// PreferSPIRV hands shader modules to the device as SPIR-V generated
	// by naga instead of WGSL source.
	PreferSPIRV bool

	// Limits overrides the reported limits. Zero fields use gpucore.DefaultLimits.
	Limits gpucore.Limits
}

func (c Config) withDefaults() Config {
	if c.SurfaceFormat == gputypes.TextureFormatUndefined {
		c.SurfaceFormat = gputypes.TextureFormatBGRA8Unorm
	}
	if c.Width == 0 {
		c.Width = 1
	}
	if c.Height == 0 {
		c.Height = 1
	}
	if c.Label == "" {
		c.Label = "lumen"
	}
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
	return c
}

// Backend is the native backend. It is not safe for concurrent use.
type Backend struct {
	cfg    Config
	device hal.Device
	queue  hal.Queue
	logger atomic.Pointer[slog.Logger]

	nextID       uint64
	buffers      map[gpucore.BufferID]*buffer
	textures     map[gpucore.TextureID]*texture
	stages       map[gpucore.StageID]*stage
	programs     map[gpucore.ProgramID]*program
	framebuffers map[gpucore.FramebufferID]*framebuffer

	pipelines *PipelineCache
	frame     frame
	bound     binding

	defaultFB *framebuffer
}

// FromProvider extracts the HAL device and queue of a provider.
func FromProvider(p gpucontext.DeviceProvider) (hal.Device, hal.Queue, error) {
	if p == nil {
		return nil, nil, ErrNotHAL
	}
	device, ok := p.Device().(hal.Device)
	if !ok || device == nil {
		return nil, nil, ErrNotHAL
	}
	queue, ok := p.Queue().(hal.Queue)
	if !ok || queue == nil {
		return nil, nil, ErrNotHAL
	}
	return device, queue, nil
}

// New creates a backend on the provider's device. A zero
// Config.SurfaceFormat takes the provider's surface format.
func New(p gpucontext.DeviceProvider, cfg Config) (*Backend, error) {
	device, queue, err := FromProvider(p)
	if err != nil {
		return nil, err
	}
	if cfg.SurfaceFormat == gputypes.TextureFormatUndefined {
		cfg.SurfaceFormat = p.SurfaceFormat()
	}
	return NewWithDevice(device, queue, cfg)
}

// NewWithDevice creates a backend on an already opened device.
func NewWithDevice(device hal.Device, queue hal.Queue, cfg Config) (*Backend, error) {
	if device == nil || queue == nil {
		return nil, ErrNotHAL
	}
	b := &Backend{
		cfg:          cfg.withDefaults(),
		device:       device,
		queue:        queue,
		buffers:      make(map[gpucore.BufferID]*buffer),
		textures:     make(map[gpucore.TextureID]*texture),
		stages:       make(map[gpucore.StageID]*stage),
		programs:     make(map[gpucore.ProgramID]*program),
		framebuffers: make(map[gpucore.FramebufferID]*framebuffer),
		pipelines:    NewPipelineCache(),
		bound:        newBinding(),
	}
	b.logger.Store(slog.New(nopHandler{}))

	fb, err := b.createDefaultFramebuffer()
	if err != nil {
		return nil, err
	}
	b.defaultFB = fb
	return b, nil
}

// Register registers a factory for the native backend that opens it on
// the provider's device. A provider without HAL objects registers nothing.
func Register(p gpucontext.DeviceProvider, cfg Config) error {
	if _, _, err := FromProvider(p); err != nil {
		return err
	}
	backend.Register(Name, func() gpucore.Backend {
		b, err := New(p, cfg)
		if err != nil {
			slog.Default().Warn("native: backend unavailable", "err", err)
			return nil
		}
		return b
	})
	return nil
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
// Depth formats are limited to 2D, cube and 2D array textures.
func (b *Backend) SupportsTexture(format gputypes.TextureFormat, dim gpucore.TextureDim) bool {
	if _, ok := gpucore.TexelSize(format); !ok {
		return false
	}
	if format.IsDepthStencil() {
		switch dim {
		case gpucore.TextureDim1D, gpucore.TextureDim1DArray, gpucore.TextureDim3D:
			return false
		}
	}
	return true
}

// SupportsStage reports whether kind compiles from WGSL.
func (b *Backend) SupportsStage(kind gpucore.StageKind) bool {
	return shaderir.Supported(kind)
}

// PipelineCache returns the render pipeline cache.
func (b *Backend) PipelineCache() *PipelineCache { return b.pipelines }

// DefaultTarget returns the texture behind the default framebuffer's
// color attachment. Hosts present or read back from it.
func (b *Backend) DefaultTarget() hal.Texture {
	return b.defaultFB.color[0].raw
}

func (b *Backend) id() uint64 {
	b.nextID++
	return b.nextID
}

func (b *Backend) label(kind string) string {
	return b.cfg.Label + " " + kind
}

// Flush ends the open render pass, submits the recorded commands and waits
// for the device to finish them. Objects freed while commands referencing
// them were pending are destroyed afterwards.
func (b *Backend) Flush() error {
	if err := b.frame.submit(b); err != nil {
		return err
	}
	if err := b.device.WaitIdle(); err != nil {
		return fmt.Errorf("native: wait idle: %w", err)
	}
	b.frame.retire(b.device)
	return nil
}

// Destroy flushes pending work and releases every object the backend
// created, including cached pipelines. The backend must not be used after.
func (b *Backend) Destroy() {
	if err := b.Flush(); err != nil {
		b.slogger().Warn("native: flush on destroy", "err", err)
	}
	b.pipelines.DestroyAll(b.device.DestroyRenderPipeline)
	for id := range b.programs {
		b.FreeProgram(id)
	}
	for id := range b.stages {
		b.FreeStage(id)
	}
	for id := range b.framebuffers {
		b.FreeFramebuffer(id)
	}
	for id := range b.textures {
		b.FreeTexture(id)
	}
	for id := range b.buffers {
		b.FreeBuffer(id)
	}
	b.defaultFB.destroyOwned(b.device)
	b.frame.retire(b.device)
	b.frame.destroy()
}

// nopHandler silently discards all log records.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }
