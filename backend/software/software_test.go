package software

import (
	"bytes"
	"errors"
	"math"
	"testing"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/lumen/gpucore"
)

const (
	passVS = `
@vertex
fn vs_main(@location(0) pos: vec2<f32>) -> @builtin(position) vec4<f32> {
    return vec4<f32>(pos, 0.0, 1.0);
}
`
	passFS = `
@fragment
fn fs_main() -> @location(0) vec4<f32> {
    return vec4<f32>(1.0, 1.0, 1.0, 1.0);
}
`
)

var vec2Buffer = gputypes.VertexBufferLayout{
	ArrayStride: 8,
	StepMode:    gputypes.VertexStepModeVertex,
	Attributes: []gputypes.VertexAttribute{
		{Format: gputypes.VertexFormatFloat32x2, Offset: 0, ShaderLocation: 0},
	},
}

func mustProgram(t *testing.T, b *Backend) gpucore.ProgramID {
	t.Helper()
	vs, err := b.CompileStage(&gpucore.StageDescriptor{Kind: gpucore.StageVertex, Source: passVS})
	if err != nil {
		t.Fatalf("CompileStage(vertex) error = %v", err)
	}
	fs, err := b.CompileStage(&gpucore.StageDescriptor{Kind: gpucore.StageFragment, Source: passFS})
	if err != nil {
		t.Fatalf("CompileStage(fragment) error = %v", err)
	}
	id, info, err := b.LinkProgram(&gpucore.ProgramDescriptor{Vertex: vs, Fragment: fs})
	if err != nil {
		t.Fatalf("LinkProgram() error = %v", err)
	}
	if len(info.Inputs) != 1 {
		t.Fatalf("LinkProgram() inputs = %+v, want 1", info.Inputs)
	}
	return id
}

func TestConfigDefaults(t *testing.T) {
	b := New(Config{Limits: gpucore.Limits{MaxTextureUnits: 2}})
	l := b.Limits()
	if l.MaxTextureUnits != 2 {
		t.Errorf("MaxTextureUnits = %d, want 2", l.MaxTextureUnits)
	}
	if d := gpucore.DefaultLimits(); l.MaxTextureSize2D != d.MaxTextureSize2D {
		t.Errorf("MaxTextureSize2D = %d, want default %d", l.MaxTextureSize2D, d.MaxTextureSize2D)
	}
	if got := len(b.DefaultFramebufferPixels()); got != 4 {
		t.Errorf("default framebuffer bytes = %d, want 4", got)
	}
	if b.Name() != Name {
		t.Errorf("Name() = %q, want %q", b.Name(), Name)
	}
}

func TestBufferRoundTrip(t *testing.T) {
	b := New(Config{})
	id, err := b.AllocateBuffer(&gpucore.BufferDescriptor{Size: 8, Usage: gputypes.BufferUsageVertex})
	if err != nil {
		t.Fatalf("AllocateBuffer() error = %v", err)
	}
	if err := b.UploadBuffer(id, 2, []byte{1, 2, 3}); err != nil {
		t.Fatalf("UploadBuffer() error = %v", err)
	}
	got := make([]byte, 8)
	if err := b.ReadBuffer(id, 0, got); err != nil {
		t.Fatalf("ReadBuffer() error = %v", err)
	}
	if want := []byte{0, 0, 1, 2, 3, 0, 0, 0}; !bytes.Equal(got, want) {
		t.Errorf("ReadBuffer() = %v, want %v", got, want)
	}
	if err := b.UploadBuffer(id, 6, []byte{1, 2, 3}); !errors.Is(err, ErrRange) {
		t.Errorf("UploadBuffer() past end error = %v, want ErrRange", err)
	}
	if err := b.UploadBuffer(id, math.MaxUint64-1, []byte{1, 2, 3}); !errors.Is(err, ErrRange) {
		t.Errorf("UploadBuffer() wrapping offset error = %v, want ErrRange", err)
	}
	if err := b.ReadBuffer(id, math.MaxUint64, got[:1]); !errors.Is(err, ErrRange) {
		t.Errorf("ReadBuffer() wrapping offset error = %v, want ErrRange", err)
	}
	if b.MemoryUsed() != 8 {
		t.Errorf("MemoryUsed() = %d, want 8", b.MemoryUsed())
	}
	b.FreeBuffer(id)
	if b.HasBuffer(id) || b.MemoryUsed() != 0 {
		t.Errorf("after FreeBuffer: HasBuffer = %v, MemoryUsed = %d", b.HasBuffer(id), b.MemoryUsed())
	}
	if err := b.ReadBuffer(id, 0, got); !errors.Is(err, ErrUnknownResource) {
		t.Errorf("ReadBuffer() after free error = %v, want ErrUnknownResource", err)
	}
}

func TestMemoryLimit(t *testing.T) {
	b := New(Config{MemoryLimit: 64})
	if _, err := b.AllocateBuffer(&gpucore.BufferDescriptor{Size: 48}); err != nil {
		t.Fatalf("AllocateBuffer(48) error = %v", err)
	}
	if _, err := b.AllocateBuffer(&gpucore.BufferDescriptor{Size: 32}); !errors.Is(err, ErrOutOfMemory) {
		t.Errorf("AllocateBuffer(32) error = %v, want ErrOutOfMemory", err)
	}
	// 4x4 RGBA8 with 3 levels: 64 + 16 + 4 bytes.
	if _, err := b.AllocateTexture(&gpucore.TextureDescriptor{
		Dim: gpucore.TextureDim2D, Size: gputypes.Extent3D{Width: 4, Height: 4, DepthOrArrayLayers: 1},
		Format: gputypes.TextureFormatRGBA8Unorm, MipLevels: 3,
	}); !errors.Is(err, ErrOutOfMemory) {
		t.Errorf("AllocateTexture() error = %v, want ErrOutOfMemory", err)
	}
	if b.MemoryUsed() != 48 {
		t.Errorf("MemoryUsed() = %d, want 48", b.MemoryUsed())
	}
}

func TestSupportsTexture(t *testing.T) {
	b := New(Config{Unsupported: []gputypes.TextureFormat{gputypes.TextureFormatRG32Float}})
	tests := []struct {
		name   string
		format gputypes.TextureFormat
		dim    gpucore.TextureDim
		want   bool
	}{
		{"rgba8 2D", gputypes.TextureFormatRGBA8Unorm, gpucore.TextureDim2D, true},
		{"rgba8 3D", gputypes.TextureFormatRGBA8Unorm, gpucore.TextureDim3D, true},
		{"depth 2D", gputypes.TextureFormatDepth32Float, gpucore.TextureDim2D, true},
		{"depth cube", gputypes.TextureFormatDepth32Float, gpucore.TextureDimCube, true},
		{"depth 3D", gputypes.TextureFormatDepth32Float, gpucore.TextureDim3D, false},
		{"depth 1D", gputypes.TextureFormatDepth32Float, gpucore.TextureDim1D, false},
		{"compressed", gputypes.TextureFormatBC1RGBAUnorm, gpucore.TextureDim2D, false},
		{"configured unsupported", gputypes.TextureFormatRG32Float, gpucore.TextureDim2D, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := b.SupportsTexture(tt.format, tt.dim); got != tt.want {
				t.Errorf("SupportsTexture(%v, %v) = %v, want %v", tt.format, tt.dim, got, tt.want)
			}
		})
	}
}

func TestUploadTextureRegion(t *testing.T) {
	b := New(Config{})
	id, err := b.AllocateTexture(&gpucore.TextureDescriptor{
		Dim: gpucore.TextureDim2D, Size: gputypes.Extent3D{Width: 2, Height: 2, DepthOrArrayLayers: 1},
		Format: gputypes.TextureFormatR8Unorm, MipLevels: 2,
	})
	if err != nil {
		t.Fatalf("AllocateTexture() error = %v", err)
	}
	region := gpucore.TextureRegion{
		Origin: gputypes.Origin3D{X: 1, Y: 0},
		Size:   gputypes.Extent3D{Width: 1, Height: 2, DepthOrArrayLayers: 1},
	}
	if err := b.UploadTexture(id, region, []byte{7, 9}); err != nil {
		t.Fatalf("UploadTexture() error = %v", err)
	}
	got, ok := b.TextureLevel(id, 0)
	if !ok {
		t.Fatal("TextureLevel(0) not found")
	}
	if want := []byte{0, 7, 0, 9}; !bytes.Equal(got, want) {
		t.Errorf("level 0 = %v, want %v", got, want)
	}

	tests := []struct {
		name   string
		region gpucore.TextureRegion
		data   []byte
	}{
		{"level out of range", gpucore.TextureRegion{Level: 2, Size: gputypes.Extent3D{Width: 1, Height: 1, DepthOrArrayLayers: 1}}, []byte{1}},
		{"region past edge", gpucore.TextureRegion{Level: 1, Origin: gputypes.Origin3D{X: 1}, Size: gputypes.Extent3D{Width: 1, Height: 1, DepthOrArrayLayers: 1}}, []byte{1}},
		{"data size", gpucore.TextureRegion{Size: gputypes.Extent3D{Width: 2, Height: 1, DepthOrArrayLayers: 1}}, []byte{1}},
	}
	for _, tt := range tests {
		if err := b.UploadTexture(id, tt.region, tt.data); !errors.Is(err, ErrRange) {
			t.Errorf("%s: UploadTexture() error = %v, want ErrRange", tt.name, err)
		}
	}
}

func TestCompileAndLink(t *testing.T) {
	b := New(Config{})
	_, err := b.CompileStage(&gpucore.StageDescriptor{Kind: gpucore.StageVertex, Source: "@vertex fn broken( {"})
	var ce *gpucore.CompileError
	if !errors.As(err, &ce) {
		t.Fatalf("CompileStage() error = %v, want *gpucore.CompileError", err)
	}

	vs, err := b.CompileStage(&gpucore.StageDescriptor{Kind: gpucore.StageVertex, Source: passVS})
	if err != nil {
		t.Fatalf("CompileStage() error = %v", err)
	}
	_, _, err = b.LinkProgram(&gpucore.ProgramDescriptor{Vertex: vs, Fragment: vs, Geometry: vs})
	var le *gpucore.LinkError
	if !errors.As(err, &le) {
		t.Errorf("LinkProgram() with geometry stage error = %v, want *gpucore.LinkError", err)
	}

	id := mustProgram(t, b)
	if !b.HasProgram(id) {
		t.Error("HasProgram() = false after link")
	}
	b.FreeProgram(id)
	if b.HasProgram(id) {
		t.Error("HasProgram() = true after FreeProgram")
	}
}

func TestFramebufferStatus(t *testing.T) {
	b := New(Config{})
	tex := func(w, h uint32, target bool) gpucore.TextureID {
		t.Helper()
		id, err := b.AllocateTexture(&gpucore.TextureDescriptor{
			Dim: gpucore.TextureDim2D, Size: gputypes.Extent3D{Width: w, Height: h, DepthOrArrayLayers: 1},
			Format: gputypes.TextureFormatRGBA8Unorm, MipLevels: 1, RenderTarget: target,
		})
		if err != nil {
			t.Fatalf("AllocateTexture() error = %v", err)
		}
		return id
	}
	a, c, small, plain := tex(4, 4, true), tex(4, 4, true), tex(2, 2, true), tex(4, 4, false)

	tests := []struct {
		name string
		desc gpucore.FramebufferDescriptor
		want gpucore.FramebufferStatus
	}{
		{"complete", gpucore.FramebufferDescriptor{Color: []gpucore.TextureID{a, c}}, gpucore.FramebufferComplete},
		{"empty", gpucore.FramebufferDescriptor{}, gpucore.FramebufferMissingAttachment},
		{"unknown texture", gpucore.FramebufferDescriptor{Color: []gpucore.TextureID{99}}, gpucore.FramebufferMissingAttachment},
		{"not a render target", gpucore.FramebufferDescriptor{Color: []gpucore.TextureID{plain}}, gpucore.FramebufferUnsupported},
		{"size mismatch", gpucore.FramebufferDescriptor{Color: []gpucore.TextureID{a}, Depth: small}, gpucore.FramebufferDimensionMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := b.CreateFramebuffer(&tt.desc)
			if err != nil {
				t.Fatalf("CreateFramebuffer() error = %v", err)
			}
			if got := b.FramebufferStatus(id); got != tt.want {
				t.Errorf("FramebufferStatus() = %v, want %v", got, tt.want)
			}
		})
	}
	if got := b.FramebufferStatus(gpucore.DefaultFramebuffer); got != gpucore.FramebufferComplete {
		t.Errorf("FramebufferStatus(default) = %v, want Complete", got)
	}
}

func TestClearDefaultFramebuffer(t *testing.T) {
	b := New(Config{Width: 2, Height: 1})
	op := gpucore.ClearOp{ClearColor: true, Color: gputypes.Color{R: 1, B: 0.5, A: 1}}
	if err := b.Clear(op); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if want := []byte{255, 0, 128, 255, 255, 0, 128, 255}; !bytes.Equal(b.DefaultFramebufferPixels(), want) {
		t.Errorf("pixels = %v, want %v", b.DefaultFramebufferPixels(), want)
	}
	if b.LastClear() != op {
		t.Errorf("LastClear() = %+v, want %+v", b.LastClear(), op)
	}
}

func TestDraw(t *testing.T) {
	b := New(Config{})
	prog := mustProgram(t, b)
	vbuf, err := b.AllocateBuffer(&gpucore.BufferDescriptor{Size: 32})
	if err != nil {
		t.Fatalf("AllocateBuffer() error = %v", err)
	}
	ibuf, err := b.AllocateBuffer(&gpucore.BufferDescriptor{Size: 12})
	if err != nil {
		t.Fatalf("AllocateBuffer() error = %v", err)
	}
	call := &gpucore.DrawCall{
		Topology:      gputypes.PrimitiveTopologyTriangleList,
		Buffers:       []gpucore.VertexBuffer{{Buffer: vbuf, Layout: vec2Buffer}},
		Count:         3,
		InstanceCount: 1,
	}

	if err := b.Draw(call); !errors.Is(err, ErrNoProgram) {
		t.Errorf("Draw() without program error = %v, want ErrNoProgram", err)
	}
	if err := b.UseProgram(prog); err != nil {
		t.Fatalf("UseProgram() error = %v", err)
	}
	if err := b.Draw(call); err == nil {
		t.Error("Draw() with unbound vertex buffer succeeded")
	}
	if err := b.BindBuffer(gpucore.TargetVertex, 0, vbuf); err != nil {
		t.Fatalf("BindBuffer() error = %v", err)
	}
	if err := b.Draw(call); err != nil {
		t.Fatalf("Draw() error = %v", err)
	}

	indexed := *call
	indexed.Indexed = true
	indexed.IndexFormat = gputypes.IndexFormatUint16
	indexed.Count = 6
	indexed.InstanceCount = 2
	if err := b.Draw(&indexed); !errors.Is(err, ErrNoIndexBuffer) {
		t.Errorf("indexed Draw() without index buffer error = %v, want ErrNoIndexBuffer", err)
	}
	if err := b.BindBuffer(gpucore.TargetIndex, 0, ibuf); err != nil {
		t.Fatalf("BindBuffer(index) error = %v", err)
	}
	if err := b.Draw(&indexed); err != nil {
		t.Fatalf("indexed Draw() error = %v", err)
	}
	indexed.First = 1
	if err := b.Draw(&indexed); !errors.Is(err, ErrRange) {
		t.Errorf("indexed Draw() past end error = %v, want ErrRange", err)
	}

	want := DrawStats{Draws: 2, Vertices: 3 + 12, Instances: 3}
	if got := b.DrawStats(); got != want {
		t.Errorf("DrawStats() = %+v, want %+v", got, want)
	}
	if got := b.Count(OpDraw); got != 6 {
		t.Errorf("Count(draw) = %d, want 6", got)
	}
}

func TestFailNext(t *testing.T) {
	b := New(Config{})
	injected := errors.New("device lost")
	b.FailNext(OpSetViewport, injected)

	if err := b.SetViewport(gpucore.Viewport{Width: 4}); !errors.Is(err, injected) {
		t.Fatalf("SetViewport() error = %v, want injected", err)
	}
	if b.CurrentViewport() != (gpucore.Viewport{}) {
		t.Error("failed SetViewport changed the viewport")
	}
	if err := b.SetViewport(gpucore.Viewport{Width: 4}); err != nil {
		t.Fatalf("second SetViewport() error = %v", err)
	}
	if b.CurrentViewport().Width != 4 {
		t.Errorf("CurrentViewport().Width = %v, want 4", b.CurrentViewport().Width)
	}

	calls := b.Calls()
	if len(calls) != 2 || calls[0].Op != OpSetViewport {
		t.Errorf("Calls() = %+v, want two set_viewport calls", calls)
	}
	b.ResetCalls()
	if len(b.Calls()) != 0 || b.DrawStats() != (DrawStats{}) {
		t.Error("ResetCalls() did not clear the log")
	}
}

func TestBindTextureUnitRange(t *testing.T) {
	b := New(Config{Limits: gpucore.Limits{MaxTextureUnits: 1}})
	id, err := b.AllocateTexture(&gpucore.TextureDescriptor{
		Dim: gpucore.TextureDim2D, Size: gputypes.Extent3D{Width: 1, Height: 1, DepthOrArrayLayers: 1},
		Format: gputypes.TextureFormatRGBA8Unorm, MipLevels: 1,
	})
	if err != nil {
		t.Fatalf("AllocateTexture() error = %v", err)
	}
	if err := b.BindTexture(0, id); err != nil {
		t.Errorf("BindTexture(0) error = %v", err)
	}
	if err := b.BindTexture(1, id); !errors.Is(err, ErrRange) {
		t.Errorf("BindTexture(1) error = %v, want ErrRange", err)
	}
	b.FreeTexture(id)
	if err := b.BindTexture(0, id); !errors.Is(err, ErrUnknownResource) {
		t.Errorf("BindTexture() after free error = %v, want ErrUnknownResource", err)
	}
}
