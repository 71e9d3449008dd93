package state_test

import (
	"errors"
	"testing"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/lumen/backend/software"
	"github.com/gogpu/lumen/gpucore"
	"github.com/gogpu/lumen/internal/state"
)

func newCache(t *testing.T, mode state.Bind) (*state.Cache, *software.Backend) {
	t.Helper()
	b := software.New(software.Config{})
	return state.New(b, mode), b
}

func TestSetRenderStateElision(t *testing.T) {
	opaque := gpucore.RenderState{ColorWrite: gputypes.ColorWriteMaskAll}
	blended := opaque
	blended.Blending = gpucore.Blending{Enabled: true, Color: gputypes.BlendStateAlpha().Color, Alpha: gputypes.BlendStateAlpha().Alpha}
	culled := opaque
	culled.Cull = gputypes.CullModeBack

	tests := []struct {
		name   string
		seq    []gpucore.RenderState
		issued int
	}{
		{"single", []gpucore.RenderState{opaque}, 1},
		{"repeated", []gpucore.RenderState{opaque, opaque, opaque, opaque}, 1},
		{"alternating", []gpucore.RenderState{opaque, blended, opaque, blended}, 4},
		{"runs", []gpucore.RenderState{opaque, opaque, blended, blended, culled, culled, culled, opaque}, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, b := newCache(t, state.BindCached)
			changes := 0
			for _, s := range tt.seq {
				changed, err := c.SetRenderState(s)
				if err != nil {
					t.Fatalf("SetRenderState() error = %v", err)
				}
				if changed {
					changes++
				}
			}
			if got := b.Count(software.OpSetRenderState); got != tt.issued {
				t.Errorf("backend set_render_state calls = %d, want %d", got, tt.issued)
			}
			if changes != tt.issued {
				t.Errorf("changed = %d, want %d", changes, tt.issued)
			}
			st := c.Stats()[state.OpSetRenderState]
			if int(st.Issued) != tt.issued || int(st.Elided) != len(tt.seq)-tt.issued {
				t.Errorf("Stats = %+v, want issued %d elided %d", st, tt.issued, len(tt.seq)-tt.issued)
			}
		})
	}
}

func TestBindBufferPerSlot(t *testing.T) {
	c, b := newCache(t, state.BindCached)
	id1, _ := b.AllocateBuffer(&gpucore.BufferDescriptor{Size: 16})
	id2, _ := b.AllocateBuffer(&gpucore.BufferDescriptor{Size: 16})

	steps := []struct {
		target  gpucore.BufferTarget
		slot    uint32
		id      gpucore.BufferID
		changed bool
	}{
		{gpucore.TargetVertex, 0, id1, true},
		{gpucore.TargetVertex, 0, id1, false},
		{gpucore.TargetVertex, 1, id1, true},
		{gpucore.TargetIndex, 0, id1, true},
		{gpucore.TargetVertex, 0, id2, true},
		{gpucore.TargetVertex, 0, id2, false},
	}
	for i, s := range steps {
		changed, err := c.BindBuffer(s.target, s.slot, s.id)
		if err != nil {
			t.Fatalf("step %d: BindBuffer() error = %v", i, err)
		}
		if changed != s.changed {
			t.Errorf("step %d: BindBuffer() changed = %v, want %v", i, changed, s.changed)
		}
	}
	if got := b.Count(software.OpBindBuffer); got != 4 {
		t.Errorf("bind_buffer calls = %d, want 4", got)
	}
}

func TestBackendFailureInvalidatesSlot(t *testing.T) {
	c, b := newCache(t, state.BindCached)
	boom := errors.New("device lost")

	if _, err := c.BindFramebuffer(gpucore.DefaultFramebuffer); err != nil {
		t.Fatalf("BindFramebuffer() error = %v", err)
	}
	if _, ok := c.Framebuffer(); !ok {
		t.Fatal("framebuffer slot should be known after a successful bind")
	}

	b.FailNext(software.OpSetViewport, boom)
	v := gpucore.Viewport{Width: 10, Height: 10, MaxDepth: 1}
	if _, err := c.SetViewport(v); !errors.Is(err, boom) {
		t.Fatalf("SetViewport() error = %v, want %v", err, boom)
	}

	// The failed slot must reach the backend again.
	changed, err := c.SetViewport(v)
	if err != nil {
		t.Fatalf("SetViewport() retry error = %v", err)
	}
	if !changed {
		t.Error("SetViewport() after failure was elided, want forwarded")
	}
	if got := b.Count(software.OpSetViewport); got != 2 {
		t.Errorf("set_viewport calls = %d, want 2", got)
	}
}

func TestForcedBindMode(t *testing.T) {
	c, b := newCache(t, state.BindForced)
	s := gpucore.RenderState{ColorWrite: gputypes.ColorWriteMaskAll}
	for i := 0; i < 3; i++ {
		if _, err := c.SetRenderState(s); err != nil {
			t.Fatalf("SetRenderState() error = %v", err)
		}
	}
	if got := b.Count(software.OpSetRenderState); got != 3 {
		t.Errorf("set_render_state calls = %d, want 3", got)
	}

	c.SetMode(state.BindCached)
	if changed, _ := c.SetRenderState(s); changed {
		t.Error("SetRenderState() in cached mode after forced binds should elide")
	}
}

func TestInvalidateAndForget(t *testing.T) {
	c, b := newCache(t, state.BindCached)
	buf, _ := b.AllocateBuffer(&gpucore.BufferDescriptor{Size: 4})
	tex, _ := b.AllocateTexture(&gpucore.TextureDescriptor{
		Dim:       gpucore.TextureDim2D,
		Size:      gputypes.Extent3D{Width: 1, Height: 1, DepthOrArrayLayers: 1},
		Format:    gputypes.TextureFormatRGBA8Unorm,
		MipLevels: 1,
	})

	mustBind := func() {
		t.Helper()
		if _, err := c.BindBuffer(gpucore.TargetVertex, 0, buf); err != nil {
			t.Fatalf("BindBuffer() error = %v", err)
		}
		if _, err := c.BindTexture(0, tex); err != nil {
			t.Fatalf("BindTexture() error = %v", err)
		}
	}

	mustBind()
	mustBind()
	if got := b.Count(software.OpBindBuffer); got != 1 {
		t.Fatalf("bind_buffer calls = %d, want 1", got)
	}

	c.ForgetBuffer(buf)
	c.ForgetTexture(tex)
	mustBind()
	if got := b.Count(software.OpBindBuffer); got != 2 {
		t.Errorf("bind_buffer calls after ForgetBuffer = %d, want 2", got)
	}
	if got := b.Count(software.OpBindTexture); got != 2 {
		t.Errorf("bind_texture calls after ForgetTexture = %d, want 2", got)
	}

	c.Invalidate()
	mustBind()
	if got := b.Count(software.OpBindBuffer); got != 3 {
		t.Errorf("bind_buffer calls after Invalidate = %d, want 3", got)
	}
}

func TestRestoreTarget(t *testing.T) {
	c, b := newCache(t, state.BindCached)
	vp := gpucore.Viewport{Width: 64, Height: 64}
	if _, err := c.BindFramebuffer(gpucore.DefaultFramebuffer); err != nil {
		t.Fatalf("BindFramebuffer() error = %v", err)
	}
	if _, err := c.SetViewport(vp); err != nil {
		t.Fatalf("SetViewport() error = %v", err)
	}
	saved := c.Target()

	fb, err := b.CreateFramebuffer(&gpucore.FramebufferDescriptor{})
	if err != nil {
		t.Fatalf("CreateFramebuffer() error = %v", err)
	}
	if _, err := c.BindFramebuffer(fb); err != nil {
		t.Fatalf("BindFramebuffer() error = %v", err)
	}
	if _, err := c.SetViewport(gpucore.Viewport{Width: 8, Height: 8}); err != nil {
		t.Fatalf("SetViewport() error = %v", err)
	}

	if err := c.RestoreTarget(saved); err != nil {
		t.Fatalf("RestoreTarget() error = %v", err)
	}
	if got, ok := c.Framebuffer(); !ok || got != gpucore.DefaultFramebuffer {
		t.Errorf("Framebuffer() = %d, %v, want %d, true", got, ok, gpucore.DefaultFramebuffer)
	}
	if got := b.Count(software.OpBindFramebuffer); got != 3 {
		t.Errorf("backend bind_framebuffer calls = %d, want 3", got)
	}
	if changed, _ := c.SetViewport(vp); changed {
		t.Error("SetViewport() after restore reached the backend, want elided")
	}

	c.Invalidate()
	unknown := c.Target()
	if _, err := c.BindFramebuffer(fb); err != nil {
		t.Fatalf("BindFramebuffer() error = %v", err)
	}
	if err := c.RestoreTarget(unknown); err != nil {
		t.Fatalf("RestoreTarget() error = %v", err)
	}
	if _, ok := c.Framebuffer(); ok {
		t.Error("Framebuffer() known after restoring an unknown snapshot")
	}
}

func TestSetUniformPerProgram(t *testing.T) {
	c, b := newCache(t, state.BindCached)
	loc := gpucore.UniformLocation{Binding: 0, Offset: 16}

	// The software backend rejects unknown programs; the cache must not
	// remember a value the backend refused.
	if _, err := c.SetUniform(42, loc, []byte{1, 2, 3, 4}); err == nil {
		t.Fatal("SetUniform() on unknown program error = nil, want error")
	}
	if _, err := c.SetUniform(42, loc, []byte{1, 2, 3, 4}); err == nil {
		t.Fatal("SetUniform() retry error = nil, want error")
	}
	if got := b.Count(software.OpSetUniform); got != 2 {
		t.Errorf("set_uniform calls = %d, want 2", got)
	}
}

func TestStringers(t *testing.T) {
	if got := state.BindForced.String(); got != "Forced" {
		t.Errorf("BindForced.String() = %q, want %q", got, "Forced")
	}
	if got := state.OpUseProgram.String(); got != "use_program" {
		t.Errorf("OpUseProgram.String() = %q, want %q", got, "use_program")
	}
	if got := state.Bind(9).String(); got != "Unknown(9)" {
		t.Errorf("Bind(9).String() = %q, want %q", got, "Unknown(9)")
	}
}
