package shaderir

import (
	"errors"
	"strings"
	"testing"

	"github.com/gogpu/lumen/gpucore"
)

const passVS = `
@vertex
fn vs_main(@location(0) pos: vec2<f32>) -> @builtin(position) vec4<f32> {
    return vec4<f32>(pos, 0.0, 1.0);
}
`

const passFS = `
@fragment
fn fs_main() -> @location(0) vec4<f32> {
    return vec4<f32>(1.0, 1.0, 1.0, 1.0);
}
`

const uniformVS = `
struct Params {
    transform: mat4x4<f32>,
    tint: vec4<f32>,
}

struct VertexOut {
    @builtin(position) pos: vec4<f32>,
    @location(0) color: vec4<f32>,
}

@group(0) @binding(0) var<uniform> params: Params;

@vertex
fn vs_main(@location(0) pos: vec3<f32>, @location(1) uv: vec2<f32>) -> VertexOut {
    var out: VertexOut;
    out.pos = params.transform * vec4<f32>(pos, 1.0);
    out.color = params.tint * vec4<f32>(uv, 0.0, 1.0);
    return out;
}
`

const uniformFS = `
@group(0) @binding(1) var tex: texture_2d<f32>;
@group(0) @binding(2) var samp: sampler;

@fragment
fn fs_main(@location(0) color: vec4<f32>) -> @location(0) vec4<f32> {
    return color * textureSample(tex, samp, vec2<f32>(0.5, 0.5));
}
`

const mismatchFS = `
@fragment
fn fs_main(@location(3) v: vec2<f32>) -> @location(0) vec4<f32> {
    return vec4<f32>(v, 0.0, 1.0);
}
`

func TestCompile(t *testing.T) {
	tests := []struct {
		name    string
		kind    gpucore.StageKind
		src     string
		wantErr bool
	}{
		{"vertex", gpucore.StageVertex, passVS, false},
		{"fragment", gpucore.StageFragment, passFS, false},
		{"syntax error", gpucore.StageVertex, "@vertex fn broken( {", true},
		{"wrong entry point", gpucore.StageVertex, passFS, true},
		{"unsupported stage", gpucore.StageGeometry, passVS, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := Compile(tt.kind, tt.src)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Compile() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				var ce *gpucore.CompileError
				if !errors.As(err, &ce) {
					t.Fatalf("Compile() error type = %T, want *gpucore.CompileError", err)
				}
				if ce.Log == "" {
					t.Error("CompileError.Log is empty")
				}
				return
			}
			if m.EntryPoint == "" {
				t.Error("EntryPoint is empty")
			}
		})
	}
}

func TestInputs(t *testing.T) {
	m, err := Compile(gpucore.StageVertex, uniformVS)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	in := m.Inputs()
	if len(in) != 2 {
		t.Fatalf("Inputs() len = %d, want 2", len(in))
	}
	want := []Varying{
		{Name: "pos", Location: 0, Type: gpucore.TypeVec3},
		{Name: "uv", Location: 1, Type: gpucore.TypeVec2},
	}
	for i := range want {
		if in[i] != want[i] {
			t.Errorf("Inputs()[%d] = %+v, want %+v", i, in[i], want[i])
		}
	}

	out := m.Outputs()
	if len(out) != 1 || out[0].Location != 0 || out[0].Type != gpucore.TypeVec4 {
		t.Errorf("Outputs() = %+v, want one vec4 at location 0", out)
	}
}

func TestLinkReflectsUniforms(t *testing.T) {
	vs, err := Compile(gpucore.StageVertex, uniformVS)
	if err != nil {
		t.Fatalf("Compile(vs) error = %v", err)
	}
	fs, err := Compile(gpucore.StageFragment, uniformFS)
	if err != nil {
		t.Fatalf("Compile(fs) error = %v", err)
	}

	info, err := Link(vs, fs)
	if err != nil {
		t.Fatalf("Link() error = %v", err)
	}

	got := make(map[string]gpucore.UniformInfo)
	for _, u := range info.Uniforms {
		got[u.Name] = u
	}
	tests := []struct {
		name   string
		typ    gpucore.UniformType
		offset uint32
	}{
		{"transform", gpucore.TypeMat4, 0},
		{"tint", gpucore.TypeVec4, 64},
		{"tex", gpucore.TypeTexture2D, 0},
		{"samp", gpucore.TypeSampler, 0},
	}
	for _, tt := range tests {
		u, ok := got[tt.name]
		if !ok {
			t.Errorf("uniform %q not reflected", tt.name)
			continue
		}
		if u.Type != tt.typ {
			t.Errorf("uniform %q type = %v, want %v", tt.name, u.Type, tt.typ)
		}
		if u.Location.Offset != tt.offset {
			t.Errorf("uniform %q offset = %d, want %d", tt.name, u.Location.Offset, tt.offset)
		}
	}

	if len(info.Resources) != 3 {
		t.Fatalf("Resources len = %d, want 3", len(info.Resources))
	}
	if r := info.Resources[0]; r.Kind != gpucore.ResourceUniformBuffer || r.Size < 80 {
		t.Errorf("Resources[0] = %+v, want uniform buffer of at least 80 bytes", r)
	}
}

func TestLinkVaryingMismatch(t *testing.T) {
	vs, err := Compile(gpucore.StageVertex, passVS)
	if err != nil {
		t.Fatalf("Compile(vs) error = %v", err)
	}
	fs, err := Compile(gpucore.StageFragment, mismatchFS)
	if err != nil {
		t.Fatalf("Compile(fs) error = %v", err)
	}
	_, err = Link(vs, fs)
	var le *gpucore.LinkError
	if !errors.As(err, &le) {
		t.Fatalf("Link() error = %v, want *gpucore.LinkError", err)
	}
	if !strings.Contains(le.Log, "@location(3)") {
		t.Errorf("LinkError.Log = %q, want mention of @location(3)", le.Log)
	}
}

func TestLinkMissingStage(t *testing.T) {
	vs, err := Compile(gpucore.StageVertex, passVS)
	if err != nil {
		t.Fatalf("Compile(vs) error = %v", err)
	}
	if _, err := Link(vs, nil); err == nil {
		t.Error("Link(vs, nil) error = nil, want link error")
	}
	if _, err := Link(nil, vs); err == nil {
		t.Error("Link(nil, vs) error = nil, want link error")
	}
}

func TestCompileSharesModules(t *testing.T) {
	ResetCache()
	defer ResetCache()

	a, err := Compile(gpucore.StageVertex, passVS)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	b, err := Compile(gpucore.StageVertex, passVS)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	if a != b {
		t.Error("Compile() returned distinct modules for identical source")
	}

	if _, err := Compile(gpucore.StageVertex, "@vertex fn broken( {"); err == nil {
		t.Fatal("Compile() of invalid source succeeded")
	}

	s := CacheStats()
	if s.Len != 1 {
		t.Errorf("CacheStats().Len = %d, want 1", s.Len)
	}
	if s.Hits != 1 || s.Misses != 2 {
		t.Errorf("CacheStats() hits=%d misses=%d, want 1, 2", s.Hits, s.Misses)
	}
}
