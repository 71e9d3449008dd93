// Package shaderir compiles WGSL stages with naga and reflects their
// interface: vertex inputs, inter-stage varyings, uniforms and resources.
package shaderir

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/gogpu/naga"
	"github.com/gogpu/naga/ir"
	"github.com/gogpu/naga/spirv"

	"github.com/gogpu/lumen/gpucore"
	"github.com/gogpu/lumen/internal/cache"
)

// moduleCacheSize bounds the number of distinct stage sources kept compiled.
const moduleCacheSize = 128

type moduleKey struct {
	kind gpucore.StageKind
	src  string
}

// modules shares compiled stages across backends. A Module is never
// mutated after Compile returns it.
var modules = cache.New[moduleKey, *Module](moduleCacheSize)

// Module is a validated stage.
type Module struct {
	Kind       gpucore.StageKind
	Source     string
	EntryPoint string
	IR         *ir.Module

	entry *ir.EntryPoint
}

// Varying is a location-bound value passed between or into stages.
type Varying struct {
	Name     string
	Location uint32
	Type     gpucore.UniformType
}

// Supported reports whether kind can be compiled from WGSL.
func Supported(kind gpucore.StageKind) bool {
	return kind == gpucore.StageVertex || kind == gpucore.StageFragment
}

// Compile parses, lowers and validates src as a stage of the given kind.
// Failures are returned as *gpucore.CompileError carrying the diagnostic.
// Identical sources return the same *Module.
func Compile(kind gpucore.StageKind, src string) (*Module, error) {
	return modules.GetOrCreate(moduleKey{kind: kind, src: src}, func() (*Module, error) {
		return compile(kind, src)
	})
}

// CacheStats reports the compiled stage cache counters.
func CacheStats() cache.Stats {
	return modules.Stats()
}

// ResetCache drops every compiled stage.
func ResetCache() {
	modules.Clear()
}

func compile(kind gpucore.StageKind, src string) (*Module, error) {
	if !Supported(kind) {
		return nil, &gpucore.CompileError{Log: fmt.Sprintf("%s stage is not supported by WGSL", kind)}
	}

	ast, err := naga.Parse(src)
	if err != nil {
		return nil, &gpucore.CompileError{Log: err.Error()}
	}
	m, err := naga.LowerWithSource(ast, src)
	if err != nil {
		return nil, &gpucore.CompileError{Log: err.Error()}
	}
	verrs, err := naga.Validate(m)
	if err != nil {
		return nil, &gpucore.CompileError{Log: err.Error()}
	}
	if len(verrs) > 0 {
		msgs := make([]string, len(verrs))
		for i := range verrs {
			msgs[i] = verrs[i].Error()
		}
		return nil, &gpucore.CompileError{Log: strings.Join(msgs, "\n")}
	}

	want := ir.StageVertex
	if kind == gpucore.StageFragment {
		want = ir.StageFragment
	}
	for i := range m.EntryPoints {
		ep := &m.EntryPoints[i]
		if ep.Stage == want {
			return &Module{Kind: kind, Source: src, EntryPoint: ep.Name, IR: m, entry: ep}, nil
		}
	}
	return nil, &gpucore.CompileError{Log: fmt.Sprintf("no @%s entry point", kind)}
}

// Inputs returns the location-bound inputs of the stage's entry point.
func (m *Module) Inputs() []Varying {
	var out []Varying
	for _, arg := range m.entry.Function.Arguments {
		out = m.collect(out, arg.Name, arg.Type, arg.Binding)
	}
	return out
}

// Outputs returns the location-bound outputs of the stage's entry point.
func (m *Module) Outputs() []Varying {
	res := m.entry.Function.Result
	if res == nil {
		return nil
	}
	return m.collect(nil, "", res.Type, res.Binding)
}

// collect appends the location bindings of a value, descending into a
// struct whose members carry the bindings.
func (m *Module) collect(out []Varying, name string, th ir.TypeHandle, b *ir.Binding) []Varying {
	if b != nil {
		if loc, ok := (*b).(ir.LocationBinding); ok {
			return append(out, Varying{Name: name, Location: loc.Location, Type: m.typeOf(th)})
		}
		return out
	}
	st, ok := m.IR.Types[th].Inner.(ir.StructType)
	if !ok {
		return out
	}
	for _, mem := range st.Members {
		if mem.Binding == nil {
			continue
		}
		if loc, ok := (*mem.Binding).(ir.LocationBinding); ok {
			out = append(out, Varying{Name: mem.Name, Location: loc.Location, Type: m.typeOf(mem.Type)})
		}
	}
	return out
}

// Link checks that the vertex outputs feed every fragment input and merges
// both stages' resources into a program interface.
func Link(vs, fs *Module) (*gpucore.ProgramInfo, error) {
	if vs == nil || vs.Kind != gpucore.StageVertex {
		return nil, &gpucore.LinkError{Log: "missing vertex stage"}
	}
	if fs == nil || fs.Kind != gpucore.StageFragment {
		return nil, &gpucore.LinkError{Log: "missing fragment stage"}
	}

	outs := make(map[uint32]Varying)
	for _, o := range vs.Outputs() {
		outs[o.Location] = o
	}
	var problems []string
	for _, in := range fs.Inputs() {
		o, ok := outs[in.Location]
		switch {
		case !ok:
			problems = append(problems, fmt.Sprintf("fragment input @location(%d) %s has no matching vertex output", in.Location, in.Name))
		case o.Type != in.Type:
			problems = append(problems, fmt.Sprintf("@location(%d): vertex writes %s, fragment reads %s", in.Location, o.Type, in.Type))
		}
	}

	info := &gpucore.ProgramInfo{}
	for _, in := range vs.Inputs() {
		info.Inputs = append(info.Inputs, gpucore.VertexInput{Name: in.Name, Location: in.Location, Type: in.Type})
	}

	type bindingKey struct{ group, binding uint32 }
	seen := make(map[bindingKey]gpucore.ResourceInfo)
	names := make(map[string]bool)
	for _, m := range []*Module{vs, fs} {
		for _, r := range m.resources() {
			k := bindingKey{r.res.Group, r.res.Binding}
			if prev, ok := seen[k]; ok {
				if prev.Kind != r.res.Kind || prev.Size != r.res.Size || prev.Type != r.res.Type {
					problems = append(problems, fmt.Sprintf("@group(%d) @binding(%d) declared differently by %s and %s", k.group, k.binding, prev.Name, r.res.Name))
				}
				continue
			}
			seen[k] = r.res
			info.Resources = append(info.Resources, r.res)
			for _, u := range r.uniforms {
				if names[u.Name] {
					problems = append(problems, fmt.Sprintf("uniform %q declared twice", u.Name))
					continue
				}
				names[u.Name] = true
				info.Uniforms = append(info.Uniforms, u)
			}
		}
	}

	if len(problems) > 0 {
		return nil, &gpucore.LinkError{Log: strings.Join(problems, "\n")}
	}
	return info, nil
}

type reflected struct {
	res      gpucore.ResourceInfo
	uniforms []gpucore.UniformInfo
}

func (m *Module) resources() []reflected {
	var out []reflected
	for _, gv := range m.IR.GlobalVariables {
		if gv.Binding == nil {
			continue
		}
		loc := gpucore.UniformLocation{Group: gv.Binding.Group, Binding: gv.Binding.Binding}
		switch gv.Space {
		case ir.SpaceUniform:
			r := reflected{res: gpucore.ResourceInfo{
				Name:    gv.Name,
				Kind:    gpucore.ResourceUniformBuffer,
				Group:   loc.Group,
				Binding: loc.Binding,
				Size:    m.sizeOf(gv.Type),
			}}
			if st, ok := m.IR.Types[gv.Type].Inner.(ir.StructType); ok {
				for _, mem := range st.Members {
					ml := loc
					ml.Offset = mem.Offset
					r.uniforms = append(r.uniforms, gpucore.UniformInfo{Name: mem.Name, Type: m.typeOf(mem.Type), Location: ml})
				}
			} else {
				r.uniforms = append(r.uniforms, gpucore.UniformInfo{Name: gv.Name, Type: m.typeOf(gv.Type), Location: loc})
			}
			out = append(out, r)
		case ir.SpaceHandle:
			t := m.typeOf(gv.Type)
			kind := gpucore.ResourceTexture
			if t == gpucore.TypeSampler || t == gpucore.TypeSamplerComparison {
				kind = gpucore.ResourceSampler
			}
			out = append(out, reflected{
				res: gpucore.ResourceInfo{Name: gv.Name, Kind: kind, Group: loc.Group, Binding: loc.Binding, Type: t},
				uniforms: []gpucore.UniformInfo{
					{Name: gv.Name, Type: t, Location: loc},
				},
			})
		}
	}
	return out
}

func (m *Module) typeOf(th ir.TypeHandle) gpucore.UniformType {
	if int(th) >= len(m.IR.Types) {
		return gpucore.TypeUnknown
	}
	return uniformType(m.IR.Types[th].Inner)
}

func uniformType(inner ir.TypeInner) gpucore.UniformType {
	switch t := inner.(type) {
	case ir.ScalarType:
		return vectorType(t.Kind, 1)
	case ir.VectorType:
		return vectorType(t.Scalar.Kind, int(t.Size))
	case ir.MatrixType:
		if t.Scalar.Kind != ir.ScalarFloat || t.Columns != t.Rows {
			return gpucore.TypeUnknown
		}
		switch t.Columns {
		case ir.Vec2:
			return gpucore.TypeMat2
		case ir.Vec3:
			return gpucore.TypeMat3
		case ir.Vec4:
			return gpucore.TypeMat4
		}
	case ir.ImageType:
		if t.Class == ir.ImageClassDepth {
			return gpucore.TypeTextureDepth
		}
		switch t.Dim {
		case ir.Dim1D:
			return gpucore.TypeTexture1D
		case ir.Dim2D:
			if t.Arrayed {
				return gpucore.TypeTexture2DArray
			}
			return gpucore.TypeTexture2D
		case ir.Dim3D:
			return gpucore.TypeTexture3D
		case ir.DimCube:
			return gpucore.TypeTextureCube
		}
	case ir.SamplerType:
		if t.Comparison {
			return gpucore.TypeSamplerComparison
		}
		return gpucore.TypeSampler
	}
	return gpucore.TypeUnknown
}

var vectorTypes = map[ir.ScalarKind][5]gpucore.UniformType{
	ir.ScalarFloat: {1: gpucore.TypeFloat, 2: gpucore.TypeVec2, 3: gpucore.TypeVec3, 4: gpucore.TypeVec4},
	ir.ScalarSint:  {1: gpucore.TypeInt, 2: gpucore.TypeIVec2, 3: gpucore.TypeIVec3, 4: gpucore.TypeIVec4},
	ir.ScalarUint:  {1: gpucore.TypeUInt, 2: gpucore.TypeUVec2, 3: gpucore.TypeUVec3, 4: gpucore.TypeUVec4},
	ir.ScalarBool:  {1: gpucore.TypeBool},
}

func vectorType(kind ir.ScalarKind, n int) gpucore.UniformType {
	row, ok := vectorTypes[kind]
	if !ok || n < 1 || n > 4 {
		return gpucore.TypeUnknown
	}
	return row[n]
}

// sizeOf returns the uniform-buffer size of a type, rounded up to 16 bytes.
func (m *Module) sizeOf(th ir.TypeHandle) uint32 {
	var n uint32
	switch t := m.IR.Types[th].Inner.(type) {
	case ir.StructType:
		n = t.Span
	case ir.ScalarType:
		n = uint32(t.Width)
	case ir.VectorType:
		n = uint32(t.Size) * uint32(t.Scalar.Width)
	case ir.MatrixType:
		rows := uint32(t.Rows)
		if rows == 3 {
			rows = 4
		}
		n = uint32(t.Columns) * rows * uint32(t.Scalar.Width)
	case ir.ArrayType:
		if t.Size.Constant != nil {
			n = *t.Size.Constant * t.Stride
		}
	}
	return (n + 15) &^ 15
}

// SPIRV generates SPIR-V words for m.
func SPIRV(m *Module) ([]uint32, error) {
	raw, err := naga.GenerateSPIRV(m.IR, spirv.Options{Version: spirv.Version1_3})
	if err != nil {
		return nil, fmt.Errorf("shaderir: %w", err)
	}
	if len(raw)%4 != 0 {
		return nil, fmt.Errorf("shaderir: SPIR-V length %d is not word aligned", len(raw))
	}
	words := make([]uint32, len(raw)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(raw[i*4:])
	}
	return words, nil
}
