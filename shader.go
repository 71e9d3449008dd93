package lumen

import (
	"errors"
	"fmt"
	"sort"

	"github.com/gogpu/lumen/gpucore"
)

// StageKind identifies a programmable pipeline stage.
type StageKind = gpucore.StageKind

// Shader stage kinds.
const (
	StageVertex      = gpucore.StageVertex
	StageFragment    = gpucore.StageFragment
	StageGeometry    = gpucore.StageGeometry
	StageTessControl = gpucore.StageTessControl
	StageTessEval    = gpucore.StageTessEval
)

// UniformType is the declared type of a uniform slot.
type UniformType = gpucore.UniformType

// Stage is a compiled shader stage.
type Stage struct {
	handle
	kind StageKind
}

// Kind returns the stage kind.
func (s *Stage) Kind() StageKind { return s.kind }

// CompileStage compiles source for one stage. Failures, including stages
// the backend does not support, return a *StageCompileError carrying the
// compiler log.
func (c *Context) CompileStage(kind StageKind, source string) (*Stage, error) {
	if c.closed {
		return nil, ErrContextClosed
	}
	if !c.backend.SupportsStage(kind) {
		return nil, &StageCompileError{
			Stage: kind,
			Log:   fmt.Sprintf("%s stage is not supported by the %s backend", kind, c.backend.Name()),
		}
	}
	id, err := c.backend.CompileStage(&gpucore.StageDescriptor{Label: c.opts.label, Kind: kind, Source: source})
	if err != nil {
		var ce *gpucore.CompileError
		if errors.As(err, &ce) {
			return nil, &StageCompileError{Stage: kind, Log: ce.Log}
		}
		return nil, backendErr("compile_stage", err)
	}
	key := c.insert(kindStage, uint64(id), kind.String())
	return &Stage{handle: handle{ctx: c, key: key}, kind: kind}, nil
}

// ProgramStages lists the stages to link. Vertex and Fragment are required.
type ProgramStages struct {
	Vertex      *Stage
	Fragment    *Stage
	Geometry    *Stage
	TessControl *Stage
	TessEval    *Stage
}

// Program is a linked shader program with its reflected interface.
type Program struct {
	handle
	info     *gpucore.ProgramInfo
	uniforms map[string]Uniform
}

// LinkProgram links compiled stages into a program. The stages stay alive
// and may be released once the program is linked.
func (c *Context) LinkProgram(stages ProgramStages) (*Program, error) {
	if c.closed {
		return nil, ErrContextClosed
	}
	if stages.Vertex == nil {
		return nil, &ProgramLinkError{Log: "missing vertex stage"}
	}
	if stages.Fragment == nil {
		return nil, &ProgramLinkError{Log: "missing fragment stage"}
	}
	desc := gpucore.ProgramDescriptor{Label: c.opts.label}
	slots := []struct {
		stage *Stage
		kind  StageKind
		id    *gpucore.StageID
	}{
		{stages.Vertex, StageVertex, &desc.Vertex},
		{stages.Fragment, StageFragment, &desc.Fragment},
		{stages.Geometry, StageGeometry, &desc.Geometry},
		{stages.TessControl, StageTessControl, &desc.TessControl},
		{stages.TessEval, StageTessEval, &desc.TessEval},
	}
	for _, s := range slots {
		if s.stage == nil {
			continue
		}
		e, err := c.lookup(s.stage.handle)
		if err != nil {
			return nil, err
		}
		if s.stage.kind != s.kind {
			return nil, &ProgramLinkError{Log: fmt.Sprintf("%s stage given as %s stage", s.stage.kind, s.kind)}
		}
		*s.id = gpucore.StageID(e.id)
	}

	id, info, err := c.backend.LinkProgram(&desc)
	if err != nil {
		var le *gpucore.LinkError
		if errors.As(err, &le) {
			return nil, &ProgramLinkError{Log: le.Log}
		}
		return nil, backendErr("link_program", err)
	}
	if info == nil {
		info = &gpucore.ProgramInfo{}
	}
	key := c.insert(kindProgram, uint64(id), c.opts.label)
	p := &Program{
		handle:   handle{ctx: c, key: key},
		info:     info,
		uniforms: make(map[string]Uniform, len(info.Uniforms)),
	}
	for _, u := range info.Uniforms {
		p.uniforms[u.Name] = Uniform{name: u.Name, typ: u.Type, loc: u.Location, program: p}
	}
	return p, nil
}

// NewProgram compiles and links a vertex and a fragment stage. The
// intermediate stages are released before it returns.
//
// Example:
//
//	prog, err := ctx.NewProgram(vertexWGSL, fragmentWGSL)
//	if err != nil {
//	    var ce *lumen.StageCompileError
//	    if errors.As(err, &ce) {
//	        log.Print(ce.Log)
//	    }
//	    return err
//	}
func (c *Context) NewProgram(vertexSrc, fragmentSrc string) (*Program, error) {
	vs, err := c.CompileStage(StageVertex, vertexSrc)
	if err != nil {
		return nil, err
	}
	defer func() { _ = vs.Release() }()
	fs, err := c.CompileStage(StageFragment, fragmentSrc)
	if err != nil {
		return nil, err
	}
	defer func() { _ = fs.Release() }()
	return c.LinkProgram(ProgramStages{Vertex: vs, Fragment: fs})
}

// Uniform returns the uniform slot named name.
func (p *Program) Uniform(name string) (Uniform, error) {
	u, ok := p.uniforms[name]
	if !ok {
		return Uniform{}, fmt.Errorf("%w: %q", ErrUnknownUniform, name)
	}
	return u, nil
}

// Uniforms returns every uniform slot sorted by name.
func (p *Program) Uniforms() []Uniform {
	out := make([]Uniform, 0, len(p.uniforms))
	for _, u := range p.uniforms {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// Inputs returns the vertex inputs the program reads.
func (p *Program) Inputs() []gpucore.VertexInput {
	return append([]gpucore.VertexInput(nil), p.info.Inputs...)
}

// Resources returns the bound resources the program declares.
func (p *Program) Resources() []gpucore.ResourceInfo {
	return append([]gpucore.ResourceInfo(nil), p.info.Resources...)
}

func (p *Program) id() (gpucore.ProgramID, error) {
	e, err := p.ctx.lookup(p.handle)
	if err != nil {
		return 0, err
	}
	return gpucore.ProgramID(e.id), nil
}
