package lumen

import (
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/lumen/gpucore"
	"github.com/gogpu/lumen/internal/arena"
)

// Tess is drawable geometry: vertex buffers described by a layout,
// optional indices and optional per-instance attributes.
//
// A Tess retains its buffers; they stay alive until the Tess is released.
type Tess struct {
	handle
	mode          gputypes.PrimitiveTopology
	layout        VertexLayout
	deinterleaved bool
	vertex        []*Buffer
	instance      *Buffer
	instLayout    VertexLayout
	indices       *Buffer
	restart       bool
	restartIndex  uint32
	vertexCount   uint32
	instanceCount uint32
}

// TessBuilder configures a Tess. Errors are reported by Build.
type TessBuilder struct {
	ctx           *Context
	mode          gputypes.PrimitiveTopology
	layout        VertexLayout
	vertex        []*Buffer
	deinterleaved bool
	instance      *Buffer
	instLayout    VertexLayout
	indices       *Buffer
	vertexCount   int
	instanceCount int
	restart       bool
	restartIndex  uint32
}

// NewTess starts describing geometry drawn as mode with per-vertex
// attributes in layout.
//
// Example:
//
//	tess, err := ctx.NewTess(gputypes.PrimitiveTopologyTriangleStrip, layout).
//	    Interleaved(vertices).
//	    Build()
func (c *Context) NewTess(mode gputypes.PrimitiveTopology, layout VertexLayout) *TessBuilder {
	return &TessBuilder{ctx: c, mode: mode, layout: layout, vertexCount: -1, instanceCount: -1}
}

// Interleaved uses one vertex buffer holding every attribute.
func (b *TessBuilder) Interleaved(buf *Buffer) *TessBuilder {
	b.vertex = []*Buffer{buf}
	b.deinterleaved = false
	return b
}

// Deinterleaved uses one vertex buffer per attribute, in layout order.
func (b *TessBuilder) Deinterleaved(bufs ...*Buffer) *TessBuilder {
	b.vertex = append([]*Buffer(nil), bufs...)
	b.deinterleaved = true
	return b
}

// Indices draws with the indices stored in buf.
func (b *TessBuilder) Indices(buf *Buffer) *TessBuilder {
	b.indices = buf
	return b
}

// Instances adds per-instance attributes stored interleaved in buf.
func (b *TessBuilder) Instances(buf *Buffer, layout VertexLayout) *TessBuilder {
	b.instance = buf
	b.instLayout = layout.Instanced()
	return b
}

// VertexCount overrides the number of vertices (or indices) drawn.
func (b *TessBuilder) VertexCount(n int) *TessBuilder {
	b.vertexCount = n
	return b
}

// InstanceCount overrides the number of instances drawn.
func (b *TessBuilder) InstanceCount(n int) *TessBuilder {
	b.instanceCount = n
	return b
}

// RestartIndex enables primitive restart at index i. It requires indices
// and a strip topology.
func (b *TessBuilder) RestartIndex(i uint32) *TessBuilder {
	b.restart = true
	b.restartIndex = i
	return b
}

// Build validates the description and creates the Tess.
func (b *TessBuilder) Build() (*Tess, error) {
	c := b.ctx
	if c.closed {
		return nil, ErrContextClosed
	}
	if len(b.layout.Attribs) > 0 {
		if err := b.layout.validate(); err != nil {
			return nil, err
		}
	}
	if b.layout.PerInstance {
		return nil, fmt.Errorf("%w: vertex layout stepped per instance", ErrLayoutMismatch)
	}

	var deps []arena.Key
	use := func(buf *Buffer, kind BufferKind, what string) error {
		if buf == nil {
			return fmt.Errorf("%w: nil %s buffer", ErrLayoutMismatch, what)
		}
		if _, err := c.lookup(buf.handle); err != nil {
			return err
		}
		if buf.kind != kind {
			return fmt.Errorf("%w: %v buffer used as %s buffer", ErrLayoutMismatch, buf.kind, what)
		}
		deps = append(deps, buf.key)
		return nil
	}

	backing := -1
	switch {
	case len(b.vertex) == 0:
		if len(b.layout.Attribs) > 0 {
			return nil, fmt.Errorf("%w: layout has %d attributes and no vertex buffer", ErrLayoutMismatch, len(b.layout.Attribs))
		}
	case !b.deinterleaved:
		if len(b.vertex) != 1 {
			return nil, fmt.Errorf("%w: %d interleaved buffers", ErrLayoutMismatch, len(b.vertex))
		}
		buf := b.vertex[0]
		if err := use(buf, BufferVertex, "vertex"); err != nil {
			return nil, err
		}
		if buf.Stride() != b.layout.Stride() {
			return nil, fmt.Errorf("%w: buffer stride %d, layout stride %d", ErrLayoutMismatch, buf.Stride(), b.layout.Stride())
		}
		backing = buf.Len()
	default:
		if len(b.vertex) != len(b.layout.Attribs) {
			return nil, fmt.Errorf("%w: %d buffers for %d attributes", ErrLayoutMismatch, len(b.vertex), len(b.layout.Attribs))
		}
		for i, buf := range b.vertex {
			a := b.layout.Attribs[i]
			if err := use(buf, BufferVertex, "vertex"); err != nil {
				return nil, err
			}
			if buf.Stride() != a.Format.Size() {
				return nil, fmt.Errorf("%w: attribute %q buffer stride %d, format size %d",
					ErrLayoutMismatch, a.Name, buf.Stride(), a.Format.Size())
			}
			if backing >= 0 && buf.Len() != backing {
				return nil, fmt.Errorf("%w: deinterleaved buffer lengths %d and %d", ErrLayoutMismatch, backing, buf.Len())
			}
			backing = buf.Len()
		}
	}

	if b.instance != nil {
		if err := use(b.instance, BufferVertex, "instance"); err != nil {
			return nil, err
		}
		if err := b.instLayout.validate(); err != nil {
			return nil, err
		}
		if b.instance.Stride() != b.instLayout.Stride() {
			return nil, fmt.Errorf("%w: instance buffer stride %d, layout stride %d",
				ErrLayoutMismatch, b.instance.Stride(), b.instLayout.Stride())
		}
		for _, ia := range b.instLayout.Attribs {
			for _, va := range b.layout.Attribs {
				if ia.Location == va.Location {
					return nil, fmt.Errorf("%w: location %d is both vertex and instance attribute", ErrLayoutMismatch, ia.Location)
				}
			}
		}
	}

	if b.indices != nil {
		if err := use(b.indices, BufferIndex, "index"); err != nil {
			return nil, err
		}
		backing = b.indices.Len()
	}
	if b.restart {
		if b.indices == nil {
			return nil, fmt.Errorf("%w: primitive restart without indices", ErrLayoutMismatch)
		}
		if b.mode != gputypes.PrimitiveTopologyTriangleStrip && b.mode != gputypes.PrimitiveTopologyLineStrip {
			return nil, fmt.Errorf("%w: primitive restart with %v", ErrLayoutMismatch, b.mode)
		}
	}

	vertexCount := backing
	if b.vertexCount >= 0 {
		if backing >= 0 && b.vertexCount > backing {
			return nil, fmt.Errorf("%w: %d vertices over %d", ErrOutOfBounds, b.vertexCount, backing)
		}
		vertexCount = b.vertexCount
	}
	if vertexCount < 0 {
		return nil, fmt.Errorf("%w: attributeless tess needs a vertex count", ErrLayoutMismatch)
	}
	instanceCount := 1
	if b.instance != nil {
		instanceCount = b.instance.Len()
	}
	if b.instanceCount >= 0 {
		if b.instance != nil && b.instanceCount > b.instance.Len() {
			return nil, fmt.Errorf("%w: %d instances over %d", ErrOutOfBounds, b.instanceCount, b.instance.Len())
		}
		instanceCount = b.instanceCount
	}

	for _, k := range deps {
		_ = c.retain(k)
	}
	t := &Tess{
		mode:          b.mode,
		layout:        b.layout,
		deinterleaved: b.deinterleaved,
		vertex:        b.vertex,
		instance:      b.instance,
		instLayout:    b.instLayout,
		indices:       b.indices,
		restart:       b.restart,
		restartIndex:  b.restartIndex,
		vertexCount:   uint32(vertexCount),
		instanceCount: uint32(instanceCount),
	}
	t.handle = handle{ctx: c, key: c.insert(kindTess, 0, "", deps...)}
	return t, nil
}

// Mode returns the primitive topology.
func (t *Tess) Mode() gputypes.PrimitiveTopology { return t.mode }

// VertexCount returns the number of vertices (or indices) drawn by View.
func (t *Tess) VertexCount() uint32 { return t.vertexCount }

// InstanceCount returns the number of instances drawn by View.
func (t *Tess) InstanceCount() uint32 { return t.instanceCount }

// Indexed reports whether the tess draws through an index buffer.
func (t *Tess) Indexed() bool { return t.indices != nil }

// TessView is a range of a Tess to draw.
type TessView struct {
	tess      *Tess
	start     uint32
	count     uint32
	instances uint32
}

// View returns the whole tess.
func (t *Tess) View() TessView {
	return TessView{tess: t, count: t.vertexCount, instances: t.instanceCount}
}

// Slice returns vertices (or indices) [start, end).
func (t *Tess) Slice(start, end uint32) (TessView, error) {
	if start > end || end > t.vertexCount {
		return TessView{}, fmt.Errorf("%w: slice %d..%d of %d", ErrOutOfBounds, start, end, t.vertexCount)
	}
	return TessView{tess: t, start: start, count: end - start, instances: t.instanceCount}, nil
}

// Instanced returns v drawn n times.
func (v TessView) Instanced(n uint32) TessView {
	v.instances = n
	return v
}

// Tess returns the viewed tess.
func (v TessView) Tess() *Tess { return v.tess }

// Range returns the first vertex and the vertex count.
func (v TessView) Range() (start, count uint32) { return v.start, v.count }

// Instances returns the instance count.
func (v TessView) Instances() uint32 { return v.instances }

// attribute is one attribute the tess feeds, with its step mode.
type attribute struct {
	VertexAttrib
	instance bool
}

func (t *Tess) attributes() map[uint32]attribute {
	out := make(map[uint32]attribute, len(t.layout.Attribs)+len(t.instLayout.Attribs))
	for _, a := range t.layout.Attribs {
		out[a.Location] = attribute{VertexAttrib: a}
	}
	if t.instance != nil {
		for _, a := range t.instLayout.Attribs {
			out[a.Location] = attribute{VertexAttrib: a, instance: true}
		}
	}
	return out
}

// matches checks that the tess provides every input with a compatible
// format.
func (t *Tess) matches(inputs []gpucore.VertexInput) error {
	attrs := t.attributes()
	for _, in := range inputs {
		a, ok := attrs[in.Location]
		if !ok {
			return fmt.Errorf("%w: no attribute for input %q at location %d", ErrLayoutMismatch, in.Name, in.Location)
		}
		n, kind := formatShape(a.Format)
		if n != in.Type.Components() || kind != in.Type.Scalar() {
			return fmt.Errorf("%w: attribute %q (%v) feeds input %q of type %v",
				ErrLayoutMismatch, a.Name, a.Format, in.Name, in.Type)
		}
	}
	return nil
}

// drawCall builds the backend draw for v given resolved buffer IDs.
func (t *Tess) drawCall(v TessView, ids func(*Buffer) (gpucore.BufferID, error)) (*gpucore.DrawCall, error) {
	call := &gpucore.DrawCall{
		Topology:      t.mode,
		First:         v.start,
		Count:         v.count,
		InstanceCount: v.instances,
	}
	for i, buf := range t.vertex {
		id, err := ids(buf)
		if err != nil {
			return nil, err
		}
		layout := t.layout.interleaved()
		if t.deinterleaved {
			layout = t.layout.single(i)
		}
		call.Buffers = append(call.Buffers, gpucore.VertexBuffer{Buffer: id, Layout: layout})
	}
	if t.instance != nil {
		id, err := ids(t.instance)
		if err != nil {
			return nil, err
		}
		call.Buffers = append(call.Buffers, gpucore.VertexBuffer{Buffer: id, Layout: t.instLayout.interleaved()})
	}
	if t.indices != nil {
		call.Indexed = true
		call.IndexFormat = t.indices.layout.(IndexLayout).Format
		call.Restart = t.restart
		call.RestartIndex = t.restartIndex
	}
	return call, nil
}
