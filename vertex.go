package lumen

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/lumen/gpucore"
)

// ElementLayout describes the element type stored in a buffer.
// It is implemented by VertexLayout, IndexLayout and RawLayout.
type ElementLayout interface {
	// Stride returns the byte size of one element.
	Stride() uint64

	elementLayout()
}

// VertexAttrib is one vertex attribute.
type VertexAttrib struct {
	// Name is informational; matching with shader inputs uses Location.
	Name     string
	Location uint32
	Format   gputypes.VertexFormat
}

// VertexLayout is an ordered list of attributes packed without padding.
type VertexLayout struct {
	Attribs []VertexAttrib

	// PerInstance steps the attributes once per instance instead of once
	// per vertex.
	PerInstance bool
}

// NewVertexLayout returns a per-vertex layout of attribs.
//
// Example:
//
//	layout := lumen.NewVertexLayout(
//	    lumen.VertexAttrib{Name: "position", Location: 0, Format: gputypes.VertexFormatFloat32x2},
//	    lumen.VertexAttrib{Name: "color", Location: 1, Format: gputypes.VertexFormatUnorm8x4},
//	)
func NewVertexLayout(attribs ...VertexAttrib) VertexLayout {
	return VertexLayout{Attribs: attribs}
}

// Instanced returns a copy of l stepped per instance.
func (l VertexLayout) Instanced() VertexLayout {
	l.PerInstance = true
	return l
}

// Stride returns the sum of the attribute sizes.
func (l VertexLayout) Stride() uint64 {
	var s uint64
	for _, a := range l.Attribs {
		s += a.Format.Size()
	}
	return s
}

func (VertexLayout) elementLayout() {}

// Offset returns the byte offset of attribute i.
func (l VertexLayout) Offset(i int) uint64 {
	var off uint64
	for _, a := range l.Attribs[:i] {
		off += a.Format.Size()
	}
	return off
}

func (l VertexLayout) stepMode() gputypes.VertexStepMode {
	if l.PerInstance {
		return gputypes.VertexStepModeInstance
	}
	return gputypes.VertexStepModeVertex
}

// validate checks that every attribute has a known format and a unique
// location.
func (l VertexLayout) validate() error {
	if len(l.Attribs) == 0 {
		return fmt.Errorf("%w: empty vertex layout", ErrLayoutMismatch)
	}
	seen := make(map[uint32]bool, len(l.Attribs))
	for _, a := range l.Attribs {
		if a.Format.Size() == 0 {
			return fmt.Errorf("%w: attribute %q has format %v", ErrLayoutMismatch, a.Name, a.Format)
		}
		if seen[a.Location] {
			return fmt.Errorf("%w: location %d used twice", ErrLayoutMismatch, a.Location)
		}
		seen[a.Location] = true
	}
	return nil
}

// interleaved returns the backend layout of one buffer holding every
// attribute of l.
func (l VertexLayout) interleaved() gputypes.VertexBufferLayout {
	attrs := make([]gputypes.VertexAttribute, len(l.Attribs))
	var off uint64
	for i, a := range l.Attribs {
		attrs[i] = gputypes.VertexAttribute{Format: a.Format, Offset: off, ShaderLocation: a.Location}
		off += a.Format.Size()
	}
	return gputypes.VertexBufferLayout{ArrayStride: off, StepMode: l.stepMode(), Attributes: attrs}
}

// single returns the backend layout of a buffer holding only attribute i.
func (l VertexLayout) single(i int) gputypes.VertexBufferLayout {
	a := l.Attribs[i]
	return gputypes.VertexBufferLayout{
		ArrayStride: a.Format.Size(),
		StepMode:    l.stepMode(),
		Attributes:  []gputypes.VertexAttribute{{Format: a.Format, ShaderLocation: a.Location}},
	}
}

// IndexLayout describes index buffer elements.
type IndexLayout struct {
	Format gputypes.IndexFormat
}

// Stride returns the index size in bytes.
func (l IndexLayout) Stride() uint64 { return uint64(l.Format.Size()) }

func (IndexLayout) elementLayout() {}

// RawLayout is an opaque element of the given byte size.
type RawLayout uint64

// Stride returns the element size in bytes.
func (l RawLayout) Stride() uint64 { return uint64(l) }

func (RawLayout) elementLayout() {}

// formatShape returns the component count and shader-side scalar kind an
// attribute format is read as.
func formatShape(f gputypes.VertexFormat) (int, gpucore.ScalarKind) {
	switch f {
	case gputypes.VertexFormatUint8x2, gputypes.VertexFormatUint16x2, gputypes.VertexFormatUint32x2:
		return 2, gpucore.ScalarUint
	case gputypes.VertexFormatUint8x4, gputypes.VertexFormatUint16x4, gputypes.VertexFormatUint32x4:
		return 4, gpucore.ScalarUint
	case gputypes.VertexFormatUint32:
		return 1, gpucore.ScalarUint
	case gputypes.VertexFormatUint32x3:
		return 3, gpucore.ScalarUint
	case gputypes.VertexFormatSint8x2, gputypes.VertexFormatSint16x2, gputypes.VertexFormatSint32x2:
		return 2, gpucore.ScalarSint
	case gputypes.VertexFormatSint8x4, gputypes.VertexFormatSint16x4, gputypes.VertexFormatSint32x4:
		return 4, gpucore.ScalarSint
	case gputypes.VertexFormatSint32:
		return 1, gpucore.ScalarSint
	case gputypes.VertexFormatSint32x3:
		return 3, gpucore.ScalarSint
	case gputypes.VertexFormatUnorm8x2, gputypes.VertexFormatSnorm8x2,
		gputypes.VertexFormatUnorm16x2, gputypes.VertexFormatSnorm16x2,
		gputypes.VertexFormatFloat16x2, gputypes.VertexFormatFloat32x2:
		return 2, gpucore.ScalarFloat
	case gputypes.VertexFormatUnorm8x4, gputypes.VertexFormatSnorm8x4,
		gputypes.VertexFormatUnorm16x4, gputypes.VertexFormatSnorm16x4,
		gputypes.VertexFormatFloat16x4, gputypes.VertexFormatFloat32x4,
		gputypes.VertexFormatUnorm1010102:
		return 4, gpucore.ScalarFloat
	case gputypes.VertexFormatFloat32:
		return 1, gpucore.ScalarFloat
	case gputypes.VertexFormatFloat32x3:
		return 3, gpucore.ScalarFloat
	default:
		return 0, gpucore.ScalarNone
	}
}

// Float32Bytes encodes vs as little-endian bytes.
func Float32Bytes(vs ...float32) []byte {
	out := make([]byte, 0, 4*len(vs))
	for _, v := range vs {
		out = binary.LittleEndian.AppendUint32(out, math.Float32bits(v))
	}
	return out
}

// Uint16Bytes encodes vs as little-endian bytes.
func Uint16Bytes(vs ...uint16) []byte {
	out := make([]byte, 0, 2*len(vs))
	for _, v := range vs {
		out = binary.LittleEndian.AppendUint16(out, v)
	}
	return out
}

// Uint32Bytes encodes vs as little-endian bytes.
func Uint32Bytes(vs ...uint32) []byte {
	out := make([]byte, 0, 4*len(vs))
	for _, v := range vs {
		out = binary.LittleEndian.AppendUint32(out, v)
	}
	return out
}
