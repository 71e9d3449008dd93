package lumen_test

import (
	"bytes"
	"errors"
	"math"
	"testing"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/lumen"
	"github.com/gogpu/lumen/backend/software"
)

func TestVertexLayout(t *testing.T) {
	l := lumen.NewVertexLayout(
		lumen.VertexAttrib{Name: "pos", Location: 0, Format: gputypes.VertexFormatFloat32x3},
		lumen.VertexAttrib{Name: "uv", Location: 1, Format: gputypes.VertexFormatFloat32x2},
		lumen.VertexAttrib{Name: "color", Location: 2, Format: gputypes.VertexFormatUnorm8x4},
	)
	if got := l.Stride(); got != 24 {
		t.Errorf("Stride() = %d, want 24", got)
	}
	offsets := []uint64{0, 12, 20}
	for i, want := range offsets {
		if got := l.Offset(i); got != want {
			t.Errorf("Offset(%d) = %d, want %d", i, got, want)
		}
	}
	if l.PerInstance {
		t.Error("NewVertexLayout().PerInstance = true")
	}
	if !l.Instanced().PerInstance {
		t.Error("Instanced().PerInstance = false")
	}
}

func TestCreateBuffer(t *testing.T) {
	tests := []struct {
		name    string
		kind    lumen.BufferKind
		layout  lumen.ElementLayout
		length  int
		data    []byte
		wantErr error
	}{
		{"vertex", lumen.BufferVertex, vec2Layout, 2, lumen.Float32Bytes(0, 0, 1, 1), nil},
		{"vertex zeroed", lumen.BufferVertex, vec2Layout, 8, nil, nil},
		{"index", lumen.BufferIndex, lumen.IndexLayout{Format: gputypes.IndexFormatUint16}, 3, lumen.Uint16Bytes(0, 1, 2), nil},
		{"uniform", lumen.BufferUniform, lumen.RawLayout(64), 1, nil, nil},
		{"vertex layout on index buffer", lumen.BufferIndex, vec2Layout, 1, nil, lumen.ErrLayoutMismatch},
		{"index layout on vertex buffer", lumen.BufferVertex, lumen.IndexLayout{Format: gputypes.IndexFormatUint32}, 1, nil, lumen.ErrLayoutMismatch},
		{"raw layout on vertex buffer", lumen.BufferVertex, lumen.RawLayout(8), 1, nil, lumen.ErrLayoutMismatch},
		{"nil layout", lumen.BufferData, nil, 1, nil, lumen.ErrLayoutMismatch},
		{"empty layout", lumen.BufferVertex, lumen.NewVertexLayout(), 1, nil, lumen.ErrLayoutMismatch},
		{"zero length", lumen.BufferVertex, vec2Layout, 0, nil, lumen.ErrAllocation},
		{"short data", lumen.BufferVertex, vec2Layout, 2, lumen.Float32Bytes(0, 0, 1), lumen.ErrDataSize},
		{"size overflow", lumen.BufferData, lumen.RawLayout(16), math.MaxInt / 4, nil, lumen.ErrDataSize},
		{
			"duplicate location", lumen.BufferVertex,
			lumen.NewVertexLayout(
				lumen.VertexAttrib{Location: 0, Format: gputypes.VertexFormatFloat32},
				lumen.VertexAttrib{Location: 0, Format: gputypes.VertexFormatFloat32},
			),
			1, nil, lumen.ErrLayoutMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, b := newContext(t)
			buf, err := ctx.CreateBuffer(tt.kind, tt.layout, tt.length, tt.data)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("CreateBuffer() error = %v, want %v", err, tt.wantErr)
				}
				if got := b.BufferCount(); got != 0 {
					t.Errorf("BufferCount() after failure = %d, want 0", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("CreateBuffer() error = %v", err)
			}
			if buf.Len() != tt.length {
				t.Errorf("Len() = %d, want %d", buf.Len(), tt.length)
			}
			if buf.Kind() != tt.kind {
				t.Errorf("Kind() = %v, want %v", buf.Kind(), tt.kind)
			}
			if want := uint64(tt.length) * tt.layout.Stride(); buf.Size() != want {
				t.Errorf("Size() = %d, want %d", buf.Size(), want)
			}
		})
	}
}

func TestCreateBufferAllocationFailure(t *testing.T) {
	ctx, _ := newContextWith(t, software.Config{MemoryLimit: 16})
	_, err := ctx.CreateBuffer(lumen.BufferVertex, vec2Layout, 4, nil)
	if !errors.Is(err, lumen.ErrAllocation) {
		t.Fatalf("CreateBuffer() error = %v, want ErrAllocation", err)
	}
	var ae *lumen.AllocationError
	if !errors.As(err, &ae) {
		t.Fatalf("CreateBuffer() error type = %T, want *AllocationError", err)
	}
	if ae.Size != 32 {
		t.Errorf("AllocationError.Size = %d, want 32", ae.Size)
	}
	if !errors.Is(err, software.ErrOutOfMemory) {
		t.Errorf("CreateBuffer() error = %v, want wrapped ErrOutOfMemory", err)
	}
}

func TestBufferReadWrite(t *testing.T) {
	ctx, _ := newContext(t)
	buf, err := ctx.CreateBuffer(lumen.BufferVertex, vec2Layout, 3, lumen.Float32Bytes(0, 0, 1, 1, 2, 2))
	if err != nil {
		t.Fatalf("CreateBuffer() error = %v", err)
	}

	if err := buf.Write(1, lumen.Float32Bytes(5, 6)); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	got, err := buf.At(1)
	if err != nil {
		t.Fatalf("At(1) error = %v", err)
	}
	if want := lumen.Float32Bytes(5, 6); !bytes.Equal(got, want) {
		t.Errorf("At(1) = %v, want %v", got, want)
	}
	all, err := buf.Read(0, 3)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if want := lumen.Float32Bytes(0, 0, 5, 6, 2, 2); !bytes.Equal(all, want) {
		t.Errorf("Read(0, 3) = %v, want %v", all, want)
	}

	tests := []struct {
		name    string
		err     error
		wantErr error
	}{
		{"write past end", buf.Write(2, lumen.Float32Bytes(0, 0, 0, 0)), lumen.ErrOutOfBounds},
		{"write negative offset", buf.Write(-1, lumen.Float32Bytes(0, 0)), lumen.ErrOutOfBounds},
		{"write partial element", buf.Write(0, lumen.Float32Bytes(0)), lumen.ErrDataSize},
	}
	for _, tt := range tests {
		if !errors.Is(tt.err, tt.wantErr) {
			t.Errorf("%s: error = %v, want %v", tt.name, tt.err, tt.wantErr)
		}
	}
	if _, err := buf.Read(2, 2); !errors.Is(err, lumen.ErrOutOfBounds) {
		t.Errorf("Read(2, 2) error = %v, want ErrOutOfBounds", err)
	}
	if _, err := buf.At(3); !errors.Is(err, lumen.ErrOutOfBounds) {
		t.Errorf("At(3) error = %v, want ErrOutOfBounds", err)
	}
}

func TestCreateBufferOverflowSkipsBackend(t *testing.T) {
	ctx, b := newContext(t)
	before := b.Count(software.OpAllocateBuffer)
	_, err := ctx.CreateBuffer(lumen.BufferData, lumen.RawLayout(16), math.MaxInt/4, nil)
	if !errors.Is(err, lumen.ErrDataSize) {
		t.Fatalf("CreateBuffer() error = %v, want ErrDataSize", err)
	}
	if errors.Is(err, lumen.ErrBackend) {
		t.Errorf("CreateBuffer() error = %v matches ErrBackend", err)
	}
	if got := b.Count(software.OpAllocateBuffer) - before; got != 0 {
		t.Errorf("AllocateBuffer calls = %d, want 0", got)
	}
}

func TestBufferBoundsOverflow(t *testing.T) {
	ctx, _ := newContext(t)
	buf, err := ctx.CreateBuffer(lumen.BufferVertex, vec2Layout, 4, nil)
	if err != nil {
		t.Fatalf("CreateBuffer() error = %v", err)
	}

	writes := []struct {
		name   string
		offset int
		data   []byte
	}{
		{"max offset", math.MaxInt, lumen.Float32Bytes(1, 2)},
		{"offset past end", 5, nil},
		{"offset at end", 4, lumen.Float32Bytes(1, 2)},
	}
	for _, tt := range writes {
		t.Run("write "+tt.name, func(t *testing.T) {
			if err := buf.Write(tt.offset, tt.data); !errors.Is(err, lumen.ErrOutOfBounds) {
				t.Errorf("Write(%d) error = %v, want ErrOutOfBounds", tt.offset, err)
			}
		})
	}

	reads := []struct {
		name      string
		offset, n int
	}{
		{"max count", 1, math.MaxInt},
		{"max offset", math.MaxInt, 1},
		{"negative count", 0, -1},
		{"negative offset", -1, 1},
	}
	for _, tt := range reads {
		t.Run("read "+tt.name, func(t *testing.T) {
			if _, err := buf.Read(tt.offset, tt.n); !errors.Is(err, lumen.ErrOutOfBounds) {
				t.Errorf("Read(%d, %d) error = %v, want ErrOutOfBounds", tt.offset, tt.n, err)
			}
		})
	}

	if err := buf.Write(4, nil); err != nil {
		t.Errorf("Write(4, nil) error = %v, want nil", err)
	}
}

func TestBufferFill(t *testing.T) {
	ctx, _ := newContext(t)
	buf, err := ctx.CreateBuffer(lumen.BufferVertex, vec2Layout, 3, nil)
	if err != nil {
		t.Fatalf("CreateBuffer() error = %v", err)
	}
	if err := buf.Fill(lumen.Float32Bytes(7, 8)); err != nil {
		t.Fatalf("Fill() error = %v", err)
	}
	got, err := buf.Read(0, 3)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if want := lumen.Float32Bytes(7, 8, 7, 8, 7, 8); !bytes.Equal(got, want) {
		t.Errorf("Read() after Fill = %v, want %v", got, want)
	}
	if err := buf.Fill(lumen.Float32Bytes(1)); !errors.Is(err, lumen.ErrDataSize) {
		t.Errorf("Fill(partial element) error = %v, want ErrDataSize", err)
	}
}

func TestBufferKindString(t *testing.T) {
	tests := []struct {
		k    lumen.BufferKind
		want string
	}{
		{lumen.BufferVertex, "Vertex"},
		{lumen.BufferIndex, "Index"},
		{lumen.BufferUniform, "Uniform"},
		{lumen.BufferData, "Data"},
	}
	for _, tt := range tests {
		if got := tt.k.String(); got != tt.want {
			t.Errorf("BufferKind(%d).String() = %q, want %q", tt.k, got, tt.want)
		}
	}
}
