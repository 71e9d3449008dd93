package lumen

import (
	"bytes"
	"fmt"
	"math/bits"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/lumen/gpucore"
)

// BufferKind selects how a buffer may be bound.
type BufferKind uint8

// Buffer kinds.
const (
	// BufferVertex holds vertex or instance attributes. Its layout is a VertexLayout.
	BufferVertex BufferKind = iota
	// BufferIndex holds indices. Its layout is an IndexLayout.
	BufferIndex
	// BufferUniform holds uniform block data.
	BufferUniform
	// BufferData holds data that is only uploaded and read back.
	BufferData
)

// String returns the kind name.
func (k BufferKind) String() string {
	switch k {
	case BufferVertex:
		return "Vertex"
	case BufferIndex:
		return "Index"
	case BufferUniform:
		return "Uniform"
	case BufferData:
		return "Data"
	default:
		return fmt.Sprintf("Unknown(%d)", int(k))
	}
}

func (k BufferKind) usage() gputypes.BufferUsage {
	const transfer = gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst
	switch k {
	case BufferVertex:
		return gputypes.BufferUsageVertex | transfer
	case BufferIndex:
		return gputypes.BufferUsageIndex | transfer
	case BufferUniform:
		return gputypes.BufferUsageUniform | transfer
	default:
		return transfer
	}
}

// Buffer is a typed array of elements in backend memory.
type Buffer struct {
	handle
	kind   BufferKind
	layout ElementLayout
	length int
}

// CreateBuffer allocates a buffer of length elements of layout.
// If data is non-nil it must be exactly length elements and is uploaded
// before the buffer is returned.
//
// Example:
//
//	layout := lumen.NewVertexLayout(lumen.VertexAttrib{Location: 0, Format: gputypes.VertexFormatFloat32x2})
//	quad, err := ctx.CreateBuffer(lumen.BufferVertex, layout, 4, lumen.Float32Bytes(
//	    -1, -1, 1, -1, 1, 1, -1, 1,
//	))
func (c *Context) CreateBuffer(kind BufferKind, layout ElementLayout, length int, data []byte) (*Buffer, error) {
	if c.closed {
		return nil, ErrContextClosed
	}
	if err := checkBufferLayout(kind, layout); err != nil {
		return nil, err
	}
	stride := layout.Stride()
	if length <= 0 {
		return nil, &AllocationError{Resource: "buffer", Err: fmt.Errorf("%w: length %d", ErrDataSize, length)}
	}
	hi, size := bits.Mul64(uint64(length), stride)
	if hi != 0 {
		return nil, &AllocationError{
			Resource: "buffer",
			Err:      fmt.Errorf("%w: %d elements of %d bytes overflow", ErrDataSize, length, stride),
		}
	}
	if data != nil && uint64(len(data)) != size {
		return nil, &AllocationError{
			Resource: "buffer",
			Size:     size,
			Err:      fmt.Errorf("%w: %d bytes for %d elements of %d", ErrDataSize, len(data), length, stride),
		}
	}

	id, err := c.backend.AllocateBuffer(&gpucore.BufferDescriptor{
		Label: c.opts.label,
		Size:  size,
		Usage: kind.usage(),
	})
	if err != nil {
		return nil, &AllocationError{Resource: "buffer", Size: size, Err: err}
	}
	if data != nil {
		if err := c.backend.UploadBuffer(id, 0, data); err != nil {
			c.backend.FreeBuffer(id)
			return nil, &AllocationError{Resource: "buffer", Size: size, Err: err}
		}
	}

	key := c.insert(kindBuffer, uint64(id), kind.String())
	return &Buffer{handle: handle{ctx: c, key: key}, kind: kind, layout: layout, length: length}, nil
}

func checkBufferLayout(kind BufferKind, layout ElementLayout) error {
	if layout == nil {
		return fmt.Errorf("%w: nil layout", ErrLayoutMismatch)
	}
	switch l := layout.(type) {
	case VertexLayout:
		if kind != BufferVertex {
			return fmt.Errorf("%w: vertex layout for %v buffer", ErrLayoutMismatch, kind)
		}
		if err := l.validate(); err != nil {
			return err
		}
	case IndexLayout:
		if kind != BufferIndex {
			return fmt.Errorf("%w: index layout for %v buffer", ErrLayoutMismatch, kind)
		}
	default:
		if kind == BufferVertex || kind == BufferIndex {
			return fmt.Errorf("%w: %T for %v buffer", ErrLayoutMismatch, layout, kind)
		}
	}
	if layout.Stride() == 0 {
		return fmt.Errorf("%w: zero stride", ErrLayoutMismatch)
	}
	return nil
}

// Kind returns the buffer kind.
func (b *Buffer) Kind() BufferKind { return b.kind }

// Layout returns the element layout.
func (b *Buffer) Layout() ElementLayout { return b.layout }

// Len returns the number of elements.
func (b *Buffer) Len() int { return b.length }

// Stride returns the element size in bytes.
func (b *Buffer) Stride() uint64 { return b.layout.Stride() }

// Size returns the buffer size in bytes.
func (b *Buffer) Size() uint64 { return uint64(b.length) * b.layout.Stride() }

func (b *Buffer) id() (gpucore.BufferID, error) {
	e, err := b.ctx.lookup(b.handle)
	if err != nil {
		return 0, err
	}
	return gpucore.BufferID(e.id), nil
}

// Write replaces elements starting at element offset with data, which
// must hold a whole number of elements.
func (b *Buffer) Write(offset int, data []byte) error {
	id, err := b.id()
	if err != nil {
		return err
	}
	stride := b.Stride()
	if uint64(len(data))%stride != 0 {
		return fmt.Errorf("%w: %d bytes with stride %d", ErrDataSize, len(data), stride)
	}
	n := uint64(len(data)) / stride
	if offset < 0 || offset > b.length || n > uint64(b.length-offset) {
		return fmt.Errorf("%w: %d elements at %d of %d", ErrOutOfBounds, n, offset, b.length)
	}
	return backendErr("upload_buffer", b.ctx.backend.UploadBuffer(id, uint64(offset)*stride, data))
}

// Read returns n elements starting at element offset.
func (b *Buffer) Read(offset, n int) ([]byte, error) {
	id, err := b.id()
	if err != nil {
		return nil, err
	}
	if n < 0 || offset < 0 || offset > b.length || n > b.length-offset {
		return nil, fmt.Errorf("%w: %d elements at %d of %d", ErrOutOfBounds, n, offset, b.length)
	}
	stride := b.Stride()
	dst := make([]byte, uint64(n)*stride)
	if err := b.ctx.backend.ReadBuffer(id, uint64(offset)*stride, dst); err != nil {
		return nil, backendErr("read_buffer", err)
	}
	return dst, nil
}

// Fill sets every element to elem, which must be exactly one element.
func (b *Buffer) Fill(elem []byte) error {
	if uint64(len(elem)) != b.Stride() {
		return fmt.Errorf("%w: %d bytes for an element of %d", ErrDataSize, len(elem), b.Stride())
	}
	return b.Write(0, bytes.Repeat(elem, b.length))
}

// At returns element i.
func (b *Buffer) At(i int) ([]byte, error) {
	return b.Read(i, 1)
}
