package lumen

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/lumen/gpucore"
)

// Uniform is a typed uniform slot of a linked program.
type Uniform struct {
	name    string
	typ     UniformType
	loc     gpucore.UniformLocation
	program *Program
}

// Name returns the uniform name. Members of a uniform struct are named
// by their member name.
func (u Uniform) Name() string { return u.name }

// Type returns the declared type.
func (u Uniform) Type() UniformType { return u.typ }

// Location returns the backend location of the slot.
func (u Uniform) Location() gpucore.UniformLocation { return u.loc }

// UniformValue is a value assignable to a uniform slot of the same type.
type UniformValue interface {
	// UniformType returns the type of the value.
	UniformType() UniformType

	appendBytes(dst []byte) []byte
}

// Uniform values. Matrices are column-major.
type (
	Float float32
	Vec2  [2]float32
	Vec3  [3]float32
	Vec4  [4]float32
	Int   int32
	IVec2 [2]int32
	IVec3 [3]int32
	IVec4 [4]int32
	UInt  uint32
	UVec2 [2]uint32
	UVec3 [3]uint32
	UVec4 [4]uint32
	Bool  bool
	Mat2  [4]float32
	Mat3  [9]float32
	Mat4  [16]float32
)

func appendF32(dst []byte, vs ...float32) []byte {
	for _, v := range vs {
		dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(v))
	}
	return dst
}

func appendU32(dst []byte, vs ...uint32) []byte {
	for _, v := range vs {
		dst = binary.LittleEndian.AppendUint32(dst, v)
	}
	return dst
}

func appendI32(dst []byte, vs ...int32) []byte {
	for _, v := range vs {
		dst = binary.LittleEndian.AppendUint32(dst, uint32(v))
	}
	return dst
}

func (Float) UniformType() UniformType { return gpucore.TypeFloat }
func (Vec2) UniformType() UniformType  { return gpucore.TypeVec2 }
func (Vec3) UniformType() UniformType  { return gpucore.TypeVec3 }
func (Vec4) UniformType() UniformType  { return gpucore.TypeVec4 }
func (Int) UniformType() UniformType   { return gpucore.TypeInt }
func (IVec2) UniformType() UniformType { return gpucore.TypeIVec2 }
func (IVec3) UniformType() UniformType { return gpucore.TypeIVec3 }
func (IVec4) UniformType() UniformType { return gpucore.TypeIVec4 }
func (UInt) UniformType() UniformType  { return gpucore.TypeUInt }
func (UVec2) UniformType() UniformType { return gpucore.TypeUVec2 }
func (UVec3) UniformType() UniformType { return gpucore.TypeUVec3 }
func (UVec4) UniformType() UniformType { return gpucore.TypeUVec4 }
func (Bool) UniformType() UniformType  { return gpucore.TypeBool }
func (Mat2) UniformType() UniformType  { return gpucore.TypeMat2 }
func (Mat3) UniformType() UniformType  { return gpucore.TypeMat3 }
func (Mat4) UniformType() UniformType  { return gpucore.TypeMat4 }

func (v Float) appendBytes(dst []byte) []byte { return appendF32(dst, float32(v)) }
func (v Vec2) appendBytes(dst []byte) []byte  { return appendF32(dst, v[:]...) }
func (v Vec3) appendBytes(dst []byte) []byte  { return appendF32(dst, v[:]...) }
func (v Vec4) appendBytes(dst []byte) []byte  { return appendF32(dst, v[:]...) }
func (v Int) appendBytes(dst []byte) []byte   { return appendI32(dst, int32(v)) }
func (v IVec2) appendBytes(dst []byte) []byte { return appendI32(dst, v[:]...) }
func (v IVec3) appendBytes(dst []byte) []byte { return appendI32(dst, v[:]...) }
func (v IVec4) appendBytes(dst []byte) []byte { return appendI32(dst, v[:]...) }
func (v UInt) appendBytes(dst []byte) []byte  { return appendU32(dst, uint32(v)) }
func (v UVec2) appendBytes(dst []byte) []byte { return appendU32(dst, v[:]...) }
func (v UVec3) appendBytes(dst []byte) []byte { return appendU32(dst, v[:]...) }
func (v UVec4) appendBytes(dst []byte) []byte { return appendU32(dst, v[:]...) }
func (v Mat2) appendBytes(dst []byte) []byte  { return appendF32(dst, v[:]...) }
func (v Mat4) appendBytes(dst []byte) []byte  { return appendF32(dst, v[:]...) }

func (v Bool) appendBytes(dst []byte) []byte {
	if v {
		return appendU32(dst, 1)
	}
	return appendU32(dst, 0)
}

// appendBytes pads each column to 16 bytes, the uniform layout of mat3x3.
func (v Mat3) appendBytes(dst []byte) []byte {
	for c := 0; c < 3; c++ {
		dst = appendF32(dst, v[c*3], v[c*3+1], v[c*3+2], 0)
	}
	return dst
}

// Identity4 returns the 4x4 identity matrix.
func Identity4() Mat4 {
	return Mat4{1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1}
}

// BoundTexture is a texture bound to a unit by a PipelineGate. It is the
// value of texture and sampler uniforms and is valid until the gate closes.
type BoundTexture struct {
	unit    uint32
	gate    *PipelineGate
	dim     Dim
	format  gputypes.TextureFormat
	compare bool
}

// Unit returns the texture unit.
func (b BoundTexture) Unit() uint32 { return b.unit }

// UniformType returns the texture uniform type the binding satisfies.
func (b BoundTexture) UniformType() UniformType {
	if b.format.HasDepth() && b.dim == Dim2D {
		return gpucore.TypeTextureDepth
	}
	switch b.dim {
	case Dim1D:
		return gpucore.TypeTexture1D
	case Dim2D:
		return gpucore.TypeTexture2D
	case Dim3D:
		return gpucore.TypeTexture3D
	case DimCube:
		return gpucore.TypeTextureCube
	case Dim2DArray:
		return gpucore.TypeTexture2DArray
	default:
		return gpucore.TypeUnknown
	}
}

func (b BoundTexture) appendBytes(dst []byte) []byte { return appendU32(dst, b.unit) }

// checkAssign verifies that v may be stored in a slot of type t.
// A BoundTexture satisfies its texture type and the sampler type matching
// its depth comparison setting.
func checkAssign(t UniformType, v UniformValue) error {
	if v == nil {
		return fmt.Errorf("%w: nil value for %v", ErrUniformTypeMismatch, t)
	}
	if bt, ok := v.(BoundTexture); ok {
		switch t {
		case gpucore.TypeSampler:
			if !bt.compare {
				return nil
			}
		case gpucore.TypeSamplerComparison:
			if bt.compare {
				return nil
			}
		default:
			if bt.UniformType() == t {
				return nil
			}
		}
		return fmt.Errorf("%w: %v texture for %v", ErrUniformTypeMismatch, bt.dim, t)
	}
	if v.UniformType() != t {
		return fmt.Errorf("%w: %v value for %v", ErrUniformTypeMismatch, v.UniformType(), t)
	}
	return nil
}
