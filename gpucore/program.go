package gpucore

import "fmt"

// UniformType is the declared type of a uniform slot or a vertex input.
type UniformType uint8

// Uniform and input types.
const (
	TypeUnknown UniformType = iota
	TypeFloat
	TypeVec2
	TypeVec3
	TypeVec4
	TypeInt
	TypeIVec2
	TypeIVec3
	TypeIVec4
	TypeUInt
	TypeUVec2
	TypeUVec3
	TypeUVec4
	TypeBool
	TypeMat2
	TypeMat3
	TypeMat4
	TypeTexture1D
	TypeTexture2D
	TypeTexture3D
	TypeTextureCube
	TypeTexture2DArray
	TypeTextureDepth
	TypeSampler
	TypeSamplerComparison
)

var uniformTypeNames = [...]string{
	TypeUnknown:           "unknown",
	TypeFloat:             "f32",
	TypeVec2:              "vec2<f32>",
	TypeVec3:              "vec3<f32>",
	TypeVec4:              "vec4<f32>",
	TypeInt:               "i32",
	TypeIVec2:             "vec2<i32>",
	TypeIVec3:             "vec3<i32>",
	TypeIVec4:             "vec4<i32>",
	TypeUInt:              "u32",
	TypeUVec2:             "vec2<u32>",
	TypeUVec3:             "vec3<u32>",
	TypeUVec4:             "vec4<u32>",
	TypeBool:              "bool",
	TypeMat2:              "mat2x2<f32>",
	TypeMat3:              "mat3x3<f32>",
	TypeMat4:              "mat4x4<f32>",
	TypeTexture1D:         "texture_1d",
	TypeTexture2D:         "texture_2d",
	TypeTexture3D:         "texture_3d",
	TypeTextureCube:       "texture_cube",
	TypeTexture2DArray:    "texture_2d_array",
	TypeTextureDepth:      "texture_depth_2d",
	TypeSampler:           "sampler",
	TypeSamplerComparison: "sampler_comparison",
}

// String returns the WGSL spelling of the type.
func (t UniformType) String() string {
	if int(t) < len(uniformTypeNames) {
		return uniformTypeNames[t]
	}
	return fmt.Sprintf("Unknown(%d)", int(t))
}

// IsOpaque reports whether t is a texture or sampler type, which is bound
// to a texture unit rather than written as bytes.
func (t UniformType) IsOpaque() bool {
	return t >= TypeTexture1D
}

// Components returns the number of scalar components of a vector or scalar
// type, and 0 for matrices and opaque types.
func (t UniformType) Components() int {
	switch t {
	case TypeFloat, TypeInt, TypeUInt, TypeBool:
		return 1
	case TypeVec2, TypeIVec2, TypeUVec2:
		return 2
	case TypeVec3, TypeIVec3, TypeUVec3:
		return 3
	case TypeVec4, TypeIVec4, TypeUVec4:
		return 4
	default:
		return 0
	}
}

// ScalarKind is the component kind of a numeric type.
type ScalarKind uint8

// Scalar kinds.
const (
	ScalarNone ScalarKind = iota
	ScalarFloat
	ScalarSint
	ScalarUint
	ScalarBool
)

// Scalar returns the component kind of t.
func (t UniformType) Scalar() ScalarKind {
	switch t {
	case TypeFloat, TypeVec2, TypeVec3, TypeVec4, TypeMat2, TypeMat3, TypeMat4:
		return ScalarFloat
	case TypeInt, TypeIVec2, TypeIVec3, TypeIVec4:
		return ScalarSint
	case TypeUInt, TypeUVec2, TypeUVec3, TypeUVec4:
		return ScalarUint
	case TypeBool:
		return ScalarBool
	default:
		return ScalarNone
	}
}

// UniformLocation addresses a uniform inside a program's resources.
// Opaque uniforms use Offset 0 and are identified by Group/Binding alone.
type UniformLocation struct {
	Group   uint32
	Binding uint32
	Offset  uint32
}

// UniformInfo is one reflected uniform slot.
type UniformInfo struct {
	Name     string
	Type     UniformType
	Location UniformLocation
}

// VertexInput is one reflected vertex shader input.
type VertexInput struct {
	Name     string
	Location uint32
	Type     UniformType
}

// ResourceKind classifies a bound program resource.
type ResourceKind uint8

// Resource kinds.
const (
	ResourceUniformBuffer ResourceKind = iota
	ResourceTexture
	ResourceSampler
)

// ResourceInfo is one reflected @group/@binding resource.
type ResourceInfo struct {
	Name    string
	Kind    ResourceKind
	Group   uint32
	Binding uint32

	// Size is the byte size of uniform buffers.
	Size uint32

	// Type is the texture or sampler type for opaque resources.
	Type UniformType
}

// ProgramInfo is the reflected interface of a linked program.
type ProgramInfo struct {
	Inputs    []VertexInput
	Uniforms  []UniformInfo
	Resources []ResourceInfo
}
