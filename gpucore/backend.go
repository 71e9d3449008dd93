package gpucore

import "github.com/gogpu/gputypes"

// Backend is the capability interface over one native graphics API.
//
// All methods are called from the thread owning the rendering context.
// A Backend never retries and never interprets failures: errors are
// returned as-is. Compile and link failures use [CompileError] and
// [LinkError] so the backend's diagnostic text reaches the caller.
type Backend interface {
	// Name returns the backend identifier (e.g. "software", "native").
	Name() string

	// Limits reports the capacities validated by the core.
	Limits() Limits

	// SupportsTexture reports whether format can back a texture of dim.
	SupportsTexture(format gputypes.TextureFormat, dim TextureDim) bool

	// SupportsStage reports whether the backend can compile kind.
	SupportsStage(kind StageKind) bool

	AllocateBuffer(desc *BufferDescriptor) (BufferID, error)
	UploadBuffer(id BufferID, offset uint64, data []byte) error
	ReadBuffer(id BufferID, offset uint64, dst []byte) error
	FreeBuffer(id BufferID)

	AllocateTexture(desc *TextureDescriptor) (TextureID, error)
	UploadTexture(id TextureID, region TextureRegion, data []byte) error
	FreeTexture(id TextureID)

	CompileStage(desc *StageDescriptor) (StageID, error)
	FreeStage(id StageID)
	LinkProgram(desc *ProgramDescriptor) (ProgramID, *ProgramInfo, error)
	FreeProgram(id ProgramID)

	CreateFramebuffer(desc *FramebufferDescriptor) (FramebufferID, error)
	FramebufferStatus(id FramebufferID) FramebufferStatus
	FreeFramebuffer(id FramebufferID)

	BindFramebuffer(id FramebufferID) error
	Clear(op ClearOp) error
	SetViewport(v Viewport) error
	SetRenderState(s RenderState) error
	UseProgram(id ProgramID) error
	BindBuffer(target BufferTarget, slot uint32, id BufferID) error
	BindTexture(unit uint32, id TextureID) error
	SetUniform(program ProgramID, loc UniformLocation, data []byte) error
	Draw(call *DrawCall) error

	// Flush submits all queued work.
	Flush() error
}

// CompileError reports a stage compile failure with the backend's log.
type CompileError struct {
	Log string
}

func (e *CompileError) Error() string { return "compile: " + e.Log }

// LinkError reports a program link failure with the backend's log.
type LinkError struct {
	Log string
}

func (e *LinkError) Error() string { return "link: " + e.Log }
