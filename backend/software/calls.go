package software

import (
	"context"
	"log/slog"
)

// Operation names recorded in the call log.
const (
	OpAllocateBuffer    = "allocate_buffer"
	OpUploadBuffer      = "upload_buffer"
	OpReadBuffer        = "read_buffer"
	OpFreeBuffer        = "free_buffer"
	OpAllocateTexture   = "allocate_texture"
	OpUploadTexture     = "upload_texture"
	OpFreeTexture       = "free_texture"
	OpCompileStage      = "compile_stage"
	OpFreeStage         = "free_stage"
	OpLinkProgram       = "link_program"
	OpFreeProgram       = "free_program"
	OpCreateFramebuffer = "create_framebuffer"
	OpFramebufferStatus = "framebuffer_status"
	OpFreeFramebuffer   = "free_framebuffer"
	OpBindFramebuffer   = "bind_framebuffer"
	OpClear             = "clear"
	OpSetViewport       = "set_viewport"
	OpSetRenderState    = "set_render_state"
	OpUseProgram        = "use_program"
	OpBindBuffer        = "bind_buffer"
	OpBindTexture       = "bind_texture"
	OpSetUniform        = "set_uniform"
	OpDraw              = "draw"
	OpFlush             = "flush"
)

// Call is one recorded backend call.
type Call struct {
	Op  string
	Arg any
}

// DrawStats accumulates what draws would have rasterized.
type DrawStats struct {
	Draws     int
	Vertices  uint64
	Instances uint64
}

// record appends a call to the log and returns an injected failure, if any.
func (b *Backend) record(op string, arg any) error {
	b.log = append(b.log, Call{Op: op, Arg: arg})
	if err, ok := b.failures[op]; ok {
		delete(b.failures, op)
		b.slogger().Debug("software: injected failure", "op", op, "err", err)
		return err
	}
	return nil
}

// FailNext makes the next call of op fail with err.
// Calls without an error result (free_*, framebuffer_status) ignore it.
func (b *Backend) FailNext(op string, err error) {
	b.failures[op] = err
}

// Calls returns a copy of the call log.
func (b *Backend) Calls() []Call {
	return append([]Call(nil), b.log...)
}

// Count returns the number of logged calls of op.
func (b *Backend) Count(op string) int {
	n := 0
	for _, c := range b.log {
		if c.Op == op {
			n++
		}
	}
	return n
}

// ResetCalls clears the call log and draw statistics.
func (b *Backend) ResetCalls() {
	b.log = b.log[:0]
	b.drawn = DrawStats{}
}

// DrawStats returns the accumulated draw statistics.
func (b *Backend) DrawStats() DrawStats { return b.drawn }

// nopHandler silently discards all log records.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }
