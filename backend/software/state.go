package software

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/lumen/gpucore"
)

// BindFramebuffer makes id the render target.
func (b *Backend) BindFramebuffer(id gpucore.FramebufferID) error {
	if err := b.record(OpBindFramebuffer, id); err != nil {
		return err
	}
	if id != gpucore.DefaultFramebuffer {
		if _, ok := b.fbs[id]; !ok {
			return fmt.Errorf("%w: framebuffer %d", ErrUnknownResource, id)
		}
	}
	b.framebuffer = id
	return nil
}

// Clear fills the bound framebuffer's 8-bit color attachments and records
// the operation.
func (b *Backend) Clear(op gpucore.ClearOp) error {
	if err := b.record(OpClear, op); err != nil {
		return err
	}
	b.lastClear = op
	if !op.ClearColor {
		return nil
	}
	px := rgba8(op.Color)
	if b.framebuffer == gpucore.DefaultFramebuffer {
		fill(b.defaultFB, px[:])
		return nil
	}
	for _, tid := range b.fbs[b.framebuffer].Color {
		t, ok := b.texs[tid]
		if !ok {
			continue
		}
		switch t.desc.Format {
		case gputypes.TextureFormatRGBA8Unorm, gputypes.TextureFormatRGBA8UnormSrgb:
			fill(t.levels[0], px[:])
		case gputypes.TextureFormatBGRA8Unorm, gputypes.TextureFormatBGRA8UnormSrgb:
			fill(t.levels[0], []byte{px[2], px[1], px[0], px[3]})
		case gputypes.TextureFormatRGBA32Float:
			var f [16]byte
			for i, c := range []float64{op.Color.R, op.Color.G, op.Color.B, op.Color.A} {
				binary.LittleEndian.PutUint32(f[i*4:], math.Float32bits(float32(c)))
			}
			fill(t.levels[0], f[:])
		}
	}
	return nil
}

// LastClear returns the most recent clear operation.
func (b *Backend) LastClear() gpucore.ClearOp { return b.lastClear }

// SetViewport records the viewport.
func (b *Backend) SetViewport(v gpucore.Viewport) error {
	if err := b.record(OpSetViewport, v); err != nil {
		return err
	}
	b.viewport = v
	return nil
}

// SetRenderState records the render state.
func (b *Backend) SetRenderState(s gpucore.RenderState) error {
	if err := b.record(OpSetRenderState, s); err != nil {
		return err
	}
	b.render = s
	return nil
}

// UseProgram activates a program.
func (b *Backend) UseProgram(id gpucore.ProgramID) error {
	if err := b.record(OpUseProgram, id); err != nil {
		return err
	}
	if _, ok := b.progs[id]; !ok {
		return fmt.Errorf("%w: program %d", ErrUnknownResource, id)
	}
	b.program = id
	return nil
}

// BindBuffer binds a buffer to a target slot.
func (b *Backend) BindBuffer(target gpucore.BufferTarget, slot uint32, id gpucore.BufferID) error {
	if err := b.record(OpBindBuffer, bufferBinding{target: target, slot: slot}); err != nil {
		return err
	}
	if _, ok := b.buffers[id]; !ok {
		return fmt.Errorf("%w: buffer %d", ErrUnknownResource, id)
	}
	b.bound[bufferBinding{target: target, slot: slot}] = id
	return nil
}

// BindTexture binds a texture to a unit.
func (b *Backend) BindTexture(unit uint32, id gpucore.TextureID) error {
	if err := b.record(OpBindTexture, unit); err != nil {
		return err
	}
	if unit >= b.cfg.Limits.MaxTextureUnits {
		return fmt.Errorf("%w: texture unit %d", ErrRange, unit)
	}
	if _, ok := b.texs[id]; !ok {
		return fmt.Errorf("%w: texture %d", ErrUnknownResource, id)
	}
	b.units[unit] = id
	return nil
}

// SetUniform stores uniform bytes on a program.
func (b *Backend) SetUniform(id gpucore.ProgramID, loc gpucore.UniformLocation, data []byte) error {
	if err := b.record(OpSetUniform, loc); err != nil {
		return err
	}
	p, ok := b.progs[id]
	if !ok {
		return fmt.Errorf("%w: program %d", ErrNoProgram, id)
	}
	p.uniforms[loc] = append([]byte(nil), data...)
	return nil
}

// Draw validates the bound state against the call and counts it.
func (b *Backend) Draw(call *gpucore.DrawCall) error {
	if err := b.record(OpDraw, *call); err != nil {
		return err
	}
	if _, ok := b.progs[b.program]; !ok {
		return ErrNoProgram
	}
	if b.framebuffer != gpucore.DefaultFramebuffer {
		if _, ok := b.fbs[b.framebuffer]; !ok {
			return fmt.Errorf("%w: framebuffer %d", ErrUnknownResource, b.framebuffer)
		}
	}
	for i, vb := range call.Buffers {
		target := gpucore.TargetVertex
		if vb.Layout.StepMode == gputypes.VertexStepModeInstance {
			target = gpucore.TargetInstance
		}
		bound, ok := b.bound[bufferBinding{target: target, slot: uint32(i)}]
		if !ok || bound != vb.Buffer {
			return fmt.Errorf("software: buffer %d not bound to %v slot %d", vb.Buffer, target, i)
		}
		if _, ok := b.buffers[bound]; !ok {
			return fmt.Errorf("%w: buffer %d", ErrUnknownResource, bound)
		}
	}
	if call.Indexed {
		id, ok := b.bound[bufferBinding{target: gpucore.TargetIndex}]
		if !ok {
			return ErrNoIndexBuffer
		}
		buf, ok := b.buffers[id]
		if !ok {
			return fmt.Errorf("%w: buffer %d", ErrUnknownResource, id)
		}
		if end := uint64(call.First+call.Count) * uint64(call.IndexFormat.Size()); end > uint64(len(buf.data)) {
			return fmt.Errorf("%w: indices %d..%d", ErrRange, call.First, call.First+call.Count)
		}
	}
	b.drawn.Draws++
	b.drawn.Vertices += uint64(call.Count) * uint64(call.InstanceCount)
	b.drawn.Instances += uint64(call.InstanceCount)
	return nil
}

// Bound returns the buffer bound to a target slot.
func (b *Backend) Bound(target gpucore.BufferTarget, slot uint32) (gpucore.BufferID, bool) {
	id, ok := b.bound[bufferBinding{target: target, slot: slot}]
	return id, ok
}

// CurrentProgram returns the program in use.
func (b *Backend) CurrentProgram() gpucore.ProgramID { return b.program }

// CurrentFramebuffer returns the bound framebuffer.
func (b *Backend) CurrentFramebuffer() gpucore.FramebufferID { return b.framebuffer }

// CurrentRenderState returns the last applied render state.
func (b *Backend) CurrentRenderState() gpucore.RenderState { return b.render }

// CurrentViewport returns the last applied viewport.
func (b *Backend) CurrentViewport() gpucore.Viewport { return b.viewport }

func rgba8(c gputypes.Color) [4]byte {
	conv := func(v float64) byte {
		v = math.Max(0, math.Min(1, v))
		return byte(math.Round(v * 255))
	}
	return [4]byte{conv(c.R), conv(c.G), conv(c.B), conv(c.A)}
}

func fill(dst, px []byte) {
	for i := 0; i+len(px) <= len(dst); i += len(px) {
		copy(dst[i:], px)
	}
}
