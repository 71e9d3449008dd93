package native

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/lumen/gpucore"
)

// frame records commands between flushes. One encoder is reused across
// submissions and reset once the device is idle.
type frame struct {
	encoder   hal.CommandEncoder
	recording bool

	pass   hal.RenderPassEncoder
	passFB gpucore.FramebufferID

	// cmds are submitted buffers not yet known to be complete.
	cmds []hal.CommandBuffer

	// refs holds the IDs of objects used by commands in the open encoder.
	refs map[uint64]struct{}

	// garbage runs after the device is idle.
	garbage []func(hal.Device)

	passes, submits uint64
}

func (f *frame) begin(b *Backend) error {
	if f.recording {
		return nil
	}
	if f.encoder == nil {
		enc, err := b.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: b.label("encoder")})
		if err != nil {
			return fmt.Errorf("native: create command encoder: %w", err)
		}
		f.encoder = enc
	}
	if err := f.encoder.BeginEncoding(b.label("frame")); err != nil {
		return fmt.Errorf("native: begin encoding: %w", err)
	}
	f.recording = true
	if f.refs == nil {
		f.refs = make(map[uint64]struct{})
	}
	return nil
}

func (f *frame) use(ids ...uint64) {
	for _, id := range ids {
		f.refs[id] = struct{}{}
	}
}

// before submits recorded commands that use id, so a following queue
// write does not reach them.
func (f *frame) before(b *Backend, id uint64) error {
	if _, ok := f.refs[id]; !ok {
		return nil
	}
	return f.submit(b)
}

// beginPass opens a render pass on fb. With op nil every attachment is
// loaded.
func (f *frame) beginPass(b *Backend, id gpucore.FramebufferID, fb *framebuffer, op *gpucore.ClearOp) error {
	f.endPass()
	if err := f.begin(b); err != nil {
		return err
	}
	desc := &hal.RenderPassDescriptor{Label: b.label("pass")}
	for _, t := range fb.color {
		a := hal.RenderPassColorAttachment{
			View:    t.target,
			LoadOp:  gputypes.LoadOpLoad,
			StoreOp: gputypes.StoreOpStore,
		}
		if op != nil && op.ClearColor {
			a.LoadOp = gputypes.LoadOpClear
			a.ClearValue = op.Color
		}
		desc.ColorAttachments = append(desc.ColorAttachments, a)
	}
	if fb.depth != nil {
		a := &hal.RenderPassDepthStencilAttachment{
			View:         fb.depth.target,
			DepthLoadOp:  gputypes.LoadOpLoad,
			DepthStoreOp: gputypes.StoreOpStore,
		}
		if op != nil && op.ClearDepth {
			a.DepthLoadOp = gputypes.LoadOpClear
			a.DepthClearValue = op.Depth
		}
		desc.DepthStencilAttachment = a
	}
	f.pass = f.encoder.BeginRenderPass(desc)
	f.passFB = id
	f.passes++
	return nil
}

func (f *frame) endPass() {
	if f.pass == nil {
		return
	}
	f.pass.End()
	f.pass = nil
	f.passFB = gpucore.DefaultFramebuffer
}

// submit ends encoding and submits without waiting.
func (f *frame) submit(b *Backend) error {
	if !f.recording {
		return nil
	}
	f.endPass()
	f.recording = false
	clear(f.refs)
	cmd, err := f.encoder.EndEncoding()
	if err != nil {
		return fmt.Errorf("native: end encoding: %w", err)
	}
	f.cmds = append(f.cmds, cmd)
	if _, err := b.queue.Submit([]hal.CommandBuffer{cmd}); err != nil {
		return fmt.Errorf("native: submit: %w", err)
	}
	f.submits++
	b.slogger().Debug("native: submitted", "passes", f.passes, "submits", f.submits)
	return nil
}

// busy reports whether commands may still reference destroyed objects.
func (f *frame) busy() bool {
	return f.recording || len(f.cmds) > 0
}

// release runs fn now, or after the next retire while commands are pending.
func (f *frame) release(d hal.Device, fn func(hal.Device)) {
	if f.busy() {
		f.garbage = append(f.garbage, fn)
		return
	}
	fn(d)
}

// retire frees completed command buffers and deferred objects. The
// device must be idle.
func (f *frame) retire(d hal.Device) {
	if f.recording {
		return
	}
	if len(f.cmds) > 0 {
		f.encoder.ResetAll(f.cmds)
		for _, cmd := range f.cmds {
			d.FreeCommandBuffer(cmd)
		}
		f.cmds = f.cmds[:0]
	}
	garbage := f.garbage
	f.garbage = nil
	for _, fn := range garbage {
		fn(d)
	}
}

// destroy releases the encoder. Pending work must be retired.
func (f *frame) destroy() {
	if f.encoder != nil {
		f.encoder.Destroy()
		f.encoder = nil
	}
}
