package lumen

import "github.com/gogpu/gpucontext"

// Surface is a presentable window surface provided by the host.
//
// The host owns the native window and its event loop; lumen only needs the
// client area size, a way to make the surface current for the calling
// thread, and a buffer swap.
type Surface interface {
	gpucontext.WindowProvider

	// MakeCurrent binds the surface to the calling thread.
	MakeCurrent() error

	// SwapBuffers presents the default framebuffer.
	SwapBuffers() error
}

// surfaceSize returns the surface size in physical pixels.
func surfaceSize(s Surface) (int, int) {
	w, h := s.Size()
	scale := s.ScaleFactor()
	if scale <= 0 {
		scale = 1
	}
	return int(float64(w) * scale), int(float64(h) * scale)
}
