package lumen

import (
	"fmt"

	"github.com/gogpu/lumen/internal/state"
)

// DestroyPolicy selects when released resources are destroyed on the backend.
type DestroyPolicy uint8

const (
	// DestroyAtSafePoint destroys a released resource immediately when no
	// gate is open, and otherwise when the outermost gate closes.
	DestroyAtSafePoint DestroyPolicy = iota

	// DestroyAtFrameEnd queues every release until Flush, Present or Close.
	DestroyAtFrameEnd
)

// String returns the policy name.
func (p DestroyPolicy) String() string {
	switch p {
	case DestroyAtSafePoint:
		return "SafePoint"
	case DestroyAtFrameEnd:
		return "FrameEnd"
	default:
		return fmt.Sprintf("Unknown(%d)", int(p))
	}
}

// BindMode selects whether redundant state changes are elided.
type BindMode = state.Bind

const (
	// BindCached forwards a state change only when it differs from the
	// last value sent to the backend.
	BindCached = state.BindCached

	// BindForced forwards every state change.
	BindForced = state.BindForced
)

// ContextOption configures a Context during creation.
// Use functional options to customize Context behavior.
//
// Example:
//
//	// Headless context with an offscreen default framebuffer
//	ctx, err := lumen.NewContext(b, lumen.WithDefaultFramebufferSize(800, 600))
//
//	// Windowed context presenting through a surface
//	ctx, err := lumen.NewContext(b, lumen.WithSurface(win))
type ContextOption func(*contextOptions)

// contextOptions holds optional configuration for Context creation.
type contextOptions struct {
	surface       Surface
	width, height int
	policy        DestroyPolicy
	bind          BindMode
	label         string
}

// defaultOptions returns the default context options.
func defaultOptions() contextOptions {
	return contextOptions{
		width:  1,
		height: 1,
		policy: DestroyAtSafePoint,
		bind:   BindCached,
	}
}

// WithSurface attaches a presentation surface. The default framebuffer
// takes the surface size and Present swaps its buffers.
func WithSurface(s Surface) ContextOption {
	return func(o *contextOptions) {
		o.surface = s
	}
}

// WithDefaultFramebufferSize sets the default framebuffer size for contexts
// without a surface. Non-positive values are ignored.
func WithDefaultFramebufferSize(width, height int) ContextOption {
	return func(o *contextOptions) {
		if width > 0 && height > 0 {
			o.width, o.height = width, height
		}
	}
}

// WithDestroyPolicy selects when released resources reach the backend.
//
// Example:
//
//	ctx, _ := lumen.NewContext(b, lumen.WithDestroyPolicy(lumen.DestroyAtFrameEnd))
func WithDestroyPolicy(p DestroyPolicy) ContextOption {
	return func(o *contextOptions) {
		o.policy = p
	}
}

// WithBindMode selects cached or forced state binding.
// Forced binding is useful when sharing the native context with other code.
func WithBindMode(m BindMode) ContextOption {
	return func(o *contextOptions) {
		o.bind = m
	}
}

// WithLabel sets a debug label used in log output.
func WithLabel(label string) ContextOption {
	return func(o *contextOptions) {
		o.label = label
	}
}
