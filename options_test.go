package lumen

import (
	"testing"
)

func TestDefaultOptions(t *testing.T) {
	o := defaultOptions()
	if o.width != 1 || o.height != 1 {
		t.Errorf("default size = %dx%d, want 1x1", o.width, o.height)
	}
	if o.policy != DestroyAtSafePoint {
		t.Errorf("default policy = %v, want SafePoint", o.policy)
	}
	if o.bind != BindCached {
		t.Errorf("default bind = %v, want BindCached", o.bind)
	}
	if o.surface != nil {
		t.Error("default surface should be nil")
	}
}

func TestWithDefaultFramebufferSize(t *testing.T) {
	tests := []struct {
		name          string
		width, height int
		wantW, wantH  int
	}{
		{"positive", 640, 480, 640, 480},
		{"zero width", 0, 480, 1, 1},
		{"negative height", 640, -1, 1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := defaultOptions()
			WithDefaultFramebufferSize(tt.width, tt.height)(&o)
			if o.width != tt.wantW || o.height != tt.wantH {
				t.Errorf("size = %dx%d, want %dx%d", o.width, o.height, tt.wantW, tt.wantH)
			}
		})
	}
}

func TestContextOptionsApply(t *testing.T) {
	o := defaultOptions()
	for _, opt := range []ContextOption{
		WithDestroyPolicy(DestroyAtFrameEnd),
		WithBindMode(BindForced),
		WithLabel("offscreen"),
	} {
		opt(&o)
	}
	if o.policy != DestroyAtFrameEnd {
		t.Errorf("policy = %v, want FrameEnd", o.policy)
	}
	if o.bind != BindForced {
		t.Errorf("bind = %v, want BindForced", o.bind)
	}
	if o.label != "offscreen" {
		t.Errorf("label = %q, want %q", o.label, "offscreen")
	}
}

func TestDestroyPolicyString(t *testing.T) {
	tests := []struct {
		p    DestroyPolicy
		want string
	}{
		{DestroyAtSafePoint, "SafePoint"},
		{DestroyAtFrameEnd, "FrameEnd"},
		{DestroyPolicy(9), "Unknown(9)"},
	}
	for _, tt := range tests {
		if got := tt.p.String(); got != tt.want {
			t.Errorf("DestroyPolicy(%d).String() = %q, want %q", tt.p, got, tt.want)
		}
	}
}
