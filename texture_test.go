package lumen_test

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/lumen"
	"github.com/gogpu/lumen/backend/software"
)

func TestCreateTexture(t *testing.T) {
	tests := []struct {
		name       string
		desc       lumen.TextureDesc
		wantErr    error
		wantLevels uint32
	}{
		{
			name:       "2D full chain",
			desc:       lumen.TextureDesc{Dim: lumen.Dim2D, Size: lumen.Extent{Width: 16, Height: 8}, Format: gputypes.TextureFormatRGBA8Unorm},
			wantLevels: 5,
		},
		{
			name:       "2D single level",
			desc:       lumen.TextureDesc{Dim: lumen.Dim2D, Size: lumen.Extent{Width: 16, Height: 8}, Format: gputypes.TextureFormatRGBA8Unorm, MipLevels: 1},
			wantLevels: 1,
		},
		{
			name:       "1D",
			desc:       lumen.TextureDesc{Dim: lumen.Dim1D, Size: lumen.Extent{Width: 32}, Format: gputypes.TextureFormatR8Unorm},
			wantLevels: 6,
		},
		{
			name:       "3D",
			desc:       lumen.TextureDesc{Dim: lumen.Dim3D, Size: lumen.Extent{Width: 4, Height: 4, Depth: 2}, Format: gputypes.TextureFormatRGBA32Float},
			wantLevels: 3,
		},
		{
			name:       "cube",
			desc:       lumen.TextureDesc{Dim: lumen.DimCube, Size: lumen.Extent{Width: 8, Height: 8}, Format: gputypes.TextureFormatRGBA8Unorm, MipLevels: 1},
			wantLevels: 1,
		},
		{
			name:       "2D array",
			desc:       lumen.TextureDesc{Dim: lumen.Dim2DArray, Size: lumen.Extent{Width: 8, Height: 8}, Layers: 4, Format: gputypes.TextureFormatRGBA8Unorm, MipLevels: 1},
			wantLevels: 1,
		},
		{
			name:       "depth 2D",
			desc:       lumen.TextureDesc{Dim: lumen.Dim2D, Size: lumen.Extent{Width: 8, Height: 8}, Format: gputypes.TextureFormatDepth32Float, MipLevels: 1},
			wantLevels: 1,
		},
		{
			name:    "depth 3D",
			desc:    lumen.TextureDesc{Dim: lumen.Dim3D, Size: lumen.Extent{Width: 4, Height: 4, Depth: 4}, Format: gputypes.TextureFormatDepth32Float},
			wantErr: lumen.ErrUnsupportedFormat,
		},
		{
			name:    "undefined format",
			desc:    lumen.TextureDesc{Dim: lumen.Dim2D, Size: lumen.Extent{Width: 4, Height: 4}},
			wantErr: lumen.ErrUnsupportedFormat,
		},
		{
			name:    "compressed format",
			desc:    lumen.TextureDesc{Dim: lumen.Dim2D, Size: lumen.Extent{Width: 4, Height: 4}, Format: gputypes.TextureFormatBC1RGBAUnorm},
			wantErr: lumen.ErrUnsupportedFormat,
		},
		{
			name:    "zero width",
			desc:    lumen.TextureDesc{Dim: lumen.Dim2D, Size: lumen.Extent{Height: 4}, Format: gputypes.TextureFormatRGBA8Unorm},
			wantErr: lumen.ErrInvalidDimensions,
		},
		{
			name:    "over limit",
			desc:    lumen.TextureDesc{Dim: lumen.Dim2D, Size: lumen.Extent{Width: 1 << 20, Height: 4}, Format: gputypes.TextureFormatRGBA8Unorm},
			wantErr: lumen.ErrInvalidDimensions,
		},
		{
			name:    "non-square cube",
			desc:    lumen.TextureDesc{Dim: lumen.DimCube, Size: lumen.Extent{Width: 8, Height: 4}, Format: gputypes.TextureFormatRGBA8Unorm},
			wantErr: lumen.ErrInvalidDimensions,
		},
		{
			name:    "array without layers",
			desc:    lumen.TextureDesc{Dim: lumen.Dim2DArray, Size: lumen.Extent{Width: 8, Height: 8}, Format: gputypes.TextureFormatRGBA8Unorm},
			wantErr: lumen.ErrInvalidDimensions,
		},
		{
			name:    "too many levels",
			desc:    lumen.TextureDesc{Dim: lumen.Dim2D, Size: lumen.Extent{Width: 4, Height: 4}, Format: gputypes.TextureFormatRGBA8Unorm, MipLevels: 4},
			wantErr: lumen.ErrInvalidDimensions,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, b := newContext(t)
			tex, err := ctx.CreateTexture(tt.desc)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("CreateTexture() error = %v, want %v", err, tt.wantErr)
				}
				if got := b.Count(software.OpAllocateTexture); got != 0 {
					t.Errorf("allocate_texture calls = %d, want 0", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("CreateTexture() error = %v", err)
			}
			if got := tex.Levels(); got != tt.wantLevels {
				t.Errorf("Levels() = %d, want %d", got, tt.wantLevels)
			}
			if tex.Dim() != tt.desc.Dim || tex.Format() != tt.desc.Format {
				t.Errorf("Dim(), Format() = %v, %v, want %v, %v", tex.Dim(), tex.Format(), tt.desc.Dim, tt.desc.Format)
			}
		})
	}
}

func TestCreateTextureBackendUnsupported(t *testing.T) {
	ctx, _ := newContextWith(t, software.Config{Unsupported: []gputypes.TextureFormat{gputypes.TextureFormatRG32Float}})
	_, err := ctx.CreateTexture(lumen.TextureDesc{
		Dim: lumen.Dim2D, Size: lumen.Extent{Width: 4, Height: 4}, Format: gputypes.TextureFormatRG32Float,
	})
	if !errors.Is(err, lumen.ErrUnsupportedFormat) {
		t.Errorf("CreateTexture() error = %v, want ErrUnsupportedFormat", err)
	}
}

func TestTextureUpload(t *testing.T) {
	ctx, b := newContext(t)
	fb, err := ctx.NewFramebuffer(4, 4, []gputypes.TextureFormat{gputypes.TextureFormatRGBA8Unorm}, gputypes.TextureFormatUndefined)
	if err != nil {
		t.Fatalf("NewFramebuffer() error = %v", err)
	}
	tex := fb.ColorAttachment(0)
	if tex == nil {
		t.Fatal("ColorAttachment(0) = nil")
	}
	if got := tex.LevelSize(0); got != (lumen.Extent{Width: 4, Height: 4, Depth: 1}) {
		t.Errorf("LevelSize(0) = %+v, want 4x4x1", got)
	}

	red := []byte{255, 0, 0, 255, 255, 0, 0, 255}
	if err := tex.Upload(0, lumen.Region{X: 1, Y: 2, Width: 2, Height: 1}, red); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}

	tests := []struct {
		name   string
		level  uint32
		region lumen.Region
		data   []byte
	}{
		{"past right edge", 0, lumen.Region{X: 3, Width: 2, Height: 1}, red},
		{"past bottom edge", 0, lumen.Region{Y: 4, Width: 1, Height: 1}, red[:4]},
		{"missing level", 1, lumen.Region{}, nil},
		{"short data", 0, lumen.Region{Width: 2, Height: 1}, red[:4]},
	}
	for _, tt := range tests {
		if err := tex.Upload(tt.level, tt.region, tt.data); !errors.Is(err, lumen.ErrOutOfBounds) {
			t.Errorf("%s: Upload() error = %v, want ErrOutOfBounds", tt.name, err)
		}
	}

	if err := tex.Clear(gputypes.Color{G: 1, A: 1}); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if got := b.Count(software.OpUploadTexture); got != 2 {
		t.Errorf("upload_texture calls = %d, want 2", got)
	}
}

func TestTextureUploadImage(t *testing.T) {
	ctx, b := newContext(t)
	tex, err := ctx.CreateTexture(lumen.TextureDesc{
		Dim: lumen.Dim2D, Size: lumen.Extent{Width: 4, Height: 4}, Format: gputypes.TextureFormatBGRA8Unorm,
	})
	if err != nil {
		t.Fatalf("CreateTexture() error = %v", err)
	}

	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 100, B: 50, A: 255})
		}
	}
	if err := tex.UploadImage(img); err != nil {
		t.Fatalf("UploadImage() error = %v", err)
	}
	if got := b.Count(software.OpUploadTexture); got != int(tex.Levels()) {
		t.Errorf("upload_texture calls = %d, want one per level (%d)", got, tex.Levels())
	}

	vol, err := ctx.CreateTexture(lumen.TextureDesc{
		Dim: lumen.Dim3D, Size: lumen.Extent{Width: 2, Height: 2, Depth: 2}, Format: gputypes.TextureFormatRGBA8Unorm,
	})
	if err != nil {
		t.Fatalf("CreateTexture(3D) error = %v", err)
	}
	if err := vol.UploadImage(img); !errors.Is(err, lumen.ErrUnsupportedFormat) {
		t.Errorf("UploadImage() into 3D texture error = %v, want ErrUnsupportedFormat", err)
	}
}

func TestUploadImageSwapsChannels(t *testing.T) {
	ctx, b := newContext(t)
	tex, err := ctx.CreateTexture(lumen.TextureDesc{
		Dim: lumen.Dim2D, Size: lumen.Extent{Width: 1, Height: 1}, Format: gputypes.TextureFormatBGRA8Unorm, MipLevels: 1,
	})
	if err != nil {
		t.Fatalf("CreateTexture() error = %v", err)
	}
	img := image.NewRGBA(image.Rect(0, 0, 1, 1))
	img.Set(0, 0, color.RGBA{R: 1, G: 2, B: 3, A: 255})
	if err := tex.UploadImage(img); err != nil {
		t.Fatalf("UploadImage() error = %v", err)
	}
	// The texture is the first object allocated on this backend.
	got, ok := b.TextureLevel(1, 0)
	if !ok {
		t.Fatal("TextureLevel(1, 0) not found")
	}
	if want := []byte{3, 2, 1, 255}; !bytes.Equal(got, want) {
		t.Errorf("texels = %v, want %v", got, want)
	}
}
