// Command lumendemo renders an animated quad through a lumen backend and
// prints state elision counters.
package main

import (
	"flag"
	"image"
	"image/png"
	"log"
	"log/slog"
	"math"
	"os"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"

	"github.com/gogpu/lumen"
	"github.com/gogpu/lumen/backend"
	"github.com/gogpu/lumen/backend/native"
	"github.com/gogpu/lumen/backend/software"
	"github.com/gogpu/lumen/gpucore"
)

const vertexSrc = `
struct Params {
    offset: vec2<f32>,
    tint: vec4<f32>,
}

@group(0) @binding(0) var<uniform> params: Params;

struct VertexOut {
    @builtin(position) pos: vec4<f32>,
    @location(0) color: vec4<f32>,
}

@vertex
fn vs_main(@location(0) pos: vec2<f32>) -> VertexOut {
    var out: VertexOut;
    out.pos = vec4<f32>(pos * 0.5 + params.offset, 0.0, 1.0);
    out.color = params.tint;
    return out;
}
`

const fragmentSrc = `
@fragment
fn fs_main(@location(0) color: vec4<f32>) -> @location(0) vec4<f32> {
    return color;
}
`

// noopProvider exposes a noop HAL device the way a windowing host would.
type noopProvider struct {
	device hal.Device
	queue  hal.Queue
}

func (p *noopProvider) Device() gpucontext.Device             { return p.device }
func (p *noopProvider) Queue() gpucontext.Queue               { return p.queue }
func (p *noopProvider) SurfaceFormat() gputypes.TextureFormat { return gputypes.TextureFormatRGBA8Unorm }
func (p *noopProvider) Adapter() gpucontext.Adapter           { return nil }
func (p *noopProvider) AdapterInfo() gpucontext.AdapterInfo   { return gpucontext.AdapterInfo{Name: "noop"} }

func main() {
	var (
		name    = flag.String("backend", "", "backend name (native, software); empty picks the best registered")
		frames  = flag.Int("frames", 60, "number of frames to render")
		width   = flag.Int("width", 64, "framebuffer width")
		height  = flag.Int("height", 64, "framebuffer height")
		output  = flag.String("output", "", "write the last software frame to this PNG file")
		verbose = flag.Bool("v", false, "enable debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	lumen.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	cleanup, err := registerNative(*width, *height)
	if err != nil {
		log.Printf("native backend unavailable: %v", err)
	}
	defer cleanup()

	backend.Register(backend.NameSoftware, func() gpucore.Backend {
		return software.New(software.Config{Width: uint32(*width), Height: uint32(*height)})
	})

	var b gpucore.Backend
	if *name == "" {
		b, err = backend.InitDefault()
	} else {
		b, err = backend.InitNamed(*name)
	}
	if err != nil {
		log.Fatalf("Failed to open backend: %v", err)
	}
	if d, ok := b.(interface{ Destroy() }); ok {
		defer d.Destroy()
	}

	ctx, err := lumen.NewContext(b, lumen.WithDefaultFramebufferSize(*width, *height))
	if err != nil {
		log.Fatalf("Failed to create context: %v", err)
	}
	defer func() { _ = ctx.Close() }()

	if err := run(ctx, *frames); err != nil {
		log.Fatalf("Render failed: %v", err)
	}

	for op, c := range ctx.StateStats() {
		log.Printf("%-18s issued=%d elided=%d", op, c.Issued, c.Elided)
	}

	if *output != "" {
		sw, ok := b.(*software.Backend)
		if !ok {
			log.Fatalf("-output needs the software backend, have %s", b.Name())
		}
		if err := savePNG(*output, sw.DefaultFramebufferPixels(), *width, *height); err != nil {
			log.Fatalf("Failed to save: %v", err)
		}
		log.Printf("Frame saved to %s (%dx%d)", *output, *width, *height)
	}
}

func registerNative(width, height int) (func(), error) {
	instance, err := noop.API{}.CreateInstance(nil)
	if err != nil {
		return func() {}, err
	}
	od, err := instance.EnumerateAdapters(nil)[0].Adapter.Open(0, gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		return func() {}, err
	}
	cleanup := func() {
		od.Device.Destroy()
		instance.Destroy()
	}
	p := &noopProvider{device: od.Device, queue: od.Queue}
	cfg := native.Config{Width: uint32(width), Height: uint32(height), Label: "lumendemo"}
	if err := native.Register(p, cfg); err != nil {
		cleanup()
		return func() {}, err
	}
	return cleanup, nil
}

func run(ctx *lumen.Context, frames int) error {
	layout := lumen.NewVertexLayout(lumen.VertexAttrib{Name: "pos", Location: 0, Format: gputypes.VertexFormatFloat32x2})
	buf, err := ctx.CreateBuffer(lumen.BufferVertex, layout, 4, lumen.Float32Bytes(-1, -1, 1, -1, -1, 1, 1, 1))
	if err != nil {
		return err
	}
	tess, err := ctx.NewTess(gputypes.PrimitiveTopologyTriangleStrip, layout).Interleaved(buf).Build()
	if err != nil {
		return err
	}
	prog, err := ctx.NewProgram(vertexSrc, fragmentSrc)
	if err != nil {
		return err
	}

	ps := lumen.DefaultPipelineState()
	ps.ClearColor = gputypes.Color{R: 0.1, G: 0.1, B: 0.15, A: 1}
	rs := lumen.DefaultRenderState().WithBlending(lumen.AlphaBlending())

	for i := 0; i < frames; i++ {
		t := float64(i) / float64(max(frames, 1))
		angle := 2 * math.Pi * t
		err := ctx.Pipeline(nil, ps, func(pg *lumen.PipelineGate) error {
			return pg.Shade(prog, func(sg *lumen.ShadingGate) error {
				offset := lumen.Vec2{float32(0.4 * math.Cos(angle)), float32(0.4 * math.Sin(angle))}
				if err := sg.SetUniformByName("offset", offset); err != nil {
					return err
				}
				tint := lumen.Vec4{float32(0.5 + 0.5*math.Sin(angle)), 0.6, float32(0.5 + 0.5*math.Cos(angle)), 0.9}
				if err := sg.SetUniformByName("tint", tint); err != nil {
					return err
				}
				return sg.Render(rs, func(rg *lumen.RenderGate) error {
					return rg.Draw(tess.View())
				})
			})
		})
		if err != nil {
			return err
		}
		if err := ctx.Flush(); err != nil {
			return err
		}
	}
	return nil
}

func savePNG(path string, pix []byte, w, h int) error {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	copy(img.Pix, pix)
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
