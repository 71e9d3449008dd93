// Package lumen provides a typed model of GPU resources and pipeline state
// over pluggable hardware backends.
//
// # Overview
//
// A Context owns every resource it creates: buffers, textures,
// framebuffers, shader stages, programs and tessellations. Resources are
// reference counted. Dropping the last reference schedules destruction,
// which runs at the next safe point (no gate open) or at the end of the
// frame, depending on the DestroyPolicy.
//
// Rendering happens inside nested gates:
//
//	PipelineGate  framebuffer, viewport, clears, texture units
//	ShadingGate   active program and its uniforms
//	RenderGate    blending, depth, culling and scissor
//
// Gates close in reverse order of opening. Resources used inside a gate stay
// alive until that gate closes, even if the caller releases them.
//
// # Quick Start
//
//	import (
//	    "github.com/gogpu/gputypes"
//	    "github.com/gogpu/lumen"
//	    "github.com/gogpu/lumen/backend/software"
//	)
//
//	ctx, err := lumen.NewContext(software.New(), lumen.WithDefaultFramebufferSize(640, 480))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer ctx.Close()
//
//	layout := lumen.NewVertexLayout(lumen.VertexAttrib{
//	    Name: "position", Location: 0, Format: gputypes.VertexFormatFloat32x2,
//	})
//	vbuf, _ := ctx.CreateBuffer(lumen.BufferVertex, layout, 3,
//	    lumen.Float32Bytes(-1, -1, 1, -1, 0, 1))
//	tess, _ := ctx.NewTess(gputypes.PrimitiveTopologyTriangleList, layout).Interleaved(vbuf).Build()
//	prog, _ := ctx.NewProgram(vertexWGSL, fragmentWGSL)
//
//	err = ctx.Pipeline(nil, lumen.DefaultPipelineState(), func(pg *lumen.PipelineGate) error {
//	    return pg.Shade(prog, func(sg *lumen.ShadingGate) error {
//	        return sg.Render(lumen.DefaultRenderState(), func(rg *lumen.RenderGate) error {
//	            return rg.Draw(tess.View())
//	        })
//	    })
//	})
//
// # State Elision
//
// Bind and state calls go through a per-context cache that skips calls
// which would not change backend state. StateStats reports issued and
// elided calls. BindForced disables elision.
//
// # Backends
//
// A backend implements gpucore.Backend. The backend/software package
// records calls in memory and is used for testing. The backend/native
// package renders through gogpu/wgpu.
//
// # Errors
//
// Errors wrap one of the category sentinels ErrValidation, ErrAllocation,
// ErrCompile, ErrLink and ErrBackend, and most also wrap a specific
// sentinel such as ErrLayoutMismatch. Test with errors.Is.
//
// # Logging
//
// The package is silent by default. Use SetLogger to route diagnostics to
// an slog.Logger.
package lumen
