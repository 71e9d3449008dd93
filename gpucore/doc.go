// Package gpucore defines the backend contract consumed by lumen.
//
// A [Backend] is a thin capability layer over one native graphics API. It
// allocates and frees buffers, textures, shader stages, programs and
// framebuffers, and exposes the set_state / bind / draw primitives the core
// drives. Resources cross the boundary as opaque uint64 IDs; each backend
// keeps its own mapping from ID to native object.
//
// The contract is deliberately stateful: a backend mirrors the GPU's current
// binding set and applies every call in order. Elision of redundant calls is
// not the backend's job; the core routes all state-affecting calls through a
// cache before they reach the backend.
//
//	+-------------------+
//	|   lumen.Context   |   handles, gates, validation
//	+---------+---------+
//	          |
//	+---------v---------+
//	|    state.Cache    |   redundant-call elision
//	+---------+---------+
//	          |
//	+---------v---------+
//	|  gpucore.Backend  |   software | native (wgpu/hal)
//	+-------------------+
//
// FramebufferID(0) always names the default framebuffer of the surface.
package gpucore
