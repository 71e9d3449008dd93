// Package backend selects lumen backends by name.
//
// Backend packages register a factory from their init function or from an
// explicit registration call; applications pick one by name or let
// Default choose the best registered backend:
//
//	import _ "github.com/gogpu/lumen/backend/software"
//
//	b, err := backend.InitDefault()
//	if err != nil {
//		log.Fatal(err)
//	}
//	ctx, err := lumen.NewContext(b)
//
// # Available Backends
//
//   - "native": gogpu/wgpu HAL device; registered with native.Register(provider)
//   - "software": in-memory reference backend (always available once imported)
package backend
