// Package cache provides a bounded, thread-safe LRU cache.
//
// Cache backs the compiled stage cache: identical stage sources compile to
// one shared module, so re-creating a program does not re-run the shader
// front end.
//
//	c := cache.New[string, *Module](64)
//	m, err := c.GetOrCreate(src, func() (*Module, error) { return compile(src) })
//
// Failed creations are never stored. Cache is safe for concurrent use and
// must not be copied after creation.
package cache
