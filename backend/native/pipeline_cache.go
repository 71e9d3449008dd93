package native

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"hash/fnv"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/lumen/gpucore"
)

// ErrPipelineCacheNilDescriptor is returned when looking up a nil pipeline key.
var ErrPipelineCacheNilDescriptor = errors.New("native: pipeline key is nil")

// PipelineKey is everything that selects a render pipeline: the program,
// the vertex fetch layout, the primitive setup, the render state and the
// target formats.
type PipelineKey struct {
	Program gpucore.ProgramID

	Buffers          []gputypes.VertexBufferLayout
	Topology         gputypes.PrimitiveTopology
	StripIndexFormat gputypes.IndexFormat

	State gpucore.RenderState

	ColorFormats []gputypes.TextureFormat
	DepthFormat  gputypes.TextureFormat
}

// PipelineCache caches render pipelines by the FNV-1a hash of their key.
//
// Pipeline creation is expensive because it involves shader translation and
// validation. Draws with an unchanged configuration reuse the pipeline.
//
// PipelineCache is safe for concurrent use. It uses RWMutex with
// double-check locking for efficient reads and safe writes.
type PipelineCache struct {
	mu sync.RWMutex

	pipelines map[uint64]hal.RenderPipeline

	// byProgram lists the hashes created for each program so that freeing
	// a program drops its pipelines.
	byProgram map[gpucore.ProgramID][]uint64

	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewPipelineCache creates an empty pipeline cache.
func NewPipelineCache() *PipelineCache {
	return &PipelineCache{
		pipelines: make(map[uint64]hal.RenderPipeline),
		byProgram: make(map[gpucore.ProgramID][]uint64),
	}
}

// GetOrCreate returns the cached pipeline for key, calling create on a miss.
func (c *PipelineCache) GetOrCreate(key *PipelineKey, create func() (hal.RenderPipeline, error)) (hal.RenderPipeline, error) {
	if key == nil {
		return nil, ErrPipelineCacheNilDescriptor
	}
	h := HashPipelineKey(key)

	// Fast path: read lock
	c.mu.RLock()
	if p, ok := c.pipelines[h]; ok {
		c.mu.RUnlock()
		c.hits.Add(1)
		return p, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	if p, ok := c.pipelines[h]; ok {
		c.hits.Add(1)
		return p, nil
	}

	p, err := create()
	if err != nil {
		return nil, fmt.Errorf("native: create render pipeline: %w", err)
	}
	c.pipelines[h] = p
	c.byProgram[key.Program] = append(c.byProgram[key.Program], h)
	c.misses.Add(1)
	return p, nil
}

// Stats returns the number of cache hits and misses.
func (c *PipelineCache) Stats() (hits, misses uint64) {
	return c.hits.Load(), c.misses.Load()
}

// HitRate returns the cache hit rate (0.0 to 1.0), or 0 before any lookup.
func (c *PipelineCache) HitRate() float64 {
	hits, misses := c.Stats()
	total := hits + misses
	if total == 0 {
		return 0.0
	}
	return float64(hits) / float64(total)
}

// Size returns the number of cached pipelines.
func (c *PipelineCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.pipelines)
}

// Evict removes the pipelines of program and passes each to destroy.
func (c *PipelineCache) Evict(program gpucore.ProgramID, destroy func(hal.RenderPipeline)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, h := range c.byProgram[program] {
		if p, ok := c.pipelines[h]; ok {
			destroy(p)
			delete(c.pipelines, h)
		}
	}
	delete(c.byProgram, program)
}

// DestroyAll passes every cached pipeline to destroy, then empties the
// cache and resets statistics.
func (c *PipelineCache) DestroyAll(destroy func(hal.RenderPipeline)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, p := range c.pipelines {
		destroy(p)
	}
	c.pipelines = make(map[uint64]hal.RenderPipeline)
	c.byProgram = make(map[gpucore.ProgramID][]uint64)
	c.hits.Store(0)
	c.misses.Store(0)
}

// HashPipelineKey computes an FNV-1a hash over every field of key.
func HashPipelineKey(key *PipelineKey) uint64 {
	h := fnv.New64a()

	hashWriteUint64(h, uint64(key.Program))

	//nolint:gosec // G115: vertex buffer count is bounded by GPU limits
	hashWriteUint32(h, uint32(len(key.Buffers)))
	for i := range key.Buffers {
		layout := &key.Buffers[i]
		hashWriteUint64(h, layout.ArrayStride)
		hashWriteUint32(h, uint32(layout.StepMode))
		//nolint:gosec // G115: attribute count is bounded by GPU limits
		hashWriteUint32(h, uint32(len(layout.Attributes)))
		for j := range layout.Attributes {
			attr := &layout.Attributes[j]
			hashWriteUint32(h, attr.ShaderLocation)
			hashWriteUint32(h, uint32(attr.Format))
			hashWriteUint64(h, attr.Offset)
		}
	}

	hashWriteUint32(h, uint32(key.Topology))
	hashWriteUint32(h, uint32(key.StripIndexFormat))

	s := &key.State
	hashWriteBool(h, s.Blending.Enabled)
	if s.Blending.Enabled {
		hashWriteBlend(h, s.Blending.Color)
		hashWriteBlend(h, s.Blending.Alpha)
	}
	hashWriteBool(h, s.Depth.Enabled)
	hashWriteUint32(h, uint32(s.Depth.Compare))
	hashWriteBool(h, s.DepthWrite)
	hashWriteUint32(h, uint32(s.Cull))
	hashWriteUint32(h, uint32(s.FrontFace))
	hashWriteUint32(h, uint32(s.ColorWrite))

	//nolint:gosec // G115: attachment count is bounded by GPU limits
	hashWriteUint32(h, uint32(len(key.ColorFormats)))
	for _, f := range key.ColorFormats {
		hashWriteUint32(h, uint32(f))
	}
	hashWriteUint32(h, uint32(key.DepthFormat))

	return h.Sum64()
}

func hashWriteBlend(h hash.Hash64, b gputypes.BlendComponent) {
	hashWriteUint32(h, uint32(b.SrcFactor))
	hashWriteUint32(h, uint32(b.DstFactor))
	hashWriteUint32(h, uint32(b.Operation))
}

func hashWriteUint32(h hash.Hash64, v uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	_, _ = h.Write(buf[:])
}

func hashWriteUint64(h hash.Hash64, v uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	_, _ = h.Write(buf[:])
}

func hashWriteBool(h hash.Hash64, v bool) {
	if v {
		_, _ = h.Write([]byte{1})
	} else {
		_, _ = h.Write([]byte{0})
	}
}
