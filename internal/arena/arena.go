// Package arena provides a generational slot store for GPU resource entries.
//
// Entries live in a single owning slice; references between resources are
// plain [Key] values. A key whose slot was removed and reused no longer
// resolves, because each slot carries a generation counter that is bumped
// on removal.
package arena

// Key identifies an entry. The zero Key never resolves.
type Key struct {
	Index      uint32
	Generation uint32
}

// IsZero reports whether k is the zero Key.
func (k Key) IsZero() bool { return k == Key{} }

type slot[T any] struct {
	value      T
	generation uint32
	occupied   bool
}

// Arena stores values addressed by generational keys.
// It is not safe for concurrent use.
type Arena[T any] struct {
	slots []slot[T]
	free  []uint32
	live  int
}

// New creates an empty arena.
func New[T any]() *Arena[T] {
	return &Arena[T]{}
}

// Insert stores v and returns its key.
func (a *Arena[T]) Insert(v T) Key {
	var idx uint32
	if n := len(a.free); n > 0 {
		idx = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		idx = uint32(len(a.slots))
		// Generation starts at 1 so the zero Key is never valid.
		a.slots = append(a.slots, slot[T]{generation: 1})
	}
	s := &a.slots[idx]
	s.value = v
	s.occupied = true
	a.live++
	return Key{Index: idx, Generation: s.generation}
}

// Get returns the value for k.
func (a *Arena[T]) Get(k Key) (T, bool) {
	if s := a.lookup(k); s != nil {
		return s.value, true
	}
	var zero T
	return zero, false
}

// Contains reports whether k resolves.
func (a *Arena[T]) Contains(k Key) bool {
	return a.lookup(k) != nil
}

// Remove deletes k and returns the removed value.
func (a *Arena[T]) Remove(k Key) (T, bool) {
	s := a.lookup(k)
	if s == nil {
		var zero T
		return zero, false
	}
	v := s.value
	var zero T
	s.value = zero
	s.occupied = false
	s.generation++
	a.free = append(a.free, k.Index)
	a.live--
	return v, true
}

// Len returns the number of live entries.
func (a *Arena[T]) Len() int { return a.live }

// Each calls fn for every live entry in index order until fn returns false.
func (a *Arena[T]) Each(fn func(Key, T) bool) {
	for i := range a.slots {
		s := &a.slots[i]
		if !s.occupied {
			continue
		}
		if !fn(Key{Index: uint32(i), Generation: s.generation}, s.value) {
			return
		}
	}
}

func (a *Arena[T]) lookup(k Key) *slot[T] {
	if int(k.Index) >= len(a.slots) {
		return nil
	}
	s := &a.slots[k.Index]
	if !s.occupied || s.generation != k.Generation {
		return nil
	}
	return s
}
