package backend

import (
	"errors"

	"github.com/gogpu/gpucontext"

	"github.com/gogpu/lumen/gpucore"
)

// Backend name constants.
const (
	// NameNative is the name of the gogpu/wgpu HAL backend.
	NameNative = "native"
	// NameSoftware is the name of the in-memory backend.
	NameSoftware = "software"
)

// ErrBackendNotAvailable is returned when a requested backend is not registered.
var ErrBackendNotAvailable = errors.New("backend: not available")

// Factory creates a new backend instance.
type Factory func() gpucore.Backend

// Priority order for backend selection (first available wins).
// Native > Software (Software is the fallback).
var registry = gpucontext.NewRegistry[gpucore.Backend](
	gpucontext.WithPriority(NameNative, NameSoftware),
)

// Register registers a backend factory with the given name.
// This is typically called from init() functions in backend packages.
// If a backend with the same name is already registered, it will be replaced.
func Register(name string, factory Factory) {
	registry.Register(name, factory)
}

// Unregister removes a backend from the registry.
// This is useful for testing.
func Unregister(name string) {
	registry.Unregister(name)
}

// Available returns a list of registered backend names.
func Available() []string {
	return registry.Available()
}

// IsRegistered checks if a backend with the given name is registered.
func IsRegistered(name string) bool {
	return registry.Has(name)
}

// Get returns a backend instance by name.
// Returns nil if the backend is not registered.
func Get(name string) gpucore.Backend {
	return registry.Get(name)
}

// Default returns the best available backend based on priority.
// Returns nil if no backends are registered.
func Default() gpucore.Backend {
	return registry.Best()
}

// DefaultName returns the name Default would pick, or "" if none.
func DefaultName() string {
	return registry.BestName()
}

// MustDefault returns the default backend or panics.
func MustDefault() gpucore.Backend {
	b := Default()
	if b == nil {
		panic("backend: no backend available")
	}
	return b
}

// InitDefault returns the default backend or ErrBackendNotAvailable.
func InitDefault() (gpucore.Backend, error) {
	b := Default()
	if b == nil {
		return nil, ErrBackendNotAvailable
	}
	return b, nil
}

// InitNamed returns the named backend or ErrBackendNotAvailable.
func InitNamed(name string) (gpucore.Backend, error) {
	if !registry.Has(name) {
		return nil, ErrBackendNotAvailable
	}
	b := registry.Get(name)
	if b == nil {
		return nil, ErrBackendNotAvailable
	}
	return b, nil
}
