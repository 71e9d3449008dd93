package backend_test

import (
	"errors"
	"slices"
	"testing"

	"github.com/gogpu/lumen/backend"
	"github.com/gogpu/lumen/backend/software"
	"github.com/gogpu/lumen/gpucore"
)

func TestRegistryRegisterAndGet(t *testing.T) {
	if !backend.IsRegistered(backend.NameSoftware) {
		t.Fatal("software backend should be registered on import")
	}
	b := backend.Get(backend.NameSoftware)
	if b == nil {
		t.Fatal("Get(software) returned nil")
	}
	if b.Name() != backend.NameSoftware {
		t.Errorf("Name() = %q, want %q", b.Name(), backend.NameSoftware)
	}
}

func TestRegistryGetUnregistered(t *testing.T) {
	if b := backend.Get("nonexistent"); b != nil {
		t.Errorf("Get(nonexistent) = %v, want nil", b)
	}
	if _, err := backend.InitNamed("nonexistent"); !errors.Is(err, backend.ErrBackendNotAvailable) {
		t.Errorf("InitNamed(nonexistent) error = %v, want ErrBackendNotAvailable", err)
	}
}

func TestRegistryAvailable(t *testing.T) {
	if !slices.Contains(backend.Available(), backend.NameSoftware) {
		t.Errorf("Available() = %v, should include %q", backend.Available(), backend.NameSoftware)
	}
}

func TestRegistryDefaultPrefersNative(t *testing.T) {
	native := software.New(software.Config{})
	backend.Register(backend.NameNative, func() gpucore.Backend { return native })
	defer backend.Unregister(backend.NameNative)

	if got := backend.DefaultName(); got != backend.NameNative {
		t.Errorf("DefaultName() = %q, want %q", got, backend.NameNative)
	}
	if b := backend.Default(); b != native {
		t.Errorf("Default() = %v, want registered native factory result", b)
	}
}

func TestRegistryInitDefault(t *testing.T) {
	b, err := backend.InitDefault()
	if err != nil {
		t.Fatalf("InitDefault() error = %v", err)
	}
	if b == nil {
		t.Fatal("InitDefault() returned nil backend")
	}
}

func TestRegistryUnregister(t *testing.T) {
	backend.Register("test-backend", func() gpucore.Backend { return software.New(software.Config{}) })
	if !backend.IsRegistered("test-backend") {
		t.Fatal("test-backend should be registered")
	}
	backend.Unregister("test-backend")
	if backend.IsRegistered("test-backend") {
		t.Error("test-backend should be unregistered")
	}
}

func TestRegistryMustDefault(t *testing.T) {
	defer func() {
		if r := recover(); r != nil {
			t.Errorf("MustDefault() panicked: %v", r)
		}
	}()
	if b := backend.MustDefault(); b == nil {
		t.Error("MustDefault() returned nil")
	}
}
