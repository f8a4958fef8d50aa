//go:build linux

// Package soloader implements container.Loader over Go's plugin package
// (plugin.Open/plugin.Lookup), the direct analogue of the original
// dlopen/dlsym flow in original_source/src/plugin_system_proc.cpp: each
// module ships as a standalone .so exporting a NewModule symbol.
package soloader

import (
	"fmt"
	"path/filepath"
	"plugin"

	"github.com/nodefabric/basenode/internal/container"
)

// Loader resolves module names to .so files under Dir.
type Loader struct {
	// Dir is the directory .so files are looked up in, mirroring the
	// original's "../lib/lib<name>.so" convention.
	Dir string
}

// New builds a Loader rooted at dir.
func New(dir string) *Loader {
	return &Loader{Dir: dir}
}

func (l *Loader) soPath(name string) string {
	return filepath.Join(l.Dir, fmt.Sprintf("lib%s.so", name))
}

func (l *Loader) Load(name string) (container.Handle, error) {
	p, err := plugin.Open(l.soPath(name))
	if err != nil {
		return nil, fmt.Errorf("soloader: dlopen %q: %w", name, err)
	}
	return p, nil
}

func (l *Loader) Symbol(h container.Handle, name string) (any, error) {
	p, ok := h.(*plugin.Plugin)
	if !ok {
		return nil, fmt.Errorf("soloader: invalid handle")
	}
	sym, err := p.Lookup(name)
	if err != nil {
		return nil, fmt.Errorf("soloader: dlsym %q: %w", name, err)
	}
	return sym, nil
}

// Close is a no-op: Go's plugin package provides no dlclose equivalent —
// once loaded, a plugin stays mapped for the life of the process.
//
// A .so built against this loader must export:
//
//	func NewModule() (moduleapi.Module, error)
func (l *Loader) Close(container.Handle) error { return nil }
