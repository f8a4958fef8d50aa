// Package staticloader implements container.Loader over an in-process
// registry of already-linked module constructors — the practical Go
// equivalent of a dynamic-library host, per spec.md §9's design note that
// "simple in-process module registries are equally acceptable."
package staticloader

import (
	"fmt"
	"sync"

	"github.com/nodefabric/basenode/internal/container"
	"github.com/nodefabric/basenode/internal/moduleapi"
)

// Constructor builds a fresh instance of one module.
type Constructor func() (moduleapi.Module, error)

// Loader is a container.Loader backed by a name -> Constructor table that
// callers populate with Register before Container.Load runs.
type Loader struct {
	mu    sync.RWMutex
	table map[string]Constructor
}

// New builds an empty Loader.
func New() *Loader {
	return &Loader{table: make(map[string]Constructor)}
}

// Register associates name with ctor in this Loader's table; a name is
// loadable only once it has been registered here (cmd/basenode registers
// each module explicitly before Container.Load), mirroring how the
// original dlopen-based loader makes a .so loadable by path.
func (l *Loader) Register(name string, ctor Constructor) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.table[name] = ctor
}

type handle struct {
	name string
	ctor Constructor
}

func (l *Loader) Load(name string) (container.Handle, error) {
	l.mu.RLock()
	ctor, ok := l.table[name]
	l.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("staticloader: no module registered under %q", name)
	}
	return handle{name: name, ctor: ctor}, nil
}

func (l *Loader) Symbol(h container.Handle, name string) (any, error) {
	hd, ok := h.(handle)
	if !ok {
		return nil, fmt.Errorf("staticloader: invalid handle")
	}
	if name != container.ConstructorSymbol {
		return nil, fmt.Errorf("staticloader: module %q has no symbol %q", hd.name, name)
	}
	return func() (moduleapi.Module, error) { return hd.ctor() }, nil
}

func (l *Loader) Close(h container.Handle) error {
	_, ok := h.(handle)
	if !ok {
		return fmt.Errorf("staticloader: invalid handle")
	}
	return nil
}
