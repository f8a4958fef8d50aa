// Package container implements the Module Container (C4): ordered
// load/init/post-init/tick/uninit of plug-in modules, driven by a single
// main tick thread.
package container

// Handle is an opaque reference to a loaded module package, returned by a
// Loader and consumed by Symbol/Close.
type Handle any

// Loader is the plug-in loading capability the spec's design notes (§9)
// describe as "discover entry-point triples by name in loaded packages and
// call them in order" — a thin capability, not a language plug-in system.
// staticloader and soloader are the two implementations this repo ships.
//
// The original C++ source exposes three raw function-pointer symbols
// (init/tick/uninit) per loaded package; this redesign collapses that
// triple into one constructor symbol, "NewModule", that returns a
// moduleapi.Module — an in-process registry is exactly the redesign
// spec.md §9 endorses ("simple in-process module registries are equally
// acceptable — the Container contract is what matters").
type Loader interface {
	// Load locates the package named name and returns a handle to it.
	Load(name string) (Handle, error)
	// Symbol looks up a named entry point within handle.
	Symbol(handle Handle, name string) (any, error)
	// Close releases handle.
	Close(handle Handle) error
}

// ConstructorSymbol is the entry-point name every loadable package must
// export: func() (moduleapi.Module, error).
const ConstructorSymbol = "NewModule"
