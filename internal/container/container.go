package container

import (
	"fmt"
	"time"

	"github.com/nodefabric/basenode/internal/errs"
	"github.com/nodefabric/basenode/internal/log"
	"github.com/nodefabric/basenode/internal/moduleapi"
	"go.uber.org/zap"
)

// DefaultTickInterval is the default sleep between ticks of the main loop.
const DefaultTickInterval = 1000 * time.Millisecond

// loadedModule pairs a live module with the loader handle it came from, so
// uninit can Close the handle in load order.
type loadedModule struct {
	name   string
	module moduleapi.Module
	handle Handle
}

// Container discovers module packages (the name list is configuration, not
// code), loads them in declared order, and drives their lifecycle from a
// single main tick thread.
type Container struct {
	loader       Loader
	registrar    moduleapi.Registrar
	tickInterval time.Duration
	modules      []loadedModule
}

// New builds a Container that loads modules via loader and registers them
// with registrar (normally a *router.Router).
func New(loader Loader, registrar moduleapi.Registrar) *Container {
	return &Container{
		loader:       loader,
		registrar:    registrar,
		tickInterval: DefaultTickInterval,
	}
}

// SetTickInterval overrides DefaultTickInterval.
func (c *Container) SetTickInterval(d time.Duration) { c.tickInterval = d }

// Load discovers and loads each named package in order, constructs its
// Module, registers it with the Router, and calls Init(). On any failure
// the whole load is aborted — packages already loaded stay loaded (their
// handles are not closed here; Shutdown is the caller's responsibility)
// but no further packages are attempted.
func (c *Container) Load(names []string) error {
	for _, name := range names {
		handle, err := c.loader.Load(name)
		if err != nil {
			return errs.WrapDetail(errs.InvalidArguments, fmt.Sprintf("load module %q", name), err)
		}
		sym, err := c.loader.Symbol(handle, ConstructorSymbol)
		if err != nil {
			return errs.WrapDetail(errs.InvalidArguments, fmt.Sprintf("locate constructor for %q", name), err)
		}
		ctor, ok := sym.(func() (moduleapi.Module, error))
		if !ok {
			return errs.Newf(errs.InvalidArguments, "module %q: NewModule has the wrong signature", name)
		}
		m, err := ctor()
		if err != nil {
			return errs.WrapDetail(errs.InvalidArguments, fmt.Sprintf("construct module %q", name), err)
		}
		if err := m.Init(c.registrar); err != nil {
			return errs.WrapDetail(errs.InvalidArguments, fmt.Sprintf("init module %q", name), err)
		}
		c.modules = append(c.modules, loadedModule{name: name, module: m, handle: handle})
		log.L().Info("container: module loaded", zap.String("name", name))
	}
	return nil
}

// PostInit is called once every module has completed Init(); it delegates
// to the Registrar's PostAllInit if available, otherwise calls each
// module's PostAllInit directly in load order.
func (c *Container) PostInit() error {
	if pi, ok := c.registrar.(interface{ PostAllInit() error }); ok {
		return pi.PostAllInit()
	}
	var first error
	for _, lm := range c.modules {
		if err := lm.module.PostAllInit(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Run drives the main loop: call every module's Tick in insertion order on
// this thread, sleep tickInterval, repeat until stop is closed.
func (c *Container) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(c.tickInterval)
	defer ticker.Stop()
	for {
		for _, lm := range c.modules {
			c.safeTick(lm)
		}
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
	}
}

// safeTick wraps one module's Tick so a panic from a buggy module is
// contained and logged rather than aborting the process; the loop then
// resumes with the next module (fault isolation, spec §4.4).
func (c *Container) safeTick(lm loadedModule) {
	defer func() {
		if r := recover(); r != nil {
			log.L().Error("container: module tick panicked, module isolated",
				zap.String("name", lm.name), zap.Any("panic", r))
		}
	}()
	lm.module.Tick()
}

// Shutdown runs Uninit on every module in load order; failures are logged,
// never propagated, and every module's Uninit and handle Close still runs
// regardless of earlier failures.
func (c *Container) Shutdown() {
	for _, lm := range c.modules {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.L().Error("container: module uninit panicked",
						zap.String("name", lm.name), zap.Any("panic", r))
				}
			}()
			lm.module.Uninit(c.registrar)
		}()
		if err := c.loader.Close(lm.handle); err != nil {
			log.L().Error("container: failed to close module handle",
				zap.String("name", lm.name), zap.Error(err))
		}
	}
}
