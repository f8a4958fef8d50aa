// Package router implements the Module Router (C3): the service-key ->
// module index that steers RPC request and response frames to the right
// module's mailbox, with a fallback to the designated network module for
// cross-node traffic.
package router

import (
	"sync"

	"github.com/nodefabric/basenode/internal/errs"
	"github.com/nodefabric/basenode/internal/frame"
	"github.com/nodefabric/basenode/internal/idhash"
	"github.com/nodefabric/basenode/internal/log"
	"github.com/nodefabric/basenode/internal/mailbox"
	"github.com/nodefabric/basenode/internal/moduleapi"
	"go.uber.org/zap"
)

// Router maps service keys and module ids to registered modules. Its maps
// are shared read/write across the main thread and transport workers;
// lookups happen under a lock, delivery happens after the lock is released
// (spec §5).
type Router struct {
	mu            sync.RWMutex
	byServiceKey  map[idhash.ServiceKey]moduleapi.Module
	byModuleID    map[idhash.ModuleID]moduleapi.Module
	networkModule moduleapi.Module
}

// New builds an empty Router.
func New() *Router {
	return &Router{
		byServiceKey: make(map[idhash.ServiceKey]moduleapi.Module),
		byModuleID:   make(map[idhash.ModuleID]moduleapi.Module),
	}
}

// Register installs m into the Router. If isNetwork, m becomes the
// designated egress module for unknown keys; re-assignment of the network
// module is logged but never rejected. Otherwise every key in
// m.ServiceKeys() is installed, rolling back all keys just inserted for m
// if any collides with an existing entry.
func (r *Router) Register(m moduleapi.Module, isNetwork bool) error {
	if m == nil {
		return errs.New(errs.InvalidArguments)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if isNetwork {
		if r.networkModule != nil && r.networkModule.ID() != m.ID() {
			log.L().Warn("router: re-assigning network module",
				zap.Uint32("old", uint32(r.networkModule.ID())), zap.Uint32("new", uint32(m.ID())))
		}
		r.networkModule = m
		r.byModuleID[m.ID()] = m
		r.bind(m)
		return nil
	}

	if _, exists := r.byModuleID[m.ID()]; exists {
		return errs.Newf(errs.ModuleAlreadyRegistered, "module id %d", uint32(m.ID()))
	}

	keys := m.ServiceKeys()
	inserted := make([]idhash.ServiceKey, 0, len(keys))
	for _, k := range keys {
		if existing, collide := r.byServiceKey[k]; collide {
			// roll back everything inserted so far for this module.
			for _, ik := range inserted {
				delete(r.byServiceKey, ik)
			}
			return errs.Newf(errs.ServiceIdAlreadyRegistered,
				"key %d already owned by module %d", uint32(k), uint32(existing.ID()))
		}
		r.byServiceKey[k] = m
		inserted = append(inserted, k)
	}
	r.byModuleID[m.ID()] = m
	r.bind(m)
	return nil
}

// bind wires m's send callbacks to the Router's own egress methods. Must
// be called with r.mu held; the callbacks themselves are only ever invoked
// later, outside any lock.
func (r *Router) bind(m moduleapi.Module) {
	m.SetServerSendCB(r.RouteRPCResponse)
	m.SetClientSendCB(r.RouteRPCRequest)
}

// Deregister removes every entry pointing at m. Deregistering a module
// that was never registered is a no-op returning nil (idempotent per
// spec §8).
func (r *Router) Deregister(m moduleapi.Module) error {
	if m == nil {
		return errs.New(errs.InvalidArguments)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, v := range r.byServiceKey {
		if v.ID() == m.ID() {
			delete(r.byServiceKey, k)
		}
	}
	delete(r.byModuleID, m.ID())
	if r.networkModule != nil && r.networkModule.ID() == m.ID() {
		r.networkModule = nil
	}
	return nil
}

// RouteProtocolPacket is the entry point for frames arriving from the
// network boundary (C8). It parses the header and dispatches based on the
// explicit Kind field — never inferred from the delivery path.
func (r *Router) RouteProtocolPacket(raw []byte) error {
	fr, err := frame.Decode(raw)
	if err != nil {
		return errs.WrapDetail(errs.InvalidArguments, "unparseable frame header", err)
	}
	switch fr.Kind {
	case frame.Request:
		return r.RouteRPCRequest(fr)
	case frame.Response:
		return r.RouteRPCResponse(fr)
	default:
		return errs.Newf(errs.InvalidArguments, "unknown frame kind %d", fr.Kind)
	}
}

// RouteRPCRequest delivers fr by service key, falling back to the network
// module on a miss.
func (r *Router) RouteRPCRequest(fr frame.Frame) error {
	r.mu.RLock()
	target, ok := r.byServiceKey[fr.Key]
	fallback := r.networkModule
	r.mu.RUnlock()

	if !ok {
		if fallback == nil {
			return errs.Newf(errs.ServiceIdNotFound, "key %d", uint32(fr.Key))
		}
		target = fallback
	}
	return deliver(target, fr)
}

// RouteRPCResponse delivers fr by the caller's client id (≡ ModuleID),
// falling back to the network module on a miss. Responses are steered by
// caller identity, not by handler key.
func (r *Router) RouteRPCResponse(fr frame.Frame) error {
	r.mu.RLock()
	target, ok := r.byModuleID[idhash.ModuleIDOf(fr.ClientID)]
	fallback := r.networkModule
	r.mu.RUnlock()

	if !ok {
		if fallback == nil {
			return errs.Newf(errs.ServiceIdNotFound, "client id %d", uint64(fr.ClientID))
		}
		target = fallback
	}
	return deliver(target, fr)
}

func deliver(target moduleapi.Module, fr frame.Frame) error {
	kind := mailbox.RpcRequest
	if fr.Kind == frame.Response {
		kind = mailbox.RpcResponse
	}
	return target.PushEvent(mailbox.Event{Kind: kind, Bytes: frame.Encode(fr)})
}

// PostAllInit invokes DoPostInit on every registered module (via
// moduleapi.Module.PostAllInit) in unspecified order. The first
// non-success is returned as the aggregate result; all modules are still
// visited.
func (r *Router) PostAllInit() error {
	r.mu.RLock()
	modules := make([]moduleapi.Module, 0, len(r.byModuleID))
	for _, m := range r.byModuleID {
		modules = append(modules, m)
	}
	r.mu.RUnlock()

	var first error
	for _, m := range modules {
		if err := m.PostAllInit(); err != nil {
			log.L().Error("router: post-init failed",
				zap.String("module", m.ClassName()), zap.Error(err))
			if first == nil {
				first = err
			}
		}
	}
	return first
}

// NetworkModule returns the currently-designated network module, or nil.
func (r *Router) NetworkModule() moduleapi.Module {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.networkModule
}

// Lookup returns the module registered for key, if any. Exposed for the
// Cluster Router and tests; not part of the delivery hot path.
func (r *Router) Lookup(key idhash.ServiceKey) (moduleapi.Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.byServiceKey[key]
	return m, ok
}

// ModuleByID returns the module registered under id, if any.
func (r *Router) ModuleByID(id idhash.ModuleID) (moduleapi.Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.byModuleID[id]
	return m, ok
}
