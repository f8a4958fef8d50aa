// Package clusterrouter implements the Cluster Router (C7): a standalone
// module, run on top of the Module Container like any other, that
// discovers peer nodes via the coordination service, maintains one
// shared transport connection per (host, port), and forwards RPC frames
// between nodes without ever deserializing their bodies. Grounded on the
// teacher's master/roulette.go connection-selection pattern, generalized
// from worker-slot routing to address-keyed connection reuse.
package clusterrouter

import (
	"context"
	"fmt"
	"sync"

	"github.com/nodefabric/basenode/internal/discovery"
	"github.com/nodefabric/basenode/internal/frame"
	"github.com/nodefabric/basenode/internal/idhash"
	"github.com/nodefabric/basenode/internal/log"
	"github.com/nodefabric/basenode/internal/mailbox"
	"github.com/nodefabric/basenode/internal/moduleapi"
	"github.com/nodefabric/basenode/internal/network"
	"github.com/nodefabric/basenode/internal/router"
	"github.com/nodefabric/basenode/internal/svcinstance"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// ClassName is the stable type-name this module hashes its ModuleID from.
const ClassName = "clusterrouter.Module"

type addr struct {
	host string
	port int
}

// requestContext resolves Open Question #2: on every inbound request we
// remember which peer connection it arrived on, keyed by the frame's
// client_id, so the matching response is steered back out that same
// connection rather than guessed from the current instance table.
type requestContext struct {
	originConnID network.ConnID
}

// Module is the Cluster Router. It registers itself with the node's
// Router as the network module (is_network=true in moduleapi terms),
// so unrouted local frames fall through to it for cross-node delivery.
type Module struct {
	*moduleapi.Base

	discovery *discovery.Discovery
	boundary  network.Boundary
	router    *router.Router

	nextOpaque atomic.Uint64

	mu                 sync.Mutex
	keyToInstance      map[idhash.ServiceKey]svcinstance.Instance
	pendingConnections map[network.Opaque]addr
	connInstanceCount  map[network.ConnID]int
	connByAddr         map[addr]network.ConnID
	requestContexts    map[idhash.ClientID]requestContext
}

// New builds a Cluster Router bound to d for discovery, b for transport,
// and rt for delivering frames whose service key resolves to a module
// hosted on this very node. Call Init (via the Container) to register it
// as the network module.
func New(d *discovery.Discovery, b network.Boundary, rt *router.Router) (moduleapi.Module, error) {
	m := &Module{
		discovery:          d,
		boundary:           b,
		router:             rt,
		keyToInstance:      make(map[idhash.ServiceKey]svcinstance.Instance),
		pendingConnections: make(map[network.Opaque]addr),
		connInstanceCount:  make(map[network.ConnID]int),
		connByAddr:         make(map[addr]network.ConnID),
		requestContexts:    make(map[idhash.ClientID]requestContext),
	}
	m.Base = moduleapi.NewBase(m, ClassName, true)
	return m, nil
}

func (m *Module) DoInit() error {
	return m.boundary.Start(1, network.Callbacks{
		OnConnected:     m.onConnected,
		OnConnectFailed: m.onConnectFailed,
		OnReceived:      m.onReceived,
		OnClose:         m.onClose,
	})
}

// DoPostInit seeds the instance table from discovery and installs the
// watch that keeps it current.
func (m *Module) DoPostInit() error {
	ctx := context.Background()
	seed, err := m.discovery.GetServiceInstances(ctx, discovery.ServicesRootName)
	if err != nil {
		return err
	}
	m.applyInstanceChange(seed)
	m.discovery.WatchServiceInstances(ctx, discovery.ServicesRootName, seed, func(_ string, instances []svcinstance.Instance) {
		m.applyInstanceChange(instances)
	})
	return nil
}

func (m *Module) DoTick()         { m.boundary.Tick() }
func (m *Module) DoUninit() error { return nil }

// applyInstanceChange implements the instance-diff reconciliation rule:
// drop connections for instances no longer present, reuse/await/connect
// for instances that are.
func (m *Module) applyInstanceChange(instances []svcinstance.Instance) {
	m.mu.Lock()
	next := make(map[idhash.ServiceKey]svcinstance.Instance, len(instances))
	for _, inst := range instances {
		if inst.ServiceName == "" {
			continue
		}
		next[idhash.HashServiceKey(inst.ServiceName)] = inst
	}
	var stale []addr
	for key, old := range m.keyToInstance {
		if _, ok := next[key]; ok {
			continue
		}
		a := addr{host: old.Host, port: old.Port}
		stale = append(stale, a)
	}
	m.keyToInstance = next
	m.mu.Unlock()

	for _, a := range stale {
		m.releaseAddr(a)
	}
	for _, inst := range instances {
		if !inst.Healthy || inst.Host == "" {
			continue
		}
		m.ensureConnected(addr{host: inst.Host, port: inst.Port})
	}
}

// releaseAddr drops the router's hold on a (host, port) after one of its
// instances disappeared; the connection itself is closed only once no
// instance left in keyToInstance resolves to that address.
func (m *Module) releaseAddr(a addr) {
	m.mu.Lock()
	connID, ok := m.connByAddr[a]
	if !ok {
		m.mu.Unlock()
		return
	}
	shouldClose := true
	for _, inst := range m.keyToInstance {
		if inst.Host == a.host && inst.Port == a.port {
			shouldClose = false
			break
		}
	}
	if shouldClose {
		delete(m.connByAddr, a)
		delete(m.connInstanceCount, connID)
	}
	m.mu.Unlock()
	if shouldClose {
		if err := m.boundary.Close(connID); err != nil {
			log.L().Warn("clusterrouter: close on release failed", zap.Error(err))
		}
	}
}

// ensureConnected implements the connection-reuse rule: reuse an
// established connection, wait for a pending one, or start a fresh
// connect — one transport per address regardless of how many instances
// resolve to it.
func (m *Module) ensureConnected(a addr) {
	m.mu.Lock()
	if connID, ok := m.connByAddr[a]; ok {
		m.connInstanceCount[connID]++
		m.mu.Unlock()
		return
	}
	for _, pending := range m.pendingConnections {
		if pending == a {
			m.mu.Unlock()
			return
		}
	}
	opaque := network.Opaque(m.nextOpaque.Add(1))
	m.pendingConnections[opaque] = a
	m.mu.Unlock()

	if err := m.boundary.Connect(context.Background(), opaque, a.host, a.port); err != nil {
		log.L().Error("clusterrouter: connect failed to start", zap.String("addr", fmt.Sprintf("%s:%d", a.host, a.port)), zap.Error(err))
		m.mu.Lock()
		delete(m.pendingConnections, opaque)
		m.mu.Unlock()
	}
}

func (m *Module) onConnected(opaque network.Opaque, connID network.ConnID) {
	m.mu.Lock()
	a, ok := m.pendingConnections[opaque]
	delete(m.pendingConnections, opaque)
	if !ok {
		m.mu.Unlock()
		return
	}
	count := 0
	for _, inst := range m.keyToInstance {
		if inst.Host == a.host && inst.Port == a.port {
			count++
		}
	}
	if count == 0 {
		count = 1
	}
	m.connByAddr[a] = connID
	m.connInstanceCount[connID] = count
	m.mu.Unlock()
}

func (m *Module) onConnectFailed(opaque network.Opaque, err error) {
	m.mu.Lock()
	a, ok := m.pendingConnections[opaque]
	delete(m.pendingConnections, opaque)
	m.mu.Unlock()
	if ok {
		log.L().Warn("clusterrouter: connect failed", zap.String("addr", fmt.Sprintf("%s:%d", a.host, a.port)), zap.Error(err))
	}
}

func (m *Module) onClose(connID network.ConnID, err error) {
	m.mu.Lock()
	var dead []addr
	for a, id := range m.connByAddr {
		if id == connID {
			dead = append(dead, a)
		}
	}
	for _, a := range dead {
		delete(m.connByAddr, a)
	}
	delete(m.connInstanceCount, connID)
	m.mu.Unlock()
	if len(dead) > 0 {
		log.L().Info("clusterrouter: connection closed", zap.Error(err), zap.Int("instances_affected", len(dead)))
	}
}

// onReceived implements inbound frame delivery: a request for a
// service key hosted on this node goes straight to the local Router
// (the server leg of spec §8 scenario 2); everything else is forwarded
// by service key to that key's connection. Responses are looked up by
// the request-context table keyed on client_id, resolving Open Question
// #2 rather than guessing.
func (m *Module) onReceived(connID network.ConnID, raw []byte) {
	fr, err := frame.Decode(raw)
	if err != nil {
		log.L().Error("clusterrouter: bad frame header", zap.Error(err))
		return
	}
	switch fr.Kind {
	case frame.Request:
		m.mu.Lock()
		m.requestContexts[fr.ClientID] = requestContext{originConnID: connID}
		m.mu.Unlock()

		if _, ok := m.router.Lookup(fr.Key); ok {
			if err := m.router.RouteProtocolPacket(raw); err != nil {
				log.L().Error("clusterrouter: local delivery failed", zap.Error(err))
			}
			return
		}
		m.forwardRequestOut(fr, raw)
	case frame.Response:
		if _, ok := m.router.ModuleByID(idhash.ModuleIDOf(fr.ClientID)); ok {
			if err := m.router.RouteProtocolPacket(raw); err != nil {
				log.L().Error("clusterrouter: local delivery failed", zap.Error(err))
			}
			return
		}
		m.forwardResponseOut(fr, raw)
	}
}

// DispatchNetworkEvent implements moduleapi.NetworkHooks: it takes over
// this module's mailbox dispatch entirely, since the Cluster Router
// never registers local RPC handlers and so has nothing for Base's
// generic handleRequest/handleResponse to call. Events reaching this
// mailbox are local frames the Router could not resolve locally
// (outbound requests for a remote key, or local-handler responses bound
// for a remote caller) and must go out over the transport instead.
func (m *Module) DispatchNetworkEvent(e mailbox.Event) {
	fr, err := frame.Decode(e.Bytes)
	if err != nil {
		log.L().Error("clusterrouter: bad frame header in mailbox", zap.Error(err))
		return
	}
	switch fr.Kind {
	case frame.Request:
		m.forwardRequestOut(fr, e.Bytes)
	case frame.Response:
		m.forwardResponseOut(fr, e.Bytes)
	}
}

// forwardRequestOut resolves fr.Key to a live peer connection and sends
// raw there unmodified.
func (m *Module) forwardRequestOut(fr frame.Frame, raw []byte) {
	m.mu.Lock()
	inst, ok := m.keyToInstance[fr.Key]
	m.mu.Unlock()
	if !ok {
		log.L().Warn("clusterrouter: no instance for service key", zap.Uint32("key", uint32(fr.Key)))
		return
	}
	m.mu.Lock()
	targetConn, ok := m.connByAddr[addr{host: inst.Host, port: inst.Port}]
	m.mu.Unlock()
	if !ok {
		log.L().Warn("clusterrouter: no live connection for instance", zap.String("addr", inst.HostPort()))
		return
	}
	if err := m.boundary.Send(targetConn, raw); err != nil {
		log.L().Error("clusterrouter: forward request failed", zap.Error(err))
	}
}

// forwardResponseOut looks up the connection the matching request came
// in on and sends raw back out that same connection.
func (m *Module) forwardResponseOut(fr frame.Frame, raw []byte) {
	m.mu.Lock()
	ctxEntry, ok := m.requestContexts[fr.ClientID]
	if ok {
		delete(m.requestContexts, fr.ClientID)
	}
	m.mu.Unlock()
	if !ok {
		log.L().Warn("clusterrouter: no request context for response", zap.Uint64("client_id", uint64(fr.ClientID)))
		return
	}
	if err := m.boundary.Send(ctxEntry.originConnID, raw); err != nil {
		log.L().Error("clusterrouter: forward response failed", zap.Error(err))
	}
}

var (
	_ moduleapi.Module       = (*Module)(nil)
	_ moduleapi.NetworkHooks = (*Module)(nil)
)
