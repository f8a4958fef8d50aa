// Package registry implements the Service Registry (C5): it publishes
// node/module/service-key records into the coordination service with
// lifetime bound to the registry's session, grounded on the teacher's
// common/zk_utils.go EnsurePath/ConnectToZk pattern and generalized from
// per-worker paths to the spec's {root}/services/{host:port}/{module}/
// {service} layout.
package registry

import (
	"context"
	"fmt"
	"path"
	"sync"

	"github.com/nodefabric/basenode/internal/errs"
	"github.com/nodefabric/basenode/internal/idhash"
	"github.com/nodefabric/basenode/internal/log"
	"github.com/nodefabric/basenode/internal/svcinstance"
	"github.com/nodefabric/basenode/internal/zkclient"
	"go.uber.org/zap"
)

// DefaultRoot is the coordination-service root znode, matching the
// config schema's zk.root default.
const DefaultRoot = "/basenode"

// Registry publishes ephemeral service records for this node.
type Registry struct {
	client zkclient.Client
	root   string

	mu               sync.Mutex
	trackedModules   map[string]struct{}
	trackedHostPorts map[string]struct{}
	registered       map[string]svcinstance.Instance // service node path -> instance
	pending          []svcinstance.Instance          // awaiting a Connected session to (re)register
}

// New builds a Registry against client, rooted at root (DefaultRoot if
// empty), and subscribes to session-state changes for cleanup and
// deferred-registration replay.
func New(client zkclient.Client, root string) *Registry {
	if root == "" {
		root = DefaultRoot
	}
	r := &Registry{
		client:           client,
		root:             root,
		trackedModules:   make(map[string]struct{}),
		trackedHostPorts: make(map[string]struct{}),
		registered:       make(map[string]svcinstance.Instance),
	}
	client.OnSessionStateChange(r.onSessionStateChange)
	return r
}

func (r *Registry) servicesRoot() string { return path.Join(r.root, "services") }

func (r *Registry) hostPortPath(inst svcinstance.Instance) string {
	return path.Join(r.servicesRoot(), inst.HostPort())
}

func (r *Registry) modulePath(inst svcinstance.Instance) string {
	return path.Join(r.hostPortPath(inst), inst.ModuleName)
}

// servicePath is the ephemeral node's bit-exact coordination-service
// path: the leaf name is the service key's decimal value, not the
// service name, per spec's "{service_key_decimal}" layout.
func (r *Registry) servicePath(inst svcinstance.Instance) string {
	key := idhash.HashServiceKey(inst.ServiceName)
	return path.Join(r.modulePath(inst), fmt.Sprintf("%d", uint32(key)))
}

func (r *Registry) onSessionStateChange(state zkclient.SessionState) {
	if state.Alive() {
		if state == zkclient.StateHasSession {
			r.replayPending()
		}
		return
	}
	r.cleanupTracked()
}

// replayPending re-attempts registration of every instance that was
// deferred because the session was not yet Connected, per the redesign
// note gating registration behind session state.
func (r *Registry) replayPending() {
	r.mu.Lock()
	pending := r.pending
	r.pending = nil
	r.mu.Unlock()
	for _, inst := range pending {
		if err := r.RegisterService(context.Background(), inst); err != nil {
			log.L().Error("registry: replay of deferred registration failed",
				zap.String("service", inst.ServiceName), zap.Error(err))
		}
	}
}

// cleanupTracked implements session-loss cleanup: every tracked module
// or host:port node whose children set is empty is removed. Modules are
// checked before host:port directories so a module directory emptied by
// ephemeral-node expiry can itself be removed before its parent is
// checked.
func (r *Registry) cleanupTracked() {
	ctx := context.Background()
	r.mu.Lock()
	modules := make([]string, 0, len(r.trackedModules))
	for p := range r.trackedModules {
		modules = append(modules, p)
	}
	hostPorts := make([]string, 0, len(r.trackedHostPorts))
	for p := range r.trackedHostPorts {
		hostPorts = append(hostPorts, p)
	}
	r.mu.Unlock()

	for _, p := range modules {
		if r.removeIfEmpty(ctx, p) {
			r.mu.Lock()
			delete(r.trackedModules, p)
			r.mu.Unlock()
		}
	}
	for _, p := range hostPorts {
		if r.removeIfEmpty(ctx, p) {
			r.mu.Lock()
			delete(r.trackedHostPorts, p)
			r.mu.Unlock()
		}
	}
	r.mu.Lock()
	r.registered = make(map[string]svcinstance.Instance)
	r.mu.Unlock()
}

func (r *Registry) removeIfEmpty(ctx context.Context, p string) bool {
	children, err := r.client.Children(ctx, p)
	if err != nil {
		return false
	}
	if len(children) > 0 {
		return false
	}
	if err := r.client.Delete(ctx, p); err != nil {
		log.L().Error("registry: cleanup delete failed", zap.String("path", p), zap.Error(err))
		return false
	}
	return true
}

// RegisterService ensures the persistent ancestor path for inst and
// creates the ephemeral service node; a node already present at that path
// is reported as ServiceIdAlreadyRegistered. If the session is not
// currently alive, registration is deferred until the next HasSession
// transition.
func (r *Registry) RegisterService(ctx context.Context, inst svcinstance.Instance) error {
	if !r.client.SessionState().Alive() {
		r.mu.Lock()
		r.pending = append(r.pending, inst)
		r.mu.Unlock()
		return nil
	}

	hostPortPath := r.hostPortPath(inst)
	modulePath := r.modulePath(inst)
	servicePath := r.servicePath(inst)

	if err := r.client.EnsurePath(ctx, hostPortPath); err != nil {
		return errs.WrapDetail(errs.InvalidArguments, "ensure host:port node", err)
	}
	if err := r.client.EnsurePath(ctx, modulePath); err != nil {
		return errs.WrapDetail(errs.InvalidArguments, "ensure module node", err)
	}
	if err := r.client.Create(ctx, servicePath, []byte(svcinstance.Serialize(inst)), true); err != nil {
		return errs.WrapDetail(errs.ServiceIdAlreadyRegistered, fmt.Sprintf("create service node %q", servicePath), err)
	}

	r.mu.Lock()
	r.trackedHostPorts[hostPortPath] = struct{}{}
	r.trackedModules[modulePath] = struct{}{}
	r.registered[servicePath] = inst
	r.mu.Unlock()
	return nil
}

// DeregisterService deletes the service, module, and host:port nodes in
// that order, ignoring not-found so repeated deregistration is a no-op.
func (r *Registry) DeregisterService(ctx context.Context, inst svcinstance.Instance) error {
	servicePath := r.servicePath(inst)
	modulePath := r.modulePath(inst)
	hostPortPath := r.hostPortPath(inst)

	if err := r.client.Delete(ctx, servicePath); err != nil {
		return errs.WrapDetail(errs.InvalidArguments, "delete service node", err)
	}
	if err := r.client.Delete(ctx, modulePath); err != nil {
		return errs.WrapDetail(errs.InvalidArguments, "delete module node", err)
	}
	if err := r.client.Delete(ctx, hostPortPath); err != nil {
		return errs.WrapDetail(errs.InvalidArguments, "delete host:port node", err)
	}

	r.mu.Lock()
	delete(r.registered, servicePath)
	delete(r.trackedModules, modulePath)
	delete(r.trackedHostPorts, hostPortPath)
	r.mu.Unlock()
	return nil
}

// RenewService updates the service node's value; it fails if the node is
// gone rather than silently recreating it.
func (r *Registry) RenewService(ctx context.Context, inst svcinstance.Instance) error {
	servicePath := r.servicePath(inst)
	exists, err := r.client.Exists(ctx, servicePath)
	if err != nil {
		return errs.Wrap(errs.InvalidArguments, err)
	}
	if !exists {
		return errs.Newf(errs.InvalidArguments, "renew: service node %q is gone", servicePath)
	}
	if err := r.client.Set(ctx, servicePath, []byte(svcinstance.Serialize(inst))); err != nil {
		return errs.Wrap(errs.InvalidArguments, err)
	}
	r.mu.Lock()
	r.registered[servicePath] = inst
	r.mu.Unlock()
	return nil
}
