// Package discovery implements Service Discovery (C6): enumerating and
// watching the coordination-service service tree, grounded on the
// teacher's common.GetWorker, which walks a ZooKeeper children set and
// unmarshals each child's value — generalized from a fixed worker/backup
// shape to the spec's two-level {host:port}/{module_name}/{service_name}
// tree of arbitrary service instances.
package discovery

import (
	"context"
	"path"
	"sync"

	"github.com/nodefabric/basenode/internal/log"
	"github.com/nodefabric/basenode/internal/svcinstance"
	"github.com/nodefabric/basenode/internal/zkclient"
	"go.uber.org/zap"
)

// ServicesRootName is the well-known service_name that triggers the
// full two-level services-tree traversal.
const ServicesRootName = "services"

// Callback receives the service name being watched and its current
// instance list on every change (and once immediately on registration).
type Callback func(serviceName string, instances []svcinstance.Instance)

// Discovery enumerates and watches service instances under root.
type Discovery struct {
	client zkclient.Client
	root   string

	mu      sync.Mutex
	watched map[string]struct{} // dedup set of paths watched at least once
}

// New builds a Discovery against client, rooted at root.
func New(client zkclient.Client, root string) *Discovery {
	return &Discovery{client: client, root: root, watched: make(map[string]struct{})}
}

func (d *Discovery) servicesRoot() string { return path.Join(d.root, "services") }

// GetServiceInstances implements get_service_instances. When serviceName
// is ServicesRootName it walks the whole services tree; otherwise it
// returns a single unhealthy placeholder carrying the requested name.
func (d *Discovery) GetServiceInstances(ctx context.Context, serviceName string) ([]svcinstance.Instance, error) {
	if serviceName != ServicesRootName {
		return []svcinstance.Instance{svcinstance.Placeholder(serviceName)}, nil
	}
	return d.walkServicesTree(ctx)
}

func (d *Discovery) walkServicesTree(ctx context.Context) ([]svcinstance.Instance, error) {
	root := d.servicesRoot()
	hostPorts, err := d.client.Children(ctx, root)
	if err != nil {
		return nil, err
	}
	var out []svcinstance.Instance
	for _, hp := range hostPorts {
		hpPath := path.Join(root, hp)
		modules, err := d.client.Children(ctx, hpPath)
		if err != nil {
			log.L().Warn("discovery: list modules failed", zap.String("path", hpPath), zap.Error(err))
			continue
		}
		for _, mod := range modules {
			modPath := path.Join(hpPath, mod)
			services, err := d.client.Children(ctx, modPath)
			if err != nil {
				log.L().Warn("discovery: list services failed", zap.String("path", modPath), zap.Error(err))
				continue
			}
			if len(services) == 0 {
				out = append(out, svcinstance.Instance{ModuleName: mod, Healthy: false})
				continue
			}
			for _, svc := range services {
				svcPath := path.Join(modPath, svc)
				raw, err := d.client.Get(ctx, svcPath)
				if err != nil {
					log.L().Warn("discovery: get instance failed", zap.String("path", svcPath), zap.Error(err))
					continue
				}
				inst, err := svcinstance.Parse(string(raw))
				if err != nil {
					log.L().Warn("discovery: unparseable instance", zap.String("path", svcPath), zap.Error(err))
					continue
				}
				out = append(out, inst)
			}
		}
	}
	return out, nil
}

// WatchServiceInstances implements watch_service_instances: it invokes
// cb once immediately with seed, then installs recursive child-change
// watches at depths 0 (host:port list), 1 (module list per host:port),
// and 2 (service list per module) under the services root, re-enumerating
// and calling cb again on every change. Each path is watched at most once.
func (d *Discovery) WatchServiceInstances(ctx context.Context, serviceName string, seed []svcinstance.Instance, cb Callback) {
	cb(serviceName, seed)
	d.armWatch(ctx, d.servicesRoot(), 0, serviceName, cb)
}

func (d *Discovery) armWatch(ctx context.Context, p string, depth int, serviceName string, cb Callback) {
	if depth > 2 {
		return
	}
	d.mu.Lock()
	if _, ok := d.watched[p]; ok {
		d.mu.Unlock()
		return
	}
	d.watched[p] = struct{}{}
	d.mu.Unlock()

	children, events, err := d.client.ChildrenW(ctx, p)
	if err != nil {
		log.L().Warn("discovery: watch failed", zap.String("path", p), zap.Error(err))
		return
	}
	for _, c := range children {
		d.armWatch(ctx, path.Join(p, c), depth+1, serviceName, cb)
	}
	go d.onChange(ctx, p, depth, serviceName, cb, events)
}

func (d *Discovery) onChange(ctx context.Context, p string, depth int, serviceName string, cb Callback, events <-chan zkclient.Event) {
	<-events
	d.mu.Lock()
	delete(d.watched, p)
	d.mu.Unlock()

	instances, err := d.GetServiceInstances(ctx, serviceName)
	if err != nil {
		log.L().Warn("discovery: re-enumeration failed", zap.String("path", p), zap.Error(err))
	} else {
		cb(serviceName, instances)
	}
	d.armWatch(ctx, p, depth, serviceName, cb)
}
