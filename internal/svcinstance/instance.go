// Package svcinstance defines the ServiceInstance record shared by the
// Service Registry, Service Discovery, and Cluster Router components —
// the textual coordination-service record the teacher's common.Worker /
// common.WorkerNode play a similar role for in master/roulette.go,
// generalized here to carry an arbitrary module/service-key pair instead
// of a fixed worker/primary-backup shape.
package svcinstance

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Instance is one coordination-service service record.
type Instance struct {
	ServiceName string
	ModuleName  string
	InstanceID  string
	Host        string
	Port        int
	Healthy     bool
	Metadata    map[string]string

	// ConnectionID is a local annotation for the transport connection to
	// Host:Port. It is never persisted to the coordination service. The
	// Cluster Router does not fill it in: it tracks connections per
	// address in its own tables.
	ConnectionID string
}

// HostPort renders the "{host}:{port}" address segment used throughout
// the coordination path layout.
func (i Instance) HostPort() string {
	return fmt.Sprintf("%s:%d", i.Host, i.Port)
}

// Serialize renders i in the bit-exact textual form the coordination
// service stores: "host:port;module_name:...;service_name:...;
// instance_id:...;healthy:true|false(;k=v)*". Metadata keys must not
// contain ':', ';', or '=' for the encoding to round-trip.
func Serialize(i Instance) string {
	var b strings.Builder
	b.WriteString(i.HostPort())
	fmt.Fprintf(&b, ";module_name:%s", i.ModuleName)
	fmt.Fprintf(&b, ";service_name:%s", i.ServiceName)
	fmt.Fprintf(&b, ";instance_id:%s", i.InstanceID)
	fmt.Fprintf(&b, ";healthy:%t", i.Healthy)
	keys := make([]string, 0, len(i.Metadata))
	for k := range i.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, ";%s=%s", k, i.Metadata[k])
	}
	return b.String()
}

// Parse is the exact inverse of Serialize.
func Parse(s string) (Instance, error) {
	parts := strings.Split(s, ";")
	if len(parts) == 0 {
		return Instance{}, fmt.Errorf("svcinstance: empty record")
	}
	host, portStr, ok := strings.Cut(parts[0], ":")
	if !ok {
		return Instance{}, fmt.Errorf("svcinstance: missing host:port in %q", s)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return Instance{}, fmt.Errorf("svcinstance: bad port in %q: %w", s, err)
	}
	inst := Instance{Host: host, Port: port}
	for _, field := range parts[1:] {
		if field == "" {
			continue
		}
		if k, v, ok := strings.Cut(field, ":"); ok && isKnownField(k) {
			switch k {
			case "module_name":
				inst.ModuleName = v
			case "service_name":
				inst.ServiceName = v
			case "instance_id":
				inst.InstanceID = v
			case "healthy":
				inst.Healthy = v == "true"
			}
			continue
		}
		if k, v, ok := strings.Cut(field, "="); ok {
			if inst.Metadata == nil {
				inst.Metadata = make(map[string]string)
			}
			inst.Metadata[k] = v
			continue
		}
		return Instance{}, fmt.Errorf("svcinstance: malformed field %q in %q", field, s)
	}
	return inst, nil
}

func isKnownField(k string) bool {
	switch k {
	case "module_name", "service_name", "instance_id", "healthy":
		return true
	default:
		return false
	}
}

// Placeholder builds the unhealthy-but-present stand-in Discovery returns
// for a requested service name outside the services root.
func Placeholder(name string) Instance {
	return Instance{ServiceName: name, Healthy: false}
}
