// Package idhash derives the stable numeric identifiers the fabric uses in
// place of names: ModuleId from a module's fully-qualified type name,
// ServiceKey from a handler's symbolic name.
package idhash

import "hash/fnv"

// ModuleID is a 32-bit value derived by a stable hash of a module's
// fully-qualified type name. Stable across runs, unique per module within
// a node.
type ModuleID uint32

// ServiceKey is a 32-bit value identifying one RPC handler, unique across
// a node.
type ServiceKey uint32

// ClientID is carried in request frames and used by responses to locate
// the caller module; it is always a zero-padded ModuleID.
type ClientID uint64

// HashModuleID derives a ModuleID from a module's fully-qualified type name.
func HashModuleID(qualifiedName string) ModuleID {
	return ModuleID(hash32(qualifiedName))
}

// HashServiceKey derives a ServiceKey from a handler's symbolic name.
func HashServiceKey(symbolicName string) ServiceKey {
	return ServiceKey(hash32(symbolicName))
}

// ClientIDOf zero-pads a ModuleID into the 64-bit ClientID space.
func ClientIDOf(id ModuleID) ClientID {
	return ClientID(id)
}

// ModuleIDOf strips the zero padding back off a ClientID.
func ModuleIDOf(id ClientID) ModuleID {
	return ModuleID(id)
}

func hash32(s string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return h.Sum32()
}
