package provider

import (
	"errors"
	"fmt"
	"sort"
)

// ErrUnknownProvider is returned when a job names a vendor the registry
// doesn't hold.
var ErrUnknownProvider = errors.New("unknown provider")

// Registry holds the configured vendor gateways. It is built once from
// configuration at startup and passed by reference into the orchestrator;
// there are no package-level client instances.
type Registry struct {
	gateways map[string]Gateway
}

// NewRegistry creates a registry from the given gateways.
func NewRegistry(gateways ...Gateway) *Registry {
	m := make(map[string]Gateway, len(gateways))
	for _, gw := range gateways {
		m[gw.Name()] = gw
	}
	return &Registry{gateways: m}
}

// Get returns the gateway for the given vendor name.
func (r *Registry) Get(name string) (Gateway, error) {
	gw, ok := r.gateways[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	return gw, nil
}

// Names returns the sorted vendor names the registry holds.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.gateways))
	for name := range r.gateways {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
