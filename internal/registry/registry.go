// Package registry holds the static catalog of known news sources.
package registry

import (
	"fmt"
)

// Kind selects the adapter used for a source.
type Kind string

const (
	KindFeed   Kind = "feed"   // generic syndication feed
	KindVendor Kind = "vendor" // vendor lab-result feed
	KindSearch Kind = "search" // third-party search API
	KindLocal  Kind = "local"  // pre-authored local store
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindFeed, KindVendor, KindSearch, KindLocal:
		return true
	}
	return false
}

// Descriptor describes one source. It is immutable once loaded.
type Descriptor struct {
	Key           string
	Kind          Kind
	Name          string
	Endpoint      string
	Category      string
	Parser        string
	Enabled       bool
	CredentialRef string
	Queries       []string
}

// Registry is an ordered, read-only set of descriptors.
type Registry struct {
	descs []Descriptor
	index map[string]int
}

// New builds a registry, rejecting duplicate keys, unknown kinds and
// network sources without an endpoint.
func New(descs []Descriptor) (*Registry, error) {
	r := &Registry{
		descs: make([]Descriptor, 0, len(descs)),
		index: make(map[string]int, len(descs)),
	}
	for i, d := range descs {
		if d.Key == "" {
			return nil, fmt.Errorf("source %d: key is required", i)
		}
		if _, dup := r.index[d.Key]; dup {
			return nil, fmt.Errorf("source %q: duplicate key", d.Key)
		}
		if !d.Kind.Valid() {
			return nil, fmt.Errorf("source %q: unknown kind %q", d.Key, d.Kind)
		}
		if d.Kind != KindLocal && d.Endpoint == "" {
			return nil, fmt.Errorf("source %q: endpoint is required for kind %s", d.Key, d.Kind)
		}
		if d.Name == "" {
			d.Name = d.Key
		}
		d.Queries = append([]string(nil), d.Queries...)
		r.index[d.Key] = len(r.descs)
		r.descs = append(r.descs, d)
	}
	return r, nil
}

// All returns every descriptor in registry order.
func (r *Registry) All() []Descriptor {
	return append([]Descriptor(nil), r.descs...)
}

// Get looks up a descriptor by key.
func (r *Registry) Get(key string) (Descriptor, bool) {
	i, ok := r.index[key]
	if !ok {
		return Descriptor{}, false
	}
	return r.descs[i], true
}

// ListEnabled returns descriptors whose effective enabled state is true.
// A key present in override wins over the descriptor default.
func (r *Registry) ListEnabled(override map[string]bool) []Descriptor {
	var out []Descriptor
	for _, d := range r.descs {
		enabled := d.Enabled
		if override != nil {
			if v, ok := override[d.Key]; ok {
				enabled = v
			}
		}
		if enabled {
			out = append(out, d)
		}
	}
	return out
}

// DefaultCategories maps each key to its configured default category.
func (r *Registry) DefaultCategories() map[string]string {
	m := make(map[string]string, len(r.descs))
	for _, d := range r.descs {
		m[d.Key] = d.Category
	}
	return m
}
