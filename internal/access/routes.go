package access

import (
	"path"
	"strings"
)

// RouteTable classifies request paths as protected or open
type RouteTable struct {
	prefixes []string
	exempt   map[string]struct{}
}

// NewRouteTable normalises the configured prefixes. "/" protects everything.
func NewRouteTable(prefixes []string) *RouteTable {
	rt := &RouteTable{
		prefixes: make([]string, 0, len(prefixes)),
		exempt:   make(map[string]struct{}),
	}
	for _, p := range prefixes {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if !strings.HasPrefix(p, "/") {
			p = "/" + p
		}
		rt.prefixes = append(rt.prefixes, strings.TrimRight(p, "/"))
	}
	return rt
}

// Exempt keeps the given exact paths open even when a prefix covers them
func (rt *RouteTable) Exempt(paths ...string) {
	for _, p := range paths {
		if p = strings.TrimSpace(p); p != "" {
			rt.exempt[path.Clean("/"+p)] = struct{}{}
		}
	}
}

// Protected reports whether p falls under a protected prefix. Matching is by
// whole path segment: /patients covers /patients/7 but not /patientsfoo.
func (rt *RouteTable) Protected(p string) bool {
	if p == "" {
		p = "/"
	}
	// collapse dot segments and duplicate slashes before matching
	clean := path.Clean("/" + p)
	if _, ok := rt.exempt[clean]; ok {
		return false
	}

	for _, prefix := range rt.prefixes {
		if prefix == "" {
			return true
		}
		if clean == prefix || strings.HasPrefix(clean, prefix+"/") {
			return true
		}
	}
	return false
}

// Prefixes returns the normalised prefixes
func (rt *RouteTable) Prefixes() []string {
	out := make([]string, len(rt.prefixes))
	copy(out, rt.prefixes)
	return out
}
