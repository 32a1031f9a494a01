// Package aclpolicy provides the proxy's access-control decision: whether a
// given client/target pair is allowed through at all, independent of
// caching. This is intentionally minimal; cache behavior never depends on
// it, but the admin API exposes it as a single global mode so an operator
// can lock a proxy down without redeploying.
package aclpolicy

import "sync/atomic"

// Mode is the proxy-wide ACL decision mode.
type Mode string

const (
	// AllowAll lets every request through. This is the default.
	AllowAll Mode = "allow_all"
	// DenyAll rejects every request. Useful for draining a node before
	// maintenance without removing it from its peers' registries.
	DenyAll Mode = "deny_all"
)

// Engine holds the current ACL mode and evaluates requests against it.
// All methods are safe for concurrent use.
type Engine struct {
	mode atomic.Value // string
}

// New creates an Engine in the given starting mode.
func New(mode Mode) *Engine {
	e := &Engine{}
	e.SetMode(mode)
	return e
}

// Mode returns the current ACL mode.
func (e *Engine) Mode() Mode {
	v, _ := e.mode.Load().(string)
	if v == "" {
		return AllowAll
	}
	return Mode(v)
}

// SetMode updates the ACL mode. An unrecognized mode is treated as AllowAll.
func (e *Engine) SetMode(mode Mode) {
	switch mode {
	case DenyAll:
		e.mode.Store(string(DenyAll))
	default:
		e.mode.Store(string(AllowAll))
	}
}

// Allow reports whether a request should be admitted.
func (e *Engine) Allow() bool {
	return e.Mode() != DenyAll
}
