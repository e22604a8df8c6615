// Package registry is the authoritative source of node identity and
// liveness: reads are cheap and concurrent, writes are serialized, the way
// the teacher's Gateway guards its CurrentBest pointer with a single
// sync.RWMutex.
package registry

import (
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"avax-rpc-gateway/internal/node"
)

// ErrExists is returned by Add when the node id is already registered.
type ErrExists struct{ ID string }

func (e *ErrExists) Error() string { return fmt.Sprintf("node %q already registered", e.ID) }

// Registry is the single source of truth for node identity and mutable
// liveness.
type Registry struct {
	mu    sync.RWMutex
	nodes map[string]*node.Node

	startup []*node.Node // snapshot of the configured fleet, for Reset
	clock   clock.Clock
}

// New builds a registry seeded with the given nodes.
func New(nodes []*node.Node, clk clock.Clock) *Registry {
	if clk == nil {
		clk = clock.New()
	}
	r := &Registry{
		nodes: make(map[string]*node.Node, len(nodes)),
		clock: clk,
	}
	for _, n := range nodes {
		cp := n.Clone()
		cp.Healthy = true
		r.nodes[cp.ID] = cp
		r.startup = append(r.startup, cp.Clone())
	}
	return r
}

// ListAll returns a snapshot of every registered node.
func (r *Registry) ListAll() []*node.Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*node.Node, 0, len(r.nodes))
	for _, n := range r.nodes {
		out = append(out, n.Clone())
	}
	return out
}

// ListByNetwork returns every node tagged with net.
func (r *Registry) ListByNetwork(net node.Network) []*node.Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*node.Node
	for _, n := range r.nodes {
		if n.Network == net {
			out = append(out, n.Clone())
		}
	}
	return out
}

// ListHealthy returns every node currently marked healthy.
func (r *Registry) ListHealthy() []*node.Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*node.Node
	for _, n := range r.nodes {
		if n.Healthy {
			out = append(out, n.Clone())
		}
	}
	return out
}

// ListHealthyByNetwork returns the healthy subset of a network's nodes.
func (r *Registry) ListHealthyByNetwork(net node.Network) []*node.Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*node.Node
	for _, n := range r.nodes {
		if n.Network == net && n.Healthy {
			out = append(out, n.Clone())
		}
	}
	return out
}

// Get returns a copy of the node with the given id, or nil if unknown.
func (r *Registry) Get(id string) *node.Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.nodes[id]
	if !ok {
		return nil
	}
	return n.Clone()
}

// SetHealth updates liveness and lastCheckedAt; a no-op if id is unknown.
func (r *Registry) SetHealth(id string, healthy bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.nodes[id]
	if !ok {
		return
	}
	n.Healthy = healthy
	n.LastCheckedAt = r.clock.Now()
}

// SetClient records the detected client kind for a node, folding it into
// the capability set the way §9's "adapter hierarchy" note asks for.
func (r *Registry) SetClient(id string, kind node.ClientKind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.nodes[id]
	if !ok {
		return
	}
	n.Client = kind
	if kind == node.ClientAvalancheGo {
		n.Capabilities["avax_issueTx"] = struct{}{}
		n.Capabilities["avax_getAtomicTx"] = struct{}{}
	}
}

// SetWeight updates a node's load-balancing weight.
func (r *Registry) SetWeight(id string, w int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n, ok := r.nodes[id]; ok {
		n.Weight = w
	}
}

// Add registers a new node; fails if the id already exists.
func (r *Registry) Add(n *node.Node) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.nodes[n.ID]; ok {
		return &ErrExists{ID: n.ID}
	}
	cp := n.Clone()
	if cp.Capabilities == nil {
		cp.Capabilities = node.NewCapabilitySet()
	}
	cp.Healthy = true
	r.nodes[cp.ID] = cp
	return nil
}

// Remove deletes a node from the registry. A no-op if unknown.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.nodes, id)
}

// Reset reinstates the startup configuration, discarding any nodes added or
// removed since.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nodes = make(map[string]*node.Node, len(r.startup))
	for _, n := range r.startup {
		r.nodes[n.ID] = n.Clone()
	}
}

// HasCapability reports whether node id advertises cap. Unknown ids report
// false.
func (r *Registry) HasCapability(id, cap string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.nodes[id]
	if !ok {
		return false
	}
	return n.HasCapability(cap)
}

// LastCheckedAt exposes the liveness timestamp for reporting.
func (r *Registry) LastCheckedAt(id string) time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if n, ok := r.nodes[id]; ok {
		return n.LastCheckedAt
	}
	return time.Time{}
}
