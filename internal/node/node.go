// Package node defines the identity and mutable liveness state of a single
// backend RPC endpoint.
package node

import "time"

// Network is a closed set of chain tags the gateway knows how to route to.
type Network string

const (
	AvalancheMainnet Network = "avalanche-mainnet"
	AvalancheFuji     Network = "avalanche-fuji"
)

// ClientKind is the coarse JSON-RPC client family detected from a node's
// web3_clientVersion probe response. It folds the teacher's "adapter"
// concept into a plain value instead of a wrapper type.
type ClientKind string

const (
	ClientUnknown     ClientKind = "unknown"
	ClientGeth        ClientKind = "geth"
	ClientAvalancheGo ClientKind = "avalanchego"
	ClientErigon      ClientKind = "erigon"
)

// Node is the registry's unit of identity: stable configuration fields plus
// the small amount of mutable liveness state the registry itself owns.
// Richer per-node state (response-time history, circuit counters) lives in
// the health and breaker packages, keyed by NodeId.
type Node struct {
	ID           string
	URL          string
	Network      Network
	Weight       int
	Priority     int
	Capabilities map[string]struct{}
	RateLimit    int // requests per window; 0 = unspecified

	Client ClientKind

	Healthy       bool
	LastCheckedAt time.Time
}

// Clone returns a deep-enough copy safe to hand to callers outside the
// registry's lock.
func (n *Node) Clone() *Node {
	caps := make(map[string]struct{}, len(n.Capabilities))
	for c := range n.Capabilities {
		caps[c] = struct{}{}
	}
	cp := *n
	cp.Capabilities = caps
	return &cp
}

// HasCapability reports whether the node advertises cap. An empty cap is
// always satisfied (no capability was required).
func (n *Node) HasCapability(cap string) bool {
	if cap == "" {
		return true
	}
	_, ok := n.Capabilities[cap]
	return ok
}

// NewCapabilitySet builds a capability lookup set from a slice, the shape
// config files and tests construct nodes with.
func NewCapabilitySet(caps ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(caps))
	for _, c := range caps {
		set[c] = struct{}{}
	}
	return set
}
