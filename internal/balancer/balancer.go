// Package balancer selects one backend node for a request, honoring the
// configured strategy, capability constraints, circuit state, and network.
// Grounded on the teacher's internal/gateway/checker.go SelectBestEndpoint,
// generalized from "rank every endpoint by latency, pick one" into a
// strategy-pluggable selector over a filtered candidate set.
package balancer

import (
	"errors"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"avax-rpc-gateway/internal/breaker"
	"avax-rpc-gateway/internal/health"
	"avax-rpc-gateway/internal/metrics"
	"avax-rpc-gateway/internal/node"
	"avax-rpc-gateway/internal/registry"
)

// Strategy names a selection policy.
type Strategy string

const (
	RoundRobin  Strategy = "round-robin"
	Random      Strategy = "random"
	Weighted    Strategy = "weighted"
	HealthBased Strategy = "health-based"
	Sticky      Strategy = "sticky"
)

// ErrNoNode is returned when no healthy, capable candidate exists at all;
// the caller surfaces -32003 (node unavailable).
var ErrNoNode = errors.New("no node available")

// ErrCircuitOpen is returned when healthy, capable candidates exist but
// every one of them has its circuit open; the caller surfaces -32006
// (circuit open) instead of -32003, since the nodes themselves are fine.
var ErrCircuitOpen = errors.New("all candidates excluded by open circuit")

// Config holds the load balancer's tunables.
type Config struct {
	DefaultStrategy Strategy
	SessionTTL      time.Duration
	SessionSweep    time.Duration
}

func DefaultConfig() Config {
	return Config{
		DefaultStrategy: HealthBased,
		SessionTTL:      10 * time.Minute,
		SessionSweep:    60 * time.Second,
	}
}

// Balancer is the LoadBalancer component.
type Balancer struct {
	cfg Config
	reg *registry.Registry
	cb  *breaker.Breaker
	hc  *health.Checker

	clock clock.Clock
	log   *zap.Logger

	rrCounters sync.Map // string (network|capability) -> *uint64

	sessMu   sync.Mutex
	sessions map[string]*session
}

type session struct {
	nodeID     string
	lastUsedAt time.Time
	expiresAt  time.Time
}

func New(cfg Config, reg *registry.Registry, cb *breaker.Breaker, hc *health.Checker, clk clock.Clock, log *zap.Logger) *Balancer {
	if clk == nil {
		clk = clock.New()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Balancer{
		cfg:      cfg,
		reg:      reg,
		cb:       cb,
		hc:       hc,
		clock:    clk,
		log:      log,
		sessions: make(map[string]*session),
	}
}

// Selection is the node chosen for a request plus whether it was produced
// by the emergency fallback path.
type Selection struct {
	Node     *node.Node
	Fallback bool
}

// candidates returns listHealthyByNetwork(network) filtered by capability
// and circuit admission.
func (b *Balancer) candidates(net node.Network, capability string) []*node.Node {
	pool := b.eligibleByHealth(net, capability)
	out := make([]*node.Node, 0, len(pool))
	for _, n := range pool {
		if !b.cb.IsAllowed(n.ID) {
			continue
		}
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// eligibleByHealth returns listHealthyByNetwork(network) filtered by
// capability alone, ignoring circuit admission. Used to tell apart "no
// healthy candidates" from "candidates excluded solely by the breaker".
func (b *Balancer) eligibleByHealth(net node.Network, capability string) []*node.Node {
	pool := b.reg.ListHealthyByNetwork(net)
	out := make([]*node.Node, 0, len(pool))
	for _, n := range pool {
		if !n.HasCapability(capability) {
			continue
		}
		out = append(out, n)
	}
	return out
}

// noCandidateErr distinguishes ErrNoNode from ErrCircuitOpen for an empty
// candidates() result, once the emergency fallback has also failed to
// produce a node.
func (b *Balancer) noCandidateErr(net node.Network, capability string) error {
	if len(b.eligibleByHealth(net, capability)) > 0 {
		return ErrCircuitOpen
	}
	return ErrNoNode
}

// Select picks a node per the given strategy. sessionID is only consulted
// for the sticky strategy.
func (b *Balancer) Select(strategy Strategy, net node.Network, capability, sessionID string) (*Selection, error) {
	if strategy == "" {
		strategy = b.cfg.DefaultStrategy
	}

	if strategy == Sticky {
		return b.selectSticky(net, capability, sessionID)
	}

	cands := b.candidates(net, capability)
	if len(cands) == 0 {
		if sel := b.emergencyFallback(net, capability); sel != nil {
			metrics.SelectionsTotal.WithLabelValues(string(strategy), "fallback").Inc()
			return sel, nil
		}
		metrics.SelectionsTotal.WithLabelValues(string(strategy), "none").Inc()
		return nil, b.noCandidateErr(net, capability)
	}

	var picked *node.Node
	switch strategy {
	case RoundRobin:
		picked = b.selectRoundRobin(net, capability, cands)
	case Random:
		picked = cands[rand.Intn(len(cands))]
	case Weighted:
		picked = b.selectWeighted(cands)
	default:
		picked = b.selectHealthBased(cands)
	}
	metrics.SelectionsTotal.WithLabelValues(string(strategy), "selected").Inc()
	return &Selection{Node: picked}, nil
}

func (b *Balancer) selectRoundRobin(net node.Network, capability string, cands []*node.Node) *node.Node {
	key := string(net) + "|" + capability
	counterAny, _ := b.rrCounters.LoadOrStore(key, new(uint64))
	counter := counterAny.(*uint64)
	idx := atomic.AddUint64(counter, 1) - 1
	return cands[int(idx%uint64(len(cands)))]
}

func (b *Balancer) selectWeighted(cands []*node.Node) *node.Node {
	total := 0
	for _, n := range cands {
		w := n.Weight
		if w <= 0 {
			w = 1
		}
		total += w
	}
	if total <= 0 {
		return cands[0]
	}
	r := rand.Intn(total)
	cum := 0
	for _, n := range cands {
		w := n.Weight
		if w <= 0 {
			w = 1
		}
		cum += w
		if r < cum {
			return n
		}
	}
	return cands[len(cands)-1]
}

func (b *Balancer) selectHealthBased(cands []*node.Node) *node.Node {
	best := cands[0]
	bestScore := b.hc.Score(best.ID)
	for _, n := range cands[1:] {
		score := b.hc.Score(n.ID)
		switch {
		case score > bestScore:
			best, bestScore = n, score
		case score == bestScore && n.Priority < best.Priority:
			best, bestScore = n, score
		case score == bestScore && n.Priority == best.Priority && n.ID < best.ID:
			best, bestScore = n, score
		}
	}
	return best
}

// emergencyFallback picks the healthy node with the fewest lifetime
// failures when no capability was required and no candidate otherwise
// qualifies. Per §9, it does not apply when a capability was requested.
func (b *Balancer) emergencyFallback(net node.Network, capability string) *Selection {
	if capability != "" {
		return nil
	}
	healthy := b.reg.ListHealthyByNetwork(net)
	if len(healthy) == 0 {
		return nil
	}
	best := healthy[0]
	bestFailures := b.cb.Stats(best.ID).CumulativeFailure
	for _, n := range healthy[1:] {
		f := b.cb.Stats(n.ID).CumulativeFailure
		if f < bestFailures || (f == bestFailures && n.ID < best.ID) {
			best, bestFailures = n, f
		}
	}
	return &Selection{Node: best, Fallback: true}
}

// RecordSuccessfulRequest is a thin wrapper over the circuit breaker,
// invoked by the proxy after a successful forward.
func (b *Balancer) RecordSuccessfulRequest(id string) { b.cb.RecordSuccess(id) }

// RecordFailedRequest is a thin wrapper over the circuit breaker, invoked
// by the proxy after an exhausted retry sequence.
func (b *Balancer) RecordFailedRequest(id string) { b.cb.RecordFailure(id) }

// NewSessionID mints a fresh session identifier for clients that didn't
// supply one.
func NewSessionID() string { return uuid.NewString() }
