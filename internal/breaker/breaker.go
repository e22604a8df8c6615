// Package breaker implements a per-node CLOSED/OPEN/HALF_OPEN circuit
// breaker, shedding load from misbehaving nodes without permanently
// excluding them. Grounded on the teacher's pattern of one small struct per
// node guarded by its own lock (types.RpcEndpoint's sync.RWMutex),
// generalized from a single liveness bool to a three-state machine.
package breaker

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"avax-rpc-gateway/internal/metrics"
)

// State is a circuit's admission mode.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config holds the breaker's tunables, with the defaults named in the
// specification.
type Config struct {
	FailureThreshold int
	SuccessThreshold int
	ResetTimeout     time.Duration
	MonitorInterval  time.Duration
}

func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		ResetTimeout:     30 * time.Second,
		MonitorInterval:  5 * time.Second,
	}
}

// stats is the per-node circuit record (CircuitStats in the specification).
type stats struct {
	mu sync.Mutex

	state State

	consecutiveSuccesses int
	consecutiveFailures  int

	lastSuccessAt time.Time
	lastFailureAt time.Time
	openedAt      time.Time
	hasOpenedAt   bool

	cumulativeSuccess uint64
	cumulativeFailure uint64
}

// Snapshot is a point-in-time, lock-free view of a node's circuit stats.
type Snapshot struct {
	State                State
	ConsecutiveSuccesses int
	ConsecutiveFailures  int
	LastSuccessAt        time.Time
	LastFailureAt        time.Time
	OpenedAt              time.Time
	HasOpenedAt           bool
	CumulativeSuccess     uint64
	CumulativeFailure     uint64
}

// Breaker owns one stats record per observed node id, created lazily.
type Breaker struct {
	cfg   Config
	clock clock.Clock
	log   *zap.Logger

	mu    sync.RWMutex
	nodes map[string]*stats
}

func New(cfg Config, clk clock.Clock, log *zap.Logger) *Breaker {
	if clk == nil {
		clk = clock.New()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Breaker{cfg: cfg, clock: clk, log: log, nodes: make(map[string]*stats)}
}

func (b *Breaker) statsFor(id string) *stats {
	b.mu.RLock()
	s, ok := b.nodes[id]
	b.mu.RUnlock()
	if ok {
		return s
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.nodes[id]; ok {
		return s
	}
	s = &stats{state: Closed}
	b.nodes[id] = s
	return s
}

// IsAllowed reports whether a request may be sent to id right now. OPEN
// circuits become eligible for probing once resetTimeout has elapsed
// (performing the eager OPEN->HALF_OPEN transition here), and admit exactly
// one probe wave while consecutiveSuccesses < successThreshold.
func (b *Breaker) IsAllowed(id string) bool {
	s := b.statsFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case Closed:
		return true
	case Open:
		if s.hasOpenedAt && b.clock.Now().Sub(s.openedAt) >= b.cfg.ResetTimeout {
			b.toHalfOpenLocked(id, s)
			return true
		}
		return false
	case HalfOpen:
		return s.consecutiveSuccesses < b.cfg.SuccessThreshold
	default:
		return false
	}
}

// RecordSuccess reports a successful call against id.
func (b *Breaker) RecordSuccess(id string) {
	s := b.statsFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cumulativeSuccess++
	s.consecutiveSuccesses++
	s.consecutiveFailures = 0
	s.lastSuccessAt = b.clock.Now()

	if s.state == HalfOpen && s.consecutiveSuccesses >= b.cfg.SuccessThreshold {
		b.toClosedLocked(id, s)
	}
}

// RecordFailure reports a failed call against id.
func (b *Breaker) RecordFailure(id string) {
	s := b.statsFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cumulativeFailure++
	s.consecutiveFailures++
	s.consecutiveSuccesses = 0
	s.lastFailureAt = b.clock.Now()

	switch s.state {
	case Closed:
		if s.consecutiveFailures >= b.cfg.FailureThreshold {
			b.toOpenLocked(id, s)
		}
	case HalfOpen:
		b.toOpenLocked(id, s)
	}
}

// ResetCircuit forces CLOSED and clears the transient counters while
// preserving lifetime totals.
func (b *Breaker) ResetCircuit(id string) {
	s := b.statsFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	b.toClosedLocked(id, s)
}

func (b *Breaker) toOpenLocked(id string, s *stats) {
	s.state = Open
	s.openedAt = b.clock.Now()
	s.hasOpenedAt = true
	metrics.CircuitStateGauge.WithLabelValues(id).Set(1)
	metrics.CircuitTransitionsTotal.WithLabelValues(id, "open").Inc()
	b.log.Info("circuit opened", zap.String("node", id))
}

func (b *Breaker) toHalfOpenLocked(id string, s *stats) {
	s.state = HalfOpen
	s.consecutiveSuccesses = 0
	metrics.CircuitStateGauge.WithLabelValues(id).Set(2)
	metrics.CircuitTransitionsTotal.WithLabelValues(id, "half_open").Inc()
	b.log.Info("circuit half-opened", zap.String("node", id))
}

func (b *Breaker) toClosedLocked(id string, s *stats) {
	s.state = Closed
	s.hasOpenedAt = false
	s.openedAt = time.Time{}
	s.consecutiveFailures = 0
	s.consecutiveSuccesses = 0
	metrics.CircuitStateGauge.WithLabelValues(id).Set(0)
	metrics.CircuitTransitionsTotal.WithLabelValues(id, "closed").Inc()
	b.log.Info("circuit closed", zap.String("node", id))
}

// State returns the current state for id (CLOSED if never observed).
func (b *Breaker) State(id string) State {
	s := b.statsFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Stats returns a snapshot of id's circuit record.
func (b *Breaker) Stats(id string) Snapshot {
	s := b.statsFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		State:                s.state,
		ConsecutiveSuccesses: s.consecutiveSuccesses,
		ConsecutiveFailures:  s.consecutiveFailures,
		LastSuccessAt:        s.lastSuccessAt,
		LastFailureAt:        s.lastFailureAt,
		OpenedAt:             s.openedAt,
		HasOpenedAt:          s.hasOpenedAt,
		CumulativeSuccess:    s.cumulativeSuccess,
		CumulativeFailure:    s.cumulativeFailure,
	}
}

// StartMonitor launches the periodic timer that proactively transitions
// eligible OPEN circuits to HALF_OPEN so the selector sees them as
// candidates even without an inbound request arriving first.
func (b *Breaker) StartMonitor(ids func() []string, stop <-chan struct{}) {
	ticker := b.clock.Ticker(b.cfg.MonitorInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				for _, id := range ids() {
					b.IsAllowed(id) // side effect: eager OPEN -> HALF_OPEN
				}
			case <-stop:
				return
			}
		}
	}()
}
