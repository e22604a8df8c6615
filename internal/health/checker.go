// Package health continuously probes backend nodes, maintains a rolling
// view of their response times and success rates, and derives the 0-100
// score the load balancer uses to rank them.
//
// Grounded on the teacher's internal/gateway/checker.go: the same
// build-request / POST / parse-body / classify shape, generalized from a
// single eth_blockNumber probe against one "current best" pointer into a
// per-node probe against the whole fleet.
package health

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"avax-rpc-gateway/internal/metrics"
	"avax-rpc-gateway/internal/node"
	"avax-rpc-gateway/internal/registry"
)

// Config holds the HealthChecker's tunables, all with the defaults named in
// the specification.
type Config struct {
	Interval         time.Duration
	Timeout          time.Duration
	RecoveryInterval time.Duration
	HealthPath       string
	FailureThreshold int
	SuccessThreshold int
}

func DefaultConfig() Config {
	return Config{
		Interval:         10 * time.Second,
		Timeout:          2 * time.Second,
		RecoveryInterval: 60 * time.Second,
		HealthPath:       "/",
		FailureThreshold: 3,
		SuccessThreshold: 2,
	}
}

// Checker is the HealthChecker component: an explicit, dependency-injected
// object (per §9) rather than a module-level singleton.
type Checker struct {
	cfg Config
	reg *registry.Registry

	client *http.Client
	clock  clock.Clock
	log    *zap.Logger

	mu       sync.Mutex
	byNode   map[string]*nodeMetrics
	inFlight map[string]bool

	probeStop   func()
	recoverStop func()
}

// New constructs a HealthChecker wired to the given registry.
func New(cfg Config, reg *registry.Registry, clk clock.Clock, log *zap.Logger) *Checker {
	if clk == nil {
		clk = clock.New()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Checker{
		cfg:      cfg,
		reg:      reg,
		client:   &http.Client{Timeout: cfg.Timeout},
		clock:    clk,
		log:      log,
		byNode:   make(map[string]*nodeMetrics),
		inFlight: make(map[string]bool),
	}
}

func (c *Checker) metricsFor(id string) *nodeMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.byNode[id]
	if !ok {
		m = newNodeMetrics()
		c.byNode[id] = m
	}
	return m
}

// Start launches the probe and recovery timers; both stop when ctx is
// cancelled, mirroring the teacher's StartChecker(ctx).
func (c *Checker) Start(ctx context.Context) {
	c.runLoop(ctx, c.cfg.Interval, c.probeAll)
	c.runLoop(ctx, c.cfg.RecoveryInterval, c.probeUnhealthy)
	c.log.Info("health checker started",
		zap.Duration("interval", c.cfg.Interval),
		zap.Duration("recoveryInterval", c.cfg.RecoveryInterval))
}

func (c *Checker) runLoop(ctx context.Context, interval time.Duration, tick func()) {
	ticker := c.clock.Ticker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				tick()
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (c *Checker) probeAll() {
	for _, n := range c.reg.ListAll() {
		c.probeOne(n)
	}
}

func (c *Checker) probeUnhealthy() {
	for _, n := range c.reg.ListAll() {
		if !n.Healthy {
			c.probeOne(n)
		}
	}
}

// probeOne guards against overlapping probes of the same node (§5
// "at-most-one probe per node per tick").
func (c *Checker) probeOne(n *node.Node) {
	c.mu.Lock()
	if c.inFlight[n.ID] {
		c.mu.Unlock()
		return
	}
	c.inFlight[n.ID] = true
	c.mu.Unlock()

	go func() {
		defer func() {
			c.mu.Lock()
			delete(c.inFlight, n.ID)
			c.mu.Unlock()
		}()
		c.probe(n)
	}()
}

type probeRequest struct {
	Jsonrpc string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
	ID      int    `json:"id"`
}

type probeResponse struct {
	Jsonrpc string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	ID int `json:"id"`
}

// probe performs one health check against n and records the outcome.
func (c *Checker) probe(n *node.Node) {
	start := c.clock.Now()
	ok, clientVersion := c.call(n, "web3_clientVersion")
	if !ok {
		ok, _ = c.call(n, "eth_chainId")
	}
	rt := c.clock.Now().Sub(start)

	c.recordOutcome(n, ok, rt)
	if ok && clientVersion != "" {
		c.reg.SetClient(n.ID, detectClient(clientVersion))
	}
	metrics.HealthProbeDuration.WithLabelValues(n.ID).Observe(rt.Seconds())
}

// call performs a single JSON-RPC probe call and reports success plus the
// raw string result, if any (used to detect client type).
func (c *Checker) call(n *node.Node, method string) (bool, string) {
	url := strings.TrimRight(n.URL, "/") + c.cfg.HealthPath
	body, _ := json.Marshal(probeRequest{Jsonrpc: "2.0", Method: method, Params: []any{}, ID: 1})

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return false, ""
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		metrics.HealthProbeErrorsTotal.WithLabelValues(n.ID, "transport").Inc()
		return false, ""
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.HealthProbeErrorsTotal.WithLabelValues(n.ID, "http_status").Inc()
		return false, ""
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.HealthProbeErrorsTotal.WithLabelValues(n.ID, "read_body").Inc()
		return false, ""
	}

	var rpcResp probeResponse
	if err := json.Unmarshal(data, &rpcResp); err != nil {
		metrics.HealthProbeErrorsTotal.WithLabelValues(n.ID, "json_parse").Inc()
		return false, ""
	}
	if rpcResp.Error != nil {
		metrics.HealthProbeErrorsTotal.WithLabelValues(n.ID, "rpc_error").Inc()
		return false, ""
	}

	var result string
	_ = json.Unmarshal(rpcResp.Result, &result)
	return true, result
}

func detectClient(version string) node.ClientKind {
	v := strings.ToLower(version)
	switch {
	case strings.Contains(v, "avalanchego"):
		return node.ClientAvalancheGo
	case strings.Contains(v, "geth"):
		return node.ClientGeth
	case strings.Contains(v, "erigon"):
		return node.ClientErigon
	default:
		return node.ClientUnknown
	}
}

// recordOutcome updates the node's metrics, applies the F/S liveness
// transitions, and recomputes its score.
func (c *Checker) recordOutcome(n *node.Node, success bool, rt time.Duration) {
	m := c.metricsFor(n.ID)
	m.record(success, rt)
	snap := m.snapshot()

	now := c.clock.Now()
	c.reg.SetHealth(n.ID, n.Healthy) // touch lastCheckedAt unconditionally

	if success {
		if !n.Healthy && snap.consecutiveSuccesses >= c.cfg.SuccessThreshold {
			c.transition(n.ID, true, now)
		}
	} else {
		if n.Healthy && snap.consecutiveFailures >= c.cfg.FailureThreshold {
			c.transition(n.ID, false, now)
		}
	}

	c.recomputeScore(n.ID)
}

func (c *Checker) transition(id string, healthy bool, at time.Time) {
	c.reg.SetHealth(id, healthy)
	c.metricsFor(id).setStatusChanged(at)
	metrics.HealthTransitionsTotal.WithLabelValues(id, stateLabel(healthy)).Inc()
	c.log.Info("node health transition", zap.String("node", id), zap.Bool("healthy", healthy))
}

func stateLabel(healthy bool) string {
	if healthy {
		return "recovered"
	}
	return "degraded"
}

// ForceUpdateHealth sets liveness directly, primes the consecutive counters
// to the threshold of that direction, and recomputes the score. Calling it
// twice with the same value is idempotent: the second call re-primes the
// same counters and recomputes the same score.
func (c *Checker) ForceUpdateHealth(id string, healthy bool) {
	n := c.reg.Get(id)
	if n == nil {
		return
	}
	c.reg.SetHealth(id, healthy)
	m := c.metricsFor(id)
	m.primeConsecutive(healthy, c.cfg.SuccessThreshold, c.cfg.FailureThreshold)
	m.setStatusChanged(c.clock.Now())
	c.recomputeScore(id)
}

// fleetAverage returns the mean of all nodes' average response times that
// have at least one sample.
func (c *Checker) fleetAverage() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	var sum time.Duration
	var count int
	for _, m := range c.byNode {
		snap := m.snapshot()
		if snap.avg > 0 {
			sum += snap.avg
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return sum / time.Duration(count)
}

func (c *Checker) recomputeScore(id string) {
	n := c.reg.Get(id)
	m := c.metricsFor(id)
	snap := m.snapshot()

	successScore := 50.0
	total := snap.cumulativeSuccess + snap.cumulativeFailure
	if total > 0 {
		successScore = 50 * float64(snap.cumulativeSuccess) / float64(total)
	}

	fleetAvg := c.fleetAverage()
	responseTimeScore := 50.0
	if fleetAvg > 0 {
		r := float64(snap.avg) / float64(fleetAvg)
		switch {
		case r <= 0.5:
			responseTimeScore = 50
		case r >= 2:
			responseTimeScore = 10
		default:
			responseTimeScore = 50 - (r-0.5)/1.5*40
		}
	}

	score := clamp(successScore+responseTimeScore, 0, 100)
	if n != nil && !n.Healthy && score > 10 {
		score = 10
	}
	m.setScore(score)
	metrics.NodeHealthScore.WithLabelValues(id).Set(score)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Score returns the current health score for a node. A node with no
// recorded outcome yet reports the initial score of 50.
func (c *Checker) Score(id string) float64 {
	return c.metricsFor(id).snapshot().score
}

// NodeReport is the per-node projection returned by GetHealthReport.
type NodeReport struct {
	ID                  string    `json:"id"`
	URL                 string    `json:"url"`
	Network             string    `json:"network"`
	Healthy             bool      `json:"healthy"`
	LastResponseTime    float64   `json:"lastResponseTimeMs"`
	AvgResponseTime     float64   `json:"avgResponseTimeMs"`
	SuccessRate         float64   `json:"successRate"`
	Score               float64   `json:"score"`
	LastCheckedAt       time.Time `json:"lastCheckedAt"`
	LastStatusChangedAt time.Time `json:"lastStatusChangedAt"`
}

// Report is the document returned by GET /health.
type Report struct {
	TotalNodes   int          `json:"totalNodes"`
	HealthyNodes int          `json:"healthyNodes"`
	Nodes        []NodeReport `json:"nodes"`
}

// GetHealthReport returns totals plus a per-node projection, per §4.2.
func (c *Checker) GetHealthReport() Report {
	nodes := c.reg.ListAll()
	report := Report{TotalNodes: len(nodes)}
	for _, n := range nodes {
		snap := c.metricsFor(n.ID).snapshot()
		if n.Healthy {
			report.HealthyNodes++
		}
		report.Nodes = append(report.Nodes, NodeReport{
			ID:                  n.ID,
			URL:                 n.URL,
			Network:             string(n.Network),
			Healthy:             n.Healthy,
			LastResponseTime:    float64(snap.last.Microseconds()) / 1000,
			AvgResponseTime:     float64(snap.avg.Microseconds()) / 1000,
			SuccessRate:         snap.successRate(),
			Score:               snap.score,
			LastCheckedAt:       n.LastCheckedAt,
			LastStatusChangedAt: snap.lastStatusChangedAt,
		})
	}
	return report
}

// GetNodesByScore returns every node sorted by score descending.
func (c *Checker) GetNodesByScore() []NodeReport {
	report := c.GetHealthReport()
	sort.Slice(report.Nodes, func(i, j int) bool {
		return report.Nodes[i].Score > report.Nodes[j].Score
	})
	return report.Nodes
}
