package health

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"avax-rpc-gateway/internal/node"
	"avax-rpc-gateway/internal/registry"
)

func newTestChecker(t *testing.T, cfg Config) (*Checker, *registry.Registry, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock()
	reg := registry.New([]*node.Node{{ID: "node-a", URL: "http://unused", Network: node.AvalancheMainnet}}, mock)
	return New(cfg, reg, mock, nil), reg, mock
}

func TestForceUpdateHealthIsIdempotent(t *testing.T) {
	c, reg, _ := newTestChecker(t, DefaultConfig())

	c.ForceUpdateHealth("node-a", false)
	first := reg.Get("node-a")
	firstScore := c.Score("node-a")

	c.ForceUpdateHealth("node-a", false)
	second := reg.Get("node-a")
	secondScore := c.Score("node-a")

	assert.Equal(t, first.Healthy, second.Healthy)
	assert.Equal(t, firstScore, secondScore)
	assert.False(t, second.Healthy)
}

func TestForceUpdateHealthUnknownNodeIsNoop(t *testing.T) {
	c, _, _ := newTestChecker(t, DefaultConfig())
	assert.NotPanics(t, func() { c.ForceUpdateHealth("does-not-exist", true) })
}

func TestHealthTransitionOnConsecutiveFailures(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FailureThreshold = 3
	cfg.SuccessThreshold = 2
	c, reg, mock := newTestChecker(t, cfg)

	for i := 0; i < 2; i++ {
		c.recordOutcome(reg.Get("node-a"), false, 10*time.Millisecond)
	}
	assert.True(t, reg.Get("node-a").Healthy, "threshold-1 failures must not flip liveness")

	c.recordOutcome(reg.Get("node-a"), false, 10*time.Millisecond)
	assert.False(t, reg.Get("node-a").Healthy, "exactly F consecutive failures must flip liveness")

	_ = mock
}

func TestProbeDetectsClientAndRecordsSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"jsonrpc":"2.0","result":"avalanchego/1.10.0","id":1}`))
	}))
	defer srv.Close()

	c, reg, _ := newTestChecker(t, DefaultConfig())
	n := reg.Get("node-a")
	n.URL = srv.URL
	c.probe(n)

	got := reg.Get("node-a")
	assert.Equal(t, node.ClientAvalancheGo, got.Client)
	assert.True(t, got.HasCapability("avax_issueTx"))
	assert.EqualValues(t, 1, c.metricsFor("node-a").snapshot().cumulativeSuccess)
}

func TestScoreDegradesForSlowNodeRelativeToFleet(t *testing.T) {
	mock := clock.NewMock()
	reg := registry.New([]*node.Node{
		{ID: "fast", URL: "http://fast", Network: node.AvalancheMainnet},
		{ID: "slow", URL: "http://slow", Network: node.AvalancheMainnet},
	}, mock)
	c := New(DefaultConfig(), reg, mock, nil)

	for i := 0; i < 5; i++ {
		c.recordOutcome(reg.Get("fast"), true, 10*time.Millisecond)
		c.recordOutcome(reg.Get("slow"), true, 100*time.Millisecond)
	}

	fastScore := c.Score("fast")
	slowScore := c.Score("slow")
	require.Greater(t, fastScore, slowScore, "a node much slower than the fleet average must score lower")
}
