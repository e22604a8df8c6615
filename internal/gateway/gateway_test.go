package gateway

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"avax-rpc-gateway/internal/config"
)

func newTestGateway(t *testing.T, nodeURL string) *Gateway {
	t.Helper()
	cfg := &config.Config{
		DefaultNetwork:          "avalanche-fuji",
		HealthCheckEndpoint:     "/",
		HealthCheckInterval:     time.Minute,
		HealthCheckTimeout:      time.Second,
		HealthRecoveryInterval:  time.Minute,
		HealthFailureThreshold:  3,
		HealthSuccessThreshold:  2,
		BreakerFailureThreshold: 5,
		BreakerSuccessThreshold: 2,
		BreakerResetTimeout:     30 * time.Second,
		BreakerMonitorInterval:  5 * time.Second,
		ProxyTimeout:            time.Second,
		ProxyRetries:            0,
		ProxyRetryDelay:         0,
		CacheMaxEntries:         1000,
		CacheSweepInterval:      time.Minute,
		StickySessionTTL:        time.Minute,
		StickySessionSweep:      time.Minute,
		Nodes: []config.NodeConfig{
			{ID: "node-a", URL: nodeURL, Network: "avalanche-fuji", Weight: 1},
		},
	}
	gw, err := newWithClock(cfg, nil, clock.NewMock())
	require.NoError(t, err)
	return gw
}

func TestRPCHandlerForwardsSingleRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"jsonrpc":"2.0","result":"0x2a","id":1}`))
	}))
	defer srv.Close()

	gw := newTestGateway(t, srv.URL)
	gw.Registry.SetHealth("node-a", true)

	body := bytes.NewBufferString(`{"jsonrpc":"2.0","method":"eth_blockNumber","params":[],"id":1}`)
	req := httptest.NewRequest(http.MethodPost, "/", body)
	rec := httptest.NewRecorder()

	gw.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "0x2a", resp["result"])
}

func TestRPCHandlerPassesThroughUpstreamApplicationErrorAs200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"jsonrpc":"2.0","error":{"code":-32000,"message":"execution reverted"},"id":1}`))
	}))
	defer srv.Close()

	gw := newTestGateway(t, srv.URL)
	gw.Registry.SetHealth("node-a", true)

	body := bytes.NewBufferString(`{"jsonrpc":"2.0","method":"eth_call","params":[],"id":1}`)
	req := httptest.NewRequest(http.MethodPost, "/", body)
	rec := httptest.NewRecorder()

	gw.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code, "a legitimate upstream application error must pass through at 200")
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	errObj := resp["error"].(map[string]any)
	assert.EqualValues(t, -32000, errObj["code"])
}

func TestHealthEndpointReportsFleet(t *testing.T) {
	gw := newTestGateway(t, "http://unused")

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var report map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.EqualValues(t, 1, report["totalNodes"])
}

func TestAdminDisableThenEnableNode(t *testing.T) {
	gw := newTestGateway(t, "http://unused")

	disableReq := httptest.NewRequest(http.MethodPost, "/admin/nodes/node-a/disable", nil)
	rec := httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, disableReq)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, gw.Registry.Get("node-a").Healthy)

	enableReq := httptest.NewRequest(http.MethodPost, "/admin/nodes/node-a/enable", nil)
	rec = httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, enableReq)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, gw.Registry.Get("node-a").Healthy)
}

func TestAdminUnknownNodeReturnsNotFound(t *testing.T) {
	gw := newTestGateway(t, "http://unused")

	req := httptest.NewRequest(http.MethodPost, "/admin/nodes/ghost/enable", nil)
	rec := httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRPCHandlerRejectsNonPost(t *testing.T) {
	gw := newTestGateway(t, "http://unused")

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRPCHandlerReturnsEnvelopeForUnparseableRequest(t *testing.T) {
	gw := newTestGateway(t, "http://unused")

	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString("not json"))
	rec := httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Nil(t, resp["id"])
	errObj := resp["error"].(map[string]any)
	assert.EqualValues(t, -32700, errObj["code"])
}

func TestRPCHandlerReturnsEnvelopeForEmptyBody(t *testing.T) {
	gw := newTestGateway(t, "http://unused")

	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(""))
	rec := httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	errObj := resp["error"].(map[string]any)
	assert.EqualValues(t, -32600, errObj["code"])
}

func TestRPCHandlerFallsBackWhenBreakerExcludesEveryNode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"jsonrpc":"2.0","result":"0x2a","id":1}`))
	}))
	defer srv.Close()

	gw := newTestGateway(t, srv.URL)
	gw.Registry.SetHealth("node-a", true)
	for i := 0; i < gw.cfg.BreakerFailureThreshold; i++ {
		gw.Breaker.RecordFailure("node-a")
	}

	body := bytes.NewBufferString(`{"jsonrpc":"2.0","method":"eth_blockNumber","params":[],"id":1}`)
	req := httptest.NewRequest(http.MethodPost, "/", body)
	rec := httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code, "with no capability required, the emergency fallback still serves the healthy node")
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "0x2a", resp["result"])
}
