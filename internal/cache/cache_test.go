package cache

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"avax-rpc-gateway/internal/rpctypes"
)

func newTestCache(t *testing.T) (*Cache, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock()
	return New(Config{MaxEntries: 100, SweepInterval: time.Minute}, mock, nil), mock
}

func blockNumberRequest() *rpctypes.Request {
	req, err := rpctypes.ParseRequest([]byte(`{"jsonrpc":"2.0","method":"eth_blockNumber","params":[],"id":1}`))
	if err != nil {
		panic(err)
	}
	return req
}

func TestCacheHitWithinTTL(t *testing.T) {
	c, mock := newTestCache(t)
	req := blockNumberRequest()
	resp := rpctypes.NewResultResponse(req.ID, json.RawMessage(`"0x1234"`))

	c.SetRequest(req, resp)

	got, ok := c.GetRequest(req)
	require.True(t, ok)
	assert.JSONEq(t, `"0x1234"`, string(got.Result))

	mock.Add(TTLFor(req.Method, nil) - time.Millisecond)
	_, ok = c.GetRequest(req)
	assert.True(t, ok, "entry must still be live just under its TTL")

	mock.Add(2 * time.Millisecond)
	_, ok = c.GetRequest(req)
	assert.False(t, ok, "entry must expire once its TTL has fully elapsed")
}

func TestCacheNeverStoresErrorResponses(t *testing.T) {
	c, _ := newTestCache(t)
	req := blockNumberRequest()
	resp := rpctypes.NewErrorResponse(req.ID, rpctypes.NewError(rpctypes.CodeServerError, "boom"))

	c.SetRequest(req, resp)
	_, ok := c.GetRequest(req)
	assert.False(t, ok)
}

func TestCacheNonCacheableMethodIsAlwaysMiss(t *testing.T) {
	c, _ := newTestCache(t)
	req, err := rpctypes.ParseRequest([]byte(`{"jsonrpc":"2.0","method":"eth_sendTransaction","params":["0xdead"],"id":2}`))
	require.NoError(t, err)
	resp := rpctypes.NewResultResponse(req.ID, json.RawMessage(`"0xhash"`))

	c.SetRequest(req, resp)
	_, ok := c.GetRequest(req)
	assert.False(t, ok)
}

func TestCacheInvalidationOnStateChange(t *testing.T) {
	c, _ := newTestCache(t)
	balanceReq, err := rpctypes.ParseRequest([]byte(`{"jsonrpc":"2.0","method":"eth_getBalance","params":["0xX"],"id":3}`))
	require.NoError(t, err)
	c.SetRequest(balanceReq, rpctypes.NewResultResponse(balanceReq.ID, json.RawMessage(`"0x1"`)))

	_, ok := c.GetRequest(balanceReq)
	require.True(t, ok)

	c.InvalidateOnStateChange("eth_sendTransaction")

	_, ok = c.GetRequest(balanceReq)
	assert.False(t, ok, "eth_getBalance entries must be invalidated after a successful eth_sendTransaction")
}

func TestCacheCapacityEvictsEarliestExpiry(t *testing.T) {
	c, mock := newTestCache(t)
	c.cfg.MaxEntries = 2

	c.Set("eth_blockNumber", "k1", json.RawMessage(`"1"`), 10*time.Second)
	mock.Add(time.Second)
	c.Set("eth_blockNumber", "k2", json.RawMessage(`"2"`), 30*time.Second)
	mock.Add(time.Second)
	c.Set("eth_blockNumber", "k3", json.RawMessage(`"3"`), 30*time.Second)

	_, ok := c.Get("eth_blockNumber", "k1")
	assert.False(t, ok, "the entry with the earliest expiresAt must be evicted first")
	_, ok = c.Get("eth_blockNumber", "k2")
	assert.True(t, ok)
	_, ok = c.Get("eth_blockNumber", "k3")
	assert.True(t, ok)
}

func TestCacheMetricsReportsConfiguredMaxEntries(t *testing.T) {
	c, _ := newTestCache(t)
	m := c.GetMetrics()
	assert.Equal(t, 100, m.MaxEntries)
	assert.Zero(t, m.Size)
}

func TestCacheBatchRoundTrip(t *testing.T) {
	c, _ := newTestCache(t)
	reqs := []*rpctypes.Request{blockNumberRequest()}
	resps := []*rpctypes.Response{rpctypes.NewResultResponse(reqs[0].ID, json.RawMessage(`"0xabc"`))}

	c.SetBatch(reqs, resps)
	got, ok := c.GetBatch(reqs)
	require.True(t, ok)
	require.Len(t, got, 1)
	assert.JSONEq(t, `"0xabc"`, string(got[0].Result))
}
