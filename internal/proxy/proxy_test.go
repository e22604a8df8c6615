package proxy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"avax-rpc-gateway/internal/cache"
	"avax-rpc-gateway/internal/node"
	"avax-rpc-gateway/internal/rpctypes"
)

type fakeRecorder struct {
	successes int32
	failures  int32
}

func (f *fakeRecorder) RecordSuccessfulRequest(string) { atomic.AddInt32(&f.successes, 1) }
func (f *fakeRecorder) RecordFailedRequest(string)     { atomic.AddInt32(&f.failures, 1) }

func newTestProxy(t *testing.T, cfg Config) (*Proxy, *fakeRecorder) {
	t.Helper()
	c := cache.New(cache.DefaultConfig(), clock.NewMock(), nil)
	rec := &fakeRecorder{}
	return New(cfg, c, rec, clock.New(), nil), rec
}

func jsonRPCRequest(method string) *rpctypes.Request {
	req, err := rpctypes.ParseRequest([]byte(`{"jsonrpc":"2.0","method":"` + method + `","params":[],"id":7}`))
	if err != nil {
		panic(err)
	}
	return req
}

func TestForwardRetryThenSuccess(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"jsonrpc":"2.0","result":"0x1","id":7}`))
	}))
	defer srv.Close()

	px, rec := newTestProxy(t, Config{Timeout: time.Second, Retries: 1, RetryDelay: 0})
	n := &node.Node{ID: "node-a", URL: srv.URL}
	req := jsonRPCRequest("eth_blockNumber")

	resp := px.Forward(context.Background(), n, req)
	require.False(t, resp.IsError())
	assert.JSONEq(t, `"0x1"`, string(resp.Result))
	assert.EqualValues(t, 1, atomic.LoadInt32(&rec.successes))
	assert.EqualValues(t, 0, atomic.LoadInt32(&rec.failures))
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestForwardExhaustedRetriesReturnsInternalError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		w.Write([]byte(`{"jsonrpc":"2.0","result":"0x1","id":7}`))
	}))
	defer srv.Close()

	px, rec := newTestProxy(t, Config{Timeout: 5 * time.Millisecond, Retries: 1, RetryDelay: 0})
	n := &node.Node{ID: "node-a", URL: srv.URL}
	req := jsonRPCRequest("eth_blockNumber")

	resp := px.Forward(context.Background(), n, req)
	require.True(t, resp.IsError())
	assert.Equal(t, rpctypes.CodeInternalError, resp.Error.Code)
	assert.True(t, resp.Synthesized, "a transport failure the proxy manufactured itself must be marked synthesized")
	assert.EqualValues(t, 1, atomic.LoadInt32(&rec.failures))
	assert.EqualValues(t, 0, atomic.LoadInt32(&rec.successes))
}

func TestForwardPassesThroughUpstreamApplicationErrorUnflagged(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"jsonrpc":"2.0","error":{"code":-32000,"message":"execution reverted"},"id":7}`))
	}))
	defer srv.Close()

	px, _ := newTestProxy(t, DefaultConfig())
	n := &node.Node{ID: "node-a", URL: srv.URL}
	req := jsonRPCRequest("eth_call")

	resp := px.Forward(context.Background(), n, req)
	require.True(t, resp.IsError())
	assert.Equal(t, rpctypes.CodeServerError, resp.Error.Code)
	assert.False(t, resp.Synthesized, "an upstream application error must not be flagged as gateway-synthesized")
}

func TestForwardServesFromCacheWithoutCallingUpstream(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte(`{"jsonrpc":"2.0","result":"0x1234","id":7}`))
	}))
	defer srv.Close()

	px, _ := newTestProxy(t, DefaultConfig())
	n := &node.Node{ID: "node-a", URL: srv.URL}
	req := jsonRPCRequest("eth_blockNumber")

	first := px.Forward(context.Background(), n, req)
	require.False(t, first.IsError())

	second := px.Forward(context.Background(), n, req)
	require.False(t, second.IsError())
	assert.JSONEq(t, string(first.Result), string(second.Result))
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls), "the second identical request must be served from cache")
}

func TestForwardValidatesBeforeCallingUpstream(t *testing.T) {
	var called bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	px, _ := newTestProxy(t, DefaultConfig())
	n := &node.Node{ID: "node-a", URL: srv.URL}
	req := &rpctypes.Request{Version: "1.0", Method: "eth_blockNumber", ID: rpctypes.NewID(1)}

	resp := px.Forward(context.Background(), n, req)
	require.True(t, resp.IsError())
	assert.Equal(t, rpctypes.CodeInvalidRequest, resp.Error.Code)
	assert.False(t, called, "an invalid request must never reach the upstream node")
}

func TestForwardBatchInvalidEntryDoesNotBlockOthers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body json.RawMessage
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Write([]byte(`[{"jsonrpc":"2.0","result":"0x1","id":1}]`))
	}))
	defer srv.Close()

	px, _ := newTestProxy(t, DefaultConfig())
	n := &node.Node{ID: "node-a", URL: srv.URL}

	valid := jsonRPCRequest("eth_blockNumber")
	invalid := &rpctypes.Request{Version: "2.0", Method: "", ID: rpctypes.NewID(2)}

	results := px.ForwardBatch(context.Background(), n, []*rpctypes.Request{valid, invalid})
	require.Len(t, results, 2)
	assert.False(t, results[0].IsError())
	require.True(t, results[1].IsError())
	assert.Equal(t, rpctypes.CodeInvalidRequest, results[1].Error.Code)
}
