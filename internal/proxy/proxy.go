// Package proxy validates, forwards, retries, and classifies outcomes for
// JSON-RPC requests against a chosen backend node, updating the circuit
// breaker and response cache as it goes.
//
// Grounded on the teacher's internal/gateway/checker.go request-building
// and internal/gateway/handler.go's reverse-proxy plumbing, generalized
// from a fire-and-forget httputil.ReverseProxy into an explicit
// validate/retry/classify pipeline that can report structured outcomes
// back to the breaker and cache instead of just logging them.
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"avax-rpc-gateway/internal/cache"
	"avax-rpc-gateway/internal/metrics"
	"avax-rpc-gateway/internal/node"
	"avax-rpc-gateway/internal/rpctypes"
)

const userAgent = "avax-rpc-gateway/1.0"

// Recorder is the subset of the load balancer the proxy needs to report
// outcomes to, kept narrow so the proxy package doesn't import balancer.
type Recorder interface {
	RecordSuccessfulRequest(nodeID string)
	RecordFailedRequest(nodeID string)
}

// Config holds the proxy's tunables.
type Config struct {
	Timeout    time.Duration
	Retries    int
	RetryDelay time.Duration
}

func DefaultConfig() Config {
	return Config{
		Timeout:    5 * time.Second,
		Retries:    2,
		RetryDelay: 1 * time.Second,
	}
}

// Proxy is the RpcProxy component.
type Proxy struct {
	cfg    Config
	client *http.Client
	clock  clock.Clock
	log    *zap.Logger

	cache    *cache.Cache
	recorder Recorder
}

func New(cfg Config, c *cache.Cache, recorder Recorder, clk clock.Clock, log *zap.Logger) *Proxy {
	if clk == nil {
		clk = clock.New()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Proxy{
		cfg:      cfg,
		client:   &http.Client{},
		clock:    clk,
		log:      log,
		cache:    c,
		recorder: recorder,
	}
}

// Forward validates, forwards (with cache and breaker bookkeeping), and
// returns the response for a single request. The returned response always
// has an ID matching req's; a forwarded upstream response keeps whatever
// jsonrpc version its body carried.
func (p *Proxy) Forward(ctx context.Context, n *node.Node, req *rpctypes.Request) *rpctypes.Response {
	if verr := Validate(req); verr != nil {
		return rpctypes.NewErrorResponse(req.ID, verr)
	}

	if cached, ok := p.cache.GetRequest(req); ok {
		return cached
	}

	payload, _ := json.Marshal(wireRequest{Version: "2.0", Method: req.Method, Params: req.Params, ID: req.ID})
	body, httpErr := p.send(ctx, n, payload, req.Method)
	if httpErr != nil {
		p.recorder.RecordFailedRequest(n.ID)
		return rpctypes.NewSynthesizedErrorResponse(req.ID, classifyError(httpErr))
	}

	var resp rpctypes.Response
	if err := json.Unmarshal(body, &resp); err != nil {
		p.recorder.RecordFailedRequest(n.ID)
		return rpctypes.NewSynthesizedErrorResponse(req.ID, rpctypes.NewError(rpctypes.CodeServerError, "malformed upstream response"))
	}
	resp.ID = req.ID

	p.recorder.RecordSuccessfulRequest(n.ID)
	p.cache.SetRequest(req, &resp)
	return &resp
}

// ForwardBatch validates and forwards a batch. A whole-batch transport
// failure maps each entry's id to an error response; per-entry application
// errors already present in a successful transport response pass through
// unchanged.
func (p *Proxy) ForwardBatch(ctx context.Context, n *node.Node, reqs []*rpctypes.Request) []*rpctypes.Response {
	valid := make([]*rpctypes.Request, 0, len(reqs))
	results := make([]*rpctypes.Response, len(reqs))
	for i, r := range reqs {
		if verr := Validate(r); verr != nil {
			results[i] = rpctypes.NewErrorResponse(r.ID, verr)
			continue
		}
		valid = append(valid, r)
	}

	if len(valid) == 0 {
		return results
	}

	if cached, ok := p.cache.GetBatch(valid); ok {
		vi := 0
		for i, r := range results {
			if r != nil {
				continue
			}
			results[i] = cached[vi]
			vi++
		}
		return results
	}

	wire := make([]wireRequest, len(valid))
	for i, r := range valid {
		wire[i] = wireRequest{Version: "2.0", Method: r.Method, Params: r.Params, ID: r.ID}
	}
	payload, _ := json.Marshal(wire)

	body, httpErr := p.send(ctx, n, payload, "batch")
	if httpErr != nil {
		p.recorder.RecordFailedRequest(n.ID)
		errResp := classifyError(httpErr)
		vi := 0
		for i, r := range results {
			if r != nil {
				continue
			}
			results[i] = rpctypes.NewSynthesizedErrorResponse(valid[vi].ID, errResp)
			vi++
		}
		return results
	}

	var upstream []*rpctypes.Response
	if err := json.Unmarshal(body, &upstream); err != nil || len(upstream) != len(valid) {
		p.recorder.RecordFailedRequest(n.ID)
		errResp := rpctypes.NewError(rpctypes.CodeServerError, "malformed upstream batch response")
		vi := 0
		for i, r := range results {
			if r != nil {
				continue
			}
			results[i] = rpctypes.NewSynthesizedErrorResponse(valid[vi].ID, errResp)
			vi++
		}
		return results
	}

	p.recorder.RecordSuccessfulRequest(n.ID)
	for i := range upstream {
		upstream[i].ID = valid[i].ID
	}
	p.cache.SetBatch(valid, upstream)

	vi := 0
	for i, r := range results {
		if r != nil {
			continue
		}
		results[i] = upstream[vi]
		vi++
	}
	return results
}

type wireRequest struct {
	Version string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      rpctypes.ID     `json:"id"`
}

// send performs the retry loop: up to cfg.Retries additional attempts with
// a fixed delay, each attempt independent against the same URL. Only the
// final outcome is reported to the caller; intermediate failures are not
// recorded against the breaker (the caller does that once, after send
// returns).
func (p *Proxy) send(ctx context.Context, n *node.Node, payload []byte, method string) ([]byte, error) {
	attempts := p.cfg.Retries + 1
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			metrics.ProxyRetriesTotal.WithLabelValues(n.ID, method).Inc()
			if err := p.sleep(ctx, p.cfg.RetryDelay); err != nil {
				return nil, err
			}
		}

		start := p.clock.Now()
		body, err := p.attempt(ctx, n, payload)
		metrics.ProxyRequestDuration.WithLabelValues(n.ID, method).Observe(p.clock.Now().Sub(start).Seconds())

		if err == nil {
			metrics.ProxyRequestsTotal.WithLabelValues(n.ID, method, "success").Inc()
			return body, nil
		}
		lastErr = err
	}
	metrics.ProxyRequestsTotal.WithLabelValues(n.ID, method, "failure").Inc()
	return nil, lastErr
}

func (p *Proxy) sleep(ctx context.Context, d time.Duration) error {
	timer := p.clock.Timer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Proxy) attempt(ctx context.Context, n *node.Node, payload []byte) ([]byte, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, n.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, &httpStatusError{status: resp.StatusCode}
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &httpStatusError{status: resp.StatusCode}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &httpStatusError{status: resp.StatusCode}
	}
	return body, nil
}

// httpStatusError carries a non-2xx HTTP status through to classifyError.
type httpStatusError struct{ status int }

func (e *httpStatusError) Error() string { return http.StatusText(e.status) }

// classifyError maps a transport-level error to the JSON-RPC error code
// table in §4.5.
func classifyError(err error) *rpctypes.Error {
	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		switch statusErr.status {
		case http.StatusUnauthorized:
			return rpctypes.NewError(rpctypes.CodeUnauthenticated, "upstream authentication failed")
		case http.StatusTooManyRequests:
			return rpctypes.NewError(rpctypes.CodeRateLimit, "upstream rate limited")
		default:
			return rpctypes.NewError(rpctypes.CodeServerError, "upstream server error")
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return rpctypes.NewError(rpctypes.CodeInternalError, "upstream request timed out")
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return rpctypes.NewError(rpctypes.CodeInternalError, "upstream request timed out")
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return rpctypes.NewError(rpctypes.CodeNodeUnavailable, "upstream node unavailable")
	}

	return rpctypes.NewError(rpctypes.CodeServerError, "upstream request failed")
}
