package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"avax-rpc-gateway/internal/balancer"
	"avax-rpc-gateway/internal/metrics"
	"avax-rpc-gateway/internal/node"
	"avax-rpc-gateway/internal/rpctypes"
	"avax-rpc-gateway/internal/utils"
)

const maxRequestBody = 10 << 20 // 10 MiB

// Handler returns the gateway's HTTP handler: the JSON-RPC front door plus
// the administrative surface from §6, mirroring the teacher's
// ProxyHandler/metrics wiring but dispatching through the request-plane
// pipeline instead of httputil.ReverseProxy.
func (gw *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", gw.instrumented(gw.rpcHandler))
	mux.HandleFunc("GET /health", gw.instrumented(gw.healthHandler))
	mux.HandleFunc("POST /admin/nodes/{id}/enable", gw.instrumented(gw.adminEnableHandler))
	mux.HandleFunc("POST /admin/nodes/{id}/disable", gw.instrumented(gw.adminDisableHandler))
	return mux
}

func (gw *Gateway) instrumented(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ip := utils.GetRequestIP(r)
		lrw := utils.NewLoggingResponseWriter(w)

		applyCORS(lrw)
		if r.Method == http.MethodOptions {
			lrw.WriteHeader(http.StatusOK)
			return
		}

		next(lrw, r)

		duration := time.Since(start)
		status := strconv.Itoa(lrw.StatusCode)
		metrics.HTTPRequestDuration.WithLabelValues(r.Method, status).Observe(duration.Seconds())
		metrics.HTTPRequestTotal.WithLabelValues(r.Method, status).Inc()
		gw.log.Debug("request handled",
			zap.String("ip", ip), zap.String("method", r.Method), zap.String("path", r.URL.Path),
			zap.Int("status", lrw.StatusCode), zap.Duration("duration", duration))
	}
}

func applyCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Session-Id")
}

// rpcHandler implements the inbound JSON-RPC endpoint from §6.
func (gw *Gateway) rpcHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writePlain(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil || len(body) == 0 {
		writeJSON(w, http.StatusBadRequest, rpctypes.NewErrorResponse(rpctypes.NullID(),
			rpctypes.NewError(rpctypes.CodeInvalidRequest, "missing or unreadable request body")))
		return
	}

	msg := rpctypes.ParseMessage(body)
	if msg.Kind == rpctypes.KindInvalid {
		writeJSON(w, http.StatusBadRequest, rpctypes.NewErrorResponse(rpctypes.NullID(),
			rpctypes.NewError(rpctypes.CodeParseError, "unparseable JSON-RPC request")))
		return
	}

	network := node.Network(queryOrDefault(r, "network", gw.DefaultNetwork()))
	strategy := balancer.Strategy(r.URL.Query().Get("strategy"))
	sessionID, sessionIsNew := gw.resolveSession(r)

	sel, err := gw.Balancer.Select(strategy, network, "", sessionID)
	if err != nil {
		gw.writeUnavailable(w, msg, err)
		return
	}
	if sessionIsNew {
		setSessionCookie(w, sessionID)
	}

	budget := gw.cfg.ProxyTimeout*time.Duration(gw.cfg.ProxyRetries+1) + gw.cfg.ProxyRetryDelay*time.Duration(gw.cfg.ProxyRetries) + time.Second
	ctx, cancel := context.WithTimeout(r.Context(), budget)
	defer cancel()

	switch msg.Kind {
	case rpctypes.KindSingle:
		resp := gw.Proxy.Forward(ctx, sel.Node, msg.Single)
		if resp.IsError() {
			gw.triggerInvalidation("")
		} else {
			gw.triggerInvalidation(msg.Single.Method)
		}
		writeJSON(w, statusForResponse(resp), resp)
	case rpctypes.KindBatch:
		resps := gw.Proxy.ForwardBatch(ctx, sel.Node, msg.Batch)
		for i, resp := range resps {
			if !resp.IsError() {
				gw.triggerInvalidation(msg.Batch[i].Method)
			}
		}
		writeJSON(w, statusForBatch(resps), resps)
	}
}

// triggerInvalidation mirrors the proxy observing a state-changing method
// succeed and invalidating dependent cache entries, per §4.6.
func (gw *Gateway) triggerInvalidation(method string) {
	if method == "" {
		return
	}
	gw.Cache.InvalidateOnStateChange(method)
}

// statusForResponse picks the HTTP status for a single JSON-RPC response.
// Only gateway-synthesized failures (a transport error, a malformed
// upstream body) map to 502/504; an upstream node's own application-level
// error -- even one using the same -32000/-32603 codes -- is passed through
// verbatim at 200, since the JSON-RPC envelope, not the HTTP status, is
// what carries it.
func statusForResponse(resp *rpctypes.Response) int {
	if !resp.IsError() || !resp.Synthesized {
		return http.StatusOK
	}
	switch resp.Error.Code {
	case rpctypes.CodeInternalError:
		return http.StatusGatewayTimeout
	case rpctypes.CodeNodeUnavailable, rpctypes.CodeServerError:
		return http.StatusBadGateway
	default:
		return http.StatusOK
	}
}

func statusForBatch(resps []*rpctypes.Response) int {
	status := http.StatusOK
	for _, r := range resps {
		if s := statusForResponse(r); s != http.StatusOK {
			status = s
		}
	}
	return status
}

func (gw *Gateway) writeUnavailable(w http.ResponseWriter, msg *rpctypes.Message, cause error) {
	code, text := rpctypes.CodeNodeUnavailable, "no backend node available"
	if errors.Is(cause, balancer.ErrCircuitOpen) {
		code, text = rpctypes.CodeCircuitOpen, "all backend nodes have an open circuit"
	}

	var errResp any
	switch msg.Kind {
	case rpctypes.KindSingle:
		errResp = rpctypes.NewErrorResponse(msg.Single.ID, rpctypes.NewError(code, text))
	case rpctypes.KindBatch:
		out := make([]*rpctypes.Response, len(msg.Batch))
		for i, r := range msg.Batch {
			out[i] = rpctypes.NewErrorResponse(r.ID, rpctypes.NewError(code, text))
		}
		errResp = out
	}
	writeJSON(w, http.StatusServiceUnavailable, errResp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writePlain(w http.ResponseWriter, status int, msg string) {
	w.WriteHeader(status)
	_, _ = w.Write([]byte(msg))
}

func queryOrDefault(r *http.Request, key, def string) string {
	if v := r.URL.Query().Get(key); v != "" {
		return v
	}
	return def
}
