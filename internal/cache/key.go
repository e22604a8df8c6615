package cache

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

// nonCacheablePrefixes lists method prefixes that can mutate chain or node
// state; any method starting with one of these is never cached.
var nonCacheablePrefixes = []string{
	"eth_sendTransaction",
	"eth_sendRawTransaction",
	"eth_sign",
	"eth_signTransaction",
	"eth_submitWork",
	"eth_submitHashrate",
	"personal_",
	"admin_",
	"miner_",
	"debug_",
	"avax_issueTx",
	"avax_signTx",
}

// defaultTTLTable is the per-method TTL table, in milliseconds, from §4.6.
var defaultTTLTable = map[string]time.Duration{
	"eth_blockNumber":          5000 * time.Millisecond,
	"eth_gasPrice":              10000 * time.Millisecond,
	"eth_call":                  10000 * time.Millisecond,
	"eth_getBalance":            15000 * time.Millisecond,
	"eth_getTransactionCount":   15000 * time.Millisecond,
	"eth_getLogs":               30000 * time.Millisecond,
	"eth_getBlockByNumber":      60000 * time.Millisecond,
	"eth_getBlockByHash":        60000 * time.Millisecond,
	"avax_getPendingTxs":        5000 * time.Millisecond,
	"avax_getAtomicTxStatus":    15000 * time.Millisecond,
	"avax_getAtomicTx":          60000 * time.Millisecond,
}

const fallbackTTL = 30000 * time.Millisecond

// IsCacheable reports whether method may be cached.
func IsCacheable(method string) bool {
	for _, prefix := range nonCacheablePrefixes {
		if strings.HasPrefix(method, prefix) {
			return false
		}
	}
	return true
}

// TTLFor returns the configured TTL for method, falling back to the
// default when the method has no entry.
func TTLFor(method string, overrides map[string]time.Duration) time.Duration {
	if overrides != nil {
		if d, ok := overrides[method]; ok {
			return d
		}
	}
	if d, ok := defaultTTLTable[method]; ok {
		return d
	}
	return fallbackTTL
}

// CanonicalParams re-serializes a JSON params array deterministically:
// object keys are sorted (encoding/json already sorts Go map keys on
// marshal), arrays keep their order, and numbers keep their original
// textual form via json.Number (they are not rewritten to a shortest form).
func CanonicalParams(params json.RawMessage) (string, error) {
	if len(params) == 0 {
		return "[]", nil
	}
	dec := json.NewDecoder(bytes.NewReader(params))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return "", err
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Key computes the deterministic cache key for a single request.
func Key(method string, params json.RawMessage) (string, error) {
	canon, err := CanonicalParams(params)
	if err != nil {
		return "", err
	}
	return method + "|" + canon, nil
}

// BatchKey joins per-entry keys in order, the batch key scheme from §4.6.
func BatchKey(entryKeys []string) string {
	return strings.Join(entryKeys, "|")
}
