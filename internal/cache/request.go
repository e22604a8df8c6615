package cache

import (
	"encoding/json"

	"avax-rpc-gateway/internal/rpctypes"
)

// Cacheable reports whether a single request, or every entry of a batch,
// is cacheable -- batches are cached only if every entry is cacheable.
func Cacheable(methods []string) bool {
	for _, m := range methods {
		if !IsCacheable(m) {
			return false
		}
	}
	return true
}

// GetRequest looks up the cached response for a single request, if any.
func (c *Cache) GetRequest(req *rpctypes.Request) (*rpctypes.Response, bool) {
	if !IsCacheable(req.Method) {
		return nil, false
	}
	key, err := Key(req.Method, req.Params)
	if err != nil {
		return nil, false
	}
	payload, ok := c.Get(req.Method, key)
	if !ok {
		return nil, false
	}
	var resp rpctypes.Response
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, false
	}
	resp.ID = req.ID
	return &resp, true
}

// SetRequest caches resp for req, if both the method and the response
// qualify (no error field, per §3's invariant that error responses are
// never cached).
func (c *Cache) SetRequest(req *rpctypes.Request, resp *rpctypes.Response) {
	if !IsCacheable(req.Method) || resp.IsError() {
		return
	}
	key, err := Key(req.Method, req.Params)
	if err != nil {
		return
	}
	payload, err := json.Marshal(resp)
	if err != nil {
		return
	}
	c.Set(req.Method, key, payload, TTLFor(req.Method, c.cfg.TTLOverrides))
}

// GetBatch looks up a cached batch response keyed by the joined per-entry
// keys, in order.
func (c *Cache) GetBatch(reqs []*rpctypes.Request) ([]*rpctypes.Response, bool) {
	methods := make([]string, len(reqs))
	keys := make([]string, len(reqs))
	for i, r := range reqs {
		methods[i] = r.Method
		k, err := Key(r.Method, r.Params)
		if err != nil {
			return nil, false
		}
		keys[i] = k
	}
	if !Cacheable(methods) {
		return nil, false
	}
	batchKey := BatchKey(keys)
	payload, ok := c.Get("batch", batchKey)
	if !ok {
		return nil, false
	}
	var resps []*rpctypes.Response
	if err := json.Unmarshal(payload, &resps); err != nil {
		return nil, false
	}
	for i, r := range resps {
		if i < len(reqs) {
			r.ID = reqs[i].ID
		}
	}
	return resps, true
}

// SetBatch caches a batch response, using the minimum per-entry TTL, and
// only when every entry is cacheable and no entry carries an error.
func (c *Cache) SetBatch(reqs []*rpctypes.Request, resps []*rpctypes.Response) {
	if len(reqs) != len(resps) {
		return
	}
	methods := make([]string, len(reqs))
	keys := make([]string, len(reqs))
	minTTL := TTLFor(reqs[0].Method, c.cfg.TTLOverrides)
	for i, r := range reqs {
		methods[i] = r.Method
		if resps[i].IsError() {
			return
		}
		k, err := Key(r.Method, r.Params)
		if err != nil {
			return
		}
		keys[i] = k
		if ttl := TTLFor(r.Method, c.cfg.TTLOverrides); ttl < minTTL {
			minTTL = ttl
		}
	}
	if !Cacheable(methods) {
		return
	}
	payload, err := json.Marshal(resps)
	if err != nil {
		return
	}
	c.Set("batch", BatchKey(keys), payload, minTTL)
}
