package cache

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"time"

	"go.uber.org/zap"
)

// snapshotMinRemaining is the minimum remaining TTL an entry must have to
// be written to the snapshot file, per §6 "Persisted state".
const snapshotMinRemaining = 5 * time.Minute

// snapshotRecord is the on-disk shape for one cache entry: a single JSON
// object keyed by cache key, per §9's resolution of the open question
// about line-delimited vs. single-JSON snapshot formats.
type snapshotRecord struct {
	Data      json.RawMessage `json:"data"`
	ExpiresAt time.Time       `json:"expiresAt"`
	Method    string          `json:"method"`
}

// SaveSnapshot writes every entry with at least snapshotMinRemaining of
// TTL left to path, as a single JSON object.
func (c *Cache) SaveSnapshot(path string) error {
	c.mu.Lock()
	now := c.clock.Now()
	out := make(map[string]snapshotRecord)
	for _, k := range c.store.Keys() {
		e, ok := c.store.Peek(k)
		if !ok {
			continue
		}
		if e.expiresAt.Sub(now) < snapshotMinRemaining {
			continue
		}
		out[k] = snapshotRecord{Data: e.payload, ExpiresAt: e.expiresAt, Method: e.method}
	}
	c.mu.Unlock()

	data, err := json.Marshal(out)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// LoadSnapshot loads a previously saved snapshot. Absence of the file is
// not an error.
func (c *Cache) LoadSnapshot(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}

	var in map[string]snapshotRecord
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}

	now := c.clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, rec := range in {
		if !rec.ExpiresAt.After(now) {
			continue
		}
		c.store.Add(k, &entry{method: rec.Method, payload: rec.Data, expiresAt: rec.ExpiresAt})
	}
	c.enforceCapacityLocked()
	return nil
}

// StartSnapshotter periodically rewrites the snapshot file until ctx is
// cancelled.
func (c *Cache) StartSnapshotter(ctx context.Context, path string, interval time.Duration, log *zap.Logger) {
	if log == nil {
		log = c.log
	}
	ticker := c.clock.Ticker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := c.SaveSnapshot(path); err != nil {
					log.Warn("cache snapshot failed", zap.Error(err))
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}
