package balancer

import (
	"context"

	"avax-rpc-gateway/internal/metrics"
	"avax-rpc-gateway/internal/node"
)

// selectSticky returns the session's pinned candidate if it is still valid
// and still a qualifying candidate; otherwise it selects a fresh candidate
// via health-based selection and records the new pin.
func (b *Balancer) selectSticky(net node.Network, capability, sessionID string) (*Selection, error) {
	cands := b.candidates(net, capability)

	if sessionID != "" {
		if n := b.lookupSession(sessionID, cands); n != nil {
			metrics.SelectionsTotal.WithLabelValues(string(Sticky), "sticky_hit").Inc()
			return &Selection{Node: n}, nil
		}
	}

	if len(cands) == 0 {
		if sel := b.emergencyFallback(net, capability); sel != nil {
			metrics.SelectionsTotal.WithLabelValues(string(Sticky), "fallback").Inc()
			return sel, nil
		}
		metrics.SelectionsTotal.WithLabelValues(string(Sticky), "none").Inc()
		return nil, b.noCandidateErr(net, capability)
	}

	picked := b.selectHealthBased(cands)
	if sessionID != "" {
		b.pin(sessionID, picked.ID)
	}
	metrics.SelectionsTotal.WithLabelValues(string(Sticky), "sticky_new").Inc()
	return &Selection{Node: picked}, nil
}

// lookupSession returns the pinned node if the session is unexpired and
// still present in the candidate set, refreshing lastUsedAt/expiresAt. A
// miss (expired, unknown, or no-longer-a-candidate session) returns nil.
func (b *Balancer) lookupSession(sessionID string, cands []*node.Node) *node.Node {
	b.sessMu.Lock()
	s, ok := b.sessions[sessionID]
	if !ok {
		b.sessMu.Unlock()
		return nil
	}
	now := b.clock.Now()
	if now.After(s.expiresAt) {
		delete(b.sessions, sessionID)
		b.sessMu.Unlock()
		return nil
	}

	var pinned *node.Node
	for _, c := range cands {
		if c.ID == s.nodeID {
			pinned = c
			break
		}
	}
	if pinned == nil {
		b.sessMu.Unlock()
		return nil
	}

	s.lastUsedAt = now
	s.expiresAt = now.Add(b.cfg.SessionTTL)
	b.sessMu.Unlock()
	return pinned
}

func (b *Balancer) pin(sessionID, nodeID string) {
	now := b.clock.Now()
	b.sessMu.Lock()
	b.sessions[sessionID] = &session{
		nodeID:     nodeID,
		lastUsedAt: now,
		expiresAt:  now.Add(b.cfg.SessionTTL),
	}
	count := len(b.sessions)
	b.sessMu.Unlock()
	metrics.StickySessionsActive.Set(float64(count))
}

// sweepSessions removes every session past its expiresAt.
func (b *Balancer) sweepSessions() {
	now := b.clock.Now()
	b.sessMu.Lock()
	for id, s := range b.sessions {
		if now.After(s.expiresAt) {
			delete(b.sessions, id)
		}
	}
	count := len(b.sessions)
	b.sessMu.Unlock()
	metrics.StickySessionsActive.Set(float64(count))
}

// StartSessionSweeper launches the periodic sticky-session expiry sweep;
// stops when ctx is cancelled.
func (b *Balancer) StartSessionSweeper(ctx context.Context) {
	ticker := b.clock.Ticker(b.cfg.SessionSweep)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				b.sweepSessions()
			case <-ctx.Done():
				return
			}
		}
	}()
}
