// Package feed implements the snapshot suppliers: one per venue plus a shared
// spot price poller.
//
// A supplier owns its own goroutines (REST discovery, WebSocket book feed,
// reclock ticker) and publishes immutable Snapshot values through an atomic
// copy-on-write map. The engines only ever call Snapshots(), which is a single
// atomic load; a snapshot is never mutated after publication.
package feed

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BenItBuhner/Arbitration-Bot-sub002/pkg/types"
)

// Supplier is the engine-facing surface of one venue's data feed.
type Supplier interface {
	Venue() types.Venue

	// Start launches the supplier's goroutines for the given coins. It returns
	// once the feed is running; data arrives asynchronously.
	Start(ctx context.Context, coins []string) error

	// Snapshots returns the latest published snapshot per coin. The map and
	// every snapshot in it are frozen; callers must not mutate them.
	Snapshots() map[string]*types.Snapshot

	Close() error
}

// store is the atomic snapshot map shared by a supplier's writer goroutines
// and the engines' read path. Writers republish a fresh map on every update;
// readers do one atomic load.
type store struct {
	mu       sync.Mutex // serializes writers only
	current  atomic.Value
	updated  map[string]time.Time
	staleCut time.Duration
}

func newStore(staleAfter time.Duration) *store {
	s := &store{
		updated:  make(map[string]time.Time),
		staleCut: staleAfter,
	}
	s.current.Store(map[string]*types.Snapshot{})
	return s
}

// publish replaces one coin's snapshot, copy-on-write.
func (s *store) publish(snap *types.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.current.Load().(map[string]*types.Snapshot)
	next := make(map[string]*types.Snapshot, len(old)+1)
	for k, v := range old {
		next[k] = v
	}
	next[snap.Coin] = snap
	s.updated[snap.Coin] = time.Now()
	s.current.Store(next)
}

// snapshots returns the published map with health downgraded for coins whose
// last update is older than the stale cutoff. Downgrading copies the snapshot
// so published values stay frozen.
func (s *store) snapshots() map[string]*types.Snapshot {
	cur := s.current.Load().(map[string]*types.Snapshot)

	s.mu.Lock()
	var stale []string
	now := time.Now()
	for coin, ts := range s.updated {
		if s.staleCut > 0 && now.Sub(ts) > s.staleCut {
			stale = append(stale, coin)
		}
	}
	s.mu.Unlock()

	if len(stale) == 0 {
		return cur
	}
	out := make(map[string]*types.Snapshot, len(cur))
	for k, v := range cur {
		out[k] = v
	}
	for _, coin := range stale {
		if snap, ok := out[coin]; ok && snap.DataStatus == types.DataHealthy {
			cp := *snap
			cp.DataStatus = types.DataStale
			out[coin] = &cp
		}
	}
	return out
}

// reclock republishes every snapshot with TimeLeftSec recomputed from the
// market close time, so the engines see a live countdown even between venue
// updates. Runs from the supplier's reclock ticker.
func (s *store) reclock() {
	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.current.Load().(map[string]*types.Snapshot)
	if len(old) == 0 {
		return
	}
	nowMs := time.Now().UnixMilli()
	next := make(map[string]*types.Snapshot, len(old))
	for coin, snap := range old {
		cp := *snap
		if cp.MarketCloseTimeMs > 0 {
			cp.TimeLeftSec = float64(cp.MarketCloseTimeMs-nowMs) / 1000
		}
		next[coin] = &cp
	}
	s.current.Store(next)
}

// runReclock drives the countdown refresh until ctx is done.
func (s *store) runReclock(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.reclock()
		}
	}
}
