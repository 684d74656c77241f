package server

import (
	"os"
	"time"

	"go.uber.org/zap"
)

// Prune runs the three eviction phases: size-cap eviction for each cache,
// then the interval-gated TTL sweep. It is invoked once after every request
// completes.
func (c *EncodingCache) Prune(log *zap.Logger) {
	var freedFS, freedGen int64
	start := time.Now()
	didWork := false

	if c.fsLimit > 0 && c.fsSize.Load() > c.fsLimit {
		didWork = true
		freedFS += c.pruneFSBySize()
	}

	if c.genLimit > 0 && c.genSize.Load() > c.genLimit {
		didWork = true
		freedGen += c.pruneGenBySize()
	}

	if c.ttl > 0 {
		now := monotonicNow()
		last := c.lastPrune.Load()
		intervalNS := uint64(pruneInterval(c.ttl).Nanoseconds())
		// Claim the sweep with a single compare-and-swap; concurrent callers
		// that lose the race skip the TTL phase for this invocation.
		if now-last >= intervalNS && c.lastPrune.CompareAndSwap(last, now) {
			didWork = true
			freedFS += c.pruneFSByTTL(now)
			freedGen += c.pruneGenByTTL(now)
		}
	}

	c.sweepSidecar()

	if didWork && (freedFS != 0 || freedGen != 0) && log != nil {
		log.Debug("pruned encoding cache",
			zap.Int64("freed_fs_bytes", freedFS),
			zap.Int64("freed_gen_bytes", freedGen),
			zap.Duration("took", time.Since(start)),
			zap.Int64("fs_size", c.fsSize.Load()),
			zap.Int64("gen_size", c.genSize.Load()),
		)
	}
}

// pruneInterval implements prune_interval = max(10, TTL/6), in seconds.
func pruneInterval(ttl time.Duration) time.Duration {
	interval := ttl / 6
	if interval < 10*time.Second {
		interval = 10 * time.Second
	}
	return interval
}

// pruneFSBySize evicts smallest-atime filesystem entries until the
// aggregate size is back under the configured limit.
func (c *EncodingCache) pruneFSBySize() int64 {
	c.fsMu.Lock()
	defer c.fsMu.Unlock()

	var freed int64
	for c.fsSize.Load()-freed > c.fsLimit {
		key, entry, ok := oldestFS(c.fsEntries)
		if !ok {
			break
		}
		if entry.present {
			if err := os.Remove(entry.path); err != nil {
				break // cannot reclaim; do not desync accounting
			}
		}
		delete(c.fsEntries, key)
		freed += entry.size
	}
	if freed != 0 {
		c.fsSize.Add(-freed)
	}
	return freed
}

func oldestFS(m map[CacheKey]*fsCacheEntry) (CacheKey, *fsCacheEntry, bool) {
	var bestKey CacheKey
	var best *fsCacheEntry
	found := false
	for k, v := range m {
		if !found || v.atime.Load() < best.atime.Load() {
			bestKey, best, found = k, v, true
		}
	}
	return bestKey, best, found
}

// pruneGenBySize mirrors pruneFSBySize for the in-memory cache.
func (c *EncodingCache) pruneGenBySize() int64 {
	c.genMu.Lock()
	defer c.genMu.Unlock()

	var freed int64
	for c.genSize.Load()-freed > c.genLimit {
		key, entry, ok := oldestGen(c.genEntries)
		if !ok {
			break
		}
		delete(c.genEntries, key)
		freed += entry.size
	}
	if freed != 0 {
		c.genSize.Add(-freed)
	}
	return freed
}

func oldestGen(m map[CacheKey]*genCacheEntry) (CacheKey, *genCacheEntry, bool) {
	var bestKey CacheKey
	var best *genCacheEntry
	found := false
	for k, v := range m {
		if !found || v.atime.Load() < best.atime.Load() {
			bestKey, best, found = k, v, true
		}
	}
	return bestKey, best, found
}

// pruneFSByTTL removes filesystem entries whose atime is older than the
// configured TTL. The rejected sentinel (atime == rejectedAtime) is never
// reached since it always exceeds `now`.
func (c *EncodingCache) pruneFSByTTL(now uint64) int64 {
	ttlNS := uint64(c.ttl.Nanoseconds())

	c.fsMu.Lock()
	defer c.fsMu.Unlock()

	var freed int64
	for key, entry := range c.fsEntries {
		atime := entry.atime.Load()
		if atime > now || now-atime <= ttlNS {
			continue
		}
		if entry.present {
			if err := os.Remove(entry.path); err != nil {
				continue
			}
		}
		delete(c.fsEntries, key)
		freed += entry.size
	}
	if freed != 0 {
		c.fsSize.Add(-freed)
	}
	return freed
}

func (c *EncodingCache) pruneGenByTTL(now uint64) int64 {
	ttlNS := uint64(c.ttl.Nanoseconds())

	c.genMu.Lock()
	defer c.genMu.Unlock()

	var freed int64
	for key, entry := range c.genEntries {
		atime := entry.atime.Load()
		if atime > now || now-atime <= ttlNS {
			continue
		}
		delete(c.genEntries, key)
		freed += entry.size
	}
	if freed != 0 {
		c.genSize.Add(-freed)
	}
	return freed
}

// sweepSidecar drops fingerprint entries that no longer back any present
// filesystem cache entry.
func (c *EncodingCache) sweepSidecar() {
	c.fsMu.RLock()
	live := make(map[FileFingerprint]bool, len(c.fsEntries))
	for key, entry := range c.fsEntries {
		if entry.present {
			live[key.Fingerprint] = true
		}
	}
	c.fsMu.RUnlock()

	c.sidecarMu.Lock()
	for etag, fp := range c.sidecar {
		if !live[fp] {
			delete(c.sidecar, etag)
		}
	}
	c.sidecarMu.Unlock()
}
