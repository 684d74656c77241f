package server

import (
	"encoding/hex"
	"io"
	"math"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zeebo/blake3"
)

// FileFingerprint identifies file content independent of its path, so that
// two distinct paths with identical bytes share one cache entry.
type FileFingerprint [32]byte

func (f FileFingerprint) hex() string { return hex.EncodeToString(f[:]) }

// CacheKey names one encoded artifact of one fingerprinted source.
type CacheKey struct {
	Fingerprint FileFingerprint
	Encoding    string
}

// rejectedAtime marks an entry that failed the minimum-gain test: it is
// never chosen as an LRU eviction victim, and the TTL sweep skips it too
// because it always lies after `now`.
const rejectedAtime = math.MaxUint64

// fsCacheEntry is one filesystem-backed encoded artifact.
type fsCacheEntry struct {
	path    string
	size    int64
	atime   atomic.Uint64
	present bool
}

// genCacheEntry is one in-memory encoded artifact (generated HTML bodies).
type genCacheEntry struct {
	data  []byte
	size  int64
	atime atomic.Uint64
}

// EncodingCache holds the two pre-encoded-response caches, filesystem-backed
// and in-memory, plus the shared ETag-to-fingerprint sidecar.
type EncodingCache struct {
	encodedDir string

	fsMu      sync.RWMutex
	fsEntries map[CacheKey]*fsCacheEntry
	fsSize    atomic.Int64
	fsLimit   int64

	genMu      sync.RWMutex
	genEntries map[CacheKey]*genCacheEntry
	genSize    atomic.Int64
	genLimit   int64

	sidecarMu  sync.RWMutex
	sidecar    map[string]FileFingerprint

	lastPrune atomic.Uint64
	ttl       time.Duration
}

// NewEncodingCache builds an EncodingCache rooted at encodedDir (may be
// empty, meaning the filesystem cache is disabled) with the given size
// limits in bytes and optional TTL (zero disables the TTL sweep).
func NewEncodingCache(encodedDir string, fsLimit, genLimit int64, ttl time.Duration) *EncodingCache {
	return &EncodingCache{
		encodedDir: encodedDir,
		fsEntries:  make(map[CacheKey]*fsCacheEntry),
		fsLimit:    fsLimit,
		genEntries: make(map[CacheKey]*genCacheEntry),
		genLimit:   genLimit,
		sidecar:    make(map[string]FileFingerprint),
		ttl:        ttl,
	}
}

// Enabled reports whether the filesystem-backed encoding path is usable.
func (c *EncodingCache) Enabled() bool { return c.encodedDir != "" }

func monotonicNow() uint64 {
	return uint64(time.Now().UnixNano())
}

// FingerprintFor returns the BLAKE3 fingerprint of the file at path, keyed
// in the sidecar by its ETag so repeat requests for an unchanged file avoid
// rehashing.
func (c *EncodingCache) FingerprintFor(etag, path string) (FileFingerprint, error) {
	c.sidecarMu.RLock()
	fp, ok := c.sidecar[etag]
	c.sidecarMu.RUnlock()
	if ok {
		return fp, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return FileFingerprint{}, err
	}
	defer f.Close()

	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return FileFingerprint{}, err
	}
	sum := h.Sum(nil)
	copy(fp[:], sum)

	c.sidecarMu.Lock()
	c.sidecar[etag] = fp
	c.sidecarMu.Unlock()
	return fp, nil
}

// LookupFS implements the filesystem cache's lookup protocol: it returns the
// cached encoded path on a hit, (false, false) on a true miss, or
// (empty, true) if this key was previously rejected (serve identity).
func (c *EncodingCache) LookupFS(key CacheKey) (path string, hit bool, rejected bool) {
	c.fsMu.RLock()
	entry, ok := c.fsEntries[key]
	c.fsMu.RUnlock()
	if !ok {
		return "", false, false
	}
	if !entry.present {
		return "", false, true
	}
	entry.atime.Store(monotonicNow())
	return entry.path, true, false
}

// StoreFS inserts a new cache entry after a successful encode, or a rejected
// sentinel when the minimum-gain or size-limit policy fails.
func (c *EncodingCache) StoreFS(key CacheKey, encodedPath string, originalSize, encodedSize int64) {
	entry := &fsCacheEntry{}

	gain := float64(originalSize) / float64(encodedSize+1)
	if encodedSize == 0 || gain < minEncodingGain || encodedSize > c.fsLimit {
		_ = os.Remove(encodedPath)
		entry.present = false
		entry.atime.Store(rejectedAtime)
	} else {
		entry.path = encodedPath
		entry.size = encodedSize
		entry.present = true
		entry.atime.Store(monotonicNow())
	}

	// The counter moves under the same write lock that mutates the map, so
	// the sum-of-present-sizes invariant holds against any single writer.
	c.fsMu.Lock()
	c.fsEntries[key] = entry
	if entry.present {
		c.fsSize.Add(entry.size)
	}
	c.fsMu.Unlock()
}

// EncodedPath returns the destination filename for a filesystem-cached
// artifact; the caller encodes into it directly.
func (c *EncodingCache) EncodedPath(fp FileFingerprint, ext, encoding string) string {
	name := fp.hex()
	if ext != "" {
		name += "." + ext
	}
	name += "." + encodingExtensions[encoding]
	return filepath.Join(c.encodedDir, name)
}

// LookupGenerated mirrors LookupFS for the in-memory generated-content cache.
func (c *EncodingCache) LookupGenerated(key CacheKey) (data []byte, hit bool) {
	c.genMu.RLock()
	entry, ok := c.genEntries[key]
	c.genMu.RUnlock()
	if !ok {
		return nil, false
	}
	entry.atime.Store(monotonicNow())
	return entry.data, true
}

// StoreGenerated inserts an encoded in-memory body.
func (c *EncodingCache) StoreGenerated(key CacheKey, data []byte) {
	entry := &genCacheEntry{data: data, size: int64(len(data))}
	entry.atime.Store(monotonicNow())

	c.genMu.Lock()
	c.genEntries[key] = entry
	c.genSize.Add(entry.size)
	c.genMu.Unlock()
}
