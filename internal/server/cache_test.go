package server

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fpByte(b byte) FileFingerprint {
	var fp FileFingerprint
	fp[0] = b
	return fp
}

func writeCacheFile(t *testing.T, dir, name string, size int) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o644))
	return path
}

func TestFingerprintSidecar(t *testing.T) {
	dir := t.TempDir()
	c := NewEncodingCache(dir, 1<<20, 1<<20, 0)

	src := writeCacheFile(t, dir, "src.txt", 4096)
	fp1, err := c.FingerprintFor("etag-1", src)
	require.NoError(t, err)

	// Second lookup by the same ETag must come from the sidecar, even if the
	// file has since changed on disk.
	require.NoError(t, os.WriteFile(src, []byte("different"), 0o644))
	fp2, err := c.FingerprintFor("etag-1", src)
	require.NoError(t, err)
	assert.Equal(t, fp1, fp2)

	// A new ETag rehashes.
	fp3, err := c.FingerprintFor("etag-2", src)
	require.NoError(t, err)
	assert.NotEqual(t, fp1, fp3)
}

func TestStoreFSAndLookup(t *testing.T) {
	dir := t.TempDir()
	c := NewEncodingCache(dir, 1<<20, 1<<20, 0)
	key := CacheKey{Fingerprint: fpByte(1), Encoding: "gzip"}

	_, hit, rejected := c.LookupFS(key)
	assert.False(t, hit)
	assert.False(t, rejected)

	encoded := writeCacheFile(t, dir, "artifact.gz", 1000)
	c.StoreFS(key, encoded, 10000, 1000)

	path, hit, rejected := c.LookupFS(key)
	assert.True(t, hit)
	assert.False(t, rejected)
	assert.Equal(t, encoded, path)
	assert.Equal(t, int64(1000), c.fsSize.Load())
}

func TestStoreFSRejectsInsufficientGain(t *testing.T) {
	dir := t.TempDir()
	c := NewEncodingCache(dir, 1<<20, 1<<20, 0)
	key := CacheKey{Fingerprint: fpByte(2), Encoding: "gzip"}

	// 1000/1001 is far below the minimum gain: the artifact is discarded and
	// a rejected sentinel recorded.
	encoded := writeCacheFile(t, dir, "bad.gz", 1000)
	c.StoreFS(key, encoded, 1000, 1000)

	_, hit, rejected := c.LookupFS(key)
	assert.False(t, hit)
	assert.True(t, rejected)
	assert.NoFileExists(t, encoded)
	assert.Zero(t, c.fsSize.Load())

	// The sentinel carries the max atime so LRU never evicts it.
	entry := c.fsEntries[key]
	require.NotNil(t, entry)
	assert.Equal(t, uint64(rejectedAtime), entry.atime.Load())
}

func TestStoreFSRejectsOversized(t *testing.T) {
	dir := t.TempDir()
	c := NewEncodingCache(dir, 500, 1<<20, 0)
	key := CacheKey{Fingerprint: fpByte(3), Encoding: "gzip"}

	encoded := writeCacheFile(t, dir, "big.gz", 1000)
	c.StoreFS(key, encoded, 100000, 1000)

	_, hit, rejected := c.LookupFS(key)
	assert.False(t, hit)
	assert.True(t, rejected)
	assert.NoFileExists(t, encoded)
}

func TestGeneratedCache(t *testing.T) {
	c := NewEncodingCache("", 0, 1<<20, 0)
	key := CacheKey{Fingerprint: fpByte(4), Encoding: "br"}

	_, hit := c.LookupGenerated(key)
	assert.False(t, hit)

	c.StoreGenerated(key, []byte("encoded-bytes"))
	data, hit := c.LookupGenerated(key)
	assert.True(t, hit)
	assert.Equal(t, []byte("encoded-bytes"), data)
	assert.Equal(t, int64(len("encoded-bytes")), c.genSize.Load())
}

func TestEncodedPathNaming(t *testing.T) {
	c := NewEncodingCache("/enc", 0, 0, 0)
	fp := fpByte(0xab)

	path := c.EncodedPath(fp, "txt", "gzip")
	assert.Equal(t, filepath.Join("/enc", fp.hex()+".txt.gz"), path)

	path = c.EncodedPath(fp, "", "br")
	assert.Equal(t, filepath.Join("/enc", fp.hex()+".br"), path)
}

func TestPruneFSBySizeEvictsOldest(t *testing.T) {
	dir := t.TempDir()
	c := NewEncodingCache(dir, 1500, 1<<20, 0)

	old := writeCacheFile(t, dir, "old.gz", 1000)
	young := writeCacheFile(t, dir, "young.gz", 1000)
	c.StoreFS(CacheKey{Fingerprint: fpByte(1), Encoding: "gzip"}, old, 100000, 1000)
	time.Sleep(time.Millisecond)
	c.StoreFS(CacheKey{Fingerprint: fpByte(2), Encoding: "gzip"}, young, 100000, 1000)

	require.Equal(t, int64(2000), c.fsSize.Load())
	c.Prune(nil)

	assert.LessOrEqual(t, c.fsSize.Load(), int64(1500))
	assert.NoFileExists(t, old)
	assert.FileExists(t, young)

	_, hit, _ := c.LookupFS(CacheKey{Fingerprint: fpByte(2), Encoding: "gzip"})
	assert.True(t, hit)
	_, hit, rejected := c.LookupFS(CacheKey{Fingerprint: fpByte(1), Encoding: "gzip"})
	assert.False(t, hit)
	assert.False(t, rejected)
}

func TestPruneGenBySizeEvictsOldest(t *testing.T) {
	c := NewEncodingCache("", 0, 150, 0)

	c.StoreGenerated(CacheKey{Fingerprint: fpByte(1), Encoding: "gzip"}, make([]byte, 100))
	time.Sleep(time.Millisecond)
	c.StoreGenerated(CacheKey{Fingerprint: fpByte(2), Encoding: "gzip"}, make([]byte, 100))

	c.Prune(nil)

	assert.LessOrEqual(t, c.genSize.Load(), int64(150))
	_, hit := c.LookupGenerated(CacheKey{Fingerprint: fpByte(1), Encoding: "gzip"})
	assert.False(t, hit)
	_, hit = c.LookupGenerated(CacheKey{Fingerprint: fpByte(2), Encoding: "gzip"})
	assert.True(t, hit)
}

func TestPruneTTLSweep(t *testing.T) {
	dir := t.TempDir()
	c := NewEncodingCache(dir, 1<<20, 1<<20, time.Minute)

	stale := writeCacheFile(t, dir, "stale.gz", 100)
	fresh := writeCacheFile(t, dir, "fresh.gz", 100)
	staleKey := CacheKey{Fingerprint: fpByte(1), Encoding: "gzip"}
	freshKey := CacheKey{Fingerprint: fpByte(2), Encoding: "gzip"}
	c.StoreFS(staleKey, stale, 100000, 100)
	c.StoreFS(freshKey, fresh, 100000, 100)

	now := monotonicNow()
	c.fsEntries[staleKey].atime.Store(now - uint64(2*time.Minute.Nanoseconds()))

	freed := c.pruneFSByTTL(now)
	assert.Equal(t, int64(100), freed)
	assert.NoFileExists(t, stale)
	assert.FileExists(t, fresh)
}

func TestPruneTTLSkipsRejectedSentinel(t *testing.T) {
	dir := t.TempDir()
	c := NewEncodingCache(dir, 1<<20, 1<<20, time.Minute)

	key := CacheKey{Fingerprint: fpByte(9), Encoding: "gzip"}
	rejectedFile := writeCacheFile(t, dir, "rej.gz", 100)
	c.StoreFS(key, rejectedFile, 100, 100) // fails the gain test

	// The sentinel's atime is max-representable; the overflow guard must
	// keep it out of the sweep.
	c.pruneFSByTTL(monotonicNow())
	_, _, rejected := c.LookupFS(key)
	assert.True(t, rejected)
}

func TestPruneInterval(t *testing.T) {
	assert.Equal(t, 10*time.Second, pruneInterval(30*time.Second))
	assert.Equal(t, 10*time.Second, pruneInterval(time.Minute))
	assert.Equal(t, 20*time.Second, pruneInterval(2*time.Minute))
}

func TestSidecarSweep(t *testing.T) {
	dir := t.TempDir()
	c := NewEncodingCache(dir, 1500, 1<<20, 0)

	old := writeCacheFile(t, dir, "old.gz", 1000)
	young := writeCacheFile(t, dir, "young.gz", 1000)
	oldKey := CacheKey{Fingerprint: fpByte(1), Encoding: "gzip"}
	youngKey := CacheKey{Fingerprint: fpByte(2), Encoding: "gzip"}
	c.StoreFS(oldKey, old, 100000, 1000)
	time.Sleep(time.Millisecond)
	c.StoreFS(youngKey, young, 100000, 1000)

	c.sidecarMu.Lock()
	c.sidecar["etag-old"] = fpByte(1)
	c.sidecar["etag-young"] = fpByte(2)
	c.sidecarMu.Unlock()

	c.Prune(nil)

	c.sidecarMu.RLock()
	defer c.sidecarMu.RUnlock()
	_, oldKept := c.sidecar["etag-old"]
	_, youngKept := c.sidecar["etag-young"]
	assert.False(t, oldKept, "evicted entry's fingerprint must leave the sidecar")
	assert.True(t, youngKept)
}
