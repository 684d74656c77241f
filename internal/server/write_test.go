package server

import (
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func enableWrites(c *Config) { c.WritesEnabled = true }

func TestPUTCreatesAndReplaces(t *testing.T) {
	s, root := newTestServer(t, enableWrites)

	w := doRequestBody(s, "PUT", "/new.txt", "hello\n", nil)
	assert.Equal(t, http.StatusCreated, w.Code)

	data, err := os.ReadFile(filepath.Join(root, "new.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(data))

	w = doRequestBody(s, "PUT", "/new.txt", "replaced", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	data, err = os.ReadFile(filepath.Join(root, "new.txt"))
	require.NoError(t, err)
	assert.Equal(t, "replaced", string(data))
}

func TestPUTCreatesMissingParents(t *testing.T) {
	s, root := newTestServer(t, enableWrites)

	w := doRequestBody(s, "PUT", "/a/b/c.txt", "deep", nil)
	assert.Equal(t, http.StatusCreated, w.Code)

	data, err := os.ReadFile(filepath.Join(root, "a", "b", "c.txt"))
	require.NoError(t, err)
	assert.Equal(t, "deep", string(data))
}

func TestPUTHonorsXLastModified(t *testing.T) {
	s, root := newTestServer(t, enableWrites)

	w := doRequestBody(s, "PUT", "/stamped.txt", "hello\n", map[string]string{
		"X-Last-Modified": "1700000000000",
	})
	assert.Equal(t, http.StatusCreated, w.Code)

	info, err := os.Stat(filepath.Join(root, "stamped.txt"))
	require.NoError(t, err)
	assert.Equal(t, time.UnixMilli(1700000000000).Unix(), info.ModTime().Unix())
}

func TestPUTHonorsXOCMTime(t *testing.T) {
	s, root := newTestServer(t, enableWrites)

	w := doRequestBody(s, "PUT", "/oc.txt", "x", map[string]string{
		"X-OC-MTime": "1700000000",
	})
	assert.Equal(t, http.StatusCreated, w.Code)

	info, err := os.Stat(filepath.Join(root, "oc.txt"))
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000), info.ModTime().Unix())
}

func TestPUTXLastModifiedWinsOverXOCMTime(t *testing.T) {
	s, root := newTestServer(t, enableWrites)

	w := doRequestBody(s, "PUT", "/both.txt", "x", map[string]string{
		"X-Last-Modified": "1700000000000",
		"X-OC-MTime":      "1600000000",
	})
	assert.Equal(t, http.StatusCreated, w.Code)

	info, err := os.Stat(filepath.Join(root, "both.txt"))
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000), info.ModTime().Unix())
}

func TestPUTRejectedWhenWritesDisabled(t *testing.T) {
	s, root := newTestServer(t, nil)

	w := doRequestBody(s, "PUT", "/nope.txt", "x", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.NoFileExists(t, filepath.Join(root, "nope.txt"))
}

func TestPUTOnDirectoryRejected(t *testing.T) {
	s, root := newTestServer(t, enableWrites)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "dir"), 0o755))

	w := doRequestBody(s, "PUT", "/dir", "x", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.NotEmpty(t, w.Header().Get("Allow"))
}

func TestPUTThroughFileRejected(t *testing.T) {
	s, root := newTestServer(t, enableWrites)
	require.NoError(t, os.WriteFile(filepath.Join(root, "file.txt"), []byte("x"), 0o644))

	w := doRequestBody(s, "PUT", "/file.txt/child.txt", "x", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPUTContentRangeRejected(t *testing.T) {
	s, _ := newTestServer(t, enableWrites)

	w := doRequestBody(s, "PUT", "/partial.txt", "x", map[string]string{
		"Content-Range": "bytes 0-0/10",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPUTStagingFileRemoved(t *testing.T) {
	s, _ := newTestServer(t, enableWrites)

	w := doRequestBody(s, "PUT", "/staged.txt", "body", nil)
	require.Equal(t, http.StatusCreated, w.Code)

	stagingDir := filepath.Join(s.Config.TempDir, writesSubdir)
	entries, err := os.ReadDir(stagingDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPUTOutsideSandboxReports201WithoutWriting(t *testing.T) {
	outside := t.TempDir()
	s, root := newTestServer(t, func(c *Config) {
		c.WritesEnabled = true
		c.SandboxSymlinks = true
	})
	require.NoError(t, os.Symlink(outside, filepath.Join(root, "escape")))

	w := doRequestBody(s, "PUT", "/escape/evil.txt", "x", nil)
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.NoFileExists(t, filepath.Join(outside, "evil.txt"))
}

func TestDELETEFile(t *testing.T) {
	s, root := newTestServer(t, enableWrites)
	target := filepath.Join(root, "gone.txt")
	require.NoError(t, os.WriteFile(target, []byte("x"), 0o644))

	w := doRequest(s, "DELETE", "/gone.txt", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.NoFileExists(t, target)
}

func TestDELETEDirectoryTree(t *testing.T) {
	s, root := newTestServer(t, enableWrites)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "tree", "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "tree", "sub", "f.txt"), []byte("x"), 0o644))

	w := doRequest(s, "DELETE", "/tree", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.NoDirExists(t, filepath.Join(root, "tree"))
}

func TestDELETESymlinkRemovesLinkNotTarget(t *testing.T) {
	s, root := newTestServer(t, enableWrites)
	target := filepath.Join(root, "kept.txt")
	require.NoError(t, os.WriteFile(target, []byte("x"), 0o644))
	require.NoError(t, os.Symlink(target, filepath.Join(root, "link")))

	w := doRequest(s, "DELETE", "/link", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.NoFileExists(t, filepath.Join(root, "link"))
	assert.FileExists(t, target)
}

func TestDELETEMissingReturns404(t *testing.T) {
	s, _ := newTestServer(t, enableWrites)

	w := doRequest(s, "DELETE", "/absent.txt", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDELETERejectedWhenWritesDisabled(t *testing.T) {
	s, root := newTestServer(t, nil)
	require.NoError(t, os.WriteFile(filepath.Join(root, "safe.txt"), []byte("x"), 0o644))

	w := doRequest(s, "DELETE", "/safe.txt", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.FileExists(t, filepath.Join(root, "safe.txt"))
}

func TestDetectFileAsDir(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "f.txt"), []byte("x"), 0o644))

	assert.True(t, detectFileAsDir(filepath.Join(root, "f.txt", "child")))
	assert.False(t, detectFileAsDir(filepath.Join(root, "dir", "child")))
}
