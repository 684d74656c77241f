package server

import (
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// newTestServer builds a Server over two fresh temp directories (hosted root
// and scratch space) with a permissive default configuration; mutate tweaks
// the Config before construction.
func newTestServer(t *testing.T, mutate func(*Config)) (*Server, string) {
	t.Helper()
	root := t.TempDir()
	cfg := Config{
		HostedRoot:       root,
		FollowSymlinks:   true,
		GenerateListings: true,
		CheckIndices:     true,
		TempDir:          t.TempDir(),
		CacheFSLimit:     1 << 20,
		CacheGenLimit:    1 << 20,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return New(cfg, zap.NewNop()), root
}

func doRequest(s *Server, method, target string, headers map[string]string) *httptest.ResponseRecorder {
	return doRequestBody(s, method, target, "", headers)
}

func doRequestBody(s *Server, method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	r := httptest.NewRequest(method, target, rd)
	for k, v := range headers {
		r.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.ServeHTTP(w, r)
	return w
}

func mustMkdirWithIndex(t *testing.T, root, name string) {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html>index</html>"), 0o644))
}
