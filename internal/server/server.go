package server

import (
	"context"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/net/webdav"
)

// Version is reported in the Server response header as "http/<version>".
const Version = "0.1.0"

// Scoped subdirectories of Config.TempDir. Each is created lazily on first
// use and removed on shutdown.
const (
	writesSubdir  = "writes"
	encodedSubdir = "encoded"
	tlsSubdir     = "tls"
)

// Server is the request-handling engine: it owns the immutable configuration,
// the encoding cache, the hot-reloadable auth policy snapshot, and the WebDAV
// collaborator. One Server handles every connection concurrently; all shared
// mutable state lives in the cache and the policy holder.
type Server struct {
	Config  Config
	Allowed AllowedMethods
	Cache   *EncodingCache
	Log     *zap.Logger

	policy authPolicyHolder
	webdav *webdav.Handler

	tempMu      sync.Mutex
	tempCreated map[string]bool

	httpServer *http.Server
}

// New builds a Server from an immutable Config. The auth policy starts empty;
// call SetAuthPolicy to install (or hot-swap) one.
func New(cfg Config, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.ServerToken == "" {
		cfg.ServerToken = "http/" + Version
	}

	encodedDir := ""
	if cfg.TempDir != "" {
		encodedDir = filepath.Join(cfg.TempDir, encodedSubdir)
	}

	s := &Server{
		Config:      cfg,
		Allowed:     NewAllowedMethods(cfg.WritesEnabled, cfg.WebDAVEnabled),
		Cache:       NewEncodingCache(encodedDir, cfg.CacheFSLimit, cfg.CacheGenLimit, cfg.CacheTTL),
		Log:         log,
		tempCreated: make(map[string]bool),
	}
	if cfg.WebDAVEnabled {
		s.webdav = newWebDAVHandler(cfg.HostedRoot, log)
	}
	return s
}

// SetAuthPolicy atomically installs a new policy snapshot; in-flight requests
// keep the snapshot they already loaded.
func (s *Server) SetAuthPolicy(p *AuthPolicy) { s.policy.Store(p) }

// ensureTempDir lazily creates one scoped temp subdirectory. Failure to
// create it is fatal for the request that needed it.
func (s *Server) ensureTempDir(sub string) {
	s.tempMu.Lock()
	defer s.tempMu.Unlock()
	if s.tempCreated[sub] {
		return
	}
	dir := filepath.Join(s.Config.TempDir, sub)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		panic("httpd: failed to create temp directory " + dir + ": " + err.Error())
	}
	s.tempCreated[sub] = true
}

// Serve accepts connections on ln until Shutdown. The listener is typically
// produced by ListenRange; a TLS listener may be layered on top by the caller
// (see internal/cli).
func (s *Server) Serve(ln net.Listener) error {
	s.httpServer = &http.Server{Handler: s}
	err := s.httpServer.Serve(ln)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests and removes the temp areas created
// during this run. Temp-area removal is best-effort: a failure is logged,
// not returned.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}

	s.tempMu.Lock()
	defer s.tempMu.Unlock()
	for sub := range s.tempCreated {
		dir := filepath.Join(s.Config.TempDir, sub)
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			s.Log.Warn("failed to remove temp directory", zap.String("dir", dir), zap.Error(rmErr))
		}
		delete(s.tempCreated, sub)
	}
	return err
}
