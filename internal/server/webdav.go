package server

import (
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/net/webdav"
)

// webdavMethodSet names the methods routed to the WebDAV handler.
// GET/HEAD/PUT/DELETE stay on the static-file responder and write handlers,
// which share the auth gate with these.
var webdavMethodSet = map[string]bool{
	"COPY":      true,
	"MOVE":      true,
	"MKCOL":     true,
	"PROPFIND":  true,
	"PROPPATCH": true,
}

// newWebDAVHandler builds a webdav.Handler scoped to the hosted root. The
// protocol-level XML parsing and serialization are delegated entirely to
// golang.org/x/net/webdav; this wrapper only supplies the filesystem, lock
// manager, and logging hook.
func newWebDAVHandler(hostedRoot string, log *zap.Logger) *webdav.Handler {
	return &webdav.Handler{
		Prefix:     "/",
		FileSystem: webdav.Dir(hostedRoot),
		LockSystem: webdav.NewMemLS(),
		Logger: func(r *http.Request, err error) {
			if err == nil {
				return
			}
			base := strings.ToLower(lastSegment(r.URL.Path))
			switch base {
			case "desktop.ini", "autorun.inf", "thumbs.db", "folder.jpg":
				return // noisy Windows/macOS probe files; not worth a log line
			}
			log.Warn("webdav operation failed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Error(err))
		},
	}
}

func lastSegment(p string) string {
	p = strings.TrimSuffix(p, "/")
	if idx := strings.LastIndexByte(p, '/'); idx >= 0 {
		return p[idx+1:]
	}
	return p
}

// ServeWebDAV dispatches a COPY/MOVE/MKCOL/PROPFIND/PROPPATCH request to the
// wrapped webdav.Handler. The dispatcher has already run the auth gate; the
// path resolver and sandbox check run here, since webdav.Dir resolves
// symlinks at the OS level with no knowledge of the sandbox. The
// nonexistent-descendant variant covers mutation targets (MKCOL, COPY/MOVE
// destinations under the same prefix) that do not exist yet.
func (s *Server) ServeWebDAV(w http.ResponseWriter, r *http.Request) {
	path, symlink, decodeErr := ResolvePath(s.Config.HostedRoot, r.URL.EscapedPath(), s.Config.FollowSymlinks)
	if decodeErr {
		s.writeHTMLErrorReq(w, r, http.StatusBadRequest, "400 Bad Request", "400 Bad Request",
			"<p>Percent-encoding decoded to invalid UTF-8.</p>")
		return
	}
	illegal := (symlink && !s.Config.FollowSymlinks) ||
		(symlink && s.Config.FollowSymlinks && s.Config.SandboxSymlinks &&
			!IsNonexistentDescendantOf(path, s.Config.HostedRoot))
	if dest := r.Header.Get("Destination"); dest != "" && !illegal {
		if u, err := url.Parse(dest); err == nil {
			destPath, destSymlink, _ := ResolvePath(s.Config.HostedRoot, u.EscapedPath(), s.Config.FollowSymlinks)
			illegal = (destSymlink && !s.Config.FollowSymlinks) ||
				(destSymlink && s.Config.FollowSymlinks && s.Config.SandboxSymlinks &&
					!IsNonexistentDescendantOf(destPath, s.Config.HostedRoot))
		}
	}
	if illegal {
		s.writeNonexistent(w, r, path, http.StatusNotFound)
		return
	}
	s.webdav.ServeHTTP(w, r)
}
