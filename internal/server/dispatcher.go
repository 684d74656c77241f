package server

import (
	"fmt"
	"net/http"
	"os"

	"go.uber.org/zap"
)

// ServeHTTP is the request dispatcher: auth gate first, then routing by
// method, with the cache pruned after the handler returns. Global response
// decorations (Server token, DAV capability, configured additional headers)
// are applied up front so every handler inherits them.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Log.Info("request",
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.String("client", s.Config.Proxies.RemoteAddresses(r)),
	)

	defer s.Cache.Prune(s.Log)

	w.Header().Set("Server", s.Config.ServerToken)
	if s.Config.WebDAVEnabled {
		w.Header().Set("DAV", "1")
	}
	for _, kv := range s.Config.AdditionalHeaders {
		w.Header().Add(kv.Name, kv.Value)
	}

	if !checkAuth(s.policy.Load(), r) {
		w.Header().Set("WWW-Authenticate", `Basic realm="basic"`)
		s.writeHTMLErrorReq(w, r, http.StatusUnauthorized, "401 Unauthorized",
			"401 Unauthorized", "<p>Supply correct credentials to access this resource.</p>")
		return
	}

	switch r.Method {
	case http.MethodGet, http.MethodHead:
		s.handleGET(w, r)
	case http.MethodOptions:
		w.Header().Set("Allow", s.Allowed.Header())
		w.WriteHeader(http.StatusNoContent)
	case http.MethodTrace:
		s.handleTRACE(w, r)
	case http.MethodPut:
		s.HandlePUT(w, r)
	case http.MethodDelete:
		s.HandleDELETE(w, r)
	default:
		if webdavMethodSet[r.Method] && s.Config.WebDAVEnabled {
			s.ServeWebDAV(w, r)
			return
		}
		s.writeUnimplemented(w, r)
	}
}

// handleGET resolves the request path, applies the sandbox, and hands off to
// the Static-File Responder or Directory Lister. HEAD takes the same path;
// the handlers drop the body after all header computation.
func (s *Server) handleGET(w http.ResponseWriter, r *http.Request) {
	path, symlink, decodeErr := ResolvePath(s.Config.HostedRoot, r.URL.EscapedPath(), s.Config.FollowSymlinks)
	if decodeErr {
		s.writeHTMLErrorReq(w, r, http.StatusBadRequest, "400 Bad Request", "400 Bad Request",
			"<p>Percent-encoding decoded to invalid UTF-8.</p>")
		return
	}

	info, statErr := os.Stat(path)
	missing := statErr != nil
	illegal := (symlink && !s.Config.FollowSymlinks) ||
		(symlink && s.Config.FollowSymlinks && s.Config.SandboxSymlinks &&
			!IsDescendantOf(path, s.Config.HostedRoot))
	if missing || illegal {
		s.writeNonexistent(w, r, path, http.StatusNotFound)
		return
	}

	if info.IsDir() {
		s.ServeDirectory(w, r, path)
		return
	}
	if rawFsAPIRequested(r) {
		s.serveRawFsFile(w, r, path, info)
		return
	}
	s.ServeStatic(w, r, path, info)
}

func rawFsAPIRequested(r *http.Request) bool {
	v := r.Header.Get("X-Raw-Fs-Api")
	return v == "true" || v == "1"
}

// handleTRACE echoes the request line and headers back as message/http.
func (s *Server) handleTRACE(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "message/http")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "%s %s %s\r\n", r.Method, r.URL.RequestURI(), r.Proto)
	_ = r.Header.Write(w)
}

// writeUnimplemented renders the 501 response for methods outside the
// allowed set, including WebDAV methods while WebDAV is disabled.
func (s *Server) writeUnimplemented(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Allow", s.Allowed.Header())
	s.writeHTMLErrorReq(w, r, http.StatusNotImplemented, "501 Not Implemented",
		"501 Not Implemented",
		"<p>This method is not supported. Allowed methods: "+s.Allowed.Header()+"</p>")
}
