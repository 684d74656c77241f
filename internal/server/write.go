package server

import (
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// detectFileAsDir reports whether any ancestor of p is an existing regular
// file, i.e. the request tried to use a file as a directory component.
func detectFileAsDir(p string) bool {
	for {
		parent := filepath.Dir(p)
		if parent == p {
			return false
		}
		if info, err := os.Stat(parent); err == nil && !info.IsDir() {
			return true
		}
		p = parent
	}
}

// HandlePUT streams the request body into a staging file under writes/,
// then, if the target is inside the sandbox, copies it into place, honoring
// X-Last-Modified/X-OC-MTime.
func (s *Server) HandlePUT(w http.ResponseWriter, r *http.Request) {
	if !s.Config.WritesEnabled {
		s.writeForbiddenMethod(w, r, "-w", "write requests")
		return
	}

	path, symlink, decodeErr := ResolvePath(s.Config.HostedRoot, r.URL.EscapedPath(), s.Config.FollowSymlinks)
	if decodeErr {
		s.writeHTMLErrorReq(w, r, http.StatusBadRequest, "400 Bad Request", "400 Bad Request",
			"<p>Percent-encoding decoded to invalid UTF-8.</p>")
		return
	}
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		s.writeDisallowedMethod(w, r, "directory")
		return
	}
	if detectFileAsDir(path) {
		s.writeHTMLErrorReq(w, r, http.StatusBadRequest, "400 Bad Request", "400 Bad Request",
			"<p>Attempted to use file as directory.</p>")
		return
	}
	if r.Header.Get("Content-Range") != "" {
		s.writeHTMLErrorReq(w, r, http.StatusBadRequest, "400 Bad Request", "400 Bad Request",
			`<a href="https://tools.ietf.org/html/rfc7231#section-4.3.3">RFC7231 forbids partial-content PUT requests.</a>`)
		return
	}

	illegal := (symlink && !s.Config.FollowSymlinks) ||
		(symlink && s.Config.FollowSymlinks && s.Config.SandboxSymlinks && !IsNonexistentDescendantOf(path, s.Config.HostedRoot))
	legal := !illegal

	s.ensureTempDir(writesSubdir)
	s.writePUTFile(w, r, path, legal)
}

func (s *Server) writePUTFile(w http.ResponseWriter, r *http.Request, path string, legal bool) {
	existent := !legal
	if legal {
		if _, err := os.Stat(path); err == nil {
			existent = true
		}
	}

	tempDir := filepath.Join(s.Config.TempDir, writesSubdir)
	tempFile := filepath.Join(tempDir, filepath.Base(path))
	cleanup := func() { _ = os.Remove(tempFile) }

	dst, err := os.Create(tempFile)
	if err != nil {
		panic("httpd: failed to create staging file: " + err.Error())
	}
	if _, err := io.Copy(dst, r.Body); err != nil {
		dst.Close()
		cleanup()
		panic("httpd: failed to write request body to staging file: " + err.Error())
	}
	if err := dst.Close(); err != nil {
		cleanup()
		panic("httpd: failed to close staging file: " + err.Error())
	}

	mtime, hasMtime := putTargetMtime(r)

	if legal {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			cleanup()
			panic("httpd: failed to create parent directories: " + err.Error())
		}
		if err := copyFile(tempFile, path); err != nil {
			cleanup()
			panic("httpd: failed to copy staging file into place: " + err.Error())
		}
		if hasMtime {
			t := time.UnixMilli(mtime)
			_ = os.Chtimes(path, t, t)
		}
	}
	cleanup()

	if !legal || !existent {
		w.WriteHeader(http.StatusCreated)
	} else {
		w.WriteHeader(http.StatusNoContent)
	}
}

// putTargetMtime resolves the target mtime from X-Last-Modified (ms) or, if
// absent, X-OC-MTime (s). X-Last-Modified wins when both are present.
func putTargetMtime(r *http.Request) (int64, bool) {
	if v := r.Header.Get("X-Last-Modified"); v != "" {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
			return ms, true
		}
	}
	if v := r.Header.Get("X-OC-MTime"); v != "" {
		if s, err := strconv.ParseInt(v, 10, 64); err == nil {
			return s * 1000, true
		}
	}
	return 0, false
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// HandleDELETE resolves the target without following symlinks, returns 404
// on any sandbox violation or nonexistence, and otherwise removes the file,
// symlink, or directory tree.
func (s *Server) HandleDELETE(w http.ResponseWriter, r *http.Request) {
	if !s.Config.WritesEnabled {
		s.writeForbiddenMethod(w, r, "-w", "write requests")
		return
	}

	path, symlink, decodeErr := ResolvePath(s.Config.HostedRoot, r.URL.EscapedPath(), false)
	if decodeErr {
		s.writeHTMLErrorReq(w, r, http.StatusBadRequest, "400 Bad Request", "400 Bad Request",
			"<p>Percent-encoding decoded to invalid UTF-8.</p>")
		return
	}

	_, statErr := os.Lstat(path)
	missing := statErr != nil
	illegalSymlink := symlink && !s.Config.FollowSymlinks
	sandboxViolation := symlink && s.Config.FollowSymlinks && s.Config.SandboxSymlinks && !IsDescendantOf(path, s.Config.HostedRoot)

	if missing || illegalSymlink || sandboxViolation {
		s.writeNonexistent(w, r, path, http.StatusNotFound)
		return
	}

	info, err := os.Stat(path)
	if err != nil {
		panic("httpd: failed to stat requested entity after existence check: " + err.Error())
	}
	if info.Mode().IsRegular() {
		if err := os.Remove(path); err != nil {
			panic("httpd: failed to remove requested file: " + err.Error())
		}
	} else {
		if err := os.RemoveAll(path); err != nil {
			panic("httpd: failed to remove requested directory: " + err.Error())
		}
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeNonexistent(w http.ResponseWriter, r *http.Request, path string, status int) {
	s.writeHTMLErrorReq(w, r, status, statusTitle(status), statusTitle(status),
		`<p>The requested entity "`+r.URL.Path+`" doesn't exist.</p>`)
}

func (s *Server) writeForbiddenMethod(w http.ResponseWriter, r *http.Request, flag, desc string) {
	s.writeHTMLErrorReq(w, r, http.StatusForbidden, "403 Forbidden", "This feature is currently disabled.",
		`<p>Ask the server administrator to pass <samp>`+flag+`</samp> to the executable to enable support for `+desc+`.</p>`)
}

func (s *Server) writeDisallowedMethod(w http.ResponseWriter, r *http.Request, kind string) {
	w.Header().Set("Allow", s.Allowed.Header())
	s.writeHTMLErrorReq(w, r, http.StatusMethodNotAllowed, "405 Method Not Allowed",
		"Can't "+r.Method+" on a "+kind+".",
		"<p>Allowed methods: "+s.Allowed.Header()+"</p>")
}

func statusTitle(status int) string {
	return strconv.Itoa(status) + " " + http.StatusText(status)
}
