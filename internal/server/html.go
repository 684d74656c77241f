package server

import (
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"

	"github.com/zeebo/blake3"
)

// errorPageTemplate is the shared three-slot template every generated HTML
// response is rendered from: a title, a headline message, and an optional
// detail fragment. The detail slot is already-escaped HTML.
const errorPageTemplate = `<!DOCTYPE html>
<html>
<head><title>%s</title></head>
<body>
<h1>%s</h1>
%s
</body>
</html>
`

func renderErrorPage(title, message, detail string) string {
	return fmt.Sprintf(errorPageTemplate, title, message, detail)
}

// writeHTMLError renders and writes a generated error page with no request
// context available (so no conditional-GET or content-negotiation against
// the client's headers is attempted), used by code paths that have already
// committed to streaming a response and only have a ResponseWriter at hand.
func (s *Server) writeHTMLError(w http.ResponseWriter, status int, title, detail string) {
	s.writeGeneratedResponse(w, nil, status, title, title, detail)
}

// writeHTMLErrorReq is the request-aware counterpart: it additionally
// negotiates Accept-Encoding against the generated cache. The If-None-Match
// check in serveGeneratedHTML applies only to 200 responses, so error pages
// are never answered with 304.
func (s *Server) writeHTMLErrorReq(w http.ResponseWriter, r *http.Request, status int, title, message, detail string) {
	s.writeGeneratedResponse(w, r, status, title, message, detail)
}

// writeGeneratedResponse implements the generated-response path shared by
// every HTML page the server produces itself (errors and listings): it
// builds the body, computes its ETag, consults the
// Generated Cache for a previously-negotiated encoding, encodes (and stores,
// if within the size limit) on a miss, and falls back to identity when no
// encoding was negotiated or encoding fails.
func (s *Server) writeGeneratedResponse(w http.ResponseWriter, r *http.Request, status int, title, message, detail string) {
	body := renderErrorPage(title, message, detail)
	s.serveGeneratedHTML(w, r, status, body)
}

// serveGeneratedHTML is the generic entry point used both for error pages
// and for directory listings: body is a complete, already-rendered HTML
// document.
func (s *Server) serveGeneratedHTML(w http.ResponseWriter, r *http.Request, status int, body string) {
	h := blake3.New()
	_, _ = h.Write([]byte(body))
	var hash FileFingerprint
	copy(hash[:], h.Sum(nil))
	hashHex := hex.EncodeToString(hash[:])
	etag := quote(hashHex)

	if r != nil && status == http.StatusOK && (r.Method == http.MethodGet || r.Method == http.MethodHead) {
		if inm := r.Header.Get("If-None-Match"); inm != "" && etagMatches(inm, hashHex) {
			w.Header().Set("ETag", etag)
			w.WriteHeader(http.StatusNotModified)
			return
		}
	}

	if r != nil {
		if encoding := requestEncoding(r); encoding != "" {
			key := CacheKey{Fingerprint: hash, Encoding: encoding}
			if data, hit := s.Cache.LookupGenerated(key); hit {
				s.writeGeneratedBody(w, r, status, etag, encoding, data)
				return
			}
			if enc := encodeBytes([]byte(body), encoding); enc != nil && int64(len(enc)) <= s.Config.CacheGenLimit {
				s.Cache.StoreGenerated(key, enc)
				s.writeGeneratedBody(w, r, status, etag, encoding, enc)
				return
			} else if enc != nil {
				s.writeGeneratedBody(w, r, status, etag, encoding, enc)
				return
			}
		}
	}

	w.Header().Set("ETag", etag)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(status)
	if r == nil || r.Method != http.MethodHead {
		_, _ = w.Write([]byte(body))
	}
}

func (s *Server) writeGeneratedBody(w http.ResponseWriter, r *http.Request, status int, etag, encoding string, data []byte) {
	w.Header().Set("ETag", etag)
	w.Header().Set("Content-Encoding", encoding)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(status)
	if r.Method != http.MethodHead {
		_, _ = w.Write(data)
	}
}
