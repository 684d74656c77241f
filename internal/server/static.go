package server

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
)

// builtinMimeTypes is the built-in extension table; it is consulted before
// Go's mime package, so its entries win over the system's MIME database.
var builtinMimeTypes = map[string]string{
	".md":    "text/markdown; charset=utf-8",
	".yaml":  "application/yaml",
	".yml":   "application/yaml",
	".toml":  "application/toml",
	".wasm":  "application/wasm",
	".webp":  "image/webp",
	".avif":  "image/avif",
	".woff2": "font/woff2",
}

// ResolveMIME resolves a file's content type: lowercased extension against
// the configured override map, then the built-in table, then Go's extension
// table, then the binary heuristic fallback.
func ResolveMIME(path string, overrides map[string]string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if overrides != nil {
		if mt, ok := overrides[ext]; ok {
			return mt
		}
	}
	if mt, ok := builtinMimeTypes[ext]; ok {
		return mt
	}
	if mt := mime.TypeByExtension(ext); mt != "" {
		return mt
	}
	if isBinaryFile(path) {
		return "application/octet-stream"
	}
	return "text/plain; charset=utf-8"
}

// isBinaryFile samples up to 2048 bytes: a NUL byte before the first
// newline, or invalid UTF-8 in the sampled prefix, means binary.
func isBinaryFile(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return true
	}
	defer f.Close()

	buf := make([]byte, 2048)
	n, _ := io.ReadFull(f, buf)
	sample := buf[:n]

	if nl := strings.IndexByte(string(sample), '\n'); nl >= 0 {
		sample = sample[:nl]
	}
	if strings.IndexByte(string(sample), 0) >= 0 {
		return true
	}
	return !utf8.Valid(buf[:n])
}

func etagMatches(header, etag string) bool {
	for _, tag := range strings.Split(header, ",") {
		tag = strings.TrimSpace(tag)
		tag = strings.TrimPrefix(tag, "W/")
		tag = strings.Trim(tag, `"`)
		if tag == "*" || tag == etag {
			return true
		}
	}
	return false
}

// should304 decides whether a conditional request may be answered with 304:
// If-None-Match listing the computed ETag, or failing that an
// If-Modified-Since at or after the second-truncated mtime.
func should304(r *http.Request, etag string, mtime time.Time) bool {
	if inm := r.Header.Get("If-None-Match"); inm != "" {
		return etagMatches(inm, etag)
	}
	if ims := r.Header.Get("If-Modified-Since"); ims != "" {
		if t, err := http.ParseTime(ims); err == nil {
			return !mtime.Truncate(time.Second).After(t.Truncate(time.Second))
		}
	}
	return false
}

// ServeStatic responds for a single resolved, existing regular file:
// conditional requests, byte ranges, MIME resolution, and the encoding path.
func (s *Server) ServeStatic(w http.ResponseWriter, r *http.Request, path string, info os.FileInfo) {
	etag := FileETag(info)
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Last-Modified", info.ModTime().UTC().Format(http.TimeFormat))

	mimeType := ResolveMIME(path, s.Config.MimeOverrides)

	// Ranged requests carry a range-qualified ETag, so their conditional
	// check happens inside serveRange against that ETag, not the plain one.
	if rangeHeader := r.Header.Get("Range"); rangeHeader != "" {
		s.serveRange(w, r, path, info, etag, mimeType, rangeHeader)
		return
	}

	if should304(r, etag, info.ModTime()) {
		w.Header().Set("ETag", quote(etag))
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("ETag", quote(etag))
	w.Header().Set("Content-Type", mimeType)
	s.serveWithEncoding(w, r, path, info, mimeType)
}

func quote(s string) string { return `"` + s + `"` }

type byteRange struct {
	from, to int64 // inclusive; to == -1 means "to EOF"
	empty    bool
}

// parseRange parses a single "bytes=..." range header, matching the subset
// of RFC 7233 the responder supports: one range, closed, left- or
// right-opened.
func parseRange(header string, size int64) (byteRange, bool) {
	const prefix = "bytes="
	if !strings.HasPrefix(header, prefix) {
		return byteRange{}, false
	}
	spec := header[len(prefix):]
	if strings.Contains(spec, ",") {
		return byteRange{}, false // multi-range unsupported
	}
	spec = strings.TrimSpace(spec)

	dash := strings.IndexByte(spec, '-')
	if dash < 0 {
		return byteRange{}, false
	}
	fromStr, toStr := spec[:dash], spec[dash+1:]

	switch {
	case fromStr == "" && toStr != "":
		// suffix range: last N bytes
		n, err := strconv.ParseInt(toStr, 10, 64)
		if err != nil || n < 0 {
			return byteRange{}, false
		}
		from := size - n
		if from < 0 {
			from = 0
		}
		if n >= size {
			return byteRange{from: 0, to: size - 1}, true
		}
		return byteRange{from: from, to: size - 1}, true
	case fromStr != "" && toStr == "":
		from, err := strconv.ParseInt(fromStr, 10, 64)
		if err != nil || from < 0 {
			return byteRange{}, false
		}
		if from >= size {
			return byteRange{from: from, empty: true}, true
		}
		return byteRange{from: from, to: size - 1}, true
	case fromStr != "" && toStr != "":
		from, err1 := strconv.ParseInt(fromStr, 10, 64)
		to, err2 := strconv.ParseInt(toStr, 10, 64)
		if err1 != nil || err2 != nil || from < 0 || to < from {
			return byteRange{}, false
		}
		if to >= size {
			to = size - 1
		}
		return byteRange{from: from, to: to}, true
	default:
		return byteRange{}, false
	}
}

func (s *Server) serveRange(w http.ResponseWriter, r *http.Request, path string, info os.FileInfo, etag, mimeType, rangeHeader string) {
	size := info.Size()
	br, ok := parseRange(rangeHeader, size)
	if !ok {
		s.writeHTMLError(w, http.StatusRequestedRangeNotSatisfiable,
			"416 Range Not Satisfiable",
			fmt.Sprintf("Requested range <samp>%s</samp> could not be fulfilled for this file.", rangeHeader))
		return
	}

	rangeEtag := etag + "+" + rangeHeader
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("ETag", quote(rangeEtag))

	if should304(r, rangeEtag, info.ModTime()) {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	if br.empty {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		w.WriteHeader(http.StatusNoContent)
		return
	}

	f, err := os.Open(path)
	if err != nil {
		s.writeHTMLError(w, http.StatusForbidden, "403 Forbidden", "Could not open file.")
		return
	}
	defer f.Close()

	if _, err := f.Seek(br.from, io.SeekStart); err != nil {
		s.writeHTMLError(w, http.StatusForbidden, "403 Forbidden", "Could not seek file.")
		return
	}

	length := br.to - br.from + 1
	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", br.from, br.to, size))
	w.Header().Set("Content-Length", strconv.FormatInt(length, 10))
	w.Header().Set("Content-Type", mimeType)
	w.WriteHeader(http.StatusPartialContent)
	if r.Method != http.MethodHead {
		_, _ = io.CopyN(w, f, length)
	}
}

// serveWithEncoding streams the full file, consulting and populating the
// filesystem encoding cache when the file is eligible for encoding.
func (s *Server) serveWithEncoding(w http.ResponseWriter, r *http.Request, path string, info os.FileInfo, mimeType string) {
	size := info.Size()
	encoding := requestEncoding(r)

	if encoding != "" && s.Cache.Enabled() && size >= minEncodingSize && size <= maxEncodingSize &&
		!extensionIsBlacklisted(filepath.Ext(path)) {
		if s.serveEncoded(w, r, path, info, mimeType, encoding) {
			return
		}
	}

	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	if r.Method == http.MethodHead {
		return
	}
	f, err := os.Open(path)
	if err != nil {
		s.writeHTMLError(w, http.StatusForbidden, "403 Forbidden", "Could not open file.")
		return
	}
	defer f.Close()
	_, _ = io.Copy(w, f)
}

// serveEncoded runs the filesystem cache lookup protocol: fingerprint, hit
// or rejected-sentinel check, then encode-and-insert on a true miss. It
// returns false if the caller should fall back to identity streaming.
func (s *Server) serveEncoded(w http.ResponseWriter, r *http.Request, path string, info os.FileInfo, mimeType, encoding string) bool {
	etag := FileETag(info)
	fp, err := s.Cache.FingerprintFor(etag, path)
	if err != nil {
		return false
	}
	key := CacheKey{Fingerprint: fp, Encoding: encoding}

	if cached, hit, rejected := s.Cache.LookupFS(key); hit {
		s.writeEncodedFile(w, r, cached, mimeType, encoding)
		return true
	} else if rejected {
		return false
	}

	s.ensureTempDir(encodedSubdir)
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	dst := s.Cache.EncodedPath(fp, ext, encoding)
	if !encodeFile(path, dst, encoding) {
		s.Log.Warn("encoding failed; serving identity",
			zap.String("path", path), zap.String("encoding", encoding))
		return false
	}
	encInfo, err := os.Stat(dst)
	if err != nil {
		return false
	}
	s.Cache.StoreFS(key, dst, info.Size(), encInfo.Size())

	if cached, hit, _ := s.Cache.LookupFS(key); hit {
		s.writeEncodedFile(w, r, cached, mimeType, encoding)
		return true
	}
	return false
}

func (s *Server) writeEncodedFile(w http.ResponseWriter, r *http.Request, path, mimeType, encoding string) {
	info, err := os.Stat(path)
	if err != nil {
		s.writeHTMLError(w, http.StatusNotFound, "404 Not Found", "Encoded artifact vanished.")
		return
	}
	w.Header().Set("Content-Encoding", encoding)
	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Content-Length", strconv.FormatInt(info.Size(), 10))
	if r.Method == http.MethodHead {
		return
	}
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = io.Copy(w, f)
}
