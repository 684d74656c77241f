package server

import (
	"bytes"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
)

// encodingPreference is the order in which acceptable encodings are chosen
// when several are offered; quality values only decide acceptability
// (non-zero), not the order.
var encodingPreference = []string{"br", "gzip", "deflate"}

// encodingExtensions gives the on-disk filename suffix for each supported
// encoding, used when naming cached filesystem artifacts.
var encodingExtensions = map[string]string{
	"br":      "br",
	"gzip":    "gz",
	"deflate": "zz",
}

// minEncodingSize and maxEncodingSize bound which file sizes are worth the
// cost of encoding at all.
const (
	minEncodingSize = 1024              // 1 KiB
	maxEncodingSize = 1 << 30           // 1 GiB
	minEncodingGain = 1.05              // ratio original/encoded must be at least this
)

// extensionBlacklist names extensions whose contents are already compressed,
// so attempting to re-encode them would only waste CPU.
var extensionBlacklist = map[string]bool{
	"gz": true, "bz2": true, "xz": true, "zip": true, "7z": true, "rar": true,
	"zst": true, "br": true, "lz4": true,
	"jpg": true, "jpeg": true, "png": true, "gif": true, "webp": true, "avif": true,
	"mp3": true, "mp4": true, "mkv": true, "webm": true, "ogg": true, "flac": true,
	"woff": true, "woff2": true,
}

func extensionIsBlacklisted(ext string) bool {
	return extensionBlacklist[strings.ToLower(strings.TrimPrefix(ext, "."))]
}

// negotiateEncoding parses an Accept-Encoding header and picks the first
// acceptable encoding (non-zero quality) in encodingPreference order. It
// returns "" if the header is absent or only identity is acceptable.
func negotiateEncoding(header string) string {
	if header == "" {
		return ""
	}
	accepted := make(map[string]float64)
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, q := part, 1.0
		if idx := strings.IndexByte(part, ';'); idx >= 0 {
			name = strings.TrimSpace(part[:idx])
			params := part[idx+1:]
			for _, p := range strings.Split(params, ";") {
				p = strings.TrimSpace(p)
				if qv, ok := strings.CutPrefix(p, "q="); ok {
					if parsed, err := strconv.ParseFloat(qv, 64); err == nil {
						q = parsed
					}
				}
			}
		}
		accepted[strings.ToLower(name)] = q
	}

	for _, name := range encodingPreference {
		if q, ok := accepted[name]; ok && q > 0 {
			return name
		}
	}
	return ""
}

// encodeFile reads src and writes its encoded form to dst, returning false
// (and cleaning up any partial output) on failure.
func encodeFile(srcPath, dstPath, encoding string) bool {
	src, err := os.Open(srcPath)
	if err != nil {
		return false
	}
	defer src.Close()

	dst, err := os.Create(dstPath)
	if err != nil {
		return false
	}

	ok := writeEncoded(dst, src, encoding) == nil
	if cerr := dst.Close(); cerr != nil {
		ok = false
	}
	if !ok {
		_ = os.Remove(dstPath)
	}
	return ok
}

// encodeBytes encodes data in memory, returning nil on failure.
func encodeBytes(data []byte, encoding string) []byte {
	var buf bytes.Buffer
	if writeEncoded(&buf, bytes.NewReader(data), encoding) != nil {
		return nil
	}
	return buf.Bytes()
}

func writeEncoded(dst io.Writer, src io.Reader, encoding string) error {
	switch encoding {
	case "br":
		w := brotli.NewWriterLevel(dst, brotli.DefaultCompression)
		if _, err := io.Copy(w, src); err != nil {
			w.Close()
			return err
		}
		return w.Close()
	case "gzip":
		w := gzip.NewWriter(dst)
		if _, err := io.Copy(w, src); err != nil {
			w.Close()
			return err
		}
		return w.Close()
	case "deflate":
		w, err := flate.NewWriter(dst, flate.DefaultCompression)
		if err != nil {
			return err
		}
		if _, err := io.Copy(w, src); err != nil {
			w.Close()
			return err
		}
		return w.Close()
	default:
		_, err := io.Copy(dst, src)
		return err
	}
}

// requestEncoding extracts the negotiated encoding (if any) for a request.
func requestEncoding(r *http.Request) string {
	return negotiateEncoding(r.Header.Get("Accept-Encoding"))
}
