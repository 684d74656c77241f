package server

import (
	"encoding/json"
	"fmt"
	"html/template"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// indexExtensions is the preference order the index-file search tries.
var indexExtensions = []string{"html", "htm", "shtml"}

// humanReadableSize renders n as "X" for whole-unit values or "X.Y"
// otherwise, with units B..YiB by a 1024 exponent.
func humanReadableSize(n int64) string {
	units := []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB", "EiB", "ZiB", "YiB"}

	val := float64(n)
	exp := 0
	for val >= 1024 && exp < len(units)-1 {
		val /= 1024
		exp++
	}

	if exp > 0 {
		val = math.Round(val*10) / 10
	} else {
		val = math.Round(val)
	}
	return fmt.Sprintf("%g %s", val, units[exp])
}

// iconSuffix derives a listing icon class from the top-level MIME type:
// image/video get "_image", text gets "_text", application gets "_binary",
// everything else (including directories) "".
func iconSuffix(path string, isFile bool) string {
	if !isFile {
		return ""
	}
	mt := ResolveMIME(path, nil)
	switch {
	case strings.HasPrefix(mt, "image/"), strings.HasPrefix(mt, "video/"):
		return "_image"
	case strings.HasPrefix(mt, "text/"):
		return "_text"
	case strings.HasPrefix(mt, "application/"):
		return "_binary"
	default:
		return ""
	}
}

type listingEntry struct {
	Name       string
	IsFile     bool
	MTime      time.Time
	Size       string
	IconSuffix string
}

// clientMobile is a naive User-Agent substring scan. Deliberately crude:
// clients that want the desktop view can override their UA.
func clientMobile(r *http.Request) bool {
	ua := r.Header.Get("User-Agent")
	return strings.Contains(ua, "Mobi") || strings.Contains(ua, "mobi")
}

// isRoot reports whether the URL path names the hosted root itself.
func isRoot(urlPath string) bool {
	return strings.Trim(urlPath, "/") == ""
}

// listDirEntries reads dirPath and applies the symlink-visibility filter:
// symlinks are dropped unless symlink-following is enabled, and (when the
// sandbox is active) symlinks escaping the hosted root are dropped
// regardless.
func (s *Server) listDirEntries(dirPath string) ([]os.DirEntry, error) {
	entries, err := os.ReadDir(dirPath)
	if err != nil {
		return nil, err
	}

	out := entries[:0]
	for _, e := range entries {
		full := filepath.Join(dirPath, e.Name())
		info, err := os.Lstat(full)
		if err != nil {
			continue
		}
		symlink := info.Mode()&os.ModeSymlink != 0
		if symlink && !s.Config.FollowSymlinks {
			continue
		}
		if symlink && s.Config.FollowSymlinks && s.Config.SandboxSymlinks && !IsDescendantOf(full, s.Config.HostedRoot) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *Server) buildListing(dirPath string) ([]listingEntry, error) {
	raw, err := s.listDirEntries(dirPath)
	if err != nil {
		return nil, err
	}

	entries := make([]listingEntry, 0, len(raw))
	for _, e := range raw {
		full := filepath.Join(dirPath, e.Name())
		info, err := os.Stat(full)
		if err != nil {
			continue
		}
		isFile := !info.IsDir()
		size := ""
		if isFile {
			size = humanReadableSize(info.Size())
		}
		entries = append(entries, listingEntry{
			Name:       e.Name(),
			IsFile:     isFile,
			MTime:      info.ModTime(),
			Size:       size,
			IconSuffix: iconSuffix(full, isFile),
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].IsFile != entries[j].IsFile {
			return !entries[i].IsFile // directories first
		}
		return strings.ToLower(entries[i].Name) < strings.ToLower(entries[j].Name)
	})
	return entries, nil
}

// ServeDirectory serves the preferred index file when one exists, then an
// HTML listing (desktop or mobile), or 404 if listings are disabled.
func (s *Server) ServeDirectory(w http.ResponseWriter, r *http.Request, dirPath string) {
	if s.Config.CheckIndices {
		for _, ext := range indexExtensions {
			idx := filepath.Join(dirPath, "index."+ext)
			info, err := os.Stat(idx)
			if err != nil || info.IsDir() {
				continue
			}
			if s.Config.FollowSymlinks && s.Config.SandboxSymlinks && !IsDescendantOf(idx, s.Config.HostedRoot) {
				continue
			}
			if !strings.HasSuffix(r.URL.Path, "/") {
				s.redirectSlashed(w, r)
				return
			}
			idxInfo, err := os.Stat(idx)
			if err != nil {
				continue
			}
			s.ServeStatic(w, r, idx, idxInfo)
			return
		}
	}

	if rawFsAPIRequested(r) {
		s.serveRawFsDir(w, r, dirPath)
		return
	}

	if !s.Config.GenerateListings {
		s.writeNonexistent(w, r, dirPath, http.StatusNotFound)
		return
	}

	entries, err := s.buildListing(dirPath)
	if err != nil {
		panic("httpd: failed to read requested directory: " + err.Error())
	}

	if clientMobile(r) {
		s.writeListingHTML(w, r, mobileListingTemplate, dirPath, entries)
	} else {
		s.writeListingHTML(w, r, desktopListingTemplate, dirPath, entries)
	}
}

// redirectSlashed issues a 303 to the slashed form of the request URL,
// honoring any configured proxy-redir header.
func (s *Server) redirectSlashed(w http.ResponseWriter, r *http.Request) {
	u := s.Config.Proxies.UserFacingURL(r)
	w.Header().Set("Location", slashiseURL(u))
	w.WriteHeader(http.StatusSeeOther)
}

// slashiseURL inserts a "/" immediately before the query string, or at the
// end if there is none.
func slashiseURL(u string) string {
	if idx := strings.IndexByte(u, '?'); idx >= 0 {
		return u[:idx] + "/" + u[idx:]
	}
	return u + "/"
}

func (s *Server) writeListingHTML(w http.ResponseWriter, r *http.Request, tmpl *template.Template, dirPath string, entries []listingEntry) {
	rel := strings.Trim(r.URL.Path, "/")
	data := struct {
		Path            string
		IsRoot          bool
		Entries         []listingEntry
		WritesSupported bool
		ParentMTime     time.Time
	}{
		Path:            rel,
		IsRoot:          isRoot(r.URL.Path),
		Entries:         entries,
		WritesSupported: s.Config.WritesEnabled,
	}
	if parent, err := os.Stat(filepath.Dir(dirPath)); err == nil {
		data.ParentMTime = parent.ModTime()
	}

	var buf strings.Builder
	if err := tmpl.Execute(&buf, data); err != nil {
		panic("httpd: failed to render directory listing: " + err.Error())
	}
	s.serveGeneratedHTML(w, r, http.StatusOK, buf.String())
}

// RawFileData is one entry of the raw-fs-api JSON response.
type RawFileData struct {
	MimeType     string    `json:"mime_type"`
	Name         string    `json:"name"`
	LastModified time.Time `json:"last_modified"`
	Size         int64     `json:"size"`
	IsFile       bool      `json:"is_file"`
}

// FilesetData is the top-level raw-fs-api JSON response.
type FilesetData struct {
	WritesSupported bool          `json:"writes_supported"`
	IsRoot          bool          `json:"is_root"`
	IsFile          bool          `json:"is_file"`
	Files           []RawFileData `json:"files"`
}

func rawFileData(path string, info os.FileInfo) RawFileData {
	return RawFileData{
		MimeType:     ResolveMIME(path, nil),
		Name:         info.Name(),
		LastModified: info.ModTime(),
		Size:         info.Size(),
		IsFile:       !info.IsDir(),
	}
}

func (s *Server) serveRawFsDir(w http.ResponseWriter, r *http.Request, dirPath string) {
	raw, err := s.listDirEntries(dirPath)
	if err != nil {
		panic("httpd: failed to read requested directory: " + err.Error())
	}

	files := make([]RawFileData, 0, len(raw))
	for _, e := range raw {
		full := filepath.Join(dirPath, e.Name())
		info, err := os.Stat(full)
		if err != nil {
			continue
		}
		if info.IsDir() {
			files = append(files, RawFileData{
				MimeType:     "text/directory",
				Name:         e.Name(),
				LastModified: info.ModTime(),
				Size:         0,
				IsFile:       false,
			})
		} else {
			files = append(files, rawFileData(full, info))
		}
	}

	data := FilesetData{
		WritesSupported: s.Config.WritesEnabled,
		IsRoot:          isRoot(r.URL.Path),
		IsFile:          false,
		Files:           files,
	}
	s.writeRawFsAPIResponse(w, r, http.StatusOK, data)
}

// serveRawFsFile serves the single-file raw-fs-api metadata variant.
func (s *Server) serveRawFsFile(w http.ResponseWriter, r *http.Request, path string, info os.FileInfo) {
	data := FilesetData{
		WritesSupported: s.Config.WritesEnabled,
		IsRoot:          false,
		IsFile:          true,
		Files:           []RawFileData{rawFileData(path, info)},
	}
	s.writeRawFsAPIResponse(w, r, http.StatusOK, data)
}

func (s *Server) writeRawFsAPIResponse(w http.ResponseWriter, r *http.Request, status int, data FilesetData) {
	body, err := json.Marshal(data)
	if err != nil {
		panic("httpd: failed to marshal raw-fs-api response: " + err.Error())
	}
	w.Header().Set("X-Raw-Fs-Api", "true")
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if r.Method != http.MethodHead {
		_, _ = w.Write(body)
	}
}

var listingFuncs = template.FuncMap{
	"upPath": func(p string) string {
		if idx := strings.LastIndexByte(p, '/'); idx >= 0 {
			return p[:idx]
		}
		return ""
	},
}

// desktopListingTemplate and mobileListingTemplate render the directory
// listing body. The markup is deliberately minimal; the interesting part is
// the data fed to it (sort order, icon suffixes, human-readable sizes).
var desktopListingTemplate = template.Must(template.New("desktop").Funcs(listingFuncs).Parse(`<!DOCTYPE html>
<html><head><title>Index of /{{.Path}}</title></head>
<body>
<table>
{{if not .IsRoot}}<tr><td><a href="/{{upPath .Path}}" id="parent_dir" class="back_arrow_icon"></a></td></tr>{{end}}
{{range .Entries}}<tr><td><a href="{{.Name}}" class="{{if .IsFile}}file{{else}}dir{{end}}{{.IconSuffix}}_icon"></a></td><td><a href="{{.Name}}">{{.Name}}</a></td><td>{{.MTime.UTC.Format "2006-01-02 15:04:05"}} UTC</td><td>{{.Size}}</td></tr>
{{end}}
</table>
</body></html>
`))

var mobileListingTemplate = template.Must(template.New("mobile").Funcs(listingFuncs).Parse(`<!DOCTYPE html>
<html><head><title>Index of /{{.Path}}</title></head>
<body>
{{if not .IsRoot}}<a href="/{{upPath .Path}}" class="list entry top"><span class="back_arrow_icon">Parent directory</span></a>{{end}}
{{range .Entries}}<a href="{{.Name}}" class="list entry top"><span class="{{if .IsFile}}file{{else}}dir{{end}}{{.IconSuffix}}_icon">{{.Name}}</span></a>
{{end}}
</body></html>
`))
