package server

import "time"

// KV is a verbatim response header configured at startup; Name/Value are
// appended to every response as-is, and the slice may repeat a Name.
type KV struct {
	Name  string
	Value string
}

// Config is the immutable configuration a Server is built from. It is
// constructed once (by the CLI layer, or directly by a test) and never
// mutated afterwards.
type Config struct {
	// HostedRoot is the absolute path of the published directory.
	HostedRoot string

	WritesEnabled   bool
	WebDAVEnabled   bool
	FollowSymlinks  bool
	SandboxSymlinks bool

	GenerateListings bool
	CheckIndices     bool

	MimeOverrides     map[string]string
	AdditionalHeaders []KV

	// TempDir roots the writes/, encoded/ and tls/ scoped subdirectories.
	// Empty disables the filesystem encoding cache; PUT staging is not
	// disabled and then uses a writes/ directory relative to the process
	// working directory.
	TempDir string

	CacheFSLimit  int64
	CacheGenLimit int64
	CacheTTL      time.Duration

	Proxies     ProxyPolicy
	ServerToken string // value of the Server response header
}

// AllowedMethods is the set of HTTP methods this configuration advertises,
// computed once from the writes/WebDAV toggles.
type AllowedMethods struct {
	set    map[string]bool
	header string
}

var baseMethods = []string{"GET", "HEAD", "OPTIONS", "TRACE"}
var writeMethods = []string{"PUT", "DELETE"}
var webdavMethods = []string{"COPY", "MKCOL", "MOVE", "PROPFIND", "PROPPATCH"}

// NewAllowedMethods computes the AllowedMethods set for this configuration.
func NewAllowedMethods(writesEnabled, webdavEnabled bool) AllowedMethods {
	methods := append([]string{}, baseMethods...)
	if writesEnabled {
		methods = append(methods, writeMethods...)
	}
	if webdavEnabled {
		methods = append(methods, webdavMethods...)
	}

	set := make(map[string]bool, len(methods))
	for _, m := range methods {
		set[m] = true
	}

	header := ""
	for i, m := range methods {
		if i > 0 {
			header += ", "
		}
		header += m
	}
	return AllowedMethods{set: set, header: header}
}

// Contains reports whether method is advertised by this configuration.
func (a AllowedMethods) Contains(method string) bool { return a.set[method] }

// Header renders the comma-joined Allow header value.
func (a AllowedMethods) Header() string { return a.header }
