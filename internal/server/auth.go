package server

import (
	"net/http"
	"strings"
	"sync/atomic"

	"golang.org/x/crypto/bcrypt"

	"github.com/nimbusfs/httpd/pkg/user"
)

// Credential is the expected username/password for an AuthPolicy entry.
// Exactly one of Password or Hash is meaningful for comparison: entries
// sourced from inline config compare Password by plain equality; entries
// sourced from the persisted user store compare Hash via bcrypt.
type Credential struct {
	Username string
	Password *string // nil means "no password required"
	Hash     []byte  // bcrypt hash; when set, takes precedence over Password
}

// Matches reports whether the supplied username/password satisfy this
// credential. A present-but-empty submitted password is treated as if no
// password had been submitted.
func (c *Credential) Matches(username, password string) bool {
	if c.Username != username {
		return false
	}
	if len(c.Hash) != 0 {
		return bcrypt.CompareHashAndPassword(c.Hash, []byte(password)) == nil
	}
	if password == "" {
		return c.Password == nil
	}
	return c.Password != nil && *c.Password == password
}

// AuthPolicy is an immutable snapshot of the global and per-path credential
// policy. The longest matching non-empty path prefix wins; the empty prefix
// is the global policy.
type AuthPolicy struct {
	Global *Credential
	Paths  map[string]*Credential
}

// Empty reports whether no auth is configured at all, in which case the
// Auth Gate is skipped entirely.
func (p *AuthPolicy) Empty() bool {
	return p == nil || (p.Global == nil && len(p.Paths) == 0)
}

// effective returns the credential that governs urlPath: the longest
// matching per-path entry, or the global policy if none match.
func (p *AuthPolicy) effective(urlPath string) *Credential {
	if len(p.Paths) > 0 {
		path := strings.TrimPrefix(urlPath, "/")
		path = strings.TrimSuffix(path, "/")
		for path != "" {
			if c, ok := p.Paths[path]; ok {
				return c
			}
			if idx := strings.LastIndexByte(path, '/'); idx >= 0 {
				path = path[:idx]
			} else {
				path = ""
			}
		}
	}
	return p.Global
}

// authPolicyHolder is an atomically swappable AuthPolicy, so a credential
// store reload never blocks or races with concurrent requests.
type authPolicyHolder struct {
	p atomic.Pointer[AuthPolicy]
}

func (h *authPolicyHolder) Load() *AuthPolicy { return h.p.Load() }
func (h *authPolicyHolder) Store(p *AuthPolicy) { h.p.Store(p) }

// checkAuth resolves the effective policy for the request path and validates
// the Basic credential, if any policy applies. It returns true if the
// request may proceed.
func checkAuth(policy *AuthPolicy, r *http.Request) bool {
	if policy.Empty() {
		return true
	}
	cred := policy.effective(r.URL.Path)
	if cred == nil {
		return true
	}
	username, password, ok := r.BasicAuth()
	if !ok {
		return false
	}
	return cred.Matches(username, password)
}

// PolicyFromStore builds an AuthPolicy snapshot from the persisted credential
// store: each user's path prefixes become per-path entries, and the user
// named globalUser (if any) backs the global policy.
func PolicyFromStore(st *user.Store, globalUser string) *AuthPolicy {
	policy := &AuthPolicy{Paths: make(map[string]*Credential)}
	for _, u := range st.Snapshot() {
		cred := &Credential{Username: u.Username, Hash: []byte(u.PasswordHash)}
		if globalUser != "" && u.Username == globalUser {
			policy.Global = cred
		}
		for _, p := range u.Paths {
			if p = strings.Trim(p, "/"); p != "" {
				policy.Paths[p] = cred
			}
		}
	}
	return policy
}
