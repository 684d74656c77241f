package server

import (
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// MaxSymlinks bounds the number of symlink hops ResolvePath will follow for a
// single request path, matching the common Linux MAXSYMLINKS limit.
const MaxSymlinks = 40

// ResolvePath maps a request URL path onto a filesystem path rooted at
// hostedRoot. It percent-decodes each path segment independently, joins it
// onto the accumulator, and, while followSymlinks holds and the symlink
// budget is not exhausted, follows any symlink the accumulator now points
// at. It reports whether any segment was ever a symlink (whether or not it
// was followed) and whether any segment failed to percent-decode into valid
// UTF-8.
//
// The caller is responsible for the sandbox check; ResolvePath will happily
// walk outside hostedRoot via a symlink.
func ResolvePath(hostedRoot, urlPath string, followSymlinks bool) (resolved string, sawSymlink bool, decodeErr bool) {
	depthLeft := MaxSymlinks
	cur := hostedRoot
	abs := true

	for _, seg := range strings.Split(urlPath, "/") {
		if seg == "" {
			continue
		}
		decoded, err := url.PathUnescape(seg)
		if err != nil || !utf8.ValidString(decoded) {
			decodeErr = true
			decoded = seg
		}
		cur = filepath.Join(cur, decoded)

		for {
			target, err := os.Readlink(cur)
			if err != nil {
				break // not a symlink, or unreadable: nothing more to do here
			}
			sawSymlink = true
			if !followSymlinks || depthLeft == 0 {
				break
			}
			if filepath.IsAbs(target) {
				cur = target
			} else {
				abs = false
				cur = filepath.Join(filepath.Dir(cur), target)
			}
			depthLeft--
		}
	}

	if !abs {
		// A relative symlink target was spliced in; collapse any ".." it introduced.
		cur = filepath.Clean(cur)
	}

	return cur, sawSymlink, decodeErr
}

// isAncestorOrSelf reports whether path is ancestor itself, or a descendant
// of it along path-segment boundaries (not merely a string prefix).
func isAncestorOrSelf(ancestor, path string) bool {
	if ancestor == path {
		return true
	}
	rel, err := filepath.Rel(ancestor, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// IsDescendantOf reports whether who refers to a filesystem location inside
// (or equal to) ofWhom, after resolving symlinks on both sides. Both paths
// must exist; a path that does not exist is never considered a descendant.
func IsDescendantOf(who, ofWhom string) bool {
	whoReal, err := filepath.EvalSymlinks(who)
	if err != nil {
		return false
	}
	ofWhomReal, err := filepath.EvalSymlinks(ofWhom)
	if err != nil {
		return false
	}
	return isAncestorOrSelf(ofWhomReal, whoReal)
}

// IsNonexistentDescendantOf is the PUT-target variant of IsDescendantOf: who
// need not exist yet. The longest existing prefix of who is canonicalized and
// the remainder appended, so a not-yet-created file under a symlinked
// directory is still correctly classified.
func IsNonexistentDescendantOf(who, ofWhom string) bool {
	ofWhomReal, err := filepath.EvalSymlinks(ofWhom)
	if err != nil {
		return false
	}

	cur := who
	if real, err := filepath.EvalSymlinks(who); err == nil {
		cur = real
	} else {
		// Walk up to the longest existing prefix, canonicalize that, and
		// reattach the nonexistent remainder.
		rest := ""
		p := who
		for {
			if real, err := filepath.EvalSymlinks(p); err == nil {
				if rest == "" {
					cur = real
				} else {
					cur = filepath.Join(real, rest)
				}
				break
			}
			parent := filepath.Dir(p)
			if parent == p {
				cur = who
				break
			}
			rest = filepath.Join(filepath.Base(p), rest)
			p = parent
		}
	}

	return isAncestorOrSelf(ofWhomReal, cur)
}
