// Package sandbox constrains every filesystem access to descendants of a
// fixed root directory. Resolve is the only way to turn untrusted request
// paths into filesystem locations; no other package may fabricate one.
package sandbox

import (
	"errors"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
)

var (
	// ErrPathEscape means the canonical path landed outside the root.
	ErrPathEscape = errors.New("path escapes root")
	// ErrNotFound means the path does not exist on disk.
	ErrNotFound = errors.New("path not found")
)

// Root is the canonicalized directory everything is served from.
type Root struct {
	abs string
}

// NewRoot canonicalizes dir (absolute, symlinks resolved) and verifies it
// is an existing directory.
func NewRoot(dir string) (*Root, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	abs, err = filepath.EvalSymlinks(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	st, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if !st.IsDir() {
		return nil, errors.New("root is not a directory")
	}
	return &Root{abs: abs}, nil
}

// Dir returns the canonical absolute root directory.
func (r *Root) Dir() string { return r.abs }

// Path returns the root itself as a resolved Path.
func (r *Root) Path() Path { return Path{abs: r.abs, rel: ""} }

// Contains reports whether a cleaned absolute path is the root or one of
// its descendants. The check is separator-aware; it never mistakes
// /srv/share2 for a child of /srv/share.
func (r *Root) Contains(abs string) bool {
	abs = filepath.Clean(abs)
	return abs == r.abs || strings.HasPrefix(abs, r.abs+string(filepath.Separator))
}

// Path is a validated absolute location inside a Root. The zero value is
// invalid; values come only from Resolve or Root.Path.
type Path struct {
	abs string
	rel string
}

// Abs returns the canonical absolute filesystem path.
func (p Path) Abs() string { return p.abs }

// Rel returns the slash-separated path relative to the root ("" for the
// root itself).
func (p Path) Rel() string { return p.rel }

// Base returns the final path component, or the root directory's name for
// the root itself.
func (p Path) Base() string { return filepath.Base(p.abs) }

// Resolve maps a request-relative path (possibly percent-encoded, possibly
// hostile) to a Path inside root. The canonical form is computed with
// symlinks resolved and then checked for containment, so neither ".."
// segments nor symlink indirection can escape. An empty decoded path
// resolves to the root itself without touching the filesystem.
func Resolve(root *Root, reqPath string) (Path, error) {
	rel := cleanRequestPath(reqPath)
	if rel == "" {
		return root.Path(), nil
	}
	if strings.Contains(rel, "\x00") {
		return Path{}, ErrPathEscape
	}

	joined := filepath.Join(root.abs, filepath.FromSlash(rel))
	canonical, err := filepath.EvalSymlinks(joined)
	if err != nil {
		if os.IsNotExist(err) {
			return Path{}, ErrNotFound
		}
		return Path{}, err
	}
	if !root.Contains(canonical) {
		return Path{}, ErrPathEscape
	}

	crel, err := filepath.Rel(root.abs, canonical)
	if err != nil || crel == "." {
		crel = ""
	}
	return Path{abs: canonical, rel: filepath.ToSlash(crel)}, nil
}

// cleanRequestPath percent-decodes a request path and reduces it to a
// slash-based relative form ("" means root). Undecodable input is kept
// verbatim; a hostile path that survives decoding still has to pass the
// containment check in Resolve.
func cleanRequestPath(p string) string {
	if decoded, err := url.PathUnescape(p); err == nil {
		p = decoded
	}
	p = strings.TrimSpace(p)
	if p == "" || p == "." || p == "/" {
		return ""
	}
	p = strings.ReplaceAll(p, "\\", "/")
	p = path.Clean("/" + p) // force absolute for stable cleaning
	p = strings.TrimPrefix(p, "/")
	if p == "." {
		return ""
	}
	return p
}
