package sitehandler

import (
	"io/fs"
	"path"
	"strings"
)

// resolvePath maps a URL path to a file within fsys.
//
// Returns:
//   - file: relative file path within fsys (no leading slash)
//   - redirectTo: if non-empty, caller should redirect to this URL path
//   - ok: whether the mapping is valid/found
//
// Hidden segments (leading '.') are never served, the asset directory may
// hold .git or editor dotfiles.
func resolvePath(urlPath string, fsys fs.FS) (file string, redirectTo string, ok bool) {
	p := urlPath
	if p == "" {
		p = "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}

	if strings.ContainsAny(p, "\x00\\") || hasHiddenSegment(p) {
		return "", "", false
	}

	trailingSlash := strings.HasSuffix(p, "/")
	clean := path.Clean(p)
	if trailingSlash && clean != "/" {
		clean += "/"
	}
	// repeated slashes are the only thing Clean can still change here
	if clean != p {
		return "", "", false
	}

	// directory -> <dir>/index.html
	if strings.HasSuffix(clean, "/") {
		name := strings.TrimPrefix(clean, "/") + "index.html"
		if existsFile(fsys, name) {
			return name, "", true
		}
		return "", "", false
	}

	name := strings.TrimPrefix(clean, "/")
	if existsFile(fsys, name) {
		return name, "", true
	}

	// directory without trailing slash, redirect to the canonical url so relative links resolve
	if path.Ext(clean) == "" && existsFile(fsys, name+"/index.html") {
		return "", clean + "/", true
	}

	return "", "", false
}

// hasHiddenSegment reports whether any segment is ".", ".." or starts with "."
func hasHiddenSegment(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if strings.HasPrefix(seg, ".") {
			return true
		}
	}
	return false
}

func existsFile(fsys fs.FS, name string) bool {
	if name == "" || !fs.ValidPath(name) {
		return false
	}
	info, err := fs.Stat(fsys, name)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular()
}
