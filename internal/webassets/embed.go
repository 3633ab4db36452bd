package webassets

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
)

// public/ must contain index.html, the tests and the default site depend on it
//
//go:embed public
var embedded embed.FS

// DefaultFS returns the embedded default asset directory.
func DefaultFS() fs.FS {
	sub, err := fs.Sub(embedded, "public")
	if err != nil {
		panic(fmt.Errorf("webassets: public subfs: %w", err))
	}
	return sub
}

// PublicFS returns dir as an fs.FS, or the embedded default when dir is empty.
func PublicFS(dir string) fs.FS {
	if dir == "" {
		return DefaultFS()
	}
	return os.DirFS(dir)
}

// HasFile reports whether name exists as a regular file in fsys.
func HasFile(fsys fs.FS, name string) bool {
	info, err := fs.Stat(fsys, name)
	return err == nil && info.Mode().IsRegular()
}
