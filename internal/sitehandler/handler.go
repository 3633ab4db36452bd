package sitehandler

import (
	"bytes"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"path"

	"github.com/keithlinneman/linnemanlabs-edge/internal/log"
	"github.com/keithlinneman/linnemanlabs-edge/internal/xerrors"
)

// Handler serves files from the asset directory. It is mounted as the
// router's fallback, so it only ever sees paths no concrete route claimed.
type Handler struct {
	opts Options
}

func New(opts Options) (*Handler, error) {
	opts.setDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return &Handler{opts: opts}, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// only GET/HEAD resolve to files, anything else is simply not found.
	// counted by the metrics middleware, not logged
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		h.serveNotFound(w, r)
		return
	}

	file, redirectTo, found := resolvePath(r.URL.Path, h.opts.FS)
	if redirectTo != "" {
		// 308 keeps the method
		http.Redirect(w, r, redirectTo, http.StatusPermanentRedirect)
		return
	}
	if !found {
		h.serveNotFound(w, r)
		return
	}

	if cc := cacheControlForFile(file, &h.opts); cc != "" {
		w.Header().Set("Cache-Control", cc)
	}

	if err := serveFile(w, r, h.opts.FS, file); err != nil {
		// raced with a delete or a permission problem on disk
		w.Header().Del("Cache-Control")
		log.FromContext(r.Context()).Error(r.Context(), err, "serve static file", "file", file)
		h.serveNotFound(w, r)
	}
}

func (h *Handler) serveNotFound(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")

	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		if body, err := fs.ReadFile(h.opts.FS, h.opts.Site404File); err == nil {
			writeBody(w, r, http.StatusNotFound, contentTypeFor(h.opts.Site404File, body), body)
			return
		}
	}

	writeBody(w, r, http.StatusNotFound, "text/plain; charset=utf-8", []byte("404 page not found"))
}

// serveFile streams name from fsys with content type, Last-Modified and range
// support. ServeFileFS is not used because it redirects any path ending in
// /index.html, which would make GET /index.html a 301 instead of the file.
func serveFile(w http.ResponseWriter, r *http.Request, fsys fs.FS, name string) error {
	f, err := fsys.Open(name)
	if err != nil {
		return xerrors.Wrapf(err, "open %s", name)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return xerrors.Wrapf(err, "stat %s", name)
	}

	rs, ok := f.(io.ReadSeeker)
	if !ok {
		data, err := io.ReadAll(f)
		if err != nil {
			return xerrors.Wrapf(err, "read %s", name)
		}
		rs = bytes.NewReader(data)
	}

	http.ServeContent(w, r, path.Base(name), info.ModTime(), rs)
	return nil
}

// writeBody writes a complete in-memory response, HEAD gets headers only
func writeBody(w http.ResponseWriter, r *http.Request, status int, contentType string, body []byte) {
	h := w.Header()
	h.Set("Content-Type", contentType)
	h.Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if r.Method != http.MethodHead {
		_, _ = w.Write(body)
	}
}

func contentTypeFor(name string, body []byte) string {
	if ct := mime.TypeByExtension(path.Ext(name)); ct != "" {
		return ct
	}
	return http.DetectContentType(body)
}
