// Package webui serves the bundled single-page UI as the fallback handler.
package webui

import (
	"embed"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"os"
	"path"
	"strings"

	"github.com/hashicorp/go-hclog"
)

//go:embed dist
var dist embed.FS

// IndexFile is served for the root and for unknown extension-less paths so
// client-side routes resolve.
const IndexFile = "index.html"

// Embedded returns the UI bundled into the binary.
func Embedded() fs.FS {
	sub, err := fs.Sub(dist, "dist")
	if err != nil {
		panic("webui: embedded dist missing: " + err.Error())
	}
	return sub
}

// FS returns os.DirFS(dir) when dir is set, otherwise the embedded UI.
func FS(dir string) fs.FS {
	if dir == "" {
		return Embedded()
	}
	return os.DirFS(dir)
}

// Handler serves files from an fs.FS.
type Handler struct {
	fsys fs.FS
	log  hclog.Logger
}

// NewHandler returns a Handler over fsys.
func NewHandler(fsys fs.FS, logger hclog.Logger) *Handler {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Handler{fsys: fsys, log: logger}
}

// ServeHTTP resolves the request path:
//   - "" and "index.html" serve the index document;
//   - an existing file is served with the content type of its extension;
//   - a missing path containing "." is a plain-text 404;
//   - any other missing path serves the index document.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	name := strings.TrimPrefix(path.Clean("/"+r.URL.Path), "/")
	if name == "" || name == IndexFile {
		h.serveIndex(w, r)
		return
	}

	data, err := h.read(name)
	switch {
	case err == nil:
		h.write(w, r, contentType(name), data)
	case strings.Contains(name, "."):
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, "404")
	default:
		h.serveIndex(w, r)
	}
}

func (h *Handler) serveIndex(w http.ResponseWriter, r *http.Request) {
	data, err := h.read(IndexFile)
	if err != nil {
		h.log.Error("ui index document unavailable", "error", err)
		http.Error(w, "ui not available", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Cache-Control", "no-cache")
	h.write(w, r, "text/html; charset=utf-8", data)
}

// read returns the file's contents; directories count as missing.
func (h *Handler) read(name string) ([]byte, error) {
	info, err := fs.Stat(h.fsys, name)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fs.ErrNotExist
	}
	return fs.ReadFile(h.fsys, name)
}

func (h *Handler) write(w http.ResponseWriter, r *http.Request, ctype string, data []byte) {
	w.Header().Set("Content-Type", ctype)
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := w.Write(data); err != nil {
		h.log.Debug("ui write failed", "path", r.URL.Path, "error", err)
	}
}

func contentType(name string) string {
	if t := mime.TypeByExtension(path.Ext(name)); t != "" {
		return t
	}
	return "application/octet-stream"
}
