// Package dashboard serves the dashboard bundle and its bootstrap config.
package dashboard

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/klauspost/compress/gzhttp"

	httperrors "3tcapital/telescope/internal/infrastructure/http"
)

// CacheControl is sent with every static asset.
const CacheControl = "public, max-age=86400"

//go:embed dist
var bundle embed.FS

// Config selects where the bundle comes from.
type Config struct {
	RoutePrefix string
	// UIDir overrides the embedded bundle with files on disk.
	UIDir string
}

// Handler serves /telescope-config and the static UI.
type Handler struct {
	prefix string
	files  fs.FS
	static http.Handler
	log    *slog.Logger
}

// NewHandler fails when UIDir is set but is not a readable directory.
func NewHandler(cfg Config, log *slog.Logger) (*Handler, error) {
	var files fs.FS
	if cfg.UIDir != "" {
		info, err := os.Stat(cfg.UIDir)
		if err != nil {
			return nil, fmt.Errorf("dashboard ui dir: %w", err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("dashboard ui dir %s is not a directory", cfg.UIDir)
		}
		files = os.DirFS(cfg.UIDir)
	} else {
		sub, err := fs.Sub(bundle, "dist")
		if err != nil {
			return nil, fmt.Errorf("embedded dashboard bundle: %w", err)
		}
		files = sub
	}

	h := &Handler{prefix: cfg.RoutePrefix, files: files, log: log}
	h.static = gzhttp.GzipHandler(http.HandlerFunc(h.serveFile))
	return h, nil
}

type configResponse struct {
	RoutePrefix string `json:"routePrefix"`
}

// Config handles GET /telescope-config.
func (h *Handler) Config(w http.ResponseWriter, r *http.Request) {
	httperrors.WriteJSON(w, http.StatusOK, configResponse{RoutePrefix: h.prefix}, h.log)
}

// Static handles GET {prefix}/*. Unknown paths get index.html so client-side
// routes survive a reload.
func (h *Handler) Static(w http.ResponseWriter, r *http.Request) {
	h.static.ServeHTTP(w, r)
}

func (h *Handler) serveFile(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(path.Clean("/"+chi.URLParam(r, "*")), "/")
	if name == "" || !h.isFile(name) {
		name = "index.html"
	}
	if !h.isFile(name) {
		httperrors.WriteError(w, http.StatusNotFound, "Dashboard bundle not found", nil, h.log)
		return
	}

	w.Header().Set("Cache-Control", CacheControl)
	http.ServeFileFS(w, r, h.files, name)
}

func (h *Handler) isFile(name string) bool {
	info, err := fs.Stat(h.files, name)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			h.log.Warn("Failed to stat dashboard asset", "name", name, "error", err)
		}
		return false
	}
	return !info.IsDir()
}
