package gateway

import (
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
)

// resolveFile maps a request path onto a directory without ever
// escaping it. The cleaned path is rooted before joining, so any
// number of ".." segments collapses back to the directory itself.
func resolveFile(dir, urlPath string) string {
	clean := path.Clean("/" + strings.TrimPrefix(urlPath, "/"))
	return filepath.Join(dir, filepath.FromSlash(clean))
}

// indexHandler serves a public directory with shared /static and
// /global asset mounts and a custom 404 page.
func (g *Gateway) indexHandler(publicDir, staticDir, globalDir string) http.Handler {
	r := chi.NewRouter()
	r.Handle("/static/*", http.StripPrefix("/static", g.assetServer(staticDir)))
	r.Handle("/global/*", http.StripPrefix("/global", g.assetServer(globalDir)))
	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		g.servePublic(w, req, publicDir)
	})
	return r
}

// assetServer serves files out of a shared asset directory, refusing
// to render directory listings.
func (g *Gateway) assetServer(dir string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		full := resolveFile(dir, r.URL.Path)
		info, err := os.Stat(full)
		if err != nil || info.IsDir() {
			http.NotFound(w, r)
			return
		}
		http.ServeFile(w, r, full)
	})
}

func (g *Gateway) servePublic(w http.ResponseWriter, r *http.Request, publicDir string) {
	full := resolveFile(publicDir, r.URL.Path)

	info, err := os.Stat(full)
	if err == nil && info.IsDir() {
		full = filepath.Join(full, "index.html")
		info, err = os.Stat(full)
	}
	if err != nil || info.IsDir() {
		g.serveNotFound(w, r, publicDir)
		return
	}
	http.ServeFile(w, r, full)
}

// serveNotFound prefers the site's own 404.html over the stock reply.
func (g *Gateway) serveNotFound(w http.ResponseWriter, r *http.Request, publicDir string) {
	page := filepath.Join(publicDir, "404.html")
	body, err := os.ReadFile(page)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	_, _ = w.Write(body)
}
