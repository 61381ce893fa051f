package gateway

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
)

// Fingerprinted build artifacts never change in place, so clients may
// cache them forever. HTML is the app shell and must always revalidate.
const (
	cacheImmutable = "public, max-age=31536000, immutable"
	cacheNever     = "no-cache"
)

var immutableExts = map[string]bool{
	".js":    true,
	".css":   true,
	".woff":  true,
	".woff2": true,
	".png":   true,
	".jpg":   true,
	".svg":   true,
	".webp":  true,
	".ico":   true,
	".map":   true,
}

// spaHandler serves a single-page app build: real files as-is with
// aggressive caching, everything else falls through to the app shell
// so client-side routes deep-link correctly.
func (g *Gateway) spaHandler(publicDir, staticDir, globalDir string) http.Handler {
	r := chi.NewRouter()
	r.Handle("/static/*", http.StripPrefix("/static", g.assetServer(staticDir)))
	r.Handle("/global/*", http.StripPrefix("/global", g.assetServer(globalDir)))
	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		g.serveSPA(w, req, publicDir)
	})
	return r
}

func (g *Gateway) serveSPA(w http.ResponseWriter, r *http.Request, publicDir string) {
	full := resolveFile(publicDir, r.URL.Path)

	if info, err := os.Stat(full); err == nil && !info.IsDir() {
		ext := strings.ToLower(filepath.Ext(full))
		if immutableExts[ext] {
			w.Header().Set("Cache-Control", cacheImmutable)
		} else {
			w.Header().Set("Cache-Control", cacheNever)
		}
		http.ServeFile(w, r, full)
		return
	}

	shell := filepath.Join(publicDir, "index.html")
	if _, err := os.Stat(shell); err != nil {
		g.serveNotFound(w, r, publicDir)
		return
	}
	w.Header().Set("Cache-Control", cacheNever)
	http.ServeFile(w, r, shell)
}
