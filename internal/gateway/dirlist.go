package gateway

import (
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"html/template"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/quarterdeck/deck/internal/logger"
	"github.com/quarterdeck/deck/internal/registry"
)

const protectedPrefix = "/protected"

var listingTmpl = template.Must(template.New("listing").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Index of {{.Path}}</title>
<style>body{font-family:monospace;margin:2em}td{padding:0 1.5em 0 0}</style>
</head>
<body>
<h1>Index of {{.Path}}</h1>
<table>
{{if .Parent}}<tr><td><a href="{{.Parent}}">../</a></td><td></td><td></td></tr>{{end}}
{{range .Entries}}<tr><td><a href="{{.Href}}">{{.Name}}</a></td><td>{{.Size}}</td><td>{{.ModTime}}</td></tr>
{{end}}</table>
</body>
</html>
`))

type listingEntry struct {
	Name    string
	Href    string
	Size    string
	ModTime string
}

// dirlistHandler serves a browsable file tree. The /protected subtree
// is gated behind HTTP Basic Auth when credentials are configured.
func (g *Gateway) dirlistHandler(svc *registry.Service, publicDir string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		urlPath := path.Clean("/" + strings.TrimPrefix(r.URL.Path, "/"))

		if urlPath == protectedPrefix || strings.HasPrefix(urlPath, protectedPrefix+"/") {
			if !svc.HasBasicAuth() {
				http.NotFound(w, r)
				return
			}
			if !checkBasicAuth(r, svc.BasicUser, svc.BasicPass) {
				w.Header().Set("WWW-Authenticate", `Basic realm="protected"`)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}

		full := resolveFile(publicDir, urlPath)
		info, err := os.Stat(full)
		if err != nil {
			http.NotFound(w, r)
			return
		}
		if info.IsDir() {
			g.serveListing(w, r, full, urlPath)
			return
		}
		http.ServeFile(w, r, full)
	})
}

// checkBasicAuth compares hashes so both mismatch branches take the
// same time regardless of credential length.
func checkBasicAuth(r *http.Request, user, pass string) bool {
	u, p, ok := r.BasicAuth()
	if !ok {
		return false
	}
	uh, ph := sha256.Sum256([]byte(u)), sha256.Sum256([]byte(p))
	wantU, wantP := sha256.Sum256([]byte(user)), sha256.Sum256([]byte(pass))
	return subtle.ConstantTimeCompare(uh[:], wantU[:]) == 1 &&
		subtle.ConstantTimeCompare(ph[:], wantP[:]) == 1
}

func (g *Gateway) serveListing(w http.ResponseWriter, r *http.Request, dir, urlPath string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].IsDir() != entries[j].IsDir() {
			return entries[i].IsDir()
		}
		return entries[i].Name() < entries[j].Name()
	})

	view := struct {
		Path    string
		Parent  string
		Entries []listingEntry
	}{Path: urlPath}
	if urlPath != "/" {
		view.Parent = path.Dir(urlPath)
	}

	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}
		name := e.Name()
		href := path.Join(urlPath, name)
		size, mod := "-", ""
		if info, err := e.Info(); err == nil {
			mod = info.ModTime().Format("2006-01-02 15:04")
			if !e.IsDir() {
				size = humanSize(info.Size())
			}
		}
		if e.IsDir() {
			name += "/"
			href += "/"
		}
		view.Entries = append(view.Entries, listingEntry{Name: name, Href: href, Size: size, ModTime: mod})
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := listingTmpl.Execute(w, view); err != nil {
		g.log.Error("dirlist: render listing", logger.String("dir", filepath.Base(dir)), logger.Error(err))
	}
}

func humanSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
