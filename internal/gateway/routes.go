package gateway

import (
	"net/http"
	"path/filepath"

	"github.com/quarterdeck/deck/internal/config"
	"github.com/quarterdeck/deck/internal/registry"
)

// buildRoutes compiles one handler per service. The registry stays
// immutable; runtime proxy/handler objects live only in this table.
func (g *Gateway) buildRoutes(cfg *config.Config) {
	g.routes = make(map[string]http.Handler, g.reg.Len())

	for _, svc := range g.reg.All() {
		publicDir := filepath.Join(cfg.SitesDir, svc.Name)

		var h http.Handler
		switch svc.Type {
		case registry.TypeIndex:
			h = g.indexHandler(publicDir, cfg.StaticDir, cfg.GlobalDir)
		case registry.TypeSPA:
			h = g.spaHandler(publicDir, cfg.StaticDir, cfg.GlobalDir)
		case registry.TypeDirlist:
			h = g.dirlistHandler(svc, publicDir)
		case registry.TypeProxy:
			h = g.proxyHandler(svc)
		}

		if svc.RequireAuth && g.sessions != nil && g.sessions.Enabled() {
			h = g.sessions.Gate(h)
		}

		g.routes[svc.Name] = h
	}

	// The bare domain serves the gateway's own landing pages.
	g.root = g.indexHandler(filepath.Join(cfg.SitesDir, "root"), cfg.StaticDir, cfg.GlobalDir)
}
