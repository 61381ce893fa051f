package gateway

import (
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/quarterdeck/deck/internal/logger"
	"github.com/quarterdeck/deck/internal/registry"
)

// proxyHandler builds the reverse proxy for one upstream. Responses
// are streamed, not buffered, so SSE and long polls work through it.
func (g *Gateway) proxyHandler(svc *registry.Service) http.Handler {
	target := &url.URL{
		Scheme: "http",
		Host:   svc.Proxy.Target,
		Path:   svc.Proxy.Path,
	}

	rp := httputil.NewSingleHostReverseProxy(target)
	rp.FlushInterval = -1

	name := svc.Name
	rp.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		g.log.Error("proxy: upstream error",
			logger.String("service", name),
			logger.String("target", target.Host),
			logger.String("path", r.URL.Path),
			logger.Error(err))
		http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
	}

	return rp
}
