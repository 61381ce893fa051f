package gateway

import (
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/quarterdeck/deck/internal/logger"
	"github.com/quarterdeck/deck/internal/registry"
	"github.com/quarterdeck/deck/internal/utils"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Origin was already vetted by host validation; the upstream owns
	// any finer-grained policy.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleUpgrade resolves a websocket-capable service by Host and
// bridges frames between the client and its upstream. Requests with
// no matching service get a raw 404 on the hijacked connection so the
// client sees an immediate close instead of a redirect it cannot follow.
func (g *Gateway) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	svc := g.upgradeTarget(r.Host)
	if svc == nil {
		g.rawNotFound(w, r)
		return
	}

	backendURL := url.URL{
		Scheme:   "ws",
		Host:     svc.Proxy.Target,
		Path:     path.Join("/", svc.Proxy.Path, r.URL.Path),
		RawQuery: r.URL.RawQuery,
	}

	header := http.Header{}
	for _, k := range []string{"Cookie", "Authorization", "X-Forwarded-For"} {
		if v := r.Header.Get(k); v != "" {
			header.Set(k, v)
		}
	}
	if protos := r.Header.Get("Sec-Websocket-Protocol"); protos != "" {
		header.Set("Sec-Websocket-Protocol", protos)
	}

	backend, resp, err := websocket.DefaultDialer.DialContext(r.Context(), backendURL.String(), header)
	if err != nil {
		g.log.Error("wsproxy: dial upstream",
			logger.String("service", svc.Name),
			logger.String("target", svc.Proxy.Target),
			logger.Error(err))
		http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		return
	}
	defer utils.Close(backend)

	var respHeader http.Header
	if resp != nil {
		if proto := resp.Header.Get("Sec-Websocket-Protocol"); proto != "" {
			respHeader = http.Header{"Sec-Websocket-Protocol": {proto}}
		}
	}

	client, err := upgrader.Upgrade(w, r, respHeader)
	if err != nil {
		// Upgrade already wrote the error response.
		g.log.Warn("wsproxy: client upgrade failed",
			logger.String("service", svc.Name),
			logger.Error(err))
		return
	}
	defer utils.Close(client)

	errc := make(chan error, 2)
	go pumpFrames(backend, client, errc)
	go pumpFrames(client, backend, errc)
	<-errc
}

// upgradeTarget maps a request Host onto a websocket-enabled proxy
// service, or nil when no such service is registered.
func (g *Gateway) upgradeTarget(host string) *registry.Service {
	hostNoPort := strings.ToLower(utils.ParseHostNoPort(host))
	suffix := "." + g.domain
	if !strings.HasSuffix(hostNoPort, suffix) {
		return nil
	}
	name := strings.TrimSuffix(hostNoPort, suffix)
	svc, ok := g.reg.Lookup(name)
	if !ok || svc.Type != registry.TypeProxy || !svc.Proxy.WebSocket {
		return nil
	}
	return svc
}

func pumpFrames(dst, src *websocket.Conn, errc chan<- error) {
	for {
		mt, msg, err := src.ReadMessage()
		if err != nil {
			errc <- err
			return
		}
		if err := dst.WriteMessage(mt, msg); err != nil {
			errc <- err
			return
		}
	}
}

// rawNotFound rejects an upgrade attempt on the wire. Hijacking skips
// the normal response path, which would otherwise negotiate keep-alive
// with a client that is waiting for a 101.
func (g *Gateway) rawNotFound(w http.ResponseWriter, r *http.Request) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		http.NotFound(w, r)
		return
	}
	conn, _, err := hj.Hijack()
	if err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	_, _ = conn.Write([]byte("HTTP/1.1 404 Not Found\r\nConnection: close\r\nContent-Length: 0\r\n\r\n"))
	_ = conn.Close()
}
