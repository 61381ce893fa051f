// Package gateway implements the per-request pipeline: blocklist
// short-circuit, bot-defense scoring, host validation and redirect
// rules, then subdomain dispatch to the matched service handler.
package gateway

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/quarterdeck/deck/internal/botdefense"
	"github.com/quarterdeck/deck/internal/config"
	"github.com/quarterdeck/deck/internal/logger"
	"github.com/quarterdeck/deck/internal/metrics"
	"github.com/quarterdeck/deck/internal/registry"
	"github.com/quarterdeck/deck/internal/utils"
)

// acmeChallengePath must stay reachable over plain http; the ACME
// client answering it lives outside the gateway.
const acmeChallengePath = "/.well-known/acme-challenge/"

// Gateway is the root handler for both listeners. All routing state is
// compiled at construction; requests only read it.
type Gateway struct {
	domain           string
	corsExemptPrefix string
	enforceSecure    bool // false in local/test run modes
	trustProxy       bool

	reg       *registry.Registry
	scorer    *botdefense.Scorer
	blocklist *botdefense.Blocklist
	sessions  *SessionManager
	routes    map[string]http.Handler // service name -> compiled handler
	root      http.Handler            // bare-domain handler
	log       logger.Logger
}

// New compiles the routing table from the registry and wires the
// pipeline dependencies.
func New(cfg *config.Config, reg *registry.Registry, scorer *botdefense.Scorer,
	blocklist *botdefense.Blocklist, sessions *SessionManager, log logger.Logger) *Gateway {

	g := &Gateway{
		domain:           cfg.Domain,
		corsExemptPrefix: cfg.CORSExemptPrefix,
		enforceSecure:    cfg.IsProduction(),
		trustProxy:       cfg.TrustProxy,
		reg:              reg,
		scorer:           scorer,
		blocklist:        blocklist,
		sessions:         sessions,
		log:              log,
	}
	g.buildRoutes(cfg)
	return g
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	addr := utils.ClientIP(r, g.trustProxy)

	// 1. Blocklist short-circuit: no routing, no scoring.
	if g.blocklist.Contains(addr) {
		metrics.BlockedTotal.WithLabelValues("blocklist").Inc()
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return
	}

	// 2. Bot-defense scoring. A block decision persists the address
	// and still rejects this request.
	decision := g.scorer.Evaluate(r.Context(), addr, r.Host, r.URL.RequestURI())
	if decision.Block {
		reason := "threshold"
		if decision.Escalated {
			reason = "escalation"
		}
		metrics.BlockedTotal.WithLabelValues(reason).Inc()
		metrics.SuspicionTracked.Set(float64(g.scorer.Tracked()))
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return
	}
	if decision.Suspicious {
		metrics.SuspicionTracked.Set(float64(g.scorer.Tracked()))
	}

	// 3. WebSocket upgrades route by Host before normal dispatch.
	if isUpgradeRequest(r) {
		g.handleUpgrade(w, r)
		return
	}

	// 4. Host validation and protocol/redirect rules.
	dec := g.decide(r.Host, r.URL.Path, requestIsSecure(r))
	if dec.redirect != "" {
		http.Redirect(w, r, dec.redirect, http.StatusFound)
		return
	}

	// 5. Dispatch to the matched service handler (the session gate is
	// compiled into gated handlers).
	handler := g.root
	serviceLabel := "root"
	if dec.service != nil {
		handler = g.routes[dec.service.Name]
		serviceLabel = dec.service.Name
	}

	sw := &statusWriter{ResponseWriter: w}
	handler.ServeHTTP(sw, r)

	metrics.RequestsTotal.WithLabelValues(serviceLabel, strconv.Itoa(sw.Status())).Inc()
	g.log.Info("http_request",
		logger.String("method", r.Method),
		logger.String("host", r.Host),
		logger.String("path", r.URL.Path),
		logger.String("service", serviceLabel),
		logger.Int("status", sw.Status()),
		logger.Int("bytes", sw.bytes),
		logger.Duration("duration", time.Since(start)),
		logger.String("remote_ip", addr))
}

// requestIsSecure reports whether the request arrived encrypted,
// either directly or through a terminating proxy.
func requestIsSecure(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}

func isUpgradeRequest(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket") &&
		strings.Contains(strings.ToLower(r.Header.Get("Connection")), "upgrade")
}

// statusWriter captures status code and bytes written.
type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *statusWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	// Ensure status is set if handler wrote body without calling WriteHeader.
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

func (w *statusWriter) Status() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}

// Unwrap exposes the underlying writer to http.ResponseController so
// handlers behind the wrapper can still flush and hijack. Proxied
// event streams stall without it.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
