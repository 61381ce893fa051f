package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/quarterdeck/deck/internal/config"
	"github.com/quarterdeck/deck/internal/healthcheck"
	"github.com/quarterdeck/deck/internal/logger"
)

// Server owns the gateway's listeners: the public http listener, the
// public https listener (production only) and a loopback admin
// listener for metrics and health.
type Server struct {
	httpSrv  *http.Server
	httpsSrv *http.Server // nil outside production
	adminSrv *http.Server
	tlsCert  string
	tlsKey   string
	log      logger.Logger
}

// New builds the listeners around the gateway handler.
func NewServer(cfg *config.Config, g *Gateway, disp *healthcheck.Dispatcher, log logger.Logger) *Server {
	s := &Server{
		httpSrv: &http.Server{
			Addr:              cfg.ListenHTTP,
			Handler:           g,
			ReadHeaderTimeout: 5 * time.Second,
			IdleTimeout:       60 * time.Second,
			MaxHeaderBytes:    1 << 20,
		},
		adminSrv: &http.Server{
			Addr:              cfg.ListenAdmin,
			Handler:           adminMux(disp),
			ReadHeaderTimeout: 5 * time.Second,
		},
		log: log,
	}

	if cfg.IsProduction() {
		s.httpsSrv = &http.Server{
			Addr:              cfg.ListenHTTPS,
			Handler:           g,
			ReadHeaderTimeout: 5 * time.Second,
			IdleTimeout:       60 * time.Second,
			MaxHeaderBytes:    1 << 20,
		}
		s.tlsCert = cfg.TLSCert
		s.tlsKey = cfg.TLSKey
	}

	return s
}

// adminMux exposes operational endpoints on the loopback listener.
func adminMux(disp *healthcheck.Dispatcher) http.Handler {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		type entry struct {
			Service string            `json:"service"`
			Healthy bool              `json:"healthy"`
			Tag     string            `json:"tag"`
			Meta    map[string]string `json:"meta,omitempty"`
			Error   string            `json:"error,omitempty"`
		}
		view := struct {
			Status   string  `json:"status"`
			Services []entry `json:"services"`
		}{Status: "ok", Services: []entry{}}

		for _, rep := range disp.Snapshot() {
			e := entry{Service: rep.Service, Healthy: rep.Healthy, Tag: rep.Tag, Meta: rep.Meta}
			if rep.Err != nil {
				e.Error = rep.Err.Error()
			}
			view.Services = append(view.Services, e)
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(view)
	})
	return r
}

// Start launches every listener. It returns on the first listener
// error; graceful shutdown surfaces as a nil error.
func (s *Server) Start() error {
	errCh := make(chan error, 3)

	go func() {
		s.log.Infof("http listening on %s", s.httpSrv.Addr)
		errCh <- s.httpSrv.ListenAndServe()
	}()
	go func() {
		s.log.Infof("admin listening on %s", s.adminSrv.Addr)
		errCh <- s.adminSrv.ListenAndServe()
	}()
	if s.httpsSrv != nil {
		go func() {
			s.log.Infof("https listening on %s", s.httpsSrv.Addr)
			errCh <- s.httpsSrv.ListenAndServeTLS(s.tlsCert, s.tlsKey)
		}()
	}

	err := <-errCh
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop shuts every listener down within the context deadline.
func (s *Server) Stop(ctx context.Context) error {
	s.log.Info("servers shutting down...")

	var firstErr error
	for _, srv := range []*http.Server{s.httpSrv, s.httpsSrv, s.adminSrv} {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
