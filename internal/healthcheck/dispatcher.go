// Package healthcheck polls every configured service on a fixed
// schedule, over three wire protocols, and normalizes the outcomes
// into per-service reports.
package healthcheck

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/quarterdeck/deck/internal/logger"
	"github.com/quarterdeck/deck/internal/metrics"
	"github.com/quarterdeck/deck/internal/odalpapi"
	"github.com/quarterdeck/deck/internal/registry"
)

// Dispatcher runs the scheduled health checks. One check per service
// per tick, fanned out concurrently; a slow service never delays the
// others.
type Dispatcher struct {
	reg     *registry.Registry
	plugins *Plugins
	odal    *odalpapi.Client
	pinger  *Pinger
	log     logger.Logger

	httpClient *http.Client
	interval   time.Duration
	timeout    time.Duration
	production bool

	mu          sync.Mutex
	lastRun     map[string]time.Time
	lastReports []Report

	stopCh chan struct{}
}

// Options configures a Dispatcher.
type Options struct {
	Registry   *registry.Registry
	Plugins    *Plugins
	Odal       *odalpapi.Client
	Pinger     *Pinger
	Logger     logger.Logger
	Interval   time.Duration // global tick, ex: 1h
	Timeout    time.Duration // default per-check timeout
	Production bool          // fire dead-man pings only in production
}

// New builds a Dispatcher and validates every descriptor's plugin
// references up front, so a typo'd parser name is logged at startup
// instead of discovered one tick later.
func New(opts Options) *Dispatcher {
	d := &Dispatcher{
		reg:        opts.Registry,
		plugins:    opts.Plugins,
		odal:       opts.Odal,
		pinger:     opts.Pinger,
		log:        opts.Logger,
		httpClient: &http.Client{},
		interval:   opts.Interval,
		timeout:    opts.Timeout,
		production: opts.Production,
		lastRun:    make(map[string]time.Time),
		stopCh:     make(chan struct{}),
	}
	if d.interval <= 0 {
		d.interval = time.Hour
	}
	if d.timeout <= 0 {
		d.timeout = 10 * time.Second
	}

	for _, svc := range d.reg.All() {
		hc := svc.Healthcheck
		if hc == nil {
			continue
		}
		if hc.Type == registry.CheckHTTP {
			if _, ok := d.plugins.Parser(hc.Parser); !ok {
				d.log.Error("healthcheck references unknown parser",
					logger.String("service", svc.Name),
					logger.String("parser", hc.Parser))
			}
		}
		if hc.Extractor != "" {
			if _, ok := d.plugins.Extractor(hc.Extractor); !ok {
				d.log.Error("healthcheck references unknown extractor",
					logger.String("service", svc.Name),
					logger.String("extractor", hc.Extractor))
			}
		}
	}

	return d
}

// Start runs one round immediately, then ticks at the configured
// interval until Stop or context cancellation.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.RunChecks(ctx)

	ticker := time.NewTicker(d.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				d.RunChecks(ctx)
			case <-d.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}

// Stop stops the dispatcher.
func (d *Dispatcher) Stop() {
	close(d.stopCh)
}

// RunChecks dispatches one check per eligible service concurrently and
// returns the collected reports. Order is not guaranteed.
func (d *Dispatcher) RunChecks(ctx context.Context) []Report {
	services := d.reg.All()
	now := time.Now()

	var wg sync.WaitGroup
	var mu sync.Mutex
	var reports []Report

	for _, svc := range services {
		if svc.Healthcheck == nil {
			continue
		}
		if !d.due(svc, now) {
			continue
		}

		wg.Add(1)
		go func(svc *registry.Service) {
			defer wg.Done()
			report := d.check(ctx, svc)
			d.finish(ctx, report)
			mu.Lock()
			reports = append(reports, report)
			mu.Unlock()
		}(svc)
	}
	wg.Wait()

	d.mu.Lock()
	d.lastReports = reports
	d.mu.Unlock()

	return reports
}

// Snapshot returns the reports from the most recent round.
func (d *Dispatcher) Snapshot() []Report {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Report, len(d.lastReports))
	copy(out, d.lastReports)
	return out
}

// due honors a per-service poll interval longer than the global tick.
func (d *Dispatcher) due(svc *registry.Service, now time.Time) bool {
	hc := svc.Healthcheck
	if hc.Interval <= d.interval {
		return true
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	last, ok := d.lastRun[svc.Name]
	if ok && now.Sub(last) < hc.Interval {
		return false
	}
	d.lastRun[svc.Name] = now
	return true
}

// check runs the protocol-appropriate check for one service.
func (d *Dispatcher) check(ctx context.Context, svc *registry.Service) Report {
	hc := svc.Healthcheck

	switch hc.Type {
	case registry.CheckHTTP:
		return d.checkHTTP(ctx, svc, hc)
	case registry.CheckGamedig:
		return d.checkGamedig(ctx, svc, hc)
	case registry.CheckOdalpapi:
		return d.checkOdalpapi(ctx, svc, hc)
	case "":
		// A bare ping ID is the gateway's own status contract: its
		// presence alone means healthy.
		if hc.PingID != "" {
			return healthyReport(svc, baseMeta(hc))
		}
		return unhealthyReport(svc, fmt.Errorf("%w: no check type and no ping ID", ErrBadConfig))
	default:
		return unhealthyReport(svc, fmt.Errorf("%w: unknown check type %q", ErrBadConfig, hc.Type))
	}
}

// finish logs the report, updates metrics and fires the dead-man ping
// for healthy production checks.
func (d *Dispatcher) finish(ctx context.Context, report Report) {
	result := "unhealthy"
	if report.Healthy {
		result = "healthy"
	}
	metrics.HealthChecksTotal.WithLabelValues(report.Service, result).Inc()

	if report.Healthy {
		d.log.Info("health check passed",
			logger.String("service", report.Service),
			logger.String("tag", report.Tag),
			logger.String("online", report.Meta["online"]))
	} else {
		d.log.Warn("health check failed",
			logger.String("service", report.Service),
			logger.String("tag", report.Tag),
			logger.Error(report.Err))
		return
	}

	if !d.production || d.pinger == nil {
		return
	}
	svc, ok := d.reg.Lookup(report.Service)
	if !ok || svc.Healthcheck.PingID == "" {
		return
	}
	d.pinger.Ping(ctx, svc.Healthcheck.PingID)
}

// ReportStatus renders a compact status string for logs and the admin
// surface.
func (r Report) ReportStatus() string {
	if r.Healthy {
		online := r.Meta["online"]
		max := r.Meta["max"]
		if online != "" || max != "" {
			return r.Tag + " " + online + "/" + max
		}
		return r.Tag
	}
	if r.Err != nil {
		return r.Tag + " (" + r.Err.Error() + ")"
	}
	return r.Tag
}
