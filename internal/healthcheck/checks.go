package healthcheck

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rumblefrog/go-a2s"

	"github.com/quarterdeck/deck/internal/registry"
	"github.com/quarterdeck/deck/internal/utils"
)

// Status tags attached to reports.
const (
	TagHealthy   = "deckhealthy"
	TagUnhealthy = "deckunhealthy"
)

// ErrBadConfig marks a descriptor that can never produce a healthy
// report. Distinct from transport failures: retrying will not help.
var ErrBadConfig = errors.New("healthcheck: bad configuration")

// maxBodyBytes bounds how much of a check response body is read.
const maxBodyBytes = 1 << 20

// Report is the ephemeral per-tick result for one service.
type Report struct {
	Service string
	Healthy bool
	Tag     string
	Meta    map[string]string
	Err     error
}

func healthyReport(svc *registry.Service, meta map[string]string) Report {
	return Report{Service: svc.Name, Healthy: true, Tag: TagHealthy, Meta: meta}
}

func unhealthyReport(svc *registry.Service, err error) Report {
	return Report{Service: svc.Name, Healthy: false, Tag: TagUnhealthy, Err: err}
}

// baseMeta renders the descriptor's default metadata template.
func baseMeta(hc *registry.Healthcheck) map[string]string {
	meta := map[string]string{
		"online": strconv.Itoa(hc.Meta.Online),
		"max":    strconv.Itoa(hc.Meta.Max),
	}
	if hc.Meta.Tag != "" {
		meta["tag"] = hc.Meta.Tag
	}
	if hc.Meta.Version != "" {
		meta["version"] = hc.Meta.Version
	}
	if hc.Meta.Link != "" {
		meta["link"] = hc.Meta.Link
	}
	return meta
}

// mergeMeta lays extractor output over the template.
func mergeMeta(base, extracted map[string]string) map[string]string {
	for k, v := range extracted {
		base[k] = v
	}
	return base
}

// checkHTTP issues one GET and applies the registered parser to the
// body. A descriptor without a known parser can never be healthy.
func (d *Dispatcher) checkHTTP(ctx context.Context, svc *registry.Service, hc *registry.Healthcheck) Report {
	parser, ok := d.plugins.Parser(hc.Parser)
	if !ok {
		return unhealthyReport(svc, fmt.Errorf("%w: unknown parser %q", ErrBadConfig, hc.Parser))
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeoutFor(hc))
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, hc.Path, nil)
	if err != nil {
		return unhealthyReport(svc, fmt.Errorf("%w: bad path %q: %v", ErrBadConfig, hc.Path, err))
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return unhealthyReport(svc, fmt.Errorf("http check failed: %w", err))
	}
	defer utils.Close(resp.Body)

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return unhealthyReport(svc, fmt.Errorf("http check read body: %w", err))
	}

	if !parser(string(body)) {
		return unhealthyReport(svc, fmt.Errorf("parser %q rejected response", hc.Parser))
	}

	meta := baseMeta(hc)
	if hc.Extractor != "" {
		if extractor, ok := d.plugins.Extractor(hc.Extractor); ok {
			meta = mergeMeta(meta, extractor(string(body)))
		}
	}
	return healthyReport(svc, meta)
}

// checkGamedig queries a game server through the adapter registered
// for the descriptor's query type.
func (d *Dispatcher) checkGamedig(ctx context.Context, svc *registry.Service, hc *registry.Healthcheck) Report {
	switch hc.QueryType {
	case "a2s", "source", "":
	default:
		return unhealthyReport(svc, fmt.Errorf("%w: unknown query type %q", ErrBadConfig, hc.QueryType))
	}

	client, err := a2s.NewClient(hc.Target, a2s.TimeoutOption(d.timeoutFor(hc)))
	if err != nil {
		return unhealthyReport(svc, fmt.Errorf("game query dial: %w", err))
	}
	defer utils.Close(client)

	info, err := client.QueryInfo()
	if err != nil {
		return unhealthyReport(svc, fmt.Errorf("game query failed: %w", err))
	}

	meta := baseMeta(hc)
	if hc.Extractor != "" {
		if extractor, ok := d.plugins.Extractor(hc.Extractor); ok {
			meta = mergeMeta(meta, extractor(info))
		}
	}
	return healthyReport(svc, meta)
}

// checkOdalpapi runs the binary UDP exchange. Healthy iff the codec
// saw a complete, compatible response.
func (d *Dispatcher) checkOdalpapi(ctx context.Context, svc *registry.Service, hc *registry.Healthcheck) Report {
	res, err := d.odal.Query(ctx, hc.Target, d.timeoutFor(hc))
	if err != nil {
		return unhealthyReport(svc, err)
	}
	if !res.Responded {
		return unhealthyReport(svc, fmt.Errorf("server at %s did not respond", hc.Target))
	}

	meta := baseMeta(hc)
	if hc.Extractor != "" {
		if extractor, ok := d.plugins.Extractor(hc.Extractor); ok {
			meta = mergeMeta(meta, extractor(res))
		}
	}
	return healthyReport(svc, meta)
}

func (d *Dispatcher) timeoutFor(hc *registry.Healthcheck) time.Duration {
	if hc.Timeout > 0 {
		return hc.Timeout
	}
	return d.timeout
}
