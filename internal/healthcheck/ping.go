package healthcheck

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/quarterdeck/deck/internal/logger"
	"github.com/quarterdeck/deck/internal/utils"
)

// Pinger notifies an external dead-man's-switch endpoint that a check
// passed. Failures are logged and never escalated; the switch firing
// on silence is the whole point.
type Pinger struct {
	client      *http.Client
	urlTemplate string // ex: "https://hc-ping.com/%s"
	log         logger.Logger
}

func NewPinger(urlTemplate string, log logger.Logger) *Pinger {
	return &Pinger{
		client:      &http.Client{Timeout: 10 * time.Second},
		urlTemplate: urlTemplate,
		log:         log,
	}
}

// Ping fires one GET for the given check ID.
func (p *Pinger) Ping(ctx context.Context, id string) {
	url := fmt.Sprintf(p.urlTemplate, id)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		p.log.Error("failed to build ping request",
			logger.String("id", id),
			logger.Error(err))
		return
	}

	resp, err := p.client.Do(req)
	if err != nil {
		p.log.Warn("dead-man ping failed",
			logger.String("id", id),
			logger.Error(err))
		return
	}
	defer utils.Close(resp.Body)
	_, _ = io.Copy(io.Discard, resp.Body)

	p.log.Debug("dead-man ping delivered",
		logger.String("id", id),
		logger.Int("status", resp.StatusCode))
}
