// Package botdefense scores requests for bot/scanner behavior and
// maintains the per-address suspicion table feeding the blocklist.
package botdefense

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/quarterdeck/deck/internal/logger"
	"github.com/quarterdeck/deck/internal/utils"
)

// recentRingSize bounds the per-address history kept for diagnostics.
const recentRingSize = 20

// RequestDetail is one matched request kept in a suspicion record's
// bounded ring.
type RequestDetail struct {
	Addr     string
	URL      string
	Score    int
	Patterns []string
	Time     time.Time
}

// record accumulates suspicion for one source address. Idle records
// decay to zero before the next increment is applied.
type record struct {
	score    int
	lastSeen time.Time
	recent   []RequestDetail
}

// Decision is the outcome of evaluating one request.
type Decision struct {
	Score      int      // this request's score
	Cumulative int      // address total after applying this request
	Patterns   []string // matched pattern names
	Suspicious bool
	Escalated  bool // IP-literal host + high-severity pattern
	Block      bool
}

// Scorer evaluates requests and blocks addresses that cross the
// threshold. The suspicion table is hot-path shared state; all access
// goes through one mutex and updates are add-only increments.
type Scorer struct {
	mu        sync.Mutex
	records   map[string]*record
	lastSweep time.Time

	threshold int
	decay     time.Duration
	blocklist *Blocklist
	log       logger.Logger
}

func NewScorer(threshold int, decay time.Duration, blocklist *Blocklist, log logger.Logger) *Scorer {
	if threshold <= 0 {
		threshold = DefaultBlockThreshold
	}
	if decay <= 0 {
		decay = time.Hour
	}
	return &Scorer{
		records:   make(map[string]*record),
		threshold: threshold,
		decay:     decay,
		blocklist: blocklist,
		log:       log,
	}
}

// Evaluate scores one request. A non-suspicious request touches no
// state. A blocking decision persists the address to the blocklist
// before returning; the caller still rejects the current request.
func (s *Scorer) Evaluate(ctx context.Context, addr, host, url string) Decision {
	return s.evaluateAt(ctx, addr, host, url, time.Now())
}

func (s *Scorer) evaluateAt(ctx context.Context, addr, host, url string, now time.Time) Decision {
	lowered := strings.ToLower(url)

	var d Decision
	highSeverity := false
	for _, p := range patterns {
		for _, m := range p.Match {
			if strings.Contains(lowered, m) {
				d.Score += p.Score
				d.Patterns = append(d.Patterns, p.Name)
				if p.HighSeverity {
					highSeverity = true
				}
				break
			}
		}
	}

	hostNoPort := strings.ToLower(utils.ParseHostNoPort(host))
	hostIsIP := utils.IsIPLiteral(hostNoPort)
	if hostIsIP {
		d.Score += IPHostBonus
	}
	if looksReverseDNS(hostNoPort) {
		d.Score += ReverseDNSBonus
	}
	if hostIsIP && highSeverity {
		d.Score += EscalationBonus
		d.Escalated = true
	}

	if d.Score == 0 {
		return d
	}
	d.Suspicious = true

	s.mu.Lock()
	s.sweepLocked(now)
	rec := s.records[addr]
	if rec == nil {
		rec = &record{}
		s.records[addr] = rec
	}
	if !rec.lastSeen.IsZero() && now.Sub(rec.lastSeen) > s.decay {
		rec.score = 0
		rec.recent = nil
	}
	rec.score += d.Score
	rec.lastSeen = now
	rec.recent = append(rec.recent, RequestDetail{
		Addr:     addr,
		URL:      url,
		Score:    d.Score,
		Patterns: d.Patterns,
		Time:     now,
	})
	if len(rec.recent) > recentRingSize {
		rec.recent = rec.recent[len(rec.recent)-recentRingSize:]
	}
	d.Cumulative = rec.score
	s.mu.Unlock()

	// Two independent block conditions, ORed: the cumulative threshold
	// and the one-shot escalation. One event may trip both.
	if d.Cumulative >= s.threshold || d.Escalated {
		d.Block = true
		s.log.Warn("blocking suspicious address",
			logger.String("addr", addr),
			logger.String("url", url),
			logger.Int("score", d.Score),
			logger.Int("cumulative", d.Cumulative),
			logger.Bool("escalated", d.Escalated),
			logger.Strings("patterns", d.Patterns))
		s.blocklist.Block(ctx, addr)
	}

	return d
}

// sweepLocked evicts records idle past the decay window so one-shot
// scanner addresses do not accumulate forever. Runs at most once per
// decay window, with the mutex held.
func (s *Scorer) sweepLocked(now time.Time) {
	if now.Sub(s.lastSweep) < s.decay {
		return
	}
	s.lastSweep = now
	for addr, rec := range s.records {
		if now.Sub(rec.lastSeen) > s.decay {
			delete(s.records, addr)
		}
	}
}

// Tracked returns the number of addresses currently under suspicion.
func (s *Scorer) Tracked() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Recent returns a copy of the bounded ring for one address.
func (s *Scorer) Recent(addr string) []RequestDetail {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.records[addr]
	if rec == nil {
		return nil
	}
	out := make([]RequestDetail, len(rec.recent))
	copy(out, rec.recent)
	return out
}

func looksReverseDNS(host string) bool {
	for _, prefix := range reverseDNSPrefixes {
		if strings.HasPrefix(host, prefix) {
			return true
		}
	}
	return false
}
