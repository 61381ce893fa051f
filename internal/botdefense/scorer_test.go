package botdefense

import (
	"context"
	"testing"
	"time"

	"github.com/quarterdeck/deck/internal/logger"
)

type fakeStore struct {
	appended []string
}

func (f *fakeStore) Append(_ context.Context, addr string) error {
	f.appended = append(f.appended, addr)
	return nil
}

func newTestScorer(threshold int, decay time.Duration) (*Scorer, *fakeStore) {
	store := &fakeStore{}
	bl := NewBlocklist(nil, store, logger.Nop())
	return NewScorer(threshold, decay, bl, logger.Nop()), store
}

func TestEvaluateCleanRequest(t *testing.T) {
	s, store := newTestScorer(100, time.Hour)

	d := s.Evaluate(context.Background(), "198.51.100.7", "files.example.net", "/photos/2024/summer.jpg")
	if d.Suspicious {
		t.Errorf("Decision = %+v, want not suspicious", d)
	}
	if d.Block {
		t.Error("clean request blocked")
	}
	if s.Tracked() != 0 {
		t.Errorf("Tracked() = %d, want 0 (clean requests touch no state)", s.Tracked())
	}
	if len(store.appended) != 0 {
		t.Errorf("store.appended = %v, want empty", store.appended)
	}
}

func TestEvaluateAccumulatesToThreshold(t *testing.T) {
	s, store := newTestScorer(100, time.Hour)
	ctx := context.Background()
	now := time.Now()

	// wp-admin scores 25; four hits within the decay window cross 100.
	var d Decision
	for i := 0; i < 4; i++ {
		d = s.evaluateAt(ctx, "203.0.113.5", "blog.example.net", "/wp-admin/setup.php", now.Add(time.Duration(i)*time.Minute))
	}

	if d.Cumulative != 100 {
		t.Errorf("Cumulative = %d, want 100 (add-only increments)", d.Cumulative)
	}
	if !d.Block {
		t.Error("fourth hit should block at threshold")
	}
	if len(store.appended) != 1 || store.appended[0] != "203.0.113.5" {
		t.Errorf("store.appended = %v, want one entry for 203.0.113.5", store.appended)
	}
}

func TestIdleRecordsAreEvicted(t *testing.T) {
	s, _ := newTestScorer(100, time.Hour)
	ctx := context.Background()
	now := time.Now()

	// A one-shot scanner probes once and never returns.
	s.evaluateAt(ctx, "203.0.113.5", "blog.example.net", "/wp-admin/setup.php", now)
	if s.Tracked() != 1 {
		t.Fatalf("Tracked() = %d, want 1", s.Tracked())
	}

	// Activity from another address past the decay window sweeps it out.
	s.evaluateAt(ctx, "198.51.100.7", "blog.example.net", "/wp-admin/setup.php", now.Add(2*time.Hour))
	if s.Tracked() != 1 {
		t.Errorf("Tracked() = %d, want 1 (idle record evicted, active one kept)", s.Tracked())
	}
	if got := s.Recent("203.0.113.5"); len(got) != 0 {
		t.Errorf("Recent() = %v, want the idle record gone", got)
	}
	if got := s.Recent("198.51.100.7"); len(got) != 1 {
		t.Errorf("Recent() for the active address = %v, want 1 entry", got)
	}
}

func TestEvaluateDecayResetsBaseline(t *testing.T) {
	s, _ := newTestScorer(100, time.Hour)
	ctx := context.Background()
	now := time.Now()

	s.evaluateAt(ctx, "203.0.113.5", "blog.example.net", "/wp-admin/", now)
	s.evaluateAt(ctx, "203.0.113.5", "blog.example.net", "/wp-admin/", now.Add(30*time.Minute))

	// Gap above the decay window: second burst starts from zero.
	d := s.evaluateAt(ctx, "203.0.113.5", "blog.example.net", "/wp-admin/", now.Add(2*time.Hour))
	if d.Cumulative != d.Score {
		t.Errorf("Cumulative = %d, want reset baseline %d", d.Cumulative, d.Score)
	}
	if d.Block {
		t.Error("decayed record should not block")
	}
}

func TestEvaluateEscalationBlocksImmediately(t *testing.T) {
	s, store := newTestScorer(1000, time.Hour) // threshold far away

	d := s.Evaluate(context.Background(), "203.0.113.9", "192.0.2.10:443", "/.env")
	if !d.Escalated {
		t.Fatal("IP-literal host + credential probe should escalate")
	}
	if !d.Block {
		t.Fatal("escalation must block regardless of cumulative score")
	}
	if want := 60 + 40 + 60; d.Score != want { // env-file + IP host + escalation
		t.Errorf("Score = %d, want %d", d.Score, want)
	}
	if len(store.appended) != 1 {
		t.Errorf("store.appended = %v, want one entry", store.appended)
	}
}

func TestEvaluateHostBonuses(t *testing.T) {
	s, _ := newTestScorer(1000, time.Hour)
	ctx := context.Background()

	tests := []struct {
		name      string
		host      string
		url       string
		wantScore int
		escalated bool
	}{
		{name: "ip host alone", host: "192.0.2.10", url: "/", wantScore: IPHostBonus},
		{name: "reverse dns host", host: "pool.isp.example", url: "/wp-admin/", wantScore: 25 + ReverseDNSBonus},
		{name: "ip host with low severity", host: "192.0.2.10", url: "/wp-admin/", wantScore: 25 + IPHostBonus, escalated: false},
		{name: "ipv6 host with webshell", host: "[2001:db8::1]:443", url: "/uploads/shell.php", wantScore: 70 + IPHostBonus + EscalationBonus, escalated: true},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr := "198.51.100." + string(rune('1'+i))
			d := s.Evaluate(ctx, addr, tt.host, tt.url)
			if d.Score != tt.wantScore {
				t.Errorf("Score = %d, want %d", d.Score, tt.wantScore)
			}
			if d.Escalated != tt.escalated {
				t.Errorf("Escalated = %v, want %v", d.Escalated, tt.escalated)
			}
		})
	}
}

func TestRecentRingIsBounded(t *testing.T) {
	s, _ := newTestScorer(1_000_000, time.Hour)
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < recentRingSize*2; i++ {
		s.evaluateAt(ctx, "203.0.113.5", "blog.example.net", "/wp-admin/", now.Add(time.Duration(i)*time.Second))
	}

	recent := s.Recent("203.0.113.5")
	if len(recent) != recentRingSize {
		t.Errorf("len(Recent()) = %d, want %d", len(recent), recentRingSize)
	}
	// Oldest entries were dropped: the first kept one is hit #20.
	if got := recent[0].Time; !got.Equal(now.Add(recentRingSize * time.Second)) {
		t.Errorf("recent[0].Time = %v, want %v", got, now.Add(recentRingSize*time.Second))
	}
}

func TestBlocklistSeedAndIdempotence(t *testing.T) {
	store := &fakeStore{}
	bl := NewBlocklist([]string{"198.51.100.1", "198.51.100.2"}, store, logger.Nop())

	if !bl.Contains("198.51.100.1") {
		t.Error("seeded address not contained")
	}
	if bl.Contains("203.0.113.5") {
		t.Error("unknown address reported blocked")
	}

	bl.Block(context.Background(), "203.0.113.5")
	bl.Block(context.Background(), "203.0.113.5")
	if len(store.appended) != 1 {
		t.Errorf("store.appended = %v, want a single append", store.appended)
	}
	if bl.Len() != 3 {
		t.Errorf("Len() = %d, want 3", bl.Len())
	}
}
