package gateway

import (
	"bufio"
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/quarterdeck/deck/internal/botdefense"
	"github.com/quarterdeck/deck/internal/config"
	"github.com/quarterdeck/deck/internal/logger"
	"github.com/quarterdeck/deck/internal/registry"
)

const testServicesYAML = `
blog:
  type: index
app:
  type: spa
files:
  type: dirlist
  subdomain:
    basicUser: alice
    basicPass: secret
game:
  type: proxy
  protocol: insecure
  subdomain:
    proxy:
      target: 127.0.0.1:9000
chat:
  type: proxy
  subdomain:
    proxy:
      target: 127.0.0.1:9100
      socket: true
`

func testGateway(t *testing.T, mode string) (*Gateway, *config.Config) {
	t.Helper()
	return testGatewayWith(t, mode, testServicesYAML)
}

func testGatewayWith(t *testing.T, mode, servicesYAML string) (*Gateway, *config.Config) {
	t.Helper()

	reg, err := registry.Parse([]byte(servicesYAML))
	if err != nil {
		t.Fatalf("parse services: %v", err)
	}

	cfg := &config.Config{
		Domain:           "example.org",
		RunMode:          mode,
		CORSExemptPrefix: "/api/",
		SitesDir:         t.TempDir(),
		StaticDir:        t.TempDir(),
		GlobalDir:        t.TempDir(),
	}

	log := logger.Nop()
	blocklist := botdefense.NewBlocklist(nil, nil, log)
	scorer := botdefense.NewScorer(botdefense.DefaultBlockThreshold, time.Hour, blocklist, log)

	return New(cfg, reg, scorer, blocklist, nil, log), cfg
}

func mustWriteFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestBlocklistedAddressShortCircuits(t *testing.T) {
	g, _ := testGateway(t, config.ModeProduction)
	g.blocklist.Block(context.Background(), "203.0.113.9")

	req := httptest.NewRequest(http.MethodGet, "https://blog.example.org/", nil)
	req.RemoteAddr = "203.0.113.9:51234"
	rec := httptest.NewRecorder()
	g.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	// A short-circuited request must not feed the scorer.
	if got := g.scorer.Recent("203.0.113.9"); len(got) != 0 {
		t.Fatalf("scorer recorded %d requests for a blocklisted address", len(got))
	}
}

func TestScorerBlocksAfterRepeatedProbes(t *testing.T) {
	g, _ := testGateway(t, config.ModeProduction)

	var last int
	for i := 0; i < 4; i++ {
		req := httptest.NewRequest(http.MethodGet, "https://example.org/wp-admin/setup.php", nil)
		req.Header.Set("X-Forwarded-Proto", "https")
		req.RemoteAddr = "198.51.100.7:4000"
		rec := httptest.NewRecorder()
		g.ServeHTTP(rec, req)
		last = rec.Code
	}

	if last != http.StatusForbidden {
		t.Fatalf("fourth probe status = %d, want 403", last)
	}
	if !g.blocklist.Contains("198.51.100.7") {
		t.Fatal("address not blocklisted after crossing the threshold")
	}
}

func TestDirlistProtectedRequiresBasicAuth(t *testing.T) {
	g, cfg := testGateway(t, config.ModeLocal)
	mustWriteFile(t, filepath.Join(cfg.SitesDir, "files", "protected", "secret.txt"), "top secret")

	get := func(user, pass string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "http://files.example.org/protected/secret.txt", nil)
		req.RemoteAddr = "192.0.2.1:1000"
		if user != "" {
			req.SetBasicAuth(user, pass)
		}
		rec := httptest.NewRecorder()
		g.ServeHTTP(rec, req)
		return rec
	}

	if rec := get("", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("no credentials: status = %d, want 401", rec.Code)
	} else if rec.Header().Get("WWW-Authenticate") == "" {
		t.Fatal("401 without a WWW-Authenticate challenge")
	}
	if rec := get("alice", "wrong"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad credentials: status = %d, want 401", rec.Code)
	}
	rec := get("alice", "secret")
	if rec.Code != http.StatusOK {
		t.Fatalf("good credentials: status = %d, want 200", rec.Code)
	}
	if got := rec.Body.String(); got != "top secret" {
		t.Fatalf("body = %q", got)
	}
}

func TestSPACacheHeadersAndShellFallback(t *testing.T) {
	g, cfg := testGateway(t, config.ModeLocal)
	mustWriteFile(t, filepath.Join(cfg.SitesDir, "app", "index.html"), "<html>shell</html>")
	mustWriteFile(t, filepath.Join(cfg.SitesDir, "app", "assets", "app.1f2e.js"), "console.log(1)")

	get := func(path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "http://app.example.org"+path, nil)
		req.RemoteAddr = "192.0.2.2:1000"
		rec := httptest.NewRecorder()
		g.ServeHTTP(rec, req)
		return rec
	}

	rec := get("/assets/app.1f2e.js")
	if rec.Code != http.StatusOK {
		t.Fatalf("asset status = %d, want 200", rec.Code)
	}
	if cc := rec.Header().Get("Cache-Control"); cc != cacheImmutable {
		t.Fatalf("asset Cache-Control = %q, want %q", cc, cacheImmutable)
	}

	rec = get("/some/client/route")
	if rec.Code != http.StatusOK {
		t.Fatalf("shell status = %d, want 200", rec.Code)
	}
	if cc := rec.Header().Get("Cache-Control"); cc != cacheNever {
		t.Fatalf("shell Cache-Control = %q, want %q", cc, cacheNever)
	}
	if !strings.Contains(rec.Body.String(), "shell") {
		t.Fatalf("shell body = %q", rec.Body.String())
	}
}

func TestIndexServesCustom404Page(t *testing.T) {
	g, cfg := testGateway(t, config.ModeLocal)
	mustWriteFile(t, filepath.Join(cfg.SitesDir, "blog", "404.html"), "<html>lost?</html>")

	req := httptest.NewRequest(http.MethodGet, "http://blog.example.org/nope", nil)
	req.RemoteAddr = "192.0.2.3:1000"
	rec := httptest.NewRecorder()
	g.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "lost?") {
		t.Fatalf("body = %q, want the custom page", rec.Body.String())
	}
}

// A proxied event stream must reach the client as the upstream
// flushes it, not when the upstream returns.
func TestProxyStreamsWithoutBuffering(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "data: hello\n\n")
		if err := http.NewResponseController(w).Flush(); err != nil {
			t.Errorf("backend flush: %v", err)
			return
		}
		// Hold the response open until the client gives up.
		<-r.Context().Done()
	}))
	defer backend.Close()

	target := strings.TrimPrefix(backend.URL, "http://")
	g, _ := testGatewayWith(t, config.ModeLocal, `
stream:
  type: proxy
  subdomain:
    proxy:
      target: `+target+`
`)
	ts := httptest.NewServer(g)
	defer ts.Close()

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/events", nil)
	if err != nil {
		t.Fatal(err)
	}
	req.Host = "stream.example.org"
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	type readResult struct {
		n   int
		err error
	}
	buf := make([]byte, 64)
	got := make(chan readResult, 1)
	go func() {
		n, err := resp.Body.Read(buf)
		got <- readResult{n, err}
	}()

	select {
	case r := <-got:
		if r.err != nil {
			t.Fatalf("read streamed event: %v", r.err)
		}
		if !strings.Contains(string(buf[:r.n]), "data: hello") {
			t.Fatalf("streamed bytes = %q", buf[:r.n])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no bytes received while the upstream held the connection open")
	}
}

func TestUpgradeToUnknownHostGetsRawNotFound(t *testing.T) {
	g, _ := testGateway(t, config.ModeLocal)
	ts := httptest.NewServer(g)
	defer ts.Close()

	conn, err := net.Dial("tcp", ts.Listener.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	req := "GET /socket HTTP/1.1\r\n" +
		"Host: nosuch.example.org\r\n" +
		"Connection: Upgrade\r\n" +
		"Upgrade: websocket\r\n" +
		"Sec-WebSocket-Version: 13\r\n" +
		"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n\r\n"
	if _, err := conn.Write([]byte(req)); err != nil {
		t.Fatal(err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	br := bufio.NewReader(conn)
	line, err := br.ReadString('\n')
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(line, "HTTP/1.1 404") {
		t.Fatalf("status line = %q, want a raw 404", line)
	}

	// The server must close the socket after the 404; a held-open
	// connection would trip the read deadline instead of EOF.
	if _, err := io.ReadAll(br); err != nil {
		t.Fatalf("connection not closed after the 404: %v", err)
	}
}
