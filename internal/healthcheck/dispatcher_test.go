package healthcheck

import (
	"context"
	"encoding/binary"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/quarterdeck/deck/internal/logger"
	"github.com/quarterdeck/deck/internal/odalpapi"
	"github.com/quarterdeck/deck/internal/registry"
)

func testDispatcher(t *testing.T, reg *registry.Registry) *Dispatcher {
	t.Helper()
	return New(Options{
		Registry: reg,
		Plugins:  NewPlugins(),
		Odal:     odalpapi.NewClient(logger.Nop()),
		Logger:   logger.Nop(),
		Interval: time.Hour,
		Timeout:  2 * time.Second,
	})
}

func loadRegistry(t *testing.T, yaml string) *registry.Registry {
	t.Helper()
	reg, err := registry.Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("registry.Parse() error = %v", err)
	}
	return reg
}

func reportFor(t *testing.T, reports []Report, service string) Report {
	t.Helper()
	for _, r := range reports {
		if r.Service == service {
			return r
		}
	}
	t.Fatalf("no report for service %q in %+v", service, reports)
	return Report{}
}

func TestHTTPCheckParserDecides(t *testing.T) {
	body := "status: OK"
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(body))
	}))
	defer ts.Close()

	reg := loadRegistry(t, `
status:
  type: index
  healthcheck:
    type: http
    path: `+ts.URL+`
    parser: contains-ok
    meta:
      tag: web
      max: 1
`)
	d := testDispatcher(t, reg)

	reports := d.RunChecks(context.Background())
	r := reportFor(t, reports, "status")
	if !r.Healthy || r.Tag != TagHealthy {
		t.Fatalf("report = %+v, want healthy with tag %s", r, TagHealthy)
	}
	if r.Meta["tag"] != "web" {
		t.Errorf("Meta[tag] = %q, want web (template carried through)", r.Meta["tag"])
	}

	body = "status: FAIL"
	r = reportFor(t, d.RunChecks(context.Background()), "status")
	if r.Healthy || r.Tag != TagUnhealthy {
		t.Fatalf("report = %+v, want unhealthy with tag %s", r, TagUnhealthy)
	}
}

func TestHTTPCheckUnknownParserIsConfigError(t *testing.T) {
	reg := loadRegistry(t, `
status:
  type: index
  healthcheck:
    type: http
    path: http://127.0.0.1:1/healthz
    parser: no-such-parser
`)
	d := testDispatcher(t, reg)

	r := reportFor(t, d.RunChecks(context.Background()), "status")
	if r.Healthy {
		t.Fatal("unknown parser reported healthy")
	}
	if !errors.Is(r.Err, ErrBadConfig) {
		t.Errorf("Err = %v, want ErrBadConfig", r.Err)
	}
}

func TestPingOnlyDescriptorIsAlwaysHealthy(t *testing.T) {
	reg := loadRegistry(t, `
deck:
  type: index
  healthcheck:
    ping: 9d9f38a1-watch
`)
	d := testDispatcher(t, reg)

	r := reportFor(t, d.RunChecks(context.Background()), "deck")
	if !r.Healthy {
		t.Fatalf("report = %+v, want unconditionally healthy", r)
	}
}

// minimalOdamexResponse hand-assembles the smallest valid server
// response: header, versions, empty cvar/patch/wad/player sections.
func minimalOdamexResponse(name string) []byte {
	le := binary.LittleEndian
	var buf []byte
	u32 := func(v uint32) { buf = le.AppendUint32(buf, v) }
	str := func(s string) { buf = append(append(buf, s...), 0) }

	u32(0xAD0<<20 | 1<<16 | 2<<12 | 2) // tag, server, response, type 2
	u32(82)                            // 0.8.2
	u32(5)                             // protocol version
	u32(60)                            // uptime
	u32(5)                             // real protocol version
	str("0.8.2")
	buf = append(buf, 1) // one cvar
	str("sv_hostname")
	buf = append(buf, 6) // string type
	str(name)
	buf = append(buf, 0) // empty password hash
	str("MAP01")
	buf = append(buf, 0) // patches
	buf = append(buf, 0) // wads
	buf = append(buf, 0) // players
	return buf
}

func TestOdalpapiCheck(t *testing.T) {
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer func() { _ = conn.Close() }()

	go func() {
		buf := make([]byte, 64)
		for {
			_, addr, err := conn.ReadFrom(buf)
			if err != nil {
				return
			}
			_, _ = conn.WriteTo(minimalOdamexResponse("Deck Duel"), addr)
		}
	}()

	reg := loadRegistry(t, `
odamex:
  type: proxy
  subdomain:
    proxy:
      target: "127.0.0.1:8080"
  healthcheck:
    type: odalpapi
    target: "`+conn.LocalAddr().String()+`"
    extractor: odalpapi-info
    meta:
      tag: game
`)
	d := testDispatcher(t, reg)

	r := reportFor(t, d.RunChecks(context.Background()), "odamex")
	if !r.Healthy {
		t.Fatalf("report = %+v, want healthy", r)
	}
	if r.Meta["online"] != "0" || r.Meta["version"] != "0.8.2" {
		t.Errorf("Meta = %v, want extractor output merged", r.Meta)
	}
}

func TestOdalpapiCheckTimeout(t *testing.T) {
	// 203.0.113.0/24 is TEST-NET: nothing answers.
	reg := loadRegistry(t, `
odamex:
  type: proxy
  subdomain:
    proxy:
      target: "127.0.0.1:8080"
  healthcheck:
    type: odalpapi
    target: "203.0.113.1:10666"
    timeout: 200ms
`)
	d := testDispatcher(t, reg)

	start := time.Now()
	r := reportFor(t, d.RunChecks(context.Background()), "odamex")
	if r.Healthy {
		t.Fatal("unreachable server reported healthy")
	}
	if time.Since(start) > 5*time.Second {
		t.Error("per-check timeout not honored")
	}
}

func TestReportStatus(t *testing.T) {
	r := Report{Service: "odamex", Healthy: true, Tag: TagHealthy, Meta: map[string]string{"online": "3", "max": "16"}}
	if got := r.ReportStatus(); !strings.Contains(got, "3/16") {
		t.Errorf("ReportStatus() = %q, want player count", got)
	}
}
