package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/quarterdeck/deck/internal/config"
	"github.com/quarterdeck/deck/internal/logger"
	redisstore "github.com/quarterdeck/deck/internal/store/redis"
)

type memSessionStore struct {
	mu       sync.Mutex
	sessions map[string]string
}

func newMemSessionStore() *memSessionStore {
	return &memSessionStore{sessions: make(map[string]string)}
}

func (m *memSessionStore) SaveSession(_ context.Context, id, username string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[id] = username
	return nil
}

func (m *memSessionStore) GetSession(_ context.Context, id string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.sessions[id]; ok {
		return u, nil
	}
	return "", redisstore.ErrSessionNotFound
}

func (m *memSessionStore) DeleteSession(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

func testSessionGate(t *testing.T) (http.Handler, *memSessionStore) {
	t.Helper()
	store := newMemSessionStore()
	cfg := &config.Config{
		RunMode:    config.ModeLocal,
		AdminUser:  "admin",
		AdminPass:  "hunter2",
		SessionTTL: time.Hour,
	}
	m := NewSessionManager(cfg, store, logger.Nop())
	gated := m.Gate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("private"))
	}))
	return gated, store
}

func TestGateRedirectsBrowsersToLogin(t *testing.T) {
	gated, _ := testSessionGate(t)

	req := httptest.NewRequest(http.MethodGet, "http://tools.example.org/reports?week=34", nil)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	rec := httptest.NewRecorder()
	gated.ServeHTTP(rec, req)

	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", rec.Code)
	}
	loc := rec.Header().Get("Location")
	if !strings.HasPrefix(loc, "/login?next=") {
		t.Fatalf("Location = %q, want a /login redirect", loc)
	}
	next, _ := url.QueryUnescape(strings.TrimPrefix(loc, "/login?next="))
	if next != "/reports?week=34" {
		t.Fatalf("next = %q, want the original URI", next)
	}
}

func TestGateGivesAPIClientsA401(t *testing.T) {
	gated, _ := testSessionGate(t)

	req := httptest.NewRequest(http.MethodPost, "http://tools.example.org/api/run", nil)
	rec := httptest.NewRecorder()
	gated.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestLoginLogoutRoundTrip(t *testing.T) {
	gated, store := testSessionGate(t)

	// Wrong password first.
	form := url.Values{"username": {"admin"}, "password": {"nope"}, "next": {"/x"}}
	req := httptest.NewRequest(http.MethodPost, "http://tools.example.org/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	gated.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad login status = %d, want 401", rec.Code)
	}

	// Then the real credentials.
	form.Set("password", "hunter2")
	req = httptest.NewRequest(http.MethodPost, "http://tools.example.org/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = httptest.NewRecorder()
	gated.ServeHTTP(rec, req)
	if rec.Code != http.StatusFound {
		t.Fatalf("login status = %d, want 302", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "/x" {
		t.Fatalf("login redirect = %q, want /x", loc)
	}

	var cookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == sessionCookie {
			cookie = c
		}
	}
	if cookie == nil || cookie.Value == "" {
		t.Fatal("no session cookie set on login")
	}
	if !cookie.HttpOnly {
		t.Fatal("session cookie is not HttpOnly")
	}
	if _, err := store.GetSession(context.Background(), cookie.Value); err != nil {
		t.Fatalf("session not persisted: %v", err)
	}

	// The cookie opens the gate.
	req = httptest.NewRequest(http.MethodGet, "http://tools.example.org/x", nil)
	req.AddCookie(cookie)
	rec = httptest.NewRecorder()
	gated.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "private" {
		t.Fatalf("gated request = %d %q, want 200 private", rec.Code, rec.Body.String())
	}

	// Logout invalidates it server-side.
	req = httptest.NewRequest(http.MethodGet, "http://tools.example.org/logout", nil)
	req.AddCookie(cookie)
	rec = httptest.NewRecorder()
	gated.ServeHTTP(rec, req)
	if rec.Code != http.StatusFound {
		t.Fatalf("logout status = %d, want 302", rec.Code)
	}
	if _, err := store.GetSession(context.Background(), cookie.Value); err == nil {
		t.Fatal("session survived logout")
	}

	req = httptest.NewRequest(http.MethodGet, "http://tools.example.org/x", nil)
	req.AddCookie(cookie)
	rec = httptest.NewRecorder()
	gated.ServeHTTP(rec, req)
	if rec.Code == http.StatusOK {
		t.Fatal("stale cookie still opens the gate")
	}
}

func TestLoginRejectsOffsiteNext(t *testing.T) {
	gated, _ := testSessionGate(t)

	form := url.Values{"username": {"admin"}, "password": {"hunter2"}, "next": {"https://evil.test/"}}
	req := httptest.NewRequest(http.MethodPost, "http://tools.example.org/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	gated.ServeHTTP(rec, req)

	if loc := rec.Header().Get("Location"); loc != "/" {
		t.Fatalf("redirect = %q, want /", loc)
	}
}
