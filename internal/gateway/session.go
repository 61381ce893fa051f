package gateway

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"html/template"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/quarterdeck/deck/internal/config"
	"github.com/quarterdeck/deck/internal/logger"
	redisstore "github.com/quarterdeck/deck/internal/store/redis"
)

const sessionCookie = "deck_session"

// SessionStore persists session IDs across restarts.
type SessionStore interface {
	SaveSession(ctx context.Context, id, username string, ttl time.Duration) error
	GetSession(ctx context.Context, id string) (string, error)
	DeleteSession(ctx context.Context, id string) error
}

var loginTmpl = template.Must(template.New("login").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Sign in</title>
<style>body{font-family:sans-serif;display:flex;justify-content:center;margin-top:15vh}
form{display:flex;flex-direction:column;gap:.6em;min-width:16em}</style>
</head>
<body>
<form method="post" action="/login">
<h1>Sign in</h1>
{{if .Failed}}<p style="color:#b00">Invalid credentials.</p>{{end}}
<input type="hidden" name="next" value="{{.Next}}">
<input name="username" placeholder="username" autocomplete="username" autofocus>
<input name="password" type="password" placeholder="password" autocomplete="current-password">
<button type="submit">Sign in</button>
</form>
</body>
</html>
`))

// SessionManager implements cookie sessions for gated services. A
// single admin credential pair covers every gated subdomain; the
// session itself lives in redis so restarts do not log users out.
type SessionManager struct {
	store         SessionStore
	ttl           time.Duration
	user          string
	pass          string
	secureCookies bool
	log           logger.Logger
}

func NewSessionManager(cfg *config.Config, store SessionStore, log logger.Logger) *SessionManager {
	return &SessionManager{
		store:         store,
		ttl:           cfg.SessionTTL,
		user:          cfg.AdminUser,
		pass:          cfg.AdminPass,
		secureCookies: cfg.IsProduction(),
		log:           log,
	}
}

// Enabled reports whether login credentials are configured. Gated
// services stay open when they are not, rather than locking everyone
// out with an unsatisfiable login form.
func (m *SessionManager) Enabled() bool {
	return m.user != "" && m.pass != ""
}

// Gate wraps a service handler behind the session login. The login and
// logout endpoints are carved out of the service's own path space so
// the gate works on any subdomain without extra routing.
func (m *SessionManager) Gate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/login":
			if r.Method == http.MethodPost {
				m.handleLogin(w, r)
				return
			}
			m.renderLogin(w, r.URL.Query().Get("next"), false)
		case "/logout":
			m.handleLogout(w, r)
		default:
			if m.authenticated(r) {
				next.ServeHTTP(w, r)
				return
			}
			m.reject(w, r)
		}
	})
}

func (m *SessionManager) authenticated(r *http.Request) bool {
	c, err := r.Cookie(sessionCookie)
	if err != nil || c.Value == "" {
		return false
	}
	_, err = m.store.GetSession(r.Context(), c.Value)
	if err != nil {
		if !errors.Is(err, redisstore.ErrSessionNotFound) {
			m.log.Error("session: lookup", logger.Error(err))
		}
		return false
	}
	return true
}

func (m *SessionManager) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	next := sanitizeNext(r.PostFormValue("next"))

	if !credentialsMatch(r.PostFormValue("username"), r.PostFormValue("password"), m.user, m.pass) {
		m.log.Warn("session: failed login", logger.String("host", r.Host))
		w.WriteHeader(http.StatusUnauthorized)
		m.renderLogin(w, next, true)
		return
	}

	id, err := newSessionID()
	if err != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	if err := m.store.SaveSession(r.Context(), id, m.user, m.ttl); err != nil {
		m.log.Error("session: save", logger.Error(err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    id,
		Path:     "/",
		MaxAge:   int(m.ttl.Seconds()),
		HttpOnly: true,
		Secure:   m.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, next, http.StatusFound)
}

func (m *SessionManager) handleLogout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(sessionCookie); err == nil && c.Value != "" {
		if err := m.store.DeleteSession(r.Context(), c.Value); err != nil {
			m.log.Warn("session: delete", logger.Error(err))
		}
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, "/login", http.StatusFound)
}

// reject sends browsers to the login form and gives API clients a bare
// 401 they can act on.
func (m *SessionManager) reject(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet && strings.Contains(r.Header.Get("Accept"), "text/html") {
		next := url.QueryEscape(r.URL.RequestURI())
		http.Redirect(w, r, "/login?next="+next, http.StatusFound)
		return
	}
	http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
}

func (m *SessionManager) renderLogin(w http.ResponseWriter, next string, failed bool) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", cacheNever)
	_ = loginTmpl.Execute(w, struct {
		Next   string
		Failed bool
	}{Next: sanitizeNext(next), Failed: failed})
}

func credentialsMatch(user, pass, wantUser, wantPass string) bool {
	uh, ph := sha256.Sum256([]byte(user)), sha256.Sum256([]byte(pass))
	wu, wp := sha256.Sum256([]byte(wantUser)), sha256.Sum256([]byte(wantPass))
	return subtle.ConstantTimeCompare(uh[:], wu[:]) == 1 &&
		subtle.ConstantTimeCompare(ph[:], wp[:]) == 1
}

// sanitizeNext keeps post-login redirects on the same origin.
func sanitizeNext(next string) string {
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") {
		return "/"
	}
	return next
}

func newSessionID() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
