package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Run modes. Only production terminates TLS, enforces the https
// upgrade and fires dead-man pings; local/test speak plain http.
const (
	ModeProduction = "production"
	ModeLocal      = "local"
	ModeTest       = "test"
)

type Config struct {
	ListenHTTP  string // ex: ":80"
	ListenHTTPS string // ex: ":443"
	ListenAdmin string // loopback metrics/health listener, ex: "127.0.0.1:9190"

	ShutdownTimeout time.Duration // ex: 5s

	LogLevel  string // "debug" | "info" | "warn" | "error"
	PrettyLog bool   // true => zap dev (color), false => zap prod (JSON)

	Domain  string // apex domain the gateway fronts, ex: "example.net"
	RunMode string // production | local | test

	TLSCert string // path to fullchain.pem (production only)
	TLSKey  string // path to privkey.pem (production only)

	ServicesFile string // path to the services.yaml document
	SitesDir     string // root directory containing per-service public folders
	StaticDir    string // shared /static assets
	GlobalDir    string // shared /global assets

	CORSExemptPrefix string // path prefix never forced onto https, ex: "/api/"

	// Bot defense
	BlockThreshold int           // cumulative suspicion score that triggers a block
	DecayWindow    time.Duration // idle time after which a suspicion record resets

	// Health checks
	CheckInterval time.Duration // how often the dispatcher ticks
	CheckTimeout  time.Duration // default per-check timeout
	PingURL       string        // dead-man's-switch URL template, ex: "https://hc-ping.com/%s"

	// Session login
	AdminUser  string        // optional; empty disables the session gate
	AdminPass  string        // optional
	SessionTTL time.Duration // session lifetime in redis

	// Redis
	RedisAddr           string        // ex: "localhost:6379"
	RedisUser           string        // optional
	RedisPassword       string        // optional
	RedisDB             int           // Redis DB number
	RedisDT             time.Duration // Redis dial timeout (ex: 5s)
	RedisRT             time.Duration // Redis read timeout (ex: 3s)
	RedisWT             time.Duration // Redis write timeout (ex: 3s)
	RedisMaxWait        time.Duration // max wait between retries (ex: 10s)
	RedisPingTimeout    time.Duration // timeout for each ping attempt (ex: 5s)
	RedisPoolSize       int           // Redis connection pool size
	RedisConnectTimeout time.Duration // Total time to retry connecting (ex: 30s)
	RedisRetryInterval  time.Duration // Initial wait between retries (ex: 2s, grows exponentially)
	RedisWarnThreshold  int           // warn after this many attempts

	TrustProxy bool // true => trust X-Forwarded-For headers
}

func Load() *Config {
	cfg := &Config{
		// Listeners
		ListenHTTP:  getenv("DECK_LISTEN_HTTP", ":80"),
		ListenHTTPS: getenv("DECK_LISTEN_HTTPS", ":443"),
		ListenAdmin: getenv("DECK_LISTEN_ADMIN", "127.0.0.1:9190"),

		ShutdownTimeout: mustDuration("DECK_SHUTDOWN_TIMEOUT", 5*time.Second),

		// Logging
		LogLevel:  getenv("DECK_LOG_LEVEL", "info"),
		PrettyLog: mustBool("DECK_PRETTY_LOG", false),

		// Identity
		Domain:  requireEnv("DECK_DOMAIN"),
		RunMode: getenv("DECK_RUN_MODE", ModeProduction),

		// TLS material (provisioned externally, consumed here)
		TLSCert: getenv("DECK_TLS_CERT", ""),
		TLSKey:  getenv("DECK_TLS_KEY", ""),

		// Content roots
		ServicesFile: requireEnv("DECK_SERVICES_FILE"),
		SitesDir:     getenv("DECK_SITES_DIR", "/srv/deck/sites"),
		StaticDir:    getenv("DECK_STATIC_DIR", "/srv/deck/static"),
		GlobalDir:    getenv("DECK_GLOBAL_DIR", "/srv/deck/global"),

		CORSExemptPrefix: getenv("DECK_CORS_EXEMPT_PREFIX", "/api/"),

		// Bot defense
		BlockThreshold: getenvInt("DECK_BLOCK_THRESHOLD", 100),
		DecayWindow:    mustDuration("DECK_DECAY_WINDOW", time.Hour),

		// Health checks
		CheckInterval: mustDuration("DECK_CHECK_INTERVAL", time.Hour),
		CheckTimeout:  mustDuration("DECK_CHECK_TIMEOUT", 10*time.Second),
		PingURL:       getenv("DECK_PING_URL", "https://hc-ping.com/%s"),

		// Session login
		AdminUser:  getenv("DECK_ADMIN_USER", ""),
		AdminPass:  getenv("DECK_ADMIN_PASS", ""),
		SessionTTL: mustDuration("DECK_SESSION_TTL", 24*time.Hour),

		// Redis settings
		RedisAddr:           requireEnv("DECK_REDIS_ADDR"),
		RedisUser:           getenv("DECK_REDIS_USERNAME", "default"),
		RedisPassword:       getenv("DECK_REDIS_PASSWORD", ""),
		RedisDB:             getenvInt("DECK_REDIS_DB", 0),
		RedisDT:             mustDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
		RedisRT:             mustDuration("REDIS_READ_TIMEOUT", 3*time.Second),
		RedisWT:             mustDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		RedisMaxWait:        mustDuration("REDIS_MAX_WAIT", 10*time.Second),
		RedisPingTimeout:    mustDuration("REDIS_PING_TIMEOUT", 5*time.Second),
		RedisPoolSize:       getenvInt("REDIS_POOL_SIZE", 10),
		RedisConnectTimeout: mustDuration("REDIS_CONNECT_TIMEOUT", 30*time.Second),
		RedisRetryInterval:  mustDuration("REDIS_RETRY_INTERVAL", 2*time.Second),
		RedisWarnThreshold:  getenvInt("REDIS_WARN_THRESHOLD", 3),

		TrustProxy: mustBool("DECK_TRUST_PROXY", false),
	}

	switch cfg.RunMode {
	case ModeProduction, ModeLocal, ModeTest:
	default:
		panic(fmt.Sprintf("❌ FATAL: invalid DECK_RUN_MODE %q (want production|local|test)", cfg.RunMode))
	}

	if cfg.RunMode == ModeProduction && (cfg.TLSCert == "" || cfg.TLSKey == "") {
		panic("❌ FATAL: DECK_TLS_CERT and DECK_TLS_KEY are required in production mode")
	}

	if strings.Contains(cfg.Domain, "/") || strings.Contains(cfg.Domain, ":") {
		panic(fmt.Sprintf("❌ FATAL: DECK_DOMAIN must be a bare domain, got %q", cfg.Domain))
	}

	return cfg
}

// IsProduction reports whether the gateway terminates TLS, enforces the
// https upgrade and fires dead-man pings.
func (c *Config) IsProduction() bool { return c.RunMode == ModeProduction }

// helpers
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func requireEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		panic(fmt.Sprintf("❌ FATAL: Required environment variable %s is not set", key))
	}
	return v
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func mustBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func mustDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
