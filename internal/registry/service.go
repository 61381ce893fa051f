package registry

import "time"

// ServiceType selects the request handler for a subdomain.
type ServiceType string

const (
	TypeIndex   ServiceType = "index"   // static files with a 404 fallback page
	TypeSPA     ServiceType = "spa"     // static files with app-shell catch-all
	TypeDirlist ServiceType = "dirlist" // static files with directory listings
	TypeProxy   ServiceType = "proxy"   // reverse proxy to an upstream target
)

// Protocol declares which scheme a service is meant to be reached over.
type Protocol string

const (
	ProtocolSecure   Protocol = "secure"
	ProtocolInsecure Protocol = "insecure"
)

// CheckType selects the wire protocol used to health-check a service.
type CheckType string

const (
	CheckHTTP     CheckType = "http"
	CheckGamedig  CheckType = "gamedig"
	CheckOdalpapi CheckType = "odalpapi"
)

// ProxySpec describes the upstream of a proxy-type service.
type ProxySpec struct {
	Target    string // upstream host:port
	Path      string // optional path prefix prepended upstream
	WebSocket bool   // upstream speaks websocket; route Upgrade requests
}

// Meta is the default metadata template attached to health reports.
// Extractor output is merged on top of it.
type Meta struct {
	Tag     string
	Online  int
	Max     int
	Version string
	Link    string
}

// Healthcheck describes how (and how often) a service is polled.
// A descriptor with only PingID set is the gateway's own status
// contract: its presence alone means healthy.
type Healthcheck struct {
	Type      CheckType
	Path      string // http: URL to GET
	Target    string // gamedig/odalpapi: host:port
	Timeout   time.Duration
	Parser    string // http: registered parser name
	QueryType string // gamedig: registered query adapter name
	Extractor string // optional registered extractor name
	Interval  time.Duration
	PingID    string // dead-man's-switch check ID
	Meta      Meta
}

// Service is one subdomain's descriptor. Immutable after load; a config
// change requires a process restart.
type Service struct {
	Name        string // subdomain, unique key
	Display     string
	Type        ServiceType
	Protocol    Protocol
	Proxy       ProxySpec
	BasicUser   string // dirlist /protected credentials
	BasicPass   string
	RequireAuth bool // gate behind the session login
	Healthcheck *Healthcheck
}

// HasBasicAuth reports whether the dirlist /protected subtree is gated.
func (s *Service) HasBasicAuth() bool {
	return s.BasicUser != "" && s.BasicPass != ""
}
