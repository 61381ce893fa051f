package registry

import (
	"fmt"
	"net"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// servicesDoc mirrors the YAML services document: top-level keys are
// service subdomains, values are the persisted descriptor shape the
// config editor writes.
type servicesDoc map[string]serviceProps

type serviceProps struct {
	Display     string      `yaml:"display,omitempty"`
	Type        string      `yaml:"type"`
	Protocol    string      `yaml:"protocol,omitempty"`
	Subdomain   *subdomain  `yaml:"subdomain,omitempty"`
	Healthcheck *checkProps `yaml:"healthcheck,omitempty"`
}

type subdomain struct {
	Proxy       *proxyProps `yaml:"proxy,omitempty"`
	BasicUser   string      `yaml:"basicUser,omitempty"`
	BasicPass   string      `yaml:"basicPass,omitempty"`
	RequireAuth bool        `yaml:"requireAuth,omitempty"`
}

type proxyProps struct {
	Target string `yaml:"target"`
	Path   string `yaml:"path,omitempty"`
	Socket bool   `yaml:"socket,omitempty"`
}

type checkProps struct {
	Type      string    `yaml:"type,omitempty"`
	Path      string    `yaml:"path,omitempty"`
	Target    string    `yaml:"target,omitempty"`
	Timeout   string    `yaml:"timeout,omitempty"`
	Parser    string    `yaml:"parser,omitempty"`
	Query     string    `yaml:"query,omitempty"`
	Extractor string    `yaml:"extractor,omitempty"`
	Interval  string    `yaml:"interval,omitempty"`
	Ping      string    `yaml:"ping,omitempty"`
	Meta      metaProps `yaml:"meta,omitempty"`
}

type metaProps struct {
	Tag     string `yaml:"tag,omitempty"`
	Online  int    `yaml:"online,omitempty"`
	Max     int    `yaml:"max,omitempty"`
	Version string `yaml:"version,omitempty"`
	Link    string `yaml:"link,omitempty"`
}

// reserved subdomains that can never be service names.
var reservedNames = map[string]bool{
	"www": true,
}

// Load reads and validates the services document, returning an
// immutable Registry. Any invalid descriptor fails the whole load;
// a gateway running with a partial service table routes wrong.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read services file: %w", err)
	}
	return Parse(data)
}

// Parse builds a Registry from the raw YAML document.
func Parse(data []byte) (*Registry, error) {
	var doc servicesDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse services yaml: %w", err)
	}

	services := make(map[string]*Service, len(doc))
	for name, props := range doc {
		svc, err := buildService(name, props)
		if err != nil {
			return nil, fmt.Errorf("service %q: %w", name, err)
		}
		if _, dup := services[svc.Name]; dup {
			return nil, fmt.Errorf("service %q: duplicate name", svc.Name)
		}
		services[svc.Name] = svc
	}

	return &Registry{services: services}, nil
}

func buildService(name string, props serviceProps) (*Service, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return nil, fmt.Errorf("empty service name")
	}
	if reservedNames[name] {
		return nil, fmt.Errorf("name is reserved")
	}
	if strings.Contains(name, ".") {
		return nil, fmt.Errorf("name must be a single label, got %q", name)
	}

	svc := &Service{
		Name:     name,
		Display:  props.Display,
		Type:     ServiceType(props.Type),
		Protocol: Protocol(props.Protocol),
	}
	if svc.Display == "" {
		svc.Display = name
	}
	if svc.Protocol == "" {
		svc.Protocol = ProtocolSecure
	}

	switch svc.Type {
	case TypeIndex, TypeSPA, TypeDirlist, TypeProxy:
	default:
		return nil, fmt.Errorf("unknown type %q", props.Type)
	}
	switch svc.Protocol {
	case ProtocolSecure, ProtocolInsecure:
	default:
		return nil, fmt.Errorf("unknown protocol %q", props.Protocol)
	}

	if sub := props.Subdomain; sub != nil {
		svc.BasicUser = sub.BasicUser
		svc.BasicPass = sub.BasicPass
		svc.RequireAuth = sub.RequireAuth
		if sub.Proxy != nil {
			svc.Proxy = ProxySpec{
				Target:    sub.Proxy.Target,
				Path:      strings.TrimSuffix(sub.Proxy.Path, "/"),
				WebSocket: sub.Proxy.Socket,
			}
		}
	}

	if svc.Type == TypeProxy {
		if svc.Proxy.Target == "" {
			return nil, fmt.Errorf("proxy service needs subdomain.proxy.target")
		}
		if _, _, err := net.SplitHostPort(svc.Proxy.Target); err != nil {
			return nil, fmt.Errorf("proxy target must be host:port, got %q", svc.Proxy.Target)
		}
	}
	if svc.BasicUser != "" && svc.Type != TypeDirlist {
		return nil, fmt.Errorf("basicUser is only valid on dirlist services")
	}

	if props.Healthcheck != nil {
		hc, err := buildHealthcheck(*props.Healthcheck)
		if err != nil {
			return nil, fmt.Errorf("healthcheck: %w", err)
		}
		svc.Healthcheck = hc
	}

	return svc, nil
}

func buildHealthcheck(props checkProps) (*Healthcheck, error) {
	hc := &Healthcheck{
		Type:      CheckType(props.Type),
		Path:      props.Path,
		Target:    props.Target,
		Parser:    props.Parser,
		QueryType: props.Query,
		Extractor: props.Extractor,
		PingID:    props.Ping,
		Meta: Meta{
			Tag:     props.Meta.Tag,
			Online:  props.Meta.Online,
			Max:     props.Meta.Max,
			Version: props.Meta.Version,
			Link:    props.Meta.Link,
		},
	}

	var err error
	if hc.Timeout, err = parseDuration(props.Timeout); err != nil {
		return nil, fmt.Errorf("invalid timeout %q", props.Timeout)
	}
	if hc.Interval, err = parseDuration(props.Interval); err != nil {
		return nil, fmt.Errorf("invalid interval %q", props.Interval)
	}

	switch hc.Type {
	case "":
		// A type-less descriptor is only valid as a bare ping contract.
		if hc.PingID == "" {
			return nil, fmt.Errorf("missing type")
		}
	case CheckHTTP:
		if hc.Path == "" {
			return nil, fmt.Errorf("http check needs a path")
		}
	case CheckGamedig:
		if hc.Target == "" {
			return nil, fmt.Errorf("gamedig check needs a target")
		}
	case CheckOdalpapi:
		if _, _, err := net.SplitHostPort(hc.Target); err != nil {
			return nil, fmt.Errorf("odalpapi target must be host:port, got %q", hc.Target)
		}
	default:
		return nil, fmt.Errorf("unknown check type %q", props.Type)
	}

	return hc, nil
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

// Registry is the in-memory service table. Built once at startup and
// read-only afterwards; a config save restarts the process.
type Registry struct {
	services map[string]*Service
}

// Lookup returns the service registered under the given subdomain.
func (r *Registry) Lookup(name string) (*Service, bool) {
	svc, ok := r.services[strings.ToLower(name)]
	return svc, ok
}

// All returns every service, sorted by name for deterministic fan-out.
func (r *Registry) All() []*Service {
	out := make([]*Service, 0, len(r.services))
	for _, svc := range r.services {
		out = append(out, svc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of registered services.
func (r *Registry) Len() int { return len(r.services) }
