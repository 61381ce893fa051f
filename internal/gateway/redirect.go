package gateway

import (
	"strings"

	"github.com/quarterdeck/deck/internal/registry"
	"github.com/quarterdeck/deck/internal/utils"
)

// decision is the outcome of host validation and the redirect rules.
// Exactly one of redirect / (service or bare-domain root) applies.
type decision struct {
	service  *registry.Service // nil => bare domain
	redirect string            // non-empty => redirect there
}

// decide applies the host and protocol rules, in order. Redirect
// targets are always absolute; re-requesting one never redirects
// again for a correctly configured domain.
func (g *Gateway) decide(host, path string, secure bool) decision {
	hostNoPort := strings.ToLower(utils.ParseHostNoPort(host))

	// ACME challenge responses must be served plain; downgrade before
	// anything else so the challenge never bounces through https.
	if strings.HasPrefix(path, acmeChallengePath) {
		if secure {
			return decision{redirect: "http://" + hostNoPort + path}
		}
		if hostNoPort == "www."+g.domain {
			return decision{}
		}
		return g.matchHost(hostNoPort)
	}

	// www canonicalizes onto the bare secure domain, keeping the path.
	if hostNoPort == "www."+g.domain {
		return decision{redirect: "https://" + g.domain + path}
	}

	dec := g.matchHost(hostNoPort)
	if dec.redirect != "" {
		return dec
	}

	if svc := dec.service; svc != nil && svc.Protocol == registry.ProtocolInsecure && secure {
		// Service is deliberately plain-http; downgrade.
		return decision{redirect: "http://" + hostNoPort + path}
	}

	exempt := g.corsExemptPrefix != "" && strings.HasPrefix(path, g.corsExemptPrefix)
	if g.enforceSecure && !secure && !exempt {
		if dec.service == nil || dec.service.Protocol == registry.ProtocolSecure {
			return decision{redirect: "https://" + hostNoPort + path}
		}
	}

	return dec
}

// matchHost validates the Host header against the accepted set: the
// bare domain and every registered service subdomain.
func (g *Gateway) matchHost(hostNoPort string) decision {
	if hostNoPort == g.domain {
		return decision{}
	}

	suffix := "." + g.domain
	if !strings.HasSuffix(hostNoPort, suffix) {
		// Foreign host entirely: send to the secure root.
		return decision{redirect: "https://" + g.domain + "/"}
	}

	name := strings.TrimSuffix(hostNoPort, suffix)
	if svc, ok := g.reg.Lookup(name); ok {
		return decision{service: svc}
	}

	// Under our domain but no such service: bare domain, plain scheme.
	return decision{redirect: "http://" + g.domain + "/"}
}
