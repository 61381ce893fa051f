package healthcheck

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rumblefrog/go-a2s"

	"github.com/quarterdeck/deck/internal/odalpapi"
)

// Parser decides whether an HTTP response body means healthy.
type Parser func(body string) bool

// Extractor pulls report metadata out of protocol state: a response
// body for http checks, *odalpapi.Result or *a2s.ServerInfo for query
// checks. Output keys are merged over the descriptor's meta template.
type Extractor func(state any) map[string]string

// Plugins is the name -> function table for parsers and extractors.
// Populated once at startup from built-ins plus user registrations;
// never mutated on the request path.
type Plugins struct {
	parsers    map[string]Parser
	extractors map[string]Extractor
}

// NewPlugins returns a table pre-loaded with the built-in parsers and
// extractors.
func NewPlugins() *Plugins {
	p := &Plugins{
		parsers:    make(map[string]Parser),
		extractors: make(map[string]Extractor),
	}

	// Built-in parsers.
	p.parsers["contains-ok"] = func(body string) bool {
		return strings.Contains(body, "OK")
	}
	p.parsers["non-empty"] = func(body string) bool {
		return strings.TrimSpace(body) != ""
	}
	p.parsers["json-status-ok"] = func(body string) bool {
		return strings.Contains(body, `"status":"ok"`) || strings.Contains(body, `"status": "ok"`)
	}

	// Built-in extractors.
	p.extractors["odalpapi-info"] = func(state any) map[string]string {
		res, ok := state.(*odalpapi.Result)
		if !ok {
			return nil
		}
		return map[string]string{
			"online":  strconv.Itoa(len(res.Players)),
			"max":     strconv.Itoa(res.MaxPlayers),
			"version": res.VersionString,
		}
	}
	p.extractors["a2s-info"] = func(state any) map[string]string {
		info, ok := state.(*a2s.ServerInfo)
		if !ok {
			return nil
		}
		return map[string]string{
			"online":  strconv.Itoa(int(info.Players)),
			"max":     strconv.Itoa(int(info.MaxPlayers)),
			"version": info.Version,
		}
	}

	return p
}

// RegisterParser adds a user-supplied parser. Registration happens at
// startup; a nil function or duplicate name is rejected, never
// half-installed.
func (p *Plugins) RegisterParser(name string, fn Parser) error {
	if fn == nil {
		return fmt.Errorf("parser %q is nil", name)
	}
	if _, exists := p.parsers[name]; exists {
		return fmt.Errorf("parser %q already registered", name)
	}
	p.parsers[name] = fn
	return nil
}

// RegisterExtractor adds a user-supplied extractor.
func (p *Plugins) RegisterExtractor(name string, fn Extractor) error {
	if fn == nil {
		return fmt.Errorf("extractor %q is nil", name)
	}
	if _, exists := p.extractors[name]; exists {
		return fmt.Errorf("extractor %q already registered", name)
	}
	p.extractors[name] = fn
	return nil
}

// Parser looks up a parser by name.
func (p *Plugins) Parser(name string) (Parser, bool) {
	fn, ok := p.parsers[name]
	return fn, ok
}

// Extractor looks up an extractor by name.
func (p *Plugins) Extractor(name string) (Extractor, bool) {
	fn, ok := p.extractors[name]
	return fn, ok
}
