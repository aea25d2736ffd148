package backend

import (
	"fmt"
	"sync"
)

// Kind identifies a concrete backend implementation.
type Kind string

// Recognized backend kinds.
const (
	KindMongo    Kind = "mongo"
	KindPostgres Kind = "postgres"
)

// DefaultKind backs deployments that leave the backend unset.
const DefaultKind = KindMongo

// Selector resolves the deployment-wide backend choice exactly once. An
// explicitly-but-wrongly-specified value fails at resolution time; it never
// silently falls back to the default.
type Selector struct {
	configured string

	once sync.Once
	kind Kind
	err  error
}

// NewSelector creates a selector for the given configuration value. An empty
// value resolves to DefaultKind.
func NewSelector(configured string) *Selector {
	return &Selector{configured: configured}
}

// Resolve returns the selected backend kind. The result is computed on the
// first call and cached for the life of the process.
func (s *Selector) Resolve() (Kind, error) {
	s.once.Do(func() {
		switch s.configured {
		case "":
			s.kind = DefaultKind
		case string(KindMongo):
			s.kind = KindMongo
		case string(KindPostgres):
			s.kind = KindPostgres
		default:
			s.err = fmt.Errorf("unrecognized backend %q: expected %q or %q",
				s.configured, KindMongo, KindPostgres)
		}
	})
	return s.kind, s.err
}

// Opener creates a Store bound to the named resource.
type Opener func(resource string) (Store, error)

// Provider dispatches store opening through the selector, while exposing the
// namespaced openers for callers that need a specific backend regardless of
// the global configuration.
type Provider struct {
	selector *Selector
	mongo    Opener
	postgres Opener
}

// NewProvider wires a provider from a selector and the two concrete openers.
// An opener may be nil when its backend is not configured; resolving to a
// nil opener is an error.
func NewProvider(selector *Selector, mongo, postgres Opener) *Provider {
	return &Provider{selector: selector, mongo: mongo, postgres: postgres}
}

// Open creates a store on the backend the selector resolves to.
func (p *Provider) Open(resource string) (Store, error) {
	kind, err := p.selector.Resolve()
	if err != nil {
		return nil, err
	}
	var open Opener
	switch kind {
	case KindMongo:
		open = p.mongo
	case KindPostgres:
		open = p.postgres
	}
	if open == nil {
		return nil, fmt.Errorf("backend %q selected but not configured", kind)
	}
	return open(resource)
}

// Mongo returns the always-MongoDB opener, bypassing the selector.
func (p *Provider) Mongo() Opener {
	return p.mongo
}

// Postgres returns the always-PostgreSQL opener, bypassing the selector.
func (p *Provider) Postgres() Opener {
	return p.postgres
}
