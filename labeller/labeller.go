// Package labeller applies labels to productions each monitor cycle.
// Labellers are registered explicitly at startup; there is no runtime
// discovery.
package labeller

import (
	"sort"
	"sync"

	"github.com/etive-io/asimov/errors"
	"github.com/etive-io/asimov/logger"
	"github.com/etive-io/asimov/subject"
)

// Labeller inspects a production and proposes labels for it.
type Labeller interface {
	// Name identifies the labeller in logs.
	Name() string

	// ShouldLabel reports whether this labeller applies to the
	// production at all.
	ShouldLabel(p *subject.Production) bool

	// Label computes the labels to merge into the production.
	Label(p *subject.Production) (map[string]interface{}, error)
}

// Registry holds the labellers applied each cycle.
type Registry struct {
	mu        sync.RWMutex
	labellers map[string]Labeller
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{labellers: map[string]Labeller{}}
}

// Register adds a labeller, rejecting duplicate names.
func (r *Registry) Register(l Labeller) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.labellers[l.Name()]; exists {
		return errors.NewConflict("a labeller named %s is already registered", l.Name())
	}
	r.labellers[l.Name()] = l
	return nil
}

// Names lists the registered labeller names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.labellers))
	for name := range r.labellers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Apply runs every applicable labeller over the production, merging the
// returned labels. A failing labeller is logged and skipped; it never aborts
// the others.
func (r *Registry) Apply(p *subject.Production) {
	r.mu.RLock()
	names := make([]string, 0, len(r.labellers))
	for name := range r.labellers {
		names = append(names, name)
	}
	sort.Strings(names)
	labellers := make([]Labeller, 0, len(names))
	for _, name := range names {
		labellers = append(labellers, r.labellers[name])
	}
	r.mu.RUnlock()

	for _, l := range labellers {
		if !l.ShouldLabel(p) {
			continue
		}
		labels, err := l.Label(p)
		if err != nil {
			logger.Warnw("Labeller failed",
				"labeller", l.Name(),
				"production", p.Name,
				"error", err,
			)
			continue
		}
		for key, value := range labels {
			p.SetLabel(key, value)
		}
	}
}
