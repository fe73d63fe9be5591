// Package pipeline defines the hook contract analysis pipelines implement
// and the registry the monitor resolves them from.
package pipeline

import (
	"context"
	"sort"
	"sync"

	"github.com/etive-io/asimov/errors"
	"github.com/etive-io/asimov/subject"
)

// BuildOptions configures DAG generation.
type BuildOptions struct {
	// Rundir is the directory the pipeline builds into.
	Rundir string
	// DryRun stops the pipeline short of side effects beyond the rundir.
	DryRun bool
}

// Pipeline is the set of hooks the monitor drives an analysis through.
// Hooks a pipeline does not support return a NotSupported error; the monitor
// treats that as a no-op everywhere except Resurrect, where an unsupported
// hook means the analysis cannot be revived.
type Pipeline interface {
	// BuildDAG generates the pipeline's submission files in the rundir.
	BuildDAG(ctx context.Context, opts BuildOptions) error

	// SubmitDAG hands the built DAG to the scheduler and returns the job
	// identifier. Under dryRun nothing is submitted and the identifier
	// is empty.
	SubmitDAG(ctx context.Context, dryRun bool) (string, error)

	// DetectCompletion reports whether the analysis has produced its
	// results.
	DetectCompletion(ctx context.Context) (bool, error)

	// BeforeSubmit runs immediately before submission.
	BeforeSubmit(ctx context.Context) error

	// AfterCompletion runs once when completion is first detected.
	AfterCompletion(ctx context.Context) error

	// AfterProcessing runs when post-processing of results has finished.
	AfterProcessing(ctx context.Context) error

	// Resurrect attempts to revive a held or vanished job.
	Resurrect(ctx context.Context) error

	// EjectJob removes the analysis's job from the scheduler.
	EjectJob(ctx context.Context) error

	// CollectAssets maps asset names to paths of the analysis's outputs.
	CollectAssets(ctx context.Context) (map[string]string, error)
}

// Factory builds a pipeline bound to one production.
type Factory func(p *subject.Production) Pipeline

// Registry resolves pipeline names to factories. Pipelines are registered
// explicitly at startup.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: map[string]Factory{}}
}

// Register adds a named factory, rejecting duplicates.
func (r *Registry) Register(name string, factory Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; exists {
		return errors.NewConflict("a pipeline named %s is already registered", name)
	}
	r.factories[name] = factory
	return nil
}

// Get builds a pipeline for the production's declared pipeline name.
func (r *Registry) Get(p *subject.Production) (Pipeline, error) {
	r.mu.RLock()
	factory, ok := r.factories[p.Pipeline]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.NewNotFound("no pipeline registered for %s", p.Pipeline)
	}
	return factory(p), nil
}

// Names lists the registered pipeline names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Base provides NotSupported defaults for every hook, so concrete pipelines
// implement only what they support.
type Base struct {
	Production *subject.Production
}

func (b *Base) BuildDAG(ctx context.Context, opts BuildOptions) error {
	return errors.Wrap(errors.ErrNotSupported, "pipeline does not build DAGs")
}

func (b *Base) SubmitDAG(ctx context.Context, dryRun bool) (string, error) {
	return "", errors.Wrap(errors.ErrNotSupported, "pipeline does not submit DAGs")
}

func (b *Base) DetectCompletion(ctx context.Context) (bool, error) {
	return false, errors.Wrap(errors.ErrNotSupported, "pipeline does not detect completion")
}

func (b *Base) BeforeSubmit(ctx context.Context) error {
	return errors.Wrap(errors.ErrNotSupported, "pipeline has no before-submit hook")
}

func (b *Base) AfterCompletion(ctx context.Context) error {
	return errors.Wrap(errors.ErrNotSupported, "pipeline has no after-completion hook")
}

func (b *Base) AfterProcessing(ctx context.Context) error {
	return errors.Wrap(errors.ErrNotSupported, "pipeline has no after-processing hook")
}

func (b *Base) Resurrect(ctx context.Context) error {
	return errors.Wrap(errors.ErrNotSupported, "pipeline cannot resurrect jobs")
}

func (b *Base) EjectJob(ctx context.Context) error {
	return errors.Wrap(errors.ErrNotSupported, "pipeline cannot eject jobs")
}

func (b *Base) CollectAssets(ctx context.Context) (map[string]string, error) {
	return nil, errors.Wrap(errors.ErrNotSupported, "pipeline has no assets")
}
