// Package monitor drives productions through their lifecycle: it reconciles
// ledger state against the scheduler queue, fires pipeline hooks, and
// submits analyses whose dependencies are satisfied.
package monitor

import (
	"context"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/etive-io/asimov/errors"
	"github.com/etive-io/asimov/labeller"
	"github.com/etive-io/asimov/ledger"
	"github.com/etive-io/asimov/pipeline"
	"github.com/etive-io/asimov/scheduler"
	"github.com/etive-io/asimov/subject"
)

// Context carries everything one monitor pass needs. It is built per
// invocation; nothing in it is global.
type Context struct {
	Ledger    ledger.Ledger
	Cache     *scheduler.JobCache
	Pipelines *pipeline.Registry
	Labellers *labeller.Registry
	Log       *zap.SugaredLogger

	// DryRun stops the monitor short of submitting or mutating
	// scheduler state.
	DryRun bool

	// RundirDefault is the directory name under a subject's working
	// directory where analysis rundirs are created.
	RundirDefault string

	// SubjectFilter restricts the pass to one subject when non-empty.
	SubjectFilter string
}

func (c *Context) rundir(s *subject.Subject, p *subject.Production) string {
	base := c.RundirDefault
	if base == "" {
		base = "working"
	}
	// Project-level analyses have no owning subject; their rundirs live
	// directly under the project root.
	if s == nil {
		return filepath.Join(base, p.Name)
	}
	return filepath.Join(s.WorkingDirectory, base, p.Name)
}

// monitored reports whether a monitor pass should examine the production.
// Beyond the tracked set this includes the stop and restart requests and
// finished productions awaiting their after-completion handling.
func monitored(p *subject.Production) bool {
	return p.Status.Tracked() || p.Status == subject.StatusStop ||
		p.Status == subject.StatusRestart || p.Status == subject.StatusFinished
}

// fatal reports whether an error must abort the whole cycle rather than
// being contained to one production.
func fatal(err error) bool {
	return errors.IsSchedulerUnreachable(err) || errors.IsLockTimeout(err)
}

// RunCycle performs one monitor pass: each subject's tracked productions are
// dispatched on their job state or status, labellers run, and every change
// is persisted as it happens. Hook failures are contained to the production
// that raised them; scheduler and ledger-lock failures abort the cycle.
func (c *Context) RunCycle(ctx context.Context) error {
	for _, s := range c.subjects() {
		for _, p := range s.Productions {
			if !monitored(p) {
				continue
			}

			c.Labellers.Apply(p)

			if err := c.dispatch(ctx, p); err != nil {
				if fatal(err) {
					return err
				}
				c.Log.Errorw("Production failed during monitoring",
					"subject", s.Name,
					"production", p.Name,
					"error", err,
				)
				p.SetError(err.Error())
			}

			if err := c.Ledger.Save(); err != nil {
				return err
			}
		}

		state := s.State()
		if s.Meta == nil {
			s.Meta = map[string]interface{}{}
		}
		s.Meta["state"] = string(state)
		if err := c.Ledger.Save(); err != nil {
			return err
		}
		c.Log.Infow("Subject state",
			"subject", s.Name,
			"state", state,
		)
	}
	return c.runAnalyses(ctx)
}

// runAnalyses dispatches project-level analyses through the same machinery
// as subject productions. They live outside any subject, so each one is
// persisted through the ledger's analysis record rather than a subject save.
func (c *Context) runAnalyses(ctx context.Context) error {
	if c.SubjectFilter != "" {
		return nil
	}
	for _, p := range c.Ledger.ProjectAnalyses() {
		if !monitored(p) {
			continue
		}

		c.Labellers.Apply(p)

		if err := c.dispatch(ctx, p); err != nil {
			if fatal(err) {
				return err
			}
			c.Log.Errorw("Project analysis failed during monitoring",
				"analysis", p.Name,
				"error", err,
			)
			p.SetError(err.Error())
		}

		if err := c.Ledger.UpdateProjectAnalysis(p); err != nil {
			return err
		}
	}
	return nil
}

func (c *Context) subjects() []*subject.Subject {
	all := c.Ledger.Subjects()
	if c.SubjectFilter == "" {
		return all
	}
	for _, s := range all {
		if s.Name == c.SubjectFilter {
			return []*subject.Subject{s}
		}
	}
	return nil
}

// dispatch advances one production by one step.
func (c *Context) dispatch(ctx context.Context, p *subject.Production) error {
	pipe, err := c.Pipelines.Get(p)
	if err != nil {
		return err
	}

	switch p.Status {
	case subject.StatusStop:
		return c.stop(ctx, p, pipe)
	case subject.StatusRestart:
		return c.restart(ctx, p, pipe)
	}

	if p.JobID != "" {
		return c.dispatchJob(ctx, p, pipe)
	}
	return c.dispatchStatus(ctx, p, pipe)
}

// stop ejects the job from the scheduler and parks the production.
func (c *Context) stop(ctx context.Context, p *subject.Production, pipe pipeline.Pipeline) error {
	if c.DryRun {
		c.Log.Infow("Would stop production", "production", p.Name)
		return nil
	}
	if err := pipe.EjectJob(ctx); err != nil && !errors.IsNotSupported(err) {
		return errors.Wrapf(err, "failed to eject job for %s", p.Name)
	}
	p.JobID = ""
	p.Status = subject.StatusStopped
	c.Log.Infow("Stopped production", "production", p.Name)
	return nil
}

// restart ejects any current job and returns the production to the ready
// pool for resubmission.
func (c *Context) restart(ctx context.Context, p *subject.Production, pipe pipeline.Pipeline) error {
	if c.DryRun {
		c.Log.Infow("Would restart production", "production", p.Name)
		return nil
	}
	if err := pipe.EjectJob(ctx); err != nil && !errors.IsNotSupported(err) {
		return errors.Wrapf(err, "failed to eject job for %s", p.Name)
	}
	p.JobID = ""
	p.Status = subject.StatusReady
	c.Log.Infow("Restarting production", "production", p.Name)
	return nil
}

// dispatchJob reconciles a production that has a scheduler job id against
// the job cache.
func (c *Context) dispatchJob(ctx context.Context, p *subject.Production, pipe pipeline.Pipeline) error {
	job, err := c.Cache.Job(p.JobID)
	switch {
	case errors.IsNotFound(err):
		// The job left the queue; completion or loss is decided by
		// the pipeline's own evidence.
		return c.checkCompletion(ctx, p, pipe)
	case err != nil:
		return err
	}

	switch job.Status {
	case scheduler.StatusRunning, scheduler.StatusIdle:
		if p.Status == subject.StatusProcessing {
			return nil
		}
		p.Status = subject.StatusRunning
		return nil
	case scheduler.StatusCompleted, scheduler.StatusUnexplained:
		// An unexplained job may have exited behind the scheduler's
		// back; let the pipeline's own evidence decide.
		return c.checkCompletion(ctx, p, pipe)
	case scheduler.StatusHeld, scheduler.StatusRemoved, scheduler.StatusSubmissionError:
		return c.resurrect(ctx, p, pipe)
	}
	return nil
}

// checkCompletion asks the pipeline whether results exist, and finishes the
// production if so. A job that vanished without results goes through the
// resurrection path.
func (c *Context) checkCompletion(ctx context.Context, p *subject.Production, pipe pipeline.Pipeline) error {
	complete, err := pipe.DetectCompletion(ctx)
	if err != nil && !errors.IsNotSupported(err) {
		return errors.Wrapf(err, "failed to detect completion for %s", p.Name)
	}
	if !complete {
		return c.resurrect(ctx, p, pipe)
	}

	if c.DryRun {
		c.Log.Infow("Would finish production", "production", p.Name)
		return nil
	}

	p.JobID = ""
	if err := pipe.AfterCompletion(ctx); err != nil && !errors.IsNotSupported(err) {
		return errors.Wrapf(err, "after-completion hook failed for %s", p.Name)
	}
	p.SetCompletionHandled()
	// The hook may have queued post-processing under a fresh job id.
	if p.JobID != "" {
		p.Status = subject.StatusProcessing
		c.Log.Infow("Production entered post-processing",
			"production", p.Name, "job", p.JobID)
		return nil
	}
	p.Status = subject.StatusFinished
	c.Log.Infow("Production finished", "production", p.Name)
	return nil
}

// resurrect retries a failed job, bounded by the per-production resurrection
// budget. Exhaustion or a failed revival marks the production stuck.
func (c *Context) resurrect(ctx context.Context, p *subject.Production, pipe pipeline.Pipeline) error {
	if c.DryRun {
		c.Log.Infow("Would resurrect production", "production", p.Name)
		return nil
	}
	if p.Resurrections >= subject.MaxResurrections {
		p.Status = subject.StatusStuck
		p.SetError("resurrection budget exhausted")
		c.Log.Warnw("Production stuck, out of resurrections", "production", p.Name)
		return nil
	}
	p.Resurrections++
	if err := pipe.Resurrect(ctx); err != nil {
		p.Status = subject.StatusStuck
		p.SetError(err.Error())
		c.Log.Warnw("Production stuck, resurrection failed",
			"production", p.Name,
			"error", err,
		)
		return nil
	}
	p.Status = subject.StatusRunning
	c.Log.Infow("Resurrected production",
		"production", p.Name,
		"attempt", p.Resurrections,
	)
	return nil
}

// dispatchStatus advances a production that has no scheduler job.
func (c *Context) dispatchStatus(ctx context.Context, p *subject.Production, pipe pipeline.Pipeline) error {
	switch p.Status {
	case subject.StatusProcessing:
		if err := pipe.AfterProcessing(ctx); err != nil {
			// Post-processing failure is not fatal and does not
			// change the status; the stage records what stalled.
			p.SetStage("after processing failed")
			c.Log.Warnw("Post-processing failed",
				"production", p.Name,
				"error", err,
			)
			return nil
		}
		p.Status = subject.StatusFinished
		c.Log.Infow("Post-processing finished", "production", p.Name)
		return nil
	case subject.StatusRunning:
		// A running production without a job id lost its job.
		return c.checkCompletion(ctx, p, pipe)
	case subject.StatusFinished:
		return c.upload(ctx, p, pipe)
	}
	return nil
}

// upload deals with a finished production's results and promotes it to
// uploaded. The after-completion hook runs here only when completion
// detection never had the chance to run it.
func (c *Context) upload(ctx context.Context, p *subject.Production, pipe pipeline.Pipeline) error {
	if c.DryRun {
		c.Log.Infow("Would upload production results", "production", p.Name)
		return nil
	}
	if !p.CompletionHandled() {
		if err := pipe.AfterCompletion(ctx); err != nil && !errors.IsNotSupported(err) {
			return errors.Wrapf(err, "after-completion hook failed for %s", p.Name)
		}
		p.SetCompletionHandled()
	}
	p.Status = subject.StatusUploaded
	c.Log.Infow("Production results uploaded", "production", p.Name)
	return nil
}

// SubmitReady builds and submits every production on the ready frontier of
// each subject.
func (c *Context) SubmitReady(ctx context.Context) error {
	for _, s := range c.subjects() {
		if !s.Rebuild().IsAcyclic() {
			c.Log.Errorw("Subject has a cyclic dependency graph",
				"subject", s.Name,
			)
			continue
		}
		for _, p := range s.ReadyFrontier() {
			if err := c.submit(ctx, s, p); err != nil {
				if fatal(err) {
					return err
				}
				c.Log.Errorw("Submission failed",
					"subject", s.Name,
					"production", p.Name,
					"error", err,
				)
				p.SetError(err.Error())
			}
			if err := c.Ledger.Save(); err != nil {
				return err
			}
		}
	}
	return c.submitReadyAnalyses(ctx)
}

// submitReadyAnalyses submits project-level analyses in ready status. They
// have no dependency graph; readiness is the status alone.
func (c *Context) submitReadyAnalyses(ctx context.Context) error {
	if c.SubjectFilter != "" {
		return nil
	}
	for _, p := range c.Ledger.ProjectAnalyses() {
		if p.Status != subject.StatusReady {
			continue
		}
		if err := c.submit(ctx, nil, p); err != nil {
			if fatal(err) {
				return err
			}
			c.Log.Errorw("Submission failed",
				"analysis", p.Name,
				"error", err,
			)
			p.SetError(err.Error())
		}
		if err := c.Ledger.UpdateProjectAnalysis(p); err != nil {
			return err
		}
	}
	return nil
}

// submit runs the pre-submission hooks and hands one production to the
// scheduler. A nil subject means a project-level analysis.
func (c *Context) submit(ctx context.Context, s *subject.Subject, p *subject.Production) error {
	pipe, err := c.Pipelines.Get(p)
	if err != nil {
		return err
	}

	if err := pipe.BeforeSubmit(ctx); err != nil && !errors.IsNotSupported(err) {
		return errors.Wrapf(err, "before-submit hook failed for %s", p.Name)
	}

	opts := pipeline.BuildOptions{
		Rundir: c.rundir(s, p),
		DryRun: c.DryRun,
	}
	if err := pipe.BuildDAG(ctx, opts); err != nil {
		return errors.Wrapf(err, "failed to build DAG for %s", p.Name)
	}

	jobID, err := pipe.SubmitDAG(ctx, c.DryRun)
	if err != nil {
		return errors.Wrapf(err, "failed to submit %s", p.Name)
	}
	owner := "project"
	if s != nil {
		owner = s.Name
	}
	if c.DryRun {
		c.Log.Infow("Would submit production", "subject", owner, "production", p.Name)
		return nil
	}

	p.JobID = jobID
	p.Status = subject.StatusRunning
	c.Log.Infow("Submitted production",
		"subject", owner,
		"production", p.Name,
		"job", jobID,
	)
	return nil
}
