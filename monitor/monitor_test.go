package monitor

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/etive-io/asimov/errors"
	"github.com/etive-io/asimov/labeller"
	"github.com/etive-io/asimov/ledger"
	"github.com/etive-io/asimov/pipeline"
	"github.com/etive-io/asimov/scheduler"
	"github.com/etive-io/asimov/subject"
)

// fakeScheduler feeds canned queue state into the job cache.
type fakeScheduler struct {
	jobs []scheduler.RawJob
	err  error
}

func (f *fakeScheduler) Name() string { return "fake" }

func (f *fakeScheduler) Submit(ctx context.Context, desc *scheduler.JobDescription) (string, error) {
	return "", errors.ErrNotSupported
}

func (f *fakeScheduler) SubmitDAG(ctx context.Context, path, batchName string) (string, error) {
	return "", errors.ErrNotSupported
}

func (f *fakeScheduler) Delete(ctx context.Context, jobID string) error { return nil }

func (f *fakeScheduler) QueryAll(ctx context.Context) ([]scheduler.RawJob, error) {
	return f.jobs, f.err
}

// fakePipeline records hook invocations; unset hooks are not supported.
type fakePipeline struct {
	pipeline.Base

	detectResult bool
	detectErr    error

	resurrectErr error
	submitID     string

	buildCalls           int
	beforeSubmitCalls    int
	submitCalls          int
	afterCompletionCalls int
	resurrectCalls       int
	ejectCalls           int
}

func (f *fakePipeline) DetectCompletion(ctx context.Context) (bool, error) {
	return f.detectResult, f.detectErr
}

func (f *fakePipeline) AfterCompletion(ctx context.Context) error {
	f.afterCompletionCalls++
	return nil
}

func (f *fakePipeline) Resurrect(ctx context.Context) error {
	f.resurrectCalls++
	return f.resurrectErr
}

func (f *fakePipeline) EjectJob(ctx context.Context) error {
	f.ejectCalls++
	return nil
}

func (f *fakePipeline) BeforeSubmit(ctx context.Context) error {
	f.beforeSubmitCalls++
	return nil
}

func (f *fakePipeline) BuildDAG(ctx context.Context, opts pipeline.BuildOptions) error {
	f.buildCalls++
	return nil
}

func (f *fakePipeline) SubmitDAG(ctx context.Context, dryRun bool) (string, error) {
	f.submitCalls++
	if dryRun {
		return "", nil
	}
	return f.submitID, nil
}

// testContext builds a monitor context over a real YAML ledger and a job
// cache fed by the fake scheduler.
func testContext(t *testing.T, s *subject.Subject, pipe *fakePipeline, jobs []scheduler.RawJob) *Context {
	t.Helper()
	dir := t.TempDir()

	location := filepath.Join(dir, "ledger.yml")
	require.NoError(t, ledger.CreateYAML(location, "test-project"))
	led, err := ledger.OpenYAML(location, time.Second)
	require.NoError(t, err)
	require.NoError(t, led.AddSubject(s))

	cache, err := scheduler.NewJobCache(context.Background(),
		filepath.Join(dir, "job-cache.json"), &fakeScheduler{jobs: jobs})
	require.NoError(t, err)

	pipelines := pipeline.NewRegistry()
	require.NoError(t, pipelines.Register("fake", func(p *subject.Production) pipeline.Pipeline {
		return pipe
	}))

	return &Context{
		Ledger:    led,
		Cache:     cache,
		Pipelines: pipelines,
		Labellers: labeller.NewRegistry(),
		Log:       zap.NewNop().Sugar(),
	}
}

func TestRunCycle_CompletedJobFinishes(t *testing.T) {
	p := subject.NewProduction("Prod0", "fake")
	p.Status = subject.StatusRunning
	p.JobID = "42"
	s := subject.New("GW150914")
	require.NoError(t, s.AddProduction(p))

	pipe := &fakePipeline{detectResult: true}
	mctx := testContext(t, s, pipe, []scheduler.RawJob{
		{ID: "42", Status: scheduler.StatusCompleted},
	})

	require.NoError(t, mctx.RunCycle(context.Background()))

	assert.Equal(t, subject.StatusFinished, p.Status)
	assert.Empty(t, p.JobID)
	assert.Equal(t, 1, pipe.afterCompletionCalls)
}

func TestRunCycle_VanishedJobFinishes(t *testing.T) {
	p := subject.NewProduction("Prod0", "fake")
	p.Status = subject.StatusRunning
	p.JobID = "42"
	s := subject.New("GW150914")
	require.NoError(t, s.AddProduction(p))

	pipe := &fakePipeline{detectResult: true}
	mctx := testContext(t, s, pipe, nil)

	require.NoError(t, mctx.RunCycle(context.Background()))

	assert.Equal(t, subject.StatusFinished, p.Status)
	assert.Empty(t, p.JobID)
}

func TestRunCycle_RunningJobIsLeftAlone(t *testing.T) {
	p := subject.NewProduction("Prod0", "fake")
	p.Status = subject.StatusRunning
	p.JobID = "42"
	s := subject.New("GW150914")
	require.NoError(t, s.AddProduction(p))

	pipe := &fakePipeline{}
	mctx := testContext(t, s, pipe, []scheduler.RawJob{
		{ID: "42", Status: scheduler.StatusRunning},
	})

	require.NoError(t, mctx.RunCycle(context.Background()))

	assert.Equal(t, subject.StatusRunning, p.Status)
	assert.Equal(t, "42", p.JobID)
	assert.Zero(t, pipe.afterCompletionCalls)
	assert.Zero(t, pipe.resurrectCalls)
}

func TestRunCycle_FailedResurrectionGoesStuck(t *testing.T) {
	failing := subject.NewProduction("Prod0", "fake")
	failing.Status = subject.StatusRunning
	sibling := subject.NewProduction("Prod1", "fake")
	sibling.Status = subject.StatusRunning
	sibling.JobID = "7"

	s := subject.New("GW150914")
	require.NoError(t, s.AddProduction(failing))
	require.NoError(t, s.AddProduction(sibling))

	pipe := &fakePipeline{
		detectResult: false,
		resurrectErr: errors.New("rescue script missing"),
	}
	mctx := testContext(t, s, pipe, []scheduler.RawJob{
		{ID: "7", Status: scheduler.StatusRunning},
	})

	require.NoError(t, mctx.RunCycle(context.Background()))

	assert.Equal(t, subject.StatusStuck, failing.Status)
	assert.Equal(t, "rescue script missing", failing.Meta["error"])
	assert.Equal(t, subject.StatusRunning, sibling.Status,
		"the cycle continues past a stuck production")
	assert.Equal(t, subject.StatusStuck, s.State())
}

func TestRunCycle_ResurrectionIsBounded(t *testing.T) {
	p := subject.NewProduction("Prod0", "fake")
	p.Status = subject.StatusRunning
	p.JobID = "42"
	p.Resurrections = subject.MaxResurrections
	s := subject.New("GW150914")
	require.NoError(t, s.AddProduction(p))

	pipe := &fakePipeline{}
	mctx := testContext(t, s, pipe, []scheduler.RawJob{
		{ID: "42", Status: scheduler.StatusHeld},
	})

	require.NoError(t, mctx.RunCycle(context.Background()))

	assert.Equal(t, subject.StatusStuck, p.Status)
	assert.Zero(t, pipe.resurrectCalls, "no resurrection attempt past the budget")
	assert.Contains(t, p.Meta["error"], "resurrection budget")
}

func TestRunCycle_HeldJobIsResurrected(t *testing.T) {
	p := subject.NewProduction("Prod0", "fake")
	p.Status = subject.StatusRunning
	p.JobID = "42"
	s := subject.New("GW150914")
	require.NoError(t, s.AddProduction(p))

	pipe := &fakePipeline{}
	mctx := testContext(t, s, pipe, []scheduler.RawJob{
		{ID: "42", Status: scheduler.StatusHeld},
	})

	require.NoError(t, mctx.RunCycle(context.Background()))

	assert.Equal(t, subject.StatusRunning, p.Status)
	assert.Equal(t, 1, pipe.resurrectCalls)
	assert.Equal(t, 1, p.Resurrections)
}

func TestRunCycle_StopEjectsAndParks(t *testing.T) {
	p := subject.NewProduction("Prod0", "fake")
	p.Status = subject.StatusStop
	p.JobID = "42"
	s := subject.New("GW150914")
	require.NoError(t, s.AddProduction(p))

	pipe := &fakePipeline{}
	mctx := testContext(t, s, pipe, nil)

	require.NoError(t, mctx.RunCycle(context.Background()))

	assert.Equal(t, subject.StatusStopped, p.Status)
	assert.Empty(t, p.JobID)
	assert.Equal(t, 1, pipe.ejectCalls)
}

func TestRunCycle_RestartReturnsToReady(t *testing.T) {
	p := subject.NewProduction("Prod0", "fake")
	p.Status = subject.StatusRestart
	p.JobID = "42"
	s := subject.New("GW150914")
	require.NoError(t, s.AddProduction(p))

	pipe := &fakePipeline{}
	mctx := testContext(t, s, pipe, nil)

	require.NoError(t, mctx.RunCycle(context.Background()))

	assert.Equal(t, subject.StatusReady, p.Status)
	assert.Empty(t, p.JobID)
	assert.Equal(t, 1, pipe.ejectCalls)
}

func TestRunCycle_DryRunTouchesNothing(t *testing.T) {
	p := subject.NewProduction("Prod0", "fake")
	p.Status = subject.StatusRunning
	p.JobID = "42"
	s := subject.New("GW150914")
	require.NoError(t, s.AddProduction(p))

	pipe := &fakePipeline{detectResult: true}
	mctx := testContext(t, s, pipe, []scheduler.RawJob{
		{ID: "42", Status: scheduler.StatusCompleted},
	})
	mctx.DryRun = true

	require.NoError(t, mctx.RunCycle(context.Background()))

	assert.Equal(t, subject.StatusRunning, p.Status)
	assert.Equal(t, "42", p.JobID)
	assert.Zero(t, pipe.afterCompletionCalls)
}

func TestSubmitReady_SubmitsFrontierOnly(t *testing.T) {
	ready := subject.NewProduction("Prod0", "fake")
	blocked := subject.NewProduction("Prod1", "fake")
	blocked.Dependencies = []string{"Prod0"}

	s := subject.New("GW150914")
	s.WorkingDirectory = "/data/GW150914"
	require.NoError(t, s.AddProduction(ready))
	require.NoError(t, s.AddProduction(blocked))

	pipe := &fakePipeline{submitID: "99"}
	mctx := testContext(t, s, pipe, nil)
	mctx.RundirDefault = "working"

	require.NoError(t, mctx.SubmitReady(context.Background()))

	assert.Equal(t, subject.StatusRunning, ready.Status)
	assert.Equal(t, "99", ready.JobID)
	assert.Equal(t, 1, pipe.beforeSubmitCalls)
	assert.Equal(t, 1, pipe.buildCalls)
	assert.Equal(t, 1, pipe.submitCalls)

	assert.Equal(t, subject.StatusReady, blocked.Status)
	assert.Empty(t, blocked.JobID)
}

func TestSubmitReady_DryRun(t *testing.T) {
	ready := subject.NewProduction("Prod0", "fake")
	s := subject.New("GW150914")
	require.NoError(t, s.AddProduction(ready))

	pipe := &fakePipeline{submitID: "99"}
	mctx := testContext(t, s, pipe, nil)
	mctx.DryRun = true

	require.NoError(t, mctx.SubmitReady(context.Background()))

	assert.Equal(t, subject.StatusReady, ready.Status)
	assert.Empty(t, ready.JobID)
}

func TestRunCycle_SubjectFilter(t *testing.T) {
	p := subject.NewProduction("Prod0", "fake")
	p.Status = subject.StatusRunning
	p.JobID = "42"
	s := subject.New("GW150914")
	require.NoError(t, s.AddProduction(p))

	pipe := &fakePipeline{detectResult: true}
	mctx := testContext(t, s, pipe, nil)
	mctx.SubjectFilter = "GW170817"

	require.NoError(t, mctx.RunCycle(context.Background()))
	assert.Equal(t, subject.StatusRunning, p.Status, "filtered-out subjects are untouched")
}

func TestRunCycle_FinishedProductionIsUploaded(t *testing.T) {
	p := subject.NewProduction("Prod0", "fake")
	p.Status = subject.StatusFinished
	s := subject.New("GW150914")
	require.NoError(t, s.AddProduction(p))

	pipe := &fakePipeline{}
	mctx := testContext(t, s, pipe, nil)

	require.NoError(t, mctx.RunCycle(context.Background()))

	assert.Equal(t, subject.StatusUploaded, p.Status)
	assert.Equal(t, 1, pipe.afterCompletionCalls)
}

func TestRunCycle_AfterCompletionRunsOnceAcrossCycles(t *testing.T) {
	p := subject.NewProduction("Prod0", "fake")
	p.Status = subject.StatusRunning
	p.JobID = "42"
	s := subject.New("GW150914")
	require.NoError(t, s.AddProduction(p))

	pipe := &fakePipeline{detectResult: true}
	mctx := testContext(t, s, pipe, []scheduler.RawJob{
		{ID: "42", Status: scheduler.StatusCompleted},
	})

	require.NoError(t, mctx.RunCycle(context.Background()))
	assert.Equal(t, subject.StatusFinished, p.Status)

	// The next cycle promotes finished work to uploaded without running
	// the hook a second time.
	require.NoError(t, mctx.RunCycle(context.Background()))
	assert.Equal(t, subject.StatusUploaded, p.Status)
	assert.Equal(t, 1, pipe.afterCompletionCalls)
}

func TestRunCycle_UnexplainedJobChecksCompletion(t *testing.T) {
	p := subject.NewProduction("Prod0", "fake")
	p.Status = subject.StatusRunning
	p.JobID = "42"
	s := subject.New("GW150914")
	require.NoError(t, s.AddProduction(p))

	pipe := &fakePipeline{detectResult: true}
	mctx := testContext(t, s, pipe, []scheduler.RawJob{
		{ID: "42", Status: scheduler.StatusUnexplained},
	})

	require.NoError(t, mctx.RunCycle(context.Background()))

	assert.Equal(t, subject.StatusFinished, p.Status)
	assert.Empty(t, p.JobID)
}

func TestRunCycle_RecordsSubjectState(t *testing.T) {
	p := subject.NewProduction("Prod0", "fake")
	p.Status = subject.StatusRunning
	p.JobID = "42"
	s := subject.New("GW150914")
	require.NoError(t, s.AddProduction(p))

	pipe := &fakePipeline{}
	mctx := testContext(t, s, pipe, []scheduler.RawJob{
		{ID: "42", Status: scheduler.StatusRunning},
	})

	require.NoError(t, mctx.RunCycle(context.Background()))
	assert.Equal(t, "running", s.Meta["state"])
}

func TestRunCycle_AdvancesProjectAnalyses(t *testing.T) {
	s := subject.New("GW150914")
	require.NoError(t, s.AddProduction(subject.NewProduction("Prod0", "fake")))

	analysis := subject.NewProduction("PopulationStudy", "fake")
	analysis.Status = subject.StatusRunning
	analysis.JobID = "42"

	pipe := &fakePipeline{detectResult: true}
	mctx := testContext(t, s, pipe, []scheduler.RawJob{
		{ID: "42", Status: scheduler.StatusCompleted},
	})
	require.NoError(t, mctx.Ledger.AddProjectAnalysis(analysis))

	require.NoError(t, mctx.RunCycle(context.Background()))

	analyses := mctx.Ledger.ProjectAnalyses()
	require.Len(t, analyses, 1)
	assert.Equal(t, subject.StatusFinished, analyses[0].Status)
	assert.Empty(t, analyses[0].JobID)
	assert.Equal(t, 1, pipe.afterCompletionCalls)
}

func TestSubmitReady_SubmitsProjectAnalyses(t *testing.T) {
	s := subject.New("GW150914")
	require.NoError(t, s.AddProduction(subject.NewProduction("Prod0", "fake")))

	pipe := &fakePipeline{submitID: "77"}
	mctx := testContext(t, s, pipe, nil)
	require.NoError(t, mctx.Ledger.AddProjectAnalysis(
		subject.NewProduction("PopulationStudy", "fake")))

	require.NoError(t, mctx.SubmitReady(context.Background()))

	analyses := mctx.Ledger.ProjectAnalyses()
	require.Len(t, analyses, 1)
	assert.Equal(t, subject.StatusRunning, analyses[0].Status)
	assert.Equal(t, "77", analyses[0].JobID)
}

func TestRunCycle_ProcessingWithoutHookKeepsStatus(t *testing.T) {
	p := subject.NewProduction("Prod0", "fake")
	p.Status = subject.StatusProcessing
	s := subject.New("GW150914")
	require.NoError(t, s.AddProduction(p))

	// The fake does not implement AfterProcessing, so the Base hook fails
	// with NotSupported and the production stays in processing.
	pipe := &fakePipeline{}
	mctx := testContext(t, s, pipe, nil)

	require.NoError(t, mctx.RunCycle(context.Background()))

	assert.Equal(t, subject.StatusProcessing, p.Status)
	assert.Equal(t, "after processing failed", p.Meta["stage"])
}
