package scheduler

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/etive-io/asimov/errors"
)

// fakeScheduler returns canned query results for cache tests.
type fakeScheduler struct {
	jobs    []RawJob
	err     error
	queries int
}

func (f *fakeScheduler) Name() string { return "fake" }

func (f *fakeScheduler) Submit(ctx context.Context, desc *JobDescription) (string, error) {
	return "", errors.ErrNotSupported
}

func (f *fakeScheduler) SubmitDAG(ctx context.Context, path, batchName string) (string, error) {
	return "", errors.ErrNotSupported
}

func (f *fakeScheduler) Delete(ctx context.Context, jobID string) error {
	return nil
}

func (f *fakeScheduler) QueryAll(ctx context.Context) ([]RawJob, error) {
	f.queries++
	return f.jobs, f.err
}

func TestJobCache_RefreshAttachesSubJobs(t *testing.T) {
	sched := &fakeScheduler{jobs: []RawJob{
		{ID: "100", Name: "dagman", Status: StatusRunning},
		{ID: "101", Name: "analysis", Status: StatusRunning, DAGID: "100"},
		{ID: "102", Name: "orphan", Status: StatusIdle, DAGID: "999"},
	}}
	path := filepath.Join(t.TempDir(), "job-cache.json")

	cache, err := NewJobCache(context.Background(), path, sched)
	require.NoError(t, err)

	parent, err := cache.Job("100")
	require.NoError(t, err)
	require.Len(t, parent.SubJobs, 1)
	assert.Equal(t, "101", parent.SubJobs[0].ID)

	// Sub-jobs with a missing parent stay top-level.
	orphan, err := cache.Job("102")
	require.NoError(t, err)
	assert.Equal(t, StatusIdle, orphan.Status)

	_, err = cache.Job("101")
	assert.True(t, errors.IsNotFound(err), "attached sub-jobs are not top-level entries")

	_, err = cache.Job("404")
	assert.True(t, errors.IsNotFound(err))
}

func TestJobCache_ReusesFreshSnapshot(t *testing.T) {
	sched := &fakeScheduler{jobs: []RawJob{{ID: "100", Status: StatusRunning}}}
	path := filepath.Join(t.TempDir(), "job-cache.json")

	_, err := NewJobCache(context.Background(), path, sched)
	require.NoError(t, err)
	assert.Equal(t, 1, sched.queries)

	// A second construction inside the TTL window reads the file instead.
	cache, err := NewJobCache(context.Background(), path, sched)
	require.NoError(t, err)
	assert.Equal(t, 1, sched.queries, "no second scheduler query")

	job, err := cache.Job("100")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, job.Status)
}

func TestJobCache_TTLEnvOverride(t *testing.T) {
	t.Setenv(cacheTTLEnv, "0")
	sched := &fakeScheduler{jobs: []RawJob{{ID: "100", Status: StatusRunning}}}
	path := filepath.Join(t.TempDir(), "job-cache.json")

	_, err := NewJobCache(context.Background(), path, sched)
	require.NoError(t, err)
	_, err = NewJobCache(context.Background(), path, sched)
	require.NoError(t, err)
	assert.Equal(t, 2, sched.queries, "zero TTL forces a refresh every time")
}

func TestJobCache_RejectsInvalidSnapshot(t *testing.T) {
	sched := &fakeScheduler{jobs: []RawJob{{ID: "100", Status: StatusRunning}}}
	path := filepath.Join(t.TempDir(), "job-cache.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	cache, err := NewJobCache(context.Background(), path, sched)
	require.NoError(t, err)
	assert.Equal(t, 1, sched.queries, "malformed snapshot triggers a refresh")

	_, err = cache.Job("100")
	assert.NoError(t, err)
}

func TestJobCache_RejectsStructurallyInvalidSnapshot(t *testing.T) {
	sched := &fakeScheduler{}
	path := filepath.Join(t.TempDir(), "job-cache.json")

	// Valid JSON, but the entry is missing its id and status.
	raw, err := json.Marshal(map[string]*Job{"100": {}})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	_, err = NewJobCache(context.Background(), path, sched)
	require.NoError(t, err)
	assert.Equal(t, 1, sched.queries)
}

func TestJobCache_SchedulerFailureSurfaces(t *testing.T) {
	sched := &fakeScheduler{err: errors.Wrap(errors.ErrSchedulerUnreachable, "condor_q failed")}
	path := filepath.Join(t.TempDir(), "job-cache.json")

	_, err := NewJobCache(context.Background(), path, sched)
	require.Error(t, err)
	assert.True(t, errors.IsSchedulerUnreachable(err))
	assert.NoFileExists(t, path, "no cache is fabricated on failure")
}
