package scheduler

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/etive-io/asimov/errors"
	"github.com/etive-io/asimov/logger"
)

// DefaultCacheTTL is how long a persisted job cache stays valid before a
// fresh scheduler query is forced.
const DefaultCacheTTL = 900 * time.Second

// cacheTTLEnv overrides the cache TTL with a value in seconds.
const cacheTTLEnv = "ASIMOV_JOB_CACHE_TTL"

var validStatuses = map[JobStatus]bool{
	StatusUnexplained:     true,
	StatusIdle:            true,
	StatusRunning:         true,
	StatusRemoved:         true,
	StatusCompleted:       true,
	StatusHeld:            true,
	StatusSubmissionError: true,
}

// JobCache holds the most recent scheduler queue snapshot, persisted as JSON
// so repeated monitor runs within the TTL window avoid hammering the
// scheduler.
type JobCache struct {
	path      string
	ttl       time.Duration
	scheduler Scheduler
	jobs      map[string]*Job
}

// CacheTTL returns the configured cache lifetime, honouring the environment
// override.
func CacheTTL() time.Duration {
	if raw := os.Getenv(cacheTTLEnv); raw != "" {
		if seconds, err := strconv.Atoi(raw); err == nil && seconds >= 0 {
			return time.Duration(seconds) * time.Second
		}
		logger.Warnw("Ignoring invalid cache TTL override", "value", raw)
	}
	return DefaultCacheTTL
}

// NewJobCache builds a cache backed by the file at path. A persisted
// snapshot younger than the TTL is reused if it is structurally valid;
// otherwise the scheduler is queried immediately. A scheduler failure is
// returned rather than papered over with an empty cache.
func NewJobCache(ctx context.Context, path string, sched Scheduler) (*JobCache, error) {
	cache := &JobCache{
		path:      path,
		ttl:       CacheTTL(),
		scheduler: sched,
	}

	if jobs, ok := cache.loadPersisted(); ok {
		cache.jobs = jobs
		return cache, nil
	}
	if err := cache.Refresh(ctx); err != nil {
		return nil, err
	}
	return cache, nil
}

// loadPersisted reads a previously persisted snapshot, rejecting stale or
// malformed files.
func (c *JobCache) loadPersisted() (map[string]*Job, bool) {
	info, err := os.Stat(c.path)
	if err != nil {
		return nil, false
	}
	if time.Since(info.ModTime()) >= c.ttl {
		logger.Debugw("Job cache expired", "path", c.path, "age", time.Since(info.ModTime()))
		return nil, false
	}

	raw, err := os.ReadFile(c.path)
	if err != nil {
		return nil, false
	}
	var jobs map[string]*Job
	if err := json.Unmarshal(raw, &jobs); err != nil {
		logger.Warnw("Discarding unparseable job cache", "path", c.path, "error", err)
		return nil, false
	}
	for id, job := range jobs {
		if job == nil || job.ID == "" || job.ID != id || !validStatuses[job.Status] {
			logger.Warnw("Discarding structurally invalid job cache", "path", c.path)
			return nil, false
		}
	}
	return jobs, true
}

// Refresh queries the scheduler, rebuilds the snapshot, and persists it.
// Jobs managed by a DAG are attached to their parent when the parent is in
// the snapshot; orphans stay top-level.
func (c *JobCache) Refresh(ctx context.Context) error {
	raws, err := c.scheduler.QueryAll(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to query scheduler")
	}

	jobs := make(map[string]*Job, len(raws))
	for _, raw := range raws {
		if raw.DAGID == "" {
			jobs[raw.ID] = &Job{RawJob: raw}
		}
	}
	for _, raw := range raws {
		if raw.DAGID == "" {
			continue
		}
		if parent, ok := jobs[raw.DAGID]; ok {
			parent.SubJobs = append(parent.SubJobs, raw)
		} else {
			jobs[raw.ID] = &Job{RawJob: raw}
		}
	}

	c.jobs = jobs
	return c.persist()
}

func (c *JobCache) persist() error {
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return errors.Wrap(err, "failed to create cache directory")
	}
	encoded, err := json.MarshalIndent(c.jobs, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to serialise job cache")
	}
	if err := os.WriteFile(c.path, encoded, 0o644); err != nil {
		return errors.Wrap(err, "failed to write job cache")
	}
	return nil
}

// Job returns the cached record for a job id, or a NotFound error.
func (c *JobCache) Job(id string) (*Job, error) {
	if job, ok := c.jobs[id]; ok {
		return job, nil
	}
	return nil, errors.NewNotFound("job %s not in scheduler queue", id)
}

// Jobs returns the cached snapshot keyed by job id.
func (c *JobCache) Jobs() map[string]*Job {
	return c.jobs
}
