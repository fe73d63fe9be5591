package scheduler

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/etive-io/asimov/errors"
	"github.com/etive-io/asimov/logger"
)

// LocalProcess runs jobs as ordinary processes on the current machine. It is
// the fallback for machines without a batch system; jobs do not survive a
// restart of the owning process.
type LocalProcess struct {
	mu   sync.Mutex
	jobs map[string]*localJob
}

type localJob struct {
	cmd      *exec.Cmd
	name     string
	command  string
	done     chan struct{}
	exitCode int
}

// NewLocalProcess builds a local-process backend.
func NewLocalProcess() *LocalProcess {
	return &LocalProcess{jobs: map[string]*localJob{}}
}

// Name identifies the backend.
func (l *LocalProcess) Name() string {
	return "local"
}

// Submit starts the described job as a child process. The returned
// identifier is the process id.
func (l *LocalProcess) Submit(ctx context.Context, desc *JobDescription) (string, error) {
	cmd := exec.Command(desc.Executable, desc.Arguments...)

	if desc.Output != "" {
		out, err := os.Create(desc.Output)
		if err != nil {
			return "", errors.Wrap(err, "failed to create output file")
		}
		cmd.Stdout = out
	}
	if desc.Error != "" {
		errFile, err := os.Create(desc.Error)
		if err != nil {
			return "", errors.Wrap(err, "failed to create error file")
		}
		cmd.Stderr = errFile
	}

	if err := cmd.Start(); err != nil {
		return "", errors.Wrapf(errors.ErrSchedulerUnreachable,
			"failed to start %s: %v", desc.Executable, err)
	}

	id := fmt.Sprintf("%d", cmd.Process.Pid)
	job := &localJob{
		cmd:     cmd,
		name:    desc.BatchName,
		command: strings.TrimSpace(desc.Executable + " " + strings.Join(desc.Arguments, " ")),
		done:    make(chan struct{}),
	}

	l.mu.Lock()
	l.jobs[id] = job
	l.mu.Unlock()

	go func() {
		err := cmd.Wait()
		l.mu.Lock()
		if exitErr, ok := err.(*exec.ExitError); ok {
			job.exitCode = exitErr.ExitCode()
		} else if err != nil {
			job.exitCode = -1
		}
		close(job.done)
		l.mu.Unlock()
	}()

	logger.Infow("Started local job", "pid", id, "command", job.command)
	return id, nil
}

// SubmitDAG is not available for local processes.
func (l *LocalProcess) SubmitDAG(ctx context.Context, path, batchName string) (string, error) {
	return "", errors.Wrap(errors.ErrNotSupported, "local scheduler cannot run DAGs")
}

// Delete kills a tracked job.
func (l *LocalProcess) Delete(ctx context.Context, jobID string) error {
	l.mu.Lock()
	job, ok := l.jobs[jobID]
	if ok {
		delete(l.jobs, jobID)
	}
	l.mu.Unlock()
	if !ok {
		return errors.NewNotFound("no local job with id %s", jobID)
	}

	select {
	case <-job.done:
		return nil
	default:
	}
	if err := job.cmd.Process.Kill(); err != nil {
		return errors.Wrapf(err, "failed to kill job %s", jobID)
	}
	return nil
}

// QueryAll reports the state of every tracked job. A finished job maps its
// exit code onto completed for zero and held otherwise.
func (l *LocalProcess) QueryAll(ctx context.Context) ([]RawJob, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var jobs []RawJob
	for id, job := range l.jobs {
		status := StatusRunning
		select {
		case <-job.done:
			if job.exitCode == 0 {
				status = StatusCompleted
			} else {
				status = StatusHeld
			}
		default:
			// The wait goroutine may lag the actual exit; double
			// check the process table.
			if running, err := processRunning(ctx, job.cmd.Process.Pid); err == nil && !running {
				status = StatusUnexplained
			}
		}
		jobs = append(jobs, RawJob{
			ID:      id,
			Name:    job.name,
			Command: job.command,
			Hosts:   1,
			Status:  status,
		})
	}
	return jobs, nil
}

func processRunning(ctx context.Context, pid int) (bool, error) {
	proc, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return false, nil
	}
	return proc.IsRunningWithContext(ctx)
}
