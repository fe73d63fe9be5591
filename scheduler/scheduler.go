// Package scheduler submits and tracks jobs on a batch system. Three
// backends share one interface: HTCondor, Slurm, and a local-process
// fallback for machines without a batch system.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/kballard/go-shellquote"

	"github.com/etive-io/asimov/errors"
)

// Scheduler is the contract every batch-system backend exposes.
type Scheduler interface {
	// Name identifies the backend.
	Name() string

	// Submit queues a single job and returns its identifier.
	Submit(ctx context.Context, desc *JobDescription) (string, error)

	// SubmitDAG queues a DAG of jobs described by a condor-style .dag
	// file and returns the identifier of the managing job.
	SubmitDAG(ctx context.Context, path, batchName string) (string, error)

	// Delete removes a job from the queue.
	Delete(ctx context.Context, jobID string) error

	// QueryAll returns every job the scheduler currently knows about
	// for this user.
	QueryAll(ctx context.Context) ([]RawJob, error)
}

// Options configures backend construction.
type Options struct {
	// ScheddName restricts HTCondor operations to a named schedd.
	ScheddName string
	// Partition is the Slurm partition jobs are submitted to.
	Partition string
}

// GetScheduler constructs a backend by name. Names are matched
// case-insensitively; unknown names are an error.
func GetScheduler(name string, opts Options) (Scheduler, error) {
	switch strings.ToLower(name) {
	case "htcondor", "condor":
		return NewHTCondor(opts.ScheddName), nil
	case "slurm":
		return NewSlurm(opts.Partition), nil
	case "local", "localprocess":
		return NewLocalProcess(), nil
	default:
		return nil, errors.Newf("unknown scheduler %q", name)
	}
}

// JobDescription is a backend-neutral description of a single job.
type JobDescription struct {
	Executable string
	Arguments  []string

	// Output, Error, and Log are file paths for the job's streams.
	Output string
	Error  string
	Log    string

	// CPUs, Memory, and Disk request resources. Memory and Disk are in
	// gigabytes. Zero values fall back to 1 CPU, 1 GB, 1 GB.
	CPUs   int
	Memory int
	Disk   int

	// BatchName groups the job in queue listings.
	BatchName string

	// Extra holds backend directives passed through verbatim.
	Extra map[string]string
}

func (d *JobDescription) cpus() int {
	if d.CPUs <= 0 {
		return 1
	}
	return d.CPUs
}

func (d *JobDescription) memoryGB() int {
	if d.Memory <= 0 {
		return 1
	}
	return d.Memory
}

func (d *JobDescription) diskGB() int {
	if d.Disk <= 0 {
		return 1
	}
	return d.Disk
}

// ToCondor renders the description as a condor submit file.
func (d *JobDescription) ToCondor() string {
	var b strings.Builder
	fmt.Fprintf(&b, "executable = %s\n", d.Executable)
	if len(d.Arguments) > 0 {
		fmt.Fprintf(&b, "arguments = %s\n", strings.Join(d.Arguments, " "))
	}
	if d.Output != "" {
		fmt.Fprintf(&b, "output = %s\n", d.Output)
	}
	if d.Error != "" {
		fmt.Fprintf(&b, "error = %s\n", d.Error)
	}
	if d.Log != "" {
		fmt.Fprintf(&b, "log = %s\n", d.Log)
	}
	fmt.Fprintf(&b, "request_cpus = %d\n", d.cpus())
	fmt.Fprintf(&b, "request_memory = %dGB\n", d.memoryGB())
	fmt.Fprintf(&b, "request_disk = %dGB\n", d.diskGB())
	if d.BatchName != "" {
		fmt.Fprintf(&b, "batch_name = %s\n", d.BatchName)
	}
	for _, key := range sortedKeys(d.Extra) {
		fmt.Fprintf(&b, "%s = %s\n", key, d.Extra[key])
	}
	b.WriteString("queue\n")
	return b.String()
}

// ToSlurm renders the description as an sbatch script. Memory is converted
// from gigabytes to the megabytes slurm expects.
func (d *JobDescription) ToSlurm(partition string) string {
	var b strings.Builder
	b.WriteString("#!/bin/bash\n")
	if d.BatchName != "" {
		fmt.Fprintf(&b, "#SBATCH --job-name=%s\n", d.BatchName)
	}
	if d.Output != "" {
		fmt.Fprintf(&b, "#SBATCH --output=%s\n", d.Output)
	}
	if d.Error != "" {
		fmt.Fprintf(&b, "#SBATCH --error=%s\n", d.Error)
	}
	fmt.Fprintf(&b, "#SBATCH --cpus-per-task=%d\n", d.cpus())
	fmt.Fprintf(&b, "#SBATCH --mem=%dM\n", d.memoryGB()*1024)
	if partition != "" {
		fmt.Fprintf(&b, "#SBATCH --partition=%s\n", partition)
	}
	b.WriteString("#SBATCH --export=ALL\n")
	for _, key := range sortedKeys(d.Extra) {
		fmt.Fprintf(&b, "#SBATCH --%s=%s\n", key, d.Extra[key])
	}
	b.WriteString("\n")
	b.WriteString(d.Executable)
	if len(d.Arguments) > 0 {
		b.WriteString(" " + strings.Join(d.Arguments, " "))
	}
	b.WriteString("\n")
	return b.String()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// ParseCommandLine splits a shell-quoted command line into an executable and
// its arguments.
func ParseCommandLine(command string) (string, []string, error) {
	words, err := shellquote.Split(command)
	if err != nil {
		return "", nil, errors.Wrapf(err, "failed to parse command %q", command)
	}
	if len(words) == 0 {
		return "", nil, errors.New("empty command")
	}
	return words[0], words[1:], nil
}
