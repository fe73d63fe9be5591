package scheduler

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/etive-io/asimov/errors"
	"github.com/etive-io/asimov/logger"
)

// slurmStates maps squeue state strings, both the short codes and the long
// names, onto canonical statuses.
var slurmStates = map[string]JobStatus{
	"PD":        StatusIdle,
	"PENDING":   StatusIdle,
	"R":         StatusRunning,
	"RUNNING":   StatusRunning,
	"CG":        StatusRunning,
	"CD":        StatusCompleted,
	"COMPLETED": StatusCompleted,
	"F":         StatusHeld,
	"FAILED":    StatusHeld,
	"TO":        StatusHeld,
	"TIMEOUT":   StatusHeld,
	"NF":        StatusHeld,
	"NODE_FAIL": StatusHeld,
	"CA":        StatusRemoved,
	"CANCELLED": StatusRemoved,
}

// Slurm submits and queries jobs through sbatch, squeue, and scancel.
type Slurm struct {
	partition string
}

// NewSlurm builds a Slurm backend. partition may be empty, in which case the
// cluster default is used.
func NewSlurm(partition string) *Slurm {
	return &Slurm{partition: partition}
}

// Name identifies the backend.
func (s *Slurm) Name() string {
	return "slurm"
}

// Submit writes the description as an sbatch script and submits it.
func (s *Slurm) Submit(ctx context.Context, desc *JobDescription) (string, error) {
	dir, err := os.MkdirTemp("", "asimov-sbatch-")
	if err != nil {
		return "", errors.Wrap(err, "failed to create submit directory")
	}
	defer os.RemoveAll(dir)

	script := filepath.Join(dir, "job.sh")
	if err := os.WriteFile(script, []byte(desc.ToSlurm(s.partition)), 0o755); err != nil {
		return "", errors.Wrap(err, "failed to write sbatch script")
	}
	return s.sbatch(ctx, script)
}

func (s *Slurm) sbatch(ctx context.Context, script string) (string, error) {
	output, err := runSlurm(ctx, "sbatch", "--parsable", script)
	if err != nil {
		return "", err
	}
	jobID := strings.TrimSpace(output)
	// --parsable may append ";cluster" on federated clusters.
	if i := strings.IndexByte(jobID, ';'); i >= 0 {
		jobID = jobID[:i]
	}
	if _, err := strconv.Atoi(jobID); err != nil {
		return "", errors.Newf("no job id in sbatch output: %s", strings.TrimSpace(output))
	}
	return jobID, nil
}

// SubmitDAG converts a condor-style DAG file into a dependency-chained batch
// of sbatch calls and submits them. The returned identifier is the first job
// in the chain.
func (s *Slurm) SubmitDAG(ctx context.Context, path, batchName string) (string, error) {
	script, err := ConvertDAGToSlurm(path, s.partition, batchName)
	if err != nil {
		return "", err
	}

	scriptPath := path + ".slurm.sh"
	if err := os.WriteFile(scriptPath, []byte(script), 0o755); err != nil {
		return "", errors.Wrap(err, "failed to write slurm chain script")
	}

	output, err := runSlurm(ctx, "bash", scriptPath)
	if err != nil {
		return "", err
	}
	lines := strings.Fields(strings.TrimSpace(output))
	if len(lines) == 0 {
		return "", errors.Newf("no job ids in chain output: %s", strings.TrimSpace(output))
	}
	return lines[0], nil
}

// Delete cancels a job with scancel.
func (s *Slurm) Delete(ctx context.Context, jobID string) error {
	_, err := runSlurm(ctx, "scancel", jobID)
	return err
}

// QueryAll lists this user's jobs via squeue.
func (s *Slurm) QueryAll(ctx context.Context) ([]RawJob, error) {
	output, err := runSlurm(ctx, "squeue", "--me", "--noheader", "-o", "%i|%j|%T|%o|%D")
	if err != nil {
		return nil, err
	}

	var jobs []RawJob
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Split(line, "|")
		if len(fields) < 5 {
			continue
		}
		hosts, _ := strconv.Atoi(fields[4])
		status, ok := slurmStates[strings.ToUpper(fields[2])]
		if !ok {
			status = StatusUnexplained
		}
		jobs = append(jobs, RawJob{
			ID:      fields[0],
			Name:    fields[1],
			Command: fields[3],
			Hosts:   hosts,
			Status:  status,
		})
	}
	return jobs, nil
}

func runSlurm(ctx context.Context, command string, args ...string) (string, error) {
	logger.Debugw("Running scheduler command", "command", command, "args", args)
	cmd := exec.CommandContext(ctx, command, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", errors.Wrapf(errors.ErrSchedulerUnreachable,
			"%s failed: %v: %s", command, err, strings.TrimSpace(string(output)))
	}
	return string(output), nil
}

// dagNode is one JOB entry of a condor DAG file.
type dagNode struct {
	name    string
	subFile string
	parents []string
}

// ConvertDAGToSlurm translates a condor .dag file into a bash script that
// submits each node with sbatch, chained through --dependency=afterok. Nodes
// are emitted in topological order; a cyclic DAG is an error.
func ConvertDAGToSlurm(path, partition, batchName string) (string, error) {
	nodes, order, err := parseDAG(path)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("#!/bin/bash\nset -e\n\n")
	for _, name := range order {
		node := nodes[name]
		variable := shellVariable(name)
		fmt.Fprintf(&b, "%s=$(sbatch --parsable", variable)
		if partition != "" {
			fmt.Fprintf(&b, " --partition=%s", partition)
		}
		if batchName != "" {
			fmt.Fprintf(&b, " --job-name=%s", batchName)
		}
		if len(node.parents) > 0 {
			deps := make([]string, len(node.parents))
			for i, parent := range node.parents {
				deps[i] = "${" + shellVariable(parent) + "}"
			}
			fmt.Fprintf(&b, " --dependency=afterok:%s", strings.Join(deps, ":"))
		}
		fmt.Fprintf(&b, " %s)\n", node.subFile)
		fmt.Fprintf(&b, "echo \"${%s}\"\n", variable)
	}
	return b.String(), nil
}

// parseDAG reads the JOB and PARENT/CHILD lines of a condor DAG file and
// returns the nodes with a topological ordering.
func parseDAG(path string) (map[string]*dagNode, []string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "failed to open DAG file %s", path)
	}
	defer file.Close()

	nodes := map[string]*dagNode{}
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		switch strings.ToUpper(fields[0]) {
		case "JOB":
			if len(fields) < 3 {
				return nil, nil, errors.Newf("malformed JOB line in %s: %q", path, scanner.Text())
			}
			nodes[fields[1]] = &dagNode{name: fields[1], subFile: fields[2]}
		case "PARENT":
			childIndex := -1
			for i, field := range fields {
				if strings.EqualFold(field, "CHILD") {
					childIndex = i
					break
				}
			}
			if childIndex < 2 || childIndex == len(fields)-1 {
				return nil, nil, errors.Newf("malformed PARENT line in %s: %q", path, scanner.Text())
			}
			parents := fields[1:childIndex]
			for _, child := range fields[childIndex+1:] {
				node, ok := nodes[child]
				if !ok {
					return nil, nil, errors.Newf("PARENT line references unknown job %s in %s", child, path)
				}
				node.parents = append(node.parents, parents...)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, errors.Wrapf(err, "failed to read DAG file %s", path)
	}
	if len(nodes) == 0 {
		return nil, nil, errors.Newf("no jobs in DAG file %s", path)
	}

	order, err := topologicalOrder(nodes)
	if err != nil {
		return nil, nil, err
	}
	return nodes, order, nil
}

// topologicalOrder runs Kahn's algorithm over the parent edges, processing
// names alphabetically so the output is stable.
func topologicalOrder(nodes map[string]*dagNode) ([]string, error) {
	indegree := map[string]int{}
	children := map[string][]string{}
	for name, node := range nodes {
		indegree[name] = len(node.parents)
		for _, parent := range node.parents {
			if _, ok := nodes[parent]; !ok {
				return nil, errors.Newf("DAG references unknown parent job %s", parent)
			}
			children[parent] = append(children[parent], name)
		}
	}

	var frontier []string
	for name, degree := range indegree {
		if degree == 0 {
			frontier = append(frontier, name)
		}
	}
	sort.Strings(frontier)

	var order []string
	for len(frontier) > 0 {
		name := frontier[0]
		frontier = frontier[1:]
		order = append(order, name)
		for _, child := range children[name] {
			indegree[child]--
			if indegree[child] == 0 {
				frontier = append(frontier, child)
			}
		}
		sort.Strings(frontier)
	}
	if len(order) != len(nodes) {
		return nil, errors.New("DAG contains a cycle")
	}
	return order, nil
}

// shellVariable makes a DAG node name safe to use as a bash variable.
func shellVariable(name string) string {
	var b strings.Builder
	b.WriteString("JOB_")
	for _, r := range name {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}
