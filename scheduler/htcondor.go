package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/etive-io/asimov/errors"
	"github.com/etive-io/asimov/logger"
)

// clusterPattern extracts the cluster id from condor_submit output, which
// ends with "submitted to cluster N.".
var clusterPattern = regexp.MustCompile(`submitted to cluster (\d+)`)

// HTCondor submits and queries jobs by shelling out to the condor command
// line tools.
type HTCondor struct {
	scheddName string
}

// NewHTCondor builds an HTCondor backend. scheddName may be empty, in which
// case the default schedd is used.
func NewHTCondor(scheddName string) *HTCondor {
	return &HTCondor{scheddName: scheddName}
}

// Name identifies the backend.
func (h *HTCondor) Name() string {
	return "htcondor"
}

func (h *HTCondor) scheddArgs() []string {
	if h.scheddName == "" {
		return nil
	}
	return []string{"-name", h.scheddName}
}

// Submit writes the description to a submit file and runs condor_submit.
func (h *HTCondor) Submit(ctx context.Context, desc *JobDescription) (string, error) {
	dir, err := os.MkdirTemp("", "asimov-submit-")
	if err != nil {
		return "", errors.Wrap(err, "failed to create submit directory")
	}
	defer os.RemoveAll(dir)

	submitFile := filepath.Join(dir, "job.sub")
	if err := os.WriteFile(submitFile, []byte(desc.ToCondor()), 0o644); err != nil {
		return "", errors.Wrap(err, "failed to write submit file")
	}

	args := append(h.scheddArgs(), submitFile)
	output, err := runCondor(ctx, "condor_submit", args...)
	if err != nil {
		return "", err
	}
	return parseClusterID(output)
}

// SubmitDAG runs condor_submit_dag on the given DAG file.
func (h *HTCondor) SubmitDAG(ctx context.Context, path, batchName string) (string, error) {
	args := []string{"-force"}
	if batchName != "" {
		args = append(args, "-batch-name", batchName)
	}
	args = append(args, path)
	output, err := runCondor(ctx, "condor_submit_dag", args...)
	if err != nil {
		return "", err
	}
	return parseClusterID(output)
}

// Delete removes a job from the queue with condor_rm.
func (h *HTCondor) Delete(ctx context.Context, jobID string) error {
	args := append(h.scheddArgs(), jobID)
	_, err := runCondor(ctx, "condor_rm", args...)
	return err
}

// condorAd is the subset of the condor_q classad we consume.
type condorAd struct {
	ClusterID    int    `json:"ClusterId"`
	JobStatus    int    `json:"JobStatus"`
	JobBatchName string `json:"JobBatchName"`
	Cmd          string `json:"Cmd"`
	CurrentHosts int    `json:"CurrentHosts"`
	DAGManJobID  int    `json:"DAGManJobId"`
}

// QueryAll lists every queued job for this user via condor_q -json.
func (h *HTCondor) QueryAll(ctx context.Context) ([]RawJob, error) {
	args := append(h.scheddArgs(), "-json")
	output, err := runCondor(ctx, "condor_q", args...)
	if err != nil {
		return nil, err
	}
	// condor_q prints nothing at all for an empty queue.
	if strings.TrimSpace(output) == "" {
		return nil, nil
	}

	var ads []condorAd
	if err := json.Unmarshal([]byte(output), &ads); err != nil {
		return nil, errors.Wrap(err, "failed to parse condor_q output")
	}

	jobs := make([]RawJob, 0, len(ads))
	for _, ad := range ads {
		job := RawJob{
			ID:      fmt.Sprintf("%d", ad.ClusterID),
			Name:    ad.JobBatchName,
			Command: ad.Cmd,
			Hosts:   ad.CurrentHosts,
			Status:  StatusFromCondorCode(ad.JobStatus),
		}
		if ad.DAGManJobID > 0 {
			job.DAGID = fmt.Sprintf("%d", ad.DAGManJobID)
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func runCondor(ctx context.Context, command string, args ...string) (string, error) {
	logger.Debugw("Running scheduler command", "command", command, "args", args)
	cmd := exec.CommandContext(ctx, command, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", errors.Wrapf(errors.ErrSchedulerUnreachable,
			"%s failed: %v: %s", command, err, strings.TrimSpace(string(output)))
	}
	return string(output), nil
}

func parseClusterID(output string) (string, error) {
	match := clusterPattern.FindStringSubmatch(output)
	if match == nil {
		return "", errors.Newf("no cluster id in scheduler output: %s", strings.TrimSpace(output))
	}
	return match[1], nil
}
