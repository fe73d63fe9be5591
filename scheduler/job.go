package scheduler

// JobStatus is the canonical state of a scheduled job, shared across
// backends.
type JobStatus string

const (
	StatusUnexplained     JobStatus = "unexplained"
	StatusIdle            JobStatus = "idle"
	StatusRunning         JobStatus = "running"
	StatusRemoved         JobStatus = "removed"
	StatusCompleted       JobStatus = "completed"
	StatusHeld            JobStatus = "held"
	StatusSubmissionError JobStatus = "submission error"
)

// condorStatusCodes maps the numeric JobStatus classad values reported by
// condor_q onto canonical statuses.
var condorStatusCodes = map[int]JobStatus{
	0: StatusUnexplained,
	1: StatusIdle,
	2: StatusRunning,
	3: StatusRemoved,
	4: StatusCompleted,
	5: StatusHeld,
	6: StatusSubmissionError,
}

// StatusFromCondorCode converts a numeric condor status code. Unknown codes
// map to unexplained.
func StatusFromCondorCode(code int) JobStatus {
	if status, ok := condorStatusCodes[code]; ok {
		return status
	}
	return StatusUnexplained
}

// Active reports whether the job is still in the scheduler's hands.
func (s JobStatus) Active() bool {
	return s == StatusIdle || s == StatusRunning
}

// RawJob is a single scheduler record, as returned by a backend query.
type RawJob struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	Command string    `json:"command"`
	Hosts   int       `json:"hosts"`
	Status  JobStatus `json:"status"`

	// DAGID is the identifier of the managing DAG job, empty for
	// top-level jobs.
	DAGID string `json:"dag_id,omitempty"`
}

// Job is a scheduler record with any managed sub-jobs attached.
type Job struct {
	RawJob
	SubJobs []RawJob `json:"subjobs,omitempty"`
}
