// Package subject provides the subject/production data model and the
// dependency graph used to decide which productions are ready to submit.
//
// A Subject groups related productions (the unit a blueprint targets); a
// Production is a single schedulable analysis with a status, a pipeline
// identifier, and declared dependencies on other productions.
package subject

import (
	"fmt"

	"github.com/etive-io/asimov/errors"
)

// Status represents the current state of a production.
type Status string

const (
	StatusReady      Status = "ready"
	StatusRunning    Status = "running"
	StatusProcessing Status = "processing"
	StatusFinished   Status = "finished"
	StatusUploaded   Status = "uploaded"
	StatusStuck      Status = "stuck"
	StatusStopped    Status = "stopped"
	StatusStop       Status = "stop"
	StatusWait       Status = "wait"
	StatusRestart    Status = "restart"
	StatusManual     Status = "manual"
	StatusCancelled  Status = "cancelled"
)

// IsValidStatus returns true if the string is a recognised production status.
func IsValidStatus(s string) bool {
	switch Status(s) {
	case StatusReady, StatusRunning, StatusProcessing, StatusFinished,
		StatusUploaded, StatusStuck, StatusStopped, StatusStop,
		StatusWait, StatusRestart, StatusManual, StatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the status admits no further transitions.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusFinished, StatusUploaded, StatusCancelled, StatusStopped:
		return true
	default:
		return false
	}
}

// Finished reports whether the production's work is complete, including
// any upload stage.
func (s Status) Finished() bool {
	return s == StatusFinished || s == StatusUploaded
}

// Tracked reports whether the monitor loop should examine a production in
// this state. Productions that are ready or waiting have not been stood up
// yet, and terminal productions need no further attention.
func (s Status) Tracked() bool {
	if s.IsTerminal() || s == StatusReady || s == StatusWait {
		return false
	}
	return true
}

// NeedsPolicy is an alternative readiness rule for a production. Instead of
// requiring its dependencies to finish, the production becomes ready once at
// least Minimum sibling productions of a different pipeline carry the
// "interesting" label.
type NeedsPolicy struct {
	Condition string `yaml:"condition"`
	Minimum   int    `yaml:"minimum"`
}

// ConditionInteresting is the only needs-policy condition currently defined.
const ConditionInteresting = "is_interesting"

// MaxResurrections bounds how many times the monitor loop will attempt to
// rescue an evicted job before declaring the production stuck.
const MaxResurrections = 5

// Production is a single schedulable analysis attached to a subject (or to
// the project, for project-level analyses).
type Production struct {
	Name         string
	Pipeline     string
	Status       Status
	Comment      string
	Dependencies []string
	Needs        *NeedsPolicy

	// JobID is the scheduler-assigned identifier, empty while no job is
	// known to the scheduler.
	JobID string

	// Labels holds arbitrary annotations set by labellers, consumed by
	// label-specification dependencies.
	Labels map[string]interface{}

	// Resurrections counts rescue attempts for this production.
	Resurrections int

	// Meta carries any further blueprint keys verbatim so the ledger
	// round-trips losslessly.
	Meta map[string]interface{}
}

// NewProduction creates a production in the ready state.
func NewProduction(name, pipeline string) *Production {
	return &Production{
		Name:     name,
		Pipeline: pipeline,
		Status:   StatusReady,
		Labels:   map[string]interface{}{},
		Meta:     map[string]interface{}{},
	}
}

// SetError records a failure annotation on the production.
func (p *Production) SetError(msg string) {
	if p.Meta == nil {
		p.Meta = map[string]interface{}{}
	}
	p.Meta["error"] = msg
}

// SetStage records which stage of the production's lifecycle an error or
// wait occurred in.
func (p *Production) SetStage(stage string) {
	if p.Meta == nil {
		p.Meta = map[string]interface{}{}
	}
	p.Meta["stage"] = stage
}

// CompletionHandled reports whether the after-completion hook has already
// run for this production.
func (p *Production) CompletionHandled() bool {
	handled, ok := p.Meta["completion handled"].(bool)
	return ok && handled
}

// SetCompletionHandled records that the after-completion hook has run, so a
// later monitor pass promoting the production to uploaded does not run it
// again.
func (p *Production) SetCompletionHandled() {
	if p.Meta == nil {
		p.Meta = map[string]interface{}{}
	}
	p.Meta["completion handled"] = true
}

// SetLabel sets a single label on the production.
func (p *Production) SetLabel(key string, value interface{}) {
	if p.Labels == nil {
		p.Labels = map[string]interface{}{}
	}
	p.Labels[key] = value
}

// Interesting reports whether the production carries a truthy "interesting"
// label.
func (p *Production) Interesting() bool {
	return truthy(p.Labels["interesting"])
}

// ToMap serialises the production to its ledger representation. Known fields
// are written under their canonical keys; Meta keys are merged at the top
// level, matching the blueprint shape.
func (p *Production) ToMap() map[string]interface{} {
	data := map[string]interface{}{}
	for key, value := range p.Meta {
		data[key] = value
	}
	data["pipeline"] = p.Pipeline
	data["status"] = string(p.Status)
	if p.Comment != "" {
		data["comment"] = p.Comment
	}
	if len(p.Dependencies) > 0 {
		deps := make([]interface{}, len(p.Dependencies))
		for i, d := range p.Dependencies {
			deps[i] = d
		}
		data["needs"] = deps
	}
	if p.Needs != nil {
		data["needs settings"] = map[string]interface{}{
			"condition": p.Needs.Condition,
			"minimum":   p.Needs.Minimum,
		}
	}
	if p.JobID != "" {
		data["job id"] = p.JobID
	}
	if len(p.Labels) > 0 {
		data["labels"] = p.Labels
	}
	if p.Resurrections > 0 {
		data["resurrections"] = p.Resurrections
	}
	return data
}

// ProductionFromMap reconstructs a production from its ledger representation.
func ProductionFromMap(name string, data map[string]interface{}) (*Production, error) {
	p := NewProduction(name, "")
	for key, value := range data {
		switch key {
		case "name":
			// Name is carried by the enclosing map key; an inner copy wins
			// only if the outer is empty.
			if p.Name == "" {
				p.Name, _ = value.(string)
			}
		case "pipeline":
			p.Pipeline, _ = value.(string)
		case "status":
			s, _ := value.(string)
			p.Status = Status(s)
		case "comment":
			p.Comment, _ = value.(string)
		case "needs":
			deps, err := stringSlice(value)
			if err != nil {
				return nil, errors.Wrapf(err, "production %s: needs", name)
			}
			p.Dependencies = deps
		case "needs settings":
			policy, err := needsPolicy(value)
			if err != nil {
				return nil, errors.Wrapf(err, "production %s: needs settings", name)
			}
			p.Needs = policy
		case "job id":
			p.JobID = asString(value)
		case "labels":
			if labels, ok := value.(map[string]interface{}); ok {
				p.Labels = labels
			}
		case "resurrections":
			if n, ok := value.(int); ok {
				p.Resurrections = n
			}
		default:
			p.Meta[key] = value
		}
	}
	if p.Status == "" {
		p.Status = StatusReady
	}
	if p.Pipeline == "" {
		return nil, errors.Newf("production %s has no pipeline", name)
	}
	return p, nil
}

func stringSlice(value interface{}) ([]string, error) {
	raw, ok := value.([]interface{})
	if !ok {
		return nil, errors.Newf("expected a list, got %T", value)
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		s, ok := item.(string)
		if !ok {
			return nil, errors.Newf("expected a string entry, got %T", item)
		}
		out = append(out, s)
	}
	return out, nil
}

func needsPolicy(value interface{}) (*NeedsPolicy, error) {
	// The original ledgers also carry the literal string "default", which
	// means the standard readiness rule applies.
	if s, ok := value.(string); ok && s == "default" {
		return nil, nil
	}
	raw, ok := value.(map[string]interface{})
	if !ok {
		return nil, errors.Newf("expected a mapping, got %T", value)
	}
	policy := &NeedsPolicy{}
	if c, ok := raw["condition"].(string); ok {
		policy.Condition = c
	}
	switch m := raw["minimum"].(type) {
	case int:
		policy.Minimum = m
	case float64:
		policy.Minimum = int(m)
	}
	return policy, nil
}

func asString(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

func truthy(value interface{}) bool {
	switch v := value.(type) {
	case bool:
		return v
	case int:
		return v != 0
	case float64:
		return v != 0
	case string:
		return v != "" && v != "false" && v != "False"
	default:
		return false
	}
}
