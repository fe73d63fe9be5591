package subject

import (
	"github.com/etive-io/asimov/errors"
)

// Subject is a named unit of work grouping related productions.
type Subject struct {
	Name             string
	WorkingDirectory string
	Repository       string

	// Meta holds arbitrary subject metadata (data, priors, quality,
	// likelihood, scheduler settings and anything else a blueprint sets).
	Meta map[string]interface{}

	// Productions is ordered; names are unique within a subject.
	Productions []*Production
}

// New creates an empty subject.
func New(name string) *Subject {
	return &Subject{
		Name: name,
		Meta: map[string]interface{}{},
	}
}

// Production returns the named production, or a NotFound error.
func (s *Subject) Production(name string) (*Production, error) {
	for _, p := range s.Productions {
		if p.Name == name {
			return p, nil
		}
	}
	return nil, errors.NewNotFound("production %s not found in subject %s", name, s.Name)
}

// AddProduction appends a production. Names must be unique within the
// subject; a duplicate yields a Conflict error.
func (s *Subject) AddProduction(p *Production) error {
	for _, existing := range s.Productions {
		if existing.Name == p.Name {
			return errors.NewConflict(
				"a production named %s already exists for %s; new productions must have unique names",
				p.Name, s.Name)
		}
	}
	s.Productions = append(s.Productions, p)
	return nil
}

// RemoveProduction removes the named production from the subject. The
// production record itself is untouched.
func (s *Subject) RemoveProduction(name string) error {
	for i, p := range s.Productions {
		if p.Name == name {
			s.Productions = append(s.Productions[:i], s.Productions[i+1:]...)
			return nil
		}
	}
	return errors.NewNotFound("production %s not found in subject %s", name, s.Name)
}

// State derives the subject-level aggregate state from its productions:
// stuck if any production is stuck, otherwise running if any is running,
// otherwise finished if all are complete.
func (s *Subject) State() Status {
	if len(s.Productions) == 0 {
		return StatusReady
	}
	var running, finished int
	for _, p := range s.Productions {
		switch {
		case p.Status == StatusStuck:
			return StatusStuck
		case p.Status == StatusRunning || p.Status == StatusProcessing:
			running++
		case p.Status.Finished():
			finished++
		}
	}
	if running > 0 {
		return StatusRunning
	}
	if finished == len(s.Productions) {
		return StatusFinished
	}
	return StatusReady
}

// ToMap serialises the subject to its ledger representation. Productions are
// stored as single-entry maps keyed by name so they reload losslessly.
func (s *Subject) ToMap() map[string]interface{} {
	data := map[string]interface{}{}
	for key, value := range s.Meta {
		data[key] = value
	}
	data["name"] = s.Name
	data["working directory"] = s.WorkingDirectory
	if s.Repository != "" {
		data["repository"] = s.Repository
	}
	productions := make([]interface{}, 0, len(s.Productions))
	for _, p := range s.Productions {
		productions = append(productions, map[string]interface{}{p.Name: p.ToMap()})
	}
	data["productions"] = productions
	return data
}

// FromMap reconstructs a subject from its ledger representation. Stored
// productions may arrive either as {name: {...}} single-entry maps
// (preferred) or as flat maps carrying their own name key.
func FromMap(data map[string]interface{}) (*Subject, error) {
	name, _ := data["name"].(string)
	if name == "" {
		return nil, errors.New("subject record has no name")
	}
	s := New(name)

	for key, value := range data {
		switch key {
		case "name":
		case "working directory":
			s.WorkingDirectory, _ = value.(string)
		case "repository":
			s.Repository, _ = value.(string)
		case "productions":
			if value == nil {
				continue
			}
			raw, ok := value.([]interface{})
			if !ok {
				return nil, errors.Newf("subject %s: productions must be a list, got %T", name, value)
			}
			for _, entry := range raw {
				p, err := productionFromEntry(entry)
				if err != nil {
					return nil, errors.Wrapf(err, "subject %s", name)
				}
				if err := s.AddProduction(p); err != nil {
					return nil, err
				}
			}
		default:
			s.Meta[key] = value
		}
	}
	return s, nil
}

func productionFromEntry(entry interface{}) (*Production, error) {
	record, ok := entry.(map[string]interface{})
	if !ok {
		return nil, errors.Newf("production entry must be a mapping, got %T", entry)
	}
	if len(record) == 1 {
		for prodName, inner := range record {
			body, ok := inner.(map[string]interface{})
			if !ok && inner != nil {
				return nil, errors.Newf("production %s: body must be a mapping, got %T", prodName, inner)
			}
			if body == nil {
				body = map[string]interface{}{}
			}
			return ProductionFromMap(prodName, body)
		}
	}
	// Flat form: the record carries its own name.
	prodName, _ := record["name"].(string)
	if prodName == "" {
		return nil, errors.New("production entry has no name")
	}
	return ProductionFromMap(prodName, record)
}
