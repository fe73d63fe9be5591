// Package ledger provides the durable store of subjects, productions, and
// project-level analyses.
//
// Two backends implement the same contract: a YAML file guarded by an
// advisory file lock with atomic rewrite-and-rename saves, and a SQLite
// store with per-call transactions. The file lock only protects against
// other processes; a single Ledger instance is not safe for concurrent
// mutation from multiple goroutines, and callers must serialize themselves.
package ledger

import (
	"github.com/google/uuid"

	"github.com/etive-io/asimov/subject"
)

// Ledger is the contract every backend exposes.
type Ledger interface {
	// Save persists the current in-memory state durably.
	Save() error

	// Subjects returns every subject in the ledger.
	Subjects() []*subject.Subject

	// Subject returns the named subject, or a NotFound error.
	Subject(name string) (*subject.Subject, error)

	// AddSubject adds a new subject and saves. Duplicate names yield a
	// Conflict error.
	AddSubject(s *subject.Subject) error

	// UpdateSubject replaces the stored record for the subject and saves.
	// The prior record is retained in the ledger history.
	UpdateSubject(s *subject.Subject) error

	// DeleteSubject soft-deletes the named subject into the trash
	// namespace and saves.
	DeleteSubject(name string) error

	// ProjectAnalyses returns the project-scoped analyses.
	ProjectAnalyses() []*subject.Production

	// AddProjectAnalysis adds a project-scoped analysis, rejecting
	// duplicate names with a Conflict error.
	AddProjectAnalysis(p *subject.Production) error

	// UpdateProjectAnalysis replaces the stored record for a
	// project-scoped analysis and saves.
	UpdateProjectAnalysis(p *subject.Production) error

	// Productions returns productions, optionally restricted to one
	// subject and filtered on attribute=value pairs.
	Productions(subjectName string, filters map[string]string) ([]*subject.Production, error)

	// Defaults returns the project-level default settings merged into new
	// subjects on load.
	Defaults() map[string]interface{}

	// MergeConfiguration merges project-level settings from a
	// configuration blueprint into the ledger and saves.
	MergeConfiguration(data map[string]interface{}) error
}

// historyTag generates a short identifier for a stored history version.
func historyTag() string {
	return uuid.NewString()[:8]
}

// defaultKeys are the top-level ledger keys treated as project defaults.
var defaultKeys = []string{"data", "priors", "quality", "likelihood", "scheduler"}

// filterProductions applies attribute filters to a production list.
func filterProductions(productions []*subject.Production, filters map[string]string) []*subject.Production {
	if len(filters) == 0 {
		return productions
	}
	var out []*subject.Production
	for _, p := range productions {
		matches := true
		for key, value := range filters {
			if !p.MatchesFilter([]string{key}, value) {
				matches = false
				break
			}
		}
		if matches {
			out = append(out, p)
		}
	}
	return out
}
