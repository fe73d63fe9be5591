package ledger

import (
	"database/sql"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/etive-io/asimov/db"
	"github.com/etive-io/asimov/errors"
	"github.com/etive-io/asimov/subject"
)

// SQLLedger stores the project in SQLite. Structured fields land in columns;
// free-form metadata, labels, and dependency lists are JSON columns. Every
// mutating call runs in its own transaction, and deleting a subject cascades
// to its productions through the schema's foreign key.
type SQLLedger struct {
	database *sql.DB
	subjects []*subject.Subject
}

// CreateSQL initialises a fresh SQLite ledger at the given path.
func CreateSQL(path, projectName string, logger *zap.SugaredLogger) error {
	database, err := db.Open(path, logger)
	if err != nil {
		return err
	}
	defer database.Close()
	if err := db.Migrate(database, logger); err != nil {
		return err
	}
	_, err = database.Exec(
		"INSERT INTO project (key, value) VALUES ('name', ?) ON CONFLICT(key) DO NOTHING",
		projectName)
	if err != nil {
		return errors.Wrap(err, "failed to record project name")
	}
	return nil
}

// OpenSQL opens an existing SQLite ledger and loads its subjects.
func OpenSQL(path string, logger *zap.SugaredLogger) (*SQLLedger, error) {
	database, err := db.Open(path, logger)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(database, logger); err != nil {
		database.Close()
		return nil, err
	}
	l := &SQLLedger{database: database}
	if err := l.load(); err != nil {
		database.Close()
		return nil, err
	}
	return l, nil
}

// OpenSQLDB wraps an already-open database handle, loading its subjects. The
// caller retains ownership of the handle.
func OpenSQLDB(database *sql.DB) (*SQLLedger, error) {
	l := &SQLLedger{database: database}
	if err := l.load(); err != nil {
		return nil, err
	}
	return l, nil
}

// Close releases the underlying database handle.
func (l *SQLLedger) Close() error {
	return l.database.Close()
}

func (l *SQLLedger) load() error {
	rows, err := l.database.Query(
		"SELECT id, name, working_directory, repository, meta FROM subjects ORDER BY name")
	if err != nil {
		return errors.Wrap(err, "failed to query subjects")
	}
	defer rows.Close()

	ids := map[string]int64{}
	l.subjects = nil
	for rows.Next() {
		var (
			id                  int64
			name, workdir, repo string
			meta                string
		)
		if err := rows.Scan(&id, &name, &workdir, &repo, &meta); err != nil {
			return errors.Wrap(err, "failed to scan subject")
		}
		s := subject.New(name)
		s.WorkingDirectory = workdir
		s.Repository = repo
		if err := json.Unmarshal([]byte(meta), &s.Meta); err != nil {
			return errors.Wrapf(errors.ErrCorrupt, "subject %s has invalid metadata: %v", name, err)
		}
		ids[name] = id
		l.subjects = append(l.subjects, s)
	}
	if err := rows.Err(); err != nil {
		return errors.Wrap(err, "failed to iterate subjects")
	}

	for _, s := range l.subjects {
		if err := l.loadProductions(s, ids[s.Name]); err != nil {
			return err
		}
	}
	return nil
}

func (l *SQLLedger) loadProductions(s *subject.Subject, subjectID int64) error {
	rows, err := l.database.Query(`
		SELECT name, pipeline, status, comment, job_id, resurrections,
		       dependencies, needs, labels, meta
		FROM productions WHERE subject_id = ? ORDER BY id`, subjectID)
	if err != nil {
		return errors.Wrapf(err, "failed to query productions for %s", s.Name)
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanProduction(rows)
		if err != nil {
			return errors.Wrapf(err, "failed to load production for %s", s.Name)
		}
		s.Productions = append(s.Productions, p)
	}
	return rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanProduction(row rowScanner) (*subject.Production, error) {
	var (
		name, pipeline, status, comment, jobID string
		resurrections                          int
		deps, labels, meta                     string
		needs                                  sql.NullString
	)
	if err := row.Scan(&name, &pipeline, &status, &comment, &jobID,
		&resurrections, &deps, &needs, &labels, &meta); err != nil {
		return nil, err
	}
	p := subject.NewProduction(name, pipeline)
	p.Status = subject.Status(status)
	p.Comment = comment
	p.JobID = jobID
	p.Resurrections = resurrections
	if err := json.Unmarshal([]byte(deps), &p.Dependencies); err != nil {
		return nil, errors.Wrapf(errors.ErrCorrupt, "production %s has invalid dependencies: %v", name, err)
	}
	if err := json.Unmarshal([]byte(labels), &p.Labels); err != nil {
		return nil, errors.Wrapf(errors.ErrCorrupt, "production %s has invalid labels: %v", name, err)
	}
	if err := json.Unmarshal([]byte(meta), &p.Meta); err != nil {
		return nil, errors.Wrapf(errors.ErrCorrupt, "production %s has invalid metadata: %v", name, err)
	}
	if needs.Valid && needs.String != "" {
		var policy subject.NeedsPolicy
		if err := json.Unmarshal([]byte(needs.String), &policy); err != nil {
			return nil, errors.Wrapf(errors.ErrCorrupt, "production %s has invalid needs settings: %v", name, err)
		}
		p.Needs = &policy
	}
	return p, nil
}

func productionColumns(p *subject.Production) (deps, needs, labels, meta string, err error) {
	encode := func(v interface{}, fallback string) (string, error) {
		if v == nil {
			return fallback, nil
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(raw), nil
	}
	if deps, err = encode(p.Dependencies, "[]"); err != nil {
		return
	}
	if p.Needs != nil {
		if needs, err = encode(p.Needs, ""); err != nil {
			return
		}
	}
	if labels, err = encode(p.Labels, "{}"); err != nil {
		return
	}
	meta, err = encode(p.Meta, "{}")
	return
}

// Save rewrites the subject and production tables from the in-memory state in
// one transaction.
func (l *SQLLedger) Save() error {
	tx, err := l.database.Begin()
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	for _, s := range l.subjects {
		if err := saveSubjectTx(tx, s); err != nil {
			return err
		}
	}
	return errors.Wrap(tx.Commit(), "failed to commit save")
}

func saveSubjectTx(tx *sql.Tx, s *subject.Subject) error {
	meta, err := json.Marshal(s.Meta)
	if err != nil {
		return errors.Wrapf(err, "failed to serialise metadata for %s", s.Name)
	}
	if s.Meta == nil {
		meta = []byte("{}")
	}
	_, err = tx.Exec(`
		INSERT INTO subjects (name, working_directory, repository, meta)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			working_directory = excluded.working_directory,
			repository = excluded.repository,
			meta = excluded.meta,
			updated_at = CURRENT_TIMESTAMP`,
		s.Name, s.WorkingDirectory, s.Repository, string(meta))
	if err != nil {
		return errors.Wrapf(err, "failed to upsert subject %s", s.Name)
	}

	var subjectID int64
	if err := tx.QueryRow("SELECT id FROM subjects WHERE name = ?", s.Name).Scan(&subjectID); err != nil {
		return errors.Wrapf(err, "failed to resolve subject %s", s.Name)
	}

	// Productions are rewritten wholesale; removed ones disappear.
	if _, err := tx.Exec("DELETE FROM productions WHERE subject_id = ?", subjectID); err != nil {
		return errors.Wrapf(err, "failed to clear productions for %s", s.Name)
	}
	for _, p := range s.Productions {
		deps, needs, labels, prodMeta, err := productionColumns(p)
		if err != nil {
			return errors.Wrapf(err, "failed to serialise production %s", p.Name)
		}
		var needsValue interface{}
		if needs != "" {
			needsValue = needs
		}
		_, err = tx.Exec(`
			INSERT INTO productions
				(subject_id, name, pipeline, status, comment, job_id,
				 resurrections, dependencies, needs, labels, meta)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			subjectID, p.Name, p.Pipeline, string(p.Status), p.Comment,
			p.JobID, p.Resurrections, deps, needsValue, labels, prodMeta)
		if err != nil {
			return errors.Wrapf(err, "failed to insert production %s", p.Name)
		}
	}
	return nil
}

// Subjects returns every subject in the ledger.
func (l *SQLLedger) Subjects() []*subject.Subject {
	return l.subjects
}

// Subject returns the named subject, or a NotFound error.
func (l *SQLLedger) Subject(name string) (*subject.Subject, error) {
	for _, s := range l.subjects {
		if s.Name == name {
			return s, nil
		}
	}
	return nil, errors.NewNotFound("subject %s not found in ledger", name)
}

// AddSubject adds a new subject and saves.
func (l *SQLLedger) AddSubject(s *subject.Subject) error {
	for _, existing := range l.subjects {
		if existing.Name == s.Name {
			return errors.NewConflict("a subject named %s already exists in the ledger", s.Name)
		}
	}
	l.subjects = append(l.subjects, s)
	return l.Save()
}

// UpdateSubject replaces the stored record for the subject and saves, keeping
// the prior record in the history table.
func (l *SQLLedger) UpdateSubject(s *subject.Subject) error {
	for i, existing := range l.subjects {
		if existing.Name != s.Name {
			continue
		}
		if err := l.recordHistory(existing); err != nil {
			return err
		}
		l.subjects[i] = s
		return l.Save()
	}
	return errors.NewNotFound("subject %s not found in ledger", s.Name)
}

func (l *SQLLedger) recordHistory(s *subject.Subject) error {
	record, err := json.Marshal(s.ToMap())
	if err != nil {
		return errors.Wrapf(err, "failed to serialise history for %s", s.Name)
	}
	_, err = l.database.Exec(
		"INSERT INTO subject_history (subject_name, tag, record) VALUES (?, ?, ?)",
		s.Name, historyTag(), string(record))
	return errors.Wrapf(err, "failed to record history for %s", s.Name)
}

// DeleteSubject moves the subject into the trash table; the schema's cascade
// removes its productions.
func (l *SQLLedger) DeleteSubject(name string) error {
	for i, s := range l.subjects {
		if s.Name != name {
			continue
		}
		record, err := json.Marshal(s.ToMap())
		if err != nil {
			return errors.Wrapf(err, "failed to serialise subject %s", name)
		}
		tx, err := l.database.Begin()
		if err != nil {
			return errors.Wrap(err, "failed to begin transaction")
		}
		defer tx.Rollback()
		if _, err := tx.Exec(
			"INSERT INTO trashed_subjects (name, record) VALUES (?, ?)",
			name, string(record)); err != nil {
			return errors.Wrapf(err, "failed to trash subject %s", name)
		}
		if _, err := tx.Exec("DELETE FROM subjects WHERE name = ?", name); err != nil {
			return errors.Wrapf(err, "failed to delete subject %s", name)
		}
		if err := tx.Commit(); err != nil {
			return errors.Wrap(err, "failed to commit delete")
		}
		l.subjects = append(l.subjects[:i], l.subjects[i+1:]...)
		return nil
	}
	return errors.NewNotFound("subject %s not found in ledger", name)
}

// ProjectAnalyses returns the project-scoped analyses.
func (l *SQLLedger) ProjectAnalyses() []*subject.Production {
	rows, err := l.database.Query(`
		SELECT name, pipeline, status, comment, job_id, resurrections,
		       dependencies, needs, labels, meta
		FROM project_analyses ORDER BY id`)
	if err != nil {
		return nil
	}
	defer rows.Close()

	var out []*subject.Production
	for rows.Next() {
		p, err := scanProduction(rows)
		if err != nil {
			continue
		}
		out = append(out, p)
	}
	return out
}

// AddProjectAnalysis adds a project-scoped analysis, rejecting duplicates.
func (l *SQLLedger) AddProjectAnalysis(p *subject.Production) error {
	var count int
	err := l.database.QueryRow(
		"SELECT COUNT(*) FROM project_analyses WHERE name = ?", p.Name).Scan(&count)
	if err != nil {
		return errors.Wrap(err, "failed to check existing analyses")
	}
	if count > 0 {
		return errors.NewConflict("an analysis named %s already exists in the ledger", p.Name)
	}
	return l.writeProjectAnalysis(p, false)
}

// UpdateProjectAnalysis replaces the stored record for a project analysis.
func (l *SQLLedger) UpdateProjectAnalysis(p *subject.Production) error {
	var count int
	err := l.database.QueryRow(
		"SELECT COUNT(*) FROM project_analyses WHERE name = ?", p.Name).Scan(&count)
	if err != nil {
		return errors.Wrap(err, "failed to check existing analyses")
	}
	if count == 0 {
		return errors.NewNotFound("analysis %s not found in ledger", p.Name)
	}
	return l.writeProjectAnalysis(p, true)
}

func (l *SQLLedger) writeProjectAnalysis(p *subject.Production, update bool) error {
	deps, needs, labels, meta, err := productionColumns(p)
	if err != nil {
		return errors.Wrapf(err, "failed to serialise analysis %s", p.Name)
	}
	var needsValue interface{}
	if needs != "" {
		needsValue = needs
	}
	if update {
		_, err = l.database.Exec(`
			UPDATE project_analyses SET
				pipeline = ?, status = ?, comment = ?, job_id = ?,
				resurrections = ?, dependencies = ?, needs = ?,
				labels = ?, meta = ?, updated_at = CURRENT_TIMESTAMP
			WHERE name = ?`,
			p.Pipeline, string(p.Status), p.Comment, p.JobID,
			p.Resurrections, deps, needsValue, labels, meta, p.Name)
	} else {
		_, err = l.database.Exec(`
			INSERT INTO project_analyses
				(name, pipeline, status, comment, job_id, resurrections,
				 dependencies, needs, labels, meta)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.Name, p.Pipeline, string(p.Status), p.Comment, p.JobID,
			p.Resurrections, deps, needsValue, labels, meta)
	}
	return errors.Wrapf(err, "failed to write analysis %s", p.Name)
}

// Productions returns productions, optionally restricted to one subject and
// filtered on attribute=value pairs.
func (l *SQLLedger) Productions(subjectName string, filters map[string]string) ([]*subject.Production, error) {
	var productions []*subject.Production
	if subjectName != "" {
		s, err := l.Subject(subjectName)
		if err != nil {
			return nil, err
		}
		productions = s.Productions
	} else {
		for _, s := range l.subjects {
			productions = append(productions, s.Productions...)
		}
	}
	return filterProductions(productions, filters), nil
}

// MergeConfiguration stores configuration blueprint settings in the defaults
// table as JSON values.
func (l *SQLLedger) MergeConfiguration(data map[string]interface{}) error {
	tx, err := l.database.Begin()
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	for key, value := range data {
		encoded, err := json.Marshal(value)
		if err != nil {
			return errors.Wrapf(err, "failed to serialise setting %s", key)
		}
		_, err = tx.Exec(`
			INSERT INTO defaults (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
			key, string(encoded))
		if err != nil {
			return errors.Wrapf(err, "failed to store setting %s", key)
		}
	}
	return errors.Wrap(tx.Commit(), "failed to commit configuration")
}

// Defaults returns the project-level default settings.
func (l *SQLLedger) Defaults() map[string]interface{} {
	rows, err := l.database.Query("SELECT key, value FROM defaults")
	if err != nil {
		return map[string]interface{}{}
	}
	defer rows.Close()

	defaults := map[string]interface{}{}
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			continue
		}
		var decoded interface{}
		if err := json.Unmarshal([]byte(value), &decoded); err != nil {
			continue
		}
		defaults[key] = decoded
	}
	return defaults
}
