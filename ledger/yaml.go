package ledger

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/gofrs/flock"
	"gopkg.in/yaml.v3"

	"github.com/etive-io/asimov/errors"
	"github.com/etive-io/asimov/internal/version"
	"github.com/etive-io/asimov/subject"
)

// DefaultLockTimeout bounds how long a save waits on the advisory file lock
// before failing with a LockTimeout error.
const DefaultLockTimeout = 60 * time.Second

// lockRetryDelay is the poll interval while waiting on the file lock.
const lockRetryDelay = 100 * time.Millisecond

// YAMLLedger stores the whole project in a single YAML file.
//
// Saves take the advisory file lock, write a .bak copy of the prior file,
// write the new content to a temporary path, and atomically rename it over
// the original, so readers never observe a partial file. The lock guards
// against other processes only; in-process callers must serialize their own
// mutations.
type YAMLLedger struct {
	location    string
	lock        *flock.Flock
	lockTimeout time.Duration

	data     map[string]interface{}
	subjects []*subject.Subject
}

// CreateYAML writes a fresh, empty ledger file.
func CreateYAML(location, projectName string) error {
	if err := os.MkdirAll(filepath.Dir(location), 0o755); err != nil {
		return errors.Wrap(err, "failed to create ledger directory")
	}
	if _, err := os.Stat(location); err == nil {
		return errors.NewConflict("a ledger already exists at %s", location)
	}
	data := map[string]interface{}{
		"asimov":           map[string]interface{}{"version": version.Version},
		"project":          map[string]interface{}{"name": projectName},
		"events":           []interface{}{},
		"project analyses": []interface{}{},
	}
	encoded, err := yaml.Marshal(data)
	if err != nil {
		return errors.Wrap(err, "failed to serialise ledger")
	}
	return os.WriteFile(location, encoded, 0o644)
}

// OpenYAML loads a ledger from disk. An unreadable or unparseable file is a
// Corrupt error; the loader never fabricates an empty ledger. Project-level
// defaults are merged into each loaded subject, with subject values winning.
func OpenYAML(location string, lockTimeout time.Duration) (*YAMLLedger, error) {
	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}

	raw, err := os.ReadFile(location)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrCorrupt, "cannot read ledger at %s: %v", location, err)
	}

	var data map[string]interface{}
	if err := yaml.Unmarshal(raw, &data); err != nil {
		return nil, errors.Wrapf(errors.ErrCorrupt, "cannot parse ledger at %s: %v", location, err)
	}
	if data == nil {
		return nil, errors.Wrapf(errors.ErrCorrupt, "ledger at %s is empty", location)
	}

	if err := checkVersion(data); err != nil {
		return nil, err
	}

	l := &YAMLLedger{
		location:    location,
		lock:        flock.New(location + ".lock"),
		lockTimeout: lockTimeout,
		data:        data,
	}

	defaults := l.Defaults()
	events, _ := data["events"].([]interface{})
	for _, entry := range events {
		record, ok := entry.(map[string]interface{})
		if !ok {
			return nil, errors.Wrapf(errors.ErrCorrupt, "event record is %T, expected a mapping", entry)
		}
		s, err := subject.FromMap(mergeDefaults(defaults, record))
		if err != nil {
			return nil, errors.Wrap(err, "failed to load subject")
		}
		l.subjects = append(l.subjects, s)
	}
	delete(data, "events")

	return l, nil
}

// checkVersion refuses ledgers written by a newer major version of asimov.
func checkVersion(data map[string]interface{}) error {
	meta, _ := data["asimov"].(map[string]interface{})
	recorded, _ := meta["version"].(string)
	if recorded == "" {
		return nil
	}
	written, err := semver.NewVersion(recorded)
	if err != nil {
		// Unparseable versions are tolerated; old ledgers carried
		// free-form strings.
		return nil
	}
	current := semver.MustParse(version.Version)
	if written.Major() > current.Major() {
		return errors.Wrapf(errors.ErrCorrupt,
			"ledger was written by asimov %s, this is %s", recorded, version.Version)
	}
	return nil
}

// mergeDefaults overlays a record on the project defaults. Values already
// present in the record win.
func mergeDefaults(defaults, record map[string]interface{}) map[string]interface{} {
	if len(defaults) == 0 {
		return record
	}
	merged := make(map[string]interface{}, len(record)+len(defaults))
	for key, value := range defaults {
		merged[key] = value
	}
	for key, value := range record {
		if existing, ok := merged[key]; ok {
			existingMap, okA := existing.(map[string]interface{})
			valueMap, okB := value.(map[string]interface{})
			if okA && okB {
				merged[key] = mergeDefaults(existingMap, valueMap)
				continue
			}
		}
		merged[key] = value
	}
	return merged
}

// Location returns the path of the ledger file.
func (l *YAMLLedger) Location() string {
	return l.location
}

// Save writes the ledger to disk under the file lock. A .bak sibling always
// mirrors the previous save; the new content lands via a temp file and an
// atomic rename, so a crash mid-save leaves the original untouched.
func (l *YAMLLedger) Save() error {
	ctx, cancel := context.WithTimeout(context.Background(), l.lockTimeout)
	defer cancel()

	locked, err := l.lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil || !locked {
		return errors.Wrapf(errors.ErrLockTimeout,
			"could not lock %s within %s", l.location, l.lockTimeout)
	}
	defer l.lock.Unlock()

	events := make([]interface{}, 0, len(l.subjects))
	for _, s := range l.subjects {
		events = append(events, s.ToMap())
	}
	l.data["events"] = events
	defer delete(l.data, "events")

	if meta, ok := l.data["asimov"].(map[string]interface{}); ok {
		meta["version"] = version.Version
	} else {
		l.data["asimov"] = map[string]interface{}{"version": version.Version}
	}

	encoded, err := yaml.Marshal(l.data)
	if err != nil {
		return errors.Wrap(err, "failed to serialise ledger")
	}

	if err := copyFile(l.location, l.location+".bak"); err != nil {
		return errors.Wrap(err, "failed to write ledger backup")
	}

	tmp := l.location + "_tmp"
	if err := os.WriteFile(tmp, encoded, 0o644); err != nil {
		return errors.Wrap(err, "failed to write ledger temp file")
	}
	if err := os.Rename(tmp, l.location); err != nil {
		return errors.Wrap(err, "failed to replace ledger file")
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}

// Subjects returns every subject in the ledger.
func (l *YAMLLedger) Subjects() []*subject.Subject {
	return l.subjects
}

// Subject returns the named subject, or a NotFound error.
func (l *YAMLLedger) Subject(name string) (*subject.Subject, error) {
	for _, s := range l.subjects {
		if s.Name == name {
			return s, nil
		}
	}
	return nil, errors.NewNotFound("subject %s not found in ledger", name)
}

// AddSubject adds a new subject and saves.
func (l *YAMLLedger) AddSubject(s *subject.Subject) error {
	for _, existing := range l.subjects {
		if existing.Name == s.Name {
			return errors.NewConflict("a subject named %s already exists in the ledger", s.Name)
		}
	}
	l.subjects = append(l.subjects, s)
	return l.Save()
}

// UpdateSubject replaces the stored record and saves. The previous record is
// kept under history.<name>.<tag> with a change timestamp.
func (l *YAMLLedger) UpdateSubject(s *subject.Subject) error {
	for i, existing := range l.subjects {
		if existing.Name != s.Name {
			continue
		}
		if existing != s {
			l.recordHistory(existing)
			l.subjects[i] = s
		} else {
			l.recordHistory(existing)
		}
		return l.Save()
	}
	return errors.NewNotFound("subject %s not found in ledger", s.Name)
}

// recordHistory stores the current record of a subject under a fresh
// version tag.
func (l *YAMLLedger) recordHistory(s *subject.Subject) {
	history, ok := l.data["history"].(map[string]interface{})
	if !ok {
		history = map[string]interface{}{}
		l.data["history"] = history
	}
	versions, ok := history[s.Name].(map[string]interface{})
	if !ok {
		versions = map[string]interface{}{}
		history[s.Name] = versions
	}
	record := s.ToMap()
	record["date changed"] = time.Now().UTC().Format(time.RFC3339)
	versions[historyTag()] = record
}

// DeleteSubject moves the named subject into the trash namespace and saves.
func (l *YAMLLedger) DeleteSubject(name string) error {
	for i, s := range l.subjects {
		if s.Name != name {
			continue
		}
		l.subjects = append(l.subjects[:i], l.subjects[i+1:]...)

		trash, ok := l.data["trash"].(map[string]interface{})
		if !ok {
			trash = map[string]interface{}{}
			l.data["trash"] = trash
		}
		events, ok := trash["events"].(map[string]interface{})
		if !ok {
			events = map[string]interface{}{}
			trash["events"] = events
		}
		events[name] = s.ToMap()
		return l.Save()
	}
	return errors.NewNotFound("subject %s not found in ledger", name)
}

// ProjectAnalyses returns the project-scoped analyses.
func (l *YAMLLedger) ProjectAnalyses() []*subject.Production {
	raw, _ := l.data["project analyses"].([]interface{})
	var out []*subject.Production
	for _, entry := range raw {
		record, ok := entry.(map[string]interface{})
		if !ok {
			continue
		}
		name, _ := record["name"].(string)
		p, err := subject.ProductionFromMap(name, record)
		if err != nil {
			continue
		}
		out = append(out, p)
	}
	return out
}

// AddProjectAnalysis adds a project-scoped analysis and saves, rejecting
// duplicate names.
func (l *YAMLLedger) AddProjectAnalysis(p *subject.Production) error {
	raw, _ := l.data["project analyses"].([]interface{})
	for _, entry := range raw {
		record, ok := entry.(map[string]interface{})
		if ok && record["name"] == p.Name {
			return errors.NewConflict("an analysis named %s already exists in the ledger", p.Name)
		}
	}
	record := p.ToMap()
	record["name"] = p.Name
	l.data["project analyses"] = append(raw, record)
	return l.Save()
}

// UpdateProjectAnalysis replaces the stored record for a project analysis
// and saves.
func (l *YAMLLedger) UpdateProjectAnalysis(p *subject.Production) error {
	raw, _ := l.data["project analyses"].([]interface{})
	for i, entry := range raw {
		record, ok := entry.(map[string]interface{})
		if ok && record["name"] == p.Name {
			updated := p.ToMap()
			updated["name"] = p.Name
			raw[i] = updated
			l.data["project analyses"] = raw
			return l.Save()
		}
	}
	return errors.NewNotFound("analysis %s not found in ledger", p.Name)
}

// Productions returns productions, optionally restricted to one subject and
// filtered on attribute=value pairs.
func (l *YAMLLedger) Productions(subjectName string, filters map[string]string) ([]*subject.Production, error) {
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

// MergeConfiguration merges configuration blueprint settings into the
// ledger's top level and saves. Nested mappings merge recursively, with the
// incoming values winning.
func (l *YAMLLedger) MergeConfiguration(data map[string]interface{}) error {
	for key, value := range data {
		if existing, ok := l.data[key].(map[string]interface{}); ok {
			if valueMap, ok := value.(map[string]interface{}); ok {
				l.data[key] = mergeDefaults(existing, valueMap)
				continue
			}
		}
		l.data[key] = value
	}
	return l.Save()
}

// Defaults gathers the project-level default settings from the ledger.
func (l *YAMLLedger) Defaults() map[string]interface{} {
	defaults := map[string]interface{}{}
	for _, key := range defaultKeys {
		if value, ok := l.data[key]; ok {
			defaults[key] = value
		}
	}
	return defaults
}
