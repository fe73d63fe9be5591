package pipeline

import (
	"context"
	"os"
	"path/filepath"

	"github.com/etive-io/asimov/errors"
	"github.com/etive-io/asimov/logger"
	"github.com/etive-io/asimov/subject"
)

// resultsMarker is the file whose presence marks a simple analysis as
// complete.
const resultsMarker = "results.dat"

// Simple is a file-marker pipeline used in tests and as a template for
// adapter authors. Completion is the presence of a results file in the
// rundir; submission writes a marker instead of talking to a scheduler.
type Simple struct {
	Base
}

// NewSimple builds a simple pipeline for a production. The rundir is read
// from the production's `rundir` metadata.
func NewSimple(p *subject.Production) Pipeline {
	return &Simple{Base{Production: p}}
}

func (s *Simple) rundir() (string, error) {
	rundir, ok := s.Production.Meta["rundir"].(string)
	if !ok || rundir == "" {
		return "", errors.Newf("production %s has no rundir", s.Production.Name)
	}
	return rundir, nil
}

// BuildDAG creates the rundir and writes a placeholder DAG file.
func (s *Simple) BuildDAG(ctx context.Context, opts BuildOptions) error {
	rundir, err := s.rundir()
	if err != nil {
		if opts.Rundir == "" {
			return err
		}
		rundir = opts.Rundir
		s.Production.Meta["rundir"] = rundir
	}
	if err := os.MkdirAll(rundir, 0o755); err != nil {
		return errors.Wrap(err, "failed to create rundir")
	}
	dag := "JOB analysis analysis.sub\n"
	if err := os.WriteFile(filepath.Join(rundir, "analysis.dag"), []byte(dag), 0o644); err != nil {
		return errors.Wrap(err, "failed to write DAG file")
	}
	logger.Debugw("Built simple DAG", "production", s.Production.Name, "rundir", rundir)
	return nil
}

// SubmitDAG records submission with a marker file and returns a synthetic
// job identifier.
func (s *Simple) SubmitDAG(ctx context.Context, dryRun bool) (string, error) {
	if dryRun {
		return "", nil
	}
	rundir, err := s.rundir()
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(rundir, "submitted"), nil, 0o644); err != nil {
		return "", errors.Wrap(err, "failed to write submission marker")
	}
	return "simple-" + s.Production.Name, nil
}

// DetectCompletion reports whether the results file exists.
func (s *Simple) DetectCompletion(ctx context.Context) (bool, error) {
	rundir, err := s.rundir()
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(filepath.Join(rundir, resultsMarker)); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, errors.Wrap(err, "failed to check results file")
	}
	return true, nil
}

// AfterCompletion has nothing to do for a simple analysis.
func (s *Simple) AfterCompletion(ctx context.Context) error {
	return nil
}

// EjectJob has nothing to remove, the submission marker aside.
func (s *Simple) EjectJob(ctx context.Context) error {
	rundir, err := s.rundir()
	if err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(rundir, "submitted")); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "failed to remove submission marker")
	}
	return nil
}

// CollectAssets returns the results file when it exists.
func (s *Simple) CollectAssets(ctx context.Context) (map[string]string, error) {
	rundir, err := s.rundir()
	if err != nil {
		return nil, err
	}
	path := filepath.Join(rundir, resultsMarker)
	if _, err := os.Stat(path); err != nil {
		return map[string]string{}, nil
	}
	return map[string]string{resultsMarker: path}, nil
}
