// Package commands implements the asimov CLI.
package commands

import (
	"context"
	"strings"
	"time"

	"github.com/etive-io/asimov/config"
	"github.com/etive-io/asimov/errors"
	"github.com/etive-io/asimov/labeller"
	"github.com/etive-io/asimov/ledger"
	"github.com/etive-io/asimov/logger"
	"github.com/etive-io/asimov/monitor"
	"github.com/etive-io/asimov/pipeline"
	"github.com/etive-io/asimov/scheduler"
)

// openLedger opens the ledger backend the project configuration selects.
func openLedger(cfg *config.Config) (ledger.Ledger, error) {
	switch strings.ToLower(cfg.Ledger.Engine) {
	case "", "yamlfile", "yaml":
		timeout := time.Duration(cfg.Ledger.LockTimeoutSeconds) * time.Second
		return ledger.OpenYAML(cfg.Ledger.Location, timeout)
	case "sqlite", "sql":
		return ledger.OpenSQL(cfg.Ledger.Location, logger.Logger)
	default:
		return nil, errors.Newf("unknown ledger engine %q", cfg.Ledger.Engine)
	}
}

// defaultPipelines builds the registry of built-in pipelines.
func defaultPipelines() *pipeline.Registry {
	registry := pipeline.NewRegistry()
	// The registry is empty at this point, registration cannot collide.
	_ = registry.Register("simple", pipeline.NewSimple)
	return registry
}

// newMonitorContext assembles everything a monitor pass needs from the
// project configuration.
func newMonitorContext(ctx context.Context, cfg *config.Config, led ledger.Ledger, dryRun bool, subjectFilter string) (*monitor.Context, error) {
	sched, err := scheduler.GetScheduler(cfg.Scheduler.Type, scheduler.Options{
		ScheddName: cfg.Scheduler.ScheddName,
		Partition:  cfg.Scheduler.Partition,
	})
	if err != nil {
		return nil, err
	}

	cache, err := scheduler.NewJobCache(ctx, cfg.Scheduler.CachePath, sched)
	if err != nil {
		return nil, err
	}

	return &monitor.Context{
		Ledger:        led,
		Cache:         cache,
		Pipelines:     defaultPipelines(),
		Labellers:     labeller.NewRegistry(),
		Log:           logger.Logger.Named("monitor"),
		DryRun:        dryRun,
		RundirDefault: cfg.General.RundirDefault,
		SubjectFilter: subjectFilter,
	}, nil
}
