package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/etive-io/asimov/errors"
	"github.com/etive-io/asimov/subject"
)

func TestRegistry(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register("simple", NewSimple))

	err := registry.Register("simple", NewSimple)
	assert.True(t, errors.IsConflict(err), "duplicate registration is rejected")

	p := subject.NewProduction("Prod0", "simple")
	pipe, err := registry.Get(p)
	require.NoError(t, err)
	assert.NotNil(t, pipe)

	p.Pipeline = "bilby"
	_, err = registry.Get(p)
	assert.True(t, errors.IsNotFound(err))

	assert.Equal(t, []string{"simple"}, registry.Names())
}

func TestBaseHooksNotSupported(t *testing.T) {
	ctx := context.Background()
	base := &Base{Production: subject.NewProduction("Prod0", "none")}

	assert.True(t, errors.IsNotSupported(base.BuildDAG(ctx, BuildOptions{})))
	_, err := base.SubmitDAG(ctx, false)
	assert.True(t, errors.IsNotSupported(err))
	_, err = base.DetectCompletion(ctx)
	assert.True(t, errors.IsNotSupported(err))
	assert.True(t, errors.IsNotSupported(base.BeforeSubmit(ctx)))
	assert.True(t, errors.IsNotSupported(base.AfterCompletion(ctx)))
	assert.True(t, errors.IsNotSupported(base.AfterProcessing(ctx)))
	assert.True(t, errors.IsNotSupported(base.Resurrect(ctx)))
	assert.True(t, errors.IsNotSupported(base.EjectJob(ctx)))
	_, err = base.CollectAssets(ctx)
	assert.True(t, errors.IsNotSupported(err))
}

func TestSimplePipelineLifecycle(t *testing.T) {
	ctx := context.Background()
	rundir := filepath.Join(t.TempDir(), "Prod0")

	p := subject.NewProduction("Prod0", "simple")
	pipe := NewSimple(p)

	require.NoError(t, pipe.BuildDAG(ctx, BuildOptions{Rundir: rundir}))
	assert.Equal(t, rundir, p.Meta["rundir"])
	assert.FileExists(t, filepath.Join(rundir, "analysis.dag"))

	jobID, err := pipe.SubmitDAG(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, "simple-Prod0", jobID)
	assert.FileExists(t, filepath.Join(rundir, "submitted"))

	complete, err := pipe.DetectCompletion(ctx)
	require.NoError(t, err)
	assert.False(t, complete)

	require.NoError(t, os.WriteFile(filepath.Join(rundir, "results.dat"), []byte("posterior"), 0o644))
	complete, err = pipe.DetectCompletion(ctx)
	require.NoError(t, err)
	assert.True(t, complete)

	assets, err := pipe.CollectAssets(ctx)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(rundir, "results.dat"), assets["results.dat"])

	require.NoError(t, pipe.AfterCompletion(ctx))
	require.NoError(t, pipe.EjectJob(ctx))
	assert.NoFileExists(t, filepath.Join(rundir, "submitted"))
}

func TestSimplePipelineDryRun(t *testing.T) {
	p := subject.NewProduction("Prod0", "simple")
	p.Meta["rundir"] = t.TempDir()
	pipe := NewSimple(p)

	jobID, err := pipe.SubmitDAG(context.Background(), true)
	require.NoError(t, err)
	assert.Empty(t, jobID)
}

func TestSimplePipelineNoRundir(t *testing.T) {
	p := subject.NewProduction("Prod0", "simple")
	pipe := NewSimple(p)

	_, err := pipe.DetectCompletion(context.Background())
	assert.Error(t, err)

	err = pipe.BuildDAG(context.Background(), BuildOptions{})
	assert.Error(t, err)
}
