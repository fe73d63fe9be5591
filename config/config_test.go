package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	require.NoError(t, v.Unmarshal(&cfg))

	assert.Equal(t, "yamlfile", cfg.Ledger.Engine)
	assert.Equal(t, filepath.Join(".asimov", "ledger.yml"), cfg.Ledger.Location)
	assert.Equal(t, 60, cfg.Ledger.LockTimeoutSeconds)
	assert.Equal(t, "htcondor", cfg.Scheduler.Type)
	assert.Equal(t, 900, cfg.Scheduler.CacheTTLSeconds)
	assert.Equal(t, "working", cfg.General.RundirDefault)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "asimov.toml")
	content := `
[project]
name = "O4-catalogue"

[ledger]
engine = "sqlite"
location = ".asimov/ledger.db"

[scheduler]
type = "slurm"
partition = "compute"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "O4-catalogue", cfg.Project.Name)
	assert.Equal(t, "sqlite", cfg.Ledger.Engine)
	assert.Equal(t, "slurm", cfg.Scheduler.Type)
	assert.Equal(t, "compute", cfg.Scheduler.Partition)

	// Unset keys fall back to defaults.
	assert.Equal(t, 60, cfg.Ledger.LockTimeoutSeconds)
	assert.Equal(t, "working", cfg.General.RundirDefault)
}

func TestLoadFromFileMissing(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}
