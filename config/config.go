// Package config provides asimov's project configuration via Viper.
//
// Configuration is resolved in precedence order: defaults, then the project
// configuration file (asimov.toml in the project root or any parent
// directory), then ASIMOV_* environment variables.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config holds the resolved asimov configuration.
type Config struct {
	Project   ProjectConfig   `mapstructure:"project"`
	Ledger    LedgerConfig    `mapstructure:"ledger"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	General   GeneralConfig   `mapstructure:"general"`
}

// ProjectConfig identifies the project this working tree belongs to.
type ProjectConfig struct {
	Name string `mapstructure:"name"`
	Root string `mapstructure:"root"`
}

// LedgerConfig selects and locates the ledger backend.
type LedgerConfig struct {
	Engine             string `mapstructure:"engine"`   // "yamlfile" or "sqlite"
	Location           string `mapstructure:"location"` // ledger file path
	LockTimeoutSeconds int    `mapstructure:"lock_timeout_seconds"`
}

// SchedulerConfig selects the batch scheduler backend.
type SchedulerConfig struct {
	Type            string `mapstructure:"type"`       // "htcondor", "slurm", "local"
	ScheddName      string `mapstructure:"schedd"`     // HTCondor schedd, optional
	Partition       string `mapstructure:"partition"`  // Slurm partition, optional
	CachePath       string `mapstructure:"cache_path"` // job cache file
	CacheTTLSeconds int    `mapstructure:"cache_ttl_seconds"`
}

// GeneralConfig holds miscellaneous project-wide settings.
type GeneralConfig struct {
	RundirDefault string `mapstructure:"rundir_default"`
}

var (
	globalConfig  *Config
	viperInstance *viper.Viper
)

// Load reads the asimov configuration using Viper.
func Load() (*Config, error) {
	if globalConfig != nil {
		return globalConfig, nil
	}

	v := initViper()

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	globalConfig = &config
	return globalConfig, nil
}

// LoadFromFile loads configuration from a specific file path.
func LoadFromFile(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("toml")
	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

// GetViper returns the Viper instance for advanced configuration access.
func GetViper() *viper.Viper {
	return initViper()
}

// Reset clears the cached configuration (useful for testing).
func Reset() {
	globalConfig = nil
	viperInstance = nil
}

// SetDefaults registers the default configuration values on a Viper instance.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("project.name", "")
	v.SetDefault("project.root", ".")
	v.SetDefault("ledger.engine", "yamlfile")
	v.SetDefault("ledger.location", filepath.Join(".asimov", "ledger.yml"))
	v.SetDefault("ledger.lock_timeout_seconds", 60)
	v.SetDefault("scheduler.type", "htcondor")
	v.SetDefault("scheduler.schedd", "")
	v.SetDefault("scheduler.partition", "")
	v.SetDefault("scheduler.cache_path", filepath.Join(".asimov", "job-cache.json"))
	v.SetDefault("scheduler.cache_ttl_seconds", 900)
	v.SetDefault("general.rundir_default", "working")
}

func initViper() *viper.Viper {
	if viperInstance != nil {
		return viperInstance
	}

	v := viper.New()

	v.SetEnvPrefix("ASIMOV")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	if path := findProjectConfig(); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		// A malformed config file is reported lazily via Load's unmarshal;
		// a missing one is fine.
		_ = v.ReadInConfig()
	}

	viperInstance = v
	return v
}

// findProjectConfig searches for asimov.toml by walking up the directory tree.
// Returns the path to the first config file found, or empty string if none.
func findProjectConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, "asimov.toml")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}
