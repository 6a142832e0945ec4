// Package config loads the layered daemon configuration: built-in defaults,
// then a YAML file, then environment variables, mirroring the override-merge
// pattern the catalog and vector configs use internally.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// SourceConfig names one watched root.
type SourceConfig struct {
	Path      string   `mapstructure:"path" yaml:"path"`
	Recursive bool     `mapstructure:"recursive" yaml:"recursive"`
	FileTypes []string `mapstructure:"file_types" yaml:"file_types"`
	Priority  string   `mapstructure:"priority" yaml:"priority"`
	Enabled   bool     `mapstructure:"enabled" yaml:"enabled"`
	MaxDepth  int      `mapstructure:"max_depth" yaml:"max_depth"`
}

// ExcludeConfig lists paths and patterns the watcher and batch scanner skip.
type ExcludeConfig struct {
	Paths    []string `mapstructure:"paths" yaml:"paths"`
	Patterns []string `mapstructure:"patterns" yaml:"patterns"`
	SizeMax  string   `mapstructure:"size_max" yaml:"size_max"`
}

// ExtractionConfig tunes the pipeline's batching and capability selection.
type ExtractionConfig struct {
	BatchSize       int    `mapstructure:"batch_size" yaml:"batch_size"`
	ParallelWorkers int    `mapstructure:"parallel_workers" yaml:"parallel_workers"`
	EmbeddingModel  string `mapstructure:"embedding_model" yaml:"embedding_model"`
	ChunkMinTokens  int    `mapstructure:"chunk_min_tokens" yaml:"chunk_min_tokens"`
	ChunkMaxTokens  int    `mapstructure:"chunk_max_tokens" yaml:"chunk_max_tokens"`
}

// FAEProviderConfig toggles a single conversational-AI export provider.
type FAEProviderConfig struct {
	Enabled         bool `mapstructure:"enabled" yaml:"enabled"`
	ExtractArtifacts bool `mapstructure:"extract_artifacts" yaml:"extract_artifacts"`
}

// FAEConfig configures the conversational-export ingest path.
type FAEConfig struct {
	Enabled               bool                         `mapstructure:"enabled" yaml:"enabled"`
	AutoDetect            bool                         `mapstructure:"auto_detect" yaml:"auto_detect"`
	Providers             map[string]FAEProviderConfig `mapstructure:"providers" yaml:"providers"`
	CorrelateOnImport     bool                         `mapstructure:"correlate_on_import" yaml:"correlate_on_import"`
	MinConfidenceToSurface float64                     `mapstructure:"min_confidence_to_surface" yaml:"min_confidence_to_surface"`
}

// ScheduleConfig carries cron expressions for periodic jobs.
type ScheduleConfig struct {
	FullScan    string `mapstructure:"full_scan" yaml:"full_scan"`
	Correlation string `mapstructure:"correlation" yaml:"correlation"`
	Discovery   string `mapstructure:"discovery" yaml:"discovery"`
	Cleanup     string `mapstructure:"cleanup" yaml:"cleanup"`
}

// APIConfig configures the control plane listener.
type APIConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port"`
}

// CorrelationConfig carries the correlation engine's bounds and thresholds.
type CorrelationConfig struct {
	MinDiscoveryConfidence float64 `mapstructure:"min_discovery_confidence" yaml:"min_discovery_confidence"`
	MinDiscoverySources    int     `mapstructure:"min_discovery_sources" yaml:"min_discovery_sources"`
	MaxEntities            int     `mapstructure:"max_entities" yaml:"max_entities"`
	MaxPairsPerFile        int     `mapstructure:"max_pairs_per_file" yaml:"max_pairs_per_file"`
	MaxTotalPairs          int     `mapstructure:"max_total_pairs" yaml:"max_total_pairs"`
}

// QueueConfig tunes job-queue retention and retry ceilings.
type QueueConfig struct {
	MaxAttempts    int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	RecentJobsCap  int           `mapstructure:"recent_jobs_cap" yaml:"recent_jobs_cap"`
	RetentionDays  int           `mapstructure:"retention_days" yaml:"retention_days"`
	DebounceWindow time.Duration `mapstructure:"-" yaml:"-"`
}

// Config is the fully resolved daemon configuration.
type Config struct {
	Version     string            `mapstructure:"version" yaml:"version"`
	DataDir     string            `mapstructure:"data_dir" yaml:"data_dir"`
	Sources     []SourceConfig    `mapstructure:"sources" yaml:"sources"`
	Exclude     ExcludeConfig     `mapstructure:"exclude" yaml:"exclude"`
	Extraction  ExtractionConfig  `mapstructure:"extraction" yaml:"extraction"`
	FAE         FAEConfig         `mapstructure:"fae" yaml:"fae"`
	Schedule    ScheduleConfig    `mapstructure:"schedule" yaml:"schedule"`
	API         APIConfig         `mapstructure:"api" yaml:"api"`
	Correlation CorrelationConfig `mapstructure:"correlation" yaml:"correlation"`
	Queue       QueueConfig       `mapstructure:"queue" yaml:"queue"`
}

// Merge layers override on top of c, keeping c's values where override is
// the zero value. Mirrors the catalog/vector Config.Merge convention.
func (c Config) Merge(override Config) Config {
	result := c
	if strings.TrimSpace(override.Version) != "" {
		result.Version = override.Version
	}
	if strings.TrimSpace(override.DataDir) != "" {
		result.DataDir = override.DataDir
	}
	if len(override.Sources) > 0 {
		result.Sources = override.Sources
	}
	if len(override.Exclude.Paths) > 0 {
		result.Exclude.Paths = override.Exclude.Paths
	}
	if len(override.Exclude.Patterns) > 0 {
		result.Exclude.Patterns = override.Exclude.Patterns
	}
	if strings.TrimSpace(override.Exclude.SizeMax) != "" {
		result.Exclude.SizeMax = override.Exclude.SizeMax
	}
	if override.Extraction.BatchSize > 0 {
		result.Extraction.BatchSize = override.Extraction.BatchSize
	}
	if override.Extraction.ParallelWorkers > 0 {
		result.Extraction.ParallelWorkers = override.Extraction.ParallelWorkers
	}
	if strings.TrimSpace(override.Extraction.EmbeddingModel) != "" {
		result.Extraction.EmbeddingModel = override.Extraction.EmbeddingModel
	}
	if override.Extraction.ChunkMinTokens > 0 {
		result.Extraction.ChunkMinTokens = override.Extraction.ChunkMinTokens
	}
	if override.Extraction.ChunkMaxTokens > 0 {
		result.Extraction.ChunkMaxTokens = override.Extraction.ChunkMaxTokens
	}
	if len(override.FAE.Providers) > 0 {
		result.FAE.Providers = override.FAE.Providers
	}
	if strings.TrimSpace(override.Schedule.FullScan) != "" {
		result.Schedule.FullScan = override.Schedule.FullScan
	}
	if strings.TrimSpace(override.Schedule.Correlation) != "" {
		result.Schedule.Correlation = override.Schedule.Correlation
	}
	if strings.TrimSpace(override.Schedule.Discovery) != "" {
		result.Schedule.Discovery = override.Schedule.Discovery
	}
	if strings.TrimSpace(override.Schedule.Cleanup) != "" {
		result.Schedule.Cleanup = override.Schedule.Cleanup
	}
	if strings.TrimSpace(override.API.Host) != "" {
		result.API.Host = override.API.Host
	}
	if override.API.Port > 0 {
		result.API.Port = override.API.Port
	}
	if override.Correlation.MinDiscoveryConfidence > 0 {
		result.Correlation.MinDiscoveryConfidence = override.Correlation.MinDiscoveryConfidence
	}
	if override.Correlation.MinDiscoverySources > 0 {
		result.Correlation.MinDiscoverySources = override.Correlation.MinDiscoverySources
	}
	if override.Correlation.MaxEntities > 0 {
		result.Correlation.MaxEntities = override.Correlation.MaxEntities
	}
	if override.Correlation.MaxPairsPerFile > 0 {
		result.Correlation.MaxPairsPerFile = override.Correlation.MaxPairsPerFile
	}
	if override.Correlation.MaxTotalPairs > 0 {
		result.Correlation.MaxTotalPairs = override.Correlation.MaxTotalPairs
	}
	if override.Queue.MaxAttempts > 0 {
		result.Queue.MaxAttempts = override.Queue.MaxAttempts
	}
	if override.Queue.RecentJobsCap > 0 {
		result.Queue.RecentJobsCap = override.Queue.RecentJobsCap
	}
	if override.Queue.RetentionDays > 0 {
		result.Queue.RetentionDays = override.Queue.RetentionDays
	}
	return result
}

func applyDefaults(c *Config) {
	if c.Version == "" {
		c.Version = "1.0"
	}
	if c.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		c.DataDir = filepath.Join(home, ".excavator")
	}
	if len(c.Exclude.Paths) == 0 {
		c.Exclude.Paths = []string{
			"**/node_modules/**", "**/.git/**", "**/venv/**",
			"**/__pycache__/**", "**/AppData/**", "**/$RECYCLE.BIN/**",
		}
	}
	if len(c.Exclude.Patterns) == 0 {
		c.Exclude.Patterns = []string{"*.tmp", "*.log", "*.bak", "Thumbs.db", "desktop.ini", ".DS_Store"}
	}
	if c.Exclude.SizeMax == "" {
		c.Exclude.SizeMax = "100MB"
	}
	if c.Extraction.BatchSize == 0 {
		c.Extraction.BatchSize = 50
	}
	if c.Extraction.ParallelWorkers == 0 {
		c.Extraction.ParallelWorkers = 4
	}
	if c.Extraction.EmbeddingModel == "" {
		c.Extraction.EmbeddingModel = "text-embedding-3-small"
	}
	if c.Extraction.ChunkMinTokens == 0 {
		c.Extraction.ChunkMinTokens = 500
	}
	if c.Extraction.ChunkMaxTokens == 0 {
		c.Extraction.ChunkMaxTokens = 1000
	}
	if c.Schedule.FullScan == "" {
		c.Schedule.FullScan = "0 3 * * 0"
	}
	if c.Schedule.Correlation == "" {
		c.Schedule.Correlation = "0 4 * * *"
	}
	if c.Schedule.Discovery == "" {
		c.Schedule.Discovery = "0 5 * * *"
	}
	if c.Schedule.Cleanup == "" {
		c.Schedule.Cleanup = "30 4 * * *"
	}
	if c.API.Host == "" {
		c.API.Host = "127.0.0.1"
	}
	if c.API.Port == 0 {
		c.API.Port = 7777
	}
	if c.Correlation.MinDiscoveryConfidence == 0 {
		c.Correlation.MinDiscoveryConfidence = 0.7
	}
	if c.Correlation.MinDiscoverySources == 0 {
		c.Correlation.MinDiscoverySources = 2
	}
	if c.Correlation.MaxEntities == 0 {
		c.Correlation.MaxEntities = 50000
	}
	if c.Correlation.MaxPairsPerFile == 0 {
		c.Correlation.MaxPairsPerFile = 500
	}
	if c.Correlation.MaxTotalPairs == 0 {
		c.Correlation.MaxTotalPairs = 1000000
	}
	if c.Queue.MaxAttempts == 0 {
		c.Queue.MaxAttempts = 3
	}
	if c.Queue.RecentJobsCap == 0 {
		c.Queue.RecentJobsCap = 256
	}
	if c.Queue.RetentionDays == 0 {
		c.Queue.RetentionDays = 7
	}
	if c.Queue.DebounceWindow == 0 {
		c.Queue.DebounceWindow = 500 * time.Millisecond
	}
}

// Load resolves the configuration by layering defaults, an optional YAML
// file, and environment variables (EXCAVATOR_*), in that order. A .env file
// in the working directory, if present, is loaded into the environment
// first via godotenv.
func Load(configPath string) (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("EXCAVATOR")
	v.AutomaticEnv()
	v.SetConfigType("yaml")

	if configPath == "" {
		if home, err := os.UserHomeDir(); err == nil {
			configPath = filepath.Join(home, ".excavator", "config.yaml")
		}
	}
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			v.SetConfigFile(configPath)
			if err := v.ReadInConfig(); err != nil {
				return Config{}, fmt.Errorf("config: reading %s: %w", configPath, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshalling: %w", err)
	}
	applyDefaults(&cfg)
	return cfg, nil
}
