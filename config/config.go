// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/poiesic/chunkmap/core"
	"github.com/poiesic/chunkmap/storage"
)

// Storage drivers accepted in StorageConfig.Driver.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Duration wraps time.Duration so it can be written as "1s" in TOML.
type Duration struct {
	time.Duration
}

// UnmarshalText parses a duration string such as "500ms".
func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText renders the duration in time.Duration string form.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// TierConfig describes one splitter configuration and where its output lives.
type TierConfig struct {
	// ChunkSize is the target maximum chunk length in characters.
	ChunkSize int `toml:"chunk_size"`

	// ChunkOverlap is the number of characters shared by consecutive chunks.
	ChunkOverlap int `toml:"chunk_overlap"`

	// Table is the relational table the chunks are inserted into.
	Table string `toml:"table"`

	// Prefix is the artifact key prefix (directory) for the chunk lists.
	Prefix string `toml:"prefix"`
}

// Params returns the splitter parameters of the tier.
func (t TierConfig) Params() core.ChunkParams {
	return core.ChunkParams{Size: t.ChunkSize, Overlap: t.ChunkOverlap}
}

// MappingConfig tunes the parallel alignment driver.
type MappingConfig struct {
	// Table receives the (document_id, child_id, parent_id, version) rows.
	Table string `toml:"table"`

	// BatchSize is the number of documents aligned per batch.
	BatchSize int `toml:"batch_size"`

	// Concurrency is the maximum number of documents aligned at once.
	Concurrency int `toml:"concurrency"`

	// InsertBatchSize bounds the number of rows written per bulk insert.
	InsertBatchSize int `toml:"insert_batch_size"`

	// ReportInterval is how often progress is reported (number of documents).
	ReportInterval int `toml:"report_interval"`
}

// StorageConfig selects the stores the pipeline reads from and writes to.
type StorageConfig struct {
	// Driver is the relational store, "sqlite" or "postgres".
	Driver string `toml:"driver"`

	// DSN is the SQLite file path or the Postgres connection string.
	DSN string `toml:"dsn"`

	// CachePath is the BadgerDB directory holding the local artifact cache.
	// Empty keeps the cache in memory.
	CachePath string `toml:"cache_path"`

	// ArtifactDir mirrors chunk artifacts to a local directory when no bucket is set.
	ArtifactDir string `toml:"artifact_dir"`

	// ArtifactBucket mirrors chunk artifacts to a GCS bucket.
	ArtifactBucket string `toml:"artifact_bucket"`

	// TextDir holds raw document text as <document_id>.txt.
	TextDir string `toml:"text_dir"`

	// TextBucket is the GCS bucket listing every available document.
	// When set, TextDir acts as a local cache in front of it.
	TextBucket string `toml:"text_bucket"`

	// TextPrefix is the object prefix of the text files inside TextBucket.
	TextPrefix string `toml:"text_prefix"`
}

// RetryConfig controls in-run retries of remote storage calls.
type RetryConfig struct {
	MaxAttempts int      `toml:"max_attempts"`
	BaseDelay   Duration `toml:"base_delay"`
}

// Config holds the full pipeline configuration.
type Config struct {
	// Child is the fine-grained splitter configuration.
	Child TierConfig `toml:"child"`

	// Parents lists the coarse splitter configurations keyed by version.
	Parents map[string]TierConfig `toml:"parents"`

	// ParentVersion selects the active entry of Parents.
	ParentVersion string `toml:"parent_version"`

	Mapping MappingConfig `toml:"mapping"`
	Storage StorageConfig `toml:"storage"`
	Retry   RetryConfig   `toml:"retry"`
}

// Option is a functional option for configuring a Config.
type Option func(*Config)

// WithParentVersion selects the active parent configuration.
func WithParentVersion(version string) Option {
	return func(c *Config) {
		c.ParentVersion = version
	}
}

// WithStorage sets the relational store driver and DSN.
func WithStorage(driver, dsn string) Option {
	return func(c *Config) {
		c.Storage.Driver = driver
		c.Storage.DSN = dsn
	}
}

// WithCachePath sets the BadgerDB cache directory.
func WithCachePath(path string) Option {
	return func(c *Config) {
		c.Storage.CachePath = path
	}
}

// WithTextDir sets the raw text directory.
func WithTextDir(dir string) Option {
	return func(c *Config) {
		c.Storage.TextDir = dir
	}
}

// WithArtifactDir sets the local artifact mirror directory.
func WithArtifactDir(dir string) Option {
	return func(c *Config) {
		c.Storage.ArtifactDir = dir
	}
}

// WithMappingBatch sets the alignment batch size and concurrency.
func WithMappingBatch(batchSize, concurrency int) Option {
	return func(c *Config) {
		c.Mapping.BatchSize = batchSize
		c.Mapping.Concurrency = concurrency
	}
}

// DefaultConfig returns the production chunking layout: 2000/200 children,
// 10000/1000 parents, alignment in batches of 100 with 20 workers.
func DefaultConfig() *Config {
	return &Config{
		Child: TierConfig{
			ChunkSize:    2000,
			ChunkOverlap: 200,
			Table:        "arxiv_chunks",
			Prefix:       "arxiv_chunks",
		},
		Parents: map[string]TierConfig{
			"10000_1000": {
				ChunkSize:    10000,
				ChunkOverlap: 1000,
				Table:        "arxiv_large_parent_chunks",
				Prefix:       "arxiv_large_chunks",
			},
			"2000_200": {
				ChunkSize:    2000,
				ChunkOverlap: 200,
				Table:        "arxiv_parent_chunks",
				Prefix:       "arxiv_parent_chunks",
			},
		},
		ParentVersion: "10000_1000",
		Mapping: MappingConfig{
			Table:           "arxiv_chunk_map",
			BatchSize:       100,
			Concurrency:     20,
			InsertBatchSize: 10000,
			ReportInterval:  10,
		},
		Storage: StorageConfig{
			Driver:     DriverSQLite,
			DSN:        "data/chunkmap.db",
			CachePath:  "data/cache",
			TextDir:    "data/arxiv_text",
			TextPrefix: "arxiv_text",
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   Duration{time.Second},
		},
	}
}

// NewConfig creates a Config with the default values and applies the provided options.
func NewConfig(opts ...Option) *Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// Load reads a TOML file on top of the defaults and applies CHUNKMAP_* environment overrides.
// A missing file is not an error; the defaults are used.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := toml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("%w: %s: %w", ErrInvalidConfig, path, err)
			}
		case !os.IsNotExist(err):
			return nil, err
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("CHUNKMAP_PARENT_VERSION"); v != "" {
		cfg.ParentVersion = v
	}
	if v := os.Getenv("CHUNKMAP_STORAGE_DRIVER"); v != "" {
		cfg.Storage.Driver = v
	}
	if v := os.Getenv("CHUNKMAP_DSN"); v != "" {
		cfg.Storage.DSN = v
	}
	if v := os.Getenv("CHUNKMAP_ARTIFACT_BUCKET"); v != "" {
		cfg.Storage.ArtifactBucket = v
	}
	if v := os.Getenv("CHUNKMAP_TEXT_BUCKET"); v != "" {
		cfg.Storage.TextBucket = v
	}
	if v := os.Getenv("CHUNKMAP_MAPPING_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Mapping.Concurrency = n
		}
	}
}

// Normalize ensures the configuration is in a canonical form.
func (c *Config) Normalize() {
	c.ParentVersion = strings.TrimSpace(c.ParentVersion)
	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	c.Child.Prefix = strings.Trim(c.Child.Prefix, "/")
	for version, tier := range c.Parents {
		tier.Prefix = strings.Trim(tier.Prefix, "/")
		c.Parents[version] = tier
	}
}

// Versions returns the configured parent versions in sorted order.
func (c *Config) Versions() []string {
	versions := make([]string, 0, len(c.Parents))
	for version := range c.Parents {
		versions = append(versions, version)
	}
	sort.Strings(versions)
	return versions
}

// ParentTier resolves the active parent configuration.
// Returns an error wrapping core.ErrUnknownVersion if ParentVersion is not configured.
func (c *Config) ParentTier() (TierConfig, error) {
	tier, ok := c.Parents[c.ParentVersion]
	if !ok {
		return TierConfig{}, fmt.Errorf("%w: %q (configured: %s)",
			core.ErrUnknownVersion, c.ParentVersion, strings.Join(c.Versions(), ", "))
	}
	return tier, nil
}

// Validate checks that the configuration is valid and complete.
// It normalizes the configuration first.
func (c *Config) Validate() error {
	c.Normalize()

	if err := validateTier("child", c.Child); err != nil {
		return err
	}
	if len(c.Parents) == 0 {
		return fmt.Errorf("%w: no parent configurations", ErrInvalidConfig)
	}
	for _, version := range c.Versions() {
		tier := c.Parents[version]
		if err := validateTier("parent "+version, tier); err != nil {
			return err
		}
		if tier.Params().Version() != version {
			return fmt.Errorf("%w: parent version %q does not match its parameters %q",
				ErrInvalidConfig, version, tier.Params().Version())
		}
		if tier.Table == c.Child.Table {
			return fmt.Errorf("%w: parent %q shares the child table %q", ErrInvalidConfig, version, tier.Table)
		}
	}
	if _, err := c.ParentTier(); err != nil {
		return err
	}

	if !storage.ValidTableName(c.Mapping.Table) {
		return fmt.Errorf("%w: mapping table %q is not a valid identifier", ErrInvalidConfig, c.Mapping.Table)
	}
	if c.Mapping.BatchSize <= 0 {
		return fmt.Errorf("%w: mapping batch_size must be greater than 0", ErrInvalidConfig)
	}
	if c.Mapping.Concurrency <= 0 {
		return fmt.Errorf("%w: mapping concurrency must be greater than 0", ErrInvalidConfig)
	}
	if c.Mapping.InsertBatchSize <= 0 {
		return fmt.Errorf("%w: mapping insert_batch_size must be greater than 0", ErrInvalidConfig)
	}
	if c.Mapping.ReportInterval <= 0 {
		return fmt.Errorf("%w: mapping report_interval must be greater than 0", ErrInvalidConfig)
	}

	switch c.Storage.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("%w: unknown storage driver %q", ErrInvalidConfig, c.Storage.Driver)
	}
	if c.Storage.DSN == "" {
		return fmt.Errorf("%w: storage dsn is required", ErrInvalidConfig)
	}
	if c.Storage.TextDir == "" && c.Storage.TextBucket == "" {
		return fmt.Errorf("%w: one of storage text_dir or text_bucket is required", ErrInvalidConfig)
	}

	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("%w: retry max_attempts must be greater than 0", ErrInvalidConfig)
	}
	if c.Retry.BaseDelay.Duration < 0 {
		return fmt.Errorf("%w: retry base_delay cannot be negative", ErrInvalidConfig)
	}
	return nil
}

func validateTier(name string, tier TierConfig) error {
	if err := core.ValidateParams(tier.Params()); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidConfig, name, err)
	}
	if !storage.ValidTableName(tier.Table) {
		return fmt.Errorf("%w: %s table %q is not a valid identifier", ErrInvalidConfig, name, tier.Table)
	}
	if tier.Prefix == "" {
		return fmt.Errorf("%w: %s prefix is required", ErrInvalidConfig, name)
	}
	return nil
}

// Schema returns the relational tables the active configuration writes to.
func (c *Config) Schema() (storage.Schema, error) {
	parent, err := c.ParentTier()
	if err != nil {
		return storage.Schema{}, err
	}
	return storage.Schema{
		ChunkTables:  []string{c.Child.Table, parent.Table},
		MappingTable: c.Mapping.Table,
	}, nil
}
