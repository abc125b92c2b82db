package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ProjectConfigName is the per-deployment config file looked up in the working directory.
const ProjectConfigName = ".learnsearch.yaml"

// Config represents the complete learnsearch configuration.
type Config struct {
	Version   int             `yaml:"version" json:"version"`
	Store     StoreConfig     `yaml:"store" json:"store"`
	Engine    EngineConfig    `yaml:"engine" json:"engine"`
	Indexing  IndexingConfig  `yaml:"indexing" json:"indexing"`
	Queue     QueueConfig     `yaml:"queue" json:"queue"`
	Blocklist BlocklistConfig `yaml:"blocklist" json:"blocklist"`
	Percolate PercolateConfig `yaml:"percolate" json:"percolate"`
	Schedule  ScheduleConfig  `yaml:"schedule" json:"schedule"`
	Logging   LoggingConfig   `yaml:"logging" json:"logging"`
}

// StoreConfig configures the read-only source of truth.
type StoreConfig struct {
	// Driver is "sqlite" (pure Go, default) or "sqlite3" (cgo).
	Driver string `yaml:"driver" json:"driver"`
	// Path is the database file.
	Path string `yaml:"path" json:"path"`
	// CacheMB is the SQLite page cache size.
	CacheMB int `yaml:"cache_mb" json:"cache_mb"`
}

// EngineConfig configures the index engine.
type EngineConfig struct {
	// IndexDir holds backing indices and the alias record. Empty keeps everything in memory.
	IndexDir string `yaml:"index_dir" json:"index_dir"`
	// ShardCount is the number of shards per backing index.
	ShardCount int `yaml:"shard_count" json:"shard_count"`
	// MaxRequestSize bounds a single bulk flush in bytes.
	MaxRequestSize int `yaml:"max_request_size" json:"max_request_size"`
	// DefaultTimeout bounds a single engine operation.
	DefaultTimeout time.Duration `yaml:"default_timeout" json:"default_timeout"`
}

// IndexingConfig configures chunking and single-item retry behavior.
type IndexingConfig struct {
	ChunkSize         int           `yaml:"chunk_size" json:"chunk_size"`
	DocumentChunkSize int           `yaml:"document_chunk_size" json:"document_chunk_size"`
	RetryOnConflict   int           `yaml:"retry_on_conflict" json:"retry_on_conflict"`
	NotFoundRetries   int           `yaml:"not_found_retries" json:"not_found_retries"`
	NotFoundDelay     time.Duration `yaml:"not_found_delay" json:"not_found_delay"`
	NotFoundBackoff   float64       `yaml:"not_found_backoff" json:"not_found_backoff"`
	// DocAsUpsert lets single-item upserts create documents the index does
	// not hold yet. Off, they fail with a not-found error and are retried.
	DocAsUpsert           bool     `yaml:"doc_as_upsert" json:"doc_as_upsert"`
	ContentFileETLSources []string `yaml:"content_file_etl_sources" json:"content_file_etl_sources"`
}

// QueueConfig configures the persistent task queue and worker pool.
type QueueConfig struct {
	Path              string        `yaml:"path" json:"path"`
	Concurrency       int           `yaml:"concurrency" json:"concurrency"`
	PollInterval      time.Duration `yaml:"poll_interval" json:"poll_interval"`
	VisibilityTimeout time.Duration `yaml:"visibility_timeout" json:"visibility_timeout"`
	// RateLimit is the maximum number of dispatches per task name per minute. 0 disables.
	RateLimit    int           `yaml:"rate_limit" json:"rate_limit"`
	MaxRetries   int           `yaml:"max_retries" json:"max_retries"`
	RetryDelay   time.Duration `yaml:"retry_delay" json:"retry_delay"`
	RetryMaxWait time.Duration `yaml:"retry_max_wait" json:"retry_max_wait"`
}

// BlocklistConfig configures the course blocklist file.
type BlocklistConfig struct {
	Path  string `yaml:"path" json:"path"`
	Watch bool   `yaml:"watch" json:"watch"`
}

// PercolateConfig configures the percolate matcher.
type PercolateConfig struct {
	// CacheSize is the number of parsed saved queries kept in memory.
	CacheSize int `yaml:"cache_size" json:"cache_size"`
}

// ScheduleConfig configures periodic work run by the worker.
type ScheduleConfig struct {
	// UpdateIndex is a cron expression for incremental updates of all types. Empty disables.
	UpdateIndex string `yaml:"update_index" json:"update_index"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level     string `yaml:"level" json:"level"`
	File      string `yaml:"file" json:"file"`
	MaxSizeMB int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxFiles  int    `yaml:"max_files" json:"max_files"`
}

// NewConfig creates a new Config with the production defaults.
func NewConfig() *Config {
	dataDir := DefaultDataDir()
	return &Config{
		Version: 1,
		Store: StoreConfig{
			Driver:  "sqlite",
			Path:    filepath.Join(dataDir, "resources.db"),
			CacheMB: 64,
		},
		Engine: EngineConfig{
			IndexDir:       filepath.Join(dataDir, "indices"),
			ShardCount:     2,
			MaxRequestSize: 10485760,
			DefaultTimeout: 10 * time.Second,
		},
		Indexing: IndexingConfig{
			ChunkSize:             100,
			DocumentChunkSize:     100,
			RetryOnConflict:       1,
			NotFoundRetries:       5,
			NotFoundDelay:         2 * time.Second,
			NotFoundBackoff:       1.0,
			ContentFileETLSources: []string{"mit_edx", "ocw", "oll", "xpro"},
		},
		Queue: QueueConfig{
			Path:              filepath.Join(dataDir, "queue.db"),
			Concurrency:       min(runtime.NumCPU(), 8),
			PollInterval:      500 * time.Millisecond,
			VisibilityTimeout: 5 * time.Minute,
			RateLimit:         600,
			MaxRetries:        3,
			RetryDelay:        time.Second,
			RetryMaxWait:      time.Minute,
		},
		Blocklist: BlocklistConfig{
			Path:  "",
			Watch: true,
		},
		Percolate: PercolateConfig{
			CacheSize: 1024,
		},
		Logging: LoggingConfig{
			Level:     "info",
			File:      "",
			MaxSizeMB: 10,
			MaxFiles:  5,
		},
	}
}

// DefaultDataDir returns ~/.learnsearch, falling back to the temp directory.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".learnsearch")
	}
	return filepath.Join(home, ".learnsearch")
}

// GetUserConfigPath returns the path to the user/global configuration file.
// It follows XDG Base Directory specification:
//   - $XDG_CONFIG_HOME/learnsearch/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/learnsearch/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "learnsearch", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "learnsearch", "config.yaml")
	}
	return filepath.Join(home, ".config", "learnsearch", "config.yaml")
}

// loadUserConfig loads the user/global configuration file if it exists.
// Returns nil config and nil error if the file doesn't exist.
func loadUserConfig() (*Config, error) {
	configPath := GetUserConfigPath()
	if !fileExists(configPath) {
		return nil, nil
	}

	cfg := &Config{}
	if err := cfg.loadYAML(configPath); err != nil {
		return nil, fmt.Errorf("failed to load user config from %s: %w", configPath, err)
	}
	return cfg, nil
}

// Load loads configuration for the given working directory.
// It applies configuration in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User/global config (~/.config/learnsearch/config.yaml)
//  3. Project config (.learnsearch.yaml in dir)
//  4. Environment variables (LEARNSEARCH_*)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if userCfg, err := loadUserConfig(); err != nil {
		return nil, err
	} else if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	projectPath := filepath.Join(dir, ProjectConfigName)
	if fileExists(projectPath) {
		var project Config
		if err := project.loadYAML(projectPath); err != nil {
			return nil, err
		}
		cfg.mergeWith(&project)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadYAML parses a YAML file into c. Unset fields stay zero.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	// Store
	setString(&c.Store.Driver, other.Store.Driver)
	setString(&c.Store.Path, other.Store.Path)
	setInt(&c.Store.CacheMB, other.Store.CacheMB)

	// Engine
	setString(&c.Engine.IndexDir, other.Engine.IndexDir)
	setInt(&c.Engine.ShardCount, other.Engine.ShardCount)
	setInt(&c.Engine.MaxRequestSize, other.Engine.MaxRequestSize)
	setDuration(&c.Engine.DefaultTimeout, other.Engine.DefaultTimeout)

	// Indexing
	setInt(&c.Indexing.ChunkSize, other.Indexing.ChunkSize)
	setInt(&c.Indexing.DocumentChunkSize, other.Indexing.DocumentChunkSize)
	setInt(&c.Indexing.RetryOnConflict, other.Indexing.RetryOnConflict)
	setInt(&c.Indexing.NotFoundRetries, other.Indexing.NotFoundRetries)
	setDuration(&c.Indexing.NotFoundDelay, other.Indexing.NotFoundDelay)
	if other.Indexing.NotFoundBackoff != 0 {
		c.Indexing.NotFoundBackoff = other.Indexing.NotFoundBackoff
	}
	if other.Indexing.DocAsUpsert {
		c.Indexing.DocAsUpsert = true
	}
	if len(other.Indexing.ContentFileETLSources) > 0 {
		c.Indexing.ContentFileETLSources = other.Indexing.ContentFileETLSources
	}

	// Queue
	setString(&c.Queue.Path, other.Queue.Path)
	setInt(&c.Queue.Concurrency, other.Queue.Concurrency)
	setDuration(&c.Queue.PollInterval, other.Queue.PollInterval)
	setDuration(&c.Queue.VisibilityTimeout, other.Queue.VisibilityTimeout)
	setInt(&c.Queue.RateLimit, other.Queue.RateLimit)
	setInt(&c.Queue.MaxRetries, other.Queue.MaxRetries)
	setDuration(&c.Queue.RetryDelay, other.Queue.RetryDelay)
	setDuration(&c.Queue.RetryMaxWait, other.Queue.RetryMaxWait)

	// Blocklist: Watch can only be switched off by env, since false is the zero value.
	setString(&c.Blocklist.Path, other.Blocklist.Path)

	setInt(&c.Percolate.CacheSize, other.Percolate.CacheSize)
	setString(&c.Schedule.UpdateIndex, other.Schedule.UpdateIndex)

	// Logging
	setString(&c.Logging.Level, other.Logging.Level)
	setString(&c.Logging.File, other.Logging.File)
	setInt(&c.Logging.MaxSizeMB, other.Logging.MaxSizeMB)
	setInt(&c.Logging.MaxFiles, other.Logging.MaxFiles)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v time.Duration) {
	if v != 0 {
		*dst = v
	}
}

// applyEnvOverrides applies LEARNSEARCH_* environment variable overrides.
// Malformed numeric values are ignored.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("LEARNSEARCH_DB"); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv("LEARNSEARCH_DB_DRIVER"); v != "" {
		c.Store.Driver = v
	}
	if v, ok := os.LookupEnv("LEARNSEARCH_INDEX_DIR"); ok {
		// An explicitly empty value selects the in-memory engine.
		c.Engine.IndexDir = v
	}
	if v := os.Getenv("LEARNSEARCH_SHARD_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Engine.ShardCount = n
		}
	}
	if v := os.Getenv("LEARNSEARCH_MAX_REQUEST_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Engine.MaxRequestSize = n
		}
	}
	if v := os.Getenv("LEARNSEARCH_CHUNK_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Indexing.ChunkSize = n
		}
	}
	if v := os.Getenv("LEARNSEARCH_NOT_FOUND_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.Indexing.NotFoundRetries = n
		}
	}
	if v := os.Getenv("LEARNSEARCH_NOT_FOUND_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Indexing.NotFoundDelay = d
		}
	}
	if v := os.Getenv("LEARNSEARCH_DOC_AS_UPSERT"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Indexing.DocAsUpsert = b
		}
	}
	if v := os.Getenv("LEARNSEARCH_QUEUE"); v != "" {
		c.Queue.Path = v
	}
	if v := os.Getenv("LEARNSEARCH_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Queue.Concurrency = n
		}
	}
	if v := os.Getenv("LEARNSEARCH_RATE_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.Queue.RateLimit = n
		}
	}
	if v := os.Getenv("LEARNSEARCH_BLOCKLIST"); v != "" {
		c.Blocklist.Path = v
	}
	if v := os.Getenv("LEARNSEARCH_BLOCKLIST_WATCH"); v != "" {
		c.Blocklist.Watch = strings.ToLower(v) == "true" || v == "1"
	}
	if v := os.Getenv("LEARNSEARCH_UPDATE_SCHEDULE"); v != "" {
		c.Schedule.UpdateIndex = v
	}
	if v := os.Getenv("LEARNSEARCH_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("LEARNSEARCH_LOG_FILE"); v != "" {
		c.Logging.File = v
	}
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	validDrivers := []string{"sqlite", "sqlite3"}
	if !slices.Contains(validDrivers, c.Store.Driver) {
		return fmt.Errorf("store.driver must be 'sqlite' or 'sqlite3', got %q", c.Store.Driver)
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}

	if c.Engine.ShardCount < 1 {
		return fmt.Errorf("engine.shard_count must be positive, got %d", c.Engine.ShardCount)
	}
	if c.Engine.MaxRequestSize < 1024 {
		return fmt.Errorf("engine.max_request_size must be at least 1024 bytes, got %d", c.Engine.MaxRequestSize)
	}

	if c.Indexing.ChunkSize < 1 {
		return fmt.Errorf("indexing.chunk_size must be positive, got %d", c.Indexing.ChunkSize)
	}
	if c.Indexing.DocumentChunkSize < 1 {
		return fmt.Errorf("indexing.document_chunk_size must be positive, got %d", c.Indexing.DocumentChunkSize)
	}
	if c.Indexing.RetryOnConflict < 0 {
		return fmt.Errorf("indexing.retry_on_conflict must be non-negative, got %d", c.Indexing.RetryOnConflict)
	}
	if c.Indexing.NotFoundRetries < 0 {
		return fmt.Errorf("indexing.not_found_retries must be non-negative, got %d", c.Indexing.NotFoundRetries)
	}
	if c.Indexing.NotFoundBackoff < 1 {
		return fmt.Errorf("indexing.not_found_backoff must be >= 1.0, got %.2f", c.Indexing.NotFoundBackoff)
	}

	if c.Queue.Path == "" {
		return fmt.Errorf("queue.path is required")
	}
	if c.Queue.Concurrency < 1 {
		return fmt.Errorf("queue.concurrency must be positive, got %d", c.Queue.Concurrency)
	}
	if c.Queue.RateLimit < 0 {
		return fmt.Errorf("queue.rate_limit must be non-negative, got %d", c.Queue.RateLimit)
	}
	if c.Queue.PollInterval <= 0 {
		return fmt.Errorf("queue.poll_interval must be positive")
	}

	validLevels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(validLevels, strings.ToLower(c.Logging.Level)) {
		return fmt.Errorf("logging.level must be 'debug', 'info', 'warn', or 'error', got %s", c.Logging.Level)
	}

	return nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// BackupFile copies path to path.bak.<timestamp> and returns the backup path.
// A missing file is not an error and yields an empty path.
func BackupFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read config for backup: %w", err)
	}

	backupPath := fmt.Sprintf("%s.bak.%s", path, time.Now().Format("20060102-150405"))
	if err := os.WriteFile(backupPath, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write backup: %w", err)
	}
	return backupPath, nil
}

// JSON returns the configuration as indented JSON.
func (c *Config) JSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
