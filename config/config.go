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


// Package config holds the settings of an ingest node.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/poiesic/kbingest/blob/gcs"
	"github.com/poiesic/kbingest/blob/s3"
	"gopkg.in/yaml.v3"
)

// Supported backends.
const (
	StorageBadger = "badger"
	StorageBolt   = "bolt"

	BlobLocal = "local"
	BlobS3    = "s3"
	BlobGCS   = "gcs"

	IndexMemory = "memory"
	IndexQdrant = "qdrant"

	LockLocal = "local"
	LockKV    = "kv"
)

// StorageConfig selects the KV store.
type StorageConfig struct {
	// Driver is "badger" or "bolt".
	Driver string `yaml:"driver"`

	// Path is the database directory (badger) or file (bolt).
	Path string `yaml:"path"`

	// InMemory keeps badger in memory. Ignored by bolt.
	InMemory bool `yaml:"in_memory"`
}

// BlobConfig selects the object store for field artifacts.
type BlobConfig struct {
	// Backend is "local", "s3" or "gcs".
	Backend string `yaml:"backend"`

	// Path is the local blob directory.
	Path string     `yaml:"path"`
	S3   s3.Config  `yaml:"s3"`
	GCS  gcs.Config `yaml:"gcs"`
}

// IndexConfig selects where index messages are written.
type IndexConfig struct {
	// Backend is "memory" or "qdrant".
	Backend    string `yaml:"backend"`
	QdrantHost string `yaml:"qdrant_host"`
	QdrantPort int    `yaml:"qdrant_port"`

	// VectorDimension is the size of sentence vectors.
	VectorDimension uint64 `yaml:"vector_dimension"`
}

// ProcessorConfig tunes the transactional processor.
type ProcessorConfig struct {
	// MaxResourceParagraphs rejects resources with more paragraphs. 0 disables the check.
	MaxResourceParagraphs int `yaml:"max_resource_paragraphs"`

	// MaxShardParagraphs rolls over to a new shard once the active one grows past it.
	MaxShardParagraphs int `yaml:"max_shard_paragraphs"`

	// Locking is "local" or "kv".
	Locking string `yaml:"locking"`

	// DeadletterPath is the SQLite deadletter archive. Empty keeps deadletters in the blob store only.
	DeadletterPath string `yaml:"deadletter_path"`
}

// ConsumerConfig tunes the partition consumer.
type ConsumerConfig struct {
	Workers        int           `yaml:"workers"`
	MaxRetries     uint64        `yaml:"max_retries"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

// Config holds the complete node configuration.
type Config struct {
	Storage   StorageConfig   `yaml:"storage"`
	Blob      BlobConfig      `yaml:"blob"`
	Index     IndexConfig     `yaml:"index"`
	Processor ProcessorConfig `yaml:"processor"`
	Consumer  ConsumerConfig  `yaml:"consumer"`

	// MetricsAddr serves Prometheus metrics when set, e.g. ":9090".
	MetricsAddr string `yaml:"metrics_addr"`
}

// Option is a functional option for configuring a Config.
type Option func(*Config)

// WithDataDir places the KV store, local blobs and deadletter archive under dir.
func WithDataDir(dir string) Option {
	return func(c *Config) {
		dir = strings.TrimSuffix(dir, "/")
		c.Storage.Path = dir + "/kv"
		c.Blob.Path = dir + "/blobs"
		c.Processor.DeadletterPath = dir + "/deadletter.db"
	}
}

// WithInMemory keeps the KV store and local blobs in memory.
func WithInMemory() Option {
	return func(c *Config) {
		c.Storage.Driver = StorageBadger
		c.Storage.InMemory = true
		c.Blob.Backend = BlobLocal
		c.Processor.DeadletterPath = ""
	}
}

// WithQdrant writes index messages to a Qdrant server.
func WithQdrant(host string, port int) Option {
	return func(c *Config) {
		c.Index.Backend = IndexQdrant
		c.Index.QdrantHost = host
		c.Index.QdrantPort = port
	}
}

// WithMaxResourceParagraphs sets the per-resource paragraph limit.
func WithMaxResourceParagraphs(n int) Option {
	return func(c *Config) {
		c.Processor.MaxResourceParagraphs = n
	}
}

// WithMaxShardParagraphs sets the shard rollover threshold.
func WithMaxShardParagraphs(n int) Option {
	return func(c *Config) {
		c.Processor.MaxShardParagraphs = n
	}
}

// WithWorkers sets the consumer pool size.
func WithWorkers(n int) Option {
	return func(c *Config) {
		c.Consumer.Workers = n
	}
}

// DefaultConfig returns a Config for a single local node.
func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			Driver: StorageBadger,
			Path:   "data/kv",
		},
		Blob: BlobConfig{
			Backend: BlobLocal,
			Path:    "data/blobs",
		},
		Index: IndexConfig{
			Backend:         IndexMemory,
			QdrantHost:      "localhost",
			QdrantPort:      6334,
			VectorDimension: 768,
		},
		Processor: ProcessorConfig{
			MaxResourceParagraphs: 250000,
			MaxShardParagraphs:    5000000,
			Locking:               LockKV,
			DeadletterPath:        "data/deadletter.db",
		},
		Consumer: ConsumerConfig{
			Workers:        4,
			MaxRetries:     5,
			InitialBackoff: 500 * time.Millisecond,
			MaxBackoff:     30 * time.Second,
		},
	}
}

// NewConfig creates a Config with the default values and applies the provided options.
//
// Example:
//   cfg := NewConfig(
//       WithDataDir("/var/lib/kbingest"),
//       WithQdrant("qdrant", 6334),
//   )
func NewConfig(opts ...Option) *Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// Load reads a YAML file on top of the defaults.
func Load(path string, opts ...Option) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg, nil
}

// Normalize puts the configuration in canonical form.
func (c *Config) Normalize() {
	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	c.Blob.Backend = strings.ToLower(strings.TrimSpace(c.Blob.Backend))
	c.Index.Backend = strings.ToLower(strings.TrimSpace(c.Index.Backend))
	c.Processor.Locking = strings.ToLower(strings.TrimSpace(c.Processor.Locking))
	if c.Storage.Driver == StorageBolt || c.Storage.InMemory {
		c.Processor.Locking = LockLocal
	}
	if c.Consumer.MaxBackoff < c.Consumer.InitialBackoff {
		c.Consumer.MaxBackoff = c.Consumer.InitialBackoff
	}
}

// Validate checks that the configuration is valid and complete.
// It normalizes the configuration first.
func (c *Config) Validate() error {
	c.Normalize()

	switch c.Storage.Driver {
	case StorageBadger:
		if c.Storage.Path == "" && !c.Storage.InMemory {
			return errors.New("config: storage.path is required")
		}
	case StorageBolt:
		if c.Storage.Path == "" {
			return errors.New("config: storage.path is required")
		}
	default:
		return fmt.Errorf("config: unknown storage driver %q", c.Storage.Driver)
	}

	switch c.Blob.Backend {
	case BlobLocal:
		if c.Blob.Path == "" && !c.Storage.InMemory {
			return errors.New("config: blob.path is required")
		}
	case BlobS3:
		if err := c.Blob.S3.Validate(); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	case BlobGCS:
		if c.Blob.GCS.Bucket == "" {
			return errors.New("config: blob.gcs.bucket is required")
		}
	default:
		return fmt.Errorf("config: unknown blob backend %q", c.Blob.Backend)
	}

	switch c.Index.Backend {
	case IndexMemory:
	case IndexQdrant:
		if c.Index.QdrantHost == "" {
			return errors.New("config: index.qdrant_host is required")
		}
		if c.Index.QdrantPort <= 0 {
			return errors.New("config: index.qdrant_port must be positive")
		}
		if c.Index.VectorDimension == 0 {
			return errors.New("config: index.vector_dimension must be positive")
		}
	default:
		return fmt.Errorf("config: unknown index backend %q", c.Index.Backend)
	}

	if c.Processor.Locking != LockLocal && c.Processor.Locking != LockKV {
		return fmt.Errorf("config: unknown locking mode %q", c.Processor.Locking)
	}
	if c.Processor.MaxResourceParagraphs < 0 {
		return errors.New("config: processor.max_resource_paragraphs must not be negative")
	}
	if c.Processor.MaxShardParagraphs <= 0 {
		return errors.New("config: processor.max_shard_paragraphs must be positive")
	}
	if c.Consumer.Workers <= 0 {
		return errors.New("config: consumer.workers must be positive")
	}
	return nil
}
