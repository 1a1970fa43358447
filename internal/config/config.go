// Package config loads ntt's JSON configuration file. It follows the
// same shape as sop's database.Setup/ValidateOptions: load once, resolve
// relative paths to absolute, and cache the resolved options per file so
// repeated lookups within a process are cheap.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ImagingHealthThresholds maps imaging's "% rescued" evidence to a health
// enum. Policy, not baked in (spec.md §9 Open Question).
type ImagingHealthThresholds struct {
	OKMinFraction         float64 `json:"ok_min_fraction"`         // default 0.9999
	IncompleteMinFraction float64 `json:"incomplete_min_fraction"` // default 0.90
}

// DiagnosticPolicy controls the retry checkpoint/cap behavior of the
// Diagnostic Service (spec.md §4.5).
type DiagnosticPolicy struct {
	CheckpointRetryCount int `json:"checkpoint_retry_count"` // default 10
	AbsoluteRetryCap     int `json:"absolute_retry_cap"`     // default 50
}

// ExclusionPattern is one configured exclusion rule. Exactly one of Glob
// or CEL should be set.
type ExclusionPattern struct {
	Name string `json:"name"`
	Glob string `json:"glob,omitempty"`
	CEL  string `json:"cel,omitempty"`
}

// CatalogConfig describes how to reach the Cassandra-backed catalog and
// its companion Redis claim-lock store.
type CatalogConfig struct {
	ClusterHosts      []string      `json:"cluster_hosts"`
	Keyspace          string        `json:"keyspace"`
	ConnectionTimeout time.Duration `json:"connection_timeout"`
	RedisAddress      string        `json:"redis_address"`
	RedisDB           int           `json:"redis_db"`
}

// ArchiveConfig controls Archiver behavior, including the optional
// Reed-Solomon parity add-on.
type ArchiveConfig struct {
	WorkingDir        string `json:"working_dir"`
	ParityDataShards  int    `json:"parity_data_shards"`
	ParityShardsCount int    `json:"parity_shards_count"`
}

// Options is the top-level configuration document.
type Options struct {
	BlobStoreRoot    string                  `json:"blob_store_root"`
	Catalog          CatalogConfig           `json:"catalog"`
	Imaging          ImagingHealthThresholds `json:"imaging_health"`
	Diagnostic       DiagnosticPolicy        `json:"diagnostic"`
	Exclusions       []ExclusionPattern      `json:"exclusions"`
	BatchSize        int                     `json:"batch_size"`
	ClaimDryAttempts int                     `json:"claim_dry_attempts"`
	Archive          ArchiveConfig           `json:"archive"`
}

func (o Options) IsEmpty() bool {
	return o.BlobStoreRoot == "" && len(o.Catalog.ClusterHosts) == 0
}

var (
	mu     sync.Mutex
	cached = map[string]*Options{}
)

func fromCache(path string) *Options {
	mu.Lock()
	defer mu.Unlock()
	return cached[path]
}

func toCache(path string, o *Options) {
	mu.Lock()
	defer mu.Unlock()
	cached[path] = o
}

// Load reads and validates a configuration file, normalizing relative
// paths to absolute and applying policy defaults. Results are cached by
// absolute file path.
func Load(path string) (Options, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Options{}, err
	}
	if o := fromCache(abs); o != nil {
		return *o, nil
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return Options{}, err
	}
	var o Options
	if err := json.Unmarshal(data, &o); err != nil {
		return Options{}, fmt.Errorf("config: parse %s: %w", abs, err)
	}

	applyDefaults(&o)

	if o.BlobStoreRoot != "" {
		if o.BlobStoreRoot, err = filepath.Abs(o.BlobStoreRoot); err != nil {
			return Options{}, err
		}
	}
	if o.Archive.WorkingDir != "" {
		if o.Archive.WorkingDir, err = filepath.Abs(o.Archive.WorkingDir); err != nil {
			return Options{}, err
		}
	}

	toCache(abs, &o)
	return o, nil
}

func applyDefaults(o *Options) {
	if o.Imaging.OKMinFraction == 0 {
		o.Imaging.OKMinFraction = 0.9999
	}
	if o.Imaging.IncompleteMinFraction == 0 {
		o.Imaging.IncompleteMinFraction = 0.90
	}
	if o.Diagnostic.CheckpointRetryCount == 0 {
		o.Diagnostic.CheckpointRetryCount = 10
	}
	if o.Diagnostic.AbsoluteRetryCap == 0 {
		o.Diagnostic.AbsoluteRetryCap = 50
	}
	if o.BatchSize == 0 {
		o.BatchSize = 200
	}
	if o.ClaimDryAttempts == 0 {
		o.ClaimDryAttempts = 3
	}
	if o.Catalog.ConnectionTimeout == 0 {
		o.Catalog.ConnectionTimeout = 10 * time.Second
	}
}
