// Package config holds michimem's configuration: a DefaultConfig() plus
// a field-wise deep merge of a user-supplied config.json, following the
// teacher's flat-struct-with-defaults shape (internal/config in the
// memory-service repo) generalized to this repo's nested TTL/tokens/
// compounding sections.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"dario.cat/mergo"
)

// TTL holds the configurable time-to-live, in days, for finite-priority
// Memory records (spec §3, §6).
type TTL struct {
	DiaryDays   int `json:"diary_days"`
	InsightDays int `json:"insight_days"`
}

// Tokens holds the per-tier token budgets consumed by the Tiering
// component (spec §4.4).
type Tokens struct {
	L0Budget         int `json:"l0_budget"`
	L1Budget         int `json:"l1_budget"`
	CheckpointBudget int `json:"checkpoint_budget"`
}

// Compounding holds the cluster-size thresholds for the two Compounding
// stages (spec §4.5).
type Compounding struct {
	DiaryThreshold   int `json:"diary_threshold"`
	InsightThreshold int `json:"insight_threshold"`
}

// Config is michimem's full configuration (spec §6, "Config JSON").
type Config struct {
	DataDir     string      `json:"data_dir"`
	TTL         TTL         `json:"ttl"`
	Tokens      Tokens      `json:"tokens"`
	Compounding Compounding `json:"compounding"`
}

type contextKey struct{}

// WithContext returns a new context carrying the given Config.
func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, contextKey{}, cfg)
}

// FromContext retrieves the Config from the context, or nil if absent.
func FromContext(ctx context.Context) *Config {
	cfg, _ := ctx.Value(contextKey{}).(*Config)
	return cfg
}

// DefaultConfig returns a Config with the defaults named in spec §6.
func DefaultConfig() Config {
	home, err := os.UserHomeDir()
	dataDir := ".michimem"
	if err == nil {
		dataDir = filepath.Join(home, ".michimem")
	}
	return Config{
		DataDir: dataDir,
		TTL: TTL{
			DiaryDays:   30,
			InsightDays: 90,
		},
		Tokens: Tokens{
			L0Budget:         200,
			L1Budget:         500,
			CheckpointBudget: 500,
		},
		Compounding: Compounding{
			DiaryThreshold:   5,
			InsightThreshold: 3,
		},
	}
}

// Load reads config.json from dataDir (if present) and deep-merges it
// field-wise over DefaultConfig — at both the top level and each nested
// section (spec §9 "Config merge semantics": unspecified sub-fields fall
// back to defaults, whole sub-objects are never replaced). A missing
// file is not an error; it simply yields the defaults.
func Load(dataDir string) (Config, error) {
	cfg := DefaultConfig()
	if dataDir != "" {
		cfg.DataDir = dataDir
	}

	path := filepath.Join(cfg.DataDir, "config.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config %q: %w", path, err)
	}

	var overlay Config
	if err := json.Unmarshal(data, &overlay); err != nil {
		return cfg, fmt.Errorf("parse config %q: %w", path, err)
	}

	// overlay's zero-valued fields must not clobber cfg's defaults; mergo's
	// default (non-override) merge only fills the destination's zero
	// fields from the source, which is backwards for our "overlay wins"
	// intent, so we merge cfg into overlay and keep overlay.
	if err := mergo.Merge(&overlay, cfg); err != nil {
		return cfg, fmt.Errorf("merge config: %w", err)
	}
	if overlay.DataDir == "" {
		overlay.DataDir = cfg.DataDir
	}
	return overlay, nil
}
