// Copyright (c) 2024 Hemi Labs, Inc.
// Use of this source code is governed by the MIT License,
// which can be found in the LICENSE file.

// Package config loads the YAML options record described in spec §6 for the
// ipfs-json-to-csv tool: the engine's duplicate-detector options plus the
// input glob and output file patterns. Grounded on
// original_source/ipfs-json-to-csv/src/main.rs's config.Config (glob_results,
// wantlist_output_file_pattern, ledger_count_output_file, ...), ported from a
// TOML/Rust struct into Go using gopkg.in/yaml.v3, a direct dependency of the
// pack's ethereum-go-ethereum example.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/S-u-m-u-n/ipfs-tools/wantlist"
)

// IDPlaceholder is substituted in output file patterns with the current
// message_id, zero-padded to 9 digits, per spec §6's CLI contract.
const IDPlaceholder = "$id$"

// EngineOptions mirrors the options table of spec §6 verbatim; field names
// match the YAML keys a config author would write.
type EngineOptions struct {
	AllowEmptyFullWantlist              bool     `yaml:"allow_empty_full_wantlist"`
	AllowEmptyConnectionEvent           bool     `yaml:"allow_empty_connection_event"`
	InsertFullWantlistSynthCancels      bool     `yaml:"insert_full_wantlist_synth_cancels"`
	InsertDisconnectSynthCancels        bool     `yaml:"insert_disconnect_synth_cancels"`
	InsertFullWantlistDuplicateMarkers  bool     `yaml:"insert_full_wantlist_duplicate_markers"`
	InsertReconnectDuplicateMarkers     bool     `yaml:"insert_reconnect_duplicate_markers"`
	ReconnectDuplicateDurationSecs      uint32   `yaml:"reconnect_duplicate_duration_secs"`
	InsertSlidingWindowDuplicateMarkers bool     `yaml:"insert_sliding_window_duplicate_markers"`
	SlidingWindowLengths                []uint32 `yaml:"sliding_window_lengths"`
}

// ToEngineConfig converts the YAML-facing options into a wantlist.Config.
func (o EngineOptions) ToEngineConfig() wantlist.Config {
	return wantlist.Config{
		AllowEmptyFullWantlist:              o.AllowEmptyFullWantlist,
		AllowEmptyConnectionEvent:           o.AllowEmptyConnectionEvent,
		InsertFullWantlistSynthCancels:      o.InsertFullWantlistSynthCancels,
		InsertDisconnectSynthCancels:        o.InsertDisconnectSynthCancels,
		InsertFullWantlistDuplicateMarkers:  o.InsertFullWantlistDuplicateMarkers,
		InsertReconnectDuplicateMarkers:     o.InsertReconnectDuplicateMarkers,
		ReconnectDuplicateDurationSecs:      o.ReconnectDuplicateDurationSecs,
		InsertSlidingWindowDuplicateMarkers: o.InsertSlidingWindowDuplicateMarkers,
		SlidingWindowLengths:                o.SlidingWindowLengths,
	}
}

// Config is the top-level options record for the ipfs-json-to-csv tool.
type Config struct {
	InputGlob                   string        `yaml:"input_glob"`
	WantlistOutputFilePattern   string        `yaml:"wantlist_output_file_pattern"`
	ConnectionEventsOutputFile  string        `yaml:"connection_events_output_file"`
	LedgerCountOutputFile       string        `yaml:"ledger_count_output_file"`
	PrometheusListenAddress     string        `yaml:"prometheus_listen_address"`
	LogLevel                    string        `yaml:"log_level"`
	SimulationConfig            EngineOptions `yaml:"simulation_config"`
}

// Open loads and validates a Config from a YAML file at path.
func Open(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %v: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %v: %w", path, err)
	}

	if cfg.InputGlob == "" {
		return nil, fmt.Errorf("config %v: input_glob is required", path)
	}
	if cfg.WantlistOutputFilePattern == "" {
		return nil, fmt.Errorf("config %v: wantlist_output_file_pattern is required", path)
	}

	return &cfg, nil
}

// GlobResults expands InputGlob into a sorted list of matching paths.
// Filenames embed ISO timestamps, so lexicographic order is chronological
// order, per spec §4.4.
func (c *Config) GlobResults() ([]string, error) {
	matches, err := filepath.Glob(c.InputGlob)
	if err != nil {
		return nil, fmt.Errorf("glob %v: %w", c.InputGlob, err)
	}
	sort.Strings(matches)
	return matches, nil
}

// WantlistOutputPath substitutes IDPlaceholder in the output file pattern
// with msgID zero-padded to 9 digits, per spec §6.
func (c *Config) WantlistOutputPath(msgID int64) string {
	return substituteID(c.WantlistOutputFilePattern, msgID)
}

func substituteID(pattern string, msgID int64) string {
	padded := fmt.Sprintf("%09d", msgID)
	out := make([]byte, 0, len(pattern))
	for i := 0; i < len(pattern); {
		if i+len(IDPlaceholder) <= len(pattern) && pattern[i:i+len(IDPlaceholder)] == IDPlaceholder {
			out = append(out, padded...)
			i += len(IDPlaceholder)
			continue
		}
		out = append(out, pattern[i])
		i++
	}
	return string(out)
}
