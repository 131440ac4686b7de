// Package config loads and saves heaptrace's user-configurable
// defaults: which cost kind drives "peak"/"leaked" figures, trace
// filtering options, and the default top-N for reports.
package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
)

// Config holds user-configurable defaults, persisted as JSON.
type Config struct {
	// Display names a model.CostKind by its string form ("malloc",
	// "managed", "privateClean", "privateDirty", "shared"); stored as a
	// string rather than the int constant so the file stays readable
	// and stable across any future reordering of the CostKind enum.
	Display                 string   `json:"display"`
	HideUnmanagedStackParts bool     `json:"hide_unmanaged_stack_parts"`
	ShortenTemplates        bool     `json:"shorten_templates"`
	SubtractLeaked          bool     `json:"subtract_leaked"`
	SkipFrames              []string `json:"skip_frames"`
	TopN                    int      `json:"top_n"`
	WatchInterval           int      `json:"watch_interval_sec"`
}

// Default returns a config matching accum.DefaultConfig's choices.
func Default() Config {
	return Config{
		Display:                 "malloc",
		HideUnmanagedStackParts: false,
		ShortenTemplates:        false,
		SubtractLeaked:          false,
		SkipFrames:              []string{"track.(*Tracker).Malloc", "track.(*Tracker).Realloc"},
		TopN:                    10,
		WatchInterval:           1,
	}
}

// Path returns $XDG_CONFIG_HOME/heaptrace/config.json, falling back to
// ~/.config/heaptrace/config.json. Returns "" if neither can be
// determined.
func Path() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "heaptrace", "config.json")
}

// Load loads config from disk; returns defaults on any error, logging
// a warning only when a file exists but fails to parse.
func Load() Config {
	cfg := Default()
	p := Path()
	if p == "" {
		return cfg
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return cfg
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		log.Printf("heaptrace: warning: config parse error: %v", err)
		return Default()
	}
	return cfg
}

// Save writes cfg to disk, creating the config directory if needed.
func Save(cfg Config) error {
	path := Path()
	if path == "" {
		return fmt.Errorf("cannot determine config directory")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
