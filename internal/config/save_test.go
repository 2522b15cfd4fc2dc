package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestSaveCreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "config.yaml")

	if err := Save(DefaultConfig(), path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read config file: %v", err)
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Config file contains invalid YAML: %v", err)
	}
	for _, section := range []string{"store", "tick", "budget", "health", "generation", "agent", "providers", "workers", "metrics"} {
		if _, ok := raw[section]; !ok {
			t.Errorf("section %q missing from saved file", section)
		}
	}
	if !strings.Contains(string(data), "interval: 30m0s") {
		t.Errorf("durations should be written as strings:\n%s", data)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("permissions = %o, want 600", perm)
	}
	leftovers, _ := filepath.Glob(filepath.Join(filepath.Dir(path), ".config-*"))
	if len(leftovers) != 0 {
		t.Errorf("temporary files left behind: %v", leftovers)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	cfg := DefaultConfig()
	cfg.Tick.Interval = 45 * time.Minute
	cfg.Budget.GlobalLimit = 12.5
	cfg.Budget.WorkerLimits["GROWTH-01"] = 1.25
	cfg.Workers = cfg.Workers[:3]

	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	loaded, err := Load("", path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if loaded.Tick.Interval != 45*time.Minute {
		t.Errorf("interval = %s", loaded.Tick.Interval)
	}
	if loaded.Budget.GlobalLimit != 12.5 || loaded.Budget.WorkerLimits["GROWTH-01"] != 1.25 {
		t.Errorf("budget = %+v", loaded.Budget)
	}
	if len(loaded.Workers) != 3 || loaded.Workers[0].Code != cfg.Workers[0].Code {
		t.Errorf("workers = %+v", loaded.Workers)
	}
}

func TestSaveOverwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	first := DefaultConfig()
	first.Store.Path = "first.db"
	if err := Save(first, path); err != nil {
		t.Fatalf("first Save failed: %v", err)
	}
	second := DefaultConfig()
	second.Store.Path = "second.db"
	if err := Save(second, path); err != nil {
		t.Fatalf("second Save failed: %v", err)
	}

	loaded, err := Load("", path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Store.Path != "second.db" {
		t.Errorf("store path = %q, want second.db", loaded.Store.Path)
	}
}
