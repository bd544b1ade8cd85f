package config

import (
	"testing"
	"time"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DashboardPort != DefaultAppConfig().DashboardPort {
		t.Fatalf("DashboardPort = %d, want default", cfg.DashboardPort)
	}
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultAppConfig()
	cfg.DashboardPort = 9001
	cfg.DashboardPassword = "hunter2"
	if err := Save(dir, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.DashboardPort != 9001 || loaded.DashboardPassword != "hunter2" {
		t.Fatalf("loaded = %+v, want port 9001 and seeded password", loaded)
	}
}

func TestApplyEnvOverridesFields(t *testing.T) {
	t.Setenv("WRANGLER_DASHBOARD_PORT", "4242")
	t.Setenv("WRANGLER_DASHBOARD_PUBLIC", "true")
	t.Setenv("WRANGLER_PROJECT_PATH", "/tmp/some-project")

	cfg := DefaultAppConfig()
	overrides := ApplyEnv(&cfg)

	if cfg.DashboardPort != 4242 {
		t.Fatalf("DashboardPort = %d, want 4242", cfg.DashboardPort)
	}
	if !cfg.PublicMode {
		t.Fatal("expected PublicMode true from WRANGLER_DASHBOARD_PUBLIC")
	}
	if overrides.ProjectPath != "/tmp/some-project" {
		t.Fatalf("ProjectPath override = %q, want /tmp/some-project", overrides.ProjectPath)
	}
}

func TestWatcherReloadsOnConfigChange(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultAppConfig()
	cfg.DashboardPort = 1111
	if err := Save(dir, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	w, err := NewWatcher(dir, nil)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Close()

	if w.Get().DashboardPort != 1111 {
		t.Fatalf("initial DashboardPort = %d, want 1111", w.Get().DashboardPort)
	}

	cfg.DashboardPort = 2222
	if err := Save(dir, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if w.Get().DashboardPort == 2222 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for config reload")
		}
		time.Sleep(20 * time.Millisecond)
	}
}
