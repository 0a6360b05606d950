package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaults_Validate(t *testing.T) {
	cfg := Defaults()
	if err := Validate(&cfg); err != nil {
		t.Fatalf("defaults do not validate: %v", err)
	}
	if cfg.Profiler.TimeTrigger != TimeTriggerDisabled {
		t.Fatal("time_trigger default is not the disabled sentinel")
	}
}

func TestLoad_OverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := `
schema_version: "1"
daemon:
  tick_period: 500ms
profiler:
  num_profiles: 5
  profile_period: 3600
  sza_trigger: true
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Daemon.TickPeriod != 500*time.Millisecond {
		t.Fatalf("tick_period = %s", cfg.Daemon.TickPeriod)
	}
	if cfg.Profiler.NumProfiles != 5 || cfg.Profiler.ProfilePeriod != 3600 || !cfg.Profiler.SZATrigger {
		t.Fatalf("profiler overrides not applied: %+v", cfg.Profiler)
	}
	// untouched fields keep defaults
	if cfg.Profiler.DeployVelocity != 250.0 {
		t.Fatalf("deploy_velocity default lost: %f", cfg.Profiler.DeployVelocity)
	}
}

func TestValidate_RejectsBadValues(t *testing.T) {
	cfg := Defaults()
	cfg.Profiler.DeployVelocity = 0
	cfg.Profiler.NumProfiles = 0
	err := Validate(&cfg)
	if err == nil {
		t.Fatal("invalid config validated")
	}
	if !strings.Contains(err.Error(), "velocities") || !strings.Contains(err.Error(), "num_profiles") {
		t.Fatalf("error missing violations: %v", err)
	}
}

func TestValidate_DockAmountBound(t *testing.T) {
	cfg := Defaults()
	cfg.Profiler.DockAmount = cfg.Profiler.ProfileSize
	if err := Validate(&cfg); err == nil {
		t.Fatal("dock_amount >= profile_size validated")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("missing file loaded")
	}
}
