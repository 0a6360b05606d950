// Package config provides configuration loading, validation, and hot-reload
// for the PIB control daemon.
//
// Two layers share this file:
//   - Daemon settings (log level, metrics address, database path, tick
//     cadence, operator socket) — read once at startup; a change takes a
//     restart (hot reload replaces only the Profiler section).
//   - Instrument settings (Profiler section) — the persisted flight
//     configuration the original hardware kept in EEPROM. Telecommands
//     mutate these at runtime; the storage layer snapshots them so a reboot
//     resumes with the last uplinked values.
//
// Load order: Defaults() → YAML file → storage snapshot (applied by the
// daemon after opening the database). Invalid startup config is fatal;
// invalid hot-reload config is logged and ignored, old config retained.

package config

import (
	"fmt"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Version, GitCommit, BuildTime are set at build time via -ldflags -X.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// TimeTriggerDisabled is the time_trigger sentinel: no time trigger set.
// A fresh telecommand is required after every scheduling round.
const TimeTriggerDisabled = math.MaxUint32

// Config is the root configuration structure for the PIB daemon.
type Config struct {
	// SchemaVersion must be "1".
	SchemaVersion string `yaml:"schema_version"`

	// Daemon configures the tick loop and peer devices.
	Daemon DaemonConfig `yaml:"daemon"`

	// Observability configures metrics and logging.
	Observability ObservabilityConfig `yaml:"observability"`

	// Storage configures the BoltDB persistent store.
	Storage StorageConfig `yaml:"storage"`

	// Operator configures the ground-test command socket.
	Operator OperatorConfig `yaml:"operator"`

	// Profiler is the instrument configuration (persisted, telecommandable).
	Profiler ProfilerConfig `yaml:"profiler"`
}

// DaemonConfig holds tick loop parameters.
type DaemonConfig struct {
	// TickPeriod is the supervisor cadence. Default: 1s.
	TickPeriod time.Duration `yaml:"tick_period"`

	// MCBDevice, PUDevice, ZephyrDevice are the peer serial device paths.
	// Empty means the link is wired in-process (simulator, bench).
	MCBDevice    string `yaml:"mcb_device"`
	PUDevice     string `yaml:"pu_device"`
	ZephyrDevice string `yaml:"zephyr_device"`
}

// ObservabilityConfig holds metrics and logging parameters.
type ObservabilityConfig struct {
	// MetricsAddr is the Prometheus metrics HTTP bind address.
	// Default: 127.0.0.1:9130.
	MetricsAddr string `yaml:"metrics_addr"`

	// LogLevel controls the minimum log level (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`

	// LogFormat controls the log output format (json, console).
	LogFormat string `yaml:"log_format"`
}

// StorageConfig holds BoltDB parameters.
type StorageConfig struct {
	// DBPath is the absolute path to the BoltDB file.
	DBPath string `yaml:"db_path"`
}

// OperatorConfig holds the ground-test socket parameters.
type OperatorConfig struct {
	// SocketPath is the Unix domain socket path for the operator CLI.
	SocketPath string `yaml:"socket_path"`

	// Enabled controls whether the operator socket is active.
	Enabled bool `yaml:"enabled"`
}

// ProfilerConfig is the instrument configuration. Telecommands set most
// fields; pu_docked and profile_id are maintained by the supervisor. Every
// write is snapshotted to storage.
type ProfilerConfig struct {
	// profile triggers
	SZAMinimum  float32 `yaml:"sza_minimum"`  // degrees; profile when SZA exceeds this
	TimeTrigger uint32  `yaml:"time_trigger"` // epoch seconds; TimeTriggerDisabled = off
	SZATrigger  bool    `yaml:"sza_trigger"`  // true: SZA triggers, false: time trigger

	// profile sizing (reel revolutions)
	ProfileSize   float32 `yaml:"profile_size"`
	DockAmount    float32 `yaml:"dock_amount"`
	DockOvershoot float32 `yaml:"dock_overshoot"`
	RedockOut     float32 `yaml:"redock_out"`
	RedockIn      float32 `yaml:"redock_in"`

	// profile speeds (rpm)
	DeployVelocity  float32 `yaml:"deploy_velocity"`
	RetractVelocity float32 `yaml:"retract_velocity"`
	DockVelocity    float32 `yaml:"dock_velocity"`

	// PU warmup and sampling
	FlashTemp    float32 `yaml:"flash_temp"`
	Heater1Temp  float32 `yaml:"heater1_temp"`
	Heater2Temp  float32 `yaml:"heater2_temp"`
	ProfileRate  uint32  `yaml:"profile_rate"`
	DwellRate    uint32  `yaml:"dwell_rate"`
	FlashPower   uint8   `yaml:"flash_power"`
	TSENPower    uint8   `yaml:"tsen_power"`
	ProfileTSEN  uint8   `yaml:"profile_tsen"`
	ProfileROPC  uint8   `yaml:"profile_ropc"`
	ProfileFLASH uint8   `yaml:"profile_flash"`
	DockedRate   uint32  `yaml:"docked_rate"`
	DockedTSEN   uint8   `yaml:"docked_tsen"`
	DockedROPC   uint8   `yaml:"docked_ropc"`
	DockedFLASH  uint8   `yaml:"docked_flash"`

	// profile timing (seconds)
	DwellTime      uint16 `yaml:"dwell_time"`
	PreprofileTime uint16 `yaml:"preprofile_time"`
	PUWarmupTime   uint16 `yaml:"puwarmup_time"`
	MotionTimeout  uint16 `yaml:"motion_timeout"`
	ProfilePeriod  uint16 `yaml:"profile_period"`

	// autonomous bounds
	NumProfiles uint8 `yaml:"num_profiles"` // per night
	NumRedock   uint8 `yaml:"num_redock"`   // attempts before erroring out

	// PU tracking
	PUDocked bool `yaml:"pu_docked"`

	// MCB TM mode
	RealTimeMCB bool `yaml:"real_time_mcb"`

	// LoRa settings
	LoRaTxTM     bool   `yaml:"lora_tx_tm"`
	LoRaTxStatus uint16 `yaml:"lora_tx_status"` // PU status beacon period, seconds

	ProfileID     uint16 `yaml:"profile_id"` // monotonically increasing per profile start
	RAOverride    bool   `yaml:"ra_override"`
	PUAutoOffload bool   `yaml:"pu_auto_offload"`
}

// Defaults returns a Config populated with all default values. The profiler
// defaults are the flight unit's hard-coded fallbacks.
func Defaults() Config {
	return Config{
		SchemaVersion: "1",
		Daemon: DaemonConfig{
			TickPeriod: time.Second,
		},
		Observability: ObservabilityConfig{
			MetricsAddr: "127.0.0.1:9130",
			LogLevel:    "info",
			LogFormat:   "json",
		},
		Storage: StorageConfig{
			DBPath: DefaultDBPath,
		},
		Operator: OperatorConfig{
			Enabled:    true,
			SocketPath: "/run/pibd/operator.sock",
		},
		Profiler: ProfilerConfig{
			SZAMinimum:      105,
			TimeTrigger:     TimeTriggerDisabled,
			SZATrigger:      false,
			ProfileSize:     7500.0,
			DockAmount:      200.0,
			DockOvershoot:   100.0,
			RedockOut:       5,
			RedockIn:        10,
			DeployVelocity:  250.0,
			RetractVelocity: 250.0,
			DockVelocity:    80.0,
			FlashTemp:       -20.0,
			Heater1Temp:     0.0,
			Heater2Temp:     -15.0,
			ProfileRate:     1,
			DwellRate:       10,
			FlashPower:      1,
			TSENPower:       1,
			ProfileTSEN:     1,
			ProfileROPC:     1,
			ProfileFLASH:    1,
			DockedRate:      10,
			DockedTSEN:      1,
			DockedROPC:      1,
			DockedFLASH:     1,
			DwellTime:       900,
			PreprofileTime:  180,
			PUWarmupTime:    900,
			MotionTimeout:   30,
			ProfilePeriod:   7200,
			NumProfiles:     3,
			NumRedock:       3,
			PUDocked:        false,
			RealTimeMCB:     false,
			LoRaTxTM:        false,
			LoRaTxStatus:    1800,
			ProfileID:       1,
			RAOverride:      false,
			PUAutoOffload:   false,
		},
	}
}

// DefaultDBPath is the default BoltDB file location.
const DefaultDBPath = "/var/lib/pibd/pibd.db"

// Load reads and validates a config file from the given path.
// Returns the merged config (defaults overridden by file values).
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse %q: %w", path, err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config.Load: validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate checks all config fields for correctness.
// Returns a descriptive error listing all violations found.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.SchemaVersion != "1" {
		errs = append(errs, fmt.Sprintf("schema_version must be \"1\", got %q", cfg.SchemaVersion))
	}
	if cfg.Daemon.TickPeriod < 100*time.Millisecond || cfg.Daemon.TickPeriod > 10*time.Second {
		errs = append(errs, fmt.Sprintf("daemon.tick_period must be in [100ms, 10s], got %s", cfg.Daemon.TickPeriod))
	}
	if cfg.Storage.DBPath == "" {
		errs = append(errs, "storage.db_path must not be empty")
	}

	p := &cfg.Profiler
	if p.SZAMinimum < 90 || p.SZAMinimum > 180 {
		errs = append(errs, fmt.Sprintf("profiler.sza_minimum must be in [90, 180], got %f", p.SZAMinimum))
	}
	if p.DeployVelocity <= 0 || p.RetractVelocity <= 0 || p.DockVelocity <= 0 {
		errs = append(errs, "profiler velocities must be > 0")
	}
	if p.ProfileSize <= 0 {
		errs = append(errs, fmt.Sprintf("profiler.profile_size must be > 0, got %f", p.ProfileSize))
	}
	if p.DockAmount < 0 || p.DockOvershoot < 0 {
		errs = append(errs, "profiler.dock_amount and dock_overshoot must be >= 0")
	}
	if p.DockAmount >= p.ProfileSize {
		errs = append(errs, fmt.Sprintf("profiler.dock_amount (%f) must be smaller than profile_size (%f)", p.DockAmount, p.ProfileSize))
	}
	if p.ProfileRate < 1 || p.DwellRate < 1 || p.DockedRate < 1 {
		errs = append(errs, "profiler sampling rates must be >= 1")
	}
	if p.NumProfiles < 1 {
		errs = append(errs, fmt.Sprintf("profiler.num_profiles must be >= 1, got %d", p.NumProfiles))
	}
	if p.MotionTimeout < 1 {
		errs = append(errs, fmt.Sprintf("profiler.motion_timeout must be >= 1, got %d", p.MotionTimeout))
	}
	if p.ProfilePeriod < 60 {
		errs = append(errs, fmt.Sprintf("profiler.profile_period must be >= 60, got %d", p.ProfilePeriod))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s",
			joinStrings(errs, "\n  - "))
	}
	return nil
}

// joinStrings joins a slice of strings with a separator.
func joinStrings(ss []string, sep string) string {
	if len(ss) == 0 {
		return ""
	}
	result := ss[0]
	for _, s := range ss[1:] {
		result += sep + s
	}
	return result
}
