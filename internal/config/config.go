// Package config loads and validates the MME EMM Attach daemon's YAML
// configuration: Load reads a YAML file into Config, then Validate checks it.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root MME EMM configuration.
type Config struct {
	NF            NFConfig            `yaml:"nf"`
	Admin         AdminConfig         `yaml:"admin"`
	GUAMI         GUAMIConfig         `yaml:"guami"`
	Timers        TimersConfig        `yaml:"timers"`
	UEID          UEIDRangeConfig     `yaml:"ue_id_range"`
	Features      FeaturesConfig      `yaml:"features"`
	Observability ObservabilityConfig `yaml:"observability"`
	Audit         AuditConfig         `yaml:"audit"`
}

// NFConfig names this NF instance.
type NFConfig struct {
	Name       string `yaml:"name"`
	InstanceID string `yaml:"instance_id"`
}

// AdminConfig configures the read-only introspection HTTP surface.
type AdminConfig struct {
	BindAddress string `yaml:"bind_address"`
	Port        int    `yaml:"port"`
}

// GUAMIConfig is the default GUMMEI the Attach core synthesizes GUTIs
// from (TS 24.301 §4.4 step 5: gummei.mmec[0], gummei.mme_gid[0],
// gummei.plmn_tac[0]).
type GUAMIConfig struct {
	MCC     string `yaml:"mcc"`
	MNC     string `yaml:"mnc"`
	MMEGID  uint16 `yaml:"mme_gid"`
	MMECode uint8  `yaml:"mme_code"`
	TAC     uint16 `yaml:"plmn_tac"`
	NumTACs int    `yaml:"n_tacs"`
}

// TimersConfig holds the Attach core's retransmission/procedure timer
// durations and retry bound (TS 24.301 §6).
type TimersConfig struct {
	T3450            time.Duration `yaml:"t3450"`
	T3460            time.Duration `yaml:"t3460"`
	T3470            time.Duration `yaml:"t3470"`
	AttachCounterMax int           `yaml:"attach_counter_max"`
}

// UEIDRangeConfig bounds the admissible lower-layer ue_id range the
// entry point sanity-checks against (TS 24.301 §4.4 step 1).
type UEIDRangeConfig struct {
	Min uint32 `yaml:"min"`
	Max uint32 `yaml:"max"`
}

// FeaturesConfig is the feature bitmap of TS 24.301 §6, plus a toggle for
// the GUTI-identification short-circuit (skip identification unless a
// GUTI lookup actually fails, rather than always triggering it).
type FeaturesConfig struct {
	EmergencyAttach                  bool `yaml:"emergency_attach"`
	UnauthenticatedIMSI               bool `yaml:"unauthenticated_imsi"`
	IdentifyOnGUTILookupFailureOnly  bool `yaml:"identify_on_guti_lookup_failure_only"`
	EBPFTrace                        bool `yaml:"ebpf_trace"`
	Audit                             bool `yaml:"audit"`
}

// ObservabilityConfig mirrors every sibling NF's ObservabilityConfig.
type ObservabilityConfig struct {
	Metrics        MetricsConfig `yaml:"metrics"`
	Tracing        TracingConfig `yaml:"tracing"`
	Logging        LoggingConfig `yaml:"logging"`
	EBPFObjectPath string        `yaml:"ebpf_object_path"`
}

// AuditConfig configures the optional ClickHouse attach-outcome sink,
// gated by features.audit.
type AuditConfig struct {
	DSN       string        `yaml:"dsn"`
	Database  string        `yaml:"database"`
	Table     string        `yaml:"table"`
	BatchSize int           `yaml:"batch_size"`
	FlushEvery time.Duration `yaml:"flush_every"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type TracingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
	Endpoint string `yaml:"endpoint"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads and validates a YAML config file.
// features.identify_on_guti_lookup_failure_only defaults to true when the
// file does not set it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := Config{Features: FeaturesConfig{IdentifyOnGUTILookupFailureOnly: true}}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: invalid: %w", err)
	}
	return &cfg, nil
}

// Validate enforces the invariants the Attach core's entry point relies
// on (non-empty NF identity, a sane ue_id range, non-empty guami MCC/MNC,
// a positive T3450 and attach counter bound, a valid admin port).
func (c *Config) Validate() error {
	if c.NF.Name == "" {
		return fmt.Errorf("nf.name is required")
	}
	if c.NF.InstanceID == "" {
		return fmt.Errorf("nf.instance_id is required")
	}
	if c.UEID.Max <= c.UEID.Min {
		return fmt.Errorf("ue_id_range.max must be greater than ue_id_range.min")
	}
	if c.GUAMI.MCC == "" || c.GUAMI.MNC == "" {
		return fmt.Errorf("guami.mcc and guami.mnc are required")
	}
	if c.Timers.T3450 <= 0 {
		return fmt.Errorf("timers.t3450 must be positive")
	}
	if c.Timers.AttachCounterMax <= 0 {
		return fmt.Errorf("timers.attach_counter_max must be positive")
	}
	if c.Admin.Port <= 0 || c.Admin.Port > 65535 {
		return fmt.Errorf("invalid admin.port: %d", c.Admin.Port)
	}
	return nil
}

// AdminAddr returns the bind address for the admin HTTP surface.
func (c *Config) AdminAddr() string {
	return fmt.Sprintf("%s:%d", c.Admin.BindAddress, c.Admin.Port)
}

// UEIDInRange reports whether ueID falls within the admissible range
// (TS 24.301 §4.4 step 1 "Sanity").
func (c *Config) UEIDInRange(ueID uint32) bool {
	return ueID >= c.UEID.Min && ueID <= c.UEID.Max
}
