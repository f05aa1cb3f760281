// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New() to build a Config with defaults.
// - Load layers defaults, an optional YAML file and STOPODDS_ env vars.
// - Validation failures are *ValidationError, which matches ErrInvalidConfig.
package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/okian/stopodds/internal/domain/model"
)

// Storage drivers.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFormat selects text or json output.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// StorageDriver is memory or sqlite.
	StorageDriver string `koanf:"storage_driver"`
	// SQLitePath is the database file used by the sqlite driver.
	SQLitePath string `koanf:"sqlite_path"`
	// RedisURL enables the shared training lease when set.
	RedisURL string `koanf:"redis_url"`

	// MinGroupSize is the smallest cell that may be published.
	MinGroupSize int `koanf:"min_group_size"`
	// ActivationMinSubmissions and ActivationMinStops gate model mode.
	ActivationMinSubmissions int `koanf:"activation_min_submissions"`
	ActivationMinStops       int `koanf:"activation_min_stops"`
	// DispersionThreshold switches Poisson to negative binomial.
	DispersionThreshold float64 `koanf:"dispersion_threshold"`

	AnomalyTripsThreshold int    `koanf:"anomaly_trips_threshold"`
	RepeatClientLimit     int    `koanf:"repeat_client_limit"`
	DedupeSize            int    `koanf:"dedupe_size"`
	FraudSecret           string `koanf:"fraud_secret"`

	// RetentionMonths bounds how long raw submissions are kept.
	RetentionMonths int `koanf:"retention_months"`

	TrainInterval           time.Duration `koanf:"train_interval"`
	PruneInterval           time.Duration `koanf:"prune_interval"`
	RegistryRefreshInterval time.Duration `koanf:"registry_refresh_interval"`
	LeaseTTL                time.Duration `koanf:"lease_ttl"`
	ShutdownTimeout         time.Duration `koanf:"shutdown_timeout"`

	// AutoPublish publishes every successful training run.
	AutoPublish  bool `koanf:"auto_publish"`
	JobQueueSize int  `koanf:"job_queue_size"`

	EngagementEnabled  bool `koanf:"engagement_enabled"`
	EngagementRounds   int  `koanf:"engagement_rounds"`
	PredictionExposure int  `koanf:"prediction_exposure"`

	// ReferenceLevels overrides the per-trait reference value.
	ReferenceLevels map[string]string `koanf:"reference_levels"`
}

// New creates a Config populated with defaults.
func New() *Config {
	refs := make(map[string]string)
	for t, v := range model.DefaultReferences() {
		refs[string(t)] = v
	}
	return &Config{
		LogLevel:                 "info",
		LogFormat:                "text",
		Addr:                     ":9080",
		StorageDriver:            DriverMemory,
		SQLitePath:               "stopodds.db",
		MinGroupSize:             50,
		ActivationMinSubmissions: 500,
		ActivationMinStops:       100,
		DispersionThreshold:      1.5,
		AnomalyTripsThreshold:    100,
		RepeatClientLimit:        5,
		DedupeSize:               50_000,
		RetentionMonths:          12,
		TrainInterval:            7 * 24 * time.Hour,
		PruneInterval:            24 * time.Hour,
		RegistryRefreshInterval:  30 * time.Second,
		LeaseTTL:                 30 * time.Minute,
		ShutdownTimeout:          10 * time.Second,
		AutoPublish:              true,
		JobQueueSize:             16,
		EngagementEnabled:        false,
		EngagementRounds:         60,
		PredictionExposure:       30,
		ReferenceLevels:          refs,
	}
}

// References returns the reference levels keyed by trait.
func (c *Config) References() map[model.Trait]string {
	out := make(map[model.Trait]string, len(c.ReferenceLevels))
	for t, v := range c.ReferenceLevels {
		out[model.Trait(t)] = v
	}
	return out
}

// Validate checks ranges and cross-field rules.
func (c *Config) Validate(_ context.Context) error {
	var problems []string
	check := func(ok bool, msg string) {
		if !ok {
			problems = append(problems, msg)
		}
	}

	check(c.Addr != "", "addr must not be empty")
	check(c.StorageDriver == DriverMemory || c.StorageDriver == DriverSQLite,
		fmt.Sprintf("storage_driver must be %q or %q", DriverMemory, DriverSQLite))
	check(c.StorageDriver != DriverSQLite || strings.TrimSpace(c.SQLitePath) != "",
		"sqlite_path is required for the sqlite driver")
	check(c.MinGroupSize >= 1, "min_group_size must be positive")
	check(c.ActivationMinSubmissions >= 0 && c.ActivationMinStops >= 0, "activation thresholds must not be negative")
	check(c.DispersionThreshold > 0, "dispersion_threshold must be positive")
	check(c.AnomalyTripsThreshold >= 1 && c.AnomalyTripsThreshold <= 200, "anomaly_trips_threshold must be within [1,200]")
	check(c.RepeatClientLimit >= 1, "repeat_client_limit must be positive")
	check(c.DedupeSize >= 1, "dedupe_size must be positive")
	check(c.RetentionMonths >= 1, "retention_months must be positive")
	check(c.TrainInterval > 0 && c.PruneInterval > 0 && c.RegistryRefreshInterval > 0,
		"train, prune and registry refresh intervals must be positive")
	check(c.LeaseTTL > 0, "lease_ttl must be positive")
	check(c.JobQueueSize >= 1, "job_queue_size must be positive")
	check(c.EngagementRounds >= 1, "engagement_rounds must be positive")
	check(c.PredictionExposure >= 1 && c.PredictionExposure <= 200, "prediction_exposure must be within [1,200]")

	for name, value := range c.ReferenceLevels {
		spec, ok := model.LookupTrait(model.Trait(name))
		if !ok {
			problems = append(problems, fmt.Sprintf("reference_levels: unknown trait %q", name))
			continue
		}
		check(spec.Valid(value), fmt.Sprintf("reference_levels: %q is not a %s value", value, name))
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}
