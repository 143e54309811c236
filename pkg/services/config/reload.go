package config

import (
	"reflect"
	"slices"
)

// Diff lists the config sections that differ between two loads. Rejected
// sections only take effect after a restart.
type Diff struct {
	Changed  []string
	Rejected []string
}

func (d Diff) Empty() bool {
	return len(d.Changed) == 0 && len(d.Rejected) == 0
}

func (d Diff) Has(section string) bool {
	return slices.Contains(d.Changed, section)
}

type section struct {
	name        string
	restartOnly bool
	value       func(*Config) any
	restore     func(dst, src *Config)
}

var sections = []section{
	{"tenant", true, func(c *Config) any { return c.Tenant }, func(d, s *Config) { d.Tenant = s.Tenant }},
	{"db", true, func(c *Config) any { return c.DB }, func(d, s *Config) { d.DB = s.DB }},
	{"sqlite", true, func(c *Config) any { return c.SQLite }, func(d, s *Config) { d.SQLite = s.SQLite }},
	{"duckdb", true, func(c *Config) any { return c.DuckDB }, func(d, s *Config) { d.DuckDB = s.DuckDB }},
	{"badger", true, func(c *Config) any { return c.Badger }, func(d, s *Config) { d.Badger = s.Badger }},
	{"falcon_credentials", true, func(c *Config) any { return c.FalconCredentials }, func(d, s *Config) { d.FalconCredentials = s.FalconCredentials }},
	{"ttl", false, func(c *Config) any { return c.TTL }, nil},
	{"grading", false, func(c *Config) any { return c.Grading }, nil},
	{"logging", false, func(c *Config) any { return c.Logging }, nil},
	{"cache", false, func(c *Config) any { return c.Cache }, nil},
	{"daemon.check_interval_seconds", false, func(c *Config) any { return c.Daemon.CheckIntervalSeconds }, nil},
	{"daemon.shutdown_grace_seconds", false, func(c *Config) any { return c.Daemon.ShutdownGraceSeconds }, nil},
	{"daemon.watch_config", false, func(c *Config) any { return c.Daemon.WatchConfig }, nil},
	{"daemon.policy_types", false, func(c *Config) any { return c.Daemon.PolicyTypes }, nil},
	{"daemon.product_types", false, func(c *Config) any { return c.Daemon.ProductTypes }, nil},
	{"daemon.include_zero_trust", false, func(c *Config) any { return c.Daemon.IncludeZeroTrust }, nil},
	{"daemon.schedules", false, func(c *Config) any { return c.Daemon.Schedules }, nil},
	{"daemon.rate_limit", false, func(c *Config) any { return c.Daemon.RateLimit }, nil},
	{"daemon.output", false, func(c *Config) any { return c.Daemon.Output }, nil},
	{"daemon.health_check", false, func(c *Config) any { return c.Daemon.HealthCheck }, nil},
}

// Reconcile returns the config to run with after a reload: next, except
// that restart-only sections keep their current values.
func Reconcile(current, next *Config) (*Config, Diff) {
	effective := *next
	var diff Diff
	for _, s := range sections {
		if reflect.DeepEqual(s.value(current), s.value(next)) {
			continue
		}
		if s.restartOnly {
			diff.Rejected = append(diff.Rejected, s.name)
			s.restore(&effective, current)
			continue
		}
		diff.Changed = append(diff.Changed, s.name)
	}
	return &effective, diff
}
