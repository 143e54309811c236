package config

import (
	"errors"
	"strings"
	"time"

	"github.com/cs-shadowbq/falcon-policy-scoring/pkg/models/domain"
	"github.com/cs-shadowbq/falcon-policy-scoring/pkg/ratelimit"
	"github.com/cs-shadowbq/falcon-policy-scoring/pkg/scheduler"
	"github.com/cs-shadowbq/falcon-policy-scoring/pkg/store/cache"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

const (
	DefaultPath = "config/config.yaml"
	EnvPrefix   = "POLICY_AUDIT"
)

// Config is treated as immutable once loaded. Reloads build a new value.
type Config struct {
	Tenant            string            `mapstructure:"tenant"`
	DB                DBConfig          `mapstructure:"db"`
	SQLite            PathConfig        `mapstructure:"sqlite"`
	DuckDB            PathConfig        `mapstructure:"duckdb"`
	Badger            PathConfig        `mapstructure:"badger"`
	FalconCredentials FalconCredentials `mapstructure:"falcon_credentials"`
	TTL               TTLConfig         `mapstructure:"ttl"`
	Grading           GradingConfig     `mapstructure:"grading"`
	Logging           LoggingConfig     `mapstructure:"logging"`
	Cache             CacheConfig       `mapstructure:"cache"`
	Daemon            DaemonConfig      `mapstructure:"daemon"`
}

type DBConfig struct {
	Type string `mapstructure:"type" validate:"oneof=memory sqlite duckdb badger"`
}

type PathConfig struct {
	Path string `mapstructure:"path"`
}

type FalconCredentials struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	BaseURL      string `mapstructure:"base_url" validate:"omitempty,url"`
	MemberCID    string `mapstructure:"member_cid"`
	// Prefix names the environment variables that override the file, e.g.
	// FALCON_CLIENT_ID.
	Prefix      string `mapstructure:"prefix"`
	ProfileFile string `mapstructure:"profile_file"`
	Profile     string `mapstructure:"profile"`
	// FixtureDir switches the API client to a directory of recorded
	// responses.
	FixtureDir string `mapstructure:"fixture_dir"`
}

// TTLConfig values are seconds.
type TTLConfig struct {
	Hosts      int `mapstructure:"hosts" validate:"gt=0"`
	Policies   int `mapstructure:"policies" validate:"gt=0"`
	RuleGroups int `mapstructure:"rule_groups" validate:"gt=0"`
	Default    int `mapstructure:"default" validate:"gt=0"`
}

type GradingConfig struct {
	Dir string `mapstructure:"dir" validate:"required"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=trace debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=json console"`
}

type CacheConfig struct {
	SweepAfterHours int `mapstructure:"sweep_after_hours" validate:"gte=0"`
}

type DaemonConfig struct {
	CheckIntervalSeconds int               `mapstructure:"check_interval_seconds" validate:"gt=0"`
	ShutdownGraceSeconds int               `mapstructure:"shutdown_grace_seconds" validate:"gte=0"`
	WatchConfig          bool              `mapstructure:"watch_config"`
	PolicyTypes          []string          `mapstructure:"policy_types" validate:"min=1"`
	ProductTypes         []string          `mapstructure:"product_types"`
	IncludeZeroTrust     bool              `mapstructure:"include_zero_trust"`
	Schedules            SchedulesConfig   `mapstructure:"schedules"`
	RateLimit            RateLimitConfig   `mapstructure:"rate_limit"`
	Output               OutputConfig      `mapstructure:"output"`
	HealthCheck          HealthCheckConfig `mapstructure:"health_check"`
}

type SchedulesConfig struct {
	FetchAndGrade string `mapstructure:"fetch_and_grade" validate:"required"`
	Cleanup       string `mapstructure:"cleanup" validate:"required"`
	Metrics       string `mapstructure:"metrics" validate:"required"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second" validate:"gt=0"`
	RequestsPerMinute int     `mapstructure:"requests_per_minute" validate:"gt=0"`
	BurstSize         int     `mapstructure:"burst_size" validate:"gt=0"`
	RetryAttempts     int     `mapstructure:"retry_attempts" validate:"gte=0"`
}

type OutputConfig struct {
	Dir             string   `mapstructure:"dir" validate:"required"`
	Compress        bool     `mapstructure:"compress"`
	MaxAgeDays      int      `mapstructure:"max_age_days" validate:"gte=0"`
	MaxFilesPerType int      `mapstructure:"max_files_per_type" validate:"gte=0"`
	S3              S3Config `mapstructure:"s3"`
}

type S3Config struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
	Region string `mapstructure:"region"`
}

type HealthCheckConfig struct {
	Enabled        bool    `mapstructure:"enabled"`
	Host           string  `mapstructure:"host"`
	Port           int     `mapstructure:"port" validate:"gte=0,lte=65535"`
	DegradedAfter  int     `mapstructure:"degraded_after" validate:"gte=1"`
	UnhealthyAfter int     `mapstructure:"unhealthy_after" validate:"gtefield=DegradedAfter"`
	StaleFactor    float64 `mapstructure:"stale_factor" validate:"gt=0"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("tenant", "")
	v.SetDefault("db.type", "sqlite")
	v.SetDefault("sqlite.path", "data/cache.sqlite")
	v.SetDefault("duckdb.path", "data/cache.duckdb")
	v.SetDefault("badger.path", "data/badger")

	v.SetDefault("falcon_credentials.client_id", "")
	v.SetDefault("falcon_credentials.client_secret", "")
	v.SetDefault("falcon_credentials.base_url", "")
	v.SetDefault("falcon_credentials.member_cid", "")
	v.SetDefault("falcon_credentials.prefix", "FALCON_")
	v.SetDefault("falcon_credentials.profile_file", "")
	v.SetDefault("falcon_credentials.profile", "")
	v.SetDefault("falcon_credentials.fixture_dir", "")

	v.SetDefault("ttl.hosts", 300)
	v.SetDefault("ttl.policies", 600)
	v.SetDefault("ttl.rule_groups", 3600)
	v.SetDefault("ttl.default", 600)

	v.SetDefault("grading.dir", "config/grading")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("cache.sweep_after_hours", 72)

	v.SetDefault("daemon.check_interval_seconds", 60)
	v.SetDefault("daemon.shutdown_grace_seconds", 30)
	v.SetDefault("daemon.watch_config", false)
	cliNames := make([]string, len(domain.PolicyTypes))
	for i, t := range domain.PolicyTypes {
		cliNames[i] = t.CLIName()
	}
	v.SetDefault("daemon.policy_types", cliNames)
	v.SetDefault("daemon.product_types", []string{})
	v.SetDefault("daemon.include_zero_trust", true)

	v.SetDefault("daemon.schedules.fetch_and_grade", "0 */2 * * *")
	v.SetDefault("daemon.schedules.cleanup", "0 2 * * *")
	v.SetDefault("daemon.schedules.metrics", "*/30 * * * *")

	v.SetDefault("daemon.rate_limit.requests_per_second", 10.0)
	v.SetDefault("daemon.rate_limit.requests_per_minute", 500)
	v.SetDefault("daemon.rate_limit.burst_size", 20)
	v.SetDefault("daemon.rate_limit.retry_attempts", 5)

	v.SetDefault("daemon.output.dir", "output")
	v.SetDefault("daemon.output.compress", false)
	v.SetDefault("daemon.output.max_age_days", 30)
	v.SetDefault("daemon.output.max_files_per_type", 100)
	v.SetDefault("daemon.output.s3.bucket", "")
	v.SetDefault("daemon.output.s3.prefix", "")
	v.SetDefault("daemon.output.s3.region", "")

	v.SetDefault("daemon.health_check.enabled", true)
	v.SetDefault("daemon.health_check.host", "")
	v.SetDefault("daemon.health_check.port", 8088)
	v.SetDefault("daemon.health_check.degraded_after", 1)
	v.SetDefault("daemon.health_check.unhealthy_after", 5)
	v.SetDefault("daemon.health_check.stale_factor", 2.0)
}

// Load reads the YAML file at path, applies defaults and POLICY_AUDIT_*
// environment overrides, and validates the result. An empty path loads
// defaults and environment only.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, domain.NewConfigError(path, "failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, domain.NewConfigError(path, "failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		var cerr *domain.ConfigError
		if errors.As(err, &cerr) && cerr.Source == "" {
			cerr.Source = path
		}
		return nil, err
	}
	return &cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return domain.NewConfigError("", "invalid value for %s: failed %q check", fe.Namespace(), fe.Tag())
		}
		return domain.NewConfigError("", "%w", err)
	}

	if _, err := c.PolicyTypes(); err != nil {
		return domain.NewConfigError("", "daemon.policy_types: %w", err)
	}
	for name, expr := range c.Daemon.Schedules.byTask() {
		if _, err := scheduler.ParseCron(expr); err != nil {
			return domain.NewConfigError("", "daemon.schedules.%s: %w", name, err)
		}
	}
	if c.DB.Type != "memory" && c.StorePath() == "" {
		return domain.NewConfigError("", "%s.path is required", c.DB.Type)
	}
	return nil
}

func (c *Config) PolicyTypes() ([]domain.PolicyType, error) {
	return domain.ParsePolicyTypes(c.Daemon.PolicyTypes)
}

// StorePath is the path of the selected cache backend.
func (c *Config) StorePath() string {
	switch c.DB.Type {
	case "sqlite":
		return c.SQLite.Path
	case "duckdb":
		return c.DuckDB.Path
	case "badger":
		return c.Badger.Path
	}
	return ""
}

func (s SchedulesConfig) byTask() map[string]string {
	return map[string]string{
		"fetch_and_grade": s.FetchAndGrade,
		"cleanup":         s.Cleanup,
		"metrics":         s.Metrics,
	}
}

func (t TTLConfig) Policy() cache.TTLPolicy {
	return cache.TTLPolicy{
		ByEntity: map[string]time.Duration{
			cache.EntityHosts:      time.Duration(t.Hosts) * time.Second,
			cache.EntityPolicies:   time.Duration(t.Policies) * time.Second,
			cache.EntityRuleGroups: time.Duration(t.RuleGroups) * time.Second,
			cache.EntityZeroTrust:  time.Duration(t.Hosts) * time.Second,
		},
		Default: time.Duration(t.Default) * time.Second,
	}
}

func (r RateLimitConfig) Limiter() ratelimit.Config {
	cfg := ratelimit.DefaultConfig()
	cfg.RequestsPerSecond = r.RequestsPerSecond
	cfg.RequestsPerMinute = r.RequestsPerMinute
	cfg.BurstSize = r.BurstSize
	cfg.RetryAttempts = r.RetryAttempts
	return cfg
}

func (d DaemonConfig) CheckInterval() time.Duration {
	return time.Duration(d.CheckIntervalSeconds) * time.Second
}

func (d DaemonConfig) ShutdownGrace() time.Duration {
	return time.Duration(d.ShutdownGraceSeconds) * time.Second
}

func (c CacheConfig) SweepAfter() time.Duration {
	return time.Duration(c.SweepAfterHours) * time.Hour
}
