package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cs-shadowbq/falcon-policy-scoring/pkg/falcon"
	"github.com/cs-shadowbq/falcon-policy-scoring/pkg/grading"
	"github.com/cs-shadowbq/falcon-policy-scoring/pkg/models/domain"
	"github.com/cs-shadowbq/falcon-policy-scoring/pkg/output"
	"github.com/cs-shadowbq/falcon-policy-scoring/pkg/ratelimit"
	"github.com/cs-shadowbq/falcon-policy-scoring/pkg/services/audit"
	"github.com/cs-shadowbq/falcon-policy-scoring/pkg/services/config"
	"github.com/cs-shadowbq/falcon-policy-scoring/pkg/store/badger"
	"github.com/cs-shadowbq/falcon-policy-scoring/pkg/store/cache"
	"github.com/cs-shadowbq/falcon-policy-scoring/pkg/store/duckdb"
	sqlstore "github.com/cs-shadowbq/falcon-policy-scoring/pkg/store/sql"
	"github.com/cs-shadowbq/falcon-policy-scoring/pkg/store/sqlite"
)

// ClientFactory builds the management API client for a configuration.
type ClientFactory func(ctx context.Context, cfg *config.Config) (falcon.Client, error)

// DefaultClientFactory serves records from falcon_credentials.fixture_dir
// when it is set and from the live API otherwise.
func DefaultClientFactory(ctx context.Context, cfg *config.Config) (falcon.Client, error) {
	if dir := cfg.FalconCredentials.FixtureDir; dir != "" {
		return falcon.NewFixtureClient(dir, 0)
	}
	creds, err := cfg.Credentials(ctx)
	if err != nil {
		return nil, err
	}
	return falcon.NewHTTPClient(ctx, creds, falcon.HTTPSettings{})
}

// Components are the long lived collaborators of an audit run. The CLI
// builds them once per command; the daemon keeps them for its lifetime and
// rebuilds the runner on reload.
type Components struct {
	Store     cache.Store
	Client    falcon.Client
	Limiter   *ratelimit.Limiter
	Writer    *output.Writer
	Standards map[domain.PolicyType]*grading.Standard
	Runner    *audit.Runner
}

type AssembleOptions struct {
	Version       string
	ClientFactory ClientFactory
	Clock         func() time.Time
}

// Assemble opens every collaborator named by cfg. Problems with the
// configuration itself come back as *domain.ConfigError.
func Assemble(ctx context.Context, cfg *config.Config, opts AssembleOptions) (*Components, error) {
	if opts.ClientFactory == nil {
		opts.ClientFactory = DefaultClientFactory
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	standards, err := loadStandards(cfg)
	if err != nil {
		return nil, err
	}

	store, err := OpenStore(cfg, opts.Clock)
	if err != nil {
		return nil, configError(cfg.DB.Type, err)
	}

	c := &Components{
		Store:     store,
		Limiter:   ratelimit.New(cfg.Daemon.RateLimit.Limiter()),
		Standards: standards,
	}

	c.Client, err = opts.ClientFactory(ctx, cfg)
	if err != nil {
		_ = c.Close()
		return nil, configError("falcon_credentials", err)
	}

	c.Writer, err = NewWriter(ctx, cfg, opts.Version, opts.Clock)
	if err != nil {
		_ = c.Close()
		return nil, configError("daemon.output", err)
	}

	c.Runner, err = c.NewRunner(cfg, opts.Clock)
	if err != nil {
		_ = c.Close()
		return nil, configError("grading", err)
	}
	return c, nil
}

// NewRunner builds a runner over the shared collaborators with the
// settings of cfg.
func (c *Components) NewRunner(cfg *config.Config, clock func() time.Time) (*audit.Runner, error) {
	types, err := cfg.PolicyTypes()
	if err != nil {
		return nil, err
	}
	return audit.NewRunner(audit.Dependencies{
		Client:    c.Client,
		Store:     c.Store,
		Limiter:   c.Limiter,
		Standards: c.Standards,
		Writer:    c.Writer,
	}, audit.Settings{
		Tenant:      cfg.Tenant,
		PolicyTypes: types,
		Filter:      falcon.HostFilter{ProductTypes: cfg.Daemon.ProductTypes},
		TTL:         cfg.TTL.Policy(),
		ZeroTrust:   cfg.Daemon.IncludeZeroTrust,
	}, audit.WithClock(clock))
}

func (c *Components) Close() error {
	if c.Store == nil {
		return nil
	}
	return c.Store.Close()
}

func loadStandards(cfg *config.Config) (map[domain.PolicyType]*grading.Standard, error) {
	types, err := cfg.PolicyTypes()
	if err != nil {
		return nil, configError("daemon.policy_types", err)
	}
	standards, err := grading.LoadStandards(cfg.Grading.Dir, types)
	if err != nil {
		return nil, configError(cfg.Grading.Dir, err)
	}
	return standards, nil
}

// OpenStore opens the cache backend selected by db.type.
func OpenStore(cfg *config.Config, clock func() time.Time) (cache.Store, error) {
	if cfg.DB.Type == "memory" {
		return cache.NewMemoryStore(clock), nil
	}

	path := cfg.StorePath()
	parent := path
	if cfg.DB.Type != "badger" {
		parent = filepath.Dir(path)
	}
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	switch cfg.DB.Type {
	case "sqlite":
		return sqlite.Open(sqlite.Settings{DbPath: path, BusyTimeout: 5 * time.Second}, sqlstore.WithClock(clock))
	case "duckdb":
		return duckdb.Open(duckdb.Settings{DbPath: path}, sqlstore.WithClock(clock))
	case "badger":
		bcfg := badger.DefaultConfig(path)
		bcfg.Clock = clock
		return badger.Open(bcfg)
	}
	return nil, fmt.Errorf("unsupported cache backend %q", cfg.DB.Type)
}

// NewWriter builds the report writer, attaching the S3 sink when a bucket
// is configured.
func NewWriter(ctx context.Context, cfg *config.Config, version string, clock func() time.Time) (*output.Writer, error) {
	out := cfg.Daemon.Output
	opts := []output.Option{output.WithClock(clock)}
	if out.S3.Bucket != "" {
		sink, err := output.LoadS3Sink(ctx, out.S3.Bucket, out.S3.Prefix, out.S3.Region)
		if err != nil {
			return nil, err
		}
		opts = append(opts, output.WithSink(sink))
	}
	return output.NewWriter(output.Settings{
		Dir:             out.Dir,
		Compress:        out.Compress,
		MaxAge:          time.Duration(out.MaxAgeDays) * 24 * time.Hour,
		MaxFilesPerType: out.MaxFilesPerType,
		Version:         version,
		Tenant:          cfg.Tenant,
		CacheBackend:    cfg.DB.Type,
	}, opts...)
}

func configError(source string, err error) error {
	var cerr *domain.ConfigError
	if errors.As(err, &cerr) {
		return err
	}
	return &domain.ConfigError{Source: source, Err: err}
}
