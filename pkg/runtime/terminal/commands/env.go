package commands

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/cs-shadowbq/falcon-policy-scoring/pkg/daemon"
	"github.com/cs-shadowbq/falcon-policy-scoring/pkg/falcon"
	"github.com/cs-shadowbq/falcon-policy-scoring/pkg/models/domain"
	"github.com/cs-shadowbq/falcon-policy-scoring/pkg/services/config"
	"github.com/rs/zerolog"
)

var errOffline = errors.New("this command works from the cache only")

// Env carries what the root command resolves before a subcommand runs.
type Env struct {
	ConfigPath    string
	Version       string
	ClientFactory daemon.ClientFactory
	Logger        zerolog.Logger
	Config        *config.Config
}

// LoadConfig reads ConfigPath. The default path may be absent, in which
// case defaults and environment apply.
func (e *Env) LoadConfig() (*config.Config, error) {
	path := e.ConfigPath
	if path == config.DefaultPath {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			path = ""
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	e.ConfigPath = path
	e.Config = cfg
	return cfg, nil
}

// Context attaches the logger and ends on SIGINT or SIGTERM.
func (e *Env) Context(parent context.Context) (context.Context, context.CancelFunc) {
	ctx := e.Logger.WithContext(parent)
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}

// Assemble builds the run collaborators. Offline commands get a client
// that refuses every call.
func (e *Env) Assemble(ctx context.Context, offline bool) (*daemon.Components, error) {
	factory := e.ClientFactory
	if offline {
		factory = func(context.Context, *config.Config) (falcon.Client, error) { return offlineClient{}, nil }
	}
	return daemon.Assemble(ctx, e.Config, daemon.AssembleOptions{
		Version:       e.Version,
		ClientFactory: factory,
	})
}

// restrictTypes narrows the configured policy types to the --type flags.
func (e *Env) restrictTypes(names []string) error {
	if len(names) == 0 {
		return nil
	}
	types, err := domain.ParsePolicyTypes(names)
	if err != nil {
		return err
	}
	cli := make([]string, len(types))
	for i, t := range types {
		cli[i] = t.CLIName()
	}
	e.Config.Daemon.PolicyTypes = cli
	return nil
}

type offlineClient struct{}

func (offlineClient) ListPolicies(context.Context, domain.PolicyType, string) (falcon.Page[domain.PolicyRecord], error) {
	return falcon.Page[domain.PolicyRecord]{}, errOffline
}

func (offlineClient) ListHosts(context.Context, falcon.HostFilter, string) (falcon.Page[domain.HostRecord], error) {
	return falcon.Page[domain.HostRecord]{}, errOffline
}

func (offlineClient) ListPolicyContainers(context.Context, []string, string) (falcon.Page[domain.PolicyContainer], error) {
	return falcon.Page[domain.PolicyContainer]{}, errOffline
}

func (offlineClient) ListZeroTrustAssessments(context.Context, []string, string) (falcon.Page[domain.ZeroTrustAssessment], error) {
	return falcon.Page[domain.ZeroTrustAssessment]{}, errOffline
}
