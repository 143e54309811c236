package terminal

import (
	"io"
	"os"

	"github.com/cs-shadowbq/falcon-policy-scoring/pkg/daemon"
	"github.com/cs-shadowbq/falcon-policy-scoring/pkg/runtime/terminal/commands"
	"github.com/cs-shadowbq/falcon-policy-scoring/pkg/runtime/terminal/export"
	"github.com/cs-shadowbq/falcon-policy-scoring/pkg/services/config"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// CLI represents the command-line interface
type CLI struct {
	env      *commands.Env
	reporter *export.Reporter
	logOut   io.Writer
	logLevel string
	rootCmd  *cobra.Command
}

// Options contain configuration for the CLI
type Options struct {
	Version string
	// Output receives reports; logs go to LogOutput.
	Output        io.Writer
	LogOutput     io.Writer
	ClientFactory daemon.ClientFactory
}

// NewCLI creates a new CLI instance
func NewCLI(opts Options) *CLI {
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.LogOutput == nil {
		opts.LogOutput = os.Stderr
	}
	if opts.ClientFactory == nil {
		opts.ClientFactory = daemon.DefaultClientFactory
	}

	cli := &CLI{
		env: &commands.Env{
			Version:       opts.Version,
			ClientFactory: opts.ClientFactory,
			Logger:        zerolog.Nop(),
		},
		reporter: export.NewReporter(opts.Output),
		logOut:   opts.LogOutput,
	}

	cli.rootCmd = cli.newRootCmd(opts.Version)
	cli.rootCmd.SetOut(opts.Output)
	return cli
}

func (cli *CLI) Execute() error {
	return cli.rootCmd.Execute()
}

func (cli *CLI) newRootCmd(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:               "policy-audit",
		Short:             "Grade endpoint security policies against a standard",
		Version:           version,
		SilenceUsage:      true,
		PersistentPreRunE: cli.prepare,
	}

	cmd.PersistentFlags().StringVarP(&cli.env.ConfigPath, "config", "c", config.DefaultPath, "Path to the YAML configuration")
	cmd.PersistentFlags().StringVar(&cli.logLevel, "log-level", "", "Override logging.level (trace, debug, info, warn, error)")

	cmd.AddCommand(commands.NewFetchCmd(cli.env, cli.reporter))
	cmd.AddCommand(commands.NewRegradeCmd(cli.env, cli.reporter))
	cmd.AddCommand(commands.NewPoliciesCmd(cli.env, cli.reporter))
	cmd.AddCommand(commands.NewHostsCmd(cli.env, cli.reporter))
	cmd.AddCommand(commands.NewDaemonCmd(cli.env))
	cmd.AddCommand(commands.NewVersionCmd(version))

	return cmd
}

// prepare loads the configuration and builds the logger it describes.
func (cli *CLI) prepare(cmd *cobra.Command, _ []string) error {
	if cmd.Annotations[commands.SkipConfig] != "" {
		return nil
	}
	cfg, err := cli.env.LoadConfig()
	if err != nil {
		return err
	}

	level := cfg.Logging.Level
	if cli.logLevel != "" {
		level = cli.logLevel
	}
	logger, err := NewLogger(cli.logOut, cfg.Logging.Format, level)
	if err != nil {
		return err
	}
	cli.env.Logger = logger
	return nil
}

// NewLogger builds the root logger. The level is applied globally so a
// config reload can change it.
func NewLogger(out io.Writer, format, level string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Nop(), err
	}
	zerolog.SetGlobalLevel(lvl)

	if format == "console" {
		out = zerolog.ConsoleWriter{Out: out}
	}
	return zerolog.New(out).With().Timestamp().Logger(), nil
}
