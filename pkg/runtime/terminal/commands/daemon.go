package commands

import (
	"github.com/cs-shadowbq/falcon-policy-scoring/pkg/daemon"
	"github.com/spf13/cobra"
)

type DaemonCmd struct {
	env       *Env
	immediate bool
}

func NewDaemonCmd(env *Env) *cobra.Command {
	dc := &DaemonCmd{env: env}
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run scheduled audits with a health server until stopped",
		RunE:  dc.run,
	}

	cmd.Flags().BoolVar(&dc.immediate, "immediate", false, "Run fetch_and_grade once at startup")

	return cmd
}

func (dc *DaemonCmd) run(cmd *cobra.Command, _ []string) error {
	d := daemon.New(daemon.Options{
		ConfigPath:    dc.env.ConfigPath,
		Config:        dc.env.Config,
		Immediate:     dc.immediate,
		Version:       dc.env.Version,
		Logger:        dc.env.Logger,
		ClientFactory: dc.env.ClientFactory,
	})

	ctx := dc.env.Logger.WithContext(cmd.Context())
	if err := d.Init(ctx); err != nil {
		return err
	}
	return d.Run(ctx)
}
